// Package autoplay vends the state machine presenting the waves of one queue in sequence.
//
// Photo and text waves are shown for a fixed window driven by an engine-owned timer. Video waves
// have no engine-owned timer: they progress only through the media element's ended signal.
package autoplay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/wave/common/clock"
	"wuyrush.io/wave/common/liveness"
	"wuyrush.io/wave/common/logging"
	cst "wuyrush.io/wave/constants"
	se "wuyrush.io/wave/errors"
	md "wuyrush.io/wave/models"
)

const (
	// ItemDuration is how long a photo or text wave stays on screen
	ItemDuration = 5000 * time.Millisecond
	// DefaultTickInterval is the period of the progress timer while a photo or text wave plays
	DefaultTickInterval = 50 * time.Millisecond
)

type State int

const (
	Idle State = iota
	Playing
	Paused
	Transitioning
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Transitioning:
		return "transitioning"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type Direction int

const (
	Forward Direction = iota
	Backward
)

// ViewRecorder records that a viewer has seen a wave. Implementations own idempotency and
// failure handling; the engine ignores the outcome.
type ViewRecorder interface {
	RecordView(ctx context.Context, viewerID, waveID string) error
}

// Media is the element playing video waves. It reports back through Engine.MediaEnded and
// Engine.MediaProgress. Its methods are called with the engine lock held and must not call back
// into the engine synchronously.
type Media interface {
	Play(w md.Wave)
	Pause()
	Resume()
	Stop()
}

// Status is a point-in-time view of the engine
type Status struct {
	SessionID string
	State     State
	Index     int
	Len       int
	WaveID    string
	Progress  float64
}

type EventKind int

const (
	EventItemEntered EventKind = iota
	EventProgress
	EventPaused
	EventResumed
	EventClosed
)

type Event struct {
	Kind   EventKind
	Status Status
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.tickInterval = d
	}
}

func WithItemDuration(d time.Duration) Option {
	return func(e *Engine) {
		e.duration = d
	}
}

func WithMedia(m Media) Option {
	return func(e *Engine) {
		e.media = m
	}
}

func WithInput(src InputSource) Option {
	return func(e *Engine) {
		e.input = src
	}
}

// WithObserver registers fn to receive engine events. fn runs after the engine lock is released
// and may read the engine, but must not call methods changing its state. Events are delivered
// in emission order; an event overtaken by a later one is dropped.
func WithObserver(fn func(Event)) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// WithDispatcher sets how fire-and-forget side effects, i.e., view recording, are run. The
// default runs each of them in a new goroutine.
func WithDispatcher(d func(func())) Option {
	return func(e *Engine) {
		e.dispatch = d
	}
}

func WithContext(ctx context.Context) Option {
	return func(e *Engine) {
		e.ctx = ctx
	}
}

// Engine drives the sequential presentation of one queue at a time. All methods are safe for
// concurrent use and never panic into the caller.
type Engine struct {
	viewerID     string
	views        ViewRecorder
	clock        clock.Clock
	tickInterval time.Duration
	duration     time.Duration
	media        Media
	input        InputSource
	observer     func(Event)
	dispatch     func(func())
	ctx          context.Context

	mu       sync.Mutex
	state    State
	snapshot []md.Wave
	index    int
	// elapsed is the play time accumulated up to segStart
	elapsed  time.Duration
	segStart time.Time
	progress float64
	held     bool
	// timer is the only live timer of the engine; timerGen identifies the callback armed with it
	timer       clock.Timer
	timerGen    uint64
	itemGen     uint64
	unsubscribe func()
	mediaActive bool
	session     *liveness.Token
	sessionID   string
	shown       []string
	// effects run in order once the lock is released
	effects  []func()
	eventSeq uint64

	emitMu    sync.Mutex
	delivered uint64
}

func New(viewerID string, views ViewRecorder, opts ...Option) *Engine {
	e := &Engine{
		viewerID:     viewerID,
		views:        views,
		clock:        clock.Real{},
		tickInterval: DefaultTickInterval,
		duration:     ItemDuration,
		dispatch:     func(f func()) { go f() },
		ctx:          context.Background(),
		session:      liveness.Dead(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start opens a viewer session on a frozen copy of queue, beginning at index. Starting on an
// empty queue is a programming error and fails fast without touching the engine. An index
// outside of the queue closes the session straight away.
func (e *Engine) Start(queue []md.Wave, index int) error {
	e.mu.Lock()
	defer e.unlockAndFlush()
	if e.state != Idle && e.state != Closed {
		return se.NewBadInput("viewer session already open")
	}
	if len(queue) == 0 {
		return se.NewEmptyQueue()
	}
	snapshot := make([]md.Wave, len(queue))
	for i, w := range queue {
		snapshot[i] = w.Clone()
	}
	e.snapshot = snapshot
	e.session = liveness.New()
	e.sessionID = uuid.NewString()
	e.shown = nil
	e.index, e.elapsed, e.progress, e.held = 0, 0, 0, false
	clog := e.logLocked()
	if index < 0 || index >= len(snapshot) {
		err := se.NewStaleQueue("start index out of queue bounds")
		clog.WithError(err).WithFields(log.Fields{"index": index, "len": len(snapshot)}).Warn("closing viewer")
		e.closeLocked()
		return nil
	}
	clog.WithFields(log.Fields{"index": index, "len": len(snapshot)}).Debug("viewer session started")
	e.enterLocked(index)
	return nil
}

// Tick reports the play time of the current photo or text wave. It only has effect while
// Playing; a wave whose progress reaches 100 hands over to the next one.
func (e *Engine) Tick(elapsed time.Duration) {
	e.mu.Lock()
	defer e.unlockAndFlush()
	e.tickLocked(elapsed)
}

func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.unlockAndFlush()
	e.pauseLocked()
}

func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.unlockAndFlush()
	e.resumeLocked()
}

// TogglePause flips between Playing and Paused, e.g., on spacebar
func (e *Engine) TogglePause() {
	e.mu.Lock()
	defer e.unlockAndFlush()
	switch e.state {
	case Playing:
		e.pauseLocked()
	case Paused:
		e.resumeLocked()
	}
}

// Advance moves to the next or previous wave. Moving forward past the last wave closes the
// viewer; moving backward from the first wave does nothing.
func (e *Engine) Advance(d Direction) {
	e.mu.Lock()
	defer e.unlockAndFlush()
	e.advanceLocked(d)
}

// Close ends the session from any state. Timer, input listeners and media are released before
// Close returns. Closing a closed engine does nothing.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.unlockAndFlush()
	e.closeLocked()
}

// MediaEnded is the ended signal of the media element for the video wave of given id. Signals
// for anything but the video currently playing are ignored.
func (e *Engine) MediaEnded(waveID string) {
	e.mu.Lock()
	defer e.unlockAndFlush()
	w, ok := e.currentLocked()
	if !ok || e.state != Playing || !w.Video() || w.ID != waveID {
		return
	}
	e.progress = 100
	e.nextLocked()
}

// MediaProgress updates the displayed progress of the video wave of given id
func (e *Engine) MediaProgress(waveID string, fraction float64) {
	e.mu.Lock()
	defer e.unlockAndFlush()
	w, ok := e.currentLocked()
	if !ok || !w.Video() || w.ID != waveID {
		return
	}
	e.progress = clamp(fraction*100, 0, 100)
	e.emitLocked(EventProgress)
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

// Current returns the wave on screen, if any
func (e *Engine) Current() (md.Wave, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.currentLocked()
	if !ok || (e.state != Playing && e.state != Paused) {
		return md.Wave{}, false
	}
	return w.Clone(), true
}

// Shown returns the ids of the waves entered during the current or last session, in order
func (e *Engine) Shown() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.shown...)
}

// Session returns the liveness token of the current session. It is cancelled on close.
func (e *Engine) Session() *liveness.Token {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// -------------- transitions, all called with e.mu held --------------

func (e *Engine) enterLocked(i int) {
	e.itemGen++
	e.index, e.elapsed, e.progress, e.held = i, 0, 0, false
	e.state = Playing
	e.segStart = e.clock.Now()
	w := e.snapshot[i]
	e.shown = append(e.shown, w.ID)
	if e.input != nil {
		gen := e.itemGen
		e.unsubscribe = e.input.Subscribe(func(in Input) { e.onInput(gen, in) })
	}
	if w.Video() {
		if e.media != nil {
			e.mediaActive = true
			e.media.Play(w)
		}
	} else {
		e.armLocked()
	}
	if w.AuthorID != e.viewerID && e.views != nil {
		views, ctx, viewerID, waveID := e.views, e.ctx, e.viewerID, w.ID
		e.effects = append(e.effects, func() {
			e.dispatch(func() {
				// failures are owned by the recorder and never affect playback
				_ = views.RecordView(ctx, viewerID, waveID)
			})
		})
	}
	e.logLocked().WithFields(log.Fields{"index": i, cst.LogFieldWaveID: w.ID, "kind": w.Kind}).Debug("entered wave")
	e.emitLocked(EventItemEntered)
}

// exitLocked tears down everything installed for the current wave. It is idempotent.
func (e *Engine) exitLocked() {
	e.itemGen++
	e.stopTimerLocked()
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	if e.mediaActive {
		e.mediaActive = false
		e.media.Stop()
	}
}

func (e *Engine) nextLocked() {
	e.exitLocked()
	e.state = Transitioning
	if e.index+1 >= len(e.snapshot) {
		e.closeLocked()
		return
	}
	e.enterLocked(e.index + 1)
}

func (e *Engine) advanceLocked(d Direction) {
	if e.state != Playing && e.state != Paused {
		return
	}
	switch d {
	case Forward:
		e.nextLocked()
	case Backward:
		if e.index == 0 {
			return
		}
		e.exitLocked()
		e.state = Transitioning
		e.enterLocked(e.index - 1)
	}
}

func (e *Engine) tickLocked(elapsed time.Duration) {
	w, ok := e.currentLocked()
	if e.state != Playing || !ok || w.Video() {
		return
	}
	e.elapsed, e.segStart = elapsed, e.clock.Now()
	e.progress = clamp(float64(elapsed)/float64(e.duration)*100, 0, 100)
	if e.progress >= 100 {
		e.nextLocked()
		return
	}
	e.emitLocked(EventProgress)
}

func (e *Engine) pauseLocked() {
	w, ok := e.currentLocked()
	if e.state != Playing || !ok {
		return
	}
	if w.Video() {
		if e.mediaActive {
			e.media.Pause()
		}
	} else {
		e.stopTimerLocked()
		e.elapsed += e.clock.Now().Sub(e.segStart)
		e.progress = clamp(float64(e.elapsed)/float64(e.duration)*100, 0, 100)
	}
	e.state = Paused
	e.emitLocked(EventPaused)
}

func (e *Engine) resumeLocked() {
	w, ok := e.currentLocked()
	if e.state != Paused || !ok {
		return
	}
	e.state = Playing
	e.held = false
	e.segStart = e.clock.Now()
	if w.Video() {
		if e.mediaActive {
			e.media.Resume()
		}
	} else {
		e.armLocked()
	}
	e.emitLocked(EventResumed)
}

func (e *Engine) closeLocked() {
	if e.state == Closed {
		return
	}
	e.exitLocked()
	e.state = Closed
	e.session.Cancel()
	e.logLocked().WithField("shown", len(e.shown)).Debug("viewer session closed")
	e.emitLocked(EventClosed)
}

func (e *Engine) armLocked() {
	e.stopTimerLocked()
	e.timerGen++
	gen := e.timerGen
	e.timer = e.clock.AfterFunc(e.tickInterval, func() { e.onTimer(gen) })
}

// stopTimerLocked stops the live timer, if any. Bumping the generation makes a callback which
// already fired but is still waiting for the lock a no-op.
func (e *Engine) stopTimerLocked() {
	e.timerGen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) onTimer(gen uint64) {
	e.mu.Lock()
	defer e.unlockAndFlush()
	if gen != e.timerGen || e.state != Playing {
		return
	}
	e.timer = nil
	e.tickLocked(e.elapsed + e.clock.Now().Sub(e.segStart))
	if gen == e.timerGen && e.state == Playing {
		e.armLocked()
	}
}

func (e *Engine) onInput(gen uint64, in Input) {
	e.mu.Lock()
	defer e.unlockAndFlush()
	// input delivered to the listener of a wave which has been torn down meanwhile
	if gen != e.itemGen {
		return
	}
	switch in {
	case InputTogglePause:
		switch e.state {
		case Playing:
			e.pauseLocked()
		case Paused:
			e.resumeLocked()
		}
	case InputHoldStart:
		if e.state == Playing {
			e.pauseLocked()
			e.held = true
		}
	case InputHoldEnd:
		if e.state == Paused && e.held {
			e.resumeLocked()
		}
	case InputNext:
		e.advanceLocked(Forward)
	case InputPrev:
		e.advanceLocked(Backward)
	case InputClose:
		e.closeLocked()
	}
}

func (e *Engine) currentLocked() (md.Wave, bool) {
	if e.index < 0 || e.index >= len(e.snapshot) {
		return md.Wave{}, false
	}
	return e.snapshot[e.index], true
}

func (e *Engine) statusLocked() Status {
	st := Status{
		SessionID: e.sessionID,
		State:     e.state,
		Index:     e.index,
		Len:       len(e.snapshot),
		Progress:  e.progress,
	}
	if w, ok := e.currentLocked(); ok && e.state != Closed {
		st.WaveID = w.ID
	}
	return st
}

func (e *Engine) emitLocked(k EventKind) {
	if e.observer == nil {
		return
	}
	e.eventSeq++
	seq, ev := e.eventSeq, Event{Kind: k, Status: e.statusLocked()}
	e.effects = append(e.effects, func() { e.deliver(seq, ev) })
}

// deliver hands ev to the observer unless an event emitted after it has been delivered
// already, e.g., by a Close flushing ahead of an Advance racing with it.
func (e *Engine) deliver(seq uint64, ev Event) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	if seq <= e.delivered {
		return
	}
	e.delivered = seq
	e.observer(ev)
}

func (e *Engine) unlockAndFlush() {
	fx := e.effects
	e.effects = nil
	e.mu.Unlock()
	for _, f := range fx {
		f()
	}
}

func (e *Engine) logLocked() *log.Entry {
	return logging.WithFuncName().WithFields(log.Fields{
		cst.LogFieldSessionID: e.sessionID,
		cst.LogFieldViewerID:  e.viewerID,
		"state":               e.state.String(),
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
