package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"wuyrush.io/wave/autoplay"
	"wuyrush.io/wave/common/clock"
	"wuyrush.io/wave/common/logging"
	cst "wuyrush.io/wave/constants"
	"wuyrush.io/wave/lifecycle"
	md "wuyrush.io/wave/models"
	"wuyrush.io/wave/queue"
	"wuyrush.io/wave/reaction"
	"wuyrush.io/wave/state"
	st "wuyrush.io/wave/stores"
	"wuyrush.io/wave/tracker"
	"wuyrush.io/wave/workers/refresher"
)

const (
	initialLoadTimeout = 30 * time.Second
	progressBarWidth   = 20
)

// player wires the wave store, the queue builder and the autoplay engine together and renders
// playback to a terminal.
type player struct {
	cfg       *config
	svc       lifecycle.Service
	clock     clock.Clock
	store     *state.WaveStore
	viewed    *st.SQLiteViewedStore
	builder   *queue.Builder
	engine    *autoplay.Engine
	keys      *autoplay.Broadcaster
	refresher *refresher.Refresher
	closers   []func()

	outMu sync.Mutex
	out   io.Writer

	mu        sync.Mutex
	reactions *reaction.Controller
	playing   map[string]md.Wave
	closed    chan struct{}
	quit      bool
}

func newPlayer(ctx context.Context, cfg *config, svc lifecycle.Service, c clock.Clock, out io.Writer) (*player, error) {
	p := &player{
		cfg:     cfg,
		svc:     svc,
		clock:   c,
		out:     out,
		store:   state.NewWaveStore(),
		keys:    autoplay.NewBroadcaster(),
		playing: map[string]md.Wave{},
	}
	if cfg.DBPath != "" {
		if err := p.setupViewedStore(ctx); err != nil {
			return nil, err
		}
	}
	media := newFallbackMedia(c, cfg.VideoFallback)
	p.engine = autoplay.New(cfg.ViewerID, tracker.New(svc, p.store),
		autoplay.WithClock(c),
		autoplay.WithMedia(media),
		autoplay.WithInput(p.keys),
		autoplay.WithObserver(p.observe),
		autoplay.WithContext(ctx),
	)
	media.ended = p.engine.MediaEnded
	p.builder = queue.NewBuilder(p.store, c, cfg.ViewerID)
	p.closers = append(p.closers, p.builder.Close, p.engine.Close)
	p.refresher = refresher.New(svc, p.store, cfg.RefreshInterval)
	return p, nil
}

// setupViewedStore restores the waves viewed in previous runs and persists the ones viewed from
// now on
func (p *player) setupViewedStore(ctx context.Context) error {
	clog := logging.WithFuncName().WithField(cst.LogFieldViewerID, p.cfg.ViewerID)
	vs, err := st.OpenSQLiteViewedStore(p.cfg.DBPath)
	if err != nil {
		return err
	}
	p.viewed = vs
	p.closers = append(p.closers, func() { vs.Close() })
	if n, err := vs.Prune(ctx, p.clock.Now().Add(-md.TTL)); err != nil {
		clog.WithError(err).Warn("error pruning viewed waves")
	} else if n > 0 {
		clog.WithField("pruned", n).Debug("pruned viewed waves of expired waves")
	}
	ids, err := vs.LoadViewed(ctx, p.cfg.ViewerID)
	if err != nil {
		return err
	}
	p.store.Hydrate(ids)
	unsubscribe := p.store.Subscribe(func(c state.Change) {
		if c.Kind != state.ChangeViewed {
			return
		}
		if err := vs.SaveViewed(context.Background(), p.cfg.ViewerID, c.NewlyViewed, p.clock.Now()); err != nil {
			clog.WithError(err).Warn("error persisting viewed waves")
		}
	})
	// closers run in reverse order, so the subscription goes before the database
	p.closers = append(p.closers, unsubscribe)
	return nil
}

// Play plays the queue of author, or when author is empty, every queue with unseen waves in
// presentation order until the viewer quits.
func (p *player) Play(ctx context.Context, author string) error {
	if err := p.refresher.Load(ctx, initialLoadTimeout); err != nil {
		return err
	}
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.refresher.Run(rctx)

	p.println(keyHelp)
	played := map[string]struct{}{}
	for !p.quitting() {
		q, ok := p.next(author, played)
		if !ok {
			p.println("No more waves")
			return nil
		}
		played[q.AuthorID] = struct{}{}
		if err := p.playQueue(ctx, q); err != nil {
			return err
		}
		if author != "" || ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

func (p *player) next(author string, played map[string]struct{}) (queue.Queue, bool) {
	if author != "" {
		if _, ok := played[author]; ok {
			return queue.Queue{}, false
		}
		return p.builder.Queue(author)
	}
	for _, q := range p.builder.Queues() {
		if _, ok := played[q.AuthorID]; ok {
			continue
		}
		if q.Unseen(p.store.Viewed) {
			return q, true
		}
	}
	return queue.Queue{}, false
}

func (p *player) playQueue(ctx context.Context, q queue.Queue) error {
	closed := make(chan struct{})
	p.mu.Lock()
	p.closed = closed
	p.reactions = nil
	p.playing = make(map[string]md.Wave, len(q.Waves))
	for _, w := range q.Waves {
		p.playing[w.ID] = w
	}
	p.mu.Unlock()

	p.printf("\n%s\n", q.AuthorID)
	if err := p.engine.Start(q.Waves, q.FirstUnseen(p.store.Viewed)); err != nil {
		return err
	}
	rc := reaction.New(p.svc, p.cfg.ViewerID, p.engine.Session())
	rc.Seed(q.Waves)
	p.mu.Lock()
	p.reactions = rc
	p.mu.Unlock()

	select {
	case <-closed:
	case <-ctx.Done():
		p.engine.Close()
	}
	return nil
}

func (p *player) observe(ev autoplay.Event) {
	switch ev.Kind {
	case autoplay.EventItemEntered:
		p.mu.Lock()
		w := p.playing[ev.Status.WaveID]
		liked := w.ReactedBy(p.cfg.ViewerID) || (p.reactions != nil && p.reactions.Liked(w.ID))
		p.mu.Unlock()
		p.printf("\n[%d/%d] %s\n", ev.Status.Index+1, ev.Status.Len, describe(w, liked))
	case autoplay.EventProgress:
		p.printf("\r%s", progressBar(ev.Status.Progress))
	case autoplay.EventPaused:
		p.printf("  paused")
	case autoplay.EventResumed:
		p.printf("\r%s", progressBar(ev.Status.Progress))
	case autoplay.EventClosed:
		p.println("")
		p.mu.Lock()
		if p.closed != nil {
			close(p.closed)
			p.closed = nil
		}
		p.mu.Unlock()
	}
}

// ReadKeys feeds key presses read from r to the engine until r is exhausted or ctx is done
func (p *player) ReadKeys(ctx context.Context, r io.Reader) {
	var km keyMap
	br := bufio.NewReader(r)
	for ctx.Err() == nil {
		c, _, err := br.ReadRune()
		if err != nil {
			return
		}
		p.handleKey(ctx, &km, c)
	}
}

func (p *player) handleKey(ctx context.Context, km *keyMap, c rune) {
	act, in := km.translate(c)
	switch act {
	case actionInput:
		p.keys.Emit(in)
	case actionLike:
		p.like(ctx)
	case actionQuit:
		p.mu.Lock()
		p.quit = true
		p.mu.Unlock()
		p.engine.Close()
	}
}

func (p *player) like(ctx context.Context) {
	w, ok := p.engine.Current()
	p.mu.Lock()
	rc := p.reactions
	p.mu.Unlock()
	if !ok || rc == nil || rc.Liked(w.ID) {
		return
	}
	p.printf("  liked")
	go func() {
		if err := rc.React(ctx, w.ID); err != nil {
			logging.WithFuncName().WithError(err).WithFields(log.Fields{
				cst.LogFieldViewerID: p.cfg.ViewerID,
				cst.LogFieldWaveID:   w.ID,
			}).Warn("error reacting to wave")
			p.printf("  could not like wave, try again")
		}
	}()
}

func (p *player) quitting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quit
}

func (p *player) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

func (p *player) printf(format string, a ...interface{}) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	fmt.Fprintf(p.out, format, a...)
}

func (p *player) println(s string) {
	p.printf("%s\n", s)
}

func describe(w md.Wave, liked bool) string {
	parts := []string{string(w.Kind)}
	switch w.Kind {
	case md.KindText:
		parts = append(parts, fmt.Sprintf("%q on %s", w.TextContent, w.BackgroundColor))
	default:
		parts = append(parts, w.MediaURL)
	}
	if w.Caption != nil && *w.Caption != "" {
		parts = append(parts, *w.Caption)
	}
	if liked {
		parts = append(parts, "liked")
	}
	return strings.Join(parts, " | ")
}

func progressBar(pct float64) string {
	filled := int(pct / 100 * progressBarWidth)
	if filled > progressBarWidth {
		filled = progressBarWidth
	}
	if filled < 0 {
		filled = 0
	}
	return fmt.Sprintf("[%s%s] %3.0f%%", strings.Repeat("=", filled), strings.Repeat(" ", progressBarWidth-filled), pct)
}
