package autoplay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"wuyrush.io/wave/common/clock"
	se "wuyrush.io/wave/errors"
	md "wuyrush.io/wave/models"
)

const viewerID = "me"

var t0 = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordView(ctx context.Context, viewerID, waveID string) error {
	args := m.Called(ctx, viewerID, waveID)
	return args.Error(0)
}

type fakeMedia struct {
	mu    sync.Mutex
	calls []string
}

func (m *fakeMedia) record(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, s)
}

func (m *fakeMedia) Play(w md.Wave) { m.record("play:" + w.ID) }
func (m *fakeMedia) Pause()         { m.record("pause") }
func (m *fakeMedia) Resume()        { m.record("resume") }
func (m *fakeMedia) Stop()          { m.record("stop") }

func (m *fakeMedia) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func wave(id string, kind md.Kind, createdAt time.Time) md.Wave {
	return md.Wave{ID: id, AuthorID: "bob", Kind: kind, CreatedAt: createdAt, ExpiresAt: createdAt.Add(md.TTL)}
}

func syncDispatch(f func()) { f() }

// newEngine returns an engine on a fake clock whose side effects run synchronously
func newEngine(rec ViewRecorder, opts ...Option) (*Engine, *clock.Fake) {
	c := clock.NewFake(t0)
	opts = append([]Option{WithClock(c), WithDispatcher(syncDispatch)}, opts...)
	return New(viewerID, rec, opts...), c
}

func acceptingRecorder() *mockRecorder {
	rec := &mockRecorder{}
	rec.On("RecordView", mock.Anything, viewerID, mock.Anything).Return(nil)
	return rec
}

func TestEngine_TextThenPhotoScenario(t *testing.T) {
	rec := acceptingRecorder()
	e, c := newEngine(rec)
	queue := []md.Wave{
		wave("w1", md.KindText, t0),
		wave("w2", md.KindPhoto, t0.Add(time.Second)),
	}
	require.NoError(t, e.Start(queue, 0))
	rec.AssertNumberOfCalls(t, "RecordView", 1)
	rec.AssertCalled(t, "RecordView", mock.Anything, viewerID, "w1")

	c.Advance(5000 * time.Millisecond)

	st := e.Status()
	assert.Equal(t, Playing, st.State)
	assert.Equal(t, 1, st.Index)
	assert.Equal(t, "w2", st.WaveID)
	assert.Equal(t, float64(0), st.Progress)
	rec.AssertNumberOfCalls(t, "RecordView", 2)
	cnt := 0
	for _, call := range rec.Calls {
		if call.Arguments.String(2) == "w2" {
			cnt++
		}
	}
	assert.Equal(t, 1, cnt, "w2 must be recorded exactly once")
	assert.Equal(t, 1, c.Pending(), "exactly one live timer")
}

func TestEngine_AdvanceForwardPastLastCloses(t *testing.T) {
	e, c := newEngine(acceptingRecorder())
	queue := []md.Wave{
		wave("A", md.KindPhoto, t0),
		wave("B", md.KindPhoto, t0.Add(time.Second)),
		wave("C", md.KindText, t0.Add(2*time.Second)),
	}
	require.NoError(t, e.Start(queue, 1))
	e.Advance(Forward)
	assert.Equal(t, "C", e.Status().WaveID)
	e.Advance(Forward)

	assert.Equal(t, Closed, e.Status().State)
	assert.Equal(t, []string{"B", "C"}, e.Shown())
	assert.Equal(t, 0, c.Pending())
	assert.False(t, e.Session().Alive())
}

func TestEngine_AdvanceBackward(t *testing.T) {
	e, c := newEngine(acceptingRecorder())
	queue := []md.Wave{wave("A", md.KindPhoto, t0), wave("B", md.KindPhoto, t0.Add(time.Second))}
	require.NoError(t, e.Start(queue, 0))
	c.Advance(1000 * time.Millisecond)

	// no-op on the first wave: progress is kept
	e.Advance(Backward)
	st := e.Status()
	assert.Equal(t, 0, st.Index)
	assert.InDelta(t, 20, st.Progress, 0.001)
	assert.Equal(t, []string{"A"}, e.Shown())

	e.Advance(Forward)
	e.Advance(Backward)
	st = e.Status()
	assert.Equal(t, 0, st.Index)
	assert.Equal(t, float64(0), st.Progress)
	assert.Equal(t, []string{"A", "B", "A"}, e.Shown())
	assert.Equal(t, 1, c.Pending())
}

func TestEngine_PauseResumePreservesProgress(t *testing.T) {
	e, c := newEngine(acceptingRecorder())
	require.NoError(t, e.Start([]md.Wave{wave("A", md.KindPhoto, t0), wave("B", md.KindPhoto, t0)}, 0))

	c.Advance(2000 * time.Millisecond)
	require.InDelta(t, 40, e.Status().Progress, 0.001)

	e.Pause()
	assert.Equal(t, Paused, e.Status().State)
	assert.Equal(t, 0, c.Pending(), "paused waves own no timer")
	c.Advance(10 * time.Second)
	assert.InDelta(t, 40, e.Status().Progress, 0.001)
	assert.Equal(t, 0, e.Status().Index)

	e.Resume()
	assert.Equal(t, Playing, e.Status().State)
	assert.InDelta(t, 40, e.Status().Progress, 0.001)
	c.Advance(50 * time.Millisecond)
	assert.InDelta(t, 41, e.Status().Progress, 0.001)

	// the remaining 2950ms finish the wave
	c.Advance(2950 * time.Millisecond)
	assert.Equal(t, 1, e.Status().Index)
}

func TestEngine_PauseMidInterval(t *testing.T) {
	var paused Status
	e, c := newEngine(acceptingRecorder(), WithObserver(func(ev Event) {
		if ev.Kind == EventPaused {
			paused = ev.Status
		}
	}))
	require.NoError(t, e.Start([]md.Wave{wave("A", md.KindPhoto, t0)}, 0))

	c.Advance(1020 * time.Millisecond)
	e.Pause()
	// the 20ms played since the last tick count as well
	assert.InDelta(t, 20.4, e.Status().Progress, 0.001)
	assert.InDelta(t, 20.4, paused.Progress, 0.001)
	c.Advance(time.Minute)
	e.Resume()
	c.Advance(30 * time.Millisecond)
	assert.InDelta(t, 20.4, e.Status().Progress, 0.001)
	// 1020ms played before pausing plus a full interval after resuming
	c.Advance(20 * time.Millisecond)
	assert.InDelta(t, 21.4, e.Status().Progress, 0.001)
}

func TestEngine_CloseStopsTicks(t *testing.T) {
	rec := acceptingRecorder()
	var events []Event
	e, c := newEngine(rec, WithObserver(func(ev Event) { events = append(events, ev) }))
	require.NoError(t, e.Start([]md.Wave{wave("A", md.KindPhoto, t0), wave("B", md.KindPhoto, t0)}, 0))
	c.Advance(1000 * time.Millisecond)
	require.Equal(t, 1, c.Pending())

	e.Close()
	assert.Equal(t, 0, c.Pending())
	n := len(events)
	require.Equal(t, EventClosed, events[n-1].Kind)

	c.Advance(time.Minute)
	assert.Len(t, events, n, "no callbacks may fire after close")
	assert.Equal(t, Closed, e.Status().State)
	rec.AssertNumberOfCalls(t, "RecordView", 1)

	// closing twice does nothing
	e.Close()
	assert.Len(t, events, n)
}

func TestEngine_StaleTimerCallbackIsSkipped(t *testing.T) {
	e, c := newEngine(acceptingRecorder())
	require.NoError(t, e.Start([]md.Wave{wave("A", md.KindPhoto, t0), wave("B", md.KindPhoto, t0)}, 0))
	e.mu.Lock()
	gen := e.timerGen
	e.mu.Unlock()

	e.Advance(Forward)
	c.Advance(10 * time.Millisecond)
	// a callback of the torn down wave racing the transition
	e.onTimer(gen)
	st := e.Status()
	assert.Equal(t, 1, st.Index)
	assert.Equal(t, float64(0), st.Progress)
	assert.Equal(t, 1, c.Pending())
}

func TestEngine_StartEmptyQueueFailsFast(t *testing.T) {
	rec := &mockRecorder{}
	e, _ := newEngine(rec)
	err := e.Start(nil, 0)
	require.Error(t, err)
	assert.Equal(t, se.ErrCodeEmptyQueue, se.CodeOf(err))
	assert.Equal(t, Idle, e.Status().State)
	rec.AssertNotCalled(t, "RecordView", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_StartOutOfBoundsCloses(t *testing.T) {
	tcs := []struct {
		name  string
		index int
	}{
		{name: "PastEnd", index: 2},
		{name: "Negative", index: -1},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			rec := &mockRecorder{}
			e, clk := newEngine(rec)
			require.NoError(t, e.Start([]md.Wave{wave("A", md.KindPhoto, t0), wave("B", md.KindPhoto, t0)}, c.index))
			assert.Equal(t, Closed, e.Status().State)
			assert.Empty(t, e.Shown())
			assert.Equal(t, 0, clk.Pending())
			rec.AssertNotCalled(t, "RecordView", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestEngine_StartWhileOpenRejected(t *testing.T) {
	e, _ := newEngine(acceptingRecorder())
	q := []md.Wave{wave("A", md.KindPhoto, t0)}
	require.NoError(t, e.Start(q, 0))
	err := e.Start(q, 0)
	assert.Equal(t, se.ErrCodeBadRequest, se.CodeOf(err))

	e.Close()
	require.NoError(t, e.Start(q, 0), "a closed engine accepts a new session")
	assert.Equal(t, Playing, e.Status().State)
	assert.True(t, e.Session().Alive())
}

func TestEngine_SnapshotIsolatedFromQueueMutation(t *testing.T) {
	e, c := newEngine(acceptingRecorder())
	q := []md.Wave{wave("A", md.KindPhoto, t0), wave("B", md.KindPhoto, t0)}
	require.NoError(t, e.Start(q, 0))
	q[1].ID = "replaced"

	c.Advance(ItemDuration)
	assert.Equal(t, "B", e.Status().WaveID)
}

func TestEngine_OwnWaveIsNotRecorded(t *testing.T) {
	rec := acceptingRecorder()
	e, _ := newEngine(rec)
	own := wave("mine", md.KindText, t0)
	own.AuthorID = viewerID
	require.NoError(t, e.Start([]md.Wave{own}, 0))
	rec.AssertNotCalled(t, "RecordView", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_RecorderFailureDoesNotAffectPlayback(t *testing.T) {
	rec := &mockRecorder{}
	rec.On("RecordView", mock.Anything, viewerID, mock.Anything).Return(fmt.Errorf("offline"))
	e, c := newEngine(rec)
	require.NoError(t, e.Start([]md.Wave{wave("A", md.KindPhoto, t0), wave("B", md.KindPhoto, t0)}, 0))
	c.Advance(ItemDuration)
	assert.Equal(t, Playing, e.Status().State)
	assert.Equal(t, "B", e.Status().WaveID)
}

func TestEngine_VideoDelegatesToMedia(t *testing.T) {
	media := &fakeMedia{}
	e, c := newEngine(acceptingRecorder(), WithMedia(media))
	q := []md.Wave{wave("v1", md.KindVideo, t0), wave("p1", md.KindPhoto, t0)}
	require.NoError(t, e.Start(q, 0))

	assert.Equal(t, 0, c.Pending(), "video waves own no timer")
	c.Advance(time.Minute)
	assert.Equal(t, "v1", e.Status().WaveID, "videos only progress on the ended signal")

	e.Tick(ItemDuration)
	assert.Equal(t, "v1", e.Status().WaveID, "ticks do not apply to videos")

	e.MediaProgress("v1", 0.5)
	assert.Equal(t, float64(50), e.Status().Progress)

	e.Pause()
	e.Resume()
	e.MediaEnded("stale")
	assert.Equal(t, "v1", e.Status().WaveID)

	e.MediaEnded("v1")
	assert.Equal(t, "p1", e.Status().WaveID)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, []string{"play:v1", "pause", "resume", "stop"}, media.Calls())
}

func TestEngine_CloseStopsMedia(t *testing.T) {
	media := &fakeMedia{}
	e, _ := newEngine(acceptingRecorder(), WithMedia(media))
	require.NoError(t, e.Start([]md.Wave{wave("v1", md.KindVideo, t0)}, 0))
	e.Close()
	e.Close()
	assert.Equal(t, []string{"play:v1", "stop"}, media.Calls())
}

func TestEngine_InputListeners(t *testing.T) {
	in := NewBroadcaster()
	e, c := newEngine(acceptingRecorder(), WithInput(in))
	q := []md.Wave{wave("A", md.KindPhoto, t0), wave("B", md.KindPhoto, t0), wave("C", md.KindPhoto, t0)}
	require.NoError(t, e.Start(q, 0))
	assert.Equal(t, 1, in.Listeners())

	in.Emit(InputNext)
	assert.Equal(t, "B", e.Status().WaveID)
	assert.Equal(t, 1, in.Listeners(), "listener of the previous wave must be detached")

	c.Advance(1000 * time.Millisecond)
	in.Emit(InputTogglePause)
	assert.Equal(t, Paused, e.Status().State)
	in.Emit(InputTogglePause)
	assert.Equal(t, Playing, e.Status().State)

	in.Emit(InputHoldStart)
	assert.Equal(t, Paused, e.Status().State)
	in.Emit(InputHoldEnd)
	assert.Equal(t, Playing, e.Status().State)
	assert.InDelta(t, 20, e.Status().Progress, 0.001)

	in.Emit(InputPrev)
	assert.Equal(t, "A", e.Status().WaveID)

	in.Emit(InputClose)
	assert.Equal(t, Closed, e.Status().State)
	assert.Equal(t, 0, in.Listeners())
	assert.Equal(t, 0, c.Pending())
}

func TestEngine_HoldEndWithoutHoldDoesNotResume(t *testing.T) {
	in := NewBroadcaster()
	e, _ := newEngine(acceptingRecorder(), WithInput(in))
	require.NoError(t, e.Start([]md.Wave{wave("A", md.KindPhoto, t0)}, 0))
	e.Pause()
	in.Emit(InputHoldEnd)
	assert.Equal(t, Paused, e.Status().State)
}

func TestEngine_StaleInputIsIgnored(t *testing.T) {
	e, _ := newEngine(acceptingRecorder(), WithInput(NewBroadcaster()))
	q := []md.Wave{wave("A", md.KindPhoto, t0), wave("B", md.KindPhoto, t0), wave("C", md.KindPhoto, t0)}
	require.NoError(t, e.Start(q, 0))
	e.mu.Lock()
	gen := e.itemGen
	e.mu.Unlock()

	e.Advance(Forward)
	// a next gesture delivered to the torn down listener of A must not skip B
	e.onInput(gen, InputNext)
	assert.Equal(t, "B", e.Status().WaveID)
}

func TestEngine_ObserverEvents(t *testing.T) {
	var kinds []EventKind
	e, c := newEngine(acceptingRecorder(), WithTickInterval(time.Second),
		WithObserver(func(ev Event) { kinds = append(kinds, ev.Kind) }))
	require.NoError(t, e.Start([]md.Wave{wave("A", md.KindPhoto, t0)}, 0))
	c.Advance(2 * time.Second)
	e.Pause()
	e.Resume()
	c.Advance(3 * time.Second)
	assert.Equal(t, []EventKind{
		EventItemEntered,
		EventProgress, EventProgress,
		EventPaused, EventResumed,
		EventProgress, EventProgress,
		EventClosed,
	}, kinds)
}

func TestEngine_CurrentAndTickValidity(t *testing.T) {
	e, _ := newEngine(acceptingRecorder())
	_, ok := e.Current()
	assert.False(t, ok)

	// ticks outside of Playing are ignored
	e.Tick(ItemDuration)
	assert.Equal(t, Idle, e.Status().State)

	require.NoError(t, e.Start([]md.Wave{wave("A", md.KindPhoto, t0), wave("B", md.KindPhoto, t0)}, 0))
	w, ok := e.Current()
	require.True(t, ok)
	assert.Equal(t, "A", w.ID)

	e.Tick(2500 * time.Millisecond)
	assert.Equal(t, float64(50), e.Status().Progress)
	e.Pause()
	e.Tick(ItemDuration)
	assert.Equal(t, "A", e.Status().WaveID)
	e.Resume()
	e.Tick(ItemDuration)
	assert.Equal(t, "B", e.Status().WaveID)
}

// blockingMedia blocks its first Stop until released
type blockingMedia struct {
	fakeMedia
	once     sync.Once
	stopping chan struct{}
	release  chan struct{}
}

func (m *blockingMedia) Stop() {
	m.once.Do(func() {
		close(m.stopping)
		<-m.release
	})
	m.record("stop")
}

func TestEngine_CloseRacingAdvanceLeavesMediaStopped(t *testing.T) {
	media := &blockingMedia{stopping: make(chan struct{}), release: make(chan struct{})}
	var mu sync.Mutex
	var kinds []EventKind
	e, _ := newEngine(acceptingRecorder(), WithMedia(media), WithObserver(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, ev.Kind)
	}))
	require.NoError(t, e.Start([]md.Wave{wave("v1", md.KindVideo, t0), wave("v2", md.KindVideo, t0)}, 0))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.Advance(Forward)
	}()
	<-media.stopping
	go func() {
		defer wg.Done()
		e.Close()
	}()
	close(media.release)
	wg.Wait()

	assert.Equal(t, Closed, e.Status().State)
	assert.Equal(t, []string{"play:v1", "stop", "play:v2", "stop"}, media.Calls())
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, kinds)
	assert.Equal(t, EventClosed, kinds[len(kinds)-1])
}

func TestEngine_OvertakenEventIsDropped(t *testing.T) {
	var kinds []EventKind
	e, _ := newEngine(acceptingRecorder(), WithObserver(func(ev Event) { kinds = append(kinds, ev.Kind) }))
	e.deliver(2, Event{Kind: EventClosed})
	e.deliver(1, Event{Kind: EventItemEntered})
	e.deliver(2, Event{Kind: EventClosed})
	assert.Equal(t, []EventKind{EventClosed}, kinds)
}
