package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"wuyrush.io/wave/autoplay"
	"wuyrush.io/wave/common/clock"
	se "wuyrush.io/wave/errors"
	"wuyrush.io/wave/lifecycle"
	md "wuyrush.io/wave/models"
)

var t0 = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type mockService struct {
	mock.Mock
}

var _ lifecycle.Service = (*mockService)(nil)

func (m *mockService) Create(ctx context.Context, d *md.Draft) (md.Wave, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(md.Wave), args.Error(1)
}

func (m *mockService) ListMine(ctx context.Context) ([]md.Wave, error) {
	args := m.Called(ctx)
	ws, _ := args.Get(0).([]md.Wave)
	return ws, args.Error(1)
}

func (m *mockService) ListAllies(ctx context.Context) ([]md.Wave, error) {
	args := m.Called(ctx)
	ws, _ := args.Get(0).([]md.Wave)
	return ws, args.Error(1)
}

func (m *mockService) Delete(ctx context.Context, waveID string) error {
	return m.Called(ctx, waveID).Error(0)
}

func (m *mockService) RecordView(ctx context.Context, waveID string) error {
	return m.Called(ctx, waveID).Error(0)
}

func (m *mockService) React(ctx context.Context, waveID string) error {
	return m.Called(ctx, waveID).Error(0)
}

func (m *mockService) ListViewers(ctx context.Context, waveID string) ([]md.Viewer, error) {
	args := m.Called(ctx, waveID)
	vs, _ := args.Get(0).([]md.Viewer)
	return vs, args.Error(1)
}

// syncBuffer is written by the player's goroutines and read by tests
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() *config {
	return &config{
		WriterURL:       "http://writer.test",
		ReaderURL:       "http://reader.test",
		SessionCookie:   "cookie",
		Timeout:         time.Second,
		ViewerID:        "alice",
		RefreshInterval: time.Hour,
		VideoFallback:   10 * time.Second,
	}
}

func runCommand(t *testing.T, svc lifecycle.Service, args ...string) (string, error) {
	t.Helper()
	ctx := &commandContext{
		load:       func() (*config, error) { return testConfig(), nil },
		newService: func(*config) (lifecycle.Service, func()) { return svc, func() {} },
	}
	cmd := newRootCommand(ctx)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestKeyMap(t *testing.T) {
	tcs := []struct {
		name      string
		keys      string
		expAct    []action
		expInputs []autoplay.Input
	}{
		{name: "Space", keys: " ", expAct: []action{actionInput}, expInputs: []autoplay.Input{autoplay.InputTogglePause}},
		{name: "NextAndPrev", keys: "nP", expAct: []action{actionInput, actionInput}, expInputs: []autoplay.Input{autoplay.InputNext, autoplay.InputPrev}},
		{name: "HoldToggles", keys: "hhh", expAct: []action{actionInput, actionInput, actionInput}, expInputs: []autoplay.Input{autoplay.InputHoldStart, autoplay.InputHoldEnd, autoplay.InputHoldStart}},
		{name: "Like", keys: "l", expAct: []action{actionLike}, expInputs: []autoplay.Input{0}},
		{name: "Quit", keys: "q", expAct: []action{actionQuit}, expInputs: []autoplay.Input{autoplay.InputClose}},
		{name: "Ignored", keys: "x\n", expAct: []action{actionNone, actionNone}, expInputs: []autoplay.Input{0, 0}},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			var km keyMap
			var acts []action
			var ins []autoplay.Input
			for _, r := range c.keys {
				a, in := km.translate(r)
				acts = append(acts, a)
				ins = append(ins, in)
			}
			assert.Equal(t, c.expAct, acts)
			assert.Equal(t, c.expInputs, ins)
		})
	}
}

func TestFallbackMedia(t *testing.T) {
	c := clock.NewFake(t0)
	m := newFallbackMedia(c, 10*time.Second)
	var ended []string
	m.ended = func(id string) { ended = append(ended, id) }

	m.Play(md.Wave{ID: "v1"})
	c.Advance(4 * time.Second)
	m.Pause()
	c.Advance(time.Minute)
	assert.Empty(t, ended, "paused media must not end")
	m.Resume()
	c.Advance(5 * time.Second)
	assert.Empty(t, ended)
	c.Advance(time.Second)
	assert.Equal(t, []string{"v1"}, ended)

	m.Play(md.Wave{ID: "v2"})
	m.Stop()
	c.Advance(time.Minute)
	assert.Equal(t, []string{"v1"}, ended, "stopped media must not end")
	assert.Equal(t, 0, c.Pending())

	m.Play(md.Wave{ID: "v3"})
	m.Play(md.Wave{ID: "v4"})
	c.Advance(10 * time.Second)
	assert.Equal(t, []string{"v1", "v4"}, ended)
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[                    ]   0%", progressBar(0))
	assert.Equal(t, "[==========          ]  50%", progressBar(50))
	assert.Equal(t, "[====================] 100%", progressBar(100))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("WAVE_API_WRITER_URL", "http://writer.test")
	t.Setenv("WAVE_API_READER_URL", "http://reader.test")
	t.Setenv("WAVE_API_SESSION_COOKIE", "cookie")
	t.Setenv("WAVE_VIEWER_ID", "alice")
	t.Setenv("WAVE_REFRESH_INTERVAL", "90s")
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.ViewerID)
	assert.Equal(t, 90*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 15*time.Second, cfg.VideoFallback)

	t.Setenv("WAVE_VIEWER_ID", "")
	_, err = loadConfig()
	assert.Equal(t, se.ErrCodeBadRequest, se.CodeOf(err))
}

func TestPostCommand(t *testing.T) {
	tcs := []struct {
		name    string
		args    []string
		setup   func(*mockService)
		expCode se.ErrCode
		expOut  string
	}{
		{
			name: "HappyCase",
			args: []string{"post", "--text", "hello", "--background", "#112233"},
			setup: func(svc *mockService) {
				svc.On("Create", mock.Anything, mock.MatchedBy(func(d *md.Draft) bool {
					return d.Kind == md.KindText && d.TextContent == "hello" && d.Caption == nil
				})).Return(md.Wave{ID: "w1", ExpiresAt: t0.Add(md.TTL)}, nil).Once()
			},
			expOut: "Posted wave w1",
		},
		{
			name:    "InvalidDraftIsNotSent",
			args:    []string{"post", "--kind", "gif"},
			setup:   func(*mockService) {},
			expCode: se.ErrCodeBadRequest,
		},
		{
			name: "ServiceFailure",
			args: []string{"post", "--kind", "photo", "--media-url", "https://cdn.test/p.jpg", "--caption", "sunset"},
			setup: func(svc *mockService) {
				svc.On("Create", mock.Anything, mock.MatchedBy(func(d *md.Draft) bool {
					return d.Caption != nil && *d.Caption == "sunset"
				})).Return(md.Wave{}, se.NewTransientNetwork("offline")).Once()
			},
			expCode: se.ErrCodeTransientNetwork,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			svc := &mockService{}
			c.setup(svc)
			out, err := runCommand(t, svc, c.args...)
			if c.expCode != "" {
				assert.Equal(t, c.expCode, se.CodeOf(err))
			} else {
				require.NoError(t, err)
				assert.Contains(t, out, c.expOut)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestDeleteCommand(t *testing.T) {
	svc := &mockService{}
	svc.On("Delete", mock.Anything, "w1").Return(nil).Once()
	out, err := runCommand(t, svc, "delete", "w1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted wave w1")

	_, err = runCommand(t, svc, "delete")
	assert.Error(t, err)
	svc.AssertExpectations(t)
}

func TestViewersCommand(t *testing.T) {
	svc := &mockService{}
	svc.On("ListViewers", mock.Anything, "w1").Return([]md.Viewer{
		{UserID: "bob", ViewedAt: t0},
		{UserID: "carol", ViewedAt: t0.Add(time.Minute)},
	}, nil).Once()
	svc.On("ListViewers", mock.Anything, "w2").Return(nil, nil).Once()
	svc.On("ListViewers", mock.Anything, "w3").Return(nil, se.NewForbidden("not yours")).Once()

	out, err := runCommand(t, svc, "viewers", "w1")
	require.NoError(t, err)
	assert.Contains(t, out, "VIEWER")
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "carol")

	out, err = runCommand(t, svc, "viewers", "w2")
	require.NoError(t, err)
	assert.Contains(t, out, "No viewers yet")

	_, err = runCommand(t, svc, "viewers", "w3")
	assert.Equal(t, se.ErrCodeTransientNetwork, se.CodeOf(err))
	svc.AssertExpectations(t)
}

func TestMineCommand(t *testing.T) {
	svc := &mockService{}
	svc.On("ListMine", mock.Anything).Return([]md.Wave{{
		ID: "w1", AuthorID: "alice", Kind: md.KindPhoto, CreatedAt: t0, ExpiresAt: t0.Add(md.TTL),
		ViewCount: 3, Reactors: md.NewIDSet("bob"),
	}}, nil).Once()
	out, err := runCommand(t, svc, "mine")
	require.NoError(t, err)
	assert.Contains(t, out, "w1")
	assert.Contains(t, out, "photo")
	svc.AssertExpectations(t)
}

func textWave(id, author string, createdAt time.Time) md.Wave {
	return md.Wave{
		ID: id, AuthorID: author, Kind: md.KindText, TextContent: "hi " + id, BackgroundColor: "#000000",
		CreatedAt: createdAt, ExpiresAt: createdAt.Add(md.TTL), Viewers: md.IDSet{}, Reactors: md.IDSet{},
	}
}

func TestPlayer_PlaysUnseenQueuesThenStops(t *testing.T) {
	c := clock.NewFake(t0.Add(time.Hour))
	svc := &mockService{}
	svc.On("ListMine", mock.Anything).Return([]md.Wave{}, nil)
	svc.On("ListAllies", mock.Anything).Return([]md.Wave{textWave("b1", "bob", t0)}, nil)
	svc.On("RecordView", mock.Anything, "b1").Return(nil).Once()
	reacted := make(chan struct{})
	svc.On("React", mock.Anything, "b1").Run(func(mock.Arguments) { close(reacted) }).Return(nil).Once()

	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := newPlayer(ctx, testConfig(), svc, c, out)
	require.NoError(t, err)
	defer p.Close()

	done := make(chan error, 1)
	go func() { done <- p.Play(ctx, "") }()
	require.Eventually(t, func() bool { return p.engine.Status().State == autoplay.Playing }, 2*time.Second, time.Millisecond)

	var km keyMap
	p.handleKey(ctx, &km, 'l')
	select {
	case <-reacted:
	case <-time.After(2 * time.Second):
		t.Fatal("like was not sent")
	}

	c.Advance(autoplay.ItemDuration)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("player did not finish")
	}
	assert.Eventually(t, func() bool { return p.store.Viewed("b1") }, 2*time.Second, time.Millisecond)
	assert.Contains(t, out.String(), "[1/1] text")
	assert.Contains(t, out.String(), "No more waves")
}

func TestPlayer_QuitStopsPlayback(t *testing.T) {
	c := clock.NewFake(t0.Add(time.Hour))
	svc := &mockService{}
	svc.On("ListMine", mock.Anything).Return([]md.Wave{}, nil)
	svc.On("ListAllies", mock.Anything).Return([]md.Wave{
		textWave("b1", "bob", t0),
		textWave("c1", "carol", t0.Add(time.Minute)),
	}, nil)
	svc.On("RecordView", mock.Anything, "c1").Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := newPlayer(ctx, testConfig(), svc, c, &syncBuffer{})
	require.NoError(t, err)
	defer p.Close()

	done := make(chan error, 1)
	go func() { done <- p.Play(ctx, "") }()
	// carol posted last, so her queue comes first
	require.Eventually(t, func() bool { return p.engine.Status().WaveID == "c1" }, 2*time.Second, time.Millisecond)
	p.ReadKeys(ctx, strings.NewReader("q"))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("player did not stop")
	}
	assert.Eventually(t, func() bool { return p.store.Viewed("c1") }, 2*time.Second, time.Millisecond)
	assert.False(t, p.store.Viewed("b1"))
	svc.AssertNotCalled(t, "RecordView", mock.Anything, "b1")
}

func TestPlayer_PersistsViewedWaves(t *testing.T) {
	cfg := testConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "viewer.db")
	c := clock.NewFake(t0.Add(time.Hour))
	svc := &mockService{}

	p, err := newPlayer(context.Background(), cfg, svc, c, &syncBuffer{})
	require.NoError(t, err)
	p.store.MarkViewed("b1")
	p.Close()

	p, err = newPlayer(context.Background(), cfg, svc, c, &syncBuffer{})
	require.NoError(t, err)
	defer p.Close()
	assert.True(t, p.store.Viewed("b1"))
}
