package main

import (
	"sync"
	"time"

	"wuyrush.io/wave/common/clock"
	md "wuyrush.io/wave/models"
)

// fallbackMedia stands in for a video element: a video wave "plays" for a fixed duration, then
// reports its end. Pausing freezes the remaining play time.
type fallbackMedia struct {
	clock    clock.Clock
	duration time.Duration
	ended    func(waveID string)

	mu        sync.Mutex
	gen       uint64
	waveID    string
	timer     clock.Timer
	remaining time.Duration
	started   time.Time
}

func newFallbackMedia(c clock.Clock, d time.Duration) *fallbackMedia {
	return &fallbackMedia{clock: c, duration: d}
}

func (m *fallbackMedia) Play(w md.Wave) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.gen++
	m.waveID = w.ID
	m.remaining = m.duration
	m.armLocked()
}

func (m *fallbackMedia) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer == nil {
		return
	}
	m.timer.Stop()
	m.timer = nil
	m.remaining -= m.clock.Now().Sub(m.started)
}

func (m *fallbackMedia) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waveID == "" || m.timer != nil {
		return
	}
	m.armLocked()
}

func (m *fallbackMedia) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.gen++
}

func (m *fallbackMedia) stopLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.waveID = ""
}

func (m *fallbackMedia) armLocked() {
	gen, id := m.gen, m.waveID
	m.started = m.clock.Now()
	m.timer = m.clock.AfterFunc(m.remaining, func() { m.fire(gen, id) })
}

func (m *fallbackMedia) fire(gen uint64, waveID string) {
	m.mu.Lock()
	if gen != m.gen || m.timer == nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.waveID = ""
	ended := m.ended
	m.mu.Unlock()
	if ended != nil {
		ended(waveID)
	}
}
