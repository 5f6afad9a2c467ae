// Package state vends WaveStore, the client side container of own waves, allies' waves and the
// ids of waves the viewer has already seen.
package state

import (
	"sync"

	md "wuyrush.io/wave/models"
)

type ChangeKind int

const (
	ChangeOwn ChangeKind = iota
	ChangeAllies
	ChangeViewed
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeOwn:
		return "own"
	case ChangeAllies:
		return "allies"
	case ChangeViewed:
		return "viewed"
	default:
		return "unknown"
	}
}

// Change describes a single store mutation
type Change struct {
	Kind    ChangeKind
	Version uint64
	// NewlyViewed holds the ids added to the viewed set by a ChangeViewed mutation
	NewlyViewed []string
}

// WaveStore is a pure state container. Every mutation replaces the affected slice or set
// wholesale, so values handed out by accessors are never modified afterwards.
//
// WaveStore is meant to be injected into its consumers; there is no package-level instance.
type WaveStore struct {
	mu      sync.RWMutex
	own     []md.Wave
	allies  []md.Wave
	viewed  map[string]struct{}
	version uint64

	subMu  sync.Mutex
	subSeq int
	subs   map[int]func(Change)
}

func NewWaveStore() *WaveStore {
	return &WaveStore{
		viewed: map[string]struct{}{},
		subs:   map[int]func(Change){},
	}
}

// Subscribe registers fn to be called after every mutation. fn runs on the mutating goroutine
// once the store lock is released, so it may read the store freely.
func (s *WaveStore) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subSeq++
	id := s.subSeq
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *WaveStore) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (s *WaveStore) SetOwn(ws []md.Wave) {
	s.mu.Lock()
	s.own = cloneWaves(ws)
	s.version++
	c := Change{Kind: ChangeOwn, Version: s.version}
	s.mu.Unlock()
	s.notify(c)
}

// AddOwn appends a freshly created wave to own waves
func (s *WaveStore) AddOwn(w md.Wave) {
	s.mu.Lock()
	own := make([]md.Wave, 0, len(s.own)+1)
	own = append(own, s.own...)
	s.own = append(own, w.Clone())
	s.version++
	c := Change{Kind: ChangeOwn, Version: s.version}
	s.mu.Unlock()
	s.notify(c)
}

// RemoveOwn drops the own wave of given id. It is a no-op when there is no such wave.
func (s *WaveStore) RemoveOwn(waveID string) {
	s.mu.Lock()
	own := make([]md.Wave, 0, len(s.own))
	for _, w := range s.own {
		if w.ID != waveID {
			own = append(own, w)
		}
	}
	if len(own) == len(s.own) {
		s.mu.Unlock()
		return
	}
	s.own = own
	s.version++
	c := Change{Kind: ChangeOwn, Version: s.version}
	s.mu.Unlock()
	s.notify(c)
}

func (s *WaveStore) SetAllies(ws []md.Wave) {
	s.mu.Lock()
	s.allies = cloneWaves(ws)
	s.version++
	c := Change{Kind: ChangeAllies, Version: s.version}
	s.mu.Unlock()
	s.notify(c)
}

// MarkViewed adds ids to the viewed set. Ids are never removed from the set.
func (s *WaveStore) MarkViewed(ids ...string) {
	s.merge(ids)
}

// Hydrate merges ids loaded from durable storage into the viewed set by union.
func (s *WaveStore) Hydrate(ids []string) {
	s.merge(ids)
}

func (s *WaveStore) merge(ids []string) {
	s.mu.Lock()
	var added []string
	for _, id := range ids {
		if _, ok := s.viewed[id]; !ok {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		s.mu.Unlock()
		return
	}
	viewed := make(map[string]struct{}, len(s.viewed)+len(added))
	for id := range s.viewed {
		viewed[id] = struct{}{}
	}
	for _, id := range added {
		viewed[id] = struct{}{}
	}
	s.viewed = viewed
	s.version++
	c := Change{Kind: ChangeViewed, Version: s.version, NewlyViewed: added}
	s.mu.Unlock()
	s.notify(c)
}

func (s *WaveStore) Own() []md.Wave {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.own
}

func (s *WaveStore) Allies() []md.Wave {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allies
}

// All returns own waves followed by allies' waves
func (s *WaveStore) All() []md.Wave {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]md.Wave, 0, len(s.own)+len(s.allies))
	all = append(all, s.own...)
	return append(all, s.allies...)
}

func (s *WaveStore) Viewed(waveID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.viewed[waveID]
	return ok
}

func (s *WaveStore) ViewedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.viewed))
	for id := range s.viewed {
		ids = append(ids, id)
	}
	return ids
}

// Version increases by one on every effective mutation
func (s *WaveStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func cloneWaves(ws []md.Wave) []md.Wave {
	c := make([]md.Wave, len(ws))
	for i, w := range ws {
		c[i] = w.Clone()
	}
	return c
}
