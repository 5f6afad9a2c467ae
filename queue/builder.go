// Package queue groups waves into per-author, time-ordered sequences of active waves.
package queue

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"wuyrush.io/wave/common/clock"
	"wuyrush.io/wave/common/logging"
	cst "wuyrush.io/wave/constants"
	md "wuyrush.io/wave/models"
	"wuyrush.io/wave/state"
)

// Queue is the ordered sequence of an author's currently active waves
type Queue struct {
	AuthorID string
	Waves    []md.Wave
}

// FirstUnseen returns the index of the first wave not marked viewed, or 0 when all are seen.
func (q Queue) FirstUnseen(viewed func(waveID string) bool) int {
	for i, w := range q.Waves {
		if !viewed(w.ID) {
			return i
		}
	}
	return 0
}

// Unseen tells whether the queue holds at least one wave not marked viewed
func (q Queue) Unseen(viewed func(waveID string) bool) bool {
	for _, w := range q.Waves {
		if !viewed(w.ID) {
			return true
		}
	}
	return false
}

// latest returns the creation time of the most recent wave of the queue
func (q Queue) latest() time.Time {
	return q.Waves[len(q.Waves)-1].CreatedAt
}

// Build groups waves by author, keeping only waves active at now, in ascending creation order.
// Waves sharing an id are kept once. Authors without any active wave are omitted.
func Build(waves []md.Wave, now time.Time) map[string][]md.Wave {
	seen := make(map[string]struct{}, len(waves))
	byAuthor := map[string][]md.Wave{}
	for _, w := range waves {
		if !w.Active(now) {
			continue
		}
		if _, ok := seen[w.ID]; ok {
			continue
		}
		seen[w.ID] = struct{}{}
		byAuthor[w.AuthorID] = append(byAuthor[w.AuthorID], w)
	}
	for _, ws := range byAuthor {
		sort.SliceStable(ws, func(i, j int) bool {
			if ws[i].CreatedAt.Equal(ws[j].CreatedAt) {
				return ws[i].ID < ws[j].ID
			}
			return ws[i].CreatedAt.Before(ws[j].CreatedAt)
		})
	}
	return byAuthor
}

// Order lays out queues for presentation: the owner's own queue first, then authors with unseen
// waves, then fully seen authors. Within a group the most recently active author goes first.
func Order(byAuthor map[string][]md.Wave, ownerID string, viewed func(waveID string) bool) []Queue {
	qs := make([]Queue, 0, len(byAuthor))
	for author, ws := range byAuthor {
		if len(ws) == 0 {
			continue
		}
		qs = append(qs, Queue{AuthorID: author, Waves: ws})
	}
	rank := func(q Queue) int {
		switch {
		case q.AuthorID == ownerID:
			return 0
		case q.Unseen(viewed):
			return 1
		default:
			return 2
		}
	}
	sort.Slice(qs, func(i, j int) bool {
		ri, rj := rank(qs[i]), rank(qs[j])
		if ri != rj {
			return ri < rj
		}
		li, lj := qs[i].latest(), qs[j].latest()
		if !li.Equal(lj) {
			return li.After(lj)
		}
		return qs[i].AuthorID < qs[j].AuthorID
	})
	return qs
}

// Builder keeps ordered queues in sync with a WaveStore. Every store change triggers a rebuild,
// and a rebuild also happens lazily once the earliest expiry of the current result has passed.
type Builder struct {
	store   *state.WaveStore
	clock   clock.Clock
	ownerID string

	mu          sync.Mutex
	queues      []Queue
	validUntil  time.Time
	version     uint64
	built       bool
	unsubscribe func()
	listeners   []func([]Queue)
}

func NewBuilder(s *state.WaveStore, c clock.Clock, ownerID string) *Builder {
	b := &Builder{store: s, clock: c, ownerID: ownerID}
	b.unsubscribe = s.Subscribe(func(state.Change) {
		qs := b.rebuild()
		b.mu.Lock()
		ls := append([]func([]Queue){}, b.listeners...)
		b.mu.Unlock()
		for _, l := range ls {
			l(qs)
		}
	})
	return b
}

// OnRebuild registers fn to receive the queues rebuilt after each store change
func (b *Builder) OnRebuild(fn func([]Queue)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Queues returns the current presentation-ordered queues; none of them holds an expired wave.
func (b *Builder) Queues() []Queue {
	b.mu.Lock()
	fresh := b.built && b.version == b.store.Version() && b.clock.Now().Before(b.validUntil)
	qs := b.queues
	b.mu.Unlock()
	if fresh {
		return qs
	}
	return b.rebuild()
}

// Queue returns the queue of given author. ok is false if the author has no active wave.
func (b *Builder) Queue(authorID string) (Queue, bool) {
	for _, q := range b.Queues() {
		if q.AuthorID == authorID {
			return q, true
		}
	}
	return Queue{}, false
}

func (b *Builder) rebuild() []Queue {
	clog := logging.WithFuncName().WithField(cst.LogFieldViewerID, b.ownerID)
	version := b.store.Version()
	now := b.clock.Now()
	qs := Order(Build(b.store.All(), now), b.ownerID, b.store.Viewed)
	validUntil := farFuture
	for _, q := range qs {
		for _, w := range q.Waves {
			if w.ExpiresAt.Before(validUntil) {
				validUntil = w.ExpiresAt
			}
		}
	}
	b.mu.Lock()
	b.queues, b.validUntil, b.version, b.built = qs, validUntil, version, true
	b.mu.Unlock()
	clog.WithFields(log.Fields{"queueCount": len(qs), "storeVersion": version}).Debug("rebuilt wave queues")
	return qs
}

func (b *Builder) Close() {
	b.unsubscribe()
}

var farFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
