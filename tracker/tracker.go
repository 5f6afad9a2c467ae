// Package tracker records at most once per process that a viewer has seen a wave.
package tracker

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"wuyrush.io/wave/common/logging"
	cst "wuyrush.io/wave/constants"
	se "wuyrush.io/wave/errors"
	md "wuyrush.io/wave/models"
)

// Service is the subset of the wave service the tracker talks to
type Service interface {
	RecordView(ctx context.Context, waveID string) error
	ListViewers(ctx context.Context, waveID string) ([]md.Viewer, error)
}

// Marker is notified of every newly marked wave, e.g., the WaveStore
type Marker interface {
	MarkViewed(ids ...string)
}

type pair struct {
	viewerID, waveID string
}

// Tracker marks (viewer, wave) pairs as viewed before asking the service to record the view.
// A marked pair is never un-marked: a failed call is accepted as an undercount rather than
// risking double counting.
type Tracker struct {
	svc    Service
	marker Marker

	mu     sync.Mutex
	marked map[pair]struct{}
}

// New returns a Tracker calling svc. marker may be nil.
func New(svc Service, marker Marker) *Tracker {
	return &Tracker{svc: svc, marker: marker, marked: map[pair]struct{}{}}
}

// RecordView makes exactly one RecordView call to the service for each pair not marked yet and
// none for a marked one. The call is never retried; its failure is logged and returned for
// observability only.
func (t *Tracker) RecordView(ctx context.Context, viewerID, waveID string) error {
	clog := logging.WithFuncName().WithFields(log.Fields{
		cst.LogFieldViewerID: viewerID,
		cst.LogFieldWaveID:   waveID,
	})
	p := pair{viewerID: viewerID, waveID: waveID}
	t.mu.Lock()
	if _, ok := t.marked[p]; ok {
		t.mu.Unlock()
		return nil
	}
	t.marked[p] = struct{}{}
	t.mu.Unlock()
	if t.marker != nil {
		t.marker.MarkViewed(waveID)
	}
	if err := t.svc.RecordView(ctx, waveID); err != nil {
		clog.WithError(err).Warn("failed to record wave view")
		return se.NewTransientNetwork("failed to record view of wave " + waveID).WithCause(err)
	}
	clog.Debug("recorded wave view")
	return nil
}

// Marked tells whether the pair has been marked by this tracker
func (t *Tracker) Marked(viewerID, waveID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.marked[pair{viewerID: viewerID, waveID: waveID}]
	return ok
}

// ListViewers fetches the viewers of a wave, uncached. On failure it returns an empty list along
// with the error.
func (t *Tracker) ListViewers(ctx context.Context, waveID string) ([]md.Viewer, error) {
	vs, err := t.svc.ListViewers(ctx, waveID)
	if err != nil {
		logging.WithFuncName().WithError(err).WithField(cst.LogFieldWaveID, waveID).Warn("failed to list wave viewers")
		return []md.Viewer{}, se.NewTransientNetwork("failed to list viewers of wave " + waveID).WithCause(err)
	}
	if vs == nil {
		vs = []md.Viewer{}
	}
	return vs, nil
}
