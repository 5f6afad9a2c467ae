// Package refresher vends the background worker keeping a WaveStore in sync with the wave service.
package refresher

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"wuyrush.io/wave/common/logging"
	rt "wuyrush.io/wave/common/retry"
	se "wuyrush.io/wave/errors"
	md "wuyrush.io/wave/models"
	"wuyrush.io/wave/state"
)

const DefaultInterval = 5 * time.Minute

// Lister is the subset of the wave service the refresher talks to
type Lister interface {
	ListMine(ctx context.Context) ([]md.Wave, error)
	ListAllies(ctx context.Context) ([]md.Wave, error)
}

// Refresher periodically replaces the own and allies slices of a WaveStore with fresh listings.
// A failed listing leaves the corresponding slice as it was. Viewer sessions are unaffected by
// refreshes since they play a frozen copy of their queue.
type Refresher struct {
	svc      Lister
	store    *state.WaveStore
	interval time.Duration
}

func New(svc Lister, store *state.WaveStore, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Refresher{svc: svc, store: store, interval: interval}
}

// Refresh fetches both listings concurrently and applies each one that succeeded. It returns the
// first failure, if any.
func (r *Refresher) Refresh(ctx context.Context) error {
	clog := logging.WithFuncName()
	var mine, allies []md.Wave
	var mineErr, alliesErr error
	var g errgroup.Group
	g.Go(func() error {
		mine, mineErr = r.svc.ListMine(ctx)
		return mineErr
	})
	g.Go(func() error {
		allies, alliesErr = r.svc.ListAllies(ctx)
		return alliesErr
	})
	err := g.Wait()
	if mineErr == nil {
		r.store.SetOwn(mine)
	} else {
		clog.WithError(mineErr).Warn("error listing own waves, keeping previous ones")
	}
	if alliesErr == nil {
		r.store.SetAllies(allies)
	} else {
		clog.WithError(alliesErr).Warn("error listing allies' waves, keeping previous ones")
	}
	clog.WithFields(log.Fields{"own": len(mine), "allies": len(allies)}).Debug("refreshed waves")
	return err
}

// Load performs the initial refresh, retrying transient failures for up to timeout
func (r *Refresher) Load(ctx context.Context, timeout time.Duration) error {
	return rt.Retry(func() error { return r.Refresh(ctx) },
		rt.WithTimeout(timeout),
		rt.WithBaseDelay(200*time.Millisecond),
		rt.WithExp(2.0),
		rt.WithJitter(0.2),
		rt.WithMaxBackoff(5*time.Second),
		rt.WithRetryOn(func(err error) bool { return se.CodeOf(err) == se.ErrCodeTransientNetwork }),
	)
}

// Run refreshes the store every interval until ctx is done. Failed rounds are logged and the next
// round is awaited.
func (r *Refresher) Run(ctx context.Context) error {
	clog := logging.WithFuncName().WithField("interval", r.interval)
	tkr := time.NewTicker(r.interval)
	defer tkr.Stop()
	clog.Debug("refresher started")
	for {
		select {
		case <-tkr.C:
			if err := r.Refresh(ctx); err != nil {
				clog.WithError(err).Warn("refresh failed")
			}
		case <-ctx.Done():
			clog.Debug("refresher stopped")
			return ctx.Err()
		}
	}
}
