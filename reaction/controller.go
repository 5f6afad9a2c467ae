// Package reaction keeps the optimistic "liked" flags of the waves shown in a viewer session.
package reaction

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"wuyrush.io/wave/common/liveness"
	"wuyrush.io/wave/common/logging"
	cst "wuyrush.io/wave/constants"
	se "wuyrush.io/wave/errors"
	md "wuyrush.io/wave/models"
)

// Service is the subset of the wave service the controller talks to
type Service interface {
	React(ctx context.Context, waveID string) error
}

// Controller flips a wave to liked as soon as the viewer reacts and reverts it only if the
// service call fails. Reactions are monotonic: there is no unreact.
type Controller struct {
	svc      Service
	viewerID string
	session  *liveness.Token

	mu    sync.Mutex
	liked map[string]bool
}

// New returns a Controller for the session guarded by session. Completions of calls still in
// flight when the session dies leave the flags untouched.
func New(svc Service, viewerID string, session *liveness.Token) *Controller {
	return &Controller{svc: svc, viewerID: viewerID, session: session, liked: map[string]bool{}}
}

// Seed initializes the flags from the reactor sets of waves
func (c *Controller) Seed(waves []md.Wave) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range waves {
		if waves[i].ReactedBy(c.viewerID) {
			c.liked[waves[i].ID] = true
		}
	}
}

func (c *Controller) Liked(waveID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liked[waveID]
}

// React likes the wave. A wave already liked, or whose reaction is in flight, makes no call.
// Otherwise exactly one call is made; on failure the flag is rolled back and a non-fatal error
// returned.
func (c *Controller) React(ctx context.Context, waveID string) error {
	clog := logging.WithFuncName().WithFields(log.Fields{
		cst.LogFieldViewerID: c.viewerID,
		cst.LogFieldWaveID:   waveID,
	})
	c.mu.Lock()
	if c.liked[waveID] {
		c.mu.Unlock()
		return nil
	}
	c.liked[waveID] = true
	c.mu.Unlock()

	err := c.svc.React(ctx, waveID)
	if err == nil {
		clog.Debug("reacted to wave")
		return nil
	}
	clog.WithError(err).Warn("failed to react to wave")
	if c.session.Alive() {
		c.mu.Lock()
		delete(c.liked, waveID)
		c.mu.Unlock()
	}
	return se.NewTransientNetwork("failed to react to wave " + waveID).WithCause(err)
}
