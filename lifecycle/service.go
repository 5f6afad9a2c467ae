// Package lifecycle vends the client side view of the wave service: creation, listing, deletion,
// view recording, reactions and viewer listing of waves.
package lifecycle

import (
	"context"

	md "wuyrush.io/wave/models"
)

// Service is the wave service as seen by a signed-in user. The caller identity is carried by the
// implementation, e.g., as a session cookie, so no method takes a user id.
//
// Errors returned are *errors.Err values; failures to reach the service carry
// ErrCodeTransientNetwork.
type Service interface {
	Create(ctx context.Context, d *md.Draft) (md.Wave, error)
	ListMine(ctx context.Context) ([]md.Wave, error)
	ListAllies(ctx context.Context) ([]md.Wave, error)
	Delete(ctx context.Context, waveID string) error
	RecordView(ctx context.Context, waveID string) error
	React(ctx context.Context, waveID string) error
	ListViewers(ctx context.Context, waveID string) ([]md.Viewer, error)
}
