package offboard

import (
	"context"
	"errors"

	"offnav/internal/geometry/vector"
)

// ErrRPCTimeout is returned by Link implementations when a remote call
// gets no answer before its context expires.
var ErrRPCTimeout = errors.New("RPC call timed out")

// Link is the outbound side of the flight controller connection.
// PublishSetpoint is fire-and-forget; the transport may drop it. SetMode
// and SetArmed block until the controller answers or ctx is done; a false
// result or a non-nil error both mean the request did not take effect.
type Link interface {
	PublishSetpoint(p vector.Vec3)
	SetMode(ctx context.Context, mode string) (bool, error)
	SetArmed(ctx context.Context, arm bool) (bool, error)
}
