package device

import (
	"context"
	"errors"
	"time"
)

// ErrNotReady tells the acquisition cycle to retry Collect after a backoff.
var ErrNotReady = errors.New("not ready")

// Transport is the per-peripheral half of an acquisition cycle. R is the raw
// frame the peripheral produces before processing.
//
// Init, Trigger, Collect and Action are called with the interface mutex held
// and must not retain the bus between calls. Process runs under the instance
// mutex and must not touch the bus.
type Transport[R any] interface {
	Init(ctx context.Context) error
	// Trigger starts a conversion and returns how long to wait before
	// collecting. Zero means the result can be collected immediately.
	Trigger(ctx context.Context) (collectAfter time.Duration, err error)
	Collect(ctx context.Context) (R, error)
	Process(raw R) (Samples, error)
}

// Actor is implemented by transports that accept device-specific actions.
type Actor interface {
	Action(ctx context.Context, id, param int) error
}
