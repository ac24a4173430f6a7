package rtos

import (
	"context"
	"sync"
	"time"
)

// Bits is a set of event flags.
type Bits uint32

// EventGroup holds up to 32 independent flags. Waiters are woken by every
// change and re-check their condition, so several waiters can observe the
// same flag without consuming it.
type EventGroup struct {
	mu      sync.Mutex
	bits    Bits
	changed chan struct{} // closed and replaced on every Set
}

func NewEventGroup() *EventGroup {
	return &EventGroup{changed: make(chan struct{})}
}

// Set raises the given bits and wakes all waiters. It returns the new value.
func (g *EventGroup) Set(b Bits) Bits {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bits |= b
	close(g.changed)
	g.changed = make(chan struct{})
	return g.bits
}

// Clear lowers the given bits and returns the value before clearing.
// Clearing never satisfies a wait, so waiters are not woken.
func (g *EventGroup) Clear(b Bits) Bits {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.bits
	g.bits &^= b
	return prev
}

// Get returns the current value.
func (g *EventGroup) Get() Bits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bits
}

// WaitOpts controls the wait condition.
type WaitOpts struct {
	All         bool // every bit in mask must be set (default: any)
	ClearOnExit bool // clear mask bits when the condition is met
}

func satisfied(cur, mask Bits, all bool) bool {
	if all {
		return cur&mask == mask
	}
	return cur&mask != 0
}

// Wait blocks until the mask condition holds or ctx is done. It returns the
// bits observed when the wait ended; on ctx expiry the error is ctx.Err().
func (g *EventGroup) Wait(ctx context.Context, mask Bits, o WaitOpts) (Bits, error) {
	for {
		g.mu.Lock()
		cur := g.bits
		if satisfied(cur, mask, o.All) {
			if o.ClearOnExit {
				g.bits &^= mask
			}
			g.mu.Unlock()
			return cur, nil
		}
		ch := g.changed
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return g.Get(), ctx.Err()
		}
	}
}

// WaitTimeout is Wait bounded by d; Forever waits indefinitely.
func (g *EventGroup) WaitTimeout(mask Bits, d time.Duration, o WaitOpts) (Bits, error) {
	ctx := context.Background()
	if d >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return g.Wait(ctx, mask, o)
}
