// Package rtos provides the synchronisation resources a device instance owns:
// a mutex that can be taken with a bounded wait, and a multi-bit event group
// with broadcast (non-consuming) waits.
package rtos

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Forever is the indefinite timeout sentinel for bounded waits.
const Forever time.Duration = -1

// Mutex is a binary semaphore usable as a sync.Locker that also supports a
// bounded acquisition. The zero value is not usable; call NewMutex.
type Mutex struct {
	sem *semaphore.Weighted
}

func NewMutex() *Mutex {
	return &Mutex{sem: semaphore.NewWeighted(1)}
}

// Lock blocks until the mutex is held.
func (m *Mutex) Lock() { _ = m.sem.Acquire(context.Background(), 1) }

// Unlock releases the mutex. Unlocking an unheld mutex panics.
func (m *Mutex) Unlock() { m.sem.Release(1) }

// TryLock takes the mutex only if it is free.
func (m *Mutex) TryLock() bool { return m.sem.TryAcquire(1) }

// LockTimeout waits at most d for the mutex. Forever (or any negative d)
// waits indefinitely; zero is a single attempt.
func (m *Mutex) LockTimeout(d time.Duration) bool {
	switch {
	case d < 0:
		m.Lock()
		return true
	case d == 0:
		return m.TryLock()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return m.sem.Acquire(ctx, 1) == nil
}

// LockContext waits for the mutex until ctx is done.
func (m *Mutex) LockContext(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}
