// Package timex holds small time helpers shared by devices and services.
package timex

import "time"

// ResetTimer stops t, drains a pending fire and re-arms it for d.
// Negative durations are coerced to zero.
func ResetTimer(t *time.Timer, d time.Duration) {
	if d < 0 {
		d = 0
	}
	if !t.Stop() {
		DrainTimer(t)
	}
	t.Reset(d)
}

// DrainTimer discards a pending fire without blocking.
func DrainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

// SleepContext waits for d or until done is closed, whichever comes first.
// It reports false when done won.
func SleepContext(done <-chan struct{}, t *time.Timer, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-done:
			return false
		default:
			return true
		}
	}
	ResetTimer(t, d)
	select {
	case <-done:
		return false
	case <-t.C:
		return true
	}
}
