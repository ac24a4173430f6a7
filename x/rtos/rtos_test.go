package rtos

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMutexTimeout(t *testing.T) {
	m := NewMutex()
	m.Lock()
	if m.TryLock() {
		t.Fatal("TryLock succeeded on a held mutex")
	}
	start := time.Now()
	if m.LockTimeout(20 * time.Millisecond) {
		t.Fatal("LockTimeout succeeded on a held mutex")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("LockTimeout returned too early")
	}
	m.Unlock()
	if !m.LockTimeout(0) {
		t.Fatal("single attempt on a free mutex failed")
	}
	m.Unlock()
}

func TestMutexLockContext(t *testing.T) {
	m := NewMutex()
	m.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.LockContext(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		m.Unlock()
	}()
	if !m.LockTimeout(Forever) {
		t.Fatal("Forever wait returned false")
	}
	m.Unlock()
}

func TestEventGroupSetClear(t *testing.T) {
	g := NewEventGroup()
	if g.Set(0x1|0x4) != 0x5 {
		t.Fatal("unexpected value after Set")
	}
	if prev := g.Clear(0x1); prev != 0x5 {
		t.Fatalf("Clear should return previous value, got %#x", prev)
	}
	if g.Get() != 0x4 {
		t.Fatalf("got %#x", g.Get())
	}
}

func TestEventGroupWaitTimeout(t *testing.T) {
	g := NewEventGroup()
	bits, err := g.WaitTimeout(0x2, 10*time.Millisecond, WaitOpts{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if bits != 0 {
		t.Fatalf("unexpected bits %#x", bits)
	}
}

func TestEventGroupBroadcast(t *testing.T) {
	g := NewEventGroup()
	const waiters = 5
	var wg sync.WaitGroup
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.WaitTimeout(0x2|0x4, time.Second, WaitOpts{})
			errs <- err
		}()
	}
	time.Sleep(5 * time.Millisecond)
	g.Set(0x2)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("waiter failed: %v", err)
		}
	}
	// Nobody consumed the bit.
	if g.Get()&0x2 == 0 {
		t.Fatal("bit was consumed by a waiter")
	}
}

func TestEventGroupWaitAllAndClearOnExit(t *testing.T) {
	g := NewEventGroup()
	done := make(chan Bits, 1)
	go func() {
		b, _ := g.WaitTimeout(0x3, time.Second, WaitOpts{All: true, ClearOnExit: true})
		done <- b
	}()
	g.Set(0x1)
	select {
	case <-done:
		t.Fatal("wait-all returned with one bit set")
	case <-time.After(10 * time.Millisecond):
	}
	g.Set(0x2)
	select {
	case b := <-done:
		if b&0x3 != 0x3 {
			t.Fatalf("got %#x", b)
		}
	case <-time.After(time.Second):
		t.Fatal("wait-all never returned")
	}
	if g.Get()&0x3 != 0 {
		t.Fatal("ClearOnExit left bits set")
	}
}
