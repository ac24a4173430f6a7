package device

import (
	"context"
	"sync"
	"time"
)

// fakeTransport is a scripted peripheral.
type fakeTransport struct {
	mu sync.Mutex

	after    time.Duration
	notReady int // ErrNotReady answers before a frame is returned

	initErr    error
	triggerErr error
	collectErr error
	processErr error

	frame   Samples
	inits   int
	actions [][2]int
}

func (f *fakeTransport) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.initErr
}

func (f *fakeTransport) Trigger(ctx context.Context) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.after, f.triggerErr
}

func (f *fakeTransport) Collect(ctx context.Context) (Samples, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collectErr != nil {
		return nil, f.collectErr
	}
	if f.notReady > 0 {
		f.notReady--
		return nil, ErrNotReady
	}
	return f.frame.Clone(), nil
}

func (f *fakeTransport) Process(raw Samples) (Samples, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processErr != nil {
		return nil, f.processErr
	}
	return raw, nil
}

// actorTransport adds Action support.
type actorTransport struct{ *fakeTransport }

func (a actorTransport) Action(ctx context.Context, id, param int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, [2]int{id, param})
	return nil
}

// recorder collects notifications.
type recorder struct {
	mu  sync.Mutex
	got []EventNotification
}

func (r *recorder) cb(n EventNotification) {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
}

func (r *recorder) events() []EventNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventNotification(nil), r.got...)
}
