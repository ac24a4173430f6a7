package device

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Stats counts notification traffic for one instance.
type Stats struct {
	Queued    uint64 // notifications accepted by the queue
	Dropped   uint64 // notifications refused because the queue was full
	Delivered uint64 // callback invocations that returned normally
	Panics    uint64 // callback invocations that panicked
}

type dispatch struct {
	n   EventNotification
	cbs []Callback // observer snapshot taken at trigger time
}

// notifier decouples triggering code from observers: post never blocks, and a
// single goroutine delivers in queue order.
type notifier struct {
	q    chan dispatch
	done chan struct{}
	log  *zap.Logger

	mu      sync.Mutex
	closed  bool
	pending int
	idle    chan struct{} // closed while pending == 0

	queued, dropped, delivered, panics atomic.Uint64
	closeOnce                          sync.Once
}

func newNotifier(queueLen int, log *zap.Logger) *notifier {
	idle := make(chan struct{})
	close(idle)
	n := &notifier{
		q:    make(chan dispatch, queueLen),
		done: make(chan struct{}),
		log:  log,
		idle: idle,
	}
	go n.run()
	return n
}

// post enqueues d; false means the queue was full (or closed) and d was
// dropped.
func (n *notifier) post(d dispatch) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		n.dropped.Add(1)
		return false
	}
	select {
	case n.q <- d:
		if n.pending == 0 {
			n.idle = make(chan struct{})
		}
		n.pending++
		n.queued.Add(1)
		return true
	default:
		n.dropped.Add(1)
		return false
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for d := range n.q {
		for _, cb := range d.cbs {
			n.call(cb, d.n)
		}
		n.mu.Lock()
		n.pending--
		if n.pending == 0 {
			close(n.idle)
		}
		n.mu.Unlock()
	}
}

func (n *notifier) call(cb Callback, ev EventNotification) {
	defer func() {
		if r := recover(); r != nil {
			n.panics.Add(1)
			n.log.Warn("observer panicked",
				zap.Stringer("event", ev.Type),
				zap.Any("panic", r))
		}
	}()
	cb(ev)
	n.delivered.Add(1)
}

// flush waits until every queued notification has been delivered.
func (n *notifier) flush(timeout time.Duration) bool {
	n.mu.Lock()
	idle := n.idle
	n.mu.Unlock()
	if timeout < 0 {
		<-idle
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-idle:
		return true
	case <-t.C:
		return false
	}
}

// close stops accepting work, delivers what is queued and waits for the
// worker to exit.
func (n *notifier) close() {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.q)
		n.mu.Unlock()
	})
	<-n.done
}

func (n *notifier) stats() Stats {
	return Stats{
		Queued:    n.queued.Load(),
		Dropped:   n.dropped.Load(),
		Delivered: n.delivered.Load(),
		Panics:    n.panics.Load(),
	}
}
