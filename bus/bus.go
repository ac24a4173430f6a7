// Package bus is an in-process publish/subscribe hub with retained messages
// and MQTT-style wildcards ("+" one level, "#" the remainder).
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	wildOne  = "+"
	wildRest = "#"
)

// Topic is a sequence of levels, e.g. {"dev", "env0", "value", "temperature"}.
type Topic []string

// T builds a topic from levels.
func T(levels ...string) Topic { return Topic(levels) }

// ParseTopic splits a slash-separated topic.
func ParseTopic(s string) Topic {
	if s == "" {
		return nil
	}
	return Topic(strings.Split(s, "/"))
}

func (t Topic) String() string { return strings.Join(t, "/") }

// Match reports whether the concrete topic t matches pattern p.
func (t Topic) Match(p Topic) bool {
	for i, lv := range p {
		if lv == wildRest {
			return true
		}
		if i >= len(t) || (lv != wildOne && lv != t[i]) {
			return false
		}
	}
	return len(t) == len(p)
}

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	Time     time.Time
}

// NewMessage stamps a message with the current time.
func NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained, Time: time.Now()}
}

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// node is one level of the subscription trie; wildcard levels are ordinary
// children keyed "+" and "#".
type node struct {
	children map[string]*node
	subs     []*Subscription
}

type Bus struct {
	mu       sync.RWMutex
	root     *node
	retained map[string]*Message
	qLen     int

	dropped atomic.Uint64
}

// NewBus creates a bus with the given per-subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{root: &node{}, retained: map[string]*Message{}, qLen: queueLen}
}

// Dropped counts messages discarded from full subscription queues.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, lv := range sub.topic {
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		child, ok := n.children[lv]
		if !ok {
			child = &node{}
			n.children[lv] = child
		}
		n = child
	}
	n.subs = append(n.subs, sub)

	for _, m := range b.retained {
		if m.Topic.Match(sub.topic) {
			b.deliver(sub, m)
		}
	}
}

// Publish delivers msg to every matching subscription. A retained message
// replaces the stored one for its topic; a retained nil payload clears it.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		key := msg.Topic.String()
		if msg.Payload == nil {
			delete(b.retained, key)
		} else {
			b.retained[key] = msg
		}
	}
	b.walk(b.root, msg.Topic, func(s *Subscription) { b.deliver(s, msg) })
}

func (b *Bus) walk(n *node, rest Topic, fn func(*Subscription)) {
	if c := n.children[wildRest]; c != nil {
		for _, s := range c.subs {
			fn(s)
		}
	}
	if len(rest) == 0 {
		for _, s := range n.subs {
			fn(s)
		}
		return
	}
	if c := n.children[rest[0]]; c != nil {
		b.walk(c, rest[1:], fn)
	}
	if rest[0] != wildOne {
		if c := n.children[wildOne]; c != nil {
			b.walk(c, rest[1:], fn)
		}
	}
}

// deliver drops the oldest queued message when the subscriber lags.
func (b *Bus) deliver(s *Subscription, m *Message) {
	for {
		select {
		case s.ch <- m:
			return
		default:
		}
		select {
		case <-s.ch:
			b.dropped.Add(1)
		default:
		}
	}
}

// Retained returns the stored messages whose topics match pattern.
func (b *Bus) Retained(pattern Topic) []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Message
	for _, m := range b.retained {
		if m.Topic.Match(pattern) {
			out = append(out, m)
		}
	}
	return out
}

func (b *Bus) unsubscribe(sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	stack := make([]*node, 0, len(sub.topic))
	for _, lv := range sub.topic {
		child, ok := n.children[lv]
		if !ok {
			return false
		}
		stack = append(stack, n)
		n = child
	}
	found := false
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			found = true
			break
		}
	}
	for i := len(sub.topic) - 1; i >= 0; i-- {
		parent, key := stack[i], sub.topic[i]
		child := parent.children[key]
		if len(child.subs) > 0 || len(child.children) > 0 {
			break
		}
		delete(parent.children, key)
	}
	return found
}

// Connection groups the subscriptions of one client.
type Connection struct {
	bus *Bus
	id  string

	mu   sync.Mutex
	subs []*Subscription
}

func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: append(Topic(nil), topic...),
		ch:    make(chan *Message, c.bus.qLen),
		conn:  c,
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	c.bus.addSubscription(sub)
	return sub
}

// Unsubscribe removes sub and closes its channel. Repeated calls are no-ops.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	if c.bus.unsubscribe(sub) {
		close(sub.ch)
	}
}

// Disconnect closes every subscription of the connection.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		if c.bus.unsubscribe(sub) {
			close(sub.ch)
		}
	}
}
