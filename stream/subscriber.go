package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber is one observer of pipeline events. Flow control is
// credit-based: each delivered event costs one credit, and a subscriber
// with no credits left is skipped until the reader grants more. Combined
// with the non-blocking buffered channel this guarantees a slow observer
// can only lose events, never stall the driver.
type Subscriber struct {
	id string
	ch chan *Event

	credits atomic.Int64
	closed  atomic.Bool

	// filter, when set, suppresses events the predicate rejects.
	// Suppressed events cost no credit.
	filter func(*Event) bool

	mu     sync.RWMutex
	topics map[string]struct{}
}

// NewSubscriber creates a subscriber with the given channel buffer and
// initial credit grant.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits grants n more deliveries.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the remaining credit count.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// SetFilter installs an event predicate. Set before the first delivery;
// the broker reads it without synchronization.
func (s *Subscriber) SetFilter(fn func(*Event) bool) { s.filter = fn }

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns the names of all topics this subscriber is on.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		out = append(out, topic)
	}
	return out
}

// send delivers one event, reporting false when it was dropped: the
// subscriber is closed, the filter rejected it, credits ran out, or the
// buffer was full. A drop for buffer or filter reasons refunds or avoids
// the credit cost.
func (s *Subscriber) send(evt *Event) bool {
	if s.closed.Load() {
		return false
	}
	if s.filter != nil && !s.filter(evt) {
		return false
	}

	if s.credits.Add(-1) < 0 {
		s.credits.Add(1)
		return false
	}

	select {
	case s.ch <- evt:
		return true
	default:
		s.credits.Add(1)
		return false
	}
}

// Close shuts the event channel. Idempotent.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
