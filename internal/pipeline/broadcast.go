package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/emperorhan/mint-watcher/internal/metrics"
)

// Broadcaster fans a single block stream out to any number of subscribers.
// Each subscriber has its own unbounded FIFO queue, so every subscriber
// sees every block in order and a slow subscriber never blocks the others.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
	logger *slog.Logger
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]*subscription),
		logger: logger.With("component", "broadcaster"),
	}
}

type subscription struct {
	name string

	mu     sync.Mutex
	queue  []uint64
	wake   chan struct{}
	done   chan struct{}
	closed bool

	out chan uint64
}

func newSubscription(name string) *subscription {
	s := &subscription{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan uint64),
	}
	go s.pump()
	return s
}

func (s *subscription) push(block uint64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, block)
	depth := len(s.queue)
	s.mu.Unlock()

	metrics.BroadcastQueueDepth.WithLabelValues(s.name).Set(float64(depth))
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		block := s.queue[0]
		s.queue = s.queue[1:]
		depth := len(s.queue)
		s.mu.Unlock()

		metrics.BroadcastQueueDepth.WithLabelValues(s.name).Set(float64(depth))
		select {
		case s.out <- block:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
	metrics.BroadcastQueueDepth.DeleteLabelValues(s.name)
}

// Subscribe registers name and returns its block channel together with an
// unsubscribe function. The channel is closed after unsubscribe or when the
// broadcaster stops; pending blocks are discarded. Subscribing an existing
// name replaces the previous subscription.
func (b *Broadcaster) Subscribe(name string) (<-chan uint64, func()) {
	s := newSubscription(name)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.close()
		return s.out, func() {}
	}
	if prev, ok := b.subs[name]; ok {
		prev.close()
	}
	b.subs[name] = s
	b.mu.Unlock()

	return s.out, func() { b.unsubscribe(s) }
}

func (b *Broadcaster) unsubscribe(s *subscription) {
	b.mu.Lock()
	if cur, ok := b.subs[s.name]; ok && cur == s {
		delete(b.subs, s.name)
	}
	b.mu.Unlock()
	s.close()
}

// Publish enqueues block for every current subscriber.
func (b *Broadcaster) Publish(block uint64) {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.push(block)
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Run publishes every block from source until source closes or ctx is
// done, then closes all subscriptions.
func (b *Broadcaster) Run(ctx context.Context, source <-chan uint64) error {
	defer b.closeAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block, ok := <-source:
			if !ok {
				b.logger.Warn("block source closed")
				return nil
			}
			b.Publish(block)
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}
