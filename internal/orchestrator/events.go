package orchestrator

import (
	"sync"
	"time"

	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap"
)

// Bus is an observer registry for run events. Every subscription owns an
// unbounded FIFO queue drained by its own goroutine, so Publish never blocks
// on a slow observer and each observer sees events in publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	logger *zap.Logger
}

// NewBus creates an empty event bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscription delivers events on C until it is unsubscribed
type Subscription struct {
	C <-chan core.Event

	out    chan core.Event
	mu     sync.Mutex
	queue  []core.Event
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Subscribe registers a new observer. buffer sizes the delivery channel.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	out := make(chan core.Event, buffer)
	sub := &Subscription{
		C:      out,
		out:    out,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.pump()
	return sub
}

// Unsubscribe stops delivery and closes the subscription channel. Queued
// events that were not yet delivered are dropped.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	sub.stop()
}

// Publish queues the event for every current subscriber
func (b *Bus) Publish(event core.Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		sub.push(event)
	}
	b.logger.Debug("Published event",
		zap.String("kind", string(event.Kind)),
		zap.Int("subscribers", len(b.subs)))
}

// Close unsubscribes every observer
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
}

func (s *Subscription) push(event core.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		event := s.queue[0]
		s.queue[0] = core.Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- event:
		case <-s.done:
			return
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(core.Event) {}
