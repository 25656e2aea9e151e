// Package events is the in-process event bus integrations emit notifications on.
package events

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/internal/metrics"
)

// DefaultQueueSize is the number of undelivered events buffered before Emit starts dropping.
const DefaultQueueSize = 256

// Event is one emitted notification, e.g. "telegram.message_sent".
type Event struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Seq       int64          `json:"seq"`
}

// Emitter is the narrow interface integrations depend on.
type Emitter interface {
	Emit(name string, data map[string]any)
}

// HandlerFunc receives delivered events.
type HandlerFunc func(Event)

type subscription struct {
	id      uint64
	pattern string
	fn      HandlerFunc
}

// Bus delivers events asynchronously, in emission order, to subscribers whose
// pattern matches. Emit never blocks the caller.
type Bus struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	closed bool

	seq   uint64
	queue chan Event
	done  chan struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithMetrics counts emitted events on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// WithQueueSize sets the delivery buffer size.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan Event, n)
		}
	}
}

// NewBus creates a bus and starts its delivery goroutine. Call Close to stop it.
func NewBus(logger zerolog.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger: logger.With().Str("component", "events").Logger(),
		queue:  make(chan Event, DefaultQueueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

// Emit publishes an event. It is fire-and-forget: delivery happens on the bus
// goroutine and a full queue drops the event with a warning.
func (b *Bus) Emit(name string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	evt := Event{
		ID:        uuid.New().String(),
		Name:      name,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Seq:       int64(atomic.AddUint64(&b.seq, 1)),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Debug().Str("event", name).Msg("Event bus closed, dropping event")
		return
	}

	select {
	case b.queue <- evt:
		b.metrics.ObserveEvent(name)
	default:
		b.logger.Warn().Str("event", name).Msg("Event queue full, dropping event")
	}
}

// Subscribe registers fn for events matching pattern and returns a function
// that removes the subscription. Patterns are exact names, "*" for everything,
// or a prefix ending in "*" such as "telegram.*".
func (b *Bus) Subscribe(pattern string, fn HandlerFunc) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Close stops accepting events, delivers what is queued and waits for the
// delivery goroutine to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	<-b.done
}

func (b *Bus) run() {
	defer close(b.done)
	for evt := range b.queue {
		b.deliver(evt)
	}
}

func (b *Bus) deliver(evt Event) {
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if Match(s.pattern, evt.Name) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.invoke(s, evt)
	}
}

func (b *Bus) invoke(s subscription, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error().
				Interface("panic", rec).
				Str("event", evt.Name).
				Str("pattern", s.pattern).
				Msg("Event subscriber panicked")
		}
	}()
	s.fn(evt)
}

// Match reports whether name matches pattern.
func Match(pattern, name string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == name
	}
}
