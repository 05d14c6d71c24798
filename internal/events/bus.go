package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/loykin/arkwarden/internal/metrics"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Filter selects the events a subscriber wants. A nil Filter accepts everything.
type Filter func(Event) bool

// Subscription is a live registration on a Bus.
type Subscription struct {
	ID     string
	C      <-chan Event
	ch     chan Event
	filter Filter
	bus    *Bus
	once   sync.Once
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() { s.bus.remove(s.ID) })
}

// Bus fans events out to subscribers. Emit never blocks: when a subscriber's
// queue is full the event is dropped for that subscriber only.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{subs: make(map[string]*Subscription), buffer: buffer}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	ch := make(chan Event, b.buffer)
	s := &Subscription{ID: uuid.NewString(), C: ch, ch: ch, filter: filter, bus: b}
	b.mu.Lock()
	b.subs[s.ID] = s
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetSubscribers(n)
	return s
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(s.ch)
	}
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetSubscribers(n)
}

// Emit implements Emitter.
func (b *Bus) Emit(e Event) {
	e = stamp(e)
	metrics.IncEvent(string(e.Type))
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			metrics.IncEventDropped()
			slog.Debug("dropping event for slow subscriber", "subscriber", s.ID, "type", e.Type)
		}
	}
}

// Close ends every subscription. Subscribers see their channel closed.
func (b *Bus) Close() {
	b.mu.Lock()
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
	b.mu.Unlock()
	metrics.SetSubscribers(0)
}

// Len reports the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// ForInstance returns a Filter accepting events for the given instance plus
// events that carry no instance (diagnostics, maintenance).
func ForInstance(id string) Filter {
	if id == "" {
		return nil
	}
	return func(e Event) bool { return e.InstanceID == "" || e.InstanceID == id }
}

// ForOperation returns a Filter accepting events of one operation.
func ForOperation(op string) Filter {
	return func(e Event) bool { return e.OperationID == op }
}
