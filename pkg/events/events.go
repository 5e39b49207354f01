package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType names a notification
type EventType string

const (
	EventStatusChanged    EventType = "status.changed"
	EventHandled          EventType = "event.handled"
	EventDeferred         EventType = "event.deferred"
	EventRestarted        EventType = "workload.restarted"
	EventRestartPostponed EventType = "workload.restart-postponed"
	EventLeaderElected    EventType = "leader.elected"
	EventConfigApplied    EventType = "config.applied"
	EventCertInstalled    EventType = "certificate.installed"
)

// Event is one operator notification
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Subscriber receives events. It is closed by Unsubscribe.
type Subscriber chan *Event

const (
	queueSize      = 128
	subscriberSize = 50
)

// Broker fans published events out to subscribers. Delivery is best
// effort: a full subscriber misses events instead of blocking publishers.
type Broker struct {
	mu   sync.RWMutex
	subs map[Subscriber]map[EventType]bool

	queue   chan *Event
	done    chan struct{}
	stop    sync.Once
	dropped atomic.Uint64
}

// NewBroker creates a Broker. Call Start before publishing.
func NewBroker() *Broker {
	return &Broker{
		subs:  make(map[Subscriber]map[EventType]bool),
		queue: make(chan *Event, queueSize),
		done:  make(chan struct{}),
	}
}

// Start runs the fan-out loop
func (b *Broker) Start() {
	go func() {
		for {
			select {
			case e := <-b.queue:
				b.deliver(e)
			case <-b.done:
				return
			}
		}
	}()
}

// Stop ends the fan-out loop. Later publishes are discarded.
func (b *Broker) Stop() {
	b.stop.Do(func() { close(b.done) })
}

// Subscribe registers a subscriber for the given types, or for every
// type when none are given
func (b *Broker) Subscribe(types ...EventType) Subscriber {
	var filter map[EventType]bool
	if len(types) > 0 {
		filter = make(map[EventType]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}

	sub := make(Subscriber, subscriberSize)
	b.mu.Lock()
	b.subs[sub] = filter
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes sub. It is a no-op for unknown subscribers.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub)
	}
}

// Publish queues e, filling in its ID and timestamp. A nil broker drops it.
func (b *Broker) Publish(e *Event) {
	if b == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	select {
	case b.queue <- e:
	case <-b.done:
	}
}

// Notify publishes an event built from a message and key/value pairs. A
// trailing key without value is ignored.
func (b *Broker) Notify(t EventType, message string, kv ...string) {
	if b == nil {
		return
	}
	var meta map[string]string
	if len(kv) >= 2 {
		meta = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			meta[kv[i]] = kv[i+1]
		}
	}
	b.Publish(&Event{Type: t, Message: message, Metadata: meta})
}

func (b *Broker) deliver(e *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, filter := range b.subs {
		if filter != nil && !filter[e.Type] {
			continue
		}
		select {
		case sub <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}
