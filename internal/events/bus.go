// Package events implements the org-scoped event bus: database notifications
// come in through the store listener, fan out to subscribers joined to
// org:<uuid> rooms, and optionally replicate across instances via Redis.
package events

import (
	"fmt"
	"log"
	"sync"

	"github.com/flowline/backend/internal/metrics"
)

// Event kinds observable by subscribers. Events carry no payload;
// subscribers re-read the relevant collection on receipt.
const (
	KindNotificationsUpdate = "notifications:update"
	KindIntegrationsUpdate  = "integrations:update"
)

// Event is one bus message destined for a room.
type Event struct {
	Kind string `json:"kind"`
}

// RoomName returns the room key for an org.
func RoomName(orgID string) string { return "org:" + orgID }

// Subscriber receives events for one room. Events() never blocks the bus:
// when the queue is full the oldest event is dropped.
type Subscriber struct {
	id   int
	room string
	ch   chan Event
	once sync.Once
}

// Events returns the subscriber's delivery channel. Closed on Unsubscribe.
func (s *Subscriber) Events() <-chan Event { return s.ch }

type room struct {
	mu    sync.Mutex
	name  string
	subs  map[int]*Subscriber
	inbox chan Event
	done  chan struct{}
	bus   *Bus
}

// Bus is the per-tenant fan-out hub. Each room has a single dispatcher
// goroutine, so delivery within a room preserves send order from a single
// publisher; a slow consumer in one room cannot block another room.
type Bus struct {
	mu         sync.RWMutex
	rooms      map[string]*room
	queueDepth int
	nextSubID  int
	metrics    *metrics.Metrics
	logger     *log.Logger
	closed     bool
}

// NewBus creates the bus. queueDepth bounds each subscriber queue; zero
// means the default of 64.
func NewBus(queueDepth int, m *metrics.Metrics) *Bus {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Bus{
		rooms:      make(map[string]*room),
		queueDepth: queueDepth,
		metrics:    m,
		logger:     log.New(log.Writer(), "[BUS] ", log.LstdFlags),
	}
}

// Subscribe joins the caller to an org's room.
func (b *Bus) Subscribe(orgID string) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	name := RoomName(orgID)
	r, ok := b.rooms[name]
	if !ok {
		r = &room{
			name:  name,
			subs:  make(map[int]*Subscriber),
			inbox: make(chan Event, 256),
			done:  make(chan struct{}),
			bus:   b,
		}
		b.rooms[name] = r
		go r.dispatch()
	}

	b.nextSubID++
	sub := &Subscriber{
		id:   b.nextSubID,
		room: name,
		ch:   make(chan Event, b.queueDepth),
	}

	r.mu.Lock()
	r.subs[sub.id] = sub
	r.mu.Unlock()

	if b.metrics != nil {
		b.metrics.BusSubscribers.Inc()
	}
	return sub, nil
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.RLock()
	r, ok := b.rooms[sub.room]
	b.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	_, present := r.subs[sub.id]
	delete(r.subs, sub.id)
	r.mu.Unlock()

	if present {
		sub.once.Do(func() { close(sub.ch) })
		if b.metrics != nil {
			b.metrics.BusSubscribers.Dec()
		}
	}
}

// Publish delivers an event to every subscriber in the org's room. It never
// blocks: if the room dispatcher's inbox is full the event is dropped and
// counted, which protects the upstream store listener.
func (b *Bus) Publish(orgID, kind string) {
	b.mu.RLock()
	r, ok := b.rooms[RoomName(orgID)]
	closed := b.closed
	b.mu.RUnlock()
	if closed || !ok {
		return
	}

	if b.metrics != nil {
		b.metrics.BusEventsTotal.WithLabelValues(kind).Inc()
	}

	select {
	case r.inbox <- Event{Kind: kind}:
	default:
		if b.metrics != nil {
			b.metrics.BusDroppedTotal.Inc()
		}
		b.logger.Printf("room %s inbox full, dropping %s", r.name, kind)
	}
}

// Close tears down all rooms and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	rooms := make([]*room, 0, len(b.rooms))
	for _, r := range b.rooms {
		rooms = append(rooms, r)
	}
	b.rooms = make(map[string]*room)
	b.mu.Unlock()

	for _, r := range rooms {
		close(r.done)
		r.mu.Lock()
		for _, sub := range r.subs {
			sub.once.Do(func() { close(sub.ch) })
		}
		r.subs = make(map[int]*Subscriber)
		r.mu.Unlock()
	}
}

// dispatch is the room's single writer: it drains the inbox and offers each
// event to every subscriber, dropping the oldest queued event for consumers
// that have fallen behind.
func (r *room) dispatch() {
	for {
		select {
		case <-r.done:
			return
		case ev := <-r.inbox:
			r.mu.Lock()
			for _, sub := range r.subs {
				select {
				case sub.ch <- ev:
				default:
					// Drop the oldest, then retry once. The subscriber
					// still observes the newest state hint.
					select {
					case <-sub.ch:
					default:
					}
					select {
					case sub.ch <- ev:
					default:
					}
					if r.bus.metrics != nil {
						r.bus.metrics.BusDroppedTotal.Inc()
					}
				}
			}
			r.mu.Unlock()
		}
	}
}
