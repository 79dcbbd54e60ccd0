package events

import (
	"context"
	"log"

	"github.com/flowline/backend/internal/store"
)

// Bridge pumps parsed store notifications into the bus. It is the single
// consumer of the Postgres listener's channel.
type Bridge struct {
	bus    *Bus
	events <-chan store.OrgEvent
	relay  *RedisRelay
	logger *log.Logger
}

// NewBridge wires the listener's event channel to the bus. relay may be nil
// when Redis replication is not configured.
func NewBridge(bus *Bus, events <-chan store.OrgEvent, relay *RedisRelay) *Bridge {
	return &Bridge{
		bus:    bus,
		events: events,
		relay:  relay,
		logger: log.New(log.Writer(), "[BRIDGE] ", log.LstdFlags),
	}
}

// Run consumes until the channel closes or ctx is cancelled.
func (br *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-br.events:
			if !ok {
				br.logger.Println("listener channel closed")
				return
			}
			br.bus.Publish(ev.OrgID, ev.Kind)
			if br.relay != nil {
				br.relay.Publish(ctx, ev.OrgID, ev.Kind)
			}
		}
	}
}
