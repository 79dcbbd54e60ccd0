package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const relayChannel = "flowline:events"

// RedisRelay replicates bus events across instances through Redis Pub/Sub.
// It exists for deployments where some instances sit behind a connection
// pooler and cannot hold a LISTEN connection: the instance that observed the
// database notification republishes it, and instances without a listener
// pick it up here. Events carry the origin instance id so an instance never
// re-applies its own publishes.
type RedisRelay struct {
	client     *redis.Client
	instanceID string
	bus        *Bus
	logger     *log.Logger
}

type relayEnvelope struct {
	Origin string `json:"origin"`
	OrgID  string `json:"org_id"`
	Kind   string `json:"kind"`
}

// NewRedisRelay connects to Redis. Returns nil when addr is empty so callers
// can wire it unconditionally.
func NewRedisRelay(addr string, bus *Bus) *RedisRelay {
	if addr == "" {
		return nil
	}
	return &RedisRelay{
		client:     redis.NewClient(&redis.Options{Addr: addr}),
		instanceID: uuid.NewString(),
		bus:        bus,
		logger:     log.New(log.Writer(), "[REDIS-RELAY] ", log.LstdFlags),
	}
}

// Publish republishes one event for other instances. Failures are logged and
// dropped; the local bus already delivered.
func (r *RedisRelay) Publish(ctx context.Context, orgID, kind string) {
	payload, err := json.Marshal(relayEnvelope{Origin: r.instanceID, OrgID: orgID, Kind: kind})
	if err != nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.client.Publish(cctx, relayChannel, payload).Err(); err != nil {
		r.logger.Printf("publish failed: %v", err)
	}
}

// Run subscribes and applies remote events to the local bus until ctx is
// cancelled. go-redis reconnects the PubSub internally.
func (r *RedisRelay) Run(ctx context.Context) {
	sub := r.client.Subscribe(ctx, relayChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Printf("bad relay payload: %v", err)
				continue
			}
			if env.Origin == r.instanceID {
				continue
			}
			r.bus.Publish(env.OrgID, env.Kind)
		}
	}
}

// Close releases the Redis connection.
func (r *RedisRelay) Close() error { return r.client.Close() }
