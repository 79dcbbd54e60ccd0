package store

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/lib/pq"
)

// NotifyChannel is the Postgres channel the schema's triggers notify on.
const NotifyChannel = "notifications_channel"

// OrgEvent is one parsed database notification destined for an org's room.
type OrgEvent struct {
	OrgID string `json:"org_id"`
	Kind  string `json:"kind"`
}

// Listener bridges Postgres LISTEN/NOTIFY into a channel of OrgEvents. It is
// a dedicated task with an unbounded reconnect loop; pq.Listener handles the
// bounded backoff between attempts. While disconnected, notifications are
// missed; subscribers re-fetch on reconnect.
type Listener struct {
	pql    *pq.Listener
	events chan OrgEvent
	logger *log.Logger
}

// NewListener opens a LISTEN connection against the same database URL the
// store uses.
func NewListener(databaseURL string) (*Listener, error) {
	l := &Listener{
		events: make(chan OrgEvent, 256),
		logger: log.New(log.Writer(), "[PG-LISTEN] ", log.LstdFlags),
	}

	l.pql = pq.NewListener(databaseURL, 2*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventConnected:
				l.logger.Printf("connected to %s", NotifyChannel)
			case pq.ListenerEventDisconnected:
				l.logger.Printf("disconnected: %v", err)
			case pq.ListenerEventReconnected:
				l.logger.Printf("reconnected to %s", NotifyChannel)
			case pq.ListenerEventConnectionAttemptFailed:
				l.logger.Printf("reconnect attempt failed: %v", err)
			}
		})

	if err := l.pql.Listen(NotifyChannel); err != nil {
		l.pql.Close()
		return nil, err
	}
	return l, nil
}

// Events returns the channel the bus dispatcher consumes.
func (l *Listener) Events() <-chan OrgEvent { return l.events }

// Run pumps database notifications into the event channel until ctx is
// cancelled. Malformed payloads are logged and dropped; they must never kill
// the listener task.
func (l *Listener) Run(ctx context.Context) {
	defer close(l.events)

	keepalive := time.NewTicker(90 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			l.pql.Close()
			return

		case n, ok := <-l.pql.Notify:
			if !ok {
				return
			}
			if n == nil {
				// nil notification signals a reconnect; subscribers
				// must re-fetch, which the bus advertises.
				continue
			}

			var ev OrgEvent
			if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
				l.logger.Printf("bad payload on %s: %v", n.Channel, err)
				continue
			}
			if ev.OrgID == "" {
				l.logger.Printf("payload missing org_id on %s", n.Channel)
				continue
			}
			if ev.Kind == "" {
				ev.Kind = "notifications:update"
			}

			select {
			case l.events <- ev:
			case <-ctx.Done():
				l.pql.Close()
				return
			}

		case <-keepalive.C:
			// Detect silently dropped connections.
			go func() {
				if err := l.pql.Ping(); err != nil {
					l.logger.Printf("keepalive ping failed: %v", err)
				}
			}()
		}
	}
}
