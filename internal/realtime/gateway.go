package realtime

import (
	"log"
	"net/http"
	"sync"

	socketio "github.com/googollee/go-socket.io"

	"github.com/flowline/backend/internal/auth"
	"github.com/flowline/backend/internal/events"
)

// SessionAuthenticator resolves a principal from handshake headers. The auth
// service satisfies this.
type SessionAuthenticator interface {
	PrincipalFromHeader(h http.Header) (*auth.Principal, error)
}

// Gateway bridges the event bus to socket.io rooms. Each org has at most one
// forwarder goroutine holding a bus subscription; events are re-emitted into
// the matching socket.io room with the kind as the event name.
type Gateway struct {
	server *socketio.Server
	bus    *events.Bus
	auth   SessionAuthenticator
	logger *log.Logger

	mu         sync.Mutex
	forwarders map[string]*forwarder
}

type forwarder struct {
	sub  *events.Subscriber
	stop chan struct{}
}

// NewGateway creates the socket.io server and registers its handlers.
func NewGateway(bus *events.Bus, authn SessionAuthenticator) *Gateway {
	g := &Gateway{
		server:     socketio.NewServer(nil),
		bus:        bus,
		auth:       authn,
		logger:     log.New(log.Writer(), "[SOCKET] ", log.LstdFlags),
		forwarders: make(map[string]*forwarder),
	}

	g.server.OnConnect("/", func(s socketio.Conn) error {
		p, err := g.auth.PrincipalFromHeader(s.RemoteHeader())
		if err != nil {
			g.logger.Printf("rejected socket %s: %v", s.ID(), err)
			return err
		}
		s.SetContext(p.OrgID)
		room := events.RoomName(p.OrgID)
		g.server.JoinRoom("/", room, s)
		g.ensureForwarder(p.OrgID)
		return nil
	})

	g.server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		orgID, _ := s.Context().(string)
		if orgID == "" {
			return
		}
		room := events.RoomName(orgID)
		g.server.LeaveRoom("/", room, s)
		if g.server.RoomLen("/", room) == 0 {
			g.releaseForwarder(orgID)
		}
	})

	g.server.OnError("/", func(s socketio.Conn, err error) {
		g.logger.Printf("socket error: %v", err)
	})

	return g
}

func (g *Gateway) ensureForwarder(orgID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.forwarders[orgID]; ok {
		return
	}
	sub, err := g.bus.Subscribe(orgID)
	if err != nil {
		g.logger.Printf("subscribe org %s: %v", orgID, err)
		return
	}
	f := &forwarder{sub: sub, stop: make(chan struct{})}
	g.forwarders[orgID] = f
	go g.forward(orgID, f)
}

func (g *Gateway) releaseForwarder(orgID string) {
	g.mu.Lock()
	f, ok := g.forwarders[orgID]
	if ok {
		delete(g.forwarders, orgID)
	}
	g.mu.Unlock()
	if ok {
		close(f.stop)
		g.bus.Unsubscribe(f.sub)
	}
}

func (g *Gateway) forward(orgID string, f *forwarder) {
	room := events.RoomName(orgID)
	for {
		select {
		case <-f.stop:
			return
		case ev, ok := <-f.sub.Events():
			if !ok {
				return
			}
			g.server.BroadcastToRoom("/", room, ev.Kind)
		}
	}
}

// ServeHTTP hands the request to the socket.io engine. Mount at /socket.io/.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.server.ServeHTTP(w, r)
}

// Run drives the socket.io event loop; it blocks until Close.
func (g *Gateway) Run() error {
	return g.server.Serve()
}

// Close stops the engine and tears down every forwarder.
func (g *Gateway) Close() error {
	g.mu.Lock()
	fs := g.forwarders
	g.forwarders = make(map[string]*forwarder)
	g.mu.Unlock()
	for _, f := range fs {
		close(f.stop)
		g.bus.Unsubscribe(f.sub)
	}
	return g.server.Close()
}
