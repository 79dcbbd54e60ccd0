// Package realtime pushes event-bus updates to connected clients over two
// transports: a plain WebSocket endpoint and a socket.io gateway for
// browsers using the socket.io client.
package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowline/backend/internal/auth"
	"github.com/flowline/backend/internal/events"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	maxMsgSize = 4096
)

// WSHandler serves /ws. Each connection joins its principal's org room and
// streams bus events as JSON frames.
type WSHandler struct {
	bus      *events.Bus
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewWSHandler builds the handler. allowedOrigins restricts the Origin header
// in production; empty means any origin is accepted.
func NewWSHandler(bus *events.Bus, allowedOrigins []string) *WSHandler {
	logger := log.New(log.Writer(), "[WS] ", log.LstdFlags)
	return &WSHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     buildCheckOrigin(allowedOrigins, logger),
		},
		logger: logger,
	}
}

func buildCheckOrigin(allowedOrigins []string, logger *log.Logger) func(*http.Request) bool {
	if len(allowedOrigins) == 0 {
		logger.Println("no allowed origins configured, accepting all websocket origins")
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed[origin] {
			return true
		}
		logger.Printf("rejected websocket origin %q", origin)
		return false
	}
}

// ServeHTTP upgrades the connection. The session middleware runs before this
// handler, so an unauthenticated request never reaches the upgrade.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed: %v", err)
		return
	}

	sub, err := h.bus.Subscribe(principal.OrgID)
	if err != nil {
		conn.Close()
		return
	}

	c := &wsClient{
		handler: h,
		conn:    conn,
		sub:     sub,
		done:    make(chan struct{}),
	}
	h.logger.Printf("client connected org=%s user=%s", principal.OrgID, principal.UserID)

	// writePump owns all writes, readPump owns all reads. Either exiting
	// tears the connection down.
	go c.writePump()
	go c.readPump()
}

type wsClient struct {
	handler *WSHandler
	conn    *websocket.Conn
	sub     *events.Subscriber
	done    chan struct{}
	once    sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.handler.bus.Unsubscribe(c.sub)
		c.conn.Close()
	})
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			frame, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump drains inbound frames. The protocol is server-push only, so
// client frames are discarded; reading still drives pong handling and
// detects disconnects.
func (c *wsClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.handler.logger.Printf("read error: %v", err)
			}
			return
		}
	}
}
