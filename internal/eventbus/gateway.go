package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/louisbranch/questline/internal/storage"
)

const gatewayWriteTimeout = 5 * time.Second

// Gateway fans delivered triggers out to connected websocket clients.
// Its Broadcast method satisfies Handler, so it can sit directly behind
// the dispatcher.
type Gateway struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool
}

// NewGateway creates an empty gateway.
func NewGateway() *Gateway {
	return &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: map[*websocket.Conn]struct{}{},
	}
}

// ServeHTTP upgrades the request and registers the client until it
// disconnects. Clients only listen; inbound frames are drained and
// dropped.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("level=warn msg=\"websocket upgrade failed\" error=%q", err)
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = conn.Close()
		return
	}
	g.clients[conn] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.clients, conn)
		g.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast writes the message to every connected client. A client that
// cannot be written to is dropped; broadcast itself never fails.
func (g *Gateway) Broadcast(_ context.Context, message storage.OutboxMessage) error {
	frame, err := json.Marshal(struct {
		ID      string          `json:"id"`
		Topic   string          `json:"topic"`
		Payload json.RawMessage `json:"payload"`
	}{message.ID, message.Topic, message.Payload})
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for conn := range g.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(gatewayWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			delete(g.clients, conn)
			_ = conn.Close()
		}
	}
	return nil
}

// Close disconnects every client and refuses new ones.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for conn := range g.clients {
		_ = conn.Close()
		delete(g.clients, conn)
	}
}
