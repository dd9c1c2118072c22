package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/commit"
)

// Hub pushes commit events to connected websocket clients. Each client only
// hears about entities its own principal may read.
type Hub struct {
	gate     *auth.Gate
	upgrader websocket.Upgrader
	logger   *zap.Logger

	clients   map[*Client]bool
	clientsMu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan commit.Notification

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub(ctx context.Context, gate *auth.Gate, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		gate: gate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan commit.Notification, 256),
		ctx:        hubCtx,
		cancel:     cancel,
	}
}

// Run is the hub's event loop. It returns once the hub is shut down.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			h.cleanup()
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			h.clientsMu.Unlock()
			h.logger.Debug("client registered",
				zap.String("client_id", client.ID),
				zap.Int("clients", h.ClientCount()))

		case client := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closed.Store(true)
				close(client.send)
			}
			h.clientsMu.Unlock()
			h.logger.Debug("client unregistered",
				zap.String("client_id", client.ID),
				zap.Int("clients", h.ClientCount()))

		case n := <-h.broadcast:
			h.deliver(n)
		}
	}
}

// CommitCompleted implements commit.Listener. Events are queued and sent
// from the hub loop; a full queue drops the event.
func (h *Hub) CommitCompleted(ctx context.Context, n commit.Notification) error {
	select {
	case h.broadcast <- n:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("commit event dropped, broadcast queue full", zap.String("batch_id", n.BatchID))
	}
	return nil
}

// ServeHTTP upgrades an authenticated request to a websocket subscription
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(uuid.NewString(), auth.PrincipalFrom(r.Context()), conn, h)
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects every client and stops the hub loop
func (h *Hub) Shutdown() {
	h.cancel()
	h.wg.Wait()
}

func (h *Hub) deliver(n commit.Notification) {
	h.clientsMu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	for _, c := range clients {
		event := NewEvent(n, readableBy(h.ctx, h.gate, c.principal))
		if event.Empty() {
			continue
		}
		data, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("failed to encode commit event", zap.Error(err))
			return
		}
		c.enqueue(data)
	}
}

func (h *Hub) cleanup() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	h.logger.Info("hub shutting down", zap.Int("clients", len(h.clients)))
	for c := range h.clients {
		c.closed.Store(true)
		c.conn.Close()
	}
	h.clients = make(map[*Client]bool)
}
