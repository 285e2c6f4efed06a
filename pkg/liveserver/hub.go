package liveserver

import (
	"context"
	"sync"

	"funding_arb/internal/core"
)

const clientBuffer = 64

// Client is one connected dashboard
type Client struct {
	id     string
	send   chan Message
	mu     sync.Mutex
	closed bool
}

func NewClient(id string) *Client {
	return &Client{
		id:   id,
		send: make(chan Message, clientBuffer),
	}
}

// Send queues a frame without blocking. False means the client is closed or too slow.
func (c *Client) Send(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) GetSendChan() <-chan Message {
	return c.send
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Logger is the subset of core.ILogger the hub and server need
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Hub fans engine frames out to every registered client and remembers the
// latest frame of each replayed type for late joiners.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	latest map[string]Message

	done   chan struct{}
	logger Logger
}

func NewHub(logger Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		latest:     make(map[string]Message),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the hub's main loop; it closes every client on return
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			var backlog []Message
			for _, t := range replayed {
				if msg, ok := h.latest[t]; ok {
					backlog = append(backlog, msg)
				}
			}
			h.mu.Unlock()

			for _, msg := range backlog {
				client.Send(msg)
			}
			if h.logger != nil {
				h.logger.Info("Client registered", "client_id", client.id, "total_clients", total)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Info("Client unregistered", "client_id", client.id, "total_clients", total)
			}

		case message := <-h.broadcast:
			h.mu.Lock()
			for _, t := range replayed {
				if t == message.Type {
					h.latest[t] = message
				}
			}
			clientList := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clientList = append(clientList, client)
			}
			h.mu.Unlock()

			var slow []*Client
			for _, client := range clientList {
				if !client.Send(message) {
					slow = append(slow, client)
				}
			}
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						client.Close()
					}
				}
				h.mu.Unlock()
				if h.logger != nil {
					h.logger.Warn("Dropped slow clients", "count", len(slow))
				}
			}
		}
	}
}

// Register adds a client; after Run has returned the client is closed instead
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

// Broadcast queues a frame for every client, dropping it if the hub is backed up
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		if h.logger != nil {
			h.logger.Warn("Broadcast channel full, dropping message", "type", msg.Type)
		}
	}
}

// Forward relays engine events to clients until ctx ends or events closes
func (h *Hub) Forward(ctx context.Context, events <-chan core.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(FromEvent(ev))
		}
	}
}

// Latest returns the most recent replayed frame of the given type
func (h *Hub) Latest(msgType string) (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg, ok := h.latest[msgType]
	return msg, ok
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
