// Package ws pushes new-message descriptors to connected clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pliu/securedm/internal/models"
	"go.uber.org/zap"
)

var ErrHubStopped = errors.New("ws: hub stopped")

// Hub owns the set of live clients. All mutation happens on the Run
// goroutine.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Encoded events waiting to be fanned out.
	broadcast chan []byte

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	done chan struct{}
	log  *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run dispatches until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Slow consumer; it reconnects and re-fetches.
					h.log.Info("dropping slow websocket client", zap.Int64("user_id", client.userID))
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues an already encoded event for every client.
func (h *Hub) Broadcast(ctx context.Context, msg []byte) error {
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish delivers event to this process's clients only.
func (h *Hub) Publish(ctx context.Context, event models.NewMessageEvent) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return h.Broadcast(ctx, msg)
}
