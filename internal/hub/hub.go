package hub

import (
	"encoding/json"
	"sync"

	"github.com/weiawesome/wes-io-live/internal/config"
	"github.com/weiawesome/wes-io-live/pkg/log"
)

// Hub owns the live connections of this instance. Room membership lives in
// the membership index; the hub only maps ids to clients.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	config  config.WebSocketConfig
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		config:  cfg,
	}
}

func (h *Hub) Config() config.WebSocketConfig {
	return h.config
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	n := len(h.clients)
	h.mu.Unlock()
	l := log.L()
	l.Debug().Str(log.FieldConnID, client.ID).Int("clients", n).Msg("client registered")
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[client.ID]; ok && cur == client {
		delete(h.clients, client.ID)
	}
	h.mu.Unlock()
	client.Close()
	l := log.L()
	l.Debug().Str(log.FieldConnID, client.ID).Msg("client unregistered")
}

func (h *Hub) Get(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast encodes message once and queues it to each listed connection
// except exclude. It returns the number of connections that received it.
func (h *Hub) Broadcast(connIDs []string, message interface{}, exclude string) (int, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return 0, err
	}
	return h.BroadcastRaw(connIDs, data, exclude), nil
}

// BroadcastRaw queues data to each listed connection except exclude.
func (h *Hub) BroadcastRaw(connIDs []string, data []byte, exclude string) int {
	targets := make([]*Client, 0, len(connIDs))
	h.mu.RLock()
	for _, id := range connIDs {
		if id == exclude {
			continue
		}
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.SendRaw(data) {
			sent++
		}
	}
	return sent
}

// CloseAll closes every client, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}
}
