package server

import (
	"fmt"
	"sync"
)

// Hub indexes live connections by identifier and tracks which connections are
// subscribed to which replicated documents.
type Hub struct {
	mu             sync.RWMutex
	clients        map[string]*Client
	docSubscribers map[string]map[string]*Client
}

// NewHub constructs an empty connection hub.
func NewHub() *Hub {
	return &Hub{
		clients:        make(map[string]*Client),
		docSubscribers: make(map[string]map[string]*Client),
	}
}

// Register adds a live connection to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID()] = client
}

// Unregister removes the connection and all of its document subscriptions.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID())
	for docID, subscribers := range h.docSubscribers {
		delete(subscribers, client.ID())
		if len(subscribers) == 0 {
			delete(h.docSubscribers, docID)
		}
	}
}

// Lookup returns the live connection for an identifier, if any.
func (h *Hub) Lookup(connectionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[connectionID]
	return client, ok
}

// Push delivers an event to one live connection. It satisfies the
// notification dispatcher's pusher contract.
func (h *Hub) Push(connectionID, event string, data interface{}) error {
	client, ok := h.Lookup(connectionID)
	if !ok {
		return fmt.Errorf("connection %s is not live", connectionID)
	}
	return client.SendEvent(event, data)
}

// SubscribeDoc registers the connection as a subscriber of the document.
func (h *Hub) SubscribeDoc(docID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subscribers, ok := h.docSubscribers[docID]
	if !ok {
		subscribers = make(map[string]*Client)
		h.docSubscribers[docID] = subscribers
	}
	subscribers[client.ID()] = client
}

// DocSubscribers returns the document's subscribers, skipping exceptID when
// non-empty.
func (h *Hub) DocSubscribers(docID, exceptID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subscribers := h.docSubscribers[docID]
	out := make([]*Client, 0, len(subscribers))
	for id, client := range subscribers {
		if exceptID != "" && id == exceptID {
			continue
		}
		out = append(out, client)
	}
	return out
}
