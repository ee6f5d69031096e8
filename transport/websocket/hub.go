package websocket

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var errUnknownConnection = errors.New("unknown connection")

// Hub tracks live clients and the named groups they were added to.
type Hub struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger.With("component", "hub"),
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]struct{}),
	}
}

func (that *Hub) register(client *Client) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.clients[client.id] = client
}

// unregister forgets the client and drops it from every group.
func (that *Hub) unregister(connID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.clients, connID)

	for group, members := range that.groups {
		delete(members, connID)
		if len(members) == 0 {
			delete(that.groups, group)
		}
	}
}

// AddToGroup is a no-op for connections that are already gone.
func (that *Hub) AddToGroup(connID, group string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.clients[connID]; !ok {
		return
	}

	members, ok := that.groups[group]
	if !ok {
		members = make(map[string]struct{})
		that.groups[group] = members
	}
	members[connID] = struct{}{}
}

func (that *Hub) RemoveGroup(group string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.groups, group)
}

func (that *Hub) SendToConnection(connID, action string, payload any) error {
	message, err := encodeMessage(action, payload)
	if err != nil {
		return err
	}

	that.mu.RLock()
	client, ok := that.clients[connID]
	that.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", errUnknownConnection, connID)
	}

	if err = client.enqueue(message); err != nil && !errors.Is(err, errClientClosed) {
		return fmt.Errorf("failed to send %s to %s: %w", action, connID, err)
	}

	return nil
}

// SendToGroup queues the message for every member. Members that are
// already closing are skipped; overflowing members are closed and reported.
func (that *Hub) SendToGroup(group, action string, payload any) error {
	message, err := encodeMessage(action, payload)
	if err != nil {
		return err
	}

	that.mu.RLock()
	members := make([]*Client, 0, len(that.groups[group]))
	for connID := range that.groups[group] {
		if client, ok := that.clients[connID]; ok {
			members = append(members, client)
		}
	}
	that.mu.RUnlock()

	var errs []error
	for _, client := range members {
		if err = client.enqueue(message); err != nil && !errors.Is(err, errClientClosed) {
			errs = append(errs, fmt.Errorf("failed to send %s to %s: %w", action, client.id, err))
		}
	}

	return errors.Join(errs...)
}

// GroupSize counts the members of group.
func (that *Hub) GroupSize(group string) int {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return len(that.groups[group])
}

func (that *Hub) Len() int {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return len(that.clients)
}

// CloseAll closes every client; their read pumps then unregister them.
func (that *Hub) CloseAll() {
	that.mu.RLock()
	clients := make([]*Client, 0, len(that.clients))
	for _, client := range that.clients {
		clients = append(clients, client)
	}
	that.mu.RUnlock()

	for _, client := range clients {
		client.close()
	}

	that.logger.Info("closed all clients", "count", len(clients))
}
