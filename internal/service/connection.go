package service

import (
	"fmt"
	"sync"

	"github.com/rocketscienceinc/connect6-backend/internal/apperror"
)

// JoinResult describes the membership after a Join.
type JoinResult struct {
	Added bool
	Size  int
}

// ConnectionRegistry tracks which connections belong to which session.
// A connection belongs to at most one session at a time.
type ConnectionRegistry struct {
	mu          sync.Mutex
	stats       *Stats
	members     map[string]map[string]struct{}
	owners      map[string]string
	multiplayer map[string]struct{}
}

func NewConnectionRegistry(stats *Stats) *ConnectionRegistry {
	return &ConnectionRegistry{
		stats:       stats,
		members:     make(map[string]map[string]struct{}),
		owners:      make(map[string]string),
		multiplayer: make(map[string]struct{}),
	}
}

// Open creates the empty membership set of a new session.
func (that *ConnectionRegistry) Open(sessionID string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, exists := that.members[sessionID]; exists {
		return fmt.Errorf("%w: membership for %s already open", apperror.ErrRegistryInconsistent, sessionID)
	}

	that.members[sessionID] = make(map[string]struct{})

	return nil
}

// Join records connID as a member of sessionID unless it is already recorded
// for any session.
func (that *ConnectionRegistry) Join(sessionID, connID string) (JoinResult, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	members, ok := that.members[sessionID]
	if !ok {
		return JoinResult{}, fmt.Errorf("%w: %s", apperror.ErrSessionNotFound, sessionID)
	}

	if _, recorded := that.owners[connID]; recorded {
		return JoinResult{Added: false, Size: len(members)}, nil
	}

	members[connID] = struct{}{}
	that.owners[connID] = sessionID
	that.stats.connectionJoined()

	if _, counted := that.multiplayer[sessionID]; !counted && len(members) == 2 {
		that.multiplayer[sessionID] = struct{}{}
		that.stats.multiplayerReached()
	}

	return JoinResult{Added: true, Size: len(members)}, nil
}

// Leave drops connID from its session. The remaining size is returned with
// the session id; ok is false for unknown connections.
func (that *ConnectionRegistry) Leave(connID string) (string, int, bool) {
	that.mu.Lock()
	defer that.mu.Unlock()

	sessionID, ok := that.owners[connID]
	if !ok {
		return "", 0, false
	}

	delete(that.owners, connID)

	members := that.members[sessionID]
	delete(members, connID)

	return sessionID, len(members), true
}

func (that *ConnectionRegistry) MembershipSize(sessionID string) int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.members[sessionID])
}

// Teardown removes the membership set of sessionID and every reverse entry
// pointing at it. The former members are returned.
func (that *ConnectionRegistry) Teardown(sessionID string) []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	members := that.members[sessionID]
	delete(that.members, sessionID)
	delete(that.multiplayer, sessionID)

	former := make([]string, 0, len(members))
	for connID := range members {
		delete(that.owners, connID)
		former = append(former, connID)
	}

	// entries recorded against the session without a membership set
	for connID, owner := range that.owners {
		if owner == sessionID {
			delete(that.owners, connID)
		}
	}

	return former
}

// SessionOf returns the session connID is recorded for.
func (that *ConnectionRegistry) SessionOf(connID string) (string, bool) {
	that.mu.Lock()
	defer that.mu.Unlock()

	sessionID, ok := that.owners[connID]

	return sessionID, ok
}

// Connections counts the connections recorded for any session.
func (that *ConnectionRegistry) Connections() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.owners)
}

func (that *ConnectionRegistry) Sessions() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.members)
}
