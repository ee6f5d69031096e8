package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rocketscienceinc/connect6-backend/internal/apperror"
	"github.com/rocketscienceinc/connect6-backend/internal/entity"
)

const sessionIDLength = 8

type SessionRegistryOption func(*SessionRegistry)

// WithClock replaces time.Now for activity and staleness checks.
func WithClock(clock func() time.Time) SessionRegistryOption {
	return func(that *SessionRegistry) {
		that.clock = clock
	}
}

// WithIDGenerator replaces the truncated UUID generator.
func WithIDGenerator(newID func() string) SessionRegistryOption {
	return func(that *SessionRegistry) {
		that.newID = newID
	}
}

// SessionRegistry exclusively owns every live GameSession.
type SessionRegistry struct {
	mu          sync.RWMutex
	sessions    map[string]*entity.GameSession
	stats       *Stats
	boardSize   int
	idleTimeout time.Duration
	clock       func() time.Time
	newID       func() string
}

func NewSessionRegistry(stats *Stats, boardSize int, idleTimeout time.Duration, opts ...SessionRegistryOption) (*SessionRegistry, error) {
	if err := entity.ValidateBoardSize(boardSize); err != nil {
		return nil, err
	}

	registry := &SessionRegistry{
		sessions:    make(map[string]*entity.GameSession),
		stats:       stats,
		boardSize:   boardSize,
		idleTimeout: idleTimeout,
		clock:       time.Now,
		newID:       newSessionID,
	}

	for _, opt := range opts {
		opt(registry)
	}

	return registry, nil
}

func newSessionID() string {
	return uuid.NewString()[:sessionIDLength]
}

// Memberships follows session creation and eviction.
type Memberships interface {
	Open(sessionID string) error
	Teardown(sessionID string) []string
}

// Create evicts stale sessions, then inserts a fresh one under a collision-free id.
// The evicted ids are returned so the caller can tear down their connections.
func (that *SessionRegistry) Create() (string, []string) {
	id, evicted, _ := that.CreateTracked(nil)

	return id, evicted
}

// CreateTracked is Create with the memberships of evicted ids torn down and
// the new one opened under the registry lock, so no id is handed out again
// while its old memberships still exist. A failed Open rolls the session back.
func (that *SessionRegistry) CreateTracked(members Memberships) (string, []string, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	evicted := that.sweepLocked(that.clock(), that.idleTimeout)
	if members != nil {
		for _, id := range evicted {
			members.Teardown(id)
		}
	}

	id := that.newID()
	for {
		if _, exists := that.sessions[id]; !exists {
			break
		}
		id = that.newID()
	}

	if members != nil {
		if err := members.Open(id); err != nil {
			return "", evicted, fmt.Errorf("failed to open membership for %s: %w", id, err)
		}
	}

	that.sessions[id] = entity.NewGameSession(that.boardSize, that.clock)
	that.stats.sessionCreated()

	return id, evicted, nil
}

func (that *SessionRegistry) Get(id string) (*entity.GameSession, error) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	session, ok := that.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperror.ErrSessionNotFound, id)
	}

	return session, nil
}

// Reset starts a new game on an existing id.
func (that *SessionRegistry) Reset(id string) (*entity.GameSession, error) {
	session, err := that.Get(id)
	if err != nil {
		return nil, err
	}

	session.Reset()

	return session, nil
}

// SweepStale removes every session idle for longer than threshold.
func (that *SessionRegistry) SweepStale(now time.Time, threshold time.Duration) []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.sweepLocked(now, threshold)
}

func (that *SessionRegistry) sweepLocked(now time.Time, threshold time.Duration) []string {
	var evicted []string

	for id, session := range that.sessions {
		if session.IsStale(now, threshold) {
			delete(that.sessions, id)
			evicted = append(evicted, id)
		}
	}

	return evicted
}

// Remove evicts one session explicitly.
func (that *SessionRegistry) Remove(id string) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.sessions[id]; !ok {
		return false
	}

	delete(that.sessions, id)

	return true
}

func (that *SessionRegistry) Len() int {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return len(that.sessions)
}

// Records returns the durable form of every session.
func (that *SessionRegistry) Records() map[string]entity.StoredSession {
	that.mu.RLock()
	defer that.mu.RUnlock()

	records := make(map[string]entity.StoredSession, len(that.sessions))
	for id, session := range that.sessions {
		records[id] = session.Record()
	}

	return records
}

// Restore rebuilds persisted sessions. Sessions already present are kept;
// records that do not replay are skipped and reported in the joined error.
func (that *SessionRegistry) Restore(records map[string]entity.StoredSession) ([]string, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	var errs []error

	restored := make([]string, 0, len(records))
	for id, record := range records {
		if _, exists := that.sessions[id]; exists {
			continue
		}

		if record.Size != that.boardSize {
			errs = append(errs, fmt.Errorf("failed to restore session %s: %w: stored %d, serving %d",
				id, apperror.ErrInvalidBoardSize, record.Size, that.boardSize))
			continue
		}

		session, err := entity.RestoreGameSession(record, that.clock)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to restore session %s: %w", id, err))
			continue
		}

		that.sessions[id] = session
		restored = append(restored, id)
	}

	return restored, errors.Join(errs...)
}
