package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/connect6-backend/internal/entity"
	"github.com/rocketscienceinc/connect6-backend/internal/service"
)

var ErrCorruptCounters = errors.New("stored counters are malformed")

const (
	statsKeySuffix    = ":stats"
	sessionsKeySuffix = ":sessions"
	counterLines      = 3
)

// StateRepository parks the aggregate counters and every session in Redis.
// The counters are one text value with one counter per line; the sessions
// are a hash of session id to JSON record.
type StateRepository struct {
	client      *redis.Client
	statsKey    string
	sessionsKey string
}

func NewStateRepository(client *redis.Client, keyPrefix string) *StateRepository {
	return &StateRepository{
		client:      client,
		statsKey:    keyPrefix + statsKeySuffix,
		sessionsKey: keyPrefix + sessionsKeySuffix,
	}
}

// Park replaces the stored counters and sessions in one transaction.
func (that *StateRepository) Park(ctx context.Context, counters service.Counters, sessions map[string]entity.StoredSession) error {
	fields := make(map[string]any, len(sessions))
	for id, session := range sessions {
		sessionJSON, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("could not marshal session %s: %w", id, err)
		}
		fields[id] = sessionJSON
	}

	_, err := that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, that.statsKey, encodeCounters(counters), 0)
		pipe.Del(ctx, that.sessionsKey)
		if len(fields) > 0 {
			pipe.HSet(ctx, that.sessionsKey, fields)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to park state: %w", err)
	}

	return nil
}

// LoadCounters returns zero counters when nothing was parked.
func (that *StateRepository) LoadCounters(ctx context.Context) (service.Counters, error) {
	response, err := that.client.Get(ctx, that.statsKey).Result()

	if errors.Is(err, redis.Nil) {
		return service.Counters{}, nil
	}

	if err != nil {
		return service.Counters{}, fmt.Errorf("failed to get counters: %w", err)
	}

	return decodeCounters(response)
}

func (that *StateRepository) LoadSessions(ctx context.Context) (map[string]entity.StoredSession, error) {
	response, err := that.client.HGetAll(ctx, that.sessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}

	sessions := make(map[string]entity.StoredSession, len(response))
	for id, sessionJSON := range response {
		var session entity.StoredSession
		if err = json.Unmarshal([]byte(sessionJSON), &session); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
		}
		sessions[id] = session
	}

	return sessions, nil
}

func encodeCounters(counters service.Counters) string {
	return fmt.Sprintf("%d\n%d\n%d", counters.Sessions, counters.Connections, counters.MultiplayerSessions)
}

func decodeCounters(text string) (service.Counters, error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) != counterLines {
		return service.Counters{}, fmt.Errorf("%w: %d lines", ErrCorruptCounters, len(lines))
	}

	values := make([]uint64, counterLines)
	for i, line := range lines {
		value, err := strconv.ParseUint(strings.TrimSpace(line), 10, 64)
		if err != nil {
			return service.Counters{}, fmt.Errorf("%w: line %d: %w", ErrCorruptCounters, i+1, err)
		}
		values[i] = value
	}

	return service.Counters{
		Sessions:            values[0],
		Connections:         values[1],
		MultiplayerSessions: values[2],
	}, nil
}
