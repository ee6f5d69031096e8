package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/connect6-backend/internal/apperror"
	"github.com/rocketscienceinc/connect6-backend/internal/entity"
	"github.com/rocketscienceinc/connect6-backend/internal/service"
)

var errRedisDown = errors.New("redis down")

type mockNotifier struct {
	mock.Mock
}

func (that *mockNotifier) AddToGroup(connID, group string) {
	that.Called(connID, group)
}

func (that *mockNotifier) RemoveGroup(group string) {
	that.Called(group)
}

func (that *mockNotifier) SendToConnection(connID, action string, payload any) error {
	return that.Called(connID, action, payload).Error(0)
}

func (that *mockNotifier) SendToGroup(group, action string, payload any) error {
	return that.Called(group, action, payload).Error(0)
}

// sent returns the payloads of every send of action to target.
func (that *mockNotifier) sent(method, target, action string) []any {
	var payloads []any

	for _, call := range that.Calls {
		if call.Method != method || call.Arguments.String(0) != target || call.Arguments.String(1) != action {
			continue
		}
		payloads = append(payloads, call.Arguments.Get(2))
	}

	return payloads
}

type mockParkingRepo struct {
	mock.Mock
}

func (that *mockParkingRepo) Park(ctx context.Context, counters service.Counters, sessions map[string]entity.StoredSession) error {
	return that.Called(ctx, counters, sessions).Error(0)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (that *testClock) Now() time.Time {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.now
}

func (that *testClock) Advance(d time.Duration) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.now = that.now.Add(d)
}

type fixture struct {
	manager     *GameManager
	notifier    *mockNotifier
	sessions    *service.SessionRegistry
	connections *service.ConnectionRegistry
	stats       *service.Stats
	clock       *testClock
}

func newFixture(t *testing.T, registryOpts []service.SessionRegistryOption, opts ...GameManagerOption) *fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	stats := service.NewStats()

	registryOpts = append([]service.SessionRegistryOption{service.WithClock(clock.Now)}, registryOpts...)
	sessions, err := service.NewSessionRegistry(stats, entity.DefaultBoardSize, 30*time.Minute, registryOpts...)
	require.NoError(t, err)

	connections := service.NewConnectionRegistry(stats)

	notifier := &mockNotifier{}
	notifier.On("AddToGroup", mock.Anything, mock.Anything).Maybe()
	notifier.On("RemoveGroup", mock.Anything).Maybe()
	notifier.On("SendToConnection", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	notifier.On("SendToGroup", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	opts = append([]GameManagerOption{WithReportClock(clock.Now)}, opts...)
	manager := NewGameManager(logger, sessions, connections, stats, service.NewAdminLog(0, nil), notifier, opts...)

	return &fixture{
		manager:     manager,
		notifier:    notifier,
		sessions:    sessions,
		connections: connections,
		stats:       stats,
		clock:       clock,
	}
}

// createGame runs CreateNewGame and returns the id sent to the caller.
func (that *fixture) createGame(t *testing.T, connID string) string {
	t.Helper()

	require.NoError(t, that.manager.CreateNewGame(context.Background(), connID))

	payloads := that.notifier.sent("SendToConnection", connID, ActionNewGameIDReceived)
	require.NotEmpty(t, payloads)

	return payloads[len(payloads)-1].(NewGameIDPayload).GameID
}

func (that *fixture) lastBoard(t *testing.T, gameID string) BoardState {
	t.Helper()

	boards := that.notifier.sent("SendToGroup", gameID, ActionCurrentBoard)
	require.NotEmpty(t, boards)

	return boards[len(boards)-1].(BoardState)
}

func TestGameManager_CreateNewGame(t *testing.T) {
	t.Run("Sends the new id to the caller only", func(t *testing.T) {
		// Given: an empty server
		f := newFixture(t, []service.SessionRegistryOption{service.WithIDGenerator(func() string { return "deadbeef" })})

		// When: a connection asks for a new game
		gameID := f.createGame(t, "conn-1")

		// Then: the caller got the id and nothing went to the new group
		assert.Equal(t, "deadbeef", gameID)
		assert.Empty(t, f.notifier.sent("SendToGroup", gameID, ActionCurrentBoard))
		assert.Equal(t, uint64(1), f.stats.Counters().Sessions)
		assert.Equal(t, 0, f.connections.MembershipSize(gameID))
	})

	t.Run("Reports the new game to the admin group", func(t *testing.T) {
		f := newFixture(t, []service.SessionRegistryOption{service.WithIDGenerator(func() string { return "deadbeef" })})

		f.createGame(t, "conn-1")

		logs := f.notifier.sent("SendToGroup", AdminGroup, ActionServerLog)
		require.Len(t, logs, 1)
		expected := "2024-05-01 12:00:00 [1 TS, 0 TU, 0 MUS, 1 CS, 0 CU] deadbeef (0) : " +
			"New game made" + strings.Repeat(" ", 17) + "conn-1"
		assert.Equal(t, []string{expected}, logs[0].(ServerLogPayload).Lines)
	})

	t.Run("Evicts stale sessions and tells their members", func(t *testing.T) {
		// Given: a joined session idle past the threshold
		f := newFixture(t, nil)
		ctx := context.Background()
		stale := f.createGame(t, "conn-1")
		require.NoError(t, f.manager.InitializeBoardAndConnection(ctx, "conn-1", stale))
		f.clock.Advance(31 * time.Minute)

		// When: another game is created
		fresh := f.createGame(t, "conn-2")

		// Then: the stale session is gone everywhere
		assert.NotEqual(t, stale, fresh)
		_, err := f.sessions.Get(stale)
		require.ErrorIs(t, err, apperror.ErrSessionNotFound)
		_, ok := f.connections.SessionOf("conn-1")
		assert.False(t, ok)
		assert.Len(t, f.notifier.sent("SendToGroup", stale, ActionNoGameFound), 1)
		f.notifier.AssertCalled(t, "RemoveGroup", stale)

		// And: a later call on the evicted id is answered to the caller only
		require.NoError(t, f.manager.PlaceStone(ctx, "conn-1", stale, 3, 3))
		assert.Len(t, f.notifier.sent("SendToConnection", "conn-1", ActionNoGameFound), 1)
	})

	t.Run("Duplicate membership is fatal", func(t *testing.T) {
		// Given: a membership set left behind for the next id
		f := newFixture(t, []service.SessionRegistryOption{service.WithIDGenerator(func() string { return "deadbeef" })})
		require.NoError(t, f.connections.Open("deadbeef"))

		// Then: creating the session panics
		assert.Panics(t, func() {
			_ = f.manager.CreateNewGame(context.Background(), "conn-1")
		})
	})
}

func TestGameManager_InitializeBoardAndConnection(t *testing.T) {
	t.Run("Joins the group and pushes board and size", func(t *testing.T) {
		// Given: a new game
		f := newFixture(t, nil)
		gameID := f.createGame(t, "conn-1")

		// When: the creator opens the board
		err := f.manager.InitializeBoardAndConnection(context.Background(), "conn-1", gameID)

		// Then: the group gets an empty board and a size of one
		require.NoError(t, err)
		f.notifier.AssertCalled(t, "AddToGroup", "conn-1", gameID)
		assert.Equal(t, BoardState{
			CurrentTurn:          "b",
			CurrentTurnRemaining: "1",
			BoardString:          entity.NewBoard(entity.DefaultBoardSize).Render(),
			LastPlayX:            "-1",
			LastPlayY:            "-1",
			LastLastPlayX:        "-1",
			LastLastPlayY:        "-1",
			Version:              "0",
		}, f.lastBoard(t, gameID))
		assert.Equal(t, []any{ConnectionSizePayload{Count: 1}}, f.notifier.sent("SendToGroup", gameID, ActionConnectionSize))
	})

	t.Run("Rejoining does not double count", func(t *testing.T) {
		f := newFixture(t, nil)
		ctx := context.Background()
		gameID := f.createGame(t, "conn-1")

		require.NoError(t, f.manager.InitializeBoardAndConnection(ctx, "conn-1", gameID))
		require.NoError(t, f.manager.InitializeBoardAndConnection(ctx, "conn-1", gameID))

		assert.Equal(t, 1, f.connections.MembershipSize(gameID))
		assert.Equal(t, uint64(1), f.stats.Counters().Connections)
		sizes := f.notifier.sent("SendToGroup", gameID, ActionConnectionSize)
		assert.Equal(t, ConnectionSizePayload{Count: 1}, sizes[len(sizes)-1])
	})

	t.Run("Second player makes it multiplayer", func(t *testing.T) {
		f := newFixture(t, nil)
		ctx := context.Background()
		gameID := f.createGame(t, "conn-1")

		require.NoError(t, f.manager.InitializeBoardAndConnection(ctx, "conn-1", gameID))
		require.NoError(t, f.manager.InitializeBoardAndConnection(ctx, "conn-2", gameID))

		assert.Equal(t, uint64(1), f.stats.Counters().MultiplayerSessions)
		sizes := f.notifier.sent("SendToGroup", gameID, ActionConnectionSize)
		assert.Equal(t, ConnectionSizePayload{Count: 2}, sizes[len(sizes)-1])
	})
}

func TestGameManager_MissingSession(t *testing.T) {
	ctx := context.Background()
	calls := map[string]func(*GameManager) error{
		"InitializeBoardAndConnection": func(m *GameManager) error {
			return m.InitializeBoardAndConnection(ctx, "conn-1", "missing")
		},
		"PlaceStone": func(m *GameManager) error { return m.PlaceStone(ctx, "conn-1", "missing", 1, 1) },
		"UndoStone":  func(m *GameManager) error { return m.UndoStone(ctx, "conn-1", "missing") },
		"NewGame":    func(m *GameManager) error { return m.NewGame(ctx, "conn-1", "missing") },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			// Given: no session
			f := newFixture(t, nil)

			// When: calling with an unknown id
			err := call(f.manager)

			// Then: only the caller hears about it
			require.NoError(t, err)
			assert.Equal(t, []any{NoGameFoundPayload{}}, f.notifier.sent("SendToConnection", "conn-1", ActionNoGameFound))
			f.notifier.AssertNotCalled(t, "SendToGroup", "missing", mock.Anything, mock.Anything)
			f.notifier.AssertNotCalled(t, "AddToGroup", "conn-1", "missing")
		})
	}
}

func TestGameManager_PlaceStone(t *testing.T) {
	t.Run("Pushes exactly one board per placement", func(t *testing.T) {
		// Given: a session with one viewer
		f := newFixture(t, nil)
		ctx := context.Background()
		gameID := f.createGame(t, "conn-1")
		require.NoError(t, f.manager.InitializeBoardAndConnection(ctx, "conn-1", gameID))
		before := len(f.notifier.sent("SendToGroup", gameID, ActionCurrentBoard))

		// When: placing the opening stone and the first white stone
		require.NoError(t, f.manager.PlaceStone(ctx, "conn-1", gameID, 9, 9))
		require.NoError(t, f.manager.PlaceStone(ctx, "conn-1", gameID, 3, 4))

		// Then: two boards went out, the last one highlights the white stone only
		boards := f.notifier.sent("SendToGroup", gameID, ActionCurrentBoard)
		assert.Len(t, boards, before+2)
		state := f.lastBoard(t, gameID)
		assert.Equal(t, "w", state.CurrentTurn)
		assert.Equal(t, "1", state.CurrentTurnRemaining)
		assert.Equal(t, "3", state.LastPlayX)
		assert.Equal(t, "4", state.LastPlayY)
		assert.Equal(t, "-1", state.LastLastPlayX)
		assert.Equal(t, "-1", state.LastLastPlayY)
	})

	t.Run("Second stone of a turn highlights both", func(t *testing.T) {
		f := newFixture(t, nil)
		ctx := context.Background()
		gameID := f.createGame(t, "conn-1")

		for _, play := range []entity.Play{{X: 9, Y: 9}, {X: 3, Y: 4}, {X: 5, Y: 6}} {
			require.NoError(t, f.manager.PlaceStone(ctx, "conn-1", gameID, play.X, play.Y))
		}

		state := f.lastBoard(t, gameID)
		assert.Equal(t, "b", state.CurrentTurn)
		assert.Equal(t, "5", state.LastPlayX)
		assert.Equal(t, "6", state.LastPlayY)
		assert.Equal(t, "3", state.LastLastPlayX)
		assert.Equal(t, "4", state.LastLastPlayY)
	})

	t.Run("Occupied cell is ignored but still pushed", func(t *testing.T) {
		// Given: a stone on (9, 9)
		f := newFixture(t, nil)
		ctx := context.Background()
		gameID := f.createGame(t, "conn-1")
		require.NoError(t, f.manager.PlaceStone(ctx, "conn-1", gameID, 9, 9))
		first := f.lastBoard(t, gameID)

		// When: placing there again
		err := f.manager.PlaceStone(ctx, "conn-1", gameID, 9, 9)

		// Then: nothing changed but the board was sent again
		require.NoError(t, err)
		assert.Len(t, f.notifier.sent("SendToGroup", gameID, ActionCurrentBoard), 2)
		assert.Equal(t, first, f.lastBoard(t, gameID))
		session, err := f.sessions.Get(gameID)
		require.NoError(t, err)
		assert.Equal(t, 1, session.Plies())
	})

	t.Run("Reports coordinates with two digits", func(t *testing.T) {
		f := newFixture(t, nil)
		gameID := f.createGame(t, "conn-1")

		require.NoError(t, f.manager.PlaceStone(context.Background(), "conn-1", gameID, 3, 12))

		logs := f.notifier.sent("SendToGroup", AdminGroup, ActionServerLog)
		lines := logs[len(logs)-1].(ServerLogPayload).Lines
		assert.Contains(t, lines[len(lines)-1], ": User placed stone (03, 12)")
	})

	t.Run("Concurrent placements on one cell place one stone", func(t *testing.T) {
		f := newFixture(t, nil)
		gameID := f.createGame(t, "conn-1")
		const workers = 32

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, f.manager.PlaceStone(context.Background(), "conn-1", gameID, 7, 7))
			}()
		}
		wg.Wait()

		session, err := f.sessions.Get(gameID)
		require.NoError(t, err)
		assert.Equal(t, 1, session.Plies())
		assert.Len(t, f.notifier.sent("SendToGroup", gameID, ActionCurrentBoard), workers)
	})

	t.Run("Concurrent boards carry an ordering version", func(t *testing.T) {
		// Given: a game receiving placements on distinct cells at once
		f := newFixture(t, nil)
		gameID := f.createGame(t, "conn-1")
		const workers = 16

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(col int) {
				defer wg.Done()
				assert.NoError(t, f.manager.PlaceStone(context.Background(), "conn-1", gameID, col, 0))
			}(i)
		}
		wg.Wait()

		// When: picking the board with the highest version, whatever the send order
		var newest BoardState
		var newestVersion uint64
		for _, payload := range f.notifier.sent("SendToGroup", gameID, ActionCurrentBoard) {
			state := payload.(BoardState)
			version, err := strconv.ParseUint(state.Version, 10, 64)
			require.NoError(t, err)
			if version >= newestVersion {
				newest, newestVersion = state, version
			}
		}

		// Then: it is the final board with every stone on it
		assert.Equal(t, uint64(workers), newestVersion)
		topRow := strings.Split(newest.BoardString, "\n")[0]
		assert.Equal(t, workers, strings.Count(topRow, "b")+strings.Count(topRow, "w"))
	})
}

func TestGameManager_UndoStone(t *testing.T) {
	t.Run("Takes back the last stone", func(t *testing.T) {
		f := newFixture(t, nil)
		ctx := context.Background()
		gameID := f.createGame(t, "conn-1")
		require.NoError(t, f.manager.PlaceStone(ctx, "conn-1", gameID, 9, 9))

		require.NoError(t, f.manager.UndoStone(ctx, "conn-1", gameID))

		state := f.lastBoard(t, gameID)
		assert.Equal(t, entity.NewBoard(entity.DefaultBoardSize).Render(), state.BoardString)
		assert.Equal(t, "-1", state.LastPlayX)
	})

	t.Run("Empty history still pushes the board", func(t *testing.T) {
		f := newFixture(t, nil)
		gameID := f.createGame(t, "conn-1")

		err := f.manager.UndoStone(context.Background(), "conn-1", gameID)

		require.NoError(t, err)
		assert.Len(t, f.notifier.sent("SendToGroup", gameID, ActionCurrentBoard), 1)
	})
}

func TestGameManager_NewGame(t *testing.T) {
	// Given: a session with stones and a member
	f := newFixture(t, nil)
	ctx := context.Background()
	gameID := f.createGame(t, "conn-1")
	require.NoError(t, f.manager.InitializeBoardAndConnection(ctx, "conn-1", gameID))
	require.NoError(t, f.manager.PlaceStone(ctx, "conn-1", gameID, 9, 9))

	// When: resetting the game
	err := f.manager.NewGame(ctx, "conn-1", gameID)

	// Then: the same id shows an empty board and keeps its members
	require.NoError(t, err)
	state := f.lastBoard(t, gameID)
	assert.Equal(t, "b", state.CurrentTurn)
	assert.Equal(t, entity.NewBoard(entity.DefaultBoardSize).Render(), state.BoardString)
	assert.Equal(t, 1, f.connections.MembershipSize(gameID))
	assert.Equal(t, uint64(1), f.stats.Counters().Sessions)
}

func TestGameManager_Disconnect(t *testing.T) {
	t.Run("Tells the remaining members", func(t *testing.T) {
		// Given: two members
		f := newFixture(t, nil)
		ctx := context.Background()
		gameID := f.createGame(t, "conn-1")
		require.NoError(t, f.manager.InitializeBoardAndConnection(ctx, "conn-1", gameID))
		require.NoError(t, f.manager.InitializeBoardAndConnection(ctx, "conn-2", gameID))

		// When: one of them goes away
		f.manager.Disconnect(ctx, "conn-2")

		// Then: the group hears the new size
		sizes := f.notifier.sent("SendToGroup", gameID, ActionConnectionSize)
		assert.Equal(t, ConnectionSizePayload{Count: 1}, sizes[len(sizes)-1])
		_, ok := f.connections.SessionOf("conn-2")
		assert.False(t, ok)
	})

	t.Run("Unknown connection is ignored", func(t *testing.T) {
		f := newFixture(t, nil)

		f.manager.Disconnect(context.Background(), "ghost")

		assert.Empty(t, f.notifier.Calls)
	})
}

func TestGameManager_RegisterAdminConnection(t *testing.T) {
	// Given: a server with some history
	f := newFixture(t, nil)
	ctx := context.Background()
	f.createGame(t, "conn-1")

	// When: an admin registers
	err := f.manager.RegisterAdminConnection(ctx, "admin-1")

	// Then: it joins the admin group and gets the current lines
	require.NoError(t, err)
	f.notifier.AssertCalled(t, "AddToGroup", "admin-1", AdminGroup)
	logs := f.notifier.sent("SendToConnection", "admin-1", ActionServerLog)
	require.Len(t, logs, 1)
	assert.Len(t, logs[0].(ServerLogPayload).Lines, 1)
}

func TestGameManager_Park(t *testing.T) {
	t.Run("Persists state and refuses later calls", func(t *testing.T) {
		// Given: a server with one played session and a repository
		repo := &mockParkingRepo{}
		stopped := false
		f := newFixture(t, nil, WithParkingRepo(repo), WithStop(func() { stopped = true }))
		ctx := context.Background()
		gameID := f.createGame(t, "conn-1")
		require.NoError(t, f.manager.PlaceStone(ctx, "conn-1", gameID, 9, 9))

		repo.On("Park", mock.Anything, service.Counters{Sessions: 1}, mock.MatchedBy(func(sessions map[string]entity.StoredSession) bool {
			stored, ok := sessions[gameID]
			return ok && len(stored.Plays) == 1
		})).Return(nil).Once()

		// When: parking
		err := f.manager.ParkAndExit(ctx, "conn-1")

		// Then: state was stored and the process asked to stop
		require.NoError(t, err)
		repo.AssertExpectations(t)
		assert.True(t, stopped)

		// And: every later call is refused
		require.ErrorIs(t, f.manager.CreateNewGame(ctx, "conn-1"), apperror.ErrShuttingDown)
		require.ErrorIs(t, f.manager.PlaceStone(ctx, "conn-1", gameID, 1, 1), apperror.ErrShuttingDown)
		require.ErrorIs(t, f.manager.ParkAndExit(ctx, "conn-1"), apperror.ErrShuttingDown)
		session, err := f.sessions.Get(gameID)
		require.NoError(t, err)
		assert.Equal(t, 1, session.Plies())
	})

	t.Run("Stops even when persistence fails", func(t *testing.T) {
		repo := &mockParkingRepo{}
		repo.On("Park", mock.Anything, mock.Anything, mock.Anything).Return(errRedisDown).Once()
		stopped := false
		f := newFixture(t, nil, WithParkingRepo(repo), WithStop(func() { stopped = true }))

		err := f.manager.ParkAndExit(context.Background(), "conn-1")

		require.ErrorIs(t, err, errRedisDown)
		assert.True(t, stopped)
	})

	t.Run("Parks without a repository", func(t *testing.T) {
		f := newFixture(t, nil)

		require.NoError(t, f.manager.Park(context.Background()))
		require.ErrorIs(t, f.manager.Park(context.Background()), apperror.ErrShuttingDown)
	})
}

func TestGameManager_Stats(t *testing.T) {
	// Given: one game with two members
	f := newFixture(t, nil)
	ctx := context.Background()
	gameID := f.createGame(t, "conn-1")
	require.NoError(t, f.manager.InitializeBoardAndConnection(ctx, "conn-1", gameID))
	require.NoError(t, f.manager.InitializeBoardAndConnection(ctx, "conn-2", gameID))

	// When: reading the stats
	stats := f.manager.Stats()

	// Then: counters and live sizes agree
	assert.Equal(t, ServerStats{
		Counters:          service.Counters{Sessions: 1, Connections: 2, MultiplayerSessions: 1},
		LiveSessions:      1,
		JoinedConnections: 2,
	}, stats)
}
