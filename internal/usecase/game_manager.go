package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rocketscienceinc/connect6-backend/internal/apperror"
	"github.com/rocketscienceinc/connect6-backend/internal/entity"
	"github.com/rocketscienceinc/connect6-backend/internal/service"
)

// Notifier delivers outbound events to connections and groups.
type Notifier interface {
	AddToGroup(connID, group string)
	RemoveGroup(group string)
	SendToConnection(connID, action string, payload any) error
	SendToGroup(group, action string, payload any) error
}

// ParkingRepo stores the counters and every session on shutdown.
type ParkingRepo interface {
	Park(ctx context.Context, counters service.Counters, sessions map[string]entity.StoredSession) error
}

type GameManagerOption func(*GameManager)

// WithParkingRepo makes Park persist state before stopping.
func WithParkingRepo(repo ParkingRepo) GameManagerOption {
	return func(that *GameManager) {
		that.parkingRepo = repo
	}
}

// WithStop sets the function ParkAndExit calls once state is parked.
func WithStop(stop func()) GameManagerOption {
	return func(that *GameManager) {
		that.stop = stop
	}
}

// WithReportClock replaces time.Now for admin report timestamps.
func WithReportClock(clock func() time.Time) GameManagerOption {
	return func(that *GameManager) {
		that.clock = clock
	}
}

// GameManager dispatches inbound calls against the registries and
// broadcasts the results. Registry locks are released before any send.
type GameManager struct {
	logger      *slog.Logger
	sessions    *service.SessionRegistry
	connections *service.ConnectionRegistry
	stats       *service.Stats
	adminLog    *service.AdminLog
	notifier    Notifier
	parkingRepo ParkingRepo
	stop        func()
	clock       func() time.Time

	// quiesce is held shared by every call and exclusively by Park.
	quiesce sync.RWMutex
	parked  bool
}

func NewGameManager(
	logger *slog.Logger,
	sessions *service.SessionRegistry,
	connections *service.ConnectionRegistry,
	stats *service.Stats,
	adminLog *service.AdminLog,
	notifier Notifier,
	opts ...GameManagerOption,
) *GameManager {
	manager := &GameManager{
		logger:      logger.With("component", "game_manager"),
		sessions:    sessions,
		connections: connections,
		stats:       stats,
		adminLog:    adminLog,
		notifier:    notifier,
		stop:        func() {},
		clock:       time.Now,
	}

	for _, opt := range opts {
		opt(manager)
	}

	return manager
}

func (that *GameManager) enter() error {
	that.quiesce.RLock()
	if that.parked {
		that.quiesce.RUnlock()
		return apperror.ErrShuttingDown
	}

	return nil
}

func (that *GameManager) leave() {
	that.quiesce.RUnlock()
}

// CreateNewGame evicts stale sessions, creates a new one and tells the caller its id.
func (that *GameManager) CreateNewGame(_ context.Context, connID string) error {
	if err := that.enter(); err != nil {
		return err
	}
	defer that.leave()

	log := that.logger.With("method", "CreateNewGame", "connID", connID)

	gameID, evicted, err := that.sessions.CreateTracked(that.connections)
	if err != nil {
		panic(fmt.Sprintf("failed to create session: %v", err))
	}

	for _, id := range evicted {
		that.evict(id, connID)
	}

	if err = that.notifier.SendToConnection(connID, ActionNewGameIDReceived, NewGameIDPayload{GameID: gameID}); err != nil {
		log.Error("failed to send game id", "error", err)
	}

	log.Info("game created", "gameID", gameID, "evicted", len(evicted))
	that.report(gameID, "New game made", connID)

	return nil
}

// RegisterAdminConnection joins the caller to the admin group and sends it the current lines.
func (that *GameManager) RegisterAdminConnection(_ context.Context, connID string) error {
	if err := that.enter(); err != nil {
		return err
	}
	defer that.leave()

	log := that.logger.With("method", "RegisterAdminConnection", "connID", connID)

	that.notifier.AddToGroup(connID, AdminGroup)

	if err := that.notifier.SendToConnection(connID, ActionServerLog, ServerLogPayload{Lines: that.adminLog.Lines()}); err != nil {
		log.Error("failed to send admin log", "error", err)
	}

	log.Info("admin registered")

	return nil
}

// InitializeBoardAndConnection joins the caller to the session and pushes
// the board and member count to the whole group.
func (that *GameManager) InitializeBoardAndConnection(_ context.Context, connID, gameID string) error {
	if err := that.enter(); err != nil {
		return err
	}
	defer that.leave()

	log := that.logger.With("method", "InitializeBoardAndConnection", "connID", connID, "gameID", gameID)

	session, err := that.sessions.Get(gameID)
	if err != nil {
		that.notifyMissing(connID, gameID)
		return nil
	}

	result, err := that.connections.Join(gameID, connID)
	if errors.Is(err, apperror.ErrSessionNotFound) {
		// evicted between Get and Join
		that.notifyMissing(connID, gameID)
		return nil
	}

	that.notifier.AddToGroup(connID, gameID)

	that.broadcastSnapshot(gameID, session)
	that.broadcastConnectionSize(gameID)

	log.Info("connection joined", "added", result.Added, "size", result.Size)
	that.report(gameID, "New user connected to game", connID)

	return nil
}

// PlaceStone places the current player's stone. An occupied cell changes
// nothing but the board is still pushed.
func (that *GameManager) PlaceStone(_ context.Context, connID, gameID string, col, row int) error {
	if err := that.enter(); err != nil {
		return err
	}
	defer that.leave()

	log := that.logger.With("method", "PlaceStone", "connID", connID, "gameID", gameID)

	session, err := that.sessions.Get(gameID)
	if err != nil {
		that.notifyMissing(connID, gameID)
		return nil
	}

	if err = session.PlaceStone(col, row); err != nil {
		log.Debug("placement ignored", "x", col, "y", row, "error", err)
	}

	that.broadcastSnapshot(gameID, session)
	that.report(gameID, fmt.Sprintf("User placed stone (%02d, %02d)", col, row), connID)

	return nil
}

func (that *GameManager) UndoStone(_ context.Context, connID, gameID string) error {
	if err := that.enter(); err != nil {
		return err
	}
	defer that.leave()

	log := that.logger.With("method", "UndoStone", "connID", connID, "gameID", gameID)

	session, err := that.sessions.Get(gameID)
	if err != nil {
		that.notifyMissing(connID, gameID)
		return nil
	}

	if err = session.UndoStone(); err != nil {
		log.Debug("undo ignored", "error", err)
	}

	that.broadcastSnapshot(gameID, session)
	that.report(gameID, "User undid", connID)

	return nil
}

// NewGame resets the board of an existing session.
func (that *GameManager) NewGame(_ context.Context, connID, gameID string) error {
	if err := that.enter(); err != nil {
		return err
	}
	defer that.leave()

	session, err := that.sessions.Reset(gameID)
	if err != nil {
		that.notifyMissing(connID, gameID)
		return nil
	}

	that.broadcastSnapshot(gameID, session)
	that.report(gameID, "Board reset", connID)

	return nil
}

// Disconnect drops a closed connection from its session. Unknown connections are ignored.
func (that *GameManager) Disconnect(_ context.Context, connID string) {
	if err := that.enter(); err != nil {
		return
	}
	defer that.leave()

	log := that.logger.With("method", "Disconnect", "connID", connID)

	gameID, size, ok := that.connections.Leave(connID)
	if !ok {
		return
	}

	that.broadcastConnectionSize(gameID)

	log.Info("connection left", "gameID", gameID, "size", size)
	that.report(gameID, "User disconnected", connID)
}

// ParkAndExit parks the server and stops the process.
func (that *GameManager) ParkAndExit(ctx context.Context, connID string) error {
	log := that.logger.With("method", "ParkAndExit", "connID", connID)

	err := that.Park(ctx)
	if errors.Is(err, apperror.ErrShuttingDown) {
		return err
	}

	if err != nil {
		log.Error("stopping without parked state", "error", err)
	}

	log.Info("stopping")
	that.stop()

	return err
}

// Park waits for in-flight calls, refuses new ones and persists the counters
// and sessions when a repository is configured.
func (that *GameManager) Park(ctx context.Context) error {
	log := that.logger.With("method", "Park")

	that.quiesce.Lock()
	if that.parked {
		that.quiesce.Unlock()
		return apperror.ErrShuttingDown
	}
	that.parked = true
	that.quiesce.Unlock()

	if that.parkingRepo == nil {
		log.Info("parked without persistence")
		return nil
	}

	sessions := that.sessions.Records()
	if err := that.parkingRepo.Park(ctx, that.stats.Counters(), sessions); err != nil {
		return fmt.Errorf("failed to park state: %w", err)
	}

	log.Info("state parked", "sessions", len(sessions))

	return nil
}

// evict tells the members of a swept session and drops its group. The
// registries are already purged by CreateTracked.
func (that *GameManager) evict(gameID, connID string) {
	log := that.logger.With("method", "evict", "gameID", gameID)

	if err := that.notifier.SendToGroup(gameID, ActionNoGameFound, NoGameFoundPayload{}); err != nil {
		log.Error("failed to notify evicted group", "error", err)
	}
	that.notifier.RemoveGroup(gameID)

	log.Info("session destroyed")
	that.report(gameID, "Session destroyed", connID)
}

// ServerStats is the read-only view served over HTTP.
type ServerStats struct {
	service.Counters
	LiveSessions      int  `json:"live_sessions"`
	JoinedConnections int  `json:"joined_connections"`
	Parked            bool `json:"parked"`
}

func (that *GameManager) Stats() ServerStats {
	that.quiesce.RLock()
	parked := that.parked
	that.quiesce.RUnlock()

	return ServerStats{
		Counters:          that.stats.Counters(),
		LiveSessions:      that.sessions.Len(),
		JoinedConnections: that.connections.Connections(),
		Parked:            parked,
	}
}
