package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rocketscienceinc/connect6-backend/internal/apperror"
	"github.com/rocketscienceinc/connect6-backend/internal/config"
	"github.com/rocketscienceinc/connect6-backend/internal/repository"
	"github.com/rocketscienceinc/connect6-backend/internal/repository/storage"
	"github.com/rocketscienceinc/connect6-backend/internal/service"
	"github.com/rocketscienceinc/connect6-backend/internal/usecase"
	"github.com/rocketscienceinc/connect6-backend/transport/rest"
	"github.com/rocketscienceinc/connect6-backend/transport/websocket"
)

const parkTimeout = 10 * time.Second

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stats := service.NewStats()
	connections := service.NewConnectionRegistry(stats)
	sessions, err := service.NewSessionRegistry(stats, conf.BoardSize, conf.SessionIdleTimeout)
	if err != nil {
		return fmt.Errorf("could not create session registry: %w", err)
	}

	var adminSink io.Writer
	if conf.AdminLog.File != "" {
		adminFile := service.NewAdminLogFile(conf.AdminLog.File)
		defer func() {
			if err = adminFile.Close(); err != nil {
				log.Error("could not close admin log file", "error", err)
			}
		}()
		adminSink = adminFile
	}
	adminLog := service.NewAdminLog(conf.AdminLog.Capacity, adminSink)

	opts := []usecase.GameManagerOption{usecase.WithStop(cancel)}

	if conf.Redis.Enabled {
		redisStorage, err := storage.NewRedisStorage(ctx, conf.Redis.Host, conf.Redis.Port, conf.Redis.Password, conf.Redis.DB)
		if err != nil {
			return fmt.Errorf("could not connect to redis storage: %w", err)
		}

		defer func() {
			if err = redisStorage.Close(); err != nil {
				log.Error("could not close redis storage", "error", err)
			}
		}()

		stateRepo := repository.NewStateRepository(redisStorage.Connection, conf.Redis.KeyPrefix)
		if err = restoreState(ctx, log, stateRepo, stats, sessions, connections); err != nil {
			return err
		}

		opts = append(opts, usecase.WithParkingRepo(stateRepo))
	}

	hub := websocket.NewHub(logger)
	gameManager := usecase.NewGameManager(logger, sessions, connections, stats, adminLog, hub, opts...)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			log.Info("Received signal, parking", "signal", sig)
		case <-ctx.Done():
			return
		}

		parkCtx, parkCancel := context.WithTimeout(context.Background(), parkTimeout)
		defer parkCancel()

		if parkErr := gameManager.Park(parkCtx); parkErr != nil && !errors.Is(parkErr, apperror.ErrShuttingDown) {
			log.Error("failed to park state", "error", parkErr)
		}
		cancel()
	}()

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := rest.Start(ctx, conf.HTTPPort, rest.NewHandlers(logger, gameManager)); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		wsServer := websocket.New(logger, hub, gameManager, conf.BoardSize, websocket.ClientConfig{
			SendBuffer:   conf.Websocket.SendBuffer,
			WriteTimeout: conf.Websocket.WriteTimeout,
			PingInterval: conf.Websocket.PingInterval,
			ReadDeadline: conf.Websocket.ReadDeadline,
		})
		if wsErr := wsServer.Start(ctx, conf.SocketPort); wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
			wsErrCh <- wsErr
		}
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case err = <-wsErrCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}

// restoreState loads parked counters and sessions and opens an empty
// membership for every restored session. Sessions that fail to replay are
// logged and skipped.
func restoreState(
	ctx context.Context,
	log *slog.Logger,
	stateRepo *repository.StateRepository,
	stats *service.Stats,
	sessions *service.SessionRegistry,
	connections *service.ConnectionRegistry,
) error {
	counters, err := stateRepo.LoadCounters(ctx)
	if err != nil {
		return fmt.Errorf("could not load counters: %w", err)
	}
	stats.Restore(counters)

	records, err := stateRepo.LoadSessions(ctx)
	if err != nil {
		return fmt.Errorf("could not load sessions: %w", err)
	}

	restored, err := sessions.Restore(records)
	if err != nil {
		log.Error("some sessions were not restored", "error", err)
	}

	for _, id := range restored {
		if err = connections.Open(id); err != nil {
			return fmt.Errorf("could not open membership for restored session: %w", err)
		}
	}

	log.Info("state restored", "sessions", len(restored), "stored", len(records), "total_sessions", counters.Sessions)

	return nil
}
