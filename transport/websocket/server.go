package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	socketPath        = "/ws"
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type gameManager interface {
	CreateNewGame(ctx context.Context, connID string) error
	RegisterAdminConnection(ctx context.Context, connID string) error
	InitializeBoardAndConnection(ctx context.Context, connID, gameID string) error
	PlaceStone(ctx context.Context, connID, gameID string, col, row int) error
	UndoStone(ctx context.Context, connID, gameID string) error
	NewGame(ctx context.Context, connID, gameID string) error
	ParkAndExit(ctx context.Context, connID string) error
	Disconnect(ctx context.Context, connID string)
}

type Server struct {
	logger       *slog.Logger
	hub          *Hub
	manager      gameManager
	boardSize    int
	clientConfig ClientConfig
	upgrader     websocket.Upgrader

	handlers map[string]func(ctx context.Context, client *Client, msg *Message) error
}

func New(logger *slog.Logger, hub *Hub, manager gameManager, boardSize int, clientConfig ClientConfig) *Server {
	server := &Server{
		logger:       logger.With("component", "websocket"),
		hub:          hub,
		manager:      manager,
		boardSize:    boardSize,
		clientConfig: clientConfig,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},

		handlers: make(map[string]func(context.Context, *Client, *Message) error),
	}

	server.handlers[actionCreateNewGame] = server.handleCreateNewGame
	server.handlers[actionRegisterAdmin] = server.handleRegisterAdmin
	server.handlers[actionInitializeBoard] = server.handleInitializeBoard
	server.handlers[actionPlaceStone] = server.handlePlaceStone
	server.handlers[actionUndoStone] = server.handleUndoStone
	server.handlers[actionNewGame] = server.handleNewGame
	server.handlers[actionParkAndExit] = server.handleParkAndExit

	return server
}

// Handler serves the upgrade endpoint. Handlers run with ctx.
func (that *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(socketPath, func(w http.ResponseWriter, r *http.Request) {
		that.upgradeToWebSocket(ctx, w, r)
	})

	return mux
}

// Start - starts WebSocket server and stops it when ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           that.Handler(ctx),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			that.logger.Error("failed to shut down server", "error", err)
		}
		that.hub.CloseAll()
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// upgradeToWebSocket - upgrades the connection and serves it until it closes.
func (that *Server) upgradeToWebSocket(ctx context.Context, writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "upgradeToWebSocket")

	conn, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	client := newClient(conn, that.clientConfig, that.logger)
	that.hub.register(client)

	log.Info("WebSocket connection established", "connID", client.id)

	go client.writePump()

	defer that.disconnect(ctx, client)
	client.readPump(ctx, that.dispatch)
}

func (that *Server) disconnect(ctx context.Context, client *Client) {
	client.close()
	that.hub.unregister(client.id)
	that.manager.Disconnect(ctx, client.id)

	that.logger.Info("WebSocket connection closed", "connID", client.id)
}

// dispatch routes one inbound frame. Failures are answered to the sender only.
func (that *Server) dispatch(ctx context.Context, client *Client, data []byte) {
	log := that.logger.With("method", "dispatch", "connID", client.id)

	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		log.Error("failed to unmarshal message", "error", err)
		that.sendError(client, fmt.Errorf("malformed message: %w", err))
		return
	}

	handler, ok := that.handlers[message.Action]
	if !ok {
		log.Warn("unknown action", "action", message.Action)
		that.sendError(client, fmt.Errorf("%w: %q", errUnknownAction, message.Action))
		return
	}

	if err := handler(ctx, client, &message); err != nil {
		log.Error("error processing message", "action", message.Action, "error", err)
		that.sendError(client, err)
	}
}

func (that *Server) sendError(client *Client, err error) {
	if sendErr := that.hub.SendToConnection(client.id, actionError, ErrorPayload{Error: err.Error()}); sendErr != nil {
		that.logger.Error("failed to send error response", "connID", client.id, "error", sendErr)
	}
}
