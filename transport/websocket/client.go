package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	errClientClosed   = errors.New("client: closed")
	errSendBufferFull = errors.New("client: send buffer full")
)

// ClientConfig holds the per-connection timings.
type ClientConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	ReadDeadline time.Duration
}

// Client is one upgraded connection. Writes go through a buffered channel
// drained by writePump; a client that cannot keep up is closed.
type Client struct {
	id        string
	conn      *websocket.Conn
	config    ClientConfig
	logger    *slog.Logger
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, config ClientConfig, logger *slog.Logger) *Client {
	id := uuid.NewString()

	return &Client{
		id:     id,
		conn:   conn,
		config: config,
		logger: logger.With("connID", id),
		send:   make(chan []byte, config.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (that *Client) ID() string {
	return that.id
}

func (that *Client) enqueue(data []byte) error {
	select {
	case <-that.done:
		return errClientClosed
	default:
	}

	select {
	case that.send <- data:
		return nil
	case <-that.done:
		return errClientClosed
	default:
		that.close()
		return errSendBufferFull
	}
}

func (that *Client) close() {
	that.closeOnce.Do(func() {
		close(that.done)
		if that.conn != nil {
			_ = that.conn.Close()
		}
	})
}

// readPump reads until the connection fails and hands every text frame to dispatch.
func (that *Client) readPump(ctx context.Context, dispatch func(context.Context, *Client, []byte)) {
	log := that.logger.With("method", "readPump")

	that.conn.SetReadLimit(maxInboundMessageLength)
	_ = that.conn.SetReadDeadline(time.Now().Add(that.config.ReadDeadline))
	that.conn.SetPongHandler(func(string) error {
		return that.conn.SetReadDeadline(time.Now().Add(that.config.ReadDeadline))
	})

	for {
		msgType, data, err := that.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("unexpected close", "error", err)
			}
			return
		}

		if err = that.conn.SetReadDeadline(time.Now().Add(that.config.ReadDeadline)); err != nil {
			log.Error("failed to set read deadline", "error", err)
			return
		}

		if msgType != websocket.TextMessage {
			log.Warn("unsupported message type", "type", msgType)
			continue
		}

		dispatch(ctx, that, data)
	}
}

// writePump writes queued messages and pings until the client closes.
func (that *Client) writePump() {
	log := that.logger.With("method", "writePump")

	ticker := time.NewTicker(that.config.PingInterval)
	defer ticker.Stop()
	defer that.close()

	for {
		select {
		case <-that.done:
			return
		case data := <-that.send:
			if err := that.write(websocket.TextMessage, data); err != nil {
				log.Info("write aborted", "error", err)
				return
			}
		case <-ticker.C:
			if err := that.write(websocket.PingMessage, nil); err != nil {
				log.Info("ping aborted", "error", err)
				return
			}
		}
	}
}

func (that *Client) write(msgType int, data []byte) error {
	if err := that.conn.SetWriteDeadline(time.Now().Add(that.config.WriteTimeout)); err != nil {
		return err
	}

	return that.conn.WriteMessage(msgType, data)
}
