package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rocketscienceinc/connect6-backend/internal/usecase"
)

type statsSource interface {
	Stats() usecase.ServerStats
}

type Handlers interface {
	PingHandler(w http.ResponseWriter, _ *http.Request)
	StatsHandler(w http.ResponseWriter, _ *http.Request)
}

type handlers struct {
	logger *slog.Logger
	stats  statsSource
}

func NewHandlers(logger *slog.Logger, stats statsSource) Handlers {
	return &handlers{
		logger: logger.With("component", "rest"),
		stats:  stats,
	}
}

func (that *handlers) PingHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		that.logger.Error("failed to write pong", "error", err)
	}
}

// StatsHandler serves the aggregate counters and the live registry sizes.
func (that *handlers) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	body, err := json.Marshal(that.stats.Stats())
	if err != nil {
		that.logger.Error("failed to marshal stats", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(body); err != nil {
		that.logger.Error("failed to write stats", "error", err)
	}
}
