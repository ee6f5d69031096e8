package usecase

import (
	"fmt"
	"strconv"

	"github.com/rocketscienceinc/connect6-backend/internal/entity"
)

// AdminGroup is the reserved group that receives admin report lines.
// Session ids are 8 hex characters, so it never clashes with one.
const AdminGroup = "admin"

const (
	ActionNewGameIDReceived = "NewGameIdReceived"
	ActionCurrentBoard      = "CurrentBoard"
	ActionConnectionSize    = "ConnectionSize"
	ActionNoGameFound       = "NoGameFound"
	ActionServerLog         = "ServerLogReceived"
)

const reportTimeLayout = "2006-01-02 15:04:05"

type NewGameIDPayload struct {
	GameID string `json:"gameId"`
}

// BoardState is the CurrentBoard payload. Every field is text and always present.
type BoardState struct {
	CurrentTurn          string `json:"currentTurn"`
	CurrentTurnRemaining string `json:"currentTurnRemaining"`
	BoardString          string `json:"boardString"`
	LastPlayX            string `json:"lastPlayX"`
	LastPlayY            string `json:"lastPlayY"`
	LastLastPlayX        string `json:"lastLastPlayX"`
	LastLastPlayY        string `json:"lastLastPlayY"`
	// Version orders boards of one session; a lower one than already shown is stale.
	Version              string `json:"version"`
}

func NewBoardState(snapshot entity.Snapshot) BoardState {
	return BoardState{
		CurrentTurn:          snapshot.CurrentTurn.String(),
		CurrentTurnRemaining: strconv.Itoa(snapshot.CurrentTurnRemaining),
		BoardString:          snapshot.Board,
		LastPlayX:            strconv.Itoa(snapshot.LastPlay.X),
		LastPlayY:            strconv.Itoa(snapshot.LastPlay.Y),
		LastLastPlayX:        strconv.Itoa(snapshot.LastLastPlay.X),
		LastLastPlayY:        strconv.Itoa(snapshot.LastLastPlay.Y),
		Version:              strconv.FormatUint(snapshot.Version, 10),
	}
}

type ConnectionSizePayload struct {
	Count int `json:"count"`
}

type NoGameFoundPayload struct{}

type ServerLogPayload struct {
	Lines []string `json:"lines"`
}

func (that *GameManager) broadcastSnapshot(gameID string, session *entity.GameSession) {
	log := that.logger.With("method", "broadcastSnapshot", "gameID", gameID)

	if err := that.notifier.SendToGroup(gameID, ActionCurrentBoard, NewBoardState(session.Snapshot())); err != nil {
		log.Error("failed to send board", "error", err)
	}
}

func (that *GameManager) broadcastConnectionSize(gameID string) {
	log := that.logger.With("method", "broadcastConnectionSize", "gameID", gameID)

	payload := ConnectionSizePayload{Count: that.connections.MembershipSize(gameID)}
	if err := that.notifier.SendToGroup(gameID, ActionConnectionSize, payload); err != nil {
		log.Error("failed to send connection size", "error", err)
	}
}

// notifyMissing tells only the caller that the session is gone.
func (that *GameManager) notifyMissing(connID, gameID string) {
	log := that.logger.With("method", "notifyMissing", "gameID", gameID, "connID", connID)

	if err := that.notifier.SendToConnection(connID, ActionNoGameFound, NoGameFoundPayload{}); err != nil {
		log.Error("failed to send no game found", "error", err)
		return
	}

	log.Info("session not found")
}

// report appends an admin line and pushes the whole ring to the admin group.
func (that *GameManager) report(gameID, message, connID string) {
	log := that.logger.With("method", "report", "gameID", gameID)

	counters := that.stats.Counters()
	line := fmt.Sprintf("%s [%d TS, %d TU, %d MUS, %d CS, %d CU] %s (%d) : %-30s%s",
		that.clock().Format(reportTimeLayout),
		counters.Sessions,
		counters.Connections,
		counters.MultiplayerSessions,
		that.sessions.Len(),
		that.connections.Connections(),
		gameID,
		that.connections.MembershipSize(gameID),
		message,
		connID,
	)

	lines, err := that.adminLog.Append(line)
	if err != nil {
		log.Warn("failed to copy admin line", "error", err)
	}

	if err = that.notifier.SendToGroup(AdminGroup, ActionServerLog, ServerLogPayload{Lines: lines}); err != nil {
		log.Error("failed to send admin log", "error", err)
	}
}
