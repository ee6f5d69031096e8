package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	actionCreateNewGame     = "CreateNewGame"
	actionRegisterAdmin     = "RegisterAdminConnection"
	actionInitializeBoard   = "InitializeBoardAndConnection"
	actionPlaceStone        = "PlaceStone"
	actionUndoStone         = "UndoStone"
	actionNewGame           = "NewGame"
	actionParkAndExit       = "ParkAndExit"
	actionError             = "Error"
	maxInboundMessageLength = 4096
)

var (
	errUnknownAction      = errors.New("unknown action")
	errMissingGameID      = errors.New("gameId is required")
	errMissingCoordinates = errors.New("x and y are required")
	errOutOfBoard         = errors.New("coordinates are outside the board")
)

// Message represents a WebSocket message with an action type and a payload.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// GamePayload carries the inbound arguments. X is the column, Y the row.
type GamePayload struct {
	GameID string `json:"gameId"`
	X      *int   `json:"x,omitempty"`
	Y      *int   `json:"y,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func encodeMessage(action string, payload any) ([]byte, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	message, err := json.Marshal(Message{Action: action, Payload: payloadJSON})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	return message, nil
}

func decodeGamePayload(msg *Message) (GamePayload, error) {
	var payload GamePayload

	if len(msg.Payload) == 0 {
		return payload, errMissingGameID
	}

	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if payload.GameID == "" {
		return payload, errMissingGameID
	}

	return payload, nil
}

// coordinates returns the column and row after checking them against the board.
func (that GamePayload) coordinates(boardSize int) (int, int, error) {
	if that.X == nil || that.Y == nil {
		return 0, 0, errMissingCoordinates
	}

	col, row := *that.X, *that.Y
	if col < 0 || col >= boardSize || row < 0 || row >= boardSize {
		return 0, 0, fmt.Errorf("%w: (%d, %d)", errOutOfBoard, col, row)
	}

	return col, row, nil
}
