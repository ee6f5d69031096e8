package apperror

import "errors"

var (
	ErrSessionNotFound      = errors.New("game session not found")
	ErrCellOccupied         = errors.New("cell is already occupied")
	ErrEmptyHistory         = errors.New("no plays to undo")
	ErrRegistryInconsistent = errors.New("session and connection registries disagree")
	ErrShuttingDown         = errors.New("server is parked")
	ErrInvalidBoardSize     = errors.New("board size must be odd and at least 13")
)
