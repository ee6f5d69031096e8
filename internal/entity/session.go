package entity

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rocketscienceinc/connect6-backend/internal/apperror"
)

var ErrCorruptRecord = errors.New("stored session does not replay")

// Play records one stone placement.
type Play struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// NoPlay fills recency slots that have nothing to highlight.
var NoPlay = Play{X: -1, Y: -1}

// Snapshot is the full renderable state of a session.
type Snapshot struct {
	CurrentTurn          Mark
	CurrentTurnRemaining int
	Board                string
	LastPlay             Play
	LastLastPlay         Play
	// Version grows with every change to the board.
	Version              uint64
}

// GameSession owns one board and its play history. All methods are safe
// for concurrent use; mutations of one session are serialized.
type GameSession struct {
	mu           sync.Mutex
	clock        func() time.Time
	board        *Board
	plays        []Play
	version      uint64
	lastActivity time.Time
}

func NewGameSession(size int, clock func() time.Time) *GameSession {
	if clock == nil {
		clock = time.Now
	}

	return &GameSession{
		clock:        clock,
		board:        NewBoard(size),
		lastActivity: clock(),
	}
}

// PlaceStone puts the current player's stone on (col, row).
// An occupied cell leaves the session untouched and returns ErrCellOccupied.
func (that *GameSession) PlaceStone(col, row int) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.lastActivity = that.clock()

	if err := that.board.Place(col, row, CurrentPlayer(len(that.plays))); err != nil {
		return err
	}

	that.plays = append(that.plays, Play{X: col, Y: row})
	that.version++

	return nil
}

// UndoStone takes back the most recent stone.
func (that *GameSession) UndoStone() error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.lastActivity = that.clock()

	if len(that.plays) == 0 {
		return apperror.ErrEmptyHistory
	}

	last := that.plays[len(that.plays)-1]
	that.board.Clear(last.X, last.Y)
	that.plays = that.plays[:len(that.plays)-1]
	that.version++

	return nil
}

// Reset swaps in a fresh board and an empty history.
func (that *GameSession) Reset() {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.board = NewBoard(that.board.Size())
	that.plays = nil
	that.version++
	that.lastActivity = that.clock()
}

// Snapshot renders the session. Viewing a session keeps it alive.
func (that *GameSession) Snapshot() Snapshot {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.lastActivity = that.clock()

	plies := len(that.plays)
	snapshot := Snapshot{
		CurrentTurn:          CurrentPlayer(plies),
		CurrentTurnRemaining: StonesRemainingThisTurn(plies),
		Board:                that.board.Render(),
		LastPlay:             NoPlay,
		LastLastPlay:         NoPlay,
		Version:              that.version,
	}

	if plies > 0 {
		snapshot.LastPlay = that.plays[plies-1]
	}

	// both of the latest stones belong to the same turn
	if plies > 1 && CurrentPlayer(plies-1) == CurrentPlayer(plies-2) {
		snapshot.LastLastPlay = that.plays[plies-2]
	}

	return snapshot
}

func (that *GameSession) Plies() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.plays)
}

func (that *GameSession) LastActivity() time.Time {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.lastActivity
}

// IsStale reports whether the session has been idle for longer than threshold.
func (that *GameSession) IsStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(that.LastActivity()) > threshold
}

// StoredSession is the durable form of a GameSession. The board text is kept
// for verification; the plays are the reconstruction seed.
type StoredSession struct {
	Size         int       `json:"size"`
	Board        string    `json:"board"`
	Plays        []Play    `json:"plays"`
	LastActivity time.Time `json:"last_activity"`
}

func (that *GameSession) Record() StoredSession {
	that.mu.Lock()
	defer that.mu.Unlock()

	return StoredSession{
		Size:         that.board.Size(),
		Board:        that.board.Render(),
		Plays:        append([]Play(nil), that.plays...),
		LastActivity: that.lastActivity,
	}
}

// RestoreGameSession rebuilds a session by replaying its plays on a fresh board.
func RestoreGameSession(record StoredSession, clock func() time.Time) (*GameSession, error) {
	if err := ValidateBoardSize(record.Size); err != nil {
		return nil, err
	}

	session := NewGameSession(record.Size, clock)

	for i, play := range record.Plays {
		if play.X < 0 || play.X >= record.Size || play.Y < 0 || play.Y >= record.Size {
			return nil, fmt.Errorf("%w: play %d out of board (%d, %d)", ErrCorruptRecord, i, play.X, play.Y)
		}

		if err := session.PlaceStone(play.X, play.Y); err != nil {
			return nil, fmt.Errorf("%w: play %d: %w", ErrCorruptRecord, i, err)
		}
	}

	if record.Board != "" && record.Board != session.board.Render() {
		return nil, fmt.Errorf("%w: board text mismatch", ErrCorruptRecord)
	}

	session.lastActivity = record.LastActivity

	return session, nil
}
