package entity

// Mark is the symbol a stone leaves on the board.
type Mark byte

const (
	MarkBlack Mark = 'b'
	MarkWhite Mark = 'w'
)

func (that Mark) String() string {
	return string(rune(that))
}

// IsStone reports whether a live board symbol is a player's stone.
func IsStone(symbol byte) bool {
	return symbol == byte(MarkBlack) || symbol == byte(MarkWhite)
}

// CurrentPlayer returns who places the stone after plies stones were played.
// Black opens with a single stone, then both sides alternate two-stone turns:
// b, w, w, b, b, w, w, ...
func CurrentPlayer(plies int) Mark {
	if plies == 0 {
		return MarkBlack
	}

	if ((plies-1)/2)%2 == 0 {
		return MarkWhite
	}

	return MarkBlack
}

// StonesRemainingThisTurn counts the stones left in the turn in progress,
// including the one about to be placed: 1, 2, 1, 2, ...
func StonesRemainingThisTurn(plies int) int {
	if (plies+1)%2 == 0 {
		return 2
	}

	return 1
}
