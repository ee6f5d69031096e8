package entity

import (
	"fmt"
	"strings"

	"github.com/rocketscienceinc/connect6-backend/internal/apperror"
)

const (
	DefaultBoardSize = 19
	MinBoardSize     = 13
)

// Decorative template symbols. They only drive client rendering.
const (
	symbolFiller      = '5'
	symbolTopEdge     = '8'
	symbolBottomEdge  = '2'
	symbolLeftEdge    = '4'
	symbolRightEdge   = '6'
	symbolTopLeft     = '7'
	symbolTopRight    = '9'
	symbolBottomLeft  = '1'
	symbolBottomRight = '3'
	symbolStarPoint   = '+'
)

// Board is a square grid addressed row-major: cells[row][col].
type Board struct {
	size     int
	template [][]byte
	live     [][]byte
}

func ValidateBoardSize(size int) error {
	if size < MinBoardSize || size%2 == 0 {
		return fmt.Errorf("%w: got %d", apperror.ErrInvalidBoardSize, size)
	}

	return nil
}

// NewBoard builds the decorative template and a live layer copied from it.
// The size is expected to pass ValidateBoardSize.
func NewBoard(size int) *Board {
	template := make([][]byte, size)
	for row := range template {
		template[row] = make([]byte, size)
		for col := range template[row] {
			template[row][col] = symbolFiller
		}
	}

	last := size - 1
	for col := 0; col < size; col++ {
		template[0][col] = symbolTopEdge
		template[last][col] = symbolBottomEdge
	}
	for row := 0; row < size; row++ {
		template[row][0] = symbolLeftEdge
		template[row][last] = symbolRightEdge
	}

	template[0][0] = symbolTopLeft
	template[0][last] = symbolTopRight
	template[last][0] = symbolBottomLeft
	template[last][last] = symbolBottomRight

	for _, row := range starLines(size) {
		for _, col := range starLines(size) {
			template[row][col] = symbolStarPoint
		}
	}

	live := make([][]byte, size)
	for row := range template {
		live[row] = append([]byte(nil), template[row]...)
	}

	return &Board{
		size:     size,
		template: template,
		live:     live,
	}
}

func starLines(size int) [3]int {
	return [3]int{3, size / 2, size - 4}
}

func (that *Board) Size() int {
	return that.size
}

// Place puts mark on (col, row) unless a stone is already there.
func (that *Board) Place(col, row int, mark Mark) error {
	if IsStone(that.live[row][col]) {
		return fmt.Errorf("%w: (%d, %d)", apperror.ErrCellOccupied, col, row)
	}

	that.live[row][col] = byte(mark)

	return nil
}

// Clear restores the template symbol at (col, row).
func (that *Board) Clear(col, row int) {
	that.live[row][col] = that.template[row][col]
}

// At returns the live symbol at (col, row).
func (that *Board) At(col, row int) byte {
	return that.live[row][col]
}

// Template returns the decorative symbol at (col, row).
func (that *Board) Template(col, row int) byte {
	return that.template[row][col]
}

// Render returns one line per row, no trailing newline.
func (that *Board) Render() string {
	var sb strings.Builder
	sb.Grow(that.size * (that.size + 1))

	for row := range that.live {
		sb.Write(that.live[row])
		sb.WriteByte('\n')
	}

	return strings.TrimSpace(sb.String())
}
