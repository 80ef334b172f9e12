// Package game implements the tic-tac-toe session engine
package game

import (
	"errors"
	"fmt"
	"strings"
)

// BoardSize is the number of cells; position = row*3 + col
const BoardSize = 9

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrOutOfRange        = fmt.Errorf("%w: position out of range", ErrInvalidTransition)
	ErrCellOccupied      = fmt.Errorf("%w: cell occupied", ErrInvalidTransition)
	ErrInvalidSymbol     = errors.New("invalid symbol")
)

// Symbol is a board mark
type Symbol byte

const (
	Empty Symbol = 0
	X     Symbol = 'X'
	O     Symbol = 'O'
)

func (s Symbol) String() string {
	if s == Empty {
		return ""
	}
	return string(rune(s))
}

// Opponent returns the other player's symbol
func (s Symbol) Opponent() Symbol {
	switch s {
	case X:
		return O
	case O:
		return X
	}
	return Empty
}

// ParseSymbol parses "X" or "O"
func ParseSymbol(s string) (Symbol, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "X":
		return X, nil
	case "O":
		return O, nil
	}
	return Empty, fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
}

var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // columns
	{0, 4, 8}, {2, 4, 6}, // diagonals
}

// Board is a 3x3 grid stored row-major
type Board [BoardSize]Symbol

// Place marks a cell
func (b *Board) Place(pos int, s Symbol) error {
	if pos < 0 || pos >= BoardSize {
		return fmt.Errorf("%w: %d", ErrOutOfRange, pos)
	}
	if b[pos] != Empty {
		return fmt.Errorf("%w: %d holds %s", ErrCellOccupied, pos, b[pos])
	}
	b[pos] = s
	return nil
}

// Winner scans rows, columns then diagonals and returns the first complete line
func (b Board) Winner() (Symbol, []int, bool) {
	for _, line := range winLines {
		s := b[line[0]]
		if s != Empty && s == b[line[1]] && s == b[line[2]] {
			return s, []int{line[0], line[1], line[2]}, true
		}
	}
	return Empty, nil, false
}

// Full reports whether every cell is marked
func (b Board) Full() bool {
	return b.Moves() == BoardSize
}

// Moves returns the number of marked cells
func (b Board) Moves() int {
	n := 0
	for _, s := range b {
		if s != Empty {
			n++
		}
	}
	return n
}

// String renders the board as three rows
func (b Board) String() string {
	var sb strings.Builder
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			pos := row*3 + col
			if b[pos] == Empty {
				fmt.Fprintf(&sb, " %d ", pos)
			} else {
				fmt.Fprintf(&sb, " %s ", b[pos])
			}
			if col < 2 {
				sb.WriteByte('|')
			}
		}
		if row < 2 {
			sb.WriteString("\n---+---+---\n")
		}
	}
	return sb.String()
}
