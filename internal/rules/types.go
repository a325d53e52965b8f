package rules

import "errors"

// Color identifies a side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Kind classifies a terminal position. KindNone means the game continues.
type Kind string

const (
	KindNone                 Kind = ""
	KindCheckmate            Kind = "checkmate"
	KindStalemate            Kind = "stalemate"
	KindInsufficientMaterial Kind = "insufficient_material"
	KindRepetition           Kind = "repetition"
	KindMoveRule             Kind = "move_rule"
	KindDraw                 Kind = "draw"
)

// Move is a move request in coordinate form: "e2", "e4", promotion one of q r b n.
type Move struct {
	From      string
	To        string
	Promotion string
}

// Applied is the outcome of a legal move.
type Applied struct {
	Position Position
	Mover    Color
	UCI      string
	SAN      string
	Check    bool
	Terminal bool
	Kind     Kind
	// Winner is empty for draws and non-terminal positions.
	Winner  Color
	Opening string
}

var (
	ErrIllegal   = errors.New("not a legal move")
	ErrMalformed = errors.New("malformed move")
)
