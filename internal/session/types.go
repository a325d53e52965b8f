package session

import (
	"errors"
	"time"

	"github.com/park285/cheese-relay/internal/protocol"
	"github.com/park285/cheese-relay/internal/rules"
	"github.com/park285/cheese-relay/pkg/chessdto"
)

// Conn is one client connection as seen by the game layer. Send must not
// block: implementations queue the envelope and report an error when the
// connection is closed or cannot keep up.
type Conn interface {
	ID() string
	Send(env protocol.Envelope) error
}

// Messages renders catalog texts. *msgcat.Catalog satisfies it.
type Messages interface {
	Render(key string, data any) (string, error)
}

type State int

const (
	StateInProgress State = iota
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInProgress:
		return "in_progress"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// GAME_OVER reason codes.
const (
	ReasonCheckmate            = "checkmate"
	ReasonStalemate            = "stalemate"
	ReasonInsufficientMaterial = "insufficient_material"
	ReasonRepetition           = "repetition"
	ReasonMoveRule             = "move_rule"
	ReasonDraw                 = "draw"
	ReasonResignation          = "resignation"
	ReasonOpponentDisconnected = "opponent_disconnected"
)

// PGN result tokens.
const (
	ResultWhiteWins = "1-0"
	ResultBlackWins = "0-1"
	ResultDraw      = "1/2-1/2"
	ResultOngoing   = "*"
)

// LoggedMove is one accepted move.
type LoggedMove struct {
	Color rules.Color
	UCI   string
	SAN   string
	At    time.Time
}

// Result is what an accepted move produced. Over is set when the move ended
// the game.
type Result struct {
	Move  chessdto.MoveBroadcast
	Over  *chessdto.GameOver
	Check bool
}

var (
	ErrNotMember     = errors.New("connection is not a member of this game")
	ErrTerminated    = errors.New("game is over")
	ErrOutOfTurn     = errors.New("not your turn")
	ErrIllegalMove   = errors.New("illegal move")
	ErrMalformedMove = errors.New("malformed move")
)
