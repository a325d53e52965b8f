// Package session holds the authoritative state of one two-player game.
//
// A Game is not safe for concurrent use; the match package drives every Game
// from a single event loop.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/protocol"
	"github.com/park285/cheese-relay/internal/rules"
	"github.com/park285/cheese-relay/pkg/chessdto"
	"go.uber.org/zap"
)

type Game struct {
	id       string
	engine   *rules.Engine
	white    Conn
	black    Conn
	pos      rules.Position
	log      []LoggedMove
	state    State
	reason   string
	result   string
	winner   rules.Color
	started  time.Time
	ended    time.Time
	now      func() time.Time
	logger   *zap.Logger
	messages Messages
}

type Option func(*Game)

func WithLogger(l *zap.Logger) Option {
	return func(g *Game) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMessages sets the catalog used for GAME_OVER texts.
func WithMessages(m Messages) Option {
	return func(g *Game) { g.messages = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Game) {
		if now != nil {
			g.now = now
		}
	}
}

// New creates an in-progress game between white and black from the standard
// start position. Nothing is sent until Start.
func New(id string, engine *rules.Engine, white, black Conn, opts ...Option) (*Game, error) {
	if engine == nil {
		return nil, errors.New("session: nil engine")
	}
	if white == nil || black == nil {
		return nil, errors.New("session: game needs two connections")
	}
	if white.ID() == black.ID() {
		return nil, fmt.Errorf("session: connection %s cannot play itself", white.ID())
	}
	g := &Game{
		id:     id,
		engine: engine,
		white:  white,
		black:  black,
		pos:    engine.NewPosition(),
		log:    []LoggedMove{},
		state:  StateInProgress,
		now:    time.Now,
		logger: obslog.L(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.started = g.now()
	return g, nil
}

func (g *Game) ID() string                   { return g.id }
func (g *Game) State() State                 { return g.state }
func (g *Game) Position() rules.Position     { return g.pos }
func (g *Game) StartedAt() time.Time         { return g.started }
func (g *Game) Members() (white, black Conn) { return g.white, g.black }

// Log returns a copy of the accepted moves in order.
func (g *Game) Log() []LoggedMove {
	out := make([]LoggedMove, len(g.log))
	copy(out, g.log)
	return out
}

// SideOf returns the color played by c.
func (g *Game) SideOf(c Conn) (rules.Color, bool) {
	if c == nil {
		return "", false
	}
	switch c.ID() {
	case g.white.ID():
		return rules.White, true
	case g.black.ID():
		return rules.Black, true
	}
	return "", false
}

// Opponent returns the other member of the game.
func (g *Game) Opponent(c Conn) (Conn, bool) {
	side, ok := g.SideOf(c)
	if !ok {
		return nil, false
	}
	if side == rules.White {
		return g.black, true
	}
	return g.white, true
}

// Turn is derived from the log: an even number of moves means white to move.
func (g *Game) Turn() rules.Color {
	if len(g.log)%2 == 0 {
		return rules.White
	}
	return rules.Black
}

// Start sends INIT_GAME to both members.
func (g *Game) Start() {
	fen := g.pos.FEN()
	g.send(g.white, protocol.MustNew(protocol.TypeInitGame, chessdto.InitGame{Color: string(rules.White), GameID: g.id, FEN: fen}))
	g.send(g.black, protocol.MustNew(protocol.TypeInitGame, chessdto.InitGame{Color: string(rules.Black), GameID: g.id, FEN: fen}))
	g.logger.Info("relay_game_start",
		zap.String("game_id", g.id),
		zap.String("white", g.white.ID()),
		zap.String("black", g.black.ID()),
	)
}

// MakeMove validates mv for c and, when legal, applies it and broadcasts the
// move to both members, followed by GAME_OVER if the move ended the game.
// Rejected moves leave the game untouched and send nothing.
func (g *Game) MakeMove(c Conn, mv rules.Move) (Result, error) {
	side, ok := g.SideOf(c)
	if !ok {
		return Result{}, ErrNotMember
	}
	if g.state == StateTerminated {
		return Result{}, ErrTerminated
	}
	if side != g.Turn() {
		return Result{}, fmt.Errorf("%w: %s to move", ErrOutOfTurn, g.Turn())
	}

	applied, err := g.engine.Apply(g.pos, mv)
	if err != nil {
		switch {
		case errors.Is(err, rules.ErrMalformed):
			return Result{}, fmt.Errorf("%w: %w", ErrMalformedMove, err)
		case errors.Is(err, rules.ErrIllegal):
			return Result{}, fmt.Errorf("%w: %w", ErrIllegalMove, err)
		default:
			return Result{}, err
		}
	}

	g.pos = applied.Position
	g.log = append(g.log, LoggedMove{Color: side, UCI: applied.UCI, SAN: applied.SAN, At: g.now()})

	bc := chessdto.MoveBroadcast{
		GameID:    g.id,
		From:      applied.UCI[0:2],
		To:        applied.UCI[2:4],
		Promotion: applied.UCI[4:],
		SAN:       applied.SAN,
		UCI:       applied.UCI,
		Color:     string(side),
		Ply:       len(g.log),
		FEN:       applied.Position.FEN(),
		Check:     applied.Check,
		Opening:   applied.Opening,
	}
	g.broadcast(protocol.MustNew(protocol.TypeMove, bc))
	g.logger.Debug("relay_move",
		zap.String("game_id", g.id),
		zap.String("color", string(side)),
		zap.String("uci", applied.UCI),
		zap.String("san", applied.SAN),
		zap.Int("ply", len(g.log)),
	)

	res := Result{Move: bc, Check: applied.Check}
	if applied.Terminal {
		over := g.finish(reasonFromKind(applied.Kind), applied.Winner)
		g.broadcast(protocol.MustNew(protocol.TypeGameOver, over))
		res.Over = &over
	}
	return res, nil
}

// Resign ends the game in favour of c's opponent and notifies both members.
func (g *Game) Resign(c Conn) (chessdto.GameOver, error) {
	side, ok := g.SideOf(c)
	if !ok {
		return chessdto.GameOver{}, ErrNotMember
	}
	if g.state == StateTerminated {
		return chessdto.GameOver{}, ErrTerminated
	}
	over := g.finish(ReasonResignation, side.Opponent())
	g.broadcast(protocol.MustNew(protocol.TypeGameOver, over))
	return over, nil
}

// Abort ends the game because leaver disconnected. Only the remaining member
// is notified; the game is scored for them.
func (g *Game) Abort(leaver Conn) (chessdto.GameOver, error) {
	side, ok := g.SideOf(leaver)
	if !ok {
		return chessdto.GameOver{}, ErrNotMember
	}
	if g.state == StateTerminated {
		return chessdto.GameOver{}, ErrTerminated
	}
	over := g.finish(ReasonOpponentDisconnected, side.Opponent())
	survivor, _ := g.Opponent(leaver)
	g.send(survivor, protocol.MustNew(protocol.TypeGameOver, over))
	return over, nil
}

// PGN renders the game so far.
func (g *Game) PGN() string {
	result := g.result
	if result == "" {
		result = ResultOngoing
	}
	return buildPGN(g, result)
}

func (g *Game) finish(reason string, winner rules.Color) chessdto.GameOver {
	g.state = StateTerminated
	g.reason = reason
	g.winner = winner
	g.ended = g.now()
	switch winner {
	case rules.White:
		g.result = ResultWhiteWins
	case rules.Black:
		g.result = ResultBlackWins
	default:
		g.result = ResultDraw
	}
	over := chessdto.GameOver{
		GameID:  g.id,
		Reason:  reason,
		Result:  g.result,
		Winner:  string(winner),
		PGN:     buildPGN(g, g.result),
		Message: g.render(reason, winner),
	}
	g.logger.Info("relay_game_over",
		zap.String("game_id", g.id),
		zap.String("reason", reason),
		zap.String("result", g.result),
		zap.Int("plies", len(g.log)),
		zap.Duration("duration", g.ended.Sub(g.started)),
	)
	return over
}

func (g *Game) render(reason string, winner rules.Color) string {
	if g.messages == nil {
		return reason
	}
	msg, err := g.messages.Render("game_over."+reason, map[string]any{"Winner": string(winner)})
	if err != nil {
		g.logger.Debug("relay_message_missing", zap.String("key", "game_over."+reason), zap.Error(err))
		return reason
	}
	return msg
}

func (g *Game) broadcast(env protocol.Envelope) {
	g.send(g.white, env)
	g.send(g.black, env)
}

// send never fails the game: a member that cannot receive is logged and will
// surface as a disconnect.
func (g *Game) send(c Conn, env protocol.Envelope) {
	if err := c.Send(env); err != nil {
		g.logger.Warn("relay_send_failed",
			zap.String("game_id", g.id),
			zap.String("conn_id", c.ID()),
			zap.String("type", string(env.Type)),
			zap.Error(err),
		)
	}
}

func reasonFromKind(k rules.Kind) string {
	switch k {
	case rules.KindCheckmate:
		return ReasonCheckmate
	case rules.KindStalemate:
		return ReasonStalemate
	case rules.KindInsufficientMaterial:
		return ReasonInsufficientMaterial
	case rules.KindRepetition:
		return ReasonRepetition
	case rules.KindMoveRule:
		return ReasonMoveRule
	default:
		return ReasonDraw
	}
}
