// Package match pairs waiting connections into games and routes client
// requests to the game they belong to.
package match

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/park285/cheese-relay/internal/protocol"
	"github.com/park285/cheese-relay/internal/rules"
	"github.com/park285/cheese-relay/internal/session"
	"github.com/park285/cheese-relay/pkg/chessdto"
	"go.uber.org/zap"
)

var (
	// ErrInvalidPairing is returned when a connection asks for a game while
	// already waiting or playing. It is never sent to the client.
	ErrInvalidPairing = errors.New("connection is already waiting or in a game")
	ErrNotInGame      = errors.New("connection is not in a game")
)

// Renderer renders catalog texts; *msgcat.Catalog satisfies it.
type Renderer interface {
	RenderOr(key string, data any, fallback string) string
}

type Option func(*Matchmaker)

func WithLogger(l *zap.Logger) Option {
	return func(m *Matchmaker) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMessages sets the catalog used for rejection and GAME_OVER texts.
func WithMessages(r Renderer, gameMessages session.Messages) Option {
	return func(m *Matchmaker) {
		m.messages = r
		m.gameMessages = gameMessages
	}
}

// WithIDs overrides game id generation.
func WithIDs(next func() string) Option {
	return func(m *Matchmaker) {
		if next != nil {
			m.newID = next
		}
	}
}

// WithSessionOptions appends options passed to every new session.Game.
func WithSessionOptions(opts ...session.Option) Option {
	return func(m *Matchmaker) { m.sessionOpts = append(m.sessionOpts, opts...) }
}

// Matchmaker owns the waiting queue and the registry of running games.
// It is not safe for concurrent use; Hub serialises every call.
type Matchmaker struct {
	engine       *rules.Engine
	logger       *zap.Logger
	messages     Renderer
	gameMessages session.Messages
	newID        func() string
	sessionOpts  []session.Option

	queue   []session.Conn
	byConn  map[string]*session.Game
	games   map[string]*session.Game
	started uint64
}

func NewMatchmaker(engine *rules.Engine, opts ...Option) *Matchmaker {
	if engine == nil {
		engine = rules.NewEngine()
	}
	m := &Matchmaker{
		engine: engine,
		logger: zap.NewNop(),
		newID:  func() string { return uuid.NewString() },
		byConn: make(map[string]*session.Game),
		games:  make(map[string]*session.Game),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RequestGame queues conn, or pairs it with the connection that has waited
// longest. The waiting connection plays white. A connection that is already
// queued or playing is left alone and ErrInvalidPairing is returned.
func (m *Matchmaker) RequestGame(conn session.Conn) (*session.Game, error) {
	if conn == nil {
		return nil, ErrInvalidPairing
	}
	if _, ok := m.byConn[conn.ID()]; ok {
		return nil, fmt.Errorf("%w: %s is playing", ErrInvalidPairing, conn.ID())
	}
	if m.queued(conn) >= 0 {
		return nil, fmt.Errorf("%w: %s is waiting", ErrInvalidPairing, conn.ID())
	}

	if len(m.queue) == 0 {
		m.queue = append(m.queue, conn)
		m.send(conn, protocol.MustNew(protocol.TypeWaiting, chessdto.Waiting{Position: len(m.queue)}))
		m.logger.Info("relay_queue_join", zap.String("conn_id", conn.ID()), zap.Int("waiting", len(m.queue)))
		return nil, nil
	}

	white := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]

	opts := append([]session.Option{session.WithLogger(m.logger)}, m.sessionOpts...)
	if m.gameMessages != nil {
		opts = append(opts, session.WithMessages(m.gameMessages))
	}
	g, err := session.New(m.newID(), m.engine, white, conn, opts...)
	if err != nil {
		// white goes back to the head of the queue
		m.queue = append([]session.Conn{white}, m.queue...)
		return nil, err
	}
	m.byConn[white.ID()] = g
	m.byConn[conn.ID()] = g
	m.games[g.ID()] = g
	m.started++
	g.Start()
	return g, nil
}

// OnDisconnect forgets conn. A waiting connection leaves the queue; a playing
// one aborts its game, which notifies the opponent once and frees both.
func (m *Matchmaker) OnDisconnect(conn session.Conn) {
	if conn == nil {
		return
	}
	if i := m.queued(conn); i >= 0 {
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
		m.logger.Info("relay_queue_leave", zap.String("conn_id", conn.ID()))
	}
	g, ok := m.byConn[conn.ID()]
	if !ok {
		return
	}
	if _, err := g.Abort(conn); err != nil && !errors.Is(err, session.ErrTerminated) {
		m.logger.Warn("relay_abort_failed", zap.String("game_id", g.ID()), zap.Error(err))
	}
	m.remove(g)
}

// HandleMove routes a move to conn's game. Rejections are answered to conn
// only and returned.
func (m *Matchmaker) HandleMove(conn session.Conn, req chessdto.MoveRequest) error {
	g, ok := m.byConn[conn.ID()]
	if !ok {
		m.Reject(conn, ErrNotInGame)
		return ErrNotInGame
	}
	mv := rules.Move{From: req.From, To: req.To, Promotion: req.Promotion}
	res, err := g.MakeMove(conn, mv)
	if err != nil {
		m.logger.Debug("relay_move_rejected",
			zap.String("game_id", g.ID()),
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
		)
		m.rejectMove(conn, err, mv)
		return err
	}
	if res.Over != nil {
		m.remove(g)
	}
	return nil
}

// Resign ends conn's game in favour of the opponent.
func (m *Matchmaker) Resign(conn session.Conn) error {
	g, ok := m.byConn[conn.ID()]
	if !ok {
		m.Reject(conn, ErrNotInGame)
		return ErrNotInGame
	}
	if _, err := g.Resign(conn); err != nil {
		m.Reject(conn, err)
		return err
	}
	m.remove(g)
	return nil
}

// LegalMoves answers conn with the destinations of the piece on square in its
// current game.
func (m *Matchmaker) LegalMoves(conn session.Conn, square string) error {
	g, ok := m.byConn[conn.ID()]
	if !ok {
		m.Reject(conn, ErrNotInGame)
		return ErrNotInGame
	}
	targets, err := m.engine.LegalMoves(g.Position(), square)
	if err != nil {
		err = fmt.Errorf("%w: %w", session.ErrMalformedMove, err)
		m.Reject(conn, err)
		return err
	}
	m.send(conn, protocol.MustNew(protocol.TypeLegalMoves, chessdto.LegalMoves{Square: square, Targets: targets}))
	return nil
}

// Stats reports queue and registry sizes. Connections is left to the caller.
func (m *Matchmaker) Stats() chessdto.Stats {
	return chessdto.Stats{
		Waiting:      len(m.queue),
		ActiveGames:  len(m.games),
		GamesStarted: m.started,
	}
}

// GameOf returns the game conn is playing, if any.
func (m *Matchmaker) GameOf(conn session.Conn) (*session.Game, bool) {
	g, ok := m.byConn[conn.ID()]
	return g, ok
}

// Waiting reports whether conn is queued.
func (m *Matchmaker) Waiting(conn session.Conn) bool { return m.queued(conn) >= 0 }

// Reject sends an "error" envelope describing err to conn.
func (m *Matchmaker) Reject(conn session.Conn, err error) {
	m.reject(conn, err, nil)
}

func (m *Matchmaker) rejectMove(conn session.Conn, err error, mv rules.Move) {
	m.reject(conn, err, map[string]any{"Move": mv.From + mv.To + mv.Promotion})
}

func (m *Matchmaker) reject(conn session.Conn, err error, data map[string]any) {
	code := CodeFor(err)
	msg := code
	if m.messages != nil {
		msg = m.messages.RenderOr("reject."+code, data, code)
	}
	m.send(conn, protocol.Reject(code, msg))
}

func (m *Matchmaker) remove(g *session.Game) {
	white, black := g.Members()
	if m.byConn[white.ID()] == g {
		delete(m.byConn, white.ID())
	}
	if m.byConn[black.ID()] == g {
		delete(m.byConn, black.ID())
	}
	delete(m.games, g.ID())
}

func (m *Matchmaker) queued(conn session.Conn) int {
	for i, c := range m.queue {
		if c.ID() == conn.ID() {
			return i
		}
	}
	return -1
}

func (m *Matchmaker) send(conn session.Conn, env protocol.Envelope) {
	if err := conn.Send(env); err != nil {
		m.logger.Warn("relay_send_failed",
			zap.String("conn_id", conn.ID()),
			zap.String("type", string(env.Type)),
			zap.Error(err),
		)
	}
}

// CodeFor maps an error to the rejection code sent on the wire.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrNotInGame):
		return chessdto.CodeNotInGame
	case errors.Is(err, session.ErrNotMember):
		return chessdto.CodeNotMember
	case errors.Is(err, session.ErrTerminated):
		return chessdto.CodeGameOver
	case errors.Is(err, session.ErrOutOfTurn):
		return chessdto.CodeOutOfTurn
	case errors.Is(err, session.ErrIllegalMove):
		return chessdto.CodeIllegalMove
	case errors.Is(err, session.ErrMalformedMove), errors.Is(err, protocol.ErrMalformed):
		return chessdto.CodeMalformedMessage
	case errors.Is(err, protocol.ErrUnknownType):
		return chessdto.CodeUnknownType
	default:
		return chessdto.CodeInternal
	}
}
