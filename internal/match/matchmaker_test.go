package match

import (
	"errors"
	"fmt"
	"testing"

	"github.com/park285/cheese-relay/internal/msgcat"
	"github.com/park285/cheese-relay/internal/protocol"
	"github.com/park285/cheese-relay/internal/rules"
	"github.com/park285/cheese-relay/internal/session"
	"github.com/park285/cheese-relay/internal/session/sessiontest"
	"github.com/park285/cheese-relay/pkg/chessdto"
	"github.com/stretchr/testify/require"
)

var engine = rules.NewEngine(rules.WithoutOpenings())

func newMatchmaker(t *testing.T) *Matchmaker {
	t.Helper()
	cat, err := msgcat.New("")
	require.NoError(t, err)
	n := 0
	return NewMatchmaker(engine,
		WithMessages(cat, cat),
		WithIDs(func() string { n++; return fmt.Sprintf("game-%d", n) }),
	)
}

func lastError(t *testing.T, r *sessiontest.Recorder) chessdto.DomainError {
	t.Helper()
	var de chessdto.DomainError
	require.True(t, r.Last(protocol.TypeError, &de), "expected an error envelope, got %v", r.Types())
	return de
}

func TestFIFOPairing(t *testing.T) {
	m := newMatchmaker(t)
	a, b, c := sessiontest.NewRecorder("a"), sessiontest.NewRecorder("b"), sessiontest.NewRecorder("c")

	g, err := m.RequestGame(a)
	require.NoError(t, err)
	require.Nil(t, g)
	var w chessdto.Waiting
	require.True(t, a.Last(protocol.TypeWaiting, &w))
	require.Equal(t, 1, w.Position)

	g, err = m.RequestGame(b)
	require.NoError(t, err)
	require.NotNil(t, g)
	require.Equal(t, "game-1", g.ID())
	white, black := g.Members()
	require.Equal(t, "a", white.ID())
	require.Equal(t, "b", black.ID())

	var ai, bi chessdto.InitGame
	require.True(t, a.Last(protocol.TypeInitGame, &ai))
	require.True(t, b.Last(protocol.TypeInitGame, &bi))
	require.Equal(t, "white", ai.Color)
	require.Equal(t, "black", bi.Color)

	g, err = m.RequestGame(c)
	require.NoError(t, err)
	require.Nil(t, g)
	require.True(t, m.Waiting(c))
	require.Equal(t, chessdto.Stats{Waiting: 1, ActiveGames: 1, GamesStarted: 1}, m.Stats())
}

func TestRequestGameIsIdempotent(t *testing.T) {
	m := newMatchmaker(t)
	a, b := sessiontest.NewRecorder("a"), sessiontest.NewRecorder("b")

	_, err := m.RequestGame(a)
	require.NoError(t, err)
	_, err = m.RequestGame(a)
	require.ErrorIs(t, err, ErrInvalidPairing)
	require.Equal(t, 1, m.Stats().Waiting)

	_, err = m.RequestGame(b)
	require.NoError(t, err)
	_, err = m.RequestGame(a)
	require.ErrorIs(t, err, ErrInvalidPairing)
	_, err = m.RequestGame(b)
	require.ErrorIs(t, err, ErrInvalidPairing)

	require.Equal(t, 1, a.Count(protocol.TypeInitGame))
	require.Equal(t, 1, b.Count(protocol.TypeInitGame))
	require.Zero(t, a.Count(protocol.TypeError), "invalid pairing is never sent")
	require.Equal(t, 0, m.Stats().Waiting)
}

func TestDisconnectWhileWaiting(t *testing.T) {
	m := newMatchmaker(t)
	a, b := sessiontest.NewRecorder("a"), sessiontest.NewRecorder("b")
	_, _ = m.RequestGame(a)
	m.OnDisconnect(a)
	require.False(t, m.Waiting(a))

	g, err := m.RequestGame(b)
	require.NoError(t, err)
	require.Nil(t, g, "b must wait instead of pairing with a gone connection")
}

func TestDisconnectDuringGame(t *testing.T) {
	m := newMatchmaker(t)
	a, b := sessiontest.NewRecorder("a"), sessiontest.NewRecorder("b")
	_, _ = m.RequestGame(a)
	_, _ = m.RequestGame(b)

	m.OnDisconnect(a)
	require.Equal(t, 1, b.Count(protocol.TypeGameOver))
	var over chessdto.GameOver
	require.True(t, b.Last(protocol.TypeGameOver, &over))
	require.Equal(t, session.ReasonOpponentDisconnected, over.Reason)
	require.Equal(t, "black", over.Winner)
	require.Zero(t, a.Count(protocol.TypeGameOver))

	_, inGame := m.GameOf(b)
	require.False(t, inGame)
	require.Equal(t, 0, m.Stats().ActiveGames)

	// a second disconnect report is a no-op
	m.OnDisconnect(a)
	m.OnDisconnect(b)
	require.Equal(t, 1, b.Count(protocol.TypeGameOver))

	// the survivor may queue again
	g, err := m.RequestGame(b)
	require.NoError(t, err)
	require.Nil(t, g)
}

func TestMoveRouting(t *testing.T) {
	m := newMatchmaker(t)
	a, b := sessiontest.NewRecorder("a"), sessiontest.NewRecorder("b")
	_, _ = m.RequestGame(a)
	_, _ = m.RequestGame(b)

	require.NoError(t, m.HandleMove(a, chessdto.MoveRequest{From: "e2", To: "e4"}))
	for _, r := range []*sessiontest.Recorder{a, b} {
		var bc chessdto.MoveBroadcast
		require.True(t, r.Last(protocol.TypeMove, &bc))
		require.Equal(t, "e4", bc.SAN)
		require.Equal(t, "white", bc.Color)
	}

	err := m.HandleMove(a, chessdto.MoveRequest{From: "d2", To: "d4"})
	require.ErrorIs(t, err, session.ErrOutOfTurn)
	de := lastError(t, a)
	require.Equal(t, chessdto.CodeOutOfTurn, de.Code)
	require.Equal(t, "It is not your turn.", de.Message)
	require.Zero(t, b.Count(protocol.TypeError))

	err = m.HandleMove(b, chessdto.MoveRequest{From: "e7", To: "e4"})
	require.ErrorIs(t, err, session.ErrIllegalMove)
	de = lastError(t, b)
	require.Equal(t, chessdto.CodeIllegalMove, de.Code)
	require.Equal(t, "e7e4 is not a legal move.", de.Message)

	require.Equal(t, 1, a.Count(protocol.TypeMove))
	require.Equal(t, 1, b.Count(protocol.TypeMove))

	// the turn has passed to black
	require.NoError(t, m.HandleMove(b, chessdto.MoveRequest{From: "e7", To: "e5"}))
	require.Equal(t, 2, a.Count(protocol.TypeMove))
	require.Equal(t, 2, b.Count(protocol.TypeMove))
}

func TestMoveWithoutGame(t *testing.T) {
	m := newMatchmaker(t)
	a := sessiontest.NewRecorder("a")
	err := m.HandleMove(a, chessdto.MoveRequest{From: "e2", To: "e4"})
	require.ErrorIs(t, err, ErrNotInGame)
	require.Equal(t, chessdto.CodeNotInGame, lastError(t, a).Code)
	require.ErrorIs(t, m.Resign(a), ErrNotInGame)
	require.ErrorIs(t, m.LegalMoves(a, "e2"), ErrNotInGame)
}

func TestCheckmateRemovesGame(t *testing.T) {
	m := newMatchmaker(t)
	a, b := sessiontest.NewRecorder("a"), sessiontest.NewRecorder("b")
	_, _ = m.RequestGame(a)
	_, _ = m.RequestGame(b)

	require.NoError(t, m.HandleMove(a, chessdto.MoveRequest{From: "f2", To: "f3"}))
	require.NoError(t, m.HandleMove(b, chessdto.MoveRequest{From: "e7", To: "e5"}))
	require.NoError(t, m.HandleMove(a, chessdto.MoveRequest{From: "g2", To: "g4"}))
	require.NoError(t, m.HandleMove(b, chessdto.MoveRequest{From: "d8", To: "h4"}))

	for _, r := range []*sessiontest.Recorder{a, b} {
		types := r.Types()
		require.Equal(t, protocol.TypeMove, types[len(types)-2])
		require.Equal(t, protocol.TypeGameOver, types[len(types)-1])
		var over chessdto.GameOver
		require.True(t, r.Last(protocol.TypeGameOver, &over))
		require.Equal(t, session.ReasonCheckmate, over.Reason)
		require.Equal(t, "0-1", over.Result)
		require.Equal(t, "Checkmate. black wins.", over.Message)
	}
	require.Equal(t, 0, m.Stats().ActiveGames)

	err := m.HandleMove(a, chessdto.MoveRequest{From: "e2", To: "e4"})
	require.ErrorIs(t, err, ErrNotInGame)
	require.Equal(t, 1, a.Count(protocol.TypeGameOver))
}

func TestResignAndLegalMoves(t *testing.T) {
	m := newMatchmaker(t)
	a, b := sessiontest.NewRecorder("a"), sessiontest.NewRecorder("b")
	_, _ = m.RequestGame(a)
	_, _ = m.RequestGame(b)

	require.NoError(t, m.LegalMoves(b, "b1"))
	var lm chessdto.LegalMoves
	require.True(t, b.Last(protocol.TypeLegalMoves, &lm))
	require.Equal(t, []string{"a3", "c3"}, lm.Targets)
	require.Zero(t, a.Count(protocol.TypeLegalMoves))

	err := m.LegalMoves(b, "zz")
	require.ErrorIs(t, err, rules.ErrMalformed)
	require.Equal(t, chessdto.CodeMalformedMessage, lastError(t, b).Code)

	require.NoError(t, m.Resign(b))
	var over chessdto.GameOver
	require.True(t, a.Last(protocol.TypeGameOver, &over))
	require.Equal(t, session.ReasonResignation, over.Reason)
	require.Equal(t, "white", over.Winner)
	require.Equal(t, 1, b.Count(protocol.TypeGameOver))
	require.Equal(t, 0, m.Stats().ActiveGames)
}

func TestCodeFor(t *testing.T) {
	cases := map[error]string{
		ErrNotInGame:                 chessdto.CodeNotInGame,
		session.ErrNotMember:         chessdto.CodeNotMember,
		session.ErrTerminated:        chessdto.CodeGameOver,
		session.ErrOutOfTurn:         chessdto.CodeOutOfTurn,
		session.ErrIllegalMove:       chessdto.CodeIllegalMove,
		session.ErrMalformedMove:     chessdto.CodeMalformedMessage,
		protocol.ErrMalformed:        chessdto.CodeMalformedMessage,
		protocol.ErrUnknownType:      chessdto.CodeUnknownType,
		errors.New("something else"): chessdto.CodeInternal,
	}
	for err, want := range cases {
		require.Equal(t, want, CodeFor(fmt.Errorf("wrapped: %w", err)), err.Error())
	}
}
