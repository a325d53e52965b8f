package match

import (
	"context"
	"testing"
	"time"

	"github.com/park285/cheese-relay/internal/protocol"
	"github.com/park285/cheese-relay/internal/session"
	"github.com/park285/cheese-relay/internal/session/sessiontest"
	"github.com/park285/cheese-relay/pkg/chessdto"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(newMatchmaker(t), 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h, cancel
}

// drain waits until every event queued before it has been handled.
func drain(t *testing.T, h *Hub) chessdto.Stats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := h.Stats(ctx)
	require.NoError(t, err)
	return st
}

func TestHubScenario(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()
	a, b := sessiontest.NewRecorder("a"), sessiontest.NewRecorder("b")

	require.NoError(t, h.Join(ctx, a))
	require.NoError(t, h.Join(ctx, b))
	require.NoError(t, h.Message(ctx, a, []byte(`{"type":"INIT_GAME"}`)))
	require.NoError(t, h.Message(ctx, b, []byte(`{"type":"INIT_GAME"}`)))
	require.NoError(t, h.Message(ctx, a, []byte(`{"type":"move","payload":{"from":"e2","to":"e4","san":"e4","color":"w"}}`)))

	st := drain(t, h)
	require.Equal(t, chessdto.Stats{ActiveGames: 1, GamesStarted: 1, Connections: 2}, st)
	require.Equal(t, []protocol.Type{protocol.TypeWaiting, protocol.TypeInitGame, protocol.TypeMove}, a.Types())
	require.Equal(t, []protocol.Type{protocol.TypeInitGame, protocol.TypeMove}, b.Types())

	require.NoError(t, h.Message(ctx, b, []byte(`not json`)))
	require.NoError(t, h.Message(ctx, b, []byte(`{"type":"GAME_OVER"}`)))
	drain(t, h)
	sent := b.Sent()
	require.Len(t, sent, 4)
	require.Equal(t, protocol.TypeError, sent[2].Type)
	require.Equal(t, protocol.TypeError, sent[3].Type)

	h.Leave(b)
	st = drain(t, h)
	require.Equal(t, 1, st.Connections)
	require.Equal(t, 0, st.ActiveGames)
	var over chessdto.GameOver
	require.True(t, a.Last(protocol.TypeGameOver, &over))
	require.Equal(t, session.ReasonOpponentDisconnected, over.Reason)
}

type panicConn struct{ *sessiontest.Recorder }

func (p panicConn) Send(protocol.Envelope) error { panic("boom") }

func TestHubSurvivesPanic(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()
	bad := panicConn{sessiontest.NewRecorder("bad")}
	require.NoError(t, h.Join(ctx, bad))
	require.NoError(t, h.Message(ctx, bad, []byte(`{"type":"INIT_GAME"}`)))

	good := sessiontest.NewRecorder("good")
	require.NoError(t, h.Join(ctx, good))
	st := drain(t, h)
	require.Equal(t, 2, st.Connections)
}

func TestHubStopped(t *testing.T) {
	h, cancel := startHub(t)
	cancel()
	<-h.Done()
	require.ErrorIs(t, h.Join(context.Background(), sessiontest.NewRecorder("x")), ErrHubStopped)
	_, err := h.Stats(context.Background())
	require.ErrorIs(t, err, ErrHubStopped)
	h.Leave(sessiontest.NewRecorder("x"))
}
