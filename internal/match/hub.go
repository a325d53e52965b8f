package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/park285/cheese-relay/internal/protocol"
	"github.com/park285/cheese-relay/internal/session"
	"github.com/park285/cheese-relay/pkg/chessdto"
	"go.uber.org/zap"
)

// ErrHubStopped is returned by Hub methods once Run has returned.
var ErrHubStopped = errors.New("hub stopped")

type eventKind int

const (
	evJoin eventKind = iota
	evMessage
	evLeave
	evStats
)

type event struct {
	kind  eventKind
	conn  session.Conn
	raw   []byte
	reply chan chessdto.Stats
}

// Hub is the single event loop that owns a Matchmaker. Transport goroutines
// hand it join, message and leave events; Run applies them one at a time.
type Hub struct {
	mm     *Matchmaker
	logger *zap.Logger
	events chan event
	done   chan struct{}
	conns  map[string]session.Conn
}

// NewHub creates a hub around mm. buffer sizes the inbound event queue.
func NewHub(mm *Matchmaker, buffer int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		mm:     mm,
		logger: logger,
		events: make(chan event, buffer),
		done:   make(chan struct{}),
		conns:  make(map[string]session.Conn),
	}
}

// Run processes events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	h.logger.Info("relay_hub_start")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("relay_hub_stop", zap.Int("connections", len(h.conns)))
			return nil
		case ev := <-h.events:
			h.dispatch(ev)
		}
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Join registers conn. It does not request a game; the client does that with
// INIT_GAME.
func (h *Hub) Join(ctx context.Context, conn session.Conn) error {
	return h.enqueue(ctx, event{kind: evJoin, conn: conn})
}

// Message hands one raw client frame to the loop.
func (h *Hub) Message(ctx context.Context, conn session.Conn, raw []byte) error {
	return h.enqueue(ctx, event{kind: evMessage, conn: conn, raw: raw})
}

// Leave reports that conn is gone. It waits for the loop to accept the event
// unless the hub has stopped.
func (h *Hub) Leave(conn session.Conn) {
	_ = h.enqueue(context.Background(), event{kind: evLeave, conn: conn})
}

// Stats returns a snapshot taken on the loop.
func (h *Hub) Stats(ctx context.Context) (chessdto.Stats, error) {
	reply := make(chan chessdto.Stats, 1)
	if err := h.enqueue(ctx, event{kind: evStats, reply: reply}); err != nil {
		return chessdto.Stats{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return chessdto.Stats{}, ctx.Err()
	case <-h.done:
		return chessdto.Stats{}, ErrHubStopped
	}
}

func (h *Hub) enqueue(ctx context.Context, ev event) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
}

// dispatch runs one event. A panic is logged and the loop keeps going.
func (h *Hub) dispatch(ev event) {
	defer func() {
		if r := recover(); r != nil {
			connID := ""
			if ev.conn != nil {
				connID = ev.conn.ID()
			}
			h.logger.Error("relay_hub_panic",
				zap.String("conn_id", connID),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"),
			)
		}
	}()

	switch ev.kind {
	case evJoin:
		h.conns[ev.conn.ID()] = ev.conn
		h.logger.Debug("relay_conn_join", zap.String("conn_id", ev.conn.ID()), zap.Int("connections", len(h.conns)))
	case evLeave:
		delete(h.conns, ev.conn.ID())
		h.mm.OnDisconnect(ev.conn)
		h.logger.Debug("relay_conn_leave", zap.String("conn_id", ev.conn.ID()), zap.Int("connections", len(h.conns)))
	case evMessage:
		h.handleMessage(ev.conn, ev.raw)
	case evStats:
		st := h.mm.Stats()
		st.Connections = len(h.conns)
		ev.reply <- st
	}
}

func (h *Hub) handleMessage(conn session.Conn, raw []byte) {
	in, err := protocol.Decode(raw)
	if err != nil {
		h.logger.Debug("relay_frame_dropped", zap.String("conn_id", conn.ID()), zap.Error(err))
		h.mm.Reject(conn, err)
		return
	}
	switch in.Type {
	case protocol.TypeInitGame:
		if _, err := h.mm.RequestGame(conn); err != nil {
			h.logger.Debug("relay_request_ignored", zap.String("conn_id", conn.ID()), zap.Error(err))
		}
	case protocol.TypeMove:
		_ = h.mm.HandleMove(conn, *in.Move)
	case protocol.TypeResign:
		_ = h.mm.Resign(conn)
	case protocol.TypeLegalMoves:
		_ = h.mm.LegalMoves(conn, in.Square)
	}
}
