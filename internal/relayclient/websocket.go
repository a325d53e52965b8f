package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/park285/cheese-relay/internal/protocol"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type MessageCallback func(env protocol.Envelope)

type callbackEntry struct {
	id       int
	callback MessageCallback
}

// WebSocket is one player connection. Received envelopes go to registered
// callbacks and to an inbox read with Next / Expect.
type WebSocket struct {
	conn   *websocket.Conn
	logger *zap.Logger

	msgCbs []callbackEntry
	nextID int
	cbM    sync.RWMutex

	inbox   chan protocol.Envelope
	readErr error

	pingInterval time.Duration

	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	rootCtx    context.Context
	rootCancel context.CancelFunc
}

type WSOption func(*WebSocket)

// WithPingInterval enables client pings; 0 disables them.
func WithPingInterval(d time.Duration) WSOption {
	return func(ws *WebSocket) { ws.pingInterval = d }
}

func WithLogger(l *zap.Logger) WSOption {
	return func(ws *WebSocket) {
		if l != nil {
			ws.logger = l
		}
	}
}

// Dial connects to a relay websocket URL such as ws://localhost:8080/ws.
func Dial(ctx context.Context, wsURL string, opts ...WSOption) (*WebSocket, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	ws := &WebSocket{
		conn:   conn,
		logger: zap.NewNop(),
		inbox:  make(chan protocol.Envelope, 64),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ws)
	}
	ws.rootCtx, ws.rootCancel = context.WithCancel(context.Background())
	ws.wg.Add(1)
	go ws.listen()
	if ws.pingInterval > 0 {
		ws.wg.Add(1)
		go ws.pingLoop()
	}
	return ws, nil
}

// Send writes one envelope with payload marshalled to JSON.
func (ws *WebSocket) Send(ctx context.Context, t protocol.Type, payload any) error {
	env, err := protocol.New(t, payload)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, ws.conn, env)
}

func (ws *WebSocket) OnMessage(cb MessageCallback) int {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.nextID++
	ws.msgCbs = append(ws.msgCbs, callbackEntry{id: ws.nextID, callback: cb})
	return ws.nextID
}

func (ws *WebSocket) RemoveMessageCallback(id int) {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	for i, cb := range ws.msgCbs {
		if cb.id == id {
			ws.msgCbs = append(ws.msgCbs[:i], ws.msgCbs[i+1:]...)
			break
		}
	}
}

// Next returns the next received envelope. Once the connection is gone it
// returns the read error.
func (ws *WebSocket) Next(ctx context.Context) (protocol.Envelope, error) {
	select {
	case env, ok := <-ws.inbox:
		if !ok {
			if ws.readErr != nil {
				return protocol.Envelope{}, ws.readErr
			}
			return protocol.Envelope{}, errors.New("connection closed")
		}
		return env, nil
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

// Expect skips envelopes until one of type t arrives and decodes its payload
// into v (if non-nil). An "error" envelope while waiting for something else
// is returned as a *chessdto.DomainError.
func (ws *WebSocket) Expect(ctx context.Context, t protocol.Type, v any) error {
	for {
		env, err := ws.Next(ctx)
		if err != nil {
			return err
		}
		if env.Type == protocol.TypeError && t != protocol.TypeError {
			return decodeDomainError(env)
		}
		if env.Type != t {
			continue
		}
		if v != nil && len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, v); err != nil {
				return fmt.Errorf("decode %s: %w", t, err)
			}
		}
		return nil
	}
}

func (ws *WebSocket) listen() {
	defer ws.wg.Done()
	defer close(ws.inbox)
	for {
		var env protocol.Envelope
		if err := wsjson.Read(ws.rootCtx, ws.conn, &env); err != nil {
			if !ws.isStopping() {
				ws.readErr = err
				ws.logger.Debug("relayclient_read_failed", zap.Error(err))
			}
			return
		}

		ws.cbM.RLock()
		callbacks := make([]callbackEntry, len(ws.msgCbs))
		copy(callbacks, ws.msgCbs)
		ws.cbM.RUnlock()
		for _, entry := range callbacks {
			if entry.callback != nil {
				entry.callback(env)
			}
		}

		select {
		case ws.inbox <- env:
		default:
			ws.logger.Warn("relayclient_inbox_full", zap.String("type", string(env.Type)))
		}
	}
}

func (ws *WebSocket) pingLoop() {
	defer ws.wg.Done()
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	consecutivePingFailures := 0
	for {
		select {
		case <-ws.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(ws.rootCtx, 3*time.Second)
			err := ws.conn.Ping(ctx)
			cancel()
			if err == nil {
				consecutivePingFailures = 0
				continue
			}
			consecutivePingFailures++
			if consecutivePingFailures >= 2 {
				_ = ws.conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

// Close sends a normal closure and waits for the background goroutines.
func (ws *WebSocket) Close(ctx context.Context) error {
	ws.stopOnce.Do(func() { close(ws.stopCh) })
	err := ws.conn.Close(websocket.StatusNormalClosure, "close")

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		ws.rootCancel()
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil
		}
		return err
	}
}

func (ws *WebSocket) isStopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}
