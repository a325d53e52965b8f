// Package relayws adapts nhooyr.io/websocket connections to session.Conn.
//
// Each Conn runs a reader (feeding the hub), a writer (draining a bounded
// outbound queue) and a pinger. Send never blocks: a full queue closes the
// connection.
package relayws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-relay/internal/protocol"
	"github.com/park285/cheese-relay/internal/session"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

// Events receives what a Conn reads. *match.Hub satisfies it.
type Events interface {
	Join(ctx context.Context, conn session.Conn) error
	Message(ctx context.Context, conn session.Conn, raw []byte) error
	Leave(conn session.Conn)
}

type Options struct {
	SendBuffer   int
	ReadLimit    int64
	PingInterval time.Duration // 0 disables pings
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.SendBuffer < 1 {
		o.SendBuffer = 64
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4096
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type Conn struct {
	id     string
	remote string
	ws     *websocket.Conn
	opts   Options
	logger *zap.Logger

	out  chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeCode   websocket.StatusCode
	closeReason string
}

// New wraps an accepted websocket. Call Serve to run it.
func New(ws *websocket.Conn, remote string, opts Options) *Conn {
	opts = opts.withDefaults()
	id := uuid.NewString()
	ws.SetReadLimit(opts.ReadLimit)
	return &Conn{
		id:     id,
		remote: remote,
		ws:     ws,
		opts:   opts,
		logger: opts.Logger.With(zap.String("conn_id", id)),
		out:    make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) RemoteAddr() string { return c.remote }

// Done is closed once the connection starts closing.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send queues env for the writer.
func (c *Conn) Send(env protocol.Envelope) error {
	b, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- b:
		return nil
	default:
		c.Close(websocket.StatusPolicyViolation, "slow consumer")
		return ErrSlowConsumer
	}
}

// Close marks the connection closed. It never blocks; the writer performs the
// close handshake.
func (c *Conn) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeReason = code, reason
		close(c.done)
	})
}

// Serve registers the connection with events and runs it until the peer goes
// away, ctx ends or Close is called. Leave is always reported once Join
// succeeded.
func (c *Conn) Serve(ctx context.Context, events Events) error {
	if err := events.Join(ctx, c); err != nil {
		c.Close(websocket.StatusTryAgainLater, "server shutting down")
		_ = c.ws.Close(websocket.StatusTryAgainLater, "server shutting down")
		return err
	}
	c.logger.Info("relay_conn_open", zap.String("remote", c.remote))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx)
	}()
	if c.opts.PingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.pingLoop(ctx)
		}()
	}

	err := c.readLoop(ctx, events)
	c.Close(websocket.StatusNormalClosure, "")
	events.Leave(c)
	cancel()
	wg.Wait()

	c.logger.Info("relay_conn_close",
		zap.String("remote", c.remote),
		zap.Int("code", int(c.closeCode)),
		zap.String("reason", c.closeReason),
		zap.NamedError("read_error", err),
	)
	if isNormalClose(err) {
		return nil
	}
	return err
}

func (c *Conn) readLoop(ctx context.Context, events Events) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			return err
		}
		if err := events.Message(ctx, c, data); err != nil {
			c.Close(websocket.StatusGoingAway, "server shutting down")
			return err
		}
	}
}

func (c *Conn) writeLoop(ctx context.Context) {
	defer func() { _ = c.ws.Close(c.closeCode, c.closeReason) }()
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			c.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case b := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				c.logger.Debug("relay_write_failed", zap.Error(err))
				c.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// pingLoop closes the connection after two consecutive failed pings.
func (c *Conn) pingLoop(ctx context.Context) {
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			c.logger.Debug("relay_ping_failed", zap.Int("failures", failures), zap.Error(err))
			if failures >= 2 {
				c.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func isNormalClose(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
