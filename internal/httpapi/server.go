// Package httpapi serves the relay's HTTP surface: the WebSocket endpoint,
// a health probe and a stats snapshot.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/park285/cheese-relay/internal/admission"
	"github.com/park285/cheese-relay/internal/relayws"
	"github.com/park285/cheese-relay/pkg/chessdto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Hub is what the server needs from the event loop. *match.Hub satisfies it.
type Hub interface {
	relayws.Events
	Stats(ctx context.Context) (chessdto.Stats, error)
}

type Config struct {
	WSPath           string
	AllowedOrigins   []string
	TrustProxyHeader bool
	Conn             relayws.Options
}

type Server struct {
	cfg     Config
	hub     Hub
	limiter admission.Limiter
	conns   *relayws.Registry
	logger  *zap.Logger
}

func New(cfg Config, hub Hub, limiter admission.Limiter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = admission.Unlimited{}
	}
	if cfg.WSPath == "" {
		cfg.WSPath = "/ws"
	}
	if cfg.Conn.Logger == nil {
		cfg.Conn.Logger = logger
	}
	return &Server{cfg: cfg, hub: hub, limiter: limiter, conns: relayws.NewRegistry(), logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.WSPath, s.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	return mux
}

// CloseAll closes every open WebSocket with StatusGoingAway.
func (s *Server) CloseAll(reason string) int { return s.conns.CloseAll(reason) }

// OpenConns returns the number of live WebSockets.
func (s *Server) OpenConns() int { return s.conns.Len() }

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)
	release, err := s.limiter.Acquire(r.Context(), ip)
	switch {
	case errors.Is(err, admission.ErrLimited):
		s.logger.Info("relay_admission_denied", zap.String("remote", ip))
		writeJSON(w, http.StatusTooManyRequests, chessdto.DomainError{Code: "too_many_connections", Message: "too many connections from this address", Retryable: true})
		return
	case err != nil:
		// fail open: a broken limiter must not take the relay down
		s.logger.Warn("relay_admission_error", zap.String("remote", ip), zap.Error(err))
		release = func() {}
	}
	defer release()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		s.logger.Debug("relay_accept_failed", zap.String("remote", ip), zap.Error(err))
		return
	}
	conn := relayws.New(ws, ip, s.cfg.Conn)
	s.conns.Add(conn)
	defer s.conns.Remove(conn)
	if err := conn.Serve(r.Context(), s.hub); err != nil {
		s.logger.Debug("relay_conn_error", zap.String("conn_id", conn.ID()), zap.String("remote", conn.RemoteAddr()), zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	st, err := s.hub.Stats(ctx)
	if err != nil {
		s.logger.Warn("relay_stats_failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, chessdto.DomainError{Code: chessdto.CodeInternal, Message: err.Error(), Retryable: true})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) clientIP(r *http.Request) string {
	if s.cfg.TrustProxyHeader {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
