// Package gateway serves the local control API: health, account status,
// sessions, pairing approval and manual sends.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/logging"
	"github.com/soyeahso/meshgate/internal/store"
	"github.com/soyeahso/meshgate/internal/version"
)

// ChannelSource exposes the running accounts. channel.Registry implements it.
type ChannelSource interface {
	Status() []domain.ChannelStatus
	Get(accountID string) (domain.Channel, bool)
}

// Server is the meshgate control HTTP server.
type Server struct {
	cfg     config.GatewayConfig
	token   string
	log     *logging.Logger
	version string

	channels ChannelSource
	pairing  store.PairingStore
	sessions store.SessionStore

	startedAt   time.Time
	authLimiter *authRateLimiter

	mu   sync.Mutex
	addr string
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithChannels sets the account registry for status and send.
func WithChannels(ch ChannelSource) ServerOption {
	return func(s *Server) { s.channels = ch }
}

// WithPairing sets the pairing store for approval endpoints.
func WithPairing(p store.PairingStore) ServerOption {
	return func(s *Server) { s.pairing = p }
}

// WithSessions sets the session store for the sessions endpoint.
func WithSessions(ss store.SessionStore) ServerOption {
	return func(s *Server) { s.sessions = ss }
}

// New creates a control server.
func New(cfg config.GatewayConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		token:       ResolveToken(cfg),
		log:         log.Sub("gateway"),
		version:     version.Current().Version,
		startedAt:   time.Now(),
		authLimiter: newAuthRateLimiter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.token, s.authLimiter)
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // /send waits out chunk pacing
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	if s.token == "" && s.cfg.Bind == "lan" {
		s.log.Warn().Msg("control server is reachable on the LAN without a token")
	}
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Bool("auth", s.token != "").
		Msg("control server listening")

	go s.authLimiter.run(ctx)
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down control server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
