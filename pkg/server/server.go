package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/agent"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/config"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy/policysync"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/security/auth"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/server/middleware"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/health"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/metrics"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/tracing"
)

// Routes served besides the health and metrics paths.
const (
	StatusPath  = "/v1/status"
	SyncPath    = "/v1/sync"
	FlushPath   = "/v1/flush"
	VersionPath = "/version"
)

// Agent is the part of the agent the status server exposes.
type Agent interface {
	Status(ctx context.Context) (agent.Status, error)
	TriggerSync(ctx context.Context) (policysync.State, error)
	FlushPending(ctx context.Context) error
}

// BuildInfo is reported on /version.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// SyncResponse is the body of a successful POST /v1/sync.
type SyncResponse struct {
	State policysync.State `json:"state"`
}

// Server is the agent's local status server.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	logger  *slog.Logger

	mu           sync.Mutex
	httpServer   *http.Server
	listener     net.Listener
	running      bool
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// New builds the status server. checker and collector may be nil, in which
// case the corresponding routes are not mounted or serve 404.
func New(cfg *config.Config, ag Agent, checker *health.Checker, collector *metrics.Collector, build BuildInfo, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if ag == nil {
		return nil, errors.New("agent cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:       cfg.Server,
		logger:       logger.With("component", "server"),
		shutdownChan: make(chan struct{}),
	}

	mux := http.NewServeMux()
	if checker != nil {
		health.Register(mux, checker, &cfg.Telemetry.Health)
	}
	if cfg.Telemetry.Metrics.Enabled {
		mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
	}
	mux.HandleFunc(VersionPath, health.VersionHandler(build.Version, build.Commit, build.BuildTime))

	api := http.NewServeMux()
	api.HandleFunc("GET "+StatusPath, s.handleStatus(ag))
	api.HandleFunc("POST "+SyncPath, s.handleSync(ag))
	api.HandleFunc("POST "+FlushPath, s.handleFlush(ag))

	var apiHandler http.Handler = api
	if cfg.Security.StatusAuth.Enabled {
		keys := auth.KeysFromConfig(&cfg.Security.StatusAuth)
		if len(keys) == 0 {
			return nil, errors.New("status_auth is enabled but no API keys are configured")
		}
		apiHandler = auth.NewAPIKeyMiddleware(auth.NewAPIKeyValidator(keys), nil, logger).Handle(apiHandler)
	}
	mux.Handle(StatusPath, apiHandler)
	mux.Handle(SyncPath, apiHandler)
	mux.Handle(FlushPath, apiHandler)

	quiet := []string{cfg.Telemetry.Health.LivenessPath, cfg.Telemetry.Health.ReadinessPath, cfg.Telemetry.Metrics.Path}

	var h http.Handler = mux
	h = tracing.HTTPMiddleware(h)
	h = middleware.Recovery(s.logger)(h)
	h = middleware.Logging(s.logger, quiet...)(h)
	h = middleware.RequestID(h)
	s.handler = h

	return s, nil
}

// Start listens on the configured address and serves until ctx is
// cancelled, Shutdown is called or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting status server", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case <-s.shutdownChan:
		return nil
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown gracefully stops the server, waiting at most the configured
// shutdown timeout for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		defer close(s.shutdownChan)

		s.mu.Lock()
		srv := s.httpServer
		running := s.running
		s.running = false
		s.mu.Unlock()
		if !running || srv == nil {
			return
		}

		shutdownCtx := ctx
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
		s.logger.Info("status server stopped")
	})

	return shutdownErr
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) handleStatus(ag Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := ag.Status(r.Context())
		if err != nil {
			s.logger.ErrorContext(r.Context(), "failed to collect status", "error", err)
			middleware.WriteError(w, http.StatusInternalServerError, "status unavailable")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleSync(ag Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := ag.TriggerSync(r.Context())
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, SyncResponse{State: state})
		case errors.Is(err, agent.ErrSyncDisabled):
			middleware.WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, policysync.ErrRateLimited):
			w.Header().Set("Retry-After", "10")
			middleware.WriteError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, policysync.ErrInProgress):
			middleware.WriteError(w, http.StatusConflict, err.Error())
		default:
			// The cycle ran and failed or was rejected; report its outcome.
			s.logger.WarnContext(r.Context(), "triggered policy sync failed", "state", state, "error", err)
			writeJSON(w, http.StatusBadGateway, struct {
				State policysync.State `json:"state"`
				Error string           `json:"error"`
			}{state, err.Error()})
		}
	}
}

func (s *Server) handleFlush(ag Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := ag.FlushPending(r.Context())
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, agent.ErrUploadDisabled):
			middleware.WriteError(w, http.StatusConflict, err.Error())
		default:
			s.logger.WarnContext(r.Context(), "triggered audit flush failed", "error", err)
			middleware.WriteError(w, http.StatusBadGateway, err.Error())
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
