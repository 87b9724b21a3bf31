// Package api provides the HTTP REST API for Warden Core.
//
// It exposes login, session refresh and logout, the caller's resolved
// permissions, and administration endpoints for menus, role and element
// grants and the audit trail.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/warden-core/internal/audit"
	"github.com/nerrad567/warden-core/internal/auth"
	"github.com/nerrad567/warden-core/internal/infrastructure/config"
	"github.com/nerrad567/warden-core/internal/infrastructure/logging"
	"github.com/nerrad567/warden-core/internal/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every infrastructure client the health
// endpoint reports on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Service  *auth.Service
	Resolver *auth.Resolver
	Users    auth.UserRepository
	Roles    auth.RoleRepository
	Menus    auth.MenuRepository
	Elements auth.ElementRepository
	Audit    audit.Repository         // read side for the admin audit listing
	Recorder auth.AuditRecorder       // optional: records admin changes
	Metrics  *metrics.Metrics         // optional: /metrics and request instrumentation
	Health   map[string]HealthChecker // optional: reported by /health; "database" is critical
	Version  string
}

// Server is the HTTP API server for Warden Core.
//
// It manages the HTTP listener, routes and middleware.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	service  *auth.Service
	issuer   *auth.Issuer
	resolver *auth.Resolver
	users    auth.UserRepository
	roles    auth.RoleRepository
	menus    auth.MenuRepository
	elements auth.ElementRepository
	audit    audit.Repository
	recorder auth.AuditRecorder
	metrics  *metrics.Metrics
	health   map[string]HealthChecker
	version  string

	startTime time.Time
	server    *http.Server
	listener  net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, service, resolver, repositories)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("permission resolver is required")
	}
	if deps.Users == nil || deps.Roles == nil || deps.Menus == nil || deps.Elements == nil {
		return nil, fmt.Errorf("user, role, menu and element repositories are required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit repository is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		service:   deps.Service,
		issuer:    deps.Service.Issuer(),
		resolver:  deps.Resolver,
		users:     deps.Users,
		roles:     deps.Roles,
		menus:     deps.Menus,
		elements:  deps.Elements,
		audit:     deps.Audit,
		recorder:  deps.Recorder,
		metrics:   deps.Metrics,
		health:    deps.Health,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Handler returns the fully wired router. Tests drive it through httptest.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// The listener is bound before Start returns so a port conflict is reported
// to the caller. Requests are served in a background goroutine until Close().
//
// Parameters:
//   - ctx: Context bounding the bind (not the listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
