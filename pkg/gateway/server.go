package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/harun/toolgate/internal/observability"
	"github.com/harun/toolgate/pkg/broker"
	"github.com/harun/toolgate/pkg/ratelimit"
	"github.com/harun/toolgate/pkg/session"
	"github.com/harun/toolgate/pkg/toolregistry"
)

// ToolBroker is the slice of *broker.Broker the gateway drives
type ToolBroker interface {
	Invoke(ctx context.Context, req broker.Request) (*broker.Result, error)
	CheckOAuthStatus(ctx context.Context, userID, provider string) session.OAuthStatus
	Logout(ctx context.Context, userID string) error
	Session(ctx context.Context, userID string) (*session.UserSession, error)
}

// Catalog lists the exposed tools
type Catalog interface {
	List() []toolregistry.ToolDescriptor
	InputSchema(name string) (map[string]interface{}, error)
}

// Options configures the HTTP listener
type Options struct {
	Host            string
	Port            int
	BodyLimit       string        // echo size string, e.g. "1M"
	ShutdownTimeout time.Duration // how long Stop waits for in-flight requests
	SharedSecret    string        // enables X-User-Signature verification when set
}

// Deps are the collaborators behind the routes
type Deps struct {
	Broker  ToolBroker
	Catalog Catalog
	// Limiter is optional and only used to compute Retry-After
	Limiter ratelimit.Limiter
}

// Server is the caller-facing HTTP gateway
type Server struct {
	options Options
	echo    *echo.Echo
	broker  ToolBroker
	catalog Catalog
	limiter ratelimit.Limiter
	auth    *Authenticator
	logger  zerolog.Logger

	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates the gateway and registers its routes
func NewServer(options Options, deps Deps, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 8080
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.BodyLimit == "" {
		options.BodyLimit = "1M"
	}
	if options.ShutdownTimeout == 0 {
		options.ShutdownTimeout = 5 * time.Second
	}

	if deps.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetOutput(io.Discard)

	s := &Server{
		options:   options,
		echo:      e,
		broker:    deps.Broker,
		catalog:   deps.Catalog,
		limiter:   deps.Limiter,
		auth:      NewAuthenticator(options.SharedSecret),
		logger:    logger.With().Str("component", "gateway").Logger(),
		startTime: time.Now(),
	}

	e.HTTPErrorHandler = s.httpErrorHandler
	e.Use(middleware.Recover())
	e.Use(s.requestContext())
	e.Use(s.accessLog())
	e.Use(s.inFlight())
	e.Use(middleware.BodyLimit(options.BodyLimit))

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.HEAD("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(observability.MetricsHandler()))
	s.echo.GET("/api/tools", s.handleListTools)

	api := s.echo.Group("/api", s.requireUser())
	api.POST("/tools/:tool", s.handleInvoke)
	api.GET("/session", s.handleGetSession)
	api.DELETE("/session", s.handleLogout)
	api.GET("/oauth/:provider/status", s.handleOAuthStatus)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.options.Host, s.options.Port)
}

// Start listens and serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Bool("signed_users", s.auth != nil).
		Msg("Starting gateway")

	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	return nil
}

// Stop refuses new requests, waits for in-flight ones up to the shutdown
// timeout and then closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.options.ShutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown cancelled, forcing close")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown gateway: %w", err)
	}

	s.logger.Info().Msg("Gateway stopped")
	return nil
}
