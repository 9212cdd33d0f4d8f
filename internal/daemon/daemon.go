package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harun/toolgate/internal/config"
	"github.com/harun/toolgate/internal/logger"
	"github.com/harun/toolgate/internal/observability"
	"github.com/harun/toolgate/internal/redisconn"
	"github.com/harun/toolgate/internal/tracing"
	"github.com/harun/toolgate/pkg/broker"
	"github.com/harun/toolgate/pkg/composio"
	"github.com/harun/toolgate/pkg/gateway"
	"github.com/harun/toolgate/pkg/ratelimit"
	"github.com/harun/toolgate/pkg/session"
	"github.com/harun/toolgate/pkg/toolregistry"
)

// Daemon wires the broker and its collaborators behind the HTTP gateway
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	redis    *redis.Client
	window   *ratelimit.SlidingWindow // nil when the Redis limiter is used
	limiter  ratelimit.Limiter
	memStore *session.MemoryStore // nil when the Redis store is used
	store    session.Store
	cleanup  *session.Cleanup
	client   *composio.Client
	registry *toolregistry.Registry
	broker   *broker.Broker
	gateway  *gateway.Server
	watcher  *config.Watcher

	lifecycle *LifecycleManager

	ctx            context.Context
	cancel         context.CancelFunc
	serveErr       chan error
	tracingEnabled bool

	running   bool
	startTime time.Time
	mu        sync.RWMutex
}

// Status represents the daemon status
type Status struct {
	Running   bool          `json:"running"`
	Uptime    time.Duration `json:"uptime"`
	StartTime time.Time     `json:"start_time"`
}

// New creates a daemon from a validated configuration
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:   cfg,
		logger:   log,
		ctx:      ctx,
		cancel:   cancel,
		serveErr: make(chan error, 1),
	}

	observability.EnsureRegistered()
	observability.SetAuditLogger(log.Audit())

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(tracing.Options{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
			Logger:      log.GetZerolog(),
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Float64("sample_ratio", cfg.Tracing.SampleRatio).Msg("Tracing initialized")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules builds storage, rate limiting and the upstream client
func (d *Daemon) initializeCoreModules() error {
	cfg := d.config
	zl := d.logger.GetZerolog()

	redisCfg, err := redisConfig(cfg.Redis)
	if err != nil {
		return err
	}
	if cfg.UsesRedis() {
		client, err := redisconn.New(d.ctx, redisCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		d.redis = client
		d.logger.Info().Str("addr", redisCfg.Addr).Int("db", redisCfg.DB).Msg("Redis connected")
	}

	switch cfg.RateLimit.Backend {
	case "redis":
		d.limiter = ratelimit.NewRedisLimiter(d.redis, redisCfg.KeyPrefix, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window())
	default:
		d.window = ratelimit.NewSlidingWindow(
			ratelimit.WithLimits(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window()),
			ratelimit.WithLogger(zl),
		)
		d.limiter = d.window
	}
	d.logger.Info().
		Str("backend", cfg.RateLimit.Backend).
		Int("limit", cfg.RateLimit.RequestsPerWindow).
		Dur("window", cfg.RateLimit.Window()).
		Msg("Rate limiter initialized")

	client, err := composio.New(composio.Config{
		APIKey:          cfg.Composio.APIKey,
		BaseURL:         cfg.Composio.BaseURL,
		Timeout:         cfg.Composio.Timeout(),
		AllowedToolkits: cfg.Composio.AllowedToolkits,
	}, composio.WithLogger(zl))
	if err != nil {
		return fmt.Errorf("failed to create upstream client: %w", err)
	}
	d.client = client

	storeOpts := []session.Option{
		session.WithTTL(cfg.Session.TTL()),
		session.WithLogger(zl),
		session.WithSingleFlight(cfg.Session.SingleFlight),
		session.WithKeyPrefix(redisCfg.KeyPrefix),
	}
	switch cfg.Session.Backend {
	case "redis":
		d.store = session.NewRedisStore(d.redis, client, storeOpts...)
	default:
		d.memStore = session.NewMemoryStore(client, storeOpts...)
		d.store = d.memStore
		d.cleanup = session.NewCleanup(d.memStore, cfg.Session.SweepInterval())
	}
	d.logger.Info().
		Str("backend", cfg.Session.Backend).
		Dur("ttl", cfg.Session.TTL()).
		Bool("single_flight", cfg.Session.SingleFlight).
		Msg("Session store initialized")

	return nil
}

// redisConfig starts from the REDIS_* environment and lets the values set in
// the config file take precedence.
func redisConfig(r config.RedisConfig) (redisconn.Config, error) {
	env, err := redisconn.ConfigFromEnv()
	if err != nil {
		return redisconn.Config{}, err
	}
	return env.Overlay(redisconn.Config{
		Addr:      r.Addr,
		Password:  r.Password,
		DB:        r.DB,
		KeyPrefix: r.KeyPrefix,
	}), nil
}

// initializeServices builds the registry, broker and gateway
func (d *Daemon) initializeServices() error {
	cfg := d.config
	zl := d.logger.GetZerolog()

	policy := &toolregistry.Policy{Allow: cfg.Tools.Allow, Deny: cfg.Tools.Deny}
	policy.Warnings()
	d.registry = toolregistry.NewDefault(policy)
	d.logger.Info().Int("tools", d.registry.Len()).Msg("Tool registry initialized")

	b, err := broker.New(broker.Config{
		Registry:    d.registry,
		Limiter:     d.limiter,
		Store:       d.store,
		Provisioner: d.client,
		Invoker:     d.client,
		Logger:      &zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}
	d.broker = b

	gw, err := gateway.NewServer(gateway.Options{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		BodyLimit:       cfg.Server.MaxBodyBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout(),
		SharedSecret:    cfg.Server.SharedSecret,
	}, gateway.Deps{
		Broker:  d.broker,
		Catalog: d.registry,
		Limiter: d.limiter,
	}, zl)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	d.gateway = gw

	return nil
}

// EnableConfigReload watches the config file and applies runtime-safe
// settings (currently the log level) when it changes.
func (d *Daemon) EnableConfigReload(loader *config.Loader) error {
	w, err := config.NewWatcher(loader, 0, func(cfg *config.Config) {
		if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
			d.logger.Warn().Err(err).Msg("Ignoring reloaded log level")
			return
		}
		d.logger.Info().Str("level", cfg.Logging.Level).Msg("Log level updated")
	})
	if err != nil {
		return err
	}
	d.watcher = w
	return nil
}

// Start starts background workers and the gateway listener
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting toolgate")

	if err := d.lifecycle.Start(); err != nil {
		d.markStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.window != nil {
		if err := d.window.StartJanitor(d.config.RateLimit.JanitorSchedule); err != nil {
			_ = d.lifecycle.Stop()
			d.markStopped()
			return fmt.Errorf("failed to start rate limit janitor: %w", err)
		}
		logger.Info().Str("schedule", d.config.RateLimit.JanitorSchedule).Msg("Rate limit janitor started")
	}

	if d.cleanup != nil {
		if err := d.cleanup.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start session cleanup")
		} else {
			logger.Info().Msg("Session cleanup started")
		}
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start config watcher")
		}
	}

	go func() {
		d.serveErr <- d.gateway.Start()
	}()
	logger.Info().Str("addr", d.gateway.Addr()).Msg("Gateway started")

	return nil
}

func (d *Daemon) markStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops the daemon gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping toolgate")

	if d.gateway != nil {
		if err := d.gateway.Stop(d.ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop gateway")
		}
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if d.cleanup != nil && d.cleanup.IsRunning() {
		if err := d.cleanup.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop session cleanup")
		}
	}

	if d.window != nil {
		d.window.Stop()
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.release()

	logger.Info().Msg("Toolgate stopped")
	return nil
}

// release closes connections and exporters. Safe to call more than once.
func (d *Daemon) release() {
	d.cancel()

	if d.redis != nil {
		if err := d.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			d.logger.Error().Err(err).Msg("Failed to close redis client")
		}
		d.redis = nil
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

// Wait blocks until SIGINT/SIGTERM or a listener failure, then stops the daemon
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case serveErr = <-d.serveErr:
		if serveErr != nil {
			d.logger.Error().Err(serveErr).Msg("Gateway listener failed")
		}
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
	return serveErr
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetBroker returns the session broker
func (d *Daemon) GetBroker() *broker.Broker {
	return d.broker
}

// GetGateway returns the HTTP gateway
func (d *Daemon) GetGateway() *gateway.Server {
	return d.gateway
}

// GetRegistry returns the tool registry
func (d *Daemon) GetRegistry() *toolregistry.Registry {
	return d.registry
}
