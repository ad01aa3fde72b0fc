package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/greenroute/fleetlink/internal/api"
	"github.com/greenroute/fleetlink/internal/cache"
	"github.com/greenroute/fleetlink/internal/config"
	"github.com/greenroute/fleetlink/internal/database"
	"github.com/greenroute/fleetlink/internal/dispatch"
	"github.com/greenroute/fleetlink/internal/fallback"
	"github.com/greenroute/fleetlink/internal/guard"
	"github.com/greenroute/fleetlink/internal/messaging"
	"github.com/greenroute/fleetlink/internal/model"
	"github.com/greenroute/fleetlink/internal/poller"
	"github.com/greenroute/fleetlink/internal/realtime"
	"github.com/greenroute/fleetlink/internal/state"
	"github.com/greenroute/fleetlink/internal/version"
	"github.com/greenroute/fleetlink/internal/writer"
)

// ShutdownTimeout bounds graceful shutdown of all components.
const ShutdownTimeout = 10 * time.Second

// App holds the wired components of one client instance.
type App struct {
	cfg    *config.ClientConfig
	logger *slog.Logger

	API        *api.Client
	Cache      *cache.Store
	Dispatcher *dispatch.Dispatcher
	Manager    *realtime.Manager
	Messages   *messaging.Service
	State      state.KV

	pool   *pgxpool.Pool           // nil without a database
	writer *writer.TelemetryWriter // nil without a database
	badger *state.Badger

	driverID string
	cancels  []func()
}

// New builds every component. A configured database is connected and its
// schema ensured; without one, state goes to the local Badger store (or
// memory) and telemetry is not journaled.
func New(ctx context.Context, cfg *config.ClientConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	if cfg.Database.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pool, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.State = state.NewPostgres(pool, cfg.Instance.ID)
		logger.Info("database connected")
	} else if cfg.State.Path != "" {
		kv, err := state.OpenBadger(cfg.State.Path, cfg.Instance.ID)
		if err != nil {
			return nil, err
		}
		a.badger = kv
		a.State = kv
		logger.Info("using local state store", "path", cfg.State.Path)
	} else {
		a.State = state.NewMemory()
	}

	ua := version.UserAgent()
	a.API = api.NewClient(
		cfg.Server.BaseURL,
		cfg.Server.AuthToken,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
		api.WithUserAgent(ua),
		api.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst),
		api.WithBreaker(breakerSettings(cfg.API)),
	)

	a.Cache = cache.NewStore()
	a.Dispatcher = dispatch.New(logger.With("component", "dispatch"))
	g := guard.New(guard.Config{
		BinWindow:   cfg.Guard.BinWindow(),
		RouteWindow: cfg.Guard.RouteCompletionWindow,
	}, logger)

	var fb fallback.Factory
	if cfg.Fallback.IsEnabled() {
		fb = fallback.NewSSEFactory(fallback.SSEConfig{
			URL:       strings.TrimSuffix(cfg.Server.BaseURL, "/") + cfg.Fallback.SSEPath,
			AuthToken: cfg.Server.AuthToken,
			UserAgent: ua,
			Retries:   cfg.Fallback.StreamRetries,
		}, &http.Client{}, a.API, logger)
	}

	mgr, err := realtime.New(RealtimeConfig(cfg), realtime.Deps{
		Cache:      a.Cache,
		Guard:      g,
		Dispatcher: a.Dispatcher,
		HTTP:       a.API,
		Fallback:   fb,
		Logger:     logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create realtime manager: %w", err)
	}
	a.Manager = mgr

	a.Messages = messaging.NewService(a.State, mgr, a.API, logger)
	if err := a.Messages.Load(ctx); err != nil {
		logger.Warn("failed to restore chat history", "error", err)
	}
	a.cancels = append(a.cancels, a.Messages.Attach(a.Dispatcher))

	if a.pool != nil {
		a.writer = writer.NewTelemetryWriter(writer.Config{
			BatchSize:     cfg.Writers.BatchSize,
			FlushInterval: cfg.Writers.FlushInterval,
			BufferSize:    cfg.Writers.BufferSize,
		}, a.pool, logger)
		a.cancels = append(a.cancels, a.writer.Attach(a.Dispatcher))
	}

	if err := a.restoreDriver(ctx); err != nil {
		logger.Warn("failed to restore current driver", "error", err)
	}

	return a, nil
}

// RealtimeConfig maps the client configuration onto manager settings.
func RealtimeConfig(cfg *config.ClientConfig) realtime.Config {
	return realtime.Config{
		BaseURL:              cfg.Server.BaseURL,
		AuthToken:            cfg.Server.AuthToken,
		UserAgent:            version.UserAgent(),
		ServerlessHosts:      cfg.Server.ServerlessHosts,
		ConnectTimeout:       cfg.Realtime.ConnectTimeout,
		PingInterval:         cfg.Realtime.PingInterval,
		PongTimeout:          cfg.Realtime.PongTimeout,
		HealthCheckInterval:  cfg.Realtime.HealthCheckInterval,
		ReconnectBaseDelay:   cfg.Realtime.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Realtime.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		WriteTimeout:         cfg.Realtime.WriteTimeout,
		BufferSize:           cfg.Realtime.BufferSize,
		QueueCapacity:        cfg.Realtime.QueueCapacity,
		FallbackInitTimeout:  cfg.Fallback.InitTimeout,
		SendTimeout:          cfg.API.Timeout,
		Poller: poller.Config{
			Interval: cfg.Poller.Interval,
			Timeout:  cfg.Poller.Timeout,
		},
	}
}

func breakerSettings(c config.APIConfig) api.BreakerSettings {
	s := api.DefaultBreakerSettings()
	s.Timeout = c.BreakerTimeout
	s.MinRequests = c.BreakerMinReqs
	s.FailureRatio = c.BreakerRatio
	return s
}

// restoreDriver loads the current driver and their last known routes, and
// keeps those routes persisted as updates arrive.
func (a *App) restoreDriver(ctx context.Context) error {
	driverID := a.cfg.Instance.DriverID
	if driverID != "" {
		if err := state.SetCurrentDriver(ctx, a.State, driverID); err != nil {
			return err
		}
	} else {
		id, err := state.CurrentDriver(ctx, a.State)
		if err != nil {
			return err
		}
		driverID = id
	}
	if driverID == "" {
		return nil
	}
	a.driverID = driverID

	routes, err := state.DriverRoutes(ctx, a.State, driverID)
	if err != nil {
		return err
	}
	for _, r := range routes {
		a.Cache.UpsertRoute(r)
	}

	for _, t := range []string{model.TypeRouteUpdate, model.TypeRouteCompletion, model.TypeDataUpdate} {
		a.cancels = append(a.cancels, a.Dispatcher.On(t, func(model.Envelope) { a.persistDriverRoutes() }))
	}

	a.logger.Info("restored current driver", "driver", driverID, "routes", len(routes))
	return nil
}

func (a *App) persistDriverRoutes() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	routes := a.Cache.RoutesForDriver(a.driverID)
	if err := state.SetDriverRoutes(ctx, a.State, a.driverID, routes); err != nil {
		a.logger.Warn("failed to persist driver routes", "driver", a.driverID, "error", err)
	}
}

// Run starts all components and the health server, and blocks until ctx is
// canceled or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Metrics.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if a.writer != nil {
		if err := a.writer.Start(gctx); err != nil {
			return fmt.Errorf("start telemetry writer: %w", err)
		}
	}
	if err := a.Manager.Start(gctx); err != nil {
		if a.writer != nil {
			_ = a.writer.Stop(context.Background())
		}
		return fmt.Errorf("start realtime manager: %w", err)
	}

	g.Go(func() error {
		a.logger.Info("starting health server", "port", a.cfg.Metrics.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	if a.driverID != "" {
		g.Go(func() error {
			if _, err := a.Messages.SyncDriver(gctx, a.driverID); err != nil {
				a.logger.Warn("initial message sync failed", "driver", a.driverID, "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.Manager.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if a.writer != nil {
			if err := a.writer.Stop(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	a.logger.Info("fleetlink running",
		"instance_id", a.cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", a.cfg.Metrics.Port),
	)
	return g.Wait()
}

// Close releases subscriptions and the state stores.
func (a *App) Close() {
	for _, c := range a.cancels {
		c()
	}
	a.cancels = nil
	if a.badger != nil {
		if err := a.badger.Close(); err != nil {
			a.logger.Warn("failed to close local state store", "error", err)
		}
		a.badger = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
