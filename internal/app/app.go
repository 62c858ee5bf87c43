// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"aigateway/config"
	"aigateway/internal/alert"
	"aigateway/internal/cache"
	"aigateway/internal/gateway"
	"aigateway/internal/health"
	"aigateway/internal/httpclient"
	"aigateway/internal/monitor"
	"aigateway/internal/providers"
	"aigateway/internal/server"
	"aigateway/internal/storage"
	"aigateway/internal/strategy"
	"aigateway/internal/usage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config    *config.Config
	storage   storage.Storage
	usage     *usage.Result
	redis     *goredis.Client
	tracker   health.Tracker
	budgets   *strategy.BudgetTracker
	providers *providers.Registry
	alerts    *alert.Dispatcher
	gateway   *gateway.Service
	monitor   *monitor.Monitor
	server    *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig is the result of config.Load.
	AppConfig *config.LoadResult
	// Context supplies per-actor context messages; optional.
	Context gateway.ContextProvider
	// Notifiers are added to the configured alert channels; optional.
	Notifiers []alert.Notifier
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil || cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config is required")
	}
	appCfg := cfg.AppConfig.Config
	app := &App{config: appCfg}

	if err := app.init(ctx, cfg); err != nil {
		if closeErr := app.closeResources(context.Background()); closeErr != nil {
			return nil, fmt.Errorf("%w (also: close error: %v)", err, closeErr)
		}
		return nil, err
	}

	app.logStartupInfo(cfg.AppConfig.Source)
	return app, nil
}

func (a *App) init(ctx context.Context, cfg Config) error {
	appCfg := a.config

	// Usage Ledger
	if appCfg.Storage.Type != "memory" {
		store, err := storage.New(ctx, storageConfig(appCfg.Storage))
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.storage = store
	}
	usageResult, err := usage.New(ctx, a.storage, usage.Config{
		BufferSize:    appCfg.Usage.BufferSize,
		FlushInterval: appCfg.Usage.FlushInterval,
		RetentionDays: appCfg.Usage.RetentionDays,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize usage ledger: %w", err)
	}
	a.usage = usageResult

	// Health Tracker and spend cache, shared through Redis when configured
	var spendCache cache.Cache = cache.NewLocalCache()
	a.tracker = health.NewMemoryTracker()
	if appCfg.Health.Backend == "redis" {
		client, err := health.Connect(ctx, appCfg.Health.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to initialize health tracker: %w", err)
		}
		a.redis = client
		a.tracker = health.NewRedisTracker(client, appCfg.Health.KeyPrefix)
		spendCache = cache.NewRedisCache(client, cache.DefaultRedisKey, cache.DefaultRedisTTL)
	}
	a.budgets = strategy.NewBudgetTracker(a.usage.Reader, spendCache, budgetLimits(appCfg.Providers), appCfg.Gateway.BudgetCacheTTL)

	// Provider clients
	registry, err := providers.Build(appCfg.Providers, httpclient.NewDefaultHTTPClient())
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}
	a.providers = registry

	// Alerting
	notifier, err := buildNotifier(appCfg.Alerts, cfg.Notifiers)
	if err != nil {
		return fmt.Errorf("failed to initialize notifiers: %w", err)
	}
	a.alerts = alert.NewDispatcher(alert.DispatcherConfig{
		Workers:   appCfg.Alerts.Workers,
		QueueSize: appCfg.Alerts.QueueSize,
		Timeout:   appCfg.Alerts.Timeout,
	})

	// Gateway
	agents, err := gateway.NewAgentRegistry(appCfg.Agents)
	if err != nil {
		return fmt.Errorf("failed to initialize agents: %w", err)
	}
	dispatcher := gateway.NewDispatcher(gateway.DispatcherConfig{
		Selector:    strategy.NewSelector(a.budgets, a.tracker, appCfg.Health.SkipThreshold),
		Clients:     a.providers,
		Tracker:     a.tracker,
		Alerter:     health.NewAlerter(a.tracker, notifier, appCfg.Health.AlertThreshold),
		Alerts:      a.alerts,
		Ledger:      a.usage.Logger,
		Prices:      priceTable(appCfg.Providers),
		CallTimeout: appCfg.Gateway.CallTimeout,
		MaxAttempts: appCfg.Gateway.MaxAttempts,
	})
	a.gateway = gateway.NewService(gateway.ServiceConfig{
		Dispatcher:        dispatcher,
		Agents:            agents,
		Context:           cfg.Context,
		Limits:            featureLimits(appCfg.Gateway.Features),
		RestrictionNotice: appCfg.Gateway.RestrictionNotice,
	})

	a.monitor = monitor.New(monitorConfig(appCfg.Monitor), a.usage.Reader, a.budgets, a.tracker, a.providers, notifier)

	handler := server.NewHandler(a.gateway, a.monitor, a.diagnostics)
	a.server = server.New(handler, server.Config{
		MasterKey:     appCfg.Server.MasterKey,
		BodySizeLimit: appCfg.Server.BodySizeLimit,
	})
	return nil
}

// Gateway returns the agent service.
func (a *App) Gateway() *gateway.Service {
	return a.gateway
}

// Start starts the scheduled checks and the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	if a.config.Monitor.Enabled {
		if err := a.monitor.Start(); err != nil {
			return err
		}
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// HTTP server, monitor, alert dispatcher, ledger flush, storage, Redis.
//
// Shutdown is idempotent. It attempts every step and returns the joined failures.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	// Stop accepting new requests first
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if err := a.closeResources(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// closeResources releases everything behind the server. Nil components are skipped.
func (a *App) closeResources(ctx context.Context) error {
	var errs []error

	if a.monitor != nil {
		if err := a.monitor.Stop(ctx); err != nil {
			slog.Error("monitor stop error", "error", err)
			errs = append(errs, fmt.Errorf("monitor stop: %w", err))
		}
	}

	// Pending alerts still get delivered
	if a.alerts != nil {
		if err := a.alerts.Close(ctx); err != nil {
			slog.Error("alert dispatcher close error", "error", err)
			errs = append(errs, fmt.Errorf("alerts close: %w", err))
		}
	}

	// Flushes buffered ledger records
	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			slog.Error("usage ledger close error", "error", err)
			errs = append(errs, fmt.Errorf("usage close: %w", err))
		}
	}

	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			slog.Error("storage close error", "error", err)
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Error("redis close error", "error", err)
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	return errors.Join(errs...)
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo(source string) {
	cfg := a.config

	if source != "" {
		slog.Info("configuration loaded", "file", source)
	}

	// Security warnings
	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: GATEWAY_MASTER_KEY not set - /v1 routes are unauthenticated",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set GATEWAY_MASTER_KEY to secure this gateway")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	slog.Info("usage ledger configured",
		"storage_type", cfg.Storage.Type,
		"buffer_size", cfg.Usage.BufferSize,
		"flush_interval", cfg.Usage.FlushInterval,
		"retention_days", cfg.Usage.RetentionDays,
	)
	slog.Info("health tracking configured",
		"backend", cfg.Health.Backend,
		"alert_threshold", cfg.Health.AlertThreshold,
		"skip_threshold", cfg.Health.SkipThreshold,
	)

	for _, d := range a.diagnostics(context.Background()).Providers {
		slog.Info("provider", "id", d.Provider, "configured", d.Configured, "model", d.Model)
	}

	if cfg.Monitor.Enabled {
		slog.Info("monitor enabled", "schedule", cfg.Monitor.Schedule)
	} else {
		slog.Info("monitor disabled")
	}
}
