package app

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"aigateway/config"
	"aigateway/internal/alert"
	"aigateway/internal/core"
	"aigateway/internal/monitor"
	"aigateway/internal/server"
	"aigateway/internal/storage"
	"aigateway/internal/strategy"
	"aigateway/internal/usage"
)

func storageConfig(cfg config.StorageConfig) storage.Config {
	return storage.Config{
		Type:       cfg.Type,
		SQLite:     storage.SQLiteConfig{Path: cfg.SQLite.Path},
		PostgreSQL: storage.PostgreSQLConfig{URL: cfg.PostgreSQL.URL, MaxConns: cfg.PostgreSQL.MaxConns},
		MongoDB:    storage.MongoDBConfig{URL: cfg.MongoDB.URL, Database: cfg.MongoDB.Database},
	}
}

func budgetLimits(cfgs map[string]config.ProviderConfig) map[core.ProviderID]strategy.Limits {
	out := make(map[core.ProviderID]strategy.Limits, len(cfgs))
	for id, p := range cfgs {
		out[core.ProviderID(id)] = strategy.Limits{
			DailyCap:      decimal.NewFromFloat(p.DailyCap),
			MonthlyBudget: decimal.NewFromFloat(p.MonthlyBudget),
		}
	}
	return out
}

func priceTable(cfgs map[string]config.ProviderConfig) usage.PriceTable {
	out := make(usage.PriceTable, len(cfgs))
	for id, p := range cfgs {
		out[core.ProviderID(id)] = usage.Price{
			InputPerMtok:  decimal.NewFromFloat(p.InputPerMtok),
			OutputPerMtok: decimal.NewFromFloat(p.OutputPerMtok),
		}
	}
	return out
}

// featureLimits overlays configured values on the built-in per-feature limits.
func featureLimits(cfgs map[string]config.FeatureLimitConfig) map[core.Feature]core.FeatureLimits {
	out := core.DefaultFeatureLimits()
	for name, c := range cfgs {
		f, err := core.ParseFeature(name)
		if err != nil {
			slog.Warn("ignoring limits for unknown feature", "feature", name)
			continue
		}
		l := out[f]
		if c.MaxOutputTokens > 0 {
			l.MaxOutputTokens = c.MaxOutputTokens
		}
		if c.Timeout > 0 {
			l.Timeout = c.Timeout
		}
		out[f] = l
	}
	return out
}

func monitorConfig(cfg config.MonitorConfig) monitor.Config {
	return monitor.Config{
		Schedule:           cfg.Schedule,
		Window:             cfg.Window,
		MinRequests:        cfg.MinRequests,
		ErrorRateThreshold: cfg.ErrorRateThreshold,
		LatencyThreshold:   cfg.LatencyThreshold,
		DailyCostThreshold: decimal.NewFromFloat(cfg.DailyCostThreshold),
		BudgetAlertRatio:   cfg.BudgetAlertRatio,
		Cooldown:           cfg.Cooldown,
	}
}

// buildNotifier fans alerts out to the log and every configured channel.
func buildNotifier(cfg config.AlertsConfig, extra []alert.Notifier) (alert.Notifier, error) {
	notifiers := alert.Multi{alert.NewLogNotifier(slog.Default())}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		tg, err := alert.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, tg)
	}
	if cfg.Slack.WebhookURL != "" {
		sl, err := alert.NewSlackNotifier(cfg.Slack.WebhookURL, cfg.Slack.Channel)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, sl)
	}
	notifiers = append(notifiers, extra...)
	return notifiers, nil
}

func (a *App) diagnostics(_ context.Context) server.Diagnostics {
	d := server.Diagnostics{
		FallbackChain:  core.Providers(),
		AlertThreshold: a.config.Health.AlertThreshold,
		SkipThreshold:  a.config.Health.SkipThreshold,
		StorageType:    a.config.Storage.Type,
		HealthBackend:  a.config.Health.Backend,
	}
	for _, p := range core.Providers() {
		c := a.providers.Get(p)
		d.Providers = append(d.Providers, server.ProviderDiagnostics{
			Provider:   p,
			Configured: c.Configured(),
			Model:      c.Model(),
		})
	}
	if a.gateway != nil {
		d.Agents = a.gateway.Agents().IDs()
	}
	return d
}
