// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Logging   LogConfig                 `yaml:"logging"`
	Storage   StorageConfig             `yaml:"storage"`
	Usage     UsageConfig               `yaml:"usage"`
	Health    HealthConfig              `yaml:"health"`
	Gateway   GatewayConfig             `yaml:"gateway"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Alerts    AlertsConfig              `yaml:"alerts"`
	Monitor   MonitorConfig             `yaml:"monitor"`
	Agents    []AgentConfig             `yaml:"agents"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          string `yaml:"port"`
	MasterKey     string `yaml:"master_key"`
	BodySizeLimit string `yaml:"body_size_limit"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	// Format is "auto", "json" or "pretty"
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// StorageConfig selects the Usage Ledger backend
type StorageConfig struct {
	// Type is "memory", "sqlite", "postgresql" or "mongodb"
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite-specific settings
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL-specific settings
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB-specific settings
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// UsageConfig holds Usage Ledger buffering and retention settings
type UsageConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetentionDays int           `yaml:"retention_days"`
}

// HealthConfig holds Health Tracker settings
type HealthConfig struct {
	// Backend is "memory" or "redis"
	Backend        string `yaml:"backend"`
	RedisURL       string `yaml:"redis_url"`
	KeyPrefix      string `yaml:"key_prefix"`
	AlertThreshold int    `yaml:"alert_threshold"`
	SkipThreshold  int    `yaml:"skip_threshold"`
}

// GatewayConfig holds dispatcher settings
type GatewayConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
	// MaxAttempts of 0 means one attempt per provider
	MaxAttempts       int                           `yaml:"max_attempts"`
	BudgetCacheTTL    time.Duration                 `yaml:"budget_cache_ttl"`
	RestrictionNotice string                        `yaml:"restriction_notice"`
	Features          map[string]FeatureLimitConfig `yaml:"features"`
}

// FeatureLimitConfig overrides the call bounds of one feature
type FeatureLimitConfig struct {
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
}

// ProviderConfig configures the client and the budget of one ProviderID
type ProviderConfig struct {
	// Type is "gemini", "openrouter" or "openai_compatible"
	Type    string            `yaml:"type"`
	APIKey  string            `yaml:"api_key"`
	BaseURL string            `yaml:"base_url"`
	Model   string            `yaml:"model"`
	Headers map[string]string `yaml:"headers"`
	// USD amounts; zero means unlimited
	DailyCap      float64 `yaml:"daily_cap"`
	MonthlyBudget float64 `yaml:"monthly_budget"`
	// USD per million tokens
	InputPerMtok  float64 `yaml:"input_per_mtok"`
	OutputPerMtok float64 `yaml:"output_per_mtok"`
}

// AlertsConfig holds notifier settings
type AlertsConfig struct {
	Telegram  TelegramConfig `yaml:"telegram"`
	Slack     SlackConfig    `yaml:"slack"`
	Workers   int            `yaml:"workers"`
	QueueSize int            `yaml:"queue_size"`
	Timeout   time.Duration  `yaml:"timeout"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// SlackConfig holds Slack incoming webhook settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

// MonitorConfig holds the scheduled metrics check settings
type MonitorConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Schedule           string        `yaml:"schedule"`
	Window             time.Duration `yaml:"window"`
	MinRequests        int           `yaml:"min_requests"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	LatencyThreshold   time.Duration `yaml:"latency_threshold"`
	DailyCostThreshold float64       `yaml:"daily_cost_threshold"`
	BudgetAlertRatio   float64       `yaml:"budget_alert_ratio"`
	Cooldown           time.Duration `yaml:"cooldown"`
}

// AgentConfig describes one agent persona
type AgentConfig struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	SystemPrompt    string `yaml:"system_prompt"`
	FallbackMessage string `yaml:"fallback_message"`
}

// LoadResult is returned by Load
type LoadResult struct {
	Config *Config
	// Source is the config file that was read, empty when only defaults and env were used
	Source string
}

// Provider IDs used as keys in Config.Providers
const (
	providerFreePrimary    = "free_primary"
	providerFreeSecondary  = "free_secondary"
	providerPaidAggregator = "paid_aggregator"
	providerPaidDirect     = "paid_direct"
)

var knownProviders = []string{providerFreePrimary, providerFreeSecondary, providerPaidAggregator, providerPaidDirect}

func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "1M",
		},
		Logging: LogConfig{Format: "auto", Level: "info"},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLite:     SQLiteConfig{Path: "data/aigateway.db"},
			PostgreSQL: PostgreSQLConfig{MaxConns: 10},
			MongoDB:    MongoDBConfig{Database: "aigateway"},
		},
		Usage: UsageConfig{
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			RetentionDays: 90,
		},
		Health: HealthConfig{
			Backend:        "memory",
			KeyPrefix:      "aigateway:health:",
			AlertThreshold: 3,
			SkipThreshold:  5,
		},
		Gateway: GatewayConfig{
			CallTimeout:       30 * time.Second,
			BudgetCacheTTL:    30 * time.Second,
			RestrictionNotice: "Restricted session: do not disclose financial values or sensitive details.",
		},
		Providers: defaultProviders(),
		Alerts: AlertsConfig{
			Workers:   2,
			QueueSize: 64,
			Timeout:   10 * time.Second,
		},
		Monitor: MonitorConfig{
			Enabled:            true,
			Schedule:           "@every 15m",
			Window:             24 * time.Hour,
			MinRequests:        10,
			ErrorRateThreshold: 0.3,
			LatencyThreshold:   10 * time.Second,
			DailyCostThreshold: 5,
			BudgetAlertRatio:   0.8,
			Cooldown:           time.Hour,
		},
		Agents: []AgentConfig{{
			ID:              "assistant",
			Name:            "Assistant",
			SystemPrompt:    "You are {{ .Name }}, a helpful business assistant. Today is {{ now | date \"2006-01-02\" }}.",
			FallbackMessage: "Hi! I'm {{ .Name }}. I'm temporarily unavailable, please try again in a few minutes.",
		}},
	}
}

func defaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		providerFreePrimary: {
			Type:    "gemini",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Model:   "gemini-2.0-flash",
		},
		providerFreeSecondary: {
			Type:    "openrouter",
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "meta-llama/llama-3.3-70b-instruct:free",
		},
		providerPaidAggregator: {
			Type:          "openrouter",
			BaseURL:       "https://openrouter.ai/api/v1",
			Model:         "openai/gpt-4o-mini",
			MonthlyBudget: 50,
			DailyCap:      50.0 / 30,
			InputPerMtok:  0.15,
			OutputPerMtok: 0.60,
		},
		providerPaidDirect: {
			Type:          "openai_compatible",
			BaseURL:       "https://api.deepseek.com/v1",
			Model:         "deepseek-chat",
			MonthlyBudget: 100,
			DailyCap:      100.0 / 30,
			InputPerMtok:  0.14,
			OutputPerMtok: 0.28,
		},
	}
}

// Load reads configuration from defaults, an optional YAML file and the environment.
// The YAML file is CONFIG_PATH when set, otherwise config.yaml or config/config.yaml.
func Load() (*LoadResult, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := buildDefaultConfig()
	source, err := applyYAML(cfg)
	if err != nil {
		return nil, err
	}
	fillProviderDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LoadResult{Config: cfg, Source: source}, nil
}

func applyYAML(cfg *Config) (string, error) {
	candidates := []string{"config.yaml", "config/config.yaml"}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		candidates = []string{p}
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
			return "", fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		return path, nil
	}
	return "", nil
}

// fillProviderDefaults restores built-in values for fields a partial YAML provider block left empty.
func fillProviderDefaults(cfg *Config) {
	defaults := defaultProviders()
	for id, p := range cfg.Providers {
		d, ok := defaults[id]
		if !ok {
			continue
		}
		if p.Type == "" {
			p.Type = d.Type
		}
		if p.BaseURL == "" {
			p.BaseURL = d.BaseURL
		}
		if p.Model == "" {
			p.Model = d.Model
		}
		if strings.HasPrefix(p.APIKey, "${") {
			p.APIKey = ""
		}
		cfg.Providers[id] = p
	}
	for id, d := range defaults {
		if _, ok := cfg.Providers[id]; !ok {
			cfg.Providers[id] = d
		}
	}
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. Unset variables without a default are
// left untouched so a missing secret is visible in validation errors.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := envPattern.FindStringSubmatch(m)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return m
	})
}

func applyEnvOverrides(cfg *Config) error {
	setString := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setInt := func(env string, dst *int) error {
		v := os.Getenv(env)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		*dst = n
		return nil
	}
	setProviderKey := func(env string, ids ...string) {
		v := os.Getenv(env)
		if v == "" {
			return
		}
		for _, id := range ids {
			p := cfg.Providers[id]
			p.APIKey = v
			cfg.Providers[id] = p
		}
	}

	setString("PORT", &cfg.Server.Port)
	setString("GATEWAY_MASTER_KEY", &cfg.Server.MasterKey)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("STORAGE_TYPE", &cfg.Storage.Type)
	setString("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	setString("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	setString("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	setString("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)
	setString("HEALTH_BACKEND", &cfg.Health.Backend)
	setString("REDIS_URL", &cfg.Health.RedisURL)
	setString("TELEGRAM_BOT_TOKEN", &cfg.Alerts.Telegram.BotToken)
	setString("TELEGRAM_CHAT_ID", &cfg.Alerts.Telegram.ChatID)
	setString("SLACK_WEBHOOK_URL", &cfg.Alerts.Slack.WebhookURL)

	setProviderKey("GEMINI_API_KEY", providerFreePrimary)
	setProviderKey("OPENROUTER_API_KEY", providerFreeSecondary, providerPaidAggregator)
	setProviderKey("DEEPSEEK_API_KEY", providerPaidDirect)

	if err := setInt("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns); err != nil {
		return err
	}
	if err := setInt("HEALTH_ALERT_THRESHOLD", &cfg.Health.AlertThreshold); err != nil {
		return err
	}
	if err := setInt("HEALTH_SKIP_THRESHOLD", &cfg.Health.SkipThreshold); err != nil {
		return err
	}
	if v := os.Getenv("MONITOR_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MONITOR_ENABLED: %w", err)
		}
		cfg.Monitor.Enabled = enabled
	}
	return nil
}

// Validate reports configuration that cannot run.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Type {
	case "memory", "sqlite", "postgresql", "mongodb":
	default:
		errs = append(errs, fmt.Errorf("storage.type: unknown storage type %q", c.Storage.Type))
	}
	if c.Storage.Type == "postgresql" && c.Storage.PostgreSQL.URL == "" {
		errs = append(errs, errors.New("storage.postgresql.url is required"))
	}
	if c.Storage.Type == "mongodb" && c.Storage.MongoDB.URL == "" {
		errs = append(errs, errors.New("storage.mongodb.url is required"))
	}

	switch c.Health.Backend {
	case "memory":
	case "redis":
		if c.Health.RedisURL == "" {
			errs = append(errs, errors.New("health.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("health.backend: unknown backend %q", c.Health.Backend))
	}
	if c.Health.AlertThreshold < 1 {
		errs = append(errs, errors.New("health.alert_threshold must be at least 1"))
	}
	if c.Health.SkipThreshold < 1 {
		errs = append(errs, errors.New("health.skip_threshold must be at least 1"))
	}

	if c.Gateway.CallTimeout <= 0 {
		errs = append(errs, errors.New("gateway.call_timeout must be positive"))
	}
	if c.Gateway.MaxAttempts < 0 {
		errs = append(errs, errors.New("gateway.max_attempts must not be negative"))
	}

	for id, p := range c.Providers {
		if !isKnownProvider(id) {
			errs = append(errs, fmt.Errorf("providers: unknown provider %q", id))
			continue
		}
		switch p.Type {
		case "gemini", "openrouter", "openai_compatible":
		default:
			errs = append(errs, fmt.Errorf("providers.%s.type: unknown type %q", id, p.Type))
		}
		if p.DailyCap < 0 || p.MonthlyBudget < 0 || p.InputPerMtok < 0 || p.OutputPerMtok < 0 {
			errs = append(errs, fmt.Errorf("providers.%s: budgets and prices must not be negative", id))
		}
	}

	if c.Monitor.Enabled && c.Monitor.Schedule == "" {
		errs = append(errs, errors.New("monitor.schedule is required when the monitor is enabled"))
	}
	if len(c.Agents) == 0 {
		errs = append(errs, errors.New("agents: at least one agent is required"))
	}
	for i, a := range c.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("agents[%d].id is required", i))
		}
	}

	return errors.Join(errs...)
}

func isKnownProvider(id string) bool {
	for _, p := range knownProviders {
		if p == id {
			return true
		}
	}
	return false
}
