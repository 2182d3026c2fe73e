package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every setting required to boot the detection engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Detection  DetectionConfig  `yaml:"detection"`
	Baseline   BaselineConfig   `yaml:"baseline"`
	Forest     ForestConfig     `yaml:"forest"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Health     HealthConfig     `yaml:"health"`
	Notify     NotifyConfig     `yaml:"notify"`
	Explain    ExplainConfig    `yaml:"explain"`
	Rules      RulesConfig      `yaml:"rules"`
	Cache      CacheConfig      `yaml:"cache"`
}

// ServerConfig controls the gRPC and HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	MaxBatch        int           `yaml:"maxBatch"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// DetectionConfig controls buffering and the tick cadence.
type DetectionConfig struct {
	Window        time.Duration `yaml:"window"`
	Retention     time.Duration `yaml:"retention"`
	TickPeriod    time.Duration `yaml:"tickPeriod"`
	TickDeadline  time.Duration `yaml:"tickDeadline"`
	Parallelism   int           `yaml:"parallelism"`
	MaxFutureSkew time.Duration `yaml:"maxFutureSkew"`
}

// BaselineConfig tunes the EWMA z-score detector.
type BaselineConfig struct {
	Alpha       float64 `yaml:"alpha"`
	ZThreshold  float64 `yaml:"zThreshold"`
	WarmupCount int     `yaml:"warmupCount"`
	Epsilon     float64 `yaml:"epsilon"`
}

// ForestConfig tunes the isolation forest.
type ForestConfig struct {
	Trees            int           `yaml:"trees"`
	SubsampleSize    int           `yaml:"subsampleSize"`
	SampleCapacity   int           `yaml:"sampleCapacity"`
	MinSamples       int           `yaml:"minSamples"`
	RetrainPeriod    time.Duration `yaml:"retrainPeriod"`
	AnomalyThreshold float64       `yaml:"anomalyThreshold"`
	Seed             uint64        `yaml:"seed"`
}

// ThresholdsConfig holds the absolute per-service error/critical limits.
type ThresholdsConfig struct {
	ErrorRate     float64 `yaml:"errorRate"`
	CriticalRate  float64 `yaml:"criticalRate"`
	ErrorCount    int     `yaml:"errorCount"`
	CriticalCount int     `yaml:"criticalCount"`
	MinEvents     int     `yaml:"minEvents"`
}

// AlertsConfig controls deduplication and hysteresis.
type AlertsConfig struct {
	Cooldown    time.Duration `yaml:"cooldown"`
	DecayCount  int           `yaml:"decayCount"`
	HistorySize int           `yaml:"historySize"`
}

// HealthConfig holds health score weights and staleness.
type HealthConfig struct {
	ErrorWeight    float64       `yaml:"errorWeight"`
	CriticalWeight float64       `yaml:"criticalWeight"`
	AnomalyWeight  float64       `yaml:"anomalyWeight"`
	StaleAfter     time.Duration `yaml:"staleAfter"`
	HistorySize    int           `yaml:"historySize"`
}

// NotifyConfig configures alert delivery.
type NotifyConfig struct {
	QueueSize       int            `yaml:"queueSize"`
	MaxRetries      int            `yaml:"maxRetries"`
	RetryBackoff    time.Duration  `yaml:"retryBackoff"`
	RatePerSecond   float64        `yaml:"ratePerSecond"`
	Burst           int            `yaml:"burst"`
	DedupTTL        time.Duration  `yaml:"dedupTTL"`
	SummaryInterval time.Duration  `yaml:"summaryInterval"`
	Telegram        TelegramConfig `yaml:"telegram"`
	Webhook         WebhookConfig  `yaml:"webhook"`
	NATS            NATSConfig     `yaml:"nats"`
}

// TelegramConfig configures the Telegram bot channel.
type TelegramConfig struct {
	BotToken string        `yaml:"botToken"`
	ChatID   string        `yaml:"chatID"`
	BaseURL  string        `yaml:"baseURL"`
	Timeout  time.Duration `yaml:"timeout"`
}

// WebhookConfig configures the generic JSON webhook channel.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

// NATSConfig configures publication of alerts to a NATS subject.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ExplainConfig configures the AI explanation collaborator.
type ExplainConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Endpoint      string        `yaml:"endpoint"`
	APIKey        string        `yaml:"apiKey"`
	Timeout       time.Duration `yaml:"timeout"`
	QueueSize     int           `yaml:"queueSize"`
	Workers       int           `yaml:"workers"`
	MaxRetries    int           `yaml:"maxRetries"`
	CacheTTL      time.Duration `yaml:"cacheTTL"`
	ContextEvents int           `yaml:"contextEvents"`
}

// RulesConfig controls rule-pack loading for alert recommendations.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls the shared Valkey/Redis cache.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	KeyPrefix    string        `yaml:"keyPrefix"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_SENTINEL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50052",
			HTTPAddress:     ":2113",
			GracefulTimeout: 10 * time.Second,
			MaxBatch:        5000,
		},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 7},
		Detection: DetectionConfig{
			Window:        time.Minute,
			Retention:     15 * time.Minute,
			TickPeriod:    5 * time.Second,
			TickDeadline:  4 * time.Second,
			Parallelism:   8,
			MaxFutureSkew: 30 * time.Second,
		},
		Baseline: BaselineConfig{
			Alpha:       0.1,
			ZThreshold:  2.5,
			WarmupCount: 10,
			Epsilon:     1e-6,
		},
		Forest: ForestConfig{
			Trees:            100,
			SubsampleSize:    256,
			SampleCapacity:   1024,
			MinSamples:       50,
			RetrainPeriod:    5 * time.Minute,
			AnomalyThreshold: 0.65,
		},
		Thresholds: ThresholdsConfig{
			ErrorRate:     0.3,
			CriticalRate:  0.1,
			ErrorCount:    10,
			CriticalCount: 5,
			MinEvents:     5,
		},
		Alerts: AlertsConfig{
			Cooldown:    5 * time.Minute,
			DecayCount:  3,
			HistorySize: 512,
		},
		Health: HealthConfig{
			ErrorWeight:    100,
			CriticalWeight: 100,
			AnomalyWeight:  40,
			StaleAfter:     5 * time.Minute,
			HistorySize:    120,
		},
		Notify: NotifyConfig{
			QueueSize:     256,
			MaxRetries:    3,
			RetryBackoff:  500 * time.Millisecond,
			RatePerSecond: 1,
			Burst:         5,
			DedupTTL:      time.Hour,
			Telegram: TelegramConfig{
				BaseURL: "https://api.telegram.org",
				Timeout: 10 * time.Second,
			},
			Webhook: WebhookConfig{Timeout: 10 * time.Second},
			NATS:    NATSConfig{Subject: "sentinel.alerts"},
		},
		Explain: ExplainConfig{
			Timeout:       30 * time.Second,
			QueueSize:     64,
			Workers:       2,
			MaxRetries:    2,
			CacheTTL:      30 * time.Minute,
			ContextEvents: 20,
		},
		Rules: RulesConfig{Path: "configs/rules/default.yaml"},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			KeyPrefix:    "sentinel:",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	setString("MIRADOR_SENTINEL_SERVER_ADDRESS", &cfg.Server.Address)
	setString("MIRADOR_SENTINEL_HTTP_ADDRESS", &cfg.Server.HTTPAddress)
	setString("MIRADOR_SENTINEL_LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv("MIRADOR_SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	setString("MIRADOR_SENTINEL_LOG_FILE", &cfg.Logging.File)

	setDuration("MIRADOR_SENTINEL_WINDOW", &cfg.Detection.Window)
	setDuration("MIRADOR_SENTINEL_RETENTION", &cfg.Detection.Retention)
	setDuration("MIRADOR_SENTINEL_TICK_PERIOD", &cfg.Detection.TickPeriod)
	setDuration("MIRADOR_SENTINEL_TICK_DEADLINE", &cfg.Detection.TickDeadline)
	setInt("MIRADOR_SENTINEL_PARALLELISM", &cfg.Detection.Parallelism)

	setFloat("MIRADOR_SENTINEL_EWMA_ALPHA", &cfg.Baseline.Alpha)
	setFloat("MIRADOR_SENTINEL_Z_THRESHOLD", &cfg.Baseline.ZThreshold)
	setInt("MIRADOR_SENTINEL_WARMUP_COUNT", &cfg.Baseline.WarmupCount)

	setInt("MIRADOR_SENTINEL_FOREST_TREES", &cfg.Forest.Trees)
	setInt("MIRADOR_SENTINEL_FOREST_SUBSAMPLE", &cfg.Forest.SubsampleSize)
	setDuration("MIRADOR_SENTINEL_RETRAIN_PERIOD", &cfg.Forest.RetrainPeriod)
	setFloat("MIRADOR_SENTINEL_ANOMALY_THRESHOLD", &cfg.Forest.AnomalyThreshold)

	setDuration("MIRADOR_SENTINEL_ALERT_COOLDOWN", &cfg.Alerts.Cooldown)
	setInt("MIRADOR_SENTINEL_ALERT_DECAY_COUNT", &cfg.Alerts.DecayCount)
	setDuration("MIRADOR_SENTINEL_STALE_AFTER", &cfg.Health.StaleAfter)

	setString("MIRADOR_SENTINEL_TELEGRAM_BOT_TOKEN", &cfg.Notify.Telegram.BotToken)
	setString("MIRADOR_SENTINEL_TELEGRAM_CHAT_ID", &cfg.Notify.Telegram.ChatID)
	setString("MIRADOR_SENTINEL_WEBHOOK_URL", &cfg.Notify.Webhook.URL)
	setString("MIRADOR_SENTINEL_NATS_URL", &cfg.Notify.NATS.URL)
	setString("MIRADOR_SENTINEL_NATS_SUBJECT", &cfg.Notify.NATS.Subject)

	setBool("MIRADOR_SENTINEL_EXPLAIN_ENABLED", &cfg.Explain.Enabled)
	setString("MIRADOR_SENTINEL_EXPLAIN_ENDPOINT", &cfg.Explain.Endpoint)
	setString("MIRADOR_SENTINEL_EXPLAIN_API_KEY", &cfg.Explain.APIKey)

	setString("MIRADOR_SENTINEL_RULES_PATH", &cfg.Rules.Path)

	setBool("MIRADOR_SENTINEL_CACHE_ENABLED", &cfg.Cache.Enabled)
	setString("MIRADOR_SENTINEL_CACHE_ADDR", &cfg.Cache.Addr)
	setString("MIRADOR_SENTINEL_CACHE_USERNAME", &cfg.Cache.Username)
	setString("MIRADOR_SENTINEL_CACHE_PASSWORD", &cfg.Cache.Password)
	setInt("MIRADOR_SENTINEL_CACHE_DB", &cfg.Cache.DB)
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	setInt("MIRADOR_SENTINEL_CACHE_MAX_RETRIES", &cfg.Cache.MaxRetries)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
