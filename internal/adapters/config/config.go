package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents application configuration
type Config struct {
	Monitor   MonitorConfig   `envconfig:"MONITOR"`
	Detector  DetectorConfig  `envconfig:"DETECTOR"`
	Alerts    AlertsConfig    `envconfig:"ALERTS"`
	Checker   CheckerConfig   `envconfig:"CHECKER"`
	Providers ProvidersConfig `envconfig:"PROVIDERS"`
	Database  DatabaseConfig  `envconfig:"DATABASE"`
	Analytics AnalyticsConfig `envconfig:"ANALYTICS"`
	Redis     RedisConfig     `envconfig:"REDIS"`
	Telegram  TelegramConfig  `envconfig:"TELEGRAM"`
	Logging   LoggingConfig   `envconfig:"LOGGING"`
}

// MonitorConfig represents block polling parameters
type MonitorConfig struct {
	PollInterval     time.Duration `envconfig:"MONITOR_POLL_INTERVAL" default:"30s"`
	MaxCatchUpBlocks int64         `envconfig:"MONITOR_MAX_CATCHUP_BLOCKS" default:"144"`
	ReorgLookback    int           `envconfig:"MONITOR_REORG_LOOKBACK" default:"6"`
	DetailWorkers    int           `envconfig:"MONITOR_DETAIL_WORKERS" default:"4"`
	CommitRetries    int           `envconfig:"MONITOR_COMMIT_RETRIES" default:"3"`
	CommitBackoff    time.Duration `envconfig:"MONITOR_COMMIT_BACKOFF" default:"2s"`
}

// DetectorConfig represents pattern detection thresholds
type DetectorConfig struct {
	DormancyThresholdDays int           `envconfig:"DETECTOR_DORMANCY_THRESHOLD_DAYS" default:"365"`
	ActivityWindow        time.Duration `envconfig:"DETECTOR_ACTIVITY_WINDOW" default:"30m"`
	MinWallets            int           `envconfig:"DETECTOR_MIN_WALLETS" default:"5"`
	ValueThresholdBTC     float64       `envconfig:"DETECTOR_VALUE_THRESHOLD_BTC" default:"100"`
	SimilarityThreshold   float64       `envconfig:"DETECTOR_SIMILARITY_THRESHOLD" default:"0.1"`
	ZScoreThreshold       float64       `envconfig:"DETECTOR_ZSCORE_THRESHOLD" default:"3.0"`
	ZScoreCriticalLevel   float64       `envconfig:"DETECTOR_ZSCORE_CRITICAL" default:"4.0"`
	StatWindowSamples     int           `envconfig:"DETECTOR_STAT_WINDOW_SAMPLES" default:"144"`
	EventRetention        time.Duration `envconfig:"DETECTOR_EVENT_RETENTION" default:"24h"`
}

// AlertsConfig represents dedup and cooldown parameters
type AlertsConfig struct {
	Cooldown          time.Duration `envconfig:"ALERTS_COOLDOWN" default:"30m"`
	FingerprintBucket time.Duration `envconfig:"ALERTS_FINGERPRINT_BUCKET" default:"30m"`
}

// CheckerConfig represents the tier-driven direct check sweep over the
// highest-risk addresses
type CheckerConfig struct {
	Enabled       bool          `envconfig:"CHECKER_ENABLED" default:"true"`
	SweepInterval time.Duration `envconfig:"CHECKER_SWEEP_INTERVAL" default:"1m"`
	TopAddresses  int           `envconfig:"CHECKER_TOP_ADDRESSES" default:"100"`
}

// ProvidersConfig represents upstream data source parameters. Priority is a
// comma-separated provider order.
type ProvidersConfig struct {
	Priority       []string       `envconfig:"PROVIDERS_PRIORITY" default:"blockstream,mempoolspace"`
	CallTimeout    time.Duration  `envconfig:"PROVIDERS_CALL_TIMEOUT" default:"15s"`
	Blockstream    ProviderConfig `envconfig:"BLOCKSTREAM"`
	MempoolSpace   ProviderConfig `envconfig:"MEMPOOLSPACE"`
	TipStreamURL   string         `envconfig:"PROVIDERS_TIPSTREAM_URL" default:"wss://mempool.space/api/v1/ws"`
	TipStreamOn    bool           `envconfig:"PROVIDERS_TIPSTREAM_ENABLED" default:"true"`
}

// ProviderConfig represents one upstream source with its rate limit
type ProviderConfig struct {
	BaseURL        string  `envconfig:"BASE_URL"`
	RatePerSec     float64 `envconfig:"RATE_PER_SEC" default:"3"`
	BucketCapacity int     `envconfig:"BUCKET_CAPACITY" default:"6"`
}

// DatabaseConfig represents database connection parameters
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"sentinel"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

// GetDSN returns postgres connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode)
}

// AnalyticsConfig represents the optional ClickHouse analytics sink
type AnalyticsConfig struct {
	Enabled   bool          `envconfig:"ANALYTICS_ENABLED" default:"false"`
	DSN       string        `envconfig:"ANALYTICS_DSN" default:"clickhouse://localhost:9000/sentinel"`
	MaxBatch  int           `envconfig:"ANALYTICS_MAX_BATCH" default:"500"`
	FlushWait time.Duration `envconfig:"ANALYTICS_FLUSH_WAIT" default:"10s"`
}

// RedisConfig represents the optional leadership lock backend
type RedisConfig struct {
	Enabled  bool          `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int           `envconfig:"REDIS_PORT" default:"6379"`
	Password string        `envconfig:"REDIS_PASSWORD" required:"false"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	LockTTL  time.Duration `envconfig:"REDIS_LOCK_TTL" default:"90s"`
}

// TelegramConfig represents the alert notification channel. With an empty
// token alerts are logged only.
type TelegramConfig struct {
	BotToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"false"`
	ChatID   int64  `envconfig:"TELEGRAM_CHAT_ID" required:"false"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
	File  string `envconfig:"LOG_FILE" default:""`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if len(c.Providers.Priority) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	if c.Monitor.ReorgLookback <= 0 {
		return fmt.Errorf("reorg lookback must be positive")
	}
	if c.Detector.MinWallets <= 0 {
		return fmt.Errorf("detector min wallets must be positive")
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram chat id required when bot token is set")
	}
	return nil
}
