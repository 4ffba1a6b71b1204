package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "SHOPSYNC"

	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = "sqlite"
	defaultDatabasePath   = "shopsync.db"
	defaultLogLevel       = "info"
	defaultLogMaxSizeMB   = 50
	defaultLogMaxBackups  = 5
	defaultLogMaxAgeDays  = 30

	defaultTokenIssuer   = "shopsync"
	defaultTokenAudience = "shopsync-api"
	defaultTokenTTL      = 720 * time.Hour

	defaultEchoWindow   = 120 * time.Second
	defaultLockTimeout  = 0 * time.Second
	defaultRetryAfter   = 30 * time.Second
	defaultWorkerCount  = 2
	defaultQueueSize    = 16
	defaultReworkStage  = "Rework"
	defaultRequireOpLog = false

	defaultOutboxMaxRetries    = 5
	defaultOutboxSweepInterval = 30 * time.Second
	defaultOutboxBatchSize     = 50
	defaultDeliveryTimeout     = 15 * time.Second
)

// AppConfig captures runtime configuration for the sync service.
type AppConfig struct {
	HTTPAddress string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	LogLevel          string
	LogFilePath       string
	LogFileMaxSizeMB  int
	LogFileMaxBackups int
	LogFileMaxAgeDays int

	SigningSecret string
	TokenIssuer   string
	TokenAudience string
	TokenTTL      time.Duration

	EchoWindow       time.Duration
	LockTimeout      time.Duration
	RetryAfter       time.Duration
	RequireOperation bool
	WorkerCount      int
	QueueSize        int
	ReworkStage      string

	OutboxMaxRetries    int
	OutboxSweepInterval time.Duration
	OutboxBatchSize     int
	DeliveryTimeout     time.Duration

	ConnectorBaseURL   string
	ConnectorAuthToken string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file.max_size_mb", defaultLogMaxSizeMB)
	configViper.SetDefault("log.file.max_backups", defaultLogMaxBackups)
	configViper.SetDefault("log.file.max_age_days", defaultLogMaxAgeDays)
	configViper.SetDefault("auth.token_issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.token_audience", defaultTokenAudience)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("sync.echo_window", defaultEchoWindow)
	configViper.SetDefault("sync.lock_timeout", defaultLockTimeout)
	configViper.SetDefault("sync.retry_after", defaultRetryAfter)
	configViper.SetDefault("sync.require_operation", defaultRequireOpLog)
	configViper.SetDefault("sync.worker_count", defaultWorkerCount)
	configViper.SetDefault("sync.queue_size", defaultQueueSize)
	configViper.SetDefault("sync.rework_stage", defaultReworkStage)
	configViper.SetDefault("outbox.max_retries", defaultOutboxMaxRetries)
	configViper.SetDefault("outbox.sweep_interval", defaultOutboxSweepInterval)
	configViper.SetDefault("outbox.batch_size", defaultOutboxBatchSize)
	configViper.SetDefault("outbox.delivery_timeout", defaultDeliveryTimeout)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabaseDriver:      configViper.GetString("database.driver"),
		DatabasePath:        configViper.GetString("database.path"),
		DatabaseDSN:         configViper.GetString("database.dsn"),
		LogLevel:            configViper.GetString("log.level"),
		LogFilePath:         configViper.GetString("log.file.path"),
		LogFileMaxSizeMB:    configViper.GetInt("log.file.max_size_mb"),
		LogFileMaxBackups:   configViper.GetInt("log.file.max_backups"),
		LogFileMaxAgeDays:   configViper.GetInt("log.file.max_age_days"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		TokenIssuer:         configViper.GetString("auth.token_issuer"),
		TokenAudience:       configViper.GetString("auth.token_audience"),
		TokenTTL:            configViper.GetDuration("auth.token_ttl"),
		EchoWindow:          configViper.GetDuration("sync.echo_window"),
		LockTimeout:         configViper.GetDuration("sync.lock_timeout"),
		RetryAfter:          configViper.GetDuration("sync.retry_after"),
		RequireOperation:    configViper.GetBool("sync.require_operation"),
		WorkerCount:         configViper.GetInt("sync.worker_count"),
		QueueSize:           configViper.GetInt("sync.queue_size"),
		ReworkStage:         configViper.GetString("sync.rework_stage"),
		OutboxMaxRetries:    configViper.GetInt("outbox.max_retries"),
		OutboxSweepInterval: configViper.GetDuration("outbox.sweep_interval"),
		OutboxBatchSize:     configViper.GetInt("outbox.batch_size"),
		DeliveryTimeout:     configViper.GetDuration("outbox.delivery_timeout"),
		ConnectorBaseURL:    configViper.GetString("connector.base_url"),
		ConnectorAuthToken:  configViper.GetString("connector.auth_token"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch strings.TrimSpace(c.DatabaseDriver) {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("sync.worker_count must be at least 1")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("sync.queue_size must be at least 1")
	}
	if c.EchoWindow < 0 {
		return fmt.Errorf("sync.echo_window must not be negative")
	}
	if c.OutboxMaxRetries < 1 {
		return fmt.Errorf("outbox.max_retries must be at least 1")
	}
	if c.OutboxBatchSize < 1 {
		return fmt.Errorf("outbox.batch_size must be at least 1")
	}
	if c.OutboxSweepInterval <= 0 {
		return fmt.Errorf("outbox.sweep_interval must be positive")
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("outbox.delivery_timeout must be positive")
	}
	return nil
}
