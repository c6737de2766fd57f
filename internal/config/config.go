package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Analysis     AnalysisConfig     `yaml:"analysis" mapstructure:"analysis"`
	Engine       EngineConfig       `yaml:"engine" mapstructure:"engine"`
	Executor     ExecutorConfig     `yaml:"executor" mapstructure:"executor"`
	Queue        QueueConfig        `yaml:"queue" mapstructure:"queue"`
	Redis        RedisConfig        `yaml:"redis" mapstructure:"redis"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping" mapstructure:"housekeeping"`
}

// StoreConfig configures the database backend. For sqlite, DatabaseURL is
// a file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host        string   `yaml:"host" mapstructure:"host"`
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	// RateLimit is requests per second allowed per client IP; 0 disables.
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AnalysisConfig configures analysis limits and retention.
type AnalysisConfig struct {
	DaysToKeep           int  `yaml:"days_to_keep" mapstructure:"days_to_keep"`
	DaysToKeepUnexecuted int  `yaml:"days_to_keep_unexecuted" mapstructure:"days_to_keep_unexecuted"`
	Desktop              bool `yaml:"desktop" mapstructure:"desktop"`
	MaxDatasetsServer    int  `yaml:"max_datasets_server" mapstructure:"max_datasets_server"`
	MaxDatasetsDesktop   int  `yaml:"max_datasets_desktop" mapstructure:"max_datasets_desktop"`
}

// MaxDatasets returns the dataset cap for the current mode.
func (c AnalysisConfig) MaxDatasets() int {
	if c.Desktop {
		return c.MaxDatasetsDesktop
	}
	return c.MaxDatasetsServer
}

// Retention returns how long an analysis is kept after its last renewal.
// Desktop analyses never expire.
func (c AnalysisConfig) Retention() time.Duration {
	if c.Desktop {
		return 0
	}
	return time.Duration(c.DaysToKeep) * 24 * time.Hour
}

// EngineConfig configures the modeling sidecar client.
type EngineConfig struct {
	BaseURL             string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec          float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst               int     `yaml:"burst" mapstructure:"burst"`
	MaxAttempts         int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs    int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs        int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold    int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// ExecutorConfig configures analysis execution.
type ExecutorConfig struct {
	MaxParallel int `yaml:"max_parallel" mapstructure:"max_parallel"`
}

// QueueConfig selects how executions are dispatched.
type QueueConfig struct {
	Mode        string `yaml:"mode" mapstructure:"mode"`
	HostPort    string `yaml:"host_port" mapstructure:"host_port"`
	Namespace   string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue   string `yaml:"task_queue" mapstructure:"task_queue"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RedisConfig configures the worker heartbeat store.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// HousekeepingConfig configures the retention loop.
type HousekeepingConfig struct {
	IntervalMins     int `yaml:"interval_mins" mapstructure:"interval_mins"`
	HangingAfterMins int `yaml:"hanging_after_mins" mapstructure:"hanging_after_mins"`
}

// Load reads configuration from a .env file, a YAML config file, and the
// environment (prefix BMDS_). An empty file searches the working directory
// for config.yaml.
func Load(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BMDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "bmds.sqlite3")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("analysis.days_to_keep", 365)
	v.SetDefault("analysis.days_to_keep_unexecuted", 30)
	v.SetDefault("analysis.desktop", false)
	v.SetDefault("analysis.max_datasets_server", 10)
	v.SetDefault("analysis.max_datasets_desktop", 1000)
	v.SetDefault("engine.base_url", "http://127.0.0.1:5001")
	v.SetDefault("engine.timeout_secs", 300)
	v.SetDefault("engine.rate_per_sec", 5.0)
	v.SetDefault("engine.burst", 5)
	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.initial_backoff_ms", 1000)
	v.SetDefault("engine.max_backoff_ms", 20000)
	v.SetDefault("engine.breaker_threshold", 5)
	v.SetDefault("engine.breaker_cooldown_secs", 30)
	v.SetDefault("executor.max_parallel", 1)
	v.SetDefault("queue.mode", "eager")
	v.SetDefault("queue.host_port", "localhost:7233")
	v.SetDefault("queue.namespace", "default")
	v.SetDefault("queue.task_queue", "bmds-analysis")
	v.SetDefault("queue.timeout_secs", 360)
	v.SetDefault("redis.db", 0)
	v.SetDefault("housekeeping.interval_mins", 60)
	v.SetDefault("housekeeping.hanging_after_mins", 15)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
