package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/goodtune/icerotate/internal/identity"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Network    NetworkConfig    `mapstructure:"network"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Accounting AccountingConfig `mapstructure:"accounting"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// NetworkConfig defines the managed interface and target network
type NetworkConfig struct {
	Interface string `mapstructure:"interface"`
	SSID      string `mapstructure:"ssid"`
}

// QuotaConfig defines the per-epoch traffic limit
type QuotaConfig struct {
	LimitMB      int64  `mapstructure:"limit_mb"`
	PollInterval string `mapstructure:"poll_interval"`
}

// AccountingConfig defines how traffic is counted
type AccountingConfig struct {
	PerInterface bool `mapstructure:"per_interface"` // Count only network.interface instead of all NICs
}

// IdentityConfig defines generated identity settings
type IdentityConfig struct {
	HardwarePrefix string `mapstructure:"hardware_prefix"`
	CacheSize      int    `mapstructure:"cache_size"`
}

// MetricsConfig defines the prometheus endpoint
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// StorageConfig defines the epoch history backend
type StorageConfig struct {
	Type         string      `mapstructure:"type"` // "none" or "redis"
	HistoryLimit int         `mapstructure:"history_limit"`
	Redis        RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"` // Optional rotated log file in addition to stdout
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// PollIntervalDuration returns the parsed poll interval
func (q QuotaConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(q.PollInterval)
	if err != nil {
		return DefaultPollInterval
	}
	return d
}

const (
	DefaultInterface    = "en0"
	DefaultSSID         = "WIFIonICE"
	DefaultQuotaMB      = 180
	DefaultPollInterval = 5 * time.Second
)

// New returns a viper instance with defaults and environment binding applied.
// Callers may bind flags onto it before passing it to Load.
func New() *viper.Viper {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ICEROTATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load loads configuration from file and environment variables
func Load(v *viper.Viper, configPath string) (*Config, error) {
	v.SetConfigFile(configPath)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults, flags and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration produced by defaults alone
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Network defaults
	v.SetDefault("network.interface", DefaultInterface)
	v.SetDefault("network.ssid", DefaultSSID)

	// Quota defaults
	v.SetDefault("quota.limit_mb", DefaultQuotaMB)
	v.SetDefault("quota.poll_interval", DefaultPollInterval.String())

	v.SetDefault("accounting.per_interface", false)

	// Identity defaults
	v.SetDefault("identity.hardware_prefix", identity.DefaultPrefix)
	v.SetDefault("identity.cache_size", identity.DefaultCacheSize)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
	v.SetDefault("metrics.port", 9180)

	// Storage defaults
	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.history_limit", 500)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 4)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Network.Interface == "" {
		return fmt.Errorf("network interface is required")
	}
	if cfg.Network.SSID == "" {
		return fmt.Errorf("network ssid is required")
	}

	if cfg.Quota.LimitMB <= 0 {
		return fmt.Errorf("invalid quota limit: %d MB", cfg.Quota.LimitMB)
	}

	interval, err := time.ParseDuration(cfg.Quota.PollInterval)
	if err != nil {
		return fmt.Errorf("invalid poll interval %q: %w", cfg.Quota.PollInterval, err)
	}
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive: %s", interval)
	}

	if _, err := identity.ParsePrefix(cfg.Identity.HardwarePrefix); err != nil {
		return err
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	switch cfg.Storage.Type {
	case "", "none":
		cfg.Storage.Type = "none"
	case "redis":
		if cfg.Storage.HistoryLimit <= 0 {
			return fmt.Errorf("invalid history limit: %d", cfg.Storage.HistoryLimit)
		}
	default:
		return fmt.Errorf("unsupported storage type: %s (must be 'none' or 'redis')", cfg.Storage.Type)
	}

	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unsupported log format: %s", cfg.Logging.Format)
	}

	return nil
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// SetConfigFile with a missing path surfaces as an fs error rather than
	// ConfigFileNotFoundError
	return errors.Is(err, fs.ErrNotExist)
}
