package main

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/icerotate/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the icerotate configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(out, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		_, _ = fmt.Fprintln(out)
		_, _ = red.Fprintf(out, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(out, "   - %s\n", key)
		}
		_, _ = fmt.Fprintln(out, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(out, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(out, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(out, strings.Repeat("=", 80))

		dumpConfig(out, cfg, config.Defaults())

		_, _ = fmt.Fprintln(out, "\n"+strings.Repeat("=", 80))
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := validKeySet()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// validKeySet returns every configuration key. Each key carries a default, so
// a defaults-only viper enumerates them all.
func validKeySet() map[string]bool {
	keys := make(map[string]bool)
	for _, key := range config.New().AllKeys() {
		keys[key] = true
	}
	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(out io.Writer, cfg, defaultCfg *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	field := func(name string, value, defaultValue interface{}) {
		dumpField(out, name, value, defaultValue, yellow, green)
	}

	_, _ = cyan.Fprintln(out, "\n[network]")
	field("  interface", cfg.Network.Interface, defaultCfg.Network.Interface)
	field("  ssid", cfg.Network.SSID, defaultCfg.Network.SSID)

	_, _ = cyan.Fprintln(out, "\n[quota]")
	field("  limit_mb", cfg.Quota.LimitMB, defaultCfg.Quota.LimitMB)
	field("  poll_interval", cfg.Quota.PollInterval, defaultCfg.Quota.PollInterval)

	_, _ = cyan.Fprintln(out, "\n[accounting]")
	field("  per_interface", cfg.Accounting.PerInterface, defaultCfg.Accounting.PerInterface)

	_, _ = cyan.Fprintln(out, "\n[identity]")
	field("  hardware_prefix", cfg.Identity.HardwarePrefix, defaultCfg.Identity.HardwarePrefix)
	field("  cache_size", cfg.Identity.CacheSize, defaultCfg.Identity.CacheSize)

	_, _ = cyan.Fprintln(out, "\n[metrics]")
	field("  enabled", cfg.Metrics.Enabled, defaultCfg.Metrics.Enabled)
	field("  bind_address", cfg.Metrics.BindAddress, defaultCfg.Metrics.BindAddress)
	field("  port", cfg.Metrics.Port, defaultCfg.Metrics.Port)

	_, _ = cyan.Fprintln(out, "\n[storage]")
	field("  type", cfg.Storage.Type, defaultCfg.Storage.Type)
	field("  history_limit", cfg.Storage.HistoryLimit, defaultCfg.Storage.HistoryLimit)
	_, _ = cyan.Fprintln(out, "  [storage.redis]")
	field("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host)
	field("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port)
	field("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password))
	field("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB)
	field("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize)
	field("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns)
	field("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout)
	field("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout)
	field("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout)

	_, _ = cyan.Fprintln(out, "\n[logging]")
	field("  level", cfg.Logging.Level, defaultCfg.Logging.Level)
	field("  format", cfg.Logging.Format, defaultCfg.Logging.Format)
	field("  file", cfg.Logging.File, defaultCfg.Logging.File)
	field("  max_size_mb", cfg.Logging.MaxSizeMB, defaultCfg.Logging.MaxSizeMB)
	field("  max_backups", cfg.Logging.MaxBackups, defaultCfg.Logging.MaxBackups)
	field("  max_age_days", cfg.Logging.MaxAgeDays, defaultCfg.Logging.MaxAgeDays)
}

// dumpField prints a field with color if it differs from default
func dumpField(out io.Writer, name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	valueStr := fmt.Sprintf("%v", value)

	if reflect.DeepEqual(value, defaultValue) {
		_, _ = defaultColor.Fprintf(out, "%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Fprintf(out, "%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
