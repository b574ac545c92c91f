package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goodtune/icerotate/internal/accounting"
	"github.com/goodtune/icerotate/internal/config"
	"github.com/goodtune/icerotate/internal/identity"
	"github.com/goodtune/icerotate/internal/metrics"
	"github.com/goodtune/icerotate/internal/monitor"
	"github.com/goodtune/icerotate/internal/netctl"
	"github.com/goodtune/icerotate/internal/platform"
	"github.com/goodtune/icerotate/internal/storage"
	"github.com/goodtune/icerotate/internal/storage/redis"
	"github.com/goodtune/icerotate/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the usage monitor",
	Long: `Start the usage monitor. Requires root privileges and a supported platform
(macOS or Linux with NetworkManager). The original host name is restored on exit.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Setup logger
	logger, logFile := setupLogger(cfg.Logging)
	log.Logger = logger
	if logFile != nil {
		defer func() { _ = logFile.Close() }()
	}

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting icerotate")

	if err := platform.Preflight(); err != nil {
		logger.Error().Err(err).Msg("Preflight check failed")
		return err
	}

	// Initialize identity generator
	generator, err := identity.NewGenerator(identity.Config{
		Prefix:    cfg.Identity.HardwarePrefix,
		CacheSize: cfg.Identity.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize identity generator: %w", err)
	}

	accountant := newAccountant(cfg)

	host, err := platform.Detect(platform.ExecRunner{Logger: logger})
	if err != nil {
		return err
	}

	controller := netctl.NewController(
		host,
		generator,
		accountant,
		netctl.Config{
			Interface: cfg.Network.Interface,
			SSID:      cfg.Network.SSID,
		},
		logger,
	)

	monitorConfig := monitor.Config{
		QuotaMB:      cfg.Quota.LimitMB,
		PollInterval: cfg.Quota.PollIntervalDuration(),
	}

	// Epoch history is optional; the monitor runs without it if Redis is down
	if cfg.Storage.Type == "redis" {
		store, err := openStorage(cfg.Storage)
		if err != nil {
			logger.Warn().Err(err).Msg("Epoch history unavailable, continuing without it")
		} else {
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error().Err(err).Msg("Failed to close storage")
				}
			}()
			monitorConfig.History = store.Epochs()

			logger.Info().
				Str("redis_host", cfg.Storage.Redis.Host).
				Int("redis_port", cfg.Storage.Redis.Port).
				Msg("Epoch history enabled")
		}
	}

	watchdog, err := systemd.NewWatchdog()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to query systemd watchdog")
	}
	if watchdog != nil {
		monitorConfig.Notifier = watchdog
		if monitorConfig.PollInterval >= watchdog.Interval()/2 {
			logger.Warn().
				Dur("poll_interval", monitorConfig.PollInterval).
				Dur("watchdog", watchdog.Interval()).
				Msg("Poll interval is too long for the systemd watchdog")
		}
	}

	usageMonitor, err := monitor.New(accountant, controller, monitorConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize usage monitor: %w", err)
	}

	// Initialize Metrics Server
	metricsServer, err := startMetrics(cfg.Metrics, logger)
	if err != nil {
		return err
	}
	if metricsServer != nil {
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				logger.Error().Err(err).Msg("Error stopping Metrics Server")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	runErr := usageMonitor.Run(ctx)

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("Usage monitor stopped")
		return runErr
	}

	logger.Info().Msg("icerotate stopped")
	return nil
}

// newAccountant builds the usage source for the configured accounting scope
func newAccountant(cfg *config.Config) *accounting.Accountant {
	var iface string
	if cfg.Accounting.PerInterface {
		iface = cfg.Network.Interface
	}
	return accounting.New(accounting.Config{Interface: iface})
}

// openStorage opens the configured epoch history backend
func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "redis":
		return redis.Open(cfg.Redis, cfg.HistoryLimit)
	default:
		return nil, fmt.Errorf("epoch history requires storage.type redis, got %q", cfg.Type)
	}
}

// startMetrics starts the metrics server when enabled or socket activated.
// It returns nil when metrics are off.
func startMetrics(cfg config.MetricsConfig, logger zerolog.Logger) (*metrics.Server, error) {
	listener, err := systemd.MetricsListener()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled && listener == nil {
		return nil, nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	server := metrics.NewServer(addr, logger)
	if listener != nil {
		logger.Info().Str("addr", listener.Addr().String()).Msg("Using systemd socket for metrics")
		server.SetListener(listener)
	}

	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	return server, nil
}

// setupLogger configures the logger based on configuration. When a log file
// is configured the returned closer owns it.
func setupLogger(cfg config.LoggingConfig) (zerolog.Logger, io.Closer) {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	var console io.Writer = os.Stdout
	if cfg.Format == "text" {
		console = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	if cfg.File == "" {
		return zerolog.New(console).With().Timestamp().Logger(), nil
	}

	// The file always receives JSON
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}

	writer := zerolog.MultiLevelWriter(console, file)
	return zerolog.New(writer).With().Timestamp().Logger(), file
}
