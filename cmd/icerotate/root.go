package main

import (
	"fmt"
	"os"

	"github.com/goodtune/icerotate/internal/config"
	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string

	// settings carries defaults, environment and bound flags into config.Load
	settings = config.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "icerotate",
	Short: "icerotate - keep a metered captive Wi-Fi connection under its quota",
	Long: `icerotate watches cumulative network usage and, before the captive portal
quota is used up, forgets the network, rotates the host name and hardware
address, and joins again as a new client.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to run command when no subcommand is provided
		return runDaemon(cmd, args)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()

	// Global flags
	flags.StringVarP(&configPath, "config", "c", "/etc/icerotate/config.yaml", "Path to configuration file")
	flags.Int64("quota-mb", 0, fmt.Sprintf("Traffic quota per connection in MB (default %d)", config.DefaultQuotaMB))
	flags.String("ssid", "", fmt.Sprintf("SSID of the metered network (default %q)", config.DefaultSSID))
	flags.String("interface", "", fmt.Sprintf("Wireless interface (default %q)", config.DefaultInterface))
	flags.String("poll-interval", "", fmt.Sprintf("Time between usage samples (default %s)", config.DefaultPollInterval))

	bindings := map[string]string{
		"quota.limit_mb":      "quota-mb",
		"network.ssid":        "ssid",
		"network.interface":   "interface",
		"quota.poll_interval": "poll-interval",
	}
	for key, name := range bindings {
		if err := settings.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
}

// loadConfig loads configuration from the --config path, environment and flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(settings, configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
