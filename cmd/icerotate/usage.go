package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/goodtune/icerotate/internal/accounting"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Print cumulative network usage",
	Long:  `Print the cumulative sent and received traffic the monitor measures against, in MB.`,
	RunE:  runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	accountant := newAccountant(cfg)

	counters, err := accountant.ReadCounters(cmd.Context())
	if err != nil {
		return err
	}

	scope := "all interfaces"
	if cfg.Accounting.PerInterface {
		scope = cfg.Network.Interface
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	out := cmd.OutOrStdout()

	_, _ = cyan.Fprintf(out, "[%s]\n", scope)
	_, _ = fmt.Fprintf(out, "  bytes_sent = %d\n", counters.BytesSent)
	_, _ = fmt.Fprintf(out, "  bytes_recv = %d\n", counters.BytesRecv)
	_, _ = green.Fprintf(out, "  usage_mb   = %d\n", accounting.ToMB(counters))
	_, _ = fmt.Fprintf(out, "  quota_mb   = %d\n", cfg.Quota.LimitMB)

	return nil
}
