package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/goodtune/icerotate/internal/identity"
	"github.com/spf13/cobra"
)

var identityCount int

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Print freshly generated identities",
	Long:  `Generate host names and hardware addresses the way a reconnect would, without applying them.`,
	RunE:  runIdentity,
}

func init() {
	identityCmd.Flags().IntVarP(&identityCount, "count", "n", 1, "Number of identities to generate")
	rootCmd.AddCommand(identityCmd)
}

func runIdentity(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if identityCount < 1 {
		return fmt.Errorf("count must be at least 1: %d", identityCount)
	}

	generator, err := identity.NewGenerator(identity.Config{
		Prefix:    cfg.Identity.HardwarePrefix,
		CacheSize: cfg.Identity.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize identity generator: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	out := cmd.OutOrStdout()

	for i := 0; i < identityCount; i++ {
		_, _ = cyan.Fprint(out, "host_name        ")
		_, _ = fmt.Fprintln(out, generator.NewHostName())
		_, _ = cyan.Fprint(out, "hardware_address ")
		_, _ = fmt.Fprintln(out, generator.NewHardwareAddress())
		if i < identityCount-1 {
			_, _ = fmt.Fprintln(out)
		}
	}

	return nil
}
