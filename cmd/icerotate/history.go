package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/icerotate/internal/storage"
	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyID     int64
	historyReason string
	historyJSON   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded connection epochs",
	Long:  `List connection epochs recorded in the Redis history, newest first. Requires storage.type: redis.`,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of epochs to list")
	historyCmd.Flags().Int64Var(&historyID, "id", 0, "Show a single epoch by ID")
	historyCmd.Flags().StringVar(&historyReason, "reason", "", "Only list epochs started for this reason (startup, startup-over-quota, quota)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print epochs as JSON")
	rootCmd.AddCommand(historyCmd)
}

// historyQuery selects epochs from the journal
type historyQuery struct {
	ID     int64
	Limit  int
	Reason string
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	epochs, err := queryEpochs(cmd.Context(), store.Epochs(), historyQuery{
		ID:     historyID,
		Limit:  historyLimit,
		Reason: historyReason,
	})
	if err != nil {
		return err
	}

	return printEpochs(cmd.OutOrStdout(), epochs, historyJSON)
}

// queryEpochs fetches one epoch by ID, or the newest epochs optionally
// filtered by reason. The reason filter applies within the limit.
func queryEpochs(ctx context.Context, store storage.EpochStore, q historyQuery) ([]storage.EpochRecord, error) {
	if q.ID > 0 {
		epoch, err := store.Get(ctx, q.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("epoch %d not found", q.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get epoch %d: %w", q.ID, err)
		}
		return []storage.EpochRecord{*epoch}, nil
	}

	var reason storage.Reason
	if q.Reason != "" {
		r, err := storage.ParseReason(q.Reason)
		if err != nil {
			return nil, err
		}
		reason = r
	}

	epochs, err := store.List(ctx, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list epochs: %w", err)
	}
	if reason == "" {
		return epochs, nil
	}

	filtered := make([]storage.EpochRecord, 0, len(epochs))
	for _, epoch := range epochs {
		if epoch.Reason == reason {
			filtered = append(filtered, epoch)
		}
	}
	return filtered, nil
}

func printEpochs(out io.Writer, epochs []storage.EpochRecord, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(epochs)
	}

	if len(epochs) == 0 {
		_, _ = fmt.Fprintln(out, "No epochs recorded")
		return nil
	}

	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)

	_, _ = cyan.Fprintf(out, "%-6s %-20s %-19s %10s %-12s %s\n", "ID", "STARTED", "REASON", "BASELINE", "HOST NAME", "HARDWARE ADDRESS")
	for _, epoch := range epochs {
		line := fmt.Sprintf("%-6d %-20s %-19s %7d MB %-12s %s\n",
			epoch.ID,
			epoch.StartedAt.Local().Format(time.DateTime),
			epoch.Reason,
			epoch.BaselineMB,
			epoch.HostName,
			epoch.HardwareAddress,
		)
		if epoch.Reason == storage.ReasonStartup {
			_, _ = fmt.Fprint(out, line)
		} else {
			_, _ = yellow.Fprint(out, line)
		}
	}

	return nil
}
