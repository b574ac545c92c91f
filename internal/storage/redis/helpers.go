package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/icerotate/internal/storage"
)

// parseEpochRecord converts a Redis hash to EpochRecord
func parseEpochRecord(data map[string]string) (*storage.EpochRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	id, err := strconv.ParseInt(data["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse id: %w", err)
	}

	baseline, err := strconv.ParseInt(data["baseline_mb"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse baseline_mb: %w", err)
	}

	quota, err := strconv.ParseInt(data["quota_mb"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse quota_mb: %w", err)
	}

	reason, err := storage.ParseReason(data["reason"])
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	return &storage.EpochRecord{
		ID:              id,
		Reason:          reason,
		BaselineMB:      baseline,
		QuotaMB:         quota,
		HostName:        data["host_name"],
		HardwareAddress: data["hardware_address"],
		StartedAt:       startedAt,
	}, nil
}
