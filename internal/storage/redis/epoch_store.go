package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/icerotate/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	epochSeqKey    = "icerotate:epochs:seq"
	epochIndexKey  = "icerotate:epochs"
	epochKeyPrefix = "icerotate:epoch:"
)

type epochStore struct {
	client *redis.Client
	limit  int
	script *redis.Script
}

// Record appends an epoch to the journal and sets its ID
func (s *epochStore) Record(ctx context.Context, epoch *storage.EpochRecord) error {
	keys := []string{epochSeqKey, epochIndexKey}
	args := []interface{}{
		epochKeyPrefix,
		s.limit,
		string(epoch.Reason),
		epoch.BaselineMB,
		epoch.QuotaMB,
		epoch.HostName,
		epoch.HardwareAddress,
		epoch.StartedAt.UTC().Format(time.RFC3339Nano),
	}

	id, err := s.script.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("failed to record epoch: %w", err)
	}

	epoch.ID = id
	return nil
}

// Get retrieves an epoch by ID
func (s *epochStore) Get(ctx context.Context, id int64) (*storage.EpochRecord, error) {
	data, err := s.client.HGetAll(ctx, fmt.Sprintf("%s%d", epochKeyPrefix, id)).Result()
	if err != nil {
		return nil, err
	}

	return parseEpochRecord(data)
}

// List returns up to limit epochs, newest first
func (s *epochStore) List(ctx context.Context, limit int) ([]storage.EpochRecord, error) {
	if limit <= 0 {
		return []storage.EpochRecord{}, nil
	}

	ids, err := s.client.ZRevRange(ctx, epochIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.EpochRecord{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))

	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, epochKeyPrefix+id)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	epochs := make([]storage.EpochRecord, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		epoch, err := parseEpochRecord(data)
		if err != nil {
			continue
		}

		epochs = append(epochs, *epoch)
	}

	return epochs, nil
}
