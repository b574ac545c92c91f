package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Epochs() EpochStore
}

// EpochStore is an append-only journal of connection epochs. It is written
// for observability only; the monitor never reads its baseline back from it.
type EpochStore interface {
	Record(ctx context.Context, epoch *EpochRecord) error
	Get(ctx context.Context, id int64) (*EpochRecord, error)
	List(ctx context.Context, limit int) ([]EpochRecord, error)
}
