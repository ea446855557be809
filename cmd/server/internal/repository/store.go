package repository

import (
	"context"
)

// SnapshotStore keeps the latest quote payload per symbol so newly
// subscribed clients get an immediate picture before the next live event.
type SnapshotStore interface {
	Save(ctx context.Context, symbol string, payload []byte) error
	Latest(ctx context.Context, symbols []string) ([][]byte, error)
	Close() error
}
