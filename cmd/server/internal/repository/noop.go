package repository

import "context"

var _ SnapshotStore = (*NoopStore)(nil)

// NoopStore stands in when no snapshot backend is reachable; the relay
// keeps working, clients just get no snapshot on subscribe.
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (*NoopStore) Save(ctx context.Context, symbol string, payload []byte) error { return nil }

func (*NoopStore) Latest(ctx context.Context, symbols []string) ([][]byte, error) {
	return nil, nil
}

func (*NoopStore) Close() error { return nil }
