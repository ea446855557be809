package queue

import (
	"context"
	"time"
)

// Entry is one element of the durable event stream. IDs are unique and
// totally ordered by arrival.
type Entry struct {
	ID      string
	Payload []byte
}

// Stream is a bounded, append-only log shared by independent consumer
// groups. Entries read under a group are pending for that consumer until
// acknowledged; acknowledged entries are never redelivered to the group.
type Stream interface {
	// Append adds one entry, trimming the oldest entries once the stream
	// exceeds its configured cap (approximate trimming is fine).
	Append(ctx context.Context, payload []byte) error

	// EnsureGroup creates a consumer group cursored at the beginning of
	// the stream. Calling it for an existing group is not an error.
	EnsureGroup(ctx context.Context, group string) error

	// ReadNext returns up to count entries the group has not yet
	// delivered, blocking for up to block when none are available.
	ReadNext(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]Entry, error)

	// Ack marks an entry fully processed for the group.
	Ack(ctx context.Context, group, id string) error

	Close() error
}
