package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/queue"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/repository"
)

const (
	readCount  = 100
	readBlock  = time.Second
	errorPause = 500 * time.Millisecond
)

// Broadcaster delivers one event to every connected client.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// Consumer drains the durable queue under a consumer-group identity,
// broadcasts each entry, and acknowledges delivery. A crash between
// broadcast and ack redelivers the entry, so delivery is at-least-once;
// clients treat duplicate quote frames as last-write-wins.
type Consumer struct {
	stream    queue.Stream
	group     string
	name      string
	sink      Broadcaster
	snapshots repository.SnapshotStore
	logger    *zap.Logger
	running   atomic.Bool
}

func New(
	stream queue.Stream,
	group string,
	sink Broadcaster,
	snapshots repository.SnapshotStore,
	logger *zap.Logger,
) *Consumer {
	host, err := os.Hostname()
	if err != nil {
		host = "consumer"
	}

	return &Consumer{
		stream:    stream,
		group:     group,
		name:      fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		sink:      sink,
		snapshots: snapshots,
		logger:    logger,
	}
}

// Running reports whether the drain loop is active.
func (c *Consumer) Running() bool {
	return c.running.Load()
}

// Run drains the queue until ctx is cancelled. Transient errors are
// logged and retried after a short pause; they never kill the loop.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.stream.EnsureGroup(ctx, c.group); err != nil {
		return fmt.Errorf("ensure group: %w", err)
	}

	c.running.Store(true)
	defer c.running.Store(false)

	c.logger.Info("queue consumer started",
		zap.String("group", c.group),
		zap.String("consumer", c.name))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		entries, err := c.stream.ReadNext(ctx, c.group, c.name, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("queue read failed", zap.Error(err))
			c.pause(ctx)
			continue
		}

		for _, entry := range entries {
			c.sink.Broadcast(entry.Payload)
			c.saveSnapshots(ctx, entry.Payload)

			if err := c.stream.Ack(ctx, c.group, entry.ID); err != nil {
				// Left pending; redelivery after restart is acceptable.
				c.logger.Error("ack failed", zap.String("entry", entry.ID), zap.Error(err))
			}
		}
	}
}

// saveSnapshots records the latest payload per symbol found in the event
// frame. Frames without recognizable symbols are relayed but not stored.
func (c *Consumer) saveSnapshots(ctx context.Context, payload []byte) {
	for _, symbol := range extractSymbols(payload) {
		if err := c.snapshots.Save(ctx, symbol, payload); err != nil {
			c.logger.Debug("snapshot save failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

func (c *Consumer) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(errorPause):
	}
}

// extractSymbols pulls the "S" fields out of an event frame, accepting
// both the feed's array form and a bare object.
func extractSymbols(payload []byte) []string {
	type event struct {
		Symbol string `json:"S"`
	}

	var events []event
	if err := json.Unmarshal(payload, &events); err != nil {
		var single event
		if err := json.Unmarshal(payload, &single); err != nil {
			return nil
		}
		events = []event{single}
	}

	seen := make(map[string]bool, len(events))
	var symbols []string
	for _, ev := range events {
		if ev.Symbol != "" && !seen[ev.Symbol] {
			seen[ev.Symbol] = true
			symbols = append(symbols, ev.Symbol)
		}
	}
	return symbols
}
