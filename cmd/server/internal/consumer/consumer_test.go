package consumer_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/consumer"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/testutils"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func TestConsumer_DeliversAndAcks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := testutils.NewMemoryStream(100)
	sink := &testutils.MockBroadcaster{}
	snapshots := testutils.NewMockSnapshots()
	c := consumer.New(stream, "quote_consumers", sink, snapshots, zap.NewNop())

	go c.Run(ctx)
	waitFor(t, c.Running, "consumer start")

	payload := []byte(`[{"T":"t","S":"AAPL","p":150.5}]`)
	if err := stream.Append(ctx, payload); err != nil {
		t.Fatalf("append: %v", err)
	}

	waitFor(t, func() bool { return sink.Count() == 1 }, "broadcast")

	sink.Mu.Lock()
	got := string(sink.Payloads[0])
	sink.Mu.Unlock()
	if got != string(payload) {
		t.Errorf("broadcast payload mismatch: %s", got)
	}

	waitFor(t, func() bool { return stream.PendingCount("quote_consumers") == 0 }, "ack")
}

func TestConsumer_SavesSnapshotPerSymbol(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := testutils.NewMemoryStream(100)
	sink := &testutils.MockBroadcaster{}
	snapshots := testutils.NewMockSnapshots()
	c := consumer.New(stream, "quote_consumers", sink, snapshots, zap.NewNop())

	go c.Run(ctx)
	waitFor(t, c.Running, "consumer start")

	payload := []byte(`[{"T":"t","S":"AAPL","p":1},{"T":"t","S":"MSFT","p":2}]`)
	stream.Append(ctx, payload)

	waitFor(t, func() bool {
		snapshots.Mu.Lock()
		defer snapshots.Mu.Unlock()
		return snapshots.Data["AAPL"] != nil && snapshots.Data["MSFT"] != nil
	}, "snapshots for both symbols")
}

func TestConsumer_RelaysUnparseablePayloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := testutils.NewMemoryStream(100)
	sink := &testutils.MockBroadcaster{}
	snapshots := testutils.NewMockSnapshots()
	c := consumer.New(stream, "quote_consumers", sink, snapshots, zap.NewNop())

	go c.Run(ctx)
	waitFor(t, c.Running, "consumer start")

	stream.Append(ctx, []byte(`not json`))
	stream.Append(ctx, []byte(`[{"T":"t","S":"TSLA","p":3}]`))

	waitFor(t, func() bool { return sink.Count() == 2 }, "both payloads relayed")

	snapshots.Mu.Lock()
	defer snapshots.Mu.Unlock()
	if len(snapshots.Data) != 1 {
		t.Errorf("only the parseable frame should produce a snapshot, got %d", len(snapshots.Data))
	}
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	stream := testutils.NewMemoryStream(100)
	c := consumer.New(stream, "quote_consumers", &testutils.MockBroadcaster{}, testutils.NewMockSnapshots(), zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	waitFor(t, c.Running, "consumer start")

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("cancelled run should return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
	if c.Running() {
		t.Error("running flag should clear after stop")
	}
}
