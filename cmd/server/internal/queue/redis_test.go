package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/queue"
)

func newStream(t *testing.T, maxLen int64) *queue.RedisStream {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return queue.NewRedisStream(rdb, "quote_events", maxLen)
}

func TestRedisStream_AppendReadAck(t *testing.T) {
	ctx := context.Background()
	s := newStream(t, 100)

	payload := []byte(`[{"T":"t","S":"AAPL","p":150.5}]`)
	if err := s.Append(ctx, payload); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.EnsureGroup(ctx, "quote_consumers"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	entries, err := s.ReadNext(ctx, "quote_consumers", "c1", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if string(entries[0].Payload) != string(payload) {
		t.Errorf("payload mismatch: %s", entries[0].Payload)
	}

	if err := s.Ack(ctx, "quote_consumers", entries[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	entries, err = s.ReadNext(ctx, "quote_consumers", "c1", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("read after ack: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("acked entry must not be redelivered, got %d entries", len(entries))
	}
}

func TestRedisStream_EnsureGroup_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newStream(t, 100)

	if err := s.EnsureGroup(ctx, "quote_consumers"); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := s.EnsureGroup(ctx, "quote_consumers"); err != nil {
		t.Errorf("second ensure must tolerate existing group: %v", err)
	}
}

func TestRedisStream_Retention(t *testing.T) {
	ctx := context.Background()
	s := newStream(t, 10)

	for i := 0; i < 15; i++ {
		payload := []byte(fmt.Sprintf(`[{"T":"t","S":"AAPL","p":%d}]`, i))
		if err := s.Append(ctx, payload); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if err := s.EnsureGroup(ctx, "fresh_group"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	entries, err := s.ReadNext(ctx, "fresh_group", "c1", 100, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if len(entries) > 10 {
		t.Errorf("retention cap exceeded: %d entries retrievable", len(entries))
	}
	if len(entries) == 0 {
		t.Fatal("expected recent entries to survive trimming")
	}
	last := entries[len(entries)-1]
	if string(last.Payload) != `[{"T":"t","S":"AAPL","p":14}]` {
		t.Errorf("newest entry must survive trimming, got %s", last.Payload)
	}
}

func TestRedisStream_GroupsReadIndependently(t *testing.T) {
	ctx := context.Background()
	s := newStream(t, 100)

	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	for _, group := range []string{"group_a", "group_b"} {
		if err := s.EnsureGroup(ctx, group); err != nil {
			t.Fatalf("ensure %s: %v", group, err)
		}
		entries, err := s.ReadNext(ctx, group, "c1", 100, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("read %s: %v", group, err)
		}
		if len(entries) != 3 {
			t.Errorf("%s should see all 3 entries, got %d", group, len(entries))
		}
		for _, e := range entries {
			s.Ack(ctx, group, e.ID)
		}
	}
}

func TestRedisStream_ConsumersSplitEntries(t *testing.T) {
	ctx := context.Background()
	s := newStream(t, 100)

	for i := 0; i < 4; i++ {
		if err := s.Append(ctx, []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.EnsureGroup(ctx, "quote_consumers"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	first, err := s.ReadNext(ctx, "quote_consumers", "c1", 2, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("c1 read: %v", err)
	}
	second, err := s.ReadNext(ctx, "quote_consumers", "c2", 100, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("c2 read: %v", err)
	}

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2+2 split, got %d and %d", len(first), len(second))
	}
	seen := make(map[string]bool)
	for _, e := range append(first, second...) {
		if seen[e.ID] {
			t.Errorf("entry %s delivered to both consumers", e.ID)
		}
		seen[e.ID] = true
	}
}
