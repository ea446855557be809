package hub_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/hub"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/testutils"
)

func setup() (*hub.Hub, *testutils.MockFeed, *testutils.MockSnapshots) {
	feed := testutils.NewMockFeed()
	snapshots := testutils.NewMockSnapshots()
	h := hub.NewHub(snapshots, zap.NewNop())
	h.SetFeed(feed)
	return h, feed, snapshots
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func TestHub_Subscribe_TriggersUpstreamOnce(t *testing.T) {
	h, feed, _ := setup()
	client := testutils.NewMockClient("c1")
	h.Register(client)

	h.Subscribe(client, []string{"AAPL"})
	h.Subscribe(client, []string{"AAPL"})

	feed.Mu.Lock()
	defer feed.Mu.Unlock()
	if feed.Subscribed["AAPL"] != 1 {
		t.Errorf("Expected one upstream subscribe for AAPL, got %d", feed.Subscribed["AAPL"])
	}
}

func TestHub_SharedSymbol_SurvivesDisconnect(t *testing.T) {
	h, feed, _ := setup()
	a := testutils.NewMockClient("a")
	b := testutils.NewMockClient("b")
	h.Register(a)
	h.Register(b)

	h.Subscribe(a, []string{"TSLA"})
	h.Subscribe(b, []string{"TSLA"})

	h.Unregister(a)

	if got := h.Symbols(); len(got) != 1 || got[0] != "TSLA" {
		t.Errorf("TSLA should survive while b still wants it, got %v", got)
	}
	feed.Mu.Lock()
	unsubs := feed.Unsubscribed["TSLA"]
	feed.Mu.Unlock()
	if unsubs != 0 {
		t.Errorf("Upstream unsubscribe must wait for the last interested client")
	}

	h.Unregister(b)

	if got := h.Symbols(); len(got) != 0 {
		t.Errorf("Symbol set should be empty after last client leaves, got %v", got)
	}
	feed.Mu.Lock()
	unsubs = feed.Unsubscribed["TSLA"]
	feed.Mu.Unlock()
	if unsubs != 1 {
		t.Errorf("Expected exactly one upstream unsubscribe, got %d", unsubs)
	}
}

func TestHub_Unsubscribe_RefCounted(t *testing.T) {
	h, feed, _ := setup()
	client := testutils.NewMockClient("c1")
	h.Register(client)

	h.Subscribe(client, []string{"AAPL", "TSLA"})
	h.Unsubscribe(client, []string{"AAPL"})

	feed.Mu.Lock()
	defer feed.Mu.Unlock()
	if feed.Unsubscribed["AAPL"] != 1 {
		t.Errorf("Expected upstream unsubscribe for AAPL")
	}
	if feed.Unsubscribed["TSLA"] != 0 {
		t.Errorf("TSLA should still be subscribed")
	}
}

func TestHub_Broadcast_DropsFailedConnection(t *testing.T) {
	h, _, _ := setup()
	healthy1 := testutils.NewMockClient("h1")
	healthy2 := testutils.NewMockClient("h2")
	broken := testutils.NewMockClient("b1")
	broken.FailSend = true

	h.Register(healthy1)
	h.Register(healthy2)
	h.Register(broken)

	h.Broadcast([]byte(`[{"T":"t","S":"AAPL","p":150.5}]`))

	if healthy1.RawCount() != 1 || healthy2.RawCount() != 1 {
		t.Errorf("Healthy connections must receive the event")
	}
	if h.ConnCount() != 2 {
		t.Errorf("Failing connection should be dropped, have %d conns", h.ConnCount())
	}
}

func TestHub_Broadcast_FailedConnReleasesSymbols(t *testing.T) {
	h, feed, _ := setup()
	broken := testutils.NewMockClient("b1")
	broken.FailSend = true
	h.Register(broken)
	h.Subscribe(broken, []string{"MSFT"})

	h.Broadcast([]byte(`{}`))

	if len(h.Symbols()) != 0 {
		t.Errorf("Dropped connection should release its symbols")
	}
	feed.Mu.Lock()
	defer feed.Mu.Unlock()
	if feed.Unsubscribed["MSFT"] != 1 {
		t.Errorf("Expected upstream unsubscribe after drop")
	}
}

func TestHub_Subscribe_SendsSnapshot(t *testing.T) {
	h, _, snapshots := setup()
	snapshot := []byte(`[{"T":"t","S":"AAPL","p":150.5}]`)
	snapshots.Save(context.Background(), "AAPL", snapshot)

	client := testutils.NewMockClient("c1")
	h.Register(client)
	h.Subscribe(client, []string{"AAPL"})

	waitFor(t, func() bool { return client.RawCount() == 1 }, "snapshot delivery")

	client.Mu.Lock()
	defer client.Mu.Unlock()
	if string(client.Raw[0]) != string(snapshot) {
		t.Errorf("Snapshot payload mismatch: %s", client.Raw[0])
	}
}

func TestHub_Register_Idempotent(t *testing.T) {
	h, _, _ := setup()
	client := testutils.NewMockClient("c1")
	h.Register(client)
	h.Register(client)

	if h.ConnCount() != 1 {
		t.Errorf("Double register should not duplicate, have %d", h.ConnCount())
	}

	h.Unregister(client)
	h.Unregister(client)

	if h.ConnCount() != 0 {
		t.Errorf("Expected empty connection set, have %d", h.ConnCount())
	}
}
