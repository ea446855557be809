package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/repository"
)

// Client is a live downstream connection. Send must not block; it returns
// an error only when the connection is no longer usable.
type Client interface {
	ID() string
	Send(b []byte) error
	SendJSON(v interface{})
	Close()
}

// Feed receives upstream subscription changes. Implemented by the
// upstream reader; calls are no-ops while the feed is disconnected.
type Feed interface {
	Subscribe(ctx context.Context, symbols []string) error
	Unsubscribe(ctx context.Context, symbols []string) error
}

// Hub tracks the active connection set and the reference-counted symbol
// interest across all clients. Every relayed event fans out to every
// registered connection; the per-symbol counts exist only to drive the
// upstream subscribe/unsubscribe control frames.
type Hub struct {
	mu         sync.RWMutex
	conns      map[Client]bool
	clientSubs map[Client]map[string]bool
	refCount   map[string]int

	feed      Feed
	snapshots repository.SnapshotStore
	logger    *zap.Logger
}

func NewHub(snapshots repository.SnapshotStore, logger *zap.Logger) *Hub {
	return &Hub{
		conns:      make(map[Client]bool),
		clientSubs: make(map[Client]map[string]bool),
		refCount:   make(map[string]int),
		snapshots:  snapshots,
		logger:     logger,
	}
}

// SetFeed wires the upstream reader in after construction; the reader
// itself needs the hub as its broadcast sink.
func (h *Hub) SetFeed(feed Feed) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.feed = feed
}

// Register adds a connection to the active set. Idempotent.
func (h *Hub) Register(client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[client] = true
	h.logger.Info("client connected",
		zap.String("client", client.ID()),
		zap.Int("total", len(h.conns)))
}

// Unregister removes a connection and releases its symbol interest.
// Symbols still wanted by another client stay subscribed upstream.
func (h *Hub) Unregister(client Client) {
	h.mu.Lock()
	released := h.dropClientLocked(client)
	remaining := len(h.conns)
	h.mu.Unlock()

	h.unsubscribeUpstream(released)
	client.Close()
	h.logger.Info("client disconnected",
		zap.String("client", client.ID()),
		zap.Int("total", remaining))
}

// Subscribe records a client's interest in symbols (already normalized by
// the caller) and subscribes upstream for any symbol whose reference
// count went from zero to one. Snapshots for the requested symbols are
// sent asynchronously.
func (h *Hub) Subscribe(client Client, symbols []string) {
	h.mu.Lock()
	if !h.conns[client] {
		h.mu.Unlock()
		return
	}
	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]bool)
	}

	var fresh []string
	for _, sym := range symbols {
		if h.clientSubs[client][sym] {
			continue // already subscribed, keep counts exact
		}
		h.clientSubs[client][sym] = true
		h.refCount[sym]++
		if h.refCount[sym] == 1 {
			fresh = append(fresh, sym)
		}
	}
	feed := h.feed
	h.mu.Unlock()

	if len(fresh) > 0 && feed != nil {
		if err := feed.Subscribe(context.Background(), fresh); err != nil {
			h.logger.Error("upstream subscribe failed", zap.Strings("symbols", fresh), zap.Error(err))
		}
	}

	// Snapshots go out async to keep the command path non-blocking.
	go h.sendSnapshots(client, symbols)
}

// Unsubscribe releases a client's interest in symbols; the upstream
// unsubscribe frame is sent only for symbols nobody wants anymore.
func (h *Hub) Unsubscribe(client Client, symbols []string) {
	h.mu.Lock()
	var released []string
	if subs, ok := h.clientSubs[client]; ok {
		for _, sym := range symbols {
			if !subs[sym] {
				continue
			}
			delete(subs, sym)
			if h.decRefLocked(sym) {
				released = append(released, sym)
			}
		}
	}
	h.mu.Unlock()

	h.unsubscribeUpstream(released)
}

// Broadcast fans one serialized event out to every registered connection.
// Connections whose send fails are dropped after the pass completes.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	var failed []Client
	for client := range h.conns {
		if err := client.Send(payload); err != nil {
			failed = append(failed, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range failed {
		h.logger.Warn("dropping unreachable client", zap.String("client", client.ID()))
		h.Unregister(client)
	}
}

// Symbols returns the current subscribed symbol set (every symbol wanted
// by at least one live client). Used to restore upstream subscriptions
// after a reconnect.
func (h *Hub) Symbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.refCount))
	for sym := range h.refCount {
		out = append(out, sym)
	}
	return out
}

// ConnCount returns the number of live connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// dropClientLocked removes all state for a client and returns the symbols
// whose reference count reached zero. Caller holds h.mu.
func (h *Hub) dropClientLocked(client Client) []string {
	var released []string
	if subs, ok := h.clientSubs[client]; ok {
		for sym := range subs {
			if h.decRefLocked(sym) {
				released = append(released, sym)
			}
		}
		delete(h.clientSubs, client)
	}
	delete(h.conns, client)
	return released
}

// decRefLocked decrements a symbol's reference count and reports whether
// it dropped to zero. Caller holds h.mu.
func (h *Hub) decRefLocked(symbol string) bool {
	h.refCount[symbol]--
	if h.refCount[symbol] <= 0 {
		delete(h.refCount, symbol)
		return true
	}
	return false
}

func (h *Hub) unsubscribeUpstream(symbols []string) {
	if len(symbols) == 0 {
		return
	}
	h.mu.RLock()
	feed := h.feed
	h.mu.RUnlock()
	if feed == nil {
		return
	}
	if err := feed.Unsubscribe(context.Background(), symbols); err != nil {
		h.logger.Error("upstream unsubscribe failed", zap.Strings("symbols", symbols), zap.Error(err))
	}
}

func (h *Hub) sendSnapshots(client Client, symbols []string) {
	snapshots, err := h.snapshots.Latest(context.Background(), symbols)
	if err != nil {
		h.logger.Debug("snapshot fetch failed", zap.Error(err))
		return
	}
	for _, snap := range snapshots {
		if err := client.Send(snap); err != nil {
			return
		}
	}
}
