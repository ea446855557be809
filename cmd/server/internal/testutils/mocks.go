package testutils

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/protocol"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/queue"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Frames   []protocol.ServerFrame // decoded control frames
	Raw      [][]byte               // broadcast payloads
	FailSend bool                   // when true, Send reports failure
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) Send(b []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailSend {
		return errors.New("send failed")
	}
	m.Raw = append(m.Raw, b)
	return nil
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if frame, ok := v.(protocol.ServerFrame); ok {
		m.Frames = append(m.Frames, frame)
	}
}

func (m *MockClient) RawCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Raw)
}

// MockFeed records upstream subscription traffic from the hub.
type MockFeed struct {
	Mu           sync.Mutex
	Subscribed   map[string]int
	Unsubscribed map[string]int
}

func NewMockFeed() *MockFeed {
	return &MockFeed{
		Subscribed:   make(map[string]int),
		Unsubscribed: make(map[string]int),
	}
}

func (m *MockFeed) Subscribe(ctx context.Context, symbols []string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	for _, s := range symbols {
		m.Subscribed[s]++
	}
	return nil
}

func (m *MockFeed) Unsubscribe(ctx context.Context, symbols []string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	for _, s := range symbols {
		m.Unsubscribed[s]++
	}
	return nil
}

// MockSnapshots is an in-memory snapshot store.
type MockSnapshots struct {
	Mu   sync.Mutex
	Data map[string][]byte
}

func NewMockSnapshots() *MockSnapshots {
	return &MockSnapshots{Data: make(map[string][]byte)}
}

func (m *MockSnapshots) Save(ctx context.Context, symbol string, payload []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Data[symbol] = payload
	return nil
}

func (m *MockSnapshots) Latest(ctx context.Context, symbols []string) ([][]byte, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out [][]byte
	for _, sym := range symbols {
		if payload, ok := m.Data[sym]; ok {
			out = append(out, payload)
		}
	}
	return out, nil
}

func (m *MockSnapshots) Close() error { return nil }

// MockBroadcaster collects broadcast payloads.
type MockBroadcaster struct {
	Mu       sync.Mutex
	Payloads [][]byte
}

func (m *MockBroadcaster) Broadcast(payload []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Payloads = append(m.Payloads, payload)
}

func (m *MockBroadcaster) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Payloads)
}

// MemoryStream is an in-process queue.Stream with the same delivery
// semantics as the Redis Streams implementation: per-group cursors,
// pending-until-ack entries, bounded retention.
type MemoryStream struct {
	mu      sync.Mutex
	nextID  int64
	entries []queue.Entry
	maxLen  int
	groups  map[string]*memoryGroup

	AppendErr error // injectable failure
}

type memoryGroup struct {
	cursor  int64 // highest delivered entry id
	pending map[string]bool
}

func NewMemoryStream(maxLen int) *MemoryStream {
	return &MemoryStream{
		maxLen: maxLen,
		groups: make(map[string]*memoryGroup),
	}
}

func (m *MemoryStream) Append(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}

	m.nextID++
	m.entries = append(m.entries, queue.Entry{
		ID:      strconv.FormatInt(m.nextID, 10),
		Payload: payload,
	})
	if m.maxLen > 0 && len(m.entries) > m.maxLen {
		m.entries = m.entries[len(m.entries)-m.maxLen:]
	}
	return nil
}

func (m *MemoryStream) EnsureGroup(ctx context.Context, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[group]; !ok {
		m.groups[group] = &memoryGroup{pending: make(map[string]bool)}
	}
	return nil
}

func (m *MemoryStream) ReadNext(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]queue.Entry, error) {
	deadline := time.Now().Add(block)
	for {
		entries, err := m.tryRead(group, count)
		if err != nil || entries != nil {
			return entries, err
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (m *MemoryStream) tryRead(group string, count int64) ([]queue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[group]
	if !ok {
		return nil, errors.New("no such group: " + group)
	}

	var out []queue.Entry
	for _, e := range m.entries {
		id, _ := strconv.ParseInt(e.ID, 10, 64)
		if id <= g.cursor {
			continue
		}
		out = append(out, e)
		g.cursor = id
		g.pending[e.ID] = true
		if int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

func (m *MemoryStream) Ack(ctx context.Context, group, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.groups[group]; ok {
		delete(g.pending, id)
	}
	return nil
}

func (m *MemoryStream) Close() error { return nil }

func (m *MemoryStream) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStream) PendingCount(group string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.groups[group]; ok {
		return len(g.pending)
	}
	return 0
}
