package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/queue"
	"github.com/Frida7771/yahoo-finance-agent/pkg/config"
	"github.com/Frida7771/yahoo-finance-agent/pkg/models"
)

// ErrNoCredentials means no feed API key/secret is configured; the reader
// cannot connect and clients are told once on accept.
var ErrNoCredentials = errors.New("upstream credentials not configured")

const (
	backoffFactor = 1.5
	authTimeout   = 10 * time.Second
)

// State tracks the reader's connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
)

// Broadcaster is the fallback sink used when no durable queue is
// configured or the queue append fails.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// SymbolSource provides the current subscribed symbol set, consulted to
// restore subscriptions after a reconnect.
type SymbolSource interface {
	Symbols() []string
}

// Reader owns the single upstream feed session for the process. It
// authenticates, relays subscription changes, and funnels every received
// event frame into the durable queue (or straight to the broadcaster).
type Reader struct {
	cfg    config.UpstreamConfig
	dialer Dialer
	stream queue.Stream // nil when running without a queue backend
	sink   Broadcaster
	source SymbolSource
	logger *zap.Logger

	mu       sync.Mutex
	conn     Conn
	state    State
	started  bool
	failures int
	delay    time.Duration
}

func NewReader(
	cfg config.UpstreamConfig,
	dialer Dialer,
	stream queue.Stream,
	sink Broadcaster,
	source SymbolSource,
	logger *zap.Logger,
) *Reader {
	return &Reader{
		cfg:    cfg,
		dialer: dialer,
		stream: stream,
		sink:   sink,
		source: source,
		logger: logger,
		state:  StateDisconnected,
		delay:  cfg.ReconnectFloor,
	}
}

// Configured reports whether feed credentials are present.
func (r *Reader) Configured() bool {
	return r.cfg.Key != "" && r.cfg.Secret != ""
}

// Connected reports whether an authenticated session is live.
func (r *Reader) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateAuthenticated
}

// Start launches the read-and-publish loop. Idempotent: a second call
// while running does nothing, so concurrent starts cannot race into two
// upstream sessions.
func (r *Reader) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	go r.run(ctx)
}

// Subscribe sends a subscribe control frame for the given symbols.
// Symbols are upper-cased before transmission. No-op while disconnected;
// the run loop restores the full set on the next (re)connect.
func (r *Reader) Subscribe(ctx context.Context, symbols []string) error {
	return r.sendControl("subscribe", symbols)
}

// Unsubscribe sends an unsubscribe control frame for the given symbols.
func (r *Reader) Unsubscribe(ctx context.Context, symbols []string) error {
	return r.sendControl("unsubscribe", symbols)
}

func (r *Reader) sendControl(action string, symbols []string) error {
	normalized := normalize(symbols)
	if len(normalized) == 0 {
		return nil
	}

	r.mu.Lock()
	conn, state := r.conn, r.state
	r.mu.Unlock()
	if conn == nil || state != StateAuthenticated {
		return nil
	}

	err := conn.WriteJSON(models.SubscribeRequest{
		Action: action,
		Trades: normalized,
		Quotes: normalized,
	})
	if err != nil {
		return fmt.Errorf("%s %v: %w", action, normalized, err)
	}
	r.logger.Info("upstream "+action, zap.Strings("symbols", normalized))
	return nil
}

// run is the long-lived read-and-publish loop. It reconnects with capped
// exponential backoff and exits only on context cancellation.
func (r *Reader) run(ctx context.Context) {
	for {
		conn := r.current()
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.currentDelay()):
			}

			if err := r.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.recordFailure()
				r.logger.Warn("upstream connect failed",
					zap.Error(err),
					zap.Int("failures", r.failureCount()),
					zap.Duration("retry_in", r.currentDelay()))
				continue
			}

			r.resetBackoff()
			if symbols := r.source.Symbols(); len(symbols) > 0 {
				if err := r.Subscribe(ctx, symbols); err != nil {
					r.logger.Error("failed to restore subscriptions", zap.Error(err))
				} else {
					r.logger.Info("restored subscriptions", zap.Strings("symbols", symbols))
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			r.teardown()
			return
		case payload, ok := <-conn.Frames():
			if !ok {
				r.logger.Warn("upstream connection lost", zap.Error(conn.Err()))
				r.teardown()
				r.recordFailure()
				continue
			}
			r.clearFailures()
			r.publish(ctx, payload)
		case <-time.After(r.cfg.ReadTimeout):
			// No data is not an error: the feed idles outside market hours.
		}
	}
}

// connect opens the transport, authenticates, and waits for one response
// frame. The caller owns retry policy.
func (r *Reader) connect(ctx context.Context) error {
	if !r.Configured() {
		return ErrNoCredentials
	}

	r.setState(StateConnecting)

	conn, err := r.dialer.Dial(ctx, r.cfg.URL)
	if err != nil {
		r.setState(StateDisconnected)
		return fmt.Errorf("dial %s: %w", r.cfg.URL, err)
	}

	if err := conn.WriteJSON(models.AuthRequest{
		Action: "auth",
		Key:    r.cfg.Key,
		Secret: r.cfg.Secret,
	}); err != nil {
		conn.Close()
		r.setState(StateDisconnected)
		return fmt.Errorf("send auth: %w", err)
	}

	select {
	case <-ctx.Done():
		conn.Close()
		r.setState(StateDisconnected)
		return ctx.Err()
	case frame, ok := <-conn.Frames():
		if !ok {
			conn.Close()
			r.setState(StateDisconnected)
			return fmt.Errorf("auth response: %w", conn.Err())
		}
		if err := checkAuthResponse(frame); err != nil {
			conn.Close()
			r.setState(StateDisconnected)
			return err
		}
	case <-time.After(authTimeout):
		conn.Close()
		r.setState(StateDisconnected)
		return errors.New("timed out waiting for auth response")
	}

	r.mu.Lock()
	r.conn = conn
	r.state = StateAuthenticated
	r.mu.Unlock()

	r.logger.Info("upstream authenticated", zap.String("url", r.cfg.URL))
	return nil
}

// publish hands one event to the durable queue, falling back to a direct
// broadcast when no queue is configured or the append fails. Events are
// opaque here; the relay never interprets quote payloads.
func (r *Reader) publish(ctx context.Context, payload []byte) {
	if r.stream == nil {
		r.sink.Broadcast(payload)
		return
	}
	if err := r.stream.Append(ctx, payload); err != nil {
		r.logger.Warn("queue append failed, broadcasting directly", zap.Error(err))
		r.sink.Broadcast(payload)
	}
}

func (r *Reader) current() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

func (r *Reader) teardown() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.state = StateDisconnected
	r.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (r *Reader) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Reader) currentDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delay
}

func (r *Reader) failureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

func (r *Reader) recordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	next := time.Duration(float64(r.delay) * backoffFactor)
	if next > r.cfg.ReconnectCeiling {
		next = r.cfg.ReconnectCeiling
	}
	r.delay = next
}

func (r *Reader) resetBackoff() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
	r.delay = r.cfg.ReconnectFloor
}

func (r *Reader) clearFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
}

// checkAuthResponse fails only when the feed explicitly reports an error;
// any other readable frame counts as authenticated.
func checkAuthResponse(frame []byte) error {
	var msgs []models.ControlMessage
	if err := json.Unmarshal(frame, &msgs); err != nil {
		var single models.ControlMessage
		if err := json.Unmarshal(frame, &single); err != nil {
			return nil
		}
		msgs = []models.ControlMessage{single}
	}
	for _, m := range msgs {
		if m.Type == "error" {
			return fmt.Errorf("auth rejected: %s (code %d)", m.Msg, m.Code)
		}
	}
	return nil
}

func normalize(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
