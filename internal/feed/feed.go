package feed

import (
	"encoding/json"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/Frida7771/yahoo-finance-agent/pkg/models"
)

// Options configures the simulated feed.
type Options struct {
	// Key, when set, must match the key presented in the auth frame.
	// Empty means any credentials are accepted.
	Key      string
	Interval time.Duration
	Logger   *zap.Logger
}

// Server simulates the upstream market-data feed: it speaks the same
// auth/subscribe protocol and emits synthetic trades for subscribed
// symbols on an interval. Used for local development and tests.
type Server struct {
	opts Options

	mu       sync.Mutex
	sessions map[*session]bool
	prices   map[string]float64
	seq      map[string]int64
	rand     *rand.Rand
}

func NewServer(opts Options) *Server {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		opts:     opts,
		sessions: make(map[*session]bool),
		prices:   make(map[string]float64),
		seq:      make(map[string]int64),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Handler returns the HTTP handler performing the WebSocket upgrade.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go s.serve(conn)
	})
}

// DropClients force-closes every live session, simulating an upstream
// disconnect so clients exercise their reconnect path.
func (s *Server) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		sess.conn.Close()
	}
}

type session struct {
	conn    net.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	symbols map[string]bool
}

func (s *Server) serve(conn net.Conn) {
	sess := &session{conn: conn, symbols: make(map[string]bool)}

	s.mu.Lock()
	s.sessions[sess] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		conn.Close()
	}()

	if !s.authenticate(sess) {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go s.emitLoop(sess, done)

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}

		var req models.SubscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		sess.mu.Lock()
		switch req.Action {
		case "subscribe":
			for _, sym := range req.Trades {
				sess.symbols[strings.ToUpper(sym)] = true
			}
		case "unsubscribe":
			for _, sym := range req.Trades {
				delete(sess.symbols, strings.ToUpper(sym))
			}
		}
		count := len(sess.symbols)
		sess.mu.Unlock()

		s.opts.Logger.Info("feed subscription changed",
			zap.String("action", req.Action),
			zap.Int("symbols", count))
	}
}

func (s *Server) authenticate(sess *session) bool {
	data, err := wsutil.ReadClientText(sess.conn)
	if err != nil {
		return false
	}

	var auth models.AuthRequest
	if err := json.Unmarshal(data, &auth); err != nil || auth.Action != "auth" {
		s.writeControl(sess, models.ControlMessage{Type: "error", Code: 400, Msg: "auth required"})
		return false
	}
	if s.opts.Key != "" && auth.Key != s.opts.Key {
		s.writeControl(sess, models.ControlMessage{Type: "error", Code: 402, Msg: "auth failed"})
		return false
	}

	s.writeControl(sess, models.ControlMessage{Type: "success", Msg: "authenticated"})
	return true
}

func (s *Server) emitLoop(sess *session, done <-chan struct{}) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			sess.mu.Lock()
			symbols := make([]string, 0, len(sess.symbols))
			for sym := range sess.symbols {
				symbols = append(symbols, sym)
			}
			sess.mu.Unlock()

			for _, sym := range symbols {
				if err := s.emitTrade(sess, sym); err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) emitTrade(sess *session, symbol string) error {
	frame := []models.Trade{{
		Type:      "t",
		Symbol:    symbol,
		Price:     s.nextPrice(symbol),
		Size:      int64(s.randIntn(900) + 100),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}}

	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	return wsutil.WriteServerText(sess.conn, payload)
}

func (s *Server) writeControl(sess *session, msg models.ControlMessage) {
	payload, err := json.Marshal([]models.ControlMessage{msg})
	if err != nil {
		return
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	wsutil.WriteServerText(sess.conn, payload)
}

// nextPrice random-walks a per-symbol price starting near 100.
func (s *Server) nextPrice(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		price = 100.0
	}
	price += (s.rand.Float64() * 2) - 1
	if price < 1 {
		price = 1
	}
	s.prices[symbol] = price
	s.seq[symbol]++
	return price
}

func (s *Server) randIntn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Intn(n)
}
