package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/hub"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/protocol"
)

const maxMessageSize = 512 * 1024

var errClientClosed = errors.New("client connection closed")

// ClientAdapter runs the per-client protocol loop over a raw WebSocket:
// inbound subscribe/unsubscribe commands go to the hub, outbound
// broadcast frames drain through a bounded send buffer.
type ClientAdapter struct {
	conn   net.Conn
	hub    *hub.Hub
	send   chan []byte
	logger *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, h *hub.Hub, logger *zap.Logger) *ClientAdapter {
	return &ClientAdapter{
		conn:       conn,
		hub:        h,
		send:       make(chan []byte, 256),
		logger:     logger,
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

func (c *ClientAdapter) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *ClientAdapter) ID() string { return c.conn.RemoteAddr().String() }

// Close only closes the send channel; writePump owns the socket.
func (c *ClientAdapter) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

// Send enqueues a frame without blocking. A full buffer drops the frame
// (slow consumers lose ticks, not the connection); a closed client
// reports an error so the hub can evict it.
func (c *ClientAdapter) Send(b []byte) error {
	if c.closed.Load() {
		return errClientClosed
	}
	select {
	case c.send <- b:
	default:
		// Backpressure: drop for slow clients, latest data matters most.
	}
	return nil
}

func (c *ClientAdapter) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err == nil {
		c.Send(b)
	}
}

func (c *ClientAdapter) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			break
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("frame too large", zap.Int64("size", header.Length))
			break
		}

		if !header.Fin {
			c.logger.Warn("client sent fragmented message (not supported)")
			break
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			break
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		if header.OpCode == ws.OpClose {
			break
		}
		if header.OpCode == ws.OpPong {
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			continue
		}

		if header.OpCode == ws.OpText {
			c.handleCommand(payload)
		}
	}
}

// handleCommand parses one inbound frame. Malformed frames, unknown
// actions, and empty symbol lists are ignored without an error frame.
func (c *ClientAdapter) handleCommand(payload []byte) {
	var req protocol.ClientRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.logger.Debug("ignoring malformed client frame", zap.Error(err))
		return
	}

	symbols := normalizeSymbols(req.Symbols)
	if len(symbols) == 0 {
		return
	}

	switch req.Action {
	case protocol.ActionSubscribe:
		c.hub.Subscribe(c, symbols)
		c.SendJSON(protocol.ServerFrame{Type: protocol.FrameSubscribed, Symbols: symbols})
	case protocol.ActionUnsubscribe:
		c.hub.Unsubscribe(c, symbols)
		c.SendJSON(protocol.ServerFrame{Type: protocol.FrameUnsubscribed, Symbols: symbols})
	}
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
