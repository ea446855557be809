package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live transport session to the feed. Frames delivers every
// received frame and is closed when the session dies; Err reports the
// terminal read error once Frames is closed.
type Conn interface {
	Frames() <-chan []byte
	Err() error
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens transport sessions. Production uses a websocket dialer;
// tests inject scripted fakes.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct {
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	bufferSize       int
}

// NewDialer returns the production websocket dialer.
func NewDialer() Dialer {
	return &wsDialer{
		handshakeTimeout: 10 * time.Second,
		writeTimeout:     5 * time.Second,
		bufferSize:       256,
	}
}

func (d *wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &wsConn{
		conn:         conn,
		frames:       make(chan []byte, d.bufferSize),
		writeTimeout: d.writeTimeout,
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	conn         *websocket.Conn
	frames       chan []byte
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	readErr error
}

func (c *wsConn) Frames() <-chan []byte { return c.frames }

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *wsConn) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

// readLoop is the only writer and closer of the frames channel.
func (c *wsConn) readLoop() {
	defer close(c.frames)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		c.frames <- data
	}
}
