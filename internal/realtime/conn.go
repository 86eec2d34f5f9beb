package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"doubtdesk/pkg/types"
)

// connOptions are the timing knobs shared by both transports
type connOptions struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

func (o connOptions) withDefaults() connOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 100
	}
	return o
}

// wsConn wraps a gorilla connection behind interfaces.Conn.
// ARCHITECTURAL DISCOVERY: gorilla allows one concurrent writer, so every
// data frame and ping goes through writeLoop.
type wsConn struct {
	conn    *websocket.Conn
	opts    connOptions
	writeCh chan []byte
	frames  chan types.Frame

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func newWSConn(conn *websocket.Conn, opts connOptions) *wsConn {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		conn:    conn,
		opts:    opts,
		writeCh: make(chan []byte, opts.BufferSize),
		frames:  make(chan types.Frame, opts.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()
	go c.readLoop()

	return c
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(err)
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.fail(err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *wsConn) readLoop() {
	defer close(c.frames)

	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			continue
		}

		select {
		case c.frames <- frame:
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues frame for the writer goroutine
func (c *wsConn) Send(frame types.Frame) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return ErrInvalidFrame
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.opts.WriteTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Frames delivers inbound frames until the connection ends
func (c *wsConn) Frames() <-chan types.Frame {
	return c.frames
}

// Err is the error that ended the connection, nil after a local Close
func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsConn) fail(err error) {
	c.errMu.Lock()
	if c.err == nil && c.ctx.Err() == nil {
		c.err = err
	}
	c.errMu.Unlock()
	_ = c.Close()
}

// Close is idempotent; it sends a close frame on a best-effort basis
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		err = c.conn.Close()
	})
	return err
}
