package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"doubtdesk/pkg/interfaces"
	"doubtdesk/pkg/types"
)

// Paths of the realtime service below the configured base URL
const (
	WebSocketPath = "/realtime/ws"
	PollPath      = "/realtime/poll"
)

// WebSocketTransport dials the realtime service over a websocket
type WebSocketTransport struct {
	opts connOptions
}

// NewWebSocketTransport creates a websocket transport with the given timing
func NewWebSocketTransport(pingInterval, readTimeout, writeTimeout time.Duration, bufferSize int) *WebSocketTransport {
	return &WebSocketTransport{opts: connOptions{
		PingInterval: pingInterval,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		BufferSize:   bufferSize,
	}.withDefaults()}
}

func (t *WebSocketTransport) Name() string { return "websocket" }

// Dial upgrades <endpoint>/realtime/ws?user_id=<identity>.
// The cookie jar travels with the handshake for cross-origin auth.
func (t *WebSocketTransport) Dial(ctx context.Context, req interfaces.DialRequest) (interfaces.Conn, error) {
	target, err := endpointURL(req.Endpoint, WebSocketPath, req.Identity)
	if err != nil {
		return nil, err
	}
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.opts.WriteTimeout,
		Jar:              req.Jar,
	}

	conn, resp, err := dialer.DialContext(ctx, target.String(), req.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	return newWSConn(conn, t.opts), nil
}

// PollingTransport emulates a duplex channel with HTTP long-polling
// for networks that strip websocket upgrades.
type PollingTransport struct {
	opts   connOptions
	client *http.Client
}

// NewPollingTransport creates a long-polling transport. A nil client
// gets a fresh one; the dial request's jar is attached per connection.
func NewPollingTransport(client *http.Client, readTimeout, writeTimeout time.Duration, bufferSize int) *PollingTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &PollingTransport{
		client: client,
		opts: connOptions{
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			BufferSize:   bufferSize,
		}.withDefaults(),
	}
}

func (t *PollingTransport) Name() string { return "polling" }

// Dial opens a polling session and returns a connection bound to its sid
func (t *PollingTransport) Dial(ctx context.Context, req interfaces.DialRequest) (interfaces.Conn, error) {
	openURL, err := endpointURL(req.Endpoint, PollPath+"/open", req.Identity)
	if err != nil {
		return nil, err
	}

	client := *t.client
	if req.Jar != nil {
		client.Jar = req.Jar
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.opts.WriteTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(dialCtx, http.MethodPost, openURL.String(), nil)
	if err != nil {
		return nil, err
	}
	copyHeader(httpReq.Header, req.Header)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("polling open failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polling open failed with status %d", resp.StatusCode)
	}

	var opened struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&opened); err != nil || opened.SID == "" {
		return nil, fmt.Errorf("polling open returned no session id")
	}

	base, _ := endpointURL(req.Endpoint, PollPath, "")
	q := base.Query()
	q.Set("sid", opened.SID)
	base.RawQuery = q.Encode()

	return newPollConn(&client, base, req.Header, t.opts), nil
}

// pollConn keeps one GET outstanding for inbound frames and serializes
// outbound frames through a single POSTing goroutine.
type pollConn struct {
	client  *http.Client
	target  *url.URL
	header  http.Header
	opts    connOptions
	writeCh chan []byte
	frames  chan types.Frame

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func newPollConn(client *http.Client, target *url.URL, header http.Header, opts connOptions) *pollConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &pollConn{
		client:  client,
		target:  target,
		header:  header,
		opts:    opts,
		writeCh: make(chan []byte, opts.BufferSize),
		frames:  make(chan types.Frame, opts.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.pollLoop()
	go c.writeLoop()

	return c
}

func (c *pollConn) pollLoop() {
	defer close(c.frames)

	for {
		frames, err := c.poll()
		if err != nil {
			c.fail(err)
			return
		}
		for _, frame := range frames {
			if frame.Event == "" {
				continue
			}
			select {
			case c.frames <- frame:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *pollConn) poll() ([]types.Frame, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.ReadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.target.String(), nil)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, c.header)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, nil
	case http.StatusNotFound, http.StatusGone:
		return nil, ErrPollSessionGone
	default:
		return nil, fmt.Errorf("poll failed with status %d", resp.StatusCode)
	}

	var frames []types.Frame
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return nil, fmt.Errorf("poll returned malformed frames: %w", err)
	}
	return frames, nil
}

func (c *pollConn) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.post(data); err != nil {
				c.fail(err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *pollConn) post(data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.target.String(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	copyHeader(req.Header, c.header)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusNotFound, http.StatusGone:
		return ErrPollSessionGone
	default:
		return fmt.Errorf("poll send failed with status %d", resp.StatusCode)
	}
}

func (c *pollConn) Send(frame types.Frame) error {
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

func (c *pollConn) Frames() <-chan types.Frame {
	return c.frames
}

func (c *pollConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *pollConn) fail(err error) {
	c.errMu.Lock()
	if c.err == nil && c.ctx.Err() == nil {
		c.err = err
	}
	c.errMu.Unlock()
	_ = c.Close()
}

// Close ends the polling session; the server is told on a best-effort basis
func (c *pollConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.target.String(), nil)
		if err != nil {
			return
		}
		copyHeader(req.Header, c.header)
		if resp, err := c.client.Do(req); err == nil {
			resp.Body.Close()
		}
	})
	return nil
}

// endpointURL joins path under base and attaches the identity query
func endpointURL(base *url.URL, path, identity string) (*url.URL, error) {
	if base == nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, ErrInvalidEndpoint
	}
	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + path
	u.RawQuery = ""
	if identity != "" {
		q := url.Values{}
		q.Set("user_id", identity)
		u.RawQuery = q.Encode()
	}
	return &u, nil
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
