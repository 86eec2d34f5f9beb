package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"doubtdesk/internal/logger"
	"doubtdesk/pkg/interfaces"
	"doubtdesk/pkg/types"
)

const module = "realtime"

// State is the connection state of a Channel
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// ReconnectPolicy bounds automatic reconnection after transport loss.
// The zero value disables reconnection.
type ReconnectPolicy struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	MaxRetries      int
}

// Options configure a Channel
type Options struct {
	Endpoint    string
	Transports  []interfaces.Transport // tried in order
	Jar         http.CookieJar
	Header      http.Header
	DialTimeout time.Duration
	QueueSize   int // frames buffered while connecting
	Reconnect   ReconnectPolicy
}

// Channel is the single realtime connection of the application.
// ARCHITECTURAL DISCOVERY: rooms are remembered and replayed on every
// (re)connect, so callers may join before the socket is up.
type Channel struct {
	opts     Options
	endpoint *url.URL
	logger   logger.ILogger
	registry *Registry

	mu         sync.Mutex
	state      State
	identity   string
	conn       interfaces.Conn
	transport  string
	cancel     context.CancelFunc
	generation uint64
	rooms      []types.Room
	pending    []types.Frame
	outbox     []outbound
	flushing   bool
	refs       int
	changed    chan struct{}

	dials atomic.Int64

	listenerMu   sync.Mutex
	listeners    map[uint64]func(State)
	nextListener uint64
}

// outbound is a frame bound to the connection it was queued for
type outbound struct {
	conn  interfaces.Conn
	frame types.Frame
}

// NewChannel validates opts and returns a disconnected channel
func NewChannel(opts Options, log logger.ILogger) (*Channel, error) {
	endpoint, err := url.Parse(opts.Endpoint)
	if err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
		return nil, ErrInvalidEndpoint
	}
	if len(opts.Transports) == 0 {
		return nil, ErrNoTransports
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Channel{
		opts:      opts,
		endpoint:  endpoint,
		logger:    log,
		registry:  NewRegistry(),
		state:     StateDisconnected,
		changed:   make(chan struct{}),
		listeners: make(map[uint64]func(State)),
	}, nil
}

// Connect starts connecting as identity and returns immediately.
// Calling it while connecting or connected is a no-op, so at most one
// underlying connection exists.
func (c *Channel) Connect(ctx context.Context, identity string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		if c.identity != identity {
			c.logger.Warn(module, "connect ignored, channel already bound to another identity", map[string]interface{}{
				"identity": c.identity,
				"ignored":  identity,
			})
		}
		c.mu.Unlock()
		return nil
	}

	c.generation++
	gen := c.generation
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.identity = identity
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.notifyState(StateConnecting)
	go c.run(runCtx, gen, identity)
	return nil
}

func (c *Channel) run(ctx context.Context, gen uint64, identity string) {
	bo := c.newBackOff()
	retries := 0

	for {
		conn, name, err := c.dial(ctx, identity)
		if err == nil {
			if !c.attach(gen, conn, name) {
				_ = conn.Close()
				return
			}
			bo.Reset()
			retries = 0

			c.consume(ctx, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}

			err = conn.Err()
			c.logger.Warn(module, "realtime transport lost", map[string]interface{}{
				"transport": name,
				"identity":  identity,
				"error":     err,
			})
			if !c.opts.Reconnect.Enabled {
				c.giveUp(gen, err)
				return
			}
			if !c.detach(gen) {
				return
			}
		} else if ctx.Err() != nil {
			return
		}

		retries++
		if !c.opts.Reconnect.Enabled || retries > c.opts.Reconnect.MaxRetries {
			c.giveUp(gen, err)
			return
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			c.giveUp(gen, err)
			return
		}
		c.logger.Debug(module, "reconnect scheduled", map[string]interface{}{
			"retry": retries,
			"wait":  wait.String(),
		})

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (c *Channel) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	p := c.opts.Reconnect
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}

// dial tries every transport in order and returns the first connection
func (c *Channel) dial(ctx context.Context, identity string) (interfaces.Conn, string, error) {
	var errs []error
	for _, transport := range c.opts.Transports {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		c.dials.Add(1)

		dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
		conn, err := transport.Dial(dialCtx, interfaces.DialRequest{
			Endpoint: c.endpoint,
			Identity: identity,
			Header:   c.opts.Header,
			Jar:      c.opts.Jar,
		})
		cancel()

		if err == nil {
			c.logger.Info(module, "realtime connected", map[string]interface{}{
				"transport": transport.Name(),
				"identity":  identity,
			})
			return conn, transport.Name(), nil
		}

		c.logger.Warn(module, "realtime transport failed", map[string]interface{}{
			"transport": transport.Name(),
			"error":     err,
		})
		errs = append(errs, fmt.Errorf("%s: %w", transport.Name(), err))
	}
	return nil, "", fmt.Errorf("%w: %w", ErrAllTransports, errors.Join(errs...))
}

// attach installs conn and replays rooms then queued frames, in that order.
// The channel reports connected only after the replay has been written.
func (c *Channel) attach(gen uint64, conn interfaces.Conn, transport string) bool {
	c.mu.Lock()
	if gen != c.generation || c.state == StateDisconnected {
		c.mu.Unlock()
		return false
	}

	c.conn = conn
	c.transport = transport
	for _, room := range c.rooms {
		c.enqueueLocked(joinFrame(room))
	}
	for {
		for _, frame := range c.pending {
			c.enqueueLocked(frame)
		}
		c.pending = nil
		c.mu.Unlock()

		c.flush()

		c.mu.Lock()
		if gen != c.generation || c.state == StateDisconnected {
			c.mu.Unlock()
			return false
		}
		if len(c.pending) == 0 {
			break
		}
	}
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.notifyState(StateConnected)
	return true
}

func (c *Channel) detach(gen uint64) bool {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return false
	}
	c.conn = nil
	c.transport = ""
	c.outbox = nil
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.notifyState(StateConnecting)
	return true
}

// giveUp ends a run loop that exhausted its retries. Rooms and handlers
// survive so a later Connect resumes where this one stopped.
func (c *Channel) giveUp(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	dropped := len(c.pending) + len(c.outbox)
	c.pending = nil
	c.outbox = nil
	c.conn = nil
	c.transport = ""
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.logger.Error(module, "realtime connection abandoned", map[string]interface{}{
		"error":          cause,
		"dropped_frames": dropped,
	})
	c.notifyState(StateDisconnected)
}

func (c *Channel) consume(ctx context.Context, conn interfaces.Conn) {
	for frame := range conn.Frames() {
		if ctx.Err() != nil {
			return
		}
		c.dispatch(frame)
	}
}

func (c *Channel) dispatch(frame types.Frame) {
	for _, handler := range c.registry.Handlers(frame.Event) {
		c.call(handler, frame)
	}
}

func (c *Channel) call(handler Handler, frame types.Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(module, "realtime handler panicked", map[string]interface{}{
				"event": frame.Event,
				"panic": fmt.Sprint(r),
			})
		}
	}()
	handler(frame)
}

// enqueueLocked queues frame for the live connection. flush writes it.
func (c *Channel) enqueueLocked(frame types.Frame) {
	c.outbox = append(c.outbox, outbound{conn: c.conn, frame: frame})
}

// flush writes queued frames in queue order without holding c.mu, since a
// full write buffer blocks Send for up to the write timeout. One caller
// drains at a time; the others leave their frames to it.
func (c *Channel) flush() {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	for len(c.outbox) > 0 {
		batch := c.outbox
		c.outbox = nil
		c.mu.Unlock()

		for _, out := range batch {
			if err := out.conn.Send(out.frame); err != nil {
				c.logger.Warn(module, "realtime send failed", map[string]interface{}{
					"event": out.frame.Event,
					"error": err,
				})
			}
		}

		c.mu.Lock()
	}
	c.flushing = false
	c.mu.Unlock()
}

func joinFrame(room types.Room) types.Frame {
	frame, _ := types.NewFrame(room.JoinEvent, room.Key)
	return frame
}

// JoinRoom enters room now if connected, otherwise on the next connect.
// Joined rooms are re-entered after every reconnect.
func (c *Channel) JoinRoom(room types.Room) error {
	if err := room.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	for _, joined := range c.rooms {
		if joined == room {
			c.mu.Unlock()
			return nil
		}
	}
	c.rooms = append(c.rooms, room)

	connected := c.conn != nil
	if connected {
		c.enqueueLocked(joinFrame(room))
	}
	c.mu.Unlock()

	if connected {
		c.flush()
	}
	return nil
}

// Emit sends a fire-and-forget event. Frames are buffered while
// connecting and refused while disconnected.
func (c *Channel) Emit(event string, payload any) error {
	frame, err := types.NewFrame(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.enqueueLocked(frame)
		c.mu.Unlock()
		c.flush()
		return nil
	case StateConnecting:
		defer c.mu.Unlock()
		if len(c.pending) >= c.opts.QueueSize {
			return ErrQueueFull
		}
		c.pending = append(c.pending, frame)
		return nil
	default:
		c.mu.Unlock()
		return ErrNotConnected
	}
}

// Subscribe adds handler for event; several handlers per event coexist
func (c *Channel) Subscribe(event string, handler Handler) Token {
	return c.registry.Add(event, "", handler)
}

// Unsubscribe removes exactly the subscription behind token
func (c *Channel) Unsubscribe(token Token) bool {
	return c.registry.Remove(token)
}

// UnsubscribeAll removes every handler for event
func (c *Channel) UnsubscribeAll(event string) int {
	return c.registry.RemoveEvent(event)
}

// Disconnect tears the connection down and forgets rooms, queued frames
// and handlers. Safe to call in any state, any number of times.
func (c *Channel) Disconnect() {
	c.shutdown(false)
}

// shutdown implements Disconnect. With unused set it only tears down a
// channel that no handle borrows at the moment the lock is held.
func (c *Channel) shutdown(unused bool) {
	c.mu.Lock()
	if unused && c.refs > 0 {
		c.mu.Unlock()
		return
	}
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.transport = ""
	c.rooms = nil
	c.pending = nil
	c.outbox = nil
	was := c.state
	if was != StateDisconnected {
		c.setStateLocked(StateDisconnected)
	}
	// TECHNICAL DISCOVERY: handlers are cleared under c.mu so a handle
	// acquired right after this section never loses its subscriptions.
	c.registry.Clear()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	if was != StateDisconnected {
		c.logger.Info(module, "realtime disconnected", map[string]interface{}{"previous_state": string(was)})
		c.notifyState(StateDisconnected)
	}
}

// State returns the current connection state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transport names the transport of the live connection, "" if none
func (c *Channel) Transport() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// Rooms returns the remembered rooms in join order
func (c *Channel) Rooms() []types.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Room, len(c.rooms))
	copy(out, c.rooms)
	return out
}

// Dials counts transport dial attempts over the channel's lifetime
func (c *Channel) Dials() int64 {
	return c.dials.Load()
}

// Subscriptions is the number of live handlers
func (c *Channel) Subscriptions() int {
	return c.registry.Count()
}

// AwaitState blocks until the channel reaches want or ctx ends
func (c *Channel) AwaitState(ctx context.Context, want State) error {
	for {
		c.mu.Lock()
		state, changed := c.state, c.changed
		c.mu.Unlock()

		if state == want {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitConnected blocks until the channel is connected or ctx ends
func (c *Channel) WaitConnected(ctx context.Context) error {
	return c.AwaitState(ctx, StateConnected)
}

// OnStateChange registers fn for state transitions; call the result to stop
func (c *Channel) OnStateChange(fn func(State)) func() {
	c.listenerMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.listenerMu.Unlock()

	return func() {
		c.listenerMu.Lock()
		delete(c.listeners, id)
		c.listenerMu.Unlock()
	}
}

func (c *Channel) setStateLocked(s State) {
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Channel) notifyState(s State) {
	c.listenerMu.Lock()
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Acquire borrows the channel. The connection is torn down when the
// last handle is released.
func (c *Channel) Acquire() *Handle {
	c.mu.Lock()
	c.refs++
	c.mu.Unlock()
	return &Handle{id: newHandleID(), ch: c}
}

// Refs is the number of outstanding handles
func (c *Channel) Refs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs
}

func (c *Channel) release() {
	c.mu.Lock()
	c.refs--
	last := c.refs == 0
	c.mu.Unlock()

	if last {
		c.shutdown(true)
	}
}
