package roomserver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"doubtdesk/pkg/types"
)

// wsPeer serializes writes to a websocket through one goroutine
type wsPeer struct {
	id        string
	userID    string
	conn      *websocket.Conn
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newWSPeer(id, userID string, conn *websocket.Conn) *wsPeer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &wsPeer{
		id:      id,
		userID:  userID,
		conn:    conn,
		writeCh: make(chan []byte, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
	go p.writeLoop()
	return p
}

func (p *wsPeer) writeLoop() {
	for {
		select {
		case data := <-p.writeCh:
			if err := p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				p.Close()
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.Close()
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *wsPeer) ID() string     { return p.id }
func (p *wsPeer) UserID() string { return p.userID }

func (p *wsPeer) Deliver(frame types.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case <-p.ctx.Done():
		return ErrPeerClosed
	default:
	}
	select {
	case p.writeCh <- data:
		return nil
	case <-p.ctx.Done():
		return ErrPeerClosed
	default:
		return ErrPeerBacklogged
	}
}

func (p *wsPeer) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		_ = p.conn.Close()
	})
}

// pollPeer buffers frames until the client's next long-poll collects them
type pollPeer struct {
	id     string
	userID string

	mu       sync.Mutex
	queue    []types.Frame
	closed   bool
	lastSeen time.Time
	signal   chan struct{}
}

func newPollPeer(id, userID string) *pollPeer {
	return &pollPeer{
		id:       id,
		userID:   userID,
		lastSeen: time.Now(),
		signal:   make(chan struct{}, 1),
	}
}

func (p *pollPeer) ID() string     { return p.id }
func (p *pollPeer) UserID() string { return p.userID }

func (p *pollPeer) Deliver(frame types.Frame) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	p.queue = append(p.queue, frame)
	p.mu.Unlock()
	p.wake()
	return nil
}

func (p *pollPeer) wake() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Take waits up to wait for frames and drains the queue
func (p *pollPeer) Take(ctx context.Context, wait time.Duration) ([]types.Frame, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		p.mu.Lock()
		p.lastSeen = time.Now()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPeerClosed
		}
		if len(p.queue) > 0 {
			out := p.queue
			p.queue = nil
			p.mu.Unlock()
			return out, nil
		}
		p.mu.Unlock()

		select {
		case <-p.signal:
		case <-timer.C:
			return []types.Frame{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *pollPeer) touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

func (p *pollPeer) idleSince() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

func (p *pollPeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *pollPeer) Close() {
	p.mu.Lock()
	p.closed = true
	p.queue = nil
	p.mu.Unlock()
	p.wake()
}
