package roomserver

import (
	"sync"
	"time"
)

// RateLimiter caps inbound frames per peer within a one minute window
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	peers  map[string]*peerLimit
	now    func() time.Time
}

type peerLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit frames per peer per minute
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: time.Minute,
		peers:  make(map[string]*peerLimit),
		now:    time.Now,
	}
}

// Allow records a frame from peerID and reports whether it is within the limit
func (rl *RateLimiter) Allow(peerID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	l, ok := rl.peers[peerID]
	if !ok || now.Sub(l.windowStart) >= rl.window {
		rl.peers[peerID] = &peerLimit{count: 1, windowStart: now}
		return true
	}
	if l.count >= rl.limit {
		return false
	}
	l.count++
	return true
}

// Forget drops the state of a disconnected peer
func (rl *RateLimiter) Forget(peerID string) {
	rl.mu.Lock()
	delete(rl.peers, peerID)
	rl.mu.Unlock()
}

// Cleanup removes peers idle for five windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for id, l := range rl.peers {
		if now.Sub(l.windowStart) > 5*rl.window {
			delete(rl.peers, id)
		}
	}
}

func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.peers)
}
