// Package controller holds the screen-level logic of the client. Each
// controller mounts against the shared stores and channel, and drops any
// response or push that arrives after it is unmounted.
package controller

import (
	"sync"

	"doubtdesk/internal/doubts"
	"doubtdesk/internal/logger"
	"doubtdesk/internal/realtime"
	"doubtdesk/internal/session"
	"doubtdesk/pkg/interfaces"
	"doubtdesk/pkg/types"
)

const module = "controller"

// HandleSource lends out references to the realtime channel
type HandleSource interface {
	Acquire() *realtime.Handle
}

// Deps are the shared objects controllers are built from.
// Only the fields a controller uses need to be set.
type Deps struct {
	Session *session.Store
	Doubts  *doubts.Store
	Channel HandleSource
	Mentor  interfaces.MentorAPI
	Admin   interfaces.AdminAPI
	Logger  logger.ILogger
}

func (d Deps) log() logger.ILogger {
	if d.Logger == nil {
		return logger.NewNop()
	}
	return d.Logger
}

// lifecycle tracks mount generations. A callback captured under one
// generation is stale once the generation moves on.
type lifecycle struct {
	mu      sync.Mutex
	gen     uint64
	mounted bool
	handle  *realtime.Handle
}

// begin marks the view mounted; ok is false when it already was
func (l *lifecycle) begin() (gen uint64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mounted {
		return l.gen, false
	}
	l.gen++
	l.mounted = true
	return l.gen, true
}

func (l *lifecycle) setHandle(gen uint64, h *realtime.Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.mounted || l.gen != gen {
		return false
	}
	l.handle = h
	return true
}

func (l *lifecycle) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mounted && l.gen == gen
}

func (l *lifecycle) generation() (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen, l.mounted
}

// end unmounts and returns the handle to release, if any
func (l *lifecycle) end() (*realtime.Handle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.mounted {
		return nil, false
	}
	l.mounted = false
	l.gen++
	h := l.handle
	l.handle = nil
	return h, true
}

// requireRole returns the signed-in principal when its role is one of roles
func requireRole(s *session.Store, roles ...string) (*types.Principal, error) {
	p := s.Principal()
	if p == nil {
		return nil, ErrNotAuthenticated
	}
	for _, r := range roles {
		if p.Role == r {
			return p, nil
		}
	}
	return nil, ErrForbidden
}

// pushHandler decodes a pushed doubt and prepends it while gen is current
func pushHandler(l *lifecycle, gen uint64, store *doubts.Store, log logger.ILogger) realtime.Handler {
	return func(frame types.Frame) {
		if !l.current(gen) {
			return
		}
		d, err := types.DecodeDoubt(frame.Data)
		if err != nil {
			log.Warn(module, "dropping malformed doubt push", map[string]interface{}{
				"event": frame.Event,
				"error": err,
			})
			return
		}
		store.Prepend(*d)
	}
}
