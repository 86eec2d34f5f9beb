package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"doubtdesk/pkg/types"
)

// Handle is a view's borrowed reference to the shared Channel.
// Subscriptions made through a handle are dropped when it is released.
type Handle struct {
	id       string
	ch       *Channel
	once     sync.Once
	released atomic.Bool
}

func newHandleID() string {
	return uuid.NewString()
}

// Subscribe registers handler for event under this handle.
// A released handle returns an empty token and registers nothing.
func (h *Handle) Subscribe(event string, handler Handler) Token {
	if h.released.Load() {
		return ""
	}
	return h.ch.registry.Add(event, h.id, handler)
}

// Unsubscribe removes one subscription
func (h *Handle) Unsubscribe(token Token) bool {
	return h.ch.registry.Remove(token)
}

func (h *Handle) Connect(ctx context.Context, identity string) error {
	if h.released.Load() {
		return ErrHandleReleased
	}
	return h.ch.Connect(ctx, identity)
}

func (h *Handle) JoinRoom(room types.Room) error {
	if h.released.Load() {
		return ErrHandleReleased
	}
	return h.ch.JoinRoom(room)
}

func (h *Handle) Emit(event string, payload any) error {
	if h.released.Load() {
		return ErrHandleReleased
	}
	return h.ch.Emit(event, payload)
}

func (h *Handle) State() State {
	return h.ch.State()
}

// Release drops this handle's subscriptions and returns the borrow.
// Only the first call has an effect.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.released.Store(true)
		h.ch.registry.RemoveOwner(h.id)
		h.ch.release()
	})
}
