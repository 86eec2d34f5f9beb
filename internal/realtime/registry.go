package realtime

import (
	"sync"

	"github.com/google/uuid"

	"doubtdesk/pkg/types"
)

// Token identifies one subscription
type Token string

// Handler receives an inbound frame. Handlers run on the connection's
// read goroutine in frame order and must not block for long.
type Handler func(frame types.Frame)

type subscription struct {
	token   Token
	event   string
	owner   string
	handler Handler
}

// Registry is the event-name multimap of subscriptions.
// TECHNICAL DISCOVERY: dispatch copies the handler list under the read
// lock so handlers may subscribe or unsubscribe while being called.
type Registry struct {
	mu      sync.RWMutex
	byEvent map[string][]*subscription
	byToken map[Token]*subscription
}

// NewRegistry creates an empty subscription registry
func NewRegistry() *Registry {
	return &Registry{
		byEvent: make(map[string][]*subscription),
		byToken: make(map[Token]*subscription),
	}
}

// Add registers handler for event on behalf of owner ("" for none)
func (r *Registry) Add(event, owner string, handler Handler) Token {
	sub := &subscription{
		token:   Token(uuid.NewString()),
		event:   event,
		owner:   owner,
		handler: handler,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byEvent[event] = append(r.byEvent[event], sub)
	r.byToken[sub.token] = sub
	return sub.token
}

// Remove drops one subscription; unknown tokens are ignored
func (r *Registry) Remove(token Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byToken[token]
	if !ok {
		return false
	}
	r.removeLocked(sub)
	return true
}

// RemoveEvent drops every subscription to event
func (r *Registry) RemoveEvent(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.byEvent[event]
	for _, sub := range subs {
		delete(r.byToken, sub.token)
	}
	delete(r.byEvent, event)
	return len(subs)
}

// RemoveOwner drops every subscription registered by owner
func (r *Registry) RemoveOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, sub := range r.byToken {
		if sub.owner == owner {
			r.removeLocked(sub)
			removed++
		}
	}
	return removed
}

func (r *Registry) removeLocked(sub *subscription) {
	delete(r.byToken, sub.token)

	subs := r.byEvent[sub.event]
	for i, cur := range subs {
		if cur == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	// Clean up empty slices to prevent unbounded map growth
	if len(subs) == 0 {
		delete(r.byEvent, sub.event)
	} else {
		r.byEvent[sub.event] = subs
	}
}

// Clear drops every subscription
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byEvent = make(map[string][]*subscription)
	r.byToken = make(map[Token]*subscription)
}

// Handlers returns the handlers for event in registration order
func (r *Registry) Handlers(event string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byEvent[event]
	out := make([]Handler, len(subs))
	for i, sub := range subs {
		out[i] = sub.handler
	}
	return out
}

// Count is the total number of live subscriptions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}
