package session

import (
	"context"
	"sync"

	"doubtdesk/internal/logger"
	"doubtdesk/pkg/interfaces"
	"doubtdesk/pkg/types"
)

const module = "session"

// Snapshot is a consistent read of the session state.
// Authenticated is derived from Principal and never stored.
type Snapshot struct {
	Principal     *types.Principal
	Authenticated bool
	Loading       bool
}

// Store holds the current principal for the running client
type Store struct {
	auth   interfaces.AuthAPI
	logger logger.ILogger

	mu         sync.RWMutex
	principal  *types.Principal
	loading    int
	generation uint64

	listenerMu sync.Mutex
	listeners  map[uint64]func(Snapshot)
	nextID     uint64
}

// NewStore creates an empty, unauthenticated session store
func NewStore(auth interfaces.AuthAPI, log logger.ILogger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		auth:      auth,
		logger:    log,
		listeners: make(map[uint64]func(Snapshot)),
	}
}

// FetchSession asks the backend who is signed in. Every failure leaves the
// store unauthenticated; nothing is returned to the caller.
func (s *Store) FetchSession(ctx context.Context) {
	s.mu.Lock()
	s.loading++
	gen := s.generation
	s.mu.Unlock()
	s.notify()

	principal, err := s.auth.Me(ctx)
	switch {
	case err != nil:
		s.logger.Warn(module, "session fetch failed", map[string]interface{}{"error": err})
		principal = nil
	case principal != nil:
		if verr := principal.Validate(); verr != nil {
			s.logger.Warn(module, "session principal rejected", map[string]interface{}{"error": verr})
			principal = nil
		}
	}

	s.mu.Lock()
	s.loading--
	// A Set or Logout issued while the request was in flight wins
	if gen == s.generation {
		s.principal = clonePrincipal(principal)
		s.generation++
	}
	s.mu.Unlock()
	s.notify()
}

// Set replaces the principal synchronously. Passing nil, or a principal
// without a valid id and role, signs the client out locally.
func (s *Store) Set(principal *types.Principal) {
	if principal != nil && principal.Validate() != nil {
		principal = nil
	}

	s.mu.Lock()
	s.principal = clonePrincipal(principal)
	s.generation++
	s.mu.Unlock()
	s.notify()
}

// Logout ends the server session and clears local state regardless of
// whether the backend call succeeded.
func (s *Store) Logout(ctx context.Context) {
	if err := s.auth.Logout(ctx); err != nil {
		s.logger.Warn(module, "logout request failed, clearing local session anyway", map[string]interface{}{"error": err})
	}
	s.Set(nil)
}

// Principal returns a copy of the current principal, or nil
func (s *Store) Principal() *types.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePrincipal(s.principal)
}

// IsAuthenticated reports whether a principal is present
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal != nil
}

// IsLoading reports whether a session fetch is in flight
func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading > 0
}

// Snapshot returns principal, auth flag and loading flag read together
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Principal:     clonePrincipal(s.principal),
		Authenticated: s.principal != nil,
		Loading:       s.loading > 0,
	}
}

// OnChange registers fn to run after every state change. The returned
// function removes the listener.
func (s *Store) OnChange(fn func(Snapshot)) func() {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Store) notify() {
	snap := s.Snapshot()

	s.listenerMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func clonePrincipal(p *types.Principal) *types.Principal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
