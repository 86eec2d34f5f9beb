package controller

import (
	"context"
	"sync"

	"doubtdesk/pkg/types"
)

// AdminDashboard lists mentors awaiting approval and platform analytics
type AdminDashboard struct {
	deps Deps
	life lifecycle

	mu        sync.RWMutex
	pending   []types.Mentor
	inFlight  map[string]bool
	analytics types.Analytics
}

func NewAdminDashboard(deps Deps) *AdminDashboard {
	return &AdminDashboard{deps: deps, inFlight: make(map[string]bool)}
}

// Mount loads the pending mentor list
func (a *AdminDashboard) Mount(ctx context.Context) error {
	if _, err := requireRole(a.deps.Session, types.RoleAdmin); err != nil {
		return err
	}
	gen, _ := a.life.begin()

	mentors, err := a.deps.Admin.PendingMentors(ctx)
	if !a.life.current(gen) {
		return ErrUnmounted
	}
	if err != nil {
		a.deps.log().Error(module, "pending mentor fetch failed", map[string]interface{}{"error": err})
		return err
	}

	a.mu.Lock()
	a.pending = mentors
	a.mu.Unlock()
	return nil
}

// Pending returns a copy of the pending mentor list
func (a *AdminDashboard) Pending() []types.Mentor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.Mentor, len(a.pending))
	copy(out, a.pending)
	return out
}

// Approve records a decision for mentorID and drops it from the list.
// A second decision for the same mentor is refused while the first is in
// flight, so each mentor leaves the list exactly once.
func (a *AdminDashboard) Approve(ctx context.Context, mentorID, status string) error {
	if !types.IsValidApproval(status) {
		return types.ErrInvalidApproval
	}
	if _, err := requireRole(a.deps.Session, types.RoleAdmin); err != nil {
		return err
	}

	a.mu.Lock()
	if a.index(mentorID) < 0 {
		a.mu.Unlock()
		return ErrUnknownMentor
	}
	if a.inFlight[mentorID] {
		a.mu.Unlock()
		return ErrApprovalPending
	}
	a.inFlight[mentorID] = true
	a.mu.Unlock()

	err := a.deps.Admin.ApproveMentor(ctx, mentorID, status)

	a.mu.Lock()
	delete(a.inFlight, mentorID)
	if err == nil {
		if i := a.index(mentorID); i >= 0 {
			a.pending = append(a.pending[:i], a.pending[i+1:]...)
		}
	}
	a.mu.Unlock()

	if err != nil {
		a.deps.log().Error(module, "mentor approval failed", map[string]interface{}{
			"mentor_id": mentorID,
			"status":    status,
			"error":     err,
		})
		return err
	}
	a.deps.log().Info(module, "mentor approval recorded", map[string]interface{}{
		"mentor_id": mentorID,
		"status":    status,
	})
	return nil
}

func (a *AdminDashboard) index(mentorID string) int {
	for i, m := range a.pending {
		if m.ID == mentorID {
			return i
		}
	}
	return -1
}

// LoadAnalytics fetches the aggregate metrics document. It works without
// Mount; a mounted dashboard drops the result if unmounted meanwhile.
func (a *AdminDashboard) LoadAnalytics(ctx context.Context) (types.Analytics, error) {
	if _, err := requireRole(a.deps.Session, types.RoleAdmin); err != nil {
		return nil, err
	}
	gen, mounted := a.life.generation()
	analytics, err := a.deps.Admin.Analytics(ctx)
	if err != nil {
		return nil, err
	}
	if mounted && !a.life.current(gen) {
		return nil, ErrUnmounted
	}
	a.mu.Lock()
	a.analytics = analytics
	a.mu.Unlock()
	return analytics, nil
}

func (a *AdminDashboard) Unmount() {
	a.life.end()
}
