package controller

import (
	"context"
	"sync"

	"doubtdesk/pkg/types"
)

// MentorDashboard shows the priority doubts and live alerts for a mentor
type MentorDashboard struct {
	deps Deps
	life lifecycle

	mu        sync.RWMutex
	principal *types.Principal
	stats     types.DashboardStats
}

func NewMentorDashboard(deps Deps) *MentorDashboard {
	return &MentorDashboard{deps: deps}
}

// Mount subscribes to new doubt alerts, joins the mentor room and loads the
// dashboard. Mounting an already mounted dashboard only refreshes it.
func (m *MentorDashboard) Mount(ctx context.Context) error {
	p, err := requireRole(m.deps.Session, types.RoleMentor, types.RoleAdmin)
	if err != nil {
		return err
	}

	gen, fresh := m.life.begin()
	if !fresh {
		return m.Refresh(ctx)
	}

	m.mu.Lock()
	m.principal = p
	m.mu.Unlock()

	if p.NeedsLiveUpdates() && m.deps.Channel != nil {
		h := m.deps.Channel.Acquire()
		if !m.life.setHandle(gen, h) {
			h.Release()
			return ErrUnmounted
		}
		h.Subscribe(types.EventNewDoubtAlert, pushHandler(&m.life, gen, m.deps.Doubts, m.deps.log()))
		if err := h.Connect(ctx, p.ID); err != nil {
			m.deps.log().Warn(module, "mentor dashboard could not start realtime", map[string]interface{}{"error": err})
		}
		if err := h.JoinRoom(types.MentorRoom(p.ID)); err != nil {
			m.deps.log().Warn(module, "mentor room join failed", map[string]interface{}{"error": err})
		}
	}

	return m.Refresh(ctx)
}

// Refresh refetches the dashboard and reconciles it with pushes that
// arrived while the request was in flight
func (m *MentorDashboard) Refresh(ctx context.Context) error {
	gen, mounted := m.life.generation()
	if !mounted {
		return ErrUnmounted
	}
	m.mu.RLock()
	p := m.principal
	m.mu.RUnlock()

	rev := m.deps.Doubts.BeginLoad()
	dash, err := m.deps.Mentor.Dashboard(ctx, p.ID)
	if !m.life.current(gen) {
		return ErrUnmounted
	}
	if err != nil {
		m.deps.Doubts.FailLoad(err)
		m.deps.log().Error(module, "mentor dashboard fetch failed", map[string]interface{}{
			"mentor_id": p.ID,
			"error":     err,
		})
		return err
	}

	m.deps.Doubts.Reconcile(dash.PriorityDoubts, rev)
	m.mu.Lock()
	m.stats = dash.Stats
	m.mu.Unlock()
	return nil
}

func (m *MentorDashboard) Stats() types.DashboardStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *MentorDashboard) Mounted() bool {
	_, mounted := m.life.generation()
	return mounted
}

// Unmount releases the channel handle; it is safe to call more than once
func (m *MentorDashboard) Unmount() {
	h, ok := m.life.end()
	if !ok {
		return
	}
	if h != nil {
		h.Release()
	}
}
