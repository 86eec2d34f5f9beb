package controller

import (
	"context"

	"doubtdesk/pkg/types"
)

// StudentFeed keeps a student's own doubts current as resolutions land
type StudentFeed struct {
	deps Deps
	life lifecycle
}

func NewStudentFeed(deps Deps) *StudentFeed {
	return &StudentFeed{deps: deps}
}

// Mount joins the signed-in user's room and applies doubt updates pushed
// into it. There is no listing endpoint for students, so the collection
// starts from whatever has been submitted locally.
func (f *StudentFeed) Mount(ctx context.Context) error {
	p, err := requireRole(f.deps.Session, types.RoleStudent, types.RoleMentor)
	if err != nil {
		return err
	}

	gen, fresh := f.life.begin()
	if !fresh {
		return nil
	}

	h := f.deps.Channel.Acquire()
	if !f.life.setHandle(gen, h) {
		h.Release()
		return ErrUnmounted
	}
	h.Subscribe(types.EventDoubtUpdate, pushHandler(&f.life, gen, f.deps.Doubts, f.deps.log()))
	if err := h.Connect(ctx, p.ID); err != nil {
		h.Release()
		f.life.end()
		return err
	}
	if err := h.JoinRoom(types.UserRoom(p.ID)); err != nil {
		f.deps.log().Warn(module, "user room join failed", map[string]interface{}{"error": err})
	}

	f.deps.Doubts.MarkReady()
	return nil
}

// Submitted records a doubt the student just created
func (f *StudentFeed) Submitted(d types.Doubt) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, mounted := f.life.generation(); !mounted {
		return ErrUnmounted
	}
	f.deps.Doubts.Prepend(d)
	return nil
}

func (f *StudentFeed) Unmount() {
	h, ok := f.life.end()
	if ok && h != nil {
		h.Release()
	}
}
