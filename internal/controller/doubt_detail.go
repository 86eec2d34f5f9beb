package controller

import (
	"context"
	"strings"
	"sync"
	"time"

	"doubtdesk/pkg/types"
)

// DoubtDetail is the review screen for one doubt
type DoubtDetail struct {
	deps Deps
	id   string
	life lifecycle

	mu    sync.RWMutex
	doubt *types.Doubt
}

func NewDoubtDetail(deps Deps, doubtID string) *DoubtDetail {
	return &DoubtDetail{deps: deps, id: doubtID}
}

// Load fetches the doubt. A copy already in the collection is refreshed
// in place.
func (d *DoubtDetail) Load(ctx context.Context) (*types.Doubt, error) {
	if !types.IsValidID(d.id) {
		return nil, types.ErrInvalidID
	}
	if _, err := requireRole(d.deps.Session, types.RoleMentor, types.RoleAdmin); err != nil {
		return nil, err
	}
	gen, _ := d.life.begin()

	doubt, err := d.deps.Mentor.Doubt(ctx, d.id)
	if !d.life.current(gen) {
		return nil, ErrUnmounted
	}
	if err != nil {
		d.deps.log().Error(module, "doubt fetch failed", map[string]interface{}{
			"doubt_id": d.id,
			"error":    err,
		})
		return nil, err
	}

	d.mu.Lock()
	d.doubt = doubt
	d.mu.Unlock()
	if d.deps.Doubts != nil {
		d.deps.Doubts.Patch(doubt.ID, doubt.AsPatch())
	}
	out := *doubt
	return &out, nil
}

// Doubt returns the loaded doubt, if any
func (d *DoubtDetail) Doubt() (types.Doubt, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.doubt == nil {
		return types.Doubt{}, false
	}
	return *d.doubt, true
}

// Resolve submits a mentor resolution as the signed-in mentor.
// verify_ai with an empty answer reuses the AI answer.
func (d *DoubtDetail) Resolve(ctx context.Context, answer, action string) error {
	p, err := requireRole(d.deps.Session, types.RoleMentor, types.RoleAdmin)
	if err != nil {
		return err
	}

	answer = strings.TrimSpace(answer)
	if action == types.ActionVerifyAI && answer == "" {
		loaded, ok := d.Doubt()
		if !ok {
			return ErrNotLoaded
		}
		answer = loaded.Answer
	}
	if answer == "" {
		return ErrEmptyAnswer
	}

	res := types.Resolution{MentorID: p.ID, AnswerText: answer, Action: action}
	if err := d.deps.Mentor.Resolve(ctx, d.id, res); err != nil {
		return err
	}

	status := types.StatusResolvedMentor
	now := time.Now()
	d.apply(types.DoubtPatch{
		Answer:    &answer,
		Status:    &status,
		MentorID:  &p.ID,
		UpdatedAt: &now,
	})
	d.deps.log().Info(module, "doubt resolved", map[string]interface{}{
		"doubt_id":  d.id,
		"mentor_id": p.ID,
		"action":    action,
	})
	return nil
}

// Escalate hands the doubt to a senior mentor with reason
func (d *DoubtDetail) Escalate(ctx context.Context, reason string) error {
	if _, err := requireRole(d.deps.Session, types.RoleMentor, types.RoleAdmin); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if err := d.deps.Mentor.Escalate(ctx, d.id, reason); err != nil {
		return err
	}

	status := types.StatusEscalatedToMentor
	now := time.Now()
	d.apply(types.DoubtPatch{
		Status:           &status,
		EscalationReason: &reason,
		UpdatedAt:        &now,
	})
	return nil
}

// apply mirrors a successful mutation into the loaded copy and the collection
func (d *DoubtDetail) apply(patch types.DoubtPatch) {
	d.mu.Lock()
	if d.doubt != nil {
		merged := *d.doubt
		if patch.Status != nil && types.CanTransition(merged.Status, *patch.Status) {
			merged.Status = *patch.Status
		}
		if patch.Answer != nil {
			merged.Answer = *patch.Answer
		}
		if patch.MentorID != nil {
			merged.MentorID = *patch.MentorID
		}
		if patch.EscalationReason != nil {
			merged.EscalationReason = *patch.EscalationReason
		}
		merged.UpdatedAt = patch.UpdatedAt
		d.doubt = &merged
	}
	d.mu.Unlock()

	if d.deps.Doubts != nil {
		d.deps.Doubts.Patch(d.id, patch)
	}
}

// Unmount discards any fetch still in flight
func (d *DoubtDetail) Unmount() {
	d.life.end()
}
