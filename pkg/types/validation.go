package types

import (
	"regexp"
)

// FUNCTIONAL DISCOVERY: ids come from two backends (Mongo object ids and
// short seeded ids such as "m1"), so only the character set is enforced
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// transitions lists the statuses each status may move to
var transitions = map[Status][]Status{
	StatusPending:           {StatusResolvedAI, StatusEscalatedToMentor, StatusResolvedMentor},
	StatusResolvedAI:        {StatusEscalatedToMentor, StatusResolvedMentor},
	StatusEscalatedToMentor: {StatusResolvedMentor},
	StatusResolvedMentor:    {},
}

// IsValidID checks if an identifier meets format requirements
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}

// IsValidRole checks if the role is one of the platform roles
func IsValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleMentor, RoleAdmin:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known doubt status
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Resolved reports whether s is one of the resolved terminal-ish states
func (s Status) Resolved() bool {
	return s == StatusResolvedAI || s == StatusResolvedMentor
}

// CanTransition reports whether a doubt may move from one status to another.
// Staying in the same status is always allowed; nothing moves back to pending.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidConfidence reports whether c lies in [0,100]
func ValidConfidence(c float64) bool {
	return c >= 0 && c <= 100
}

// Validate ensures the principal is fully populated
func (p *Principal) Validate() error {
	if !IsValidID(p.ID) {
		return ErrInvalidID
	}
	if !IsValidRole(p.Role) {
		return ErrInvalidRole
	}
	return nil
}

// NeedsLiveUpdates reports whether the role consumes realtime pushes
func (p *Principal) NeedsLiveUpdates() bool {
	return p.Role == RoleMentor || p.Role == RoleStudent
}

// Validate ensures the doubt satisfies the data model invariants
func (d *Doubt) Validate() error {
	if !IsValidID(d.ID) {
		return ErrInvalidID
	}
	if !d.Status.Valid() {
		return ErrInvalidStatus
	}
	if d.Confidence != nil && !ValidConfidence(*d.Confidence) {
		return ErrInvalidConfidence
	}
	return nil
}

// Validate ensures the patch does not carry out-of-range values
func (p *DoubtPatch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return ErrInvalidStatus
	}
	if p.Confidence != nil && !ValidConfidence(*p.Confidence) {
		return ErrInvalidConfidence
	}
	return nil
}

// Validate checks the resolve request before it is sent
func (r *Resolution) Validate() error {
	if !IsValidID(r.MentorID) {
		return ErrInvalidID
	}
	if r.Action != ActionVerifyAI && r.Action != ActionOverride {
		return ErrInvalidAction
	}
	return nil
}

// IsValidApproval checks a mentor approval decision
func IsValidApproval(status string) bool {
	return status == ApprovalApproved || status == ApprovalRejected
}

// Validate ensures the room can be joined
func (r Room) Validate() error {
	if r.JoinEvent == "" || r.Key == "" {
		return ErrInvalidRoom
	}
	return nil
}

// AsPatch converts a full record into a patch carrying its non-zero fields.
// Used when a pushed record collides with one already held.
func (d *Doubt) AsPatch() DoubtPatch {
	var p DoubtPatch
	if d.QuestionText != "" {
		p.QuestionText = strPtr(d.QuestionText)
	}
	if d.ImageURL != "" {
		p.ImageURL = strPtr(d.ImageURL)
	}
	if d.Subject != "" {
		p.Subject = strPtr(d.Subject)
	}
	if d.Answer != "" {
		p.Answer = strPtr(d.Answer)
	}
	if d.Confidence != nil {
		c := *d.Confidence
		p.Confidence = &c
	}
	if d.Status != "" {
		s := d.Status
		p.Status = &s
	}
	if d.StudentID != "" {
		p.StudentID = strPtr(d.StudentID)
	}
	if d.StudentName != "" {
		p.StudentName = strPtr(d.StudentName)
	}
	if d.MentorID != "" {
		p.MentorID = strPtr(d.MentorID)
	}
	if d.EscalationReason != "" {
		p.EscalationReason = strPtr(d.EscalationReason)
	}
	if d.UpdatedAt != nil {
		t := *d.UpdatedAt
		p.UpdatedAt = &t
	}
	return p
}

func strPtr(s string) *string {
	return &s
}
