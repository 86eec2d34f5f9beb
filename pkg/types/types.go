package types

import (
	"encoding/json"
	"time"
)

// Role values carried by the session principal
const (
	RoleStudent = "student"
	RoleMentor  = "mentor"
	RoleAdmin   = "admin"
)

// Status is the lifecycle state of a doubt
type Status string

const (
	StatusPending           Status = "pending"
	StatusResolvedAI        Status = "resolved_ai"
	StatusEscalatedToMentor Status = "escalated_to_mentor"
	StatusResolvedMentor    Status = "resolved_mentor"
)

// Realtime event names exchanged with the notification service
const (
	EventJoinUser      = "join_user"
	EventJoinMentor    = "join_mentor"
	EventNewDoubtAlert = "new_doubt_alert"
	EventDoubtUpdate   = "doubt_update"
)

// Resolve actions accepted by the mentor resolve endpoint
const (
	ActionVerifyAI = "verify_ai"
	ActionOverride = "override"
)

// Mentor approval decisions
const (
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Principal is the authenticated user behind a session.
// A Principal is either fully populated (ID and Role) or absent.
type Principal struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// Doubt is one student question with its AI answer and review state.
// ID is the canonical identifier; wire payloads are normalized into it
// by DecodeDoubt before a Doubt reaches any store.
type Doubt struct {
	ID               string     `json:"id"`
	QuestionText     string     `json:"questionText,omitempty"`
	ImageURL         string     `json:"imageUrl,omitempty"`
	Subject          string     `json:"subject,omitempty"`
	Answer           string     `json:"answer,omitempty"`
	Confidence       *float64   `json:"confidence,omitempty"`
	Status           Status     `json:"status"`
	StudentID        string     `json:"studentId,omitempty"`
	StudentName      string     `json:"studentName,omitempty"`
	MentorID         string     `json:"mentorId,omitempty"`
	EscalationReason string     `json:"escalationReason,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        *time.Time `json:"updatedAt,omitempty"`
}

// DoubtPatch carries a partial update. Nil fields are left untouched.
type DoubtPatch struct {
	QuestionText     *string
	ImageURL         *string
	Subject          *string
	Answer           *string
	Confidence       *float64
	Status           *Status
	StudentID        *string
	StudentName      *string
	MentorID         *string
	EscalationReason *string
	UpdatedAt        *time.Time
}

// Mentor is a mentor account, typically one awaiting admin approval
type Mentor struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email,omitempty"`
	Expertise []string `json:"expertise,omitempty"`
	Status    string   `json:"status,omitempty"`
}

// DashboardStats are the counters shown on the mentor dashboard
type DashboardStats struct {
	Pending      int     `json:"pending"`
	ResolvedYour int     `json:"resolvedYour"`
	Rating       float64 `json:"rating"`
}

// Dashboard is the mentor dashboard payload after normalization
type Dashboard struct {
	Stats          DashboardStats `json:"stats"`
	PriorityDoubts []Doubt        `json:"priorityDoubts"`
}

// Analytics is the opaque aggregate metrics document returned to admins
type Analytics map[string]any

// Resolution is the body of a mentor resolve request
type Resolution struct {
	MentorID   string `json:"mentorId"`
	AnswerText string `json:"answerText"`
	Action     string `json:"action"`
}

// DoubtFilter narrows the mentor doubt listing
type DoubtFilter struct {
	Status  Status
	Subject string
}

// Frame is a single realtime event on the wire
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes payload into a frame for event.
// A nil payload yields a frame without data.
func NewFrame(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return Frame{Event: event, Data: raw}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, ErrInvalidPayload
	}
	return Frame{Event: event, Data: data}, nil
}

// Room identifies a realtime room by the join event that enters it and
// the identity passed along with that event.
type Room struct {
	JoinEvent string `json:"join_event"`
	Key       string `json:"key"`
}

// UserRoom is the per-user room that receives resolution updates
func UserRoom(userID string) Room {
	return Room{JoinEvent: EventJoinUser, Key: userID}
}

// MentorRoom is the shared mentor room that receives new doubt alerts
func MentorRoom(userID string) Room {
	return Room{JoinEvent: EventJoinMentor, Key: userID}
}

// String renders the room as "<join_event>:<key>"
func (r Room) String() string {
	return r.JoinEvent + ":" + r.Key
}
