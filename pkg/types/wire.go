package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// The backend has shipped doubts keyed by "_id", "doubtId" and "id", and
// embeds the owning student either as an id or as a populated user object.
// Everything below exists to fold those shapes into the canonical types.

// flexID accepts a JSON string or number
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// userRef accepts either a bare id or a populated {"_id","name"} object
type userRef struct {
	ID   flexID
	Name string
}

func (u *userRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] != '{' {
		return u.ID.UnmarshalJSON(b)
	}
	var obj struct {
		MongoID flexID `json:"_id"`
		ID      flexID `json:"id"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	u.ID = firstID(obj.MongoID, obj.ID)
	u.Name = obj.Name
	return nil
}

type wireDoubt struct {
	DoubtID          flexID     `json:"doubtId"`
	MongoID          flexID     `json:"_id"`
	ID               flexID     `json:"id"`
	QuestionText     string     `json:"questionText"`
	ImageURL         string     `json:"imageUrl"`
	Subject          string     `json:"subject"`
	Answer           string     `json:"answer"`
	Confidence       *float64   `json:"confidence"`
	Status           string     `json:"status"`
	UserID           userRef    `json:"userId"`
	StudentID        userRef    `json:"studentId"`
	StudentName      string     `json:"studentName"`
	MentorID         userRef    `json:"mentorId"`
	ResolvedBy       userRef    `json:"resolvedBy"`
	EscalationReason string     `json:"escalationReason"`
	CreatedAt        *time.Time `json:"createdAt"`
	UpdatedAt        *time.Time `json:"updatedAt"`
}

type wireUser struct {
	MongoID flexID `json:"_id"`
	ID      flexID `json:"id"`
	UID     flexID `json:"uid"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Role    string `json:"role"`
}

type wireMentor struct {
	MongoID   flexID          `json:"_id"`
	ID        flexID          `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Expertise json.RawMessage `json:"expertise"`
	Status    string          `json:"status"`
}

func firstID(ids ...flexID) flexID {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}

// NormalizeConfidence maps the backend's 0-1 scores onto 0-100.
// Values above 1 are taken to already be percentages.
func NormalizeConfidence(c float64) float64 {
	if c > 0 && c <= 1 {
		return c * 100
	}
	return c
}

// DecodeDoubt parses a wire doubt into its canonical form and validates it
func DecodeDoubt(raw []byte) (*Doubt, error) {
	var w wireDoubt
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, ErrInvalidPayload
	}
	return w.normalize()
}

// DecodeDoubts parses a JSON array of wire doubts
func DecodeDoubts(raw []byte) ([]Doubt, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, ErrInvalidPayload
	}
	doubts := make([]Doubt, 0, len(items))
	for _, item := range items {
		d, err := DecodeDoubt(item)
		if err != nil {
			return nil, err
		}
		doubts = append(doubts, *d)
	}
	return doubts, nil
}

func (w *wireDoubt) normalize() (*Doubt, error) {
	id := string(firstID(w.DoubtID, w.MongoID, w.ID))
	if id == "" {
		return nil, ErrMissingID
	}

	d := &Doubt{
		ID:               id,
		QuestionText:     w.QuestionText,
		ImageURL:         w.ImageURL,
		Subject:          w.Subject,
		Answer:           w.Answer,
		Status:           Status(w.Status),
		StudentName:      w.StudentName,
		EscalationReason: w.EscalationReason,
		UpdatedAt:        w.UpdatedAt,
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	if w.Confidence != nil {
		c := NormalizeConfidence(*w.Confidence)
		d.Confidence = &c
	}

	student := w.StudentID
	if student.ID == "" {
		student = w.UserID
	}
	d.StudentID = string(student.ID)
	if d.StudentName == "" {
		d.StudentName = student.Name
	}

	mentor := w.MentorID
	if mentor.ID == "" {
		mentor = w.ResolvedBy
	}
	d.MentorID = string(mentor.ID)

	if w.CreatedAt != nil {
		d.CreatedAt = *w.CreatedAt
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// DecodePrincipal parses the "user" object of the session endpoint.
// A null or empty user yields nil without error.
func DecodePrincipal(raw []byte) (*Principal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var w wireUser
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, ErrInvalidPayload
	}
	p := &Principal{
		ID:    string(firstID(w.MongoID, w.ID, w.UID)),
		Name:  w.Name,
		Email: w.Email,
		Role:  w.Role,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodeMentors parses the pending mentor listing
func DecodeMentors(raw []byte) ([]Mentor, error) {
	var ws []wireMentor
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, ErrInvalidPayload
	}
	mentors := make([]Mentor, 0, len(ws))
	for _, w := range ws {
		m := Mentor{
			ID:     string(firstID(w.MongoID, w.ID)),
			Name:   w.Name,
			Email:  w.Email,
			Status: w.Status,
		}
		if !IsValidID(m.ID) {
			return nil, ErrInvalidID
		}
		m.Expertise = decodeExpertise(w.Expertise)
		mentors = append(mentors, m)
	}
	return mentors, nil
}

// expertise arrives either as a list or as a single comma separated string
func decodeExpertise(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

// DecodeDashboard parses the mentor dashboard payload
func DecodeDashboard(raw []byte) (*Dashboard, error) {
	var w struct {
		Stats          DashboardStats  `json:"stats"`
		PriorityDoubts json.RawMessage `json:"priorityDoubts"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, ErrInvalidPayload
	}
	dash := &Dashboard{Stats: w.Stats, PriorityDoubts: []Doubt{}}
	if len(w.PriorityDoubts) > 0 && string(w.PriorityDoubts) != "null" {
		doubts, err := DecodeDoubts(w.PriorityDoubts)
		if err != nil {
			return nil, err
		}
		dash.PriorityDoubts = doubts
	}
	return dash, nil
}

// FormatConfidence renders a confidence score for display
func FormatConfidence(c *float64) string {
	if c == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*c, 'f', 0, 64) + "%"
}
