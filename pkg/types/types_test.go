package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"mongo object id", "64f1c2a9e4b0a1b2c3d4e5f6", true},
		{"short seeded id", "m1", true},
		{"numeric", "1", true},
		{"with hyphen", "doubt-42", true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 65), false},
		{"spaces", "doubt 1", false},
		{"slash", "a/b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidID(tt.id))
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusResolvedAI, true},
		{StatusPending, StatusResolvedMentor, true},
		{StatusResolvedAI, StatusEscalatedToMentor, true},
		{StatusEscalatedToMentor, StatusResolvedMentor, true},
		{StatusResolvedMentor, StatusResolvedMentor, true},
		{StatusResolvedAI, StatusPending, false},
		{StatusResolvedMentor, StatusPending, false},
		{StatusResolvedMentor, StatusEscalatedToMentor, false},
		{StatusEscalatedToMentor, StatusResolvedAI, false},
		{StatusPending, Status("archived"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestPrincipal_Validate(t *testing.T) {
	assert.NoError(t, (&Principal{ID: "u1", Role: RoleMentor}).Validate())
	assert.ErrorIs(t, (&Principal{ID: "", Role: RoleMentor}).Validate(), ErrInvalidID)
	assert.ErrorIs(t, (&Principal{ID: "u1", Role: "guest"}).Validate(), ErrInvalidRole)
}

func TestDecodeDoubt_IdentifierFields(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantID  string
	}{
		{"mongo _id", `{"_id":"abc","status":"pending"}`, "abc"},
		{"doubtId wins over _id", `{"doubtId":"d1","_id":"abc"}`, "d1"},
		{"plain numeric id", `{"id":1,"status":"pending"}`, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DecodeDoubt([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, d.ID)
		})
	}

	_, err := DecodeDoubt([]byte(`{"questionText":"no id"}`))
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestDecodeDoubt_Normalization(t *testing.T) {
	payload := `{
		"_id": "d7",
		"questionText": "What is entropy?",
		"answer": "A measure of disorder.",
		"confidence": 0.42,
		"userId": {"_id": "s1", "name": "Asha"},
		"createdAt": "2024-05-01T10:00:00Z"
	}`

	d, err := DecodeDoubt([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, d.Status, "missing status defaults to pending")
	require.NotNil(t, d.Confidence)
	assert.InDelta(t, 42.0, *d.Confidence, 0.0001)
	assert.Equal(t, "s1", d.StudentID)
	assert.Equal(t, "Asha", d.StudentName)
	assert.Equal(t, 2024, d.CreatedAt.Year())
}

func TestDecodeDoubt_RejectsOutOfRangeConfidence(t *testing.T) {
	_, err := DecodeDoubt([]byte(`{"_id":"d1","confidence":140}`))
	assert.ErrorIs(t, err, ErrInvalidConfidence)

	_, err = DecodeDoubt([]byte(`{"_id":"d1","confidence":-3}`))
	assert.ErrorIs(t, err, ErrInvalidConfidence)

	_, err = DecodeDoubt([]byte(`{"_id":"d1","status":"archived"}`))
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestDecodePrincipal(t *testing.T) {
	p, err := DecodePrincipal([]byte(`{"_id":"u9","name":"Ravi","role":"mentor"}`))
	require.NoError(t, err)
	assert.Equal(t, &Principal{ID: "u9", Name: "Ravi", Role: RoleMentor}, p)

	p, err = DecodePrincipal([]byte(`null`))
	assert.NoError(t, err)
	assert.Nil(t, p)

	_, err = DecodePrincipal([]byte(`{"_id":"u9","role":""}`))
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestDecodeMentors(t *testing.T) {
	mentors, err := DecodeMentors([]byte(`[
		{"_id":"m1","name":"Kim","email":"k@x.io","expertise":["physics","maths"]},
		{"_id":"m2","name":"Lee","expertise":"chemistry"}
	]`))
	require.NoError(t, err)
	require.Len(t, mentors, 2)
	assert.Equal(t, []string{"physics", "maths"}, mentors[0].Expertise)
	assert.Equal(t, []string{"chemistry"}, mentors[1].Expertise)
}

func TestDecodeDashboard(t *testing.T) {
	dash, err := DecodeDashboard([]byte(`{
		"stats": {"pending": 3, "resolvedYour": 10, "rating": 4.5},
		"priorityDoubts": [{"_id":"d1","status":"escalated_to_mentor"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, 3, dash.Stats.Pending)
	require.Len(t, dash.PriorityDoubts, 1)
	assert.Equal(t, StatusEscalatedToMentor, dash.PriorityDoubts[0].Status)

	dash, err = DecodeDashboard([]byte(`{"stats":{}}`))
	require.NoError(t, err)
	assert.Empty(t, dash.PriorityDoubts)
}

func TestDoubt_AsPatch(t *testing.T) {
	c := 80.0
	d := Doubt{ID: "d1", Answer: "42", Confidence: &c, Status: StatusResolvedAI}
	p := d.AsPatch()

	require.NotNil(t, p.Answer)
	assert.Equal(t, "42", *p.Answer)
	require.NotNil(t, p.Status)
	assert.Equal(t, StatusResolvedAI, *p.Status)
	assert.Nil(t, p.QuestionText)
	assert.Nil(t, p.MentorID)

	*p.Confidence = 10
	assert.Equal(t, 80.0, *d.Confidence, "patch must not alias the record")
}

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(EventJoinMentor, "u1")
	require.NoError(t, err)
	assert.Equal(t, EventJoinMentor, f.Event)
	assert.JSONEq(t, `"u1"`, string(f.Data))

	f, err = NewFrame("ping", nil)
	require.NoError(t, err)
	assert.Nil(t, f.Data)

	_, err = NewFrame("bad", make(chan int))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	raw := json.RawMessage(`{"a":1}`)
	f, err = NewFrame("raw", raw)
	require.NoError(t, err)
	assert.Equal(t, raw, f.Data)
}

func TestAPIError(t *testing.T) {
	err := &APIError{Status: 404, Message: "Doubt not found", Path: "/mentor/doubt/x"}
	assert.Equal(t, "Doubt not found", err.Error())
	assert.True(t, err.IsNotFound())

	err = &APIError{Status: 401, Path: "/auth/me"}
	assert.True(t, err.IsUnauthorized())
	assert.Contains(t, err.Error(), "401")
}
