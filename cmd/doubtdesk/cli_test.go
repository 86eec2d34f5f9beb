package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doubtdesk/internal/roomserver"
	"doubtdesk/pkg/types"
)

// fakeBackend serves the REST endpoints the console uses.
// Cookie "connect.sid" selects the signed-in user: mentor, admin or none.
type fakeBackend struct {
	*httptest.Server

	mu        sync.Mutex
	resolved  map[string]string
	escalated map[string]string
	approvals map[string]string
	queries   []string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		resolved:  make(map[string]string),
		escalated: make(map[string]string),
		approvals: make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		c, _ := r.Cookie("connect.sid")
		switch {
		case c != nil && c.Value == "mentor":
			io.WriteString(w, `{"user":{"_id":"m1","name":"Asha","role":"mentor"}}`)
		case c != nil && c.Value == "admin":
			io.WriteString(w, `{"user":{"_id":"a1","name":"Root","role":"admin"}}`)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"Not authenticated"}`)
		}
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":"ok"}`)
	})
	mux.HandleFunc("GET /api/mentor/dashboard", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"stats":{"pending":2,"resolvedYour":5,"rating":4.5},"priorityDoubts":[
			{"_id":"d1","questionText":"What is entropy?","confidence":0.4,"status":"escalated_to_mentor"}]}`)
	})
	mux.HandleFunc("GET /api/mentor/doubts", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.queries = append(b.queries, r.URL.RawQuery)
		b.mu.Unlock()
		io.WriteString(w, `[{"_id":"d1","status":"pending"},{"doubtId":"d2","status":"pending","subject":"physics"}]`)
	})
	mux.HandleFunc("GET /api/mentor/doubt/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "d1" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"Doubt not found"}`)
			return
		}
		io.WriteString(w, `{"_id":"d1","questionText":"What is entropy?","answer":"Disorder","confidence":40,"status":"escalated_to_mentor"}`)
	})
	mux.HandleFunc("POST /api/mentor/doubt/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		var body types.Resolution
		json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.resolved[r.PathValue("id")] = body.MentorID + ":" + body.AnswerText
		b.mu.Unlock()
		io.WriteString(w, `{"message":"resolved"}`)
	})
	mux.HandleFunc("POST /api/mentor/doubt/{id}/escalate", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Reason string `json:"reason"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.escalated[r.PathValue("id")] = body.Reason
		b.mu.Unlock()
		io.WriteString(w, `{"message":"escalated"}`)
	})
	mux.HandleFunc("GET /api/admin/mentors/pending", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		var out []map[string]any
		for _, id := range []string{"m7", "m8"} {
			if _, done := b.approvals[id]; !done {
				out = append(out, map[string]any{"_id": id, "name": "Mentor " + id, "expertise": "math"})
			}
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("POST /api/admin/mentors/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status string `json:"status"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.approvals[r.PathValue("id")] = body.Status
		b.mu.Unlock()
		io.WriteString(w, `{"message":"ok"}`)
	})
	mux.HandleFunc("GET /api/admin/analytics", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"totalDoubts":12,"aiResolved":9}`)
	})
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

type harness struct {
	backend *fakeBackend
	relay   *roomserver.Server
	relayTS *httptest.Server
	dbPath  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	relay := roomserver.NewServer(roomserver.Options{PollWait: 100 * time.Millisecond}, nil)
	ts := httptest.NewServer(relay)
	t.Cleanup(ts.Close)
	return &harness{
		backend: newFakeBackend(t),
		relay:   relay,
		relayTS: ts,
		dbPath:  filepath.Join(t.TempDir(), "doubtdesk.db"),
	}
}

// run executes the CLI and returns its stdout
func (h *harness) run(t *testing.T, cookie string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DOUBTDESK_REALTIME_TRANSPORTS", "websocket")
	argv := []string{
		"doubtdesk",
		"--env-file", filepath.Join(t.TempDir(), "missing.env"),
		"--api-url", h.backend.URL + "/api",
		"--realtime-url", h.relayTS.URL,
		"--db", h.dbPath,
	}
	if cookie != "" {
		argv = append(argv, "--session-cookie", "connect.sid="+cookie)
	}
	argv = append(argv, args...)

	var out bytes.Buffer
	err := newCLIApp(&out).Run(argv)
	return out.String(), err
}

func TestWhoami(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "mentor", "whoami")
	require.NoError(t, err)
	var got struct {
		Authenticated bool             `json:"authenticated"`
		User          *types.Principal `json:"user"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Authenticated)
	assert.Equal(t, "m1", got.User.ID)

	// the cookie is remembered for the next invocation
	out, err = h.run(t, "", "whoami")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Authenticated)
}

func TestLogoutForgetsSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "mentor", "logout")
	require.NoError(t, err)

	out, err := h.run(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, `"authenticated": false`)
}

func TestDoubtsRequiresSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "doubts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no signed-in user")
}

func TestDoubtsListsWithFilters(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "mentor", "doubts", "--status", "pending", "--subject", "physics")
	require.NoError(t, err)
	var list []types.Doubt
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "d2", list[1].ID)
	assert.Equal(t, []string{"status=pending&subject=physics"}, h.backend.queries)

	_, err = h.run(t, "mentor", "doubts", "--status", "closed")
	require.Error(t, err)
}

func TestDoubtShowResolveEscalate(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "mentor", "doubt", "show", "d1")
	require.NoError(t, err)
	var d types.Doubt
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, "Disorder", d.Answer)

	_, err = h.run(t, "mentor", "doubt", "show", "d404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[404] Doubt not found")

	out, err = h.run(t, "mentor", "doubt", "resolve", "d1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, types.StatusResolvedMentor, d.Status)
	assert.Equal(t, "m1:Disorder", h.backend.resolved["d1"])

	_, err = h.run(t, "mentor", "doubt", "resolve", "--action", "override", "d1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "answer text is required")

	_, err = h.run(t, "mentor", "doubt", "escalate", "--reason", "needs a proof", "d1")
	require.NoError(t, err)
	assert.Equal(t, "needs a proof", h.backend.escalated["d1"])
}

func TestAdminApprovalFlow(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "admin", "admin", "pending")
	require.NoError(t, err)
	var mentors []types.Mentor
	require.NoError(t, json.Unmarshal([]byte(out), &mentors))
	require.Len(t, mentors, 2)
	assert.Equal(t, []string{"math"}, mentors[0].Expertise)

	_, err = h.run(t, "admin", "admin", "approve", "m7")
	require.NoError(t, err)
	_, err = h.run(t, "admin", "admin", "reject", "m8")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"m7": "approved", "m8": "rejected"}, h.backend.approvals)

	_, err = h.run(t, "admin", "admin", "approve", "m7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the pending list")

	_, err = h.run(t, "mentor", "admin", "pending")
	require.Error(t, err)

	out, err = h.run(t, "admin", "admin", "analytics")
	require.NoError(t, err)
	assert.Contains(t, out, `"totalDoubts": 12`)
}

func TestThemePersists(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "theme")
	require.NoError(t, err)
	assert.Contains(t, out, `"theme": "light"`)

	out, err = h.run(t, "", "theme", "toggle")
	require.NoError(t, err)
	assert.Contains(t, out, `"theme": "dark"`)

	out, err = h.run(t, "", "theme", "get")
	require.NoError(t, err)
	assert.Contains(t, out, `"theme": "dark"`)

	_, err = h.run(t, "", "theme", "set", "sepia")
	require.Error(t, err)
	out, err = h.run(t, "", "theme", "set", "light")
	require.NoError(t, err)
	assert.Contains(t, out, `"theme": "light"`)
}

func TestWatchStreamsAlerts(t *testing.T) {
	h := newHarness(t)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if h.relay.WaitForRoom(ctx, roomserver.RoomMentors, 1) == nil {
			h.relay.Broadcast(roomserver.RoomMentors, types.EventNewDoubtAlert, map[string]any{
				"_id":          "d9",
				"questionText": "Is zero even?",
				"confidence":   0.35,
			})
		}
	}()

	out, err := h.run(t, "mentor", "watch", "--duration", "1500ms")
	require.NoError(t, err)
	assert.Contains(t, out, "pending 2, resolved by you 5, rating 4.5")
	assert.Contains(t, out, "What is entropy?")
	assert.Contains(t, out, "realtime connected")
	assert.Contains(t, out, "Is zero even?")
	assert.True(t, strings.Contains(out, "35%"))
}
