package controller

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"doubtdesk/internal/doubts"
	"doubtdesk/internal/realtime"
	"doubtdesk/internal/roomserver"
	"doubtdesk/internal/session"
	"doubtdesk/pkg/interfaces"
	"doubtdesk/pkg/types"
)

type fakeMentorAPI struct {
	mu          sync.Mutex
	dashboard   *types.Dashboard
	dashErr     error
	block       chan struct{}
	detail      *types.Doubt
	resolveErr  error
	resolutions []types.Resolution
	escalations []string
}

func (f *fakeMentorAPI) Dashboard(ctx context.Context, userID string) (*types.Dashboard, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dashErr != nil {
		return nil, f.dashErr
	}
	return f.dashboard, nil
}

func (f *fakeMentorAPI) Doubts(ctx context.Context, filter types.DoubtFilter) ([]types.Doubt, error) {
	return nil, nil
}

func (f *fakeMentorAPI) Doubt(ctx context.Context, doubtID string) (*types.Doubt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detail == nil || f.detail.ID != doubtID {
		return nil, &types.APIError{Status: 404, Message: "Doubt not found"}
	}
	d := *f.detail
	return &d, nil
}

func (f *fakeMentorAPI) Resolve(ctx context.Context, doubtID string, res types.Resolution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolutions = append(f.resolutions, res)
	return nil
}

func (f *fakeMentorAPI) Escalate(ctx context.Context, doubtID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations = append(f.escalations, reason)
	return nil
}

type fakeAdminAPI struct {
	mu         sync.Mutex
	pending    []types.Mentor
	approvals  map[string]int
	approveErr error
	block      chan struct{}
	analytics  types.Analytics
}

func (f *fakeAdminAPI) PendingMentors(ctx context.Context) ([]types.Mentor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Mentor, len(f.pending))
	copy(out, f.pending)
	return out, nil
}

func (f *fakeAdminAPI) ApproveMentor(ctx context.Context, mentorID, status string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.approveErr != nil {
		return f.approveErr
	}
	if f.approvals == nil {
		f.approvals = make(map[string]int)
	}
	f.approvals[mentorID]++
	return nil
}

func (f *fakeAdminAPI) Analytics(ctx context.Context) (types.Analytics, error) {
	return f.analytics, nil
}

var (
	_ interfaces.MentorAPI = (*fakeMentorAPI)(nil)
	_ interfaces.AdminAPI  = (*fakeAdminAPI)(nil)
)

func signedIn(p *types.Principal) *session.Store {
	s := session.NewStore(nil, nil)
	s.Set(p)
	return s
}

// liveChannel returns a channel wired to an in-process room server
func liveChannel(t *testing.T) (*realtime.Channel, *roomserver.Server) {
	t.Helper()
	srv := roomserver.NewServer(roomserver.Options{PollWait: 100 * time.Millisecond}, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	ch, err := realtime.NewChannel(realtime.Options{
		Endpoint:   ts.URL,
		Transports: []interfaces.Transport{realtime.NewWebSocketTransport(time.Second, 5*time.Second, time.Second, 16)},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(ch.Disconnect)
	return ch, srv
}

func waitForRoom(t *testing.T, srv *roomserver.Server, room string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.WaitForRoom(ctx, room, 1))
}

func newStore() *doubts.Store {
	return doubts.NewStore(nil)
}
