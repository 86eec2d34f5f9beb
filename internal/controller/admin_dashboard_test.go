package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doubtdesk/pkg/types"
)

var adminP = &types.Principal{ID: "a1", Name: "Root", Role: types.RoleAdmin}

func pendingMentors() []types.Mentor {
	return []types.Mentor{{ID: "m1", Name: "Asha"}, {ID: "m2", Name: "Ravi"}}
}

func TestAdminDashboard_ApproveRemovesMentorOnce(t *testing.T) {
	api := &fakeAdminAPI{pending: pendingMentors()}
	dash := NewAdminDashboard(Deps{Session: signedIn(adminP), Admin: api})
	require.NoError(t, dash.Mount(context.Background()))
	require.Len(t, dash.Pending(), 2)

	require.NoError(t, dash.Approve(context.Background(), "m1", types.ApprovalApproved))
	pending := dash.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "m2", pending[0].ID)

	assert.ErrorIs(t, dash.Approve(context.Background(), "m1", types.ApprovalApproved), ErrUnknownMentor)
	assert.Equal(t, 1, api.approvals["m1"])
}

func TestAdminDashboard_ConcurrentApprovalsCallOnce(t *testing.T) {
	api := &fakeAdminAPI{pending: pendingMentors(), block: make(chan struct{})}
	dash := NewAdminDashboard(Deps{Session: signedIn(adminP), Admin: api})
	require.NoError(t, dash.Mount(context.Background()))

	first := make(chan error, 1)
	go func() { first <- dash.Approve(context.Background(), "m2", types.ApprovalRejected) }()

	assert.Eventually(t, func() bool {
		dash.mu.RLock()
		defer dash.mu.RUnlock()
		return dash.inFlight["m2"]
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, dash.Approve(context.Background(), "m2", types.ApprovalApproved), ErrApprovalPending)
	close(api.block)
	require.NoError(t, <-first)

	assert.Equal(t, 1, api.approvals["m2"])
	assert.Len(t, dash.Pending(), 1)
}

func TestAdminDashboard_ParallelDistinctMentors(t *testing.T) {
	api := &fakeAdminAPI{pending: pendingMentors()}
	dash := NewAdminDashboard(Deps{Session: signedIn(adminP), Admin: api})
	require.NoError(t, dash.Mount(context.Background()))

	var wg sync.WaitGroup
	for _, id := range []string{"m1", "m2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, dash.Approve(context.Background(), id, types.ApprovalApproved))
		}(id)
	}
	wg.Wait()
	assert.Empty(t, dash.Pending())
}

func TestAdminDashboard_FailedApprovalKeepsMentor(t *testing.T) {
	api := &fakeAdminAPI{pending: pendingMentors(), approveErr: errors.New("network down")}
	dash := NewAdminDashboard(Deps{Session: signedIn(adminP), Admin: api})
	require.NoError(t, dash.Mount(context.Background()))

	assert.Error(t, dash.Approve(context.Background(), "m1", types.ApprovalApproved))
	assert.Len(t, dash.Pending(), 2)
	assert.ErrorIs(t, dash.Approve(context.Background(), "m1", "maybe"), types.ErrInvalidApproval)
}

func TestAdminDashboard_RequiresAdmin(t *testing.T) {
	api := &fakeAdminAPI{pending: pendingMentors()}
	dash := NewAdminDashboard(Deps{Session: signedIn(mentorP), Admin: api})
	assert.ErrorIs(t, dash.Mount(context.Background()), ErrForbidden)
	_, err := dash.LoadAnalytics(context.Background())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAdminDashboard_Analytics(t *testing.T) {
	api := &fakeAdminAPI{analytics: types.Analytics{"totalDoubts": float64(12)}}
	dash := NewAdminDashboard(Deps{Session: signedIn(adminP), Admin: api})

	got, err := dash.LoadAnalytics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(12), got["totalDoubts"])
}
