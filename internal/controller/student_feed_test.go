package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doubtdesk/internal/doubts"
	"doubtdesk/internal/roomserver"
	"doubtdesk/pkg/types"
)

func TestStudentFeed_AppliesUpdatesToOwnRoom(t *testing.T) {
	ch, srv := liveChannel(t)
	store := newStore()
	feed := NewStudentFeed(Deps{
		Session: signedIn(&types.Principal{ID: "s1", Role: types.RoleStudent}),
		Doubts:  store,
		Channel: ch,
	})
	require.NoError(t, feed.Mount(context.Background()))
	defer feed.Unmount()
	assert.Equal(t, doubts.ViewEmpty, store.Snapshot().View())

	require.NoError(t, feed.Submitted(types.Doubt{ID: "d1", QuestionText: "2+2?", Status: types.StatusPending}))
	require.NoError(t, feed.Submitted(types.Doubt{ID: "d2", Status: types.StatusPending}))

	waitForRoom(t, srv, roomserver.UserRoom("s1"))
	_, err := srv.Broadcast(roomserver.UserRoom("s1"), types.EventDoubtUpdate, "not a doubt")
	require.NoError(t, err)
	_, err = srv.Broadcast(roomserver.UserRoom("s1"), types.EventDoubtUpdate, map[string]any{
		"_id":        "d1",
		"status":     "resolved_ai",
		"answer":     "4",
		"confidence": 0.93,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		d, ok := store.Get("d1")
		return ok && d.Status == types.StatusResolvedAI
	}, 5*time.Second, 10*time.Millisecond)

	snap := store.Snapshot()
	require.Len(t, snap.Doubts, 2)
	assert.Equal(t, "d1", snap.Doubts[0].ID)
	assert.Equal(t, "2+2?", snap.Doubts[0].QuestionText)
	assert.Equal(t, "4", snap.Doubts[0].Answer)
	require.NotNil(t, snap.Doubts[0].Confidence)
	assert.InDelta(t, 93, *snap.Doubts[0].Confidence, 0.001)
}

func TestStudentFeed_UnmountStopsUpdates(t *testing.T) {
	ch, srv := liveChannel(t)
	store := newStore()
	feed := NewStudentFeed(Deps{
		Session: signedIn(&types.Principal{ID: "s2", Role: types.RoleStudent}),
		Doubts:  store,
		Channel: ch,
	})
	require.NoError(t, feed.Mount(context.Background()))
	waitForRoom(t, srv, roomserver.UserRoom("s2"))

	feed.Unmount()
	assert.Equal(t, 0, ch.Refs())
	assert.Equal(t, 0, ch.Subscriptions())
	assert.ErrorIs(t, feed.Submitted(types.Doubt{ID: "d1", Status: types.StatusPending}), ErrUnmounted)
	assert.Equal(t, 0, store.Len())
}

func TestStudentFeed_RejectsInvalidSubmission(t *testing.T) {
	ch, _ := liveChannel(t)
	feed := NewStudentFeed(Deps{
		Session: signedIn(&types.Principal{ID: "s3", Role: types.RoleStudent}),
		Doubts:  newStore(),
		Channel: ch,
	})
	require.NoError(t, feed.Mount(context.Background()))
	defer feed.Unmount()

	assert.ErrorIs(t, feed.Submitted(types.Doubt{ID: "", Status: types.StatusPending}), types.ErrInvalidID)
}

func TestStudentFeed_AdminForbidden(t *testing.T) {
	ch, _ := liveChannel(t)
	feed := NewStudentFeed(Deps{
		Session: signedIn(&types.Principal{ID: "a1", Role: types.RoleAdmin}),
		Doubts:  newStore(),
		Channel: ch,
	})
	assert.ErrorIs(t, feed.Mount(context.Background()), ErrForbidden)
}
