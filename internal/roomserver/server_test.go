package roomserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doubtdesk/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(Options{PollWait: 200 * time.Millisecond}, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialWS(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/realtime/ws?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := types.NewFrame(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRoomFor(t *testing.T) {
	room, ok := RoomFor(types.EventJoinUser, "u1")
	assert.True(t, ok)
	assert.Equal(t, "user:u1", room)

	room, ok = RoomFor(types.EventJoinMentor, "m7")
	assert.True(t, ok)
	assert.Equal(t, RoomMentors, room)

	_, ok = RoomFor("join_lobby", "x")
	assert.False(t, ok)
}

func TestServer_WebSocketJoinAndBroadcast(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dialWS(t, ts, "m1")

	sendFrame(t, conn, types.EventJoinMentor, "m1")
	require.NoError(t, srv.WaitForRoom(waitCtx(t), RoomMentors, 1))

	delivered, err := srv.Broadcast(RoomMentors, types.EventNewDoubtAlert, map[string]string{"_id": "d1"})
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame types.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, types.EventNewDoubtAlert, frame.Event)
	assert.JSONEq(t, `{"_id":"d1"}`, string(frame.Data))

	assert.Equal(t, int64(1), srv.Accepted())
	require.NotEmpty(t, srv.Received())
	assert.Equal(t, types.EventJoinMentor, srv.Received()[0].Event)
}

func TestServer_RejectsMissingUser(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/realtime/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/realtime/poll/open", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_InvalidJoinIsIgnored(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dialWS(t, ts, "u1")

	sendFrame(t, conn, types.EventJoinUser, map[string]int{"not": 1})
	sendFrame(t, conn, types.EventJoinUser, "u1")
	require.NoError(t, srv.WaitForRoom(waitCtx(t), UserRoom("u1"), 1))
	assert.Len(t, srv.Received(), 2)
}

func TestServer_PollingRoundTrip(t *testing.T) {
	srv, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/realtime/poll/open?user_id=s1", "application/json", nil)
	require.NoError(t, err)
	var opened struct {
		SID string `json:"sid"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&opened))
	resp.Body.Close()
	require.NotEmpty(t, opened.SID)
	pollURL := ts.URL + "/realtime/poll?sid=" + opened.SID

	join, _ := json.Marshal(types.Frame{Event: types.EventJoinUser, Data: json.RawMessage(`"s1"`)})
	resp, err = http.Post(pollURL, "application/json", bytes.NewReader(join))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, srv.RoomSize(UserRoom("s1")))

	_, err = srv.Broadcast(UserRoom("s1"), types.EventDoubtUpdate, map[string]string{"doubtId": "d9"})
	require.NoError(t, err)

	resp, err = http.Get(pollURL)
	require.NoError(t, err)
	var frames []types.Frame
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&frames))
	resp.Body.Close()
	require.Len(t, frames, 1)
	assert.Equal(t, types.EventDoubtUpdate, frames[0].Event)

	// Nothing queued: the poll is held then answered with an empty batch
	resp, err = http.Get(pollURL)
	require.NoError(t, err)
	frames = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&frames))
	resp.Body.Close()
	assert.Empty(t, frames)

	req, _ := http.NewRequest(http.MethodDelete, pollURL, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(pollURL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_BroadcastEndpoint(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dialWS(t, ts, "u2")
	sendFrame(t, conn, types.EventJoinUser, "u2")
	require.NoError(t, srv.WaitForRoom(waitCtx(t), UserRoom("u2"), 1))

	body := `{"room":"user:u2","event":"doubt_update","data":{"doubtId":"d1","status":"resolved_mentor"}}`
	resp, err := http.Post(ts.URL+"/realtime/broadcast", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var out map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, 1, out["delivered"])

	resp, err = http.Post(ts.URL+"/realtime/broadcast", "application/json", strings.NewReader(`{"room":""}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_DropAllEmptiesRooms(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dialWS(t, ts, "m1")
	sendFrame(t, conn, types.EventJoinMentor, "m1")
	require.NoError(t, srv.WaitForRoom(waitCtx(t), RoomMentors, 1))

	srv.DropAll()

	assert.Equal(t, 0, srv.RoomSize(RoomMentors))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(Options{}, nil)
	ctx := context.Background()

	require.NoError(t, srv.Start(ctx))
	assert.ErrorIs(t, srv.Start(ctx), ErrServerAlreadyRunning)
	require.NoError(t, srv.Stop())
	assert.ErrorIs(t, srv.Stop(), ErrServerNotRunning)
}

func TestRegistry_UnregisterIsIdempotentAndGuarded(t *testing.T) {
	r := NewRegistry()
	first := newPollPeer("p1", "u1")
	r.Register(first)
	require.True(t, r.Join(first, "user:u1"))

	replacement := newPollPeer("p1", "u1")
	r.Register(replacement)

	r.Unregister(first)
	_, ok := r.Get("p1")
	assert.True(t, ok, "a replaced peer must not remove its successor")

	r.Unregister(replacement)
	r.Unregister(replacement)
	assert.Equal(t, map[string]int{"peers": 0, "rooms": 0}, r.GetStats())
	assert.False(t, r.Join(replacement, "user:u1"))
}

func TestPollPeer_TakeAfterClose(t *testing.T) {
	p := newPollPeer("p1", "u1")
	p.Close()

	_, err := p.Take(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrPeerClosed)
	assert.ErrorIs(t, p.Deliver(types.Frame{Event: "x"}), ErrPeerClosed)
}
