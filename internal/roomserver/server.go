package roomserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"doubtdesk/internal/logger"
	"doubtdesk/pkg/types"
)

const module = "roomserver"

var upgrader = websocket.Upgrader{
	// FUNCTIONAL DISCOVERY: the relay serves local development and tests,
	// where the browser-facing origin check has nothing to protect
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Options tune the relay
type Options struct {
	PollWait        time.Duration // how long a long-poll is held open
	IdleTimeout     time.Duration // polling sessions unseen this long are reaped
	FramesPerMinute int           // inbound frames allowed per peer
}

// BroadcastRequest is the body of POST /realtime/broadcast
type BroadcastRequest struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Server is a small realtime relay speaking the client's room protocol
// over websockets and long-polling. The backend (or a test) pushes events
// into rooms through Broadcast.
type Server struct {
	opts     Options
	logger   logger.ILogger
	registry *Registry
	limiter  *RateLimiter
	mux      *http.ServeMux

	accepted atomic.Int64

	recvMu   sync.Mutex
	received []types.Frame

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

// NewServer creates a relay; it serves requests without Start, which
// only runs the idle polling-session reaper
func NewServer(opts Options, log logger.ILogger) *Server {
	if opts.PollWait <= 0 {
		opts.PollWait = 25 * time.Second
	}
	if opts.IdleTimeout <= opts.PollWait {
		opts.IdleTimeout = 3 * opts.PollWait
	}
	if opts.FramesPerMinute <= 0 {
		opts.FramesPerMinute = 100
	}
	if log == nil {
		log = logger.NewNop()
	}

	s := &Server{
		opts:     opts,
		logger:   log,
		registry: NewRegistry(),
		limiter:  NewRateLimiter(opts.FramesPerMinute),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /realtime/ws", s.handleWebSocket)
	s.mux.HandleFunc("POST /realtime/poll/open", s.handlePollOpen)
	s.mux.HandleFunc("GET /realtime/poll", s.handlePollReceive)
	s.mux.HandleFunc("POST /realtime/poll", s.handlePollSend)
	s.mux.HandleFunc("DELETE /realtime/poll", s.handlePollClose)
	s.mux.HandleFunc("POST /realtime/broadcast", s.handleBroadcast)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start runs the reaper until Stop or ctx ends
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrServerAlreadyRunning
	}
	s.running = true
	s.stop = make(chan struct{})
	go s.reap(ctx, s.stop)
	return nil
}

// Stop halts the reaper and disconnects every peer
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrServerNotRunning
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.DropAll()
	return nil
}

func (s *Server) reap(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PollWait)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-s.opts.IdleTimeout)
			for _, p := range s.registry.All() {
				if pp, ok := p.(*pollPeer); ok && pp.idleSince().Before(cutoff) {
					s.logger.Debug(module, "reaping idle polling session", map[string]interface{}{"sid": pp.ID()})
					s.drop(pp)
				}
			}
			s.limiter.Cleanup()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !types.IsValidID(userID) {
		http.Error(w, "Missing or invalid user_id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(module, "websocket upgrade failed", map[string]interface{}{"error": err})
		return
	}

	p := newWSPeer(uuid.NewString(), userID, conn)
	s.registry.Register(p)
	s.accepted.Add(1)
	s.logger.Info(module, "peer connected", map[string]interface{}{"peer": p.ID(), "user_id": userID, "transport": "websocket"})

	go s.readPeer(p)
}

func (s *Server) readPeer(p *wsPeer) {
	defer s.drop(p)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			s.logger.Debug(module, "malformed frame ignored", map[string]interface{}{"peer": p.ID()})
			continue
		}
		s.handleFrame(p, frame)
	}
}

func (s *Server) handlePollOpen(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !types.IsValidID(userID) {
		http.Error(w, "Missing or invalid user_id", http.StatusBadRequest)
		return
	}

	p := newPollPeer(uuid.NewString(), userID)
	s.registry.Register(p)
	s.accepted.Add(1)
	s.logger.Info(module, "peer connected", map[string]interface{}{"peer": p.ID(), "user_id": userID, "transport": "polling"})

	writeJSON(w, http.StatusOK, map[string]string{"sid": p.ID()})
}

func (s *Server) lookupPoll(w http.ResponseWriter, r *http.Request) (*pollPeer, bool) {
	sid := r.URL.Query().Get("sid")
	p, ok := s.registry.Get(sid)
	if !ok {
		http.Error(w, "Unknown polling session", http.StatusNotFound)
		return nil, false
	}
	pp, ok := p.(*pollPeer)
	if !ok || pp.isClosed() {
		http.Error(w, "Polling session closed", http.StatusGone)
		return nil, false
	}
	return pp, true
}

func (s *Server) handlePollReceive(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPoll(w, r)
	if !ok {
		return
	}

	frames, err := p.Take(r.Context(), s.opts.PollWait)
	if err != nil {
		if err == ErrPeerClosed {
			http.Error(w, "Polling session closed", http.StatusGone)
		}
		return
	}
	writeJSON(w, http.StatusOK, frames)
}

func (s *Server) handlePollSend(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPoll(w, r)
	if !ok {
		return
	}
	p.touch()

	var frame types.Frame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil || frame.Event == "" {
		http.Error(w, "Invalid frame", http.StatusBadRequest)
		return
	}
	if !s.handleFrame(p, frame) {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePollClose(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sid")
	if p, ok := s.registry.Get(sid); ok {
		s.drop(p)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Room == "" || req.Event == "" {
		http.Error(w, "Broadcast requires room and event", http.StatusBadRequest)
		return
	}

	delivered, err := s.Broadcast(req.Room, req.Event, req.Data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.GetStats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"peers":  stats["peers"],
		"rooms":  stats["rooms"],
	})
}

// handleFrame applies joins and records every inbound frame.
// It returns false when the peer is over its frame budget.
func (s *Server) handleFrame(p peer, frame types.Frame) bool {
	if !s.limiter.Allow(p.ID()) {
		s.logger.Warn(module, "frame dropped, peer over rate limit", map[string]interface{}{"peer": p.ID(), "event": frame.Event})
		return false
	}

	s.recvMu.Lock()
	s.received = append(s.received, frame)
	s.recvMu.Unlock()

	if frame.Event != types.EventJoinUser && frame.Event != types.EventJoinMentor {
		return true
	}

	var key string
	if err := json.Unmarshal(frame.Data, &key); err != nil || !types.IsValidID(key) {
		s.logger.Warn(module, "join ignored", map[string]interface{}{"peer": p.ID(), "error": ErrInvalidJoin})
		return true
	}
	room, _ := RoomFor(frame.Event, key)
	if s.registry.Join(p, room) {
		s.logger.Debug(module, "peer joined room", map[string]interface{}{"peer": p.ID(), "room": room})
	}
	return true
}

func (s *Server) drop(p peer) {
	p.Close()
	s.registry.Unregister(p)
	s.limiter.Forget(p.ID())
}

// Broadcast delivers event to every peer in room and returns how many
// peers accepted it
func (s *Server) Broadcast(room, event string, payload any) (int, error) {
	frame, err := types.NewFrame(event, payload)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, p := range s.registry.Members(room) {
		if err := p.Deliver(frame); err != nil {
			s.logger.Warn(module, "delivery failed", map[string]interface{}{"peer": p.ID(), "error": err})
			continue
		}
		delivered++
	}
	return delivered, nil
}

// DropAll disconnects every peer, as a network partition would
func (s *Server) DropAll() {
	for _, p := range s.registry.All() {
		s.drop(p)
	}
}

// Received returns a copy of every frame peers have sent
func (s *Server) Received() []types.Frame {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	out := make([]types.Frame, len(s.received))
	copy(out, s.received)
	return out
}

// Accepted counts connections opened over the server's lifetime
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// RoomSize is the number of peers currently in room
func (s *Server) RoomSize(room string) int {
	return len(s.registry.Members(room))
}

// WaitForRoom blocks until room holds at least n peers
func (s *Server) WaitForRoom(ctx context.Context, room string, n int) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.RoomSize(room) >= n {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
