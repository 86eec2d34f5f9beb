package doubts

import (
	"sync"

	"doubtdesk/internal/logger"
	"doubtdesk/pkg/types"
)

const module = "doubts"

// LoadState tracks the initial fetch that fills the collection
type LoadState string

const (
	LoadIdle    LoadState = "idle"
	LoadLoading LoadState = "loading"
	LoadReady   LoadState = "ready"
	LoadFailed  LoadState = "failed"
)

// ViewState is what a screen should render for the collection
type ViewState string

const (
	ViewLoading ViewState = "loading"
	ViewEmpty   ViewState = "empty"
	ViewReady   ViewState = "ready"
	ViewFailed  ViewState = "failed"
)

// Snapshot is a copy of the collection and its load state
type Snapshot struct {
	Doubts   []types.Doubt
	Load     LoadState
	LoadErr  error
	Revision uint64
}

// View derives the render state from the load state and the collection size
func (s Snapshot) View() ViewState {
	switch s.Load {
	case LoadFailed:
		if len(s.Doubts) == 0 {
			return ViewFailed
		}
	case LoadIdle, LoadLoading:
		if len(s.Doubts) == 0 {
			return ViewLoading
		}
	}
	if len(s.Doubts) == 0 {
		return ViewEmpty
	}
	return ViewReady
}

// Store is the ordered doubt collection shared by views.
// ARCHITECTURAL DISCOVERY: ids are unique at all times; every mutation
// keeps order and index in step under one lock.
type Store struct {
	logger logger.ILogger

	mu       sync.RWMutex
	order    []string
	byID     map[string]*types.Doubt
	touched  map[string]uint64 // id -> revision of its last Prepend/Patch
	removed  map[string]uint64 // id -> revision of its Remove
	revision uint64
	load     LoadState
	loadErr  error

	listenerMu sync.Mutex
	listeners  map[uint64]func(Snapshot)
	nextID     uint64
}

// NewStore creates an empty collection in the idle load state
func NewStore(log logger.ILogger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		logger:    log,
		byID:      make(map[string]*types.Doubt),
		touched:   make(map[string]uint64),
		removed:   make(map[string]uint64),
		load:      LoadIdle,
		listeners: make(map[uint64]func(Snapshot)),
	}
}

// ReplaceAll makes the collection exactly list, in list order.
// Duplicate ids inside list collapse to their first occurrence.
func (s *Store) ReplaceAll(list []types.Doubt) {
	s.mu.Lock()
	s.replaceLocked(list)
	s.touched = make(map[string]uint64)
	s.removed = make(map[string]uint64)
	s.revision++
	s.load = LoadReady
	s.loadErr = nil
	s.mu.Unlock()
	s.notify()
}

// Reset empties the collection and returns it to the idle load state
func (s *Store) Reset() {
	s.mu.Lock()
	s.order = nil
	s.byID = make(map[string]*types.Doubt)
	s.touched = make(map[string]uint64)
	s.removed = make(map[string]uint64)
	s.revision++
	s.load = LoadIdle
	s.loadErr = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Store) replaceLocked(list []types.Doubt) {
	s.order = make([]string, 0, len(list))
	s.byID = make(map[string]*types.Doubt, len(list))
	for i := range list {
		d := list[i]
		if d.ID == "" {
			continue
		}
		if _, dup := s.byID[d.ID]; dup {
			s.logger.Debug(module, "duplicate id dropped from list", map[string]interface{}{"doubt_id": d.ID})
			continue
		}
		s.byID[d.ID] = cloneDoubt(&d)
		s.order = append(s.order, d.ID)
	}
}

// Prepend inserts doubt at the front. A doubt already held is patched
// with the incoming fields and moved to the front instead.
func (s *Store) Prepend(doubt types.Doubt) {
	if doubt.ID == "" {
		return
	}

	s.mu.Lock()
	if existing, ok := s.byID[doubt.ID]; ok {
		applyPatch(existing, doubt.AsPatch())
		s.moveToFrontLocked(doubt.ID)
	} else {
		s.byID[doubt.ID] = cloneDoubt(&doubt)
		s.order = append([]string{doubt.ID}, s.order...)
	}
	s.revision++
	s.touched[doubt.ID] = s.revision
	delete(s.removed, doubt.ID)
	s.mu.Unlock()
	s.notify()
}

// Patch merges fields into the matching doubt without reordering.
// Unknown ids are ignored. Status only moves along allowed transitions.
func (s *Store) Patch(id string, patch types.DoubtPatch) bool {
	s.mu.Lock()
	existing, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	applyPatch(existing, patch)
	s.revision++
	s.touched[id] = s.revision
	s.mu.Unlock()
	s.notify()
	return true
}

// Remove deletes the doubt with id; unknown ids are ignored
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.byID, id)
	delete(s.touched, id)
	for i, cur := range s.order {
		if cur == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.revision++
	s.removed[id] = s.revision
	s.mu.Unlock()
	s.notify()
	return true
}

// Reconcile installs a fetched list that was requested at sinceRevision.
// The list replaces the collection, except that changes made after
// sinceRevision survive: pushed doubts missing from list stay at the front,
// pushed doubts also in list are merged as a patch unless the fetched copy
// is further along, and removed doubts stay removed.
func (s *Store) Reconcile(list []types.Doubt, sinceRevision uint64) {
	s.mu.Lock()

	if len(s.removed) > 0 {
		kept := make([]types.Doubt, 0, len(list))
		for _, d := range list {
			if rev, gone := s.removed[d.ID]; gone && rev > sinceRevision {
				continue
			}
			kept = append(kept, d)
		}
		list = kept
	}

	var pushedOrder []string
	pushed := make(map[string]*types.Doubt)
	for _, id := range s.order {
		if rev, ok := s.touched[id]; ok && rev > sinceRevision {
			pushedOrder = append(pushedOrder, id)
			pushed[id] = cloneDoubt(s.byID[id])
		}
	}

	s.replaceLocked(list)

	var front []string
	for _, id := range pushedOrder {
		held := pushed[id]
		fetched, inList := s.byID[id]
		if !inList {
			s.byID[id] = held
			front = append(front, id)
			continue
		}
		if held.Status == "" || types.CanTransition(fetched.Status, held.Status) {
			applyPatch(fetched, held.AsPatch())
		}
	}
	if len(front) > 0 {
		s.order = append(front, s.order...)
	}

	next := make(map[string]uint64, len(pushedOrder))
	for _, id := range pushedOrder {
		next[id] = s.touched[id]
	}
	s.touched = next
	tombstones := make(map[string]uint64, len(s.removed))
	for id, rev := range s.removed {
		if rev > sinceRevision {
			tombstones[id] = rev
		}
	}
	s.removed = tombstones
	s.revision++
	s.load = LoadReady
	s.loadErr = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Store) moveToFrontLocked(id string) {
	for i, cur := range s.order {
		if cur == id {
			copy(s.order[1:i+1], s.order[:i])
			s.order[0] = id
			return
		}
	}
}

// BeginLoad marks a fetch as in flight and returns the revision to pass
// to Reconcile when it completes
func (s *Store) BeginLoad() uint64 {
	s.mu.Lock()
	s.load = LoadLoading
	s.loadErr = nil
	rev := s.revision
	s.mu.Unlock()
	s.notify()
	return rev
}

// MarkReady settles the load state for views that have no initial fetch
func (s *Store) MarkReady() {
	s.mu.Lock()
	if s.load == LoadReady {
		s.mu.Unlock()
		return
	}
	s.load = LoadReady
	s.loadErr = nil
	s.mu.Unlock()
	s.notify()
}

// FailLoad records a failed fetch; held doubts are kept
func (s *Store) FailLoad(err error) {
	s.mu.Lock()
	s.load = LoadFailed
	s.loadErr = err
	s.mu.Unlock()
	s.notify()
}

// Revision increases on every mutation of the collection
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Get returns a copy of the doubt with id
func (s *Store) Get(id string) (types.Doubt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	if !ok {
		return types.Doubt{}, false
	}
	return *cloneDoubt(d), true
}

// Len is the number of held doubts
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Snapshot copies the collection in order together with its load state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Doubt, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *cloneDoubt(s.byID[id]))
	}
	return Snapshot{Doubts: out, Load: s.load, LoadErr: s.loadErr, Revision: s.revision}
}

// OnChange registers fn to run after every mutation; call the result to stop
func (s *Store) OnChange(fn func(Snapshot)) func() {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Store) notify() {
	s.listenerMu.Lock()
	if len(s.listeners) == 0 {
		s.listenerMu.Unlock()
		return
	}
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()

	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// applyPatch merges p into d. A status that cannot be reached from the
// current one is dropped; the remaining fields still apply.
func applyPatch(d *types.Doubt, p types.DoubtPatch) {
	if p.QuestionText != nil {
		d.QuestionText = *p.QuestionText
	}
	if p.ImageURL != nil {
		d.ImageURL = *p.ImageURL
	}
	if p.Subject != nil {
		d.Subject = *p.Subject
	}
	if p.Answer != nil {
		d.Answer = *p.Answer
	}
	if p.Confidence != nil && types.ValidConfidence(*p.Confidence) {
		c := *p.Confidence
		d.Confidence = &c
	}
	if p.Status != nil && types.CanTransition(d.Status, *p.Status) {
		d.Status = *p.Status
	}
	if p.StudentID != nil {
		d.StudentID = *p.StudentID
	}
	if p.StudentName != nil {
		d.StudentName = *p.StudentName
	}
	if p.MentorID != nil {
		d.MentorID = *p.MentorID
	}
	if p.EscalationReason != nil {
		d.EscalationReason = *p.EscalationReason
	}
	if p.UpdatedAt != nil {
		t := *p.UpdatedAt
		d.UpdatedAt = &t
	}
}

func cloneDoubt(d *types.Doubt) *types.Doubt {
	c := *d
	if d.Confidence != nil {
		v := *d.Confidence
		c.Confidence = &v
	}
	if d.UpdatedAt != nil {
		t := *d.UpdatedAt
		c.UpdatedAt = &t
	}
	return &c
}
