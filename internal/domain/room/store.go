package room

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// DefaultWhiteboardLimit caps stored whiteboard operations per room.
const DefaultWhiteboardLimit = 5000

// Options configures a Store.
type Options struct {
	DefaultLanguage Language
	WhiteboardLimit int
	Observer        Observer
	Now             func() time.Time
}

// Store is the in-memory registry of rooms.
//
// The map lock only guards membership of the map itself. Each room carries
// its own lock so unrelated rooms never contend. When both are needed the
// map lock is taken first.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*entry

	language Language
	limit    int
	observer Observer
	now      func() time.Time
}

type entry struct {
	mu         sync.Mutex
	id         string
	document   string
	language   Language
	members    map[string]Member
	order      []string
	whiteboard []DrawOp
	created    time.Time
	activity   time.Time
	evicted    bool
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if _, ok := ParseLanguage(string(opts.DefaultLanguage)); !ok {
		opts.DefaultLanguage = Java
	}
	if opts.WhiteboardLimit <= 0 {
		opts.WhiteboardLimit = DefaultWhiteboardLimit
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		rooms:    make(map[string]*entry),
		language: opts.DefaultLanguage,
		limit:    opts.WhiteboardLimit,
		observer: opts.Observer,
		now:      opts.Now,
	}
}

// NormalizeID canonicalises a client-supplied room id.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// GetOrCreate returns the room with the given id, creating it with the
// default document and language if absent. Concurrent callers for the same
// new id observe exactly one creation.
func (s *Store) GetOrCreate(id string) (Snapshot, bool) {
	e, created := s.acquire(id)
	defer e.mu.Unlock()
	return e.snapshot(true), created
}

// AddMember inserts or overwrites a member keyed by connection id, creating
// the room if needed. Hooks observe the full snapshot including whiteboard.
func (s *Store) AddMember(id string, m Member, hooks ...Hook) (Snapshot, bool) {
	e, created := s.acquire(id)
	defer e.mu.Unlock()

	if m.JoinedAt.IsZero() {
		m.JoinedAt = s.now()
	}
	if prev, ok := e.members[m.ConnectionID]; ok {
		m.JoinedAt = prev.JoinedAt
	} else {
		e.order = append(e.order, m.ConnectionID)
		s.observer.MemberJoined()
	}
	e.members[m.ConnectionID] = m
	e.activity = s.now()

	snap := e.snapshot(true)
	run(hooks, snap)
	return snap, created
}

// RemoveMember deletes a member. Missing rooms and unknown connections are
// reported with removed=false and are not errors.
func (s *Store) RemoveMember(id, connID string, hooks ...DepartureHook) (Member, bool, int) {
	e := s.lookup(id)
	if e == nil {
		return Member{}, false, 0
	}
	defer e.mu.Unlock()

	d, ok := s.removeLocked(e, connID)
	if !ok {
		return Member{}, false, len(e.members)
	}
	snap := e.snapshot(false)
	for _, h := range hooks {
		if h != nil {
			h(d, snap)
		}
	}
	return d.Member, true, d.Remaining
}

// IsMember reports whether the connection currently belongs to the room.
func (s *Store) IsMember(id, connID string) bool {
	e := s.lookup(id)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()
	_, ok := e.members[connID]
	return ok
}

// RemoveConnection removes a connection from every room it belongs to. The
// hook runs once per departure under that room's lock.
func (s *Store) RemoveConnection(connID string, hook DepartureHook) []Departure {
	var out []Departure
	for _, id := range s.ids() {
		e := s.lookup(id)
		if e == nil {
			continue
		}
		if d, ok := s.removeLocked(e, connID); ok {
			if hook != nil {
				hook(d, e.snapshot(false))
			}
			out = append(out, d)
		}
		e.mu.Unlock()
	}
	return out
}

func (s *Store) removeLocked(e *entry, connID string) (Departure, bool) {
	m, ok := e.members[connID]
	if !ok {
		return Departure{}, false
	}
	delete(e.members, connID)
	e.order = lo.Without(e.order, connID)
	e.activity = s.now()
	s.observer.MemberLeft()
	return Departure{RoomID: e.id, Member: m, Remaining: len(e.members)}, true
}

// SetDocument replaces the room's document. Concurrent writers resolve as
// last-writer-wins in lock order.
func (s *Store) SetDocument(id, text string, hooks ...Hook) bool {
	return s.mutate(id, func(e *entry) {
		e.document = text
	}, hooks)
}

// SetLanguage changes the room's language tag.
func (s *Store) SetLanguage(id string, lang Language, hooks ...Hook) bool {
	return s.mutate(id, func(e *entry) {
		e.language = lang
	}, hooks)
}

// AppendDrawOp records a whiteboard operation, discarding the oldest once the
// configured limit is reached.
func (s *Store) AppendDrawOp(id string, op DrawOp, hooks ...Hook) bool {
	return s.mutate(id, func(e *entry) {
		e.whiteboard = append(e.whiteboard, op)
		if over := len(e.whiteboard) - s.limit; over > 0 {
			e.whiteboard = append(e.whiteboard[:0:0], e.whiteboard[over:]...)
		}
	}, hooks)
}

// ClearWhiteboard drops every stored whiteboard operation.
func (s *Store) ClearWhiteboard(id string, hooks ...Hook) bool {
	return s.mutate(id, func(e *entry) {
		e.whiteboard = nil
	}, hooks)
}

// Sequence runs hook under the room lock without mutating the room, so that
// ephemeral events are ordered with the room's other events.
func (s *Store) Sequence(id string, hook Hook) bool {
	e := s.lookup(id)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()
	hook(e.snapshot(false))
	return true
}

// Snapshot returns a full copy of the room.
func (s *Store) Snapshot(id string) (Snapshot, bool) {
	e := s.lookup(id)
	if e == nil {
		return Snapshot{}, false
	}
	defer e.mu.Unlock()
	return e.snapshot(true), true
}

// List summarises every room ordered by id.
func (s *Store) List() []Summary {
	ids := s.ids()
	sort.Strings(ids)

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		e := s.lookup(id)
		if e == nil {
			continue
		}
		out = append(out, Summary{
			ID:             e.id,
			Language:       e.language,
			Members:        len(e.members),
			State:          e.state(),
			CreatedAt:      e.created,
			LastActivityAt: e.activity,
		})
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of rooms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// SweepEmpty deletes the room if it still has no members. It reports whether
// the room was removed.
func (s *Store) SweepEmpty(id string) bool {
	id = NormalizeID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rooms[id]
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.members) > 0 {
		return false
	}
	e.evicted = true
	delete(s.rooms, id)
	s.observer.RoomEvicted()
	return true
}

// acquire returns the room locked, creating it if necessary. A room swept
// between lookup and lock is replaced by a fresh one.
func (s *Store) acquire(id string) (*entry, bool) {
	id = NormalizeID(id)
	for {
		s.mu.RLock()
		e, ok := s.rooms[id]
		s.mu.RUnlock()

		created := false
		if !ok {
			s.mu.Lock()
			if e, ok = s.rooms[id]; !ok {
				e = s.newEntry(id)
				s.rooms[id] = e
				created = true
				s.observer.RoomCreated()
			}
			s.mu.Unlock()
		}

		e.mu.Lock()
		if !e.evicted {
			return e, created
		}
		e.mu.Unlock()
	}
}

// lookup returns the room locked, or nil if it does not exist.
func (s *Store) lookup(id string) *entry {
	id = NormalizeID(id)

	s.mu.RLock()
	e, ok := s.rooms[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	if e.evicted {
		e.mu.Unlock()
		return nil
	}
	return e
}

func (s *Store) mutate(id string, fn func(*entry), hooks []Hook) bool {
	e := s.lookup(id)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()

	fn(e)
	e.activity = s.now()
	run(hooks, e.snapshot(false))
	return true
}

func (s *Store) ids() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Keys(s.rooms)
}

func (s *Store) newEntry(id string) *entry {
	now := s.now()
	return &entry{
		id:       id,
		document: Template(s.language),
		language: s.language,
		members:  make(map[string]Member),
		created:  now,
		activity: now,
	}
}

func (e *entry) state() State {
	if len(e.members) == 0 {
		return StateDraining
	}
	return StateActive
}

func (e *entry) snapshot(withBoard bool) Snapshot {
	snap := Snapshot{
		ID:             e.id,
		Document:       e.document,
		Language:       e.language,
		Members:        lo.Map(e.order, func(c string, _ int) Member { return e.members[c] }),
		State:          e.state(),
		CreatedAt:      e.created,
		LastActivityAt: e.activity,
	}
	if withBoard {
		snap.Whiteboard = make([]DrawOp, len(e.whiteboard))
		copy(snap.Whiteboard, e.whiteboard)
	}
	return snap
}

func run(hooks []Hook, snap Snapshot) {
	for _, h := range hooks {
		if h != nil {
			h(snap)
		}
	}
}
