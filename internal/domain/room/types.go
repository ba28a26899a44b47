package room

import (
	"encoding/json"
	"time"
)

// Member is one connection's presence inside a room.
type Member struct {
	ConnectionID string
	UserID       string
	DisplayName  string
	ColorTag     string
	JoinedAt     time.Time
}

// State describes where a room is in its lifecycle.
type State string

const (
	// StateActive means at least one member is present.
	StateActive State = "active"
	// StateDraining means the room is empty and awaiting eviction.
	StateDraining State = "draining"
)

// DrawOp is an opaque whiteboard operation stored as the client sent it.
type DrawOp = json.RawMessage

// Snapshot is an immutable copy of a room taken under its lock.
type Snapshot struct {
	ID             string
	Document       string
	Language       Language
	Members        []Member
	Whiteboard     []DrawOp
	State          State
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Owner returns the earliest member still present.
func (s Snapshot) Owner() (Member, bool) {
	if len(s.Members) == 0 {
		return Member{}, false
	}
	return s.Members[0], true
}

// Member looks up a member by connection id.
func (s Snapshot) Member(connID string) (Member, bool) {
	for _, m := range s.Members {
		if m.ConnectionID == connID {
			return m, true
		}
	}
	return Member{}, false
}

// Departure records a member leaving a room.
type Departure struct {
	RoomID    string
	Member    Member
	Remaining int
}

// Summary is the listing view of a room.
type Summary struct {
	ID             string    `json:"roomId"`
	Language       Language  `json:"language"`
	Members        int       `json:"userCount"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Hook observes a room right after a mutation, while the room is still locked.
// Hooks run in mutation order for a given room. They must not call back into
// the Store for the same room.
type Hook func(Snapshot)

// DepartureHook observes a member leaving, under the room lock, with the
// snapshot taken after removal.
type DepartureHook func(Departure, Snapshot)

// Observer receives room population changes, typically for metrics.
type Observer interface {
	RoomCreated()
	RoomEvicted()
	MemberJoined()
	MemberLeft()
}

type nopObserver struct{}

func (nopObserver) RoomCreated()  {}
func (nopObserver) RoomEvicted()  {}
func (nopObserver) MemberJoined() {}
func (nopObserver) MemberLeft()   {}
