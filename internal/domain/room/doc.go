// Package room holds the authoritative in-memory state of collaboration rooms.
//
// A room is created on first join and keeps its document, language tag,
// member roster and whiteboard log. Every mutation takes the room's own lock
// and runs caller-supplied hooks before releasing it, which gives each room a
// single total order of events without a global lock.
package room
