// Package lifecycle evicts rooms that stay empty for a grace period.
//
// A room whose last member leaves enters the draining phase and gets one
// eviction timer. A join before the deadline cancels it. When the timer
// fires the room is removed only if it is still empty at that moment.
package lifecycle
