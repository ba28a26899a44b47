// Package ws implements the collaboration event channel.
//
// Each websocket connection gets a read pump, which decodes and dispatches
// frames in arrival order, and a write pump, which drains a bounded send
// buffer. Room mutations and their fan-out happen under the room's lock, so
// every member observes a room's events in the same order. A slow client
// whose buffer is full loses frames rather than stalling the room.
package ws
