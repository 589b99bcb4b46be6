// Package services implements the battle core: matchmaking, the bot
// fallback, the conversation session and result analysis.
// This file centralizes the service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages and response codes is performed at
// the handler layer.
package services

import "errors"

// Room lifecycle errors.
var (
	// ErrRoomNotFound indicates that the room (or the waiting room behind a
	// code) does not exist.
	ErrRoomNotFound = errors.New("room not found or already started")

	// ErrOwnRoom is returned when a participant tries to join a room they host.
	ErrOwnRoom = errors.New("cannot join your own room")

	// ErrRoomTaken is returned when another participant committed first.
	ErrRoomTaken = errors.New("room taken or gone")

	// ErrRoomNotMatched is returned for operations that need an opponent on a
	// room that is still waiting.
	ErrRoomNotMatched = errors.New("room has no opponent yet")

	// ErrRoomEnded is returned for operations that need a live room.
	ErrRoomEnded = errors.New("session already ended")

	// ErrNotHost is returned when a host-only operation is requested by
	// someone else.
	ErrNotHost = errors.New("only the host can do this")

	// ErrNotParticipant is returned when the caller is neither host nor
	// opponent of the room.
	ErrNotParticipant = errors.New("not a participant of this room")

	// ErrSelfInvite is returned when an invitation names the host as guest.
	ErrSelfInvite = errors.New("cannot invite yourself")

	// ErrInvalidTransition is returned when a status change would skip or
	// reverse a lifecycle step.
	ErrInvalidTransition = errors.New("invalid room status transition")
)

// Message errors.
var (
	// ErrEmptyMessage is returned when a message is blank after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when a message exceeds the configured
	// rune limit.
	ErrMessageTooLong = errors.New("message too long")
)
