package room

import "errors"

var (
	// ErrNoMembership is returned when an operation that requires the caller
	// to be in the room is called by someone who is not. No state changes.
	ErrNoMembership = errors.New("no such membership")

	// Store level lookups.
	ErrRoomNotFound    = errors.New("room not found")
	ErrMemberNotFound  = errors.New("member not found")
	ErrDuplicateMember = errors.New("user already a member of room")
)
