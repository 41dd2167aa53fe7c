package models

import "time"

// RoomEventKind names a committed change to a room.
type RoomEventKind string

const (
	EventRoomCreated     RoomEventKind = "created"
	EventMemberJoined    RoomEventKind = "joined"
	EventMemberLeft      RoomEventKind = "left"
	EventHostTransferred RoomEventKind = "host_transferred"
	EventLiveStarted     RoomEventKind = "started"
	EventResultSubmitted RoomEventKind = "result_submitted"
	EventRoomDissolved   RoomEventKind = "dissolved"
)

// RoomEvent is published after the transaction that produced it commits.
type RoomEvent struct {
	RoomID int64         `json:"room_id"`
	UserID int64         `json:"user_id"`
	Kind   RoomEventKind `json:"kind"`
	At     time.Time     `json:"at"`
}
