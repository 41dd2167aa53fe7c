// internal/models/room.go
package models

import (
	"fmt"
	"time"
)

// MaxRoomCapacity is the number of members a room can hold.
const MaxRoomCapacity = 4

// JudgeCategories is the number of hit-quality buckets in a result:
// perfect, great, good, bad, miss.
const JudgeCategories = 5

// Difficulty is the chart difficulty a member plays. The ordinals are part of the wire format.
type Difficulty int

const (
	DifficultyNormal Difficulty = 1
	DifficultyHard   Difficulty = 2
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	return d == DifficultyNormal || d == DifficultyHard
}

func (d Difficulty) String() string {
	switch d {
	case DifficultyNormal:
		return "normal"
	case DifficultyHard:
		return "hard"
	}
	return fmt.Sprintf("difficulty(%d)", int(d))
}

// RoomStatus is the lifecycle state of a room. It doubles as WaitRoomStatus on the wire.
type RoomStatus int

const (
	RoomWaiting     RoomStatus = 1
	RoomLiveStarted RoomStatus = 2
	RoomDissolved   RoomStatus = 3
)

func (s RoomStatus) String() string {
	switch s {
	case RoomWaiting:
		return "waiting"
	case RoomLiveStarted:
		return "live_started"
	case RoomDissolved:
		return "dissolved"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// JoinRoomResult is the outcome of a join attempt. The ordinals are part of the wire format.
type JoinRoomResult int

const (
	JoinOk         JoinRoomResult = 1
	JoinRoomFull   JoinRoomResult = 2
	JoinDisbanded  JoinRoomResult = 3
	JoinOtherError JoinRoomResult = 4
)

func (r JoinRoomResult) String() string {
	switch r {
	case JoinOk:
		return "ok"
	case JoinRoomFull:
		return "room_full"
	case JoinDisbanded:
		return "disbanded"
	case JoinOtherError:
		return "other_error"
	}
	return fmt.Sprintf("join_result(%d)", int(r))
}

// Room represents a row in the rooms table.
type Room struct {
	ID          int64      `json:"room_id"`
	SongID      int64      `json:"live_id"`
	Status      RoomStatus `json:"status"`
	OwnerID     int64      `json:"owner_id"`
	MaxCapacity int        `json:"max_user_count"`
	CreatedAt   time.Time  `json:"created_at"`
}

// JudgeCounts holds perfect, great, good, bad and miss counts in that order.
type JudgeCounts [JudgeCategories]int64

// Result is what a member submits after finishing the live.
type Result struct {
	Score       int64       `json:"score"`
	JudgeCounts JudgeCounts `json:"judge_count_list"`
}

// Member represents a row in the room_members table.
type Member struct {
	RoomID     int64      `json:"room_id"`
	UserID     int64      `json:"user_id"`
	Seq        int64      `json:"-"` // join order within the store
	Difficulty Difficulty `json:"select_difficulty"`
	IsHost     bool       `json:"is_host"`
	Result     *Result    `json:"result,omitempty"`
	JoinedAt   time.Time  `json:"joined_at"`

	// Name and AvatarID are joined in from the user directory when listing members.
	Name     string `json:"name"`
	AvatarID int64  `json:"leader_card_id"`
}

// RoomInfo is a listing entry for a joinable room.
type RoomInfo struct {
	RoomID          int64 `json:"room_id"`
	SongID          int64 `json:"live_id"`
	JoinedUserCount int   `json:"joined_user_count"`
	MaxUserCount    int   `json:"max_user_count"`
}

// RoomUser is a member as seen by one polling user.
type RoomUser struct {
	UserID     int64      `json:"user_id"`
	Name       string     `json:"name"`
	AvatarID   int64      `json:"leader_card_id"`
	Difficulty Difficulty `json:"select_difficulty"`
	IsMe       bool       `json:"is_me"`
	IsHost     bool       `json:"is_host"`
}

// ResultUser is one member's line in the aggregated result.
type ResultUser struct {
	UserID      int64       `json:"user_id"`
	JudgeCounts JudgeCounts `json:"judge_count_list"`
	Score       int64       `json:"score"`
}
