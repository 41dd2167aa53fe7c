package models

// User is the identity view resolved from a bearer token.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	// AvatarID is the leader card shown next to the user in a room.
	AvatarID int64 `json:"leader_card_id"`
}
