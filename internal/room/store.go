// internal/room/store.go
package room

import (
	"context"

	"github.com/jason-s-yu/liveroom/internal/models"
)

// TxMode selects how a store transaction is opened.
type TxMode int

const (
	// ReadWrite transactions may lock rows and write.
	ReadWrite TxMode = iota
	// ReadOnly transactions see one consistent snapshot and never write.
	ReadOnly
)

// Store opens transactions against the room and membership tables.
//
// WithTx runs fn inside exactly one transaction. If fn returns an error the
// transaction is rolled back and the error is returned unchanged; otherwise it
// is committed. Implementations may re-run fn when the commit loses a
// serialization race, so fn must not keep side effects outside tx.
type Store interface {
	WithTx(ctx context.Context, mode TxMode, fn func(tx Tx) error) error
}

// Tx is the set of row operations the engine needs inside one transaction.
type Tx interface {
	// InsertRoom creates a Waiting room owned by ownerID.
	InsertRoom(ctx context.Context, songID, ownerID int64, capacity int) (*models.Room, error)
	// GetRoom reads a room without locking it. Returns ErrRoomNotFound.
	GetRoom(ctx context.Context, roomID int64) (*models.Room, error)
	// LockRoom reads a room and holds an exclusive lock on its row until the
	// transaction ends. Locking a row already held by tx is a no-op. Returns ErrRoomNotFound.
	LockRoom(ctx context.Context, roomID int64) (*models.Room, error)
	SetRoomStatus(ctx context.Context, roomID int64, status models.RoomStatus) error
	SetRoomOwner(ctx context.Context, roomID, ownerID int64) error
	// ListJoinableRooms returns Waiting rooms below capacity; songID 0 matches every song.
	ListJoinableRooms(ctx context.Context, songID int64) ([]models.RoomInfo, error)

	CountMembers(ctx context.Context, roomID int64) (int, error)
	// ListMembers returns the members of a room in join order.
	ListMembers(ctx context.Context, roomID int64) ([]models.Member, error)
	// GetMember returns ErrMemberNotFound when userID has no membership in roomID.
	GetMember(ctx context.Context, roomID, userID int64) (*models.Member, error)
	// ActiveRoomsOf returns the ids of non-dissolved rooms userID is a member of.
	ActiveRoomsOf(ctx context.Context, userID int64) ([]int64, error)
	// InsertMember returns ErrDuplicateMember if the pair already exists.
	InsertMember(ctx context.Context, m *models.Member) error
	DeleteMember(ctx context.Context, roomID, userID int64) error
	SetHost(ctx context.Context, roomID, userID int64, isHost bool) error
	// SetResult stores r only if the membership has no result yet and reports whether it did.
	SetResult(ctx context.Context, roomID, userID int64, r models.Result) (bool, error)
}
