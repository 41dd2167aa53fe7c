package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jason-s-yu/liveroom/internal/auth"
	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailedTransactionRollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()

	var roomID int64
	require.NoError(t, s.WithTx(ctx, room.ReadWrite, func(tx room.Tx) error {
		r, err := tx.InsertRoom(ctx, 5, 1, 4)
		if err != nil {
			return err
		}
		roomID = r.ID
		return tx.InsertMember(ctx, &models.Member{RoomID: r.ID, UserID: 1, Difficulty: models.DifficultyNormal, IsHost: true})
	}))

	boom := errors.New("boom")
	err := s.WithTx(ctx, room.ReadWrite, func(tx room.Tx) error {
		if _, err := tx.LockRoom(ctx, roomID); err != nil {
			return err
		}
		if err := tx.InsertMember(ctx, &models.Member{RoomID: roomID, UserID: 2}); err != nil {
			return err
		}
		if err := tx.SetHost(ctx, roomID, 1, false); err != nil {
			return err
		}
		if err := tx.SetRoomStatus(ctx, roomID, models.RoomLiveStarted); err != nil {
			return err
		}
		if err := tx.DeleteMember(ctx, roomID, 1); err != nil {
			return err
		}
		if _, err := tx.InsertRoom(ctx, 6, 2, 4); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.WithTx(ctx, room.ReadOnly, func(tx room.Tx) error {
		r, err := tx.GetRoom(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, models.RoomWaiting, r.Status)

		members, err := tx.ListMembers(ctx, roomID)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, int64(1), members[0].UserID)
		assert.True(t, members[0].IsHost)

		_, err = tx.GetRoom(ctx, roomID+1)
		assert.ErrorIs(t, err, room.ErrRoomNotFound)
		return nil
	}))
}

func TestLockRoomIsExclusive(t *testing.T) {
	s := New()
	ctx := context.Background()

	var roomID int64
	require.NoError(t, s.WithTx(ctx, room.ReadWrite, func(tx room.Tx) error {
		r, err := tx.InsertRoom(ctx, 1, 1, 4)
		roomID = r.ID
		return err
	}))

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, room.ReadWrite, func(tx room.Tx) error {
			if _, err := tx.LockRoom(ctx, roomID); err != nil {
				return err
			}
			// reentrant within the same transaction
			if _, err := tx.LockRoom(ctx, roomID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := s.WithTx(short, room.ReadWrite, func(tx room.Tx) error {
		_, err := tx.LockRoom(short, roomID)
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)

	require.NoError(t, s.WithTx(ctx, room.ReadWrite, func(tx room.Tx) error {
		_, err := tx.LockRoom(ctx, roomID)
		return err
	}))
}

func TestSetResultOnlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, room.ReadWrite, func(tx room.Tx) error {
		r, err := tx.InsertRoom(ctx, 1, 1, 4)
		if err != nil {
			return err
		}
		require.NoError(t, tx.InsertMember(ctx, &models.Member{RoomID: r.ID, UserID: 1}))
		assert.ErrorIs(t, tx.InsertMember(ctx, &models.Member{RoomID: r.ID, UserID: 1}), room.ErrDuplicateMember)

		ok, err := tx.SetResult(ctx, r.ID, 1, models.Result{Score: 1})
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = tx.SetResult(ctx, r.ID, 1, models.Result{Score: 2})
		require.NoError(t, err)
		assert.False(t, ok)

		m, err := tx.GetMember(ctx, r.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), m.Result.Score)
		return nil
	}))
}

func TestUserDirectory(t *testing.T) {
	s := New()
	ctx := context.Background()

	u := &models.User{Name: "alice", AvatarID: 3}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.Equal(t, int64(1), u.ID)

	require.NoError(t, s.UpdateUser(ctx, &models.User{ID: u.ID, Name: "alicia", AvatarID: 4}))
	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, &models.User{ID: u.ID, Name: "alicia", AvatarID: 4}, got)

	_, err = s.GetUserByID(ctx, 99)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
	assert.ErrorIs(t, s.UpdateUser(ctx, &models.User{ID: 99}), auth.ErrUserNotFound)
}
