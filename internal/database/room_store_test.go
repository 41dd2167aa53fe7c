package database_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/liveroom/internal/auth"
	"github.com/jason-s-yu/liveroom/internal/database"
	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/jason-s-yu/liveroom/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPostgres runs every store test against one container.
func TestPostgres(t *testing.T) {
	pool, dsn := testutil.Postgres(t)
	logger := testutil.QuietLogger()
	users := database.NewUserStore(pool)
	engine := room.NewEngine(database.NewRoomStore(pool, 5, logger), logger)
	ctx := context.Background()

	newUser := func(t *testing.T, name string) int64 {
		t.Helper()
		u := &models.User{Name: name, AvatarID: 11}
		require.NoError(t, users.CreateUser(ctx, u))
		return u.ID
	}

	t.Run("migrations are idempotent", func(t *testing.T) {
		require.NoError(t, database.Migrate(dsn, logger))
	})

	t.Run("user directory", func(t *testing.T) {
		u := &models.User{Name: "alice", AvatarID: 1}
		require.NoError(t, users.CreateUser(ctx, u))
		require.Positive(t, u.ID)

		require.NoError(t, users.UpdateUser(ctx, &models.User{ID: u.ID, Name: "alicia", AvatarID: 2}))
		got, err := users.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, &models.User{ID: u.ID, Name: "alicia", AvatarID: 2}, got)

		_, err = users.GetUserByID(ctx, -1)
		assert.ErrorIs(t, err, auth.ErrUserNotFound)
		assert.ErrorIs(t, users.UpdateUser(ctx, &models.User{ID: -1}), auth.ErrUserNotFound)
	})

	t.Run("concurrent joins never exceed capacity", func(t *testing.T) {
		owner := newUser(t, "owner")
		roomID, err := engine.CreateRoom(ctx, owner, 1001, models.DifficultyNormal)
		require.NoError(t, err)

		const joiners = 12
		ids := make([]int64, joiners)
		for i := range ids {
			ids[i] = newUser(t, "joiner")
		}

		results := make([]models.JoinRoomResult, joiners)
		var wg sync.WaitGroup
		for i, id := range ids {
			wg.Add(1)
			go func(i int, id int64) {
				defer wg.Done()
				res, err := engine.JoinRoom(ctx, id, roomID, models.DifficultyHard)
				assert.NoError(t, err)
				results[i] = res
			}(i, id)
		}
		wg.Wait()

		ok := 0
		for _, r := range results {
			if r == models.JoinOk {
				ok++
			} else {
				assert.Equal(t, models.JoinRoomFull, r)
			}
		}
		assert.Equal(t, models.MaxRoomCapacity-1, ok)

		_, members, err := engine.WaitRoom(ctx, owner, roomID)
		require.NoError(t, err)
		assert.Len(t, members, models.MaxRoomCapacity)
	})

	t.Run("full live scenario", func(t *testing.T) {
		a, b, c, d := newUser(t, "a"), newUser(t, "b"), newUser(t, "c"), newUser(t, "d")
		roomID, err := engine.CreateRoom(ctx, a, 1002, models.DifficultyNormal)
		require.NoError(t, err)
		for _, u := range []int64{b, c} {
			res, err := engine.JoinRoom(ctx, u, roomID, models.DifficultyNormal)
			require.NoError(t, err)
			require.Equal(t, models.JoinOk, res)
		}

		res, err := engine.JoinRoom(ctx, b, roomID, models.DifficultyNormal)
		require.NoError(t, err)
		assert.Equal(t, models.JoinOtherError, res)

		started, err := engine.StartRoom(ctx, b, roomID)
		require.NoError(t, err)
		assert.False(t, started)
		started, err = engine.StartRoom(ctx, a, roomID)
		require.NoError(t, err)
		assert.True(t, started)

		status, members, err := engine.WaitRoom(ctx, c, roomID)
		require.NoError(t, err)
		assert.Equal(t, models.RoomLiveStarted, status)
		require.Len(t, members, 3)
		assert.Equal(t, "a", members[0].Name)
		assert.Equal(t, int64(11), members[0].AvatarID)
		assert.True(t, members[2].IsMe)

		for i, u := range []int64{a, b} {
			ok, err := engine.SubmitResult(ctx, u, roomID, models.Result{Score: int64(100 * (i + 1)), JudgeCounts: models.JudgeCounts{1, 2, 3, 4, 5}})
			require.NoError(t, err)
			assert.True(t, ok)
		}
		ok, err := engine.SubmitResult(ctx, a, roomID, models.Result{Score: 999})
		require.NoError(t, err)
		assert.False(t, ok)

		results, err := engine.AggregateResult(ctx, roomID)
		require.NoError(t, err)
		assert.Empty(t, results)

		ok, err = engine.SubmitResult(ctx, c, roomID, models.Result{Score: 300, JudgeCounts: models.JudgeCounts{5, 4, 3, 2, 1}})
		require.NoError(t, err)
		assert.True(t, ok)

		results, err = engine.AggregateResult(ctx, roomID)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, []int64{a, b, c}, []int64{results[0].UserID, results[1].UserID, results[2].UserID})
		assert.Equal(t, int64(100), results[0].Score)
		assert.Equal(t, models.JudgeCounts{5, 4, 3, 2, 1}, results[2].JudgeCounts)

		again, err := engine.AggregateResult(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, results, again)

		status, members, err = engine.WaitRoom(ctx, a, roomID)
		require.NoError(t, err)
		assert.Equal(t, models.RoomDissolved, status)
		assert.Empty(t, members)

		res, err = engine.JoinRoom(ctx, d, roomID, models.DifficultyNormal)
		require.NoError(t, err)
		assert.Equal(t, models.JoinDisbanded, res)
	})

	t.Run("host transfer and eviction", func(t *testing.T) {
		a, b, c := newUser(t, "a"), newUser(t, "b"), newUser(t, "c")
		first, err := engine.CreateRoom(ctx, a, 1003, models.DifficultyNormal)
		require.NoError(t, err)
		for _, u := range []int64{b, c} {
			res, err := engine.JoinRoom(ctx, u, first, models.DifficultyNormal)
			require.NoError(t, err)
			require.Equal(t, models.JoinOk, res)
		}

		// a's new room takes a out of the first; b joined before c
		second, err := engine.CreateRoom(ctx, a, 1003, models.DifficultyHard)
		require.NoError(t, err)
		_, members, err := engine.WaitRoom(ctx, c, first)
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, b, members[0].UserID)
		assert.True(t, members[0].IsHost)
		assert.False(t, members[1].IsHost)

		assert.ErrorIs(t, engine.LeaveRoom(ctx, a, first), room.ErrNoMembership)

		require.NoError(t, engine.LeaveRoom(ctx, b, first))
		require.NoError(t, engine.LeaveRoom(ctx, c, first))
		status, _, err := engine.WaitRoom(ctx, c, first)
		require.NoError(t, err)
		assert.Equal(t, models.RoomDissolved, status)

		rooms, err := engine.ListRooms(ctx, 1003)
		require.NoError(t, err)
		require.Len(t, rooms, 1)
		assert.Equal(t, models.RoomInfo{RoomID: second, SongID: 1003, JoinedUserCount: 1, MaxUserCount: models.MaxRoomCapacity}, rooms[0])
	})

	t.Run("cross joins do not deadlock", func(t *testing.T) {
		a, b := newUser(t, "a"), newUser(t, "b")
		roomA, err := engine.CreateRoom(ctx, a, 1004, models.DifficultyNormal)
		require.NoError(t, err)
		roomB, err := engine.CreateRoom(ctx, b, 1004, models.DifficultyNormal)
		require.NoError(t, err)

		tctx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := engine.JoinRoom(tctx, a, roomB, models.DifficultyNormal)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := engine.JoinRoom(tctx, b, roomA, models.DifficultyNormal)
			assert.NoError(t, err)
		}()
		wg.Wait()

		// every surviving room still has exactly one host
		for _, id := range []int64{roomA, roomB} {
			status, members, err := engine.WaitRoom(ctx, a, id)
			require.NoError(t, err)
			if status == models.RoomDissolved {
				continue
			}
			hosts := 0
			for _, m := range members {
				if m.IsHost {
					hosts++
				}
			}
			assert.Equal(t, 1, hosts, "room %d", id)
		}
	})

	t.Run("event store", func(t *testing.T) {
		events := database.NewEventStore(pool)
		batch := uuid.New()
		now := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, events.InsertRoomEvents(ctx, batch, []models.RoomEvent{
			{RoomID: 77, UserID: 1, Kind: models.EventRoomCreated, At: now},
			{RoomID: 77, Kind: models.EventRoomDissolved, At: now},
		}))

		var total, nullUsers int
		err := pool.QueryRow(ctx,
			`SELECT COUNT(*), COUNT(*) FILTER (WHERE user_id IS NULL) FROM room_events WHERE batch_id = $1`, batch,
		).Scan(&total, &nullUsers)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Equal(t, 1, nullUsers)
	})
}
