// internal/database/room_store.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/sirupsen/logrus"
)

// SQLSTATE codes a transaction may be re-run for.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// RoomStore implements room.Store on Postgres. Row locks are taken with
// SELECT ... FOR UPDATE on the rooms table.
type RoomStore struct {
	pool        *pgxpool.Pool
	maxAttempts int
	logger      logrus.FieldLogger
}

// NewRoomStore returns a store that runs each transaction up to maxAttempts
// times when Postgres aborts it for a serialization failure or deadlock.
func NewRoomStore(pool *pgxpool.Pool, maxAttempts int, logger logrus.FieldLogger) *RoomStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RoomStore{pool: pool, maxAttempts: maxAttempts, logger: logger}
}

// WithTx implements room.Store.
func (s *RoomStore) WithTx(ctx context.Context, mode room.TxMode, fn func(tx room.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	if mode == room.ReadOnly {
		opts = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	}

	for attempt := 1; ; attempt++ {
		err := pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
			return fn(&pgTx{tx: tx})
		})
		if err == nil || !isRetryable(err) || attempt >= s.maxAttempts {
			return err
		}
		s.logger.WithError(err).WithField("attempt", attempt).Warn("retrying aborted transaction")
	}
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

type pgTx struct {
	tx pgx.Tx
}

const roomColumns = `id, live_id, status, owner_id, max_user_count, created_at`

func scanRoom(row pgx.Row) (*models.Room, error) {
	var r models.Room
	var status int16
	err := row.Scan(&r.ID, &r.SongID, &status, &r.OwnerID, &r.MaxCapacity, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, room.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = models.RoomStatus(status)
	return &r, nil
}

func (t *pgTx) InsertRoom(ctx context.Context, songID, ownerID int64, capacity int) (*models.Room, error) {
	q := `
		INSERT INTO rooms (live_id, owner_id, max_user_count)
		VALUES ($1, $2, $3)
		RETURNING ` + roomColumns
	return scanRoom(t.tx.QueryRow(ctx, q, songID, ownerID, capacity))
}

func (t *pgTx) GetRoom(ctx context.Context, roomID int64) (*models.Room, error) {
	q := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`
	return scanRoom(t.tx.QueryRow(ctx, q, roomID))
}

func (t *pgTx) LockRoom(ctx context.Context, roomID int64) (*models.Room, error) {
	q := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1 FOR UPDATE`
	return scanRoom(t.tx.QueryRow(ctx, q, roomID))
}

func (t *pgTx) SetRoomStatus(ctx context.Context, roomID int64, status models.RoomStatus) error {
	q := `UPDATE rooms SET status = $2, updated_at = NOW() WHERE id = $1`
	ct, err := t.tx.Exec(ctx, q, roomID, int16(status))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return room.ErrRoomNotFound
	}
	return nil
}

func (t *pgTx) SetRoomOwner(ctx context.Context, roomID, ownerID int64) error {
	q := `UPDATE rooms SET owner_id = $2, updated_at = NOW() WHERE id = $1`
	ct, err := t.tx.Exec(ctx, q, roomID, ownerID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return room.ErrRoomNotFound
	}
	return nil
}

// ListJoinableRooms counts members in the same statement that filters on
// status, so every summary comes from one snapshot.
func (t *pgTx) ListJoinableRooms(ctx context.Context, songID int64) ([]models.RoomInfo, error) {
	q := `
		SELECT r.id, r.live_id, COUNT(m.user_id) AS joined_user_count, r.max_user_count
		FROM rooms r
		LEFT JOIN room_members m ON m.room_id = r.id
		WHERE r.status = $1
		  AND ($2::BIGINT = 0 OR r.live_id = $2::BIGINT)
		GROUP BY r.id
		HAVING COUNT(m.user_id) < r.max_user_count
		ORDER BY r.id
	`
	rows, err := t.tx.Query(ctx, q, int16(models.RoomWaiting), songID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.RoomInfo
	for rows.Next() {
		var info models.RoomInfo
		var joined int64
		if err := rows.Scan(&info.RoomID, &info.SongID, &joined, &info.MaxUserCount); err != nil {
			return nil, err
		}
		info.JoinedUserCount = int(joined)
		rooms = append(rooms, info)
	}
	return rooms, rows.Err()
}

func (t *pgTx) CountMembers(ctx context.Context, roomID int64) (int, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM room_members WHERE room_id = $1`, roomID).Scan(&n)
	return int(n), err
}

const memberSelect = `
	SELECT m.room_id, m.user_id, m.seq, m.select_difficulty, m.is_host,
	       m.score, m.judge_count_list, m.joined_at, u.name, u.leader_card_id
	FROM room_members m
	JOIN users u ON u.id = m.user_id
`

func scanMember(row pgx.Row) (*models.Member, error) {
	var m models.Member
	var difficulty int16
	var score *int64
	var judges []int64
	err := row.Scan(&m.RoomID, &m.UserID, &m.Seq, &difficulty, &m.IsHost,
		&score, &judges, &m.JoinedAt, &m.Name, &m.AvatarID)
	if err != nil {
		return nil, err
	}
	m.Difficulty = models.Difficulty(difficulty)
	if score != nil {
		if len(judges) != models.JudgeCategories {
			return nil, fmt.Errorf("room %d user %d: %d judge counts stored", m.RoomID, m.UserID, len(judges))
		}
		res := models.Result{Score: *score}
		copy(res.JudgeCounts[:], judges)
		m.Result = &res
	}
	return &m, nil
}

func (t *pgTx) ListMembers(ctx context.Context, roomID int64) ([]models.Member, error) {
	rows, err := t.tx.Query(ctx, memberSelect+` WHERE m.room_id = $1 ORDER BY m.seq`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (t *pgTx) GetMember(ctx context.Context, roomID, userID int64) (*models.Member, error) {
	m, err := scanMember(t.tx.QueryRow(ctx, memberSelect+` WHERE m.room_id = $1 AND m.user_id = $2`, roomID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, room.ErrMemberNotFound
	}
	return m, err
}

func (t *pgTx) ActiveRoomsOf(ctx context.Context, userID int64) ([]int64, error) {
	q := `
		SELECT m.room_id
		FROM room_members m
		JOIN rooms r ON r.id = m.room_id
		WHERE m.user_id = $1 AND r.status <> $2
		ORDER BY m.room_id
	`
	rows, err := t.tx.Query(ctx, q, userID, int16(models.RoomDissolved))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// InsertMember uses ON CONFLICT so that a duplicate does not abort the transaction.
func (t *pgTx) InsertMember(ctx context.Context, m *models.Member) error {
	q := `
		INSERT INTO room_members (room_id, user_id, select_difficulty, is_host)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`
	ct, err := t.tx.Exec(ctx, q, m.RoomID, m.UserID, int16(m.Difficulty), m.IsHost)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return room.ErrDuplicateMember
	}
	return nil
}

func (t *pgTx) DeleteMember(ctx context.Context, roomID, userID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	return err
}

func (t *pgTx) SetHost(ctx context.Context, roomID, userID int64, isHost bool) error {
	ct, err := t.tx.Exec(ctx, `UPDATE room_members SET is_host = $3 WHERE room_id = $1 AND user_id = $2`, roomID, userID, isHost)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return room.ErrMemberNotFound
	}
	return nil
}

func (t *pgTx) SetResult(ctx context.Context, roomID, userID int64, r models.Result) (bool, error) {
	q := `
		UPDATE room_members
		SET score = $3, judge_count_list = $4, finished_at = NOW()
		WHERE room_id = $1 AND user_id = $2 AND score IS NULL
	`
	ct, err := t.tx.Exec(ctx, q, roomID, userID, r.Score, r.JudgeCounts[:])
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
