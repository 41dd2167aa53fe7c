package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/liveroom/internal/models"
)

// EventStore persists room history drained by the historian.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore returns an event store over pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// InsertRoomEvents writes one batch in a single transaction.
func (s *EventStore) InsertRoomEvents(ctx context.Context, batchID uuid.UUID, events []models.RoomEvent) error {
	q := `
		INSERT INTO room_events (batch_id, room_id, user_id, kind, occurred_at)
		VALUES ($1, $2, NULLIF($3::BIGINT, 0), $4, $5)
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, ev := range events {
			if _, err := tx.Exec(ctx, q, batchID, ev.RoomID, ev.UserID, string(ev.Kind), ev.At); err != nil {
				return err
			}
		}
		return nil
	})
}
