package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/liveroom/internal/auth"
	"github.com/jason-s-yu/liveroom/internal/models"
)

// UserStore is the Postgres user directory.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore returns a directory over pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// CreateUser inserts u and sets its generated id.
func (s *UserStore) CreateUser(ctx context.Context, u *models.User) error {
	q := `INSERT INTO users (name, leader_card_id) VALUES ($1, $2) RETURNING id`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q, u.Name, u.AvatarID).Scan(&u.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUserByID returns auth.ErrUserNotFound when no row matches.
func (s *UserStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	q := `SELECT id, name, leader_card_id FROM users WHERE id=$1`
	err := s.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Name, &u.AvatarID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser sets name and leader card of an existing user.
func (s *UserStore) UpdateUser(ctx context.Context, u *models.User) error {
	q := `UPDATE users SET name=$1, leader_card_id=$2, updated_at=NOW() WHERE id=$3`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, q, u.Name, u.AvatarID, u.ID)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return auth.ErrUserNotFound
		}
		return nil
	})
}
