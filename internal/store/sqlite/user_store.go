package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/veridexhq/veridex/internal/domain"
)

// UserStore implements domain.UserStore using SQLite.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a new UserStore backed by the given database.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// Upsert creates the user row on first sight and bumps last_seen_at on every
// subsequent call.
func (s *UserStore) Upsert(ctx context.Context, address string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (address, created_at, last_seen_at)
		VALUES (?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET last_seen_at = excluded.last_seen_at`,
		address, encodeTime(seenAt), encodeTime(seenAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert user %s: %w", address, err)
	}
	return nil
}

// Get retrieves a user by wallet address.
func (s *UserStore) Get(ctx context.Context, address string) (domain.User, error) {
	var u domain.User
	var createdAt, lastSeenAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT address, created_at, last_seen_at FROM users WHERE address = ?`,
		address,
	).Scan(&u.Address, &createdAt, &lastSeenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("sqlite: get user %s: %w", address, err)
	}
	if u.CreatedAt, err = decodeTime(createdAt); err != nil {
		return domain.User{}, err
	}
	if u.LastSeenAt, err = decodeTime(lastSeenAt); err != nil {
		return domain.User{}, err
	}
	return u, nil
}
