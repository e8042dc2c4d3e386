package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vnmchuo/chat-backend/internal/store"
)

func (s *Store) UpsertUser(ctx context.Context, u *store.User) error {
	if u.GoogleID == "" {
		return fmt.Errorf("google_id is required")
	}

	now := formatTime(time.Now())
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, google_id, email, name, avatar, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(google_id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			avatar = excluded.avatar,
			updated_at = excluded.updated_at
		RETURNING id, created_at, updated_at
	`, uuid.NewString(), u.GoogleID, u.Email, u.Name, u.Avatar, now, now).Scan(&u.ID, &createdAt, &updatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, google_id, email, name, avatar, created_at, updated_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.GoogleID, &u.Email, &u.Name, &u.Avatar, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}
