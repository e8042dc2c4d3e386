// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vnmchuo/chat-backend/internal/store"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Schema is applied by Migrate. Message order follows seq, not created_at.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id          UUID PRIMARY KEY,
	google_id   TEXT NOT NULL UNIQUE,
	email       TEXT NOT NULL,
	name        TEXT NOT NULL,
	avatar      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chats (
	id             UUID PRIMARY KEY,
	user_id        UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title          TEXT NOT NULL,
	message_count  INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	seq         BIGSERIAL PRIMARY KEY,
	id          UUID NOT NULL UNIQUE,
	chat_id     UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	tokens      INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_daily (
	user_id        UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	day            DATE NOT NULL,
	input_tokens   BIGINT NOT NULL DEFAULT 0,
	output_tokens  BIGINT NOT NULL DEFAULT 0,
	total_tokens   BIGINT NOT NULL DEFAULT 0,
	message_count  BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, day)
);

CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, seq);
`

type PostgresStore struct {
	db DB
}

var _ store.Store = (*PostgresStore)(nil)

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) UpsertUser(ctx context.Context, u *store.User) error {
	if u.GoogleID == "" {
		return fmt.Errorf("google_id is required")
	}

	query := `
		INSERT INTO users (id, google_id, email, name, avatar)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (google_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			avatar = EXCLUDED.avatar,
			updated_at = now()
		RETURNING id::text, created_at, updated_at
	`
	err := s.db.QueryRow(ctx, query, uuid.NewString(), u.GoogleID, u.Email, u.Name, u.Avatar).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	if !validID(id) {
		return nil, store.ErrNotFound
	}

	query := `
		SELECT id::text, google_id, email, name, avatar, created_at, updated_at
		FROM users WHERE id = $1
	`
	var u store.User
	err := s.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.GoogleID, &u.Email, &u.Name, &u.Avatar, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) CreateChat(ctx context.Context, userID, title string) (*store.Chat, error) {
	c := &store.Chat{ID: uuid.NewString(), UserID: userID, Title: title}

	query := `
		INSERT INTO chats (id, user_id, title)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`
	if err := s.db.QueryRow(ctx, query, c.ID, userID, title).Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListChats(ctx context.Context, userID string) ([]*store.Chat, error) {
	query := `
		SELECT id::text, user_id::text, title, message_count, created_at, updated_at
		FROM chats WHERE user_id = $1
		ORDER BY updated_at DESC
	`
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []*store.Chat
	for rows.Next() {
		var c store.Chat
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, &c)
	}
	return chats, rows.Err()
}

func (s *PostgresStore) GetChat(ctx context.Context, chatID, userID string) (*store.Chat, error) {
	if !validID(chatID) {
		return nil, store.ErrNotFound
	}

	query := `
		SELECT id::text, user_id::text, title, message_count, created_at, updated_at
		FROM chats WHERE id = $1 AND user_id = $2
	`
	var c store.Chat
	err := s.db.QueryRow(ctx, query, chatID, userID).Scan(
		&c.ID, &c.UserID, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) DeleteChat(ctx context.Context, chatID, userID string) error {
	if !validID(chatID) {
		return store.ErrNotFound
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM chats WHERE id = $1 AND user_id = $2`, chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, chatID string) ([]*store.Message, error) {
	if !validID(chatID) {
		return nil, nil
	}

	query := `
		SELECT id::text, chat_id::text, role, content, tokens, created_at
		FROM messages WHERE chat_id = $1
		ORDER BY seq ASC
	`
	rows, err := s.db.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) RecentMessages(ctx context.Context, chatID string, limit int) ([]*store.Message, error) {
	if limit <= 0 || !validID(chatID) {
		return nil, nil
	}

	query := `
		SELECT id, chat_id, role, content, tokens, created_at FROM (
			SELECT seq, id::text AS id, chat_id::text AS chat_id, role, content, tokens, created_at
			FROM messages WHERE chat_id = $1
			ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq ASC
	`
	rows, err := s.db.Query(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) AddMessage(ctx context.Context, m *store.Message) error {
	prepareMessage(m)
	query := `
		INSERT INTO messages (id, chat_id, role, content, tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.db.Exec(ctx, query, m.ID, m.ChatID, m.Role, m.Content, m.Tokens, m.CreatedAt); err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	if !validID(id) {
		return store.ErrNotFound
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteTurn(ctx context.Context, chatID string, reply *store.Message, title string) error {
	if !validID(chatID) {
		return store.ErrNotFound
	}
	prepareMessage(reply)
	reply.ChatID = chatID

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, chat_id, role, content, tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reply.ID, chatID, reply.Role, reply.Content, reply.Tokens, reply.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add reply: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE chats SET
			message_count = message_count + 2,
			title = CASE WHEN $1::text <> '' AND message_count = 0 THEN $1::text ELSE title END,
			updated_at = $2
		WHERE id = $3
	`, title, reply.CreatedAt, chatID)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

// AddUsage relies on the row lock taken by ON CONFLICT DO UPDATE, so
// concurrent turns for the same day serialise instead of losing increments.
func (s *PostgresStore) AddUsage(ctx context.Context, userID, date string, input, output int64) (*store.UsageRecord, error) {
	query := `
		INSERT INTO usage_daily (user_id, day, input_tokens, output_tokens, total_tokens, message_count)
		VALUES ($1, $2::date, $3, $4, $5, 1)
		ON CONFLICT (user_id, day) DO UPDATE SET
			input_tokens = usage_daily.input_tokens + EXCLUDED.input_tokens,
			output_tokens = usage_daily.output_tokens + EXCLUDED.output_tokens,
			total_tokens = usage_daily.total_tokens + EXCLUDED.total_tokens,
			message_count = usage_daily.message_count + 1
		RETURNING input_tokens, output_tokens, total_tokens, message_count
	`
	r := store.UsageRecord{UserID: userID, Date: date}
	err := s.db.QueryRow(ctx, query, userID, date, input, output, input+output).
		Scan(&r.InputTokens, &r.OutputTokens, &r.TotalTokens, &r.MessageCount)
	if err != nil {
		return nil, fmt.Errorf("failed to add usage: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) GetUsage(ctx context.Context, userID, date string) (*store.UsageRecord, error) {
	query := `
		SELECT input_tokens, output_tokens, total_tokens, message_count
		FROM usage_daily WHERE user_id = $1 AND day = $2::date
	`
	r := store.UsageRecord{UserID: userID, Date: date}
	err := s.db.QueryRow(ctx, query, userID, date).
		Scan(&r.InputTokens, &r.OutputTokens, &r.TotalTokens, &r.MessageCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListUsage(ctx context.Context, userID string) ([]*store.UsageRecord, error) {
	query := `
		SELECT to_char(day, 'YYYY-MM-DD'), input_tokens, output_tokens, total_tokens, message_count
		FROM usage_daily WHERE user_id = $1
		ORDER BY day ASC
	`
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var records []*store.UsageRecord
	for rows.Next() {
		r := store.UsageRecord{UserID: userID}
		if err := rows.Scan(&r.Date, &r.InputTokens, &r.OutputTokens, &r.TotalTokens, &r.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// validID reports whether id can be bound to a uuid column. Anything else
// would fail inside Postgres with an invalid input syntax error, so callers
// treat it as a missing row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanMessages(rows pgx.Rows) ([]*store.Message, error) {
	var messages []*store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.Tokens, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func prepareMessage(m *store.Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
}
