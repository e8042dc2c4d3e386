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

func (s *Store) CreateChat(ctx context.Context, userID, title string) (*store.Chat, error) {
	now := time.Now().UTC()
	c := &store.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, user_id, title, message_count, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, c.ID, c.UserID, c.Title, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return c, nil
}

func (s *Store) ListChats(ctx context.Context, userID string) ([]*store.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, message_count, created_at, updated_at
		FROM chats WHERE user_id = ?
		ORDER BY updated_at DESC, rowid DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []*store.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (s *Store) GetChat(ctx context.Context, chatID, userID string) (*store.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, message_count, created_at, updated_at
		FROM chats WHERE id = ? AND user_id = ?
	`, chatID, userID)

	c, err := scanChat(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return c, nil
}

func (s *Store) DeleteChat(ctx context.Context, chatID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return tx.Commit()
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, tokens, created_at
		FROM messages WHERE chat_id = ?
		ORDER BY rowid ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) RecentMessages(ctx context.Context, chatID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, tokens, created_at FROM (
			SELECT rowid AS seq, id, chat_id, role, content, tokens, created_at
			FROM messages WHERE chat_id = ?
			ORDER BY rowid DESC LIMIT ?
		) ORDER BY seq ASC
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) AddMessage(ctx context.Context, m *store.Message) error {
	prepareMessage(m)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.ChatID, m.Role, m.Content, m.Tokens, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CompleteTurn(ctx context.Context, chatID string, reply *store.Message, title string) error {
	prepareMessage(reply)
	reply.ChatID = chatID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, reply.ID, reply.ChatID, reply.Role, reply.Content, reply.Tokens, formatTime(reply.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to add reply: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE chats SET
			message_count = message_count + 2,
			title = CASE WHEN ? <> '' AND message_count = 0 THEN ? ELSE title END,
			updated_at = ?
		WHERE id = ?
	`, title, title, formatTime(reply.CreatedAt), chatID)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(row scanner) (*store.Chat, error) {
	var c store.Chat
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.MessageCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func scanMessages(rows *sql.Rows) ([]*store.Message, error) {
	var messages []*store.Message
	for rows.Next() {
		var m store.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.Tokens, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = parseTime(createdAt)
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
