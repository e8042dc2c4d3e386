package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vnmchuo/chat-backend/internal/store"
)

// AddUsage accumulates in a single statement, so the counters and the
// derived total move together or not at all.
func (s *Store) AddUsage(ctx context.Context, userID, date string, input, output int64) (*store.UsageRecord, error) {
	r := store.UsageRecord{UserID: userID, Date: date}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO usage_daily (user_id, date, input_tokens, output_tokens, total_tokens, message_count)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(user_id, date) DO UPDATE SET
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			total_tokens = total_tokens + excluded.total_tokens,
			message_count = message_count + 1
		RETURNING input_tokens, output_tokens, total_tokens, message_count
	`, userID, date, input, output, input+output).Scan(&r.InputTokens, &r.OutputTokens, &r.TotalTokens, &r.MessageCount)
	if err != nil {
		return nil, fmt.Errorf("failed to add usage: %w", err)
	}
	return &r, nil
}

func (s *Store) GetUsage(ctx context.Context, userID, date string) (*store.UsageRecord, error) {
	r := store.UsageRecord{UserID: userID, Date: date}
	err := s.db.QueryRowContext(ctx, `
		SELECT input_tokens, output_tokens, total_tokens, message_count
		FROM usage_daily WHERE user_id = ? AND date = ?
	`, userID, date).Scan(&r.InputTokens, &r.OutputTokens, &r.TotalTokens, &r.MessageCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return &r, nil
}

func (s *Store) ListUsage(ctx context.Context, userID string) ([]*store.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, date, input_tokens, output_tokens, total_tokens, message_count
		FROM usage_daily WHERE user_id = ?
		ORDER BY date ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var records []*store.UsageRecord
	for rows.Next() {
		var r store.UsageRecord
		if err := rows.Scan(&r.UserID, &r.Date, &r.InputTokens, &r.OutputTokens, &r.TotalTokens, &r.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}
