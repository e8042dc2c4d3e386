package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/vnmchuo/chat-backend/internal/store"
)

// Store is the persistence the ledger accumulates into. AddUsage must be
// atomic per (userID, date).
type Store interface {
	AddUsage(ctx context.Context, userID, date string, input, output int64) (*store.UsageRecord, error)
	GetUsage(ctx context.Context, userID, date string) (*store.UsageRecord, error)
	ListUsage(ctx context.Context, userID string) ([]*store.UsageRecord, error)
}

type Ledger struct {
	store   Store
	logger  *slog.Logger
	enabled bool
}

func NewLedger(s Store, logger *slog.Logger, enabled bool) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: s, logger: logger, enabled: enabled}
}

// Today returns the UTC calendar date key for now.
func Today() string {
	return time.Now().UTC().Format(store.DateLayout)
}

// Record adds one turn's tokens to the user's day. Failures are logged and
// never returned.
func (l *Ledger) Record(ctx context.Context, userID, date string, input, output int) {
	if !l.enabled {
		return
	}
	if input < 0 {
		input = 0
	}
	if output < 0 {
		output = 0
	}

	rec, err := l.store.AddUsage(ctx, userID, date, int64(input), int64(output))
	if err != nil {
		l.logger.Error("usage tracking failed",
			"user_id", userID,
			"date", date,
			"error", err,
		)
		return
	}
	l.logger.Debug("usage recorded",
		"user_id", userID,
		"date", date,
		"total_tokens", rec.TotalTokens,
		"message_count", rec.MessageCount,
	)
}

type Summary struct {
	TotalTokens   int64 `json:"total_tokens"`
	TotalMessages int64 `json:"total_messages"`
	TodayTokens   int64 `json:"today_tokens"`
	TodayMessages int64 `json:"today_messages"`
}

func (l *Ledger) Summary(ctx context.Context, userID, today string) (*Summary, error) {
	records, err := l.store.ListUsage(ctx, userID)
	if err != nil {
		return nil, err
	}

	var s Summary
	for _, r := range records {
		s.TotalTokens += r.TotalTokens
		s.TotalMessages += r.MessageCount
		if r.Date == today {
			s.TodayTokens = r.TotalTokens
			s.TodayMessages = r.MessageCount
		}
	}
	return &s, nil
}

type ChartPoint struct {
	Date     string `json:"date"`
	Tokens   int64  `json:"tokens"`
	Messages int64  `json:"messages"`
}

// Chart returns one point per recorded day, oldest first.
func (l *Ledger) Chart(ctx context.Context, userID string) ([]ChartPoint, error) {
	records, err := l.store.ListUsage(ctx, userID)
	if err != nil {
		return nil, err
	}

	points := make([]ChartPoint, 0, len(records))
	for _, r := range records {
		points = append(points, ChartPoint{Date: r.Date, Tokens: r.TotalTokens, Messages: r.MessageCount})
	}
	return points, nil
}
