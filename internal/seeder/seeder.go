package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vnmchuo/chat-backend/internal/store"
)

const (
	TestGoogleID = "test-google-id-12345"
	TestEmail    = "testuser@chatbot.dev"
	TestName     = "Test User"

	TestTokenTTL = 30 * 24 * time.Hour
)

type UserStore interface {
	UpsertUser(ctx context.Context, u *store.User) error
}

type TokenIssuer interface {
	IssueFor(userID string, ttl time.Duration) (string, time.Time, error)
}

// SeedTestUser ensures the development account exists and logs a
// long-lived session token for it. Running it twice reuses the same user.
func SeedTestUser(ctx context.Context, users UserStore, tokens TokenIssuer, logger *slog.Logger) (*store.User, string, error) {
	u := &store.User{
		GoogleID: TestGoogleID,
		Email:    TestEmail,
		Name:     TestName,
	}
	if err := users.UpsertUser(ctx, u); err != nil {
		return nil, "", fmt.Errorf("seed test user: %w", err)
	}

	token, exp, err := tokens.IssueFor(u.ID, TestTokenTTL)
	if err != nil {
		return nil, "", fmt.Errorf("issue test token: %w", err)
	}

	logger.Info("test user ready",
		"user_id", u.ID,
		"email", u.Email,
		"expires_at", exp.Format(time.RFC3339),
	)
	logger.Info("test session token", "token", token)
	return u, token, nil
}
