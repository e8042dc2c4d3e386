package seeder

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/vnmchuo/chat-backend/internal/auth"
	"github.com/vnmchuo/chat-backend/internal/store/sqlite"
)

func TestSeedTestUser_Idempotent(t *testing.T) {
	st, err := sqlite.New(filepath.Join(t.TempDir(), "seed.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	issuer := auth.NewIssuer("seed-secret", time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	first, token, err := SeedTestUser(ctx, st, issuer, logger)
	if err != nil {
		t.Fatalf("first seed failed: %v", err)
	}
	second, _, err := SeedTestUser(ctx, st, issuer, logger)
	if err != nil {
		t.Fatalf("second seed failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected the same user on reseed, got %s and %s", first.ID, second.ID)
	}

	subject, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("seeded token does not parse: %v", err)
	}
	if subject != first.ID {
		t.Errorf("expected subject %s, got %s", first.ID, subject)
	}

	u, err := st.GetUser(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.Email != TestEmail {
		t.Errorf("expected %s, got %s", TestEmail, u.Email)
	}
}
