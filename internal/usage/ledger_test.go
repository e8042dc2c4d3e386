package usage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/vnmchuo/chat-backend/internal/store"
	"github.com/vnmchuo/chat-backend/internal/store/sqlite"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingStore struct {
	calls int
}

func (f *failingStore) AddUsage(ctx context.Context, userID, date string, input, output int64) (*store.UsageRecord, error) {
	f.calls++
	return nil, errors.New("database is locked")
}

func (f *failingStore) GetUsage(ctx context.Context, userID, date string) (*store.UsageRecord, error) {
	return nil, errors.New("database is locked")
}

func (f *failingStore) ListUsage(ctx context.Context, userID string) ([]*store.UsageRecord, error) {
	return nil, errors.New("database is locked")
}

func expectRecord(t *testing.T, l *Ledger, userID, date string, in, out, total, count int64) {
	t.Helper()

	rec, err := l.store.GetUsage(context.Background(), userID, date)
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if rec.InputTokens != in || rec.OutputTokens != out || rec.TotalTokens != total || rec.MessageCount != count {
		t.Errorf("expected {%d %d %d %d}, got %+v", in, out, total, count, rec)
	}
}

func TestRecord_Accumulates(t *testing.T) {
	l := NewLedger(NewMemoryStore(), discardLogger(), true)
	ctx := context.Background()

	l.Record(ctx, "u1", "2026-10-16", 120, 45)
	expectRecord(t, l, "u1", "2026-10-16", 120, 45, 165, 1)

	l.Record(ctx, "u1", "2026-10-16", 30, 10)
	expectRecord(t, l, "u1", "2026-10-16", 150, 55, 205, 2)

	// Another day starts fresh.
	l.Record(ctx, "u1", "2026-10-17", 1, 2)
	expectRecord(t, l, "u1", "2026-10-17", 1, 2, 3, 1)
}

func TestRecord_ClampsNegative(t *testing.T) {
	l := NewLedger(NewMemoryStore(), discardLogger(), true)

	l.Record(context.Background(), "u1", "2026-10-16", -5, 7)
	expectRecord(t, l, "u1", "2026-10-16", 0, 7, 7, 1)
}

func TestRecord_Disabled(t *testing.T) {
	s := &failingStore{}
	l := NewLedger(s, discardLogger(), false)

	l.Record(context.Background(), "u1", "2026-10-16", 1, 1)
	if s.calls != 0 {
		t.Errorf("disabled ledger must not touch the store, got %d calls", s.calls)
	}
}

func TestRecord_StoreFailureIsSwallowed(t *testing.T) {
	s := &failingStore{}
	l := NewLedger(s, discardLogger(), true)

	l.Record(context.Background(), "u1", "2026-10-16", 10, 10)
	if s.calls != 1 {
		t.Errorf("expected one attempt, got %d", s.calls)
	}
}

func TestRecord_ConcurrentMemory(t *testing.T) {
	l := NewLedger(NewMemoryStore(), discardLogger(), true)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Record(ctx, "u1", "2026-10-16", i, 1)
		}(i)
	}
	wg.Wait()

	// sum(0..49) = 1225
	expectRecord(t, l, "u1", "2026-10-16", 1225, workers, 1225+workers, workers)
}

func TestRecord_ConcurrentSQLite(t *testing.T) {
	db, err := sqlite.New(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	u := &store.User{GoogleID: "g-1", Email: "a@example.com", Name: "A"}
	if err := db.UpsertUser(ctx, u); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	l := NewLedger(db, discardLogger(), true)
	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(ctx, u.ID, "2026-10-16", 4, 6)
		}()
	}
	wg.Wait()

	expectRecord(t, l, u.ID, "2026-10-16", 4*workers, 6*workers, 10*workers, workers)
}

func TestSummaryAndChart(t *testing.T) {
	l := NewLedger(NewMemoryStore(), discardLogger(), true)
	ctx := context.Background()

	l.Record(ctx, "u1", "2026-10-15", 10, 5)
	l.Record(ctx, "u1", "2026-10-16", 20, 10)
	l.Record(ctx, "u1", "2026-10-16", 1, 1)

	sum, err := l.Summary(ctx, "u1", "2026-10-16")
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	want := Summary{TotalTokens: 47, TotalMessages: 3, TodayTokens: 32, TodayMessages: 2}
	if *sum != want {
		t.Errorf("expected %+v, got %+v", want, *sum)
	}

	points, err := l.Chart(ctx, "u1")
	if err != nil {
		t.Fatalf("Chart failed: %v", err)
	}
	if len(points) != 2 || points[0].Date != "2026-10-15" || points[1].Tokens != 32 {
		t.Errorf("unexpected chart: %+v", points)
	}

	empty, _ := l.Summary(ctx, "nobody", "2026-10-16")
	if *empty != (Summary{}) {
		t.Errorf("expected zero summary, got %+v", *empty)
	}
}
