package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/vnmchuo/chat-backend/internal/store"
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, googleID string) *store.User {
	t.Helper()

	u := &store.User{GoogleID: googleID, Email: googleID + "@example.com", Name: "Test User"}
	if err := s.UpsertUser(context.Background(), u); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	return u
}

func TestUpsertUser_KeepsIdentity(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	first := seedUser(t, s, "g-1")
	if first.ID == "" {
		t.Fatal("expected ID to be generated")
	}

	again := &store.User{GoogleID: "g-1", Email: "new@example.com", Name: "Renamed"}
	if err := s.UpsertUser(ctx, again); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("expected same ID %s, got %s", first.ID, again.ID)
	}

	got, err := s.GetUser(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Email != "new@example.com" || got.Name != "Renamed" {
		t.Errorf("expected refreshed profile, got %+v", got)
	}

	if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestChatOwnership(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")

	c, err := s.CreateChat(ctx, alice.ID, "New Chat")
	if err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	if _, err := s.GetChat(ctx, c.ID, bob.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign chat, got %v", err)
	}
	if err := s.DeleteChat(ctx, c.ID, bob.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting foreign chat, got %v", err)
	}

	chats, err := s.ListChats(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListChats failed: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != c.ID {
		t.Errorf("unexpected chats: %+v", chats)
	}
}

func TestMessagesAndTurn(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	u := seedUser(t, s, "g-msg")
	c, err := s.CreateChat(ctx, u.ID, "New Chat")
	if err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	for _, content := range []string{"one", "two", "three", "four"} {
		if err := s.AddMessage(ctx, &store.Message{ChatID: c.ID, Role: "user", Content: content}); err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
	}

	recent, err := s.RecentMessages(ctx, c.ID, 2)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "three" || recent[1].Content != "four" {
		t.Errorf("expected tail [three four] oldest first, got %+v", recent)
	}

	reply := &store.Message{Role: "assistant", Content: "answer", Tokens: 7}
	if err := s.CompleteTurn(ctx, c.ID, reply, "Plan trip"); err != nil {
		t.Fatalf("CompleteTurn failed: %v", err)
	}

	got, err := s.GetChat(ctx, c.ID, u.ID)
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if got.Title != "Plan trip" || got.MessageCount != 2 {
		t.Errorf("unexpected chat after turn: %+v", got)
	}

	if err := s.CompleteTurn(ctx, c.ID, &store.Message{Role: "assistant", Content: "again"}, ""); err != nil {
		t.Fatalf("CompleteTurn failed: %v", err)
	}
	got, _ = s.GetChat(ctx, c.ID, u.ID)
	if got.Title != "Plan trip" || got.MessageCount != 4 {
		t.Errorf("empty title must keep the existing one: %+v", got)
	}

	all, err := s.ListMessages(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(all) != 6 || all[4].Content != "answer" {
		t.Errorf("unexpected messages: %d", len(all))
	}

	if err := s.DeleteMessage(ctx, all[0].ID); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if err := s.DeleteChat(ctx, c.ID, u.ID); err != nil {
		t.Fatalf("DeleteChat failed: %v", err)
	}
	left, _ := s.ListMessages(ctx, c.ID)
	if len(left) != 0 {
		t.Errorf("expected messages removed with chat, got %d", len(left))
	}
}

func TestCompleteTurn_UnknownChatRollsBack(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	err := s.CompleteTurn(ctx, "missing", &store.Message{Role: "assistant", Content: "x"}, "")
	if err == nil {
		t.Fatal("expected an error for an unknown chat")
	}

	msgs, _ := s.ListMessages(ctx, "missing")
	if len(msgs) != 0 {
		t.Errorf("reply must not survive a failed turn, got %d", len(msgs))
	}
}

func TestCompleteTurn_FirstTitleWins(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	u := seedUser(t, s, "g-title")
	c, err := s.CreateChat(ctx, u.ID, "New Chat")
	if err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	// Two turns that both started against an empty chat each carry a title.
	if err := s.CompleteTurn(ctx, c.ID, &store.Message{Role: "assistant", Content: "a"}, "First question"); err != nil {
		t.Fatalf("CompleteTurn failed: %v", err)
	}
	if err := s.CompleteTurn(ctx, c.ID, &store.Message{Role: "assistant", Content: "b"}, "Second question"); err != nil {
		t.Fatalf("CompleteTurn failed: %v", err)
	}

	got, err := s.GetChat(ctx, c.ID, u.ID)
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if got.Title != "First question" || got.MessageCount != 4 {
		t.Errorf("expected the first title to stick, got %+v", got)
	}
}

func TestAddUsage_Accumulates(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	u := seedUser(t, s, "g-usage")

	r, err := s.AddUsage(ctx, u.ID, "2026-10-16", 120, 45)
	if err != nil {
		t.Fatalf("AddUsage failed: %v", err)
	}
	if r.InputTokens != 120 || r.OutputTokens != 45 || r.TotalTokens != 165 || r.MessageCount != 1 {
		t.Errorf("unexpected first record: %+v", r)
	}

	r, err = s.AddUsage(ctx, u.ID, "2026-10-16", 30, 10)
	if err != nil {
		t.Fatalf("AddUsage failed: %v", err)
	}
	if r.InputTokens != 150 || r.OutputTokens != 55 || r.TotalTokens != 205 || r.MessageCount != 2 {
		t.Errorf("unexpected second record: %+v", r)
	}

	if _, err := s.AddUsage(ctx, u.ID, "2026-10-15", 1, 1); err != nil {
		t.Fatalf("AddUsage failed: %v", err)
	}
	records, err := s.ListUsage(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListUsage failed: %v", err)
	}
	if len(records) != 2 || records[0].Date != "2026-10-15" {
		t.Errorf("expected ascending dates, got %+v", records)
	}
}

func TestAddUsage_Concurrent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	u := seedUser(t, s, "g-race")

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AddUsage(ctx, u.ID, "2026-10-16", 3, 2); err != nil {
				t.Errorf("AddUsage failed: %v", err)
			}
		}()
	}
	wg.Wait()

	r, err := s.GetUsage(ctx, u.ID, "2026-10-16")
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if r.TotalTokens != workers*5 || r.MessageCount != workers {
		t.Errorf("lost updates: %+v", r)
	}
	if r.TotalTokens != r.InputTokens+r.OutputTokens {
		t.Errorf("total out of sync: %+v", r)
	}
}
