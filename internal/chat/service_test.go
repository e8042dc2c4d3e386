package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vnmchuo/chat-backend/internal/provider"
	"github.com/vnmchuo/chat-backend/internal/router"
	"github.com/vnmchuo/chat-backend/internal/store"
	"github.com/vnmchuo/chat-backend/internal/store/sqlite"
)

type mockCompleter struct {
	completeFunc func(ctx context.Context, messages []provider.Message) (*provider.Result, error)
	lastMessages []provider.Message
	calls        int
}

func (m *mockCompleter) CompleteWithFallback(ctx context.Context, messages []provider.Message) (*provider.Result, error) {
	m.calls++
	m.lastMessages = messages
	if m.completeFunc != nil {
		return m.completeFunc(ctx, messages)
	}
	return &provider.Result{Text: "mock reply", InputTokens: 120, OutputTokens: 45, Provider: "mock"}, nil
}

type usageCall struct {
	userID, date  string
	input, output int
}

type mockRecorder struct {
	mu    sync.Mutex
	calls []usageCall
}

func (m *mockRecorder) Record(ctx context.Context, userID, date string, input, output int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, usageCall{userID, date, input, output})
}

type failingTurnStore struct {
	store.Store
}

func (f *failingTurnStore) CompleteTurn(ctx context.Context, chatID string, reply *store.Message, title string) error {
	return errors.New("disk full")
}

type fixture struct {
	svc       *Service
	store     store.Store
	completer *mockCompleter
	recorder  *mockRecorder
	userID    string
	chatID    string
}

func setupService(t *testing.T, wrap func(store.Store) store.Store) *fixture {
	t.Helper()

	db, err := sqlite.New(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	u := &store.User{GoogleID: "g-1", Email: "t@example.com", Name: "Tester"}
	if err := db.UpsertUser(ctx, u); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	var st store.Store = db
	if wrap != nil {
		st = wrap(db)
	}

	f := &fixture{store: db, completer: &mockCompleter{}, recorder: &mockRecorder{}, userID: u.ID}
	fixed := time.Date(2026, 10, 16, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*3600))
	f.svc = NewService(st, f.completer, f.recorder, Config{SystemPrompt: "sys", MaxHistory: 4},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixed }),
	)

	c, err := f.svc.CreateChat(ctx, u.ID)
	if err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	f.chatID = c.ID
	return f
}

func TestSendMessage_Success(t *testing.T) {
	f := setupService(t, nil)
	ctx := context.Background()

	turn, err := f.svc.SendMessage(ctx, f.userID, f.chatID, "Hi, can you help me plan a trip to Japan")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if turn.Degraded || turn.Provider != "mock" {
		t.Errorf("unexpected turn: %+v", turn)
	}
	if turn.AssistantMessage.Content != "mock reply" || turn.AssistantMessage.Tokens != 45 {
		t.Errorf("unexpected reply: %+v", turn.AssistantMessage)
	}
	if turn.Title != "Plan trip Japan" {
		t.Errorf("expected generated title, got %q", turn.Title)
	}

	c, err := f.store.GetChat(ctx, f.chatID, f.userID)
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if c.Title != "Plan trip Japan" || c.MessageCount != 2 {
		t.Errorf("unexpected chat: %+v", c)
	}

	msgs, _ := f.store.ListMessages(ctx, f.chatID)
	if len(msgs) != 2 || msgs[0].Role != provider.RoleUser || msgs[1].Role != provider.RoleAssistant {
		t.Errorf("expected user then assistant, got %+v", msgs)
	}

	if len(f.recorder.calls) != 1 {
		t.Fatalf("expected one usage record, got %d", len(f.recorder.calls))
	}
	got := f.recorder.calls[0]
	want := usageCall{f.userID, "2026-10-17", 120, 45}
	if got != want {
		t.Errorf("expected %+v (UTC date), got %+v", want, got)
	}
}

func TestSendMessage_TitleOnlyOnFirstTurn(t *testing.T) {
	f := setupService(t, nil)
	ctx := context.Background()

	if _, err := f.svc.SendMessage(ctx, f.userID, f.chatID, "Explain goroutines"); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	turn, err := f.svc.SendMessage(ctx, f.userID, f.chatID, "Now explain channels please")
	if err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	if turn.Title != "Explain goroutines" {
		t.Errorf("title must not change after the first turn, got %q", turn.Title)
	}

	// History reached the provider: sys, 2 stored, new.
	if n := len(f.completer.lastMessages); n != 4 {
		t.Errorf("expected 4 prompt messages, got %d", n)
	}
}

func TestSendMessage_HistoryBounded(t *testing.T) {
	f := setupService(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.svc.SendMessage(ctx, f.userID, f.chatID, "question number"); err != nil {
			t.Fatalf("turn %d failed: %v", i, err)
		}
	}
	if n := len(f.completer.lastMessages); n != 4+2 {
		t.Errorf("expected max history plus two, got %d", n)
	}
}

func TestSendMessage_AllProvidersFail(t *testing.T) {
	f := setupService(t, nil)
	f.completer.completeFunc = func(ctx context.Context, messages []provider.Message) (*provider.Result, error) {
		return nil, &router.ExhaustedError{Failures: []router.Failure{
			{Provider: "claude", Err: &provider.Error{Provider: "claude", Kind: provider.ErrTimeout}},
		}}
	}

	turn, err := f.svc.SendMessage(context.Background(), f.userID, f.chatID, "hello there")
	if err != nil {
		t.Fatalf("degraded turn must not fail: %v", err)
	}
	if !turn.Degraded || turn.AssistantMessage.Content != ApologyReply {
		t.Errorf("expected canned apology, got %+v", turn.AssistantMessage)
	}

	msgs, _ := f.store.ListMessages(context.Background(), f.chatID)
	if len(msgs) != 2 {
		t.Errorf("degraded reply must be persisted, got %d messages", len(msgs))
	}
	if len(f.recorder.calls) != 1 || f.recorder.calls[0].input != 0 || f.recorder.calls[0].output != 0 {
		t.Errorf("expected a zero-token usage record, got %+v", f.recorder.calls)
	}
}

func TestSendMessage_TurnBudgetExpiredDegrades(t *testing.T) {
	f := setupService(t, nil)
	f.completer.completeFunc = func(ctx context.Context, messages []provider.Message) (*provider.Result, error) {
		return nil, &router.ExhaustedError{
			Failures: []router.Failure{{Provider: "claude", Err: &provider.Error{Provider: "claude", Kind: provider.ErrTimeout}}},
			Stopped:  context.DeadlineExceeded,
		}
	}

	turn, err := f.svc.SendMessage(context.Background(), f.userID, f.chatID, "slow day")
	if err != nil {
		t.Fatalf("budget expiry must degrade, not fail: %v", err)
	}
	if !turn.Degraded || turn.AssistantMessage.Content != ApologyReply {
		t.Errorf("expected canned apology, got %+v", turn.AssistantMessage)
	}
}

func TestSendMessage_DegradedReplies(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not configured", router.ErrNoProvidersConfigured, NotConfiguredReply},
		{"region", &router.ExhaustedError{Failures: []router.Failure{{
			Provider: "openai",
			Err:      &provider.Error{Provider: "openai", Kind: provider.ErrAuth, Detail: "unsupported_country_region_territory"},
		}}}, RegionBlockedReply},
		{"other", errors.New("boom"), ApologyReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := degradedReply(tt.err); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSendMessage_PersistFailureRemovesUserMessage(t *testing.T) {
	f := setupService(t, func(s store.Store) store.Store { return &failingTurnStore{Store: s} })

	_, err := f.svc.SendMessage(context.Background(), f.userID, f.chatID, "will not stick")
	if err == nil {
		t.Fatal("expected an error")
	}

	msgs, _ := f.store.ListMessages(context.Background(), f.chatID)
	if len(msgs) != 0 {
		t.Errorf("expected no orphaned messages, got %d", len(msgs))
	}
	if len(f.recorder.calls) != 0 {
		t.Errorf("failed turn must not record usage")
	}
}

func TestSendMessage_Cancelled(t *testing.T) {
	f := setupService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.completer.completeFunc = func(ctx context.Context, messages []provider.Message) (*provider.Result, error) {
		cancel()
		return &provider.Result{Text: "too late"}, nil
	}

	_, err := f.svc.SendMessage(ctx, f.userID, f.chatID, "hang up")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	msgs, _ := f.store.ListMessages(context.Background(), f.chatID)
	if len(msgs) != 0 {
		t.Errorf("cancelled turn must leave nothing behind, got %d messages", len(msgs))
	}
}

func TestSendMessage_UserMessageStoredBeforeProvider(t *testing.T) {
	f := setupService(t, nil)
	var seen int
	f.completer.completeFunc = func(ctx context.Context, messages []provider.Message) (*provider.Result, error) {
		msgs, _ := f.store.ListMessages(ctx, f.chatID)
		seen = len(msgs)
		return &provider.Result{Text: "ok"}, nil
	}

	if _, err := f.svc.SendMessage(context.Background(), f.userID, f.chatID, "first"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if seen != 1 {
		t.Errorf("expected the user message to be stored before the call, saw %d", seen)
	}
}

func TestSendMessage_ForeignChat(t *testing.T) {
	f := setupService(t, nil)

	_, err := f.svc.SendMessage(context.Background(), "someone-else", f.chatID, "hi")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if f.completer.calls != 0 {
		t.Error("provider must not be called for a foreign chat")
	}
}

func TestSendMessage_Empty(t *testing.T) {
	f := setupService(t, nil)

	if _, err := f.svc.SendMessage(context.Background(), f.userID, f.chatID, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestChatCRUD(t *testing.T) {
	f := setupService(t, nil)
	ctx := context.Background()

	chats, err := f.svc.ListChats(ctx, f.userID)
	if err != nil || len(chats) != 1 || chats[0].Title != DefaultTitle {
		t.Fatalf("unexpected chats %+v (%v)", chats, err)
	}

	if _, err := f.svc.GetMessages(ctx, "intruder", f.chatID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a foreign reader, got %v", err)
	}

	if err := f.svc.DeleteChat(ctx, f.userID, f.chatID); err != nil {
		t.Fatalf("DeleteChat failed: %v", err)
	}
	if err := f.svc.DeleteChat(ctx, f.userID, f.chatID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
