package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	extratelimit "github.com/vnmchuo/ratelimiter"
)

type mockLimiterStore struct {
	allowed bool
	err     error
	lastKey string
	lastN   int
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	m.lastKey, m.lastN = key, n
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	m.lastKey, m.lastN = key, 1
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func TestLimiter_Keys(t *testing.T) {
	store := &mockLimiterStore{allowed: true}
	l := NewTestLimiter(store)
	ctx := context.Background()

	if ok, err := l.AllowRequest(ctx, "u1"); !ok || err != nil {
		t.Fatalf("AllowRequest = %v, %v", ok, err)
	}
	if store.lastKey != "ratelimit:user:u1:requests" {
		t.Errorf("unexpected request key %s", store.lastKey)
	}

	if ok, err := l.AllowTokens(ctx, "u1", 250); !ok || err != nil {
		t.Fatalf("AllowTokens = %v, %v", ok, err)
	}
	if store.lastKey != "ratelimit:user:u1:tokens" || store.lastN != 250 {
		t.Errorf("unexpected token call %s/%d", store.lastKey, store.lastN)
	}
}

func TestLimiter_ZeroTokensSkipsStore(t *testing.T) {
	store := &mockLimiterStore{allowed: false}
	l := NewTestLimiter(store)

	ok, err := l.AllowTokens(context.Background(), "u1", 0)
	if !ok || err != nil {
		t.Errorf("expected zero tokens to pass, got %v, %v", ok, err)
	}
	if store.lastKey != "" {
		t.Error("store must not be consulted for zero tokens")
	}
}

func TestLimiter_Error(t *testing.T) {
	l := NewTestLimiter(&mockLimiterStore{err: errors.New("redis down")})

	if _, err := l.AllowRequest(context.Background(), "u1"); err == nil {
		t.Error("expected error to propagate")
	}
}

func TestLocalLimiter_Budget(t *testing.T) {
	l := NewLocalLimiter(3, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := l.AllowRequest(ctx, "u1"); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if ok, _ := l.AllowRequest(ctx, "u1"); ok {
		t.Error("fourth request within the window should be rejected")
	}
	if ok, _ := l.AllowRequest(ctx, "u2"); !ok {
		t.Error("budgets are per user")
	}

	if ok, _ := l.AllowTokens(ctx, "u1", 80); !ok {
		t.Error("80 of 100 tokens should be allowed")
	}
	if ok, _ := l.AllowTokens(ctx, "u1", 80); ok {
		t.Error("second 80 tokens should exceed the budget")
	}
}

func TestLocalLimiter_Refills(t *testing.T) {
	s := newLocalStore(2, time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if res, _ := s.Allow(ctx, "k"); !res.Allowed {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	if res, _ := s.Allow(ctx, "k"); res.Allowed {
		t.Fatal("bucket should be empty")
	}

	now = now.Add(40 * time.Second)
	if res, _ := s.Status(ctx, "k"); !res.Allowed {
		t.Error("a token should have refilled after two thirds of a window")
	}
}
