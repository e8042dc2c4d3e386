package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Window is the period both per-user budgets refill over.
const Window = time.Minute

// Limiter enforces two per-user budgets: requests per minute and estimated
// tokens per minute. It is a thin wrapper around github.com/vnmchuo/ratelimiter.
type Limiter struct {
	requests extratelimit.Limiter
	tokens   extratelimit.Limiter
}

// NewLimiter shares the budgets across processes through Redis.
func NewLimiter(rdb *redis.Client, requestsPerMinute, tokensPerMinute int64) *Limiter {
	return &Limiter{
		requests: extratelimit.NewRedisStore(rdb,
			extratelimit.WithLimit(int(requestsPerMinute)),
			extratelimit.WithWindow(Window),
		),
		tokens: extratelimit.NewRedisStore(rdb,
			extratelimit.WithLimit(int(tokensPerMinute)),
			extratelimit.WithWindow(Window),
		),
	}
}

// NewLocalLimiter keeps the budgets in process memory, for single-instance
// deployments without Redis.
func NewLocalLimiter(requestsPerMinute, tokensPerMinute int64) *Limiter {
	return &Limiter{
		requests: newLocalStore(int(requestsPerMinute), Window),
		tokens:   newLocalStore(int(tokensPerMinute), Window),
	}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{requests: store, tokens: store}
}

func (l *Limiter) AllowRequest(ctx context.Context, userID string) (bool, error) {
	res, err := l.requests.Allow(ctx, requestKey(userID))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) AllowTokens(ctx context.Context, userID string, tokens int) (bool, error) {
	if tokens <= 0 {
		return true, nil
	}
	res, err := l.tokens.AllowN(ctx, tokenKey(userID), tokens)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func requestKey(userID string) string {
	return fmt.Sprintf("ratelimit:user:%s:requests", userID)
}

func tokenKey(userID string) string {
	return fmt.Sprintf("ratelimit:user:%s:tokens", userID)
}
