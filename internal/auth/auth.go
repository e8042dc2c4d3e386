package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vnmchuo/chat-backend/internal/store"
)

const userCacheTTL = 5 * time.Minute

// UserStore is the lookup the middleware falls back to on a cache miss.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

type TokenParser interface {
	Parse(token string) (string, error)
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	userIDKey    contextKey = "user_id"
	userKey      contextKey = "user"
	requestIDKey contextKey = "request_id"
)

// NewMiddleware authenticates bearer session tokens. cache may be nil, in
// which case every request reads the store.
func NewMiddleware(tokens TokenParser, users UserStore, cache *redis.Client, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")

			userID, err := tokens.Parse(token)
			if err != nil {
				if errors.Is(err, ErrExpired) {
					writeError(w, http.StatusUnauthorized, "token expired")
					return
				}
				writeError(w, http.StatusUnauthorized, "could not validate credentials")
				return
			}

			redisKey := fmt.Sprintf("auth:user:%s", userID)
			if cache != nil {
				var u store.User
				err := cache.Get(ctx, redisKey).Scan(&u)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(withUser(ctx, &u)))
					return
				} else if err != redis.Nil {
					logger.Warn("auth: redis error", "error", err)
				}
			}

			u, err := users.GetUser(ctx, userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeError(w, http.StatusNotFound, "user not found")
					return
				}
				logger.Error("auth: user lookup failed", "user_id", userID, "error", err)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			if cache != nil {
				_ = cache.Set(ctx, redisKey, u, userCacheTTL).Err()
			}

			next.ServeHTTP(w, r.WithContext(withUser(ctx, u)))
		})
	}
}

// Invalidate drops a cached user so the next request re-reads the store.
func Invalidate(ctx context.Context, cache *redis.Client, userID string) {
	if cache == nil {
		return
	}
	_ = cache.Del(ctx, fmt.Sprintf("auth:user:%s", userID)).Err()
}

func withUser(ctx context.Context, u *store.User) context.Context {
	ctx = context.WithValue(ctx, userIDKey, u.ID)
	return context.WithValue(ctx, userKey, u)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Helpers to extract from context
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

func GetUser(ctx context.Context) *store.User {
	if u, ok := ctx.Value(userKey).(*store.User); ok {
		return u
	}
	return nil
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithUser(ctx context.Context, u *store.User) context.Context {
	return withUser(ctx, u)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
