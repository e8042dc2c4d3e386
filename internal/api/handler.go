package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/vnmchuo/chat-backend/internal/auth"
	"github.com/vnmchuo/chat-backend/internal/chat"
	"github.com/vnmchuo/chat-backend/internal/store"
	"github.com/vnmchuo/chat-backend/internal/tokenizer"
	"github.com/vnmchuo/chat-backend/internal/usage"
)

const retryAfterSeconds = "60"

type ChatService interface {
	SendMessage(ctx context.Context, userID, chatID, content string) (*chat.TurnResult, error)
	CreateChat(ctx context.Context, userID string) (*store.Chat, error)
	ListChats(ctx context.Context, userID string) ([]*store.Chat, error)
	GetMessages(ctx context.Context, userID, chatID string) ([]*store.Message, error)
	DeleteChat(ctx context.Context, userID, chatID string) error
}

type UsageReporter interface {
	Summary(ctx context.Context, userID, today string) (*usage.Summary, error)
	Chart(ctx context.Context, userID string) ([]usage.ChartPoint, error)
}

type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (*auth.Identity, error)
}

type SessionIssuer interface {
	Issue(userID string) (string, time.Time, error)
}

type UserStore interface {
	UpsertUser(ctx context.Context, u *store.User) error
}

type Limiter interface {
	AllowRequest(ctx context.Context, userID string) (bool, error)
	AllowTokens(ctx context.Context, userID string, tokens int) (bool, error)
}

type TokenCounter interface {
	Count(text, model string) int
}

// Deps are the collaborators behind the HTTP surface. Limiter and Cache
// may be nil.
type Deps struct {
	Chats    ChatService
	Usage    UsageReporter
	Verifier IdentityVerifier
	Issuer   SessionIssuer
	Users    UserStore
	Limiter  Limiter
	Counter  TokenCounter
	Cache    *redis.Client
}

type Config struct {
	Version            string
	MaxMessageLength   int
	EnableRateLimiting bool
	Providers          []string
}

type Handler struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewHandler(deps Deps, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

type chatResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

func toChatResponse(c *store.Chat) chatResponse {
	return chatResponse{
		ID:           c.ID,
		Title:        c.Title,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: c.MessageCount,
	}
}

type messageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func toMessageResponse(m *store.Message) messageResponse {
	return messageResponse{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
}

type profileResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

func toProfile(u *store.User) profileResponse {
	return profileResponse{ID: u.ID, Name: u.Name, Email: u.Email, Avatar: u.Avatar}
}

func (h *Handler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	providers := h.cfg.Providers
	if providers == nil {
		providers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":      "chat-backend",
		"version":   h.cfg.Version,
		"status":    "operational",
		"providers": providers,
		"health":    "/healthz",
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "chat-backend"})
}

func (h *Handler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	identity, err := h.deps.Verifier.Verify(ctx, req.Token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpired) {
			writeError(w, http.StatusUnauthorized, "invalid Google token")
			return
		}
		h.logger.Error("google token verification failed", "error", err)
		writeError(w, http.StatusBadGateway, "could not verify Google token")
		return
	}

	u := &store.User{
		GoogleID: identity.Subject,
		Email:    identity.Email,
		Name:     identity.Name,
		Avatar:   identity.AvatarURL,
	}
	if err := h.deps.Users.UpsertUser(ctx, u); err != nil {
		h.logger.Error("user upsert failed", "google_id", identity.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	auth.Invalidate(ctx, h.deps.Cache, u.ID)

	token, exp, err := h.deps.Issuer.Issue(u.ID)
	if err != nil {
		h.logger.Error("token issue failed", "user_id", u.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"token_type":   "bearer",
		"expires_at":   exp.UTC(),
	})
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	u := auth.GetUser(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid": true,
		"user":  toProfile(u),
	})
}

func (h *Handler) HandleListChats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chats, err := h.deps.Chats.ListChats(ctx, auth.GetUserID(ctx))
	if err != nil {
		h.internalError(w, r, "list chats", err)
		return
	}

	out := make([]chatResponse, 0, len(chats))
	for _, c := range chats {
		out = append(out, toChatResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleCreateChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.deps.Chats.CreateChat(ctx, auth.GetUserID(ctx))
	if err != nil {
		h.internalError(w, r, "create chat", err)
		return
	}
	writeJSON(w, http.StatusCreated, toChatResponse(c))
}

func (h *Handler) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := h.deps.Chats.DeleteChat(ctx, auth.GetUserID(ctx), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "delete chat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "chat deleted"})
}

func (h *Handler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	msgs, err := h.deps.Chats.GetMessages(ctx, auth.GetUserID(ctx), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "list messages", err)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

type sendMessageResponse struct {
	messageResponse
	ChatTitle string `json:"chat_title,omitempty"`
	Degraded  bool   `json:"degraded"`
}

func (h *Handler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "message content must not be empty")
		return
	}
	if h.cfg.MaxMessageLength > 0 && utf8.RuneCountInString(req.Content) > h.cfg.MaxMessageLength {
		writeError(w, http.StatusBadRequest, "message exceeds the maximum length")
		return
	}

	if !h.allow(ctx, userID, req.Content) {
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": retryAfterSeconds,
		})
		return
	}

	result, err := h.deps.Chats.SendMessage(ctx, userID, chi.URLParam(r, "id"), req.Content)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "chat not found")
		return
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message content must not be empty")
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("chat turn abandoned", "user_id", userID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "request cancelled, please retry")
		return
	case err != nil:
		h.internalError(w, r, "send message", err)
		return
	}

	writeJSON(w, http.StatusOK, sendMessageResponse{
		messageResponse: toMessageResponse(result.AssistantMessage),
		ChatTitle:       result.Title,
		Degraded:        result.Degraded,
	})
}

// allow checks the request budget first so a rejected request does not
// spend token budget.
func (h *Handler) allow(ctx context.Context, userID, content string) bool {
	if !h.cfg.EnableRateLimiting || h.deps.Limiter == nil {
		return true
	}

	ok, err := h.deps.Limiter.AllowRequest(ctx, userID)
	if err != nil {
		h.logger.Error("rate limiter error", "user_id", userID, "error", err)
		return false
	}
	if !ok {
		return false
	}

	tokens := tokenizer.Estimate(content)
	if h.deps.Counter != nil {
		tokens = h.deps.Counter.Count(content, "")
	}
	ok, err = h.deps.Limiter.AllowTokens(ctx, userID, tokens)
	if err != nil {
		h.logger.Error("rate limiter error", "user_id", userID, "error", err)
		return false
	}
	return ok
}

func (h *Handler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	u := auth.GetUser(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, toProfile(u))
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	today := h.now().UTC().Format(store.DateLayout)

	summary, err := h.deps.Usage.Summary(ctx, auth.GetUserID(ctx), today)
	if err != nil {
		h.internalError(w, r, "usage summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) HandleUsageChart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	points, err := h.deps.Usage.Chart(ctx, auth.GetUserID(ctx))
	if err != nil {
		h.internalError(w, r, "usage chart", err)
		return
	}
	if points == nil {
		points = []usage.ChartPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op+" failed",
		"user_id", auth.GetUserID(r.Context()),
		"request_id", auth.GetRequestID(r.Context()),
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
