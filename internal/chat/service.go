package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/chat-backend/internal/provider"
	"github.com/vnmchuo/chat-backend/internal/router"
	"github.com/vnmchuo/chat-backend/internal/store"
)

var ErrEmptyMessage = errors.New("message content is empty")

const (
	ApologyReply = "I apologize, but I'm experiencing technical difficulties right now. " +
		"Please try again in a moment. If the problem persists, the service may be temporarily unavailable."
	RegionBlockedReply = "The AI providers configured for this service are not available in your region. " +
		"Please try again later, or ask the administrator to enable a provider that serves your location."
	NotConfiguredReply = "The AI service is not configured yet. Please ask the administrator to add a provider API key."
)

// Completer is the fallback orchestrator as seen by a turn.
type Completer interface {
	CompleteWithFallback(ctx context.Context, messages []provider.Message) (*provider.Result, error)
}

// Recorder accumulates usage. It must not fail the caller.
type Recorder interface {
	Record(ctx context.Context, userID, date string, input, output int)
}

type TokenCounter interface {
	Count(text, model string) int
}

type Config struct {
	SystemPrompt string
	MaxHistory   int
}

type TurnResult struct {
	UserMessage      *store.Message `json:"user_message"`
	AssistantMessage *store.Message `json:"assistant_message"`
	Title            string         `json:"title"`
	Degraded         bool           `json:"degraded"`
	Provider         string         `json:"provider,omitempty"`
}

type Service struct {
	store      store.Store
	completer  Completer
	ledger     Recorder
	assembler  Assembler
	maxHistory int
	counter    TokenCounter
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Service)

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithTokenCounter(c TokenCounter) Option {
	return func(s *Service) { s.counter = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st store.Store, completer Completer, ledger Recorder, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:      st,
		completer:  completer,
		ledger:     ledger,
		assembler:  Assembler{SystemPrompt: cfg.SystemPrompt},
		maxHistory: cfg.MaxHistory,
		tracer:     noop.NewTracerProvider().Tracer("chat"),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendMessage runs one chat turn. The user message is stored before any
// provider is called. The reply, counters and title are stored together,
// and if that fails the user message is removed again. A provider outage
// is not an error: the turn completes with a degraded reply.
func (s *Service) SendMessage(ctx context.Context, userID, chatID, content string) (*TurnResult, error) {
	ctx, span := s.tracer.Start(ctx, "chat.turn")
	defer span.End()
	span.SetAttributes(attribute.String("chat_id", chatID))

	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	c, err := s.store.GetChat(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	history, err := s.store.RecentMessages(ctx, chatID, s.maxHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	userMsg := &store.Message{
		ChatID:    chatID,
		Role:      provider.RoleUser,
		Content:   content,
		Tokens:    s.countTokens(content),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AddMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	messages := s.assembler.Assemble(history, content, s.maxHistory)
	result, err := s.completer.CompleteWithFallback(ctx, messages)
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.discard(ctx, userMsg)
		span.SetStatus(codes.Error, "cancelled")
		return nil, ctxErr
	}

	turn := &TurnResult{UserMessage: userMsg}
	var input, output int
	var reply string
	if err != nil {
		turn.Degraded = true
		reply = degradedReply(err)
		s.logger.Warn("chat turn degraded",
			"chat_id", chatID,
			"user_id", userID,
			"error", err,
		)
	} else {
		reply = result.Text
		input, output = result.InputTokens, result.OutputTokens
		turn.Provider = result.Provider
	}

	// c may be stale if another turn on this chat finished meanwhile; the
	// store only applies the title while the count is still zero.
	if c.MessageCount == 0 {
		turn.Title = TitleFromMessage(content)
	}

	assistant := &store.Message{
		Role:      provider.RoleAssistant,
		Content:   reply,
		Tokens:    output,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CompleteTurn(ctx, chatID, assistant, turn.Title); err != nil {
		s.discard(ctx, userMsg)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to save reply: %w", err)
	}
	turn.AssistantMessage = assistant
	if turn.Title == "" {
		turn.Title = c.Title
	}

	s.ledger.Record(context.WithoutCancel(ctx), userID, s.now().UTC().Format(store.DateLayout), input, output)

	span.SetAttributes(
		attribute.Bool("degraded", turn.Degraded),
		attribute.String("provider", turn.Provider),
		attribute.Int("input_tokens", input),
		attribute.Int("output_tokens", output),
	)
	return turn, nil
}

func (s *Service) discard(ctx context.Context, m *store.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.store.DeleteMessage(ctx, m.ID); err != nil {
		s.logger.Error("failed to remove orphaned user message",
			"message_id", m.ID,
			"chat_id", m.ChatID,
			"error", err,
		)
	}
}

func (s *Service) countTokens(text string) int {
	if s.counter == nil {
		return 0
	}
	return s.counter.Count(text, "")
}

func degradedReply(err error) string {
	if errors.Is(err, router.ErrNoProvidersConfigured) {
		return NotConfiguredReply
	}
	var exhausted *router.ExhaustedError
	if errors.As(err, &exhausted) && exhausted.RegionBlocked() {
		return RegionBlockedReply
	}
	return ApologyReply
}

func (s *Service) CreateChat(ctx context.Context, userID string) (*store.Chat, error) {
	return s.store.CreateChat(ctx, userID, DefaultTitle)
}

func (s *Service) ListChats(ctx context.Context, userID string) ([]*store.Chat, error) {
	return s.store.ListChats(ctx, userID)
}

// GetMessages returns the whole chat history once ownership is confirmed.
func (s *Service) GetMessages(ctx context.Context, userID, chatID string) ([]*store.Message, error) {
	if _, err := s.store.GetChat(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, chatID)
}

func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) error {
	return s.store.DeleteChat(ctx, chatID, userID)
}
