package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/chat-backend/internal/provider"
)

var (
	ErrNoProvidersConfigured = errors.New("no providers configured")
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
)

// Failure records why one provider was passed over.
type Failure struct {
	Provider string
	Err      error
}

// ExhaustedError is returned when every provider failed, or when the turn
// context ended before the chain was finished. Failures only lists providers
// that were actually tried; Stopped holds the context error in the latter case.
type ExhaustedError struct {
	Failures []Failure
	Stopped  error
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Provider, f.Err)
	}
	msg := fmt.Sprintf("%s: [%s]", ErrAllProvidersExhausted, strings.Join(parts, "; "))
	if e.Stopped != nil {
		msg += fmt.Sprintf(" (stopped: %v)", e.Stopped)
	}
	return msg
}

func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+2)
	errs = append(errs, ErrAllProvidersExhausted)
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	if e.Stopped != nil {
		errs = append(errs, e.Stopped)
	}
	return errs
}

// RegionBlocked reports whether any provider refused on geographic grounds.
func (e *ExhaustedError) RegionBlocked() bool {
	for _, f := range e.Failures {
		if provider.IsRegionBlocked(f.Err) {
			return true
		}
	}
	return false
}

type Router struct {
	providers []provider.Provider
	breakers  map[string]*gobreaker.CircuitBreaker
	tracer    trace.Tracer
	logger    *slog.Logger
	budget    time.Duration
}

type Option func(*Router)

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Router) { r.tracer = tracer }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithBudget caps the wall time of one whole fallback chain. Zero means the
// chain is bounded only by the caller's context.
func WithBudget(d time.Duration) Option {
	return func(r *Router) { r.budget = d }
}

// NewRouter keeps providers in the given preference order.
func NewRouter(providers []provider.Provider, opts ...Option) *Router {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, p := range providers {
		settings := gobreaker.Settings{
			Name:        p.Name(),
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			// The caller hanging up says nothing about the provider's health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}
		breakers[p.Name()] = gobreaker.NewCircuitBreaker(settings)
	}

	r := &Router{
		providers: providers,
		breakers:  breakers,
		tracer:    noop.NewTracerProvider().Tracer("router"),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Providers returns the configured preference order.
func (r *Router) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// CompleteWithFallback tries each provider once, in order, and returns the
// first success. Failure is always a normal return: ErrNoProvidersConfigured
// or an *ExhaustedError.
func (r *Router) CompleteWithFallback(ctx context.Context, messages []provider.Message) (*provider.Result, error) {
	if len(r.providers) == 0 {
		return nil, ErrNoProvidersConfigured
	}

	if r.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.budget)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return nil, &ExhaustedError{Stopped: err}
	}

	failures := make([]Failure, 0, len(r.providers))
	for i, p := range r.providers {
		result, err := r.attempt(ctx, p, messages)
		if err == nil {
			return result, nil
		}

		failures = append(failures, Failure{Provider: p.Name(), Err: err})
		r.logger.Warn("provider attempt failed",
			"provider", p.Name(),
			"kind", kindOf(err),
			"error", err,
		)

		if err := ctx.Err(); err != nil {
			if i < len(r.providers)-1 {
				r.logger.Warn("fallback chain stopped", "skipped", len(r.providers)-1-i, "error", err)
			}
			return nil, &ExhaustedError{Failures: failures, Stopped: err}
		}
	}

	return nil, &ExhaustedError{Failures: failures}
}

func (r *Router) attempt(ctx context.Context, p provider.Provider, messages []provider.Message) (*provider.Result, error) {
	ctx, span := r.tracer.Start(ctx, "router.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", p.Name()),
		attribute.Int("messages", len(messages)),
	)

	cb := r.breakers[p.Name()]
	out, err := cb.Execute(func() (interface{}, error) {
		return p.Complete(ctx, messages)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, kindOf(err))
		return nil, err
	}

	result := out.(*provider.Result)
	span.SetAttributes(
		attribute.Int("input_tokens", result.InputTokens),
		attribute.Int("output_tokens", result.OutputTokens),
		attribute.Int64("latency_ms", result.LatencyMs),
	)
	return result, nil
}

func kindOf(err error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "circuit_open"
	}
	return provider.KindName(err)
}
