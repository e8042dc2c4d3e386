package provider

import (
	"context"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// Result is the normalized outcome of one successful completion.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
	LatencyMs    int64
}

// Config describes one upstream provider entry. It is immutable after load.
type Config struct {
	Name     string
	Kind     string // "openai", "claude" or "gemini"
	Endpoint string
	APIKey   string
	Model    string

	// Request template rules
	ModelAliases map[string]string
	Headers      map[string]string

	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Timeout          time.Duration
}

// UpstreamModel resolves the configured model through the alias table.
func (c Config) UpstreamModel() string {
	if target, ok := c.ModelAliases[c.Model]; ok && strings.TrimSpace(target) != "" {
		return target
	}
	return c.Model
}

// Provider performs a single completion attempt. Implementations never retry.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (*Result, error)
	Name() string
}
