package claude

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/vnmchuo/chat-backend/internal/provider"
)

const (
	DefaultEndpoint  = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

type ClaudeProvider struct {
	cfg    provider.Config
	client *http.Client
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	TopP        float64         `json:"top_p,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID      string          `json:"id"`
	Content []claudeContent `json:"content"`
	Model   string          `json:"model"`
	Usage   *claudeUsage    `json:"usage"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func New(cfg provider.Config, client *http.Client) provider.Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Name == "" {
		cfg.Name = "claude"
	}
	return &ClaudeProvider{cfg: cfg, client: client}
}

func (p *ClaudeProvider) Complete(ctx context.Context, messages []provider.Message) (*provider.Result, error) {
	start := time.Now()

	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}

	var claudeResp claudeResponse
	if err := provider.PostJSON(ctx, p.client, p.cfg, p.cfg.Endpoint, headers, p.mapRequest(messages), &claudeResp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, c := range claudeResp.Content {
		if c.Type == "text" || c.Type == "" {
			text.WriteString(c.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, provider.Malformed(p.Name(), "claude api returned no text content")
	}

	result := &provider.Result{
		Text:      text.String(),
		Model:     claudeResp.Model,
		Provider:  p.Name(),
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if result.Model == "" {
		result.Model = p.cfg.UpstreamModel()
	}
	if claudeResp.Usage != nil {
		result.InputTokens = provider.NonNegative(claudeResp.Usage.InputTokens)
		result.OutputTokens = provider.NonNegative(claudeResp.Usage.OutputTokens)
	}
	return result, nil
}

// mapRequest hoists system messages into the top-level system field; the
// messages API rejects them inline. Penalties have no Anthropic equivalent.
func (p *ClaudeProvider) mapRequest(messages []provider.Message) claudeRequest {
	var system []string
	var mapped []claudeMessage

	for _, m := range messages {
		if m.Role == provider.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := provider.RoleUser
		if m.Role == provider.RoleAssistant {
			role = provider.RoleAssistant
		}
		mapped = append(mapped, claudeMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	maxTokens := p.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	return claudeRequest{
		Model:       p.cfg.UpstreamModel(),
		MaxTokens:   maxTokens,
		System:      strings.Join(system, "\n\n"),
		Messages:    mapped,
		Temperature: p.cfg.Temperature,
		TopP:        p.cfg.TopP,
	}
}

func (p *ClaudeProvider) Name() string {
	return p.cfg.Name
}
