package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vnmchuo/chat-backend/internal/provider"
)

const DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider speaks the chat completions wire format. Any
// OpenAI-compatible endpoint (OpenRouter, DeepSeek, local gateways) works
// by pointing Endpoint elsewhere.
type OpenAIProvider struct {
	cfg    provider.Config
	client *http.Client
}

type openAIRequest struct {
	Model            string          `json:"model"`
	Messages         []openAIMessage `json:"messages"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	Temperature      float64         `json:"temperature"`
	TopP             float64         `json:"top_p,omitempty"`
	FrequencyPenalty float64         `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64         `json:"presence_penalty,omitempty"`
	Stream           bool            `json:"stream"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage"`
	Model   string         `json:"model"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func New(cfg provider.Config, client *http.Client) provider.Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	return &OpenAIProvider{cfg: cfg, client: client}
}

func (p *OpenAIProvider) Complete(ctx context.Context, messages []provider.Message) (*provider.Result, error) {
	start := time.Now()

	headers := map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", p.cfg.APIKey),
	}

	var openAIResp openAIResponse
	if err := provider.PostJSON(ctx, p.client, p.cfg, p.cfg.Endpoint, headers, p.mapRequest(messages), &openAIResp); err != nil {
		return nil, err
	}

	if len(openAIResp.Choices) == 0 {
		return nil, provider.Malformed(p.Name(), "openai api returned no choices")
	}
	content := openAIResp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, provider.Malformed(p.Name(), "openai api returned an empty message")
	}

	result := &provider.Result{
		Text:      content,
		Model:     openAIResp.Model,
		Provider:  p.Name(),
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if result.Model == "" {
		result.Model = p.cfg.UpstreamModel()
	}
	if openAIResp.Usage != nil {
		result.InputTokens = provider.NonNegative(openAIResp.Usage.PromptTokens)
		result.OutputTokens = provider.NonNegative(openAIResp.Usage.CompletionTokens)
	}
	return result, nil
}

func (p *OpenAIProvider) mapRequest(messages []provider.Message) openAIRequest {
	mapped := make([]openAIMessage, len(messages))
	for i, m := range messages {
		mapped[i] = openAIMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	return openAIRequest{
		Model:            p.cfg.UpstreamModel(),
		Messages:         mapped,
		MaxTokens:        p.cfg.MaxTokens,
		Temperature:      p.cfg.Temperature,
		TopP:             p.cfg.TopP,
		FrequencyPenalty: p.cfg.FrequencyPenalty,
		PresencePenalty:  p.cfg.PresencePenalty,
	}
}

func (p *OpenAIProvider) Name() string {
	return p.cfg.Name
}
