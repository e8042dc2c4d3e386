package gemini

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/vnmchuo/chat-backend/internal/provider"
)

// DefaultEndpoint carries a {model} placeholder filled per request.
const DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/{model}:generateContent"

type GeminiProvider struct {
	cfg    provider.Config
	client *http.Client
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"topP,omitempty"`
	FrequencyPenalty float64 `json:"frequencyPenalty,omitempty"`
	PresencePenalty  float64 `json:"presencePenalty,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
	ModelVersion  string               `json:"modelVersion"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

func New(cfg provider.Config, client *http.Client) provider.Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Name == "" {
		cfg.Name = "gemini"
	}
	return &GeminiProvider{cfg: cfg, client: client}
}

func (p *GeminiProvider) Complete(ctx context.Context, messages []provider.Message) (*provider.Result, error) {
	start := time.Now()

	url := strings.ReplaceAll(p.cfg.Endpoint, "{model}", p.cfg.UpstreamModel())
	headers := map[string]string{
		"x-goog-api-key": p.cfg.APIKey,
	}

	var geminiResp geminiResponse
	if err := provider.PostJSON(ctx, p.client, p.cfg, url, headers, p.mapRequest(messages), &geminiResp); err != nil {
		return nil, err
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return nil, provider.Malformed(p.Name(), "gemini api returned no candidates")
	}

	var text strings.Builder
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, provider.Malformed(p.Name(), "gemini api returned an empty candidate")
	}

	result := &provider.Result{
		Text:      text.String(),
		Model:     geminiResp.ModelVersion,
		Provider:  p.Name(),
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if result.Model == "" {
		result.Model = p.cfg.UpstreamModel()
	}
	if geminiResp.UsageMetadata != nil {
		result.InputTokens = provider.NonNegative(geminiResp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = provider.NonNegative(geminiResp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

func (p *GeminiProvider) mapRequest(messages []provider.Message) geminiRequest {
	var system []geminiPart
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		if m.Role == provider.RoleSystem {
			system = append(system, geminiPart{Text: m.Content})
			continue
		}
		role := "user"
		if m.Role == provider.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	req := geminiRequest{
		Contents: contents,
		GenerationConfig: generationConfig{
			MaxOutputTokens:  p.cfg.MaxTokens,
			Temperature:      p.cfg.Temperature,
			TopP:             p.cfg.TopP,
			FrequencyPenalty: p.cfg.FrequencyPenalty,
			PresencePenalty:  p.cfg.PresencePenalty,
		},
	}
	if len(system) > 0 {
		req.SystemInstruction = &geminiContent{Parts: system}
	}
	return req
}

func (p *GeminiProvider) Name() string {
	return p.cfg.Name
}
