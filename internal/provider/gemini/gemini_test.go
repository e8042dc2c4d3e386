package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vnmchuo/chat-backend/internal/provider"
)

func TestComplete_Mock(t *testing.T) {
	var path, apiKey string
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		apiKey = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)

		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content: geminiContent{
						Parts: []geminiPart{{Text: "Hello from mock!"}},
					},
				},
			},
			UsageMetadata: &geminiUsageMetadata{
				PromptTokenCount:     10,
				CandidatesTokenCount: 20,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := New(provider.Config{
		APIKey:   "test-key",
		Endpoint: server.URL + "/v1beta/models/{model}:generateContent",
		Model:    "gemini-2.0-flash",
	}, nil)

	resp, err := p.Complete(context.Background(), []provider.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "again"},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Text != "Hello from mock!" {
		t.Errorf("Expected 'Hello from mock!', got %s", resp.Text)
	}
	if resp.InputTokens != 10 {
		t.Errorf("Expected 10 input tokens, got %d", resp.InputTokens)
	}
	if resp.OutputTokens != 20 {
		t.Errorf("Expected 20 output tokens, got %d", resp.OutputTokens)
	}
	if path != "/v1beta/models/gemini-2.0-flash:generateContent" {
		t.Errorf("Expected model in path, got %s", path)
	}
	if apiKey != "test-key" {
		t.Errorf("Expected api key header, got %q", apiKey)
	}
	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != "be brief" {
		t.Errorf("Expected system instruction, got %+v", captured.SystemInstruction)
	}
	if len(captured.Contents) != 3 || captured.Contents[1].Role != "model" {
		t.Errorf("Expected assistant turns mapped to model, got %+v", captured.Contents)
	}
}

func TestComplete_RegionBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"User location is not supported for the API use.","status":"FAILED_PRECONDITION"}}`))
	}))
	defer server.Close()

	p := New(provider.Config{Endpoint: server.URL, Model: "gemini-1.5-flash"}, nil)
	_, err := p.Complete(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, provider.ErrProvider) {
		t.Fatalf("Expected ErrProvider, got %v", err)
	}
	if !provider.IsRegionBlocked(err) {
		t.Errorf("Expected region block to be detected in %v", err)
	}
}

func TestComplete_NoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[],"usageMetadata":{"promptTokenCount":4}}`))
	}))
	defer server.Close()

	p := New(provider.Config{Endpoint: server.URL}, nil)
	_, err := p.Complete(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, provider.ErrMalformedResponse) {
		t.Errorf("Expected ErrMalformedResponse, got %v", err)
	}
}
