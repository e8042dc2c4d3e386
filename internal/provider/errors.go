package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrAuth              = errors.New("provider authentication failed")
	ErrRateLimited       = errors.New("provider rate limited")
	ErrTimeout           = errors.New("provider request timed out")
	ErrNetwork           = errors.New("provider network error")
	ErrMalformedResponse = errors.New("provider returned a malformed response")
	ErrProvider          = errors.New("provider error")
)

// Error is the failure of one attempt against one provider.
type Error struct {
	Provider   string
	Kind       error
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName is a short label for logs and span attributes.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrProvider):
		return "provider_error"
	default:
		return "unknown"
	}
}

// statusKind maps a non-2xx status to its failure kind.
func statusKind(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuth
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	default:
		return ErrProvider
	}
}

type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

type errorObject struct {
	Message string `json:"message"`
}

// ExtractDetail pulls a human-readable message out of an error body.
// OpenAI, Anthropic and Gemini all nest it under error.message.
func ExtractDetail(body []byte) string {
	raw := strings.TrimSpace(string(body))

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return raw
	}

	if len(eb.Error) > 0 {
		var obj errorObject
		if err := json.Unmarshal(eb.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
		var s string
		if err := json.Unmarshal(eb.Error, &s); err == nil && s != "" {
			return s
		}
	}
	if eb.Message != "" {
		return eb.Message
	}
	return raw
}

var regionMarkers = []string{
	"unsupported_country",
	"country, region, or territory not supported",
	"location is not supported",
	"not available in your region",
	"not available in your country",
}

// IsRegionBlocked reports whether err looks like a geographic restriction.
func IsRegionBlocked(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	detail := strings.ToLower(pe.Detail)
	for _, m := range regionMarkers {
		if strings.Contains(detail, m) {
			return true
		}
	}
	return false
}
