package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

const maxResponseBytes = 8 << 20

// PostJSON performs exactly one POST of payload to url, bounded by the
// config's timeout, and decodes a 2xx body into out. Every failure is
// returned as an *Error carrying its kind.
func PostJSON(ctx context.Context, client *http.Client, cfg Config, url string, headers map[string]string, payload, out any) error {
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Provider: cfg.Name, Kind: ErrProvider, Err: fmt.Errorf("marshal request: %w", err)}
	}

	attemptCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Provider: cfg.Name, Kind: ErrProvider, Err: fmt.Errorf("construct request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return transportError(ctx, attemptCtx, cfg.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(ctx, attemptCtx, cfg.Name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Provider:   cfg.Name,
			Kind:       statusKind(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Detail:     ExtractDetail(respBody),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Provider: cfg.Name, Kind: ErrMalformedResponse, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

// transportError separates our own deadline from the caller going away.
func transportError(parent, attempt context.Context, name string, err error) error {
	kind := ErrNetwork
	var ne net.Error
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		kind = ErrNetwork
	case errors.Is(attempt.Err(), context.DeadlineExceeded):
		kind = ErrTimeout
	case errors.As(err, &ne) && ne.Timeout():
		kind = ErrTimeout
	}
	return &Error{Provider: name, Kind: kind, Err: err}
}

// Malformed reports a 2xx response that carried no usable reply.
func Malformed(name, reason string) error {
	return &Error{Provider: name, Kind: ErrMalformedResponse, Detail: reason}
}

// NonNegative clamps provider-reported token counts.
func NonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
