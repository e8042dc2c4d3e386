// Package tokenizer estimates token counts for rate limiting and message
// bookkeeping.
package tokenizer

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const (
	EncodingCL100kBase = "cl100k_base"
	EncodingO200kBase  = "o200k_base"
)

// Longest prefixes first.
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", EncodingO200kBase},
	{"gpt-4.1", EncodingO200kBase},
	{"gpt-3.5", EncodingCL100kBase},
	{"gpt-4", EncodingCL100kBase},
	{"o1", EncodingO200kBase},
	{"o3", EncodingO200kBase},
}

// Counter counts tokens with tiktoken. An encoding that cannot be loaded is
// remembered, and every later count for it uses Estimate.
type Counter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
	failed    map[string]bool
	load      func(name string) (*tiktoken.Tiktoken, error)
	logger    *slog.Logger
}

func New(logger *slog.Logger) *Counter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{
		encodings: make(map[string]*tiktoken.Tiktoken),
		failed:    make(map[string]bool),
		load:      tiktoken.GetEncoding,
		logger:    logger,
	}
}

// Count returns the token count of text under the model's encoding.
func (c *Counter) Count(text, model string) int {
	if text == "" {
		return 0
	}

	enc := c.encoding(resolveEncoding(model))
	if enc == nil {
		return Estimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (c *Counter) encoding(name string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encodings[name]; ok {
		return enc
	}
	if c.failed[name] {
		return nil
	}

	enc, err := c.load(name)
	if err != nil {
		c.failed[name] = true
		c.logger.Warn("tokenizer encoding unavailable, estimating", "encoding", name, "error", err)
		return nil
	}
	c.encodings[name] = enc
	return enc
}

func resolveEncoding(model string) string {
	model = strings.ToLower(model)
	for _, me := range modelEncodings {
		if strings.HasPrefix(model, me.prefix) {
			return me.encoding
		}
	}
	return EncodingCL100kBase
}

// Estimate is the rough four-characters-per-token rule.
func Estimate(text string) int {
	return len(text) / 4
}
