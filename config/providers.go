package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vnmchuo/chat-backend/internal/provider"
)

const (
	DefaultPreset    = "balanced"
	defaultMaxTokens = 2048
	defaultTimeout   = 60 * time.Second
)

// Preset supplies generation defaults that per-provider values override.
type Preset struct {
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

var presets = map[string]Preset{
	"creative": {Temperature: 0.9, TopP: 0.95, FrequencyPenalty: 0.2, PresencePenalty: 0.3},
	"balanced": {Temperature: 0.7, TopP: 0.9, FrequencyPenalty: 0.1, PresencePenalty: 0.1},
	"precise":  {Temperature: 0.3, TopP: 0.8, FrequencyPenalty: 0, PresencePenalty: 0},
}

func LookupPreset(name string) (Preset, error) {
	p, ok := presets[strings.ToLower(name)]
	if !ok {
		return Preset{}, fmt.Errorf("unknown model preset %q (want creative, balanced or precise)", name)
	}
	return p, nil
}

// providerEntry is one declared provider before credentials and defaults
// are resolved. Unset numeric fields stay nil so presets can fill them.
type providerEntry struct {
	Name             string            `yaml:"name"`
	Kind             string            `yaml:"kind"`
	Endpoint         string            `yaml:"endpoint"`
	APIKey           string            `yaml:"api_key"`
	APIKeyEnv        string            `yaml:"api_key_env"`
	Model            string            `yaml:"model"`
	ModelAliases     map[string]string `yaml:"model_aliases"`
	Headers          map[string]string `yaml:"headers"`
	Temperature      *float64          `yaml:"temperature"`
	MaxTokens        *int              `yaml:"max_tokens"`
	TopP             *float64          `yaml:"top_p"`
	FrequencyPenalty *float64          `yaml:"frequency_penalty"`
	PresencePenalty  *float64          `yaml:"presence_penalty"`
	Timeout          string            `yaml:"timeout"`
}

type providerFile struct {
	Providers []providerEntry `yaml:"providers"`
}

func loadProviderFile(path string) ([]providerEntry, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve providers file path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read providers file %q: %w", absPath, err)
	}

	var f providerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse providers file %q: %w", absPath, err)
	}

	for i := range f.Providers {
		e := &f.Providers[i]
		if e.APIKey == "" && e.APIKeyEnv != "" {
			e.APIKey = os.Getenv(e.APIKeyEnv)
		}
	}
	return f.Providers, nil
}

// Built-in providers selectable through PROVIDER_ORDER.
var envProviders = map[string]struct {
	kind   string
	prefix string
	model  string
}{
	"anthropic": {kind: "claude", prefix: "ANTHROPIC_", model: "claude-3-5-haiku-latest"},
	"gemini":    {kind: "gemini", prefix: "GEMINI_", model: "gemini-2.0-flash"},
	"openai":    {kind: "openai", prefix: "OPENAI_", model: "gpt-4o-mini"},
}

func providersFromEnv(order string) ([]providerEntry, error) {
	var entries []providerEntry
	for _, name := range strings.Split(order, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		def, ok := envProviders[name]
		if !ok {
			return nil, fmt.Errorf("PROVIDER_ORDER: unknown provider %q", name)
		}

		e := providerEntry{
			Name:     name,
			Kind:     def.kind,
			APIKey:   os.Getenv(def.prefix + "API_KEY"),
			Endpoint: os.Getenv(def.prefix + "API_URL"),
			Model:    getEnv(def.prefix+"MODEL", def.model),
			Timeout:  os.Getenv(def.prefix + "TIMEOUT"),
		}

		var err error
		if e.Temperature, err = envFloat(def.prefix + "TEMPERATURE"); err != nil {
			return nil, err
		}
		if e.TopP, err = envFloat(def.prefix + "TOP_P"); err != nil {
			return nil, err
		}
		if e.FrequencyPenalty, err = envFloat(def.prefix + "FREQUENCY_PENALTY"); err != nil {
			return nil, err
		}
		if e.PresencePenalty, err = envFloat(def.prefix + "PRESENCE_PENALTY"); err != nil {
			return nil, err
		}
		if v := os.Getenv(def.prefix + "MAX_TOKENS"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %sMAX_TOKENS: %w", def.prefix, err)
			}
			e.MaxTokens = &n
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// resolveProviders applies defaults and drops entries without credentials.
// A single declared provider without a key is fatal. With several, the
// keyless ones are skipped and an empty result is allowed.
func resolveProviders(entries []providerEntry, preset Preset, warnings *[]string) ([]provider.Config, error) {
	seen := make(map[string]bool)
	out := make([]provider.Config, 0, len(entries))

	for _, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("provider entry with kind %q has no name", e.Kind)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("provider %s declared twice", e.Name)
		}
		seen[e.Name] = true

		switch e.Kind {
		case "openai", "claude", "gemini":
		default:
			return nil, fmt.Errorf("provider %s: kind %q must be one of openai, claude or gemini", e.Name, e.Kind)
		}
		for alias, target := range e.ModelAliases {
			if strings.TrimSpace(alias) == "" || strings.TrimSpace(target) == "" {
				return nil, fmt.Errorf("provider %s: model alias entries must not be empty", e.Name)
			}
		}

		if strings.TrimSpace(e.APIKey) == "" {
			if len(entries) == 1 {
				return nil, fmt.Errorf("provider %s: API key is required", e.Name)
			}
			*warnings = append(*warnings, fmt.Sprintf("provider %s has no API key, skipping", e.Name))
			continue
		}

		timeout := defaultTimeout
		if e.Timeout != "" {
			d, err := parseTimeout(e.Timeout)
			if err != nil {
				return nil, fmt.Errorf("provider %s: invalid timeout %q: %w", e.Name, e.Timeout, err)
			}
			timeout = d
		}

		out = append(out, provider.Config{
			Name:             e.Name,
			Kind:             e.Kind,
			Endpoint:         e.Endpoint,
			APIKey:           e.APIKey,
			Model:            e.Model,
			ModelAliases:     e.ModelAliases,
			Headers:          e.Headers,
			Temperature:      orFloat(e.Temperature, preset.Temperature),
			MaxTokens:        orInt(e.MaxTokens, defaultMaxTokens),
			TopP:             orFloat(e.TopP, preset.TopP),
			FrequencyPenalty: orFloat(e.FrequencyPenalty, preset.FrequencyPenalty),
			PresencePenalty:  orFloat(e.PresencePenalty, preset.PresencePenalty),
			Timeout:          timeout,
		})
	}

	if len(entries) > 0 && len(out) == 0 {
		*warnings = append(*warnings, "no provider has an API key, every chat turn will return the not-configured reply")
	}
	return out, nil
}

// parseTimeout accepts Go durations ("90s") or bare seconds ("60").
func parseTimeout(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("must be positive")
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}

func envFloat(key string) (*float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &f, nil
}

func orFloat(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}

func orInt(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}
