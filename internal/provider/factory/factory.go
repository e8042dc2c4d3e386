package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vnmchuo/chat-backend/internal/provider"
	"github.com/vnmchuo/chat-backend/internal/provider/claude"
	"github.com/vnmchuo/chat-backend/internal/provider/gemini"
	"github.com/vnmchuo/chat-backend/internal/provider/openai"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// Build constructs providers in the given preference order. Per-attempt
// deadlines come from each config's Timeout, so the shared client has none.
func Build(configs []provider.Config) ([]provider.Provider, error) {
	client := newHTTPClient()

	providers := make([]provider.Provider, 0, len(configs))
	for _, cfg := range configs {
		var p provider.Provider
		switch cfg.Kind {
		case "openai":
			p = openai.New(cfg, client)
		case "claude":
			p = claude.New(cfg, client)
		case "gemini":
			p = gemini.New(cfg, client)
		default:
			return nil, fmt.Errorf("provider %q: unsupported kind %q", cfg.Name, cfg.Kind)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}
