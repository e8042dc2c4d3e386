package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
	maxIdentityCacheTTL = 5 * time.Minute
)

var googleIssuers = map[string]bool{
	"accounts.google.com":         true,
	"https://accounts.google.com": true,
}

// Identity is a verified external account.
type Identity struct {
	Subject   string
	Email     string
	Name      string
	AvatarURL string
	ExpiresAt time.Time
}

type tokenInfo struct {
	Aud     string `json:"aud"`
	Iss     string `json:"iss"`
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Exp     string `json:"exp"`
}

// GoogleVerifier checks Google ID tokens against the tokeninfo endpoint.
// Verified identities are cached until the token expires, capped at five
// minutes, and concurrent checks of one token share a single request.
type GoogleVerifier struct {
	clientID string
	endpoint string
	client   *http.Client
	cache    *ristretto.Cache[string, *Identity]
	group    singleflight.Group
	now      func() time.Time
}

type VerifierOption func(*GoogleVerifier)

func WithTokenInfoURL(u string) VerifierOption {
	return func(v *GoogleVerifier) { v.endpoint = u }
}

func WithHTTPClient(c *http.Client) VerifierOption {
	return func(v *GoogleVerifier) { v.client = c }
}

func NewGoogleVerifier(clientID string, opts ...VerifierOption) (*GoogleVerifier, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Identity]{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create identity cache: %w", err)
	}

	v := &GoogleVerifier{
		clientID: clientID,
		endpoint: DefaultTokenInfoURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		cache:    cache,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func (v *GoogleVerifier) Close() {
	v.cache.Close()
}

func (v *GoogleVerifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	// Without a client ID no audience can match, so sign-in is closed.
	if idToken == "" || v.clientID == "" {
		return nil, ErrInvalidToken
	}

	key := cacheKey(idToken)
	if id, ok := v.cache.Get(key); ok && v.now().Before(id.ExpiresAt) {
		return id, nil
	}

	out, err, _ := v.group.Do(key, func() (interface{}, error) {
		id, err := v.fetch(ctx, idToken)
		if err != nil {
			return nil, err
		}
		ttl := id.ExpiresAt.Sub(v.now())
		if ttl > maxIdentityCacheTTL {
			ttl = maxIdentityCacheTTL
		}
		if ttl > 0 {
			v.cache.SetWithTTL(key, id, 1, ttl)
			v.cache.Wait()
		}
		return id, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*Identity), nil
}

func (v *GoogleVerifier) fetch(ctx context.Context, idToken string) (*Identity, error) {
	reqURL := v.endpoint + "?id_token=" + url.QueryEscape(idToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tokeninfo request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokeninfo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read tokeninfo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ErrInvalidToken
	}

	var info tokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, ErrInvalidToken
	}
	if info.Sub == "" || !googleIssuers[info.Iss] {
		return nil, ErrInvalidToken
	}
	if info.Aud != v.clientID {
		return nil, ErrInvalidToken
	}

	exp, err := strconv.ParseInt(info.Exp, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	expiresAt := time.Unix(exp, 0)
	if !v.now().Before(expiresAt) {
		return nil, ErrExpired
	}

	name := info.Name
	if name == "" {
		name = info.Email
	}
	return &Identity{
		Subject:   info.Sub,
		Email:     info.Email,
		Name:      name,
		AvatarURL: info.Picture,
		ExpiresAt: expiresAt,
	}, nil
}

func cacheKey(token string) string {
	h := sha256.Sum256([]byte(token))
	return "google:" + hex.EncodeToString(h[:])
}
