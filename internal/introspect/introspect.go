// Package introspect implements the opaque-token validation flow: the bearer
// token is resolved against a remote identity endpoint, and the resolved
// principal is cached per token for the configured TTL.
package introspect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mcpgate/mcpgate/auth"
	"github.com/mcpgate/mcpgate/cache"
)

// DefaultCacheTTL bounds how long a resolved principal is reused without a
// fresh round trip to the identity endpoint.
const DefaultCacheTTL = 24 * time.Hour

// Config controls the opaque-token flow.
type Config struct {
	// EndpointURL is the identity endpoint queried with the token as a
	// bearer credential. A 2xx response body is the principal's claims.
	EndpointURL string
	// CacheTTL bounds the verdict's staleness window. Zero means DefaultCacheTTL.
	CacheTTL time.Duration
}

// Authenticator resolves opaque tokens remotely.
type Authenticator struct {
	cfg    *Config
	cache  cache.Cache
	client *http.Client
}

// New constructs an opaque-flow authenticator.
func New(cfg *Config, store cache.Cache, client *http.Client) (*Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.EndpointURL == "" {
		return nil, errors.New("introspection endpoint url is required")
	}
	if store == nil {
		return nil, errors.New("cache is required")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Authenticator{cfg: cfg, cache: store, client: client}, nil
}

// CheckAuthentication resolves the token, consulting the cache first. Only
// successful resolutions are cached; failures are always re-verified.
func (a *Authenticator) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	if tok == "" {
		return nil, auth.ErrInvalidToken
	}

	key := a.cacheKey(tok)
	if item, err := a.cache.Get(ctx, key); err == nil && item != nil {
		return a.userFromBody(tok, item.Data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.EndpointURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrIntrospectionFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrIntrospectionFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", auth.ErrIntrospectionFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrIntrospectionFailed, err)
	}

	if err := a.cache.Set(ctx, key, body, a.cfg.CacheTTL); err != nil {
		return nil, fmt.Errorf("%w: cache write: %v", auth.ErrIntrospectionFailed, err)
	}
	return a.userFromBody(tok, body)
}

// userFromBody builds the principal from the identity endpoint's response.
// The body is carried opaquely as claims; sub and email are the only fields
// inspected, and only to derive a stable principal id.
func (a *Authenticator) userFromBody(tok string, body []byte) (auth.UserInfo, error) {
	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("%w: invalid response body: %v", auth.ErrIntrospectionFailed, err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		sub, _ = claims["email"].(string)
	}
	if sub == "" {
		sub = a.cacheKey(tok)
	}
	return &auth.ClaimsUser{Subject: sub, Map: claims}, nil
}

// cacheKey composes the verdict key from the endpoint and a token digest, so
// raw credentials never appear as cache keys.
func (a *Authenticator) cacheKey(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return "introspect:" + a.cfg.EndpointURL + ":" + hex.EncodeToString(sum[:])
}

var _ auth.Authenticator = (*Authenticator)(nil)
