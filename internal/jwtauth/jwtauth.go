// Package jwtauth implements the signed-token validation flow: bearer JWTs
// verified against a JWKS document fetched through the gateway's TTL cache.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mcpgate/mcpgate/auth"
	"github.com/mcpgate/mcpgate/cache"
)

// DefaultCacheTTL bounds how long a fetched key set is trusted before the
// next validation refetches it.
const DefaultCacheTTL = 24 * time.Hour

// Config controls validation behavior for signed access tokens.
type Config struct {
	// Issuer, when set, is enforced against the iss claim.
	Issuer string
	// JWKSURL is the key set document location.
	JWKSURL string
	// ExpectedAudiences lists the audiences accepted in the aud claim; a
	// token must carry at least one of them.
	ExpectedAudiences []string
	AllowedAlgs       []string
	Leeway            time.Duration
	// CacheTTL bounds the key set's staleness window. Zero means DefaultCacheTTL.
	CacheTTL time.Duration
}

// DefaultConfig returns a Config with safe algorithm and leeway defaults.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
		CacheTTL:    DefaultCacheTTL,
	}
}

func (c *Config) normalize() {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
}

// Authenticator validates signed bearer tokens. Key set fetches go through
// the shared cache so repeated validations within the TTL window cost no
// network round trips.
type Authenticator struct {
	cfg           *Config
	cache         cache.Cache
	client        *http.Client
	tokenEndpoint string
}

// New constructs a signed-flow authenticator with an explicit JWKS URL.
func New(cfg *Config, store cache.Cache, client *http.Client) (*Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.JWKSURL == "" {
		return nil, errors.New("jwks url is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	if store == nil {
		return nil, errors.New("cache is required")
	}
	cfg.normalize()
	if client == nil {
		client = http.DefaultClient
	}
	return &Authenticator{cfg: cfg, cache: store, client: client}, nil
}

// NewFromDiscovery resolves jwks_uri and token_endpoint from the issuer's
// OIDC discovery document, then builds a signed-flow authenticator.
func NewFromDiscovery(ctx context.Context, cfg *Config, store cache.Cache, client *http.Client) (*Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI       string `json:"jwks_uri"`
		TokenEndpoint string `json:"token_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, fmt.Errorf("discovery incomplete: missing jwks_uri")
	}

	cfg.JWKSURL = meta.JwksURI
	a, err := New(cfg, store, client)
	if err != nil {
		return nil, err
	}
	a.tokenEndpoint = meta.TokenEndpoint
	return a, nil
}

// JWKSURL returns the key set location, after discovery if applicable.
func (a *Authenticator) JWKSURL() string { return a.cfg.JWKSURL }

// TokenEndpoint returns the discovered token endpoint, if any.
func (a *Authenticator) TokenEndpoint() string { return a.tokenEndpoint }

// CheckAuthentication validates a signed token: signature against the cached
// key set, required expiry, optional issuer, and audience intersection.
// Every failure maps to one of the auth error kinds.
func (a *Authenticator) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	if tok == "" {
		return nil, auth.ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.cfg.Leeway),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	parsed, err := parser.Parse(tok, func(t *jwt.Token) (any, error) {
		return a.keyForToken(ctx, t)
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrNoMatchingKey):
			return nil, auth.ErrNoMatchingKey
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, auth.ErrExpired
		default:
			return nil, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
		}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, auth.ErrInvalidToken
	}

	// Audience is checked after parsing so the failure keeps its own kind
	// rather than folding into the parser's generic validation error.
	if !audIntersects(claims["aud"], a.cfg.ExpectedAudiences) {
		return nil, auth.ErrAudienceMismatch
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", auth.ErrInvalidToken)
	}

	return &auth.ClaimsUser{Subject: sub, Map: claims}, nil
}

// keyForToken resolves the verification key for the token's kid from the
// (possibly cached) key set.
func (a *Authenticator) keyForToken(ctx context.Context, t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: token header missing kid", auth.ErrNoMatchingKey)
	}

	raw, err := a.fetchKeySet(ctx)
	if err != nil {
		return nil, err
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("invalid key set document: %w", err)
	}
	keys := set.Key(kid)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: kid %q not in key set", auth.ErrNoMatchingKey, kid)
	}
	return keys[0].Key, nil
}

// fetchKeySet returns the JWKS document, from cache while within TTL and
// from the network otherwise.
func (a *Authenticator) fetchKeySet(ctx context.Context) ([]byte, error) {
	key := "jwks:" + a.cfg.JWKSURL
	if item, err := a.cache.Get(ctx, key); err == nil && item != nil {
		return item.Data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.JWKSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build jwks request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks fetch failed: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("jwks read failed: %w", err)
	}

	if err := a.cache.Set(ctx, key, body, a.cfg.CacheTTL); err != nil {
		return nil, fmt.Errorf("jwks cache write failed: %w", err)
	}
	return body, nil
}

func audIntersects(aud any, wants []string) bool {
	wantSet := make(map[string]struct{}, len(wants))
	for _, w := range wants {
		wantSet[w] = struct{}{}
	}
	switch v := aud.(type) {
	case string:
		_, ok := wantSet[v]
		return ok
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if _, ok2 := wantSet[s]; ok2 {
					return true
				}
			}
		}
	case []string:
		for _, s := range v {
			if _, ok := wantSet[s]; ok {
				return true
			}
		}
	}
	return false
}

var _ auth.Authenticator = (*Authenticator)(nil)
