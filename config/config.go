// Package config loads the gateway's environment configuration and decides
// the authentication posture. Auth is enabled only when the selected flow has
// its full required key set; partial configuration falls back to disabled
// with the missing keys reported so the caller can log the posture.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/mcpgate/mcpgate/auth"
)

// Config is the full environment surface.
type Config struct {
	// Transport selects "http" or "stdio".
	Transport string `env:"MCPGATE_TRANSPORT,default=http"`
	Host      string `env:"MCPGATE_HOST,default=0.0.0.0"`
	Port      int    `env:"MCPGATE_PORT,default=8080"`
	// PublicEndpoint is the externally visible URL of the MCP endpoint.
	// Defaults to http://<host>:<port>/mcp when empty.
	PublicEndpoint string `env:"MCPGATE_PUBLIC_ENDPOINT"`

	// AuthFlow selects "signed" or "opaque". Empty disables authentication.
	AuthFlow string `env:"MCPGATE_AUTH_FLOW"`
	// Signed flow: one of JWKSURL, JWKSFile, or Issuer (OIDC discovery) plus
	// an expected audience.
	JWKSURL  string `env:"MCPGATE_JWKS_URL"`
	JWKSFile string `env:"MCPGATE_JWKS_FILE"`
	Issuer   string `env:"MCPGATE_ISSUER"`
	Audience string `env:"MCPGATE_AUDIENCE"`
	// Opaque flow: the identity endpoint tokens are resolved against.
	IntrospectionURL string `env:"MCPGATE_INTROSPECTION_URL"`
	// TokenEndpoint is advertised in the discovery document.
	TokenEndpoint string        `env:"MCPGATE_TOKEN_ENDPOINT"`
	AuthCacheTTL  time.Duration `env:"MCPGATE_AUTH_CACHE_TTL,default=24h"`

	// CacheBackend selects "memory" or "redis" for validator lookups.
	CacheBackend string `env:"MCPGATE_CACHE_BACKEND,default=memory"`
	RedisAddr    string `env:"MCPGATE_REDIS_ADDR,default=localhost:6379"`

	// BackendURL is the backing service invocation endpoint.
	BackendURL     string        `env:"MCPGATE_BACKEND_URL"`
	BackendTimeout time.Duration `env:"MCPGATE_BACKEND_TIMEOUT,default=30s"`
}

// Load populates Config from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}
	if cfg.Transport != "http" && cfg.Transport != "stdio" {
		return nil, fmt.Errorf("invalid transport %q: expected http or stdio", cfg.Transport)
	}
	if cfg.CacheBackend != "memory" && cfg.CacheBackend != "redis" {
		return nil, fmt.Errorf("invalid cache backend %q: expected memory or redis", cfg.CacheBackend)
	}
	return &cfg, nil
}

// ListenAddr returns the host:port bind address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Endpoint returns the public MCP endpoint URL.
func (c *Config) Endpoint() string {
	if c.PublicEndpoint != "" {
		return c.PublicEndpoint
	}
	host := c.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/mcp", net.JoinHostPort(host, strconv.Itoa(c.Port)))
}

// AuthMode is the resolved authentication posture.
type AuthMode int

const (
	AuthDisabled AuthMode = iota
	AuthSigned
	AuthOpaque
)

func (m AuthMode) String() string {
	switch m {
	case AuthSigned:
		return "signed"
	case AuthOpaque:
		return "opaque"
	default:
		return "disabled"
	}
}

// ResolveAuthMode decides the posture from the flow selector and its required
// keys. A partially configured flow resolves to AuthDisabled with the missing
// keys listed; an unknown selector is a configuration error.
func (c *Config) ResolveAuthMode() (AuthMode, []string, error) {
	switch c.AuthFlow {
	case "":
		return AuthDisabled, nil, nil
	case "signed":
		var missing []string
		if c.JWKSURL == "" && c.JWKSFile == "" && c.Issuer == "" {
			missing = append(missing, "MCPGATE_JWKS_URL|MCPGATE_JWKS_FILE|MCPGATE_ISSUER")
		}
		if c.Audience == "" {
			missing = append(missing, "MCPGATE_AUDIENCE")
		}
		if len(missing) > 0 {
			return AuthDisabled, missing, nil
		}
		return AuthSigned, nil, nil
	case "opaque":
		if c.IntrospectionURL == "" {
			return AuthDisabled, []string{"MCPGATE_INTROSPECTION_URL"}, nil
		}
		return AuthOpaque, nil, nil
	default:
		return AuthDisabled, nil, fmt.Errorf("%w: %q", auth.ErrUnsupportedFlow, c.AuthFlow)
	}
}
