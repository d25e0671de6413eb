// Command mcpgate runs the MCP gateway: a streaming HTTP (or stdio) front
// that authenticates bearer tokens, manages protocol sessions, and forwards
// tool calls to a backing service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcpgate/mcpgate/auth"
	"github.com/mcpgate/mcpgate/backend"
	"github.com/mcpgate/mcpgate/cache"
	memorycache "github.com/mcpgate/mcpgate/cache/memory"
	rediscache "github.com/mcpgate/mcpgate/cache/redis"
	"github.com/mcpgate/mcpgate/config"
	"github.com/mcpgate/mcpgate/internal/engine"
	"github.com/mcpgate/mcpgate/internal/introspect"
	"github.com/mcpgate/mcpgate/internal/jwtauth"
	"github.com/mcpgate/mcpgate/internal/logctx"
	"github.com/mcpgate/mcpgate/sessions"
	"github.com/mcpgate/mcpgate/stdio"
	"github.com/mcpgate/mcpgate/streaminghttp"
	"github.com/mcpgate/mcpgate/tools"
)

// searchArgs is the input shape of the search tool.
type searchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results"`
}

// fetchArgs is the input shape of the fetch tool.
type fetchArgs struct {
	URI string `json:"uri" jsonschema:"required,description=Resource identifier to fetch"`
}

func main() {
	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, nil)})
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("mcpgate.fail", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := newCacheStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.BackendURL == "" {
		return errors.New("MCPGATE_BACKEND_URL is required")
	}
	invoker, err := backend.NewHTTPInvoker(cfg.BackendURL, cfg.BackendTimeout)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(
		tools.New[searchArgs]("search", "Search the backing service"),
		tools.New[fetchArgs]("fetch", "Fetch a resource from the backing service"),
	)
	dispatcher := tools.NewDispatcher(registry, invoker)

	sessionRegistry := sessions.NewRegistry()
	defer sessionRegistry.CloseAll()

	eng := engine.New(sessionRegistry, dispatcher, engine.WithLogger(log))

	switch cfg.Transport {
	case "stdio":
		log.Info("mcpgate.start", slog.String("transport", "stdio"))
		return stdio.New(eng, stdio.WithLogger(log)).Run(ctx)
	default:
		authenticator, security, err := newAuthenticator(ctx, cfg, store, log)
		if err != nil {
			return err
		}
		return runHTTP(ctx, cfg, eng, authenticator, security, log)
	}
}

func runHTTP(ctx context.Context, cfg *config.Config, eng *engine.Engine, authenticator auth.Authenticator, security *streaminghttp.SecurityConfig, log *slog.Logger) error {
	opts := []streaminghttp.Option{
		streaminghttp.WithLogger(log),
		streaminghttp.WithServerName("mcpgate"),
		streaminghttp.WithRealm("MCP"),
	}
	if security != nil {
		opts = append(opts, streaminghttp.WithSecurityConfig(*security))
	}
	handler, err := streaminghttp.New(cfg.Endpoint(), eng, authenticator, opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("mcpgate.start",
			slog.String("transport", "http"),
			slog.String("addr", srv.Addr),
			slog.String("endpoint", cfg.Endpoint()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	log.Info("mcpgate.stop")
	return nil
}

func newCacheStore(cfg *config.Config) (cache.Cache, error) {
	if cfg.CacheBackend == "redis" {
		return rediscache.New(rediscache.Config{
			Client: redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
		})
	}
	return memorycache.New(1024)
}

// newAuthenticator resolves the auth posture. A partially configured flow
// disables auth with a logged warning naming the missing keys; only an
// unknown flow selector is fatal.
func newAuthenticator(ctx context.Context, cfg *config.Config, store cache.Cache, log *slog.Logger) (auth.Authenticator, *streaminghttp.SecurityConfig, error) {
	mode, missing, err := cfg.ResolveAuthMode()
	if err != nil {
		return nil, nil, err
	}
	if len(missing) > 0 {
		log.Warn("auth.config.partial",
			slog.String("flow", cfg.AuthFlow),
			slog.Any("missing", missing),
			slog.String("detail", "authentication disabled"))
	}

	return buildAuthenticator(ctx, mode, cfg, store, log)
}

func buildAuthenticator(ctx context.Context, mode config.AuthMode, cfg *config.Config, store cache.Cache, log *slog.Logger) (auth.Authenticator, *streaminghttp.SecurityConfig, error) {
	switch mode {
	case config.AuthSigned:
		jcfg := jwtauth.DefaultConfig()
		jcfg.Issuer = cfg.Issuer
		jcfg.JWKSURL = cfg.JWKSURL
		jcfg.ExpectedAudiences = []string{cfg.Audience}
		jcfg.CacheTTL = cfg.AuthCacheTTL

		if cfg.JWKSFile != "" {
			a, err := jwtauth.NewFromFile(ctx, jcfg, cfg.JWKSFile, log)
			if err != nil {
				return nil, nil, err
			}
			return a, &streaminghttp.SecurityConfig{
				Issuer:        cfg.Issuer,
				TokenEndpoint: cfg.TokenEndpoint,
			}, nil
		}

		var a *jwtauth.Authenticator
		var err error
		if cfg.JWKSURL != "" {
			a, err = jwtauth.New(jcfg, store, nil)
		} else {
			a, err = jwtauth.NewFromDiscovery(ctx, jcfg, store, nil)
		}
		if err != nil {
			return nil, nil, err
		}
		tokenEndpoint := cfg.TokenEndpoint
		if tokenEndpoint == "" {
			tokenEndpoint = a.TokenEndpoint()
		}
		return a, &streaminghttp.SecurityConfig{
			Issuer:        cfg.Issuer,
			JWKSURL:       a.JWKSURL(),
			TokenEndpoint: tokenEndpoint,
		}, nil

	case config.AuthOpaque:
		a, err := introspect.New(&introspect.Config{
			EndpointURL: cfg.IntrospectionURL,
			CacheTTL:    cfg.AuthCacheTTL,
		}, store, nil)
		if err != nil {
			return nil, nil, err
		}
		return a, &streaminghttp.SecurityConfig{
			Issuer:        cfg.Issuer,
			TokenEndpoint: cfg.TokenEndpoint,
		}, nil

	default:
		return nil, nil, nil
	}
}
