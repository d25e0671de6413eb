package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mcpgate/mcpgate/auth"
)

// FileAuthenticator validates signed tokens against a JWKS document loaded
// from the local filesystem. Intended for air-gapped deployments where no
// key server is reachable; the file is hot-reloaded on change.
type FileAuthenticator struct {
	cfg  *Config
	path string
	log  *slog.Logger

	mu sync.RWMutex
	kf keyfunc.Keyfunc
}

// NewFromFile loads the JWKS at path and watches it for changes until ctx
// is canceled.
func NewFromFile(ctx context.Context, cfg *Config, path string, log *slog.Logger) (*FileAuthenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	cfg.normalize()
	if log == nil {
		log = slog.Default()
	}

	a := &FileAuthenticator{cfg: cfg, path: path, log: log}
	if err := a.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create jwks watcher: %w", err)
	}
	// Watch the directory: editors replace files rather than write in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch jwks file: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := a.reload(); err != nil {
					a.log.Error("jwks.reload.fail", slog.String("path", path), slog.String("err", err.Error()))
					continue
				}
				a.log.Info("jwks.reload.ok", slog.String("path", path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				a.log.Error("jwks.watch.fail", slog.String("err", err.Error()))
			}
		}
	}()

	return a, nil
}

func (a *FileAuthenticator) reload() error {
	raw, err := os.ReadFile(a.path)
	if err != nil {
		return fmt.Errorf("failed to read jwks file: %w", err)
	}
	kf, err := keyfunc.NewJWKSetJSON(json.RawMessage(raw))
	if err != nil {
		return fmt.Errorf("invalid jwks file: %w", err)
	}
	a.mu.Lock()
	a.kf = kf
	a.mu.Unlock()
	return nil
}

// CheckAuthentication mirrors the network-backed authenticator's checks with
// the local key set.
func (a *FileAuthenticator) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	if tok == "" {
		return nil, auth.ErrInvalidToken
	}

	a.mu.RLock()
	kf := a.kf
	a.mu.RUnlock()

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.cfg.Leeway),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	parsed, err := jwt.NewParser(opts...).Parse(tok, kf.Keyfunc)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, auth.ErrExpired
		case errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, fmt.Errorf("%w: %v", auth.ErrNoMatchingKey, err)
		default:
			return nil, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
		}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	if !audIntersects(claims["aud"], a.cfg.ExpectedAudiences) {
		return nil, auth.ErrAudienceMismatch
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", auth.ErrInvalidToken)
	}
	return &auth.ClaimsUser{Subject: sub, Map: claims}, nil
}

var _ auth.Authenticator = (*FileAuthenticator)(nil)
