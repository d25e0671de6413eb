// Package auth defines the bearer-token validation contract shared by the
// gateway's transports and the two validator flows (signed JWT and opaque
// introspection). Validation failures are error kinds, not HTTP decisions;
// the transport maps them to status codes and challenges.
package auth

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnauthorized is the base kind for every validation failure. All the
// specific kinds below match it under errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

var (
	// ErrInvalidToken indicates the token was malformed or its signature
	// did not verify.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	// ErrNoMatchingKey indicates the key set contained no key for the
	// token's key id.
	ErrNoMatchingKey = fmt.Errorf("%w: no matching key", ErrUnauthorized)
	// ErrExpired indicates the token's exp claim is in the past.
	ErrExpired = fmt.Errorf("%w: token expired", ErrUnauthorized)
	// ErrAudienceMismatch indicates the aud claim does not include the
	// configured audience.
	ErrAudienceMismatch = fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	// ErrIntrospectionFailed indicates the identity endpoint rejected the
	// token or could not be reached.
	ErrIntrospectionFailed = fmt.Errorf("%w: introspection failed", ErrUnauthorized)
)

// ErrUnsupportedFlow indicates an unknown auth flow selector. It is a
// configuration fault, not a per-request validation failure.
var ErrUnsupportedFlow = errors.New("unsupported auth flow")

// UserInfo represents an authenticated principal.
// Implementations are immutable and safe for concurrent use.
type UserInfo interface {
	// UserID returns the unique identifier for the principal.
	UserID() string
	// Claims unmarshals the principal's claims into ref.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns the associated
// principal. Failures match ErrUnauthorized under errors.Is.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}
