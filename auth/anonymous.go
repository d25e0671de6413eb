package auth

import "context"

// AnonymousPrincipal is the user id assigned to every request when
// authentication is not configured.
const AnonymousPrincipal = "anonymous"

// Anonymous treats every request as implicitly authorized. It is installed
// only when the auth configuration is absent or incomplete, and that posture
// is logged at startup; it is never a silent default.
type Anonymous struct{}

func (Anonymous) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	return AnonymousUser(), nil
}

// AnonymousUser returns the principal assigned when the auth gate is off.
func AnonymousUser() UserInfo {
	return &ClaimsUser{Subject: AnonymousPrincipal, Map: map[string]any{}}
}

var _ Authenticator = Anonymous{}
