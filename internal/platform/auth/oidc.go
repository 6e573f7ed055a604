package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCAuthenticator verifies bearer ID tokens issued for the configured client.
// Interactive login is handled upstream; only verification happens here.
type OIDCAuthenticator struct {
	verifier   *oidc.IDTokenVerifier
	rolesClaim string
	emailClaim string
}

func NewOIDCAuthenticator(ctx context.Context, cfg Config) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return &OIDCAuthenticator{
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID}),
		rolesClaim: cfg.RolesClaim,
		emailClaim: cfg.EmailClaim,
	}, nil
}

func (a *OIDCAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}
	idToken, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, err
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, err
	}
	return identityFromClaims(claims, a.emailClaim, a.rolesClaim), nil
}

func identityFromClaims(claims map[string]any, emailClaim string, rolesClaim string) Identity {
	subject, _ := claims["sub"].(string)
	email, _ := claims[emailClaim].(string)

	var roles []string
	switch typed := claims[rolesClaim].(type) {
	case []any:
		for _, item := range typed {
			if s, ok := item.(string); ok {
				if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
					roles = append(roles, s)
				}
			}
		}
	case string:
		roles = parseCSV(typed)
	}
	return Identity{Subject: subject, Email: email, Roles: roles}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
