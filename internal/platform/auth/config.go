package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/runqc/internal/platform/env"
)

type Mode string

const (
	ModeGateway Mode = "gateway"
	ModeOIDC    Mode = "oidc"
	ModeDev     Mode = "dev"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Mode Mode

	InternalAuthSecret  string
	InternalAuthMaxSkew time.Duration

	RolesClaim    string
	EmailClaim    string
	OIDCIssuerURL string
	OIDCClientID  string

	DevSubject string
	DevEmail   string
	DevRoles   []string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("AUTH_MODE", string(ModeGateway))))
	maxSkew, err := env.Duration("RUNQC_INTERNAL_AUTH_MAX_SKEW", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:                Mode(modeRaw),
		InternalAuthSecret:  env.String("RUNQC_INTERNAL_AUTH_SECRET", ""),
		InternalAuthMaxSkew: maxSkew,
		RolesClaim:          env.String("AUTH_ROLES_CLAIM", "roles"),
		EmailClaim:          env.String("AUTH_EMAIL_CLAIM", "email"),
		OIDCIssuerURL:       env.String("OIDC_ISSUER_URL", ""),
		OIDCClientID:        env.String("OIDC_CLIENT_ID", ""),
		DevSubject:          env.String("DEV_AUTH_SUBJECT", "dev-user"),
		DevEmail:            env.String("DEV_AUTH_EMAIL", "dev-user@example.local"),
		DevRoles:            parseCSV(env.String("DEV_AUTH_ROLES", RoleAdmin)),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeGateway:
		if strings.TrimSpace(c.InternalAuthSecret) == "" {
			return errors.New("RUNQC_INTERNAL_AUTH_SECRET is required when AUTH_MODE=gateway")
		}
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("OIDC_ISSUER_URL is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("OIDC_CLIENT_ID is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.RolesClaim) == "" || strings.TrimSpace(c.EmailClaim) == "" {
			return errors.New("AUTH_ROLES_CLAIM and AUTH_EMAIL_CLAIM are required when AUTH_MODE=oidc")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("DEV_AUTH_SUBJECT is required when AUTH_MODE=dev")
		}
		if len(c.DevRoles) == 0 {
			return errors.New("DEV_AUTH_ROLES must be non-empty when AUTH_MODE=dev")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be one of: gateway, oidc, dev (got %q)", c.Mode)
	}
	return nil
}

// NewAuthenticator builds the Authenticator selected by cfg.Mode. OIDC mode
// performs provider discovery and therefore needs network access.
func NewAuthenticator(ctx context.Context, cfg Config) (Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeGateway:
		authn, err := NewGatewayHeadersAuthenticator(cfg.InternalAuthSecret)
		if err != nil {
			return nil, err
		}
		if cfg.InternalAuthMaxSkew > 0 {
			authn.MaxSkew = cfg.InternalAuthMaxSkew
		}
		return authn, nil
	case ModeOIDC:
		return NewOIDCAuthenticator(ctx, cfg)
	default:
		return NewDevAuthenticator(cfg), nil
	}
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		item := strings.ToLower(strings.TrimSpace(part))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
