package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/runqc/internal/platform/httpserver"
)

type AuthorizeFunc func(r *http.Request, identity Identity) error

// DenyEvent describes a rejected request. RunAnalysisID is set when the
// path addresses a single run analysis; RequiredRole only on 403s.
type DenyEvent struct {
	Time          time.Time
	Status        int
	Reason        string
	Error         string
	RequestID     string
	Method        string
	Path          string
	RunAnalysisID string
	RequiredRole  string
	Subject       string
	Email         string
	Roles         []string
	RemoteAddr    string
	UserAgent     string
}

type AuditFunc func(ctx context.Context, event DenyEvent) error

type Middleware struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	Authorize     AuthorizeFunc
	Audit         AuditFunc
	SkipPrefixes  []string
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.SkipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		if err != nil {
			reason := "invalid_token"
			if errors.Is(err, ErrUnauthenticated) {
				reason = "unauthorized"
			}
			m.deny(w, r, Identity{}, http.StatusUnauthorized, reason, err)
			return
		}

		if m.Authorize != nil {
			if err := m.Authorize(r, identity); err != nil {
				m.deny(w, r, identity, http.StatusForbidden, "forbidden", err)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, identity Identity, status int, reason string, err error) {
	requestID := r.Header.Get("X-Request-Id")
	runAnalysisID := RunAnalysisIDFromPath(r.URL.Path)
	requiredRole := ""
	if status == http.StatusForbidden {
		requiredRole = RequiredRoleForRequest(r)
	}
	if m.Logger != nil {
		m.Logger.Warn("auth deny",
			"reason", reason,
			"status", status,
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"run_analysis_id", runAnalysisID,
			"required_role", requiredRole,
			"subject", identity.Subject,
			"error", err.Error(),
		)
	}
	if m.Audit != nil {
		auditErr := m.Audit(r.Context(), DenyEvent{
			Time:          time.Now().UTC(),
			Status:        status,
			Reason:        reason,
			Error:         err.Error(),
			RequestID:     requestID,
			Method:        r.Method,
			Path:          r.URL.Path,
			RunAnalysisID: runAnalysisID,
			RequiredRole:  requiredRole,
			Subject:       identity.Subject,
			Email:         identity.Email,
			Roles:         identity.Roles,
			RemoteAddr:    r.RemoteAddr,
			UserAgent:     r.UserAgent(),
		})
		if auditErr != nil && m.Logger != nil {
			m.Logger.Warn("audit deny failed", "request_id", requestID, "error", auditErr.Error())
		}
	}
	httpserver.WriteError(w, r, status, reason)
}

// RunAnalysisIDFromPath returns the id segment following "run-analyses", with
// or without a gateway prefix in front. It returns "" for collection paths.
func RunAnalysisIDFromPath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i := 0; i+1 < len(segments); i++ {
		if segments[i] == "run-analyses" {
			return segments[i+1]
		}
	}
	return ""
}
