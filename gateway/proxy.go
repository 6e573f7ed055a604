package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/runqc/internal/platform/auth"
	"github.com/animus-labs/runqc/internal/platform/httpserver"
)

// newSigningProxy forwards to target after replacing any client supplied
// identity headers with the authenticated identity, signed with secret.
func newSigningProxy(logger *slog.Logger, secret string, target string, now func() time.Time) (http.Handler, error) {
	upstream, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream url: %q", target)
	}
	if now == nil {
		now = time.Now
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Header.Del(auth.HeaderSubject)
		r.Header.Del(auth.HeaderEmail)
		r.Header.Del(auth.HeaderRoles)
		r.Header.Del(auth.HeaderInternalAuthTimestamp)
		r.Header.Del(auth.HeaderInternalAuthSignature)

		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			return
		}
		roles := strings.Join(identity.Roles, ",")
		signed := auth.SignedRequest{
			Timestamp: strconv.FormatInt(now().UTC().Unix(), 10),
			Method:    r.Method,
			Path:      r.URL.Path,
			RequestID: r.Header.Get("X-Request-Id"),
			Subject:   identity.Subject,
			Email:     identity.Email,
			Roles:     roles,
		}
		sig, err := signed.Sign(secret)
		if err != nil {
			logger.Error("internal auth signing failed", "request_id", signed.RequestID, "error", err)
			return
		}
		r.Header.Set(auth.HeaderSubject, identity.Subject)
		if identity.Email != "" {
			r.Header.Set(auth.HeaderEmail, identity.Email)
		}
		if roles != "" {
			r.Header.Set(auth.HeaderRoles, roles)
		}
		r.Header.Set(auth.HeaderInternalAuthTimestamp, signed.Timestamp)
		r.Header.Set(auth.HeaderInternalAuthSignature, sig)
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", "request_id", r.Header.Get("X-Request-Id"), "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("{\"error\":\"bad_gateway\"}\n"))
	}
	return proxy, nil
}

// sessionHandler reports the caller's identity as the gateway sees it.
func sessionHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpserver.WriteError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"subject": identity.Subject,
		"email":   identity.Email,
		"roles":   identity.Roles,
	})
}
