package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/runqc/internal/platform/auth"
	"github.com/animus-labs/runqc/internal/platform/requestid"
)

// apiClient calls the autoqc service. With a secret it signs gateway
// identity headers the way the edge gateway does; otherwise it sends the
// bearer token, if any.
type apiClient struct {
	baseURL string
	token   string
	secret  string
	subject string
	roles   string
	now     func() time.Time
	http    *http.Client
}

func newAPIClient(baseURL, token, secret, subject, roles string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		secret:  secret,
		subject: strings.TrimSpace(subject),
		roles:   strings.TrimSpace(roles),
		now:     time.Now,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *apiClient) do(req *http.Request) ([]byte, error) {
	reqID := requestid.NewOrFallback("runqcctl")
	req.Header.Set("X-Request-Id", reqID)
	req.Header.Set("Accept", "application/json")

	switch {
	case c.secret != "":
		ts := strconv.FormatInt(c.now().UTC().Unix(), 10)
		sig, err := auth.SignedRequest{
			Timestamp: ts,
			Method:    req.Method,
			Path:      req.URL.Path,
			RequestID: reqID,
			Subject:   c.subject,
			Roles:     c.roles,
		}.Sign(c.secret)
		if err != nil {
			return nil, err
		}
		req.Header.Set(auth.HeaderSubject, c.subject)
		req.Header.Set(auth.HeaderRoles, c.roles)
		req.Header.Set(auth.HeaderInternalAuthTimestamp, ts)
		req.Header.Set(auth.HeaderInternalAuthSignature, sig)
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, fmt.Errorf("http %s %s: status=%d body=%s", req.Method, req.URL.String(), resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *apiClient) postJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
