package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/animus-labs/runqc/internal/platform/auth"
)

func InsertAuthDeny(ctx context.Context, q QueryRower, service string, event auth.DenyEvent) error {
	_, err := Insert(ctx, q, AuthDenyEvent(service, event))
	return err
}

// AuthDenyEvent maps a middleware rejection onto an audit event.
func AuthDenyEvent(service string, event auth.DenyEvent) Event {
	actor := "anonymous"
	if strings.TrimSpace(event.Subject) != "" {
		actor = strings.TrimSpace(event.Subject)
	}
	var ip net.IP
	if host, _, err := net.SplitHostPort(event.RemoteAddr); err == nil {
		ip = net.ParseIP(host)
	}
	payload := map[string]any{
		"service": service,
		"status":  event.Status,
		"reason":  event.Reason,
		"error":   event.Error,
		"roles":   event.Roles,
	}
	if event.RequiredRole != "" {
		payload["required_role"] = event.RequiredRole
	}
	resourceType, resourceID := "http", event.Method+" "+event.Path
	if id := strings.TrimSpace(event.RunAnalysisID); id != "" {
		resourceType, resourceID = ResourceRunAnalysis, id
		payload["request"] = event.Method + " " + event.Path
	}
	return Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Payload:      payload,
	}
}
