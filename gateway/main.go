package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/animus-labs/runqc/internal/platform/auditlog"
	"github.com/animus-labs/runqc/internal/platform/auth"
	"github.com/animus-labs/runqc/internal/platform/env"
	"github.com/animus-labs/runqc/internal/platform/httpserver"
	"github.com/animus-labs/runqc/internal/platform/postgres"
)

const serviceName = "gateway"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("GATEWAY_HTTP_ADDR", ":8000")
	shutdownTimeout, err := env.Duration("GATEWAY_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	logger.Info("database connected", "target", dbCfg.Target(), "application_name", dbCfg.ApplicationName)

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	if authCfg.Mode == auth.ModeGateway {
		logger.Error("gateway cannot trust its own headers", "env", "AUTH_MODE", "mode", authCfg.Mode)
		os.Exit(2)
	}
	internalAuthSecret := env.String("RUNQC_INTERNAL_AUTH_SECRET", "")
	if strings.TrimSpace(internalAuthSecret) == "" {
		logger.Error("missing internal auth secret", "env", "RUNQC_INTERNAL_AUTH_SECRET")
		os.Exit(2)
	}
	authenticator, err := auth.NewAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "mode", authCfg.Mode, "error", err)
		os.Exit(1)
	}

	auditFn := func(ctx context.Context, event auth.DenyEvent) error {
		auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
		defer cancel()
		return auditlog.InsertAuthDeny(auditCtx, db, serviceName, event)
	}
	protected := func(handler http.Handler) http.Handler {
		return auth.Middleware{
			Logger:        logger,
			Authenticator: authenticator,
			Authorize:     auth.MethodRoleAuthorizer(),
			Audit:         auditFn,
		}.Wrap(handler)
	}
	sessionProtected := func(handler http.Handler) http.Handler {
		return auth.Middleware{
			Logger:        logger,
			Authenticator: authenticator,
			Audit:         auditFn,
		}.Wrap(handler)
	}

	autoqcProxy, err := newSigningProxy(logger, internalAuthSecret, env.String("AUTOQC_BASE_URL", "http://localhost:8080"), nil)
	if err != nil {
		logger.Error("proxy init failed", "service", "autoqc", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			serviceName,
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
		),
	)
	mux.Handle("/auth/session", sessionProtected(http.HandlerFunc(sessionHandler)))
	mux.Handle("/api/autoqc/", protected(http.StripPrefix("/api/autoqc", autoqcProxy)))

	cfg := httpserver.Config{
		Service:         serviceName,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	logger.Info("gateway configured", "auth_mode", authCfg.Mode)
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, serviceName, mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
