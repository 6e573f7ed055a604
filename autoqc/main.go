package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/animus-labs/runqc/internal/artifacts"
	"github.com/animus-labs/runqc/internal/platform/auditlog"
	"github.com/animus-labs/runqc/internal/platform/auth"
	"github.com/animus-labs/runqc/internal/platform/env"
	"github.com/animus-labs/runqc/internal/platform/httpserver"
	"github.com/animus-labs/runqc/internal/platform/objectstore"
	"github.com/animus-labs/runqc/internal/platform/postgres"
	"github.com/animus-labs/runqc/internal/reports"
	repopg "github.com/animus-labs/runqc/internal/repo/postgres"
	"github.com/animus-labs/runqc/internal/rules"
	"github.com/animus-labs/runqc/internal/service/analyses"
	"github.com/animus-labs/runqc/migrations"
	"github.com/minio/minio-go/v7"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("RUNQC_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("RUNQC_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	pipelinesPath := env.String("RUNQC_PIPELINES_CONFIG", "configs/pipelines.yaml")
	backend := strings.ToLower(env.String("RUNQC_ARTIFACT_BACKEND", "fs"))
	artifactRoot := env.String("RUNQC_ARTIFACT_ROOT", "/")
	fastqRoot := env.String("RUNQC_FASTQ_ROOT", "")
	resultsRoot := env.String("RUNQC_RESULTS_ROOT", "")

	registry, err := rules.Load(pipelinesPath)
	if err != nil {
		logger.Error("invalid pipeline config", "path", pipelinesPath, "error", err)
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
	if dbCfg.AutoMigrate {
		if err := postgres.Migrate(ctx, logger, db, migrations.Files); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	store, err := newArtifactStore(backend, artifactRoot, storeClient, storeCfg)
	if err != nil {
		logger.Error("invalid artifact backend", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authn, err := auth.NewAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(2)
	}

	service, err := analyses.New(analyses.Config{
		Logger:      logger,
		Registry:    registry,
		Store:       store,
		Analyses:    repopg.NewRunAnalysisStore(db),
		Evaluations: repopg.NewEvaluationStore(db),
		Archive:     reports.MinIOArchive{Client: storeClient, Bucket: storeCfg.BucketReports},
	})
	if err != nil {
		logger.Error("service init failed", "error", err)
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
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBuckets(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newAutoQCAPI(logger, service, fastqRoot, resultsRoot)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authn,
		Authorize:     auth.MethodRoleAuthorizer(),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, serviceName, event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         serviceName,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	logger.Info("pipeline registry loaded", "path", pipelinesPath, "variants", len(registry.Variants), "artifact_backend", backend)
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, serviceName, handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newArtifactStore(backend, root string, client *minio.Client, cfg objectstore.Config) (artifacts.ReadableStore, error) {
	switch backend {
	case "fs":
		return artifacts.NewOSStore(root), nil
	case "minio":
		return artifacts.MinIOStore{Client: client, Bucket: cfg.BucketResults}, nil
	default:
		return nil, fmt.Errorf("RUNQC_ARTIFACT_BACKEND must be fs or minio (got %q)", backend)
	}
}
