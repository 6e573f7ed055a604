package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/runqc/internal/platform/env"
	"github.com/minio/minio-go/v7/pkg/s3utils"
)

// Config describes the MinIO endpoint used for mirrored run results and
// archived QC reports.
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	BucketResults string
	BucketReports string
	// ReportsVersioning turns on versioning for the reports bucket. It needs
	// an erasure coded MinIO deployment.
	ReportsVersioning bool
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("RUNQC_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	versioning, err := env.Bool("RUNQC_MINIO_REPORTS_VERSIONING", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:          env.String("RUNQC_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:         env.String("RUNQC_MINIO_ACCESS_KEY", "runqc"),
		SecretKey:         env.String("RUNQC_MINIO_SECRET_KEY", "runqcminio"),
		Region:            env.String("RUNQC_MINIO_REGION", "us-east-1"),
		UseSSL:            useSSL,
		BucketResults:     env.String("RUNQC_MINIO_BUCKET_RESULTS", "run-results"),
		BucketReports:     env.String("RUNQC_MINIO_BUCKET_REPORTS", "qc-reports"),
		ReportsVersioning: versioning,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketResults) == "" {
		return errors.New("results bucket is required")
	}
	if strings.TrimSpace(c.BucketReports) == "" {
		return errors.New("reports bucket is required")
	}
	if err := s3utils.CheckValidBucketNameStrict(c.BucketResults); err != nil {
		return fmt.Errorf("results bucket: %w", err)
	}
	if err := s3utils.CheckValidBucketNameStrict(c.BucketReports); err != nil {
		return fmt.Errorf("reports bucket: %w", err)
	}
	if c.BucketResults == c.BucketReports {
		return fmt.Errorf("results and reports buckets must differ (both %q)", c.BucketResults)
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
