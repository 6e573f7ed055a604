// Package reports archives QC verdict reports to the object store.
package reports

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/animus-labs/runqc/internal/domain"
	"github.com/minio/minio-go/v7"
)

const SchemaV1 = "runqc.qc_report.v1"

type Report struct {
	Schema        string               `json:"schema"`
	EvaluationID  string               `json:"evaluation_id"`
	RunAnalysisID string               `json:"run_analysis_id"`
	RunID         string               `json:"run_id"`
	PipelineID    string               `json:"pipeline_id"`
	AnalysisType  string               `json:"analysis_type"`
	AutoQCChecks  *string              `json:"auto_qc_checks"`
	EvaluatedAt   time.Time            `json:"evaluated_at"`
	EvaluatedBy   string               `json:"evaluated_by"`
	Demultiplex   Flags                `json:"demultiplexing"`
	Results       Flags                `json:"results"`
	Samples       []domain.SampleFlags `json:"samples"`
	Verdict       domain.Verdict       `json:"verdict"`
}

type Flags struct {
	Completed bool `json:"completed"`
	Valid     bool `json:"valid"`
}

// Stored describes an archived report object.
type Stored struct {
	Key       string
	SHA256    string
	SizeBytes int64
}

// ObjectKey is where the report for one evaluation lives.
func ObjectKey(runAnalysisID, evaluationID string) string {
	return "run-analyses/" + strings.TrimSpace(runAnalysisID) + "/evaluations/" + strings.TrimSpace(evaluationID) + ".json"
}

// Encode serializes a report and returns its sha256 hex digest.
func Encode(report Report) ([]byte, string, error) {
	if report.Schema == "" {
		report.Schema = SchemaV1
	}
	body, err := json.Marshal(report)
	if err != nil {
		return nil, "", fmt.Errorf("marshal report: %w", err)
	}
	sum := sha256.Sum256(body)
	return body, hex.EncodeToString(sum[:]), nil
}

// ObjectPutter is the subset of *minio.Client used by MinIOArchive.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

type MinIOArchive struct {
	Client     ObjectPutter
	Bucket     string
	PutTimeout time.Duration
}

func (a MinIOArchive) Archive(ctx context.Context, report Report) (Stored, error) {
	if a.Client == nil || strings.TrimSpace(a.Bucket) == "" {
		return Stored{}, errors.New("reports: archive is not configured")
	}
	if strings.TrimSpace(report.RunAnalysisID) == "" || strings.TrimSpace(report.EvaluationID) == "" {
		return Stored{}, errors.New("reports: run analysis id and evaluation id are required")
	}
	body, digest, err := Encode(report)
	if err != nil {
		return Stored{}, err
	}
	key := ObjectKey(report.RunAnalysisID, report.EvaluationID)

	timeout := a.PutTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	putCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err = a.Client.PutObject(
		putCtx,
		a.Bucket,
		key,
		bytes.NewReader(body),
		int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return Stored{}, fmt.Errorf("reports: put %s/%s: %w", a.Bucket, key, err)
	}
	return Stored{Key: key, SHA256: digest, SizeBytes: int64(len(body))}, nil
}

// Remove deletes an archived report; used to undo an upload whose database
// write failed.
func (a MinIOArchive) Remove(ctx context.Context, key string) error {
	if a.Client == nil || strings.TrimSpace(a.Bucket) == "" {
		return errors.New("reports: archive is not configured")
	}
	return a.Client.RemoveObject(ctx, a.Bucket, key, minio.RemoveObjectOptions{})
}
