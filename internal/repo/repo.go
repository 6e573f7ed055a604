package repo

import (
	"context"
	"errors"

	"github.com/animus-labs/runqc/internal/domain"
	"github.com/animus-labs/runqc/internal/platform/auditlog"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type RunAnalysisFilter struct {
	RunID    string
	Watching *bool
	Limit    int
}

// UpdateFunc mutates a run analysis and its samples in place. Samples are in
// roster order. Returned audit events are written in the same transaction.
type UpdateFunc func(a *domain.RunAnalysis, samples []domain.SampleAnalysis) ([]auditlog.Event, error)

// RunAnalysisRepository manages run analyses and their samples.
type RunAnalysisRepository interface {
	// Create records a newly observed run+pipeline+analysis type. When the
	// pairing already exists it is returned unchanged with created=false.
	Create(ctx context.Context, a domain.RunAnalysis, samples []domain.SampleAnalysis, events ...auditlog.Event) (domain.RunAnalysis, bool, error)
	Get(ctx context.Context, id string) (domain.RunAnalysis, error)
	GetByKey(ctx context.Context, runID, pipelineID, analysisType string) (domain.RunAnalysis, error)
	List(ctx context.Context, filter RunAnalysisFilter) ([]domain.RunAnalysis, error)
	ListSamples(ctx context.Context, runAnalysisID string) ([]domain.SampleAnalysis, error)
	UpsertSamples(ctx context.Context, runAnalysisID string, samples []domain.SampleAnalysis) error
	// Update is a read-modify-write under a row lock. Flags and manual fields
	// written by fn are saved together and the version is bumped.
	Update(ctx context.Context, id string, fn UpdateFunc) (domain.RunAnalysis, []domain.SampleAnalysis, error)
}

// EvaluationRepository stores the verdict history.
type EvaluationRepository interface {
	AppendEvaluation(ctx context.Context, e domain.QCEvaluation) error
	ListEvaluations(ctx context.Context, runAnalysisID string, limit int) ([]domain.QCEvaluation, error)
}
