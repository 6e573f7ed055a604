package analyses

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path"
	"strings"
	"time"

	"github.com/animus-labs/runqc/internal/artifacts"
	"github.com/animus-labs/runqc/internal/autoqc"
	"github.com/animus-labs/runqc/internal/completeness"
	"github.com/animus-labs/runqc/internal/domain"
	"github.com/animus-labs/runqc/internal/lifecycle"
	"github.com/animus-labs/runqc/internal/platform/auditlog"
	"github.com/animus-labs/runqc/internal/reports"
	"github.com/animus-labs/runqc/internal/repo"
	"github.com/animus-labs/runqc/internal/rules"
	"github.com/animus-labs/runqc/internal/samplesheet"
	"github.com/google/uuid"
)

const resourceType = auditlog.ResourceRunAnalysis

// ErrInvalidInput marks registration and import requests that can never
// succeed as sent.
var ErrInvalidInput = errors.New("invalid input")

// Archive stores evaluation reports outside the database.
type Archive interface {
	Archive(ctx context.Context, report reports.Report) (reports.Stored, error)
	Remove(ctx context.Context, key string) error
}

type AuditInfo struct {
	Actor     string
	RequestID string
	UserAgent string
	IP        net.IP
	Service   string
}

type Config struct {
	Logger      *slog.Logger
	Registry    *rules.Registry
	Store       artifacts.ReadableStore
	Analyses    repo.RunAnalysisRepository
	Evaluations repo.EvaluationRepository
	// Archive is optional; without it reports are only summarized in the
	// evaluation history.
	Archive Archive
	Chain   *autoqc.Chain
	Now     func() time.Time
	NewID   func() string
}

type Service struct {
	logger      *slog.Logger
	registry    *rules.Registry
	store       artifacts.ReadableStore
	analyses    repo.RunAnalysisRepository
	evaluations repo.EvaluationRepository
	archive     Archive
	chain       *autoqc.Chain
	now         func() time.Time
	newID       func() string
}

func New(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, errors.New("pipeline registry is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	if cfg.Analyses == nil || cfg.Evaluations == nil {
		return nil, errors.New("repositories are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	chain := cfg.Chain
	if chain == nil {
		chain = autoqc.DefaultChain(logger)
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{
		logger:      logger,
		registry:    cfg.Registry,
		store:       cfg.Store,
		analyses:    cfg.Analyses,
		evaluations: cfg.Evaluations,
		archive:     cfg.Archive,
		chain:       chain,
		now:         now,
		newID:       newID,
	}, nil
}

type SampleInput struct {
	ID        string `json:"sample_id"`
	Worksheet string `json:"worksheet,omitempty"`
	Sex       string `json:"sex,omitempty"`
}

type RegisterInput struct {
	RunID        string        `json:"run_id"`
	PipelineID   string        `json:"pipeline_id"`
	AnalysisType string        `json:"analysis_type"`
	ResultsDir   string        `json:"results_dir"`
	FastqDir     string        `json:"fastq_dir"`
	Lanes        int           `json:"lanes,omitempty"`
	AutoQCChecks *string       `json:"auto_qc_checks,omitempty"`
	Samples      []SampleInput `json:"samples"`
}

// Register observes a run+pipeline+analysis type pairing. Registering an
// existing pairing returns it unchanged with created=false.
func (s *Service) Register(ctx context.Context, info AuditInfo, in RegisterInput) (domain.RunAnalysis, bool, error) {
	now := s.now()
	a, samples, variant, err := Plan(s.registry, in, s.newID(), now)
	if err != nil {
		return domain.RunAnalysis{}, false, err
	}

	event := s.auditEvent(info, now, "run_analysis.observe", a, map[string]any{
		"pipeline_id":   a.PipelineID,
		"analysis_type": a.AnalysisType,
		"samples":       len(samples),
		"variant":       variant.Name,
	})
	created, ok, err := s.analyses.Create(ctx, a, samples, event)
	if err != nil {
		return domain.RunAnalysis{}, false, err
	}
	if ok {
		s.logger.Info("run analysis observed",
			"run_analysis_id", created.ID,
			"run_id", created.RunID,
			"pipeline_id", created.PipelineID,
			"analysis_type", created.AnalysisType,
			"samples", len(samples),
		)
	}
	return created, ok, nil
}

type ImportInput struct {
	RunID string
	// ResultsRoot is joined with each group's analysis type to form its
	// results directory.
	ResultsRoot string
	FastqDir    string
}

type ImportResult struct {
	Analyses []domain.RunAnalysis
	Created  int
}

// ImportSampleSheet registers one run analysis per pipeline+panel group of
// the sheet, in sheet order.
func (s *Service) ImportSampleSheet(ctx context.Context, info AuditInfo, in ImportInput, sheet io.Reader) (ImportResult, error) {
	parsed, err := samplesheet.Parse(sheet)
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: sample sheet: %w", ErrInvalidInput, err)
	}
	var out ImportResult
	for _, group := range parsed.Groups() {
		samples := make([]SampleInput, 0, len(group.Samples))
		for _, sample := range group.Samples {
			samples = append(samples, SampleInput{ID: sample.ID, Worksheet: sample.Worksheet, Sex: sample.Sex})
		}
		a, created, err := s.Register(ctx, info, RegisterInput{
			RunID:        in.RunID,
			PipelineID:   group.PipelineID,
			AnalysisType: group.AnalysisType,
			ResultsDir:   path.Join(in.ResultsRoot, group.AnalysisType),
			FastqDir:     in.FastqDir,
			Lanes:        parsed.Lanes,
			Samples:      samples,
		})
		if err != nil {
			return out, fmt.Errorf("register %s %s: %w", group.PipelineID, group.AnalysisType, err)
		}
		out.Analyses = append(out.Analyses, a)
		if created {
			out.Created++
		}
	}
	return out, nil
}

// View is a run analysis with its samples and display summaries.
type View struct {
	Analysis         domain.RunAnalysis
	Samples          []domain.SampleAnalysis
	State            lifecycle.State
	SamplesCompleted int
	SamplesValid     int
	NTCs             []string
	Worksheets       string
}

func (s *Service) Get(ctx context.Context, id string) (View, error) {
	a, err := s.analyses.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	samples, err := s.analyses.ListSamples(ctx, a.ID)
	if err != nil {
		return View{}, err
	}
	return s.view(a, samples), nil
}

func (s *Service) List(ctx context.Context, filter repo.RunAnalysisFilter) ([]domain.RunAnalysis, error) {
	return s.analyses.List(ctx, filter)
}

func (s *Service) History(ctx context.Context, id string, limit int) ([]domain.QCEvaluation, error) {
	if _, err := s.analyses.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.evaluations.ListEvaluations(ctx, id, limit)
}

func (s *Service) view(a domain.RunAnalysis, samples []domain.SampleAnalysis) View {
	v := View{Analysis: a, Samples: samples, State: lifecycle.Derive(a)}
	ids := make([]string, 0, len(samples))
	var worksheets []string
	seen := map[string]struct{}{}
	for _, sample := range samples {
		ids = append(ids, sample.SampleID)
		if sample.ResultsCompleted {
			v.SamplesCompleted++
		}
		if sample.ResultsValid {
			v.SamplesValid++
		}
		if ws := sample.Worksheet; ws != "" {
			if _, ok := seen[ws]; !ok {
				seen[ws] = struct{}{}
				worksheets = append(worksheets, ws)
			}
		}
	}
	if roster, err := domain.NewRunRoster(a.RunID, ids, s.registry.NTCMarkers); err == nil {
		v.NTCs = roster.NTCs()
	}
	v.Worksheets = strings.Join(worksheets, "|")
	return v
}

// Outcome is the result of one evaluation pass.
type Outcome struct {
	Analysis     domain.RunAnalysis
	Samples      []domain.SampleAnalysis
	State        lifecycle.State
	CopyComplete bool
	Results      completeness.Report
	Evaluation   domain.QCEvaluation
}

// Evaluate recomputes every completeness flag and the verdict, then persists
// them together.
func (s *Service) Evaluate(ctx context.Context, info AuditInfo, id string) (Outcome, error) {
	current, err := s.analyses.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if from := lifecycle.Derive(current); !lifecycle.CanApply(from, lifecycle.EventEvaluate) {
		return Outcome{}, fmt.Errorf("%w: evaluate from %s", lifecycle.ErrInvalidTransition, from)
	}
	samples, err := s.analyses.ListSamples(ctx, current.ID)
	if err != nil {
		return Outcome{}, err
	}
	logger := s.logger.With("run_analysis_id", current.ID, "run_id", current.RunID, "pipeline_id", current.PipelineID)

	assessed, err := Assess(ctx, s.store, s.registry, s.chain, current, samples, logger)
	if err != nil {
		logger.Warn("evaluation aborted", "error", err)
		return Outcome{}, err
	}
	next, report, verdict := assessed.Analysis, assessed.Results, assessed.Verdict

	now := s.now()
	evaluation := domain.QCEvaluation{
		ID:            s.newID(),
		RunAnalysisID: current.ID,
		EvaluatedAt:   now,
		EvaluatedBy:   strings.TrimSpace(info.Actor),
		Verdict:       verdict,
	}
	if s.archive != nil {
		stored, err := s.archive.Archive(ctx, reports.Report{
			EvaluationID:  evaluation.ID,
			RunAnalysisID: current.ID,
			RunID:         current.RunID,
			PipelineID:    current.PipelineID,
			AnalysisType:  current.AnalysisType,
			AutoQCChecks:  current.AutoQCChecks,
			EvaluatedAt:   now,
			EvaluatedBy:   evaluation.EvaluatedBy,
			Demultiplex:   reports.Flags{Completed: next.DemultiplexingCompleted, Valid: next.DemultiplexingValid},
			Results:       reports.Flags{Completed: next.ResultsCompleted, Valid: next.ResultsValid},
			Samples:       report.Samples,
			Verdict:       verdict,
		})
		if err != nil {
			return Outcome{}, err
		}
		evaluation.ReportObjectKey = stored.Key
		evaluation.ReportSHA256 = stored.SHA256
		evaluation.ReportSizeBytes = stored.SizeBytes
	}

	updated, persisted, err := s.analyses.Update(ctx, current.ID, func(a *domain.RunAnalysis, rows []domain.SampleAnalysis) ([]auditlog.Event, error) {
		from := lifecycle.Derive(*a)
		a.DemultiplexingCompleted = next.DemultiplexingCompleted
		a.DemultiplexingValid = next.DemultiplexingValid
		a.ResultsCompleted = next.ResultsCompleted
		a.ResultsValid = next.ResultsValid
		v := verdict
		a.Verdict = &v
		to, err := lifecycle.Apply(a, lifecycle.EventEvaluate, lifecycle.Action{Actor: info.Actor, At: now})
		if err != nil {
			return nil, err
		}
		copy(rows, applySampleFlags(rows, report))
		return []auditlog.Event{s.auditEvent(info, now, "run_analysis.evaluate", *a, map[string]any{
			"from":              string(from),
			"to":                string(to),
			"evaluation_id":     evaluation.ID,
			"passed":            verdict.Passed,
			"reason":            verdict.Reason,
			"samples_completed": report.SamplesCompleted(),
			"samples_valid":     report.SamplesValid(),
		})}, nil
	})
	if err != nil {
		s.discardReport(ctx, evaluation.ReportObjectKey)
		return Outcome{}, err
	}
	if err := s.evaluations.AppendEvaluation(ctx, evaluation); err != nil {
		logger.Error("evaluation history append failed", "evaluation_id", evaluation.ID, "error", err)
		return Outcome{}, err
	}

	logger.Info("run analysis evaluated",
		"passed", verdict.Passed,
		"reason", verdict.Reason,
		"demultiplexing_valid", updated.DemultiplexingValid,
		"results_valid", updated.ResultsValid,
	)
	return Outcome{
		Analysis:     updated,
		Samples:      persisted,
		State:        lifecycle.Derive(updated),
		CopyComplete: assessed.CopyComplete,
		Results:      report,
		Evaluation:   evaluation,
	}, nil
}

// Verdict recomputes the auto-QC verdict from the persisted flags without
// writing anything.
func (s *Service) Verdict(ctx context.Context, id string) (domain.Verdict, error) {
	a, err := s.analyses.Get(ctx, id)
	if err != nil {
		return domain.Verdict{}, err
	}
	samples, err := s.analyses.ListSamples(ctx, a.ID)
	if err != nil {
		return domain.Verdict{}, err
	}
	return verdictFor(ctx, s.store, s.registry, s.chain, a, samples)
}

// Signoff records a manual approval or rejection and stops watching the run.
func (s *Service) Signoff(ctx context.Context, info AuditInfo, id string, approved bool, comment string) (domain.RunAnalysis, error) {
	event := lifecycle.EventReject
	if approved {
		event = lifecycle.EventApprove
	}
	return s.transition(ctx, info, id, event, comment, "run_analysis.signoff")
}

// Reset returns a decided or archived run analysis to pending. The comment
// is preserved.
func (s *Service) Reset(ctx context.Context, info AuditInfo, id string) (domain.RunAnalysis, error) {
	return s.transition(ctx, info, id, lifecycle.EventReset, "", "run_analysis.reset")
}

// Archive stops watching a run analysis without a signoff.
func (s *Service) Archive(ctx context.Context, info AuditInfo, id string, comment string) (domain.RunAnalysis, error) {
	return s.transition(ctx, info, id, lifecycle.EventArchive, comment, "run_analysis.archive")
}

func (s *Service) transition(ctx context.Context, info AuditInfo, id string, event lifecycle.Event, comment string, action string) (domain.RunAnalysis, error) {
	if strings.TrimSpace(info.Actor) == "" {
		return domain.RunAnalysis{}, errors.New("audit actor is required")
	}
	now := s.now()
	updated, _, err := s.analyses.Update(ctx, id, func(a *domain.RunAnalysis, _ []domain.SampleAnalysis) ([]auditlog.Event, error) {
		from := lifecycle.Derive(*a)
		to, err := lifecycle.Apply(a, event, lifecycle.Action{Actor: info.Actor, Comment: comment, At: now})
		if err != nil {
			return nil, err
		}
		return []auditlog.Event{s.auditEvent(info, now, action, *a, map[string]any{
			"event":   string(event),
			"from":    string(from),
			"to":      string(to),
			"comment": strings.TrimSpace(comment),
		})}, nil
	})
	if err != nil {
		return domain.RunAnalysis{}, err
	}
	s.logger.Info("run analysis transitioned",
		"run_analysis_id", updated.ID,
		"event", string(event),
		"state", string(lifecycle.Derive(updated)),
		"actor", info.Actor,
	)
	return updated, nil
}

type SweepResult struct {
	Evaluated int      `json:"evaluated"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Sweep evaluates every watching run analysis once. Failures are logged and
// counted; they do not stop the sweep.
func (s *Service) Sweep(ctx context.Context, info AuditInfo, limit int) (SweepResult, error) {
	watching := true
	pending, err := s.analyses.List(ctx, repo.RunAnalysisFilter{Watching: &watching, Limit: limit})
	if err != nil {
		return SweepResult{}, err
	}
	var out SweepResult
	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if _, err := s.Evaluate(ctx, info, a.ID); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", a.ID, err))
			s.logger.Warn("sweep evaluation failed", "run_analysis_id", a.ID, "run_id", a.RunID, "error", err)
			continue
		}
		out.Evaluated++
	}
	s.logger.Info("sweep finished", "evaluated", out.Evaluated, "failed", out.Failed)
	return out, nil
}

func (s *Service) discardReport(ctx context.Context, key string) {
	if s.archive == nil || key == "" {
		return
	}
	if err := s.archive.Remove(ctx, key); err != nil {
		s.logger.Warn("report cleanup failed", "key", key, "error", err)
	}
}

func (s *Service) auditEvent(info AuditInfo, at time.Time, action string, a domain.RunAnalysis, payload map[string]any) auditlog.Event {
	actor := strings.TrimSpace(info.Actor)
	if actor == "" {
		actor = "system"
	}
	body := map[string]any{
		"service":         strings.TrimSpace(info.Service),
		"run_analysis_id": a.ID,
		"run_id":          a.RunID,
	}
	for k, v := range payload {
		body[k] = v
	}
	return auditlog.Event{
		OccurredAt:   at,
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   a.ID,
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Payload:      body,
	}
}

