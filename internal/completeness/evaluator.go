// Package completeness decides whether pipeline output on disk is complete
// (the pipeline finished) and valid (no sign of a partial or crashed run).
//
// Predicates never return errors. A store failure is logged and the
// predicate answers false, so a broken listing is never read as success.
package completeness

import (
	"context"
	"log/slog"
	"path"

	"github.com/animus-labs/runqc/internal/artifacts"
	"github.com/animus-labs/runqc/internal/domain"
	"github.com/animus-labs/runqc/internal/rules"
)

// Evaluator checks one run analysis' results directory against the artifact
// rules of its pipeline variant.
type Evaluator struct {
	store      artifacts.Store
	rules      rules.ArtifactRuleSet
	resultsDir string
	roster     domain.RunRoster
	logger     *slog.Logger
}

func NewEvaluator(store artifacts.Store, ruleSet rules.ArtifactRuleSet, resultsDir string, roster domain.RunRoster, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Evaluator{
		store:      store,
		rules:      ruleSet,
		resultsDir: resultsDir,
		roster:     roster,
		logger:     logger.With("run_id", roster.RunID, "results_dir", resultsDir),
	}
}

func (e *Evaluator) sampleDir(sample string) string {
	return path.Join(e.resultsDir, sample)
}

// SampleIsComplete requires exactly one completion marker in the sample
// directory. A second marker usually belongs to an earlier attempt.
func (e *Evaluator) SampleIsComplete(ctx context.Context, sample string) bool {
	pattern := rules.Expand(e.rules.SampleCompletionMarker, sample, 1)
	return exactlyOne(ctx, e.store, e.logger, e.sampleDir(sample), pattern, "sample", sample)
}

func (e *Evaluator) SampleIsValid(ctx context.Context, sample string) bool {
	dir := e.sampleDir(sample)
	for _, pattern := range e.rules.SampleExpected {
		if !exactlyOne(ctx, e.store, e.logger, dir, rules.Expand(pattern, sample, 1), "sample", sample) {
			return false
		}
	}
	for _, pattern := range e.rules.SampleForbidden {
		if !none(ctx, e.store, e.logger, dir, rules.Expand(pattern, sample, 1), "sample", sample) {
			return false
		}
	}
	return true
}

func (e *Evaluator) RunIsComplete(ctx context.Context) bool {
	switch e.rules.RunCompletion {
	case rules.SingleMarker:
		if len(e.rules.RunCompletionMarkers) != 1 {
			e.logger.Warn("single marker run completion misconfigured", "markers", len(e.rules.RunCompletionMarkers))
			return false
		}
		return exactlyOne(ctx, e.store, e.logger, e.resultsDir, e.rules.RunCompletionMarkers[0])
	case rules.PerSampleMarkers:
		// NTC samples never produce run-level output.
		for _, sample := range e.roster.Scored() {
			for _, marker := range e.rules.RunCompletionMarkers {
				if !atLeastOne(ctx, e.store, e.logger, e.sampleDir(sample), rules.Expand(marker, sample, 1), "sample", sample) {
					return false
				}
			}
		}
		return true
	default:
		e.logger.Warn("unknown run completion strategy", "strategy", string(e.rules.RunCompletion))
		return false
	}
}

func (e *Evaluator) RunIsValid(ctx context.Context) bool {
	for _, sample := range e.roster.Scored() {
		for _, pattern := range e.rules.RunPerSampleExpected {
			if !exactlyOne(ctx, e.store, e.logger, e.resultsDir, rules.Expand(pattern, sample, 1), "sample", sample) {
				return false
			}
		}
	}
	for _, pattern := range e.rules.RunExpected {
		if !exactlyOne(ctx, e.store, e.logger, e.resultsDir, pattern) {
			return false
		}
	}
	for _, pattern := range e.rules.RunForbidden {
		if !none(ctx, e.store, e.logger, e.resultsDir, pattern) {
			return false
		}
	}
	return true
}

// RunAndSamplesComplete checks every roster sample in order, then the run.
func (e *Evaluator) RunAndSamplesComplete(ctx context.Context) bool {
	for _, sample := range e.roster.Samples {
		if !e.SampleIsComplete(ctx, sample) {
			return false
		}
	}
	return e.RunIsComplete(ctx)
}

func (e *Evaluator) RunAndSamplesValid(ctx context.Context) bool {
	for _, sample := range e.roster.Samples {
		if !e.SampleIsValid(ctx, sample) {
			return false
		}
	}
	return e.RunIsValid(ctx)
}

// Report holds every flag of one evaluation pass.
type Report struct {
	Samples      []domain.SampleFlags `json:"samples"`
	RunCompleted bool                 `json:"run_completed"`
	RunValid     bool                 `json:"run_valid"`
}

func (r Report) SamplesCompleted() int {
	n := 0
	for _, s := range r.Samples {
		if s.Completed {
			n++
		}
	}
	return n
}

func (r Report) SamplesValid() int {
	n := 0
	for _, s := range r.Samples {
		if s.Valid {
			n++
		}
	}
	return n
}

func (r Report) AllCompleted() bool {
	return r.RunCompleted && r.SamplesCompleted() == len(r.Samples)
}

func (r Report) AllValid() bool {
	return r.RunValid && r.SamplesValid() == len(r.Samples)
}

// Evaluate computes every sample and run flag without short-circuiting so
// each one can be persisted.
func (e *Evaluator) Evaluate(ctx context.Context) Report {
	report := Report{Samples: make([]domain.SampleFlags, 0, len(e.roster.Samples))}
	for _, sample := range e.roster.Samples {
		report.Samples = append(report.Samples, domain.SampleFlags{
			SampleID:  sample,
			Completed: e.SampleIsComplete(ctx, sample),
			Valid:     e.SampleIsValid(ctx, sample),
		})
	}
	report.RunCompleted = e.RunIsComplete(ctx)
	report.RunValid = e.RunIsValid(ctx)
	e.logger.Info("results evaluated",
		"samples", len(report.Samples),
		"samples_completed", report.SamplesCompleted(),
		"samples_valid", report.SamplesValid(),
		"run_completed", report.RunCompleted,
		"run_valid", report.RunValid,
	)
	return report
}

func exactlyOne(ctx context.Context, store artifacts.Store, logger *slog.Logger, root string, pattern string, attrs ...any) bool {
	n, ok := count(ctx, store, logger, root, pattern)
	if !ok {
		return false
	}
	if n != 1 {
		logger.Debug("expected exactly one match", append(attrs, "root", root, "pattern", pattern, "matches", n)...)
		return false
	}
	return true
}

func atLeastOne(ctx context.Context, store artifacts.Store, logger *slog.Logger, root string, pattern string, attrs ...any) bool {
	n, ok := count(ctx, store, logger, root, pattern)
	if !ok {
		return false
	}
	if n == 0 {
		logger.Debug("expected at least one match", append(attrs, "root", root, "pattern", pattern)...)
		return false
	}
	return true
}

func none(ctx context.Context, store artifacts.Store, logger *slog.Logger, root string, pattern string, attrs ...any) bool {
	n, ok := count(ctx, store, logger, root, pattern)
	if !ok {
		return false
	}
	if n != 0 {
		logger.Debug("forbidden artifact present", append(attrs, "root", root, "pattern", pattern, "matches", n)...)
		return false
	}
	return true
}

func count(ctx context.Context, store artifacts.Store, logger *slog.Logger, root string, pattern string) (int, bool) {
	n, err := store.MatchCount(ctx, root, pattern)
	if err != nil {
		logger.Warn("artifact query failed", "root", root, "pattern", pattern, "error", err)
		return 0, false
	}
	return n, true
}
