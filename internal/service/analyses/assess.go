package analyses

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/runqc/internal/artifacts"
	"github.com/animus-labs/runqc/internal/autoqc"
	"github.com/animus-labs/runqc/internal/completeness"
	"github.com/animus-labs/runqc/internal/domain"
	"github.com/animus-labs/runqc/internal/metrics"
	"github.com/animus-labs/runqc/internal/rules"
)

// Assessment holds the flags and verdict computed for one run analysis
// before anything is persisted.
type Assessment struct {
	Analysis     domain.RunAnalysis
	Samples      []domain.SampleAnalysis
	CopyComplete bool
	Results      completeness.Report
	Verdict      domain.Verdict
}

// AssessCompleteness recomputes the demultiplexing and results flags of a
// and its samples from the artifacts in store. a and samples are not
// modified.
func AssessCompleteness(ctx context.Context, store artifacts.ReadableStore, registry *rules.Registry, a domain.RunAnalysis, samples []domain.SampleAnalysis, logger *slog.Logger) (Assessment, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	variant, err := registry.Resolve(a.PipelineID)
	if err != nil {
		return Assessment{}, err
	}
	roster, err := rosterOf(a, samples, registry.NTCMarkers)
	if err != nil {
		return Assessment{}, err
	}

	next := a
	demux := completeness.NewDemultiplex(store, registry.Demultiplex, a.FastqDir, a.ResultsDir, a.Lanes, roster, logger)
	next.DemultiplexingCompleted = demux.IsComplete(ctx)
	next.DemultiplexingValid = next.DemultiplexingCompleted && demux.IsValid(ctx)

	report := completeness.NewEvaluator(store, variant.Artifacts, a.ResultsDir, roster, logger).Evaluate(ctx)
	next.ResultsCompleted = report.RunCompleted
	next.ResultsValid = report.RunValid

	return Assessment{
		Analysis:     next,
		Samples:      applySampleFlags(samples, report),
		CopyComplete: demux.CopyComplete(ctx),
		Results:      report,
	}, nil
}

// Assess runs AssessCompleteness and then the auto-QC chain over the fresh
// flags. A metric extraction failure is returned as an error; no partial
// verdict is produced.
func Assess(ctx context.Context, store artifacts.ReadableStore, registry *rules.Registry, chain *autoqc.Chain, a domain.RunAnalysis, samples []domain.SampleAnalysis, logger *slog.Logger) (Assessment, error) {
	out, err := AssessCompleteness(ctx, store, registry, a, samples, logger)
	if err != nil {
		return Assessment{}, err
	}
	verdict, err := verdictFor(ctx, store, registry, chain, out.Analysis, out.Samples)
	if err != nil {
		return Assessment{}, fmt.Errorf("auto qc: %w", err)
	}
	out.Verdict = verdict
	return out, nil
}

func verdictFor(ctx context.Context, store artifacts.ReadableStore, registry *rules.Registry, chain *autoqc.Chain, a domain.RunAnalysis, samples []domain.SampleAnalysis) (domain.Verdict, error) {
	variant, err := registry.Resolve(a.PipelineID)
	if err != nil {
		return domain.Verdict{}, err
	}
	if chain == nil {
		chain = autoqc.DefaultChain(nil)
	}
	extractor := metrics.NewExtractor(store, variant.Metrics)
	return chain.Evaluate(ctx, autoqc.Input{
		Analysis:   a,
		Samples:    samples,
		NTCMarkers: registry.NTCMarkers,
		SexField:   extractor.Field(metrics.CategoryQC, autoqc.DefaultSexField),
	}, extractor)
}

// Plan builds the run analysis and sample rows that registering in would
// create, with the variant's default checks and thresholds applied.
func Plan(registry *rules.Registry, in RegisterInput, id string, now time.Time) (domain.RunAnalysis, []domain.SampleAnalysis, rules.Variant, error) {
	if _, err := domain.ParsePipelineID(in.PipelineID); err != nil {
		return domain.RunAnalysis{}, nil, rules.Variant{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	variant, err := registry.Resolve(in.PipelineID)
	if err != nil {
		return domain.RunAnalysis{}, nil, rules.Variant{}, err
	}
	if len(in.Samples) == 0 {
		return domain.RunAnalysis{}, nil, rules.Variant{}, fmt.Errorf("%w: samples must be non-empty", ErrInvalidInput)
	}
	ids := make([]string, 0, len(in.Samples))
	for _, sample := range in.Samples {
		ids = append(ids, sample.ID)
	}
	if _, err := domain.NewRunRoster(in.RunID, ids, registry.NTCMarkers); err != nil {
		return domain.RunAnalysis{}, nil, rules.Variant{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	thresholds := registry.Thresholds
	if variant.Thresholds != nil {
		thresholds = *variant.Thresholds
	}
	checks := in.AutoQCChecks
	if checks == nil {
		checks = variant.AutoQCChecks
	}
	a := domain.RunAnalysis{
		ID:           id,
		RunID:        strings.TrimSpace(in.RunID),
		PipelineID:   strings.TrimSpace(in.PipelineID),
		AnalysisType: strings.TrimSpace(in.AnalysisType),
		ResultsDir:   strings.TrimSpace(in.ResultsDir),
		FastqDir:     strings.TrimSpace(in.FastqDir),
		Lanes:        in.Lanes,
		AutoQCChecks: checks,
		MinQ30Score:  thresholds.MinQ30Score,
		Watching:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.Validate(); err != nil {
		return domain.RunAnalysis{}, nil, rules.Variant{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	samples := make([]domain.SampleAnalysis, 0, len(in.Samples))
	for i, sample := range in.Samples {
		sex := strings.TrimSpace(sample.Sex)
		if sex == "" {
			sex = domain.SexUnknown
		}
		samples = append(samples, domain.SampleAnalysis{
			RunAnalysisID:          a.ID,
			SampleID:               strings.TrimSpace(sample.ID),
			Position:               i,
			Worksheet:              strings.TrimSpace(sample.Worksheet),
			Sex:                    sex,
			ContaminationCutoff:    thresholds.ContaminationCutoff,
			NTCContaminationCutoff: thresholds.NTCContaminationCutoff,
		})
	}
	return a, samples, variant, nil
}

func rosterOf(a domain.RunAnalysis, samples []domain.SampleAnalysis, markers []string) (domain.RunRoster, error) {
	ids := make([]string, 0, len(samples))
	for _, sample := range samples {
		ids = append(ids, sample.SampleID)
	}
	return domain.NewRunRoster(a.RunID, ids, markers)
}

// applySampleFlags returns a copy of samples with the report's flags.
func applySampleFlags(samples []domain.SampleAnalysis, report completeness.Report) []domain.SampleAnalysis {
	flags := make(map[string]domain.SampleFlags, len(report.Samples))
	for _, f := range report.Samples {
		flags[f.SampleID] = f
	}
	out := make([]domain.SampleAnalysis, len(samples))
	for i, sample := range samples {
		if f, ok := flags[sample.SampleID]; ok {
			sample.ResultsCompleted = f.Completed
			sample.ResultsValid = f.Valid
		}
		out[i] = sample
	}
	return out
}
