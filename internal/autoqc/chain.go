// Package autoqc renders the automatic pass/fail verdict for a run analysis.
//
// The chain is two ordered lists: preconditions on the persisted completeness
// flags, then quality checks over extracted metrics. The first precondition
// or check that fails names the verdict.
package autoqc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/runqc/internal/domain"
	"github.com/animus-labs/runqc/internal/metrics"
)

// Metrics is the metric extraction the checks depend on.
type Metrics interface {
	Extract(ctx context.Context, target metrics.Target, category string) (metrics.Record, error)
	ExtractRecords(ctx context.Context, target metrics.Target, category string) ([]metrics.Record, error)
	ExtractAll(ctx context.Context, target metrics.Target, category string) ([]metrics.Record, error)
}

const DefaultSexField = "calculated_sex"

// Input is everything the chain reads for one run analysis. Samples are in
// roster order.
type Input struct {
	Analysis   domain.RunAnalysis
	Samples    []domain.SampleAnalysis
	NTCMarkers []string
	// SexField is the qc metric holding the calculated sex.
	SexField string
}

// Precondition gates the checks on a completeness flag.
type Precondition struct {
	Name   string
	Reason string
	Holds  func(in Input) bool
}

// Scope says whether a check runs once per run or once per scored sample.
type Scope string

const (
	ScopeRun    Scope = "run"
	ScopeSample Scope = "sample"
)

// Check is a named predicate. Sample scoped checks get the sample; run
// scoped checks get the zero SampleAnalysis.
type Check struct {
	Name   string
	Reason string
	Scope  Scope
	Eval   func(ctx context.Context, ev *Evaluation, sample domain.SampleAnalysis) (domain.Outcome, error)
}

type Chain struct {
	preconditions []Precondition
	checks        []Check
	logger        *slog.Logger
}

func NewChain(preconditions []Precondition, checks []Check, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Chain{preconditions: preconditions, checks: checks, logger: logger}
}

// DefaultChain is the production chain in its fixed declaration order.
func DefaultChain(logger *slog.Logger) *Chain {
	return NewChain(DefaultPreconditions(), DefaultChecks(), logger)
}

func (c *Chain) CheckNames() []string {
	out := make([]string, 0, len(c.checks))
	for _, check := range c.checks {
		out = append(out, check.Name)
	}
	return out
}

// Evaluate returns the verdict. Only metric extraction errors are returned;
// they abort the evaluation without a partial verdict.
func (c *Chain) Evaluate(ctx context.Context, in Input, m Metrics) (domain.Verdict, error) {
	logger := c.logger.With("run_analysis_id", in.Analysis.ID, "run_id", in.Analysis.RunID)

	configured, ok := parseCheckList(in.Analysis.AutoQCChecks)
	if !ok {
		return domain.Verdict{Passed: false, Reason: domain.ReasonNoConfiguration}, nil
	}

	for _, pre := range c.preconditions {
		if !pre.Holds(in) {
			logger.Info("auto qc precondition failed", "precondition", pre.Name)
			return domain.Verdict{Passed: false, Reason: pre.Reason}, nil
		}
	}

	ev, err := newEvaluation(in, m)
	if err != nil {
		return domain.Verdict{}, err
	}

	verdict := domain.Verdict{Passed: true, Reason: domain.ReasonAllPass}
	for _, check := range c.checks {
		if _, want := configured[check.Name]; !want {
			continue
		}
		targets := []domain.SampleAnalysis{{}}
		if check.Scope == ScopeSample {
			targets = ev.scored
		}
		for _, sample := range targets {
			outcome, err := check.Eval(ctx, ev, sample)
			if err != nil {
				return domain.Verdict{}, fmt.Errorf("%s: %w", check.Name, err)
			}
			verdict.Results = append(verdict.Results, domain.CheckResult{Check: check.Name, Sample: sample.SampleID, Outcome: outcome})
			if outcome == domain.OutcomeFail {
				logger.Info("auto qc check failed", "check", check.Name, "sample", sample.SampleID)
				verdict.Passed = false
				verdict.Reason = check.Reason
				return verdict, nil
			}
		}
	}
	return verdict, nil
}

// parseCheckList reports false when no check list is configured.
func parseCheckList(list *string) (map[string]struct{}, bool) {
	if list == nil || strings.TrimSpace(*list) == "" {
		return nil, false
	}
	out := map[string]struct{}{}
	for _, name := range strings.Split(*list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out[name] = struct{}{}
		}
	}
	return out, true
}

// Evaluation carries per-run state shared by checks: the roster and the
// metric records already extracted.
type Evaluation struct {
	Input   Input
	Roster  domain.RunRoster
	Metrics Metrics

	scored []domain.SampleAnalysis
	byID   map[string]domain.SampleAnalysis
	cache  map[string]metrics.Record
}

func newEvaluation(in Input, m Metrics) (*Evaluation, error) {
	ids := make([]string, 0, len(in.Samples))
	byID := make(map[string]domain.SampleAnalysis, len(in.Samples))
	for _, s := range in.Samples {
		ids = append(ids, s.SampleID)
		byID[s.SampleID] = s
	}
	roster, err := domain.NewRunRoster(in.Analysis.RunID, ids, in.NTCMarkers)
	if err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}
	ev := &Evaluation{
		Input:   in,
		Roster:  roster,
		Metrics: m,
		byID:    byID,
		cache:   map[string]metrics.Record{},
	}
	for _, s := range in.Samples {
		if !roster.IsNTC(s.SampleID) {
			ev.scored = append(ev.scored, s)
		}
	}
	return ev, nil
}

func (ev *Evaluation) target(sample string) metrics.Target {
	return metrics.Target{
		ResultsDir: ev.Input.Analysis.ResultsDir,
		FastqDir:   ev.Input.Analysis.FastqDir,
		Sample:     sample,
	}
}

// Record extracts and memoizes the single record of category for sample.
func (ev *Evaluation) Record(ctx context.Context, sample string, category string) (metrics.Record, error) {
	key := category + "\x00" + sample
	if rec, ok := ev.cache[key]; ok {
		return rec, nil
	}
	rec, err := ev.Metrics.Extract(ctx, ev.target(sample), category)
	if err != nil {
		return nil, err
	}
	ev.cache[key] = rec
	return rec, nil
}

// NTC returns the first negative control on the roster.
func (ev *Evaluation) NTC() (domain.SampleAnalysis, bool) {
	ntcs := ev.Roster.NTCs()
	if len(ntcs) == 0 {
		return domain.SampleAnalysis{}, false
	}
	return ev.byID[ntcs[0]], true
}
