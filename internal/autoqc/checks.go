package autoqc

import (
	"context"
	"strings"

	"github.com/animus-labs/runqc/internal/domain"
	"github.com/animus-labs/runqc/internal/metrics"
)

func DefaultPreconditions() []Precondition {
	return []Precondition{
		{
			Name:   "demultiplexing_completed",
			Reason: "Demultiplexing not complete for some samples",
			Holds:  func(in Input) bool { return in.Analysis.DemultiplexingCompleted },
		},
		{
			Name:   "demultiplexing_valid",
			Reason: "Demultiplexing not valid for some samples",
			Holds:  func(in Input) bool { return in.Analysis.DemultiplexingValid },
		},
		{
			Name:   "results_completed",
			Reason: "Run results not completed",
			Holds:  func(in Input) bool { return in.Analysis.ResultsCompleted },
		},
		{
			Name:   "results_valid",
			Reason: "Run results not valid",
			Holds:  func(in Input) bool { return in.Analysis.ResultsValid },
		},
		{
			Name:   "samples_completed",
			Reason: "Results not complete for some samples",
			Holds: func(in Input) bool {
				for _, s := range in.Samples {
					if !s.ResultsCompleted {
						return false
					}
				}
				return true
			},
		},
		{
			Name:   "samples_valid",
			Reason: "Results not valid for some samples",
			Holds: func(in Input) bool {
				for _, s := range in.Samples {
					if !s.ResultsValid {
						return false
					}
				}
				return true
			},
		},
	}
}

func DefaultChecks() []Check {
	return []Check{
		{Name: domain.CheckPctQ30, Reason: "Q30 Fail", Scope: ScopeRun, Eval: checkPctQ30},
		{Name: domain.CheckFastQC, Reason: "FASTQC Fail", Scope: ScopeSample, Eval: checkFastQC},
		{Name: domain.CheckContamination, Reason: "Contamination Fail", Scope: ScopeSample, Eval: checkContamination},
		{Name: domain.CheckNTCContamination, Reason: "NTC Contamination Fail", Scope: ScopeSample, Eval: checkNTCContamination},
		{Name: domain.CheckSexMatch, Reason: "Sex Match Fail", Scope: ScopeSample, Eval: checkSexMatch},
	}
}

// FastQC modules that must not FAIL.
var fastqcModules = []string{
	"basic_statistics",
	"per_base_sequence_quality",
	"per_tile_sequence_quality",
	"per_sequence_quality_scores",
	"per_base_n_content",
}

// checkPctQ30 compares every read/lane Q30 percentage against the minimum,
// which is configured as a fraction. Rows without a numeric Q30 are skipped;
// if none has one the outcome is NA.
func checkPctQ30(ctx context.Context, ev *Evaluation, _ domain.SampleAnalysis) (domain.Outcome, error) {
	records, err := ev.Metrics.ExtractRecords(ctx, ev.target(""), metrics.CategoryInterop)
	if err != nil {
		return "", err
	}
	minPct := ev.Input.Analysis.MinQ30Score * 100
	compared := 0
	for _, rec := range records {
		q30, ok := rec.Float("percent_q30")
		if !ok {
			continue
		}
		compared++
		if q30 < minPct {
			return domain.OutcomeFail, nil
		}
	}
	if compared == 0 {
		return domain.OutcomeNA, nil
	}
	return domain.OutcomePass, nil
}

func checkFastQC(ctx context.Context, ev *Evaluation, sample domain.SampleAnalysis) (domain.Outcome, error) {
	records, err := ev.Metrics.ExtractAll(ctx, ev.target(sample.SampleID), metrics.CategoryFastQC)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return domain.OutcomeNA, nil
	}
	for _, rec := range records {
		for _, module := range fastqcModules {
			if result, _ := rec.String(module); result == "FAIL" {
				return domain.OutcomeFail, nil
			}
		}
	}
	return domain.OutcomePass, nil
}

func checkContamination(ctx context.Context, ev *Evaluation, sample domain.SampleAnalysis) (domain.Outcome, error) {
	rec, err := ev.Record(ctx, sample.SampleID, metrics.CategoryContamination)
	if err != nil {
		return "", err
	}
	freemix, ok := rec.Float("freemix")
	if !ok {
		return domain.OutcomeNA, nil
	}
	if freemix > sample.ContaminationCutoff {
		return domain.OutcomeFail, nil
	}
	return domain.OutcomePass, nil
}

// checkNTCContamination fails a sample with fewer reads than the NTC's read
// count scaled by the sample's cutoff.
func checkNTCContamination(ctx context.Context, ev *Evaluation, sample domain.SampleAnalysis) (domain.Outcome, error) {
	if ev.Roster.IsNTC(sample.SampleID) {
		return domain.OutcomeNA, nil
	}
	rec, err := ev.Record(ctx, sample.SampleID, metrics.CategoryHsMetrics)
	if err != nil {
		return "", err
	}
	reads, ok := rec.Float("total_reads")
	if !ok {
		return domain.OutcomeNA, nil
	}
	ntc, ok := ev.NTC()
	if !ok {
		return domain.OutcomeNA, nil
	}
	ntcRec, err := ev.Record(ctx, ntc.SampleID, metrics.CategoryHsMetrics)
	if err != nil {
		return "", err
	}
	ntcReads, ok := ntcRec.Float("total_reads")
	if !ok {
		return domain.OutcomeNA, nil
	}
	if ntcReads*sample.NTCContaminationCutoff > reads {
		return domain.OutcomeFail, nil
	}
	return domain.OutcomePass, nil
}

// checkSexMatch compares the calculated sex to the recorded one. A recorded
// sex other than male or female never matches.
func checkSexMatch(ctx context.Context, ev *Evaluation, sample domain.SampleAnalysis) (domain.Outcome, error) {
	if ev.Roster.IsNTC(sample.SampleID) {
		return domain.OutcomeNA, nil
	}
	rec, err := ev.Record(ctx, sample.SampleID, metrics.CategoryQC)
	if err != nil {
		return "", err
	}
	field := ev.Input.SexField
	if field == "" {
		field = DefaultSexField
	}
	calculated, ok := rec.String(field)
	if !ok {
		return domain.OutcomeNA, nil
	}
	recorded := domain.SexLabel(sample.Sex)
	if recorded != "male" && recorded != "female" {
		return domain.OutcomeFail, nil
	}
	if strings.ToLower(strings.TrimSpace(calculated)) != recorded {
		return domain.OutcomeFail, nil
	}
	return domain.OutcomePass, nil
}
