package autoqc

import (
	"context"
	"errors"
	"testing"

	"github.com/animus-labs/runqc/internal/domain"
	"github.com/animus-labs/runqc/internal/metrics"
)

type fakeMetrics struct {
	records map[string][]metrics.Record // category + "/" + sample
	calls   int
}

func (f *fakeMetrics) key(target metrics.Target, category string) string {
	return category + "/" + target.Sample
}

func (f *fakeMetrics) Extract(ctx context.Context, target metrics.Target, category string) (metrics.Record, error) {
	records, err := f.ExtractRecords(ctx, target, category)
	if err != nil {
		return nil, err
	}
	return records[0], nil
}

func (f *fakeMetrics) ExtractRecords(ctx context.Context, target metrics.Target, category string) ([]metrics.Record, error) {
	f.calls++
	records, ok := f.records[f.key(target, category)]
	if !ok {
		return nil, &metrics.SourceError{Category: category, Root: target.ResultsDir, Pattern: "*", Matches: 0}
	}
	return records, nil
}

func (f *fakeMetrics) ExtractAll(ctx context.Context, target metrics.Target, category string) ([]metrics.Record, error) {
	f.calls++
	return f.records[f.key(target, category)], nil
}

func rec(kv ...string) metrics.Record {
	r := metrics.Record{}
	for i := 0; i+1 < len(kv); i += 2 {
		r[kv[i]] = metrics.ParseValue(kv[i+1])
	}
	return r
}

func checks(list string) *string { return &list }

func sample(id string, sex string) domain.SampleAnalysis {
	return domain.SampleAnalysis{
		SampleID:               id,
		Sex:                    sex,
		ResultsCompleted:       true,
		ResultsValid:           true,
		ContaminationCutoff:    domain.DefaultContaminationCutoff,
		NTCContaminationCutoff: domain.DefaultNTCContaminationCutoff,
	}
}

func passingInput(list string) Input {
	return Input{
		Analysis: domain.RunAnalysis{
			ID:                      "ra1",
			RunID:                   "run1",
			ResultsDir:              "/results/run1",
			FastqDir:                "/fastq/run1",
			AutoQCChecks:            checks(list),
			MinQ30Score:             0.8,
			DemultiplexingCompleted: true,
			DemultiplexingValid:     true,
			ResultsCompleted:        true,
			ResultsValid:            true,
		},
		Samples: []domain.SampleAnalysis{sample("S1", "1"), sample("NTC-1", "0"), sample("S2", "2")},
	}
}

func passingMetrics() *fakeMetrics {
	return &fakeMetrics{records: map[string][]metrics.Record{
		"interop/":         {rec("read", "1", "lane", "1", "percent_q30", "82.0"), rec("read", "2", "lane", "1", "percent_q30", "90.5")},
		"fastqc/S1":        {rec("basic_statistics", "PASS", "per_base_n_content", "WARN")},
		"fastqc/S2":        {rec("basic_statistics", "PASS")},
		"contamination/S1": {rec("freemix", "0.01")},
		"contamination/S2": {rec("freemix", "0.15")},
		"hs_metrics/S1":    {rec("total_reads", "11000000")},
		"hs_metrics/S2":    {rec("total_reads", "12000000")},
		"hs_metrics/NTC-1": {rec("total_reads", "1000000")},
		"qc/S1":            {rec("calculated_sex", "MALE")},
		"qc/S2":            {rec("calculated_sex", "female")},
	}}
}

const allChecks = "pct_q30,fastqc,contamination,ntc_contamination,sex_match"

func TestAllPass(t *testing.T) {
	v, err := DefaultChain(nil).Evaluate(context.Background(), passingInput(allChecks), passingMetrics())
	if err != nil {
		t.Fatalf("Evaluate() err=%v", err)
	}
	if !v.Passed || v.Reason != domain.ReasonAllPass {
		t.Fatalf("verdict=%+v, want All Pass", v)
	}
	// pct_q30 once, then four sample checks over two scored samples.
	if len(v.Results) != 9 {
		t.Fatalf("results=%d, want 9", len(v.Results))
	}
	for _, r := range v.Results {
		if r.Sample == "NTC-1" {
			t.Fatalf("NTC sample was scored: %+v", r)
		}
	}
}

func TestNoConfiguration(t *testing.T) {
	in := passingInput("")
	in.Analysis.AutoQCChecks = nil
	in.Analysis.ResultsValid = false
	m := passingMetrics()
	v, err := DefaultChain(nil).Evaluate(context.Background(), in, m)
	if err != nil {
		t.Fatalf("Evaluate() err=%v", err)
	}
	if v.Passed || v.Reason != domain.ReasonNoConfiguration {
		t.Fatalf("verdict=%+v, want no configuration", v)
	}

	in.Analysis.AutoQCChecks = checks("  ")
	v, _ = DefaultChain(nil).Evaluate(context.Background(), in, m)
	if v.Reason != domain.ReasonNoConfiguration {
		t.Fatalf("reason=%q for blank list, want no configuration", v.Reason)
	}
	if m.calls != 0 {
		t.Fatalf("metric calls=%d, want 0", m.calls)
	}
}

func TestPreconditionsShortCircuitChecks(t *testing.T) {
	in := passingInput(allChecks)
	in.Analysis.ResultsValid = false
	m := passingMetrics()
	m.records["fastqc/S1"] = []metrics.Record{rec("basic_statistics", "FAIL")}
	v, err := DefaultChain(nil).Evaluate(context.Background(), in, m)
	if err != nil {
		t.Fatalf("Evaluate() err=%v", err)
	}
	if v.Reason != "Run results not valid" {
		t.Fatalf("reason=%q, want Run results not valid", v.Reason)
	}
	if m.calls != 0 {
		t.Fatalf("metric calls=%d, want none before preconditions pass", m.calls)
	}
}

func TestPreconditionOrder(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Input)
		want   string
	}{
		{"demux completed first", func(in *Input) {
			in.Analysis.DemultiplexingCompleted = false
			in.Analysis.ResultsCompleted = false
		}, "Demultiplexing not complete for some samples"},
		{"demux valid", func(in *Input) { in.Analysis.DemultiplexingValid = false }, "Demultiplexing not valid for some samples"},
		{"run completed", func(in *Input) { in.Analysis.ResultsCompleted = false }, "Run results not completed"},
		{"all samples completed before any valid", func(in *Input) {
			in.Samples[0].ResultsValid = false
			in.Samples[2].ResultsCompleted = false
		}, "Results not complete for some samples"},
		{"sample valid", func(in *Input) { in.Samples[1].ResultsValid = false }, "Results not valid for some samples"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := passingInput(allChecks)
			tc.mutate(&in)
			v, err := DefaultChain(nil).Evaluate(context.Background(), in, passingMetrics())
			if err != nil {
				t.Fatalf("Evaluate() err=%v", err)
			}
			if v.Passed || v.Reason != tc.want {
				t.Fatalf("verdict=%+v, want reason %q", v, tc.want)
			}
		})
	}
}

func TestQ30PassesThenFastQCFails(t *testing.T) {
	m := passingMetrics()
	m.records["interop/"] = []metrics.Record{rec("percent_q30", "82")}
	m.records["fastqc/S2"] = []metrics.Record{rec("basic_statistics", "PASS", "per_base_n_content", "FAIL")}
	v, err := DefaultChain(nil).Evaluate(context.Background(), passingInput("pct_q30,fastqc"), m)
	if err != nil {
		t.Fatalf("Evaluate() err=%v", err)
	}
	if v.Passed || v.Reason != "FASTQC Fail" {
		t.Fatalf("verdict=%+v, want FASTQC Fail", v)
	}
	if v.Results[0].Check != domain.CheckPctQ30 || v.Results[0].Outcome != domain.OutcomePass {
		t.Fatalf("results[0]=%+v, want pct_q30 pass", v.Results[0])
	}
	last := v.Results[len(v.Results)-1]
	if last.Sample != "S2" || last.Outcome != domain.OutcomeFail {
		t.Fatalf("last result=%+v, want S2 fail", last)
	}
}

func TestQ30BelowMinimum(t *testing.T) {
	m := passingMetrics()
	m.records["interop/"] = append(m.records["interop/"], rec("percent_q30", "79.9"))
	v, _ := DefaultChain(nil).Evaluate(context.Background(), passingInput("pct_q30"), m)
	if v.Passed || v.Reason != "Q30 Fail" {
		t.Fatalf("verdict=%+v, want Q30 Fail", v)
	}
}

func TestQ30WithoutNumericValues(t *testing.T) {
	cases := map[string]struct {
		records []metrics.Record
		want    domain.Outcome
	}{
		"nan and blank":  {[]metrics.Record{rec("percent_q30", "nan"), rec("percent_q30", ""), rec("lane", "2")}, domain.OutcomeNA},
		"inf":            {[]metrics.Record{rec("percent_q30", "Inf")}, domain.OutcomeNA},
		"nan beside low": {[]metrics.Record{rec("percent_q30", "NaN"), rec("percent_q30", "79")}, domain.OutcomeFail},
		"nan beside ok":  {[]metrics.Record{rec("percent_q30", "NaN"), rec("percent_q30", "91")}, domain.OutcomePass},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			m := passingMetrics()
			m.records["interop/"] = tc.records
			v, err := DefaultChain(nil).Evaluate(context.Background(), passingInput("pct_q30"), m)
			if err != nil {
				t.Fatalf("Evaluate() err=%v", err)
			}
			if len(v.Results) != 1 || v.Results[0].Outcome != tc.want {
				t.Fatalf("results=%+v, want %s", v.Results, tc.want)
			}
			if v.Passed != (tc.want != domain.OutcomeFail) {
				t.Fatalf("verdict=%+v", v)
			}
		})
	}
}

func TestCheckOrderIgnoresListOrder(t *testing.T) {
	m := passingMetrics()
	m.records["interop/"] = []metrics.Record{rec("percent_q30", "50")}
	m.records["qc/S1"] = []metrics.Record{rec("calculated_sex", "female")}
	v, _ := DefaultChain(nil).Evaluate(context.Background(), passingInput("sex_match, pct_q30,unknown_check"), m)
	if v.Reason != "Q30 Fail" {
		t.Fatalf("reason=%q, want Q30 Fail", v.Reason)
	}
}

func TestNTCContamination(t *testing.T) {
	cases := []struct {
		reads string
		want  bool
	}{
		{"9000000", false},
		{"11000000", true},
	}
	for _, tc := range cases {
		m := passingMetrics()
		m.records["hs_metrics/S1"] = []metrics.Record{rec("total_reads", tc.reads)}
		v, err := DefaultChain(nil).Evaluate(context.Background(), passingInput("ntc_contamination"), m)
		if err != nil {
			t.Fatalf("Evaluate() err=%v", err)
		}
		if v.Passed != tc.want {
			t.Fatalf("reads=%s verdict=%+v, want passed=%v", tc.reads, v, tc.want)
		}
		if !tc.want && v.Reason != "NTC Contamination Fail" {
			t.Fatalf("reason=%q, want NTC Contamination Fail", v.Reason)
		}
	}
}

func TestNTCContaminationWithoutNTCIsNotApplicable(t *testing.T) {
	in := passingInput("ntc_contamination")
	in.Samples = []domain.SampleAnalysis{sample("S1", "1"), sample("S2", "2")}
	v, err := DefaultChain(nil).Evaluate(context.Background(), in, passingMetrics())
	if err != nil {
		t.Fatalf("Evaluate() err=%v", err)
	}
	if !v.Passed {
		t.Fatalf("verdict=%+v, want pass with NA results", v)
	}
	for _, r := range v.Results {
		if r.Outcome != domain.OutcomeNA {
			t.Fatalf("result=%+v, want na", r)
		}
	}
}

func TestContamination(t *testing.T) {
	m := passingMetrics()
	m.records["contamination/S2"] = []metrics.Record{rec("freemix", "0.16")}
	v, _ := DefaultChain(nil).Evaluate(context.Background(), passingInput("contamination"), m)
	if v.Reason != "Contamination Fail" {
		t.Fatalf("reason=%q, want Contamination Fail", v.Reason)
	}

	m.records["contamination/S2"] = []metrics.Record{rec("avg_dp", "30")}
	v, _ = DefaultChain(nil).Evaluate(context.Background(), passingInput("contamination"), m)
	if !v.Passed || v.Results[1].Outcome != domain.OutcomeNA {
		t.Fatalf("verdict=%+v, want pass with S2 na", v)
	}

	for _, freemix := range []string{"nan", "NaN", "-inf"} {
		m.records["contamination/S2"] = []metrics.Record{rec("freemix", freemix)}
		v, _ = DefaultChain(nil).Evaluate(context.Background(), passingInput("contamination"), m)
		if !v.Passed || v.Results[1].Outcome != domain.OutcomeNA {
			t.Fatalf("freemix=%s verdict=%+v, want S2 na", freemix, v)
		}
	}
}

func TestSexMatch(t *testing.T) {
	in := passingInput("sex_match")
	v, _ := DefaultChain(nil).Evaluate(context.Background(), in, passingMetrics())
	if !v.Passed {
		t.Fatalf("verdict=%+v, want pass", v)
	}

	// Recorded unknown never matches, even when the tool also says unknown.
	in.Samples[0].Sex = domain.SexUnknown
	m := passingMetrics()
	m.records["qc/S1"] = []metrics.Record{rec("calculated_sex", "unknown")}
	v, _ = DefaultChain(nil).Evaluate(context.Background(), in, m)
	if v.Passed || v.Reason != "Sex Match Fail" {
		t.Fatalf("verdict=%+v, want Sex Match Fail", v)
	}

	in = passingInput("sex_match")
	in.SexField = "calculatedsex"
	m = passingMetrics()
	m.records["qc/S1"] = []metrics.Record{rec("calculatedsex", "FEMALE")}
	v, _ = DefaultChain(nil).Evaluate(context.Background(), in, m)
	if v.Reason != "Sex Match Fail" {
		t.Fatalf("reason=%q, want Sex Match Fail for custom field", v.Reason)
	}
}

func TestExtractionErrorAbortsVerdict(t *testing.T) {
	m := passingMetrics()
	delete(m.records, "contamination/S2")
	_, err := DefaultChain(nil).Evaluate(context.Background(), passingInput(allChecks), m)
	if !errors.Is(err, metrics.ErrMissingMetricSource) {
		t.Fatalf("err=%v, want ErrMissingMetricSource", err)
	}
}

func TestDuplicateSamplesAreAnError(t *testing.T) {
	in := passingInput("fastqc")
	in.Samples = append(in.Samples, sample("S1", "1"))
	if _, err := DefaultChain(nil).Evaluate(context.Background(), in, passingMetrics()); err == nil {
		t.Fatalf("expected roster error")
	}
}

func TestCustomChain(t *testing.T) {
	chain := NewChain(nil, []Check{{
		Name:   "always_fail",
		Reason: "Always Fail",
		Scope:  ScopeRun,
		Eval: func(ctx context.Context, ev *Evaluation, _ domain.SampleAnalysis) (domain.Outcome, error) {
			return domain.OutcomeFail, nil
		},
	}}, nil)
	if names := chain.CheckNames(); len(names) != 1 || names[0] != "always_fail" {
		t.Fatalf("CheckNames()=%v", names)
	}
	v, _ := chain.Evaluate(context.Background(), passingInput("always_fail"), passingMetrics())
	if v.Reason != "Always Fail" {
		t.Fatalf("reason=%q, want Always Fail", v.Reason)
	}
}
