package analyses

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/animus-labs/runqc/internal/artifacts"
	"github.com/animus-labs/runqc/internal/domain"
	"github.com/animus-labs/runqc/internal/rules"
)

func TestPlanAppliesVariantDefaults(t *testing.T) {
	reg, err := rules.Parse([]byte(testRegistry))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a, samples, variant, err := Plan(reg, RegisterInput{
		RunID:        " run1 ",
		PipelineID:   "GermlineEnrichment-2.5.3",
		AnalysisType: "IlluminaTruSightCancer",
		ResultsDir:   resultsDir,
		FastqDir:     fastqDir,
		Samples:      []SampleInput{{ID: "S1", Sex: "2"}, {ID: "NTC-1"}},
	}, "ra-1", now)
	if err != nil {
		t.Fatalf("Plan() err=%v", err)
	}
	if variant.Name != "GermlineEnrichment" {
		t.Fatalf("variant=%q", variant.Name)
	}
	if a.ID != "ra-1" || a.RunID != "run1" || !a.Watching || !a.CreatedAt.Equal(now) {
		t.Fatalf("analysis=%+v", a)
	}
	if a.AutoQCChecks == nil || *a.AutoQCChecks != "contamination" {
		t.Fatalf("checks=%v, want variant default", a.AutoQCChecks)
	}
	if a.MinQ30Score != domain.DefaultMinQ30Score {
		t.Fatalf("min q30=%v, want %v", a.MinQ30Score, domain.DefaultMinQ30Score)
	}
	if len(samples) != 2 || samples[1].Position != 1 || samples[1].Sex != domain.SexUnknown {
		t.Fatalf("samples=%+v", samples)
	}
	if samples[0].ContaminationCutoff != domain.DefaultContaminationCutoff || samples[0].RunAnalysisID != "ra-1" {
		t.Fatalf("sample=%+v", samples[0])
	}
}

func TestPlanKeepsZeroCutoff(t *testing.T) {
	reg, err := rules.Parse([]byte(testRegistry + `
thresholds:
  contamination_cutoff: 0
`))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	_, samples, _, err := Plan(reg, RegisterInput{
		RunID:        "run1",
		PipelineID:   "GermlineEnrichment-2.5.3",
		AnalysisType: "IlluminaTruSightCancer",
		ResultsDir:   "/results/run1",
		FastqDir:     "/fastq/run1",
		Samples:      []SampleInput{{ID: "S1"}},
	}, "ra-1", time.Now())
	if err != nil {
		t.Fatalf("Plan() err=%v", err)
	}
	if samples[0].ContaminationCutoff != 0 || samples[0].NTCContaminationCutoff != domain.DefaultNTCContaminationCutoff {
		t.Fatalf("sample=%+v, want zero contamination cutoff", samples[0])
	}
}

func TestPlanRejectsBadInput(t *testing.T) {
	reg, err := rules.Parse([]byte(testRegistry))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	cases := []RegisterInput{
		{RunID: "run1", PipelineID: "GermlineEnrichment", AnalysisType: "p", ResultsDir: "/r", Samples: []SampleInput{{ID: "S1"}}},
		{RunID: "run1", PipelineID: "GermlineEnrichment-2.5.3", AnalysisType: "p", ResultsDir: "/r"},
		{RunID: "run1", PipelineID: "GermlineEnrichment-2.5.3", AnalysisType: "p", ResultsDir: "/r", Samples: []SampleInput{{ID: "S1"}, {ID: "S1"}}},
		{RunID: "run1", PipelineID: "GermlineEnrichment-2.5.3", ResultsDir: "/r", Samples: []SampleInput{{ID: "S1"}}},
	}
	for i, in := range cases {
		if _, _, _, err := Plan(reg, in, "ra", time.Now()); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: err=%v, want ErrInvalidInput", i, err)
		}
	}
	in := RegisterInput{RunID: "run1", PipelineID: "SomaticAmplicon-1.0.0", AnalysisType: "p", ResultsDir: "/r", Samples: []SampleInput{{ID: "S1"}}}
	if _, _, _, err := Plan(reg, in, "ra", time.Now()); !errors.Is(err, rules.ErrUnknownVariant) {
		t.Fatalf("err=%v, want ErrUnknownVariant", err)
	}
}

func TestAssessCompletenessLeavesInputsUntouched(t *testing.T) {
	h := newHarness(t)
	h.writeFinishedRun(t, "S1", "NTC-1")
	reg, err := rules.Parse([]byte(testRegistry))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	a, samples, _, err := Plan(reg, RegisterInput{
		RunID:        "run1",
		PipelineID:   "GermlineEnrichment-2.5.3",
		AnalysisType: "IlluminaTruSightCancer",
		ResultsDir:   resultsDir,
		FastqDir:     fastqDir,
		Lanes:        1,
		Samples:      []SampleInput{{ID: "S1"}, {ID: "NTC-1"}},
	}, "ra-1", time.Now())
	if err != nil {
		t.Fatalf("Plan() err=%v", err)
	}

	out, err := AssessCompleteness(context.Background(), artifacts.NewFSStore(h.fs), reg, a, samples, nil)
	if err != nil {
		t.Fatalf("AssessCompleteness() err=%v", err)
	}
	if !out.Analysis.DemultiplexingValid || !out.Analysis.ResultsValid || !out.CopyComplete {
		t.Fatalf("assessment=%+v", out.Analysis)
	}
	if !out.Samples[0].ResultsValid || !out.Samples[1].ResultsCompleted {
		t.Fatalf("samples=%+v", out.Samples)
	}
	if a.ResultsValid || samples[0].ResultsValid {
		t.Fatalf("inputs were modified")
	}
	if out.Verdict.Reason != "" {
		t.Fatalf("verdict=%+v, want none", out.Verdict)
	}
}
