package rules

import (
	"errors"
	"strings"
	"testing"
)

func germlineRules() ArtifactRuleSet {
	return ArtifactRuleSet{
		SampleCompletionMarker: "1_GermlineEnrichment.sh.e*",
		SampleExpected:         []string{"*.bam", "*.g.vcf"},
		SampleForbidden:        []string{"*_rmdup.bam"},
		RunCompletion:          SingleMarker,
		RunCompletionMarkers:   []string{"2_GermlineEnrichment.sh.e*"},
		RunExpected:            []string{"combined_QC.txt"},
		RunForbidden:           []string{"BAMs.list"},
	}
}

func TestArtifactRuleSetValidate(t *testing.T) {
	if err := germlineRules().Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	perSample := germlineRules()
	perSample.RunPerSampleExpected = []string{"{sample}/*_cnv/{sample}_cnv_calls.bed"}
	if err := perSample.Validate(); err != nil {
		t.Fatalf("Validate() per sample err=%v", err)
	}

	cases := map[string]func(*ArtifactRuleSet){
		"missing marker":         func(r *ArtifactRuleSet) { r.SampleCompletionMarker = "" },
		"absolute pattern":       func(r *ArtifactRuleSet) { r.SampleExpected = []string{"/data/*.bam"} },
		"escaping pattern":       func(r *ArtifactRuleSet) { r.RunExpected = []string{"../*.vcf"} },
		"bad glob":               func(r *ArtifactRuleSet) { r.SampleExpected = []string{"[*.bam"} },
		"duplicate":              func(r *ArtifactRuleSet) { r.SampleExpected = []string{"*.bam", "*.bam"} },
		"expected and forbidden": func(r *ArtifactRuleSet) { r.SampleForbidden = []string{"*.bam"} },
		"marker forbidden":       func(r *ArtifactRuleSet) { r.SampleForbidden = []string{"1_GermlineEnrichment.sh.e*"} },
		"run overlap":            func(r *ArtifactRuleSet) { r.RunForbidden = []string{"combined_QC.txt"} },
		"two single markers":     func(r *ArtifactRuleSet) { r.RunCompletionMarkers = []string{"a", "b"} },
		"unknown strategy":       func(r *ArtifactRuleSet) { r.RunCompletion = "any" },
		"per sample no sample":   func(r *ArtifactRuleSet) { r.RunPerSampleExpected = []string{"cnv_calls.bed"} },
		"per sample no markers": func(r *ArtifactRuleSet) {
			r.RunCompletion = PerSampleMarkers
			r.RunCompletionMarkers = nil
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			rules := germlineRules()
			mutate(&rules)
			if err := rules.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestExpandEscapesSample(t *testing.T) {
	got := Expand("{sample}*L00{lane}_R1_001.fastq.gz", "S[1]*", 2)
	want := `S\[1\]\**L002_R1_001.fastq.gz`
	if got != want {
		t.Fatalf("Expand()=%q, want %q", got, want)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("RUNQC_TEST_SET", "x")
	t.Setenv("RUNQC_TEST_EMPTY", "")
	in := "${RUNQC_TEST_SET} ${RUNQC_TEST_EMPTY:-d1} ${RUNQC_TEST_UNSET:-d2} ${RUNQC_TEST_UNSET}|$HOME"
	got := ExpandEnv(in)
	want := "x d1 d2 |$HOME"
	if got != want {
		t.Fatalf("ExpandEnv()=%q, want %q", got, want)
	}
}

const minimalRegistry = `
variants:
  - name: GermlineEnrichment
    versions: ">= 2.5.0, < 3.0.0"
    auto_qc_checks: "pct_q30,fastqc"
    artifacts:
      sample_completion_marker: "1_GermlineEnrichment.sh.e*"
      sample_expected: ["*.bam"]
      run_completion: single_marker
      run_completion_markers: ["2_GermlineEnrichment.sh.e*"]
  - name: GermlineEnrichment
    artifacts:
      sample_completion_marker: "1_Legacy.sh.e*"
      run_completion: single_marker
      run_completion_markers: ["2_Legacy.sh.e*"]
`

func TestParseAppliesDefaults(t *testing.T) {
	reg, err := Parse([]byte(minimalRegistry))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	if got := strings.Join(reg.NTCMarkers, ","); got != "NTC,ntc" {
		t.Fatalf("ntc markers=%q, want NTC,ntc", got)
	}
	if reg.Thresholds.MinQ30Score != 0.8 || reg.Thresholds.ContaminationCutoff != 0.15 || reg.Thresholds.NTCContaminationCutoff != 10.0 {
		t.Fatalf("thresholds=%+v, want defaults", reg.Thresholds)
	}
	if reg.Demultiplex.MinFastqSize != DefaultMinFastqSize {
		t.Fatalf("min fastq size=%d, want %d", reg.Demultiplex.MinFastqSize, DefaultMinFastqSize)
	}
	if reg.Demultiplex.CompletionMarker != "1_IlluminaQC.sh.e*" {
		t.Fatalf("demultiplex marker=%q", reg.Demultiplex.CompletionMarker)
	}
	if reg.Variants[0].Thresholds == nil || reg.Variants[0].Thresholds.MinQ30Score != 0.8 {
		t.Fatalf("variant thresholds=%+v, want inherited defaults", reg.Variants[0].Thresholds)
	}
}

func TestResolveUsesVersionConstraints(t *testing.T) {
	reg, err := Parse([]byte(minimalRegistry))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}

	v, err := reg.Resolve("GermlineEnrichment-2.5.3")
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if v.Artifacts.SampleCompletionMarker != "1_GermlineEnrichment.sh.e*" {
		t.Fatalf("marker=%q, want constrained variant", v.Artifacts.SampleCompletionMarker)
	}

	v, err = reg.Resolve("GermlineEnrichment-2.4.0")
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if v.Artifacts.SampleCompletionMarker != "1_Legacy.sh.e*" {
		t.Fatalf("marker=%q, want fallback variant", v.Artifacts.SampleCompletionMarker)
	}
	if v.AutoQCChecks != nil {
		t.Fatalf("auto qc checks=%q, want nil", *v.AutoQCChecks)
	}

	if _, err := reg.Resolve("SomaticAmplicon-1.0.0"); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("err=%v, want ErrUnknownVariant", err)
	}
	if _, err := reg.Resolve("nodash"); err == nil {
		t.Fatalf("expected pipeline id error")
	}
}

func TestParseRejectsInvalidRegistry(t *testing.T) {
	cases := map[string]string{
		"no variants":   "ntc_markers: [NTC]\n",
		"unknown check": strings.Replace(minimalRegistry, "pct_q30,fastqc", "pct_q30,coverage", 1),
		"bad version":   strings.Replace(minimalRegistry, ">= 2.5.0, < 3.0.0", "not-a-range", 1),
		"unknown field": minimalRegistry + "extra: true\n",
		"bad q30": minimalRegistry + `
thresholds:
  min_q30_score: 80
`,
		"bad metric scope": minimalRegistry + `
metrics:
  hs_metrics:
    scope: lane
    pattern: "*_HsMetrics.txt"
`,
		"lane pattern without lane": minimalRegistry + `
demultiplex:
  lane_patterns: ["{sample}_R1_001.fastq.gz"]
`,
		"unknown threshold": minimalRegistry + `
thresholds:
  min_depth: 20
`,
		"negative cutoff": minimalRegistry + `
thresholds:
  contamination_cutoff: -0.1
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestThresholdsKeepExplicitZero(t *testing.T) {
	doc := `
thresholds:
  contamination_cutoff: 0
variants:
  - name: GermlineEnrichment
    thresholds:
      ntc_contamination_cutoff: 0
    artifacts:
      sample_completion_marker: "1_GermlineEnrichment.sh.e*"
      run_completion: single_marker
      run_completion_markers: ["2_GermlineEnrichment.sh.e*"]
  - name: SomaticEnrichment
    thresholds:
      min_q30_score: 0.75
    artifacts:
      sample_completion_marker: "1_SomaticEnrichment.sh.e*"
      run_completion: single_marker
      run_completion_markers: ["2_SomaticEnrichment.sh.e*"]
`
	reg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	if reg.Thresholds.ContaminationCutoff != 0 || reg.Thresholds.MinQ30Score != 0.8 || reg.Thresholds.NTCContaminationCutoff != 10 {
		t.Fatalf("registry thresholds=%+v, want explicit zero contamination and defaults", reg.Thresholds)
	}

	germline := reg.Variants[0].Thresholds
	if germline.ContaminationCutoff != 0 || germline.NTCContaminationCutoff != 0 || germline.MinQ30Score != 0.8 {
		t.Fatalf("germline thresholds=%+v", germline)
	}
	somatic := reg.Variants[1].Thresholds
	if somatic.MinQ30Score != 0.75 || somatic.ContaminationCutoff != 0 || somatic.NTCContaminationCutoff != 10 {
		t.Fatalf("somatic thresholds=%+v, want registry values besides q30", somatic)
	}
}

func TestVariantMetricsOverrideShared(t *testing.T) {
	doc := minimalRegistry + `
metrics:
  hs_metrics:
    scope: sample
    pattern: "*_HsMetrics.txt"
  qc:
    scope: sample
    pattern: "*_QC.txt"
`
	doc = strings.Replace(doc, `auto_qc_checks: "pct_q30,fastqc"`, `auto_qc_checks: "pct_q30,fastqc"
    metrics:
      qc:
        scope: run
        pattern: "combined_QC.txt"`, 1)
	reg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	v := reg.Variants[0]
	if v.Metrics["qc"].Scope != ScopeRun {
		t.Fatalf("qc scope=%q, want run", v.Metrics["qc"].Scope)
	}
	if v.Metrics["hs_metrics"].Pattern != "*_HsMetrics.txt" {
		t.Fatalf("hs_metrics=%+v, want shared source", v.Metrics["hs_metrics"])
	}
	if _, ok := reg.Variants[1].Metrics["qc"]; !ok || reg.Variants[1].Metrics["qc"].Scope != ScopeSample {
		t.Fatalf("second variant qc=%+v, want shared source", reg.Variants[1].Metrics["qc"])
	}
}

func TestLoadRepositoryConfig(t *testing.T) {
	reg, err := Load("../../configs/pipelines.yaml")
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	v, err := reg.Resolve("GermlineEnrichment-2.5.3")
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if v.Artifacts.RunCompletion != SingleMarker {
		t.Fatalf("strategy=%q, want %q", v.Artifacts.RunCompletion, SingleMarker)
	}
	if len(v.Artifacts.SampleExpected) != 9 {
		t.Fatalf("sample expected=%d, want 9", len(v.Artifacts.SampleExpected))
	}
	somatic, err := reg.Resolve("SomaticEnrichment-1.0.0")
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if somatic.Artifacts.RunCompletion != PerSampleMarkers {
		t.Fatalf("strategy=%q, want %q", somatic.Artifacts.RunCompletion, PerSampleMarkers)
	}
	if somatic.Thresholds.MinQ30Score != 0.75 {
		t.Fatalf("min q30=%v, want 0.75", somatic.Thresholds.MinQ30Score)
	}

	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatalf("expected missing file error")
	}
}
