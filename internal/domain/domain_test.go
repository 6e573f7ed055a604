package domain

import (
	"reflect"
	"testing"
)

func TestParsePipelineID(t *testing.T) {
	id, err := ParsePipelineID("GermlineEnrichment-2.5.3")
	if err != nil {
		t.Fatalf("ParsePipelineID() err=%v", err)
	}
	if id.Name != "GermlineEnrichment" || id.Version != "2.5.3" {
		t.Fatalf("id=%+v", id)
	}
	if id.String() != "GermlineEnrichment-2.5.3" {
		t.Fatalf("String()=%q", id.String())
	}

	id, err = ParsePipelineID("Somatic-Amplicon-1.7.0")
	if err != nil {
		t.Fatalf("ParsePipelineID() err=%v", err)
	}
	if id.Name != "Somatic-Amplicon" || id.Version != "1.7.0" {
		t.Fatalf("id=%+v, want name with dash kept", id)
	}

	for _, bad := range []string{"", "GermlineEnrichment", "-1.0", "Germline-"} {
		if _, err := ParsePipelineID(bad); err == nil {
			t.Fatalf("ParsePipelineID(%q) expected error", bad)
		}
	}
}

func TestRunRosterNTC(t *testing.T) {
	roster, err := NewRunRoster("run-1", []string{"S1", "NTC-01", "s2", "x_ntc", "Ntc3"}, nil)
	if err != nil {
		t.Fatalf("NewRunRoster() err=%v", err)
	}
	if !roster.IsNTC("NTC-01") || !roster.IsNTC("x_ntc") {
		t.Fatalf("expected NTC match")
	}
	if roster.IsNTC("Ntc3") {
		t.Fatalf("match must be case-sensitive")
	}
	if got := roster.Scored(); !reflect.DeepEqual(got, []string{"S1", "s2", "Ntc3"}) {
		t.Fatalf("Scored()=%v", got)
	}
	if got := roster.NTCs(); !reflect.DeepEqual(got, []string{"NTC-01", "x_ntc"}) {
		t.Fatalf("NTCs()=%v", got)
	}
}

func TestRunRosterRejectsDuplicates(t *testing.T) {
	if _, err := NewRunRoster("run-1", []string{"S1", "S1"}, nil); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if _, err := NewRunRoster("", []string{"S1"}, nil); err == nil {
		t.Fatalf("expected run id error")
	}
}

func TestRunRosterCustomMarkers(t *testing.T) {
	roster, err := NewRunRoster("run-1", []string{"S1", "BLANK1"}, []string{"BLANK"})
	if err != nil {
		t.Fatalf("NewRunRoster() err=%v", err)
	}
	if !roster.IsNTC("BLANK1") || roster.IsNTC("NTC") {
		t.Fatalf("custom markers not applied")
	}
}

func TestSexLabel(t *testing.T) {
	cases := map[string]string{"0": "unknown", "1": "male", "2": "female", "9": "NA", "": "NA"}
	for code, want := range cases {
		if got := SexLabel(code); got != want {
			t.Fatalf("SexLabel(%q)=%q, want %q", code, got, want)
		}
	}
}

func TestRunAnalysisValidate(t *testing.T) {
	a := RunAnalysis{
		RunID:        "run-1",
		PipelineID:   "GermlineEnrichment-2.5.3",
		AnalysisType: "IlluminaTruSightCancer",
		ResultsDir:   "/results/run-1",
		MinQ30Score:  0.8,
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	a.MinQ30Score = 80
	if err := a.Validate(); err == nil {
		t.Fatalf("expected percentage min q30 to be rejected")
	}
}
