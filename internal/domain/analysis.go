package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	DefaultMinQ30Score            = 0.8
	DefaultContaminationCutoff    = 0.15
	DefaultNTCContaminationCutoff = 10.0
)

// Sex codes as recorded on the sample sheet.
const (
	SexUnknown = "0"
	SexMale    = "1"
	SexFemale  = "2"
)

// SexLabel maps a recorded sex code to the label a QC tool reports.
// Anything outside the known codes maps to "NA".
func SexLabel(code string) string {
	switch strings.TrimSpace(code) {
	case SexUnknown:
		return "unknown"
	case SexMale:
		return "male"
	case SexFemale:
		return "female"
	default:
		return "NA"
	}
}

// RunAnalysis is a run processed by one pipeline variant for one analysis type.
type RunAnalysis struct {
	ID           string
	RunID        string
	PipelineID   string
	AnalysisType string
	ResultsDir   string
	FastqDir     string
	Lanes        int
	AutoQCChecks *string
	MinQ30Score  float64

	DemultiplexingCompleted bool
	DemultiplexingValid     bool
	ResultsCompleted        bool
	ResultsValid            bool

	Watching       bool
	ManualApproval bool
	Comment        string
	SignoffUser    string
	SignoffAt      *time.Time

	Verdict     *Verdict
	EvaluatedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

func (a RunAnalysis) Validate() error {
	if strings.TrimSpace(a.RunID) == "" {
		return errors.New("run id is required")
	}
	if _, err := ParsePipelineID(a.PipelineID); err != nil {
		return err
	}
	if strings.TrimSpace(a.AnalysisType) == "" {
		return errors.New("analysis type is required")
	}
	if strings.TrimSpace(a.ResultsDir) == "" {
		return errors.New("results dir is required")
	}
	if a.Lanes < 0 {
		return errors.New("lanes must be >= 0")
	}
	if a.MinQ30Score < 0 || a.MinQ30Score > 1 {
		return errors.New("min q30 score must be a fraction between 0 and 1")
	}
	return nil
}

// SampleAnalysis is one sample of a RunAnalysis.
type SampleAnalysis struct {
	RunAnalysisID          string
	SampleID               string
	Position               int
	Worksheet              string
	Sex                    string
	ResultsCompleted       bool
	ResultsValid           bool
	ContaminationCutoff    float64
	NTCContaminationCutoff float64
}

// SampleFlags are the evaluator's per-sample results.
type SampleFlags struct {
	SampleID  string `json:"sample_id"`
	Completed bool   `json:"completed"`
	Valid     bool   `json:"valid"`
}
