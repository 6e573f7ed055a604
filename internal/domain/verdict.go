package domain

// Outcome is the tri-state result of a single QC check.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
	OutcomeNA   Outcome = "na"
)

const (
	ReasonAllPass         = "All Pass"
	ReasonNoConfiguration = "No Configuration For this Pipeline."
)

// CheckResult records the outcome of one check for display. Sample is empty
// for run-scoped checks.
type CheckResult struct {
	Check   string  `json:"check"`
	Sample  string  `json:"sample,omitempty"`
	Outcome Outcome `json:"outcome"`
}

// Verdict is the auto-QC decision for a run analysis.
type Verdict struct {
	Passed  bool          `json:"passed"`
	Reason  string        `json:"reason"`
	Results []CheckResult `json:"results,omitempty"`
}
