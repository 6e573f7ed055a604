package domain

import (
	"encoding/json"
	"time"
)

// QCEvaluation is one entry in the append-only verdict history of a run
// analysis.
type QCEvaluation struct {
	ID              string
	RunAnalysisID   string
	EvaluatedAt     time.Time
	EvaluatedBy     string
	Verdict         Verdict
	Summary         json.RawMessage
	ReportObjectKey string
	ReportSHA256    string
	ReportSizeBytes int64
}
