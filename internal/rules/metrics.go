package rules

import (
	"fmt"
)

// Scope says which directory a metric pattern is rooted in.
type Scope string

const (
	ScopeSample      Scope = "sample"
	ScopeRun         Scope = "run"
	ScopeDemultiplex Scope = "demultiplex"
)

// MetricSource locates the artifact a metric category is parsed from.
type MetricSource struct {
	Scope   Scope  `yaml:"scope" json:"scope"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Field   string `yaml:"field,omitempty" json:"field,omitempty"`
}

func (m MetricSource) Validate() error {
	switch m.Scope {
	case ScopeSample, ScopeRun, ScopeDemultiplex:
	default:
		return fmt.Errorf("scope must be sample, run or demultiplex (got %q)", m.Scope)
	}
	return validatePattern("pattern", m.Pattern)
}
