package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultNTCMarkers are the substrings that tag a sample as a no-template control.
var DefaultNTCMarkers = []string{"NTC", "ntc"}

// RunRoster is the ordered, duplicate-free list of samples on a run.
type RunRoster struct {
	RunID      string
	Samples    []string
	NTCMarkers []string
}

func NewRunRoster(runID string, samples []string, ntcMarkers []string) (RunRoster, error) {
	if strings.TrimSpace(runID) == "" {
		return RunRoster{}, errors.New("run id is required")
	}
	seen := make(map[string]struct{}, len(samples))
	ordered := make([]string, 0, len(samples))
	for _, sample := range samples {
		sample = strings.TrimSpace(sample)
		if sample == "" {
			return RunRoster{}, errors.New("sample id must be non-empty")
		}
		if _, ok := seen[sample]; ok {
			return RunRoster{}, fmt.Errorf("duplicate sample id %q", sample)
		}
		seen[sample] = struct{}{}
		ordered = append(ordered, sample)
	}
	if len(ntcMarkers) == 0 {
		ntcMarkers = DefaultNTCMarkers
	}
	return RunRoster{RunID: strings.TrimSpace(runID), Samples: ordered, NTCMarkers: ntcMarkers}, nil
}

// IsNTC reports whether sample contains any marker. The match is a literal,
// case-sensitive substring test.
func (r RunRoster) IsNTC(sample string) bool {
	markers := r.NTCMarkers
	if len(markers) == 0 {
		markers = DefaultNTCMarkers
	}
	for _, marker := range markers {
		if marker != "" && strings.Contains(sample, marker) {
			return true
		}
	}
	return false
}

// Scored returns the non-NTC samples in roster order.
func (r RunRoster) Scored() []string {
	out := make([]string, 0, len(r.Samples))
	for _, sample := range r.Samples {
		if !r.IsNTC(sample) {
			out = append(out, sample)
		}
	}
	return out
}

// NTCs returns the NTC samples in roster order.
func (r RunRoster) NTCs() []string {
	var out []string
	for _, sample := range r.Samples {
		if r.IsNTC(sample) {
			out = append(out, sample)
		}
	}
	return out
}
