package rules

import (
	"fmt"
	"path"
	"strings"
)

// CompletionStrategy selects how run-level completion is decided.
type CompletionStrategy string

const (
	// SingleMarker requires exactly one match of a single marker under the results root.
	SingleMarker CompletionStrategy = "single_marker"
	// PerSampleMarkers requires every marker to match at least once under each
	// non-NTC sample directory.
	PerSampleMarkers CompletionStrategy = "per_sample_markers"
)

// ArtifactRuleSet lists the file patterns that decide whether a pipeline
// variant finished and produced a usable result.
type ArtifactRuleSet struct {
	SampleCompletionMarker string   `yaml:"sample_completion_marker" json:"sample_completion_marker"`
	SampleExpected         []string `yaml:"sample_expected" json:"sample_expected"`
	SampleForbidden        []string `yaml:"sample_forbidden" json:"sample_forbidden"`

	RunCompletion        CompletionStrategy `yaml:"run_completion" json:"run_completion"`
	RunCompletionMarkers []string           `yaml:"run_completion_markers" json:"run_completion_markers"`
	RunExpected          []string           `yaml:"run_expected" json:"run_expected"`
	RunForbidden         []string           `yaml:"run_forbidden" json:"run_forbidden"`
	RunPerSampleExpected []string           `yaml:"run_per_sample_expected" json:"run_per_sample_expected"`
}

func (r ArtifactRuleSet) Validate() error {
	if err := validatePattern("sample_completion_marker", r.SampleCompletionMarker); err != nil {
		return err
	}
	for _, set := range []struct {
		field    string
		patterns []string
	}{
		{"sample_expected", r.SampleExpected},
		{"sample_forbidden", r.SampleForbidden},
		{"run_completion_markers", r.RunCompletionMarkers},
		{"run_expected", r.RunExpected},
		{"run_forbidden", r.RunForbidden},
		{"run_per_sample_expected", r.RunPerSampleExpected},
	} {
		if err := validatePatterns(set.field, set.patterns); err != nil {
			return err
		}
	}

	for i, pattern := range r.RunPerSampleExpected {
		if !strings.Contains(pattern, "{sample}") {
			return fmt.Errorf("run_per_sample_expected[%d] must contain {sample}: %q", i, pattern)
		}
	}

	switch r.RunCompletion {
	case SingleMarker:
		if len(r.RunCompletionMarkers) != 1 {
			return fmt.Errorf("run_completion %s requires exactly one run_completion_markers entry", SingleMarker)
		}
	case PerSampleMarkers:
		if len(r.RunCompletionMarkers) == 0 {
			return fmt.Errorf("run_completion %s requires run_completion_markers", PerSampleMarkers)
		}
	default:
		return fmt.Errorf("run_completion must be %s or %s (got %q)", SingleMarker, PerSampleMarkers, r.RunCompletion)
	}

	if err := disjoint("sample_expected", r.SampleExpected, "sample_forbidden", r.SampleForbidden); err != nil {
		return err
	}
	if err := disjoint("sample_completion_marker", []string{r.SampleCompletionMarker}, "sample_forbidden", r.SampleForbidden); err != nil {
		return err
	}
	if err := disjoint("run_expected", r.RunExpected, "run_forbidden", r.RunForbidden); err != nil {
		return err
	}
	if err := disjoint("run_per_sample_expected", r.RunPerSampleExpected, "run_forbidden", r.RunForbidden); err != nil {
		return err
	}
	return nil
}

func validatePatterns(field string, patterns []string) error {
	seen := make(map[string]struct{}, len(patterns))
	for i, pattern := range patterns {
		if err := validatePattern(fmt.Sprintf("%s[%d]", field, i), pattern); err != nil {
			return err
		}
		if _, ok := seen[pattern]; ok {
			return fmt.Errorf("%s[%d] duplicates %q", field, i, pattern)
		}
		seen[pattern] = struct{}{}
	}
	return nil
}

func validatePattern(field string, pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("%s is required", field)
	}
	if strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("%s must be relative: %q", field, pattern)
	}
	for _, segment := range strings.Split(pattern, "/") {
		if segment == ".." {
			return fmt.Errorf("%s must not escape its root: %q", field, pattern)
		}
	}
	expanded := Expand(pattern, "sample", 1)
	if _, err := path.Match(expanded, ""); err != nil {
		return fmt.Errorf("%s: %w: %q", field, err, pattern)
	}
	return nil
}

func disjoint(leftName string, left []string, rightName string, right []string) error {
	set := make(map[string]struct{}, len(left))
	for _, pattern := range left {
		set[pattern] = struct{}{}
	}
	for _, pattern := range right {
		if _, ok := set[pattern]; ok {
			return fmt.Errorf("pattern %q appears in both %s and %s", pattern, leftName, rightName)
		}
	}
	return nil
}

// Expand fills the {sample} and {lane} placeholders. Glob metacharacters in
// the sample id are escaped so the id only ever matches literally.
func Expand(pattern string, sample string, lane int) string {
	return strings.NewReplacer(
		"{sample}", EscapeGlob(sample),
		"{lane}", fmt.Sprint(lane),
	).Replace(pattern)
}

func EscapeGlob(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
