package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/animus-labs/runqc/internal/domain"
	"gopkg.in/yaml.v3"
)

var ErrUnknownVariant = errors.New("no rule set for pipeline variant")

// Thresholds are the numeric QC limits applied to a variant by default.
// Individual run and sample analyses may override them.
type Thresholds struct {
	MinQ30Score            float64 `yaml:"min_q30_score" json:"min_q30_score"`
	ContaminationCutoff    float64 `yaml:"contamination_cutoff" json:"contamination_cutoff"`
	NTCContaminationCutoff float64 `yaml:"ntc_contamination_cutoff" json:"ntc_contamination_cutoff"`

	set thresholdFields
}

type thresholdFields uint8

const (
	setMinQ30Score thresholdFields = 1 << iota
	setContaminationCutoff
	setNTCContaminationCutoff
)

// DefaultThresholds are used for any limit the configuration leaves unset.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinQ30Score:            domain.DefaultMinQ30Score,
		ContaminationCutoff:    domain.DefaultContaminationCutoff,
		NTCContaminationCutoff: domain.DefaultNTCContaminationCutoff,
	}
}

// UnmarshalYAML remembers which limits were written so an explicit 0 is
// kept rather than inherited.
func (t *Thresholds) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			switch key := value.Content[i]; key.Value {
			case "min_q30_score", "contamination_cutoff", "ntc_contamination_cutoff":
			default:
				return fmt.Errorf("line %d: field %s not found in thresholds", key.Line, key.Value)
			}
		}
	}
	var raw struct {
		MinQ30Score            *float64 `yaml:"min_q30_score"`
		ContaminationCutoff    *float64 `yaml:"contamination_cutoff"`
		NTCContaminationCutoff *float64 `yaml:"ntc_contamination_cutoff"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.MinQ30Score != nil {
		t.MinQ30Score = *raw.MinQ30Score
		t.set |= setMinQ30Score
	}
	if raw.ContaminationCutoff != nil {
		t.ContaminationCutoff = *raw.ContaminationCutoff
		t.set |= setContaminationCutoff
	}
	if raw.NTCContaminationCutoff != nil {
		t.NTCContaminationCutoff = *raw.NTCContaminationCutoff
		t.set |= setNTCContaminationCutoff
	}
	return nil
}

func (t Thresholds) Validate() error {
	if t.MinQ30Score < 0 || t.MinQ30Score > 1 {
		return errors.New("min_q30_score must be a fraction between 0 and 1")
	}
	if t.ContaminationCutoff < 0 || t.NTCContaminationCutoff < 0 {
		return errors.New("cutoffs must be >= 0")
	}
	return nil
}

// over returns base with the limits t sets replaced.
func (t Thresholds) over(base Thresholds) Thresholds {
	out := base
	if t.set&setMinQ30Score != 0 {
		out.MinQ30Score = t.MinQ30Score
	}
	if t.set&setContaminationCutoff != 0 {
		out.ContaminationCutoff = t.ContaminationCutoff
	}
	if t.set&setNTCContaminationCutoff != 0 {
		out.NTCContaminationCutoff = t.NTCContaminationCutoff
	}
	out.set = base.set | t.set
	return out
}

// Variant is the configuration of one pipeline, optionally limited to a
// range of versions.
type Variant struct {
	Name         string                  `yaml:"name"`
	Versions     string                  `yaml:"versions"`
	AutoQCChecks *string                 `yaml:"auto_qc_checks"`
	Thresholds   *Thresholds             `yaml:"thresholds"`
	Artifacts    ArtifactRuleSet         `yaml:"artifacts"`
	Metrics      map[string]MetricSource `yaml:"metrics"`

	constraint *semver.Constraints
}

// Matches reports whether id names this variant and falls inside its version range.
func (v Variant) Matches(id domain.PipelineID) bool {
	if v.Name != id.Name {
		return false
	}
	if v.constraint == nil {
		return true
	}
	version, err := semver.NewVersion(id.Version)
	if err != nil {
		return false
	}
	return v.constraint.Check(version)
}

// Registry holds every configured variant plus shared demultiplex and metric rules.
// It is immutable after Parse.
type Registry struct {
	NTCMarkers  []string                `yaml:"ntc_markers"`
	Thresholds  Thresholds              `yaml:"thresholds"`
	Demultiplex DemultiplexRules        `yaml:"demultiplex"`
	Metrics     map[string]MetricSource `yaml:"metrics"`
	Variants    []Variant               `yaml:"variants"`
}

func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("pipeline config not found: %s", path)
		}
		return nil, fmt.Errorf("read pipeline config %q: %w", path, err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Parse expands ${VAR} and ${VAR:-default} references, decodes the YAML,
// fills defaults and validates the result.
func Parse(data []byte) (*Registry, error) {
	var reg Registry
	dec := yaml.NewDecoder(strings.NewReader(ExpandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(&reg); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	reg.applyDefaults()
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *Registry) applyDefaults() {
	if len(r.NTCMarkers) == 0 {
		r.NTCMarkers = append([]string(nil), domain.DefaultNTCMarkers...)
	}
	r.Thresholds = r.Thresholds.over(DefaultThresholds())
	r.Demultiplex.applyDefaults()
	for i := range r.Variants {
		v := &r.Variants[i]
		t := r.Thresholds
		if v.Thresholds != nil {
			t = v.Thresholds.over(r.Thresholds)
		}
		v.Thresholds = &t
		merged := make(map[string]MetricSource, len(r.Metrics)+len(v.Metrics))
		for category, source := range r.Metrics {
			merged[category] = source
		}
		for category, source := range v.Metrics {
			merged[category] = source
		}
		v.Metrics = merged
	}
}

func (r *Registry) Validate() error {
	if err := r.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if err := r.Demultiplex.Validate(); err != nil {
		return fmt.Errorf("demultiplex: %w", err)
	}
	if len(r.Variants) == 0 {
		return errors.New("variants must be non-empty")
	}
	for i := range r.Variants {
		v := &r.Variants[i]
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("variants[%d].name is required", i)
		}
		if strings.TrimSpace(v.Versions) != "" {
			c, err := semver.NewConstraint(v.Versions)
			if err != nil {
				return fmt.Errorf("variants[%d].versions: %w", i, err)
			}
			v.constraint = c
		}
		if err := v.Artifacts.Validate(); err != nil {
			return fmt.Errorf("variants[%d] (%s) artifacts: %w", i, v.Name, err)
		}
		if v.AutoQCChecks != nil {
			for _, name := range SplitChecks(*v.AutoQCChecks) {
				if !domain.IsKnownCheck(name) {
					return fmt.Errorf("variants[%d] (%s) auto_qc_checks: unknown check %q", i, v.Name, name)
				}
			}
		}
		if t := v.Thresholds; t != nil {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("variants[%d] (%s) thresholds: %w", i, v.Name, err)
			}
		}
		for category, source := range v.Metrics {
			if err := source.Validate(); err != nil {
				return fmt.Errorf("variants[%d] (%s) metrics.%s: %w", i, v.Name, category, err)
			}
		}
	}
	return nil
}

// Resolve returns the first variant matching pipelineID, in file order.
func (r *Registry) Resolve(pipelineID string) (Variant, error) {
	id, err := domain.ParsePipelineID(pipelineID)
	if err != nil {
		return Variant{}, err
	}
	for _, v := range r.Variants {
		if v.Matches(id) {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("%w: %s", ErrUnknownVariant, pipelineID)
}

// SplitChecks parses a comma separated check list, dropping blanks.
func SplitChecks(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default}. Unset variables without a
// default expand to the empty string.
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok && value != "" {
			return value
		}
		return groups[2]
	})
}
