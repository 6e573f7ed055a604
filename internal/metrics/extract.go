package metrics

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/animus-labs/runqc/internal/artifacts"
	"github.com/animus-labs/runqc/internal/rules"
)

var (
	ErrMissingMetricSource = errors.New("metric source not found")
	ErrAmbiguousArtifact   = errors.New("metric source is ambiguous")
)

// SourceError reports a metric lookup that did not find exactly one artifact.
type SourceError struct {
	Category string
	Root     string
	Pattern  string
	Matches  int
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %d matches for %q under %q", e.Category, e.Matches, e.Pattern, e.Root)
}

func (e *SourceError) Unwrap() error {
	if e.Matches == 0 {
		return ErrMissingMetricSource
	}
	return ErrAmbiguousArtifact
}

// Target names the run, and optionally the sample, a metric belongs to.
type Target struct {
	ResultsDir string
	FastqDir   string
	Sample     string
}

// Extractor locates metric artifacts in a store and parses them.
type Extractor struct {
	store   artifacts.ReadableStore
	sources map[string]rules.MetricSource
}

func NewExtractor(store artifacts.ReadableStore, sources map[string]rules.MetricSource) *Extractor {
	return &Extractor{store: store, sources: sources}
}

// Field returns the configured field for category, or def when none is set.
func (x *Extractor) Field(category string, def string) string {
	if src, ok := x.sources[category]; ok && src.Field != "" {
		return src.Field
	}
	return def
}

func (x *Extractor) locate(category string, target Target) (string, string, error) {
	if !IsKnownCategory(category) {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	src, ok := x.sources[category]
	if !ok {
		return "", "", fmt.Errorf("%w: no source configured for %s", ErrMissingMetricSource, category)
	}
	var root string
	switch src.Scope {
	case rules.ScopeSample:
		if target.Sample == "" {
			return "", "", fmt.Errorf("%s is sample scoped but no sample was given", category)
		}
		root = path.Join(target.ResultsDir, target.Sample)
	case rules.ScopeRun:
		root = target.ResultsDir
	case rules.ScopeDemultiplex:
		root = target.FastqDir
	default:
		return "", "", fmt.Errorf("%s: unknown scope %q", category, src.Scope)
	}
	return root, rules.Expand(src.Pattern, target.Sample, 1), nil
}

// ExtractRecords parses the single artifact matching category for target.
// Zero matches wrap ErrMissingMetricSource and several wrap
// ErrAmbiguousArtifact.
func (x *Extractor) ExtractRecords(ctx context.Context, target Target, category string) ([]Record, error) {
	root, pattern, err := x.locate(category, target)
	if err != nil {
		return nil, err
	}
	matches, err := x.store.MatchPaths(ctx, root, pattern)
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", category, err)
	}
	if len(matches) != 1 {
		return nil, &SourceError{Category: category, Root: root, Pattern: pattern, Matches: len(matches)}
	}
	return x.parseFile(ctx, category, matches[0])
}

// Extract is ExtractRecords for categories holding exactly one record.
func (x *Extractor) Extract(ctx context.Context, target Target, category string) (Record, error) {
	records, err := x.ExtractRecords(ctx, target, category)
	if err != nil {
		return nil, err
	}
	if len(records) != 1 {
		return nil, fmt.Errorf("%s: expected one record, got %d", category, len(records))
	}
	return records[0], nil
}

// ExtractAll parses every artifact matching category, for categories written
// once per lane or read. No matches is not an error.
func (x *Extractor) ExtractAll(ctx context.Context, target Target, category string) ([]Record, error) {
	root, pattern, err := x.locate(category, target)
	if err != nil {
		return nil, err
	}
	matches, err := x.store.MatchPaths(ctx, root, pattern)
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", category, err)
	}
	var out []Record
	for _, match := range matches {
		records, err := x.parseFile(ctx, category, match)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

func (x *Extractor) parseFile(ctx context.Context, category string, name string) ([]Record, error) {
	rc, err := x.store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	records, err := Parse(category, rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return records, nil
}
