package completeness

import (
	"context"
	"log/slog"
	"path"

	"github.com/animus-labs/runqc/internal/artifacts"
	"github.com/animus-labs/runqc/internal/domain"
	"github.com/animus-labs/runqc/internal/rules"
	"github.com/dustin/go-humanize"
)

// Demultiplex checks the fastq output of the demultiplexing stage and the
// copy of that output into the analysis results directory.
type Demultiplex struct {
	store      artifacts.Store
	rules      rules.DemultiplexRules
	fastqDir   string
	resultsDir string
	lanes      int
	roster     domain.RunRoster
	logger     *slog.Logger
}

func NewDemultiplex(store artifacts.Store, ruleSet rules.DemultiplexRules, fastqDir, resultsDir string, lanes int, roster domain.RunRoster, logger *slog.Logger) *Demultiplex {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if lanes < 1 {
		lanes = ruleSet.DefaultLanes
	}
	if lanes < 1 {
		lanes = 1
	}
	return &Demultiplex{
		store:      store,
		rules:      ruleSet,
		fastqDir:   fastqDir,
		resultsDir: resultsDir,
		lanes:      lanes,
		roster:     roster,
		logger:     logger.With("run_id", roster.RunID, "fastq_dir", fastqDir),
	}
}

func (d *Demultiplex) IsComplete(ctx context.Context) bool {
	return exactlyOne(ctx, d.store, d.logger, d.fastqDir, d.rules.CompletionMarker)
}

// IsValid requires, for every sample and lane, exactly one file per lane
// pattern of at least MinFastqSize bytes. NTC fastqs are exempt from the size
// floor. Sizes are read from the paths of the same listing.
func (d *Demultiplex) IsValid(ctx context.Context) bool {
	for _, sample := range d.roster.Samples {
		dir := path.Join(d.fastqDir, d.rules.DataDir, sample)
		ntc := d.roster.IsNTC(sample)
		for lane := 1; lane <= d.lanes; lane++ {
			for _, pattern := range d.rules.LanePatterns {
				if !d.fastqOK(ctx, dir, rules.Expand(pattern, sample, lane), sample, lane, ntc) {
					return false
				}
			}
		}
		for _, pattern := range d.rules.SamplePatterns {
			if !exactlyOne(ctx, d.store, d.logger, dir, rules.Expand(pattern, sample, 1), "sample", sample) {
				return false
			}
		}
	}
	return true
}

func (d *Demultiplex) fastqOK(ctx context.Context, dir, pattern, sample string, lane int, ntc bool) bool {
	matches, err := d.store.MatchPaths(ctx, dir, pattern)
	if err != nil {
		d.logger.Warn("artifact query failed", "root", dir, "pattern", pattern, "error", err)
		return false
	}
	if len(matches) != 1 {
		d.logger.Debug("expected exactly one fastq", "sample", sample, "lane", lane, "pattern", pattern, "matches", len(matches))
		return false
	}
	if ntc {
		return true
	}
	size, err := d.store.FileSize(ctx, matches[0])
	if err != nil {
		d.logger.Warn("fastq size unavailable", "path", matches[0], "error", err)
		return false
	}
	if size < d.rules.MinFastqSize {
		d.logger.Info("fastq below minimum size",
			"sample", sample,
			"lane", lane,
			"path", matches[0],
			"size", humanize.Bytes(uint64(size)),
			"min_size", humanize.Bytes(uint64(d.rules.MinFastqSize)),
		)
		return false
	}
	return true
}

// CopyComplete reports whether every sample's results directory holds exactly
// one copy-complete marker.
func (d *Demultiplex) CopyComplete(ctx context.Context) bool {
	for _, sample := range d.roster.Samples {
		pattern := rules.Expand(d.rules.CopyCompleteMarker, sample, 1)
		if !exactlyOne(ctx, d.store, d.logger, path.Join(d.resultsDir, sample), pattern, "sample", sample) {
			return false
		}
	}
	return true
}
