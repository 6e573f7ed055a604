package rules

import (
	"errors"
	"fmt"
	"strings"
)

const DefaultMinFastqSize int64 = 10_000_000

// DemultiplexRules describe the output of the demultiplexing stage that runs
// before any analysis pipeline.
type DemultiplexRules struct {
	CompletionMarker   string   `yaml:"completion_marker" json:"completion_marker"`
	DataDir            string   `yaml:"data_dir" json:"data_dir"`
	LanePatterns       []string `yaml:"lane_patterns" json:"lane_patterns"`
	SamplePatterns     []string `yaml:"sample_patterns" json:"sample_patterns"`
	MinFastqSize       int64    `yaml:"min_fastq_size" json:"min_fastq_size"`
	CopyCompleteMarker string   `yaml:"copy_complete_marker" json:"copy_complete_marker"`
	DefaultLanes       int      `yaml:"default_lanes" json:"default_lanes"`
}

func (d *DemultiplexRules) applyDefaults() {
	if d.CompletionMarker == "" {
		d.CompletionMarker = "1_IlluminaQC.sh.e*"
	}
	if d.DataDir == "" {
		d.DataDir = "Data"
	}
	if len(d.LanePatterns) == 0 {
		d.LanePatterns = []string{
			"{sample}*L00{lane}_R1_001.fastq.gz",
			"{sample}*L00{lane}_R2_001.fastq.gz",
		}
	}
	if len(d.SamplePatterns) == 0 {
		d.SamplePatterns = []string{"{sample}.variables"}
	}
	if d.MinFastqSize == 0 {
		d.MinFastqSize = DefaultMinFastqSize
	}
	if d.CopyCompleteMarker == "" {
		d.CopyCompleteMarker = "*.variables"
	}
	if d.DefaultLanes == 0 {
		d.DefaultLanes = 1
	}
}

func (d DemultiplexRules) Validate() error {
	if err := validatePattern("completion_marker", d.CompletionMarker); err != nil {
		return err
	}
	if err := validatePattern("copy_complete_marker", d.CopyCompleteMarker); err != nil {
		return err
	}
	if strings.Contains(d.DataDir, "..") {
		return fmt.Errorf("data_dir must not escape the fastq dir: %q", d.DataDir)
	}
	if len(d.LanePatterns) == 0 {
		return errors.New("lane_patterns must be non-empty")
	}
	for i, pattern := range d.LanePatterns {
		if !strings.Contains(pattern, "{lane}") {
			return fmt.Errorf("lane_patterns[%d] must contain {lane}: %q", i, pattern)
		}
	}
	if err := validatePatterns("lane_patterns", d.LanePatterns); err != nil {
		return err
	}
	if err := validatePatterns("sample_patterns", d.SamplePatterns); err != nil {
		return err
	}
	if d.MinFastqSize < 0 {
		return errors.New("min_fastq_size must be >= 0")
	}
	if d.DefaultLanes < 1 {
		return errors.New("default_lanes must be >= 1")
	}
	return nil
}
