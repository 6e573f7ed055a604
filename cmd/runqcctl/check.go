package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/runqc/internal/artifacts"
	"github.com/animus-labs/runqc/internal/autoqc"
	"github.com/animus-labs/runqc/internal/domain"
	"github.com/animus-labs/runqc/internal/rules"
	"github.com/animus-labs/runqc/internal/samplesheet"
	"github.com/animus-labs/runqc/internal/service/analyses"
	"github.com/spf13/cobra"
)

var errVerdictFailed = errors.New("auto qc failed")

// targetFlags locate one run analysis on disk.
type targetFlags struct {
	runID        string
	pipelineID   string
	analysisType string
	resultsDir   string
	fastqDir     string
	samples      []string
	sampleSheet  string
	lanes        int
}

func (f *targetFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.runID, "run-id", "", "run identifier (defaults to the fastq directory name)")
	flags.StringVar(&f.pipelineID, "pipeline", "", "pipeline id as <name>-<version>")
	flags.StringVar(&f.analysisType, "analysis-type", "", "analysis type or panel")
	flags.StringVar(&f.resultsDir, "results-dir", "", "pipeline results directory")
	flags.StringVar(&f.fastqDir, "fastq-dir", "", "demultiplexing output directory")
	flags.StringSliceVar(&f.samples, "samples", nil, "sample ids in run order")
	flags.StringVar(&f.sampleSheet, "sample-sheet", "", "read samples from an Illumina sample sheet")
	flags.IntVar(&f.lanes, "lanes", 0, "lane count (0 uses the sample sheet or the configured default)")

	_ = cmd.MarkFlagRequired("results-dir")
	_ = cmd.MarkFlagRequired("fastq-dir")
	cmd.MarkFlagsOneRequired("samples", "sample-sheet")
	cmd.MarkFlagsMutuallyExclusive("samples", "sample-sheet")
}

// input turns the flags into a registration request.
func (f *targetFlags) input() (analyses.RegisterInput, error) {
	resultsDir, err := filepath.Abs(f.resultsDir)
	if err != nil {
		return analyses.RegisterInput{}, err
	}
	fastqDir, err := filepath.Abs(f.fastqDir)
	if err != nil {
		return analyses.RegisterInput{}, err
	}
	in := analyses.RegisterInput{
		RunID:        strings.TrimSpace(f.runID),
		PipelineID:   strings.TrimSpace(f.pipelineID),
		AnalysisType: strings.TrimSpace(f.analysisType),
		ResultsDir:   filepath.ToSlash(resultsDir),
		FastqDir:     filepath.ToSlash(fastqDir),
		Lanes:        f.lanes,
	}
	if in.RunID == "" {
		in.RunID = filepath.Base(fastqDir)
	}

	if f.sampleSheet == "" {
		if in.PipelineID == "" {
			return analyses.RegisterInput{}, errors.New("--pipeline is required with --samples")
		}
		if in.AnalysisType == "" {
			in.AnalysisType = filepath.Base(resultsDir)
		}
		for _, id := range f.samples {
			if id = strings.TrimSpace(id); id != "" {
				in.Samples = append(in.Samples, analyses.SampleInput{ID: id})
			}
		}
		return in, nil
	}

	sheet, err := samplesheet.ParseFile(f.sampleSheet)
	if err != nil {
		return analyses.RegisterInput{}, err
	}
	group, err := pickGroup(sheet.Groups(), in.PipelineID, in.AnalysisType)
	if err != nil {
		return analyses.RegisterInput{}, err
	}
	in.PipelineID = group.PipelineID
	in.AnalysisType = group.AnalysisType
	if in.Lanes == 0 {
		in.Lanes = sheet.Lanes
	}
	for _, s := range group.Samples {
		in.Samples = append(in.Samples, analyses.SampleInput{ID: s.ID, Worksheet: s.Worksheet, Sex: s.Sex})
	}
	return in, nil
}

// pickGroup selects the sheet group matching the optional pipeline and
// analysis type filters. Exactly one group must match.
func pickGroup(groups []samplesheet.Group, pipelineID, analysisType string) (samplesheet.Group, error) {
	var matched []samplesheet.Group
	for _, g := range groups {
		if pipelineID != "" && g.PipelineID != pipelineID {
			continue
		}
		if analysisType != "" && g.AnalysisType != analysisType {
			continue
		}
		matched = append(matched, g)
	}
	switch len(matched) {
	case 1:
		return matched[0], nil
	case 0:
		return samplesheet.Group{}, errors.New("no sample sheet group matches --pipeline/--analysis-type")
	default:
		names := make([]string, 0, len(matched))
		for _, g := range matched {
			names = append(names, g.PipelineID+"/"+g.AnalysisType)
		}
		return samplesheet.Group{}, fmt.Errorf("sample sheet has %d groups (%s); narrow with --pipeline or --analysis-type", len(matched), strings.Join(names, ", "))
	}
}

func planTarget(opts *options, f *targetFlags) (*rules.Registry, domain.RunAnalysis, []domain.SampleAnalysis, error) {
	registry, err := opts.registry()
	if err != nil {
		return nil, domain.RunAnalysis{}, nil, err
	}
	in, err := f.input()
	if err != nil {
		return nil, domain.RunAnalysis{}, nil, err
	}
	a, samples, _, err := analyses.Plan(registry, in, "local", time.Now().UTC())
	if err != nil {
		return nil, domain.RunAnalysis{}, nil, err
	}
	return registry, a, samples, nil
}

type checkReport struct {
	RunID                   string               `json:"run_id"`
	PipelineID              string               `json:"pipeline_id"`
	AnalysisType            string               `json:"analysis_type"`
	DemultiplexingCompleted bool                 `json:"demultiplexing_completed"`
	DemultiplexingValid     bool                 `json:"demultiplexing_valid"`
	CopyComplete            bool                 `json:"copy_complete"`
	ResultsCompleted        bool                 `json:"results_completed"`
	ResultsValid            bool                 `json:"results_valid"`
	Samples                 []domain.SampleFlags `json:"samples"`
	Verdict                 *domain.Verdict      `json:"verdict,omitempty"`
}

func newCheckReport(out analyses.Assessment) checkReport {
	return checkReport{
		RunID:                   out.Analysis.RunID,
		PipelineID:              out.Analysis.PipelineID,
		AnalysisType:            out.Analysis.AnalysisType,
		DemultiplexingCompleted: out.Analysis.DemultiplexingCompleted,
		DemultiplexingValid:     out.Analysis.DemultiplexingValid,
		CopyComplete:            out.CopyComplete,
		ResultsCompleted:        out.Analysis.ResultsCompleted,
		ResultsValid:            out.Analysis.ResultsValid,
		Samples:                 out.Results.Samples,
	}
}

func newCheckCmd(opts *options) *cobra.Command {
	var (
		target     targetFlags
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report completeness and validity of a run's outputs",
		Long: `Report whether demultiplexing and pipeline results for one run analysis
are complete and valid.

Examples:
  # Samples listed explicitly
  runqcctl check --pipeline GermlineEnrichment-2.5.3 \
    --fastq-dir /data/fastq/RUN1 --results-dir /data/results/RUN1/panel \
    --samples S1,S2,NTC-1

  # Samples taken from the run's sample sheet
  runqcctl check --sample-sheet /data/fastq/RUN1/SampleSheet.csv \
    --fastq-dir /data/fastq/RUN1 --results-dir /data/results/RUN1/panel --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, a, samples, err := planTarget(opts, &target)
			if err != nil {
				return err
			}
			out, err := analyses.AssessCompleteness(cmd.Context(), artifacts.NewOSStore("/"), registry, a, samples, opts.log())
			if err != nil {
				return err
			}
			report := newCheckReport(out)
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printCheckReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	target.register(cmd)
	cmd.Flags().BoolVar(&outputJSON, "json", false, "print the report as JSON")
	return cmd
}

func newAutoQCCmd(opts *options) *cobra.Command {
	var (
		target     targetFlags
		checks     string
		outputJSON bool
		exitCode   bool
	)

	cmd := &cobra.Command{
		Use:   "autoqc",
		Short: "Compute the auto-QC verdict for a run without recording it",
		Long: `Recompute completeness flags and run the auto-QC checks over one run
analysis. Nothing is written to the database.

Examples:
  runqcctl autoqc --pipeline GermlineEnrichment-2.5.3 \
    --fastq-dir /data/fastq/RUN1 --results-dir /data/results/RUN1/panel \
    --samples S1,S2,NTC-1 --checks contamination,ntc_contamination

  # Fail the shell step when the verdict fails
  runqcctl autoqc --sample-sheet SampleSheet.csv --fastq-dir . --results-dir ../results --exit-code`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, a, samples, err := planTarget(opts, &target)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("checks") {
				value := checks
				a.AutoQCChecks = &value
			}
			out, err := analyses.Assess(cmd.Context(), artifacts.NewOSStore("/"), registry, autoqc.DefaultChain(opts.log()), a, samples, opts.log())
			if err != nil {
				return err
			}
			report := newCheckReport(out)
			report.Verdict = &out.Verdict
			if outputJSON {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				printCheckReport(cmd.OutOrStdout(), report)
			}
			if exitCode && !out.Verdict.Passed {
				return errVerdictFailed
			}
			return nil
		},
	}

	target.register(cmd)
	cmd.Flags().StringVar(&checks, "checks", "", "comma separated checks, overriding the pipeline's configured set")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&exitCode, "exit-code", false, "exit non-zero when the verdict fails")
	return cmd
}

func printCheckReport(w io.Writer, r checkReport) {
	completed, valid := 0, 0
	for _, s := range r.Samples {
		if s.Completed {
			completed++
		}
		if s.Valid {
			valid++
		}
	}
	fmt.Fprintf(w, "run %s  pipeline %s  analysis %s\n", r.RunID, r.PipelineID, r.AnalysisType)
	fmt.Fprintf(w, "demultiplexing  completed=%t valid=%t copy_complete=%t\n", r.DemultiplexingCompleted, r.DemultiplexingValid, r.CopyComplete)
	fmt.Fprintf(w, "results         completed=%t valid=%t\n", r.ResultsCompleted, r.ResultsValid)
	fmt.Fprintf(w, "samples         %d of %d completed, %d of %d valid\n", completed, len(r.Samples), valid, len(r.Samples))
	for _, s := range r.Samples {
		fmt.Fprintf(w, "  %-24s completed=%t valid=%t\n", s.SampleID, s.Completed, s.Valid)
	}
	if r.Verdict == nil {
		return
	}
	status := "FAIL"
	if r.Verdict.Passed {
		status = "PASS"
	}
	fmt.Fprintf(w, "auto qc         %s: %s\n", status, r.Verdict.Reason)
	for _, res := range r.Verdict.Results {
		if res.Sample != "" {
			fmt.Fprintf(w, "  %-24s %-24s %s\n", res.Check, res.Sample, res.Outcome)
			continue
		}
		fmt.Fprintf(w, "  %-24s %-24s %s\n", res.Check, "-", res.Outcome)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
