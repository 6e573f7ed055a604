package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/animus-labs/runqc/internal/metrics"
	"github.com/animus-labs/runqc/internal/rules"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newValidateConfigCmd(opts *options) *cobra.Command {
	var resolve []string

	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Validate the pipeline rule configuration",
		Long: `Load the pipeline rule configuration, report any error and summarize
every variant.

Examples:
  runqcctl validate-config --config configs/pipelines.yaml

  # Show which variant handles a pipeline id
  runqcctl validate-config --resolve GermlineEnrichment-2.5.3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.registry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printRegistry(out, opts.configPath, registry)
			for _, id := range resolve {
				v, err := registry.Resolve(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s -> %s\n", id, variantLabel(v))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&resolve, "resolve", nil, "pipeline ids to resolve against the variants")
	return cmd
}

func printRegistry(w io.Writer, path string, r *rules.Registry) {
	d := r.Demultiplex
	fmt.Fprintf(w, "%s: ok, %d variants\n", path, len(r.Variants))
	fmt.Fprintf(w, "ntc markers: %s\n", strings.Join(r.NTCMarkers, ", "))
	fmt.Fprintf(w, "demultiplex: marker %s, min fastq %s, default lanes %d\n",
		d.CompletionMarker, humanize.Bytes(uint64(max(d.MinFastqSize, 0))), d.DefaultLanes)
	for _, v := range r.Variants {
		checks := "(none)"
		if v.AutoQCChecks != nil {
			checks = strings.Join(rules.SplitChecks(*v.AutoQCChecks), ",")
		}
		categories := make([]string, 0, len(v.Metrics))
		for category := range v.Metrics {
			categories = append(categories, category)
		}
		sort.Strings(categories)
		var unsourced []string
		for _, category := range metrics.Categories() {
			if _, ok := v.Metrics[category]; !ok {
				unsourced = append(unsourced, category)
			}
		}

		fmt.Fprintf(w, "- %s\n", variantLabel(v))
		fmt.Fprintf(w, "    run completion: %s (%d markers)\n", v.Artifacts.RunCompletion, len(v.Artifacts.RunCompletionMarkers))
		fmt.Fprintf(w, "    expected: %d per sample, %d per run\n", len(v.Artifacts.SampleExpected), len(v.Artifacts.RunExpected))
		fmt.Fprintf(w, "    checks: %s\n", checks)
		if t := v.Thresholds; t != nil {
			fmt.Fprintf(w, "    thresholds: q30 %s, contamination %s, ntc contamination %s\n",
				humanize.Ftoa(t.MinQ30Score), humanize.Ftoa(t.ContaminationCutoff), humanize.Ftoa(t.NTCContaminationCutoff))
		}
		if len(categories) > 0 {
			fmt.Fprintf(w, "    metrics: %s\n", strings.Join(categories, ", "))
		}
		if len(unsourced) > 0 {
			fmt.Fprintf(w, "    no source: %s\n", strings.Join(unsourced, ", "))
		}
	}
}

func variantLabel(v rules.Variant) string {
	if v.Versions == "" {
		return v.Name + " (all versions)"
	}
	return fmt.Sprintf("%s (%s)", v.Name, v.Versions)
}
