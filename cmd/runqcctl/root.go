package main

import (
	"log/slog"

	"github.com/animus-labs/runqc/internal/platform/env"
	"github.com/animus-labs/runqc/internal/rules"
	"github.com/spf13/cobra"
)

// options are shared by every subcommand.
type options struct {
	configPath string
	verbose    bool
	logger     *slog.Logger
}

func (o *options) log() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.logger
}

func (o *options) registry() (*rules.Registry, error) {
	return rules.Load(o.configPath)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "runqcctl",
		Short: "Check sequencing run outputs and drive the auto-QC service",
		Long: `runqcctl evaluates sequencing run directories against the pipeline rule
configuration used by the autoqc service.

The check and autoqc commands read the filesystem directly and never touch
the database. The sweep command asks a running autoqc service to evaluate
every run analysis it is watching.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			opts.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", env.String("RUNQC_PIPELINES_CONFIG", "configs/pipelines.yaml"), "pipeline rule configuration file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log artifact lookups to stderr")

	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newAutoQCCmd(opts))
	root.AddCommand(newValidateConfigCmd(opts))
	root.AddCommand(newSweepCmd(opts))

	return root
}
