package main

import (
	"context"
	"errors"
	"slices"

	"github.com/spf13/cobra"

	"github.com/nugget/haconf/internal/finding"
	"github.com/nugget/haconf/internal/official"
	"github.com/nugget/haconf/internal/pipeline"
)

// validateFlags are shared by "validate" and its per-stage subcommands.
type validateFlags struct {
	root         string
	snapshot     string
	only         []string
	skipOfficial bool
}

func newValidateCmd(a *app) *cobra.Command {
	var vf validateFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run the validation pipeline (exit 0 only if it passes)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stages, err := pipeline.ParseStages(vf.only)
			if err != nil {
				return err
			}
			if len(stages) == 0 {
				stages = pipeline.AllStages()
			}
			if vf.skipOfficial {
				stages = without(stages, pipeline.StageOfficial)
				if len(stages) == 0 {
					return errors.New("no stages left to run: --only official conflicts with --skip-official")
				}
			}
			return a.validate(cmd.Context(), vf, stages)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&vf.root, "root", "", "configuration directory (default: root from config, else .)")
	pf.StringVar(&vf.snapshot, "snapshot", "", "registry snapshot directory (default: <root>/.storage)")
	cmd.Flags().StringSliceVar(&vf.only, "only", nil, "stages to run: syntax, reference, official")
	cmd.Flags().BoolVar(&vf.skipOfficial, "skip-official", false, "do not run the platform's own check")

	for _, s := range []struct {
		use, short string
		stage      pipeline.Stage
	}{
		{"syntax", "Check YAML structure and custom tags only", pipeline.StageSyntax},
		{"references", "Check entity, device and area references only", pipeline.StageReference},
		{"official", "Run the platform's own configuration check only", pipeline.StageOfficial},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   s.use,
			Short: s.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.validate(cmd.Context(), vf, []pipeline.Stage{s.stage})
			},
		})
	}
	return cmd
}

func without(stages []pipeline.Stage, drop pipeline.Stage) []pipeline.Stage {
	out := make([]pipeline.Stage, 0, len(stages))
	for _, s := range stages {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

// paths resolves the root and snapshot directories, flags first.
func (a *app) paths(vf validateFlags) (root, snapshot string) {
	root, snapshot = a.cfg.Root, a.cfg.SnapshotDir
	if vf.root != "" {
		root = vf.root
	}
	if vf.snapshot != "" {
		snapshot = vf.snapshot
	}
	return root, snapshot
}

// validate runs the pipeline, prints the report, and returns a
// *pipeline.FailedError when the verdict is fail.
func (a *app) validate(ctx context.Context, vf validateFlags, stages []pipeline.Stage) error {
	var checker official.Checker
	if slices.Contains(stages, pipeline.StageOfficial) {
		var err error
		if checker, err = a.checker(); err != nil {
			return err
		}
	}

	report, err := a.runPipeline(ctx, vf, stages, checker)
	if err != nil {
		return err
	}
	if err := a.writeReport(report); err != nil {
		return err
	}
	return pipeline.Check(report)
}

func (a *app) runPipeline(ctx context.Context, vf validateFlags, stages []pipeline.Stage, checker official.Checker) (*finding.Report, error) {
	root, snapshot := a.paths(vf)

	return pipeline.Run(ctx, pipeline.Options{
		Root:                            root,
		SnapshotDir:                     snapshot,
		SecretsFile:                     a.cfg.SecretsFile,
		Ignore:                          a.cfg.Ignore,
		BlueprintDirs:                   a.cfg.Validation.BlueprintDirs,
		Stages:                          stages,
		Workers:                         a.cfg.Validation.Workers,
		StrictUnparameterizedBlueprints: a.cfg.Validation.StrictUnparameterizedBlueprints,
		Official:                        checker,
		Logger:                          a.logger,
	})
}
