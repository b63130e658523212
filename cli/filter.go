package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/squidspace/sqs/engine/pipeline"
	"github.com/squidspace/sqs/pkg/config"
	"github.com/squidspace/sqs/pkg/logger"
)

// FilterCmd runs a filter profile over files given on the command line.
func FilterCmd() *cobra.Command {
	var (
		profile string
		outDir  string
		isolate bool
	)

	cmd := &cobra.Command{
		Use:   "filter <file|glob>...",
		Short: "Run a filter profile over files",
		Long: `Run the named filter profile over the given files and write the results
to the output directory. Without --profile the files are copied unchanged.
Arguments may be doublestar patterns such as "textures/**/*.png".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilter(cmd, args, profile, outDir, isolate)
		},
	}

	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Filter profile from filter-profiles")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (defaults to out-dir)")
	cmd.Flags().BoolVar(&isolate, "isolate", false, "Use a private scratch directory")

	return cmd
}

func runFilter(cmd *cobra.Command, args []string, profile, outDir string, isolate bool) error {
	ctx := cmd.Context()
	settings := config.FromContext(ctx)
	log := logger.FromContext(ctx)
	inputs, err := expandInputs(args)
	if err != nil {
		return err
	}
	if outDir == "" {
		outDir = settings.OutDir
	}
	lease, err := leaseScratch(settings.BuildDir, isolate)
	if err != nil {
		return err
	}
	defer lease.Release()
	runner, err := pipeline.NewRunner(settings,
		pipeline.WithLogger(log),
		pipeline.WithScratchDir(lease.Dir),
	)
	if err != nil {
		return err
	}
	log.Debug("Running filter profile", "profile", profile, "files", len(inputs), "out", outDir)
	if !runner.RunFilter(ctx, profile, inputs, outDir) {
		return errors.New("unable to completely process all files and filters")
	}
	return nil
}
