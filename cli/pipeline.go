package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/squidspace/sqs/engine/pipeline"
	"github.com/squidspace/sqs/pkg/config"
	"github.com/squidspace/sqs/pkg/logger"
)

// PipelineCmd processes the resources declared by module documents.
func PipelineCmd() *cobra.Command {
	var (
		isolate bool
		jobs    int
	)

	cmd := &cobra.Command{
		Use:   "pipeline <module-file>...",
		Short: "Process the resources of module documents",
		Long: `Fetch, filter and place every texture, material, object and mod resource
declared in the given module documents. Module files may be YAML or JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, args, isolate, jobs)
		},
	}

	cmd.Flags().BoolVar(&isolate, "isolate", false, "Use a private scratch directory per module")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 1, "Module files processed concurrently (implies --isolate above 1)")

	return cmd
}

type pipelineResult struct {
	mu       sync.Mutex
	stats    pipeline.Stats
	unloaded int
}

func (r *pipelineResult) add(stats pipeline.Stats, loadErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if loadErr != nil {
		r.unloaded++
		return
	}
	r.stats.Add(stats)
}

func runPipeline(cmd *cobra.Command, args []string, isolate bool, jobs int) error {
	ctx := cmd.Context()
	settings := config.FromContext(ctx)
	log := logger.FromContext(ctx)
	files, err := expandInputs(args)
	if err != nil {
		return err
	}
	if jobs < 1 {
		jobs = 1
	}
	if jobs > 1 {
		isolate = true
	}
	var result pipelineResult
	g := new(errgroup.Group)
	g.SetLimit(jobs)
	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			stats, err := runModuleFile(ctx, settings, log.With("file", file), file, isolate)
			result.add(stats, err)
			return nil
		})
	}
	_ = g.Wait()

	total := result.stats
	keyvals := []any{
		"modules", len(files),
		"resources", total.Total,
		"succeeded", total.Succeeded,
		"failed", total.Failed,
		"skipped", total.Skipped,
	}
	if result.unloaded > 0 || !total.OK() {
		log.Warn("Pipeline finished with failures", append(keyvals, "unreadable", result.unloaded)...)
		return fmt.Errorf("%d resource(s) failed, %d module file(s) could not be loaded", total.Failed, result.unloaded)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pipeline interrupted: %w", err)
	}
	log.Info("Pipeline finished", keyvals...)
	return nil
}

func runModuleFile(
	ctx context.Context,
	settings *config.Settings,
	log logger.Logger,
	file string,
	isolate bool,
) (pipeline.Stats, error) {
	lease, err := leaseScratch(settings.BuildDir, isolate)
	if err != nil {
		log.Error("Could not reserve scratch directory", "error", err)
		return pipeline.Stats{}, err
	}
	defer lease.Release()
	runner, err := pipeline.NewRunner(settings,
		pipeline.WithLogger(log),
		pipeline.WithScratchDir(lease.Dir),
	)
	if err != nil {
		log.Error("Could not create pipeline runner", "error", err)
		return pipeline.Stats{}, err
	}
	stats, err := runner.RunModuleFile(ctx, file)
	if err != nil {
		log.Error("Could not load module file", "error", err)
		return pipeline.Stats{}, err
	}
	return stats, nil
}
