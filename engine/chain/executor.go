// Package chain runs an ordered filter chain over a set of input files.
//
// Intermediate results live in two scratch subdirectories that alternate
// roles between stages; only the final stage writes into the destination
// directory. Partial failures are logged and reflected in the returned flag
// without aborting the run unless PolicyAbort is selected.
package chain

import (
	"context"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/squidspace/sqs/engine/filter"
	"github.com/squidspace/sqs/engine/scratch"
	"github.com/squidspace/sqs/engine/source"
	"github.com/squidspace/sqs/pkg/logger"
)

// Resolver maps a declared filter name to its implementation.
type Resolver interface {
	Lookup(name string) (filter.Filter, error)
}

type Executor struct {
	filters Resolver
	log     logger.Logger
	policy  Policy
	metrics *metrics
}

type Option func(*executorOptions)

type executorOptions struct {
	log      logger.Logger
	policy   Policy
	provider metric.MeterProvider
}

func WithLogger(log logger.Logger) Option {
	return func(o *executorOptions) { o.log = log }
}

func WithPolicy(p Policy) Option {
	return func(o *executorOptions) { o.policy = p }
}

// WithMeterProvider overrides the global OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *executorOptions) { o.provider = mp }
}

func New(filters Resolver, opts ...Option) *Executor {
	o := executorOptions{policy: PolicyContinue}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.NewLogger(nil)
	}
	if o.provider == nil {
		o.provider = otel.GetMeterProvider()
	}
	return &Executor{
		filters: filters,
		log:     o.log,
		policy:  o.policy,
		metrics: newMetrics(o.provider, o.log),
	}
}

// Run filters inputs through chain and leaves the final results in outDir.
// An empty chain copies the inputs unchanged. The returned flag is false when
// any stage failed to process its entire working set.
func (e *Executor) Run(
	ctx context.Context,
	inputs []string,
	outDir string,
	ws *scratch.Workspace,
	chain filter.Chain,
) bool {
	switch {
	case len(inputs) == 0:
		e.log.Error("Input file list required")
		return false
	case outDir == "":
		e.log.Error("Output directory required")
		return false
	case ws == nil:
		e.log.Error("Scratch workspace required")
		return false
	}
	fsys := ws.Fs()
	if err := fsys.MkdirAll(outDir, 0o755); err != nil {
		e.log.Error("Could not create output directory", "dir", outDir, "error", err)
		return false
	}
	var ok bool
	if len(chain) == 0 {
		ok = e.copyAll(fsys, inputs, outDir)
	} else {
		ok = e.runChain(ctx, inputs, outDir, ws, chain)
	}
	e.metrics.recordRun(ctx, ok)
	return ok
}

func (e *Executor) copyAll(fsys afero.Fs, inputs []string, outDir string) bool {
	ok := true
	dest := filter.DirOutputs(outDir)
	for _, p := range inputs {
		if !source.CopyFile(fsys, p, dest(p), e.log) {
			e.log.Error("Could not copy file", "path", p, "dir", outDir)
			ok = false
		}
	}
	return ok
}

func (e *Executor) runChain(
	ctx context.Context,
	inputs []string,
	outDir string,
	ws *scratch.Workspace,
	chain filter.Chain,
) bool {
	bufs, err := newBuffers(ws)
	if err != nil {
		e.log.Error("Could not create scratch buffers", "path", ws.Path(), "error", err)
		return false
	}
	ok := true
	working := inputs
	for i, spec := range chain {
		if ctx.Err() != nil {
			e.log.Warn("Filter chain canceled", "stage", i, "error", ctx.Err())
			return false
		}
		last := i == len(chain)-1
		f, err := e.filters.Lookup(spec.Name)
		if err != nil {
			e.log.Error("Could not load filter", "filter", spec.Name, "stage", i, "error", err)
			e.metrics.recordStage(ctx, spec.Name, outcomeMissing, 0)
			return false
		}
		outputs := filter.Outputs(bufs.output().Outputs())
		if last {
			outputs = filter.DirOutputs(outDir)
		}
		stageLog := e.log.With("filter", spec.Name, "stage", i)
		start := time.Now()
		count := f.Apply(ctx, filter.Invocation{
			Inputs:  working,
			Outputs: outputs,
			Options: spec.Options,
			Fs:      ws.Fs(),
			Log:     stageLog,
		})
		complete := e.checkCount(ctx, stageLog, spec.Name, count, len(working), time.Since(start))
		if !complete {
			ok = false
			if e.policy == PolicyAbort {
				e.log.Warn("Aborting filter chain after incomplete stage", "filter", spec.Name, "stage", i)
				return false
			}
		}
		if last {
			break
		}
		working = bufs.output().ListFiles()
		if err := bufs.swap(); err != nil {
			e.log.Error("Could not clear scratch buffer", "path", bufs.output().Path(), "error", err)
			return false
		}
		e.metrics.recordSwap(ctx)
	}
	return ok
}

func (e *Executor) checkCount(
	ctx context.Context,
	log logger.Logger,
	name string,
	count, total int,
	elapsed time.Duration,
) bool {
	switch {
	case count < 1:
		log.Warn("Filter processed zero files", "total", total)
		e.metrics.recordStage(ctx, name, outcomeEmpty, elapsed)
		return false
	case count < total:
		log.Warn("Filter processed only part of its inputs", "processed", count, "total", total)
		e.metrics.recordStage(ctx, name, outcomePartial, elapsed)
		return false
	default:
		e.metrics.recordStage(ctx, name, outcomeComplete, elapsed)
		return true
	}
}
