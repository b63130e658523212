package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/metric"

	"github.com/squidspace/sqs/engine/chain"
	"github.com/squidspace/sqs/engine/core"
	"github.com/squidspace/sqs/engine/filter/builtin"
	"github.com/squidspace/sqs/engine/resolver"
	"github.com/squidspace/sqs/engine/scratch"
	"github.com/squidspace/sqs/engine/source"
	"github.com/squidspace/sqs/pkg/config"
	"github.com/squidspace/sqs/pkg/logger"
)

const (
	keyModuleName   = "module-name"
	keyConfig       = "config"
	keyResources    = "resources"
	keyResourceName = "resource-name"
	keyCacheOptions = "cache-options"
	keyFileName     = "file-name"
)

const retryBackoff = 250 * time.Millisecond

type Runner struct {
	settings   *config.Settings
	filters    chain.Resolver
	acquirer   *source.Acquirer
	fs         afero.Fs
	log        logger.Logger
	provider   metric.MeterProvider
	scratchDir string
}

type Option func(*Runner)

func WithFs(fsys afero.Fs) Option {
	return func(r *Runner) { r.fs = fsys }
}

func WithLogger(log logger.Logger) Option {
	return func(r *Runner) { r.log = log }
}

func WithFilters(filters chain.Resolver) Option {
	return func(r *Runner) { r.filters = filters }
}

func WithAcquirer(a *source.Acquirer) Option {
	return func(r *Runner) { r.acquirer = a }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Runner) { r.provider = mp }
}

// WithScratchDir overrides the settings' build-dir as the scratch root.
func WithScratchDir(dir string) Option {
	return func(r *Runner) { r.scratchDir = dir }
}

func NewRunner(settings *config.Settings, opts ...Option) (*Runner, error) {
	if settings == nil {
		settings = config.Default()
	}
	r := &Runner{settings: settings}
	for _, opt := range opts {
		opt(r)
	}
	if r.fs == nil {
		r.fs = afero.NewOsFs()
	}
	if r.log == nil {
		r.log = logger.NewLogger(nil)
	}
	if r.filters == nil {
		reg, err := builtin.NewRegistry()
		if err != nil {
			return nil, err
		}
		r.filters = reg
	}
	if r.acquirer == nil {
		r.acquirer = source.NewAcquirer(
			source.WithFs(r.fs),
			source.WithLogger(r.log),
			source.WithTimeout(settings.Fetch.Timeout),
			source.WithUserAgent(settings.Fetch.UserAgent),
			source.WithMaxRedirects(settings.Fetch.MaxRedirects),
		)
	}
	if r.scratchDir == "" {
		r.scratchDir = settings.BuildDir
	}
	return r, nil
}

func (r *Runner) executor() (*chain.Executor, error) {
	policy, err := chain.ParsePolicy(r.settings.Chain.Policy)
	if err != nil {
		return nil, err
	}
	opts := []chain.Option{chain.WithLogger(r.log), chain.WithPolicy(policy)}
	if r.provider != nil {
		opts = append(opts, chain.WithMeterProvider(r.provider))
	}
	return chain.New(r.filters, opts...), nil
}

// RunFilter runs the named profile (identity when empty) over inputs and
// writes the results to outDir. The scratch workspace is always removed.
func (r *Runner) RunFilter(ctx context.Context, profile string, inputs []string, outDir string) bool {
	res, err := resolver.New(r.settings.Raw())
	if err != nil {
		r.logError("Invalid configuration", err)
		return false
	}
	filters, err := res.Chain(nil, profile)
	if err != nil {
		r.logError("Could not resolve filter profile", err, "profile", profile)
		return false
	}
	exec, err := r.executor()
	if err != nil {
		r.logError("Invalid chain policy", err)
		return false
	}
	ws, err := scratch.Create(r.fs, r.scratchDir, r.log)
	if err != nil {
		r.logError("Could not create scratch workspace", err, "path", r.scratchDir)
		return false
	}
	defer ws.Remove()
	ok := exec.Run(ctx, inputs, outDir, ws, filters)
	if !ok {
		r.log.Warn("Unable to completely process all files and filters", "profile", profile, "files", len(inputs))
	}
	return ok
}

// RunModule processes every resource of a decoded module document.
func (r *Runner) RunModule(ctx context.Context, doc map[string]any) Stats {
	var stats Stats
	name, _ := doc[keyModuleName].(string)
	log := r.log.With("module", name)
	moduleConfig, _ := core.AsMap(doc[keyConfig])
	res, err := resolver.New(r.settings.Raw(), moduleConfig)
	if err != nil {
		r.logError("Invalid module configuration", err, "module", name)
		stats.record(outcomeFailed)
		return stats
	}
	exec, err := r.executor()
	if err != nil {
		r.logError("Invalid chain policy", err)
		stats.record(outcomeFailed)
		return stats
	}
	ws, err := scratch.Create(r.fs, r.scratchDir, r.log)
	if err != nil {
		r.logError("Could not create scratch workspace", err, "path", r.scratchDir)
		stats.record(outcomeFailed)
		return stats
	}
	defer ws.Remove()
	resources, _ := core.AsMap(doc[keyResources])
	for _, flavor := range Flavors {
		list, _ := resources[flavor.Key].([]any)
		for _, raw := range list {
			if ctx.Err() != nil {
				log.Warn("Module processing canceled", "error", ctx.Err())
				stats.log(log, "Module processing interrupted")
				return stats
			}
			elem, ok := core.AsMap(raw)
			if !ok {
				log.Error("Resource declaration is not a table", "flavor", flavor.Key)
				stats.record(outcomeFailed)
				continue
			}
			stats.record(r.processResource(ctx, log, exec, res, ws, flavor, elem))
		}
	}
	stats.log(log, "Module processed")
	return stats
}

func (r *Runner) processResource(
	ctx context.Context,
	log logger.Logger,
	exec *chain.Executor,
	res *resolver.Resolver,
	ws *scratch.Workspace,
	flavor Flavor,
	elem map[string]any,
) (result outcome) {
	name, _ := elem[keyResourceName].(string)
	log = log.With("resource", name, "flavor", flavor.Key)
	defer func() {
		if p := recover(); p != nil {
			log.Error("Resource processing panicked", "panic", p, "stack", string(debug.Stack()))
			result = outcomeFailed
		}
	}()
	log.Debug("Processing resource")
	cfg, ok := core.AsMap(elem[keyConfig])
	if !ok {
		log.Debug("No 'config'; nothing to process")
		return outcomeSkipped
	}
	rawOptions, present := cfg[keyCacheOptions]
	if !present {
		log.Debug("No 'cache-options' in 'config'; nothing to process")
		return outcomeSkipped
	}
	cacheOptions, _ := core.AsMap(rawOptions)
	if len(cacheOptions) == 0 {
		log.Warn("Empty 'cache-options' in 'config'; nothing to process")
		return outcomeSkipped
	}
	resourceRes, err := res.With(cfg)
	if err != nil {
		r.logErrorTo(log, "Invalid resource configuration", err)
		return outcomeFailed
	}
	src, err := source.FromOptions(cacheOptions)
	if err != nil {
		r.logErrorTo(log, "Invalid or unspecified file or URL source in 'cache-options'", err)
		return outcomeFailed
	}
	destPath, err := destinationPath(resourceRes, flavor, cfg, name, src)
	if err != nil {
		r.logErrorTo(log, "Could not determine output file path", err)
		return outcomeFailed
	}
	filters, err := resourceRes.ChainFor(cacheOptions)
	if err != nil {
		r.logErrorTo(log, "Could not resolve filter chain", err)
		return outcomeFailed
	}
	stream, err := r.acquire(ctx, src)
	if err != nil {
		r.logErrorTo(log, "Could not open source", err, "source", src.String())
		return outcomeFailed
	}
	ext := src.Ext()
	if ext == "" && src.Kind == source.KindURL {
		ext, stream, err = source.SniffExt(stream)
		if err != nil {
			_ = stream.Close()
			r.logErrorTo(log, "Could not read source", err, "source", src.String())
			return outcomeFailed
		}
	}
	if err := ws.Clear(); err != nil {
		_ = stream.Close()
		r.logErrorTo(log, "Could not clear scratch workspace", err)
		return outcomeFailed
	}
	destDir, destName := filepath.Split(destPath)
	scratchPath := ws.NamedPath(strings.TrimSuffix(destName, filepath.Ext(destName)) + ext)
	if !source.CopyInto(stream, ws.Fs(), scratchPath, log) {
		log.Error("Unable to copy source file to scratch directory", "source", src.String())
		return outcomeFailed
	}
	if destDir == "" {
		destDir = "."
	}
	if !exec.Run(ctx, []string{scratchPath}, destDir, ws, filters) {
		return outcomeFailed
	}
	log.Info("Resource processed", "dest", destPath)
	return outcomeSucceeded
}

// acquire opens src, retrying failed URL fetches when fetch.retries is set.
func (r *Runner) acquire(ctx context.Context, src source.Source) (io.ReadCloser, error) {
	retries := r.settings.Fetch.Retries
	if src.Kind != source.KindURL || retries <= 0 {
		return r.acquirer.Acquire(ctx, src)
	}
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewExponential(retryBackoff)) // #nosec G115 -- validated 0..10
	var stream io.ReadCloser
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		rc, err := r.acquirer.Acquire(ctx, src)
		if err != nil {
			if core.CodeOf(err) == core.CodeFetchFailed {
				r.log.Debug("Retrying url source", "source", src.String(), "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		stream = rc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// destinationPath joins the flavor directory with the resource's file-name,
// deriving a name from resource-name when file-name is absent.
func destinationPath(res *resolver.Resolver, flavor Flavor, cfg map[string]any, name string, src source.Source) (string, error) {
	fileName, _ := cfg[keyFileName].(string)
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		base := slug.Make(name)
		if base == "" {
			return "", core.NewError(
				errors.New("invalid or unspecified file name"),
				core.CodeInvalidArgument,
				map[string]any{keyResourceName: name},
			)
		}
		fileName = base + src.Ext()
	}
	dir := res.String(flavor.DirKey, "")
	if dir == "" {
		return "", core.NewError(
			fmt.Errorf("no %s configured", flavor.DirKey),
			core.CodeInvalidArgument,
			nil,
		)
	}
	return filepath.Join(dir, fileName), nil
}

func (r *Runner) logError(msg string, err error, keyvals ...any) {
	r.logErrorTo(r.log, msg, err, keyvals...)
}

func (r *Runner) logErrorTo(log logger.Logger, msg string, err error, keyvals ...any) {
	var coded *core.Error
	if errors.As(err, &coded) {
		keyvals = append(keyvals, coded.KeyVals()...)
	} else {
		keyvals = append(keyvals, "error", err)
	}
	log.Error(msg, keyvals...)
}
