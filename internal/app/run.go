package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/cleaner"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/ctxlog"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/hookscheduler"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/manifest"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/modloader"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/output"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/sample"
)

// FatalError wraps a framework-structural failure: module import, an
// unresolvable hook graph, or any other error the driver considers
// non-recoverable. The CLI layer maps it to exit code 1.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

func fatal(format string, args ...any) *FatalError {
	return &FatalError{err: fmt.Errorf(format, args...)}
}

// Run executes one complete pipeline pass: load samples, run pre-hooks,
// dispatch every registered runner concurrently, merge their results,
// run post-hooks, copy declared outputs, and clean up the workspace.
// A *FatalError return means exit 1; a plain error wrapping
// context.Canceled means the run was interrupted (SIGINT).
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := a.logger
	schema := a.registry.Schema()

	collection, err := manifest.Load(a.samplesFile(), a.tag(), schema)
	if err != nil {
		return fatal("app: loading samples manifest: %w", err)
	}

	clean := a.newCleaner()

	preOrdered, err := hookscheduler.Order(a.registry.Hooks(modloader.PreHook))
	if err != nil {
		return fatal("app: ordering pre-hooks: %w", err)
	}
	postOrdered, err := hookscheduler.Order(a.registry.Hooks(modloader.PostHook))
	if err != nil {
		return fatal("app: ordering post-hooks: %w", err)
	}

	payload := hookscheduler.RunPre(ctx, preOrdered, modloader.CollectionToPayload(collection))
	collection, err = modloader.PayloadToCollection(payload, schema)
	if err != nil {
		return fatal("app: rebuilding collection after pre-hooks: %w", err)
	}

	collection, shardCleaners, interrupted, err := a.dispatchRunners(ctx, a.registry.Runners(), collection, time.Now())
	if err != nil {
		return fatal("app: dispatching runners: %w", err)
	}

	anyFailed := len(collection.Failed()) > 0
	payload = hookscheduler.RunPost(ctx, postOrdered, modloader.CollectionToPayload(collection), anyFailed)
	collection, err = modloader.PayloadToCollection(payload, schema)
	if err != nil {
		return fatal("app: rebuilding collection after post-hooks: %w", err)
	}

	for _, s := range collection.Samples {
		if s.State() == sample.Failed {
			logger.Info(fmt.Sprintf("Sample %s failed - %s", s.ID, s.FailReason()))
		} else {
			logger.Info(fmt.Sprintf("Sample %s processed successfully", s.ID))
		}
	}

	output.CopyAll(ctx, collection.Outputs)
	for _, s := range collection.Samples {
		output.CopyAll(ctx, s.Outputs)
	}

	// Each shard's Deferred cleaner only flushes now, after every declared
	// output it might otherwise remove has already been copied out of its
	// workdir.
	for _, cl := range shardCleaners {
		cl.Flush(ctx)
	}
	clean.Clean(ctx)

	if interrupted {
		return context.Canceled
	}
	return nil
}

// dispatchRunners fans every registered runner out concurrently over
// collection: the original's _start_runners submits one worker-pool job
// per (runner, split bucket) pair up front rather than running runners
// one after another, so this mirrors that by dispatching every runner
// against the same starting collection at once and folding the results
// back together by sample id once every runner has returned.
func (a *App) dispatchRunners(ctx context.Context, runners []modloader.Runner, collection *sample.Collection, timestamp time.Time) (*sample.Collection, []*cleaner.Cleaner, bool, error) {
	logger := ctxlog.FromContext(ctx)
	if len(collection.Samples) == 0 {
		logger.Warn("No samples to process")
		return collection, nil, false, nil
	}
	if len(runners) == 0 {
		logger.Warn("No runners to execute")
		for _, s := range collection.Samples {
			s.Fail("Sample was not processed")
		}
		return collection, nil, false, nil
	}

	disp, err := a.newDispatcher(timestamp)
	if err != nil {
		return nil, nil, false, err
	}

	results := make([]*sample.Collection, len(runners))
	cleaners := make([][]*cleaner.Cleaner, len(runners))
	errs := make([]error, len(runners))
	var wg sync.WaitGroup
	for i, runner := range runners {
		wg.Add(1)
		go func(i int, runner modloader.Runner) {
			defer wg.Done()
			results[i], cleaners[i], errs[i] = disp.Dispatch(ctx, runner, collection)
		}(i, runner)
	}
	wg.Wait()

	interrupted := false
	merged := collection
	var allCleaners []*cleaner.Cleaner
	for i, res := range results {
		if errs[i] != nil {
			interrupted = true
			logger.Error(fmt.Sprintf("Unhandled exception when starting runners: %v", errs[i]))
			continue
		}
		merged = mergeRunnerResult(logger, a.registry, merged, res)
		allCleaners = append(allCleaners, cleaners[i]...)
	}
	return merged, allCleaners, interrupted, nil
}
