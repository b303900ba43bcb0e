package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/cleaner"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/ctxlog"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/merge"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/modloader"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/sample"
)

// ErrInterrupted is returned by Dispatch when the context is canceled
// (SIGINT) before every shard has reported a result.
var ErrInterrupted = errors.New("dispatcher: interrupted")

// Dispatcher fans a runner invocation out across a pool of shard worker
// processes and folds their results back into a master collection.
type Dispatcher struct {
	rootWorkdir string
	resultDir   string
	timestamp   time.Time
	parallelism int
	schema      *attrs.Schema
	merges      *merge.Registry
	spawner     shardSpawner
}

// New returns a Dispatcher that dispatches shards for modules found under
// moduleDir, rooted at rootWorkdir, running at most parallelism shards
// concurrently. schema and merges must be the frozen registry's. resultDir
// and timestamp are forwarded to every shard worker so it can resolve its
// runner's declared outputs against the same result directory and run
// timestamp the rest of the driver uses.
func New(moduleDir, rootWorkdir, resultDir string, timestamp time.Time, parallelism int, schema *attrs.Schema, merges *merge.Registry) (*Dispatcher, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	spawner, err := newSubprocessSpawner(moduleDir)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		rootWorkdir: rootWorkdir,
		resultDir:   resultDir,
		timestamp:   timestamp,
		parallelism: parallelism,
		schema:      schema,
		merges:      merges,
		spawner:     spawner,
	}, nil
}

// Dispatch runs runner against collection: it fans the collection out into
// shards (one per split_by value, or a single shard if runner declares
// none), runs each shard in its own worker process, and merges the results
// back into one collection tagged like the input. It also returns one
// Deferred cleaner per shard, already populated with that shard's
// register/unregister intent but not yet flushed — the caller flushes
// them once it has copied every shard's declared outputs, so a flush can
// never race the copy phase it depends on.
func (d *Dispatcher) Dispatch(ctx context.Context, runner modloader.Runner, collection *sample.Collection) (*sample.Collection, []*cleaner.Cleaner, error) {
	logger := ctxlog.FromContext(ctx)
	tag := collection.Tag

	shards, keys := d.splitShards(logger, collection, runner)
	outcomes := make([]shardOutcome, len(shards))

	sem := make(chan struct{}, d.parallelism)
	var wg sync.WaitGroup
	for i := range shards {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = d.runShard(ctx, logger, tag, runner.Label, shards[i], keys[i])
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Error("Received SIGINT, telling runners to shut down...")
		<-done
	}

	if ctx.Err() != nil {
		return nil, nil, ErrInterrupted
	}

	merged, err := mergeOutcomes(logger, tag, outcomes, d.schema, d.merges)
	if err != nil {
		return nil, nil, err
	}

	cleaners := make([]*cleaner.Cleaner, 0, len(outcomes))
	for _, o := range outcomes {
		if o.cleaner != nil {
			cleaners = append(cleaners, o.cleaner)
		}
	}
	return merged, cleaners, nil
}

// splitShards computes the shards a runner's split_by produces (or a
// single, unsplit shard) and their split-key suffixes, logging the
// per-bucket sample counts the same way the original fan-out logs them.
func (d *Dispatcher) splitShards(logger *slog.Logger, collection *sample.Collection, runner modloader.Runner) ([]*sample.Collection, []string) {
	if runner.SplitBy == "" {
		return []*sample.Collection{collection}, []string{""}
	}

	shards := sample.Split(collection, runner.SplitBy, d.schema)
	prefix := collection.Tag + "."
	keys := make([]string, len(shards))
	for i, shard := range shards {
		key := strings.TrimPrefix(shard.Tag, prefix)
		keys[i] = key
		logger.Info(fmt.Sprintf("%s: %d", key, len(shard.Samples)))
	}
	return shards, keys
}

// shardOutcome is one shard's contribution to the merged result (every
// sample failed, if the shard never produced one), plus the Deferred
// cleaner rebuilt from its worker's
// reported intent (nil if the shard failed before the worker built one).
type shardOutcome struct {
	key        string
	collection *sample.Collection
	cleaner    *cleaner.Cleaner
}

func (d *Dispatcher) shardWorkdir(tag, runnerLabel, key string) string {
	parts := []string{d.rootWorkdir, tag, runnerLabel}
	if key != "" {
		parts = append(parts, key)
	}
	return filepath.Join(parts...)
}

func (d *Dispatcher) runShard(ctx context.Context, logger *slog.Logger, tag, runnerLabel string, shard *sample.Collection, key string) shardOutcome {
	workdir := d.shardWorkdir(tag, runnerLabel, key)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		logger.Error(fmt.Sprintf("Unhandled exception: %v", err), "runner", runnerLabel, "shard", key)
		return shardOutcome{key: key, collection: failAll(shard, err.Error())}
	}

	req := shardRequest{
		RunnerLabel: runnerLabel,
		Collection:  shard.ToRecord(),
		ResultDir:   d.resultDir,
		Timestamp:   d.timestamp,
	}
	res, err := d.spawner.spawn(ctx, workdir, req)
	if err != nil {
		logger.Error(fmt.Sprintf("Unhandled exception: %v", err), "runner", runnerLabel, "shard", key)
		return shardOutcome{key: key, collection: failAll(shard, err.Error())}
	}

	collection, err := sample.CollectionFromRecord(res.Collection, d.schema)
	if err != nil {
		logger.Error(fmt.Sprintf("Unhandled exception: %v", err), "runner", runnerLabel, "shard", key)
		return shardOutcome{key: key, collection: failAll(shard, err.Error())}
	}
	if res.Err != "" {
		logger.Error(fmt.Sprintf("Unhandled exception: %s", res.Err), "runner", runnerLabel, "shard", key)
	}
	return shardOutcome{key: key, collection: collection, cleaner: rebuildCleaner(ctx, workdir, res)}
}

// rebuildCleaner replays a shard worker's reported register/unregister
// intent into a fresh Cleaner rooted at the same workdir, since the
// Cleaner value itself cannot cross the worker process boundary.
func rebuildCleaner(ctx context.Context, workdir string, res shardResult) *cleaner.Cleaner {
	cl := cleaner.New(workdir, cleaner.Deferred)
	for path, ignoreOutsideRoot := range res.CleanerExtra {
		cl.Register(ctx, path, ignoreOutsideRoot)
	}
	for _, path := range res.CleanerUnregistered {
		cl.Unregister(path)
	}
	return cl
}

// failAll returns a copy of c with every sample failed with reason; c itself
// may share its samples with the caller's collection and is left unchanged.
func failAll(c *sample.Collection, reason string) *sample.Collection {
	samples := make([]*sample.Sample, len(c.Samples))
	for i, s := range c.Samples {
		samples[i] = s.Clone()
		samples[i].Fail(reason)
	}
	return &sample.Collection{
		Tag:     c.Tag,
		Samples: samples,
		Attrs:   c.Attrs.Clone(),
		Outputs: append(c.Outputs[:0:0], c.Outputs...),
	}
}

// mergeOutcomes folds every shard's collection back into one, tagged like
// the original input: samples concatenate in dispatch order (shards
// partition samples disjointly, so there is nothing to reconcile there),
// and collection-scoped attributes fold pairwise through the merge
// registry, since every shard started from a clone of the same bag and may
// have diverged.
func mergeOutcomes(logger *slog.Logger, tag string, outcomes []shardOutcome, schema *attrs.Schema, merges *merge.Registry) (*sample.Collection, error) {
	if len(outcomes) == 0 {
		return sample.NewCollection(tag, nil, schema), nil
	}

	master := outcomes[0].collection
	master.Tag = tag

	names := schema.Names(attrs.CollectionScope)
	for _, o := range outcomes[1:] {
		master.Samples = append(master.Samples, o.collection.Samples...)
		master.Outputs = append(master.Outputs, o.collection.Outputs...)
		mergeCollectionAttrs(logger, merges, master.Attrs, o.collection.Attrs, names)
	}
	return master, nil
}

// mergeCollectionAttrs folds that into this one attribute at a time. A
// merge function that errors is logged and leaves that single attribute on
// this's existing value rather than failing the whole collection phase.
func mergeCollectionAttrs(logger *slog.Logger, merges *merge.Registry, this, that *attrs.Bag, names []string) {
	for _, name := range names {
		merged, err := merges.Merge(attrs.CollectionScope, name, this.Get(name), that.Get(name))
		if err != nil {
			logger.Error(fmt.Sprintf("Unhandled exception when collecting results: %v", err))
			continue
		}
		if err := this.Set(name, merged); err != nil {
			logger.Error(fmt.Sprintf("Unhandled exception when collecting results: %v", err))
		}
	}
}
