package dispatcher

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/checkpoint"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/cleaner"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/executor"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/modloader"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/output"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/sample"
)

// RunShard is the shard worker's entire body: decode one shardRequest from
// in, run the named runner against it using reg, and encode the result to
// out. It is what the "__run-shard" subcommand calls after it has built and
// frozen its own copy of the registry by re-running the module loader.
//
// RunShard never returns an error for a runner that fails or panics — that
// is reported inside the shardResult, not as a transport failure. It only
// returns an error when it cannot even decode the request or encode the
// reply, which the parent treats as the shard having failed outright.
func RunShard(ctx context.Context, reg *modloader.Registry, in io.Reader, out io.Writer) error {
	var req shardRequest
	if err := gob.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("dispatcher: decode shard request: %w", err)
	}

	result := runShardRequest(ctx, reg, req)

	if err := gob.NewEncoder(out).Encode(result); err != nil {
		return fmt.Errorf("dispatcher: encode shard result: %w", err)
	}
	return nil
}

// runShardRequest builds the per-shard runtime (a checkpoint store, a
// deferred cleaner, and an executor bound to the runner's configured
// backend, all rooted at the worker's current directory) before invoking
// the runner, then resolves its declared outputs against the result the
// runner returns.
//
// The deferred cleaner is never flushed here: this process exits before
// the driver has copied the shard's declared outputs out of its workdir,
// so flushing now could delete a file the copy phase still needs. Its
// accumulated register/unregister intent travels back in the shardResult
// instead, for the dispatcher to replay and flush once copying is done.
func runShardRequest(ctx context.Context, reg *modloader.Registry, req shardRequest) shardResult {
	schema := reg.Schema()

	collection, err := sample.CollectionFromRecord(req.Collection, schema)
	if err != nil {
		return shardResult{Collection: req.Collection, Err: err.Error()}
	}

	runner, ok := reg.Runner(req.RunnerLabel)
	if !ok {
		return failShard(collection, fmt.Sprintf("unknown runner %q", req.RunnerLabel), nil)
	}

	workdir, err := os.Getwd()
	if err != nil {
		return failShard(collection, err.Error(), nil)
	}

	backend, ok := reg.ExecutorBackend(runner.Backend)
	if !ok {
		return failShard(collection, fmt.Sprintf("unknown executor backend %q", runner.Backend), nil)
	}

	ex := executor.New(backend, workdir)
	cl := cleaner.New(workdir, cleaner.Deferred)

	resolver := output.NewResolver(workdir, req.ResultDir, req.Timestamp)

	result, err := invokeRunner(ctx, runner, collection, schema, workdir, ex, cl, resolver)
	if err != nil {
		return failShard(collection, err.Error(), cl)
	}
	resolveDeclaredOutputs(ctx, runner, result, resolver)
	return shardResult{
		Collection:          result.ToRecord(),
		CleanerExtra:        cl.Extra(),
		CleanerUnregistered: cl.Unregistered(),
	}
}

// resolveDeclaredOutputs expands every @output pattern the runner declared
// against its workdir and attaches the resolved outputs to the sample
// whose placeholders produced them. resolver is shared with any ad hoc
// addOutput calls the runner made while running, so a declared output and
// an ad hoc one can never race to claim the same destination. Resolution
// failures are per-output, logged by the Resolver itself, and never turn a
// successful shard into a failed one.
func resolveDeclaredOutputs(ctx context.Context, runner modloader.Runner, result *sample.Collection, resolver *output.Resolver) {
	if len(runner.Outputs) == 0 {
		return
	}
	for _, s := range result.Samples {
		ph := placeholderFor(s)
		for _, g := range runner.Outputs {
			for _, resolved := range resolver.Resolve(ctx, g, []output.Placeholder{ph}) {
				s.AddOutput(resolved)
			}
		}
	}
}

func placeholderFor(s *sample.Sample) output.Placeholder {
	return output.Placeholder{SampleID: s.ID, Attrs: attrsToStrings(s.Attrs)}
}

func attrsToStrings(bag *attrs.Bag) map[string]string {
	out := map[string]string{}
	for k, v := range bag.AsMap() {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// invokeRunner calls the runner's interpreted entrypoint, recovering a
// panic into an error exactly like modloader's own import-time guard, so a
// bug in user code degrades to a failed shard rather than a dead worker.
// It builds the six host callbacks spec.md requires a runner receive —
// submit, addOutput, checkpointCheck, checkpointStore, cleanerRegister,
// cleanerUnregister — backed by ex, cl, a per-workdir checkpoint.Store,
// and resolver.
func invokeRunner(
	ctx context.Context,
	runner modloader.Runner,
	collection *sample.Collection,
	schema *attrs.Schema,
	workdir string,
	ex *executor.Executor,
	cl *cleaner.Cleaner,
	resolver *output.Resolver,
) (out *sample.Collection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	placeholders := make(map[string]output.Placeholder, len(collection.Samples))
	for _, s := range collection.Samples {
		placeholders[s.ID] = placeholderFor(s)
	}

	cpStore := checkpoint.NewStore(workdir, func(label string) checkpoint.PathsFunc {
		return func() []string {
			var paths []string
			for _, ph := range placeholders {
				for _, g := range runner.Outputs {
					if g.CheckpointLabel(ph) != label {
						continue
					}
					matches, matchErr := g.Matches(workdir, ph)
					if matchErr != nil {
						continue
					}
					paths = append(paths, matches...)
				}
			}
			return paths
		}
	})

	var pendingMu sync.Mutex
	pending := map[string][]output.Output{}

	submit := func(cmd string, args []string, env map[string]string, jobWorkdir string, cpus, memory int, wait bool) (string, int, string, error) {
		spec := executor.Spec{Name: cmd, Args: args, Env: env, Workdir: jobWorkdir, CPUs: cpus, Memory: memory}
		job, submitErr := ex.Submit(ctx, spec, wait)
		if job == nil {
			return "", -1, "", submitErr
		}
		status, code := job.Status()
		return status.String(), code, job.IDHex(), submitErr
	}

	addOutput := func(sampleID, src, checkpointLabel string) error {
		ph, ok := placeholders[sampleID]
		if !ok {
			return fmt.Errorf("dispatcher: addOutput: unknown sample %q", sampleID)
		}
		abs := src
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(workdir, abs)
		}
		label := checkpointLabel
		if label == "" {
			label = "main"
		}
		o := output.Output{
			Src:        abs,
			Dst:        filepath.Join(resolver.ResultDir, filepath.Base(abs)),
			Checkpoint: ph.Expand(label),
		}
		resolved := resolver.ResolveLiteral(ctx, o)
		if resolved == nil {
			return fmt.Errorf("dispatcher: addOutput: %s rejected", src)
		}
		pendingMu.Lock()
		pending[sampleID] = append(pending[sampleID], *resolved)
		pendingMu.Unlock()
		return nil
	}

	checkpointCheck := func(label string) bool {
		return cpStore.Get(label).Check()
	}
	checkpointStore := func(label string) error {
		return cpStore.Get(label).Store()
	}
	cleanerRegister := func(path string, ignoreOutsideRoot bool) {
		cl.Register(ctx, path, ignoreOutsideRoot)
	}
	cleanerUnregister := func(path string) {
		cl.Unregister(path)
	}

	payload := modloader.CollectionToPayload(collection)
	resultPayload, callErr := runner.Fn(ctx, payload, submit, addOutput, checkpointCheck, checkpointStore, cleanerRegister, cleanerUnregister)
	if callErr != nil {
		return nil, callErr
	}
	result, convErr := modloader.PayloadToCollection(resultPayload, schema)
	if convErr != nil {
		return nil, convErr
	}
	applyPendingOutputs(result, pending)
	return result, nil
}

func applyPendingOutputs(c *sample.Collection, pending map[string][]output.Output) {
	for _, s := range c.Samples {
		for _, o := range pending[s.ID] {
			s.AddOutput(o)
		}
	}
}

// failShard marks every sample of c failed with reason and reports it back
// unchanged otherwise, per the dispatcher's "exceptions become failed(reason)
// on every sample of the shard" contract. cl is nil when the failure
// happened before a cleaner was even constructed.
func failShard(c *sample.Collection, reason string, cl *cleaner.Cleaner) shardResult {
	for _, s := range c.Samples {
		s.Fail(reason)
	}
	res := shardResult{Collection: c.ToRecord(), Err: reason}
	if cl != nil {
		res.CleanerExtra = cl.Extra()
		res.CleanerUnregistered = cl.Unregistered()
	}
	return res
}
