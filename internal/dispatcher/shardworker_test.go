package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/executor"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/modloader"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/output"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/sample"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

// noopBackend never actually runs anything; it exists so runner fixtures
// can declare a Backend and exercise the submit callback without shelling
// out.
type noopBackend struct{}

func (noopBackend) Name() string { return "noop" }

func (noopBackend) Start(ctx context.Context, job *executor.Job, spec executor.Spec) error {
	return nil
}

func (noopBackend) Wait(ctx context.Context, job *executor.Job) (int, error) {
	return 0, nil
}

func (noopBackend) Terminate(ctx context.Context, job *executor.Job) error {
	return nil
}

func testSchemaReg(t *testing.T) *modloader.Registry {
	t.Helper()
	reg := modloader.New()
	reg.RegisterMixin(attrs.Field{Scope: attrs.SampleScope, Name: "tag", Type: cty.String, Default: cty.StringVal("")})
	reg.RegisterExecutorBackend("noop", noopBackend{})
	return reg
}

// noopRunnerFn adapts a plain (ctx, payload) function into a RunnerFunc
// that ignores all six host callbacks, for fixtures that only care about
// the collection round trip.
func noopRunnerFn(fn func(context.Context, modloader.Payload) (modloader.Payload, error)) modloader.RunnerFunc {
	return func(
		ctx context.Context,
		p modloader.Payload,
		submit modloader.SubmitFunc,
		addOutput modloader.AddOutputFunc,
		checkpointCheck modloader.CheckpointCheckFunc,
		checkpointStore modloader.CheckpointStoreFunc,
		cleanerRegister modloader.CleanerRegisterFunc,
		cleanerUnregister modloader.CleanerUnregisterFunc,
	) (modloader.Payload, error) {
		return fn(ctx, p)
	}
}

func collectionFixture(t *testing.T, reg *modloader.Registry, tag string, ids ...string) *sample.Collection {
	t.Helper()
	samples := make([]*sample.Sample, len(ids))
	for i, id := range ids {
		samples[i] = sample.New(id, nil, reg.Schema())
	}
	return sample.NewCollection(tag, samples, reg.Schema())
}

func TestRunShardRoundTripsSuccessfulRunner(t *testing.T) {
	reg := testSchemaReg(t)
	reg.RegisterRunner(modloader.Runner{
		Label:   "mark_done",
		Backend: "noop",
		Fn: noopRunnerFn(func(ctx context.Context, p modloader.Payload) (modloader.Payload, error) {
			samples := p["samples"].([]any)
			for _, s := range samples {
				s.(modloader.Payload)["state"] = "complete"
			}
			return p, nil
		}),
	})
	reg.Freeze()

	c := collectionFixture(t, reg, "run", "a", "b")
	req := shardRequest{RunnerLabel: "mark_done", Collection: c.ToRecord()}

	var stdin, stdout bytes.Buffer
	require.NoError(t, gobEncode(&stdin, req))
	require.NoError(t, RunShard(context.Background(), reg, &stdin, &stdout))

	var res shardResult
	require.NoError(t, gobDecode(&stdout, &res))
	require.Empty(t, res.Err)
	require.Len(t, res.Collection.Samples, 2)
	for _, s := range res.Collection.Samples {
		require.Equal(t, sample.Complete, s.State)
	}
}

func TestRunShardFailsEverySampleOnRunnerError(t *testing.T) {
	reg := testSchemaReg(t)
	reg.RegisterRunner(modloader.Runner{
		Label:   "boom",
		Backend: "noop",
		Fn: noopRunnerFn(func(ctx context.Context, p modloader.Payload) (modloader.Payload, error) {
			return nil, errors.New("kaboom")
		}),
	})
	reg.Freeze()

	c := collectionFixture(t, reg, "run", "a")
	req := shardRequest{RunnerLabel: "boom", Collection: c.ToRecord()}

	var stdin, stdout bytes.Buffer
	require.NoError(t, gobEncode(&stdin, req))
	require.NoError(t, RunShard(context.Background(), reg, &stdin, &stdout))

	var res shardResult
	require.NoError(t, gobDecode(&stdout, &res))
	require.Equal(t, "kaboom", res.Err)
	require.Equal(t, sample.Failed, res.Collection.Samples[0].State)
	require.Equal(t, "kaboom", res.Collection.Samples[0].FailReason)
}

func TestRunShardRecoversPanic(t *testing.T) {
	reg := testSchemaReg(t)
	reg.RegisterRunner(modloader.Runner{
		Label:   "panics",
		Backend: "noop",
		Fn: noopRunnerFn(func(ctx context.Context, p modloader.Payload) (modloader.Payload, error) {
			panic("nope")
		}),
	})
	reg.Freeze()

	c := collectionFixture(t, reg, "run", "a")
	req := shardRequest{RunnerLabel: "panics", Collection: c.ToRecord()}

	var stdin, stdout bytes.Buffer
	require.NoError(t, gobEncode(&stdin, req))
	require.NoError(t, RunShard(context.Background(), reg, &stdin, &stdout))

	var res shardResult
	require.NoError(t, gobDecode(&stdout, &res))
	require.Contains(t, res.Err, "nope")
	require.Equal(t, sample.Failed, res.Collection.Samples[0].State)
}

func TestRunShardUnknownRunnerFailsShard(t *testing.T) {
	reg := testSchemaReg(t)
	reg.Freeze()

	c := collectionFixture(t, reg, "run", "a")
	req := shardRequest{RunnerLabel: "missing", Collection: c.ToRecord()}

	var stdin, stdout bytes.Buffer
	require.NoError(t, gobEncode(&stdin, req))
	require.NoError(t, RunShard(context.Background(), reg, &stdin, &stdout))

	var res shardResult
	require.NoError(t, gobDecode(&stdout, &res))
	require.Contains(t, res.Err, "missing")
	require.Equal(t, sample.Failed, res.Collection.Samples[0].State)
}

func TestRunShardCheckpointPersistsAcrossInvocations(t *testing.T) {
	workdir := t.TempDir()
	t.Chdir(workdir)
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "out.txt"), []byte("data"), 0o644))

	var checks []bool
	reg := testSchemaReg(t)
	reg.RegisterRunner(modloader.Runner{
		Label:   "checkpointed",
		Backend: "noop",
		Outputs: []output.Glob{{Src: "out.txt", Checkpoint: "main"}},
		Fn: func(
			ctx context.Context,
			p modloader.Payload,
			submit modloader.SubmitFunc,
			addOutput modloader.AddOutputFunc,
			checkpointCheck modloader.CheckpointCheckFunc,
			checkpointStore modloader.CheckpointStoreFunc,
			cleanerRegister modloader.CleanerRegisterFunc,
			cleanerUnregister modloader.CleanerUnregisterFunc,
		) (modloader.Payload, error) {
			checks = append(checks, checkpointCheck("main"))
			require.NoError(t, checkpointStore("main"))
			return p, nil
		},
	})
	reg.Freeze()

	c := collectionFixture(t, reg, "run", "a")
	req := shardRequest{RunnerLabel: "checkpointed", Collection: c.ToRecord(), ResultDir: t.TempDir()}

	for i := 0; i < 2; i++ {
		var stdin, stdout bytes.Buffer
		require.NoError(t, gobEncode(&stdin, req))
		require.NoError(t, RunShard(context.Background(), reg, &stdin, &stdout))
		var res shardResult
		require.NoError(t, gobDecode(&stdout, &res))
		require.Empty(t, res.Err)
	}

	require.Equal(t, []bool{false, true}, checks)
}

func TestRunShardAddOutputAttachesToSample(t *testing.T) {
	workdir := t.TempDir()
	t.Chdir(workdir)
	resultDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "ad_hoc.txt"), []byte("x"), 0o644))

	reg := testSchemaReg(t)
	reg.RegisterRunner(modloader.Runner{
		Label:   "adhoc",
		Backend: "noop",
		Fn: func(
			ctx context.Context,
			p modloader.Payload,
			submit modloader.SubmitFunc,
			addOutput modloader.AddOutputFunc,
			checkpointCheck modloader.CheckpointCheckFunc,
			checkpointStore modloader.CheckpointStoreFunc,
			cleanerRegister modloader.CleanerRegisterFunc,
			cleanerUnregister modloader.CleanerUnregisterFunc,
		) (modloader.Payload, error) {
			samples := p["samples"].([]any)
			id, _ := samples[0].(modloader.Payload)["id"].(string)
			require.NoError(t, addOutput(id, "ad_hoc.txt", ""))
			return p, nil
		},
	})
	reg.Freeze()

	c := collectionFixture(t, reg, "run", "a")
	req := shardRequest{RunnerLabel: "adhoc", Collection: c.ToRecord(), ResultDir: resultDir}

	var stdin, stdout bytes.Buffer
	require.NoError(t, gobEncode(&stdin, req))
	require.NoError(t, RunShard(context.Background(), reg, &stdin, &stdout))

	var res shardResult
	require.NoError(t, gobDecode(&stdout, &res))
	require.Empty(t, res.Err)
	require.Len(t, res.Collection.Samples[0].Outputs, 1)
	out := res.Collection.Samples[0].Outputs[0]
	require.Equal(t, "main", out.Checkpoint)
	require.Equal(t, filepath.Join(resultDir, "ad_hoc.txt"), out.Dst)
}

func TestRunShardCleanerIntentSurvivesToResult(t *testing.T) {
	workdir := t.TempDir()
	t.Chdir(workdir)
	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "scratch.txt")
	require.NoError(t, os.WriteFile(outsideFile, []byte("x"), 0o644))

	reg := testSchemaReg(t)
	reg.RegisterRunner(modloader.Runner{
		Label:   "cleans",
		Backend: "noop",
		Fn: func(
			ctx context.Context,
			p modloader.Payload,
			submit modloader.SubmitFunc,
			addOutput modloader.AddOutputFunc,
			checkpointCheck modloader.CheckpointCheckFunc,
			checkpointStore modloader.CheckpointStoreFunc,
			cleanerRegister modloader.CleanerRegisterFunc,
			cleanerUnregister modloader.CleanerUnregisterFunc,
		) (modloader.Payload, error) {
			cleanerRegister(outsideFile, true)
			cleanerUnregister(filepath.Join(workdir, "keep.txt"))
			return p, nil
		},
	})
	reg.Freeze()

	c := collectionFixture(t, reg, "run", "a")
	req := shardRequest{RunnerLabel: "cleans", Collection: c.ToRecord(), ResultDir: t.TempDir()}

	var stdin, stdout bytes.Buffer
	require.NoError(t, gobEncode(&stdin, req))
	require.NoError(t, RunShard(context.Background(), reg, &stdin, &stdout))

	var res shardResult
	require.NoError(t, gobDecode(&stdout, &res))
	require.Empty(t, res.Err)
	require.True(t, res.CleanerExtra[outsideFile])
	require.Contains(t, res.CleanerUnregistered, filepath.Join(workdir, "keep.txt"))
	require.FileExists(t, outsideFile, "the shard process must not flush its deferred cleaner itself")
}
