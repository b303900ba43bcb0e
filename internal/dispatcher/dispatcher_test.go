package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/ctxlog"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/merge"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/modloader"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/sample"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

// fakeSpawner completes every shard in-process via a caller-supplied
// function, standing in for an actual child process so the fan-out/merge
// logic is tested without forking anything.
type fakeSpawner struct {
	mu    sync.Mutex
	calls []shardRequest
	run   func(req shardRequest) (shardResult, error)
}

func (f *fakeSpawner) spawn(ctx context.Context, workdir string, req shardRequest) (shardResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.run(req)
}

func newSchema(t *testing.T) *attrs.Schema {
	t.Helper()
	schema := attrs.NewSchema()
	schema.Register(attrs.Field{Scope: attrs.SampleScope, Name: "batch", Type: cty.String, Default: cty.NullVal(cty.String)})
	schema.Register(attrs.Field{Scope: attrs.CollectionScope, Name: "run_id", Type: cty.String, Default: cty.StringVal("")})
	return schema
}

func newDispatcherWithFake(t *testing.T, schema *attrs.Schema, merges *merge.Registry, run func(req shardRequest) (shardResult, error)) (*Dispatcher, *fakeSpawner) {
	t.Helper()
	fake := &fakeSpawner{run: run}
	d := &Dispatcher{rootWorkdir: t.TempDir(), parallelism: 4, schema: schema, merges: merges, spawner: fake}
	return d, fake
}

func withLogger(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, slog.New(slog.NewTextHandler(nopWriter{}, nil)))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func passthroughRun(req shardRequest) (shardResult, error) {
	return shardResult{Collection: req.Collection}, nil
}

func TestDispatchSingleShardNoSplit(t *testing.T) {
	schema := newSchema(t)
	c := sample.NewCollection("run", []*sample.Sample{
		sample.New("a", nil, schema),
		sample.New("b", nil, schema),
	}, schema)

	d, fake := newDispatcherWithFake(t, schema, merge.New(), passthroughRun)
	runner := modloader.Runner{Label: "noop"}

	out, _, err := d.Dispatch(withLogger(context.Background()), runner, c)
	require.NoError(t, err)
	require.Len(t, out.Samples, 2)
	require.Equal(t, "run", out.Tag)
	require.Len(t, fake.calls, 1)
}

func TestDispatchSplitByFansOutAndConcatenatesSamples(t *testing.T) {
	schema := newSchema(t)
	samples := make([]*sample.Sample, 0, 3)
	for _, spec := range []struct{ id, batch string }{{"a", "x"}, {"b", "y"}, {"c", "y"}} {
		s := sample.New(spec.id, nil, schema)
		require.NoError(t, s.Attrs.Set("batch", cty.StringVal(spec.batch)))
		samples = append(samples, s)
	}
	c := sample.NewCollection("run", samples, schema)

	d, fake := newDispatcherWithFake(t, schema, merge.New(), passthroughRun)
	runner := modloader.Runner{Label: "splitter", SplitBy: "batch"}

	out, _, err := d.Dispatch(withLogger(context.Background()), runner, c)
	require.NoError(t, err)
	require.Len(t, out.Samples, 3)
	require.Len(t, fake.calls, 2) // two buckets: x, y

	ids := map[string]bool{}
	for _, s := range out.Samples {
		ids[s.ID] = true
	}
	require.True(t, ids["a"] && ids["b"] && ids["c"])
}

func TestDispatchMergesCollectionAttrsAcrossShards(t *testing.T) {
	schema := newSchema(t)
	samples := []*sample.Sample{}
	for _, spec := range []struct{ id, batch string }{{"a", "x"}, {"b", "y"}} {
		s := sample.New(spec.id, nil, schema)
		require.NoError(t, s.Attrs.Set("batch", cty.StringVal(spec.batch)))
		samples = append(samples, s)
	}
	c := sample.NewCollection("run", samples, schema)

	runID := func(req shardRequest) (shardResult, error) {
		rec := req.Collection
		rec.Attrs = map[string]any{"run_id": rec.Tag}
		return shardResult{Collection: rec}, nil
	}
	d, _ := newDispatcherWithFake(t, schema, merge.New(), runID)
	runner := modloader.Runner{Label: "tagger", SplitBy: "batch"}

	out, _, err := d.Dispatch(withLogger(context.Background()), runner, c)
	require.NoError(t, err)
	// Default merge policy on disagreement is a tuple of (this, that).
	got := out.Attrs.Get("run_id")
	require.True(t, got.Type().IsTupleType())
}

func TestDispatchFailsShardSamplesOnSpawnError(t *testing.T) {
	schema := newSchema(t)
	c := sample.NewCollection("run", []*sample.Sample{sample.New("a", nil, schema)}, schema)

	d, _ := newDispatcherWithFake(t, schema, merge.New(), func(req shardRequest) (shardResult, error) {
		return shardResult{}, fmt.Errorf("worker exploded")
	})
	runner := modloader.Runner{Label: "boom"}

	out, _, err := d.Dispatch(withLogger(context.Background()), runner, c)
	require.NoError(t, err)
	require.Equal(t, sample.Failed, out.Samples[0].State())
	require.Equal(t, "worker exploded", out.Samples[0].FailReason())
}

func TestDispatchInterruptedContextReturnsErrInterrupted(t *testing.T) {
	schema := newSchema(t)
	c := sample.NewCollection("run", []*sample.Sample{sample.New("a", nil, schema)}, schema)

	block := make(chan struct{})
	d, _ := newDispatcherWithFake(t, schema, merge.New(), func(req shardRequest) (shardResult, error) {
		<-block
		return shardResult{Collection: req.Collection}, nil
	})
	runner := modloader.Runner{Label: "slow"}

	ctx, cancel := context.WithCancel(withLogger(context.Background()))
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
		time.Sleep(20 * time.Millisecond)
		close(block)
	}()

	_, _, err := d.Dispatch(ctx, runner, c)
	require.ErrorIs(t, err, ErrInterrupted)
}
