package output

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/ctxlog"
)

func testCtx() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestResolveSimpleGlob(t *testing.T) {
	workdir := t.TempDir()
	resultdir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "single.txt"), []byte("x"), 0o644))

	r := NewResolver(workdir, resultdir, time.Now())
	out := r.Resolve(testCtx(), Glob{Src: "single.txt"}, nil)
	require.Len(t, out, 1)
	assert.Equal(t, filepath.Join(resultdir, "single.txt"), out[0].Dst)
}

func TestResolveNoMatchLogsWarningNotError(t *testing.T) {
	workdir := t.TempDir()
	resultdir := t.TempDir()
	r := NewResolver(workdir, resultdir, time.Now())
	out := r.Resolve(testCtx(), Glob{Src: "missing.txt"}, nil)
	assert.Empty(t, out)
}

func TestResolveDestNameIgnoredOnMultiMatch(t *testing.T) {
	workdir := t.TempDir()
	resultdir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workdir, "glob"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "glob", "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "glob", "b.txt"), []byte("b"), 0o644))

	r := NewResolver(workdir, resultdir, time.Now())
	out := r.Resolve(testCtx(), Glob{Src: "glob/*.txt", DestName: "invalid_rename.txt"}, nil)
	require.Len(t, out, 2)
	names := []string{filepath.Base(out[0].Dst), filepath.Base(out[1].Dst)}
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)
}

func TestResolveDuplicateDestinationRejectsSecond(t *testing.T) {
	workdir := t.TempDir()
	resultdir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "one.txt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "two.txt"), []byte("2"), 0o644))

	r := NewResolver(workdir, resultdir, time.Now())
	first := r.Resolve(testCtx(), Glob{Src: "one.txt", DestName: "overwrite.txt"}, nil)
	second := r.Resolve(testCtx(), Glob{Src: "two.txt", DestName: "overwrite.txt"}, nil)
	assert.Len(t, first, 1)
	assert.Empty(t, second)
}

func TestResolveDestinationOutsideResultDirRejected(t *testing.T) {
	workdir := t.TempDir()
	resultdir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "a.txt"), []byte("a"), 0o644))

	r := NewResolver(workdir, resultdir, time.Now())
	out := r.Resolve(testCtx(), Glob{Src: "a.txt", DestDir: "../outside"}, nil)
	assert.Empty(t, out)
}

func TestCopyAllCopiesFilesAndReportsCount(t *testing.T) {
	workdir := t.TempDir()
	resultdir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "a.txt"), []byte("hi"), 0o644))

	r := NewResolver(workdir, resultdir, time.Now())
	resolved := r.Resolve(testCtx(), Glob{Src: "a.txt"}, nil)
	require.Len(t, resolved, 1)

	n := CopyAll(testCtx(), resolved)
	assert.Equal(t, 1, n)
	data, err := os.ReadFile(filepath.Join(resultdir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestPlaceholderExpandsSampleID(t *testing.T) {
	workdir := t.TempDir()
	resultdir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "sample_a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "sample_b.txt"), []byte("b"), 0o644))

	r := NewResolver(workdir, resultdir, time.Now())
	out := r.Resolve(testCtx(), Glob{Src: "sample_{sample.id}.txt"}, []Placeholder{{SampleID: "a"}, {SampleID: "b"}})
	require.Len(t, out, 2)
}
