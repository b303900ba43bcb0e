package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubprocessSubmitWaitSucceeds(t *testing.T) {
	root := t.TempDir()
	ex := New(NewSubprocessBackend(), root)

	job, err := ex.Submit(context.Background(), Spec{Name: "ok", Args: []string{"/bin/true"}}, true)
	require.NoError(t, err)
	st, code := job.Status()
	assert.Equal(t, Succeeded, st)
	assert.Equal(t, 0, code)
}

func TestSubprocessSubmitWaitFails(t *testing.T) {
	root := t.TempDir()
	ex := New(NewSubprocessBackend(), root)

	job, err := ex.Submit(context.Background(), Spec{Name: "bad", Args: []string{"/bin/false"}}, true)
	assert.Error(t, err)
	st, code := job.Status()
	assert.Equal(t, Failed, st)
	assert.NotEqual(t, 0, code)
}

func TestSubprocessJobWorkdirUnderRoot(t *testing.T) {
	root := t.TempDir()
	ex := New(NewSubprocessBackend(), root)

	job, err := ex.Submit(context.Background(), Spec{Name: "pwd", Args: []string{"/bin/true"}}, true)
	require.NoError(t, err)
	assert.Equal(t, root, filepath.Dir(job.Workdir))

	entries, err := os.ReadDir(job.Workdir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestExecutorWaitAllWaitsForEveryJob(t *testing.T) {
	root := t.TempDir()
	ex := New(NewSubprocessBackend(), root)
	ctx := context.Background()

	j1, err := ex.Submit(ctx, Spec{Name: "a", Args: []string{"/bin/true"}}, false)
	require.NoError(t, err)
	j2, err := ex.Submit(ctx, Spec{Name: "b", Args: []string{"/bin/true"}}, false)
	require.NoError(t, err)

	ex.WaitAll(ctx)

	st1, _ := j1.Status()
	st2, _ := j2.Status()
	assert.Equal(t, Succeeded, st1)
	assert.Equal(t, Succeeded, st2)
}
