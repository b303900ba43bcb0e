package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSettings(t *testing.T, samplesBody string) Settings {
	t.Helper()
	root := t.TempDir()
	modulesDir := filepath.Join(root, "modules")
	require.NoError(t, os.MkdirAll(modulesDir, 0o755))

	samplesPath := filepath.Join(root, "samples.yaml")
	require.NoError(t, os.WriteFile(samplesPath, []byte(samplesBody), 0o644))

	return Settings{
		ModulesPath: modulesDir,
		SamplesFile: samplesPath,
		Workdir:     filepath.Join(root, "work"),
		ResultDir:   filepath.Join(root, "results"),
		Tag:         "run",
		LogLevel:    "error",
		LogFormat:   "text",
		Workers:     2,
	}
}

func TestNewBuildsEmptyRegistryFromEmptyModuleDir(t *testing.T) {
	settings := testSettings(t, "[]")
	a, err := New(context.Background(), &bytes.Buffer{}, settings)
	require.NoError(t, err)
	require.Empty(t, a.Registry().Hooks(0))
	require.Empty(t, a.Registry().Runners())
}

func TestNewFailsOnMissingModuleDirectory(t *testing.T) {
	settings := testSettings(t, "[]")
	settings.ModulesPath = filepath.Join(t.TempDir(), "does-not-exist")
	_, err := New(context.Background(), &bytes.Buffer{}, settings)
	require.Error(t, err)
}

func TestRunWithNoSamplesIsANoop(t *testing.T) {
	settings := testSettings(t, "[]")
	a, err := New(context.Background(), &bytes.Buffer{}, settings)
	require.NoError(t, err)
	require.NoError(t, a.Run(context.Background()))
}

func TestRunWithNoRunnersFailsEverySample(t *testing.T) {
	settings := testSettings(t, "- id: sample-1\n- id: sample-2\n")
	settings.LogLevel = "info"
	var logBuf bytes.Buffer
	a, err := New(context.Background(), &logBuf, settings)
	require.NoError(t, err)
	require.NoError(t, a.Run(context.Background()))
	require.Contains(t, logBuf.String(), "sample-1 failed - Sample was not processed")
	require.Contains(t, logBuf.String(), "sample-2 failed - Sample was not processed")
}
