package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/cleaner"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/config"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/ctxlog"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/dispatcher"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/executor"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/executor/socketioexec"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/modloader"
)

// Settings holds everything the CLI layer gathers before an App can run:
// the validated configuration plus the handful of values the driver needs
// before config is even loaded (paths, worker count).
type Settings struct {
	ModulesPath string
	SamplesFile string
	ConfigFile  string
	Workdir     string
	ResultDir   string
	Tag         string
	LogLevel    string
	LogFormat   string
	Workers     int
}

// App is a single run of the framework: a frozen module registry, the
// validated configuration it was built from, and the logger every
// downstream component pulls from the run's context.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *modloader.Registry
	config   *config.Config
	settings Settings
}

// New builds the App for one run: it configures logging, loads the base
// settings file (if any) layered under the CLI-provided overrides, walks
// the module directory, registers the built-in executor backends, and
// freezes the resulting registry. A failure here is always a fatal
// framework error — the caller should exit 1.
func New(ctx context.Context, outW io.Writer, settings Settings) (*App, error) {
	logger := newLogger(settings.LogLevel, settings.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)

	base, err := config.Load(settings.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("app: loading config: %w", err)
	}
	overrideMap := map[string]any{}
	for key, val := range map[string]string{
		"workdir":      settings.Workdir,
		"resultdir":    settings.ResultDir,
		"tag":          settings.Tag,
		"samples_file": settings.SamplesFile,
	} {
		if val != "" {
			overrideMap[key] = val
		}
	}
	overrides, err := config.FromMap(overrideMap)
	if err != nil {
		return nil, fmt.Errorf("app: building CLI overrides: %w", err)
	}
	cfg := base.Merge(overrides)

	reg := modloader.New()
	if err := modloader.Load(ctx, settings.ModulesPath, reg); err != nil {
		return nil, fatal("app: importing modules: %w", err)
	}

	reg.RegisterExecutorBackend("subprocess", executor.NewSubprocessBackend())
	reg.RegisterExecutorBackend("socketio", socketioexec.New())
	reg.Freeze()

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		config:   cfg,
		settings: settings,
	}, nil
}

// Registry returns the run's frozen module registry. Exposed mainly for
// tests that want to assert on what got imported.
func (a *App) Registry() *modloader.Registry { return a.registry }

// newLogger builds a root logger writing to outW at the requested level
// and format, matching the teacher's own text-vs-JSON handler selection.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, opts)
	} else {
		handler = slog.NewTextHandler(outW, opts)
	}
	return slog.New(handler)
}

// newCleaner returns the Eager cleaner rooted at this run's tag workdir,
// the scope the driver flushes once every runner and hook has finished.
func (a *App) newCleaner() *cleaner.Cleaner {
	return cleaner.New(a.tagWorkdir(), cleaner.Eager)
}

func (a *App) tagWorkdir() string {
	return filepath.Join(a.config.GetString(a.settings.Workdir, "workdir"), a.tag())
}

func (a *App) tag() string {
	def := a.settings.Tag
	if def == "" {
		def = "run"
	}
	return a.config.GetString(def, "tag")
}

func (a *App) resultDir() string {
	return a.config.GetString(a.settings.ResultDir, "resultdir")
}

func (a *App) samplesFile() string {
	return a.config.GetString(a.settings.SamplesFile, "samples_file")
}

func (a *App) newDispatcher(timestamp time.Time) (*dispatcher.Dispatcher, error) {
	workers := a.settings.Workers
	if workers < 1 {
		workers = 1
	}
	return dispatcher.New(
		a.settings.ModulesPath,
		a.tagWorkdir(),
		a.resultDir(),
		timestamp,
		workers,
		a.registry.Schema(),
		a.registry.Merges(),
	)
}
