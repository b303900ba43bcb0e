package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string { return e.Message }

// Parse processes command-line arguments into app.Settings. It returns a
// populated Settings, a boolean indicating the program should exit
// cleanly (help was requested, or no samples file was given and usage
// was printed), or an *ExitError carrying exit code 2
// for any validation failure.
func Parse(args []string, out io.Writer) (app.Settings, bool, error) {
	flagSet := flag.NewFlagSet("cellophane", flag.ContinueOnError)
	flagSet.SetOutput(out)

	flagSet.Usage = func() {
		fmt.Fprint(out, `
Cellophane - a framework for building bioinformatics pipeline wrappers.

Usage:
  cellophane [options] [SAMPLES_FILE]

Arguments:
  SAMPLES_FILE
    Path to the samples manifest YAML file.

Options:
`)
		flagSet.PrintDefaults()
	}

	modulesFlag := flagSet.String("modules", "modules", "Path to the directory containing module definitions.")
	samplesFlag := flagSet.String("samples", "", "Path to the samples manifest YAML file.")
	configFlag := flagSet.String("config", "", "Path to the base settings file (HCL). Optional.")
	workdirFlag := flagSet.String("workdir", "work", "Root workdir for runner scratch space.")
	resultdirFlag := flagSet.String("resultdir", "results", "Directory declared outputs are copied to.")
	tagFlag := flagSet.String("tag", "", "Run tag, used to namespace the workdir. Defaults to \"run\".")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 4, "Number of concurrent shard worker processes.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return app.Settings{}, true, nil
		}
		return app.Settings{}, false, &ExitError{Code: 2, Message: err.Error()}
	}

	samples := *samplesFlag
	if samples == "" && flagSet.NArg() > 0 {
		samples = flagSet.Arg(0)
	}
	if samples == "" {
		flagSet.Usage()
		return app.Settings{}, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return app.Settings{}, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return app.Settings{}, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	if *workersFlag < 1 {
		return app.Settings{}, false, &ExitError{Code: 2, Message: "workers must be at least 1"}
	}

	return app.Settings{
		ModulesPath: *modulesFlag,
		SamplesFile: samples,
		ConfigFile:  *configFlag,
		Workdir:     *workdirFlag,
		ResultDir:   *resultdirFlag,
		Tag:         *tagFlag,
		LogLevel:    logLevel,
		LogFormat:   logFormat,
		Workers:     *workersFlag,
	}, false, nil
}
