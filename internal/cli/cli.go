// Package cli parses command-line arguments into the override set the app
// applies on top of the configuration chain.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Options carries the parsed command line. Pointer fields are only set
// when the corresponding flag was given, so the app can tell "flag left at
// default" apart from "flag explicitly set".
type Options struct {
	ConfigPath  string
	ScriptsPath string
	FPS         *uint
	Frames      *uint64
	Workers     *int
	LogFormat   *string
	LogLevel    *string
}

// Parse processes command-line arguments. It returns the parsed Options, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*Options, bool, error) {
	flagSet := flag.NewFlagSet("framegridgo", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
FrameGridGo - a dependency-aware parallel scheduler for Lua game modules.

Usage:
  framegridgo [options] [SCRIPTS_PATH]

Arguments:
  SCRIPTS_PATH
    Path to a directory containing .lua module scripts.

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to an engine .hcl config file.")
	scriptsFlag := flagSet.String("scripts", "", "Path to the scripts directory.")
	sFlag := flagSet.String("s", "", "Path to the scripts directory (shorthand).")
	fpsFlag := flagSet.Uint("fps", 60, "Target frame rate.")
	framesFlag := flagSet.Uint64("frames", 0, "Stop after this many frames. 0 runs until interrupted.")
	workersFlag := flagSet.Int("workers", 4, "Number of concurrent workers for script tasks.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	path := ""
	if *scriptsFlag != "" {
		path = *scriptsFlag
	} else if *sFlag != "" {
		path = *sFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}

	opts := &Options{
		ConfigPath:  *configFlag,
		ScriptsPath: path,
	}

	// Only explicitly given flags become overrides; the config chain keeps
	// authority over everything else.
	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "fps":
			opts.FPS = fpsFlag
		case "frames":
			opts.Frames = framesFlag
		case "workers":
			opts.Workers = workersFlag
		case "log-format":
			v := strings.ToLower(*logFormatFlag)
			opts.LogFormat = &v
		case "log-level":
			v := strings.ToLower(*logLevelFlag)
			opts.LogLevel = &v
		}
	})

	if opts.LogFormat != nil && *opts.LogFormat != "text" && *opts.LogFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	if opts.LogLevel != nil {
		switch *opts.LogLevel {
		case "debug", "info", "warn", "error":
		default:
			return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
		}
	}

	if opts.ScriptsPath == "" && opts.ConfigPath == "" {
		flagSet.Usage()
		return nil, true, nil
	}

	return opts, false, nil
}
