// Package ctl implements the ocrctl command line: model verification,
// endpoint testing, launching the inference server and config inspection.
package ctl

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Config carries persistent flags and output streams.
type Config struct {
	LogLevel   string
	ConfigPath string
	EnvFile    string
	Stdout     io.Writer
	Stderr     io.Writer
}

func defaultConfig() *Config {
	return &Config{
		LogLevel:   envStr("OCR_LOG_LEVEL", "info"),
		ConfigPath: envStr("OCR_CONFIG", ""),
		EnvFile:    envStr("OCR_ENV_FILE", ".env"),
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
}

// errChecksFailed means a report was already printed and the exit code
// should be 1 without another message.
var errChecksFailed = errors.New("checks failed")

// usageError marks bad invocations (exit 2).
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// MainWithArgs runs the command tree and returns the process exit code.
func MainWithArgs(args []string) int {
	return mainWith(args, defaultConfig())
}

func mainWith(args []string, cfg *Config) int {
	root := buildRootCmdWith(cfg)
	root.SetArgs(args)
	root.SetOut(cfg.Stdout)
	root.SetErr(cfg.Stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })
	if err := root.Execute(); err != nil {
		if errors.Is(err, errChecksFailed) {
			return 1
		}
		fmt.Fprintln(cfg.Stderr, "Error:", err.Error())
		var ue usageError
		if errors.As(err, &ue) {
			return 2
		}
		return 1
	}
	return 0
}

// Main returns an exit code for use by cmd/ocrctl.
func Main() int { return MainWithArgs(os.Args[1:]) }
