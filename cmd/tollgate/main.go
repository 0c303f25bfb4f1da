// cmd/tollgate/main.go
//
// This is the entry point for the tollgate CLI.
//
// Subcommands:
//   run      execute pipelines for one event and print the report
//   expand   show the job instances an event would run
//   version  compute the next release version from git history
//   serve    accept trigger events over HTTP and run matching pipelines
//   init     create the .tollgate directory layout

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/kingrea/tollgate/internal/pipeline"
	"github.com/kingrea/tollgate/internal/report"
)

// exitError carries a process exit code up to main.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// ExitCode implements the interface main checks for.
func (e *exitError) ExitCode() int { return e.code }

// silentExit ends the process with code without printing anything; the
// command has already reported its outcome.
func silentExit(code int) error {
	return &exitError{code: code}
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		var exitErr *exitError
		if !errors.As(err, &exitErr) || exitErr.err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to 0 (pass), 1 (fail) or 2 (configuration).
func exitCodeFor(err error) int {
	if err == nil {
		return report.ExitPass
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	if pipeline.IsConfigurationError(err) {
		return report.ExitConfiguration
	}
	return report.ExitFail
}

type command struct {
	name    string
	summary string
	run     func(args []string, stdout, stderr io.Writer) error
}

func commands() []command {
	return []command{
		{"run", "execute pipelines for one event and print the report", runCommand},
		{"expand", "show the job instances an event would run", expandCommand},
		{"version", "compute the next release version from git history", versionCommand},
		{"serve", "accept trigger events over HTTP and run matching pipelines", serveCommand},
		{"init", "create the .tollgate directory layout", initCommand},
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stdout)
		return nil
	}
	for _, cmd := range commands() {
		if cmd.name == args[0] {
			return cmd.run(args[1:], stdout, stderr)
		}
	}
	printUsage(stderr)
	return &exitError{code: report.ExitConfiguration, err: fmt.Errorf("unknown command %q", args[0])}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: tollgate <command> [flags]")
	fmt.Fprintln(w)
	for _, cmd := range commands() {
		fmt.Fprintf(w, "  %-8s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'tollgate <command> --help' for command flags.")
}

// newFlagSet builds a subcommand flag set that reports parse errors as
// configuration errors.
func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("tollgate "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false
	return fs
}

func parseFlags(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, &exitError{code: report.ExitConfiguration, err: err}
	}
	return false, nil
}
