// Package main provides the flowqueuectl CLI entrypoint.
//
// flowqueuectl is an operational tool for a flowqueue deployment: it
// inspects, recovers, and (on explicit confirmation) purges persisted
// swap state against the swap backend named in a flowqueue.yaml config
// file. It never constructs or mutates an in-process Queue — that's the
// host application's job; flowqueuectl only talks to the swap backend
// directly.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/flowcore/flowqueue/cmd/flowqueuectl/cmd"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "flowqueuectl",
		Usage:          "flowqueue operational CLI",
		Version:        fmt.Sprintf("%s (commit: %s)", cmd.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.InspectCommand(),
			cmd.RecoverCommand(),
			cmd.PurgeCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes set via cli.Exit() while still
// printing unexpected errors that weren't wrapped that way.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
