// Package cmd provides CLI commands for the flowqueuectl binary.
package cmd

import "github.com/urfave/cli/v2"

// Version is the canonical flowqueuectl version, reported by the version
// command.
const Version = "0.1.0"

// ConfigFlag names the flowqueue.yaml file commands read queue/swap
// settings from.
var ConfigFlag = &cli.StringFlag{
	Name:     "config",
	Aliases:  []string{"c"},
	Usage:    "Path to flowqueue.yaml",
	Required: true,
}

// QueueFlag selects which queue entry within the config file to operate
// on.
var QueueFlag = &cli.StringFlag{
	Name:     "queue",
	Aliases:  []string{"q"},
	Usage:    "Queue name within the config file",
	Required: true,
}

// CommonFlags returns the flags shared by every config-driven command.
func CommonFlags() []cli.Flag {
	return []cli.Flag{ConfigFlag, QueueFlag}
}

// YesFlag gates a destructive command behind an explicit opt-in instead
// of an interactive prompt, so scripted callers aren't left hanging.
var YesFlag = &cli.BoolFlag{
	Name:  "yes",
	Usage: "Confirm the destructive operation",
}
