package cmd

import (
	"encoding/json"

	"github.com/urfave/cli/v2"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// VersionCommand reports flowqueuectl's version. It never contacts a
// swap backend or config file.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(VersionResponse{Version: Version, Commit: commit})
		},
	}
}
