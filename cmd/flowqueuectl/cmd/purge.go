package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
)

// PurgeResponse reports what a purge removed.
type PurgeResponse struct {
	Queue             string `json:"queue"`
	SwapLocationCount int    `json:"swap_location_count_removed"`
}

// PurgeCommand deletes all persisted swap state for a queue
// (§4.1's "Administrative; blows away persisted state"). Destructive and
// irreversible, so it requires --yes.
func PurgeCommand() *cli.Command {
	return &cli.Command{
		Name:   "purge",
		Usage:  "Delete all persisted swap state for a queue (irreversible)",
		Flags:  append(CommonFlags(), YesFlag),
		Action: purgeAction,
	}
}

func purgeAction(c *cli.Context) error {
	if !c.Bool("yes") {
		return cli.Exit("refusing to purge without --yes", 1)
	}

	qc, err := loadQueueConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx := c.Context
	sm, err := buildSwapManager(ctx, qc)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	name := c.String("queue")
	locations, err := sm.RecoverSwapLocations(ctx, name)
	if err != nil {
		return cli.Exit(fmt.Sprintf("recover swap locations: %v", err), 1)
	}

	if err := sm.Purge(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("purge: %v", err), 1)
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(PurgeResponse{Queue: name, SwapLocationCount: len(locations)})
}
