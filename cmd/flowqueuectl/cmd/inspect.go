package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
)

// InspectResponse summarizes a queue's persisted swap state, as seen
// directly through its swap backend (no in-process Queue is involved).
type InspectResponse struct {
	Queue             string   `json:"queue"`
	Backend           string   `json:"backend"`
	SwapLocationCount int      `json:"swap_location_count"`
	SwapRecordCount   int64    `json:"swap_record_count"`
	SwapByteCount     int64    `json:"swap_byte_count"`
	Locations         []string `json:"locations"`
}

// InspectCommand reports the persisted swap state for a queue named in
// a flowqueue.yaml config file.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:   "inspect",
		Usage:  "Inspect a queue's persisted swap state",
		Flags:  CommonFlags(),
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
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

	resp := InspectResponse{
		Queue:   name,
		Backend: qc.Swap.Backend,
	}
	for _, loc := range locations {
		count, bytes, err := sm.GetSwapSize(ctx, loc)
		if err != nil {
			return cli.Exit(fmt.Sprintf("get swap size for %s: %v", loc, err), 1)
		}
		resp.Locations = append(resp.Locations, string(loc))
		resp.SwapRecordCount += count
		resp.SwapByteCount += bytes
	}
	resp.SwapLocationCount = len(locations)

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
