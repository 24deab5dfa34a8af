package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
)

// RecoverResponse reports the max record id observed across a queue's
// persisted swap locations, the value a host process seeds its id
// generator with on restart (§4.2's "GetMaxRecordID ... used by the
// host to seed an id generator after restart").
type RecoverResponse struct {
	Queue            string `json:"queue"`
	SwapLocationCount int   `json:"swap_location_count"`
	MaxRecordID      uint64 `json:"max_record_id"`
	Found            bool   `json:"found"`
}

// RecoverCommand computes the max record id across every persisted swap
// location for a queue, without loading or mutating any of them.
func RecoverCommand() *cli.Command {
	return &cli.Command{
		Name:   "recover",
		Usage:  "Report the max record id across a queue's persisted swap locations",
		Flags:  CommonFlags(),
		Action: recoverAction,
	}
}

func recoverAction(c *cli.Context) error {
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

	resp := RecoverResponse{Queue: name, SwapLocationCount: len(locations)}
	for _, loc := range locations {
		id, ok, err := sm.GetMaxRecordID(ctx, loc)
		if err != nil {
			return cli.Exit(fmt.Sprintf("get max record id for %s: %v", loc, err), 1)
		}
		if ok && (!resp.Found || id > resp.MaxRecordID) {
			resp.MaxRecordID = id
			resp.Found = true
		}
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
