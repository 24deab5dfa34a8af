package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/flowcore/flowqueue/config"
	"github.com/flowcore/flowqueue/queue"
	"github.com/flowcore/flowqueue/swapio/filestore"
	"github.com/flowcore/flowqueue/swapio/redisstore"
	"github.com/flowcore/flowqueue/swapio/s3store"
)

// loadQueueConfig reads --config and returns the named --queue entry.
func loadQueueConfig(c *cli.Context) (config.QueueConfig, error) {
	path := c.String("config")
	name := c.String("queue")

	cfg, err := config.Load(path)
	if err != nil {
		return config.QueueConfig{}, err
	}
	qc, ok := cfg.Queues[name]
	if !ok {
		return config.QueueConfig{}, fmt.Errorf("no queue named %q in %s", name, path)
	}
	return qc, nil
}

// buildSwapManager constructs the queue.SwapManager named by qc.Swap.Backend.
func buildSwapManager(ctx context.Context, qc config.QueueConfig) (queue.SwapManager, error) {
	switch qc.Swap.Backend {
	case "filestore":
		return filestore.New(qc.Swap.Filestore.BaseDir)
	case "redis":
		return redisstore.New(redisstore.Config{
			URL:       qc.Swap.Redis.URL,
			KeyPrefix: qc.Swap.Redis.KeyPrefix,
			Timeout:   qc.Swap.Redis.Timeout.Duration,
		})
	case "s3":
		return s3store.New(ctx, s3store.Config{
			Bucket:       qc.Swap.S3.Bucket,
			Prefix:       qc.Swap.S3.Prefix,
			Region:       qc.Swap.S3.Region,
			Endpoint:     qc.Swap.S3.Endpoint,
			UsePathStyle: qc.Swap.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown swap backend %q", qc.Swap.Backend)
	}
}
