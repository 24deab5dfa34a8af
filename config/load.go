package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, env-expands, and parses a flowqueue.yaml file at path.
// Unknown fields are rejected so a typo in the YAML fails loudly rather
// than silently applying defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := ExpandEnv(string(raw))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	for name, qc := range cfg.Queues {
		if err := qc.Swap.Validate(); err != nil {
			return nil, fmt.Errorf("config: queue %q: %w", name, err)
		}
	}

	return &cfg, nil
}

// Validate checks that exactly one backend's settings are usable for the
// selected Backend value.
func (s SwapConfig) Validate() error {
	switch s.Backend {
	case "filestore":
		if s.Filestore.BaseDir == "" {
			return fmt.Errorf("swap.filestore.base_dir is required when backend is %q", s.Backend)
		}
	case "redis":
		if s.Redis.URL == "" {
			return fmt.Errorf("swap.redis.url is required when backend is %q", s.Backend)
		}
	case "s3":
		if s.S3.Bucket == "" {
			return fmt.Errorf("swap.s3.bucket is required when backend is %q", s.Backend)
		}
	default:
		return fmt.Errorf("unknown swap backend %q (want filestore, redis, or s3)", s.Backend)
	}
	return nil
}
