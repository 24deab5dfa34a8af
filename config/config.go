// Package config handles YAML configuration file loading for
// flowqueuectl and any host process that wires up queues from a file
// instead of constructing queue.Config literals directly.
package config

import (
	"fmt"
	"time"
)

// Config represents a flowqueue.yaml configuration file: one entry per
// queue this process manages, plus the swap backend each queue uses.
type Config struct {
	Queues map[string]QueueConfig `yaml:"queues"`
}

// QueueConfig mirrors queue.Config's fields in YAML-friendly form.
type QueueConfig struct {
	MaxObjectCount uint64     `yaml:"max_object_count"`
	MaxByteCount   ByteSize   `yaml:"max_byte_count"`
	Expiration     Duration   `yaml:"expiration"`
	SwapThreshold  int        `yaml:"swap_threshold"`
	Swap           SwapConfig `yaml:"swap"`
}

// SwapConfig selects and configures one of the three swap backends
// (filestore, redisstore, s3store). Exactly one of the nested structs is
// consulted, per Backend.
type SwapConfig struct {
	Backend   string          `yaml:"backend"`
	Filestore FilestoreConfig `yaml:"filestore"`
	Redis     RedisConfig     `yaml:"redis"`
	S3        S3Config        `yaml:"s3"`
}

type FilestoreConfig struct {
	BaseDir string `yaml:"base_dir"`
}

type RedisConfig struct {
	URL       string   `yaml:"url"`
	KeyPrefix string   `yaml:"key_prefix"`
	Timeout   Duration `yaml:"timeout"`
}

type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ByteSize wraps a byte count for YAML values like "512 MB" or a bare
// integer, the config-layer counterpart of Duration.
type ByteSize struct {
	Bytes uint64
}

var byteSizeUnits = map[string]uint64{
	"":   1,
	"b":  1,
	"kb": 1 << 10,
	"mb": 1 << 20,
	"gb": 1 << 30,
	"tb": 1 << 40,
}

// UnmarshalYAML parses either a bare integer (bytes) or a "<number>
// <unit>" string such as "512 MB".
func (b *ByteSize) UnmarshalYAML(unmarshal func(any) error) error {
	var n uint64
	if err := unmarshal(&n); err == nil {
		b.Bytes = n
		return nil
	}

	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("byte_size must be an integer or a \"<number> <unit>\" string: %w", err)
	}
	parsed, err := parseByteSize(s)
	if err != nil {
		return err
	}
	b.Bytes = parsed
	return nil
}

func parseByteSize(s string) (uint64, error) {
	var numPart, unitPart string
	i := 0
	for i < len(s) && (s[i] == ' ') {
		i++
	}
	start := i
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	numPart = s[start:i]
	for i < len(s) && s[i] == ' ' {
		i++
	}
	unitPart = s[i:]

	if numPart == "" {
		return 0, fmt.Errorf("invalid byte size %q: missing number", s)
	}

	var whole uint64
	var frac float64
	if _, err := fmt.Sscanf(numPart, "%f", &frac); err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	whole = uint64(frac)

	mult, ok := byteSizeUnits[normalizeUnit(unitPart)]
	if !ok {
		return 0, fmt.Errorf("invalid byte size %q: unknown unit %q", s, unitPart)
	}

	if frac != float64(whole) {
		return uint64(frac * float64(mult)), nil
	}
	return whole * mult, nil
}

func normalizeUnit(u string) string {
	out := make([]byte, 0, len(u))
	for i := 0; i < len(u); i++ {
		c := u[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
