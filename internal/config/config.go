// Package config resolves zfsd's daemon configuration in the usual layered
// fashion: defaults, then an optional JSON file, then environment overrides
// applied by the caller.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Mode selects the transport role the daemon opens.
type Mode string

const (
	ModePeer   Mode = "peer"
	ModeClient Mode = "client"
)

// Sanitizer holds the download sanitizer's tuning parameters.
type Sanitizer struct {
	Period     time.Duration `json:"period"`
	GapBatch   uint          `json:"gap_batch"`
	StuckReset uint          `json:"stuck_reset"`
	MaxAccel   uint          `json:"max_accel"`
	FSEvtDelay time.Duration `json:"fs_evt_delay"`
}

// Config is the daemon's resolved configuration.
type Config struct {
	Home            string    `json:"home"`
	Mode            Mode      `json:"mode"`
	IPFSAPI         string    `json:"ipfs_api"`
	RemoteEndpoints []string  `json:"remote_endpoints"`
	FragmentSize    uint      `json:"fragment_size"`
	Sanitizer       Sanitizer `json:"sanitizer"`
}

// Default returns the daemon's default configuration.
func Default() Config {
	return Config{
		Mode:         ModePeer,
		IPFSAPI:      "localhost:5001",
		FragmentSize: 32768,
		Sanitizer: Sanitizer{
			Period:     3 * time.Second,
			GapBatch:   32,
			StuckReset: 3,
			MaxAccel:   33,
			FSEvtDelay: 1 * time.Second,
		},
	}
}

// Load starts from Default, applies the JSON file at path if non-empty, and
// returns the result. It does not apply environment overrides; callers
// combine Load with explicit flag/env resolution the way cmd/zfsd does, so
// precedence (env > file > default) is visible at the call site rather than
// hidden in this package.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the daemon cannot start with.
func (c Config) Validate() error {
	if c.Mode != ModePeer && c.Mode != ModeClient {
		return fmt.Errorf("invalid mode: %q", c.Mode)
	}
	if c.FragmentSize == 0 {
		return fmt.Errorf("fragment_size must be positive")
	}
	if c.Sanitizer.Period <= 0 {
		return fmt.Errorf("sanitizer.period must be positive")
	}
	if c.Sanitizer.StuckReset == 0 {
		return fmt.Errorf("sanitizer.stuck_reset must be positive")
	}
	return nil
}
