package sched

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	yaml "github.com/goccy/go-yaml"
)

// DefaultQuantum is used when no positive quantum is configured.
const DefaultQuantum = 10 * time.Millisecond

// Config mirrors config.yml
type Config struct {
	Policy        string `yaml:"policy"`         // fair (by default); "" or none disables scheduling
	QuantumMS     int    `yaml:"quantum_ms"`     // 10 (by default)
	EventBuffer   int    `yaml:"event_buffer"`   // 256 (by default)
	CommandBuffer int    `yaml:"command_buffer"` // 64 (by default)
}

// DefaultConfig is used when the config file is not found.
func DefaultConfig() Config {
	return Config{
		Policy:        "fair",
		QuantumMS:     int(DefaultQuantum / time.Millisecond),
		EventBuffer:   256,
		CommandBuffer: 64,
	}
}

// Load reads YAML and overrides defaults; empty path or a missing file means
// defaults only.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg = cfg.sanitize()
	if cfg.Enabled() {
		if _, err := ParsePolicy(cfg.Policy); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// sanity clamps
func (c Config) sanitize() Config {
	def := DefaultConfig()
	if c.QuantumMS <= 0 {
		c.QuantumMS = def.QuantumMS
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = def.CommandBuffer
	}
	return c
}

// Enabled reports whether a policy was configured.
func (c Config) Enabled() bool {
	p := strings.ToLower(strings.TrimSpace(c.Policy))
	return p != "" && p != "none" && p != "off"
}

// SchedPolicy parses the configured policy.
func (c Config) SchedPolicy() (Policy, error) {
	return ParsePolicy(c.Policy)
}

// Quantum returns the configured quantum, or DefaultQuantum if unset.
func (c Config) Quantum() time.Duration {
	if c.QuantumMS <= 0 {
		return DefaultQuantum
	}
	return time.Duration(c.QuantumMS) * time.Millisecond
}
