// Package config loads the device-local tunables that sit outside the
// Braid's own cryptographic state: cover-traffic rate, fragment size,
// session-store timeouts, and relay addressing. Grounded on kamune's
// relay/internal/config/config.go: a TOML file unmarshaled straight into a
// tagged struct via BurntSushi/toml.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full set of runtime tunables for one device.
type Config struct {
	Transport Transport `toml:"transport"`
	Cover     Cover     `toml:"cover"`
	Session   Session   `toml:"session"`
	Logging   Logging   `toml:"logging"`
}

// Transport configures the fixed-size onion transport.
type Transport struct {
	RelayAddress  string `toml:"relay_address"`
	FragmentSize  int    `toml:"fragment_size"`
	MaxHops       int    `toml:"max_hops"`
}

// Cover configures the Poisson cover-traffic scheduler.
type Cover struct {
	Rate          string        `toml:"rate"` // "low" | "medium" | "max"
	ComposingGrace time.Duration `toml:"composing_grace"`
	QueueCapacity int           `toml:"queue_capacity"`
}

// Session configures the session store's resource limits and wipe policy.
type Session struct {
	SkippedKeyCapacity int           `toml:"skipped_key_capacity"`
	SkippedKeyTTL      time.Duration `toml:"skipped_key_ttl"`
	ReassemblyTimeout  time.Duration `toml:"reassembly_timeout"`
	DeadManTimeout     time.Duration `toml:"dead_man_timeout"`
	InviteTTL          time.Duration `toml:"invite_ttl"`
}

// Logging configures the structured logger every package writes through.
type Logging struct {
	Level slog.Level `toml:"level"`
}

// Defaults returns the configuration spec.md's design notes name as the
// system's defaults (skipped-key cap 1024, reassembly 60s, invite TTL,
// etc.), for callers that don't ship a TOML file (tests, demos).
func Defaults() Config {
	return Config{
		Transport: Transport{
			RelayAddress: "127.0.0.1:9443",
			FragmentSize: 512,
			MaxHops:      8,
		},
		Cover: Cover{
			Rate:           "medium",
			ComposingGrace: 2 * time.Second,
			QueueCapacity:  64,
		},
		Session: Session{
			SkippedKeyCapacity: 1024,
			SkippedKeyTTL:      7 * 24 * time.Hour,
			ReassemblyTimeout:  60 * time.Second,
			DeadManTimeout:     0,
			InviteTTL:          24 * time.Hour,
		},
		Logging: Logging{Level: slog.LevelInfo},
	}
}

// Load reads and parses a TOML configuration file, starting from Defaults
// so a partial file only overrides what it names.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
