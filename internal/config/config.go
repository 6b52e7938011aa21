// Package config holds the daemon settings: defaults, an optional TOML file
// and ALLNET_* environment overrides, applied in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	// Root holds the contact book, keys and the metrics snapshot.
	Root string `toml:"root"`

	RefreshInterval Duration `toml:"refresh_interval"`
	SocialBytes     int      `toml:"social_bytes"`
	MaxChecks       int      `toml:"max_checks"`

	DedupWindow   Duration `toml:"dedup_window"`
	DedupCapacity int      `toml:"dedup_capacity"`
	TraceWindow   Duration `toml:"trace_window"`

	RateBytesPerSec float64 `toml:"rate_bytes_per_sec"`
	RateBurst       int     `toml:"rate_burst"`
	RateSources     int     `toml:"rate_sources"`

	QueueCap         int      `toml:"queue_cap"`
	SnapshotInterval Duration `toml:"snapshot_interval"`
	Debug            bool     `toml:"debug"`
}

// Duration is a time.Duration that reads "30s" style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() Config {
	return Config{
		Root:             defaultRoot(),
		RefreshInterval:  Duration{30 * time.Second},
		SocialBytes:      30000,
		MaxChecks:        5,
		DedupWindow:      Duration{60 * time.Second},
		DedupCapacity:    4096,
		TraceWindow:      Duration{10 * time.Second},
		RateBytesPerSec:  16 << 10,
		RateBurst:        64 << 10,
		RateSources:      1024,
		QueueCap:         256,
		SnapshotInterval: Duration{time.Second},
	}
}

func defaultRoot() string {
	if v := strings.TrimSpace(os.Getenv("ALLNET_HOME")); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".allnet"
	}
	return filepath.Join(home, ".allnet")
}

func (c Config) ContactsPath() string {
	return filepath.Join(c.Root, "contacts.jsonl")
}

func (c Config) MetricsPath() string {
	return filepath.Join(c.Root, "metrics.json")
}

func (c Config) KeysDir() string {
	return filepath.Join(c.Root, "keys")
}

// Load returns the defaults overlaid with the TOML file at path (if path is
// not empty) and then with the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from ALLNET_* variables. Unparseable values are
// ignored.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("ALLNET_HOME")); v != "" {
		c.Root = v
	}
	if v, ok := envDuration("ALLNET_REFRESH_INTERVAL"); ok {
		c.RefreshInterval.Duration = v
	}
	if v, ok := envInt("ALLNET_SOCIAL_BYTES"); ok {
		c.SocialBytes = v
	}
	if v, ok := envInt("ALLNET_MAX_CHECKS"); ok {
		c.MaxChecks = v
	}
	if v, ok := envDuration("ALLNET_DEDUP_WINDOW"); ok {
		c.DedupWindow.Duration = v
	}
	if v, ok := envInt("ALLNET_DEDUP_CAPACITY"); ok {
		c.DedupCapacity = v
	}
	if v, ok := envDuration("ALLNET_TRACE_WINDOW"); ok {
		c.TraceWindow.Duration = v
	}
	if v, ok := envInt("ALLNET_QUEUE_CAP"); ok {
		c.QueueCap = v
	}
	if os.Getenv("ALLNET_DEBUG") == "1" {
		c.Debug = true
	}
}

func (c Config) Validate() error {
	switch {
	case c.Root == "":
		return fmt.Errorf("missing root")
	case c.RefreshInterval.Duration <= 0:
		return fmt.Errorf("refresh_interval must be positive")
	case c.SocialBytes <= 0:
		return fmt.Errorf("social_bytes must be positive")
	case c.MaxChecks <= 0:
		return fmt.Errorf("max_checks must be positive")
	case c.DedupWindow.Duration <= 0:
		return fmt.Errorf("dedup_window must be positive")
	case c.DedupCapacity <= 0:
		return fmt.Errorf("dedup_capacity must be positive")
	case c.TraceWindow.Duration <= 0:
		return fmt.Errorf("trace_window must be positive")
	case c.QueueCap <= 0:
		return fmt.Errorf("queue_cap must be positive")
	}
	return nil
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}
