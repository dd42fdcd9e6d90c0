// Package config loads crosslearn.yaml, applies CROSSLEARN_* environment
// overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up when no path is given.
const DefaultFile = "crosslearn.yaml"

// Agent kinds.
const (
	KindLocal  = "local"
	KindRemote = "remote"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AdminSecret     string        `yaml:"admin_secret"`
	HeartbeatRate   int           `yaml:"heartbeat_rate"`
	HeartbeatWindow time.Duration `yaml:"heartbeat_window"`
	AdminRate       int           `yaml:"admin_rate"`
	EventsPoll      time.Duration `yaml:"events_poll"`
}

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"data_dir"`
}

// BootstrapConfig holds the activation timings and the policy written on
// first execution.
type BootstrapConfig struct {
	LaunchDelay      time.Duration `yaml:"launch_delay"`
	CycleInterval    time.Duration `yaml:"cycle_interval"`
	ClaimTTL         time.Duration `yaml:"claim_ttl"`
	StrictMode       bool          `yaml:"strict_mode"`
	OptimizationGoal string        `yaml:"optimization_goal"`
	TargetMetric     float64       `yaml:"target_metric"`
}

// CoordinatorConfig tunes the sweep and the enforcer, and names the key used
// to sign calls to remote agents.
type CoordinatorConfig struct {
	ID             string        `yaml:"id"`
	KeyFile        string        `yaml:"key_file"`
	SweepBatch     int           `yaml:"sweep_batch"`
	StallThreshold time.Duration `yaml:"stall_threshold"`
}

// AgentConfig declares one member of the static agent pool.
type AgentConfig struct {
	ID               string   `yaml:"id"`
	Kind             string   `yaml:"kind"`
	URL              string   `yaml:"url,omitempty"`
	Responsibilities []string `yaml:"responsibilities"`
	Examples         int64    `yaml:"examples,omitempty"`
	InsightsPerCycle int      `yaml:"insights_per_cycle,omitempty"`
	// Trainer false registers a receive-only local agent.
	Trainer *bool `yaml:"trainer,omitempty"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SampleRate   float64 `yaml:"sample_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full process configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Bootstrap   BootstrapConfig   `yaml:"bootstrap"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Agents      []AgentConfig     `yaml:"agents"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Log         LogConfig         `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			HeartbeatRate:   60,
			HeartbeatWindow: time.Minute,
			AdminRate:       30,
			EventsPoll:      2 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			DataDir: "data",
		},
		Bootstrap: BootstrapConfig{
			LaunchDelay:      10 * time.Second,
			CycleInterval:    time.Hour,
			ClaimTTL:         10 * time.Minute,
			StrictMode:       true,
			OptimizationGoal: "roi",
			TargetMetric:     80,
		},
		Coordinator: CoordinatorConfig{
			ID:             "coordinator",
			SweepBatch:     50,
			StallThreshold: 24 * time.Hour,
		},
		Agents: []AgentConfig{
			{ID: "huraii", Kind: KindLocal, Responsibilities: []string{"image_generation", "art_curation", "creative_output"}},
			{ID: "cloe", Kind: KindLocal, Responsibilities: []string{"market_analysis", "user_behavior", "trend_forecasting"}},
			{ID: "business_strategist", Kind: KindLocal, Responsibilities: []string{"pricing_optimization", "growth_strategy", "value_ladder"}},
			{ID: "thorius", Kind: KindLocal, Responsibilities: []string{"blockchain_integration", "smart_contracts", "token_management"}},
		},
		Telemetry: TelemetryConfig{ServiceName: "crosslearn", SampleRate: 1},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error when path is the default file name.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"CROSSLEARN_DATA_DIR":      &c.Database.DataDir,
		"CROSSLEARN_DB_DRIVER":     &c.Database.Driver,
		"CROSSLEARN_DB_DSN":        &c.Database.DSN,
		"CROSSLEARN_ADMIN_SECRET":  &c.Server.AdminSecret,
		"CROSSLEARN_ADDR":          &c.Server.Addr,
		"CROSSLEARN_LOG_LEVEL":     &c.Log.Level,
		"CROSSLEARN_LOG_FORMAT":    &c.Log.Format,
		"CROSSLEARN_OTLP_ENDPOINT": &c.Telemetry.OTLPEndpoint,
		"CROSSLEARN_KEY_FILE":      &c.Coordinator.KeyFile,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("CROSSLEARN_CYCLE_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CROSSLEARN_CYCLE_INTERVAL: %w", err)
		}
		c.Bootstrap.CycleInterval = d
	}
	if v, ok := lookup("CROSSLEARN_STRICT_MODE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CROSSLEARN_STRICT_MODE: %w", err)
		}
		c.Bootstrap.StrictMode = b
	}
	return nil
}

// DSN returns the database DSN, deriving a SQLite path under DataDir when
// none is set.
func (c *Config) DSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return filepath.Join(c.Database.DataDir, "crosslearn.db")
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver: unsupported %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return errors.New("database.dsn: required for postgres")
	}
	if c.Bootstrap.LaunchDelay < 0 {
		return errors.New("bootstrap.launch_delay: must not be negative")
	}
	if c.Bootstrap.CycleInterval <= 0 {
		return errors.New("bootstrap.cycle_interval: must be positive")
	}
	if c.Bootstrap.ClaimTTL <= 0 {
		return errors.New("bootstrap.claim_ttl: must be positive")
	}
	if c.Coordinator.SweepBatch <= 0 {
		return errors.New("coordinator.sweep_batch: must be positive")
	}
	if c.Coordinator.StallThreshold <= 0 {
		return errors.New("coordinator.stall_threshold: must be positive")
	}
	if c.Server.HeartbeatRate < 0 || c.Server.AdminRate < 0 {
		return errors.New("server: rates must not be negative")
	}

	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		switch a.Kind {
		case "", KindLocal:
		case KindRemote:
			if a.URL == "" {
				return fmt.Errorf("agents[%d] %s: url is required for remote agents", i, a.ID)
			}
		default:
			return fmt.Errorf("agents[%d] %s: unknown kind %q", i, a.ID, a.Kind)
		}
	}
	return nil
}
