package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crosslearn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Agents, 4)
	assert.Equal(t, 10*time.Second, cfg.Bootstrap.LaunchDelay)
	assert.Equal(t, time.Hour, cfg.Bootstrap.CycleInterval)
	assert.Equal(t, "roi", cfg.Bootstrap.OptimizationGoal)
	assert.Equal(t, 80.0, cfg.Bootstrap.TargetMetric)
	assert.Equal(t, filepath.Join("data", "crosslearn.db"), cfg.DSN())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9999"
bootstrap:
  launch_delay: 2s
  cycle_interval: 15m
  optimization_goal: growth
agents:
  - id: pricing
    kind: local
    responsibilities: [pricing_optimization]
    examples: 40
  - id: remote-cloe
    kind: remote
    url: http://127.0.0.1:9091
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Bootstrap.LaunchDelay)
	assert.Equal(t, 15*time.Minute, cfg.Bootstrap.CycleInterval)
	assert.Equal(t, "growth", cfg.Bootstrap.OptimizationGoal)
	assert.Equal(t, 80.0, cfg.Bootstrap.TargetMetric, "unset keys keep defaults")
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, int64(40), cfg.Agents[0].Examples)
	assert.Equal(t, KindRemote, cfg.Agents[1].Kind)
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CROSSLEARN_ADMIN_SECRET":   "s3cret",
		"CROSSLEARN_DB_DRIVER":      "postgres",
		"CROSSLEARN_DB_DSN":         "postgres://localhost/crosslearn",
		"CROSSLEARN_CYCLE_INTERVAL": "5m",
		"CROSSLEARN_STRICT_MODE":    "false",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, "s3cret", cfg.Server.AdminSecret)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/crosslearn", cfg.DSN())
	assert.Equal(t, 5*time.Minute, cfg.Bootstrap.CycleInterval)
	assert.False(t, cfg.Bootstrap.StrictMode)

	env["CROSSLEARN_CYCLE_INTERVAL"] = "soon"
	assert.Error(t, Default().applyEnv(lookup))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"duplicate agent", func(c *Config) { c.Agents = append(c.Agents, AgentConfig{ID: "cloe"}) }},
		{"empty agent id", func(c *Config) { c.Agents = append(c.Agents, AgentConfig{}) }},
		{"remote without url", func(c *Config) { c.Agents[0].Kind = KindRemote }},
		{"unknown kind", func(c *Config) { c.Agents[0].Kind = "grpc" }},
		{"zero interval", func(c *Config) { c.Bootstrap.CycleInterval = 0 }},
		{"zero sweep batch", func(c *Config) { c.Coordinator.SweepBatch = 0 }},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
