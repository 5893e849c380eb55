package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/chitragupta/internal/resilience"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if cfg.Agents.MaxTurns != 25 || cfg.Agents.DefaultModel != "claude-sonnet" {
		t.Errorf("agents = %+v", cfg.Agents)
	}
	if cfg.Kartavya.MinCooldown != 10*time.Second {
		t.Errorf("min cooldown = %v", cfg.Kartavya.MinCooldown)
	}
	if cfg.Orchestrator.BanditMode != "ucb1" {
		t.Errorf("bandit mode = %q", cfg.Orchestrator.BanditMode)
	}
}

func TestLoad_ClampsCeilings(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
samiti:
  default_max_history: 50000
kartavya:
  min_cooldown: 2s
agents:
  max_turns: -3
health:
  stale_after: 1m
  dead_after: 30s
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Samiti.DefaultMaxHistory != 10_000 {
		t.Errorf("max history = %d", cfg.Samiti.DefaultMaxHistory)
	}
	if cfg.Kartavya.MinCooldown != 10*time.Second {
		t.Errorf("min cooldown = %v", cfg.Kartavya.MinCooldown)
	}
	if cfg.Agents.MaxTurns != 1 {
		t.Errorf("max turns = %d", cfg.Agents.MaxTurns)
	}
	if cfg.Health.DeadAfter != 4*time.Minute {
		t.Errorf("dead after = %v", cfg.Health.DeadAfter)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("CHITRA_DB", "/tmp/custom.db")
	cfg, err := Load(writeConfig(t, "storage:\n  database_path: ${CHITRA_DB}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.DatabasePath != "/tmp/custom.db" {
		t.Errorf("path = %q", cfg.Storage.DatabasePath)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := Load(writeConfig(t, "logging: [not a mapping")); err == nil {
		t.Error("bad yaml accepted")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	registry := cfg.Health.Registry()
	if registry.StaleAfter != 30*time.Second || registry.DeadAfter != 2*time.Minute {
		t.Errorf("registry config = %+v", registry)
	}
}

func TestResilienceConfig_Streamer(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
resilience:
  max_retries: 5
  base_backoff: 2s
  rate_per_second: 10
  burst: 30
  queue_size: 7
  failure_threshold: 9
  recovery_timeout: 90s
`))
	if err != nil {
		t.Fatal(err)
	}
	sc := cfg.Resilience.Streamer()
	if sc.Retry.MaxRetries != 5 || sc.Retry.BaseDelay != 2*time.Second {
		t.Errorf("retry = %+v", sc.Retry)
	}
	if sc.Bucket.RefillPerSecond != 10 || sc.Bucket.Capacity != 30 {
		t.Errorf("bucket = %+v", sc.Bucket)
	}
	if sc.Queue.MaxPending != 7 {
		t.Errorf("queue = %+v", sc.Queue)
	}
	if sc.Circuit.FailureThreshold != 9 || sc.Circuit.OpenTimeout != 90*time.Second {
		t.Errorf("circuit = %+v", sc.Circuit)
	}

	defaults := Default().Resilience.Streamer()
	if defaults.Queue.MaxPending != resilience.DefaultQueueConfig().MaxPending {
		t.Errorf("default queue pending = %d", defaults.Queue.MaxPending)
	}
}
