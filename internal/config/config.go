// Package config loads the runtime's YAML configuration. Values that
// tune hard resource ceilings clamp into them rather than error.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/chitragupta/internal/kaalabrahma"
	"github.com/haasonsaas/chitragupta/internal/resilience"
	"github.com/haasonsaas/chitragupta/internal/samiti"
)

// Config is the root configuration structure.
type Config struct {
	Logging      LoggingConfig      `yaml:"logging"`
	Storage      StorageConfig      `yaml:"storage"`
	Agents       AgentsConfig       `yaml:"agents"`
	Routing      RoutingConfig      `yaml:"routing"`
	Resilience   ResilienceConfig   `yaml:"resilience"`
	Samiti       SamitiConfig       `yaml:"samiti"`
	Health       HealthConfig       `yaml:"health"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Kartavya     KartavyaConfig     `yaml:"kartavya"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Path   string `yaml:"path"`
}

type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	PoolSize     int    `yaml:"pool_size"`
	PoolQueue    int    `yaml:"pool_queue"`
}

type AgentsConfig struct {
	DefaultModel string `yaml:"default_model"`
	SystemPrompt string `yaml:"system_prompt"`
	MaxTokens    int    `yaml:"max_tokens"`
	MaxTurns     int    `yaml:"max_turns"`
}

type RoutingConfig struct {
	Preference            string            `yaml:"preference"`
	TierModels            map[string]string `yaml:"tier_models"`
	LocalTierModels       map[string]string `yaml:"local_tier_models"`
	Alpha                 float64           `yaml:"alpha"`
	EstimatedOutputTokens int               `yaml:"estimated_output_tokens"`
}

type ResilienceConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	BaseBackoff      time.Duration `yaml:"base_backoff"`
	RatePerSecond    float64       `yaml:"rate_per_second"`
	Burst            int           `yaml:"burst"`
	QueueSize        int           `yaml:"queue_size"`
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

type SamitiConfig struct {
	DefaultMaxHistory int           `yaml:"default_max_history"`
	DefaultTTL        time.Duration `yaml:"default_ttl"`
}

type HealthConfig struct {
	StaleAfter time.Duration `yaml:"stale_after"`
	DeadAfter  time.Duration `yaml:"dead_after"`
}

type OrchestratorConfig struct {
	Strategy   string  `yaml:"strategy"`
	MaxRetries int     `yaml:"max_retries"`
	Racers     int     `yaml:"racers"`
	BanditMode string  `yaml:"bandit_mode"`
	StatePath  string  `yaml:"state_path"`
	SaveEvery  int     `yaml:"save_every"`
	CostBudget float64 `yaml:"cost_budget"`
}

type KartavyaConfig struct {
	EnableCommandActions  bool          `yaml:"enable_command_actions"`
	MaxConcurrent         int           `yaml:"max_concurrent"`
	DefaultChannel        string        `yaml:"default_channel"`
	MinCooldown           time.Duration `yaml:"min_cooldown"`
	ProposalConfidence    float64       `yaml:"proposal_confidence"`
	AutoApproveConfidence float64       `yaml:"auto_approve_confidence"`
}

// Registry maps the health section onto the lifecycle registry's config.
func (h HealthConfig) Registry() kaalabrahma.Config {
	return kaalabrahma.Config{StaleAfter: h.StaleAfter, DeadAfter: h.DeadAfter}
}

// Streamer maps the resilience section onto the stream dispatch config.
// Zero fields keep the resilience defaults.
func (r ResilienceConfig) Streamer() resilience.StreamerConfig {
	cfg := resilience.DefaultStreamerConfig()
	if r.MaxRetries > 0 {
		cfg.Retry.MaxRetries = r.MaxRetries
	}
	if r.BaseBackoff > 0 {
		cfg.Retry.BaseDelay = r.BaseBackoff
	}
	if r.RatePerSecond > 0 {
		cfg.Bucket.RefillPerSecond = r.RatePerSecond
	}
	if r.Burst > 0 {
		cfg.Bucket.Capacity = float64(r.Burst)
	}
	if r.QueueSize > 0 {
		cfg.Queue.MaxPending = r.QueueSize
	}
	if r.FailureThreshold > 0 {
		cfg.Circuit.FailureThreshold = r.FailureThreshold
	}
	if r.RecoveryTimeout > 0 {
		cfg.Circuit.OpenTimeout = r.RecoveryTimeout
	}
	return cfg
}

// Load reads a config file, expanding ${ENV} references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	clamp(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	clamp(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "chitragupta.db"
	}
	if cfg.Storage.PoolSize == 0 {
		cfg.Storage.PoolSize = 4
	}
	if cfg.Storage.PoolQueue == 0 {
		cfg.Storage.PoolQueue = 32
	}
	if cfg.Agents.DefaultModel == "" {
		cfg.Agents.DefaultModel = "claude-sonnet"
	}
	if cfg.Agents.MaxTurns == 0 {
		cfg.Agents.MaxTurns = 25
	}
	if cfg.Routing.Preference == "" {
		cfg.Routing.Preference = "cloud-first"
	}
	if cfg.Routing.Alpha == 0 {
		cfg.Routing.Alpha = 1.5
	}
	if cfg.Routing.EstimatedOutputTokens == 0 {
		cfg.Routing.EstimatedOutputTokens = 500
	}
	if cfg.Resilience.MaxRetries == 0 {
		cfg.Resilience.MaxRetries = 3
	}
	if cfg.Resilience.BaseBackoff == 0 {
		cfg.Resilience.BaseBackoff = time.Second
	}
	if cfg.Samiti.DefaultMaxHistory == 0 {
		cfg.Samiti.DefaultMaxHistory = samiti.DefaultMaxHistory
	}
	if cfg.Samiti.DefaultTTL == 0 {
		cfg.Samiti.DefaultTTL = samiti.DefaultTTL
	}
	if cfg.Health.StaleAfter == 0 {
		cfg.Health.StaleAfter = 30 * time.Second
	}
	if cfg.Health.DeadAfter == 0 {
		cfg.Health.DeadAfter = 2 * time.Minute
	}
	if cfg.Orchestrator.Strategy == "" {
		cfg.Orchestrator.Strategy = "least-loaded"
	}
	if cfg.Orchestrator.Racers == 0 {
		cfg.Orchestrator.Racers = 3
	}
	if cfg.Orchestrator.BanditMode == "" {
		cfg.Orchestrator.BanditMode = "ucb1"
	}
	if cfg.Kartavya.MaxConcurrent == 0 {
		cfg.Kartavya.MaxConcurrent = 4
	}
	if cfg.Kartavya.DefaultChannel == "" {
		cfg.Kartavya.DefaultChannel = "#alerts"
	}
	if cfg.Kartavya.ProposalConfidence == 0 {
		cfg.Kartavya.ProposalConfidence = 0.7
	}
	if cfg.Kartavya.AutoApproveConfidence == 0 {
		cfg.Kartavya.AutoApproveConfidence = 0.95
	}
}

// clamp forces configured values into the hard ceilings and floors.
func clamp(cfg *Config) {
	if cfg.Samiti.DefaultMaxHistory > samiti.MaxHistory {
		cfg.Samiti.DefaultMaxHistory = samiti.MaxHistory
	}
	if cfg.Samiti.DefaultMaxHistory < 1 {
		cfg.Samiti.DefaultMaxHistory = 1
	}
	if cfg.Samiti.DefaultTTL < 0 {
		cfg.Samiti.DefaultTTL = 0
	}
	if cfg.Agents.MaxTurns < 1 {
		cfg.Agents.MaxTurns = 1
	}
	if cfg.Kartavya.MinCooldown < 10*time.Second {
		cfg.Kartavya.MinCooldown = 10 * time.Second
	}
	if cfg.Health.DeadAfter <= cfg.Health.StaleAfter {
		cfg.Health.DeadAfter = 4 * cfg.Health.StaleAfter
	}
	if cfg.Resilience.MaxRetries < 0 {
		cfg.Resilience.MaxRetries = 0
	}
}
