// Package config holds the Veritas server's YAML-driven configuration.
// Every field has a safe zero-value default via DefaultConfig; no
// environment variable is mandatory (spec.md §6).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AcademicSourceConfig configures rate limiting and politeness for one
// academic metadata API.
type AcademicSourceConfig struct {
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	Burst              int     `yaml:"burst"`
	MaxRetries         int     `yaml:"max_retries"`
	PolitePoolContact  string  `yaml:"polite_pool_contact"`
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
}

// AcademicConfig groups per-source settings for all academic APIs.
type AcademicConfig struct {
	SemanticScholar AcademicSourceConfig `yaml:"semantic_scholar"`
	OpenAlex        AcademicSourceConfig `yaml:"openalex"`
	Crossref        AcademicSourceConfig `yaml:"crossref"`
	Arxiv           AcademicSourceConfig `yaml:"arxiv"`
}

// BudgetDefaults are applied to a Task when the client omits its own budget.
type BudgetDefaults struct {
	MaxPages        int           `yaml:"max_pages"`
	MaxFragments    int           `yaml:"max_fragments"`
	MaxClaims       int           `yaml:"max_claims"`
	WallClock       time.Duration `yaml:"wall_clock"`
	MaxFragmentsPerPage int       `yaml:"max_fragments_per_page"`
	MaxNLIPairsPerClaim int       `yaml:"max_nli_pairs_per_claim"`
	EmbeddingTopK       int       `yaml:"embedding_top_k"`
}

// CalibrationConfig points at the on-disk calibration parameter files.
type CalibrationConfig struct {
	ParamsPath  string `yaml:"params_path"`
	HistoryPath string `yaml:"history_path"`
	Source      string `yaml:"source"` // "platt" | "temperature" | "" (none)
}

// LoggingConfig controls internal/logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// Config is the root configuration object.
type Config struct {
	DataDir             string            `yaml:"data_dir"`
	SchemaVersionTarget  int              `yaml:"schema_version_target"`
	WorkerCount          int              `yaml:"worker_count"`
	QueryDeadlineMs      int              `yaml:"query_deadline_ms"`
	QueryMaxVMSteps      int64            `yaml:"query_max_vm_steps"`
	SerpCacheTTL         time.Duration    `yaml:"serp_cache_ttl"`
	SerpArmTimeout       time.Duration    `yaml:"serp_arm_timeout"`
	AcademicArmTimeout   time.Duration    `yaml:"academic_arm_timeout"`
	TorProxyAddr         string           `yaml:"tor_proxy_addr"`
	Academic             AcademicConfig   `yaml:"academic"`
	BudgetDefaults       BudgetDefaults   `yaml:"budget_defaults"`
	Calibration          CalibrationConfig `yaml:"calibration"`
	Logging              LoggingConfig    `yaml:"logging"`
}

// DefaultConfig returns a Config with production-safe defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:            "./veritas-data",
		SchemaVersionTarget: 1,
		WorkerCount:        2,
		QueryDeadlineMs:    5000,
		QueryMaxVMSteps:    5_000_000,
		SerpCacheTTL:       6 * time.Hour,
		SerpArmTimeout:     20 * time.Second,
		AcademicArmTimeout: 20 * time.Second,
		Academic: AcademicConfig{
			SemanticScholar: AcademicSourceConfig{RateLimitPerSecond: 1, Burst: 1, MaxRetries: 3, TimeoutSeconds: 15},
			OpenAlex:        AcademicSourceConfig{RateLimitPerSecond: 5, Burst: 5, MaxRetries: 3, TimeoutSeconds: 15},
			Crossref:        AcademicSourceConfig{RateLimitPerSecond: 5, Burst: 5, MaxRetries: 3, TimeoutSeconds: 15},
			Arxiv:           AcademicSourceConfig{RateLimitPerSecond: 1, Burst: 1, MaxRetries: 3, TimeoutSeconds: 15},
		},
		BudgetDefaults: BudgetDefaults{
			MaxPages:            50,
			MaxFragments:        2000,
			MaxClaims:           200,
			WallClock:           30 * time.Minute,
			MaxFragmentsPerPage: 200,
			MaxNLIPairsPerClaim: 20,
			EmbeddingTopK:       8,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads a YAML config file, applying it on top of DefaultConfig so
// unset fields keep their defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
