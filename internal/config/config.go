// Package config loads and persists skillsense configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all skillsense configuration.
type Config struct {
	// DataDir is where the database, logs, and rulesets live.
	DataDir string `yaml:"data_dir"`

	// Sources are the skill directories to index.
	Sources []Source `yaml:"sources"`

	// Embedding configures the embedding engine.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Rules configures ruleset evaluation.
	Rules RulesConfig `yaml:"rules"`

	// Logging controls categorized debug logging.
	Logging LoggingConfig `yaml:"logging"`
}

// Source is a skill-bearing directory with a classification.
type Source struct {
	Path string `yaml:"path"`
	// Kind is one of "user", "project", "plugin".
	Kind string `yaml:"kind"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama, genai
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	Dimensions     int    `yaml:"dimensions"`
}

// RulesConfig configures ruleset loading and evaluation.
type RulesConfig struct {
	// RulesetPath points at the ruleset script. Defaults to
	// <data_dir>/rules/default.rules.go.
	RulesetPath string `yaml:"ruleset_path"`
	// EvalTimeout bounds a single rule evaluation call.
	EvalTimeout string `yaml:"eval_timeout"`
	// Params are free-form values surfaced to rulesets via get_param.
	Params map[string]string `yaml:"params"`
}

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultDataDir returns ~/.skillsense, or a relative fallback when the
// home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".skillsense"
	}
	return filepath.Join(home, ".skillsense")
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: dataDir,
		Sources: []Source{
			{Path: filepath.Join(home, ".claude", "skills"), Kind: "user"},
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			Dimensions:     384,
		},
		Rules: RulesConfig{
			RulesetPath: DefaultRulesetPath(dataDir),
			EvalTimeout: "5s",
			Params:      map[string]string{},
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// DefaultRulesetPath returns the ruleset location inside a data dir.
func DefaultRulesetPath(dataDir string) string {
	return filepath.Join(dataDir, "rules", "default.rules.go")
}

// ConfigPath returns the config file location inside a data dir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// DatabasePath returns the database location inside a data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "skillsense.db")
}

// Load reads configuration from a YAML file. A missing file yields
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SKILLSENSE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("SKILLSENSE_OLLAMA_ENDPOINT"); v != "" {
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
	}
	if v := os.Getenv("SKILLSENSE_RULESET"); v != "" {
		c.Rules.RulesetPath = v
	}
}

// EvalTimeout parses the configured rule evaluation timeout.
func (c *Config) EvalTimeout() time.Duration {
	d, err := time.ParseDuration(c.Rules.EvalTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.Embedding.Provider {
	case "ollama", "genai":
	default:
		return fmt.Errorf("unknown embedding provider: %s", c.Embedding.Provider)
	}
	for _, s := range c.Sources {
		switch s.Kind {
		case "user", "project", "plugin":
		default:
			return fmt.Errorf("source %s: unknown kind %q", s.Path, s.Kind)
		}
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive")
	}
	return nil
}
