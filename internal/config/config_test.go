package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("Expected default provider ollama, got %s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("Expected 384 dimensions, got %d", cfg.Embedding.Dimensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load of missing file should not fail: %v", err)
	}
	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("Expected defaults, got provider %s", cfg.Embedding.Provider)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := ConfigPath(dir)

	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.Rules.EvalTimeout = "2s"
	cfg.Rules.Params["similarity_threshold"] = "0.75"
	cfg.Sources = []Source{{Path: "/tmp/skills", Kind: "project"}}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Rules.Params["similarity_threshold"] != "0.75" {
		t.Errorf("Params did not round-trip: %v", loaded.Rules.Params)
	}
	if loaded.EvalTimeout() != 2*time.Second {
		t.Errorf("Expected 2s timeout, got %s", loaded.EvalTimeout())
	}
	if len(loaded.Sources) != 1 || loaded.Sources[0].Kind != "project" {
		t.Errorf("Sources did not round-trip: %+v", loaded.Sources)
	}
}

func TestEnvOverrides(t *testing.T) {
	os.Setenv("SKILLSENSE_OLLAMA_ENDPOINT", "http://other:11434")
	defer os.Unsetenv("SKILLSENSE_OLLAMA_ENDPOINT")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Embedding.OllamaEndpoint != "http://other:11434" {
		t.Errorf("Env override not applied: %s", cfg.Embedding.OllamaEndpoint)
	}
}

func TestValidateRejectsBadSourceKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sources = append(cfg.Sources, Source{Path: "/x", Kind: "global"})
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for unknown source kind")
	}
}

func TestEvalTimeoutFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules.EvalTimeout = "garbage"
	if cfg.EvalTimeout() != 5*time.Second {
		t.Errorf("Expected 5s fallback, got %s", cfg.EvalTimeout())
	}
}
