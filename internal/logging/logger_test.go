package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugModeCreatesLogFiles(t *testing.T) {
	tempDir := t.TempDir()

	err := Initialize(tempDir, Settings{DebugMode: true, Level: "debug"})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Index("indexing pass started")
	StoreDebug("upserted skill %s", "abc")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tempDir, "logs"))
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}

	var haveIndex, haveStore bool
	for _, e := range entries {
		if strings.Contains(e.Name(), "_index.log") {
			haveIndex = true
		}
		if strings.Contains(e.Name(), "_store.log") {
			haveStore = true
		}
	}
	if !haveIndex {
		t.Error("Expected an index category log file")
	}
	if !haveStore {
		t.Error("Expected a store category log file")
	}
}

func TestProductionModeWritesNothing(t *testing.T) {
	tempDir := t.TempDir()

	if err := Initialize(tempDir, Settings{DebugMode: false, Level: "info"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Rules("should not appear anywhere")

	if _, err := os.Stat(filepath.Join(tempDir, "logs")); !os.IsNotExist(err) {
		t.Error("Logs directory should not be created in production mode")
	}
}

func TestCategoryFilter(t *testing.T) {
	tempDir := t.TempDir()

	err := Initialize(tempDir, Settings{
		DebugMode:  true,
		Level:      "debug",
		Categories: map[string]bool{"rules": false},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	if IsCategoryEnabled(CategoryRules) {
		t.Error("rules category should be disabled")
	}
	if !IsCategoryEnabled(CategoryStore) {
		t.Error("store category should default to enabled")
	}
}
