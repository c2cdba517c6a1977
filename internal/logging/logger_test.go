package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestCategoriesLog tests that categories create log files when debug_mode is true
func TestCategoriesLog(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configDir := filepath.Join(tempDir, ".personalens")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configContent := `{
		"logging": {
			"level": "debug",
			"debug_mode": true,
			"categories": {
				"boot": true,
				"discovery": true,
				"scrape": true,
				"categorize": true,
				"tracker": true,
				"embedding": true,
				"store": true,
				"perspective": true,
				"api": true,
				"generate": true,
				"browser": true,
				"server": true
			}
		}
	}`

	configPath := filepath.Join(configDir, "config.json")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	// Reset logging state
	CloseAll()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	workspace = ""

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if !IsDebugMode() {
		t.Error("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot, CategoryDiscovery, CategoryScrape, CategoryCategorize,
		CategoryTracker, CategoryEmbedding, CategoryStore, CategoryPerspective,
		CategoryAPI, CategoryGenerate, CategoryBrowser, CategoryServer,
	}

	for _, cat := range categories {
		Get(cat).Info("test message for %s", cat)
	}
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tempDir, ".personalens", "logs"))
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}

	found := make(map[string]bool)
	for _, e := range entries {
		for _, cat := range categories {
			if strings.HasSuffix(e.Name(), string(cat)+".log") {
				found[string(cat)] = true
			}
		}
	}

	for _, cat := range categories {
		if !found[string(cat)] {
			t.Errorf("No log file created for category %s", cat)
		}
	}
}

// TestNoLogsInProductionMode verifies silent no-op when no config exists
func TestNoLogsInProductionMode(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_prod_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	CloseAll()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	workspace = ""

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if IsDebugMode() {
		t.Error("Expected debug mode disabled without config")
	}

	Scrape("this should go nowhere")
	CloseAll()

	if _, err := os.Stat(filepath.Join(tempDir, ".personalens", "logs")); !os.IsNotExist(err) {
		t.Error("Logs directory should not exist in production mode")
	}
}
