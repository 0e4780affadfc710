package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitializeDisabled(t *testing.T) {
	t.Cleanup(CloseAll)

	dir := t.TempDir()
	if err := Initialize(dir, Options{DebugMode: false}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// No logs directory should exist in production mode.
	if _, err := os.Stat(filepath.Join(dir, "logs")); !os.IsNotExist(err) {
		t.Errorf("logs directory should not exist when debug mode is off")
	}

	// Logging should be a no-op, not a panic.
	Get(CategoryAPI).Info("dropped")
}

func TestInitializeWritesCategoryFiles(t *testing.T) {
	t.Cleanup(CloseAll)

	dir := t.TempDir()
	if err := Initialize(dir, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Tools("tool executed: %s", "google_search")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("reading logs dir: %v", err)
	}

	var found bool
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_tools.log") {
			found = true
			data, err := os.ReadFile(filepath.Join(dir, "logs", e.Name()))
			if err != nil {
				t.Fatalf("reading log file: %v", err)
			}
			if !strings.Contains(string(data), "google_search") {
				t.Errorf("log file missing message, got: %s", data)
			}
		}
	}
	if !found {
		t.Error("no tools log file written")
	}
}

func TestCategoryFilter(t *testing.T) {
	t.Cleanup(CloseAll)

	SetOptions(Options{
		DebugMode:  true,
		Level:      "info",
		Categories: map[string]bool{"api": false},
	})

	if IsCategoryEnabled(CategoryAPI) {
		t.Error("api category should be disabled")
	}
	if !IsCategoryEnabled(CategoryTools) {
		t.Error("unlisted categories should default to enabled")
	}
}

func TestLevelFilter(t *testing.T) {
	t.Cleanup(CloseAll)

	dir := t.TempDir()
	if err := Initialize(dir, Options{DebugMode: true, Level: "warn"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	l := Get(CategoryServer)
	l.Debug("should be dropped")
	l.Info("should be dropped too")
	l.Warn("kept")
	CloseAll()

	entries, _ := os.ReadDir(filepath.Join(dir, "logs"))
	for _, e := range entries {
		data, _ := os.ReadFile(filepath.Join(dir, "logs", e.Name()))
		if strings.Contains(string(data), "dropped") {
			t.Errorf("level filter leaked message: %s", data)
		}
		if strings.HasSuffix(e.Name(), "_server.log") && !strings.Contains(string(data), "kept") {
			t.Errorf("warn message missing: %s", data)
		}
	}
}
