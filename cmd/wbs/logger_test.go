package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hylla/wbs/internal/config"
)

// TestWorkspaceRootFromUsesNearestMarker verifies workspace-root resolution behavior.
func TestWorkspaceRootFromUsesNearestMarker(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/test\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	nested := filepath.Join(root, "cmd", "wbs")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	got := workspaceRootFrom(nested)
	if filepath.Clean(got) != filepath.Clean(root) {
		t.Fatalf("expected workspace root %q, got %q", root, got)
	}
}

// TestDevLogFilePathResolvesAgainstWorkspaceRoot verifies relative log dirs anchor at workspace root.
func TestDevLogFilePathResolvesAgainstWorkspaceRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/test\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	nested := filepath.Join(root, "cmd", "wbs")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	t.Chdir(nested)

	got, err := devLogFilePath(".wbs/log", "wbs", time.Date(2026, 2, 22, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("devLogFilePath() error = %v", err)
	}
	normalize := func(p string) string {
		return strings.TrimPrefix(filepath.Clean(p), "/private")
	}
	want := filepath.Join(root, ".wbs", "log", "wbs-20260222.log")
	if normalize(got) != normalize(want) {
		t.Fatalf("expected log path %q, got %q", want, got)
	}
}

// TestSanitizeLogFileStem verifies app names become safe file-name segments.
func TestSanitizeLogFileStem(t *testing.T) {
	cases := map[string]string{
		"wbs":       "wbs",
		" my app ":  "my-app",
		"team/wbs":  "team-wbs",
		"c:\\tools": "c--tools",
		"":          "wbs",
		"///":       "wbs",
	}
	for in, want := range cases {
		if got := sanitizeLogFileStem(in); got != want {
			t.Fatalf("sanitizeLogFileStem(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestRunDevModeCreatesWorkspaceLogFile verifies behavior for the covered scenario.
func TestRunDevModeCreatesWorkspaceLogFile(t *testing.T) {
	workspace := t.TempDir()
	t.Chdir(workspace)

	dbPath := filepath.Join(workspace, "wbs.db")
	cfgPath := filepath.Join(workspace, "config.toml")
	var stderr bytes.Buffer
	if err := run(context.Background(), []string{"--dev", "--db", dbPath, "--config", cfgPath, "project", "create", "logged"}, io.Discard, &stderr); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	logDir := filepath.Join(workspace, ".wbs", "log")
	entries, err := os.ReadDir(logDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var logPath string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".log") {
			logPath = filepath.Join(logDir, entry.Name())
			break
		}
	}
	if logPath == "" {
		t.Fatalf("expected a .log file in %s, got %v", logDir, entries)
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(content), "sqlite repository ready") {
		t.Fatalf("expected debug lifecycle entries in dev log, got %q", content)
	}
	if strings.Contains(stderr.String(), "sqlite repository ready") {
		t.Fatalf("expected debug entries to stay out of info-level stderr, got %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "project created") {
		t.Fatalf("expected info entry on stderr, got %q", stderr.String())
	}
}

// TestNewRuntimeLoggerRejectsUnknownLevel verifies behavior for the covered scenario.
func TestNewRuntimeLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := newRuntimeLogger(io.Discard, "wbs", false, config.LoggingConfig{Level: "loud"}, nil)
	if err == nil {
		t.Fatal("expected parse error for unknown level")
	}
}

// TestRuntimeLoggerNilSafe verifies a nil logger ignores calls.
func TestRuntimeLoggerNilSafe(t *testing.T) {
	var logger *runtimeLogger
	logger.Debug("ignored")
	logger.Info("ignored")
	logger.Warn("ignored")
	logger.Error("ignored")
	if logger.DevLogPath() != "" {
		t.Fatal("expected empty dev log path for nil logger")
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
