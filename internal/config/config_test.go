package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv(envEndpointPath)
	os.Unsetenv(envLogLevel)
	os.Unsetenv(envAgentRole)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "INFO" {
		t.Errorf("LogLevel = %q, want INFO", cfg.LogLevel)
	}
	if cfg.PeerQueueDepth <= 0 {
		t.Errorf("PeerQueueDepth = %d, want positive", cfg.PeerQueueDepth)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symposium.yaml")
	if err := os.WriteFile(path, []byte("logLevel: WARN\npeerQueueDepth: 10\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv(envLogLevel, "DEBUG")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "DEBUG" {
		t.Errorf("LogLevel = %q, want DEBUG (env should win over file)", cfg.LogLevel)
	}
	if cfg.PeerQueueDepth != 10 {
		t.Errorf("PeerQueueDepth = %d, want 10 (from file, no env override)", cfg.PeerQueueDepth)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/symposium.yaml"); err == nil {
		t.Error("Load() with missing file: want error, got nil")
	}
}
