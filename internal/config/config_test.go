package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Test required variables
	requiredVars := map[string]string{
		"MANIFEST_PATH": "/tmp/memories_history.json",
		"OUTPUT_DIR":    "/tmp/memories",
	}

	for k, v := range requiredVars {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.ManifestPath != requiredVars["MANIFEST_PATH"] {
		t.Errorf("Expected manifest %s, got %s", requiredVars["MANIFEST_PATH"], cfg.ManifestPath)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected default retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.Workers != DefaultWorkers() {
		t.Errorf("Expected default workers %d, got %d", DefaultWorkers(), cfg.Workers)
	}
	if !cfg.ConvertH264 || !cfg.EnforcePortrait {
		t.Error("Expected normalization passes to default to enabled")
	}
	if cfg.HTTPTimeout != 60*time.Second {
		t.Errorf("Expected 60s HTTP timeout, got %v", cfg.HTTPTimeout)
	}

	// Test missing required variable
	t.Setenv("OUTPUT_DIR", "")
	_, err = Load()
	if err == nil {
		t.Error("Expected error for missing OUTPUT_DIR, got nil")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MANIFEST_PATH", "m.json")
	t.Setenv("OUTPUT_DIR", "out")
	t.Setenv("WORKERS", "8")
	t.Setenv("RESUME", "true")
	t.Setenv("CONVERT_H264", "false")
	t.Setenv("TRANSCODE_TIMEOUT", "45")
	t.Setenv("PROBE_TIMEOUT", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.Workers != 8 {
		t.Errorf("Expected 8 workers, got %d", cfg.Workers)
	}
	if !cfg.Resume {
		t.Error("Expected resume enabled")
	}
	if cfg.ConvertH264 {
		t.Error("Expected H.264 conversion disabled")
	}
	if cfg.TranscodeTimeout != 45*time.Second {
		t.Errorf("Expected 45s transcode timeout, got %v", cfg.TranscodeTimeout)
	}
	if cfg.ProbeTimeout != 2*time.Second {
		t.Errorf("Expected 2s probe timeout, got %v", cfg.ProbeTimeout)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "manifest_path: from-file.json\noutput_dir: from-file\nworkers: 2\nenforce_portrait: false\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("OUTPUT_DIR", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.ManifestPath != "from-file.json" {
		t.Errorf("Expected manifest from file, got %s", cfg.ManifestPath)
	}
	if cfg.OutputDir != "from-env" {
		t.Errorf("Expected environment to win over file, got %s", cfg.OutputDir)
	}
	if cfg.Workers != 2 {
		t.Errorf("Expected 2 workers, got %d", cfg.Workers)
	}
	if cfg.EnforcePortrait {
		t.Error("Expected portrait enforcement disabled by file")
	}
	if !cfg.ConvertH264 {
		t.Error("Expected H.264 conversion to keep its default")
	}
}

func TestValidateRejectsBadPool(t *testing.T) {
	cfg := &Config{ManifestPath: "m", OutputDir: "o", Workers: 0, MaxRetries: 3}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero workers")
	}
}
