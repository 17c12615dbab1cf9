package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "server:\n  port: 9090\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host default = %q", cfg.Server.Host)
	}
	if cfg.Client.Retries != 2 {
		t.Errorf("retries default = %d", cfg.Client.Retries)
	}
	if cfg.Client.MinIntervalSeconds != 0.25 {
		t.Errorf("min interval default = %v", cfg.Client.MinIntervalSeconds)
	}
	if cfg.Jobs.StageCount != 2 {
		t.Errorf("stage count default = %d", cfg.Jobs.StageCount)
	}
	if cfg.Dictionary.Version != "2026-02-27" {
		t.Errorf("dictionary version default = %q", cfg.Dictionary.Version)
	}
}

func TestLoadExpandsRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "jobs:\n  store_file: ./jobs/store.json\nclient:\n  disk_cache_dir: ./cache\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Jobs.StoreFile != filepath.Join(dir, "jobs/store.json") {
		t.Errorf("store file = %q", cfg.Jobs.StoreFile)
	}
	if cfg.Client.DiskCacheDir != filepath.Join(dir, "cache") {
		t.Errorf("cache dir = %q", cfg.Client.DiskCacheDir)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "secret-token")
	t.Setenv("ANALYZE_MAX_TIMEOUT_SECONDS", "60")
	t.Setenv("ASYNC_WORKER_STAGE_DELAY_MS", "10")
	t.Setenv("TRACE_DEBUG_ENABLED", "true")

	cfg := Default()
	ApplyEnv(cfg)

	if cfg.Server.AuthToken != "secret-token" {
		t.Errorf("auth token = %q", cfg.Server.AuthToken)
	}
	if cfg.Analyze.MaxTimeoutSeconds != 60 {
		t.Errorf("max timeout = %v", cfg.Analyze.MaxTimeoutSeconds)
	}
	if cfg.Jobs.StageDelayMillis != 10 {
		t.Errorf("stage delay = %d", cfg.Jobs.StageDelayMillis)
	}
	if !cfg.Trace.Enabled {
		t.Error("trace not enabled")
	}
}

func TestEnvFlagEnabled(t *testing.T) {
	for _, on := range []string{"1", "true", "YES", " on "} {
		if !EnvFlagEnabled(on) {
			t.Errorf("EnvFlagEnabled(%q) = false", on)
		}
	}
	for _, off := range []string{"", "0", "false", "off", "nope"} {
		if EnvFlagEnabled(off) {
			t.Errorf("EnvFlagEnabled(%q) = true", off)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := Default()
	cfg.Server.Port = 4242
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Server.Port != 4242 {
		t.Errorf("round-trip port = %d", loaded.Server.Port)
	}
}
