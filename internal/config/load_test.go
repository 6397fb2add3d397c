package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsApplyWithNoConfigFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.MaxPerHost != 5 {
		t.Fatalf("expected default max_per_host 5, got %d", cfg.Pool.MaxPerHost)
	}
	if cfg.Resilience.Breaker.FailureThreshold != 5 {
		t.Fatalf("expected default failure_threshold 5, got %d", cfg.Resilience.Breaker.FailureThreshold)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.Log.Level)
	}
}

func TestLoad_LocalConfigOverridesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	workDir := t.TempDir()
	t.Chdir(workDir)

	yaml := []byte("pool:\n  max_per_host: 11\nresilience:\n  breaker:\n    failure_threshold: 9\n")
	if err := os.WriteFile(filepath.Join(workDir, "gatewayctl.yaml"), yaml, 0o644); err != nil {
		t.Fatalf("write local config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.MaxPerHost != 11 {
		t.Fatalf("expected overridden max_per_host 11, got %d", cfg.Pool.MaxPerHost)
	}
	if cfg.Resilience.Breaker.FailureThreshold != 9 {
		t.Fatalf("expected overridden failure_threshold 9, got %d", cfg.Resilience.Breaker.FailureThreshold)
	}
}

func TestLoad_GlobalConfigUnderlaysLocal(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.MkdirAll(filepath.Join(home, ".modelgateway"), 0o755); err != nil {
		t.Fatalf("mkdir global dir: %v", err)
	}
	globalYAML := []byte("gateway:\n  port: 9999\npool:\n  max_per_host: 3\n")
	if err := os.WriteFile(filepath.Join(home, ".modelgateway", "gatewayctl.yaml"), globalYAML, 0o644); err != nil {
		t.Fatalf("write global config: %v", err)
	}

	workDir := t.TempDir()
	t.Chdir(workDir)
	localYAML := []byte("pool:\n  max_per_host: 7\n")
	if err := os.WriteFile(filepath.Join(workDir, "gatewayctl.yaml"), localYAML, 0o644); err != nil {
		t.Fatalf("write local config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9999 {
		t.Fatalf("expected global-only field port 9999, got %d", cfg.Gateway.Port)
	}
	if cfg.Pool.MaxPerHost != 7 {
		t.Fatalf("expected local override max_per_host 7, got %d", cfg.Pool.MaxPerHost)
	}
}
