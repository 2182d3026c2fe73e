package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_SENTINEL_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Detection.Window != time.Minute {
		t.Fatalf("unexpected default window %s", cfg.Detection.Window)
	}
	if cfg.Alerts.Cooldown != 5*time.Minute {
		t.Fatalf("unexpected default cooldown %s", cfg.Alerts.Cooldown)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	if err := os.WriteFile(path, []byte(`detection:
  window: 30s
  retention: 10m
baseline:
  alpha: 0.2
  zThreshold: 3
alerts:
  cooldown: 1m
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MIRADOR_SENTINEL_Z_THRESHOLD", "4.5")
	t.Setenv("MIRADOR_SENTINEL_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Detection.Window != 30*time.Second {
		t.Fatalf("expected 30s window, got %s", cfg.Detection.Window)
	}
	if cfg.Baseline.Alpha != 0.2 {
		t.Fatalf("expected alpha 0.2, got %g", cfg.Baseline.Alpha)
	}
	if cfg.Baseline.ZThreshold != 4.5 {
		t.Fatalf("expected env override 4.5, got %g", cfg.Baseline.ZThreshold)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected json logging from env")
	}
	if cfg.Forest.Trees != 100 {
		t.Fatalf("expected untouched default tree count, got %d", cfg.Forest.Trees)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cfg := defaultConfig()
	cfg.Baseline.Alpha = 1.5
	cfg.Forest.AnomalyThreshold = 0
	cfg.Detection.Retention = time.Second

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !errors.Is(err, utils.ErrConfiguration) {
		t.Fatalf("expected configuration error kind, got %v", err)
	}
	for _, want := range []string{"baseline.alpha", "forest.anomalyThreshold", "detection.retention"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %q", want, err.Error())
		}
	}
}

func TestValidateExplainRequiresEndpoint(t *testing.T) {
	cfg := defaultConfig()
	cfg.Explain.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected explain endpoint validation error")
	}
}
