package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Interval != time.Hour {
		t.Fatalf("expected default interval 1h, got %s", cfg.Interval)
	}
	if cfg.BindRetry != 5*time.Second {
		t.Fatalf("expected bind retry 5s, got %s", cfg.BindRetry)
	}
}

func TestDefaultSocketPathUsesRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got := DefaultConfig().SocketPath; got != "/run/user/1000/itchd.sock" {
		t.Fatalf("unexpected socket path: %s", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected zero interval rejected")
	}
	cfg = DefaultConfig()
	cfg.Log.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected bad log format rejected")
	}
	cfg = DefaultConfig()
	cfg.Painter.Command = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected empty painter command rejected")
	}
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
interval: 30m
strict_suffix_match: true
painter:
  command: feh
  args: ["--bg-fill", "{path}"]
day_night:
  day_schedule: "30 7 * * *"
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ITCH_LOG__LEVEL", "debug")
	t.Setenv("ITCH_READ_BUFFER_SIZE", "4096")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Interval != 30*time.Minute {
		t.Fatalf("expected interval from file, got %s", cfg.Interval)
	}
	if !cfg.StrictSuffixMatch {
		t.Fatalf("expected strict suffix match from file")
	}
	if cfg.Painter.Command != "feh" || len(cfg.Painter.Args) != 2 {
		t.Fatalf("unexpected painter config: %+v", cfg.Painter)
	}
	if cfg.DayNight.DaySchedule != "30 7 * * *" {
		t.Fatalf("unexpected day schedule: %q", cfg.DayNight.DaySchedule)
	}
	if cfg.DayNight.NightSchedule != "0 18 * * *" {
		t.Fatalf("expected default night schedule kept, got %q", cfg.DayNight.NightSchedule)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected env log level, got %q", cfg.Log.Level)
	}
	if cfg.ReadBufferSize != 4096 {
		t.Fatalf("expected env read buffer size, got %d", cfg.ReadBufferSize)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing explicit config to fail")
	}
}

func TestLoadMissingDefaultFileIsOptional(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("ITCH_CONFIG", "")
	if _, err := Load(""); err != nil {
		t.Fatalf("expected defaults when no config file exists: %v", err)
	}
}
