package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	if err == nil {
		t.Error("expected error when DATABASE_URL is missing")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 6161 {
		t.Errorf("expected HTTPPort 6161, got %d", cfg.HTTPPort)
	}
	if cfg.MaxConcurrentAttempts != 4 {
		t.Errorf("expected MaxConcurrentAttempts 4, got %d", cfg.MaxConcurrentAttempts)
	}
	if cfg.Caps.MaxTimeLimitSeconds != 3600 {
		t.Errorf("expected MaxTimeLimitSeconds 3600, got %d", cfg.Caps.MaxTimeLimitSeconds)
	}
	if cfg.DefaultTimeLimitSeconds != 30 {
		t.Errorf("expected DefaultTimeLimitSeconds 30, got %d", cfg.DefaultTimeLimitSeconds)
	}
	if cfg.KillGraceWindow != 10*time.Second {
		t.Errorf("expected KillGraceWindow 10s, got %v", cfg.KillGraceWindow)
	}
	if len(cfg.EnabledRunners) != 3 {
		t.Errorf("expected all runners enabled by default, got %v", cfg.EnabledRunners)
	}
	if cfg.OTELEndpoint != "localhost:4317" {
		t.Errorf("expected OTELEndpoint localhost:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:///tmp/runbox.db")
	t.Setenv("PORT", "9999")
	t.Setenv("MAX_CONCURRENT_ATTEMPTS", "8")
	t.Setenv("RATE_LIMIT_PER_MIN", "60")
	t.Setenv("DATA_DIR", "/tmp/runbox-jobs")
	t.Setenv("KILL_GRACE_WINDOW", "3s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "sqlite:///tmp/runbox.db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.MaxConcurrentAttempts != 8 {
		t.Errorf("expected MaxConcurrentAttempts 8, got %d", cfg.MaxConcurrentAttempts)
	}
	if cfg.AdmissionRatePerMin != 60 {
		t.Errorf("expected AdmissionRatePerMin 60, got %d", cfg.AdmissionRatePerMin)
	}
	if cfg.DataDir != "/tmp/runbox-jobs" {
		t.Errorf("expected DataDir /tmp/runbox-jobs, got %s", cfg.DataDir)
	}
	if cfg.KillGraceWindow != 3*time.Second {
		t.Errorf("expected KillGraceWindow 3s, got %v", cfg.KillGraceWindow)
	}
}

func TestLoad_InvalidRunner(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("ENABLED_RUNNERS", "shell docker balloon")

	_, err := Load("")
	if err == nil {
		t.Error("expected error for unknown runner")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "runbox-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	configContent := `
database_url: "postgres://config-file/db"
http_port: 7777
max_concurrent_attempts: 2
docker_image: "busybox:1.36"
`
	if _, err := tmpFile.WriteString(configContent); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	tmpFile.Close()

	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://config-file/db" {
		t.Errorf("expected DatabaseURL from config file, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 7777 {
		t.Errorf("expected HTTPPort 7777, got %d", cfg.HTTPPort)
	}
	if cfg.DockerImage != "busybox:1.36" {
		t.Errorf("expected DockerImage busybox:1.36, got %s", cfg.DockerImage)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "runbox-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	configContent := `
database_url: "postgres://from-file/db"
http_port: 7777
`
	if _, err := tmpFile.WriteString(configContent); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	tmpFile.Close()

	t.Setenv("DATABASE_URL", "postgres://from-env/db")
	t.Setenv("PORT", "8888")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://from-env/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 8888 {
		t.Errorf("expected HTTPPort 8888 from env, got %d", cfg.HTTPPort)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent config file")
	}
}
