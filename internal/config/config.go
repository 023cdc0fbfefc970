// Package config handles configuration loading for the orchestrator.
// Values come from an optional YAML file with environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Caps are the system-wide ceilings a job policy is clamped against.
type Caps struct {
	MaxTimeLimitSeconds int
	MaxCPULimitMillis   int
	MaxRAMLimitMB       int
	MaxPIDLimit         int
}

// Config holds all configuration values for the orchestrator.
type Config struct {
	// Database connection string. Required; startup fails without it.
	// Scheme selects the backend: sqlite:// for SQLite, anything else
	// is treated as a PostgreSQL DSN.
	DatabaseURL string

	// HTTP server port
	HTTPPort int

	// Root directory for per-job state (work areas, artifacts)
	DataDir string

	// Maximum attempts executing concurrently
	MaxConcurrentAttempts int

	// Admission throttle: requests per minute and burst.
	// Zero disables throttling.
	AdmissionRatePerMin int
	AdmissionBurst      int

	// System caps for policy clamping
	Caps Caps

	// Defaults applied when a job policy omits limits
	DefaultTimeLimitSeconds int

	// Grace window between graceful stop and forceful kill on timeout
	KillGraceWindow time.Duration

	// Runners that may be selected. Availability is still probed at
	// startup; this only narrows the candidate set.
	EnabledRunners []string

	// Container image used by the docker runner
	DockerImage string

	// Kubernetes settings for the vm runner
	KubeNamespace    string
	KubeRuntimeClass string

	// OTLP collector endpoint for traces
	OTELEndpoint string

	// Log level: debug, info, warn, error
	LogLevel string
}

// Load reads configuration from the given YAML file (optional) with
// environment variables taking precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http_port", 6161)
	v.SetDefault("data_dir", "var/jobs")
	v.SetDefault("max_concurrent_attempts", 4)
	v.SetDefault("admission_rate_per_min", 200)
	v.SetDefault("admission_burst", 20)
	v.SetDefault("max_time_limit_seconds", 3600)
	v.SetDefault("max_cpu_limit_millis", 2000)
	v.SetDefault("max_ram_limit_mb", 2048)
	v.SetDefault("max_pid_limit", 256)
	v.SetDefault("default_time_limit_seconds", 30)
	v.SetDefault("kill_grace_window", "10s")
	v.SetDefault("enabled_runners", []string{"shell", "docker", "vm"})
	v.SetDefault("docker_image", "alpine:3.20")
	v.SetDefault("kube_namespace", "default")
	v.SetDefault("kube_runtime_class", "kata")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("log_level", "info")

	for key, env := range map[string]string{
		"database_url":               "DATABASE_URL",
		"http_port":                  "PORT",
		"data_dir":                   "DATA_DIR",
		"max_concurrent_attempts":    "MAX_CONCURRENT_ATTEMPTS",
		"admission_rate_per_min":     "RATE_LIMIT_PER_MIN",
		"admission_burst":            "RATE_LIMIT_BURST",
		"max_time_limit_seconds":     "MAX_TIME_LIMIT_SECONDS",
		"max_cpu_limit_millis":       "MAX_CPU_LIMIT_MILLIS",
		"max_ram_limit_mb":           "MAX_RAM_LIMIT_MB",
		"max_pid_limit":              "MAX_PID_LIMIT",
		"default_time_limit_seconds": "DEFAULT_TIME_LIMIT_SECONDS",
		"kill_grace_window":          "KILL_GRACE_WINDOW",
		"enabled_runners":            "ENABLED_RUNNERS",
		"docker_image":               "DOCKER_IMAGE",
		"kube_namespace":             "KUBE_NAMESPACE",
		"kube_runtime_class":         "KUBE_RUNTIME_CLASS",
		"otel_endpoint":              "OTEL_EXPORTER_OTLP_ENDPOINT",
		"log_level":                  "LOG_LEVEL",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		DatabaseURL:           v.GetString("database_url"),
		HTTPPort:              v.GetInt("http_port"),
		DataDir:               v.GetString("data_dir"),
		MaxConcurrentAttempts: v.GetInt("max_concurrent_attempts"),
		AdmissionRatePerMin:   v.GetInt("admission_rate_per_min"),
		AdmissionBurst:        v.GetInt("admission_burst"),
		Caps: Caps{
			MaxTimeLimitSeconds: v.GetInt("max_time_limit_seconds"),
			MaxCPULimitMillis:   v.GetInt("max_cpu_limit_millis"),
			MaxRAMLimitMB:       v.GetInt("max_ram_limit_mb"),
			MaxPIDLimit:         v.GetInt("max_pid_limit"),
		},
		DefaultTimeLimitSeconds: v.GetInt("default_time_limit_seconds"),
		KillGraceWindow:         v.GetDuration("kill_grace_window"),
		EnabledRunners:          v.GetStringSlice("enabled_runners"),
		DockerImage:             v.GetString("docker_image"),
		KubeNamespace:           v.GetString("kube_namespace"),
		KubeRuntimeClass:        v.GetString("kube_runtime_class"),
		OTELEndpoint:            v.GetString("otel_endpoint"),
		LogLevel:                v.GetString("log_level"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required (env: DATABASE_URL)")
	}
	if cfg.MaxConcurrentAttempts < 1 {
		return nil, fmt.Errorf("max_concurrent_attempts must be at least 1")
	}
	for _, r := range cfg.EnabledRunners {
		switch r {
		case "shell", "docker", "vm":
		default:
			return nil, fmt.Errorf("unknown runner %q in enabled_runners", r)
		}
	}

	return cfg, nil
}
