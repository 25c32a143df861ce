package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "chimera.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CHIMERA_PORT")
	setString(&cfg.Server.CORSOrigin, "CHIMERA_CORS_ORIGIN")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CHIMERA_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CHIMERA_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CHIMERA_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CHIMERA_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CHIMERA_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Logging.Level, "CHIMERA_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CHIMERA_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CHIMERA_LOG_ASYNC")

	setString(&cfg.Otel.Endpoint, "CHIMERA_OTEL_ENDPOINT")

	setInt(&cfg.Breaker.MaxFailures, "CHIMERA_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CHIMERA_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "CHIMERA_RATE_RPS")
	setInt(&cfg.Rate.Burst, "CHIMERA_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "CHIMERA_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "CHIMERA_RATE_MAX_IDLE_TIME")

	setString(&cfg.Agent.ID, "CHIMERA_AGENT_ID")
	setString(&cfg.Agent.Name, "CHIMERA_AGENT_NAME")
	setString(&cfg.Agent.Persona, "CHIMERA_AGENT_PERSONA")

	setInt(&cfg.Worker.PoolSize, "CHIMERA_WORKER_POOL_SIZE")
	setDuration(&cfg.Worker.ClaimInterval, "CHIMERA_WORKER_CLAIM_INTERVAL")
	setDuration(&cfg.Worker.LeaseTimeout, "CHIMERA_WORKER_LEASE_TIMEOUT")
	setDuration(&cfg.Worker.ReapInterval, "CHIMERA_WORKER_REAP_INTERVAL")
	setFloat64(&cfg.Worker.AdmissionCPUMax, "CHIMERA_WORKER_ADMISSION_CPU_MAX")
	setFloat64(&cfg.Worker.AdmissionMemMax, "CHIMERA_WORKER_ADMISSION_MEM_MAX")
	setDuration(&cfg.Worker.CapabilityTimeout, "CHIMERA_WORKER_CAPABILITY_TIMEOUT")
	setDuration(&cfg.Worker.TransientBackoff, "CHIMERA_WORKER_TRANSIENT_BACKOFF")

	setInt(&cfg.Judge.MaxRetries, "CHIMERA_JUDGE_MAX_RETRIES")
	setDuration(&cfg.Judge.BackoffBase, "CHIMERA_JUDGE_BACKOFF_BASE")
	setDuration(&cfg.Judge.BackoffCap, "CHIMERA_JUDGE_BACKOFF_CAP")

	setDuration(&cfg.Approval.Expiry, "CHIMERA_APPROVAL_EXPIRY")
	setDuration(&cfg.Approval.SweepInterval, "CHIMERA_APPROVAL_SWEEP_INTERVAL")
	setString(&cfg.Approval.OnExpiry, "CHIMERA_APPROVAL_ON_EXPIRY")

	setString(&cfg.Planner.DefaultPriority, "CHIMERA_PLANNER_DEFAULT_PRIORITY")
	setString(&cfg.Planner.OnBranchFailure, "CHIMERA_PLANNER_ON_BRANCH_FAILURE")

	setDuration(&cfg.Presence.HeartbeatInterval, "CHIMERA_PRESENCE_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Presence.FullStatusInterval, "CHIMERA_PRESENCE_FULL_STATUS_INTERVAL")
	setDuration(&cfg.Presence.TTL, "CHIMERA_PRESENCE_TTL")
	setFloat64(&cfg.Presence.PublishPerMinute, "CHIMERA_PRESENCE_PUBLISH_PER_MINUTE")

	setString(&cfg.Capabilities.TrendURL, "CHIMERA_CAP_TREND_URL")
	setString(&cfg.Capabilities.ContentURL, "CHIMERA_CAP_CONTENT_URL")
	setString(&cfg.Capabilities.EngagementURL, "CHIMERA_CAP_ENGAGEMENT_URL")
	setDuration(&cfg.Capabilities.TrendCacheTTL, "CHIMERA_CAP_TREND_CACHE_TTL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Worker.PoolSize < 1 {
		return errors.New("worker.pool_size must be >= 1")
	}
	if cfg.Judge.MaxRetries < 0 {
		return errors.New("judge.max_retries must be >= 0")
	}
	switch cfg.Approval.OnExpiry {
	case "approve", "reject":
	default:
		return fmt.Errorf("approval.on_expiry must be \"approve\" or \"reject\", got %q", cfg.Approval.OnExpiry)
	}
	switch cfg.Planner.OnBranchFailure {
	case "block", "continue":
	default:
		return fmt.Errorf("planner.on_branch_failure must be \"block\" or \"continue\", got %q", cfg.Planner.OnBranchFailure)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
