package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the orchestration core.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("orchestratord"),
//	    WithPort(8080),
//	    WithStoreDSN("postgres://localhost/orchestrator"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Core configuration
	Name      string `json:"name" env:"ORCH_NAME"`
	ID        string `json:"id" env:"ORCH_ID"`
	Port      int    `json:"port" env:"ORCH_PORT" default:"8080"`
	Address   string `json:"address" env:"ORCH_ADDRESS"`
	Namespace string `json:"namespace" env:"ORCH_NAMESPACE" default:"default"`

	// HTTP Server configuration (readiness probe surface)
	HTTP HTTPConfig `json:"http"`

	// Scheduler configuration
	Scheduler SchedulerConfig `json:"scheduler"`

	// Pipeline execution configuration
	Pipeline PipelineConfig `json:"pipeline"`

	// Relational store configuration
	Store StoreConfig `json:"store"`

	// Advisory lock configuration
	Lock LockConfig `json:"lock"`

	// Shutdown sequencing configuration
	Shutdown ShutdownConfig `json:"shutdown"`

	// Resilience configuration (circuit breaker / retry defaults)
	Resilience ResilienceConfig `json:"resilience"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Distributed tracing configuration
	Telemetry TelemetryConfig `json:"telemetry"`

	// EventSink configuration (§6 lifecycle event fan-out)
	Events EventsConfig `json:"events"`

	// Development configuration
	Development DevelopmentConfig `json:"development"`

	// Logger instance for configuration operations (excluded from JSON)
	logger Logger `json:"-"`
}

// HTTPConfig contains HTTP server configuration for the readiness probe.
type HTTPConfig struct {
	ReadTimeout       time.Duration `json:"read_timeout" env:"ORCH_HTTP_READ_TIMEOUT" default:"30s"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"ORCH_HTTP_READ_HEADER_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"ORCH_HTTP_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"ORCH_HTTP_IDLE_TIMEOUT" default:"120s"`
	MaxHeaderBytes    int           `json:"max_header_bytes" env:"ORCH_HTTP_MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"ORCH_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	ReadyPath         string        `json:"ready_path" env:"ORCH_HTTP_READY_PATH" default:"/ready"`
	CORS              CORSConfig    `json:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing configuration for the
// readiness/admin HTTP surface.
type CORSConfig struct {
	Enabled          bool     `json:"enabled" env:"ORCH_CORS_ENABLED" default:"false"`
	AllowedOrigins   []string `json:"allowed_origins" env:"ORCH_CORS_ORIGINS"`
	AllowedMethods   []string `json:"allowed_methods" env:"ORCH_CORS_METHODS" default:"GET,OPTIONS"`
	AllowedHeaders   []string `json:"allowed_headers" env:"ORCH_CORS_HEADERS" default:"Content-Type"`
	AllowCredentials bool     `json:"allow_credentials" env:"ORCH_CORS_CREDENTIALS" default:"false"`
	MaxAge           int      `json:"max_age" env:"ORCH_CORS_MAX_AGE" default:"86400"`
}

// SchedulerConfig contains Scheduler Loop (§4.H) tuning.
type SchedulerConfig struct {
	Enabled        bool          `json:"enabled" env:"ORCH_SCHEDULER_ENABLED" default:"true"`
	TickInterval   time.Duration `json:"tick_interval" env:"ORCH_SCHEDULER_TICK_INTERVAL" default:"60s"`
	TickJitter     time.Duration `json:"tick_jitter" env:"ORCH_SCHEDULER_TICK_JITTER" default:"5s"`
	RecoveryWindow time.Duration `json:"recovery_window" env:"ORCH_SCHEDULER_RECOVERY_WINDOW" default:"60s"`
}

// PipelineConfig contains PipelineDefinition-level defaults (§3) applied
// when a stored definition omits them.
type PipelineConfig struct {
	DefaultTimeout        time.Duration `json:"default_timeout" env:"ORCH_PIPELINE_TIMEOUT" default:"3600s"`
	DefaultMaxRetries     int           `json:"default_max_retries" env:"ORCH_PIPELINE_MAX_RETRIES" default:"3"`
	DefaultBackoffBase    time.Duration `json:"default_backoff_base" env:"ORCH_PIPELINE_BACKOFF_BASE" default:"1s"`
	DefaultBackoffMax     time.Duration `json:"default_backoff_max" env:"ORCH_PIPELINE_BACKOFF_MAX" default:"60s"`
	CancelDrainWindow     time.Duration `json:"cancel_drain_window" env:"ORCH_PIPELINE_CANCEL_DRAIN" default:"2s"`
	DisallowNestedActions bool          `json:"disallow_nested_actions" env:"ORCH_PIPELINE_NO_NESTED_ACTIONS" default:"true"`
}

// StoreConfig contains the relational store connection settings (§6).
type StoreConfig struct {
	DSN             string        `json:"dsn" env:"ORCH_STORE_DSN,DATABASE_URL"`
	MaxOpenConns    int           `json:"max_open_conns" env:"ORCH_STORE_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"ORCH_STORE_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"ORCH_STORE_CONN_MAX_LIFETIME" default:"30m"`
	MigrateOnStart  bool          `json:"migrate_on_start" env:"ORCH_STORE_MIGRATE_ON_START" default:"true"`
}

// LockConfig contains Advisory Lock Primitive settings (§4.A).
type LockConfig struct {
	DSN         string `json:"dsn" env:"ORCH_LOCK_DSN"`
	SchedulerNS int32  `json:"scheduler_namespace" env:"ORCH_LOCK_SCHEDULER_NS" default:"1"`
}

// ShutdownConfig contains Shutdown Controller sequencing (§4.I).
type ShutdownConfig struct {
	LBDrainWindow     time.Duration `json:"lb_drain_window" env:"ORCH_SHUTDOWN_LB_DRAIN" default:"3s"`
	TaskDrainWindow   time.Duration `json:"task_drain_window" env:"ORCH_SHUTDOWN_TASK_DRAIN" default:"2s"`
	ExecutorTimeout   time.Duration `json:"executor_timeout" env:"ORCH_SHUTDOWN_EXECUTOR_TIMEOUT" default:"30s"`
}

// ResilienceConfig contains fault tolerance pattern configuration.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry"`
	Timeout        TimeoutConfig        `json:"timeout"`
}

// CircuitBreakerConfig defines the §4.B breaker defaults: CLOSED calls are
// permitted; after Threshold consecutive failures the breaker OPENs; after
// Timeout it allows one HALF_OPEN probe.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" env:"ORCH_CB_ENABLED" default:"true"`
	Threshold        int           `json:"threshold" env:"ORCH_CB_THRESHOLD" default:"5"`
	Timeout          time.Duration `json:"timeout" env:"ORCH_CB_TIMEOUT" default:"60s"`
	HalfOpenRequests int           `json:"half_open_requests" env:"ORCH_CB_HALF_OPEN" default:"1"`
}

// RetryConfig defines retry pattern settings with exponential backoff.
// Formula: interval = min(InitialInterval * (Multiplier ^ attempt), MaxInterval)
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" env:"ORCH_RETRY_MAX_ATTEMPTS" default:"3"`
	InitialInterval time.Duration `json:"initial_interval" env:"ORCH_RETRY_INITIAL_INTERVAL" default:"1s"`
	MaxInterval     time.Duration `json:"max_interval" env:"ORCH_RETRY_MAX_INTERVAL" default:"60s"`
	Multiplier      float64       `json:"multiplier" env:"ORCH_RETRY_MULTIPLIER" default:"2.0"`
}

// TimeoutConfig defines timeout settings for various operations.
type TimeoutConfig struct {
	DefaultTimeout time.Duration `json:"default_timeout" env:"ORCH_TIMEOUT_DEFAULT" default:"30s"`
	MaxTimeout     time.Duration `json:"max_timeout" env:"ORCH_TIMEOUT_MAX" default:"5m"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" env:"ORCH_LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"ORCH_LOG_FORMAT" default:"json"`
	Output     string `json:"output" env:"ORCH_LOG_OUTPUT" default:"stdout"`
	TimeFormat string `json:"time_format" env:"ORCH_LOG_TIME_FORMAT" default:"2006-01-02T15:04:05.000Z07:00"`
}

// TelemetryConfig contains distributed tracing configuration. When
// disabled, run and node dispatch spans are no-ops.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" env:"ORCH_TELEMETRY_ENABLED" default:"false"`
	ServiceName string `json:"service_name" env:"ORCH_TELEMETRY_SERVICE_NAME" default:"orchestratord"`
	Endpoint    string `json:"endpoint" env:"ORCH_TELEMETRY_ENDPOINT"`
}

// EventsConfig contains the production EventSink transport (§6). With no
// Redis URL configured, runs still get the Prometheus exporter but no
// cross-instance fan-out — fine for a single-instance deployment, a gap
// for a multi-instance one (§4.A).
type EventsConfig struct {
	RedisURL     string `json:"redis_url" env:"ORCH_EVENTS_REDIS_URL"`
	RedisChannel string `json:"redis_channel" env:"ORCH_EVENTS_REDIS_CHANNEL" default:"orchestrator:events"`
}

// DevelopmentConfig contains settings for local development and testing.
//
// WARNING: Never enable development mode in production!
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"ORCH_DEV_MODE" default:"false"`
	MockStore    bool `json:"mock_store" env:"ORCH_DEV_MOCK_STORE" default:"false"`
	MockRegistry bool `json:"mock_registry" env:"ORCH_DEV_MOCK_REGISTRY" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"ORCH_DEV_DEBUG" default:"false"`
	PrettyLogs   bool `json:"pretty_logs" env:"ORCH_DEV_PRETTY_LOGS" default:"false"`
}

// Option is a functional option for configuring the orchestration core.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	cfg := &Config{
		Name:      "orchestratord",
		Port:      8080,
		Address:   "localhost",
		Namespace: "default",
		HTTP: HTTPConfig{
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
			ShutdownTimeout:   10 * time.Second,
			ReadyPath:         "/ready",
			CORS: CORSConfig{
				Enabled:        false,
				AllowedMethods: []string{"GET", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type"},
				MaxAge:         86400,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			TickInterval:   60 * time.Second,
			TickJitter:     5 * time.Second,
			RecoveryWindow: 60 * time.Second,
		},
		Pipeline: PipelineConfig{
			DefaultTimeout:        3600 * time.Second,
			DefaultMaxRetries:     3,
			DefaultBackoffBase:    1 * time.Second,
			DefaultBackoffMax:     60 * time.Second,
			CancelDrainWindow:     2 * time.Second,
			DisallowNestedActions: true,
		},
		Store: StoreConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			MigrateOnStart:  true,
		},
		Lock: LockConfig{
			SchedulerNS: 1,
		},
		Shutdown: ShutdownConfig{
			LBDrainWindow:   3 * time.Second,
			TaskDrainWindow: 2 * time.Second,
			ExecutorTimeout: 30 * time.Second,
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				Threshold:        5,
				Timeout:          60 * time.Second,
				HalfOpenRequests: 1,
			},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 1 * time.Second,
				MaxInterval:     60 * time.Second,
				Multiplier:      2.0,
			},
			Timeout: TimeoutConfig{
				DefaultTimeout: 30 * time.Second,
				MaxTimeout:     5 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: time.RFC3339Nano,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "orchestratord",
		},
		Events: EventsConfig{
			RedisChannel: "orchestrator:events",
		},
		Development: DevelopmentConfig{
			Enabled:      false,
			MockStore:    false,
			MockRegistry: false,
			DebugLogging: false,
			PrettyLogs:   false,
		},
	}

	cfg.DetectEnvironment()

	return cfg
}

// DetectEnvironment adjusts configuration based on the detected runtime
// environment. Called automatically by DefaultConfig.
func (c *Config) DetectEnvironment() {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		c.Address = "0.0.0.0"
		c.Logging.Format = "json"
	} else {
		if os.Getenv("ORCH_DEV_MODE") == "" {
			c.Development.Enabled = true
			c.Development.PrettyLogs = true
			c.Logging.Format = "text"
		}
	}
}

// LoadFromEnv loads configuration from environment variables. Environment
// variables take precedence over defaults but are overridden by functional
// options. It does not validate the result — NewConfig validates once, after
// options have had a chance to supply anything env left unset (store DSN,
// mock-store opt-in). Callers invoking LoadFromEnv directly should call
// Validate() themselves once configuration is complete.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("ORCH_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("ORCH_ID"); v != "" {
		c.ID = v
	}
	if v := os.Getenv("ORCH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		} else if c.logger != nil {
			c.logger.Warn("invalid port in environment variable", map[string]interface{}{
				"ORCH_PORT": v,
				"error":     err.Error(),
			})
		}
	}
	if v := os.Getenv("ORCH_ADDRESS"); v != "" {
		c.Address = v
	}
	if v := os.Getenv("ORCH_NAMESPACE"); v != "" {
		c.Namespace = v
	}

	if v := os.Getenv("ORCH_HTTP_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.ReadTimeout = d
		}
	}
	if v := os.Getenv("ORCH_HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.WriteTimeout = d
		}
	}
	if v := os.Getenv("ORCH_CORS_ENABLED"); v != "" {
		c.HTTP.CORS.Enabled = parseBool(v)
	}
	if v := os.Getenv("ORCH_CORS_ORIGINS"); v != "" {
		c.HTTP.CORS.AllowedOrigins = parseStringList(v)
	}

	if v := os.Getenv("ORCH_SCHEDULER_ENABLED"); v != "" {
		c.Scheduler.Enabled = parseBool(v)
	}
	if v := os.Getenv("ORCH_SCHEDULER_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Scheduler.TickInterval = d
		}
	}
	if v := os.Getenv("ORCH_SCHEDULER_RECOVERY_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Scheduler.RecoveryWindow = d
		}
	}

	if v := os.Getenv("ORCH_PIPELINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Pipeline.DefaultTimeout = d
		}
	}
	if v := os.Getenv("ORCH_PIPELINE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.DefaultMaxRetries = n
		}
	}

	if v := os.Getenv("ORCH_STORE_DSN"); v != "" {
		c.Store.DSN = v
	} else if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("ORCH_STORE_MIGRATE_ON_START"); v != "" {
		c.Store.MigrateOnStart = parseBool(v)
	}

	if v := os.Getenv("ORCH_LOCK_DSN"); v != "" {
		c.Lock.DSN = v
	} else if c.Lock.DSN == "" {
		c.Lock.DSN = c.Store.DSN
	}

	if v := os.Getenv("ORCH_CB_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resilience.CircuitBreaker.Threshold = n
		}
	}
	if v := os.Getenv("ORCH_CB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Resilience.CircuitBreaker.Timeout = d
		}
	}

	if v := os.Getenv("ORCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ORCH_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv("ORCH_DEV_MODE"); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Development.PrettyLogs = true
			c.Logging.Level = "debug"
			c.Logging.Format = "text"
		}
	}
	if v := os.Getenv("ORCH_DEV_DEBUG"); v != "" {
		c.Development.DebugLogging = parseBool(v)
		if c.Development.DebugLogging {
			c.Logging.Level = "debug"
		}
	}
	if v := os.Getenv("ORCH_DEV_MOCK_STORE"); v != "" {
		c.Development.MockStore = parseBool(v)
	}
	if v := os.Getenv("ORCH_DEV_MOCK_REGISTRY"); v != "" {
		c.Development.MockRegistry = parseBool(v)
	}

	if v := os.Getenv("ORCH_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("ORCH_TELEMETRY_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	}
	if v := os.Getenv("ORCH_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}

	if v := os.Getenv("ORCH_EVENTS_REDIS_URL"); v != "" {
		c.Events.RedisURL = v
	}
	if v := os.Getenv("ORCH_EVENTS_REDIS_CHANNEL"); v != "" {
		c.Events.RedisChannel = v
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file. File settings
// override environment variables but are overridden by functional options.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	if !filepath.IsAbs(cleanPath) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cleanPath = filepath.Join(wd, cleanPath)
	}

	data, err := os.ReadFile(filepath.Clean(cleanPath)) // nosec G304 -- path is validated above
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %w", ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %w", ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid port: %d", c.Port),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Name == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "name is required",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Store.DSN == "" && !c.Development.MockStore {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "store DSN is required (or use mock store in development)",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Scheduler.TickInterval <= 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "scheduler tick interval must be positive",
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Pipeline.DefaultMaxRetries < 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "pipeline default max retries must not be negative",
			Err:     ErrInvalidConfiguration,
		}
	}

	return nil
}

// Helper functions

func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional Options

// WithName sets the process name used for identification in logs.
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithPort sets the readiness-probe HTTP server port.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port < 1 || port > 65535 {
			return &FrameworkError{
				Op:      "WithPort",
				Kind:    "config",
				Message: fmt.Sprintf("invalid port: %d", port),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Port = port
		return nil
	}
}

// WithAddress sets the bind address for the HTTP server.
func WithAddress(address string) Option {
	return func(c *Config) error {
		c.Address = address
		return nil
	}
}

// WithNamespace sets the logical namespace for multi-tenancy.
func WithNamespace(namespace string) Option {
	return func(c *Config) error {
		c.Namespace = namespace
		return nil
	}
}

// WithCORS enables CORS with specific allowed origins on the readiness
// HTTP surface.
func WithCORS(origins []string, credentials bool) Option {
	return func(c *Config) error {
		c.HTTP.CORS.Enabled = true
		c.HTTP.CORS.AllowedOrigins = origins
		c.HTTP.CORS.AllowCredentials = credentials
		return nil
	}
}

// WithStoreDSN sets the relational store connection string, used for both
// CRUD persistence and (absent a separate WithLockDSN) the advisory lock.
func WithStoreDSN(dsn string) Option {
	return func(c *Config) error {
		c.Store.DSN = dsn
		if c.Lock.DSN == "" {
			c.Lock.DSN = dsn
		}
		return nil
	}
}

// WithLockDSN sets a dedicated connection string for the advisory lock
// pool, when it must differ from the CRUD store (e.g. pgbouncer transaction
// pooling breaks session-scoped primitives but pgx's xact-scoped advisory
// lock tolerates it; a separate DSN is still supported for direct connections).
func WithLockDSN(dsn string) Option {
	return func(c *Config) error {
		c.Lock.DSN = dsn
		return nil
	}
}

// WithSchedulerTick sets the Scheduler Loop's tick interval and jitter.
func WithSchedulerTick(interval, jitter time.Duration) Option {
	return func(c *Config) error {
		if interval <= 0 {
			return &FrameworkError{
				Op:      "WithSchedulerTick",
				Kind:    "config",
				Message: "tick interval must be positive",
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Scheduler.TickInterval = interval
		c.Scheduler.TickJitter = jitter
		return nil
	}
}

// WithSchedulerDisabled turns off the Scheduler Loop entirely, useful for
// a process that only serves the Pipeline Executor on demand.
func WithSchedulerDisabled() Option {
	return func(c *Config) error {
		c.Scheduler.Enabled = false
		return nil
	}
}

// WithPipelineDefaults overrides the PipelineDefinition-level defaults
// applied when a stored definition omits them.
func WithPipelineDefaults(timeout time.Duration, maxRetries int, backoffBase, backoffMax time.Duration) Option {
	return func(c *Config) error {
		c.Pipeline.DefaultTimeout = timeout
		c.Pipeline.DefaultMaxRetries = maxRetries
		c.Pipeline.DefaultBackoffBase = backoffBase
		c.Pipeline.DefaultBackoffMax = backoffMax
		return nil
	}
}

// WithCircuitBreaker configures the per-node breaker defaults (§4.B).
func WithCircuitBreaker(threshold int, timeout time.Duration) Option {
	return func(c *Config) error {
		c.Resilience.CircuitBreaker.Enabled = true
		c.Resilience.CircuitBreaker.Threshold = threshold
		c.Resilience.CircuitBreaker.Timeout = timeout
		return nil
	}
}

// WithRetry configures automatic retry with exponential backoff.
func WithRetry(maxAttempts int, initialInterval time.Duration) Option {
	return func(c *Config) error {
		c.Resilience.Retry.MaxAttempts = maxAttempts
		c.Resilience.Retry.InitialInterval = initialInterval
		return nil
	}
}

// WithShutdownWindows overrides the Shutdown Controller's drain windows
// (§4.I).
func WithShutdownWindows(lbDrain, taskDrain time.Duration) Option {
	return func(c *Config) error {
		c.Shutdown.LBDrainWindow = lbDrain
		c.Shutdown.TaskDrainWindow = taskDrain
		return nil
	}
}

// WithLogLevel sets the minimum logging level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the logging output format ("json" or "text").
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithConfigFile loads configuration from a JSON or YAML file.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// WithDevelopmentMode enables development mode with developer-friendly
// defaults (pretty logs, debug level, mock store/registry tolerated).
//
// WARNING: Never enable in production!
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Development.PrettyLogs = true
			c.Logging.Format = "text"
			c.Logging.Level = "debug"
		}
		return nil
	}
}

// WithMockStore allows the core to start without a store DSN, backing the
// store port with an in-memory stand-in. Tests only.
func WithMockStore(enabled bool) Option {
	return func(c *Config) error {
		c.Development.MockStore = enabled
		return nil
	}
}

// WithLogger sets a logger for configuration operations. If not set,
// NewConfig constructs a zap-backed logger from the Logging section.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// NewConfig creates a new configuration with the provided options.
// Configuration is applied in the following order:
//  1. Default values from DefaultConfig()
//  2. Environment variables via LoadFromEnv()
//  3. Functional options (highest priority)
//  4. Validation via Validate()
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		logger, err := NewZapLogger(cfg.Logging, cfg.Development, cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		cfg.logger = logger
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Logger returns the configuration's logger, constructing one lazily via
// NewZapLogger if NewConfig was bypassed (e.g. DefaultConfig used directly
// in a test).
func (c *Config) Logger() Logger {
	if c.logger == nil {
		logger, err := NewZapLogger(c.Logging, c.Development, c.Name)
		if err != nil {
			return &NoOpLogger{}
		}
		c.logger = logger
	}
	return c.logger
}
