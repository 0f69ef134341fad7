package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Name != "orchestratord" {
		t.Errorf("Name = %q, want %q", cfg.Name, "orchestratord")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Scheduler.TickInterval != 60*time.Second {
		t.Errorf("Scheduler.TickInterval = %v, want 60s", cfg.Scheduler.TickInterval)
	}
	if cfg.Pipeline.DefaultTimeout != 3600*time.Second {
		t.Errorf("Pipeline.DefaultTimeout = %v, want 3600s", cfg.Pipeline.DefaultTimeout)
	}
	if cfg.Pipeline.DefaultMaxRetries != 3 {
		t.Errorf("Pipeline.DefaultMaxRetries = %d, want 3", cfg.Pipeline.DefaultMaxRetries)
	}
	if cfg.Resilience.CircuitBreaker.Threshold != 5 {
		t.Errorf("CircuitBreaker.Threshold = %d, want 5", cfg.Resilience.CircuitBreaker.Threshold)
	}
	if cfg.Resilience.CircuitBreaker.Timeout != 60*time.Second {
		t.Errorf("CircuitBreaker.Timeout = %v, want 60s", cfg.Resilience.CircuitBreaker.Timeout)
	}
	if cfg.Lock.SchedulerNS != 1 {
		t.Errorf("Lock.SchedulerNS = %d, want 1", cfg.Lock.SchedulerNS)
	}
}

func TestDetectEnvironment(t *testing.T) {
	t.Run("no kubernetes env, no explicit dev mode", func(t *testing.T) {
		os.Unsetenv("KUBERNETES_SERVICE_HOST")
		os.Unsetenv("ORCH_DEV_MODE")
		cfg := &Config{}
		cfg.DetectEnvironment()
		if !cfg.Development.Enabled {
			t.Error("expected development mode to default on outside Kubernetes")
		}
		if cfg.Logging.Format != "text" {
			t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
		}
	})

	t.Run("kubernetes env", func(t *testing.T) {
		os.Setenv("KUBERNETES_SERVICE_HOST", "10.0.0.1")
		defer os.Unsetenv("KUBERNETES_SERVICE_HOST")
		cfg := &Config{}
		cfg.DetectEnvironment()
		if cfg.Address != "0.0.0.0" {
			t.Errorf("Address = %q, want 0.0.0.0", cfg.Address)
		}
		if cfg.Logging.Format != "json" {
			t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
		}
	})
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("ORCH_NAME", "test-orchestrator")
	os.Setenv("ORCH_PORT", "9090")
	os.Setenv("ORCH_STORE_DSN", "postgres://localhost/test")
	os.Setenv("ORCH_SCHEDULER_TICK_INTERVAL", "30s")
	defer func() {
		os.Unsetenv("ORCH_NAME")
		os.Unsetenv("ORCH_PORT")
		os.Unsetenv("ORCH_STORE_DSN")
		os.Unsetenv("ORCH_SCHEDULER_TICK_INTERVAL")
	}()

	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Name != "test-orchestrator" {
		t.Errorf("Name = %q, want test-orchestrator", cfg.Name)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Store.DSN != "postgres://localhost/test" {
		t.Errorf("Store.DSN = %q, want postgres://localhost/test", cfg.Store.DSN)
	}
	if cfg.Lock.DSN != cfg.Store.DSN {
		t.Errorf("Lock.DSN should default to Store.DSN when unset, got %q", cfg.Lock.DSN)
	}
	if cfg.Scheduler.TickInterval != 30*time.Second {
		t.Errorf("Scheduler.TickInterval = %v, want 30s", cfg.Scheduler.TickInterval)
	}
}

func TestLoadFromEnv_EventsRedisURL(t *testing.T) {
	os.Setenv("ORCH_EVENTS_REDIS_URL", "redis://localhost:6379/0")
	os.Setenv("ORCH_EVENTS_REDIS_CHANNEL", "custom:events")
	defer func() {
		os.Unsetenv("ORCH_EVENTS_REDIS_URL")
		os.Unsetenv("ORCH_EVENTS_REDIS_CHANNEL")
	}()

	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Events.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Events.RedisURL = %q, want redis://localhost:6379/0", cfg.Events.RedisURL)
	}
	if cfg.Events.RedisChannel != "custom:events" {
		t.Errorf("Events.RedisChannel = %q, want custom:events", cfg.Events.RedisChannel)
	}
}

func TestLoadFromEnv_DoesNotValidate(t *testing.T) {
	os.Unsetenv("ORCH_STORE_DSN")
	os.Unsetenv("DATABASE_URL")

	cfg := DefaultConfig()
	cfg.Store.DSN = ""
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() should not validate, got error = %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.json")
		if err := os.WriteFile(path, []byte(`{"name":"from-json","port":9999}`), 0o600); err != nil {
			t.Fatal(err)
		}
		cfg := DefaultConfig()
		if err := cfg.LoadFromFile(path); err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}
		if cfg.Name != "from-json" {
			t.Errorf("Name = %q, want from-json", cfg.Name)
		}
		if cfg.Port != 9999 {
			t.Errorf("Port = %d, want 9999", cfg.Port)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		content := "name: from-yaml\nport: 7777\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		cfg := DefaultConfig()
		if err := cfg.LoadFromFile(path); err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}
		if cfg.Name != "from-yaml" {
			t.Errorf("Name = %q, want from-yaml", cfg.Name)
		}
		if cfg.Port != 7777 {
			t.Errorf("Port = %d, want 7777", cfg.Port)
		}
	})

	t.Run("unsupported extension", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.toml")
		if err := os.WriteFile(path, []byte("name = 'x'"), 0o600); err != nil {
			t.Fatal(err)
		}
		cfg := DefaultConfig()
		if err := cfg.LoadFromFile(path); err == nil {
			t.Error("expected error for unsupported extension")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name: "valid config with store DSN",
			mutate: func(c *Config) {
				c.Store.DSN = "postgres://localhost/x"
			},
			wantErr: false,
		},
		{
			name: "valid config with mock store",
			mutate: func(c *Config) {
				c.Development.MockStore = true
			},
			wantErr: false,
		},
		{
			name: "missing store DSN",
			mutate: func(c *Config) {
				c.Store.DSN = ""
				c.Development.MockStore = false
			},
			wantErr: true,
		},
		{
			name: "invalid port",
			mutate: func(c *Config) {
				c.Store.DSN = "x"
				c.Port = 0
			},
			wantErr: true,
		},
		{
			name: "missing name",
			mutate: func(c *Config) {
				c.Store.DSN = "x"
				c.Name = ""
			},
			wantErr: true,
		},
		{
			name: "non-positive scheduler tick",
			mutate: func(c *Config) {
				c.Store.DSN = "x"
				c.Scheduler.TickInterval = 0
			},
			wantErr: true,
		},
		{
			name: "negative max retries",
			mutate: func(c *Config) {
				c.Store.DSN = "x"
				c.Pipeline.DefaultMaxRetries = -1
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewConfigAppliesOptionsAfterEnv(t *testing.T) {
	os.Unsetenv("ORCH_STORE_DSN")
	os.Unsetenv("DATABASE_URL")

	cfg, err := NewConfig(
		WithName("test-svc"),
		WithStoreDSN("postgres://localhost/orchestrator"),
	)
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}
	if cfg.Name != "test-svc" {
		t.Errorf("Name = %q, want test-svc", cfg.Name)
	}
	if cfg.Store.DSN != "postgres://localhost/orchestrator" {
		t.Errorf("Store.DSN = %q, want set DSN", cfg.Store.DSN)
	}
	if cfg.Lock.DSN != cfg.Store.DSN {
		t.Errorf("Lock.DSN should follow Store.DSN when not set separately")
	}
}

func TestNewConfigWithMockStore(t *testing.T) {
	os.Unsetenv("ORCH_STORE_DSN")
	os.Unsetenv("DATABASE_URL")

	cfg, err := NewConfig(WithName("mock-svc"), WithMockStore(true))
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}
	if !cfg.Development.MockStore {
		t.Error("expected Development.MockStore to be true")
	}
}

func TestNewConfigFailsWithoutStoreOrMock(t *testing.T) {
	os.Unsetenv("ORCH_STORE_DSN")
	os.Unsetenv("DATABASE_URL")

	_, err := NewConfig(WithName("no-store-svc"))
	if err == nil {
		t.Error("expected NewConfig to fail without a store DSN or mock store")
	}
}

func TestFunctionalOptions(t *testing.T) {
	os.Setenv("ORCH_STORE_DSN", "postgres://localhost/x")
	defer os.Unsetenv("ORCH_STORE_DSN")

	cfg, err := NewConfig(
		WithPort(9000),
		WithAddress("0.0.0.0"),
		WithNamespace("team-a"),
		WithCORS([]string{"https://example.com"}, true),
		WithLockDSN("postgres://localhost/lock"),
		WithSchedulerTick(15*time.Second, 2*time.Second),
		WithPipelineDefaults(time.Hour, 5, 2*time.Second, 30*time.Second),
		WithCircuitBreaker(10, 45*time.Second),
		WithRetry(5, 500*time.Millisecond),
		WithShutdownWindows(5*time.Second, 3*time.Second),
		WithLogLevel("debug"),
		WithLogFormat("text"),
	)
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.Address != "0.0.0.0" {
		t.Errorf("Address = %q, want 0.0.0.0", cfg.Address)
	}
	if cfg.Namespace != "team-a" {
		t.Errorf("Namespace = %q, want team-a", cfg.Namespace)
	}
	if !cfg.HTTP.CORS.Enabled || !cfg.HTTP.CORS.AllowCredentials {
		t.Error("expected CORS enabled with credentials")
	}
	if cfg.Lock.DSN != "postgres://localhost/lock" {
		t.Errorf("Lock.DSN = %q, want dedicated lock DSN", cfg.Lock.DSN)
	}
	if cfg.Scheduler.TickInterval != 15*time.Second || cfg.Scheduler.TickJitter != 2*time.Second {
		t.Error("scheduler tick/jitter not applied")
	}
	if cfg.Pipeline.DefaultTimeout != time.Hour || cfg.Pipeline.DefaultMaxRetries != 5 {
		t.Error("pipeline defaults not applied")
	}
	if cfg.Resilience.CircuitBreaker.Threshold != 10 || cfg.Resilience.CircuitBreaker.Timeout != 45*time.Second {
		t.Error("circuit breaker options not applied")
	}
	if cfg.Resilience.Retry.MaxAttempts != 5 {
		t.Error("retry options not applied")
	}
	if cfg.Shutdown.LBDrainWindow != 5*time.Second || cfg.Shutdown.TaskDrainWindow != 3*time.Second {
		t.Error("shutdown windows not applied")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Error("logging options not applied")
	}
}

func TestWithPortRejectsOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	if err := WithPort(0)(cfg); err == nil {
		t.Error("expected error for port 0")
	}
	if err := WithPort(70000)(cfg); err == nil {
		t.Error("expected error for port > 65535")
	}
}

func TestWithSchedulerTickRejectsNonPositive(t *testing.T) {
	cfg := DefaultConfig()
	if err := WithSchedulerTick(0, time.Second)(cfg); err == nil {
		t.Error("expected error for non-positive tick interval")
	}
}

func TestWithLogger(t *testing.T) {
	logger := &NoOpLogger{}
	cfg := DefaultConfig()
	cfg.Store.DSN = "x"
	if err := WithLogger(logger)(cfg); err != nil {
		t.Fatalf("WithLogger() error = %v", err)
	}
	if cfg.Logger() != logger {
		t.Error("Logger() should return the injected logger")
	}
}

func TestConfigLoggerLazyConstruction(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Logger() == nil {
		t.Error("Logger() should never return nil")
	}
}

func TestParseHelpers(t *testing.T) {
	t.Run("parseStringList", func(t *testing.T) {
		got := parseStringList("a, b ,, c")
		want := []string{"a", "b", "c"}
		if len(got) != len(want) {
			t.Fatalf("parseStringList() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("parseStringList()[%d] = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("parseBool", func(t *testing.T) {
		for _, v := range []string{"true", "1", "yes", "on", "TRUE"} {
			if !parseBool(v) {
				t.Errorf("parseBool(%q) = false, want true", v)
			}
		}
		for _, v := range []string{"false", "0", "no", "", "off"} {
			if parseBool(v) {
				t.Errorf("parseBool(%q) = true, want false", v)
			}
		}
	})
}
