package config

import (
	"testing"
	"time"
)

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Driver != "postgres" {
		t.Fatalf("expected default driver postgres, got %s", cfg.Driver)
	}
	if cfg.HalfLifeDays != 30 {
		t.Fatalf("expected default half-life 30, got %v", cfg.HalfLifeDays)
	}
	if cfg.Tolerance != 0.1 {
		t.Fatalf("expected default tolerance 0.1, got %v", cfg.Tolerance)
	}
	if cfg.ReconcileEvery != time.Minute {
		t.Fatalf("expected default reconcile interval 1m, got %s", cfg.ReconcileEvery)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ATTUNE_DRIVER", "sqlite")
	t.Setenv("ATTUNE_SQLITE_PATH", "/tmp/attune-test.db")
	t.Setenv("ATTUNE_LEARNING_RATE", "0.35")
	t.Setenv("ATTUNE_PROFILE_REFRESH_INTERVAL", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %s", cfg.Driver)
	}
	if cfg.LearningRate != 0.35 {
		t.Fatalf("expected learning rate 0.35, got %v", cfg.LearningRate)
	}
	if cfg.ProfileRefreshEvery != 5*time.Minute {
		t.Fatalf("expected 5m refresh interval, got %s", cfg.ProfileRefreshEvery)
	}
}

func TestLoadFailsOnUnknownDriver(t *testing.T) {
	t.Setenv("ATTUNE_DRIVER", "mysql")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail with unknown driver")
	}
}

func TestValidateRejectsOutOfRangeKnobs(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"tolerance above one", func(c *Config) { c.Tolerance = 1.5 }},
		{"negative learning rate", func(c *Config) { c.LearningRate = -0.1 }},
		{"threshold above one", func(c *Config) { c.OutcomeThreshold = 2 }},
		{"zero half-life", func(c *Config) { c.HalfLifeDays = 0 }},
		{"zero reconcile batch", func(c *Config) { c.ReconcileBatch = 0 }},
		{"zero profile concurrency", func(c *Config) { c.ProfileConcurrency = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.mut(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEnvFloatFallback(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "abc")
	if v := envFloat("TEST_FLOAT_BAD", 0.25); v != 0.25 {
		t.Fatalf("expected fallback 0.25, got %v", v)
	}
	t.Setenv("TEST_FLOAT", "0.75")
	if v := envFloat("TEST_FLOAT", 0); v != 0.75 {
		t.Fatalf("expected 0.75, got %v", v)
	}
}

func TestEnvDurationFallback(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	if v := envDuration("TEST_DUR", 0); v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
	if v := envDuration("TEST_DUR_MISSING", time.Minute); v != time.Minute {
		t.Fatalf("expected fallback 1m, got %s", v)
	}
}
