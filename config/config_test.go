package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadFileMissingOptional(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), true)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Engine.MaxConcurrentStrategies != Default().Engine.MaxConcurrentStrategies {
		t.Fatal("missing optional file should return defaults")
	}
}

func TestLoadFileMissingRequired(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), false); err == nil {
		t.Fatal("expected error for missing required file")
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sniper.yaml")
	body := `
environment: dev
engine:
  max_concurrent_strategies: 4
  strategy:
    buy_amount_lamports: 25000000
    hold_duration: 45s
filter:
  min_funding_lamports: 500000000
budget:
  buy_compute_units: 70000
  cache_ttl: 10s
stream:
  url: wss://feed.test/ws
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadFile(path, false)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Environment != EnvDev {
		t.Fatalf("environment = %q", cfg.Environment)
	}
	if cfg.Engine.MaxConcurrentStrategies != 4 {
		t.Fatalf("max strategies = %d", cfg.Engine.MaxConcurrentStrategies)
	}
	if cfg.Engine.Strategy.BuyAmountLamports != 25_000_000 {
		t.Fatalf("buy amount = %d", cfg.Engine.Strategy.BuyAmountLamports)
	}
	if cfg.Engine.Strategy.HoldDuration != 45*time.Second {
		t.Fatalf("hold duration = %v", cfg.Engine.Strategy.HoldDuration)
	}
	if cfg.Stream.URL != "wss://feed.test/ws" {
		t.Fatalf("stream url = %q", cfg.Stream.URL)
	}
	if cfg.Filter.MinFundingLamports != 500_000_000 {
		t.Fatalf("min funding = %d", cfg.Filter.MinFundingLamports)
	}
	if cfg.Budget.BuyComputeUnits != 70_000 || cfg.Budget.CacheTTL != 10*time.Second {
		t.Fatalf("budget = %+v", cfg.Budget)
	}
	// Untouched sections keep defaults.
	if len(cfg.Execution.Backends) != 2 {
		t.Fatalf("backends = %d", len(cfg.Execution.Backends))
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SNIPER_ENV", "staging")
	t.Setenv("SNIPER_FEED_URL", "wss://env.test/ws")
	t.Setenv("SNIPER_MAX_STRATEGIES", "7")
	t.Setenv("SNIPER_HOLD_DURATION", "90s")
	t.Setenv("SNIPER_OTLP_ENDPOINT", "collector:4318")

	cfg := FromEnv(Default())
	if cfg.Environment != EnvStaging {
		t.Fatalf("environment = %q", cfg.Environment)
	}
	if cfg.Stream.URL != "wss://env.test/ws" {
		t.Fatalf("stream url = %q", cfg.Stream.URL)
	}
	if cfg.Engine.MaxConcurrentStrategies != 7 {
		t.Fatalf("max strategies = %d", cfg.Engine.MaxConcurrentStrategies)
	}
	if cfg.Engine.Strategy.HoldDuration != 90*time.Second {
		t.Fatalf("hold duration = %v", cfg.Engine.Strategy.HoldDuration)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.OTLPEndpoint != "collector:4318" {
		t.Fatalf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Settings)
	}{
		{"no stream url", func(s *Settings) { s.Stream.URL = "" }},
		{"no rpc endpoint", func(s *Settings) { s.Chain.RPCEndpoint = "" }},
		{"no backends", func(s *Settings) { s.Execution.Backends = nil }},
		{"duplicate backend", func(s *Settings) {
			s.Execution.Backends = append(s.Execution.Backends, s.Execution.Backends[0])
		}},
		{"zero buy amount", func(s *Settings) { s.Engine.Strategy.BuyAmountLamports = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mut(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
