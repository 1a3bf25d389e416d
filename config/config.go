// Package config centralises runtime configuration for the sniper daemon.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/solrush/sniper/internal/budget"
	"github.com/solrush/sniper/internal/engine"
	"github.com/solrush/sniper/internal/executor"
	"github.com/solrush/sniper/internal/filter"
	"github.com/solrush/sniper/internal/stream"
)

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// ChainSettings configures the chain reference cache.
type ChainSettings struct {
	RPCEndpoint     string        `yaml:"rpc_endpoint"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	StalenessBound  time.Duration `yaml:"staleness_bound"`
}

// TelemetrySettings configures metric export.
type TelemetrySettings struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// ExecutionSettings configures the backend race and health sweeps.
type ExecutionSettings struct {
	Backends      []executor.HTTPConfig `yaml:"backends"`
	HealthTTL     time.Duration         `yaml:"health_ttl"`
	ProbeTimeout  time.Duration         `yaml:"probe_timeout"`
	SweepInterval time.Duration         `yaml:"sweep_interval"`
}

// Settings is the configuration tree loaded from defaults, an optional YAML
// file, and environment overrides, in that order.
type Settings struct {
	Environment Environment       `yaml:"environment"`
	Engine      engine.Config     `yaml:"engine"`
	Filter      filter.Criteria   `yaml:"filter"`
	Budget      budget.Config     `yaml:"budget"`
	Stream      stream.Config     `yaml:"stream"`
	Chain       ChainSettings     `yaml:"chain"`
	Execution   ExecutionSettings `yaml:"execution"`
	Telemetry   TelemetrySettings `yaml:"telemetry"`
	Debug       bool              `yaml:"debug"`
}

// Default returns the daemon's default configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Engine:      engine.DefaultConfig(),
		Filter:      filter.DefaultSniperCriteria(),
		Budget:      budget.DefaultConfig(),
		Stream: stream.Config{
			URL:            "wss://events.solrush.dev/feed",
			Programs:       []string{"pump", "launchpad"},
			ConnectTimeout: 10 * time.Second,
			WriteTimeout:   5 * time.Second,
		},
		Chain: ChainSettings{
			RPCEndpoint:     "https://api.mainnet-beta.solana.com",
			RefreshInterval: 2 * time.Second,
			StalenessBound:  30 * time.Second,
		},
		Execution: ExecutionSettings{
			Backends: []executor.HTTPConfig{
				{Name: "primary", Endpoint: "https://relay-a.solrush.dev", RequestTimeout: 5 * time.Second, MaxAttempts: 3, RateLimit: 20, Burst: 5},
				{Name: "fallback", Endpoint: "https://relay-b.solrush.dev", RequestTimeout: 5 * time.Second, MaxAttempts: 3, RateLimit: 10, Burst: 2},
			},
			HealthTTL:     30 * time.Second,
			ProbeTimeout:  2 * time.Second,
			SweepInterval: 30 * time.Second,
		},
		Telemetry: TelemetrySettings{
			Enabled:      false,
			OTLPEndpoint: "localhost:4318",
			ServiceName:  "sniperd",
		},
		Debug: false,
	}
}

// LoadFile overlays YAML from path onto the defaults. A missing file is not
// an error when optional is true.
func LoadFile(path string, optional bool) (Settings, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv applies environment variable overrides onto the given settings.
func FromEnv(cfg Settings) Settings {
	if v := strings.TrimSpace(os.Getenv("SNIPER_ENV")); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("SNIPER_FEED_URL")); v != "" {
		cfg.Stream.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("SNIPER_RPC_ENDPOINT")); v != "" {
		cfg.Chain.RPCEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("SNIPER_MAX_STRATEGIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.MaxConcurrentStrategies = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SNIPER_BUY_AMOUNT_LAMPORTS")); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.Engine.Strategy.BuyAmountLamports = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SNIPER_HOLD_DURATION")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			cfg.Engine.Strategy.HoldDuration = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("SNIPER_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
		cfg.Telemetry.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("SNIPER_DEBUG")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	return cfg
}

// Validate rejects settings the daemon cannot run with.
func (s Settings) Validate() error {
	if s.Stream.URL == "" {
		return fmt.Errorf("config: stream url is required")
	}
	if s.Chain.RPCEndpoint == "" {
		return fmt.Errorf("config: chain rpc endpoint is required")
	}
	if len(s.Execution.Backends) == 0 {
		return fmt.Errorf("config: at least one execution backend is required")
	}
	seen := make(map[string]struct{}, len(s.Execution.Backends))
	for _, b := range s.Execution.Backends {
		if b.Name == "" || b.Endpoint == "" {
			return fmt.Errorf("config: backend name and endpoint are required")
		}
		if _, dup := seen[b.Name]; dup {
			return fmt.Errorf("config: duplicate backend name %q", b.Name)
		}
		seen[b.Name] = struct{}{}
	}
	if s.Engine.MaxConcurrentStrategies <= 0 {
		return fmt.Errorf("config: max concurrent strategies must be positive")
	}
	if s.Engine.Strategy.BuyAmountLamports == 0 {
		return fmt.Errorf("config: buy amount must be nonzero")
	}
	return nil
}
