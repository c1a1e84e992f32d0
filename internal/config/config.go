package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TenonConfig represents the top-level tenon.yml configuration.
type TenonConfig struct {
	Version     string                  `yaml:"version"`
	Session     string                  `yaml:"session"`
	Redis       RedisConfig             `yaml:"redis"`
	Store       *StoreConfig            `yaml:"store,omitempty"`
	Bus         *BusConfig              `yaml:"bus,omitempty"`
	Coordinator *CoordinatorConfig      `yaml:"coordinator,omitempty"`
	Workers     map[string]WorkerConfig `yaml:"workers,omitempty"`
	Rules       *RulesConfig            `yaml:"rules,omitempty"`
}

// RedisConfig locates the Redis instance backing the drawing board.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// StoreConfig tunes the drawing board.
type StoreConfig struct {
	LockTTLMs        int `yaml:"lock_ttl_ms,omitempty"`       // Default: 5000
	HistoryCapacity  int `yaml:"history_capacity,omitempty"`  // Default: 100
	SnapshotInterval int `yaml:"snapshot_interval,omitempty"` // Default: every 10 versions
	DebounceMs       int `yaml:"debounce_ms,omitempty"`       // Default: 50
}

// BusConfig tunes message delivery.
type BusConfig struct {
	TickMs           int `yaml:"tick_ms,omitempty"`            // Default: 10
	BatchSize        int `yaml:"batch_size,omitempty"`         // Default: 8
	MaxRetries       int `yaml:"max_retries,omitempty"`        // Default: 3
	DefaultTimeoutMs int `yaml:"default_timeout_ms,omitempty"` // Default: 5000
	CacheTTLMs       int `yaml:"cache_ttl_ms,omitempty"`       // Default: 300000
}

// CoordinatorConfig tunes turn processing.
type CoordinatorConfig struct {
	MaxResolutionPasses int `yaml:"max_resolution_passes,omitempty"` // Default: 3
	MaxTransactRetries  int `yaml:"max_transact_retries,omitempty"`  // Default: 3
	MaxVariations       int `yaml:"max_variations,omitempty"`        // Default: 3
}

// WorkerConfig configures one worker registration.
type WorkerConfig struct {
	Priority       int            `yaml:"priority"`
	Defaults       map[string]any `yaml:"defaults,omitempty"`
	SafetyCritical bool           `yaml:"safety_critical,omitempty"`
	Disabled       bool           `yaml:"disabled,omitempty"`
}

// RulesConfig overrides the rule engine's data tables.
type RulesConfig struct {
	// SpanTable maps material -> thickness label -> max shelf span.
	SpanTable map[string]map[string]float64 `yaml:"span_table,omitempty"`
}

// builtinWorkers are the default registrations applied when tenon.yml does
// not configure a worker section. Priorities order both queue drain and
// two-way conflict arbitration.
func builtinWorkers() map[string]WorkerConfig {
	return map[string]WorkerConfig{
		"validation": {Priority: 40, SafetyCritical: true},
		"dimension":  {Priority: 30},
		"material":   {Priority: 20, Defaults: map[string]any{"materials": []any{"plywood"}, "boardThickness": 0.75}},
		"joinery":    {Priority: 10},
	}
}

// Default returns the configuration used when no tenon.yml is present.
func Default() *TenonConfig {
	cfg := &TenonConfig{
		Version: "1.0",
		Session: "workshop",
		Redis:   RedisConfig{Addr: "localhost:6379"},
	}
	// Validation fills in the worker defaults.
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// Validate performs strict validation and fills in defaults.
func (c *TenonConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Session == "" {
		return fmt.Errorf("session name is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	if c.Workers == nil {
		c.Workers = builtinWorkers()
	}
	for name, w := range c.Workers {
		if err := w.Validate(name); err != nil {
			return err
		}
	}

	// At least one enabled safety-critical validator must remain, or turn
	// validation would silently pass everything.
	hasValidator := false
	for _, w := range c.Workers {
		if w.SafetyCritical && !w.Disabled {
			hasValidator = true
			break
		}
	}
	if !hasValidator {
		return fmt.Errorf("at least one enabled safety_critical worker is required")
	}

	if c.Store != nil {
		if c.Store.HistoryCapacity < 0 {
			return fmt.Errorf("store.history_capacity must be >= 0, got %d", c.Store.HistoryCapacity)
		}
		if c.Store.SnapshotInterval < 0 {
			return fmt.Errorf("store.snapshot_interval must be >= 0, got %d", c.Store.SnapshotInterval)
		}
	}

	if c.Bus != nil && c.Bus.MaxRetries < 0 {
		return fmt.Errorf("bus.max_retries must be >= 0, got %d", c.Bus.MaxRetries)
	}

	if c.Coordinator != nil && c.Coordinator.MaxResolutionPasses < 0 {
		return fmt.Errorf("coordinator.max_resolution_passes must be >= 0, got %d", c.Coordinator.MaxResolutionPasses)
	}

	if c.Rules != nil {
		for material, byThickness := range c.Rules.SpanTable {
			for label, span := range byThickness {
				if span <= 0 {
					return fmt.Errorf("rules.span_table[%s][%s] must be > 0, got %v", material, label, span)
				}
			}
		}
	}

	return nil
}

// Validate performs validation on a single worker configuration.
func (w *WorkerConfig) Validate(name string) error {
	if name == "" {
		return fmt.Errorf("worker name cannot be empty")
	}
	if w.Priority < 0 {
		return fmt.Errorf("worker '%s': priority must be >= 0, got %d", name, w.Priority)
	}
	for path := range w.Defaults {
		if path == "" {
			return fmt.Errorf("worker '%s': default update path cannot be empty", name)
		}
	}
	return nil
}

// Load reads and validates tenon.yml from the specified path.
func Load(path string) (*TenonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config TenonConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
