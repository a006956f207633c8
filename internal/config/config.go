// Package config loads the engine configuration from YAML.
//
// Freshness TTLs, approval policy, retry tuning and sweep timeouts are all
// per-deployment knobs, never hardcoded in the components. Components
// receive the loaded Config by injection.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tollgate/tollgate/internal/model"
)

// Duration wraps time.Duration so YAML files can use "30m" / "6h" forms.
type Duration time.Duration

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err == nil {
		parsed, perr := time.ParseDuration(raw)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := node.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration value at line %d", node.Line)
	}
	*d = Duration(ns)
	return nil
}

// MarshalYAML emits the string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// DocumentTypeConfig tunes the cache behavior for one document type.
type DocumentTypeConfig struct {
	// FreshnessTTL is how long a cached entry is served without any
	// staleness consideration.
	FreshnessTTL Duration `yaml:"freshness_ttl"`

	// Endpoint is the paid lookup endpoint for this type.
	Endpoint string `yaml:"endpoint"`

	// HTTPMethod for the paid lookup. Defaults to GET.
	HTTPMethod string `yaml:"http_method"`

	// HasStalenessEndpoint is true when a free companion endpoint can
	// report the source's last-modified time. Types without one always
	// fall through to the paid path once past TTL.
	HasStalenessEndpoint bool `yaml:"has_staleness_endpoint"`

	// AutoApprove lets refetch proposals for this type skip human
	// approval and execute inline.
	AutoApprove bool `yaml:"auto_approve"`
}

// RetryConfig tunes the store retry coordinator.
type RetryConfig struct {
	Attempts  int      `yaml:"attempts"`
	BaseDelay Duration `yaml:"base_delay"`
}

// StagingConfig tunes the staged-action store.
type StagingConfig struct {
	// ReversibleTTL is the confirmation window for cheap/reversible
	// actions; IrreversibleTTL for everything else.
	ReversibleTTL   Duration `yaml:"reversible_ttl"`
	IrreversibleTTL Duration `yaml:"irreversible_ttl"`

	// ExecutionTimeout is how long an action may sit in executing before
	// the recovery sweep treats it as crashed.
	ExecutionTimeout Duration `yaml:"execution_timeout"`
}

// BillingConfig tunes the approval queue.
type BillingConfig struct {
	// ExecutionTimeout is how long a request may sit in executing before
	// the recovery sweep treats it as crashed. Should exceed the paid
	// call's own timeout by a safety margin.
	ExecutionTimeout Duration `yaml:"execution_timeout"`

	// MaxRecoveries bounds how many times a request is reverted from
	// executing before it is marked failed for operator attention.
	MaxRecoveries int `yaml:"max_recoveries"`
}

// Config is the full engine configuration.
type Config struct {
	DocumentTypes map[model.DocumentType]DocumentTypeConfig `yaml:"document_types"`
	Retry         RetryConfig                               `yaml:"retry"`
	Staging       StagingConfig                             `yaml:"staging"`
	Billing       BillingConfig                             `yaml:"billing"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		DocumentTypes: map[model.DocumentType]DocumentTypeConfig{
			model.DocConsignmentNote: {
				FreshnessTTL:         Duration(6 * time.Hour),
				Endpoint:             "/registry/consignment-notes",
				HTTPMethod:           "GET",
				HasStalenessEndpoint: true,
				AutoApprove:          true,
			},
			model.DocCarrierManifest: {
				FreshnessTTL:         Duration(6 * time.Hour),
				Endpoint:             "/registry/carrier-manifests",
				HTTPMethod:           "GET",
				HasStalenessEndpoint: true,
				AutoApprove:          true,
			},
			model.DocCustomsDeclaration: {
				FreshnessTTL:         Duration(1 * time.Hour),
				Endpoint:             "/registry/declarations",
				HTTPMethod:           "GET",
				HasStalenessEndpoint: true,
				AutoApprove:          false,
			},
			model.DocFinalDeclaration: {
				FreshnessTTL:         Duration(24 * time.Hour),
				Endpoint:             "/registry/final-declarations",
				HTTPMethod:           "GET",
				HasStalenessEndpoint: false,
				AutoApprove:          false,
			},
		},
		Retry: RetryConfig{
			Attempts:  3,
			BaseDelay: Duration(100 * time.Millisecond),
		},
		Staging: StagingConfig{
			ReversibleTTL:    Duration(30 * time.Minute),
			IrreversibleTTL:  Duration(2 * time.Hour),
			ExecutionTimeout: Duration(5 * time.Minute),
		},
		Billing: BillingConfig{
			ExecutionTimeout: Duration(2 * time.Minute),
			MaxRecoveries:    3,
		},
	}
}

// Load reads and validates a YAML config file. The file is overlaid onto
// Default() per field: absent fields keep their defaults. The exception is
// document_types - a type listed in the file replaces that type's
// configuration wholesale, so every field for it must be given.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks invariants the components rely on.
func (c Config) Validate() error {
	if len(c.DocumentTypes) == 0 {
		return fmt.Errorf("document_types must not be empty")
	}
	for dt, tc := range c.DocumentTypes {
		if !dt.Valid() {
			return fmt.Errorf("unknown document type %q", dt)
		}
		if tc.FreshnessTTL <= 0 {
			return fmt.Errorf("%s: freshness_ttl must be positive", dt)
		}
		if tc.Endpoint == "" {
			return fmt.Errorf("%s: endpoint must not be empty", dt)
		}
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must not be negative")
	}
	if c.Staging.ReversibleTTL <= 0 || c.Staging.IrreversibleTTL <= 0 {
		return fmt.Errorf("staging TTLs must be positive")
	}
	if c.Staging.ExecutionTimeout <= 0 {
		return fmt.Errorf("staging.execution_timeout must be positive")
	}
	if c.Billing.ExecutionTimeout <= 0 {
		return fmt.Errorf("billing.execution_timeout must be positive")
	}
	if c.Billing.MaxRecoveries < 1 {
		return fmt.Errorf("billing.max_recoveries must be at least 1")
	}
	return nil
}

// TypeConfig returns the per-type config, or an error for unknown types.
func (c Config) TypeConfig(dt model.DocumentType) (DocumentTypeConfig, error) {
	tc, ok := c.DocumentTypes[dt]
	if !ok {
		return DocumentTypeConfig{}, fmt.Errorf("no configuration for document type %q", dt)
	}
	return tc, nil
}
