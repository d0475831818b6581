package config

import (
	"github.com/keelhq/llm-warden/audit"
	"github.com/keelhq/llm-warden/budget"
	"github.com/keelhq/llm-warden/confidence"
	"github.com/keelhq/llm-warden/detect"
)

// Config is the full engine configuration. Validated once at load; treated
// as immutable afterward.
type Config struct {
	Service    ServiceConfig     `yaml:"service" mapstructure:"service"`
	Logging    LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Detector   detect.Config     `yaml:"detector" mapstructure:"detector"`
	Budget     BudgetConfig      `yaml:"budget" mapstructure:"budget"`
	Confidence confidence.Config `yaml:"confidence" mapstructure:"confidence"`
	Audit      AuditConfig       `yaml:"audit" mapstructure:"audit"`
}

// ServiceConfig identifies the deployment in audit entries and logs.
type ServiceConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// BudgetConfig is the cost policy plus the optional usage mirror.
type BudgetConfig struct {
	budget.Policy `mapstructure:",squash" yaml:",inline"`
	Redis         budget.RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// AuditConfig controls audit entry construction and the configured sinks.
type AuditConfig struct {
	MinLevel      string   `yaml:"min_level" mapstructure:"min_level"`
	IntegrityHash bool     `yaml:"integrity_hash" mapstructure:"integrity_hash"`
	Denylist      []string `yaml:"denylist" mapstructure:"denylist"`
	File          struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
	Postgres audit.PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// GetDefaults returns a configuration with sensible defaults.
func GetDefaults() *Config {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        "llm-warden",
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Detector: detect.Config{
			EnabledTypes:        []string{"all"},
			ConfidenceThreshold: 0.5,
			Mode:                detect.ModeRedact,
		},
		Budget: BudgetConfig{
			Policy: budget.Policy{
				PerRequestCeiling: 0.50,
				PerSessionCeiling: 5.00,
				PerDayCeiling:     25.00,
			},
			Redis: budget.RedisConfig{
				URL:            "redis://localhost:6379/0",
				KeyPrefix:      "warden",
				MaxConnections: 10,
			},
		},
		Confidence: confidence.Config{
			MinConfidence:  0.6,
			MaxUncertainty: 0.5,
			Weights:        confidence.DefaultWeights(),
		},
		Audit: AuditConfig{
			MinLevel:      "info",
			IntegrityHash: true,
		},
	}
	cfg.Audit.File.Path = "logs/audit.jsonl"
	return cfg
}
