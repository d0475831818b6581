package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keelhq/llm-warden/detect"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()

	assert.Equal(t, "llm-warden", cfg.Service.Name)
	assert.Equal(t, detect.ModeRedact, cfg.Detector.Mode)
	assert.Equal(t, 0.50, cfg.Budget.PerRequestCeiling)
	assert.Equal(t, 5.00, cfg.Budget.PerSessionCeiling)
	assert.Equal(t, 0.6, cfg.Confidence.MinConfidence)
	assert.True(t, cfg.Audit.IntegrityHash)

	assert.NoError(t, validateConfig(cfg), "defaults must pass their own validation")
}

func TestLoad_FromFile(t *testing.T) {
	viper.Reset()
	path := writeConfig(t, `
service:
  name: warden-prod
  environment: production
logging:
  level: warn
  format: console
detector:
  mode: mask
  confidence_threshold: 0.8
budget:
  per_request_ceiling: 1.25
  strict_mode: true
  redis:
    enabled: true
    url: redis://cache:6379/1
confidence:
  min_confidence: 0.75
audit:
  min_level: warn
  denylist:
    - internal_code
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warden-prod", cfg.Service.Name)
	assert.Equal(t, "production", cfg.Service.Environment)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, detect.ModeMask, cfg.Detector.Mode)
	assert.Equal(t, 0.8, cfg.Detector.ConfidenceThreshold)
	assert.Equal(t, 1.25, cfg.Budget.PerRequestCeiling)
	assert.True(t, cfg.Budget.StrictMode)
	assert.True(t, cfg.Budget.Redis.Enabled)
	assert.Equal(t, "redis://cache:6379/1", cfg.Budget.Redis.URL)
	assert.Equal(t, 0.75, cfg.Confidence.MinConfidence)
	assert.Equal(t, "warn", cfg.Audit.MinLevel)
	assert.Equal(t, []string{"internal_code"}, cfg.Audit.Denylist)

	// untouched keys keep their defaults
	assert.Equal(t, 5.00, cfg.Budget.PerSessionCeiling)
	assert.True(t, cfg.Audit.IntegrityHash)
}

func TestLoad_InvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"bad detector mode", "detector:\n  mode: shred\n"},
		{"threshold out of range", "detector:\n  confidence_threshold: 2.0\n"},
		{"zero request ceiling", "budget:\n  per_request_ceiling: 0\n"},
		{"bad confidence minimum", "confidence:\n  min_confidence: 1.5\n"},
		{"bad audit level", "audit:\n  min_level: loud\n"},
		{"empty service name", "service:\n  name: \"\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			viper.Reset()
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestValidateConfig(t *testing.T) {
	cfg := GetDefaults()
	cfg.Budget.PerRequestCeiling = -1
	err := validateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "per-request ceiling")
}
