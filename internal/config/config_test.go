package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Extraction.Workers)
	assert.Equal(t, 120, cfg.Extraction.WindowChars)
	assert.Equal(t, 10<<20, cfg.Extraction.MaxDocumentBytes)
	assert.InDelta(t, 0.7, cfg.Validation.MinimumConfidence, 0.001)
	assert.InDelta(t, 0.3, cfg.Validation.Weights.WordBoundary, 0.001)
	assert.InDelta(t, 0.2, cfg.Validation.Weights.Temporal, 0.001)
	assert.InDelta(t, 0.1, cfg.Validation.Weights.Geographic, 0.001)
	assert.InDelta(t, 0.3, cfg.Validation.Weights.Context, 0.001)
	assert.InDelta(t, 0.1, cfg.Validation.Weights.NoFalsePositive, 0.001)
	assert.InDelta(t, 0.5, cfg.Statistics.MaxEntityConcentration, 0.001)
	assert.InDelta(t, 0.95, cfg.Statistics.StatisticalAnomalyThreshold, 0.001)
	assert.InDelta(t, 3.0, cfg.Statistics.ZScoreThreshold, 0.001)
	assert.InDelta(t, 1.5, cfg.Statistics.IQRMultiplier, 0.001)
	assert.InDelta(t, 50.0, cfg.Statistics.MaxRatio, 0.001)
	assert.Equal(t, 3, cfg.Statistics.MinEntities)
	assert.True(t, cfg.Pipeline.BlockCriticalAnomalies)
	assert.Equal(t, 2, cfg.Pipeline.MaxHighAnomalies)
	assert.InDelta(t, 0.1, cfg.Review.SampleRate, 0.001)
	assert.InDelta(t, 0.6, cfg.Review.ManualReviewThreshold, 0.001)
	assert.InDelta(t, 0.7, cfg.CrossValidation.Markdown, 0.001)
	assert.Equal(t, 5000, cfg.CrossValidation.TimeoutMs)

	require.Contains(t, cfg.Statistics.Metrics, "false_positive_rate")
	fp := cfg.Statistics.Metrics["false_positive_rate"]
	assert.Equal(t, "rate", fp.Kind)
	assert.True(t, fp.CriticalAtMax)
	assert.InDelta(t, 1.0, fp.Max, 0.001)
	assert.InDelta(t, 100.0, cfg.Statistics.Metrics["validated_matches"].ZeroCriticalInputGB, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
log:
  level: debug
  format: console
server:
  port: 9090
validation:
  minimum_confidence: 0.8
statistics:
  metrics:
    invoice_total:
      kind: count
      min: 0
      max: 1000
      typical_min: 10
      typical_max: 500
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 0.8, cfg.Validation.MinimumConfidence, 0.001)
	require.Contains(t, cfg.Statistics.Metrics, "invoice_total")
	assert.InDelta(t, 500.0, cfg.Statistics.Metrics["invoice_total"].TypicalMax, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 120, cfg.Extraction.WindowChars)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("MATCHGUARD_STORE_DRIVER", "postgres")
	t.Setenv("MATCHGUARD_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("MATCHGUARD_SERVER_PORT", "3000")
	t.Setenv("MATCHGUARD_PIPELINE_BLOCK_CRITICAL_ANOMALIES", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.False(t, cfg.Pipeline.BlockCriticalAnomalies)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestDefaultMatchesLoad(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, loaded, Default())
}

func TestValidateDefaults(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"weights", func(c *Config) { c.Validation.Weights.Context = 0.9 }, "validation.weights"},
		{"confidence", func(c *Config) { c.Validation.MinimumConfidence = 1.5 }, "validation.minimum_confidence"},
		{"workers", func(c *Config) { c.Extraction.Workers = 0 }, "extraction.workers"},
		{"keyword cap", func(c *Config) { c.Validation.ContextKeywordCap = 0 }, "context_keyword_cap"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"metric range", func(c *Config) {
			c.Statistics.Metrics["bad"] = MetricBound{Min: 10, Max: 1}
		}, "statistics.metrics.bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
