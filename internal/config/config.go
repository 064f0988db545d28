package config

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store           StoreConfig           `yaml:"store" mapstructure:"store"`
	Log             LogConfig             `yaml:"log" mapstructure:"log"`
	Extraction      ExtractionConfig      `yaml:"extraction" mapstructure:"extraction"`
	Validation      ValidationConfig      `yaml:"validation" mapstructure:"validation"`
	Statistics      StatisticsConfig      `yaml:"statistics" mapstructure:"statistics"`
	Pipeline        PipelineConfig        `yaml:"pipeline" mapstructure:"pipeline"`
	CrossValidation CrossValidationConfig `yaml:"cross_validation" mapstructure:"cross_validation"`
	Review          ReviewConfig          `yaml:"review" mapstructure:"review"`
	Sink            SinkConfig            `yaml:"sink" mapstructure:"sink"`
	Monitoring      MonitoringConfig      `yaml:"monitoring" mapstructure:"monitoring"`
	Server          ServerConfig          `yaml:"server" mapstructure:"server"`
	Notion          NotionConfig          `yaml:"notion" mapstructure:"notion"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ExtractionConfig configures the pattern matcher.
type ExtractionConfig struct {
	Workers          int `yaml:"workers" mapstructure:"workers"`
	WindowChars      int `yaml:"window_chars" mapstructure:"window_chars"`
	MaxDocumentBytes int `yaml:"max_document_bytes" mapstructure:"max_document_bytes"`
}

// ValidationConfig configures per-match entity validation.
type ValidationConfig struct {
	MinimumConfidence  float64       `yaml:"minimum_confidence" mapstructure:"minimum_confidence"`
	ContextKeywordCap  int           `yaml:"context_keyword_cap" mapstructure:"context_keyword_cap"`
	RecentFoundingDays int           `yaml:"recent_founding_days" mapstructure:"recent_founding_days"`
	Workers            int           `yaml:"workers" mapstructure:"workers"`
	Weights            WeightsConfig `yaml:"weights" mapstructure:"weights"`
	Scores             ScoreDefaults `yaml:"scores" mapstructure:"scores"`
}

// WeightsConfig holds the weight of each validation sub-check.
type WeightsConfig struct {
	WordBoundary    float64 `yaml:"word_boundary" mapstructure:"word_boundary"`
	Temporal        float64 `yaml:"temporal" mapstructure:"temporal"`
	Geographic      float64 `yaml:"geographic" mapstructure:"geographic"`
	Context         float64 `yaml:"context" mapstructure:"context"`
	NoFalsePositive float64 `yaml:"no_false_positive" mapstructure:"no_false_positive"`
}

// ScoreDefaults holds the component scores used when a check has partial
// information.
type ScoreDefaults struct {
	Unknown          float64 `yaml:"unknown" mapstructure:"unknown"`
	Malformed        float64 `yaml:"malformed" mapstructure:"malformed"`
	RecentFounding   float64 `yaml:"recent_founding" mapstructure:"recent_founding"`
	OutsideCountries float64 `yaml:"outside_countries" mapstructure:"outside_countries"`
}

// MetricBound defines the hard and typical range of one named metric.
type MetricBound struct {
	Kind                string  `yaml:"kind" mapstructure:"kind"`
	Min                 float64 `yaml:"min" mapstructure:"min"`
	Max                 float64 `yaml:"max" mapstructure:"max"`
	TypicalMin          float64 `yaml:"typical_min" mapstructure:"typical_min"`
	TypicalMax          float64 `yaml:"typical_max" mapstructure:"typical_max"`
	CriticalAtMax       bool    `yaml:"critical_at_max" mapstructure:"critical_at_max"`
	ZeroCriticalInputGB float64 `yaml:"zero_critical_input_gb" mapstructure:"zero_critical_input_gb"`
}

// StatisticsConfig configures the anomaly detector.
type StatisticsConfig struct {
	MaxEntityConcentration      float64                `yaml:"max_entity_concentration" mapstructure:"max_entity_concentration"`
	MinEntities                 int                    `yaml:"min_entities" mapstructure:"min_entities"`
	LowDiversityMinTotal        int                    `yaml:"low_diversity_min_total" mapstructure:"low_diversity_min_total"`
	ConcentrationMinTotal       int                    `yaml:"concentration_min_total" mapstructure:"concentration_min_total"`
	MaxRatio                    float64                `yaml:"max_ratio" mapstructure:"max_ratio"`
	ZScoreThreshold             float64                `yaml:"zscore_threshold" mapstructure:"zscore_threshold"`
	IQRMultiplier               float64                `yaml:"iqr_multiplier" mapstructure:"iqr_multiplier"`
	MinSamples                  int                    `yaml:"min_samples" mapstructure:"min_samples"`
	StatisticalAnomalyThreshold float64                `yaml:"statistical_anomaly_threshold" mapstructure:"statistical_anomaly_threshold"`
	SumTolerance                float64                `yaml:"sum_tolerance" mapstructure:"sum_tolerance"`
	PercentTolerance            float64                `yaml:"percent_tolerance" mapstructure:"percent_tolerance"`
	PercentCriticalDeviation    float64                `yaml:"percent_critical_deviation" mapstructure:"percent_critical_deviation"`
	Metrics                     map[string]MetricBound `yaml:"metrics" mapstructure:"metrics"`
}

// PipelineConfig configures the gate thresholds of the orchestrator.
type PipelineConfig struct {
	MaxExtractionErrorRate float64 `yaml:"max_extraction_error_rate" mapstructure:"max_extraction_error_rate"`
	MinValidationRate      float64 `yaml:"min_validation_rate" mapstructure:"min_validation_rate"`
	BlockCriticalAnomalies bool    `yaml:"block_critical_anomalies" mapstructure:"block_critical_anomalies"`
	MaxHighAnomalies       int     `yaml:"max_high_anomalies" mapstructure:"max_high_anomalies"`
}

// CrossValidationConfig configures the external corroboration stage.
type CrossValidationConfig struct {
	Provider              string  `yaml:"provider" mapstructure:"provider"`
	URL                   string  `yaml:"url" mapstructure:"url"`
	TimeoutMs             int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	Concurrency           int     `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSecond         float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	MaxAttempts           int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	Markdown              float64 `yaml:"markdown" mapstructure:"markdown"`
	MaxConflictRate       float64 `yaml:"max_conflict_rate" mapstructure:"max_conflict_rate"`
	MaxAdjustedRate       float64 `yaml:"max_adjusted_rate" mapstructure:"max_adjusted_rate"`
	MaxEntityShare        float64 `yaml:"max_entity_share" mapstructure:"max_entity_share"`
	MinShareTotal         int     `yaml:"min_share_total" mapstructure:"min_share_total"`
	MaxMatchesPerDocument float64 `yaml:"max_matches_per_document" mapstructure:"max_matches_per_document"`
}

// ReviewConfig configures human review sampling.
type ReviewConfig struct {
	SampleRate            float64 `yaml:"sample_rate_for_review" mapstructure:"sample_rate_for_review"`
	ManualReviewThreshold float64 `yaml:"manual_review_threshold" mapstructure:"manual_review_threshold"`
}

// SinkConfig selects where run artifacts are persisted.
type SinkConfig struct {
	Kind string `yaml:"kind" mapstructure:"kind"`
	Dir  string `yaml:"dir" mapstructure:"dir"`
}

// MonitoringConfig configures run health alerting.
type MonitoringConfig struct {
	WebhookURL                 string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs          int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours        int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	MinRuns                    int     `yaml:"min_runs" mapstructure:"min_runs"`
	FailureRateThreshold       float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	BlockRateThreshold         float64 `yaml:"block_rate_threshold" mapstructure:"block_rate_threshold"`
	FalsePositiveRateThreshold float64 `yaml:"false_positive_rate_threshold" mapstructure:"false_positive_rate_threshold"`

	// OTLPEndpoint enables push export of pipeline metrics over OTLP/gRPC
	// when set, e.g. "localhost:4317".
	OTLPEndpoint     string `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	OTLPInsecure     bool   `yaml:"otlp_insecure" mapstructure:"otlp_insecure"`
	OTLPIntervalSecs int    `yaml:"otlp_interval_secs" mapstructure:"otlp_interval_secs"`
}

// NotionConfig configures the Notion databases used for entity registries
// and review queue exports.
type NotionConfig struct {
	Token         string  `yaml:"token" mapstructure:"token"`
	EntityDB      string  `yaml:"entity_db" mapstructure:"entity_db"`
	ReviewDB      string  `yaml:"review_db" mapstructure:"review_db"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// DefaultMetrics returns the shipped per-metric bound table.
func DefaultMetrics() map[string]MetricBound {
	return map[string]MetricBound{
		"validation_rate":      {Kind: "rate", Min: 0, Max: 1, TypicalMin: 0.2, TypicalMax: 1},
		"false_positive_rate":  {Kind: "rate", Min: 0, Max: 1, TypicalMin: 0, TypicalMax: 0.6, CriticalAtMax: true},
		"mean_confidence":      {Kind: "rate", Min: 0, Max: 1, TypicalMin: 0.6, TypicalMax: 1},
		"top_entity_share_pct": {Kind: "percentage", Min: 0, Max: 100, TypicalMin: 0, TypicalMax: 50},
		"coverage_pct":         {Kind: "percentage", Min: 0, Max: 100, TypicalMin: 1, TypicalMax: 95},
		"validated_matches":    {Kind: "count", Min: 0, Max: 10_000_000, TypicalMin: 0, TypicalMax: 1_000_000, ZeroCriticalInputGB: 100},
		"matches_per_document": {Kind: "count", Min: 0, Max: 500, TypicalMin: 0, TypicalMax: 50},
		"matches_per_entity":   {Kind: "count", Min: 0, Max: 1_000_000, TypicalMin: 0, TypicalMax: 50_000},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "matchguard.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("extraction.workers", 8)
	v.SetDefault("extraction.window_chars", 120)
	v.SetDefault("extraction.max_document_bytes", 10<<20)

	v.SetDefault("validation.minimum_confidence", 0.7)
	v.SetDefault("validation.context_keyword_cap", 3)
	v.SetDefault("validation.recent_founding_days", 365)
	v.SetDefault("validation.workers", 8)
	v.SetDefault("validation.weights.word_boundary", 0.3)
	v.SetDefault("validation.weights.temporal", 0.2)
	v.SetDefault("validation.weights.geographic", 0.1)
	v.SetDefault("validation.weights.context", 0.3)
	v.SetDefault("validation.weights.no_false_positive", 0.1)
	v.SetDefault("validation.scores.unknown", 0.5)
	v.SetDefault("validation.scores.malformed", 0.3)
	v.SetDefault("validation.scores.recent_founding", 0.6)
	v.SetDefault("validation.scores.outside_countries", 0.3)

	v.SetDefault("statistics.max_entity_concentration", 0.5)
	v.SetDefault("statistics.min_entities", 3)
	v.SetDefault("statistics.low_diversity_min_total", 1000)
	v.SetDefault("statistics.concentration_min_total", 100)
	v.SetDefault("statistics.max_ratio", 50.0)
	v.SetDefault("statistics.zscore_threshold", 3.0)
	v.SetDefault("statistics.iqr_multiplier", 1.5)
	v.SetDefault("statistics.min_samples", 4)
	v.SetDefault("statistics.statistical_anomaly_threshold", 0.95)
	v.SetDefault("statistics.sum_tolerance", 0.01)
	v.SetDefault("statistics.percent_tolerance", 1.0)
	v.SetDefault("statistics.percent_critical_deviation", 10.0)
	metrics := make(map[string]any)
	for name, b := range DefaultMetrics() {
		metrics[name] = map[string]any{
			"kind":                   b.Kind,
			"min":                    b.Min,
			"max":                    b.Max,
			"typical_min":            b.TypicalMin,
			"typical_max":            b.TypicalMax,
			"critical_at_max":        b.CriticalAtMax,
			"zero_critical_input_gb": b.ZeroCriticalInputGB,
		}
	}
	v.SetDefault("statistics.metrics", metrics)

	v.SetDefault("pipeline.max_extraction_error_rate", 0.10)
	v.SetDefault("pipeline.min_validation_rate", 0.10)
	v.SetDefault("pipeline.block_critical_anomalies", true)
	v.SetDefault("pipeline.max_high_anomalies", 2)

	v.SetDefault("cross_validation.provider", "volume")
	v.SetDefault("cross_validation.timeout_ms", 5000)
	v.SetDefault("cross_validation.concurrency", 4)
	v.SetDefault("cross_validation.rate_per_second", 10.0)
	v.SetDefault("cross_validation.max_attempts", 2)
	v.SetDefault("cross_validation.markdown", 0.7)
	v.SetDefault("cross_validation.max_conflict_rate", 0.20)
	v.SetDefault("cross_validation.max_adjusted_rate", 0.10)
	v.SetDefault("cross_validation.max_entity_share", 0.4)
	v.SetDefault("cross_validation.min_share_total", 100)
	v.SetDefault("cross_validation.max_matches_per_document", 25.0)

	v.SetDefault("review.sample_rate_for_review", 0.1)
	v.SetDefault("review.manual_review_threshold", 0.6)

	v.SetDefault("sink.kind", "store")
	v.SetDefault("sink.dir", "artifacts")

	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.min_runs", 5)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.block_rate_threshold", 0.10)
	v.SetDefault("monitoring.false_positive_rate_threshold", 0.5)
	v.SetDefault("monitoring.otlp_interval_secs", 15)

	v.SetDefault("notion.rate_per_second", 3.0)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MATCHGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Default returns the built-in defaults without consulting files or the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(eris.Wrap(err, "config: unmarshal defaults"))
	}
	return &cfg
}

// Validate checks the values that would make a run meaningless.
func (c *Config) Validate() error {
	var errs []string

	w := c.Validation.Weights
	sum := w.WordBoundary + w.Temporal + w.Geographic + w.Context + w.NoFalsePositive
	if math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Sprintf("validation.weights must sum to 1 (got %.4f)", sum))
	}
	for name, v := range map[string]float64{
		"validation.minimum_confidence":            c.Validation.MinimumConfidence,
		"statistics.max_entity_concentration":      c.Statistics.MaxEntityConcentration,
		"review.sample_rate_for_review":            c.Review.SampleRate,
		"review.manual_review_threshold":           c.Review.ManualReviewThreshold,
		"cross_validation.markdown":                c.CrossValidation.Markdown,
		"pipeline.max_extraction_error_rate":       c.Pipeline.MaxExtractionErrorRate,
		"pipeline.min_validation_rate":             c.Pipeline.MinValidationRate,
		"statistics.statistical_anomaly_threshold": c.Statistics.StatisticalAnomalyThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s must be in [0,1] (got %g)", name, v))
		}
	}
	if c.Extraction.Workers < 1 {
		errs = append(errs, "extraction.workers must be >= 1")
	}
	if c.Validation.Workers < 1 {
		errs = append(errs, "validation.workers must be >= 1")
	}
	if c.Validation.ContextKeywordCap < 1 {
		errs = append(errs, "validation.context_keyword_cap must be >= 1")
	}
	for name, m := range c.Statistics.Metrics {
		if m.Min > m.Max || m.TypicalMin > m.TypicalMax {
			errs = append(errs, fmt.Sprintf("statistics.metrics.%s has an inverted range", name))
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
