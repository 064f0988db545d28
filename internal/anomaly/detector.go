// Package anomaly detects corpus-wide statistical defects in a validation
// run: values outside their bounds, distribution outliers, entity
// concentration and logically impossible records. Critical findings are
// recorded as investigations.
package anomaly

import (
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/matchguard/internal/config"
	"github.com/sells-group/matchguard/internal/model"
)

// EntityMetric is the metric name carried by concentration findings.
const EntityMetric = "validated_matches_by_entity"

// AnomalyConfigError reports a check that could not run because its metric
// definition is missing or unusable. The check is skipped.
type AnomalyConfigError struct {
	Metric string
	Reason string
}

func (e *AnomalyConfigError) Error() string {
	return fmt.Sprintf("anomaly: metric %q: %s", e.Metric, e.Reason)
}

// Detector runs the anomaly check families. It holds no mutable state.
type Detector struct {
	cfg config.StatisticsConfig
}

// New returns a Detector. Zero-valued thresholds fall back to the shipped
// defaults; a nil metric table uses config.DefaultMetrics.
func New(cfg config.StatisticsConfig) *Detector {
	def := config.Default().Statistics
	if cfg.MaxEntityConcentration <= 0 {
		cfg.MaxEntityConcentration = def.MaxEntityConcentration
	}
	if cfg.MinEntities <= 0 {
		cfg.MinEntities = def.MinEntities
	}
	if cfg.LowDiversityMinTotal <= 0 {
		cfg.LowDiversityMinTotal = def.LowDiversityMinTotal
	}
	if cfg.ConcentrationMinTotal <= 0 {
		cfg.ConcentrationMinTotal = def.ConcentrationMinTotal
	}
	if cfg.MaxRatio <= 0 {
		cfg.MaxRatio = def.MaxRatio
	}
	if cfg.ZScoreThreshold <= 0 {
		cfg.ZScoreThreshold = def.ZScoreThreshold
	}
	if cfg.IQRMultiplier <= 0 {
		cfg.IQRMultiplier = def.IQRMultiplier
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.StatisticalAnomalyThreshold <= 0 {
		cfg.StatisticalAnomalyThreshold = def.StatisticalAnomalyThreshold
	}
	if cfg.SumTolerance <= 0 {
		cfg.SumTolerance = def.SumTolerance
	}
	if cfg.PercentTolerance <= 0 {
		cfg.PercentTolerance = def.PercentTolerance
	}
	if cfg.PercentCriticalDeviation <= 0 {
		cfg.PercentCriticalDeviation = def.PercentCriticalDeviation
	}
	if cfg.Metrics == nil {
		cfg.Metrics = config.DefaultMetrics()
	}
	return &Detector{cfg: cfg}
}

// Input is everything one analysis pass looks at.
type Input struct {
	Observations  []model.Observation
	Distributions map[string][]model.Sample
	EntityCounts  map[string]int
	Records       []model.StructuredRecord
	InputSizeGB   float64
}

// Result holds the findings of one analysis pass, most severe first.
type Result struct {
	Anomalies    []model.AnomalyReport
	ConfigErrors []*AnomalyConfigError
}

// Critical returns the critical anomalies.
func (r Result) Critical() []model.AnomalyReport {
	return bySeverity(r.Anomalies, model.SeverityCritical)
}

// High returns the high-severity anomalies.
func (r Result) High() []model.AnomalyReport {
	return bySeverity(r.Anomalies, model.SeverityHigh)
}

func bySeverity(in []model.AnomalyReport, s model.Severity) []model.AnomalyReport {
	var out []model.AnomalyReport
	for _, a := range in {
		if a.Severity == s {
			out = append(out, a)
		}
	}
	return out
}

// Analyze runs every check family over in. Config errors are logged and the
// affected checks skipped.
func (d *Detector) Analyze(in Input) Result {
	var res Result

	reports, cfgErrs := d.CheckBounds(in.Observations, in.InputSizeGB)
	res.Anomalies = append(res.Anomalies, reports...)
	res.ConfigErrors = append(res.ConfigErrors, cfgErrs...)

	metrics := make([]string, 0, len(in.Distributions))
	for m := range in.Distributions {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)
	for _, m := range metrics {
		res.Anomalies = append(res.Anomalies, d.CheckDistribution(m, in.Distributions[m])...)
	}

	res.Anomalies = append(res.Anomalies, d.CheckConcentration(in.EntityCounts)...)
	for _, rec := range in.Records {
		res.Anomalies = append(res.Anomalies, d.CheckConsistency(rec)...)
	}

	SortReports(res.Anomalies)
	return res
}

// SortReports orders reports by severity (critical first), then metric,
// check and entity.
func SortReports(reports []model.AnomalyReport) {
	sort.SliceStable(reports, func(i, j int) bool {
		a, b := reports[i], reports[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		if a.Check != b.Check {
			return a.Check < b.Check
		}
		return a.Entity < b.Entity
	})
}

// CheckBounds checks every observation against its metric definition.
// Unknown metrics are skipped and returned as config errors.
func (d *Detector) CheckBounds(obs []model.Observation, inputSizeGB float64) ([]model.AnomalyReport, []*AnomalyConfigError) {
	var reports []model.AnomalyReport
	var errs []*AnomalyConfigError
	for _, o := range obs {
		r, err := d.CheckBound(o, inputSizeGB)
		if err != nil {
			zap.L().Warn("anomaly: skipping bound check", zap.String("metric", o.Metric), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		reports = append(reports, r...)
	}
	return reports, errs
}

// CheckBound applies the hard bound, sentinel and typical range rules to a
// single observation. At most one report is returned per observation.
func (d *Detector) CheckBound(o model.Observation, inputSizeGB float64) ([]model.AnomalyReport, *AnomalyConfigError) {
	b, ok := d.cfg.Metrics[o.Metric]
	if !ok {
		return nil, &AnomalyConfigError{Metric: o.Metric, Reason: "no metric definition"}
	}
	if b.Min > b.Max {
		return nil, &AnomalyConfigError{Metric: o.Metric, Reason: "min exceeds max"}
	}

	hard := model.Range{Min: b.Min, Max: b.Max}
	report := func(t model.AnomalyType, c model.AnomalyCheck, s model.Severity, ref model.Range, msg string) []model.AnomalyReport {
		return []model.AnomalyReport{{
			Metric:            o.Metric,
			Type:              t,
			Check:             c,
			Severity:          s,
			Observed:          o.Value,
			Reference:         ref,
			Entity:            o.Entity,
			Message:           msg,
			RecommendedAction: recommendedAction(c),
		}}
	}

	switch {
	case b.CriticalAtMax && o.Value >= b.Max:
		return report(model.AnomalyExtremeHigh, model.CheckSentinel, model.SeverityCritical, hard,
			fmt.Sprintf("%s hit sentinel value %s (bound %s)", o.Metric, num(o.Value), num(b.Max))), nil
	case b.Kind == "count" && o.Value == 0 && b.ZeroCriticalInputGB > 0 && inputSizeGB > b.ZeroCriticalInputGB:
		return report(model.AnomalyExtremeLow, model.CheckSentinel, model.SeverityCritical, hard,
			fmt.Sprintf("%s = 0 against %s GB of input", o.Metric, num(inputSizeGB))), nil
	case o.Value > b.Max:
		return report(model.AnomalyExtremeHigh, model.CheckHardBound, model.SeverityHigh, hard,
			fmt.Sprintf("%s = %s above hard bound [%s, %s]", o.Metric, num(o.Value), num(b.Min), num(b.Max))), nil
	case o.Value < b.Min:
		return report(model.AnomalyExtremeLow, model.CheckHardBound, model.SeverityHigh, hard,
			fmt.Sprintf("%s = %s below hard bound [%s, %s]", o.Metric, num(o.Value), num(b.Min), num(b.Max))), nil
	case b.CriticalAtMax && o.Value >= d.cfg.StatisticalAnomalyThreshold*b.Max:
		return report(model.AnomalyExtremeHigh, model.CheckApproachingSentinel, model.SeverityHigh, hard,
			fmt.Sprintf("%s = %s approaching sentinel %s", o.Metric, num(o.Value), num(b.Max))), nil
	case o.Value < b.TypicalMin || o.Value > b.TypicalMax:
		typical := model.Range{Min: b.TypicalMin, Max: b.TypicalMax}
		return report(model.AnomalyStatistical, model.CheckTypicalRange, model.SeverityMedium, typical,
			fmt.Sprintf("%s = %s outside typical range [%s, %s]", o.Metric, num(o.Value), num(b.TypicalMin), num(b.TypicalMax))), nil
	}
	return nil, nil
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var actions = map[model.AnomalyCheck]string{
	model.CheckHardBound:            "Verify the metric computation and the input data for corruption",
	model.CheckSentinel:             "Halt downstream use and audit the extraction rules that produced this value",
	model.CheckApproachingSentinel:  "Review the most frequent false-positive patterns before the next run",
	model.CheckTypicalRange:         "Compare against recent runs and confirm the change is expected",
	model.CheckZScore:               "Inspect the outlying items for systematic mismatches",
	model.CheckIQR:                  "Inspect the outlying items for systematic mismatches",
	model.CheckExtremeConcentration: "Audit the dominant entity's matches for substring or common-word hits",
	model.CheckLowDiversity:         "Confirm the registry loaded completely and the corpus is representative",
	model.CheckExtremeRatio:         "Audit the dominant entity's matches and tighten its risk tier",
	model.CheckTotalMismatch:        "Reconcile the declared total with its parts at the source",
	model.CheckPercentageSum:        "Recompute the percentage breakdown at the source",
	model.CheckChildExceedsParent:   "Check the parent/child relationship in the source records",
	model.CheckDateOrder:            "Check the start and end dates in the source records",
}

func recommendedAction(c model.AnomalyCheck) string {
	if a, ok := actions[c]; ok {
		return a
	}
	return "Investigate manually"
}
