package model

import "time"

// AnomalyType classifies the kind of statistical defect a report describes.
type AnomalyType string

const (
	AnomalyExtremeHigh  AnomalyType = "extreme_high"
	AnomalyExtremeLow   AnomalyType = "extreme_low"
	AnomalyImpossible   AnomalyType = "impossible"
	AnomalyTemporal     AnomalyType = "temporal"
	AnomalyStatistical  AnomalyType = "statistical"
	AnomalyPatternBreak AnomalyType = "pattern_break"
)

// Severity is the ordinal strength of evidence behind an anomaly.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities so that critical ranks highest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AnomalyCheck names the rule that raised an anomaly.
type AnomalyCheck string

const (
	CheckHardBound            AnomalyCheck = "hard_bound"
	CheckSentinel             AnomalyCheck = "sentinel"
	CheckApproachingSentinel  AnomalyCheck = "approaching_sentinel"
	CheckTypicalRange         AnomalyCheck = "typical_range"
	CheckZScore               AnomalyCheck = "zscore"
	CheckIQR                  AnomalyCheck = "iqr"
	CheckExtremeConcentration AnomalyCheck = "extreme_concentration"
	CheckLowDiversity         AnomalyCheck = "low_diversity"
	CheckExtremeRatio         AnomalyCheck = "extreme_ratio"
	CheckTotalMismatch        AnomalyCheck = "total_mismatch"
	CheckPercentageSum        AnomalyCheck = "percentage_sum"
	CheckChildExceedsParent   AnomalyCheck = "child_exceeds_parent"
	CheckDateOrder            AnomalyCheck = "date_order"
)

// Range is a closed numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AnomalyReport describes one statistical finding.
type AnomalyReport struct {
	Metric            string       `json:"metric"`
	Type              AnomalyType  `json:"anomaly_type"`
	Check             AnomalyCheck `json:"check"`
	Severity          Severity     `json:"severity"`
	Observed          float64      `json:"observed"`
	Reference         Range        `json:"reference"`
	Entity            string       `json:"entity,omitempty"`
	Message           string       `json:"message"`
	RecommendedAction string       `json:"recommended_action"`
}

// IsCritical reports whether the anomaly has critical severity.
func (a AnomalyReport) IsCritical() bool {
	return a.Severity == SeverityCritical
}

// Investigation is the persisted follow-up record opened for a critical
// anomaly. ID is a content hash of the anomaly, so the same finding always
// maps to the same investigation.
type Investigation struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id"`
	Anomaly   AnomalyReport `json:"anomaly"`
	Checklist []string      `json:"checklist"`
	Status    string        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// Observation is a scalar metric value checked against the metric's bounds.
type Observation struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Entity string  `json:"entity,omitempty"`
}

// Sample is one labelled value of a metric distribution.
type Sample struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// StructuredRecord carries declared figures that must be logically
// consistent with each other. Unset fields skip the matching check.
type StructuredRecord struct {
	Name        string    `json:"name"`
	Total       *float64  `json:"total,omitempty"`
	Parts       []float64 `json:"parts,omitempty"`
	Percentages []float64 `json:"percentages,omitempty"`
	Parent      *float64  `json:"parent,omitempty"`
	Child       *float64  `json:"child,omitempty"`
	StartDate   string    `json:"start_date,omitempty"`
	EndDate     string    `json:"end_date,omitempty"`
}
