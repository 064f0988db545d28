package model

import "time"

// ValidationStage identifies one pipeline checkpoint. Stages run in the
// order of Stages.
type ValidationStage string

const (
	StageExtraction          ValidationStage = "extraction"
	StageEntityValidation    ValidationStage = "entity_validation"
	StageStatisticalAnalysis ValidationStage = "statistical_analysis"
	StageCrossValidation     ValidationStage = "cross_validation"
	StageHumanReview         ValidationStage = "human_review"
	StageFinalApproval       ValidationStage = "final_approval"
)

// Stages lists every stage in execution order.
var Stages = []ValidationStage{
	StageExtraction,
	StageEntityValidation,
	StageStatisticalAnalysis,
	StageCrossValidation,
	StageHumanReview,
	StageFinalApproval,
}

// Order returns the position of the stage in Stages, or -1.
func (s ValidationStage) Order() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// ValidationStatus is the outcome of a gate, and of a run as a whole.
type ValidationStatus string

const (
	StatusPending     ValidationStatus = "pending"
	StatusPassed      ValidationStatus = "passed"
	StatusFailed      ValidationStatus = "failed"
	StatusNeedsReview ValidationStatus = "needs_review"
	StatusBlocked     ValidationStatus = "blocked"
	StatusCancelled   ValidationStatus = "cancelled"
)

// Halts reports whether a gate with this status stops the pipeline.
func (s ValidationStatus) Halts() bool {
	return s == StatusFailed || s == StatusBlocked || s == StatusCancelled
}

// ValidationGate records the outcome of one stage. Gates are appended to a
// run in order and never edited afterwards.
type ValidationGate struct {
	Stage      ValidationStage    `json:"stage"`
	Status     ValidationStatus   `json:"status"`
	Confidence float64            `json:"confidence"`
	Issues     []string           `json:"issues,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

// PipelineRun is the auditable record of one validation run.
type PipelineRun struct {
	ID              string           `json:"id"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
	Gates           []ValidationGate `json:"gates"`
	OverallStatus   ValidationStatus `json:"overall_status"`
	Message         string           `json:"message,omitempty"`
	FinalMatches    []MatchResult    `json:"final_matches"`
	FinalConfidence float64          `json:"final_confidence"`
	Anomalies       []AnomalyReport  `json:"anomalies,omitempty"`
	Investigations  []string         `json:"investigations,omitempty"`
	ReviewQueueSize int              `json:"review_queue_size"`
	Quality         *QualityReport   `json:"quality,omitempty"`
}

// Gate returns the gate recorded for stage, if any.
func (r *PipelineRun) Gate(stage ValidationStage) (ValidationGate, bool) {
	for _, g := range r.Gates {
		if g.Stage == stage {
			return g, true
		}
	}
	return ValidationGate{}, false
}

// Blocked reports whether a gate of the run was blocked by a critical
// anomaly.
func (r *PipelineRun) Blocked() bool {
	for _, g := range r.Gates {
		if g.Status == StatusBlocked {
			return true
		}
	}
	return false
}

// DeriveStatus computes a run's overall status from its gates. A failed or
// blocked gate fails the run; otherwise cancelled > needs_review > passed.
// Blocked is a gate status only and never the status of a run. A run with no
// gates is still pending.
func DeriveStatus(gates []ValidationGate) ValidationStatus {
	if len(gates) == 0 {
		return StatusPending
	}
	seen := make(map[ValidationStatus]bool, len(gates))
	for _, g := range gates {
		seen[g.Status] = true
	}
	switch {
	case seen[StatusFailed], seen[StatusBlocked]:
		return StatusFailed
	case seen[StatusCancelled]:
		return StatusCancelled
	case seen[StatusNeedsReview]:
		return StatusNeedsReview
	case seen[StatusPending]:
		return StatusPending
	default:
		return StatusPassed
	}
}

// QualityReport summarizes how effective validation was for one run.
type QualityReport struct {
	RunID                   string                    `json:"run_id"`
	RawMatches              int                       `json:"raw_matches"`
	ValidatedMatches        int                       `json:"validated_matches"`
	RejectedMatches         int                       `json:"rejected_matches"`
	ExtractionRejections    int                       `json:"extraction_rejections"`
	FalsePositiveRate       float64                   `json:"false_positive_rate"`
	ValidationEffectiveness float64                   `json:"validation_effectiveness"`
	ByMatchType             map[MatchType]int         `json:"by_match_type"`
	FalsePositivePatterns   map[string]map[string]int `json:"false_positive_patterns,omitempty"`
	GeneratedAt             time.Time                 `json:"generated_at"`
}
