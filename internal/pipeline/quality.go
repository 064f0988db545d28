package pipeline

import (
	"time"

	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/validator"
)

// BuildQuality summarizes the validation log of a run. Effectiveness is the
// share of raw matches the validator classified with certainty, either as a
// validated entity or as a hard false positive. The false-positive rate and
// patterns also cover the candidates extraction rejected.
func BuildQuality(runID string, raw int, log *validator.Log, at time.Time) *model.QualityReport {
	valid := log.Valid()
	fp := 0
	for _, v := range log.Verdicts() {
		if v.MatchType.IsFalsePositive() {
			fp++
		}
	}

	q := &model.QualityReport{
		RunID:                 runID,
		RawMatches:            raw,
		ValidatedMatches:      valid,
		RejectedMatches:       log.Len() - valid,
		ExtractionRejections:  log.Rejected(),
		FalsePositiveRate:     validator.Clamp(log.FalsePositiveRate()),
		ByMatchType:           log.CountByType(),
		FalsePositivePatterns: log.FalsePositivePatterns(),
		GeneratedAt:           at,
	}
	if raw > 0 {
		q.ValidationEffectiveness = validator.Clamp(float64(valid+fp) / float64(raw))
	}
	return q
}
