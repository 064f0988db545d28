package anomaly

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/sink"
)

// InvestigationStatusOpen is the status of a newly opened investigation.
const InvestigationStatusOpen = "open"

// InvestigationID is the hex sha256 of the anomaly's RFC 8785 canonical
// JSON. The same finding always yields the same id.
func InvestigationID(a model.AnomalyReport) (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", eris.Wrap(err, "anomaly: marshal report")
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", eris.Wrap(err, "anomaly: canonicalize report")
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

var checklists = map[model.AnomalyCheck][]string{
	model.CheckSentinel: {
		"Confirm the metric value against the raw run output",
		"List the entities contributing most to the value",
		"Audit extraction rules for substring and common-word matches",
	},
	model.CheckExtremeConcentration: {
		"Sample 50 matches of the dominant entity and classify them by hand",
		"Check the flanked tokens of those matches for a repeated word",
		"Consider raising the entity's risk tier and extending its lexicon",
	},
	model.CheckExtremeRatio: {
		"Compare the dominant entity's match count with the previous runs",
		"Sample matches of the dominant entity for false positives",
		"Check that the smaller entities' aliases loaded from the registry",
	},
	model.CheckTotalMismatch: {
		"Recompute the total from the source record",
		"Check the parts for missing or duplicated rows",
	},
	model.CheckPercentageSum: {
		"Recompute each percentage from its absolute value",
		"Check for a missing category or rounding at the source",
	},
	model.CheckChildExceedsParent: {
		"Verify the parent and child figures at the source",
	},
	model.CheckDateOrder: {
		"Verify the start and end dates at the source",
	},
}

// Checklist returns the investigation steps for a. Steps specific to the
// check come first, followed by the recommended action.
func Checklist(a model.AnomalyReport) []string {
	steps := append([]string(nil), checklists[a.Check]...)
	if len(steps) == 0 {
		steps = append(steps, "Reproduce the "+string(a.Check)+" finding on "+a.Metric)
	}
	if a.RecommendedAction != "" {
		steps = append(steps, a.RecommendedAction)
	}
	return steps
}

// Investigator opens an investigation for every critical anomaly and
// appends it to a sink.
type Investigator struct {
	sink sink.Sink
	now  func() time.Time
}

// NewInvestigator returns an Investigator writing to s. A nil sink only
// builds the records.
func NewInvestigator(s sink.Sink) *Investigator {
	return &Investigator{sink: s, now: func() time.Time { return time.Now().UTC() }}
}

// Record opens investigations for the critical reports of a run and returns
// them. Persistence failures are logged and never returned; duplicates of
// the same finding within one call are recorded once.
func (iv *Investigator) Record(ctx context.Context, runID string, reports []model.AnomalyReport) []model.Investigation {
	var out []model.Investigation
	seen := make(map[string]bool)
	for _, a := range reports {
		if !a.IsCritical() {
			continue
		}
		id, err := InvestigationID(a)
		if err != nil {
			zap.L().Error("anomaly: investigation id", zap.String("metric", a.Metric), zap.Error(err))
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		inv := model.Investigation{
			ID:        id,
			RunID:     runID,
			Anomaly:   a,
			Checklist: Checklist(a),
			Status:    InvestigationStatusOpen,
			CreatedAt: iv.now(),
		}
		out = append(out, inv)

		if iv.sink == nil {
			continue
		}
		if err := iv.sink.Append(ctx, sink.InvestigationArtifact(inv)); err != nil {
			zap.L().Error("anomaly: record investigation",
				zap.String("run_id", runID),
				zap.String("investigation_id", id),
				zap.String("check", string(a.Check)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("anomaly: investigation opened",
			zap.String("run_id", runID),
			zap.String("investigation_id", id),
			zap.String("metric", a.Metric),
			zap.String("entity", a.Entity),
		)
	}
	return out
}
