package anomaly

import (
	"fmt"
	"math"

	"github.com/sells-group/matchguard/internal/lexicon"
	"github.com/sells-group/matchguard/internal/model"
)

// CheckConsistency reports logically impossible figures in a structured
// record: parts that do not add up to the total, percentages that do not
// add up to 100, a child count above its parent, and an end date before
// the start date.
func (d *Detector) CheckConsistency(rec model.StructuredRecord) []model.AnomalyReport {
	var out []model.AnomalyReport
	impossible := func(c model.AnomalyCheck, s model.Severity, observed float64, ref model.Range, msg string) {
		out = append(out, model.AnomalyReport{
			Metric:            rec.Name,
			Type:              model.AnomalyImpossible,
			Check:             c,
			Severity:          s,
			Observed:          observed,
			Reference:         ref,
			Message:           msg,
			RecommendedAction: recommendedAction(c),
		})
	}

	if rec.Total != nil && len(rec.Parts) > 0 {
		sum := 0.0
		for _, p := range rec.Parts {
			sum += p
		}
		if math.Abs(sum-*rec.Total) > d.cfg.SumTolerance {
			impossible(model.CheckTotalMismatch, model.SeverityCritical, *rec.Total, model.Range{Min: sum, Max: sum},
				fmt.Sprintf("Total != Sum (%s != %s)", num(*rec.Total), num(round(sum))))
		}
	}

	if len(rec.Percentages) > 0 {
		sum := 0.0
		for _, p := range rec.Percentages {
			sum += p
		}
		dev := math.Abs(sum - 100)
		if dev > d.cfg.PercentTolerance {
			sev := model.SeverityHigh
			if dev > d.cfg.PercentCriticalDeviation {
				sev = model.SeverityCritical
			}
			impossible(model.CheckPercentageSum, sev, sum,
				model.Range{Min: 100 - d.cfg.PercentTolerance, Max: 100 + d.cfg.PercentTolerance},
				fmt.Sprintf("Percentages sum to %s (expected 100)", num(round(sum))))
		}
	}

	if rec.Parent != nil && rec.Child != nil && *rec.Child > *rec.Parent {
		impossible(model.CheckChildExceedsParent, model.SeverityCritical, *rec.Child,
			model.Range{Min: 0, Max: *rec.Parent},
			fmt.Sprintf("Child count exceeds parent (%s > %s)", num(*rec.Child), num(*rec.Parent)))
	}

	if rec.StartDate != "" && rec.EndDate != "" {
		start, errS := lexicon.ParseDate(rec.StartDate)
		end, errE := lexicon.ParseDate(rec.EndDate)
		if errS == nil && errE == nil && end.Before(start) {
			impossible(model.CheckDateOrder, model.SeverityCritical, float64(end.Unix()),
				model.Range{Min: float64(start.Unix()), Max: float64(start.Unix())},
				fmt.Sprintf("End date %s precedes start date %s", end.Format("2006-01-02"), start.Format("2006-01-02")))
		}
	}

	return out
}
