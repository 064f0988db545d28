package anomaly

import (
	"fmt"
	"sort"

	"github.com/sells-group/matchguard/internal/model"
)

type entityCount struct {
	key   string
	count int
}

// CheckConcentration inspects per-entity validated-match counts for one
// entity dominating the result. Totals below concentration_min_total are
// too small to judge.
func (d *Detector) CheckConcentration(counts map[string]int) []model.AnomalyReport {
	var ranked []entityCount
	total := 0
	for k, n := range counts {
		if n <= 0 {
			continue
		}
		ranked = append(ranked, entityCount{key: k, count: n})
		total += n
	}
	if total == 0 || total < d.cfg.ConcentrationMinTotal {
		return nil
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].key < ranked[j].key
	})

	top := ranked[0]
	var out []model.AnomalyReport
	pattern := func(c model.AnomalyCheck, s model.Severity, observed float64, ref model.Range, entity, msg string) {
		out = append(out, model.AnomalyReport{
			Metric:            EntityMetric,
			Type:              model.AnomalyPatternBreak,
			Check:             c,
			Severity:          s,
			Observed:          observed,
			Reference:         ref,
			Entity:            entity,
			Message:           msg,
			RecommendedAction: recommendedAction(c),
		})
	}

	share := float64(top.count) / float64(total)
	if share > d.cfg.MaxEntityConcentration {
		pattern(model.CheckExtremeConcentration, model.SeverityCritical, share,
			model.Range{Min: 0, Max: d.cfg.MaxEntityConcentration}, top.key,
			fmt.Sprintf("%s holds %.1f%% of %d validated matches (limit %.1f%%)",
				top.key, share*100, total, d.cfg.MaxEntityConcentration*100))
	}

	if len(ranked) < d.cfg.MinEntities && total > d.cfg.LowDiversityMinTotal {
		pattern(model.CheckLowDiversity, model.SeverityHigh, float64(len(ranked)),
			model.Range{Min: float64(d.cfg.MinEntities), Max: float64(total)}, "",
			fmt.Sprintf("only %d distinct entities across %d validated matches (minimum %d)",
				len(ranked), total, d.cfg.MinEntities))
	}

	if len(ranked) > 1 {
		second := ranked[1]
		smallest := ranked[len(ranked)-1]
		ratio := float64(top.count) / float64(second.count)
		against := second
		if ratio <= d.cfg.MaxRatio {
			ratio = float64(top.count) / float64(smallest.count)
			against = smallest
		}
		if ratio > d.cfg.MaxRatio {
			pattern(model.CheckExtremeRatio, model.SeverityCritical, ratio,
				model.Range{Min: 0, Max: d.cfg.MaxRatio}, top.key,
				fmt.Sprintf("%s outnumbers %s %.1fx (limit %sx)", top.key, against.key, ratio, num(d.cfg.MaxRatio)))
		}
	}

	return out
}
