package crossval

import (
	"context"
	"fmt"

	"github.com/sells-group/matchguard/internal/config"
)

// VolumeCorroborator flags entities whose match volume is implausible for a
// real mention pattern. It makes no external calls.
type VolumeCorroborator struct {
	// MaxShare is the largest share of all matches one entity may hold when
	// more than one entity matched.
	MaxShare float64
	// MinShareTotal is the match volume below which shares are not judged.
	MinShareTotal int
	// MaxPerDocument is the largest mean number of matches per document.
	MaxPerDocument float64
}

// NewVolume builds a VolumeCorroborator from the cross_validation config.
func NewVolume(cfg config.CrossValidationConfig) *VolumeCorroborator {
	return &VolumeCorroborator{
		MaxShare:       cfg.MaxEntityShare,
		MinShareTotal:  cfg.MinShareTotal,
		MaxPerDocument: cfg.MaxMatchesPerDocument,
	}
}

// Corroborate implements Corroborator.
func (v *VolumeCorroborator) Corroborate(ctx context.Context, req Request) (Evidence, error) {
	if err := ctx.Err(); err != nil {
		return Evidence{}, err
	}
	ev := Evidence{EntityKey: req.EntityKey, Assessment: AssessmentConfirmed}

	if v.MaxShare > 0 && req.TotalEntities > 1 && req.TotalMatches > 0 && req.TotalMatches >= v.MinShareTotal {
		share := float64(req.MatchCount) / float64(req.TotalMatches)
		if share > v.MaxShare {
			ev.Assessment = AssessmentConflict
			ev.Reason = fmt.Sprintf("holds %.1f%% of all matches (limit %.1f%%)", share*100, v.MaxShare*100)
			return ev, nil
		}
	}

	if v.MaxPerDocument > 0 && req.DocumentCount > 0 {
		perDoc := float64(req.MatchCount) / float64(req.DocumentCount)
		if perDoc > v.MaxPerDocument {
			ev.Assessment = AssessmentConflict
			ev.Reason = fmt.Sprintf("%.1f matches per document (limit %.1f)", perDoc, v.MaxPerDocument)
		}
	}
	return ev, nil
}
