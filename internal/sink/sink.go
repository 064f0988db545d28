// Package sink receives the artifacts a pipeline run produces: the run
// record, investigations, review items and the quality report.
package sink

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/matchguard/internal/model"
)

// Kind identifies the payload of an Artifact.
type Kind string

const (
	KindRun           Kind = "run"
	KindInvestigation Kind = "investigation"
	KindReview        Kind = "review"
	KindQuality       Kind = "quality"
)

// Artifact is one unit handed to a Sink. Exactly one payload field is set,
// matching Kind.
type Artifact struct {
	Kind          Kind                 `json:"kind"`
	RunID         string               `json:"run_id"`
	Run           *model.PipelineRun   `json:"run,omitempty"`
	Investigation *model.Investigation `json:"investigation,omitempty"`
	Review        []model.ReviewItem   `json:"review,omitempty"`
	Quality       *model.QualityReport `json:"quality,omitempty"`
}

// Validate checks that the payload matches Kind.
func (a Artifact) Validate() error {
	ok := false
	switch a.Kind {
	case KindRun:
		ok = a.Run != nil
	case KindInvestigation:
		ok = a.Investigation != nil
	case KindReview:
		ok = true
	case KindQuality:
		ok = a.Quality != nil
	default:
		return eris.Errorf("sink: unknown artifact kind %q", a.Kind)
	}
	if !ok {
		return eris.Errorf("sink: %s artifact without payload", a.Kind)
	}
	return nil
}

// Sink persists artifacts. Append may buffer; Flush makes everything
// appended so far durable.
type Sink interface {
	Append(ctx context.Context, a Artifact) error
	Flush(ctx context.Context) error
}

// RunArtifact wraps a run record.
func RunArtifact(run *model.PipelineRun) Artifact {
	return Artifact{Kind: KindRun, RunID: run.ID, Run: run}
}

// InvestigationArtifact wraps an investigation.
func InvestigationArtifact(inv model.Investigation) Artifact {
	return Artifact{Kind: KindInvestigation, RunID: inv.RunID, Investigation: &inv}
}

// ReviewArtifact wraps the review queue of a run.
func ReviewArtifact(runID string, items []model.ReviewItem) Artifact {
	return Artifact{Kind: KindReview, RunID: runID, Review: items}
}

// QualityArtifact wraps a quality report.
func QualityArtifact(q *model.QualityReport) Artifact {
	return Artifact{Kind: KindQuality, RunID: q.RunID, Quality: q}
}
