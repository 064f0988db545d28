// Package store persists pipeline runs, investigations, review queues and
// quality reports. SQLite is the local default; PostgreSQL serves shared
// deployments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/matchguard/internal/model"
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.ValidationStatus `json:"status,omitempty"`
	Since  time.Time              `json:"since,omitempty"`
	Limit  int                    `json:"limit,omitempty"`
	Offset int                    `json:"offset,omitempty"`
}

// InvestigationFilter specifies criteria for listing investigations.
type InvestigationFilter struct {
	RunID  string `json:"run_id,omitempty"`
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for validation artifacts.
type Store interface {
	// Runs
	SaveRun(ctx context.Context, run *model.PipelineRun) error
	GetRun(ctx context.Context, runID string) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)

	// Investigations are keyed by content hash; saving one twice is a no-op.
	SaveInvestigation(ctx context.Context, inv model.Investigation) error
	ListInvestigations(ctx context.Context, filter InvestigationFilter) ([]model.Investigation, error)

	// Review queue
	EnqueueReview(ctx context.Context, items []model.ReviewItem) error
	ListReview(ctx context.Context, runID string) ([]model.ReviewItem, error)

	// Quality
	SaveQuality(ctx context.Context, q *model.QualityReport) error
	GetQuality(ctx context.Context, runID string) (*model.QualityReport, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
