// Package crossval corroborates validated matches per entity and marks down
// the confidence of entities whose evidence conflicts.
package crossval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/matchguard/internal/config"
	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/validator"
)

// Assessment is the outcome of corroborating one entity.
type Assessment string

const (
	AssessmentConfirmed Assessment = "confirmed"
	AssessmentConflict  Assessment = "conflict"
	AssessmentNeutral   Assessment = "neutral"
)

// Request describes one entity's share of the validated match set.
type Request struct {
	EntityKey      string             `json:"entity_key"`
	Entity         model.EntityRecord `json:"entity"`
	MatchCount     int                `json:"match_count"`
	DocumentCount  int                `json:"document_count"`
	TotalMatches   int                `json:"total_matches"`
	TotalEntities  int                `json:"total_entities"`
	SampleMatchIDs []string           `json:"sample_match_ids,omitempty"`
}

// Evidence is a corroborator's answer for one entity.
type Evidence struct {
	EntityKey  string     `json:"entity_key"`
	Assessment Assessment `json:"assessment"`
	Reason     string     `json:"reason,omitempty"`
}

// Corroborator checks an entity's matches against an independent source.
// Implementations must honour ctx cancellation.
type Corroborator interface {
	Corroborate(ctx context.Context, req Request) (Evidence, error)
}

// EntitySource resolves entity keys.
type EntitySource interface {
	Get(key string) (model.EntityRecord, bool)
}

// Options control the fan-out over entities.
type Options struct {
	Timeout     time.Duration
	Concurrency int
	Markdown    float64
}

// OptionsFromConfig converts the cross_validation config section.
func OptionsFromConfig(cfg config.CrossValidationConfig) Options {
	return Options{
		Timeout:     time.Duration(cfg.TimeoutMs) * time.Millisecond,
		Concurrency: cfg.Concurrency,
		Markdown:    cfg.Markdown,
	}
}

// Outcome is the result of cross-validating a match set.
type Outcome struct {
	Results         []model.MatchResult
	Evidence        []Evidence
	Conflicts       []string
	Neutral         []string
	Warnings        []string
	Entities        int
	AdjustedMatches int
}

// ConflictRate is the share of distinct entities with conflicting evidence.
func (o Outcome) ConflictRate() float64 {
	if o.Entities == 0 {
		return 0
	}
	return float64(len(o.Conflicts)) / float64(o.Entities)
}

// AdjustedRate is the share of matches whose confidence was marked down.
func (o Outcome) AdjustedRate() float64 {
	if len(o.Results) == 0 {
		return 0
	}
	return float64(o.AdjustedMatches) / float64(len(o.Results))
}

const maxSampleIDs = 5

// Apply calls c once per distinct entity in matches and returns a copy of
// matches with conflicting entities marked down. Each call runs under its own
// timeout. Errors and timeouts count as neutral and are reported as warnings.
func Apply(ctx context.Context, c Corroborator, matches []model.MatchResult, entities EntitySource, opts Options) Outcome {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Markdown <= 0 || opts.Markdown > 1 {
		opts.Markdown = 0.7
	}

	reqs := buildRequests(matches, entities)
	evidence := make([]Evidence, len(reqs))

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			evidence[i] = corroborate(ctx, c, req, opts.Timeout)
			return nil
		})
	}
	_ = g.Wait()

	out := Outcome{
		Results:  make([]model.MatchResult, len(matches)),
		Evidence: evidence,
		Entities: len(reqs),
	}
	conflicted := make(map[string]string)
	for _, ev := range evidence {
		switch ev.Assessment {
		case AssessmentConflict:
			out.Conflicts = append(out.Conflicts, ev.EntityKey)
			conflicted[ev.EntityKey] = ev.Reason
		case AssessmentNeutral:
			out.Neutral = append(out.Neutral, ev.EntityKey)
			if ev.Reason != "" {
				out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %s", ev.EntityKey, ev.Reason))
			}
		}
	}

	for i, m := range matches {
		m.Warnings = append([]string(nil), m.Warnings...)
		if reason, ok := conflicted[m.Match.EntityKey]; ok {
			m.Confidence = validator.Clamp(m.Confidence * opts.Markdown)
			m.Adjusted = true
			m.Warnings = append(m.Warnings, "cross-validation conflict: "+reason)
			out.AdjustedMatches++
		}
		out.Results[i] = m
	}

	zap.L().Info("crossval: corroboration complete",
		zap.Int("entities", out.Entities),
		zap.Int("conflicts", len(out.Conflicts)),
		zap.Int("neutral", len(out.Neutral)),
		zap.Int("adjusted_matches", out.AdjustedMatches),
	)
	return out
}

func corroborate(ctx context.Context, c Corroborator, req Request, timeout time.Duration) (ev Evidence) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			ev = neutral(req.EntityKey, fmt.Sprintf("corroborator panic: %v", r))
		}
	}()

	ev, err := c.Corroborate(callCtx, req)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		zap.L().Warn("crossval: corroboration timed out", zap.String("entity", req.EntityKey))
		return neutral(req.EntityKey, "corroboration timed out")
	case err != nil:
		zap.L().Warn("crossval: corroboration failed", zap.String("entity", req.EntityKey), zap.Error(err))
		return neutral(req.EntityKey, "corroboration unavailable: "+err.Error())
	}

	ev.EntityKey = req.EntityKey
	switch ev.Assessment {
	case AssessmentConfirmed, AssessmentConflict, AssessmentNeutral:
	default:
		return neutral(req.EntityKey, fmt.Sprintf("unknown assessment %q", ev.Assessment))
	}
	return ev
}

func neutral(key, reason string) Evidence {
	return Evidence{EntityKey: key, Assessment: AssessmentNeutral, Reason: reason}
}

// buildRequests groups matches by entity, sorted by key.
func buildRequests(matches []model.MatchResult, entities EntitySource) []Request {
	type agg struct {
		count int
		docs  map[string]struct{}
		ids   []string
	}
	byKey := make(map[string]*agg)
	for _, m := range matches {
		a, ok := byKey[m.Match.EntityKey]
		if !ok {
			a = &agg{docs: make(map[string]struct{})}
			byKey[m.Match.EntityKey] = a
		}
		a.count++
		a.docs[m.Match.Span.DocumentID] = struct{}{}
		if len(a.ids) < maxSampleIDs {
			a.ids = append(a.ids, m.Match.ID)
		}
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	reqs := make([]Request, len(keys))
	for i, k := range keys {
		a := byKey[k]
		req := Request{
			EntityKey:      k,
			MatchCount:     a.count,
			DocumentCount:  len(a.docs),
			TotalMatches:   len(matches),
			TotalEntities:  len(keys),
			SampleMatchIDs: a.ids,
		}
		if entities != nil {
			if e, ok := entities.Get(k); ok {
				req.Entity = e
			}
		}
		reqs[i] = req
	}
	return reqs
}
