// Package pipeline runs the gated validation pipeline: extraction, entity
// validation, statistical analysis, cross validation, conditional human
// review and final approval.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/matchguard/internal/anomaly"
	"github.com/sells-group/matchguard/internal/config"
	"github.com/sells-group/matchguard/internal/crossval"
	"github.com/sells-group/matchguard/internal/lexicon"
	"github.com/sells-group/matchguard/internal/matcher"
	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/monitoring"
	"github.com/sells-group/matchguard/internal/review"
	"github.com/sells-group/matchguard/internal/sink"
	"github.com/sells-group/matchguard/internal/validator"
)

// Registry is the entity snapshot a run validates against.
// *registry.Registry satisfies it.
type Registry interface {
	Get(key string) (model.EntityRecord, bool)
	Entities() []model.EntityRecord
}

// Input is everything one run consumes. Observations, Distributions and
// Records feed the statistical checks alongside the metrics the run derives
// itself.
type Input struct {
	Documents     []model.Document
	Registry      Registry
	Observations  []model.Observation
	Distributions map[string][]model.Sample
	Records       []model.StructuredRecord
	InputSizeGB   float64
}

// Pipeline orchestrates the six validation stages. It holds no per-run
// state, so one Pipeline may serve concurrent runs.
type Pipeline struct {
	cfg          *config.Config
	validator    *validator.Validator
	detector     *anomaly.Detector
	sampler      *review.Sampler
	corroborator crossval.Corroborator
	sink         sink.Sink
	instruments  *monitoring.Instruments
	now          func() time.Time
	newID        func() string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithSink sets where run artifacts are appended.
func WithSink(s sink.Sink) Option {
	return func(p *Pipeline) { p.sink = s }
}

// WithCorroborator replaces the cross-validation collaborator.
func WithCorroborator(c crossval.Corroborator) Option {
	return func(p *Pipeline) { p.corroborator = c }
}

// WithInstruments enables OpenTelemetry metrics.
func WithInstruments(in *monitoring.Instruments) Option {
	return func(p *Pipeline) { p.instruments = in }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// New creates a Pipeline. Without WithCorroborator the volume heuristic is
// used; without WithSink artifacts are not persisted.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	if cfg == nil {
		cfg = config.Default()
	}
	p := &Pipeline{
		cfg:       cfg,
		validator: validator.New(cfg.Validation),
		detector:  anomaly.New(cfg.Statistics),
		sampler:   review.NewSampler(cfg.Review),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(p)
	}
	if p.corroborator == nil {
		p.corroborator = crossval.NewVolume(cfg.CrossValidation)
	}
	return p
}

// runState carries stage outputs from one stage to the next. It belongs to
// a single run.
type runState struct {
	in          Input
	run         *model.PipelineRun
	log         *validator.Log
	extraction  *matcher.Result
	verdicts    []model.ValidationVerdict
	results     []model.MatchResult
	review      []model.ReviewItem
	investigate *anomaly.Investigator
}

type stage struct {
	name model.ValidationStage
	fn   stageFunc
	// when reports whether the stage runs; nil means always.
	when func(*runState) bool
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{name: model.StageExtraction, fn: p.extract},
		{name: model.StageEntityValidation, fn: p.validate},
		{name: model.StageStatisticalAnalysis, fn: p.analyze},
		{name: model.StageCrossValidation, fn: p.crossValidate},
		{name: model.StageHumanReview, fn: p.humanReview, when: needsReview},
		{name: model.StageFinalApproval, fn: p.approve},
	}
}

// Run executes the pipeline over in and always returns a complete run
// record. Stages run to completion even if ctx is cancelled mid-stage;
// cancellation is observed between stages and recorded as a CANCELLED gate.
// The error is non-nil only when the sink could not persist the run.
func (p *Pipeline) Run(ctx context.Context, in Input) (*model.PipelineRun, error) {
	run := &model.PipelineRun{
		ID:            p.newID(),
		StartedAt:     p.now(),
		OverallStatus: model.StatusPending,
	}
	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("pipeline: run started", zap.Int("documents", len(in.Documents)))
	in.Documents = normalizeDocuments(in.Documents)

	st := &runState{
		in:          in,
		run:         run,
		log:         validator.NewLog(),
		investigate: anomaly.NewInvestigator(p.sink),
	}

	work := context.WithoutCancel(ctx)
	for _, s := range p.stages() {
		if s.when != nil && !s.when(st) {
			continue
		}
		if err := ctx.Err(); err != nil {
			run.Gates = append(run.Gates, p.cancelledGate(s.name, err))
			log.Warn("pipeline: run cancelled", zap.String("stage", string(s.name)))
			break
		}
		gate := p.runStage(work, s.name, st, s.fn)
		run.Gates = append(run.Gates, gate)
		if gate.Status.Halts() {
			break
		}
	}

	p.finalize(st)
	log.Info("pipeline: run complete",
		zap.String("status", string(run.OverallStatus)),
		zap.Int("final_matches", len(run.FinalMatches)),
		zap.Float64("final_confidence", run.FinalConfidence),
		zap.Int("review_queue", run.ReviewQueueSize),
		zap.Int("investigations", len(run.Investigations)),
	)

	if err := p.persist(work, run); err != nil {
		return run, err
	}
	return run, nil
}

// finalize derives the overall status and attaches the quality report.
func (p *Pipeline) finalize(st *runState) {
	run := st.run
	run.CompletedAt = p.now()
	run.OverallStatus = model.DeriveStatus(run.Gates)
	if st.extraction != nil {
		run.Quality = BuildQuality(run.ID, len(st.extraction.Matches), st.log, run.CompletedAt)
	}
	run.Message = haltMessage(run)
}

// persist appends the quality report and the run record, then flushes.
func (p *Pipeline) persist(ctx context.Context, run *model.PipelineRun) error {
	if p.sink == nil {
		return nil
	}
	if run.Quality != nil {
		if err := p.sink.Append(ctx, sink.QualityArtifact(run.Quality)); err != nil {
			return eris.Wrapf(err, "pipeline: persist quality report %s", run.ID)
		}
	}
	if err := p.sink.Append(ctx, sink.RunArtifact(run)); err != nil {
		return eris.Wrapf(err, "pipeline: persist run %s", run.ID)
	}
	if err := p.sink.Flush(ctx); err != nil {
		return eris.Wrapf(err, "pipeline: flush run %s", run.ID)
	}
	return nil
}

// needsReview reports whether any gate so far asked for review.
func needsReview(st *runState) bool {
	for _, g := range st.run.Gates {
		if g.Status == model.StatusNeedsReview {
			return true
		}
	}
	return false
}

// normalizeDocuments returns NFC copies of docs so match spans index the
// text every later stage reads. The caller's slice is left untouched.
func normalizeDocuments(docs []model.Document) []model.Document {
	out := make([]model.Document, len(docs))
	for i, d := range docs {
		d.Text = lexicon.NFC(d.Text)
		out[i] = d
	}
	return out
}
