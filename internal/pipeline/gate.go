package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/validator"
)

// maxGateNotes caps the issues or warnings copied into one gate.
const maxGateNotes = 20

// PipelineStageError reports an unexpected failure inside a stage. The
// orchestrator records it as the stage's FAILED gate and stops the run.
type PipelineStageError struct {
	Stage model.ValidationStage
	Err   error
}

func (e *PipelineStageError) Error() string {
	return fmt.Sprintf("pipeline: stage %s: %v", e.Stage, e.Err)
}

func (e *PipelineStageError) Unwrap() error {
	return e.Err
}

// stageFunc runs one stage against the run state and returns its gate. The
// stage, timestamp and status defaults are filled in by runStage.
type stageFunc func(ctx context.Context, st *runState) (model.ValidationGate, error)

// runStage executes fn, converting errors and panics into a FAILED gate.
func (p *Pipeline) runStage(ctx context.Context, stage model.ValidationStage, st *runState, fn stageFunc) model.ValidationGate {
	log := zap.L().With(zap.String("run_id", st.run.ID), zap.String("stage", string(stage)))
	start := time.Now()

	gate, err := p.protect(ctx, stage, st, fn)
	if err != nil {
		gate = model.ValidationGate{
			Status: model.StatusFailed,
			Issues: []string{err.Error()},
		}
		log.Error("pipeline: stage failed", zap.Error(err))
	}
	gate.Stage = stage
	if gate.Status == "" {
		gate.Status = model.StatusPassed
	}
	gate.Confidence = validator.Clamp(gate.Confidence)
	gate.Issues = capNotes(gate.Issues)
	gate.Warnings = capNotes(gate.Warnings)
	gate.Timestamp = p.now()

	elapsed := time.Since(start)
	p.instruments.RecordGate(ctx, gate, elapsed)
	log.Info("pipeline: stage complete",
		zap.String("status", string(gate.Status)),
		zap.Float64("confidence", gate.Confidence),
		zap.Int("issues", len(gate.Issues)),
		zap.Int("warnings", len(gate.Warnings)),
		zap.Duration("elapsed", elapsed),
	)
	return gate
}

func (p *Pipeline) protect(ctx context.Context, stage model.ValidationStage, st *runState, fn stageFunc) (gate model.ValidationGate, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("pipeline: stage panic",
				zap.String("stage", string(stage)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = &PipelineStageError{Stage: stage, Err: eris.Errorf("panic: %v", r)}
		}
	}()
	gate, err = fn(ctx, st)
	if err != nil {
		err = &PipelineStageError{Stage: stage, Err: err}
	}
	return gate, err
}

// cancelledGate records a stage that was not started because the caller
// cancelled the run.
func (p *Pipeline) cancelledGate(stage model.ValidationStage, cause error) model.ValidationGate {
	return model.ValidationGate{
		Stage:     stage,
		Status:    model.StatusCancelled,
		Issues:    []string{fmt.Sprintf("run cancelled before %s: %v", stage, cause)},
		Timestamp: p.now(),
	}
}

func capNotes(notes []string) []string {
	if len(notes) <= maxGateNotes {
		return notes
	}
	out := make([]string, maxGateNotes, maxGateNotes+1)
	copy(out, notes[:maxGateNotes])
	return append(out, fmt.Sprintf("... and %d more", len(notes)-maxGateNotes))
}

// haltMessage summarizes why a run did not pass.
func haltMessage(run *model.PipelineRun) string {
	switch run.OverallStatus {
	case model.StatusPassed, model.StatusPending:
		return ""
	case model.StatusNeedsReview:
		msg := "Needs review"
		for _, g := range run.Gates {
			if g.Status == model.StatusNeedsReview && g.Stage != model.StageHumanReview {
				msg += fmt.Sprintf("; %s: %s", g.Stage, firstNote(g))
			}
		}
		return fmt.Sprintf("%s; %d matches queued for review", msg, run.ReviewQueueSize)
	}
	for _, g := range run.Gates {
		if g.Status.Halts() {
			return fmt.Sprintf("Halted at %s (%s): %s", g.Stage, g.Status, firstNote(g))
		}
	}
	return string(run.OverallStatus)
}

func firstNote(g model.ValidationGate) string {
	switch {
	case len(g.Issues) > 0:
		return g.Issues[0]
	case len(g.Warnings) > 0:
		return g.Warnings[0]
	}
	return "no details"
}
