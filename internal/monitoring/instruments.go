package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sells-group/matchguard/internal/model"
)

// MeterName is the instrumentation scope of pipeline metrics.
const MeterName = "matchguard"

// Instruments records pipeline counters and stage timings. A nil
// *Instruments is valid and records nothing.
type Instruments struct {
	rawMatches    metric.Int64Counter
	validated     metric.Int64Counter
	rejected      metric.Int64Counter
	anomalies     metric.Int64Counter
	gates         metric.Int64Counter
	stageDuration metric.Float64Histogram
}

// NewInstruments creates the pipeline instruments on mp. A nil mp uses the
// global meter provider.
func NewInstruments(mp metric.MeterProvider) (*Instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(MeterName)

	var (
		in  Instruments
		err error
	)
	if in.rawMatches, err = meter.Int64Counter("matchguard.matches.raw",
		metric.WithDescription("Candidate matches produced by extraction"),
		metric.WithUnit("{match}"),
	); err != nil {
		return nil, eris.Wrap(err, "monitoring: create raw matches counter")
	}
	if in.validated, err = meter.Int64Counter("matchguard.matches.validated",
		metric.WithDescription("Matches that passed entity validation"),
		metric.WithUnit("{match}"),
	); err != nil {
		return nil, eris.Wrap(err, "monitoring: create validated counter")
	}
	if in.rejected, err = meter.Int64Counter("matchguard.matches.rejected",
		metric.WithDescription("Matches rejected by entity validation"),
		metric.WithUnit("{match}"),
	); err != nil {
		return nil, eris.Wrap(err, "monitoring: create rejected counter")
	}
	if in.anomalies, err = meter.Int64Counter("matchguard.anomalies",
		metric.WithDescription("Statistical anomalies detected"),
		metric.WithUnit("{anomaly}"),
	); err != nil {
		return nil, eris.Wrap(err, "monitoring: create anomalies counter")
	}
	if in.gates, err = meter.Int64Counter("matchguard.gates",
		metric.WithDescription("Pipeline gates recorded"),
		metric.WithUnit("{gate}"),
	); err != nil {
		return nil, eris.Wrap(err, "monitoring: create gates counter")
	}
	if in.stageDuration, err = meter.Float64Histogram("matchguard.stage.duration_ms",
		metric.WithDescription("Wall time of each pipeline stage"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000),
	); err != nil {
		return nil, eris.Wrap(err, "monitoring: create stage duration histogram")
	}
	return &in, nil
}

// RecordExtraction counts the raw matches of a run.
func (in *Instruments) RecordExtraction(ctx context.Context, raw int) {
	if in == nil {
		return
	}
	in.rawMatches.Add(ctx, int64(raw))
}

// RecordVerdicts counts validated and rejected matches, the latter by match
// type.
func (in *Instruments) RecordVerdicts(ctx context.Context, verdicts []model.ValidationVerdict) {
	if in == nil {
		return
	}
	valid := 0
	rejected := make(map[model.MatchType]int64)
	for _, v := range verdicts {
		if v.Valid {
			valid++
			continue
		}
		rejected[v.MatchType]++
	}
	in.validated.Add(ctx, int64(valid))
	for mt, n := range rejected {
		in.rejected.Add(ctx, n, metric.WithAttributes(attribute.String("match_type", string(mt))))
	}
}

// RecordAnomalies counts anomalies by severity.
func (in *Instruments) RecordAnomalies(ctx context.Context, reports []model.AnomalyReport) {
	if in == nil {
		return
	}
	for _, r := range reports {
		in.anomalies.Add(ctx, 1, metric.WithAttributes(
			attribute.String("severity", string(r.Severity)),
			attribute.String("check", string(r.Check)),
		))
	}
}

// RecordGate counts a gate and records how long its stage took.
func (in *Instruments) RecordGate(ctx context.Context, g model.ValidationGate, elapsed time.Duration) {
	if in == nil {
		return
	}
	in.gates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", string(g.Stage)),
		attribute.String("status", string(g.Status)),
	))
	in.stageDuration.Record(ctx, float64(elapsed.Microseconds())/1000,
		metric.WithAttributes(attribute.String("stage", string(g.Stage))))
}
