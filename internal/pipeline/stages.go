package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/matchguard/internal/anomaly"
	"github.com/sells-group/matchguard/internal/crossval"
	"github.com/sells-group/matchguard/internal/matcher"
	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/sink"
	"github.com/sells-group/matchguard/internal/validator"
)

// Observation and distribution names derived from the run itself. Each must
// have an entry in the statistics metric table.
const (
	metricValidationRate     = "validation_rate"
	metricFalsePositiveRate  = "false_positive_rate"
	metricMeanConfidence     = "mean_confidence"
	metricValidatedMatches   = "validated_matches"
	metricMatchesPerDocument = "matches_per_document"
)

func (p *Pipeline) extract(ctx context.Context, st *runState) (model.ValidationGate, error) {
	if st.in.Registry == nil {
		return model.ValidationGate{}, eris.New("no entity registry")
	}
	m := matcher.New(st.in.Registry.Entities(), matcher.OptionsFromConfig(p.cfg.Extraction))
	res, err := m.Extract(ctx, st.in.Documents)
	if err != nil {
		return model.ValidationGate{}, err
	}
	st.extraction = res
	st.log.Reject(res.Rejections...)
	p.instruments.RecordExtraction(ctx, len(res.Matches))

	rate := res.ErrorRate()
	gate := model.ValidationGate{
		Confidence: 1 - rate,
		Metrics: map[string]float64{
			"documents":   float64(res.Documents),
			"raw_matches": float64(len(res.Matches)),
			"rejected":    float64(len(res.Rejections)),
			"errors":      float64(len(res.Errors)),
			"error_rate":  rate,
		},
	}
	for _, e := range res.Errors {
		gate.Warnings = append(gate.Warnings, e.Error())
	}
	if res.Documents == 0 {
		gate.Warnings = append(gate.Warnings, "Corpus is empty")
	}
	if res.Documents > 0 && rate >= p.cfg.Pipeline.MaxExtractionErrorRate {
		gate.Status = model.StatusFailed
		gate.Issues = append(gate.Issues, fmt.Sprintf(
			"Extraction error rate %.1f%% (%d of %d documents) at or above %.1f%%",
			rate*100, len(res.Errors), res.Documents, p.cfg.Pipeline.MaxExtractionErrorRate*100))
	}
	return gate, nil
}

func (p *Pipeline) validate(ctx context.Context, st *runState) (model.ValidationGate, error) {
	raw := st.extraction.Matches
	verdicts, err := p.validator.ValidateAll(ctx, raw, st.in.Registry, st.log)
	if err != nil {
		return model.ValidationGate{}, err
	}
	st.verdicts = verdicts
	p.instruments.RecordVerdicts(ctx, verdicts)

	st.results = st.results[:0]
	for i, v := range verdicts {
		if !v.Valid {
			continue
		}
		st.results = append(st.results, model.MatchResult{
			Match:      raw[i],
			Confidence: v.Confidence,
			MatchType:  v.MatchType,
			Warnings:   v.Warnings,
		})
	}

	valid := len(st.results)
	gate := model.ValidationGate{
		Confidence: meanConfidence(st.results),
		Metrics: map[string]float64{
			"raw_matches":         float64(len(raw)),
			"validated_matches":   float64(valid),
			"false_positive_rate": st.log.FalsePositiveRate(),
			"input_errors":        float64(len(st.log.InputErrors())),
		},
	}

	byType := st.log.CountByType()
	types := make([]string, 0, len(byType))
	for t := range byType {
		if t != model.MatchValidatedEntity {
			types = append(types, string(t))
		}
	}
	sort.Strings(types)
	for _, t := range types {
		gate.Warnings = append(gate.Warnings, fmt.Sprintf("%d matches rejected as %s", byType[model.MatchType(t)], t))
	}
	for _, e := range st.log.InputErrors() {
		gate.Warnings = append(gate.Warnings, e.Error())
	}

	if len(raw) == 0 {
		gate.Confidence = 1
		gate.Warnings = append(gate.Warnings, "No raw matches to validate")
		return gate, nil
	}

	rate := float64(valid) / float64(len(raw))
	gate.Metrics["validation_rate"] = rate
	if rate < p.cfg.Pipeline.MinValidationRate {
		gate.Status = model.StatusFailed
		gate.Issues = append(gate.Issues, fmt.Sprintf(
			"Validated-match rate %.1f%% (%d of %d) below minimum %.1f%%",
			rate*100, valid, len(raw), p.cfg.Pipeline.MinValidationRate*100))
	}
	return gate, nil
}

func (p *Pipeline) analyze(ctx context.Context, st *runState) (model.ValidationGate, error) {
	counts := make(map[string]int)
	for _, r := range st.results {
		counts[r.Match.EntityKey]++
	}

	res := p.detector.Analyze(anomaly.Input{
		Observations:  append(append([]model.Observation(nil), st.in.Observations...), p.derivedObservations(st)...),
		Distributions: p.distributions(st),
		EntityCounts:  counts,
		Records:       st.in.Records,
		InputSizeGB:   st.in.InputSizeGB,
	})
	p.instruments.RecordAnomalies(ctx, res.Anomalies)

	run := st.run
	run.Anomalies = res.Anomalies
	for _, inv := range st.investigate.Record(ctx, run.ID, res.Anomalies) {
		run.Investigations = append(run.Investigations, inv.ID)
	}

	critical, high := res.Critical(), res.High()
	gate := model.ValidationGate{
		Metrics: map[string]float64{
			"anomalies":     float64(len(res.Anomalies)),
			"critical":      float64(len(critical)),
			"high":          float64(len(high)),
			"config_errors": float64(len(res.ConfigErrors)),
		},
	}
	for _, e := range res.ConfigErrors {
		gate.Warnings = append(gate.Warnings, e.Error())
	}

	if len(critical) > 0 && p.cfg.Pipeline.BlockCriticalAnomalies {
		gate.Status = model.StatusBlocked
		gate.Confidence = 0
		for _, a := range critical {
			gate.Issues = append(gate.Issues, a.Message)
		}
		return gate, nil
	}

	flagged := make(map[string]bool)
	for _, a := range critical {
		gate.Warnings = append(gate.Warnings, a.Message)
		if a.Entity != "" {
			flagged[a.Entity] = true
		}
	}
	if len(flagged) > 0 {
		kept := make([]model.MatchResult, 0, len(st.results))
		dropped := make(map[string]int)
		for _, r := range st.results {
			if flagged[r.Match.EntityKey] {
				dropped[r.Match.EntityKey]++
				continue
			}
			kept = append(kept, r)
		}
		st.results = kept
		keys := make([]string, 0, len(dropped))
		for k := range dropped {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		filtered := 0
		for _, k := range keys {
			filtered += dropped[k]
			gate.Warnings = append(gate.Warnings, fmt.Sprintf("Filtered %d matches of %s after critical anomaly", dropped[k], k))
		}
		gate.Metrics["filtered_matches"] = float64(filtered)
		zap.L().Warn("pipeline: filtered anomalous entities",
			zap.String("run_id", run.ID),
			zap.Strings("entities", keys),
			zap.Int("matches", filtered),
		)
	}

	for _, a := range high {
		gate.Warnings = append(gate.Warnings, a.Message)
	}
	if len(high) > p.cfg.Pipeline.MaxHighAnomalies {
		gate.Status = model.StatusNeedsReview
		gate.Issues = append(gate.Issues, fmt.Sprintf(
			"%d high-severity anomalies exceed the limit of %d", len(high), p.cfg.Pipeline.MaxHighAnomalies))
	}
	gate.Confidence = meanConfidence(st.results)
	return gate, nil
}

// derivedObservations turns the run's own aggregates into bound-checked
// observations.
func (p *Pipeline) derivedObservations(st *runState) []model.Observation {
	raw := len(st.extraction.Matches)
	obs := []model.Observation{
		{Metric: metricValidatedMatches, Value: float64(len(st.results))},
		{Metric: metricFalsePositiveRate, Value: st.log.FalsePositiveRate()},
	}
	if raw > 0 {
		obs = append(obs, model.Observation{Metric: metricValidationRate, Value: float64(st.log.Valid()) / float64(raw)})
	}
	if len(st.results) > 0 {
		obs = append(obs, model.Observation{Metric: metricMeanConfidence, Value: meanConfidence(st.results)})
	}
	if readable := st.extraction.Documents - len(st.extraction.Errors); readable > 0 {
		obs = append(obs, model.Observation{Metric: metricMatchesPerDocument, Value: float64(raw) / float64(readable)})
	}
	return obs
}

// distributions adds the per-document validated-match distribution unless
// the caller supplied one under the same name.
func (p *Pipeline) distributions(st *runState) map[string][]model.Sample {
	out := make(map[string][]model.Sample, len(st.in.Distributions)+1)
	for k, v := range st.in.Distributions {
		out[k] = v
	}
	if _, ok := out[metricMatchesPerDocument]; ok {
		return out
	}

	failed := make(map[string]bool, len(st.extraction.Errors))
	for _, e := range st.extraction.Errors {
		failed[e.DocumentID] = true
	}
	perDoc := make(map[string]int)
	for _, r := range st.results {
		perDoc[r.Match.Span.DocumentID]++
	}
	var samples []model.Sample
	for _, d := range st.in.Documents {
		if d.ID == "" || failed[d.ID] {
			continue
		}
		samples = append(samples, model.Sample{Label: d.ID, Value: float64(perDoc[d.ID])})
	}
	out[metricMatchesPerDocument] = samples
	return out
}

func (p *Pipeline) crossValidate(ctx context.Context, st *runState) (model.ValidationGate, error) {
	cv := p.cfg.CrossValidation
	out := crossval.Apply(ctx, p.corroborator, st.results, st.in.Registry, crossval.OptionsFromConfig(cv))
	st.results = out.Results

	gate := model.ValidationGate{
		Confidence: meanConfidence(st.results),
		Warnings:   out.Warnings,
		Metrics: map[string]float64{
			"entities":      float64(out.Entities),
			"conflicts":     float64(len(out.Conflicts)),
			"neutral":       float64(len(out.Neutral)),
			"adjusted":      float64(out.AdjustedMatches),
			"conflict_rate": out.ConflictRate(),
			"adjusted_rate": out.AdjustedRate(),
		},
	}
	if cv.MaxConflictRate > 0 && out.ConflictRate() > cv.MaxConflictRate {
		gate.Issues = append(gate.Issues, fmt.Sprintf(
			"Conflict rate %.1f%% of %d entities exceeds %.1f%%",
			out.ConflictRate()*100, out.Entities, cv.MaxConflictRate*100))
	}
	if cv.MaxAdjustedRate > 0 && out.AdjustedRate() > cv.MaxAdjustedRate {
		gate.Issues = append(gate.Issues, fmt.Sprintf(
			"%.1f%% of matches marked down exceeds %.1f%%",
			out.AdjustedRate()*100, cv.MaxAdjustedRate*100))
	}
	if len(gate.Issues) > 0 {
		gate.Status = model.StatusNeedsReview
	}
	return gate, nil
}

func (p *Pipeline) humanReview(ctx context.Context, st *runState) (model.ValidationGate, error) {
	items := p.sampler.Sample(st.run.ID, st.results)
	st.review = items
	st.run.ReviewQueueSize = len(items)

	if p.sink != nil {
		if err := p.sink.Append(ctx, sink.ReviewArtifact(st.run.ID, items)); err != nil {
			return model.ValidationGate{}, eris.Wrap(err, "queue review items")
		}
	}

	below := 0
	for _, it := range items {
		if it.Reason == model.ReviewBelowFloor {
			below++
		}
	}
	confidence := 1.0
	if len(st.results) > 0 {
		confidence = 1 - float64(len(items))/float64(len(st.results))
	}
	return model.ValidationGate{
		Status:     model.StatusNeedsReview,
		Confidence: confidence,
		Warnings: []string{fmt.Sprintf("%d matches queued for review (%d below confidence floor, %d sampled)",
			len(items), below, len(items)-below)},
		Metrics: map[string]float64{
			"queued":      float64(len(items)),
			"below_floor": float64(below),
			"sampled":     float64(len(items) - below),
		},
	}, nil
}

func (p *Pipeline) approve(_ context.Context, st *runState) (model.ValidationGate, error) {
	run := st.run
	run.FinalMatches = append([]model.MatchResult(nil), st.results...)
	run.FinalConfidence = validator.Clamp(meanConfidence(st.results))
	return model.ValidationGate{
		Status:     model.StatusPassed,
		Confidence: run.FinalConfidence,
		Metrics: map[string]float64{
			"final_matches":    float64(len(run.FinalMatches)),
			"final_confidence": run.FinalConfidence,
		},
	}, nil
}

func meanConfidence(results []model.MatchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range results {
		sum += r.Confidence
	}
	return sum / float64(len(results))
}
