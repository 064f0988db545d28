package validator

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/matchguard/internal/model"
)

// EntitySource resolves entity keys. *registry.Registry satisfies it.
type EntitySource interface {
	Get(key string) (model.EntityRecord, bool)
}

type scored struct {
	verdict model.ValidationVerdict
	errs    []*ValidationInputError
}

// ValidateAll scores matches on a bounded worker pool and returns verdicts
// in input order. Each worker writes only its own slot; the slots are
// appended to log in input order once every match is scored, so the log is
// the same regardless of scheduling.
func (v *Validator) ValidateAll(ctx context.Context, matches []model.RawMatch, entities EntitySource, log *Log) ([]model.ValidationVerdict, error) {
	results := make([]scored, len(matches))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Workers)

	for i, m := range matches {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			e, ok := entities.Get(m.EntityKey)
			if !ok {
				results[i] = scored{verdict: model.ValidationVerdict{
					MatchID:   m.ID,
					EntityKey: m.EntityKey,
					MatchType: model.MatchUncertain,
					Issues:    []string{fmt.Sprintf("Unknown entity %q", m.EntityKey)},
				}}
				return nil
			}
			verdict, errs := v.validate(m, e, nil)
			results[i] = scored{verdict: verdict, errs: errs}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "validator: validate all")
	}

	verdicts := make([]model.ValidationVerdict, len(results))
	valid := 0
	for i, r := range results {
		verdicts[i] = r.verdict
		if r.verdict.Valid {
			valid++
		}
		if log != nil {
			log.Append(matches[i], r.verdict, r.errs...)
		}
	}

	zap.L().Info("validator: validation complete",
		zap.Int("matches", len(matches)),
		zap.Int("valid", valid),
	)
	return verdicts, nil
}
