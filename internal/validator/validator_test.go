package validator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/matchguard/internal/config"
	"github.com/sells-group/matchguard/internal/model"
)

func founded(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

var nio = model.EntityRecord{
	Key:                  "nio",
	DisplayName:          "NIO Inc.",
	FoundingDate:         founded(2014, time.November, 25),
	OperatingCountries:   []string{"CN", "NO", "DE"},
	BusinessType:         "automotive",
	RiskTier:             model.RiskHigh,
	FalsePositiveLexicon: []string{"patrimonio", "antonio", "nio-sport"},
}

const nioWindow = "NIO reported record electric vehicle deliveries and charging growth"

func nioMatch(ctx map[string]string) model.RawMatch {
	return model.RawMatch{
		ID:           "d1:0:3:nio",
		EntityKey:    "nio",
		Span:         model.Span{DocumentID: "d1", Start: 0, End: 3},
		Text:         "NIO",
		Window:       nioWindow,
		WindowOffset: 0,
		FlankedToken: "NIO",
		Strategy:     model.StrategyHighRisk,
		Context:      ctx,
	}
}

func newValidator() *Validator {
	return New(config.Default().Validation)
}

func TestValidate_LegitimateMention(t *testing.T) {
	v := newValidator()

	verdict := v.Validate(nioMatch(map[string]string{"date": "2021-06-01", "country": "NO"}), nio, nil)
	assert.True(t, verdict.Valid)
	assert.Equal(t, model.MatchValidatedEntity, verdict.MatchType)
	assert.InDelta(t, 1.0, verdict.Confidence, 1e-9)
	assert.Empty(t, verdict.Issues)
	assert.Empty(t, verdict.Warnings)
	assert.Equal(t, model.CheckScores{WordBoundary: 1, Temporal: 1, Geographic: 1, Context: 1, NoFalsePositive: 1}, verdict.Scores)

	// Without date or country both checks are neutral.
	verdict = v.Validate(nioMatch(nil), nio, nil)
	assert.True(t, verdict.Valid)
	assert.InDelta(t, 0.85, verdict.Confidence, 1e-9)
	assert.GreaterOrEqual(t, verdict.Confidence, 0.7)
}

func TestValidate_SubstringInsideWord(t *testing.T) {
	v := newValidator()
	m := model.RawMatch{
		ID:           "it:10:13:nio",
		EntityKey:    "nio",
		Text:         "nio",
		Window:       "Il patrimonio culturale",
		WindowOffset: 10,
		FlankedToken: "patrimonio",
	}

	verdict := v.Validate(m, nio, nil)
	assert.False(t, verdict.Valid)
	assert.Zero(t, verdict.Confidence)
	assert.Equal(t, model.MatchLinguisticFalsePositive, verdict.MatchType)
	require.Len(t, verdict.Issues, 1)
	assert.Contains(t, verdict.Issues[0], "patrimonio")

	lowRisk := nio
	lowRisk.RiskTier = model.RiskLow
	verdict = v.Validate(m, lowRisk, nil)
	assert.Equal(t, model.MatchSubstringFalsePositive, verdict.MatchType)
	assert.Zero(t, verdict.Confidence)
}

func TestValidate_BoundaryFromFlankedToken(t *testing.T) {
	v := newValidator()
	m := model.RawMatch{ID: "x", EntityKey: "nio", Text: "nio", FlankedToken: "Antonio"}
	verdict := v.Validate(m, nio, nil)
	assert.Equal(t, model.MatchLinguisticFalsePositive, verdict.MatchType)
	assert.Zero(t, verdict.Confidence)

	// Stale offset falls back to the flanked token as well.
	m = nioMatch(nil)
	m.WindowOffset = 40
	verdict = v.Validate(m, nio, nil)
	assert.Equal(t, 1.0, verdict.Scores.WordBoundary)
}

func TestValidate_LinguisticLexiconOverridesScores(t *testing.T) {
	v := newValidator()
	m := model.RawMatch{
		ID:           "d:4:7:nio",
		EntityKey:    "nio",
		Text:         "Nio",
		Window:       "the Nio-Sport electric car with charging",
		WindowOffset: 4,
		FlankedToken: "Nio-Sport",
		Context:      map[string]string{"date": "2021-01-01", "country": "CN"},
	}
	verdict := v.Validate(m, nio, nil)
	assert.False(t, verdict.Valid)
	assert.Zero(t, verdict.Confidence)
	assert.Equal(t, model.MatchLinguisticFalsePositive, verdict.MatchType)
	assert.Equal(t, 1.0, verdict.Scores.WordBoundary)
	assert.Zero(t, verdict.Scores.NoFalsePositive)
}

func TestValidate_PredatesFounding(t *testing.T) {
	v := newValidator()
	verdict := v.Validate(nioMatch(map[string]string{"contract_date": "2010-03-01", "country": "CN"}), nio, nil)
	assert.False(t, verdict.Valid)
	assert.Zero(t, verdict.Confidence)
	assert.Equal(t, model.MatchUncertain, verdict.MatchType)
	require.Len(t, verdict.Issues, 1)
	assert.Contains(t, verdict.Issues[0], "predates founding date 2014-11-25")
}

func TestValidate_RecentFounding(t *testing.T) {
	v := newValidator()
	verdict := v.Validate(nioMatch(map[string]string{"published_at": "2015-03-01T10:00:00Z"}), nio, nil)
	assert.True(t, verdict.Valid)
	assert.InDelta(t, 0.6, verdict.Scores.Temporal, 1e-9)
	assert.InDelta(t, 0.87, verdict.Confidence, 1e-9)
	require.Len(t, verdict.Warnings, 1)
	assert.Contains(t, verdict.Warnings[0], "within 365 days")
}

func TestValidate_FoundingUnknown(t *testing.T) {
	v := newValidator()
	e := nio
	e.FoundingDate = nil
	verdict := v.Validate(nioMatch(map[string]string{"date": "1990-01-01"}), e, nil)
	assert.InDelta(t, 0.5, verdict.Scores.Temporal, 1e-9)
	assert.True(t, verdict.Valid)
}

func TestValidate_MalformedDate(t *testing.T) {
	v := newValidator()
	verdict := v.Validate(nioMatch(map[string]string{"date": "sometime in spring"}), nio, nil)
	assert.InDelta(t, 0.3, verdict.Scores.Temporal, 1e-9)
	assert.InDelta(t, 0.81, verdict.Confidence, 1e-9)
	assert.True(t, verdict.Valid)
	require.Len(t, verdict.Warnings, 1)
	assert.Contains(t, verdict.Warnings[0], "Unparseable date")
}

func TestValidate_Geographic(t *testing.T) {
	v := newValidator()

	verdict := v.Validate(nioMatch(map[string]string{"date": "2021-06-01", "country": "US"}), nio, nil)
	assert.InDelta(t, 0.3, verdict.Scores.Geographic, 1e-9)
	assert.InDelta(t, 0.93, verdict.Confidence, 1e-9)
	assert.Contains(t, verdict.Warnings, "Country US outside operating countries")

	// Case-insensitive membership and caller overrides.
	verdict = v.Validate(nioMatch(map[string]string{"country": "US"}), nio, map[string]string{"country": "de"})
	assert.Equal(t, 1.0, verdict.Scores.Geographic)

	e := nio
	e.OperatingCountries = nil
	verdict = v.Validate(nioMatch(map[string]string{"country": "US"}), e, nil)
	assert.InDelta(t, 0.5, verdict.Scores.Geographic, 1e-9)
}

func TestValidate_ContextScaling(t *testing.T) {
	v := newValidator()
	m := nioMatch(nil)
	m.Window = "NIO said the electric plan was fine"
	verdict := v.Validate(m, nio, nil)
	assert.InDelta(t, 1.0/3.0, verdict.Scores.Context, 1e-9)
	assert.InDelta(t, 0.65, verdict.Confidence, 1e-9)
	assert.False(t, verdict.Valid)
	assert.Equal(t, model.MatchUncertain, verdict.MatchType)
	assert.Empty(t, verdict.Issues)
}

func TestNew_FillsZeroConfig(t *testing.T) {
	v := New(config.ValidationConfig{})
	assert.InDelta(t, 0.7, v.MinimumConfidence(), 1e-9)
	assert.Equal(t, config.Default().Validation.Weights, v.cfg.Weights)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, Clamp(1.00004))
	assert.Equal(t, 1.0, Clamp(3))
	assert.Equal(t, 0.0, Clamp(-0.2))
	assert.Equal(t, 0.0, Clamp(math.NaN()))
	assert.Equal(t, 0.1235, Clamp(0.123456))
}

type mapSource map[string]model.EntityRecord

func (s mapSource) Get(key string) (model.EntityRecord, bool) {
	e, ok := s[key]
	return e, ok
}

func TestValidateAll_OrderAndLog(t *testing.T) {
	v := newValidator()
	log := NewLog()

	fp := model.RawMatch{ID: "it:10:13:nio", EntityKey: "nio", Text: "nio", Window: "Il patrimonio", WindowOffset: 10, FlankedToken: "patrimonio"}
	fp2 := fp
	fp2.ID = "it2:10:13:nio"
	malformed := nioMatch(map[string]string{"date": "??"})
	malformed.ID = "d2:0:3:nio"
	unknown := model.RawMatch{ID: "d3:0:3:tesla", EntityKey: "tesla", Text: "Tesla"}

	matches := []model.RawMatch{nioMatch(nil), fp, malformed, unknown, fp2}
	verdicts, err := v.ValidateAll(context.Background(), matches, mapSource{"nio": nio}, log)
	require.NoError(t, err)
	require.Len(t, verdicts, 5)

	for i, m := range matches {
		assert.Equal(t, m.ID, verdicts[i].MatchID)
	}
	assert.True(t, verdicts[0].Valid)
	assert.Equal(t, model.MatchLinguisticFalsePositive, verdicts[1].MatchType)
	assert.Contains(t, verdicts[3].Issues[0], "Unknown entity")

	assert.Equal(t, 5, log.Len())
	assert.Equal(t, 2, log.Valid())
	assert.InDelta(t, 0.4, log.FalsePositiveRate(), 1e-9)
	assert.Equal(t, map[string]map[string]int{"nio": {"patrimonio": 2}}, log.FalsePositivePatterns())
	assert.Equal(t, map[model.MatchType]int{
		model.MatchValidatedEntity:         2,
		model.MatchLinguisticFalsePositive: 2,
		model.MatchUncertain:               1,
	}, log.CountByType())

	inputErrs := log.InputErrors()
	require.Len(t, inputErrs, 1)
	assert.Equal(t, "d2:0:3:nio", inputErrs[0].MatchID)
	assert.Equal(t, "date", inputErrs[0].Field)
	assert.ErrorContains(t, inputErrs[0], "malformed date")

	gotIDs := make([]string, 0, 5)
	for _, vd := range log.Verdicts() {
		gotIDs = append(gotIDs, vd.MatchID)
	}
	assert.Equal(t, []string{"d1:0:3:nio", "it:10:13:nio", "d2:0:3:nio", "d3:0:3:tesla", "it2:10:13:nio"}, gotIDs)
}

func TestValidateAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newValidator().ValidateAll(ctx, []model.RawMatch{nioMatch(nil)}, mapSource{"nio": nio}, nil)
	assert.Error(t, err)
}

func TestLog_Reject(t *testing.T) {
	log := NewLog()
	log.Append(nioMatch(nil), model.ValidationVerdict{MatchID: "d1:0:3:nio", EntityKey: "nio", Valid: true, MatchType: model.MatchValidatedEntity})
	log.Reject(
		model.Rejection{EntityKey: "nio", Text: "nio", FlankedToken: "patrimonio", MatchType: model.MatchSubstringFalsePositive},
		model.Rejection{EntityKey: "nio", Text: "nio", FlankedToken: "nio-sport", MatchType: model.MatchLinguisticFalsePositive},
		model.Rejection{EntityKey: "nio", Text: "nio", FlankedToken: "nio", MatchType: model.MatchUncertain},
	)

	assert.Equal(t, 1, log.Len())
	assert.Equal(t, 3, log.Rejected())
	assert.Equal(t, 1, log.Valid())
	assert.InDelta(t, 0.5, log.FalsePositiveRate(), 1e-9)
	assert.Equal(t, map[string]map[string]int{"nio": {"patrimonio": 1, "nio-sport": 1}}, log.FalsePositivePatterns())
	assert.Equal(t, 1, log.CountByType()[model.MatchUncertain])
}

func TestLog_Empty(t *testing.T) {
	log := NewLog()
	assert.Zero(t, log.FalsePositiveRate())
	assert.Empty(t, log.Verdicts())
	assert.Empty(t, log.FalsePositivePatterns())
}
