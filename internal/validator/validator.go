// Package validator scores RawMatches against their entity record and
// decides whether each one is a genuine mention.
package validator

import (
	"fmt"
	"math"
	"time"

	"github.com/sells-group/matchguard/internal/config"
	"github.com/sells-group/matchguard/internal/lexicon"
	"github.com/sells-group/matchguard/internal/model"
)

// DateKeys are the context keys read, in order, for the mention date.
var DateKeys = []string{"date", "contract_date", "published_at"}

// CountryKey is the context key holding the ISO country of the document.
const CountryKey = "country"

// ValidationInputError reports malformed match context. The affected check
// degrades to a reduced score instead of failing the match.
type ValidationInputError struct {
	MatchID string
	Field   string
	Value   string
	Err     error
}

func (e *ValidationInputError) Error() string {
	return fmt.Sprintf("validation: match %s: malformed %s %q: %v", e.MatchID, e.Field, e.Value, e.Err)
}

func (e *ValidationInputError) Unwrap() error {
	return e.Err
}

// Validator applies the weighted sub-checks. It holds no mutable state.
type Validator struct {
	cfg config.ValidationConfig
}

// New returns a Validator using cfg. Zero-valued fields fall back to the
// shipped defaults.
func New(cfg config.ValidationConfig) *Validator {
	def := config.Default().Validation
	if cfg.Weights == (config.WeightsConfig{}) {
		cfg.Weights = def.Weights
	}
	if cfg.Scores == (config.ScoreDefaults{}) {
		cfg.Scores = def.Scores
	}
	if cfg.MinimumConfidence <= 0 {
		cfg.MinimumConfidence = def.MinimumConfidence
	}
	if cfg.ContextKeywordCap <= 0 {
		cfg.ContextKeywordCap = def.ContextKeywordCap
	}
	if cfg.RecentFoundingDays <= 0 {
		cfg.RecentFoundingDays = def.RecentFoundingDays
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &Validator{cfg: cfg}
}

// MinimumConfidence returns the confidence a match needs to be valid.
func (v *Validator) MinimumConfidence() float64 {
	return v.cfg.MinimumConfidence
}

// Validate scores m against e. Context values in extra override the match's
// own context. The result depends only on its inputs.
func (v *Validator) Validate(m model.RawMatch, e model.EntityRecord, extra map[string]string) model.ValidationVerdict {
	verdict, _ := v.validate(m, e, extra)
	return verdict
}

func (v *Validator) validate(m model.RawMatch, e model.EntityRecord, extra map[string]string) (model.ValidationVerdict, []*ValidationInputError) {
	verdict := model.ValidationVerdict{
		MatchID:   m.ID,
		EntityKey: m.EntityKey,
	}
	lookup := func(key string) string {
		if val, ok := extra[key]; ok {
			return val
		}
		return m.Context[key]
	}

	// Word boundary is mandatory and short-circuits everything else.
	if !boundaryOK(m) {
		verdict.MatchType = model.MatchSubstringFalsePositive
		if e.IsHighRisk() && inLexicon(e, m.FlankedToken) {
			verdict.MatchType = model.MatchLinguisticFalsePositive
		}
		verdict.Issues = []string{fmt.Sprintf("Substring match: %q inside %q", m.Text, m.FlankedToken)}
		return verdict, nil
	}
	verdict.Scores.WordBoundary = 1

	var inputErrs []*ValidationInputError
	var hardIssue bool

	// Temporal consistency.
	switch date, key := firstDate(lookup); {
	case date == "":
		verdict.Scores.Temporal = v.cfg.Scores.Unknown
	default:
		when, err := lexicon.ParseDate(date)
		switch {
		case err != nil:
			inputErrs = append(inputErrs, &ValidationInputError{MatchID: m.ID, Field: key, Value: date, Err: err})
			verdict.Scores.Temporal = v.cfg.Scores.Malformed
			verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("Unparseable %s %q", key, date))
		case e.FoundingDate == nil:
			verdict.Scores.Temporal = v.cfg.Scores.Unknown
		case when.Before(*e.FoundingDate):
			hardIssue = true
			verdict.Issues = append(verdict.Issues, fmt.Sprintf("Mention date %s predates founding date %s",
				when.Format("2006-01-02"), e.FoundingDate.Format("2006-01-02")))
		case when.Sub(*e.FoundingDate) <= time.Duration(v.cfg.RecentFoundingDays)*24*time.Hour:
			verdict.Scores.Temporal = v.cfg.Scores.RecentFounding
			verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("Mention within %d days of founding date %s",
				v.cfg.RecentFoundingDays, e.FoundingDate.Format("2006-01-02")))
		default:
			verdict.Scores.Temporal = 1
		}
	}

	// Geographic plausibility.
	country := lookup(CountryKey)
	switch {
	case country == "" || len(e.OperatingCountries) == 0:
		verdict.Scores.Geographic = v.cfg.Scores.Unknown
	case e.OperatesIn(country):
		verdict.Scores.Geographic = 1
	default:
		verdict.Scores.Geographic = v.cfg.Scores.OutsideCountries
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("Country %s outside operating countries", country))
	}

	// Business context relevance.
	found := lexicon.CountKeywords(m.Window, lexicon.BusinessKeywords(e.BusinessType))
	verdict.Scores.Context = float64(min(found, v.cfg.ContextKeywordCap)) / float64(v.cfg.ContextKeywordCap)

	// Linguistic false-positive lexicon overrides all other scores.
	verdict.Scores.NoFalsePositive = 1
	if e.IsHighRisk() && inLexicon(e, m.FlankedToken) {
		verdict.Scores.NoFalsePositive = 0
		verdict.MatchType = model.MatchLinguisticFalsePositive
		verdict.Issues = append(verdict.Issues, fmt.Sprintf("Flanked token %q is a known false positive", m.FlankedToken))
		return verdict, inputErrs
	}

	if hardIssue {
		verdict.MatchType = model.MatchUncertain
		return verdict, inputErrs
	}

	w := v.cfg.Weights
	s := verdict.Scores
	verdict.Confidence = Clamp(w.WordBoundary*s.WordBoundary +
		w.Temporal*s.Temporal +
		w.Geographic*s.Geographic +
		w.Context*s.Context +
		w.NoFalsePositive*s.NoFalsePositive)

	verdict.Valid = verdict.Confidence >= v.cfg.MinimumConfidence && len(verdict.Issues) == 0
	if verdict.Valid {
		verdict.MatchType = model.MatchValidatedEntity
	} else {
		verdict.MatchType = model.MatchUncertain
	}
	return verdict, inputErrs
}

// Clamp rounds c to 4 decimals and bounds it to [0,1].
func Clamp(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	c = math.Round(c*1e4) / 1e4
	return math.Max(0, math.Min(1, c))
}

// boundaryOK re-checks the word boundary of a match. The window is used
// when it still contains the matched text at WindowOffset; otherwise the
// flanked token is searched.
func boundaryOK(m model.RawMatch) bool {
	if m.Text == "" {
		return false
	}
	start, end := m.WindowOffset, m.WindowOffset+len(m.Text)
	if m.Window != "" && start >= 0 && end <= len(m.Window) && m.Window[start:end] == m.Text {
		return lexicon.AtBoundary(m.Window, start, end)
	}

	token := m.FlankedToken
	if token == "" {
		token = m.Text
	}
	for _, occ := range lexicon.FindAll(token, m.Text) {
		if lexicon.AtBoundary(token, occ.Start, occ.End) {
			return true
		}
	}
	return false
}

func inLexicon(e model.EntityRecord, token string) bool {
	folded := lexicon.Fold(token)
	if folded == "" {
		return false
	}
	for _, w := range e.FalsePositiveLexicon {
		if lexicon.Fold(w) == folded {
			return true
		}
	}
	return false
}

func firstDate(lookup func(string) string) (string, string) {
	for _, k := range DateKeys {
		if val := lookup(k); val != "" {
			return val, k
		}
	}
	return "", ""
}
