package matcher

import (
	"unicode/utf8"

	"github.com/sells-group/matchguard/internal/lexicon"
	"github.com/sells-group/matchguard/internal/model"
)

// ShortKeyLength is the longest key, in runes, that uses the short-name
// strategy.
const ShortKeyLength = 3

// SelectStrategy picks the extraction rule for an entity. High-risk entities
// always use the high-risk rule; otherwise keys of ShortKeyLength runes or
// fewer use the short-name rule.
func SelectStrategy(e model.EntityRecord) model.Strategy {
	switch {
	case e.IsHighRisk():
		return model.StrategyHighRisk
	case utf8.RuneCountInString(e.Key) <= ShortKeyLength:
		return model.StrategyShortName
	default:
		return model.StrategyDefault
	}
}

// candidate is a boundary-delimited hit awaiting the strategy decision.
type candidate struct {
	matched string
	window  string
	flanked string
}

// plan is the precomputed extraction recipe for one entity.
type plan struct {
	entity   model.EntityRecord
	strategy model.Strategy
	terms    []string
	lexicon  map[string]struct{}
	keywords []string
}

func newPlan(e model.EntityRecord) plan {
	p := plan{
		entity:   e,
		strategy: SelectStrategy(e),
		terms:    SearchTerms(e),
		keywords: lexicon.BusinessKeywords(e.BusinessType),
	}
	if p.strategy == model.StrategyHighRisk {
		p.lexicon = make(map[string]struct{}, len(e.FalsePositiveLexicon))
		for _, w := range e.FalsePositiveLexicon {
			p.lexicon[lexicon.Fold(w)] = struct{}{}
		}
	}
	return p
}

// accept applies the strategy rule to a boundary-delimited candidate. A
// rejected candidate comes back with its classification.
func (p plan) accept(c candidate) (model.MatchType, bool) {
	switch p.strategy {
	case model.StrategyShortName:
		if lexicon.IsCapitalized(c.matched) || lexicon.HasKeyword(c.window, lexicon.LegalIndicators()) {
			return "", true
		}
		return model.MatchUncertain, false
	case model.StrategyHighRisk:
		if _, fp := p.lexicon[lexicon.Fold(c.flanked)]; fp {
			return model.MatchLinguisticFalsePositive, false
		}
		if lexicon.HasKeyword(c.window, p.keywords) {
			return "", true
		}
		return model.MatchUncertain, false
	default:
		return "", true
	}
}

// SearchTerms returns the distinct strings searched for an entity: its key,
// its aliases, and its display name without a legal suffix. Terms are
// deduplicated under case folding, in that order.
func SearchTerms(e model.EntityRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = lexicon.NFC(s)
		f := lexicon.Fold(s)
		if f == "" {
			return
		}
		if _, dup := seen[f]; dup {
			return
		}
		seen[f] = struct{}{}
		out = append(out, s)
	}

	add(e.Key)
	for _, a := range e.Aliases {
		add(a)
	}
	add(lexicon.StripLegalSuffix(e.DisplayName))
	return out
}
