package validator

import (
	"sync"

	"github.com/sells-group/matchguard/internal/lexicon"
	"github.com/sells-group/matchguard/internal/model"
)

// Log is the run-scoped, append-only record of validation verdicts and of
// the candidates extraction rejected before validation. It is safe for
// concurrent use.
type Log struct {
	mu          sync.Mutex
	verdicts    []model.ValidationVerdict
	rejected    []model.MatchType
	inputErrors []*ValidationInputError
	patterns    map[string]map[string]int
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{patterns: make(map[string]map[string]int)}
}

// Append records the verdict for m together with any input errors raised
// while scoring it. False-positive verdicts also count the flanked token.
func (l *Log) Append(m model.RawMatch, v model.ValidationVerdict, errs ...*ValidationInputError) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.verdicts = append(l.verdicts, v)
	l.inputErrors = append(l.inputErrors, errs...)
	if v.MatchType.IsFalsePositive() {
		l.countPattern(m.EntityKey, m.FlankedToken, m.Text)
	}
}

// Reject records candidates discarded during extraction.
func (l *Log) Reject(rs ...model.Rejection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range rs {
		l.rejected = append(l.rejected, r.MatchType)
		if r.MatchType.IsFalsePositive() {
			l.countPattern(r.EntityKey, r.FlankedToken, r.Text)
		}
	}
}

func (l *Log) countPattern(entity, flanked, text string) {
	token := lexicon.Fold(flanked)
	if token == "" {
		token = lexicon.Fold(text)
	}
	byToken, ok := l.patterns[entity]
	if !ok {
		byToken = make(map[string]int)
		l.patterns[entity] = byToken
	}
	byToken[token]++
}

// Rejected returns the number of candidates discarded during extraction.
func (l *Log) Rejected() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rejected)
}

// Verdicts returns a copy of the recorded verdicts in append order.
func (l *Log) Verdicts() []model.ValidationVerdict {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.ValidationVerdict, len(l.verdicts))
	copy(out, l.verdicts)
	return out
}

// Len returns the number of recorded verdicts.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.verdicts)
}

// InputErrors returns the malformed-context errors seen so far.
func (l *Log) InputErrors() []*ValidationInputError {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*ValidationInputError, len(l.inputErrors))
	copy(out, l.inputErrors)
	return out
}

// CountByType tallies verdicts and extraction rejections by match type.
func (l *Log) CountByType() map[model.MatchType]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[model.MatchType]int)
	for _, v := range l.verdicts {
		out[v.MatchType]++
	}
	for _, t := range l.rejected {
		out[t]++
	}
	return out
}

// Valid returns the number of valid verdicts.
func (l *Log) Valid() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, v := range l.verdicts {
		if v.Valid {
			n++
		}
	}
	return n
}

// FalsePositiveRate is the share of all candidates, verdicts and extraction
// rejections alike, classified as substring or linguistic false positives.
func (l *Log) FalsePositiveRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := len(l.verdicts) + len(l.rejected)
	if total == 0 {
		return 0
	}
	fp := 0
	for _, v := range l.verdicts {
		if v.MatchType.IsFalsePositive() {
			fp++
		}
	}
	for _, t := range l.rejected {
		if t.IsFalsePositive() {
			fp++
		}
	}
	return float64(fp) / float64(total)
}

// FalsePositivePatterns returns entity key -> folded flanked token -> count
// for every false-positive verdict and rejection.
func (l *Log) FalsePositivePatterns() map[string]map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]map[string]int, len(l.patterns))
	for entity, byToken := range l.patterns {
		inner := make(map[string]int, len(byToken))
		for tok, n := range byToken {
			inner[tok] = n
		}
		out[entity] = inner
	}
	return out
}
