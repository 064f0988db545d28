// Package matcher finds candidate entity mentions in documents. Each entity
// is searched with a risk-tiered strategy, and every emitted match sits on
// Unicode word boundaries.
package matcher

import (
	"context"
	"errors"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/matchguard/internal/config"
	"github.com/sells-group/matchguard/internal/lexicon"
	"github.com/sells-group/matchguard/internal/model"
)

// Options configures extraction.
type Options struct {
	Workers          int
	WindowChars      int
	MaxDocumentBytes int
}

// OptionsFromConfig maps the extraction config section to Options.
func OptionsFromConfig(cfg config.ExtractionConfig) Options {
	return Options{
		Workers:          cfg.Workers,
		WindowChars:      cfg.WindowChars,
		MaxDocumentBytes: cfg.MaxDocumentBytes,
	}
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.WindowChars <= 0 {
		o.WindowChars = 120
	}
	if o.MaxDocumentBytes <= 0 {
		o.MaxDocumentBytes = 10 << 20
	}
	return o
}

// ExtractionError reports a document that could not be processed. It
// isolates the document and never fails the batch.
type ExtractionError struct {
	DocumentID string
	Reason     string
	Err        error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return "extraction: document " + e.DocumentID + ": " + e.Reason + ": " + e.Err.Error()
	}
	return "extraction: document " + e.DocumentID + ": " + e.Reason
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Result is the output of one extraction pass. Rejections holds the hits
// discarded for failing a word boundary or the entity's strategy rule.
type Result struct {
	Documents  int
	Matches    []model.RawMatch
	Rejections []model.Rejection
	Errors     []*ExtractionError
	Elapsed    time.Duration
}

// ErrorRate returns the share of documents that failed extraction.
func (r *Result) ErrorRate() float64 {
	if r.Documents == 0 {
		return 0
	}
	return float64(len(r.Errors)) / float64(r.Documents)
}

// Matcher extracts RawMatches for a fixed set of entities.
type Matcher struct {
	opts  Options
	plans []plan
}

// New builds a Matcher for entities. The strategy and search terms of each
// entity are computed once.
func New(entities []model.EntityRecord, opts Options) *Matcher {
	m := &Matcher{opts: opts.withDefaults()}
	for _, e := range entities {
		m.plans = append(m.plans, newPlan(e))
	}
	return m
}

// Extract matches every document on a bounded worker pool. Unreadable
// documents are reported in Result.Errors. Matches are sorted by document
// id, start offset, end offset and entity key regardless of scheduling.
func (m *Matcher) Extract(ctx context.Context, docs []model.Document) (*Result, error) {
	start := time.Now()
	perDoc := make([][]model.RawMatch, len(docs))
	perDocRejected := make([][]model.Rejection, len(docs))

	var mu sync.Mutex
	var failures []*ExtractionError

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)

	for i, doc := range docs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			matches, rejected, err := m.matchDocument(doc)
			if err != nil {
				var xerr *ExtractionError
				if !errors.As(err, &xerr) {
					xerr = &ExtractionError{DocumentID: doc.ID, Reason: "match", Err: err}
				}
				zap.L().Debug("matcher: document skipped",
					zap.String("document_id", doc.ID),
					zap.String("reason", xerr.Reason),
				)
				mu.Lock()
				failures = append(failures, xerr)
				mu.Unlock()
				return nil
			}
			perDoc[i] = matches
			perDocRejected[i] = rejected
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "matcher: extract")
	}

	res := &Result{
		Documents:  len(docs),
		Matches:    Merge(perDoc...),
		Rejections: mergeRejections(perDocRejected),
		Errors:     failures,
		Elapsed:    time.Since(start),
	}
	sort.Slice(res.Errors, func(i, j int) bool {
		return res.Errors[i].DocumentID < res.Errors[j].DocumentID
	})

	zap.L().Info("matcher: extraction complete",
		zap.Int("documents", res.Documents),
		zap.Int("matches", len(res.Matches)),
		zap.Int("rejected", len(res.Rejections)),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// MatchDocument extracts the matches of one document. Offsets refer to the
// NFC form of the text; the pipeline and the corpus loaders normalize
// documents before extraction.
func (m *Matcher) MatchDocument(doc model.Document) ([]model.RawMatch, error) {
	matches, _, err := m.matchDocument(doc)
	return matches, err
}

func (m *Matcher) matchDocument(doc model.Document) ([]model.RawMatch, []model.Rejection, error) {
	if err := m.check(doc); err != nil {
		return nil, nil, err
	}

	text := lexicon.NFC(doc.Text)
	if lexicon.IsBlank(text) {
		return nil, nil, nil
	}

	docCtx := maps.Clone(doc.Context)
	seen := make(map[string]struct{})
	var out []model.RawMatch
	var rejected []model.Rejection
	reject := func(p plan, occ lexicon.Occurrence, flanked string, t model.MatchType) {
		id := model.MatchID(doc.ID, occ.Start, occ.End, p.entity.Key)
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		rejected = append(rejected, model.Rejection{
			ID:           id,
			EntityKey:    p.entity.Key,
			Span:         model.Span{DocumentID: doc.ID, Start: occ.Start, End: occ.End},
			Text:         text[occ.Start:occ.End],
			FlankedToken: flanked,
			MatchType:    t,
		})
	}

	for _, p := range m.plans {
		for _, term := range p.terms {
			for _, occ := range lexicon.FindAll(text, term) {
				if !lexicon.AtBoundary(text, occ.Start, occ.End) {
					reject(p, occ, lexicon.FlankedToken(text, occ.Start, occ.End), model.MatchSubstringFalsePositive)
					continue
				}
				id := model.MatchID(doc.ID, occ.Start, occ.End, p.entity.Key)
				if _, dup := seen[id]; dup {
					continue
				}

				window, offset := lexicon.Window(text, occ.Start, occ.End, m.opts.WindowChars)
				c := candidate{
					matched: text[occ.Start:occ.End],
					window:  window,
					flanked: lexicon.FlankedToken(text, occ.Start, occ.End),
				}
				if t, ok := p.accept(c); !ok {
					reject(p, occ, c.flanked, t)
					continue
				}

				seen[id] = struct{}{}
				out = append(out, model.RawMatch{
					ID:        id,
					EntityKey: p.entity.Key,
					Span: model.Span{
						DocumentID: doc.ID,
						Start:      occ.Start,
						End:        occ.End,
					},
					Text:         c.matched,
					Window:       window,
					WindowOffset: offset,
					FlankedToken: c.flanked,
					Strategy:     p.strategy,
					Context:      docCtx,
				})
			}
		}
	}

	sortMatches(out)
	return out, rejected, nil
}

func (m *Matcher) check(doc model.Document) error {
	switch {
	case strings.TrimSpace(doc.ID) == "":
		return &ExtractionError{Reason: "missing document id"}
	case doc.Error != "":
		return &ExtractionError{DocumentID: doc.ID, Reason: "unreadable", Err: eris.New(doc.Error)}
	case len(doc.Text) > m.opts.MaxDocumentBytes:
		return &ExtractionError{DocumentID: doc.ID, Reason: "document too large"}
	case !utf8.ValidString(doc.Text):
		return &ExtractionError{DocumentID: doc.ID, Reason: "invalid utf-8"}
	}
	return nil
}

// Merge concatenates per-document match lists and sorts the result by
// document id, start, end and entity key.
func Merge(lists ...[]model.RawMatch) []model.RawMatch {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make([]model.RawMatch, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	sortMatches(out)
	return out
}

func mergeRejections(lists [][]model.Rejection) []model.Rejection {
	var out []model.Rejection
	for _, l := range lists {
		out = append(out, l...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Span, out[j].Span
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return out[i].EntityKey < out[j].EntityKey
	})
	return out
}

func sortMatches(ms []model.RawMatch) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.Span.DocumentID != b.Span.DocumentID {
			return a.Span.DocumentID < b.Span.DocumentID
		}
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Span.End != b.Span.End {
			return a.Span.End < b.Span.End
		}
		return a.EntityKey < b.EntityKey
	})
}
