package matcher

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/matchguard/internal/config"
	"github.com/sells-group/matchguard/internal/model"
)

var (
	nio = model.EntityRecord{
		Key:                  "nio",
		DisplayName:          "NIO Inc.",
		BusinessType:         "automotive",
		RiskTier:             model.RiskHigh,
		FalsePositiveLexicon: []string{"patrimonio", "antonio", "nio-sport"},
	}
	zte = model.EntityRecord{
		Key:          "zte",
		DisplayName:  "ZTE Corporation",
		BusinessType: "telecommunications",
		RiskTier:     model.RiskMedium,
	}
	huawei = model.EntityRecord{
		Key:          "huawei",
		DisplayName:  "Huawei Technologies Co., Ltd.",
		BusinessType: "telecommunications",
		RiskTier:     model.RiskLow,
	}
)

func newTestMatcher(entities ...model.EntityRecord) *Matcher {
	return New(entities, Options{Workers: 4, WindowChars: 60})
}

func doc(id, text string) model.Document {
	return model.Document{ID: id, Text: text}
}

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		name   string
		entity model.EntityRecord
		want   model.Strategy
	}{
		{"high risk short key", nio, model.StrategyHighRisk},
		{"high risk long key", model.EntityRecord{Key: "patrimony", RiskTier: model.RiskHigh}, model.StrategyHighRisk},
		{"short key", zte, model.StrategyShortName},
		{"short multibyte key", model.EntityRecord{Key: "ÖBB"}, model.StrategyShortName},
		{"default", huawei, model.StrategyDefault},
		{"four runes", model.EntityRecord{Key: "acme", RiskTier: model.RiskMedium}, model.StrategyDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectStrategy(tt.entity))
		})
	}
}

func TestSearchTerms(t *testing.T) {
	assert.Equal(t, []string{"nio"}, SearchTerms(nio))
	assert.Equal(t, []string{"huawei", "Huawei Technologies Co."}, SearchTerms(huawei))
	terms := SearchTerms(model.EntityRecord{
		Key:         "bmw",
		Aliases:     []string{"BMW", "Bayerische Motoren Werke", " "},
		DisplayName: "BMW AG",
	})
	assert.Equal(t, []string{"bmw", "Bayerische Motoren Werke"}, terms)
}

func TestMatchDocument_WordBoundaryGuards(t *testing.T) {
	m := newTestMatcher(nio)
	matches, err := m.MatchDocument(doc("it-1", "Il patrimonio culturale di Antonio e la sua collezione di auto elettriche"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchDocument_HighRisk(t *testing.T) {
	m := newTestMatcher(nio)

	matches, err := m.MatchDocument(doc("en-1", "NIO reported record electric vehicle deliveries in Norway."))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	got := matches[0]
	assert.Equal(t, "en-1:0:3:nio", got.ID)
	assert.Equal(t, "NIO", got.Text)
	assert.Equal(t, "NIO", got.FlankedToken)
	assert.Equal(t, model.StrategyHighRisk, got.Strategy)
	assert.Equal(t, model.Span{DocumentID: "en-1", Start: 0, End: 3}, got.Span)
	assert.Equal(t, "NIO", got.Window[got.WindowOffset:got.WindowOffset+3])

	// No automotive keyword near the mention.
	matches, err = m.MatchDocument(doc("en-2", "Nio said hello to everyone at the party."))
	require.NoError(t, err)
	assert.Empty(t, matches)

	// Flanked token listed in the false-positive lexicon.
	matches, err = m.MatchDocument(doc("en-3", "He drove the Nio-Sport car to the electric charging station."))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchDocument_ShortName(t *testing.T) {
	m := newTestMatcher(zte)

	matches, err := m.MatchDocument(doc("d1", "ZTE shipped new base stations."))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, model.StrategyShortName, matches[0].Strategy)

	matches, err = m.MatchDocument(doc("d2", "the zte contract was signed"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	matches, err = m.MatchDocument(doc("d3", "lowercase zte with nothing else around"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = m.MatchDocument(doc("d4", "Aztecs built pyramids"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchDocument_DefaultAndSuffixStrippedName(t *testing.T) {
	m := newTestMatcher(huawei)

	matches, err := m.MatchDocument(doc("d1", "analysts said huawei grew; Huawei Technologies Co. declined to comment"))
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "huawei", matches[0].Text)
	assert.Equal(t, "Huawei", matches[1].Text)
	assert.Equal(t, "Huawei Technologies Co.", matches[2].Text)
	assert.Equal(t, matches[1].Span.Start, matches[2].Span.Start)
}

func TestMatchDocument_DistinctEntitiesSameSpan(t *testing.T) {
	a := model.EntityRecord{Key: "acme", DisplayName: "Acme"}
	b := model.EntityRecord{Key: "acme-holdings", Aliases: []string{"ACME"}, DisplayName: "Acme Holdings"}
	m := newTestMatcher(a, b)

	matches, err := m.MatchDocument(doc("d1", "ACME announced results"))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "acme", matches[0].EntityKey)
	assert.Equal(t, "acme-holdings", matches[1].EntityKey)
	assert.Equal(t, matches[0].Span.Start, matches[1].Span.Start)
	assert.Equal(t, matches[0].Span.End, matches[1].Span.End)
}

func TestMatchDocument_DuplicateTermsCollapse(t *testing.T) {
	e := model.EntityRecord{Key: "acme", Aliases: []string{"ACME", "Acme"}, DisplayName: "Acme Inc."}
	m := newTestMatcher(e)

	matches, err := m.MatchDocument(doc("d1", "Acme"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestMatchDocument_BlankText(t *testing.T) {
	m := newTestMatcher(nio, zte)
	for _, text := range []string{"", "   ", "\n\t"} {
		matches, err := m.MatchDocument(doc("blank", text))
		require.NoError(t, err)
		assert.Empty(t, matches)
	}
}

func TestMatchDocument_ContextCopied(t *testing.T) {
	m := newTestMatcher(huawei)
	d := model.Document{ID: "d1", Text: "Huawei", Context: map[string]string{"country": "CN"}}

	matches, err := m.MatchDocument(d)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	d.Context["country"] = "US"
	assert.Equal(t, "CN", matches[0].Context["country"])
}

func TestMatchDocument_ExtractionErrors(t *testing.T) {
	m := New([]model.EntityRecord{huawei}, Options{MaxDocumentBytes: 32})
	tests := []struct {
		name   string
		doc    model.Document
		reason string
	}{
		{"missing id", doc(" ", "Huawei"), "missing document id"},
		{"loader error", model.Document{ID: "d", Error: "permission denied"}, "unreadable"},
		{"invalid utf8", doc("d", "Huawei \xff"), "invalid utf-8"},
		{"too large", doc("d", strings.Repeat("Huawei ", 10)), "document too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.MatchDocument(tt.doc)
			var xerr *ExtractionError
			require.ErrorAs(t, err, &xerr)
			assert.Equal(t, tt.reason, xerr.Reason)
			assert.Contains(t, xerr.Error(), "extraction: document")
		})
	}
}

func TestExtract_DeterministicAcrossWorkers(t *testing.T) {
	var docs []model.Document
	for i := range 40 {
		docs = append(docs, doc(fmt.Sprintf("doc-%02d", 39-i),
			"ZTE and Huawei compete on 5G networks while NIO builds electric vehicles. huawei again."))
	}

	serial, err := New([]model.EntityRecord{nio, zte, huawei}, Options{Workers: 1}).Extract(context.Background(), docs)
	require.NoError(t, err)
	parallel, err := New([]model.EntityRecord{huawei, zte, nio}, Options{Workers: 8}).Extract(context.Background(), docs)
	require.NoError(t, err)

	require.Len(t, serial.Matches, 40*4)
	assert.Equal(t, serial.Matches, parallel.Matches)
	assert.Equal(t, serial.Rejections, parallel.Rejections)
	assert.Equal(t, "doc-00", serial.Matches[0].Span.DocumentID)
	for i := 1; i < len(serial.Matches); i++ {
		a, b := serial.Matches[i-1], serial.Matches[i]
		assert.True(t, a.Span.DocumentID < b.Span.DocumentID ||
			(a.Span.DocumentID == b.Span.DocumentID && a.Span.Start <= b.Span.Start))
	}
}

func TestExtract_TalliesRejections(t *testing.T) {
	docs := []model.Document{
		doc("it-1", "Il patrimonio culturale di Antonio e la sua collezione di auto elettriche"),
		doc("en-3", "He drove the Nio-Sport car to the electric charging station."),
		doc("en-2", "Nio said hello to everyone at the party."),
		doc("en-1", "NIO reported record electric vehicle deliveries in Norway."),
	}
	res, err := newTestMatcher(nio).Extract(context.Background(), docs)
	require.NoError(t, err)

	require.Len(t, res.Matches, 1)
	assert.Equal(t, "en-1:0:3:nio", res.Matches[0].ID)

	type tally struct {
		id      string
		flanked string
		kind    model.MatchType
	}
	var got []tally
	for _, r := range res.Rejections {
		assert.Equal(t, "nio", r.EntityKey)
		got = append(got, tally{r.ID, r.FlankedToken, r.MatchType})
	}
	assert.Equal(t, []tally{
		{"en-2:0:3:nio", "Nio", model.MatchUncertain},
		{"en-3:13:16:nio", "Nio-Sport", model.MatchLinguisticFalsePositive},
		{"it-1:10:13:nio", "patrimonio", model.MatchSubstringFalsePositive},
		{"it-1:31:34:nio", "Antonio", model.MatchSubstringFalsePositive},
	}, got)
}

func TestExtract_IsolatesFailures(t *testing.T) {
	docs := []model.Document{
		doc("a", "Huawei"),
		{ID: "b", Error: "truncated archive entry"},
		doc("c", "bad \xfe bytes"),
		doc("d", "Huawei again"),
	}
	res, err := newTestMatcher(huawei).Extract(context.Background(), docs)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Documents)
	assert.Len(t, res.Matches, 2)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "b", res.Errors[0].DocumentID)
	assert.Equal(t, "c", res.Errors[1].DocumentID)
	assert.InDelta(t, 0.5, res.ErrorRate(), 0.0001)
}

func TestExtract_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestMatcher(huawei).Extract(ctx, []model.Document{doc("a", "Huawei")})
	assert.Error(t, err)
}

func TestResult_ErrorRateEmpty(t *testing.T) {
	assert.Zero(t, (&Result{}).ErrorRate())
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.ExtractionConfig{Workers: 3, WindowChars: 50, MaxDocumentBytes: 1024})
	assert.Equal(t, Options{Workers: 3, WindowChars: 50, MaxDocumentBytes: 1024}, opts)
	assert.Equal(t, 8, Options{}.withDefaults().Workers)
}
