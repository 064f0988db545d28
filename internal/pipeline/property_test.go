package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/sells-group/matchguard/internal/config"
	"github.com/sells-group/matchguard/internal/model"
)

var sentences = []string{
	"NIO reported record electric vehicle deliveries and charging growth",
	"Il patrimonio culturale di Antonio",
	"Huawei expanded its 5G network with new wireless broadband contracts",
	"ZTE shipped new base stations to a telecom carrier network",
	"the zte contract was signed",
	"Aztecs built pyramids near the nionic lake",
	"Nio said hello to everyone at the party",
	"",
}

func genCorpus() gopter.Gen {
	return gen.SliceOfN(12, gen.IntRange(0, len(sentences)-1)).Map(func(picks []int) []model.Document {
		dates := []string{"2021-06-01", "2013-01-01", "not a date", ""}
		countries := []string{"NO", "CN", "US", ""}
		docs := make([]model.Document, len(picks))
		for i, pick := range picks {
			docs[i] = model.Document{
				ID:   fmt.Sprintf("doc-%02d", i),
				Text: strings.Repeat(sentences[pick]+". ", 1+i%3),
				Context: map[string]string{
					"date":    dates[(pick+i)%len(dates)],
					"country": countries[i%len(countries)],
				},
			}
		}
		return docs
	})
}

// TestRunProperties checks that repeated runs agree and that every emitted
// match carries a bounded confidence.
func TestRunProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	reg := testRegistry(t)
	p := New(config.Default())

	properties.Property("identical inputs yield identical outcomes", prop.ForAll(
		func(docs []model.Document) bool {
			a, err := p.Run(context.Background(), Input{Documents: docs, Registry: reg})
			if err != nil {
				return false
			}
			b, err := p.Run(context.Background(), Input{Documents: docs, Registry: reg})
			if err != nil {
				return false
			}
			return a.OverallStatus == b.OverallStatus &&
				reflect.DeepEqual(matchIDs(a), matchIDs(b)) &&
				a.FinalConfidence == b.FinalConfidence
		},
		genCorpus(),
	))

	properties.Property("final matches are bounded and on word boundaries", prop.ForAll(
		func(docs []model.Document) bool {
			run, err := p.Run(context.Background(), Input{Documents: docs, Registry: reg})
			if err != nil {
				return false
			}
			if run.OverallStatus != model.DeriveStatus(run.Gates) {
				return false
			}
			for _, g := range run.Gates {
				if g.Confidence < 0 || g.Confidence > 1 {
					return false
				}
			}
			for _, m := range run.FinalMatches {
				if m.Confidence < 0 || m.Confidence > 1 {
					return false
				}
				if !strings.EqualFold(m.Match.FlankedToken, m.Match.Text) {
					return false
				}
			}
			return true
		},
		genCorpus(),
	))

	properties.TestingRun(t)
}
