package registry

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/pkg/notion"
)

// LoadFromNotion queries the Notion entity database for all active entities
// and returns a Registry. Malformed pages are skipped with a warning.
func LoadFromNotion(ctx context.Context, client notion.Client, dbID string) (*Registry, error) {
	pages, err := notion.QueryByStatus(ctx, client, dbID, "Active")
	if err != nil {
		return nil, eris.Wrap(err, "registry: load entity registry")
	}

	var records []model.EntityRecord
	for _, p := range pages {
		rec, err := parseEntityPage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed entity page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}

	return New(records)
}

func parseEntityPage(p notionapi.Page) (model.EntityRecord, error) {
	props := p.Properties
	d := entityDoc{
		Key:                  notion.Text(props, "Key"),
		DisplayName:          notion.Text(props, "Display Name"),
		Aliases:              splitList(notion.Text(props, "Aliases"), "|;"),
		OperatingCountries:   splitList(notion.Text(props, "Operating Countries"), "|;,"),
		BusinessType:         notion.Text(props, "Business Type"),
		RiskTier:             notion.Text(props, "Risk Tier"),
		FalsePositiveLexicon: splitList(notion.Text(props, "False Positive Lexicon"), "|;"),
	}
	if d.Key == "" {
		return model.EntityRecord{}, eris.New("missing Key property")
	}

	rec, err := d.record()
	if err != nil {
		return rec, err
	}
	if founded, ok := notion.Date(props, "Founding Date"); ok {
		founded = founded.UTC()
		rec.FoundingDate = &founded
	}
	return rec, nil
}
