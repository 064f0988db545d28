package review

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/pkg/notion"
)

// maxExcerptRunes keeps excerpts well under Notion's 2000 character limit
// for a rich text run.
const maxExcerptRunes = 1800

// NotionExporter writes review items as pages of a Notion database.
type NotionExporter struct {
	client notion.Client
	dbID   string
}

// NewNotionExporter creates an exporter for the review database dbID.
func NewNotionExporter(client notion.Client, dbID string) *NotionExporter {
	return &NotionExporter{client: client, dbID: dbID}
}

// Export creates one page per item and returns the number created. It stops
// at the first failure.
func (e *NotionExporter) Export(ctx context.Context, items []model.ReviewItem) (int, error) {
	if e.dbID == "" {
		return 0, eris.New("review: notion review database not configured")
	}
	created := 0
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return created, eris.Wrap(err, "review: export")
		}
		req := &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(e.dbID),
			},
			Properties: PageProperties(it),
		}
		if _, err := e.client.CreatePage(ctx, req); err != nil {
			return created, eris.Wrapf(err, "review: export match %s", it.Result.Match.ID)
		}
		created++
	}
	zap.L().Info("review: exported review queue to notion",
		zap.String("database_id", e.dbID),
		zap.Int("items", created),
	)
	return created, nil
}

// PageProperties maps a review item onto the review database columns.
func PageProperties(it model.ReviewItem) notionapi.Properties {
	m := it.Result.Match
	return notionapi.Properties{
		"Match":      notion.TitleValue(m.ID),
		"Run ID":     notion.RichTextValue(it.RunID),
		"Entity":     notion.SelectValue(m.EntityKey),
		"Document":   notion.RichTextValue(m.Span.DocumentID),
		"Matched":    notion.RichTextValue(m.Text),
		"Excerpt":    notion.RichTextValue(truncate(m.Window, maxExcerptRunes)),
		"Confidence": notion.NumberValue(it.Result.Confidence),
		"Match Type": notion.SelectValue(string(it.Result.MatchType)),
		"Reason":     notion.SelectValue(string(it.Reason)),
		"Status":     notion.SelectValue(it.Status),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
