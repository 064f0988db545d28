package registry

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/matchguard/internal/fetcher"
	"github.com/sells-group/matchguard/internal/lexicon"
	"github.com/sells-group/matchguard/internal/model"
)

// Opener resolves a registry location to a reader.
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// entityDoc is the on-disk shape of an entity. Dates stay strings so that
// every layout lexicon.ParseDate understands is accepted.
type entityDoc struct {
	Key                  string   `json:"key" yaml:"key"`
	DisplayName          string   `json:"display_name" yaml:"display_name"`
	Aliases              []string `json:"aliases" yaml:"aliases"`
	FoundingDate         string   `json:"founding_date" yaml:"founding_date"`
	OperatingCountries   []string `json:"operating_countries" yaml:"operating_countries"`
	BusinessType         string   `json:"business_type" yaml:"business_type"`
	RiskTier             string   `json:"risk_tier" yaml:"risk_tier"`
	FalsePositiveLexicon []string `json:"false_positive_lexicon" yaml:"false_positive_lexicon"`
}

// Load reads an entity registry from location. The format is chosen by
// extension: .yaml/.yml, .json/.jsonl/.ndjson, .csv or .xlsx. A nil opener
// uses fetcher.NewOpener.
func Load(ctx context.Context, opener Opener, location string) (*Registry, error) {
	if opener == nil {
		opener = fetcher.NewOpener()
	}

	rc, err := opener.Open(ctx, location)
	if err != nil {
		return nil, eris.Wrap(err, "registry: open")
	}
	defer rc.Close() //nolint:errcheck

	var records []model.EntityRecord
	switch ext := fetcher.Ext(location); ext {
	case ".yaml", ".yml":
		records, err = DecodeYAML(rc)
	case ".json", ".jsonl", ".ndjson":
		records, err = DecodeJSON(ctx, rc)
	case ".csv":
		var rows []fetcher.Record
		rows, err = fetcher.ReadCSV(ctx, rc, fetcher.CSVOptions{})
		if err == nil {
			records, err = FromRecords(rows)
		}
	case ".xlsx":
		var rows []fetcher.Record
		rows, err = fetcher.ReadXLSXFrom(rc, fetcher.XLSXOptions{})
		if err == nil {
			records, err = FromRecords(rows)
		}
	default:
		return nil, eris.Errorf("registry: unsupported registry format %q", ext)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "registry: load %s", location)
	}

	reg, err := New(records)
	if err != nil {
		return nil, err
	}
	zap.L().Info("registry: loaded entities",
		zap.String("location", location),
		zap.Int("entities", reg.Len()),
	)
	return reg, nil
}

// DecodeYAML decodes a YAML registry. The document is either a list of
// entities or a mapping with an "entities" list.
func DecodeYAML(r io.Reader) ([]model.EntityRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read yaml")
	}

	var docs []entityDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		var wrapped struct {
			Entities []entityDoc `yaml:"entities"`
		}
		if err2 := yaml.NewDecoder(bytes.NewReader(data)).Decode(&wrapped); err2 != nil {
			return nil, eris.Wrap(err2, "registry: decode yaml")
		}
		docs = wrapped.Entities
	}
	return fromDocs(docs)
}

// DecodeJSON decodes a JSON array or JSON-lines registry.
func DecodeJSON(ctx context.Context, r io.Reader) ([]model.EntityRecord, error) {
	docs, err := fetcher.ReadJSON[entityDoc](ctx, r)
	if err != nil {
		return nil, eris.Wrap(err, "registry: decode json")
	}
	return fromDocs(docs)
}

// FromRecords converts tabular rows (CSV or XLSX) into entity records.
// List columns separate values with "|" or ";"; operating countries also
// accept ",".
func FromRecords(rows []fetcher.Record) ([]model.EntityRecord, error) {
	docs := make([]entityDoc, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, entityDoc{
			Key:                  row.Get("key", "entity_key"),
			DisplayName:          row.Get("display_name", "display name", "name"),
			Aliases:              splitList(row.Get("aliases", "alias"), "|;"),
			FoundingDate:         row.Get("founding_date", "founding date", "founded"),
			OperatingCountries:   splitList(row.Get("operating_countries", "operating countries", "countries"), "|;,"),
			BusinessType:         row.Get("business_type", "business type", "sector"),
			RiskTier:             row.Get("risk_tier", "risk tier", "risk"),
			FalsePositiveLexicon: splitList(row.Get("false_positive_lexicon", "false positive lexicon", "lexicon"), "|;"),
		})
	}
	return fromDocs(docs)
}

func fromDocs(docs []entityDoc) ([]model.EntityRecord, error) {
	out := make([]model.EntityRecord, 0, len(docs))
	for _, d := range docs {
		rec, err := d.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (d entityDoc) record() (model.EntityRecord, error) {
	rec := model.EntityRecord{
		Key:                  strings.TrimSpace(d.Key),
		DisplayName:          strings.TrimSpace(d.DisplayName),
		Aliases:              trimAll(d.Aliases),
		OperatingCountries:   upperAll(d.OperatingCountries),
		BusinessType:         strings.ToLower(strings.TrimSpace(d.BusinessType)),
		FalsePositiveLexicon: trimAll(d.FalsePositiveLexicon),
	}

	tier, err := model.ParseRiskTier(d.RiskTier)
	if err != nil {
		return rec, eris.Wrapf(err, "registry: entity %q", rec.Key)
	}
	rec.RiskTier = tier

	if strings.TrimSpace(d.FoundingDate) != "" {
		founded, err := lexicon.ParseDate(d.FoundingDate)
		if err != nil {
			return rec, eris.Wrapf(err, "registry: entity %q founding date", rec.Key)
		}
		rec.FoundingDate = &founded
	}
	return rec, nil
}

func splitList(s, seps string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return trimAll(strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(seps, r)
	}))
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func upperAll(in []string) []string {
	out := trimAll(in)
	for i, s := range out {
		out[i] = strings.ToUpper(s)
	}
	return out
}

