// Package corpus turns document sources into the ordered list of
// model.Document values the pipeline extracts matches from.
//
// Supported sources: JSON arrays, JSON lines, CSV with an id and a text
// column, plain text and markdown files, ZIP archives of any of these,
// and local directories. Remote locations are fetched through an Opener.
package corpus

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/matchguard/internal/fetcher"
	"github.com/sells-group/matchguard/internal/lexicon"
	"github.com/sells-group/matchguard/internal/model"
)

// DefaultMaxDocumentBytes bounds a single document read from a text file or
// archive entry.
const DefaultMaxDocumentBytes = 10 << 20

// Opener resolves a corpus location to a reader.
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// Options configures corpus loading.
type Options struct {
	// MaxDocumentBytes caps the size of a text document. Larger documents
	// are kept with Error set so extraction can tally them.
	MaxDocumentBytes int64
	// Opener fetches non-directory locations. Defaults to fetcher.NewOpener.
	Opener Opener
}

func (o Options) withDefaults() Options {
	if o.MaxDocumentBytes <= 0 {
		o.MaxDocumentBytes = DefaultMaxDocumentBytes
	}
	if o.Opener == nil {
		o.Opener = fetcher.NewOpener()
	}
	return o
}

// docRecord is the JSON shape of a corpus item. Top-level date and country
// fields are folded into the context map.
type docRecord struct {
	ID      string            `json:"id"`
	Text    string            `json:"text"`
	Context map[string]string `json:"context"`
	Date    string            `json:"date"`
	Country string            `json:"country"`
}

// Load reads every document at location. Directories are walked
// recursively in lexical order. Item-level read failures are recorded on
// the document instead of failing the load.
func Load(ctx context.Context, location string, opts Options) ([]model.Document, error) {
	opts = opts.withDefaults()

	if fetcher.Scheme(location) == "" {
		if info, err := os.Stat(location); err == nil && info.IsDir() {
			return loadDir(ctx, location, opts)
		}
	}

	rc, err := opts.Opener.Open(ctx, location)
	if err != nil {
		return nil, eris.Wrap(err, "corpus: open")
	}
	defer rc.Close() //nolint:errcheck

	docs, err := Decode(ctx, rc, baseName(location), fetcher.Ext(location), opts)
	if err != nil {
		return nil, eris.Wrapf(err, "corpus: load %s", location)
	}
	zap.L().Info("corpus: loaded documents",
		zap.String("location", location),
		zap.Int("documents", len(docs)),
	)
	return docs, nil
}

// Decode parses a corpus stream. name identifies single-document formats
// and prefixes documents found inside archives.
func Decode(ctx context.Context, r io.Reader, name, ext string, opts Options) ([]model.Document, error) {
	opts = opts.withDefaults()

	switch ext {
	case ".json", ".jsonl", ".ndjson":
		return decodeJSON(ctx, r)
	case ".csv":
		return decodeCSV(ctx, r, fetcher.CSVOptions{})
	case ".tsv":
		return decodeCSV(ctx, r, fetcher.CSVOptions{Delimiter: '\t', LazyQuotes: true})
	case ".txt", ".md", ".text", "":
		return []model.Document{readText(r, name, opts.MaxDocumentBytes)}, nil
	case ".zip":
		return decodeZIP(ctx, r, name, opts)
	default:
		return nil, eris.Errorf("corpus: unsupported corpus format %q", ext)
	}
}

func decodeJSON(ctx context.Context, r io.Reader) ([]model.Document, error) {
	recs, err := fetcher.ReadJSON[docRecord](ctx, r)
	if err != nil {
		return nil, eris.Wrap(err, "corpus: decode json")
	}
	docs := make([]model.Document, 0, len(recs))
	for _, rec := range recs {
		ctxMap := make(map[string]string, len(rec.Context)+2)
		for k, v := range rec.Context {
			ctxMap[k] = v
		}
		if rec.Date != "" {
			ctxMap["date"] = rec.Date
		}
		if rec.Country != "" {
			ctxMap["country"] = rec.Country
		}
		docs = append(docs, newDocument(rec.ID, rec.Text, ctxMap))
	}
	return docs, nil
}

func decodeCSV(ctx context.Context, r io.Reader, csvOpts fetcher.CSVOptions) ([]model.Document, error) {
	rows, err := fetcher.ReadCSV(ctx, r, csvOpts)
	if err != nil {
		return nil, eris.Wrap(err, "corpus: decode csv")
	}
	docs := make([]model.Document, 0, len(rows))
	for _, row := range rows {
		ctxMap := make(map[string]string, len(row))
		for k, v := range row {
			switch k {
			case "id", "document_id", "text", "body":
				continue
			}
			if v = strings.TrimSpace(v); v != "" {
				ctxMap[k] = v
			}
		}
		docs = append(docs, newDocument(row.Get("id", "document_id"), row.Get("text", "body"), ctxMap))
	}
	return docs, nil
}

func decodeZIP(ctx context.Context, r io.Reader, name string, opts Options) ([]model.Document, error) {
	var docs []model.Document
	err := fetcher.WalkZIPFrom(r, 0, func(e fetcher.ZIPEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(e.Name))
		if !supported(ext) || ext == ".zip" {
			return nil
		}
		id := name + "/" + e.Name

		rc, err := e.Open()
		if err != nil {
			docs = append(docs, model.Document{ID: id, Error: err.Error()})
			return nil
		}
		defer rc.Close() //nolint:errcheck

		inner, err := Decode(ctx, rc, id, ext, opts)
		if err != nil {
			docs = append(docs, model.Document{ID: id, Error: err.Error()})
			return nil
		}
		docs = append(docs, inner...)
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "corpus: read zip")
	}
	return docs, nil
}

func loadDir(ctx context.Context, dir string, opts Options) ([]model.Document, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if supported(strings.ToLower(filepath.Ext(path))) && !strings.HasPrefix(d.Name(), ".") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "corpus: walk %s", dir)
	}
	sort.Strings(paths)

	var docs []model.Document
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "corpus: load dir")
		}
		rel, _ := filepath.Rel(dir, path)
		id := filepath.ToSlash(rel)

		f, err := os.Open(path)
		if err != nil {
			docs = append(docs, model.Document{ID: id, Error: err.Error()})
			continue
		}
		ext := strings.ToLower(filepath.Ext(path))
		inner, err := Decode(ctx, f, id, ext, opts)
		f.Close() //nolint:errcheck
		if err != nil {
			zap.L().Warn("corpus: unreadable file", zap.String("path", path), zap.Error(err))
			docs = append(docs, model.Document{ID: id, Error: err.Error()})
			continue
		}
		docs = append(docs, inner...)
	}

	zap.L().Info("corpus: loaded directory",
		zap.String("dir", dir),
		zap.Int("files", len(paths)),
		zap.Int("documents", len(docs)),
	)
	return docs, nil
}

func readText(r io.Reader, id string, maxBytes int64) model.Document {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return model.Document{ID: id, Error: err.Error()}
	}
	if int64(len(data)) > maxBytes {
		return model.Document{ID: id, Error: eris.Errorf("document exceeds %d bytes", maxBytes).Error()}
	}
	return newDocument(id, string(data), nil)
}

// newDocument normalizes text to NFC so that match offsets are stable.
// Invalid UTF-8 is left untouched for extraction to reject.
func newDocument(id, text string, ctxMap map[string]string) model.Document {
	if utf8.ValidString(text) {
		text = lexicon.NFC(text)
	}
	if len(ctxMap) == 0 {
		ctxMap = nil
	}
	return model.Document{ID: strings.TrimSpace(id), Text: text, Context: ctxMap}
}

func supported(ext string) bool {
	switch ext {
	case ".json", ".jsonl", ".ndjson", ".csv", ".tsv", ".txt", ".md", ".text", ".zip":
		return true
	}
	return false
}

func baseName(location string) string {
	if fetcher.Scheme(location) != "" {
		if i := strings.LastIndexByte(location, '/'); i >= 0 && i < len(location)-1 {
			location = location[i+1:]
		}
		if i := strings.IndexAny(location, "?#"); i >= 0 {
			location = location[:i]
		}
		return location
	}
	return filepath.Base(location)
}
