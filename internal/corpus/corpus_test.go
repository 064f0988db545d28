package corpus

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/matchguard/internal/model"
)

type stubOpener map[string]string

func (s stubOpener) Open(_ context.Context, location string) (io.ReadCloser, error) {
	data, ok := s[location]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_JSONArray(t *testing.T) {
	src := `[
  {"id": "doc-1", "text": "NIO electric vehicle contract", "context": {"country": "CN"}, "date": "2020-05-01"},
  {"id": "doc-2", "text": "Il patrimonio culturale", "country": "IT"}
]`
	docs, err := Load(context.Background(), "corpus.json", Options{Opener: stubOpener{"corpus.json": src}})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "doc-1", docs[0].ID)
	assert.Equal(t, map[string]string{"country": "CN", "date": "2020-05-01"}, docs[0].Context)
	assert.Equal(t, map[string]string{"country": "IT"}, docs[1].Context)
	assert.Empty(t, docs[1].Error)
}

func TestLoad_JSONLines(t *testing.T) {
	src := "{\"id\":\"a\",\"text\":\"one\"}\n{\"id\":\"b\",\"text\":\"two\"}\n"
	docs, err := Load(context.Background(), "c.jsonl", Options{Opener: stubOpener{"c.jsonl": src}})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "two", docs[1].Text)
	assert.Nil(t, docs[0].Context)
}

func TestLoad_CSVExtraColumnsBecomeContext(t *testing.T) {
	src := "id,text,Country,contract_date,empty\n" +
		"d1,\"NIO signed a supply contract\",CN,2021-03-04,\n"
	docs, err := Load(context.Background(), "c.csv", Options{Opener: stubOpener{"c.csv": src}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "NIO signed a supply contract", docs[0].Text)
	assert.Equal(t, map[string]string{"country": "CN", "contract_date": "2021-03-04"}, docs[0].Context)
}

func TestLoad_NormalizesToNFC(t *testing.T) {
	decomposed := "Café NIO"
	docs, err := Decode(context.Background(), strings.NewReader(decomposed), "note.txt", ".txt", Options{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Caf\u00e9 NIO", docs[0].Text)
	assert.Equal(t, "note.txt", docs[0].ID)
}

func TestDecode_InvalidUTF8KeptForExtraction(t *testing.T) {
	docs, err := Decode(context.Background(), bytes.NewReader([]byte{'N', 0xff, 'O'}), "bad.txt", ".txt", Options{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "N\xffO", docs[0].Text)
}

func TestDecode_OversizedTextMarked(t *testing.T) {
	docs, err := Decode(context.Background(), strings.NewReader(strings.Repeat("x", 64)), "big.txt", ".txt",
		Options{MaxDocumentBytes: 16})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Error, "exceeds 16 bytes")
	assert.Empty(t, docs[0].Text)
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "second")
	writeFile(t, dir, "a.md", "first")
	writeFile(t, dir, "nested/c.jsonl", `{"id":"c1","text":"third"}`)
	writeFile(t, dir, "skip.bin", "ignored")
	writeFile(t, dir, ".hidden/d.txt", "ignored")
	writeFile(t, dir, "broken.json", `[{"id": `)

	docs, err := Load(context.Background(), dir, Options{})
	require.NoError(t, err)

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"a.md", "b.txt", "broken.json", "c1"}, ids)
	assert.NotEmpty(t, docs[2].Error)
	assert.Equal(t, "first", docs[0].Text)
}

func TestLoad_ZIP(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"docs/one.txt":  "NIO Inc. opened a plant",
		"docs/meta.csv": "id,text,country\nm1,ZTE contract,CN\n",
		"image.png":     "\x89PNG",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	docs, err := Load(context.Background(), "bundle.zip", Options{Opener: stubOpener{"bundle.zip": buf.String()}})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	byID := make(map[string]model.Document)
	for _, d := range docs {
		byID[d.ID] = d
	}
	assert.Equal(t, "NIO Inc. opened a plant", byID["bundle.zip/docs/one.txt"].Text)
	assert.Equal(t, "CN", byID["m1"].Context["country"])
}

func TestLoad_Errors(t *testing.T) {
	ctx := context.Background()
	opener := stubOpener{"c.pdf": "%PDF", "bad.json": "{"}

	_, err := Load(ctx, "missing.json", Options{Opener: opener})
	assert.ErrorContains(t, err, "corpus: open")

	_, err = Load(ctx, "c.pdf", Options{Opener: opener})
	assert.ErrorContains(t, err, "unsupported corpus format")

	_, err = Load(ctx, "bad.json", Options{Opener: opener})
	assert.ErrorContains(t, err, "decode json")
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "corpus.jsonl", baseName("https://example.com/data/corpus.jsonl?sig=abc"))
	assert.Equal(t, "corpus.json", baseName("/tmp/x/corpus.json"))
}
