package fetcher

import (
	"archive/zip"
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// ZIPEntry is one regular file inside an archive.
type ZIPEntry struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// WalkZIP calls fn for every regular file in the archive at zipPath, in
// archive order. Directories and macOS resource forks are skipped. Names are
// cleaned and entries that would escape the archive root are rejected.
func WalkZIP(zipPath string, fn func(ZIPEntry) error) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	return walkFiles(r.File, fn)
}

// WalkZIPFrom is WalkZIP for an archive that arrives as a stream. The
// archive is buffered in memory, up to maxBytes (0 = unlimited).
func WalkZIPFrom(rd io.Reader, maxBytes int64, fn func(ZIPEntry) error) error {
	if maxBytes > 0 {
		rd = io.LimitReader(rd, maxBytes+1)
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return eris.Wrap(err, "zip: read archive")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return eris.Errorf("zip: archive exceeds %d bytes", maxBytes)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return eris.Wrap(err, "zip: open archive")
	}
	return walkFiles(zr.File, fn)
}

func walkFiles(files []*zip.File, fn func(ZIPEntry) error) error {
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		name, ok := cleanEntryName(f.Name)
		if !ok {
			return eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
		}
		if strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(path.Base(name), "._") {
			continue
		}

		entry := ZIPEntry{
			Name: name,
			Size: int64(f.UncompressedSize64),
			Open: f.Open,
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

func cleanEntryName(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	cleaned := path.Clean("/" + name)
	if cleaned == "/" {
		return "", false
	}
	if strings.Contains(name, "../") || strings.HasPrefix(name, "/") {
		return "", false
	}
	return strings.TrimPrefix(cleaned, "/"), true
}
