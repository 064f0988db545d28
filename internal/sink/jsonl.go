package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
)

// JSONL appends one JSON line per artifact to <dir>/<kind>.jsonl. Files are
// opened lazily and buffered until Flush.
type JSONL struct {
	dir string

	mu      sync.Mutex
	files   map[Kind]*os.File
	writers map[Kind]*bufio.Writer
}

// NewJSONL creates dir if needed and returns a sink writing into it.
func NewJSONL(dir string) (*JSONL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "sink: create dir %s", dir)
	}
	return &JSONL{
		dir:     dir,
		files:   make(map[Kind]*os.File),
		writers: make(map[Kind]*bufio.Writer),
	}, nil
}

// Path returns the file artifacts of kind are written to.
func (j *JSONL) Path(kind Kind) string {
	return filepath.Join(j.dir, string(kind)+".jsonl")
}

func (j *JSONL) Append(ctx context.Context, a Artifact) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "sink: append")
	}
	if err := a.Validate(); err != nil {
		return err
	}
	line, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "sink: marshal artifact")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	w, err := j.writer(a.Kind)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return eris.Wrapf(err, "sink: write %s", a.Kind)
	}
	return nil
}

func (j *JSONL) writer(kind Kind) (*bufio.Writer, error) {
	if w, ok := j.writers[kind]; ok {
		return w, nil
	}
	f, err := os.OpenFile(j.Path(kind), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "sink: open %s", kind)
	}
	w := bufio.NewWriter(f)
	j.files[kind] = f
	j.writers[kind] = w
	return w, nil
}

func (j *JSONL) Flush(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for kind, w := range j.writers {
		if err := w.Flush(); err != nil {
			return eris.Wrapf(err, "sink: flush %s", kind)
		}
		if err := j.files[kind].Sync(); err != nil {
			return eris.Wrapf(err, "sink: sync %s", kind)
		}
	}
	return nil
}

// Close flushes and closes every open file.
func (j *JSONL) Close() error {
	if err := j.Flush(context.Background()); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for kind, f := range j.files {
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "sink: close %s", kind)
		}
		delete(j.files, kind)
		delete(j.writers, kind)
	}
	return nil
}
