package sink

import (
	"context"
	"sync"
)

// Memory keeps artifacts in memory. It is safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	artifacts []Artifact
	flushes   int
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, a Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts = append(m.artifacts, a)
	return nil
}

func (m *Memory) Flush(context.Context) error {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
	return nil
}

// Artifacts returns a copy of everything appended, in order.
func (m *Memory) Artifacts() []Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Artifact, len(m.artifacts))
	copy(out, m.artifacts)
	return out
}

// ByKind returns the appended artifacts of one kind, in order.
func (m *Memory) ByKind(kind Kind) []Artifact {
	var out []Artifact
	for _, a := range m.Artifacts() {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Flushes reports how many times Flush was called.
func (m *Memory) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}
