// Package registry holds the immutable snapshot of known entities that a
// validation run matches against, and the loaders that build it.
package registry

import (
	"slices"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/matchguard/internal/lexicon"
	"github.com/sells-group/matchguard/internal/model"
)

// Registry is a read-only set of entity records indexed by folded key. It is
// safe for concurrent use because nothing mutates it after New returns.
type Registry struct {
	entities []model.EntityRecord
	byKey    map[string]int
}

// New validates records and builds a Registry. Keys must be non-empty and
// unique under case folding. Records are deep-copied and sorted by key.
func New(records []model.EntityRecord) (*Registry, error) {
	r := &Registry{
		entities: make([]model.EntityRecord, 0, len(records)),
		byKey:    make(map[string]int, len(records)),
	}

	for i, rec := range records {
		rec.Key = strings.TrimSpace(rec.Key)
		if rec.Key == "" {
			return nil, eris.Errorf("registry: entity %d has an empty key", i)
		}
		tier, err := model.ParseRiskTier(string(rec.RiskTier))
		if err != nil {
			return nil, eris.Wrapf(err, "registry: entity %q", rec.Key)
		}
		rec.RiskTier = tier
		if strings.TrimSpace(rec.DisplayName) == "" {
			rec.DisplayName = rec.Key
		}
		r.entities = append(r.entities, clone(rec))
	}

	sort.SliceStable(r.entities, func(i, j int) bool {
		return r.entities[i].Key < r.entities[j].Key
	})

	for i, rec := range r.entities {
		folded := lexicon.Fold(rec.Key)
		if _, dup := r.byKey[folded]; dup {
			return nil, eris.Errorf("registry: duplicate entity key %q", rec.Key)
		}
		r.byKey[folded] = i
	}

	return r, nil
}

// Get returns the entity with the given key. Lookup is case-insensitive.
func (r *Registry) Get(key string) (model.EntityRecord, bool) {
	i, ok := r.byKey[lexicon.Fold(key)]
	if !ok {
		return model.EntityRecord{}, false
	}
	return r.entities[i], true
}

// Entities returns a copy of all records, sorted by key.
func (r *Registry) Entities() []model.EntityRecord {
	out := make([]model.EntityRecord, len(r.entities))
	for i, e := range r.entities {
		out[i] = clone(e)
	}
	return out
}

// Keys returns the entity keys in sorted order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.entities))
	for i, e := range r.entities {
		out[i] = e.Key
	}
	return out
}

// Len returns the number of entities.
func (r *Registry) Len() int {
	return len(r.entities)
}

func clone(e model.EntityRecord) model.EntityRecord {
	e.Aliases = slices.Clone(e.Aliases)
	e.OperatingCountries = slices.Clone(e.OperatingCountries)
	e.FalsePositiveLexicon = slices.Clone(e.FalsePositiveLexicon)
	if e.FoundingDate != nil {
		d := *e.FoundingDate
		e.FoundingDate = &d
	}
	return e
}
