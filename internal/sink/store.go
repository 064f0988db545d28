package sink

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/matchguard/internal/store"
)

// Store writes artifacts straight through to a store.Store.
type Store struct {
	st store.Store
}

// NewStore returns a sink backed by st.
func NewStore(st store.Store) *Store {
	return &Store{st: st}
}

func (s *Store) Append(ctx context.Context, a Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	var err error
	switch a.Kind {
	case KindRun:
		err = s.st.SaveRun(ctx, a.Run)
	case KindInvestigation:
		err = s.st.SaveInvestigation(ctx, *a.Investigation)
	case KindReview:
		err = s.st.EnqueueReview(ctx, a.Review)
	case KindQuality:
		err = s.st.SaveQuality(ctx, a.Quality)
	}
	return eris.Wrapf(err, "sink: store %s %s", a.Kind, a.RunID)
}

// Flush is a no-op; every Append is already committed.
func (s *Store) Flush(context.Context) error {
	return nil
}
