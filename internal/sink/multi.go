package sink

import (
	"context"
	"io"

	"go.uber.org/multierr"
)

// Multi fans every call out to all of its sinks. A failing sink does not
// stop the others; their errors are combined.
type Multi []Sink

func (m Multi) Append(ctx context.Context, a Artifact) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Append(ctx, a))
	}
	return err
}

func (m Multi) Flush(ctx context.Context) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Flush(ctx))
	}
	return err
}

// Close closes every sink that holds resources.
func (m Multi) Close() error {
	var err error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
