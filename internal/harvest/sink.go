package harvest

import (
	"context"
	"errors"

	"github.com/maltedev/inventory-harvester/internal/models"
)

// Sink receives canonical rows. Implementations must be safe for
// concurrent use because RunAll shares one sink across sources.
type Sink interface {
	Write(ctx context.Context, rows []models.CanonicalRow) error
}

// Flusher is implemented by sinks that buffer rows until the run ends.
type Flusher interface {
	Flush(ctx context.Context) error
}

// MultiSink fans rows out to every sink. A failing sink does not stop the
// others.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, rows []models.CanonicalRow) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if f, ok := s.(Flusher); ok {
			if err := f.Flush(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rows []models.CanonicalRow) error

func (f SinkFunc) Write(ctx context.Context, rows []models.CanonicalRow) error {
	return f(ctx, rows)
}
