// Package paginate turns "fetch the next batch" functions into lazy item
// sequences. Offset pages stop on the first empty page; cursor pages stop
// when the producer reports no next page.
package paginate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/maltedev/inventory-harvester/internal/metrics"
)

var ErrConsumed = errors.New("page sequence already consumed")

// Page is one batch of items plus the producer's cursor signal.
type Page[T any] struct {
	Items   []T
	Next    string
	HasNext bool
}

// PageFunc fetches the page identified by token; the first call gets "".
type PageFunc[T any] func(ctx context.Context, token string) (Page[T], error)

type Options struct {
	// Name labels logs and metrics, usually the source name.
	Name string
	// MaxPages bounds runaway producers; 0 means no cap.
	MaxPages int
	Logger   *slog.Logger
}

// Paginate returns a lazy, single-use sequence over every item of every
// page. A fetch error is yielded once as the last element and ends the
// sequence; nothing fetched earlier is withheld.
func Paginate[T any](ctx context.Context, fetch PageFunc[T], opts Options) iter.Seq2[T, error] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "paginator", "source", opts.Name)

	var used atomic.Bool

	return func(yield func(T, error) bool) {
		var zero T
		if used.Swap(true) {
			yield(zero, ErrConsumed)
			return
		}

		token := ""
		for pageNum := 1; ; pageNum++ {
			if opts.MaxPages > 0 && pageNum > opts.MaxPages {
				logger.Warn("page cap reached, stopping", "max_pages", opts.MaxPages)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			page, err := fetch(ctx, token)
			if err != nil {
				yield(zero, fmt.Errorf("page %d: %w", pageNum, err))
				return
			}
			metrics.PagesFetched.WithLabelValues(opts.Name).Inc()
			logger.Debug("page fetched", "page", pageNum, "items", len(page.Items), "has_next", page.HasNext)

			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}

			if !page.HasNext {
				return
			}
			if page.Next == token {
				logger.Warn("cursor did not advance, stopping", "cursor", token, "page", pageNum)
				return
			}
			token = page.Next
		}
	}
}

// Offset adapts a page-number fetcher (page = 1, 2, 3, ...). The sequence
// ends after the first page that returns no items.
func Offset[T any](fetch func(ctx context.Context, page int) ([]T, error)) PageFunc[T] {
	return func(ctx context.Context, token string) (Page[T], error) {
		page := 1
		if token != "" {
			n, err := strconv.Atoi(token)
			if err != nil {
				return Page[T]{}, fmt.Errorf("invalid page token %q: %w", token, err)
			}
			page = n
		}

		items, err := fetch(ctx, page)
		if err != nil {
			return Page[T]{}, err
		}
		if len(items) == 0 {
			return Page[T]{}, nil
		}
		return Page[T]{Items: items, Next: strconv.Itoa(page + 1), HasNext: true}, nil
	}
}

// CursorPage mirrors a GraphQL connection's pageInfo.
type CursorPage[T any] struct {
	Items       []T
	HasNextPage bool
	EndCursor   string
}

// Cursor adapts an opaque-cursor fetcher. The sequence ends when
// HasNextPage is false or the end cursor is empty.
func Cursor[T any](fetch func(ctx context.Context, after string) (CursorPage[T], error)) PageFunc[T] {
	return func(ctx context.Context, token string) (Page[T], error) {
		p, err := fetch(ctx, token)
		if err != nil {
			return Page[T]{}, err
		}
		return Page[T]{
			Items:   p.Items,
			Next:    p.EndCursor,
			HasNext: p.HasNextPage && p.EndCursor != "",
		}, nil
	}
}

// Collect drains seq, returning the items read before the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}
