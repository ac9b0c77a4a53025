// Package harvest drives a catalog source end to end: paginate, enrich,
// merge and hand rows to a sink.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/inventory-harvester/internal/catalog"
	"github.com/maltedev/inventory-harvester/internal/config"
	"github.com/maltedev/inventory-harvester/internal/merge"
	"github.com/maltedev/inventory-harvester/internal/metrics"
	"github.com/maltedev/inventory-harvester/internal/models"
)

type Options struct {
	// Concurrency bounds enrichment fetches per source; a source config
	// may lower or raise it.
	Concurrency int
	// BatchSize is how many products are enriched before their rows are
	// written.
	BatchSize    int
	FlushTimeout time.Duration
	// NewSeenSet returns the dedupe set for one source run. Defaults to
	// an in-memory set.
	NewSeenSet func(source string) SeenSet
	Logger     *slog.Logger
}

// Summary reports one source run.
type Summary struct {
	Source          string    `json:"source"`
	Products        int       `json:"products"`
	Duplicates      int       `json:"duplicates"`
	Rows            int       `json:"rows"`
	EnrichmentFails int       `json:"enrichment_failures"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Error           string    `json:"error,omitempty"`
}

type Harvester struct {
	fetcher catalog.Fetcher
	opts    Options
	logger  *slog.Logger
}

func New(f catalog.Fetcher, opts Options) *Harvester {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 50
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 30 * time.Second
	}
	if opts.NewSeenSet == nil {
		opts.NewSeenSet = func(string) SeenSet { return NewMemorySeenSet() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Harvester{
		fetcher: f,
		opts:    opts,
		logger:  logger.With("component", "harvester"),
	}
}

// Run harvests one source into sink. Rows are written per batch in
// pagination order. When ctx is cancelled or pagination fails, rows
// already computed are still written and flushed before Run returns.
func (h *Harvester) Run(ctx context.Context, src *config.SourceConfig, sink Sink) (Summary, error) {
	summary := Summary{Source: src.Name, StartedAt: time.Now().UTC()}
	logger := h.logger.With("source", src.Name)

	cat, err := catalog.New(src, h.fetcher, logger)
	if err != nil {
		return h.finish(summary, err)
	}
	r := &run{
		h:        h,
		src:      src,
		sink:     sink,
		enricher: catalog.NewEnricher(src, h.fetcher, logger),
		merger: merge.New(merge.Options{
			Source:   src.Name,
			Priority: src.Priority(),
			Sizes:    merge.NewSizeSet(src.Sizes...),
		}),
		seen:    h.opts.NewSeenSet(src.Name),
		logger:  logger,
		summary: &summary,
	}

	logger.Info("harvest started", "kind", src.Kind, "base_url", src.BaseURL)

	var runErr error
	batch := make([]*models.ProductWithVariants, 0, h.opts.BatchSize)
	for pv, err := range cat.Products(ctx) {
		if err != nil {
			runErr = err
			break
		}

		fresh, err := r.seen.Add(ctx, src.Name+":"+pv.Product.Handle)
		if err != nil {
			logger.Warn("seen set unavailable, keeping product", "handle", pv.Product.Handle, "error", err)
			fresh = true
		}
		if !fresh {
			summary.Duplicates++
			continue
		}

		batch = append(batch, pv)
		if len(batch) >= h.opts.BatchSize {
			if err := r.processBatch(ctx, batch); err != nil {
				runErr = err
				batch = batch[:0]
				break
			}
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := r.processBatch(ctx, batch); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}

	if f, ok := sink.(Flusher); ok {
		fctx, cancel := r.writeContext(ctx)
		if err := f.Flush(fctx); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("flush sink: %w", err))
		}
		cancel()
	}

	return h.finish(summary, runErr)
}

func (h *Harvester) finish(summary Summary, err error) (Summary, error) {
	summary.FinishedAt = time.Now().UTC()
	logger := h.logger.With("source", summary.Source)
	if err != nil {
		summary.Error = err.Error()
		logger.Error("harvest ended with error",
			"products", summary.Products,
			"rows", summary.Rows,
			"error", err)
		return summary, fmt.Errorf("harvest %s: %w", summary.Source, err)
	}
	logger.Info("harvest completed",
		"products", summary.Products,
		"duplicates", summary.Duplicates,
		"rows", summary.Rows,
		"enrichment_failures", summary.EnrichmentFails,
		"duration", summary.FinishedAt.Sub(summary.StartedAt))
	return summary, nil
}

// RunAll harvests every source concurrently into the same sink. One
// source failing does not stop the others.
func (h *Harvester) RunAll(ctx context.Context, sources []*config.SourceConfig, sink Sink) ([]Summary, error) {
	summaries := make([]Summary, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			summaries[i], errs[i] = h.Run(ctx, src, sink)
			return nil
		})
	}
	_ = g.Wait()

	return summaries, errors.Join(errs...)
}

type run struct {
	h        *Harvester
	src      *config.SourceConfig
	sink     Sink
	enricher *catalog.Enricher
	merger   *merge.Merger
	seen     SeenSet
	logger   *slog.Logger

	mu      sync.Mutex
	summary *Summary
}

// processBatch enriches the batch concurrently, merges each product and
// writes the rows in batch order.
func (r *run) processBatch(ctx context.Context, batch []*models.ProductWithVariants) error {
	limit := r.h.opts.Concurrency
	if r.src.Concurrency > 0 {
		limit = r.src.Concurrency
	}

	results := make([][]models.CanonicalRow, len(batch))
	var failures atomic.Int64

	var g errgroup.Group
	g.SetLimit(limit)
	for i, pv := range batch {
		g.Go(func() error {
			if err := r.enricher.Enrich(ctx, pv); err != nil {
				failures.Add(1)
			}
			results[i] = r.merger.Merge(pv.Product, pv.Variants, pv.Samples)
			return nil
		})
	}
	_ = g.Wait()

	var rows []models.CanonicalRow
	for _, res := range results {
		rows = append(rows, res...)
	}

	r.mu.Lock()
	r.summary.Products += len(batch)
	r.summary.EnrichmentFails += int(failures.Load())
	r.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	wctx, cancel := r.writeContext(ctx)
	defer cancel()
	if err := r.sink.Write(wctx, rows); err != nil {
		return fmt.Errorf("write %d rows: %w", len(rows), err)
	}

	r.mu.Lock()
	r.summary.Rows += len(rows)
	r.mu.Unlock()
	metrics.RowsEmitted.WithLabelValues(r.src.Name).Add(float64(len(rows)))
	r.logger.Debug("batch written", "products", len(batch), "rows", len(rows))
	return nil
}

// writeContext keeps sink writes alive after ctx is cancelled so computed
// rows are not lost, bounded by FlushTimeout.
func (r *run) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.h.opts.FlushTimeout)
}
