// Package jobs queues harvest runs and executes them in the background.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/maltedev/inventory-harvester/internal/config"
	"github.com/maltedev/inventory-harvester/internal/database"
	"github.com/maltedev/inventory-harvester/internal/harvest"
)

var ErrUnknownSource = errors.New("unknown source")

// RunStore persists runs; *database.RunRepository implements it.
type RunStore interface {
	Create(ctx context.Context, sources []string) (*database.Run, error)
	Get(ctx context.Context, id uuid.UUID) (*database.Run, error)
	List(ctx context.Context, limit, offset int) ([]*database.Run, error)
	ClaimNext(ctx context.Context) (*database.Run, error)
	Finish(ctx context.Context, id uuid.UUID, summaries any, runErr error) error
}

// SinkFactory builds the sink rows of one run are written to.
type SinkFactory func(run *database.Run) harvest.Sink

type Manager struct {
	runs      RunStore
	sources   map[string]*config.SourceConfig
	harvester *harvest.Harvester
	sinks     SinkFactory
	logger    *slog.Logger
}

func NewManager(runs RunStore, sources []*config.SourceConfig, h *harvest.Harvester, sinks SinkFactory, logger *slog.Logger) *Manager {
	byName := make(map[string]*config.SourceConfig, len(sources))
	for _, src := range sources {
		byName[src.Name] = src
	}
	return &Manager{
		runs:      runs,
		sources:   byName,
		harvester: h,
		sinks:     sinks,
		logger:    logger.With("component", "job_manager"),
	}
}

// SourceNames lists the configured sources alphabetically.
func (m *Manager) SourceNames() []string {
	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateRun queues a run over the named sources; none means all.
func (m *Manager) CreateRun(ctx context.Context, sources []string) (*database.Run, error) {
	if len(sources) == 0 {
		sources = m.SourceNames()
	}
	for _, name := range sources {
		if _, ok := m.sources[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
		}
	}
	sources = slices.Compact(slices.Sorted(slices.Values(sources)))

	run, err := m.runs.Create(ctx, sources)
	if err != nil {
		return nil, err
	}
	m.logger.Info("run created", "id", run.ID, "sources", sources)
	return run, nil
}

func (m *Manager) GetRun(ctx context.Context, id uuid.UUID) (*database.Run, error) {
	return m.runs.Get(ctx, id)
}

func (m *Manager) ListRuns(ctx context.Context, limit, offset int) ([]*database.Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return m.runs.List(ctx, limit, offset)
}

// execute harvests every source of run and records the outcome.
func (m *Manager) execute(ctx context.Context, run *database.Run) error {
	sources := make([]*config.SourceConfig, 0, len(run.Sources))
	var missing []string
	for _, name := range run.Sources {
		src, ok := m.sources[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		sources = append(sources, src)
	}

	var runErr error
	if len(missing) > 0 {
		runErr = fmt.Errorf("%w: %v", ErrUnknownSource, missing)
	}

	summaries, err := m.harvester.RunAll(ctx, sources, m.sinks(run))
	runErr = errors.Join(runErr, err)

	// The run row is updated even when ctx was cancelled mid-harvest.
	if err := m.runs.Finish(context.WithoutCancel(ctx), run.ID, summaries, runErr); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}
	return runErr
}
