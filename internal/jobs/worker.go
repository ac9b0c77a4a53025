package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/maltedev/inventory-harvester/internal/database"
)

// StartWorker claims and executes pending runs every interval until ctx
// is cancelled.
func (m *Manager) StartWorker(ctx context.Context, interval time.Duration) {
	m.logger.Info("job worker started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for m.processNextRun(ctx) {
			if ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			m.logger.Info("job worker stopping")
			return
		case <-ticker.C:
		}
	}
}

// processNextRun reports whether a run was claimed.
func (m *Manager) processNextRun(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	run, err := m.runs.ClaimNext(ctx)
	if errors.Is(err, database.ErrNoPendingRun) {
		return false
	}
	if err != nil {
		m.logger.Error("failed to claim run", "error", err)
		return false
	}

	m.logger.Info("processing run", "id", run.ID, "sources", run.Sources)
	start := time.Now()

	if err := m.execute(ctx, run); err != nil {
		m.logger.Error("run failed", "id", run.ID, "error", err, "duration", time.Since(start))
		return true
	}

	m.logger.Info("run completed", "id", run.ID, "duration", time.Since(start))
	return true
}
