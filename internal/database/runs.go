package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrNoPendingRun = errors.New("no pending run")
)

// Run is one requested harvest over a set of sources.
type Run struct {
	ID          uuid.UUID       `json:"id"`
	Sources     []string        `json:"sources"`
	Status      RunStatus       `json:"status"`
	Summaries   json.RawMessage `json:"summaries,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, sources, status, summaries, COALESCE(error_message, ''), created_at, started_at, completed_at`

func scanRun(row pgx.Row) (*Run, error) {
	run := &Run{}
	var sources []byte
	err := row.Scan(&run.ID, &sources, &run.Status, &run.Summaries, &run.Error,
		&run.CreatedAt, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sources, &run.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources: %w", err)
	}
	return run, nil
}

// Create queues a pending run.
func (r *RunRepository) Create(ctx context.Context, sources []string) (*Run, error) {
	if sources == nil {
		sources = []string{}
	}
	data, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sources: %w", err)
	}

	run := &Run{
		ID:        uuid.New(),
		Sources:   sources,
		Status:    RunPending,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO harvest_runs (id, sources, status, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.db.Exec(ctx, query, run.ID, data, run.Status, run.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM harvest_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs first.
func (r *RunRepository) List(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `SELECT ` + runColumns + `
		FROM harvest_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// ClaimNext moves the oldest pending run to running. Concurrent workers
// never claim the same run.
func (r *RunRepository) ClaimNext(ctx context.Context) (*Run, error) {
	var run *Run
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + runColumns + `
			FROM harvest_runs
			WHERE status = $1
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED`

		claimed, err := scanRun(tx.QueryRow(ctx, query, RunPending))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoPendingRun
		}
		if err != nil {
			return fmt.Errorf("failed to select pending run: %w", err)
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE harvest_runs SET status = $1, started_at = $2 WHERE id = $3`,
			RunRunning, now, claimed.ID); err != nil {
			return fmt.Errorf("failed to mark run running: %w", err)
		}
		claimed.Status = RunRunning
		claimed.StartedAt = &now
		run = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Finish records the outcome of a run. A nil runErr completes it.
func (r *RunRepository) Finish(ctx context.Context, id uuid.UUID, summaries any, runErr error) error {
	data, err := json.Marshal(summaries)
	if err != nil {
		return fmt.Errorf("failed to marshal summaries: %w", err)
	}

	status := RunCompleted
	var message *string
	if runErr != nil {
		status = RunFailed
		msg := runErr.Error()
		message = &msg
	}

	query := `
		UPDATE harvest_runs
		SET status = $1, summaries = $2, error_message = $3, completed_at = $4
		WHERE id = $5`

	result, err := r.db.Exec(ctx, query, status, data, message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}
