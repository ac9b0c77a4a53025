package database

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/inventory-harvester/internal/models"
)

// setupTestDB connects to TEST_DATABASE_URL, applies the schema and
// empties every table. Tests skip when the variable is unset.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	_, err = db.Exec(ctx, `TRUNCATE harvest_runs, inventory_rows, outbox_event`)
	require.NoError(t, err)
	return db
}

func insertEvent(t *testing.T, db *DB, repo *OutboxRepository, event *OutboxEvent) {
	t.Helper()
	err := db.WithTx(context.Background(), func(tx pgx.Tx) error {
		return repo.InsertWithTx(context.Background(), tx, event)
	})
	require.NoError(t, err)
}

func TestOutboxRepository_InsertWithTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	t.Run("defaults", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: "style",
			AggregateID:   "acme:1",
			EventType:     "INVENTORY_SNAPSHOT",
			Payload:       json.RawMessage(`{"product_id":1}`),
		}
		insertEvent(t, db, repo, event)

		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, OutboxStatusPending, event.Status)
		assert.Equal(t, DefaultStream, event.TargetStream)
		assert.False(t, event.CreatedAt.IsZero())
	})

	t.Run("rolled back with the transaction", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: "style",
			AggregateID:   "acme:rollback",
			EventType:     "INVENTORY_SNAPSHOT",
			Payload:       json.RawMessage(`{}`),
		}
		err := db.WithTx(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			return errors.New("abort")
		})
		require.Error(t, err)

		pending, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		for _, e := range pending {
			assert.NotEqual(t, "acme:rollback", e.AggregateID)
		}
	})
}

func TestOutboxRepository_InsertWithTx_Invalid(t *testing.T) {
	repo := &OutboxRepository{}
	tests := []struct {
		name  string
		event *OutboxEvent
	}{
		{"missing aggregate type", &OutboxEvent{EventType: "INVENTORY_SNAPSHOT", Payload: json.RawMessage(`{}`)}},
		{"missing event type", &OutboxEvent{AggregateType: "style", Payload: json.RawMessage(`{}`)}},
		{"missing payload", &OutboxEvent{AggregateType: "style", EventType: "INVENTORY_SNAPSHOT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.InsertWithTx(context.Background(), nil, tt.event)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	first := &OutboxEvent{AggregateType: "style", AggregateID: "acme:1", EventType: "INVENTORY_SNAPSHOT", Payload: json.RawMessage(`{}`)}
	second := &OutboxEvent{AggregateType: "style", AggregateID: "acme:2", EventType: "INVENTORY_SNAPSHOT", Payload: json.RawMessage(`{}`)}
	insertEvent(t, db, repo, first)
	insertEvent(t, db, repo, second)

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "acme:1", pending[0].AggregateID)

	require.NoError(t, repo.MarkProcessed(ctx, first.ID))
	assert.ErrorIs(t, repo.MarkProcessed(ctx, uuid.New()), ErrEventNotFound)

	require.NoError(t, repo.MarkFailed(ctx, second.ID, assert.AnError))
	pending, err = repo.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "failed event waits for its backoff")

	p, dead, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p)
	assert.Equal(t, int64(0), dead)

	_, err = db.Exec(ctx, `UPDATE outbox_event SET retry_count = $1 WHERE id = $2`, MaxDeliveryAttempts-1, second.ID)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, second.ID, assert.AnError))

	p, dead, err = repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p)
	assert.Equal(t, int64(1), dead)
}

func TestRowRepository_SaveRows(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRowRepository(db)
	runID := uuid.New()

	row := models.CanonicalRow{
		Source:       "acme",
		ProductID:    1,
		Handle:       "straight-jean",
		Title:        "Straight Jean",
		VariantID:    11,
		Price:        decimal.NewNullDecimal(decimal.RequireFromString("218.00")),
		Availability: models.Available,
		Size:         "S",
		Quantity:     models.KnownQuantity(4),
		Style:        models.StyleTotals{Available: 4, HasData: true},
		StyleTotal:   models.KnownQuantity(4),
	}
	other := row
	other.VariantID = 12
	other.Size = "M"
	other.Quantity = models.UnknownQuantity

	require.NoError(t, NewRowWriter(repo, runID).Write(ctx, []models.CanonicalRow{row, other}))

	row.Quantity = models.KnownQuantity(1)
	require.NoError(t, repo.SaveRows(ctx, uuid.Nil, []models.CanonicalRow{row}))

	stored, err := repo.ListBySource(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, models.KnownQuantity(1), stored[0].Quantity, "upsert replaces the row")
	assert.Equal(t, models.Available, stored[0].Availability)
	assert.True(t, stored[0].Price.Decimal.Equal(decimal.RequireFromString("218")))
	assert.False(t, stored[1].Quantity.Known())
}

func TestRunRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRunRepository(db)

	first, err := repo.Create(ctx, []string{"acme"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := repo.Create(ctx, nil)
	require.NoError(t, err)

	runs, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID, "newest first")
	assert.Equal(t, []string{}, runs[0].Sources)

	claimed, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, RunRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	require.NoError(t, repo.Finish(ctx, first.ID, []map[string]int{{"rows": 3}}, nil))
	got, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, got.Status)
	assert.JSONEq(t, `[{"rows": 3}]`, string(got.Summaries))
	assert.NotNil(t, got.CompletedAt)

	claimed, err = repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Finish(ctx, claimed.ID, nil, errors.New("boom")))
	got, err = repo.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	_, err = repo.ClaimNext(ctx)
	assert.ErrorIs(t, err, ErrNoPendingRun)

	_, err = repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, repo.Finish(ctx, uuid.New(), nil, nil), ErrRunNotFound)
}
