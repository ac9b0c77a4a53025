package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/inventory-harvester/internal/models"
)

// RowRepository persists canonical rows, one per (source, variant).
type RowRepository struct {
	db *DB
}

func NewRowRepository(db *DB) *RowRepository {
	return &RowRepository{db: db}
}

const upsertRowQuery = `
	INSERT INTO inventory_rows (
		source, variant_id, product_id, handle, title,
		vendor, product_type, url, size, color,
		price, compare_at_price, availability, quantity, quantity_source,
		style_total, style_backorder, row_data, run_id, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16, $17, $18, $19, NOW()
	)
	ON CONFLICT (source, variant_id) DO UPDATE SET
		product_id = EXCLUDED.product_id,
		handle = EXCLUDED.handle,
		title = EXCLUDED.title,
		vendor = EXCLUDED.vendor,
		product_type = EXCLUDED.product_type,
		url = EXCLUDED.url,
		size = EXCLUDED.size,
		color = EXCLUDED.color,
		price = EXCLUDED.price,
		compare_at_price = EXCLUDED.compare_at_price,
		availability = EXCLUDED.availability,
		quantity = EXCLUDED.quantity,
		quantity_source = EXCLUDED.quantity_source,
		style_total = EXCLUDED.style_total,
		style_backorder = EXCLUDED.style_backorder,
		row_data = EXCLUDED.row_data,
		run_id = EXCLUDED.run_id,
		updated_at = NOW()`

// SaveRows upserts rows in one transaction. runID may be uuid.Nil for
// rows harvested outside a tracked run.
func (r *RowRepository) SaveRows(ctx context.Context, runID uuid.UUID, rows []models.CanonicalRow) error {
	if len(rows) == 0 {
		return nil
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return r.SaveRowsWithTx(ctx, tx, runID, rows)
	})
}

// SaveRowsWithTx queues every upsert into a single batch on tx.
func (r *RowRepository) SaveRowsWithTx(ctx context.Context, tx pgx.Tx, runID uuid.UUID, rows []models.CanonicalRow) error {
	var run *uuid.UUID
	if runID != uuid.Nil {
		run = &runID
	}

	batch := &pgx.Batch{}
	for i := range rows {
		row := &rows[i]
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row %s/%d: %w", row.Source, row.VariantID, err)
		}
		batch.Queue(upsertRowQuery,
			row.Source, row.VariantID, row.ProductID, row.Handle, row.Title,
			row.Vendor, row.ProductType, row.URL, row.Size, row.Color,
			row.Price, row.CompareAtPrice, row.Availability.String(), nullableInt(row.Quantity), nullableString(string(row.QuantitySource)),
			nullableInt(row.StyleTotal), row.Style.Backorder, data, run,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range rows {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to upsert row %s/%d: %w", rows[i].Source, rows[i].VariantID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}
	return nil
}

// ListBySource returns the stored rows of a source ordered by product and
// variant.
func (r *RowRepository) ListBySource(ctx context.Context, source string, limit int) ([]models.CanonicalRow, error) {
	query := `
		SELECT row_data
		FROM inventory_rows
		WHERE source = $1
		ORDER BY product_id, variant_id
		LIMIT $2`

	dbRows, err := r.db.pool.Query(ctx, query, source, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer dbRows.Close()

	var out []models.CanonicalRow
	for dbRows.Next() {
		var data []byte
		if err := dbRows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var row models.CanonicalRow
		if err := json.Unmarshal(data, &row); err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}
		out = append(out, row)
	}
	if err := dbRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// RowWriter adapts the repository to the harvest sink interface for one
// run.
type RowWriter struct {
	repo  *RowRepository
	runID uuid.UUID
}

func NewRowWriter(repo *RowRepository, runID uuid.UUID) *RowWriter {
	return &RowWriter{repo: repo, runID: runID}
}

func (w *RowWriter) Write(ctx context.Context, rows []models.CanonicalRow) error {
	return w.repo.SaveRows(ctx, w.runID, rows)
}

func nullableInt(q models.Quantity) *int {
	n, ok := q.Int()
	if !ok {
		return nil
	}
	return &n
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
