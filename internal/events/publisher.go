// Package events turns harvested rows into per-style inventory snapshot
// events written to the transactional outbox.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/maltedev/inventory-harvester/internal/database"
	"github.com/maltedev/inventory-harvester/internal/models"
)

type EventType string

const (
	// EventTypeInventorySnapshot carries the stock of every variant of one
	// style as seen by a harvest.
	EventTypeInventorySnapshot EventType = "INVENTORY_SNAPSHOT"

	aggregateStyle = "style"
)

type SnapshotPayload struct {
	EventID     string            `json:"event_id"`
	EventType   string            `json:"event_type"`
	Timestamp   time.Time         `json:"timestamp"`
	Source      string            `json:"source"`
	ProductID   int64             `json:"product_id"`
	Handle      string            `json:"handle"`
	Title       string            `json:"title"`
	ProductType string            `json:"product_type,omitempty"`
	URL         string            `json:"url,omitempty"`
	StyleTotal  models.Quantity   `json:"style_total"`
	Backorder   int               `json:"backorder"`
	Variants    []VariantSnapshot `json:"variants"`
}

type VariantSnapshot struct {
	VariantID      int64                 `json:"variant_id"`
	Size           string                `json:"size,omitempty"`
	Color          string                `json:"color,omitempty"`
	Price          decimal.NullDecimal   `json:"price"`
	Availability   models.Availability   `json:"availability"`
	Quantity       models.Quantity       `json:"quantity"`
	QuantitySource models.QuantitySource `json:"quantity_source,omitempty"`
}

// AggregateID identifies the style across sources.
func (p *SnapshotPayload) AggregateID() string {
	return p.Source + ":" + strconv.FormatInt(p.ProductID, 10)
}

// Snapshots groups rows by (source, product) keeping first-seen order.
func Snapshots(rows []models.CanonicalRow) []*SnapshotPayload {
	type key struct {
		source string
		id     int64
	}
	index := make(map[key]*SnapshotPayload)
	var out []*SnapshotPayload

	for _, row := range rows {
		k := key{row.Source, row.ProductID}
		snap, ok := index[k]
		if !ok {
			snap = &SnapshotPayload{
				Source:      row.Source,
				ProductID:   row.ProductID,
				Handle:      row.Handle,
				Title:       row.Title,
				ProductType: row.ProductType,
				URL:         row.URL,
				StyleTotal:  row.StyleTotal,
				Backorder:   row.Style.Backorder,
			}
			index[k] = snap
			out = append(out, snap)
		}
		snap.Variants = append(snap.Variants, VariantSnapshot{
			VariantID:      row.VariantID,
			Size:           row.Size,
			Color:          row.Color,
			Price:          row.Price,
			Availability:   row.Availability,
			Quantity:       row.Quantity,
			QuantitySource: row.QuantitySource,
		})
	}
	return out
}

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher writes snapshot events through the transactional outbox. It
// satisfies the harvest sink interface.
type Publisher struct {
	db     TxRunner
	outbox OutboxWriter
	stream string
	logger *slog.Logger
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		outbox: database.NewOutboxRepository(db),
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// Write publishes one snapshot per style found in rows, all in one
// transaction.
func (p *Publisher) Write(ctx context.Context, rows []models.CanonicalRow) error {
	snapshots := Snapshots(rows)
	if len(snapshots) == 0 {
		return nil
	}

	now := time.Now().UTC()
	events := make([]*database.OutboxEvent, 0, len(snapshots))
	for _, snap := range snapshots {
		snap.EventID = uuid.New().String()
		snap.EventType = string(EventTypeInventorySnapshot)
		snap.Timestamp = now

		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot %s: %w", snap.AggregateID(), err)
		}
		events = append(events, &database.OutboxEvent{
			AggregateType: aggregateStyle,
			AggregateID:   snap.AggregateID(),
			EventType:     snap.EventType,
			Payload:       data,
			TargetStream:  p.stream,
		})
	}

	err := p.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, event := range events {
			if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
				return fmt.Errorf("failed to insert outbox event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish snapshots: %w", err)
	}

	p.logger.Debug("snapshots published to outbox", "events", len(events))
	return nil
}
