package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StyleTotals aggregates resolved quantities over every variant of a style.
// Negative quantities are backorder/notify-me counts and are kept apart.
type StyleTotals struct {
	Available int  `json:"available"`
	Backorder int  `json:"backorder"`
	HasData   bool `json:"has_data"`
}

// Total is the style-level stock, unknown when no variant had data.
func (s StyleTotals) Total() Quantity {
	if !s.HasData {
		return UnknownQuantity
	}
	return KnownQuantity(s.Available)
}

// CanonicalRow is the flattened (product, variant) record handed to sinks.
type CanonicalRow struct {
	Source string `json:"source"`

	ProductID       int64             `json:"product_id"`
	Handle          string            `json:"handle"`
	Title           string            `json:"title"`
	Vendor          string            `json:"vendor"`
	ProductType     string            `json:"product_type"`
	Tags            []string          `json:"tags"`
	PublishedAt     *time.Time        `json:"published_at,omitempty"`
	CreatedAt       *time.Time        `json:"created_at,omitempty"`
	Images          []string          `json:"images"`
	URL             string            `json:"url"`
	DescriptionRaw  string            `json:"description_raw"`
	DescriptionText string            `json:"description_text"`
	Attributes      map[string]string `json:"attributes,omitempty"`

	VariantID      int64               `json:"variant_id"`
	VariantTitle   string              `json:"variant_title"`
	SKU            string              `json:"sku"`
	Barcode        string              `json:"barcode"`
	Price          decimal.NullDecimal `json:"price"`
	CompareAtPrice decimal.NullDecimal `json:"compare_at_price"`
	Availability   Availability        `json:"availability"`
	Options        []string            `json:"options"`
	Size           string              `json:"size"`
	Color          string              `json:"color"`

	Quantity       Quantity       `json:"quantity"`
	QuantitySource QuantitySource `json:"quantity_source,omitempty"`
	Style          StyleTotals    `json:"style"`
	StyleTotal     Quantity       `json:"style_total"`
}
