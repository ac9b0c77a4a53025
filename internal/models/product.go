package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is one style as listed by a catalog page. Fields filled by later
// enrichment fetches are additive: once set they are never overwritten.
type Product struct {
	ID          int64             `json:"id"`
	Handle      string            `json:"handle"`
	Title       string            `json:"title"`
	Vendor      string            `json:"vendor"`
	ProductType string            `json:"product_type"`
	Tags        []string          `json:"tags"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	CreatedAt   *time.Time        `json:"created_at,omitempty"`
	Images      []string          `json:"images"`
	URL         string            `json:"url"`
	Description Description       `json:"description"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Description keeps the raw HTML body next to its cleaned text.
type Description struct {
	Raw  string `json:"raw"`
	Text string `json:"text"`
}

type Availability int

const (
	AvailabilityUnknown Availability = iota
	Available
	Unavailable
)

func AvailabilityFromBool(b *bool) Availability {
	if b == nil {
		return AvailabilityUnknown
	}
	if *b {
		return Available
	}
	return Unavailable
}

func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

func (a Availability) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Availability) UnmarshalText(text []byte) error {
	switch string(text) {
	case "available":
		*a = Available
	case "unavailable":
		*a = Unavailable
	default:
		*a = AvailabilityUnknown
	}
	return nil
}

// Variant is one purchasable size/color combination of a Product.
type Variant struct {
	ID             int64               `json:"id"`
	ProductID      int64               `json:"product_id"`
	Title          string              `json:"title"`
	SKU            string              `json:"sku"`
	Barcode        string              `json:"barcode"`
	Price          decimal.NullDecimal `json:"price"`
	CompareAtPrice decimal.NullDecimal `json:"compare_at_price"`
	Availability   Availability        `json:"availability"`
	Options        []string            `json:"options"`
	Size           string              `json:"size"`
	Color          string              `json:"color"`
}

func NewProduct(id int64, handle string) *Product {
	return &Product{
		ID:         id,
		Handle:     handle,
		Tags:       make([]string, 0),
		Images:     make([]string, 0),
		Attributes: make(map[string]string),
	}
}

// EnrichDescription sets the description unless one is already present.
func (p *Product) EnrichDescription(raw, text string) bool {
	if p.Description.Raw != "" || strings.TrimSpace(raw) == "" {
		return false
	}
	p.Description = Description{Raw: raw, Text: text}
	return true
}

func (p *Product) EnrichProductType(productType string) bool {
	if p.ProductType != "" || productType == "" {
		return false
	}
	p.ProductType = productType
	return true
}

func (p *Product) EnrichImages(images []string) bool {
	if len(p.Images) > 0 || len(images) == 0 {
		return false
	}
	p.Images = append([]string(nil), images...)
	return true
}

// EnrichAttribute records a computed attribute (rise, inseam, fabric, ...)
// the first time it is seen.
func (p *Product) EnrichAttribute(key, value string) bool {
	if key == "" || value == "" {
		return false
	}
	if p.Attributes == nil {
		p.Attributes = make(map[string]string)
	}
	if _, exists := p.Attributes[key]; exists {
		return false
	}
	p.Attributes[key] = value
	return true
}

func (p *Product) Validate() []string {
	var errors []string

	if p.ID == 0 && p.Handle == "" {
		errors = append(errors, "ID or handle is required")
	}

	if p.Title == "" {
		errors = append(errors, "Title is required")
	}

	return errors
}

// ProductWithVariants is what a catalog page yields per style.
type ProductWithVariants struct {
	Product  *Product
	Variants []*Variant
	Samples  []QuantitySample
}
