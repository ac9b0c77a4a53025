// Package merge folds catalog variants and quantity observations from
// several partial sources into one canonical row per variant, with
// style-level stock totals.
package merge

import (
	"github.com/maltedev/inventory-harvester/internal/models"
)

type Options struct {
	// Source names the catalog on every row.
	Source string
	// Priority orders quantity sources of the same class, best first.
	// Unlisted sources rank after listed ones.
	Priority  []models.QuantitySource
	Sizes     SizeSet
	Normalize OptionNormalizer
}

type Merger struct {
	source    string
	rank      map[models.QuantitySource]int
	sizes     SizeSet
	normalize OptionNormalizer
}

func New(opts Options) *Merger {
	rank := make(map[models.QuantitySource]int, len(opts.Priority))
	for i, s := range opts.Priority {
		if _, dup := rank[s]; !dup {
			rank[s] = i
		}
	}
	normalize := opts.Normalize
	if normalize == nil {
		normalize = DefaultOptions
	}
	return &Merger{
		source:    opts.Source,
		rank:      rank,
		sizes:     opts.Sizes,
		normalize: normalize,
	}
}

// Merge uses the default options.
func Merge(product *models.Product, variants []*models.Variant, samples []models.QuantitySample) []models.CanonicalRow {
	return New(Options{}).Merge(product, variants, samples)
}

// Merge returns one row per variant in declaration order. Inputs are not
// modified.
func (m *Merger) Merge(product *models.Product, variants []*models.Variant, samples []models.QuantitySample) []models.CanonicalRow {
	if product == nil || len(variants) == 0 {
		return nil
	}

	resolved := m.Resolve(samples)

	quantities := make([]models.Quantity, len(variants))
	sources := make([]models.QuantitySource, len(variants))
	for i, v := range variants {
		if s, ok := resolved[v.ID]; ok {
			quantities[i] = models.KnownQuantity(s.Quantity)
			sources[i] = s.Source
		}
	}
	totals := Totals(quantities)
	styleTotal := totals.Total()

	rows := make([]models.CanonicalRow, 0, len(variants))
	for i, v := range variants {
		size, color := v.Size, v.Color
		if size == "" || color == "" {
			ns, nc := m.normalize(v.Options, m.sizes)
			if size == "" {
				size = ns
			}
			if color == "" {
				color = nc
			}
		}

		rows = append(rows, models.CanonicalRow{
			Source:          m.source,
			ProductID:       product.ID,
			Handle:          product.Handle,
			Title:           product.Title,
			Vendor:          product.Vendor,
			ProductType:     product.ProductType,
			Tags:            product.Tags,
			PublishedAt:     product.PublishedAt,
			CreatedAt:       product.CreatedAt,
			Images:          product.Images,
			URL:             product.URL,
			DescriptionRaw:  product.Description.Raw,
			DescriptionText: product.Description.Text,
			Attributes:      product.Attributes,

			VariantID:      v.ID,
			VariantTitle:   v.Title,
			SKU:            v.SKU,
			Barcode:        v.Barcode,
			Price:          v.Price,
			CompareAtPrice: v.CompareAtPrice,
			Availability:   v.Availability,
			Options:        v.Options,
			Size:           size,
			Color:          color,

			Quantity:       quantities[i],
			QuantitySource: sources[i],
			Style:          totals,
			StyleTotal:     styleTotal,
		})
	}
	return rows
}

// Resolve picks one sample per variant. Schema-typed sources beat
// pattern-matched ones, then the configured priority decides, then the
// later sample wins.
func (m *Merger) Resolve(samples []models.QuantitySample) map[int64]models.QuantitySample {
	best := make(map[int64]models.QuantitySample)
	for _, s := range samples {
		if cur, ok := best[s.VariantID]; ok && m.less(cur.Source, s.Source) {
			continue
		}
		best[s.VariantID] = s
	}
	return best
}

// less reports whether a outranks b.
func (m *Merger) less(a, b models.QuantitySource) bool {
	ca, cb := class(a), class(b)
	if ca != cb {
		return ca < cb
	}
	return m.order(a) < m.order(b)
}

func (m *Merger) order(s models.QuantitySource) int {
	if r, ok := m.rank[s]; ok {
		return r
	}
	return len(m.rank)
}

func class(s models.QuantitySource) int {
	if s.SchemaTyped() {
		return 0
	}
	return 1
}

// Totals aggregates resolved variant quantities. Non-negative values add to
// Available, negative values add their magnitude to Backorder; unknown
// quantities are ignored.
func Totals(quantities []models.Quantity) models.StyleTotals {
	var t models.StyleTotals
	for _, q := range quantities {
		n, ok := q.Int()
		if !ok {
			continue
		}
		t.HasData = true
		if n >= 0 {
			t.Available += n
		} else {
			t.Backorder += -n
		}
	}
	return t
}
