package catalog

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maltedev/inventory-harvester/internal/config"
	"github.com/maltedev/inventory-harvester/internal/extract"
	"github.com/maltedev/inventory-harvester/internal/merge"
	"github.com/maltedev/inventory-harvester/internal/models"
)

// mapper applies a source's field mapping rules to decoded products.
type mapper struct {
	src      *config.SourceConfig
	sizes    merge.SizeSet
	suffixes []string
	logger   *slog.Logger
}

func newMapper(src *config.SourceConfig, logger *slog.Logger) *mapper {
	suffixes := make([]string, 0, len(src.TypeSuffixes))
	for s := range src.TypeSuffixes {
		suffixes = append(suffixes, s)
	}
	// longest suffix first so "Wide Leg Jean" beats "Jean"
	sort.Slice(suffixes, func(i, j int) bool {
		if len(suffixes[i]) != len(suffixes[j]) {
			return len(suffixes[i]) > len(suffixes[j])
		}
		return suffixes[i] < suffixes[j]
	})
	return &mapper{src: src, sizes: merge.NewSizeSet(src.Sizes...), suffixes: suffixes, logger: logger}
}

func (m *mapper) productURL(handle string) string {
	return m.src.BaseURL + "/products/" + handle
}

// applyDescription stores the raw and cleaned description and the labelled
// facts found in it.
func (m *mapper) applyDescription(p *models.Product, raw string) {
	text := extract.CleanDescription(raw)
	p.EnrichDescription(raw, text)
	for key, value := range extract.Labelled(text, m.src.DescriptionLabels) {
		p.EnrichAttribute(key, value)
	}
}

func (m *mapper) applyTitleType(p *models.Product) {
	title := strings.ToLower(strings.TrimSpace(p.Title))
	for _, suffix := range m.suffixes {
		if strings.HasSuffix(title, strings.ToLower(suffix)) {
			p.EnrichProductType(m.src.TypeSuffixes[suffix])
			return
		}
	}
}

func (m *mapper) tagColor(tags []string) string {
	prefix := strings.ToLower(m.src.ColorTagPrefix)
	if prefix == "" {
		return ""
	}
	for _, t := range tags {
		if strings.HasPrefix(strings.ToLower(t), prefix) {
			if c := strings.TrimSpace(t[len(prefix):]); c != "" {
				return c
			}
		}
	}
	return ""
}

// sizeColor derives size and color from options, falling back to the
// product's color tag.
func (m *mapper) sizeColor(options []string, fallbackColor string) (string, string) {
	size, color := merge.DefaultOptions(options, m.sizes)
	if color == "" {
		color = fallbackColor
	}
	return size, color
}

// price leaves the variant without a price when the catalog sends none or
// one that does not parse; a zero would read as a real price.
func (m *mapper) price(variantID int64, raw any) decimal.NullDecimal {
	if raw == nil {
		return decimal.NullDecimal{}
	}
	d, err := merge.NormalizePrice(raw, m.src.PriceRule)
	if err != nil {
		m.logger.Warn("ignoring unusable price", "variant_id", variantID, "price", raw, "error", err)
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func (m *mapper) compareAt(raw any) decimal.NullDecimal {
	if raw == nil {
		return decimal.NullDecimal{}
	}
	d, err := merge.NormalizePrice(raw, m.src.PriceRule)
	if err != nil || d.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// tagList accepts both ["a", "b"] and "a, b".
type tagList []string

func (t *tagList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return err
	}
	out := make([]string, 0)
	for _, part := range strings.Split(joined, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*t = out
	return nil
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
