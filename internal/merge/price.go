package merge

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidPrice = errors.New("invalid price")

var hundred = decimal.NewFromInt(100)

// PriceRule tells integer prices in minor units apart from decimal prices.
// Catalogs disagree: some send 21800 for $218.00, others "218.00" or "5".
type PriceRule struct {
	// CentsThreshold: integer values at or above it are cents.
	CentsThreshold int64 `json:"cents_threshold"`
	AlwaysCents    bool  `json:"always_cents"`
	NeverCents     bool  `json:"never_cents"`
}

func (r PriceRule) Validate() error {
	if r.AlwaysCents && r.NeverCents {
		return errors.New("price rule: always_cents and never_cents are exclusive")
	}
	if !r.AlwaysCents && !r.NeverCents && r.CentsThreshold <= 0 {
		return errors.New("price rule: cents_threshold is required")
	}
	return nil
}

func (r PriceRule) isCents(n int64) bool {
	switch {
	case r.AlwaysCents:
		return true
	case r.NeverCents:
		return false
	default:
		return n >= r.CentsThreshold
	}
}

// NormalizePrice converts a raw catalog price into a two-place decimal.
// Strings with a decimal point are always taken as dollars unless the rule
// says AlwaysCents; integers and integer-valued strings go through the
// threshold.
func NormalizePrice(raw any, rule PriceRule) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case nil:
		return decimal.Zero, fmt.Errorf("%w: missing", ErrInvalidPrice)
	case string:
		return normalizeString(v, rule)
	case json.Number:
		return normalizeString(v.String(), rule)
	case int:
		return fromInt(int64(v), rule), nil
	case int64:
		return fromInt(v, rule), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidPrice, v)
		}
		if v == math.Trunc(v) && math.Abs(v) < math.MaxInt64 {
			return fromInt(int64(v), rule), nil
		}
		return fromDollars(decimal.NewFromFloat(v), rule), nil
	case decimal.Decimal:
		return v.Round(2), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported type %T", ErrInvalidPrice, raw)
	}
}

var priceCleaner = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "", "USD", "")

func normalizeString(s string, rule PriceRule) (decimal.Decimal, error) {
	cleaned := priceCleaner.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %w", ErrInvalidPrice, s, err)
	}

	if !strings.ContainsAny(cleaned, ".eE") && d.IsInteger() {
		return fromInt(d.IntPart(), rule), nil
	}
	return fromDollars(d, rule), nil
}

func fromInt(n int64, rule PriceRule) decimal.Decimal {
	d := decimal.NewFromInt(n)
	if rule.isCents(n) {
		d = d.Div(hundred)
	}
	return d.Round(2)
}

func fromDollars(d decimal.Decimal, rule PriceRule) decimal.Decimal {
	if rule.AlwaysCents {
		d = d.Div(hundred)
	}
	return d.Round(2)
}
