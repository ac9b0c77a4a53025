package models

import (
	"encoding/json"
	"strconv"
)

// QuantitySource names where a QuantitySample came from.
type QuantitySource string

const (
	SourceProductJSON    QuantitySource = "product_json"
	SourceGraphQL        QuantitySource = "storefront_graphql"
	SourceCollectionFeed QuantitySource = "collection_feed"
	SourceWidget         QuantitySource = "widget_api"
	SourceEmbeddedScript QuantitySource = "embedded_script"
)

// Schema-typed sources come from decoded JSON fields; everything else was
// pattern-matched out of text.
func (s QuantitySource) SchemaTyped() bool {
	switch s {
	case SourceProductJSON, SourceGraphQL, SourceCollectionFeed, SourceWidget:
		return true
	default:
		return false
	}
}

// QuantitySample is one inventory observation for one variant.
type QuantitySample struct {
	VariantID int64          `json:"variant_id"`
	Quantity  int            `json:"quantity"`
	Source    QuantitySource `json:"source"`
}

// Quantity is an inventory count that may be unknown. The zero value is
// unknown, which is distinct from a known zero.
type Quantity struct {
	value int
	known bool
}

var UnknownQuantity = Quantity{}

func KnownQuantity(n int) Quantity {
	return Quantity{value: n, known: true}
}

func (q Quantity) Known() bool { return q.known }

func (q Quantity) Int() (int, bool) { return q.value, q.known }

func (q Quantity) String() string {
	if !q.known {
		return "unknown"
	}
	return strconv.Itoa(q.value)
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	if !q.known {
		return []byte("null"), nil
	}
	return json.Marshal(q.value)
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*q = UnknownQuantity
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*q = KnownQuantity(n)
	return nil
}
