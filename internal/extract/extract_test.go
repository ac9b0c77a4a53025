package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var variantQuantities = Spec{
	Anchor:  "variants",
	Label:   "variants",
	Pattern: Pattern{IDField: "id", ValueFields: []string{"quantity"}},
}

func TestQuantities_Records(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[int64]int
	}{
		{
			name: "plain object literal",
			text: `var meta = {variants:[{id:1,quantity:5},{id:2,quantity:-3}]};`,
			want: map[int64]int{1: 5, 2: -3},
		},
		{
			name: "later record for the same id wins",
			text: `var meta = {variants:[{id:1,quantity:5},{id:2,quantity:-3},{id:1,quantity:9}]};`,
			want: map[int64]int{1: 9, 2: -3},
		},
		{
			name: "quoted keys, trailing commas and interleaved fields",
			text: `window.product = {"variants": [{"title": "S / Blue", "quantity": 4, "id": "11",}, {'id': 12, 'sku': 'A-1', 'quantity': 0,},]}`,
			want: map[int64]int{11: 4, 12: 0},
		},
		{
			name: "nested objects and arrays inside records",
			text: `product = {variants: [{id: 1, options: ["S", "Blue"], meta: {id: 99, note: "x]"}, quantity: 7}]}`,
			want: map[int64]int{1: 7},
		},
		{
			name: "partially escaped json",
			text: `<div data-json="{\"variants\":[{\"id\":31,\"quantity\":2},{\"id\":32,\"quantity\":-1}]}"></div>`,
			want: map[int64]int{31: 2, 32: -1},
		},
		{
			name: "brackets inside strings do not end the region",
			text: `x = {variants: [{id: 5, title: "S [slim]", quantity: 1}, {id: 6, title: "M {x}", quantity: 2}]}`,
			want: map[int64]int{5: 1, 6: 2},
		},
		{
			name: "unbalanced region falls back to loose scan",
			text: `x = {variants: [{id: 1, quantity: 3}, {id: 2, quantity: 4}`,
			want: map[int64]int{1: 3, 2: 4},
		},
		{
			name: "label without bracket falls back to loose scan",
			text: `variants = load(); data = [{id: 8, quantity: 6}]`,
			want: map[int64]int{8: 6},
		},
		{
			name: "keys inside string values are ignored",
			text: `x = {variants: [{id:1, note: "id: 7", quantity:5}, {"id": 2, "memo": "quantity: 99", "quantity": 3}]}`,
			want: map[int64]int{1: 5, 2: 3},
		},
		{
			name: "non-integer quantity is skipped",
			text: `variants: [{id: 1, quantity: "lots"}, {id: 2, quantity: 2.0}]`,
			want: map[int64]int{2: 2},
		},
		{
			name: "anchor absent",
			text: `{id: 1, quantity: 5}`,
			want: map[int64]int{},
		},
		{
			name: "nothing matches",
			text: `variants: []`,
			want: map[int64]int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Quantities(tt.text, variantQuantities))
		})
	}
}

func TestExtract_AnchorGuardsLabelSearch(t *testing.T) {
	text := `other = {variants: [{id: 1, quantity: 1}]}; BOLD.inventory = {variants: [{id: 1, quantity: 42}]}`
	spec := Spec{
		Anchor:  "BOLD.inventory",
		Label:   "variants",
		Pattern: Pattern{IDField: "id", ValueFields: []string{"quantity"}},
	}

	assert.Equal(t, map[int64]int{1: 42}, Quantities(text, spec))
}

func TestExtract_CustomFields(t *testing.T) {
	text := `inv = {items: [{variant_id: 10, inventory_quantity: 3, inventory_policy: "continue"}, {variant_id: 11, inventory_quantity: 0}]}`
	spec := Spec{
		Label: "items",
		Pattern: Pattern{
			IDField:     "variant_id",
			ValueFields: []string{"inventory_quantity", "inventory_policy"},
		},
	}

	got := Extract(text, spec)
	require.Len(t, got, 2)
	assert.Equal(t, Record{"inventory_quantity": "3", "inventory_policy": "continue"}, got["10"])
	assert.Equal(t, Record{"inventory_quantity": "0"}, got["11"])
}

func TestExtract_Pairs(t *testing.T) {
	spec := Spec{
		Label:   "stock",
		Pattern: Pattern{Shape: ShapePairs, ValueFields: []string{"quantity"}},
	}

	tests := []struct {
		name string
		text string
		want map[int64]int
	}{
		{
			name: "nested arrays",
			text: `var stock = [[101, 4], ["102", "0"], [101, 7]];`,
			want: map[int64]int{101: 7, 102: 0},
		},
		{
			name: "colon strings",
			text: `stock: ["101:4", "102:-2"]`,
			want: map[int64]int{101: 4, 102: -2},
		},
		{
			name: "mixed forms keep document order",
			text: `stock: [[101, 4], "101:6"]`,
			want: map[int64]int{101: 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Quantities(tt.text, spec))
		})
	}
}

func TestExtract_IDMap(t *testing.T) {
	spec := Spec{
		Anchor:  "inventory",
		Label:   "inventory",
		Pattern: Pattern{Shape: ShapeIDMap, ValueFields: []string{"quantity", "policy"}},
	}

	t.Run("json5 object", func(t *testing.T) {
		text := `window.inventory = {"101": {"quantity": 3, "policy": "deny"}, '102': {quantity: 0,},};`
		got := Extract(text, spec)
		assert.Equal(t, map[string]Record{
			"101": {"quantity": "3", "policy": "deny"},
			"102": {"quantity": "0"},
		}, got)
	})

	t.Run("escaped json", func(t *testing.T) {
		text := `"{\"inventory\":{\"201\":{\"quantity\":5}}}"`
		assert.Equal(t, map[int64]int{201: 5}, Quantities(text, spec))
	})

	t.Run("bare numeric keys", func(t *testing.T) {
		text := `inventory = {301: {quantity: 2, extra: {quantity: 99}}, 302: {quantity: -4}}`
		assert.Equal(t, map[int64]int{301: 2, 302: -4}, Quantities(text, spec))
	})

	t.Run("all scalar fields when none are named", func(t *testing.T) {
		all := spec
		all.Pattern.ValueFields = nil
		got := Extract(`inventory = {"7": {"quantity": 1, "available": true, "tags": ["a"]}}`, all)
		assert.Equal(t, map[string]Record{"7": {"quantity": "1", "available": "true"}}, got)
	})
}

func TestRecord_Int(t *testing.T) {
	r := Record{"a": "5", "b": "-3", "c": "2.6", "d": "null", "e": "abc"}

	tests := []struct {
		field string
		want  int
		ok    bool
	}{
		{"a", 5, true},
		{"b", -3, true},
		{"c", 3, true},
		{"d", 0, false},
		{"e", 0, false},
		{"missing", 0, false},
	}
	for _, tt := range tests {
		got, ok := r.Int(tt.field)
		assert.Equal(t, tt.ok, ok, tt.field)
		assert.Equal(t, tt.want, got, tt.field)
	}
}

func TestMatchBracket(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{`[1, 2]`, 5},
		{`{a: [1, {b: 2}]} tail`, 15},
		{`["]", 1]`, 7},
		{`[\"a\", 1]`, 9},
		{`[1, 2`, -1},
		{`[1, 2}`, -1},
		{`x`, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchBracket(tt.text, 0), tt.text)
	}
}

func TestTopLevel(t *testing.T) {
	got := topLevel(`{id: 1, meta: {id: 2}, list: [3, "x"]}`)
	assert.Len(t, got, len(`{id: 1, meta: {id: 2}, list: [3, "x"]}`))
	assert.Contains(t, got, "id: 1")
	assert.NotContains(t, got, "id: 2")
	assert.NotContains(t, got, `"x"`)

	obj := `{"id": 1, note: "id: 7", 'sku' : 'A-1'}`
	got = topLevel(obj)
	require.Len(t, got, len(obj))
	assert.Equal(t, `{"id": 1, note: "     ", 'sku' : '   '}`, got)

	v, ok := findField(obj, got, "sku")
	require.True(t, ok)
	assert.Equal(t, "A-1", v)
	v, ok = findField(obj, got, "id")
	require.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestParseShape(t *testing.T) {
	assert.Equal(t, ShapePairs, ParseShape("pairs"))
	assert.Equal(t, ShapeIDMap, ParseShape("ID_MAP"))
	assert.Equal(t, ShapeRecords, ParseShape(""))
	assert.Equal(t, "id_map", ShapeIDMap.String())
}
