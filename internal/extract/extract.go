// Package extract mines id-keyed records out of text that is not valid
// JSON: JavaScript object literals in <script> blocks, partially escaped
// JSON strings and loose key/value dumps. It never returns an error; a
// miss is an empty map.
package extract

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Shape selects how records are laid out inside the labelled region.
type Shape int

const (
	// ShapeRecords is an array of {id: N, field: V, ...} objects.
	ShapeRecords Shape = iota
	// ShapePairs is a list of [id, value] arrays or "id:value" strings.
	ShapePairs
	// ShapeIDMap is an object keyed by numeric id whose values are
	// attribute objects.
	ShapeIDMap
)

func (s Shape) String() string {
	switch s {
	case ShapePairs:
		return "pairs"
	case ShapeIDMap:
		return "id_map"
	default:
		return "records"
	}
}

// ParseShape accepts the names used in source configuration files.
func ParseShape(name string) Shape {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pairs":
		return ShapePairs
	case "id_map", "idmap", "map":
		return ShapeIDMap
	default:
		return ShapeRecords
	}
}

type Pattern struct {
	Shape   Shape
	IDField string
	// ValueFields are copied into each Record. For ShapePairs only the
	// first entry is used and names the paired value.
	ValueFields []string
}

type Spec struct {
	// Anchor must occur in the text or extraction is skipped. Defaults to
	// Label when empty.
	Anchor string
	// Label names the key whose bracketed value holds the records, e.g.
	// "variants" for `variants: [...]`.
	Label   string
	Pattern Pattern
}

// Record holds the raw, unquoted field values of one id.
type Record map[string]string

// Int reads field as an integer, accepting "5", "5.0" and "-3".
func (r Record) Int(field string) (int, bool) {
	v, ok := r[field]
	if !ok {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Round(f)), true
}

// Extract returns the records found in text keyed by id. Records appearing
// later in the text overwrite earlier ones with the same id.
func Extract(text string, spec Spec) map[string]Record {
	out := make(map[string]Record)

	anchor := spec.Anchor
	if anchor == "" {
		anchor = spec.Label
	}
	if anchor != "" && !strings.Contains(text, anchor) {
		return out
	}

	if region, ok := locate(text, spec.Label, anchor); ok {
		scanRegion(unescape(region), spec.Pattern, out)
		if len(out) > 0 {
			return out
		}
	}

	scanLoose(unescape(text), spec.Pattern, out)
	return out
}

// Quantities extracts the first value field of spec as an integer per id.
// Ids or quantities that are not integers are skipped.
func Quantities(text string, spec Spec) map[int64]int {
	field := "quantity"
	if len(spec.Pattern.ValueFields) > 0 {
		field = spec.Pattern.ValueFields[0]
	}

	out := make(map[int64]int)
	for id, rec := range Extract(text, spec) {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		if q, ok := rec.Int(field); ok {
			out[n] = q
		}
	}
	return out
}

// locate returns the balanced bracket region following label. The search
// starts at the anchor and falls back to the start of the text.
func locate(text, label, anchor string) (string, bool) {
	if label == "" {
		return "", false
	}

	re := labelRegexp(label)
	starts := []int{0}
	if anchor != "" {
		if i := strings.Index(text, anchor); i > 0 {
			starts = []int{i, 0}
		}
	}

	for _, from := range starts {
		for _, m := range re.FindAllStringIndex(text[from:], -1) {
			open := openBracketAfter(text, from+m[1])
			if open < 0 {
				continue
			}
			if end := matchBracket(text, open); end > 0 {
				return text[open : end+1], true
			}
		}
	}
	return "", false
}

func scanRegion(region string, p Pattern, out map[string]Record) {
	switch p.Shape {
	case ShapePairs:
		scanPairs(region, p, out)
	case ShapeIDMap:
		if !scanIDMapJSON5(region, p, out) {
			scanIDMapLoose(region, p, out)
		}
	default:
		for _, s := range objectSpans(region) {
			addRecord(region[s.start:s.end+1], p, out)
		}
	}
}

var flatObject = regexp.MustCompile(`\{[^{}]*\}`)

// scanLoose searches the whole text without requiring a labelled region.
func scanLoose(text string, p Pattern, out map[string]Record) {
	switch p.Shape {
	case ShapePairs:
		scanPairs(text, p, out)
	case ShapeIDMap:
		scanIDMapLoose(text, p, out)
	default:
		for _, obj := range flatObject.FindAllString(text, -1) {
			addRecord(obj, p, out)
		}
	}
}

func idField(p Pattern) string {
	if p.IDField == "" {
		return "id"
	}
	return p.IDField
}

// addRecord reads the id and value fields from the object's own keys.
func addRecord(obj string, p Pattern, out map[string]Record) {
	top := topLevel(obj)
	id, ok := findField(obj, top, idField(p))
	if !ok || !isInt(id) {
		return
	}

	rec := make(Record, len(p.ValueFields))
	for _, f := range p.ValueFields {
		if v, ok := findField(obj, top, f); ok {
			rec[f] = v
		}
	}
	if len(p.ValueFields) > 0 && len(rec) == 0 {
		return
	}
	out[id] = rec
}

var (
	pairArray  = regexp.MustCompile(`\[\s*["']?(-?\d+)["']?\s*,\s*("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|-?\d+(?:\.\d+)?|true|false|null)\s*\]`)
	pairString = regexp.MustCompile(`["'](\d+)\s*[:=]\s*(-?\d+(?:\.\d+)?)["']`)
)

type located struct {
	pos       int
	id, value string
}

func scanPairs(text string, p Pattern, out map[string]Record) {
	field := "value"
	if len(p.ValueFields) > 0 {
		field = p.ValueFields[0]
	}

	var found []located
	for _, m := range pairArray.FindAllStringSubmatchIndex(text, -1) {
		found = append(found, located{pos: m[0], id: text[m[2]:m[3]], value: unquote(text[m[4]:m[5]])})
	}
	for _, m := range pairString.FindAllStringSubmatchIndex(text, -1) {
		found = append(found, located{pos: m[0], id: text[m[2]:m[3]], value: text[m[4]:m[5]]})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	for _, f := range found {
		out[f.id] = Record{field: f.value}
	}
}

func scanIDMapJSON5(region string, p Pattern, out map[string]Record) bool {
	var decoded map[string]any
	if err := json5.Unmarshal([]byte(region), &decoded); err != nil {
		return false
	}

	added := false
	for id, raw := range decoded {
		if !isInt(id) {
			continue
		}
		attrs, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		rec := Record{}
		if len(p.ValueFields) == 0 {
			for k, v := range attrs {
				if s, ok := scalarString(v); ok {
					rec[k] = s
				}
			}
		} else {
			for _, f := range p.ValueFields {
				if s, ok := scalarString(attrs[f]); ok {
					rec[f] = s
				}
			}
		}
		if len(rec) == 0 {
			continue
		}
		out[id] = rec
		added = true
	}
	return added
}

var idMapKey = regexp.MustCompile(`["']?(\d+)["']?\s*:\s*\{`)

// scanIDMapLoose handles maps JSON5 rejects, such as bare numeric keys.
func scanIDMapLoose(text string, p Pattern, out map[string]Record) {
	for _, m := range idMapKey.FindAllStringSubmatchIndex(text, -1) {
		open := m[1] - 1
		end := matchBracket(text, open)
		if end < 0 {
			continue
		}
		obj := text[open : end+1]
		top := topLevel(obj)

		rec := Record{}
		for _, f := range p.ValueFields {
			if v, ok := findField(obj, top, f); ok {
				rec[f] = v
			}
		}
		if len(rec) == 0 {
			continue
		}
		out[text[m[2]:m[3]]] = rec
	}
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	default:
		return "", false
	}
}
