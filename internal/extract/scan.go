package extract

import (
	"regexp"
	"strings"
	"sync"
)

type span struct {
	start, end int // end is inclusive
}

// matchBracket returns the index of the bracket closing text[open]. Nested
// brackets and quoted strings are honoured; a backslash always escapes the
// next byte so partially escaped JSON (\"key\") does not open strings.
// Returns -1 when the brackets never balance or are mismatched.
func matchBracket(text string, open int) int {
	if open < 0 || open >= len(text) || (text[open] != '[' && text[open] != '{') {
		return -1
	}

	var stack []byte
	var quote byte
	for i := open; i < len(text); i++ {
		c := text[i]
		if c == '\\' {
			i++
			continue
		}
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '[', '{':
			stack = append(stack, c)
		case ']', '}':
			if len(stack) == 0 {
				return -1
			}
			top := stack[len(stack)-1]
			if (c == ']' && top != '[') || (c == '}' && top != '{') {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// openBracketAfter returns the index of the first '[' or '{' at or after
// from, allowing only whitespace before it.
func openBracketAfter(text string, from int) int {
	for i := from; i < len(text); i++ {
		switch text[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '[', '{':
			return i
		default:
			return -1
		}
	}
	return -1
}

// objectSpans lists every balanced {...} in text, outer objects before the
// objects nested inside them, i.e. in document order of their opening brace.
func objectSpans(text string) []span {
	var spans []span
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\\' {
			i++
			continue
		}
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{':
			if end := matchBracket(text, i); end > 0 {
				spans = append(spans, span{start: i, end: end})
			}
		}
	}
	return spans
}

// topLevel blanks out everything nested below the outermost bracket of obj
// so field lookups only see the object's own keys. The contents of string
// values are blanked too, keeping their quotes and length, so text such as
// "id: 7" inside a note cannot pass for a key. The result lines up byte for
// byte with obj.
func topLevel(obj string) string {
	b := []byte(obj)
	depth := 0
	var quote byte
	var quoted []span
	for i := 0; i < len(b); i++ {
		c := b[i]
		if quote != 0 {
			if c == '\\' && i+1 < len(b) {
				if depth > 1 {
					b[i], b[i+1] = ' ', ' '
				}
				i++
				continue
			}
			if c == quote {
				quote = 0
				if depth == 1 {
					quoted[len(quoted)-1].end = i
				}
			}
			if depth > 1 {
				b[i] = ' '
			}
			continue
		}
		switch c {
		case '\\':
			if depth > 1 {
				b[i] = ' '
				if i+1 < len(b) {
					b[i+1] = ' '
				}
			}
			i++
			continue
		case '"', '\'', '`':
			quote = c
			if depth == 1 {
				quoted = append(quoted, span{start: i, end: -1})
			}
		case '[', '{':
			depth++
			if depth > 1 {
				b[i] = ' '
			}
			continue
		case ']', '}':
			if depth > 1 {
				b[i] = ' '
			}
			depth--
			continue
		}
		if depth > 1 {
			b[i] = ' '
		}
	}

	for _, s := range quoted {
		if s.end < 0 || isKey(b, s.end+1) {
			continue
		}
		for i := s.start + 1; i < s.end; i++ {
			b[i] = ' '
		}
	}
	return string(b)
}

// isKey reports whether the next non-space byte at or after from starts an
// assignment, which makes the string before it a key.
func isKey(b []byte, from int) bool {
	for i := from; i < len(b); i++ {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case ':', '=':
			return true
		default:
			return false
		}
	}
	return false
}

var escapedQuotes = strings.NewReplacer(`\\\"`, `"`, `\"`, `"`, `\/`, `/`, `\'`, `'`)

// unescape undoes one level of string escaping when the fragment was
// embedded as an escaped JSON string.
func unescape(s string) string {
	if !strings.Contains(s, `\"`) && !strings.Contains(s, `\'`) {
		return s
	}
	return escapedQuotes.Replace(s)
}

const valuePattern = `"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|-?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?|true|false|null|[A-Za-z_$][\w$.]*`

var (
	fieldCache sync.Map // field name -> *regexp.Regexp
	labelCache sync.Map // label -> *regexp.Regexp
)

// fieldRegexp matches `field: value` with the key quoted or not.
func fieldRegexp(field string) *regexp.Regexp {
	if re, ok := fieldCache.Load(field); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?:^|[\s,{;])["']?` + regexp.QuoteMeta(field) + `["']?\s*[:=]\s*(` + valuePattern + `)`)
	fieldCache.Store(field, re)
	return re
}

func labelRegexp(label string) *regexp.Regexp {
	if re, ok := labelCache.Load(label); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?:^|[^\w$])\\?["']?` + regexp.QuoteMeta(label) + `\\?["']?\s*[:=]\s*`)
	labelCache.Store(label, re)
	return re
}

// findField returns the unquoted value of field in obj. Keys are looked up
// in mask, the topLevel form of obj, and the value is read back from obj at
// the same offsets. When a key repeats, the last occurrence wins.
func findField(obj, mask, field string) (string, bool) {
	matches := fieldRegexp(field).FindAllStringSubmatchIndex(mask, -1)
	if len(matches) == 0 {
		return "", false
	}
	m := matches[len(matches)-1]
	return unquote(obj[m[2]:m[3]]), true
}

func unquote(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' || first == '\'') && first == last {
			return v[1 : len(v)-1]
		}
	}
	return v
}

var intPattern = regexp.MustCompile(`^-?\d+$`)

func isInt(s string) bool {
	return intPattern.MatchString(s)
}
