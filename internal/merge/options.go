package merge

import (
	"regexp"
	"strings"
)

// SizeSet is a case-insensitive allow-list of size tokens.
type SizeSet map[string]struct{}

func NewSizeSet(tokens ...string) SizeSet {
	s := make(SizeSet, len(tokens))
	for _, t := range tokens {
		if t = normalizeToken(t); t != "" {
			s[t] = struct{}{}
		}
	}
	return s
}

func (s SizeSet) Contains(v string) bool {
	_, ok := s[normalizeToken(v)]
	return ok
}

func normalizeToken(v string) string {
	return strings.ToUpper(strings.Join(strings.Fields(v), " "))
}

// OptionNormalizer picks the size and color out of a variant's option
// values.
type OptionNormalizer func(options []string, sizes SizeSet) (size, color string)

// waist and waist x length sizes: 32, 32x30, 32/30, W32 L30
var numericSize = regexp.MustCompile(`(?i)^(?:W?\d{1,2}(?:\s*[x/]\s*|\s+L)?\d{0,2}|\d{1,2}(?:\.\d)?)$`)

// DefaultOptions treats the first option found in the allow-list (or shaped
// like a numeric size) as the size and the first remaining option as the
// color.
func DefaultOptions(options []string, sizes SizeSet) (size, color string) {
	sizeIdx := -1
	for i, opt := range options {
		if sizes.Contains(opt) {
			sizeIdx = i
			break
		}
	}
	if sizeIdx < 0 {
		for i, opt := range options {
			if numericSize.MatchString(strings.TrimSpace(opt)) {
				sizeIdx = i
				break
			}
		}
	}

	if sizeIdx >= 0 {
		size = strings.TrimSpace(options[sizeIdx])
	}
	for i, opt := range options {
		opt = strings.TrimSpace(opt)
		if i == sizeIdx || opt == "" || strings.EqualFold(opt, "Default Title") {
			continue
		}
		color = opt
		break
	}
	return size, color
}
