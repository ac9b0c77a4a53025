package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ScriptBlocks returns the contents of inline <script> elements in document
// order. External scripts (src set, empty body) are skipped.
func ScriptBlocks(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var blocks []string
	doc.Find("script").Each(func(i int, s *goquery.Selection) {
		body := strings.TrimSpace(s.Text())
		if body == "" {
			return
		}
		blocks = append(blocks, body)
	})
	return blocks
}

// ExtractScripts runs Extract over each inline script of an HTML page and
// merges the results, later scripts winning. Text without any <script>
// element (a bare JS or JSON payload) is scanned as a whole.
func ExtractScripts(html string, spec Spec) map[string]Record {
	blocks := ScriptBlocks(html)
	if len(blocks) == 0 {
		return Extract(html, spec)
	}

	out := make(map[string]Record)
	for _, block := range blocks {
		for id, rec := range Extract(block, spec) {
			out[id] = rec
		}
	}
	return out
}

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blockElements   = "p, div, li, tr, h1, h2, h3, h4, h5, h6, ul, ol, table, section"
)

// CleanDescription strips markup from an HTML product description. Block
// elements and <br> become line breaks; runs of spaces collapse and blank
// lines are dropped.
func CleanDescription(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(horizontalSpace.ReplaceAllString(html, " "))
	}

	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockElements).Each(func(i int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// Labelled pulls "Label: value" facts out of cleaned description text.
// labels maps the attribute key to the label printed in the text; a value
// ends at the line end, a semicolon or a bullet.
func Labelled(text string, labels map[string]string) map[string]string {
	out := make(map[string]string)
	for key, label := range labels {
		if label == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)(?:^|[\n;•|])\s*` + regexp.QuoteMeta(label) + `\s*[:\-–]\s*([^\n;•|]+)`)
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(text); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				out[key] = v
			}
		}
	}
	return out
}
