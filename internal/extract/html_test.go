package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productPage = `<!doctype html>
<html><head>
<script src="/cdn/theme.js"></script>
<script type="application/ld+json">{"@type": "Product", "name": "Straight Jean"}</script>
</head><body>
<div class="price">$218.00</div>
<script>
  var meta = {variants: [{id: 41, quantity: 5}, {id: 42, quantity: 0}]};
</script>
<script>
  window.stockUpdate = {variants: [{id: 42, quantity: -2}]};
</script>
</body></html>`

func TestScriptBlocks(t *testing.T) {
	blocks := ScriptBlocks(productPage)
	require.Len(t, blocks, 3)
	assert.Contains(t, blocks[0], `"@type": "Product"`)
	assert.Contains(t, blocks[1], "var meta")
	assert.Contains(t, blocks[2], "stockUpdate")
}

func TestExtractScripts(t *testing.T) {
	t.Run("later scripts win", func(t *testing.T) {
		got := ExtractScripts(productPage, variantQuantities)
		assert.Equal(t, map[string]Record{
			"41": {"quantity": "5"},
			"42": {"quantity": "-2"},
		}, got)
	})

	t.Run("plain javascript payload", func(t *testing.T) {
		got := ExtractScripts(`callback({variants: [{id: 7, quantity: 3}]})`, variantQuantities)
		assert.Equal(t, map[string]Record{"7": {"quantity": "3"}}, got)
	})
}

func TestCleanDescription(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "paragraphs and breaks become lines",
			html: `<p>Our classic   straight leg.</p><p>Rise: 10.5"<br>Inseam: 32"</p>`,
			want: "Our classic straight leg.\nRise: 10.5\"\nInseam: 32\"",
		},
		{
			name: "list items",
			html: `<ul><li>98% cotton</li><li>2% elastane</li></ul>`,
			want: "98% cotton\n2% elastane",
		},
		{
			name: "styles and scripts dropped",
			html: `<style>.x{color:red}</style><span>Soft&nbsp;denim</span><script>track()</script>`,
			want: "Soft denim",
		},
		{
			name: "empty",
			html: "   ",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanDescription(tt.html))
		})
	}
}

func TestLabelled(t *testing.T) {
	text := "Our classic straight leg.\nRise: 10.5\"\nInseam - 32\"; Leg opening: 15\"\nModel is 6'1\""
	labels := map[string]string{
		"rise":        "Rise",
		"inseam":      "Inseam",
		"leg_opening": "Leg Opening",
		"fabric":      "Fabric",
	}

	assert.Equal(t, map[string]string{
		"rise":        `10.5"`,
		"inseam":      `32"`,
		"leg_opening": `15"`,
	}, Labelled(text, labels))
}
