// Package catalog lists a brand's products from its storefront feeds and
// enriches them with detail pages and inventory widgets.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/maltedev/inventory-harvester/internal/config"
	"github.com/maltedev/inventory-harvester/internal/fetch"
	"github.com/maltedev/inventory-harvester/internal/models"
)

var (
	ErrUnsupportedKind = errors.New("unsupported source kind")
	ErrGraphQL         = errors.New("graphql error")
)

// Fetcher is the subset of fetch.Transport the catalog needs.
type Fetcher interface {
	Fetch(ctx context.Context, logicalURL string, params url.Values) (*fetch.Result, error)
	PostJSON(ctx context.Context, logicalURL string, body any, headers map[string]string) (*fetch.Result, error)
}

// Source yields every product of one catalog, lazily and once.
type Source interface {
	Name() string
	Products(ctx context.Context) iter.Seq2[*models.ProductWithVariants, error]
}

func New(src *config.SourceConfig, f Fetcher, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch src.Kind {
	case config.KindREST, "":
		return NewREST(src, f, logger), nil
	case config.KindGraphQL:
		return NewGraphQL(src, f, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, src.Kind)
	}
}

// resolveURL joins path onto the source base URL unless it is already
// absolute, after expanding {placeholders}.
func resolveURL(base, tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", url.PathEscape(v))
	}
	expanded := strings.NewReplacer(pairs...).Replace(tmpl)

	if strings.HasPrefix(expanded, "http://") || strings.HasPrefix(expanded, "https://") {
		return expanded
	}
	if !strings.HasPrefix(expanded, "/") {
		expanded = "/" + expanded
	}
	return base + expanded
}

func productVars(src *config.SourceConfig, p *models.Product) map[string]string {
	shop := src.BaseURL
	if u, err := url.Parse(src.BaseURL); err == nil {
		shop = u.Host
	}
	return map[string]string{
		"handle":     p.Handle,
		"id":         strconv.FormatInt(p.ID, 10),
		"product_id": strconv.FormatInt(p.ID, 10),
		"shop":       shop,
	}
}

// gidNumber extracts the numeric tail of a storefront global id such as
// gid://shopify/ProductVariant/4412. Plain numbers pass through.
func gidNumber(gid string) int64 {
	if i := strings.LastIndexByte(gid, '/'); i >= 0 {
		gid = gid[i+1:]
	}
	if i := strings.IndexByte(gid, '?'); i >= 0 {
		gid = gid[:i]
	}
	n, _ := strconv.ParseInt(gid, 10, 64)
	return n
}
