package catalog

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/maltedev/inventory-harvester/internal/config"
	"github.com/maltedev/inventory-harvester/internal/models"
	"github.com/maltedev/inventory-harvester/internal/paginate"
)

const productsQuery = `query Products($first: Int!, $after: String) {
  products(first: $first, after: $after) {
    pageInfo { hasNextPage endCursor }
    edges {
      node {
        id handle title vendor productType tags publishedAt createdAt descriptionHtml
        images(first: 20) { edges { node { url } } }
        variants(first: 100) {
          edges {
            node {
              id title sku barcode availableForSale quantityAvailable
              price { amount }
              compareAtPrice { amount }
              selectedOptions { name value }
            }
          }
        }
      }
    }
  }
}`

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlResponse struct {
	Data struct {
		Products struct {
			PageInfo struct {
				HasNextPage bool    `json:"hasNextPage"`
				EndCursor   *string `json:"endCursor"`
			} `json:"pageInfo"`
			Edges []struct {
				Node gqlProduct `json:"node"`
			} `json:"edges"`
		} `json:"products"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type gqlProduct struct {
	ID              string   `json:"id"`
	Handle          string   `json:"handle"`
	Title           string   `json:"title"`
	Vendor          string   `json:"vendor"`
	ProductType     string   `json:"productType"`
	Tags            []string `json:"tags"`
	PublishedAt     string   `json:"publishedAt"`
	CreatedAt       string   `json:"createdAt"`
	DescriptionHTML string   `json:"descriptionHtml"`
	Images          struct {
		Edges []struct {
			Node struct {
				URL string `json:"url"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"images"`
	Variants struct {
		Edges []struct {
			Node gqlVariant `json:"node"`
		} `json:"edges"`
	} `json:"variants"`
}

type gqlMoney struct {
	Amount any `json:"amount"`
}

type gqlVariant struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	SKU               string    `json:"sku"`
	Barcode           string    `json:"barcode"`
	AvailableForSale  *bool     `json:"availableForSale"`
	QuantityAvailable *int      `json:"quantityAvailable"`
	Price             *gqlMoney `json:"price"`
	CompareAtPrice    *gqlMoney `json:"compareAtPrice"`
	SelectedOptions   []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"selectedOptions"`
}

// GraphQLCatalog pages a storefront GraphQL products connection.
type GraphQLCatalog struct {
	src     *config.SourceConfig
	fetcher Fetcher
	mapper  *mapper
	logger  *slog.Logger
}

func NewGraphQL(src *config.SourceConfig, f Fetcher, logger *slog.Logger) *GraphQLCatalog {
	logger = logger.With("component", "graphql_catalog", "source", src.Name)
	return &GraphQLCatalog{
		src:     src,
		fetcher: f,
		mapper:  newMapper(src, logger),
		logger:  logger,
	}
}

func (c *GraphQLCatalog) Name() string {
	return c.src.Name
}

func (c *GraphQLCatalog) Products(ctx context.Context) iter.Seq2[*models.ProductWithVariants, error] {
	return paginate.Paginate(ctx, paginate.Cursor(c.fetchPage), paginate.Options{
		Name:     c.src.Name,
		MaxPages: c.src.MaxPages,
		Logger:   c.logger,
	})
}

func (c *GraphQLCatalog) fetchPage(ctx context.Context, after string) (paginate.CursorPage[*models.ProductWithVariants], error) {
	var page paginate.CursorPage[*models.ProductWithVariants]

	query := c.src.GraphQL.Query
	if query == "" {
		query = productsQuery
	}
	vars := map[string]any{"first": c.src.PageSize}
	if after != "" {
		vars["after"] = after
	} else {
		vars["after"] = nil
	}

	headers := map[string]string{}
	if c.src.GraphQL.Token != "" {
		headers["X-Shopify-Storefront-Access-Token"] = c.src.GraphQL.Token
	}

	endpoint := resolveURL(c.src.BaseURL, c.src.GraphQL.Endpoint, nil)
	res, err := c.fetcher.PostJSON(ctx, endpoint, gqlRequest{Query: query, Variables: vars}, headers)
	if err != nil {
		return page, err
	}

	var body gqlResponse
	if err := res.JSON(&body); err != nil {
		return page, err
	}
	if len(body.Errors) > 0 {
		msgs := make([]string, 0, len(body.Errors))
		for _, e := range body.Errors {
			msgs = append(msgs, e.Message)
		}
		return page, fmt.Errorf("%w: %s", ErrGraphQL, strings.Join(msgs, "; "))
	}

	conn := body.Data.Products
	for _, edge := range conn.Edges {
		pv := c.mapper.fromGraphQL(edge.Node)
		if errs := pv.Product.Validate(); len(errs) > 0 {
			c.logger.Warn("skipping invalid product", "id", edge.Node.ID, "errors", errs)
			continue
		}
		page.Items = append(page.Items, pv)
	}
	page.HasNextPage = conn.PageInfo.HasNextPage
	if conn.PageInfo.EndCursor != nil {
		page.EndCursor = *conn.PageInfo.EndCursor
	}
	return page, nil
}

func (m *mapper) fromGraphQL(p gqlProduct) *models.ProductWithVariants {
	id := gidNumber(p.ID)
	product := models.NewProduct(id, p.Handle)
	product.Title = p.Title
	product.Vendor = p.Vendor
	product.ProductType = p.ProductType
	product.Tags = append(product.Tags, p.Tags...)
	product.PublishedAt = parseTime(p.PublishedAt)
	product.CreatedAt = parseTime(p.CreatedAt)
	product.URL = m.productURL(p.Handle)
	for _, e := range p.Images.Edges {
		if e.Node.URL != "" {
			product.Images = append(product.Images, e.Node.URL)
		}
	}
	m.applyDescription(product, p.DescriptionHTML)
	m.applyTitleType(product)

	tagColor := m.tagColor(product.Tags)
	pv := &models.ProductWithVariants{Product: product}
	for _, e := range p.Variants.Edges {
		v := e.Node
		vid := gidNumber(v.ID)

		options := make([]string, 0, len(v.SelectedOptions))
		for _, o := range v.SelectedOptions {
			if o.Value != "" {
				options = append(options, o.Value)
			}
		}
		size, color := m.sizeColor(options, tagColor)

		variant := &models.Variant{
			ID:           vid,
			ProductID:    id,
			Title:        v.Title,
			SKU:          v.SKU,
			Barcode:      v.Barcode,
			Availability: models.AvailabilityFromBool(v.AvailableForSale),
			Options:      options,
			Size:         size,
			Color:        color,
		}
		if v.Price != nil {
			variant.Price = m.price(vid, v.Price.Amount)
		}
		if v.CompareAtPrice != nil {
			variant.CompareAtPrice = m.compareAt(v.CompareAtPrice.Amount)
		}
		pv.Variants = append(pv.Variants, variant)

		if v.QuantityAvailable != nil {
			pv.Samples = append(pv.Samples, models.QuantitySample{
				VariantID: vid,
				Quantity:  *v.QuantityAvailable,
				Source:    models.SourceGraphQL,
			})
		}
	}
	return pv
}
