package catalog

import (
	"context"
	"iter"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/maltedev/inventory-harvester/internal/config"
	"github.com/maltedev/inventory-harvester/internal/models"
	"github.com/maltedev/inventory-harvester/internal/paginate"
)

type restProduct struct {
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Handle      string        `json:"handle"`
	BodyHTML    string        `json:"body_html"`
	Vendor      string        `json:"vendor"`
	ProductType string        `json:"product_type"`
	Tags        tagList       `json:"tags"`
	PublishedAt string        `json:"published_at"`
	CreatedAt   string        `json:"created_at"`
	Images      []restImage   `json:"images"`
	Variants    []restVariant `json:"variants"`
}

type restImage struct {
	Src string `json:"src"`
}

type restVariant struct {
	ID                int64  `json:"id"`
	ProductID         int64  `json:"product_id"`
	Title             string `json:"title"`
	SKU               string `json:"sku"`
	Barcode           string `json:"barcode"`
	Price             any    `json:"price"`
	CompareAtPrice    any    `json:"compare_at_price"`
	Available         *bool  `json:"available"`
	Option1           string `json:"option1"`
	Option2           string `json:"option2"`
	Option3           string `json:"option3"`
	InventoryQuantity *int   `json:"inventory_quantity"`
}

type restPage struct {
	Products []restProduct `json:"products"`
}

// RESTCatalog walks /products.json?limit=N&page=P until an empty page.
type RESTCatalog struct {
	src     *config.SourceConfig
	fetcher Fetcher
	mapper  *mapper
	logger  *slog.Logger
}

func NewREST(src *config.SourceConfig, f Fetcher, logger *slog.Logger) *RESTCatalog {
	logger = logger.With("component", "rest_catalog", "source", src.Name)
	return &RESTCatalog{
		src:     src,
		fetcher: f,
		mapper:  newMapper(src, logger),
		logger:  logger,
	}
}

func (c *RESTCatalog) Name() string {
	return c.src.Name
}

func (c *RESTCatalog) Products(ctx context.Context) iter.Seq2[*models.ProductWithVariants, error] {
	return paginate.Paginate(ctx, paginate.Offset(c.fetchPage), paginate.Options{
		Name:     c.src.Name,
		MaxPages: c.src.MaxPages,
		Logger:   c.logger,
	})
}

func (c *RESTCatalog) fetchPage(ctx context.Context, page int) ([]*models.ProductWithVariants, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.src.PageSize))
	params.Set("page", strconv.Itoa(page))

	res, err := c.fetcher.Fetch(ctx, c.src.BaseURL+"/products.json", params)
	if err != nil {
		return nil, err
	}

	var body restPage
	if err := res.JSON(&body); err != nil {
		return nil, err
	}

	out := make([]*models.ProductWithVariants, 0, len(body.Products))
	for _, p := range body.Products {
		pv := c.mapper.fromREST(p, models.SourceCollectionFeed)
		if errs := pv.Product.Validate(); len(errs) > 0 {
			c.logger.Warn("skipping invalid product", "page", page, "id", p.ID, "errors", errs)
			continue
		}
		out = append(out, pv)
	}
	return out, nil
}

// fromREST maps one products.json entry. Inventory quantities, when the
// feed exposes them, become samples tagged with source.
func (m *mapper) fromREST(p restProduct, source models.QuantitySource) *models.ProductWithVariants {
	product := models.NewProduct(p.ID, p.Handle)
	product.Title = p.Title
	product.Vendor = p.Vendor
	product.ProductType = p.ProductType
	product.Tags = append(product.Tags, p.Tags...)
	product.PublishedAt = parseTime(p.PublishedAt)
	product.CreatedAt = parseTime(p.CreatedAt)
	product.URL = m.productURL(p.Handle)
	for _, img := range p.Images {
		if img.Src != "" {
			product.Images = append(product.Images, img.Src)
		}
	}
	m.applyDescription(product, p.BodyHTML)
	m.applyTitleType(product)

	tagColor := m.tagColor(product.Tags)
	pv := &models.ProductWithVariants{Product: product}
	for _, v := range p.Variants {
		options := nonEmpty(v.Option1, v.Option2, v.Option3)
		size, color := m.sizeColor(options, tagColor)

		pv.Variants = append(pv.Variants, &models.Variant{
			ID:             v.ID,
			ProductID:      p.ID,
			Title:          v.Title,
			SKU:            v.SKU,
			Barcode:        v.Barcode,
			Price:          m.price(v.ID, v.Price),
			CompareAtPrice: m.compareAt(v.CompareAtPrice),
			Availability:   models.AvailabilityFromBool(v.Available),
			Options:        options,
			Size:           size,
			Color:          color,
		})
		if v.InventoryQuantity != nil {
			pv.Samples = append(pv.Samples, models.QuantitySample{
				VariantID: v.ID,
				Quantity:  *v.InventoryQuantity,
				Source:    source,
			})
		}
	}
	return pv
}
