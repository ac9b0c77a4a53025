package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/maltedev/inventory-harvester/internal/config"
	"github.com/maltedev/inventory-harvester/internal/extract"
	"github.com/maltedev/inventory-harvester/internal/metrics"
	"github.com/maltedev/inventory-harvester/internal/models"
)

const (
	StageDetail = "detail_json"
	StagePage   = "product_page"
	StageWidget = "widget"
)

// Enricher adds description, images and quantity samples from the
// per-product endpoints of a source. Every stage is best effort. A
// detail_path of "-" turns the detail JSON stage off.
type Enricher struct {
	src     *config.SourceConfig
	fetcher Fetcher
	mapper  *mapper
	logger  *slog.Logger
}

func NewEnricher(src *config.SourceConfig, f Fetcher, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "enricher", "source", src.Name)
	return &Enricher{
		src:     src,
		fetcher: f,
		mapper:  newMapper(src, logger),
		logger:  logger,
	}
}

// Enrich runs every configured stage against pv. A failed stage is logged
// and counted; the others still run. The returned error joins the stage
// failures and leaves pv usable.
func (e *Enricher) Enrich(ctx context.Context, pv *models.ProductWithVariants) error {
	stages := []struct {
		name    string
		enabled bool
		run     func(context.Context, *models.ProductWithVariants) error
	}{
		{StageDetail, e.src.DetailPath != "" && e.src.DetailPath != "-", e.enrichDetail},
		{StagePage, e.src.PagePath != "" && len(e.src.PageSpecs) > 0, e.enrichPage},
		{StageWidget, e.src.Widget.Enabled(), e.enrichWidget},
	}

	var errs []error
	for _, s := range stages {
		if !s.enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.run(ctx, pv); err != nil {
			metrics.EnrichmentFailures.WithLabelValues(e.src.Name, s.name).Inc()
			e.logger.Warn("enrichment stage failed",
				"stage", s.name,
				"handle", pv.Product.Handle,
				"error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

type detailBody struct {
	Product restProduct `json:"product"`
}

func (e *Enricher) enrichDetail(ctx context.Context, pv *models.ProductWithVariants) error {
	u := resolveURL(e.src.BaseURL, e.src.DetailPath, productVars(e.src, pv.Product))
	res, err := e.fetcher.Fetch(ctx, u, nil)
	if err != nil {
		return err
	}

	var body detailBody
	if err := res.JSON(&body); err != nil {
		return err
	}

	detail := e.mapper.fromREST(body.Product, models.SourceProductJSON)
	p := pv.Product
	p.EnrichDescription(detail.Product.Description.Raw, detail.Product.Description.Text)
	p.EnrichProductType(detail.Product.ProductType)
	p.EnrichImages(detail.Product.Images)
	for k, v := range detail.Product.Attributes {
		p.EnrichAttribute(k, v)
	}

	known := variantIDs(pv)
	for _, s := range detail.Samples {
		if known[s.VariantID] {
			pv.Samples = append(pv.Samples, s)
		}
	}
	return nil
}

func (e *Enricher) enrichPage(ctx context.Context, pv *models.ProductWithVariants) error {
	u := resolveURL(e.src.BaseURL, e.src.PagePath, productVars(e.src, pv.Product))
	res, err := e.fetcher.Fetch(ctx, u, nil)
	if err != nil {
		return err
	}

	html := res.Text()
	known := variantIDs(pv)
	for _, spec := range e.src.PageSpecs {
		e.addRecords(pv, known, extract.ExtractScripts(html, spec.Spec()), spec.Spec(), models.SourceEmbeddedScript)
	}
	return nil
}

func (e *Enricher) enrichWidget(ctx context.Context, pv *models.ProductWithVariants) error {
	u := resolveURL(e.src.BaseURL, e.src.Widget.URL, productVars(e.src, pv.Product))
	res, err := e.fetcher.Fetch(ctx, u, nil)
	if err != nil {
		return err
	}

	known := variantIDs(pv)
	if e.src.Widget.Format == "script" {
		for _, spec := range e.src.Widget.Specs {
			e.addRecords(pv, known, extract.ExtractScripts(res.Text(), spec.Spec()), spec.Spec(), models.SourceEmbeddedScript)
		}
		return nil
	}

	decoded, err := decodeOrdered(json.NewDecoder(bytes.NewReader(res.Body)))
	if err != nil {
		return fmt.Errorf("failed to decode widget response: %w", err)
	}
	idField := e.src.Widget.IDField
	if idField == "" {
		idField = "id"
	}
	qtyField := e.src.Widget.QuantityField
	if qtyField == "" {
		qtyField = "quantity"
	}
	walkQuantities(decoded, idField, qtyField, func(id int64, qty int) {
		if known[id] {
			pv.Samples = append(pv.Samples, models.QuantitySample{VariantID: id, Quantity: qty, Source: models.SourceWidget})
		}
	})
	return nil
}

func (e *Enricher) addRecords(pv *models.ProductWithVariants, known map[int64]bool, records map[string]extract.Record, spec extract.Spec, source models.QuantitySource) {
	field := spec.Pattern.ValueFields[0]
	for id, rec := range records {
		vid, err := strconv.ParseInt(id, 10, 64)
		if err != nil || !known[vid] {
			continue
		}
		if q, ok := rec.Int(field); ok {
			pv.Samples = append(pv.Samples, models.QuantitySample{VariantID: vid, Quantity: q, Source: source})
		}
	}
}

// jsonObject keeps an object's members in document order so repeated
// variants resolve to the one written last.
type jsonObject []jsonMember

type jsonMember struct {
	key   string
	value any
}

// get returns the last member named key, as encoding/json would.
func (o jsonObject) get(key string) any {
	var v any
	for _, m := range o {
		if m.key == key {
			v = m.value
		}
	}
	return v
}

// decodeOrdered reads one JSON value. Objects come back as jsonObject,
// arrays as []any and scalars as the decoder's tokens.
func decodeOrdered(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		var obj jsonObject
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := kt.(string)
			v, err := decodeOrdered(dec)
			if err != nil {
				return nil, err
			}
			obj = append(obj, jsonMember{key: key, value: v})
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []any{}
		for dec.More() {
			v, err := decodeOrdered(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return nil, fmt.Errorf("unexpected delimiter %q", delim)
}

// walkQuantities visits every JSON object carrying both idField and
// qtyField, in document order.
func walkQuantities(v any, idField, qtyField string, fn func(id int64, qty int)) {
	switch x := v.(type) {
	case jsonObject:
		id, idOK := jsonInt(x.get(idField))
		qty, qtyOK := jsonInt(x.get(qtyField))
		if idOK && qtyOK {
			fn(id, int(qty))
		}
		for _, m := range x {
			walkQuantities(m.value, idField, qtyField, fn)
		}
	case []any:
		for _, child := range x {
			walkQuantities(child, idField, qtyField, fn)
		}
	}
}

func jsonInt(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case string:
		if n, err := strconv.ParseInt(x, 10, 64); err == nil {
			return n, true
		}
		if n := gidNumber(x); n != 0 {
			return n, true
		}
	}
	return 0, false
}

func variantIDs(pv *models.ProductWithVariants) map[int64]bool {
	ids := make(map[int64]bool, len(pv.Variants))
	for _, v := range pv.Variants {
		ids[v.ID] = true
	}
	return ids
}
