package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"

	"github.com/maltedev/inventory-harvester/internal/extract"
	"github.com/maltedev/inventory-harvester/internal/merge"
	"github.com/maltedev/inventory-harvester/internal/models"
)

var ErrInvalidSource = errors.New("invalid source config")

type SourceKind string

const (
	KindREST    SourceKind = "rest"
	KindGraphQL SourceKind = "graphql"
)

// SourceConfig describes one brand's catalog. Everything brand-specific
// lives here rather than in code.
type SourceConfig struct {
	Name    string     `json:"name"`
	Kind    SourceKind `json:"kind"`
	BaseURL string     `json:"base_url"`
	// Hosts maps a logical host to equivalent origins tried in order.
	Hosts    map[string][]string `json:"hosts"`
	PageSize int                 `json:"page_size"`
	MaxPages int                 `json:"max_pages"`

	GraphQL GraphQLConfig `json:"graphql"`

	// DetailPath and PagePath are templates with {handle} and {id}.
	DetailPath string          `json:"detail_path"`
	PagePath   string          `json:"page_path"`
	PageSpecs  []ExtractSpec   `json:"page_specs"`
	Widget     WidgetConfig    `json:"widget"`
	PriceRule  merge.PriceRule `json:"price_rule"`

	Sizes             []string          `json:"sizes"`
	ColorTagPrefix    string            `json:"color_tag_prefix"`
	TypeSuffixes      map[string]string `json:"type_suffixes"`
	DescriptionLabels map[string]string `json:"description_labels"`
	QuantityPriority  []string          `json:"quantity_priority"`
	Concurrency       int               `json:"concurrency"`
}

type GraphQLConfig struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
	// Query overrides the built-in products query.
	Query string `json:"query"`
}

// WidgetConfig points at a third-party inventory endpoint. URL is a
// template with {shop}, {product_id} and {handle}.
type WidgetConfig struct {
	URL    string        `json:"url"`
	Format string        `json:"format"` // "json" or "script"
	Specs  []ExtractSpec `json:"specs"`
	// IDField and QuantityField name the keys of a JSON quantity map.
	IDField       string `json:"id_field"`
	QuantityField string `json:"quantity_field"`
}

func (w WidgetConfig) Enabled() bool {
	return w.URL != ""
}

// ExtractSpec is the file form of extract.Spec.
type ExtractSpec struct {
	Anchor      string   `json:"anchor"`
	Label       string   `json:"label"`
	Shape       string   `json:"shape"`
	IDField     string   `json:"id_field"`
	ValueFields []string `json:"value_fields"`
}

func (e ExtractSpec) Spec() extract.Spec {
	fields := e.ValueFields
	if len(fields) == 0 {
		fields = []string{"quantity"}
	}
	idField := e.IDField
	if idField == "" {
		idField = "id"
	}
	return extract.Spec{
		Anchor: e.Anchor,
		Label:  e.Label,
		Pattern: extract.Pattern{
			Shape:       extract.ParseShape(e.Shape),
			IDField:     idField,
			ValueFields: fields,
		},
	}
}

// Priority converts QuantityPriority into typed sources.
func (s *SourceConfig) Priority() []models.QuantitySource {
	out := make([]models.QuantitySource, 0, len(s.QuantityPriority))
	for _, p := range s.QuantityPriority {
		out = append(out, models.QuantitySource(p))
	}
	return out
}

func (s *SourceConfig) applyDefaults() {
	if s.Kind == "" {
		s.Kind = KindREST
	}
	if s.PageSize <= 0 {
		s.PageSize = 250
	}
	if s.MaxPages <= 0 {
		s.MaxPages = 200
	}
	if s.DetailPath == "" {
		s.DetailPath = "/products/{handle}.json"
	}
	if s.Widget.Format == "" {
		s.Widget.Format = "json"
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
}

func (s *SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSource)
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s: base_url %q is not an absolute url", ErrInvalidSource, s.Name, s.BaseURL)
	}
	switch s.Kind {
	case KindREST:
	case KindGraphQL:
		if s.GraphQL.Endpoint == "" {
			return fmt.Errorf("%w: %s: graphql.endpoint is required", ErrInvalidSource, s.Name)
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidSource, s.Name, s.Kind)
	}
	if err := s.PriceRule.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidSource, s.Name, err)
	}
	if s.Widget.Enabled() && s.Widget.Format != "json" && s.Widget.Format != "script" {
		return fmt.Errorf("%w: %s: widget.format must be json or script", ErrInvalidSource, s.Name)
	}
	return nil
}

// LoadSource reads <name>.json5 and merges <name>.local.json5 over it when
// present. Either file may be missing, but not both.
func LoadSource(path string) (*SourceConfig, error) {
	cfg, err := readMerged[SourceConfig](path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadSources loads every *.json5 in dir, skipping *.local.json5 overrides.
func LoadSources(dir string) ([]*SourceConfig, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json5"))
	if err != nil {
		return nil, err
	}

	var sources []*SourceConfig
	for _, m := range matches {
		if strings.HasSuffix(m, ".local.json5") {
			continue
		}
		src, err := LoadSource(m)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(m), err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

func readMerged[T any](name string) (T, error) {
	var out T
	allNotFound := true

	defaultFile, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(defaultFile) > 0 {
		if err := json5.Unmarshal(defaultFile, &out); err != nil {
			return out, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		allNotFound = false
	}

	prefix, ext := splitExt(filepath.Base(name))
	localPath := filepath.Join(filepath.Dir(name), fmt.Sprintf("%s.local.%s", prefix, ext))
	localFile, err := os.ReadFile(localPath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(localFile) > 0 {
		var override T
		if err := json5.Unmarshal(localFile, &override); err != nil {
			return out, fmt.Errorf("failed to parse %s: %w", localPath, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, err
		}
		slog.Info("merging source config with local overrides", "local", localPath)
		allNotFound = false
	}

	if allNotFound {
		return out, os.ErrNotExist
	}
	return out, nil
}
