package scraper

import (
	"fmt"
	"sort"

	"github.com/maltedev/listing-scraper/internal/parser"
)

type PaginationMode int

const (
	// PaginationStrategies discovers next pages from page content.
	PaginationStrategies PaginationMode = iota
	// PaginationNumeric increments a page-number query parameter.
	PaginationNumeric
)

func (m PaginationMode) String() string {
	if m == PaginationNumeric {
		return "numeric"
	}
	return "strategies"
}

// Site describes how to read one storefront's listing pages.
type Site struct {
	Name     string
	Category string
	SeedURL  string

	// ProductSelector (CSS) finds one element per product. When it matches
	// nothing and UsePatterns is set, the text pattern matcher runs instead.
	ProductSelector string
	Fields          parser.FieldSet
	UsePatterns     bool

	// DetailImage is read from a product's own page when the listing only
	// carries a placeholder.
	DetailImage parser.Chain

	Pagination   PaginationMode
	PageParam    string
	OffsetMarker string

	CurrencyMarker string
	KnownBrands    []string
	Headers        map[string]string
}

func (s *Site) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("site name is required")
	}
	if s.ProductSelector == "" && !s.UsePatterns {
		return fmt.Errorf("site %s: product selector or pattern matching is required", s.Name)
	}
	if s.Pagination == PaginationNumeric && s.PageParam == "" {
		return fmt.Errorf("site %s: numeric pagination needs a page parameter", s.Name)
	}
	return nil
}

var sites = map[string]func() *Site{
	"mercadolivre": MercadoLivre,
	"tauste":       Tauste,
}

// LookupSite returns a fresh copy of a built-in site profile.
func LookupSite(name string) (*Site, error) {
	build, ok := sites[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, name)
	}
	return build(), nil
}

func SiteNames() []string {
	names := make([]string, 0, len(sites))
	for name := range sites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func MercadoLivre() *Site {
	return &Site{
		Name:            "mercadolivre",
		Category:        "Cafeteira",
		SeedURL:         "https://lista.mercadolivre.com.br/cafeteira",
		ProductSelector: "div.poly-card, li.ui-search-layout__item",
		Fields: parser.FieldSet{
			parser.FieldTitle: {
				parser.CSSText("a.poly-component__title"),
				parser.CSSText("h2.poly-box a"),
				parser.CSSText("h2.ui-search-item__title"),
				parser.XPathText(`.//a[contains(@class,"title")]`),
			},
			parser.FieldPrice: {
				parser.CSSText("div.poly-price__current span.andes-money-amount"),
				parser.CSSText("span.andes-money-amount"),
				parser.CSSText(".price-tag"),
			},
			parser.FieldBrand: {
				parser.CSSText("span.poly-component__brand"),
				parser.CSSText(".ui-search-item__brand-discoverability"),
			},
			parser.FieldImage: {
				parser.CSSAttr("img.poly-component__picture", "src"),
				parser.CSSAttr("img.poly-component__picture", "data-src"),
				parser.CSSAttr("img.ui-search-result-image__element", "src"),
				parser.CSSAttr("img", "src"),
			},
			parser.FieldLink: {
				parser.CSSAttr("a.poly-component__title", "href"),
				parser.CSSAttr("a.ui-search-link", "href"),
				parser.CSSAttr("a", "href"),
			},
		},
		DetailImage: parser.Chain{
			parser.CSSAttr("img.ui-pdp-image", "src"),
			parser.CSSAttr("img.ui-pdp-image", "data-src"),
			parser.CSSAttr(".ui-pdp-gallery__figure img", "src"),
			parser.CSSAttr(".ui-pdp-gallery__figure img", "data-src"),
			parser.CSSAttr(".ui-pdp-gallery__main img", "src"),
			parser.CSSAttr(`img[data-testid="gallery-image"]`, "src"),
			parser.CSSAttr(`.ui-pdp-gallery__figure img[src*="http"]`, "src"),
			parser.XPathAttr(`//meta[@property="og:image"]`, "content"),
		},
		Pagination:     PaginationStrategies,
		OffsetMarker:   "Desde",
		CurrencyMarker: "R$",
	}
}

func Tauste() *Site {
	return &Site{
		Name:            "tauste",
		Category:        "Padaria",
		SeedURL:         "https://www.tauste.com.br/padaria.html",
		ProductSelector: "li.item.product.product-item",
		UsePatterns:     true,
		Fields: parser.FieldSet{
			parser.FieldTitle: {
				parser.CSSText(".product-name"),
				parser.CSSText(".product-item-name"),
				parser.CSSText("h2"),
				parser.CSSText("h3"),
				parser.CSSText("strong"),
				parser.CSSText("b"),
				parser.CSSText(".name"),
				parser.CSSText(".title"),
				parser.CSSText("a"),
			},
			parser.FieldPrice: {
				parser.CSSText(".price"),
				parser.CSSText(".product-price"),
				parser.CSSText(".price-box .price"),
				parser.CSSText(`[class*="price"]`),
				parser.CSSText(`span:contains("R$")`),
				parser.CSSText(".value"),
			},
			parser.FieldDescription: {
				parser.CSSText(".description"),
				parser.CSSText(".product-description"),
				parser.CSSText(".short-description"),
				parser.CSSText(".details"),
			},
			parser.FieldImage: {
				parser.CSSAttr(".product-image img", "src"),
				parser.CSSAttr(".product-image-photo", "src"),
				parser.CSSAttr("img", "src"),
				parser.CSSAttr(".image", "src"),
			},
			parser.FieldLink: {
				parser.CSSAttr(".product-item-link", "href"),
				parser.CSSAttr(".product-name a", "href"),
				parser.CSSAttr("a", "href"),
			},
			parser.FieldBrand: {
				parser.CSSText(".brand"),
				parser.CSSText(".manufacturer"),
				parser.CSSText(".product-brand"),
			},
		},
		Pagination:     PaginationNumeric,
		PageParam:      "p",
		CurrencyMarker: "R$",
		KnownBrands: []string{
			"Tauste", "Cartuxa", "Don Luciano", "Ceremony", "Santa Carolina",
			"Villa Fabrizia", "Norton", "Pata Negra", "Mosketto", "Perini",
			"Quinta De Bons-Ventos", "Zolla", "Concha Y Toro",
			"Casillero Del Diablo", "Trivento",
		},
	}
}
