package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type PaginationMethod int

const (
	PaginationNone PaginationMethod = iota
	PaginationEmbeddedJSON
	PaginationURLPattern
	PaginationXPath
	PaginationCSS
	PaginationNumeric
)

func (m PaginationMethod) String() string {
	switch m {
	case PaginationEmbeddedJSON:
		return "embedded_json"
	case PaginationURLPattern:
		return "url_pattern"
	case PaginationXPath:
		return "xpath_selector"
	case PaginationCSS:
		return "css_selector"
	case PaginationNumeric:
		return "numeric_param"
	default:
		return "none"
	}
}

// Resolution is a discovered next page and the strategy that found it.
type Resolution struct {
	URL    string
	Method PaginationMethod
}

// DefaultNextWords are the localized labels of "next page" links.
var DefaultNextWords = []string{"Seguinte", "Próxima", "Próximo", "Siguiente", "Next", "Weiter"}

var embeddedNextPage = regexp.MustCompile(`"next_page"\s*:\s*\{[^{}]*?"url"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// Resolver discovers the next listing page. Strategies run in a fixed order:
// embedded JSON, offset URL pattern, XPath selectors, CSS selectors.
type Resolver struct {
	querier        Querier
	offsetPattern  *regexp.Regexp
	xpathSelectors []Strategy
	cssSelectors   []Strategy
}

type ResolverOption func(*Resolver)

func WithQuerier(q Querier) ResolverOption {
	return func(r *Resolver) {
		r.querier = q
	}
}

// WithOffsetMarker changes the marker of "_<marker>_<n>_NoIndex_True" URLs.
func WithOffsetMarker(marker string) ResolverOption {
	return func(r *Resolver) {
		r.offsetPattern = offsetURLPattern(marker)
	}
}

func WithNextWords(words ...string) ResolverOption {
	return func(r *Resolver) {
		r.xpathSelectors = nextXPathSelectors(words)
		r.cssSelectors = nextCSSSelectors(words)
	}
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		querier:        DOMQuerier{},
		offsetPattern:  offsetURLPattern("Desde"),
		xpathSelectors: nextXPathSelectors(DefaultNextWords),
		cssSelectors:   nextCSSSelectors(DefaultNextWords),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func offsetURLPattern(marker string) *regexp.Regexp {
	return regexp.MustCompile(`https?://[^\s"'<>]+?_` + regexp.QuoteMeta(marker) + `_\d+_NoIndex_True[^\s"'<>]*`)
}

func nextXPathSelectors(words []string) []Strategy {
	selectors := []Strategy{
		XPathAttr(`//li[contains(@class,"andes-pagination__button--next")]//a`, "href"),
		XPathAttr(`//a[contains(@class,"andes-pagination__link") and contains(@class,"next")]`, "href"),
	}
	for _, w := range words {
		selectors = append(selectors,
			XPathAttr(fmt.Sprintf(`//a[contains(@class,"pagination") and (contains(@title,%q) or contains(@aria-label,%q))]`, w, w), "href"),
			XPathAttr(fmt.Sprintf(`//a[contains(normalize-space(.),%q)]`, w), "href"),
		)
	}
	return append(selectors,
		XPathAttr(`//a[@rel="next"]`, "href"),
		XPathAttr(`//link[@rel="next"]`, "href"),
	)
}

func nextCSSSelectors(words []string) []Strategy {
	selectors := []Strategy{
		CSSAttr(`li.andes-pagination__button--next a`, "href"),
		CSSAttr(`a.andes-pagination__link.next`, "href"),
	}
	for _, w := range words {
		selectors = append(selectors,
			CSSAttr(fmt.Sprintf(`a[class*="pagination"][title*=%q]`, w), "href"),
			CSSAttr(fmt.Sprintf(`a[aria-label*=%q]`, w), "href"),
			CSSAttr(fmt.Sprintf(`a:contains(%q)`, w), "href"),
		)
	}
	return append(selectors,
		CSSAttr(`a[rel="next"]`, "href"),
		CSSAttr(`.pagination .next a`, "href"),
		CSSAttr(`a.next`, "href"),
	)
}

// Next returns the next page of doc. Not finding one is a normal outcome.
func (r *Resolver) Next(doc *Document) (Resolution, bool) {
	if u, ok := r.fromEmbeddedJSON(doc); ok {
		return Resolution{URL: u, Method: PaginationEmbeddedJSON}, true
	}
	if u, ok := r.fromURLPattern(doc); ok {
		return Resolution{URL: u, Method: PaginationURLPattern}, true
	}
	if u, ok := r.fromSelectors(doc, r.xpathSelectors); ok {
		return Resolution{URL: u, Method: PaginationXPath}, true
	}
	if u, ok := r.fromSelectors(doc, r.cssSelectors); ok {
		return Resolution{URL: u, Method: PaginationCSS}, true
	}
	return Resolution{}, false
}

func (r *Resolver) fromEmbeddedJSON(doc *Document) (string, bool) {
	m := embeddedNextPage.FindStringSubmatch(doc.RawBody)
	if m == nil {
		return "", false
	}

	raw := strings.ReplaceAll(m[1], `\/`, "/")
	resolved, err := ResolveURL(doc.URL, raw)
	if err != nil || resolved == "" {
		return "", false
	}
	return resolved, true
}

func (r *Resolver) fromURLPattern(doc *Document) (string, bool) {
	for _, candidate := range r.offsetPattern.FindAllString(doc.RawBody, -1) {
		candidate = strings.ReplaceAll(candidate, "&amp;", "&")
		if !sameURL(candidate, doc.URL) {
			return candidate, true
		}
	}
	return "", false
}

func (r *Resolver) fromSelectors(doc *Document, selectors []Strategy) (string, bool) {
	href, ok := Chain(selectors).Extract(r.querier, doc.Root, isNavigableHref)
	if !ok {
		return "", false
	}

	resolved, err := ResolveURL(doc.URL, href)
	if err != nil || resolved == "" {
		return "", false
	}
	return resolved, true
}

func isNavigableHref(href string) bool {
	return href != "#" && !strings.HasPrefix(strings.ToLower(href), "javascript:")
}

// NextNumericPage increments the page query parameter, or appends it with
// value 2 when absent. Other parameters keep their position.
func NextNumericPage(current, param string) string {
	if param == "" {
		param = "p"
	}

	re := regexp.MustCompile(`([?&])` + regexp.QuoteMeta(param) + `=(\d+)`)
	if loc := re.FindStringSubmatchIndex(current); loc != nil {
		n, err := strconv.Atoi(current[loc[4]:loc[5]])
		if err == nil {
			return current[:loc[4]] + strconv.Itoa(n+1) + current[loc[5]:]
		}
	}

	base, fragment, hasFragment := strings.Cut(current, "#")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
		if strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&") {
			sep = ""
		}
	}

	next := base + sep + param + "=2"
	if hasFragment {
		next += "#" + fragment
	}
	return next
}
