package parser

import (
	"iter"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

type Dialect int

const (
	XPath Dialect = iota
	CSS
)

func (d Dialect) String() string {
	if d == CSS {
		return "css"
	}
	return "xpath"
}

// Strategy is one way of reading a value. An empty Attr yields element text.
// XPath selectors used against a product element should be relative (".//").
type Strategy struct {
	Dialect  Dialect
	Selector string
	Attr     string
}

func CSSText(selector string) Strategy {
	return Strategy{Dialect: CSS, Selector: selector}
}

func CSSAttr(selector, attr string) Strategy {
	return Strategy{Dialect: CSS, Selector: selector, Attr: attr}
}

func XPathText(selector string) Strategy {
	return Strategy{Dialect: XPath, Selector: selector}
}

func XPathAttr(selector, attr string) Strategy {
	return Strategy{Dialect: XPath, Selector: selector, Attr: attr}
}

// Querier evaluates a single strategy against a scope, yielding matches lazily.
type Querier interface {
	Query(scope *html.Node, s Strategy) iter.Seq[string]
}

// DOMQuerier runs CSS through goquery and XPath through htmlquery.
type DOMQuerier struct{}

func (DOMQuerier) Query(scope *html.Node, s Strategy) iter.Seq[string] {
	return func(yield func(string) bool) {
		if scope == nil || s.Selector == "" {
			return
		}

		switch s.Dialect {
		case CSS:
			sel := goquery.NewDocumentFromNode(scope).Find(s.Selector)
			for i := range sel.Nodes {
				if !yield(readSelection(sel.Eq(i), s.Attr)) {
					return
				}
			}
		case XPath:
			nodes, err := htmlquery.QueryAll(scope, s.Selector)
			if err != nil {
				return
			}
			for _, n := range nodes {
				if !yield(readNode(n, s.Attr)) {
					return
				}
			}
		}
	}
}

func readSelection(sel *goquery.Selection, attr string) string {
	if attr != "" {
		v, _ := sel.Attr(attr)
		return strings.TrimSpace(v)
	}
	return collapseSpace(sel.Text())
}

func readNode(n *html.Node, attr string) string {
	if attr != "" {
		return strings.TrimSpace(htmlquery.SelectAttr(n, attr))
	}
	return collapseSpace(htmlquery.InnerText(n))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Chain is an ordered list of strategies; the first usable result wins.
type Chain []Strategy

// Extract walks the chain in order and stops at the first non-blank value
// that accept approves. Strategies after the winner are never evaluated.
func (c Chain) Extract(q Querier, scope *html.Node, accept func(string) bool) (string, bool) {
	for _, strategy := range c {
		for value := range q.Query(scope, strategy) {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			if accept != nil && !accept(value) {
				continue
			}
			return value, true
		}
	}
	return "", false
}

// CurrencyGuard rejects price candidates without the currency marker.
func CurrencyGuard(marker string) func(string) bool {
	return func(v string) bool {
		return strings.Contains(v, marker)
	}
}
