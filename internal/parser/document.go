package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is an immutable snapshot of one fetched page.
type Document struct {
	URL     string
	Status  int
	RawBody string
	Root    *html.Node
	RawText string
}

func NewDocument(url string, status int, body []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	return &Document{
		URL:     url,
		Status:  status,
		RawBody: string(body),
		Root:    root,
		RawText: flattenText(root),
	}, nil
}

// Selection returns a goquery view over the document tree.
func (d *Document) Selection() *goquery.Document {
	return goquery.NewDocumentFromNode(d.Root)
}

// Elements returns the nodes matching a CSS selector, in document order.
func (d *Document) Elements(selector string) []*html.Node {
	if selector == "" {
		return nil
	}
	return d.Selection().Find(selector).Nodes
}

var skippedTextElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "br": true, "tr": true, "section": true,
	"article": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "ul": true, "ol": true, "table": true,
}

// flattenText keeps line structure: one line per block, blank lines dropped.
func flattenText(root *html.Node) string {
	var buf strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedTextElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			buf.WriteByte('\n')
		}
	}
	walk(root)

	var lines []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if line = collapseSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
