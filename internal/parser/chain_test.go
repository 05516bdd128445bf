package parser

import (
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

type recordingQuerier struct {
	results map[string][]string
	calls   []string
}

func (q *recordingQuerier) Query(_ *html.Node, s Strategy) iter.Seq[string] {
	q.calls = append(q.calls, s.Selector)
	return func(yield func(string) bool) {
		for _, v := range q.results[s.Selector] {
			if !yield(v) {
				return
			}
		}
	}
}

func TestChainShortCircuits(t *testing.T) {
	q := &recordingQuerier{results: map[string][]string{
		"B": {"value-from-b"},
		"C": {"value-from-c"},
	}}
	chain := Chain{CSSText("A"), CSSText("B"), CSSText("C")}

	value, ok := chain.Extract(q, nil, nil)

	assert.True(t, ok)
	assert.Equal(t, "value-from-b", value)
	assert.Equal(t, []string{"A", "B"}, q.calls)
}

func TestChainSkipsBlankAndRejectedValues(t *testing.T) {
	q := &recordingQuerier{results: map[string][]string{
		"A": {"   ", "\n\t"},
		"B": {"1234"},
		"C": {"R$ 12,00"},
	}}
	chain := Chain{CSSText("A"), CSSText("B"), CSSText("C")}

	value, ok := chain.Extract(q, nil, CurrencyGuard("R$"))

	assert.True(t, ok)
	assert.Equal(t, "R$ 12,00", value)
}

func TestChainAbsent(t *testing.T) {
	q := &recordingQuerier{results: map[string][]string{}}

	value, ok := Chain{CSSText("A"), XPathText("//b")}.Extract(q, nil, nil)

	assert.False(t, ok)
	assert.Empty(t, value)
}

const productCard = `<html><body>
<div class="poly-card">
  <span class="poly-component__brand">Acme</span>
  <a class="poly-component__title" href="/p/MLB-123">  Cafeteira
     Elétrica 110v </a>
  <div class="price"><span>12 parcelas</span><span class="andes-money-amount">R$ 199,90</span></div>
  <img class="poly-component__picture" src="https://img.example.com/a.webp?w=200" alt="Cafeteira">
</div>
</body></html>`

func TestDOMQuerierDialects(t *testing.T) {
	root, err := html.Parse(strings.NewReader(productCard))
	require.NoError(t, err)

	q := DOMQuerier{}

	tests := []struct {
		name     string
		strategy Strategy
		expected []string
	}{
		{
			name:     "css text collapses whitespace",
			strategy: CSSText("a.poly-component__title"),
			expected: []string{"Cafeteira Elétrica 110v"},
		},
		{
			name:     "css attribute",
			strategy: CSSAttr("img.poly-component__picture", "src"),
			expected: []string{"https://img.example.com/a.webp?w=200"},
		},
		{
			name:     "xpath text",
			strategy: XPathText(`//span[@class="poly-component__brand"]`),
			expected: []string{"Acme"},
		},
		{
			name:     "xpath attribute",
			strategy: XPathAttr(`//a[contains(@class,"poly-component__title")]`, "href"),
			expected: []string{"/p/MLB-123"},
		},
		{
			name:     "no match",
			strategy: CSSText(".missing"),
			expected: nil,
		},
		{
			name:     "invalid xpath yields nothing",
			strategy: XPathText(`//a[`),
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for v := range q.Query(root, tt.strategy) {
				got = append(got, v)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFieldExtractorFill(t *testing.T) {
	doc, err := NewDocument("https://lista.example.com/cafeteiras", 200, []byte(productCard))
	require.NoError(t, err)

	fields := FieldSet{
		FieldTitle: {CSSText(".product-name"), CSSText("a.poly-component__title")},
		FieldPrice: {CSSText("div.price span"), CSSText("span.andes-money-amount")},
		FieldBrand: {CSSText("span.poly-component__brand")},
		FieldImage: {CSSAttr("img.poly-component__picture", "src")},
		FieldLink:  {CSSAttr("a.poly-component__title", "href")},
	}
	extractor := NewFieldExtractor(nil, fields, ProductOptions{})

	cards := doc.Elements("div.poly-card")
	require.Len(t, cards, 1)

	product := newTestProduct(doc.URL)
	extractor.Fill(cards[0], product)

	assert.Equal(t, "Cafeteira Elétrica 110v", product.Title)
	assert.Equal(t, "R$ 199,90", product.Price)
	assert.Equal(t, "Acme", product.Brand)
	assert.Equal(t, "https://img.example.com/a.webp?w=200", product.ImageURL)
	assert.Equal(t, "https://lista.example.com/p/MLB-123", product.ProductLink)
	assert.Empty(t, product.Description)
}

func TestFieldExtractorRealImage(t *testing.T) {
	const pixel = "data:image/gif;base64,R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"
	body := `<html><body>
<div class="card"><img class="pic" src="` + pixel + `" data-src="https://img.example.com/lazy.jpg"></div>
<div class="card"><img class="pic" src="` + pixel + `"></div>
</body></html>`

	doc, err := NewDocument("https://lista.example.com/", 200, []byte(body))
	require.NoError(t, err)

	extractor := NewFieldExtractor(nil, FieldSet{
		FieldImage: {CSSAttr("img.pic", "src"), CSSAttr("img.pic", "data-src")},
	}, ProductOptions{})

	cards := doc.Elements("div.card")
	require.Len(t, cards, 2)

	assert.Equal(t, pixel, extractor.Field(cards[0], FieldImage))
	assert.Equal(t, "https://img.example.com/lazy.jpg", extractor.RealImage(cards[0]))
	assert.Empty(t, extractor.RealImage(cards[1]))
	assert.Empty(t, NewFieldExtractor(nil, FieldSet{}, ProductOptions{}).RealImage(cards[0]))
}

func TestMatchKnownBrand(t *testing.T) {
	brands := []string{"Concha Y Toro", "Norton", "Casillero Del Diablo"}

	assert.Equal(t, "Norton", MatchKnownBrand("Vinho Tinto NORTON Malbec 750ml", brands))
	assert.Equal(t, "Concha Y Toro", MatchKnownBrand("concha y toro reservado", brands))
	assert.Empty(t, MatchKnownBrand("Pão de Queijo", brands))
	assert.Empty(t, MatchKnownBrand("", brands))
}
