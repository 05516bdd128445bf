package parser

import (
	"testing"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProduct(sourceURL string) *models.Product {
	return models.NewProduct(sourceURL, 1, "test")
}

func TestNewDocumentFlattensText(t *testing.T) {
	body := `<html><head><style>.x{color:red}</style><script>var a = "**no** R$ 1";</script></head>
<body>
  <div>1. 1001 Pão   Francês</div>
  <div><b>**Padaria X**</b> R$ 9,90</div>
  <noscript>enable js</noscript>
</body></html>`

	doc, err := NewDocument("https://www.example.com.br/padaria.html", 200, []byte(body))
	require.NoError(t, err)

	assert.Equal(t, "https://www.example.com.br/padaria.html", doc.URL)
	assert.Equal(t, 200, doc.Status)
	assert.Equal(t, body, doc.RawBody)
	assert.Equal(t, "1. 1001 Pão Francês\n**Padaria X** R$ 9,90", doc.RawText)
	assert.NotContains(t, doc.RawText, "var a")
	assert.NotContains(t, doc.RawText, "enable js")
}

func TestDocumentElements(t *testing.T) {
	body := `<ul><li class="item product product-item">a</li><li class="item">b</li><li class="item product product-item">c</li></ul>`

	doc, err := NewDocument("https://example.com", 200, []byte(body))
	require.NoError(t, err)

	assert.Len(t, doc.Elements("li.item.product.product-item"), 2)
	assert.Empty(t, doc.Elements(""))
}
