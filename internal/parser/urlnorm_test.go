package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanImageURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"no query", "https://img.example.com/a.jpg", "https://img.example.com/a.jpg"},
		{"width and height", "https://img.example.com/a.jpg?w=300&h=200", "https://img.example.com/a.jpg"},
		{"size and quality", "https://img.example.com/a.jpg?size=2&quality=80", "https://img.example.com/a.jpg"},
		{"vendor token", "https://img.example.com/a.webp?D_Q_NP_2", "https://img.example.com/a.webp"},
		{"keeps unrelated params", "https://img.example.com/a.jpg?w=300&id=9&h=2", "https://img.example.com/a.jpg?id=9"},
		{"unrelated first", "https://img.example.com/a.jpg?id=9&quality=80", "https://img.example.com/a.jpg?id=9"},
		{"dangling separator", "https://img.example.com/a.jpg?", "https://img.example.com/a.jpg"},
		{"value suffix is not a parameter", "https://img.example.com/a.jpg?x=1&w=2x", "https://img.example.com/a.jpg?x=1&w=2x"},
		{"only whole parameters removed", "https://img.example.com/a.jpg?hw=1&h=2&sizes=3", "https://img.example.com/a.jpg?hw=1&sizes=3"},
		{"empty parameters dropped", "https://img.example.com/a.jpg?&&id=9&", "https://img.example.com/a.jpg?id=9"},
		{"similar names survive", "https://img.example.com/a.jpg?width=3&sw=4", "https://img.example.com/a.jpg?width=3&sw=4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanImageURL(tt.input))
		})
	}
}

func TestCleanImageURLIsFixedPoint(t *testing.T) {
	inputs := []string{
		"https://img.example.com/a.jpg?w=300&h=200",
		"https://img.example.com/a.jpg?w=300&id=9&h=2",
		"https://img.example.com/a.jpg?size=1&w=2&quality=3&D_Q_NP_4&x=y",
		"https://img.example.com/a.jpg?w=100abc",
		"https://img.example.com/a.jpg?&&w=1",
	}

	for _, in := range inputs {
		once := CleanImageURL(in)
		assert.Equal(t, once, CleanImageURL(once), in)
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base     string
		ref      string
		expected string
	}{
		{"https://lista.example.com/a/b", "/p/1", "https://lista.example.com/p/1"},
		{"https://lista.example.com/a/b", "c", "https://lista.example.com/a/c"},
		{"https://lista.example.com/a/b?x=1", "?page=2", "https://lista.example.com/a/b?page=2"},
		{"https://lista.example.com/a/b", "//cdn.example.com/i.jpg", "https://cdn.example.com/i.jpg"},
		{"https://lista.example.com/a/b", "https://other.example.com/", "https://other.example.com/"},
		{"https://lista.example.com/a/b", "../up", "https://lista.example.com/up"},
		{"https://lista.example.com/a/b", "  ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ResolveURL(tt.base, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveURLInvalid(t *testing.T) {
	_, err := ResolveURL("https://example.com", "http://[::1")
	assert.Error(t, err)
}
