package images

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"spaces become hyphens", "Pão Francês", "Pão-Francês"},
		{"punctuation removed", "Vinho Tinto (750ml)!", "Vinho-Tinto-750ml"},
		{"runs collapse", "a -  - b", "a-b"},
		{"trimmed", "   Bolo  ", "Bolo"},
		{"underscore kept", "kit_2", "kit_2"},
		{"empty", "", "sem_titulo"},
		{"only symbols", "***", "sem_titulo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeTitle(tt.input))
		})
	}
}

func TestSanitizeTitleTruncatesRunes(t *testing.T) {
	got := SanitizeTitle(strings.Repeat("ã", 80))
	assert.Equal(t, 50, len([]rune(got)))
}

func TestURLHash(t *testing.T) {
	h := URLHash("https://example.com/a.jpg")
	assert.Len(t, h, 8)
	assert.Equal(t, h, URLHash("https://example.com/a.jpg"))
	assert.NotEqual(t, h, URLHash("https://example.com/b.jpg"))
	assert.Equal(t, "d41d8cd9", URLHash(""))
}

func TestExtension(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://img.example.com/a/b/photo.webp", ".webp"},
		{"https://img.example.com/photo.png?w=200", ".png"},
		{"https://img.example.com/render?format=webp", ".webp"},
		{"https://img.example.com/render?fmt=jpeg", ".jpg"},
		{"https://img.example.com/render?type=png", ".png"},
		{"https://img.example.com/render", ".jpg"},
		{"https://img.example.com/v1.2/render", ".jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, Extension(tt.url))
		})
	}
}

func TestFileNameDeterministic(t *testing.T) {
	url := "https://img.example.com/D_Q_NP_2X_123-O.webp"

	name := FileName(url, "Cafeteira Elétrica 110v")

	assert.Equal(t, "Cafeteira-Elétrica-110v_"+URLHash(url)+".webp", name)
	assert.Equal(t, name, FileName(url, "Cafeteira Elétrica 110v"))
}
