package images

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const (
	maxTitleRunes = 50
	untitled      = "sem_titulo"
	defaultExt    = ".jpg"
)

var (
	disallowedTitleChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	separatorRuns        = regexp.MustCompile(`[-\s]+`)
	validExtension       = regexp.MustCompile(`^\.[A-Za-z0-9]{2,5}$`)
)

// FileName is stable for a given (url, title) pair.
func FileName(rawURL, title string) string {
	return SanitizeTitle(title) + "_" + URLHash(rawURL) + Extension(rawURL)
}

func SanitizeTitle(title string) string {
	s := disallowedTitleChars.ReplaceAllString(title, "")
	s = strings.TrimSpace(s)
	s = separatorRuns.ReplaceAllString(s, "-")

	if runes := []rune(s); len(runes) > maxTitleRunes {
		s = string(runes[:maxTitleRunes])
	}
	if s == "" {
		return untitled
	}
	return s
}

// URLHash is the first 8 hex characters of the md5 of the URL string.
func URLHash(rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:8]
}

func Extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}

	if ext := path.Ext(p); validExtension.MatchString(ext) {
		return ext
	}

	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "webp"):
		return ".webp"
	case strings.Contains(lower, "jpeg"), strings.Contains(lower, "jpg"):
		return ".jpg"
	case strings.Contains(lower, "png"):
		return ".png"
	}
	return defaultExt
}
