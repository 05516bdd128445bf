package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Each pattern matches one whole "&"-separated query parameter.
var imageParamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^w=\d+$`),
	regexp.MustCompile(`^h=\d+$`),
	regexp.MustCompile(`^size=\d+$`),
	regexp.MustCompile(`^quality=\d+$`),
	regexp.MustCompile(`^D_Q_NP_\d+(=.*)?$`),
}

var trailingSeparators = regexp.MustCompile(`[?&]+$`)

// CleanImageURL strips resizing and quality parameters from an image URL so
// the same asset always maps to the same address. Other parameters are kept
// byte for byte and in order.
func CleanImageURL(raw string) string {
	if raw == "" {
		return raw
	}

	prefix, query, hasQuery := strings.Cut(raw, "?")
	if !hasQuery {
		return trailingSeparators.ReplaceAllString(raw, "")
	}

	var kept []string
	for _, param := range strings.Split(query, "&") {
		if param != "" && !isImageParam(param) {
			kept = append(kept, param)
		}
	}

	if len(kept) == 0 {
		return trailingSeparators.ReplaceAllString(prefix, "")
	}
	return prefix + "?" + strings.Join(kept, "&")
}

func isImageParam(param string) bool {
	for _, pattern := range imageParamPatterns {
		if pattern.MatchString(param) {
			return true
		}
	}
	return false
}

// ResolveURL resolves ref against base using RFC 3986 reference resolution.
func ResolveURL(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid reference %q: %w", ref, err)
	}

	if base == "" {
		return refURL.String(), nil
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base %q: %w", base, err)
	}

	return baseURL.ResolveReference(refURL).String(), nil
}

// sameURL compares two URLs ignoring fragments and a trailing slash.
func sameURL(a, b string) bool {
	normalize := func(s string) string {
		if i := strings.Index(s, "#"); i >= 0 {
			s = s[:i]
		}
		return strings.TrimSuffix(s, "/")
	}
	return normalize(a) == normalize(b)
}
