package parser

import "strings"

type ImageKind int

const (
	ImageAbsent ImageKind = iota
	ImageRealURL
	ImageDataURI
)

func (k ImageKind) String() string {
	switch k {
	case ImageRealURL:
		return "real_url"
	case ImageDataURI:
		return "data_uri"
	default:
		return "absent"
	}
}

// ImageRef is a classified image reference. Placeholder is only set for data
// URIs whose payload is one of the known lazy-load pixels.
type ImageRef struct {
	Kind        ImageKind
	Value       string
	Placeholder bool
}

const dataImagePrefix = "data:image/"

// Payloads (after the comma) that sites serve for every lazily loaded slot.
var placeholderPayloads = map[string]struct{}{
	"R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7":     {},
	"R0lGODlhAQABAAAAACH5BAEKAAEALAAAAAABAAEAAAICTAEAOw==":         {},
	"R0lGODlhAQABAIAAAP///wAAACH5BAEAAAAALAAAAAABAAEAAAICRAEAOw==": {},
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=": {},
}

// ClassifyImage is a pure function of raw; it never touches the network.
func ClassifyImage(raw string) ImageRef {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ImageRef{Kind: ImageAbsent}
	}

	if strings.HasPrefix(strings.ToLower(value), dataImagePrefix) {
		return ImageRef{
			Kind:        ImageDataURI,
			Value:       value,
			Placeholder: isPlaceholderPayload(value),
		}
	}

	return ImageRef{Kind: ImageRealURL, Value: value}
}

// IsRealImage is an accept func for image chains that must skip placeholders.
func IsRealImage(raw string) bool {
	return ClassifyImage(raw).Kind == ImageRealURL
}

func isPlaceholderPayload(dataURI string) bool {
	i := strings.Index(dataURI, ",")
	if i < 0 {
		return false
	}
	_, ok := placeholderPayloads[dataURI[i+1:]]
	return ok
}
