package cache

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// DocumentKey identifies a cached service metadata document.
type DocumentKey struct {
	// Endpoint is the service base URL.
	Endpoint string

	// Request is the document kind, e.g. "capabilities" or "describe".
	Request string

	// Layer is the feature type name for per-layer documents, empty for
	// service-wide ones.
	Layer string
}

// String generates a deterministic cache key string.
// Format: wfs:request[:layer]:endpointdigest
//
// Example:
//
//	wfs:describe:plandata-theme_pdk_lokalplan:6f2a01c4d7e8b4a1
func (k DocumentKey) String() string {
	parts := []string{"wfs", k.Request}
	if k.Layer != "" {
		parts = append(parts, sanitize(k.Layer))
	}
	parts = append(parts, fmt.Sprintf("%016x", xxhash.Sum64String(k.Endpoint)))
	return strings.Join(parts, ":")
}

// sanitize maps a layer name onto the character set used in Redis keys.
// Runs of replaced characters collapse to one.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := r
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			// keep
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
