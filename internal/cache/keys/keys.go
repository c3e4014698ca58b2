// Package keys builds cache keys for STAC item lookups. Identifiers are
// sanitized for readability and suffixed with a hash of the raw values so
// sanitization can never collide two distinct items.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const itemPrefix = "item:"

// keep keys short even for hostile identifiers
const maxSegmentLen = 64

func Item(collection, item string) string {
	sum := xxhash.Sum64String(collection + "\x00" + item)
	return fmt.Sprintf("%s%s:%s:%016x",
		itemPrefix, sanitize(collection), sanitize(item), sum)
}

// CollectionPrefix returns the key prefix shared by every item of a
// collection, used for prefix invalidation.
func CollectionPrefix(collection string) string {
	return itemPrefix + sanitize(collection) + ":"
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// Any other rune (including ':' and non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	out := b.String()
	if len(out) > maxSegmentLen {
		out = out[:maxSegmentLen]
	}
	return out
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
