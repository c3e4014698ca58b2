// Package subdataset turns optional subdataset selectors into either a
// VRT locator string or a reader options bag, depending on which of the
// two the consuming reader understands.
package subdataset

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Downstream readers match on these prefixes exactly.
const (
	// VRTPrefix marks the opening string as a virtual dataset recipe.
	VRTPrefix = "vrt://"
	// VSICurlPrefix routes the inner path through the network-transparent
	// virtual filesystem instead of local disk.
	VSICurlPrefix = "/vsicurl/"
)

// Selector names a sub-resource inside a multi-layer raster. Both fields
// are optional and independent.
type Selector struct {
	Name  string
	Bands []int
}

func (s Selector) IsZero() bool {
	return s.Name == "" && len(s.Bands) == 0
}

// Locator rewrites base into a VRT recipe carrying the selector. An empty
// selector returns base unchanged. Commas in the band list stay literal;
// the vrt query parser expects them unencoded.
func (s Selector) Locator(base string) string {
	if s.IsZero() {
		return base
	}

	parts := make([]string, 0, 2)
	if s.Name != "" {
		parts = append(parts, "sd_name="+escapeQuery(s.Name))
	}
	if len(s.Bands) > 0 {
		parts = append(parts, "bands="+joinBands(s.Bands))
	}
	return VRTPrefix + VSICurlPrefix + base + "?" + strings.Join(parts, "&")
}

// ReaderOptions renders the selector as constructor options for readers
// that interpret subdatasets at open time rather than via the locator.
func (s Selector) ReaderOptions() map[string]any {
	opts := map[string]any{}
	if s.Name != "" {
		opts["subdataset_name"] = s.Name
	}
	if len(s.Bands) > 0 {
		opts["subdataset_bands"] = s.Bands
	}
	return opts
}

// ParseSelector reads subdataset_name and repeated subdataset_bands query
// parameters. Band values must be positive integers.
func ParseSelector(q url.Values) (Selector, error) {
	s := Selector{Name: strings.TrimSpace(q.Get("subdataset_name"))}

	raw := q["subdataset_bands"]
	if len(raw) == 0 {
		return s, nil
	}
	bands := make([]int, 0, len(raw))
	for _, v := range raw {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Selector{}, fmt.Errorf("invalid subdataset_bands value %q: %w", v, err)
		}
		if n <= 0 {
			return Selector{}, errors.New("subdataset_bands values must be positive integers")
		}
		bands = append(bands, n)
	}
	s.Bands = bands
	return s, nil
}

func joinBands(bands []int) string {
	var b strings.Builder
	for i, n := range bands {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// escapeQuery percent-encodes a query value but keeps commas literal.
func escapeQuery(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "%2C", ",")
}
