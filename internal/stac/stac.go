// Package stac defines the slice of the STAC item model this service
// reads, plus asset href resolution.
package stac

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

type Link struct {
	Rel   string `json:"rel"`
	Href  string `json:"href"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

type Asset struct {
	Href  string   `json:"href"`
	Type  string   `json:"type,omitempty"`
	Title string   `json:"title,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

type Item struct {
	ID         string           `json:"id"`
	Collection string           `json:"collection"`
	Assets     map[string]Asset `json:"assets"`
	Links      []Link           `json:"links"`
}

func ParseItem(raw []byte) (*Item, error) {
	var it Item
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, fmt.Errorf("parse stac item: %w", err)
	}
	return &it, nil
}

// SelfHref returns the item's self link, or "" when the catalog did not
// record one.
func (i *Item) SelfHref() string {
	for _, l := range i.Links {
		if l.Rel == "self" {
			return l.Href
		}
	}
	return ""
}

func (i *Item) Asset(id string) (Asset, bool) {
	a, ok := i.Assets[id]
	return a, ok
}

// ResolveHref returns the absolute form of the asset href when one can be
// derived, else the raw href unchanged. Absolute hrefs win because a
// relative href cannot be opened without catalog context.
func (a Asset) ResolveHref(base string) string {
	if isAbsolute(a.Href) {
		return a.Href
	}
	if base != "" {
		if abs := resolveAgainst(base, a.Href); abs != "" {
			return abs
		}
	}
	return a.Href
}

// absolute means a URL with a scheme (https, s3, ...) or a rooted path
func isAbsolute(href string) bool {
	if strings.HasPrefix(href, "/") {
		return true
	}
	u, err := url.Parse(href)
	return err == nil && u.IsAbs()
}

func resolveAgainst(base, href string) string {
	bu, err := url.Parse(base)
	if err != nil || !bu.IsAbs() {
		return ""
	}
	ru, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return bu.ResolveReference(ru).String()
}
