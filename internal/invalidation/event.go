// Package invalidation defines the STAC change event consumed to purge
// the item cache.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

// Event describes a catalog change. An empty Item means the whole
// collection changed.
type Event struct {
	Version    int       `json:"version"`
	Op         string    `json:"op"`
	Collection string    `json:"collection"`
	Item       string    `json:"item,omitempty"`
	TS         time.Time `json:"ts"`
	Source     string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return fmt.Errorf("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Collection) == "" {
		return fmt.Errorf("collection is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// CollectionWide reports whether the event targets every item of the
// collection.
func (e Event) CollectionWide() bool {
	return strings.TrimSpace(e.Item) == ""
}
