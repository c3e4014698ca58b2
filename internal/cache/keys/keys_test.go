package keys

import (
	"strings"
	"testing"
)

func TestItem_StableAndDistinct(t *testing.T) {
	a := Item("landsat-c2l2", "LC08_001")
	b := Item("landsat-c2l2", "LC08_001")
	if a != b {
		t.Fatalf("key not stable: %q vs %q", a, b)
	}
	if a == Item("landsat-c2l2", "LC08_002") {
		t.Fatal("distinct items share a key")
	}
	if a == Item("sentinel-2", "LC08_001") {
		t.Fatal("distinct collections share a key")
	}
}

func TestItem_SanitizationCannotCollide(t *testing.T) {
	// both sanitize to the same readable form; the hash must differ
	a := Item("col", "a/b")
	b := Item("col", "a:b")
	if a == b {
		t.Fatalf("sanitized collision: %q", a)
	}
}

func TestItem_HasCollectionPrefix(t *testing.T) {
	k := Item("landsat-c2l2", "LC08_001")
	if !strings.HasPrefix(k, CollectionPrefix("landsat-c2l2")) {
		t.Fatalf("key %q missing prefix %q", k, CollectionPrefix("landsat-c2l2"))
	}
}

func TestSanitize_Hostile(t *testing.T) {
	k := Item("we ird\ncol", strings.Repeat("x", 500))
	if strings.ContainsAny(k, " \n") {
		t.Fatalf("whitespace leaked into key %q", k)
	}
	if len(k) > 2*maxSegmentLen+40 {
		t.Fatalf("key too long: %d", len(k))
	}
}
