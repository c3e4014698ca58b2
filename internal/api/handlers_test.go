package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hrodmn/eoapi-subdataset-params/internal/pgstac"
	"github.com/hrodmn/eoapi-subdataset-params/internal/stac"
)

type fakeItems struct {
	items map[string]*stac.Item
}

func (f *fakeItems) Get(_ context.Context, collection, item string) (*stac.Item, error) {
	it, ok := f.items[collection+"/"+item]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, item, pgstac.ErrItemNotFound)
	}
	return it, nil
}

type fakeCatalog struct {
	collections []byte
	version     string
	err         error
}

func (f *fakeCatalog) Collections(context.Context) ([]byte, error) {
	return f.collections, f.err
}

func (f *fakeCatalog) MigrationsVersion(context.Context, time.Duration) (string, error) {
	return f.version, f.err
}

type forwardCall struct {
	mount   string
	rest    string
	locator string
	opts    map[string]any
}

type fakeForwarder struct {
	calls []forwardCall
}

func (f *fakeForwarder) ForwardCOG(w http.ResponseWriter, _ *http.Request, rest, locator string) {
	f.calls = append(f.calls, forwardCall{mount: "cog", rest: rest, locator: locator})
	w.WriteHeader(http.StatusOK)
}

func (f *fakeForwarder) ForwardSTAC(w http.ResponseWriter, _ *http.Request, rest, itemHref string, opts map[string]any) {
	f.calls = append(f.calls, forwardCall{mount: "stac", rest: rest, locator: itemHref, opts: opts})
	w.WriteHeader(http.StatusOK)
}

func testItem() *stac.Item {
	return &stac.Item{
		ID:         "item-1",
		Collection: "col",
		Assets: map[string]stac.Asset{
			"cog": {Href: "./b04.tif"},
			"abs": {Href: "s3://bucket/b04.tif"},
		},
		Links: []stac.Link{
			{Rel: "self", Href: "https://stac.example.com/collections/col/items/item-1"},
		},
	}
}

func newRouter(items *fakeItems, catalog *fakeCatalog, fwd *fakeForwarder) chi.Router {
	h := New(nil, "eoapi-raster", items, catalog, fwd)
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

func get(t *testing.T, r chi.Router, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestDatasetProxy_RequiresURL(t *testing.T) {
	r := newRouter(&fakeItems{}, &fakeCatalog{}, &fakeForwarder{})
	rr := get(t, r, "/dataset/tiles/1/2/3")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestDatasetProxy_BuildsLocator(t *testing.T) {
	fwd := &fakeForwarder{}
	r := newRouter(&fakeItems{}, &fakeCatalog{}, fwd)

	rr := get(t, r, "/dataset/tiles/1/2/3?url=s3://bucket/a.tif&subdataset_name=sd1&subdataset_bands=1&subdataset_bands=2")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if len(fwd.calls) != 1 {
		t.Fatalf("forward calls = %d", len(fwd.calls))
	}
	c := fwd.calls[0]
	if c.mount != "cog" || c.rest != "tiles/1/2/3" {
		t.Fatalf("call = %+v", c)
	}
	if c.locator != "vrt:///vsicurl/s3://bucket/a.tif?sd_name=sd1&bands=1,2" {
		t.Fatalf("locator = %q", c.locator)
	}
}

func TestDatasetProxy_NoSelectorLeavesURLUnchanged(t *testing.T) {
	fwd := &fakeForwarder{}
	r := newRouter(&fakeItems{}, &fakeCatalog{}, fwd)

	rr := get(t, r, "/dataset/info?url=s3://bucket/a.tif")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if fwd.calls[0].locator != "s3://bucket/a.tif" {
		t.Fatalf("locator = %q", fwd.calls[0].locator)
	}
}

func TestDatasetProxy_BadBandsIs400(t *testing.T) {
	r := newRouter(&fakeItems{}, &fakeCatalog{}, &fakeForwarder{})
	rr := get(t, r, "/dataset/info?url=s3://b/a.tif&subdataset_bands=red")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAssetProxy_ResolvesRelativeHref(t *testing.T) {
	fwd := &fakeForwarder{}
	items := &fakeItems{items: map[string]*stac.Item{"col/item-1": testItem()}}
	r := newRouter(items, &fakeCatalog{}, fwd)

	rr := get(t, r, "/collections/col/items/item-1/assets/cog/tiles/1/2/3?subdataset_bands=4")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	c := fwd.calls[0]
	want := "vrt:///vsicurl/https://stac.example.com/collections/col/items/b04.tif?bands=4"
	if c.locator != want {
		t.Fatalf("locator = %q want %q", c.locator, want)
	}
}

func TestAssetProxy_AbsoluteHrefWins(t *testing.T) {
	fwd := &fakeForwarder{}
	items := &fakeItems{items: map[string]*stac.Item{"col/item-1": testItem()}}
	r := newRouter(items, &fakeCatalog{}, fwd)

	rr := get(t, r, "/collections/col/items/item-1/assets/abs/info")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if fwd.calls[0].locator != "s3://bucket/b04.tif" {
		t.Fatalf("locator = %q", fwd.calls[0].locator)
	}
}

func TestAssetProxy_MissingItemIs404(t *testing.T) {
	r := newRouter(&fakeItems{}, &fakeCatalog{}, &fakeForwarder{})
	rr := get(t, r, "/collections/col/items/nope/assets/cog/info")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAssetProxy_MissingAssetIs404(t *testing.T) {
	items := &fakeItems{items: map[string]*stac.Item{"col/item-1": testItem()}}
	r := newRouter(items, &fakeCatalog{}, &fakeForwarder{})
	rr := get(t, r, "/collections/col/items/item-1/assets/nope/info")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestItemProxy_ForwardsReaderOptions(t *testing.T) {
	fwd := &fakeForwarder{}
	items := &fakeItems{items: map[string]*stac.Item{"col/item-1": testItem()}}
	r := newRouter(items, &fakeCatalog{}, fwd)

	rr := get(t, r, "/collections/col/items/item-1/tiles/1/2/3?subdataset_name=sd1&subdataset_bands=5")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	c := fwd.calls[0]
	if c.mount != "stac" || c.rest != "tiles/1/2/3" {
		t.Fatalf("call = %+v", c)
	}
	if c.locator != "https://stac.example.com/collections/col/items/item-1" {
		t.Fatalf("item href = %q", c.locator)
	}
	if c.opts["subdataset_name"] != "sd1" || !reflect.DeepEqual(c.opts["subdataset_bands"], []int{5}) {
		t.Fatalf("opts = %v", c.opts)
	}
}

func TestItemProxy_NoSelectorMeansEmptyOptions(t *testing.T) {
	fwd := &fakeForwarder{}
	items := &fakeItems{items: map[string]*stac.Item{"col/item-1": testItem()}}
	r := newRouter(items, &fakeCatalog{}, fwd)

	rr := get(t, r, "/collections/col/items/item-1/info")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(fwd.calls[0].opts) != 0 {
		t.Fatalf("opts = %v, want empty", fwd.calls[0].opts)
	}
}

func TestItemJSON(t *testing.T) {
	items := &fakeItems{items: map[string]*stac.Item{"col/item-1": testItem()}}
	r := newRouter(items, &fakeCatalog{}, &fakeForwarder{})

	rr := get(t, r, "/collections/col/items/item-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var it stac.Item
	if err := json.Unmarshal(rr.Body.Bytes(), &it); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if it.ID != "item-1" {
		t.Fatalf("item id = %q", it.ID)
	}
}

func TestCollections_Passthrough(t *testing.T) {
	catalog := &fakeCatalog{collections: []byte(`[{"id":"col"}]`)}
	r := newRouter(&fakeItems{}, catalog, &fakeForwarder{})

	rr := get(t, r, "/collections")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.String() != `[{"id":"col"}]` {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestHealthz_Online(t *testing.T) {
	r := newRouter(&fakeItems{}, &fakeCatalog{version: "0.8.5"}, &fakeForwarder{})

	rr := get(t, r, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"database_online":true`) ||
		!strings.Contains(rr.Body.String(), "0.8.5") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestHealthz_DegradedStays200(t *testing.T) {
	r := newRouter(&fakeItems{}, &fakeCatalog{err: fmt.Errorf("pool timeout")}, &fakeForwarder{})

	rr := get(t, r, "/healthz?timeout=2")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"database_online":false`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestLanding_Links(t *testing.T) {
	r := newRouter(&fakeItems{}, &fakeCatalog{}, &fakeForwarder{})

	rr := get(t, r, "/")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"eoapi-raster", "/collections", "/healthz", "/dataset"} {
		if !strings.Contains(body, want) {
			t.Fatalf("landing missing %q: %s", want, body)
		}
	}
}

func TestHealthTimeoutSeconds(t *testing.T) {
	cases := map[string]int{"": 1, "5": 5, "0": 1, "abc": 1, "999": 60}
	for raw, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/healthz?timeout="+raw, nil)
		if got := healthTimeoutSeconds(req); got != want {
			t.Fatalf("timeout %q: got %d want %d", raw, got, want)
		}
	}
}
