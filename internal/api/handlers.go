// Package api wires the HTTP surface of the raster service: catalog
// listing, health, and the tile proxy paths that resolve subdataset
// parameters into reader-ready locators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hrodmn/eoapi-subdataset-params/internal/logger"
	"github.com/hrodmn/eoapi-subdataset-params/internal/observability"
	"github.com/hrodmn/eoapi-subdataset-params/internal/pgstac"
	"github.com/hrodmn/eoapi-subdataset-params/internal/stac"
	"github.com/hrodmn/eoapi-subdataset-params/internal/subdataset"
)

// ItemSource resolves catalog items, typically through the item cache.
type ItemSource interface {
	Get(ctx context.Context, collection, item string) (*stac.Item, error)
}

// Catalog is the pgstac surface used directly by handlers.
type Catalog interface {
	Collections(ctx context.Context) ([]byte, error)
	MigrationsVersion(ctx context.Context, timeout time.Duration) (string, error)
}

// Forwarder proxies a request to the upstream tiler.
type Forwarder interface {
	ForwardCOG(w http.ResponseWriter, r *http.Request, rest, locator string)
	ForwardSTAC(w http.ResponseWriter, r *http.Request, rest, itemHref string, opts map[string]any)
}

type Handler struct {
	logger  *slog.Logger
	name    string
	items   ItemSource
	catalog Catalog
	tiler   Forwarder
}

func New(log *slog.Logger, name string, items ItemSource, catalog Catalog, tiler Forwarder) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{logger: log, name: name, items: items, catalog: catalog, tiler: tiler}
}

func (h *Handler) Mount(r chi.Router) {
	r.Get("/", h.observe("/", h.Landing))
	r.Get("/healthz", h.observe("/healthz", h.Healthz))
	r.Get("/collections", h.observe("/collections", h.Collections))
	r.Get("/collections/{collectionID}/items/{itemID}",
		h.observe("/collections/{collectionID}/items/{itemID}", h.ItemJSON))
	r.Get("/collections/{collectionID}/items/{itemID}/assets/{assetID}/*",
		h.observe("/collections/{collectionID}/items/{itemID}/assets/{assetID}", h.AssetProxy))
	r.Get("/collections/{collectionID}/items/{itemID}/*",
		h.observe("/collections/{collectionID}/items/{itemID}", h.ItemProxy))
	r.Get("/dataset/*", h.observe("/dataset", h.DatasetProxy))
}

// observe wraps a handler with request metrics under a stable route label.
func (h *Handler) observe(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		fn(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// DatasetProxy serves the external dataset path: the url parameter plus
// the optional subdataset selector become a VRT locator for the upstream
// /cog mount.
func (h *Handler) DatasetProxy(w http.ResponseWriter, r *http.Request) {
	p, err := parseDatasetParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.tiler.ForwardCOG(w, r, chi.URLParam(r, "*"), p.Selector.Locator(p.URL))
}

// AssetProxy resolves a catalog asset into a locator and forwards the
// tile request.
func (h *Handler) AssetProxy(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collectionID")
	itemID := chi.URLParam(r, "itemID")
	assetID := chi.URLParam(r, "assetID")

	ctx := logger.WithCollection(r.Context(), collectionID)
	ctx = logger.WithItem(ctx, itemID)

	item, err := h.items.Get(ctx, collectionID, itemID)
	if err != nil {
		h.itemError(ctx, w, err)
		return
	}
	asset, ok := item.Asset(assetID)
	if !ok {
		http.Error(w, "asset not found: "+assetID, http.StatusNotFound)
		return
	}

	sel, err := subdataset.ParseSelector(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	href := asset.ResolveHref(item.SelfHref())
	h.tiler.ForwardCOG(w, r, chi.URLParam(r, "*"), sel.Locator(href))
}

// ItemProxy serves item-level endpoints through the upstream /stac
// mount. The subdataset selector travels as reader options because that
// reader interprets subdatasets at open time rather than via the
// locator.
func (h *Handler) ItemProxy(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collectionID")
	itemID := chi.URLParam(r, "itemID")

	ctx := logger.WithCollection(r.Context(), collectionID)
	ctx = logger.WithItem(ctx, itemID)

	item, err := h.items.Get(ctx, collectionID, itemID)
	if err != nil {
		h.itemError(ctx, w, err)
		return
	}

	sel, err := subdataset.ParseSelector(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	href := item.SelfHref()
	if href == "" {
		// no self link in the catalog; point the upstream at our own
		// item JSON endpoint
		href = requestBaseURL(r) + "/collections/" + collectionID + "/items/" + itemID
	}
	h.tiler.ForwardSTAC(w, r, chi.URLParam(r, "*"), href, sel.ReaderOptions())
}

// ItemJSON returns the raw catalog item.
func (h *Handler) ItemJSON(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collectionID")
	itemID := chi.URLParam(r, "itemID")

	ctx := logger.WithCollection(r.Context(), collectionID)
	ctx = logger.WithItem(ctx, itemID)

	item, err := h.items.Get(ctx, collectionID, itemID)
	if err != nil {
		h.itemError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Collections lists the catalog collections.
func (h *Handler) Collections(w http.ResponseWriter, r *http.Request) {
	raw, err := h.catalog.Collections(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list collections failed", "err", err)
		http.Error(w, "catalog unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

// Healthz reports catalog connectivity; a degraded database is a payload
// field, not an error status.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	timeout := time.Duration(healthTimeoutSeconds(r)) * time.Second
	type health struct {
		DatabaseOnline bool   `json:"database_online"`
		PgstacVersion  string `json:"pgstac_version,omitempty"`
	}

	version, err := h.catalog.MigrationsVersion(r.Context(), timeout)
	if err != nil {
		h.logger.WarnContext(r.Context(), "health check failed", "err", err)
		writeJSON(w, http.StatusOK, health{DatabaseOnline: false})
		return
	}
	writeJSON(w, http.StatusOK, health{DatabaseOnline: true, PgstacVersion: version})
}

type link struct {
	Title     string `json:"title"`
	Href      string `json:"href"`
	Type      string `json:"type"`
	Rel       string `json:"rel"`
	Templated bool   `json:"templated,omitempty"`
}

// Landing returns the service links document.
func (h *Handler) Landing(w http.ResponseWriter, r *http.Request) {
	base := requestBaseURL(r)
	doc := struct {
		Title string `json:"title"`
		Links []link `json:"links"`
	}{
		Title: h.name,
		Links: []link{
			{Title: "Landing page", Href: base + "/", Type: "application/json", Rel: "self"},
			{Title: "Health check", Href: base + "/healthz", Type: "application/json", Rel: "health"},
			{Title: "Collection list", Href: base + "/collections", Type: "application/json", Rel: "data"},
			{
				Title: "Item asset tiles (template URL)",
				Href:  base + "/collections/{collection_id}/items/{item_id}/assets/{asset_id}/tiles/{z}/{x}/{y}",
				Type:  "image/png", Rel: "data", Templated: true,
			},
			{
				Title: "External dataset tiles (template URL)",
				Href:  base + "/dataset/tiles/{z}/{x}/{y}?url={dataset_url}",
				Type:  "image/png", Rel: "data", Templated: true,
			},
		},
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) itemError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, pgstac.ErrItemNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.ErrorContext(ctx, "item lookup failed", "err", err)
	http.Error(w, "catalog unavailable", http.StatusBadGateway)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}
