// Package tiler forwards tile requests to the upstream dynamic tiler,
// carrying the resolved locator or reader options in the query string.
package tiler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hrodmn/eoapi-subdataset-params/internal/observability"
)

// Mount points on the upstream tiler.
const (
	cogMount  = "/cog"
	stacMount = "/stac"
)

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	baseURL  *url.URL
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, base string) (*Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse tiler url: %w", err)
	}
	return &Executor{
		logger:   logger,
		client:   client,
		baseURL:  u,
		startNow: time.Now,
	}, nil
}

// ForwardCOG proxies rest onto the upstream /cog mount, replacing the url
// query parameter with the resolved locator. Renderer parameters pass
// through untouched.
func (e *Executor) ForwardCOG(w http.ResponseWriter, r *http.Request, rest, locator string) {
	q := passthroughQuery(r.URL.Query())
	q.Set("url", locator)
	e.forward(w, r, cogMount, rest, q)
}

// ForwardSTAC proxies rest onto the upstream /stac mount with the item
// href and the reader options re-encoded as query parameters.
func (e *Executor) ForwardSTAC(w http.ResponseWriter, r *http.Request, rest, itemHref string, opts map[string]any) {
	q := passthroughQuery(r.URL.Query())
	q.Set("url", itemHref)
	for k, v := range optionValues(opts) {
		q[k] = v
	}
	e.forward(w, r, stacMount, rest, q)
}

func (e *Executor) forward(w http.ResponseWriter, r *http.Request, mount, rest string, q url.Values) {
	upPath := joinPath(e.baseURL.Path, mount, rest)
	start := e.startNow()

	rt := http.RoundTripper(http.DefaultTransport)
	if e.client != nil && e.client.Transport != nil {
		rt = e.client.Transport
	}

	proxy := &httputil.ReverseProxy{
		Transport: rt,

		Rewrite: func(p *httputil.ProxyRequest) {
			p.Out.URL.Scheme = e.baseURL.Scheme
			p.Out.URL.Host = e.baseURL.Host
			p.Out.URL.Path = upPath
			p.Out.URL.RawPath = ""
			p.Out.URL.RawQuery = q.Encode()
			p.Out.Host = e.baseURL.Host
			p.SetXForwarded()
		},

		ModifyResponse: func(resp *http.Response) error {
			dur := time.Since(start)
			e.logger.Debug("forward done",
				"status", resp.StatusCode,
				"duration", dur.String())
			observability.ObserveUpstreamLatency("tiler", dur.Seconds())
			return nil
		},

		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			e.logger.Error("reverse proxy error", "err", err)
			http.Error(w, "upstream tiler error: "+err.Error(), http.StatusBadGateway)
		},
	}

	e.logger.Debug("forward tile request", "mount", mount, "path", upPath)
	proxy.ServeHTTP(w, r)
}

// passthroughQuery copies the inbound query minus the parameters this
// service consumes itself.
func passthroughQuery(in url.Values) url.Values {
	out := url.Values{}
	for k, vs := range in {
		switch k {
		case "url", "subdataset_name", "subdataset_bands":
			continue
		}
		out[k] = vs
	}
	return out
}

func optionValues(opts map[string]any) url.Values {
	v := url.Values{}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch t := opts[k].(type) {
		case string:
			v.Set(k, t)
		case []int:
			for _, n := range t {
				v.Add(k, strconv.Itoa(n))
			}
		default:
			v.Set(k, fmt.Sprint(t))
		}
	}
	return v
}

func joinPath(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(p)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}
