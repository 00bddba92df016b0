package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"divisa/internal/domain/model"
)

type Strategy string

const (
	CacheFirst   Strategy = "cache-first"
	NetworkFirst Strategy = "network-first"
	Passthrough  Strategy = "passthrough"
)

// SourceHeader tells the page where a response came from.
const SourceHeader = "X-Cache-Source"

const (
	sourceCache   = "cache"
	sourceNetwork = "network"
)

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Route picks the strategy for a request. Precedence: static asset
// destinations and the manifest, then API routes, then the document,
// then everything else.
func (w *Worker) Route(r *http.Request) Strategy {
	p := r.URL.Path

	switch destination(r) {
	case "style", "script", "image":
		return CacheFirst
	}
	if p == w.cfg.ManifestPath {
		return CacheFirst
	}
	for _, prefix := range w.cfg.APIRoutes {
		if strings.HasPrefix(p, prefix) {
			return NetworkFirst
		}
	}
	for _, doc := range w.cfg.DocumentPaths {
		if p == doc {
			return CacheFirst
		}
	}
	return NetworkFirst
}

// destination reads Sec-Fetch-Dest and falls back to the file extension
// for clients that do not send it.
func destination(r *http.Request) string {
	if d := r.Header.Get("Sec-Fetch-Dest"); d != "" {
		return strings.ToLower(d)
	}
	switch strings.ToLower(path.Ext(r.URL.Path)) {
	case ".css":
		return "style"
	case ".js", ".mjs":
		return "script"
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico", ".avif":
		return "image"
	}
	return ""
}

// Fetch answers a request the way the worker's fetch handler does and
// reports where the response came from.
func (w *Worker) Fetch(r *http.Request) (*http.Response, Strategy, error) {
	if !w.Controlling() {
		resp, err := w.fetch(r)
		return resp, Passthrough, err
	}

	strategy := w.Route(r)
	var (
		resp *http.Response
		err  error
	)
	switch strategy {
	case CacheFirst:
		resp, err = w.cacheFirst(r)
	default:
		resp, err = w.networkFirst(r)
	}
	if err == nil {
		if resp.Header == nil {
			resp.Header = make(http.Header)
		}
		if resp.Header.Get(SourceHeader) == "" {
			resp.Header.Set(SourceHeader, sourceNetwork)
		}
	}
	return resp, strategy, err
}

func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	resp, strategy, err := w.Fetch(r)
	if err != nil {
		w.log.Warn("Fetch failed", "method", r.Method, "path", r.URL.Path, "strategy", strategy, "error", err)
		writeError(rw, http.StatusBadGateway, fmt.Errorf("%w: %v", ErrUpstreamFailure, err))
		return
	}
	defer resp.Body.Close()

	header := rw.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Set("X-Worker-Strategy", string(strategy))
	rw.WriteHeader(resp.StatusCode)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(rw, resp.Body); err != nil {
		w.log.Debug("Failed to write response body", "path", r.URL.Path, "error", err)
	}
}

func (w *Worker) cacheFirst(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	key := cacheKey(r)

	if r.Method == http.MethodGet {
		if entry, ok := w.match(ctx, key); ok {
			w.countLookup(CacheFirst, "hit")
			return fromCache(entry, r), nil
		}
		w.countLookup(CacheFirst, "miss")
	}

	resp, err := w.fetch(r)
	if err != nil {
		w.countNetworkFailure()
		return nil, err
	}
	if r.Method == http.MethodGet && isOK(resp) {
		w.store(ctx, w.cfg.StaticCache, key, resp)
	}
	return resp, nil
}

// networkFirst goes to the network and stores good responses. Only a
// transport failure falls back to the cache; non-2xx responses are
// returned untouched and never stored.
func (w *Worker) networkFirst(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	key := cacheKey(r)

	resp, err := w.fetch(r)
	if err == nil {
		if r.Method == http.MethodGet && isOK(resp) {
			w.store(ctx, w.cfg.DynamicCache, key, resp)
		}
		return resp, nil
	}
	w.countNetworkFailure()

	if r.Method == http.MethodGet {
		if entry, ok := w.match(context.WithoutCancel(ctx), key); ok {
			w.countLookup(NetworkFirst, "hit")
			w.countFallback()
			w.log.Info("Network failed, serving cached response", "url", key, "error", err)
			return fromCache(entry, r), nil
		}
		w.countLookup(NetworkFirst, "miss")
	}
	return nil, err
}

func (w *Worker) match(ctx context.Context, key string) (*model.CacheEntry, bool) {
	entry, ok, err := w.storage.Match(ctx, key)
	if err != nil {
		w.log.Error("Cache lookup failed", "url", key, "error", err)
		return nil, false
	}
	return entry, ok
}

// store keeps a copy of resp in the named cache. Failures are logged
// and never reach the caller.
func (w *Worker) store(ctx context.Context, cacheName, key string, resp *http.Response) {
	body, err := cloneBody(resp)
	if err != nil {
		w.log.Error("Failed to read response for caching", "url", key, "error", err)
		resp.Body = io.NopCloser(strings.NewReader(""))
		return
	}

	c, err := w.storage.Open(ctx, cacheName)
	if err != nil {
		w.log.Error("Failed to open cache", "cache", cacheName, "error", err)
		return
	}
	if err := c.Put(ctx, model.NewCacheEntry(key, resp.StatusCode, resp.Header, body)); err != nil {
		w.log.Error("Failed to store response", "cache", cacheName, "url", key, "error", err)
		return
	}
	w.countStore(cacheName, 1)
}

// fetch forwards r to the upstream origin.
func (w *Worker) fetch(r *http.Request) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, w.upstreamURL(r.URL.RequestURI()), r.Body)
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	req.ContentLength = r.ContentLength
	return w.fetcher.Do(req)
}

func (w *Worker) upstreamURL(requestURI string) string {
	if !strings.HasPrefix(requestURI, "/") {
		requestURI = "/" + requestURI
	}
	return w.upstream.String() + requestURI
}

func cacheKey(r *http.Request) string {
	return r.URL.RequestURI()
}

func isOK(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func fromCache(entry *model.CacheEntry, r *http.Request) *http.Response {
	resp := entry.Response(r)
	resp.Header.Set(SourceHeader, sourceCache)
	return resp
}

func writeError(rw http.ResponseWriter, status int, err error) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(model.NewErrorResult(err))
}

func (w *Worker) countLookup(s Strategy, result string) {
	if w.metrics != nil {
		w.metrics.CacheLookupsTotal.WithLabelValues(string(s), result).Inc()
	}
}

func (w *Worker) countStore(cacheName string, n int) {
	if w.metrics != nil {
		w.metrics.CacheStoresTotal.WithLabelValues(cacheName).Add(float64(n))
	}
}

func (w *Worker) countFallback() {
	if w.metrics != nil {
		w.metrics.CacheFallbacksTotal.Inc()
	}
}

func (w *Worker) countNetworkFailure() {
	if w.metrics != nil {
		w.metrics.NetworkFailuresTotal.Inc()
	}
}
