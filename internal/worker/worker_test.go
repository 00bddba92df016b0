package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divisa/internal/adapter/cache"
	"divisa/internal/domain/model"
	"divisa/internal/metrics"
	"divisa/pkg/logger"
)

var errNetworkDown = errors.New("network down")

type fakeResponse struct {
	status      int
	body        string
	contentType string
}

// fakeOrigin stands in for the upstream front end.
type fakeOrigin struct {
	mu        sync.Mutex
	offline   bool
	calls     map[string]int
	responses map[string]fakeResponse
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{
		calls: make(map[string]int),
		responses: map[string]fakeResponse{
			"/":                              {200, "<html>shell</html>", "text/html"},
			"/index.html":                    {200, "<html>shell</html>", "text/html"},
			"/static/manifest.json":          {200, `{"name":"DivisaAPI"}`, "application/manifest+json"},
			"/static/icons/icon-192x192.png": {200, "png192", "image/png"},
			"/static/icons/icon-512x512.png": {200, "png512", "image/png"},
			"/static/css/app.css":            {200, "body{}", "text/css"},
			"/static/js/app.js":              {200, "console.log('app')", "application/javascript"},
			"/api/rates":                     {200, `{"success":true,"data":{"rates":{"USD":{"rate":36.5}}}}`, "application/json"},
			"/api/status":                    {500, `{"error":"db down"}`, "application/json"},
			"/api/update":                    {200, `{"success":true,"message":"ok"}`, "application/json"},
			"/about":                         {200, "about", "text/html"},
		},
	}
}

func (f *fakeOrigin) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.offline {
		return nil, errNetworkDown
	}
	key := req.Method + " " + req.URL.RequestURI()
	f.calls[key]++

	r, ok := f.responses[req.URL.Path]
	if !ok {
		r = fakeResponse{404, "not found", "text/plain"}
	}
	header := http.Header{}
	header.Set("Content-Type", r.contentType)
	return &http.Response{
		StatusCode: r.status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Request:    req,
	}, nil
}

func (f *fakeOrigin) setOffline(v bool) {
	f.mu.Lock()
	f.offline = v
	f.mu.Unlock()
}

func (f *fakeOrigin) callCount(method, uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method+" "+uri]
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []any
}

func (b *recordingBroadcaster) Broadcast(msg any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
	return 1
}

func (b *recordingBroadcaster) messages() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.msgs...)
}

func testConfig() Config {
	return Config{
		CacheName:    "divisa-api-v1.1.0",
		StaticCache:  "divisa-static-v1.1.0",
		DynamicCache: "divisa-dynamic-v1.1.0",
		StaticFiles: []string{
			"/",
			"/static/manifest.json",
			"/static/icons/icon-192x192.png",
			"/static/icons/icon-512x512.png",
			"/static/css/app.css",
			"/static/js/app.js",
		},
		APIRoutes:     []string{"/api/rates", "/api/status", "/api/health"},
		ManifestPath:  "/static/manifest.json",
		DocumentPaths: []string{"/", "/index.html"},
	}
}

type fixture struct {
	worker  *Worker
	origin  *fakeOrigin
	storage *cache.MemoryStorage
	clients *recordingBroadcaster
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		origin:  newFakeOrigin(),
		storage: cache.NewMemoryStorage(logger.Discard()),
		clients: &recordingBroadcaster{},
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
	}
	w, err := New(testConfig(), "http://origin.test", f.storage, logger.Discard(),
		WithFetcher(f.origin), WithBroadcaster(f.clients), WithMetrics(f.metrics))
	require.NoError(t, err)
	f.worker = w
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.worker.Start(context.Background()))
}

func (f *fixture) get(t *testing.T, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.worker.ServeHTTP(rec, req)
	return rec
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicCache = cfg.StaticCache
	_, err := New(cfg, "http://origin.test", cache.NewMemoryStorage(logger.Discard()), logger.Discard())
	assert.Error(t, err)

	_, err = New(testConfig(), "origin", cache.NewMemoryStorage(logger.Discard()), logger.Discard())
	assert.Error(t, err)
}

func TestWorker_StartInstallsAndActivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, StateParsed, f.worker.State())
	assert.False(t, f.worker.Controlling())

	f.start(t)

	assert.Equal(t, StateActivated, f.worker.State())
	assert.True(t, f.worker.Controlling())

	static, err := f.storage.Open(ctx, "divisa-static-v1.1.0")
	require.NoError(t, err)
	keys, err := static.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, testConfig().StaticFiles, keys)

	assert.Equal(t, 6.0, testutil.ToFloat64(f.metrics.CacheStoresTotal.WithLabelValues("divisa-static-v1.1.0")))
}

func TestWorker_InstallIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	delete(f.origin.responses, "/static/icons/icon-512x512.png")

	err := f.worker.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInstallFailed)
	assert.Equal(t, StateRedundant, f.worker.State())
	assert.False(t, f.worker.Controlling())

	has, err := f.storage.Has(ctx, "divisa-static-v1.1.0")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestWorker_InstallFailsOffline(t *testing.T) {
	f := newFixture(t)
	f.origin.setOffline(true)

	err := f.worker.Install(context.Background())
	assert.ErrorIs(t, err, ErrInstallFailed)

	// A later install can succeed.
	f.origin.setOffline(false)
	require.NoError(t, f.worker.Install(context.Background()))
	assert.Equal(t, StateInstalled, f.worker.State())
}

func TestWorker_ActivateDeletesStaleCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"divisa-static-v1.0.0", "divisa-dynamic-v1.1.0", "divisa-dynamic-v1.0.0"} {
		_, err := f.storage.Open(ctx, name)
		require.NoError(t, err)
	}

	require.NoError(t, f.worker.Install(ctx))
	assert.Equal(t, StateInstalled, f.worker.State())
	assert.False(t, f.worker.Controlling())

	deleted, err := f.worker.Activate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"divisa-static-v1.0.0", "divisa-dynamic-v1.0.0"}, deleted)

	names, err := f.storage.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"divisa-dynamic-v1.1.0", "divisa-static-v1.1.0"}, names)
	assert.True(t, f.worker.Controlling())

	_, err = f.worker.Activate(ctx)
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestWorker_Route(t *testing.T) {
	f := newFixture(t)

	testCases := []struct {
		name     string
		target   string
		dest     string
		expected Strategy
	}{
		{"script destination", "/static/js/app.js", "script", CacheFirst},
		{"style by extension", "/static/css/app.css", "", CacheFirst},
		{"image by extension", "/static/icons/icon-192x192.png", "", CacheFirst},
		{"manifest", "/static/manifest.json", "", CacheFirst},
		{"image destination wins over api prefix", "/api/rates/chart", "image", CacheFirst},
		{"api route", "/api/rates", "", NetworkFirst},
		{"api route prefix", "/api/rates/USD", "empty", NetworkFirst},
		{"api status", "/api/status", "", NetworkFirst},
		{"root document", "/", "document", CacheFirst},
		{"index document", "/index.html", "document", CacheFirst},
		{"other page", "/about", "document", NetworkFirst},
		{"unlisted api", "/api/update", "", NetworkFirst},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.dest != "" {
				req.Header.Set("Sec-Fetch-Dest", tc.dest)
			}
			assert.Equal(t, tc.expected, f.worker.Route(req))
		})
	}
}

func TestWorker_CacheFirstHitSkipsNetwork(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	require.Equal(t, 1, f.origin.callCount(http.MethodGet, "/static/css/app.css"))

	rec := f.get(t, "/static/css/app.css", map[string]string{"Sec-Fetch-Dest": "style"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{}", rec.Body.String())
	assert.Equal(t, "cache", rec.Header().Get(SourceHeader))
	assert.Equal(t, "text/css", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, f.origin.callCount(http.MethodGet, "/static/css/app.css"))

	// Works offline too.
	f.origin.setOffline(true)
	rec = f.get(t, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>shell</html>", rec.Body.String())
}

func TestWorker_CacheFirstMissStoresClone(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	rec := f.get(t, "/index.html", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>shell</html>", rec.Body.String())
	assert.Equal(t, "network", rec.Header().Get(SourceHeader))

	static, err := f.storage.Open(ctx, "divisa-static-v1.1.0")
	require.NoError(t, err)
	entry, ok, err := static.Match(ctx, "/index.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "<html>shell</html>", string(entry.Body))

	rec = f.get(t, "/index.html", nil)
	assert.Equal(t, "cache", rec.Header().Get(SourceHeader))
	assert.Equal(t, 1, f.origin.callCount(http.MethodGet, "/index.html"))
}

func TestWorker_NetworkFirst(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	rec := f.get(t, "/api/rates", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "network", rec.Header().Get(SourceHeader))
	assert.JSONEq(t, `{"success":true,"data":{"rates":{"USD":{"rate":36.5}}}}`, rec.Body.String())

	dynamic, err := f.storage.Open(ctx, "divisa-dynamic-v1.1.0")
	require.NoError(t, err)
	_, ok, err := dynamic.Match(ctx, "/api/rates")
	require.NoError(t, err)
	assert.True(t, ok)

	// Online again: always hits the network.
	f.get(t, "/api/rates", nil)
	assert.Equal(t, 2, f.origin.callCount(http.MethodGet, "/api/rates"))

	f.origin.setOffline(true)
	rec = f.get(t, "/api/rates", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cache", rec.Header().Get(SourceHeader))
	assert.JSONEq(t, `{"success":true,"data":{"rates":{"USD":{"rate":36.5}}}}`, rec.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheFallbacksTotal))
}

func TestWorker_NetworkFirstOfflineWithoutCache(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.origin.setOffline(true)

	rec := f.get(t, "/api/health", nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "network down")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NetworkFailuresTotal))
}

func TestWorker_NetworkFirstDoesNotCacheErrors(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	rec := f.get(t, "/api/status", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "network", rec.Header().Get(SourceHeader))

	_, ok, err := f.storage.Match(ctx, "/api/status")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorker_NonGetIsNeverCached(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodPost, "/api/update", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	f.worker.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, ok, err := f.storage.Match(ctx, "/api/update")
	require.NoError(t, err)
	assert.False(t, ok)

	// A cached GET is not used to answer a POST.
	f.get(t, "/api/rates", nil)
	f.origin.setOffline(true)
	req = httptest.NewRequest(http.MethodPost, "/api/rates", nil)
	rec = httptest.NewRecorder()
	f.worker.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWorker_PassthroughBeforeActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.get(t, "/api/rates", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(Passthrough), rec.Header().Get("X-Worker-Strategy"))

	names, err := f.storage.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestWorker_Messages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply, err := f.worker.HandleMessage(ctx, model.Message{Type: model.MessageGetVersion})
	require.NoError(t, err)
	assert.Equal(t, model.VersionReply{Version: "divisa-api-v1.1.0"}, reply)

	_, err = f.worker.HandleMessage(ctx, model.Message{Type: model.MessageSkipWaiting})
	assert.ErrorIs(t, err, ErrNotInstalled)

	require.NoError(t, f.worker.Install(ctx))
	reply, err = f.worker.HandleRawMessage(ctx, []byte(`{"type":"SKIP_WAITING"}`))
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Equal(t, StateActivated, f.worker.State())

	// Already active: no-op.
	_, err = f.worker.HandleMessage(ctx, model.Message{Type: model.MessageSkipWaiting})
	assert.NoError(t, err)

	_, err = f.worker.HandleMessage(ctx, model.Message{Type: "PING"})
	assert.ErrorIs(t, err, ErrUnknownMessage)

	_, err = f.worker.HandleRawMessage(ctx, []byte(`not json`))
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestWorker_Snapshot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.worker.Install(context.Background()))

	s := f.worker.Snapshot([]string{"divisa-static-v1.1.0"})
	assert.Equal(t, "installed", s.State)
	assert.True(t, s.Waiting)
	assert.False(t, s.Controlling)
	assert.Equal(t, "divisa-api-v1.1.0", s.Version)
}
