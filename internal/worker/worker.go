// Package worker implements the offline shell: a caching proxy in front
// of the rates web front end that behaves like the page's service worker.
package worker

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"divisa/internal/domain/model"
	"divisa/internal/domain/ports"
	"divisa/internal/metrics"
	"divisa/pkg/logger"
)

var (
	ErrInstallFailed   = errors.New("install failed")
	ErrNotInstalled    = errors.New("worker is not installed")
	ErrUnknownMessage  = errors.New("unknown message type")
	ErrUnknownSyncTag  = errors.New("unknown sync tag")
	ErrSyncQueueFull   = errors.New("sync queue is full")
	ErrUpstreamFailure = errors.New("upstream fetch failed")
)

// Config is everything the worker needs to route and cache. It is built
// once at startup and never mutated.
type Config struct {
	CacheName     string
	StaticCache   string
	DynamicCache  string
	StaticFiles   []string
	APIRoutes     []string
	ManifestPath  string
	DocumentPaths []string
}

func (c Config) validate() error {
	switch {
	case c.CacheName == "":
		return errors.New("cache name is required")
	case c.StaticCache == "" || c.DynamicCache == "":
		return errors.New("static and dynamic cache names are required")
	case c.StaticCache == c.DynamicCache:
		return errors.New("static and dynamic caches must differ")
	}
	for _, f := range c.StaticFiles {
		if !strings.HasPrefix(f, "/") {
			return fmt.Errorf("static file must be an absolute path: %q", f)
		}
	}
	return nil
}

// Fetcher sends requests to the upstream origin. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Broadcaster delivers worker messages to every connected page.
type Broadcaster interface {
	Broadcast(msg any) int
}

type Worker struct {
	cfg      Config
	upstream *url.URL
	fetcher  Fetcher
	storage  ports.CacheStorage
	clients  Broadcaster
	log      *logger.Logger
	metrics  *metrics.Metrics

	mutex       sync.RWMutex
	state       State
	controlling bool
}

type Option func(*Worker)

func WithFetcher(f Fetcher) Option {
	return func(w *Worker) {
		w.fetcher = f
	}
}

func WithBroadcaster(b Broadcaster) Option {
	return func(w *Worker) {
		w.clients = b
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func New(cfg Config, upstream string, storage ports.CacheStorage, log *logger.Logger, opts ...Option) (*Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	u, err := url.Parse(strings.TrimRight(upstream, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream url: %q", upstream)
	}

	w := &Worker{
		cfg:      cfg,
		upstream: u,
		fetcher:  &http.Client{Timeout: 30 * time.Second},
		storage:  storage,
		clients:  nopBroadcaster{},
		log:      log.With("component", "worker", "version", cfg.CacheName),
		state:    StateParsed,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Worker) Version() string {
	return w.cfg.CacheName
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(any) int { return 0 }

// Snapshot reports the worker as pages see it.
func (w *Worker) Snapshot(caches []string) model.WorkerState {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return model.WorkerState{
		State:       string(w.state),
		Version:     w.cfg.CacheName,
		Controlling: w.controlling,
		Waiting:     w.state == StateInstalled,
		Caches:      caches,
	}
}
