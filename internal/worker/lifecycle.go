package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"

	"divisa/internal/domain/model"
)

type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

func (w *Worker) State() State {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.state
}

// Controlling reports whether fetches are routed through the caches.
func (w *Worker) Controlling() bool {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.controlling
}

func (w *Worker) setState(s State) {
	w.mutex.Lock()
	w.state = s
	w.mutex.Unlock()
	w.log.Info("Worker state changed", "state", s)
}

// Start installs the worker and, as the install step always asks to skip
// waiting, activates it right away.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	return w.SkipWaiting(ctx)
}

// Install fetches every static file and stores all of them in the static
// cache, or none of them if any fetch fails.
func (w *Worker) Install(ctx context.Context) error {
	w.mutex.Lock()
	if w.state != StateParsed && w.state != StateRedundant {
		w.mutex.Unlock()
		return nil
	}
	w.state = StateInstalling
	w.mutex.Unlock()
	w.log.Info("Worker installing", "static_files", len(w.cfg.StaticFiles))

	entries, err := w.precache(ctx)
	if err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}

	static, err := w.storage.Open(ctx, w.cfg.StaticCache)
	if err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}
	if err := static.PutAll(ctx, entries); err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}
	w.countStore(w.cfg.StaticCache, len(entries))

	w.log.Info("Static files cached", "cache", w.cfg.StaticCache, "count", len(entries))
	w.setState(StateInstalled)
	return nil
}

func (w *Worker) precache(ctx context.Context) ([]*model.CacheEntry, error) {
	entries := make([]*model.CacheEntry, len(w.cfg.StaticFiles))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range w.cfg.StaticFiles {
		i, path := i, path
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, w.upstreamURL(path), nil)
			if err != nil {
				return err
			}
			resp, err := w.fetcher.Do(req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", path, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			entry := model.NewCacheEntry(path, resp.StatusCode, resp.Header, body)
			if !entry.OK() {
				return fmt.Errorf("fetch %s: status %d", path, resp.StatusCode)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// SkipWaiting lets an installed worker activate without waiting. It is a
// no-op for a worker that is already active.
func (w *Worker) SkipWaiting(ctx context.Context) error {
	switch w.State() {
	case StateInstalled:
		_, err := w.Activate(ctx)
		return err
	case StateActivating, StateActivated:
		return nil
	default:
		return ErrNotInstalled
	}
}

// Activate deletes every cache that is neither the current static nor the
// current dynamic cache, then claims all pages. It returns the names of
// the deleted caches.
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	w.mutex.Lock()
	if w.state != StateInstalled {
		w.mutex.Unlock()
		return nil, ErrNotInstalled
	}
	w.state = StateActivating
	w.mutex.Unlock()
	w.log.Info("Worker activating")

	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.setState(StateInstalled)
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}

	var deleted []string
	for _, name := range names {
		if name == w.cfg.StaticCache || name == w.cfg.DynamicCache {
			continue
		}
		ok, err := w.storage.Delete(ctx, name)
		if err != nil {
			w.setState(StateInstalled)
			return deleted, fmt.Errorf("failed to delete cache %s: %w", name, err)
		}
		if ok {
			w.log.Info("Deleted old cache", "cache", name)
			deleted = append(deleted, name)
		}
	}

	w.mutex.Lock()
	w.state = StateActivated
	w.controlling = true
	w.mutex.Unlock()
	w.log.Info("Worker activated and claimed clients", "deleted_caches", len(deleted))

	return deleted, nil
}

// cloneBody drains resp.Body and replaces it with an in-memory reader so
// the body can be both stored and returned.
func cloneBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
