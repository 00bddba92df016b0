package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"divisa/internal/domain/model"
)

// TagUpdateRates asks the rates API to refresh and tells pages when it did.
const TagUpdateRates = "update-rates"

const syncQueueSize = 16

// Updater is the part of the rates client background sync needs.
type Updater interface {
	ForceUpdate(ctx context.Context) (*model.UpdateResponse, error)
}

// SyncHandler runs one background sync. Errors are logged, never retried.
type SyncHandler func(ctx context.Context) error

// SyncManager queues background sync registrations and runs them one at
// a time. A tag registered again while still pending is coalesced.
type SyncManager struct {
	worker   *Worker
	handlers map[string]SyncHandler

	mu      sync.Mutex
	pending map[string]bool
	queue   chan string

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool
	now      func() time.Time
}

func NewSyncManager(w *Worker, updater Updater) *SyncManager {
	m := &SyncManager{
		worker:   w,
		handlers: make(map[string]SyncHandler),
		pending:  make(map[string]bool),
		queue:    make(chan string, syncQueueSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		now:      time.Now,
	}
	m.Handle(TagUpdateRates, m.updateRates(updater))
	return m
}

// Handle registers the handler for a tag. Call before Start.
func (m *SyncManager) Handle(tag string, h SyncHandler) {
	m.handlers[tag] = h
}

// Register queues a sync for tag.
func (m *SyncManager) Register(tag string) error {
	if _, ok := m.handlers[tag]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSyncTag, tag)
	}

	select {
	case <-m.stopCh:
		return context.Canceled
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[tag] {
		return nil
	}

	select {
	case m.queue <- tag:
		m.pending[tag] = true
		return nil
	default:
		return ErrSyncQueueFull
	}
}

// Start runs queued syncs until ctx is done or Stop is called.
func (m *SyncManager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.processLoop(ctx)
}

// Stop ends the loop and waits for a running sync to return. Safe to
// call more than once.
func (m *SyncManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.doneCh
	}
}

func (m *SyncManager) processLoop(ctx context.Context) {
	defer close(m.doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case tag := <-m.queue:
			m.mu.Lock()
			delete(m.pending, tag)
			m.mu.Unlock()
			_ = m.Fire(ctx, tag)
		case <-ctx.Done():
			return
		}
	}
}

// Fire runs the handler for tag synchronously.
func (m *SyncManager) Fire(ctx context.Context, tag string) error {
	h, ok := m.handlers[tag]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSyncTag, tag)
	}

	m.worker.log.Info("Background sync started", "tag", tag)
	err := h(ctx)
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.worker.log.Error("Background sync failed", "tag", tag, "error", err)
	}
	if m.worker.metrics != nil {
		m.worker.metrics.SyncRunsTotal.WithLabelValues(tag, outcome).Inc()
	}
	return err
}

func (m *SyncManager) updateRates(updater Updater) SyncHandler {
	return func(ctx context.Context) error {
		if _, err := updater.ForceUpdate(ctx); err != nil {
			return err
		}
		m.worker.NotifyRatesUpdated(model.NewRatesUpdated(m.now()))
		return nil
	}
}
