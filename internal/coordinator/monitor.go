package coordinator

import (
	"context"
	"sync"
	"time"

	"divisa/internal/domain/model"
	"divisa/pkg/logger"
)

// HealthProbe reports whether the rates API is reachable.
type HealthProbe interface {
	Health(ctx context.Context) (*model.HealthResponse, error)
}

// VersionSource reports the version of the active worker.
type VersionSource interface {
	Version(ctx context.Context) (string, error)
}

type MonitorOptions struct {
	ConnectivityInterval time.Duration
	VersionInterval      time.Duration
	ProbeTimeout         time.Duration
}

// Monitor turns polling results into host events: online/offline on
// connectivity changes and updatefound when the worker version changes.
type Monitor struct {
	bus     *Bus
	health  HealthProbe
	version VersionSource
	opts    MonitorOptions
	log     *logger.Logger

	mu          sync.Mutex
	online      bool
	lastVersion string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(bus *Bus, health HealthProbe, version VersionSource, log *logger.Logger, opts MonitorOptions) *Monitor {
	if opts.ConnectivityInterval <= 0 {
		opts.ConnectivityInterval = 15 * time.Second
	}
	if opts.VersionInterval <= 0 {
		opts.VersionInterval = time.Minute
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	return &Monitor{
		bus:     bus,
		health:  health,
		version: version,
		opts:    opts,
		log:     log.With("component", "monitor"),
		online:  true,
	}
}

// Start runs an initial probe synchronously and then polls in the
// background until Stop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.CheckConnectivity(ctx)
	m.CheckVersion(ctx)

	m.wg.Add(2)
	go m.poll(ctx, m.opts.ConnectivityInterval, m.CheckConnectivity)
	go m.poll(ctx, m.opts.VersionInterval, m.CheckVersion)
}

func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) poll(ctx context.Context, interval time.Duration, check func(context.Context)) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Online is the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// CheckConnectivity probes the API and publishes an event when the state
// flips.
func (m *Monitor) CheckConnectivity(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	_, err := m.health.Health(probeCtx)
	if ctx.Err() != nil {
		return
	}
	online := err == nil

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}
	if online {
		m.log.Info("Connection restored")
		m.bus.Publish(Event{Type: EventOnline})
		return
	}
	m.log.Warn("Connection lost", "error", err)
	m.bus.Publish(Event{Type: EventOffline})
}

// CheckVersion publishes updatefound when the worker reports a version
// different from the first one seen.
func (m *Monitor) CheckVersion(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	v, err := m.version.Version(probeCtx)
	if err != nil {
		m.log.Debug("Version check failed", "error", err)
		return
	}

	m.mu.Lock()
	prev := m.lastVersion
	m.lastVersion = v
	m.mu.Unlock()

	if prev != "" && prev != v {
		m.log.Info("Worker version changed", "from", prev, "to", v)
		m.bus.Publish(Event{Type: EventUpdateFound, Data: v})
	}
}

// Resume is called when the terminal regains the foreground.
func (m *Monitor) Resume() {
	m.bus.Publish(Event{Type: EventVisibilityChange, Data: true})
	m.bus.Publish(Event{Type: EventFocus})
}
