// Package coordinator reacts to host events (install prompt, connectivity,
// visibility, focus, worker updates and worker messages) and drives the
// page side of the offline shell.
package coordinator

import (
	"context"
	"sync"
	"time"

	"divisa/internal/domain/model"
	"divisa/pkg/logger"
)

const syncTag = "update-rates"

type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDismissed Outcome = "dismissed"
)

// InstallPrompt is a deferred install prompt. It can be shown once.
type InstallPrompt interface {
	Prompt(ctx context.Context) (Outcome, error)
}

// UI is every visible side effect of the coordinator.
type UI interface {
	ShowInstallPrompt()
	HideInstallPrompt()
	ShowSuccess(message string)
	ShowConnectionStatus(online bool)
	ShowOfflineMessage()
	ShowUpdateNotification()
	ReloadRates()
	Reload()
}

// Registration is the page's handle on the worker.
type Registration interface {
	RegisterSync(ctx context.Context, tag string) error
	PostMessage(ctx context.Context, msg model.Message) error
}

type Options struct {
	ReloadDelay time.Duration
	// Standalone is true when running as an installed app.
	Standalone bool
	// Offline starts the coordinator in the offline state.
	Offline bool
}

type Coordinator struct {
	bus  *Bus
	ui   UI
	reg  Registration
	log  *logger.Logger
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	deferredPrompt  InstallPrompt
	installed       bool
	online          bool
	updateAvailable bool
	reloadTimer     *time.Timer
}

func New(bus *Bus, ui UI, reg Registration, log *logger.Logger, opts Options) *Coordinator {
	if opts.ReloadDelay <= 0 {
		opts.ReloadDelay = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		bus:    bus,
		ui:     ui,
		reg:    reg,
		log:    log.With("component", "coordinator"),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		online: !opts.Offline,
	}

	bus.Subscribe(EventBeforeInstallPrompt, c.onBeforeInstallPrompt)
	bus.Subscribe(EventAppInstalled, c.onAppInstalled)
	bus.Subscribe(EventOnline, c.onOnline)
	bus.Subscribe(EventOffline, c.onOffline)
	bus.Subscribe(EventVisibilityChange, c.onVisibilityChange)
	bus.Subscribe(EventFocus, func(Event) { c.CheckForUpdates() })
	bus.Subscribe(EventUpdateFound, c.onUpdateFound)
	bus.Subscribe(EventMessage, c.onMessage)

	return c
}

// Init runs the startup sequence: installation check, background sync
// registration and an update check.
func (c *Coordinator) Init() {
	c.log.Info("Initializing coordinator")

	if c.opts.Standalone {
		c.mu.Lock()
		c.installed = true
		c.mu.Unlock()
		c.ui.HideInstallPrompt()
	}

	c.registerSync()
	c.CheckForUpdates()
}

// Stop cancels pending work such as a scheduled reload.
func (c *Coordinator) Stop() {
	c.cancel()
	c.mu.Lock()
	if c.reloadTimer != nil {
		c.reloadTimer.Stop()
	}
	c.mu.Unlock()
}

func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *Coordinator) Installed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.installed
}

func (c *Coordinator) UpdateAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateAvailable
}

func (c *Coordinator) HasInstallPrompt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deferredPrompt != nil
}

// InstallApp shows the deferred install prompt, if any, exactly once.
func (c *Coordinator) InstallApp() {
	c.mu.Lock()
	prompt := c.deferredPrompt
	c.deferredPrompt = nil
	c.mu.Unlock()

	if prompt == nil {
		return
	}

	outcome, err := prompt.Prompt(c.ctx)
	switch {
	case err != nil:
		c.log.Error("Install prompt failed", "error", err)
	case outcome == OutcomeAccepted:
		c.log.Info("User accepted the install prompt")
	default:
		c.log.Info("User dismissed the install prompt")
	}
	c.ui.HideInstallPrompt()
}

// CheckForUpdates activates a waiting worker and reloads once the
// reload delay has passed.
func (c *Coordinator) CheckForUpdates() {
	c.mu.Lock()
	if !c.updateAvailable || c.reloadTimer != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.reg.PostMessage(c.ctx, model.Message{Type: model.MessageSkipWaiting}); err != nil {
		c.log.Error("Failed to apply update", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reloadTimer != nil {
		return
	}
	c.log.Info("Update applied, reloading", "delay", c.opts.ReloadDelay)
	c.reloadTimer = time.AfterFunc(c.opts.ReloadDelay, func() {
		if c.ctx.Err() != nil {
			return
		}
		// The process outlives the reload, so the next update starts clean.
		c.mu.Lock()
		c.reloadTimer = nil
		c.updateAvailable = false
		c.mu.Unlock()
		c.ui.Reload()
	})
}

// ApplyUpdate is the action behind the update notification.
func (c *Coordinator) ApplyUpdate() {
	c.CheckForUpdates()
}

func (c *Coordinator) registerSync() {
	if err := c.reg.RegisterSync(c.ctx, syncTag); err != nil {
		c.log.Error("Background sync registration failed", "tag", syncTag, "error", err)
		return
	}
	c.log.Debug("Background sync registered", "tag", syncTag)
}

func (c *Coordinator) syncData() {
	if !c.Online() {
		return
	}
	c.registerSync()
}

func (c *Coordinator) onBeforeInstallPrompt(e Event) {
	prompt, ok := e.Data.(InstallPrompt)
	if !ok {
		return
	}
	c.mu.Lock()
	c.deferredPrompt = prompt
	c.mu.Unlock()
	c.ui.ShowInstallPrompt()
}

func (c *Coordinator) onAppInstalled(Event) {
	c.mu.Lock()
	c.installed = true
	c.mu.Unlock()
	c.ui.HideInstallPrompt()
	c.ui.ShowSuccess("App installed")
}

func (c *Coordinator) onOnline(Event) {
	c.mu.Lock()
	c.online = true
	c.mu.Unlock()
	c.ui.ShowConnectionStatus(true)
	c.syncData()
}

func (c *Coordinator) onOffline(Event) {
	c.mu.Lock()
	c.online = false
	c.mu.Unlock()
	c.ui.ShowConnectionStatus(false)
	c.ui.ShowOfflineMessage()
}

func (c *Coordinator) onVisibilityChange(e Event) {
	if visible, _ := e.Data.(bool); visible {
		c.syncData()
	}
}

func (c *Coordinator) onUpdateFound(Event) {
	c.log.Info("New worker version available")
	c.mu.Lock()
	c.updateAvailable = true
	c.mu.Unlock()
	c.ui.ShowUpdateNotification()
}

func (c *Coordinator) onMessage(e Event) {
	msg, ok := e.Data.(model.Message)
	if !ok {
		return
	}
	switch msg.Type {
	case model.MessageRatesUpdated:
		c.log.Info("Rates updated", "timestamp", msg.Timestamp)
		c.ui.ShowSuccess("Exchange rates updated")
		c.ui.ReloadRates()
	default:
		c.log.Debug("Worker message", "type", msg.Type)
	}
}
