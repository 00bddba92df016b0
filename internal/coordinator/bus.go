package coordinator

import (
	"sync"
	"time"

	"divisa/pkg/logger"
)

type EventType string

const (
	EventBeforeInstallPrompt EventType = "beforeinstallprompt"
	EventAppInstalled        EventType = "appinstalled"
	EventOnline              EventType = "online"
	EventOffline             EventType = "offline"
	EventVisibilityChange    EventType = "visibilitychange"
	EventFocus               EventType = "focus"
	EventUpdateFound         EventType = "updatefound"
	EventMessage             EventType = "message"
)

// Event is one host event. Data depends on Type: an InstallPrompt for
// beforeinstallprompt, a bool (visible) for visibilitychange and a
// model.Message for message.
type Event struct {
	Type      EventType
	Data      any
	Timestamp time.Time
}

type Handler func(event Event)

const busBufferSize = 64

// Bus delivers events to subscribers from a single goroutine, so handlers
// never run concurrently with each other.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	eventCh  chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	log      *logger.Logger
}

func NewBus(log *logger.Logger) *Bus {
	b := &Bus{
		handlers: make(map[EventType][]Handler),
		eventCh:  make(chan Event, busBufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		log:      log,
	}
	go b.processLoop()
	return b
}

func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish enqueues an event. It reports false when the bus is stopped or
// its buffer is full.
func (b *Bus) Publish(event Event) bool {
	select {
	case <-b.stopCh:
		return false
	default:
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
		return true
	default:
		b.log.Warn("Event bus full, dropping event", "type", event.Type)
		return false
	}
}

// Stop drains queued events and waits for the dispatch goroutine. Safe
// to call more than once.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

func (b *Bus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(h, event)
	}
}

func (b *Bus) safeCall(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Event handler panicked", "type", event.Type, "panic", r)
		}
	}()
	h(event)
}
