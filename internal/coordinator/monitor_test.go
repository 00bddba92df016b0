package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divisa/internal/domain/model"
	"divisa/pkg/logger"
)

type fakeProbe struct {
	mu  sync.Mutex
	err error
}

func (p *fakeProbe) Health(ctx context.Context) (*model.HealthResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &model.HealthResponse{Status: "healthy"}, nil
}

func (p *fakeProbe) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func TestMonitor_PublishesConnectivityChanges(t *testing.T) {
	bus := NewBus(logger.Discard())
	var mu sync.Mutex
	var events []EventType
	record := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.Type)
	}
	bus.Subscribe(EventOnline, record)
	bus.Subscribe(EventOffline, record)

	_, srv := newFakeShell(t)
	probe := &fakeProbe{}
	m := NewMonitor(bus, probe, NewRemote(srv.URL, srv.Client(), logger.Discard()), logger.Discard(), MonitorOptions{})
	ctx := context.Background()

	m.CheckConnectivity(ctx)
	probe.set(errors.New("connection refused"))
	m.CheckConnectivity(ctx)
	m.CheckConnectivity(ctx)
	assert.False(t, m.Online())
	probe.set(nil)
	m.CheckConnectivity(ctx)
	bus.Stop()

	assert.Equal(t, []EventType{EventOffline, EventOnline}, events)
}

func TestMonitor_PublishesUpdateFoundOnVersionChange(t *testing.T) {
	bus := NewBus(logger.Discard())
	var found []any
	bus.Subscribe(EventUpdateFound, func(e Event) { found = append(found, e.Data) })

	shell, srv := newFakeShell(t)
	m := NewMonitor(bus, &fakeProbe{}, NewRemote(srv.URL, srv.Client(), logger.Discard()), logger.Discard(), MonitorOptions{})
	ctx := context.Background()

	m.CheckVersion(ctx)
	m.CheckVersion(ctx)
	shell.setVersion("divisa-api-v1.2.0")
	m.CheckVersion(ctx)
	bus.Stop()

	assert.Equal(t, []any{"divisa-api-v1.2.0"}, found)
}

func TestMonitor_StartStop(t *testing.T) {
	bus := NewBus(logger.Discard())
	defer bus.Stop()

	_, srv := newFakeShell(t)
	m := NewMonitor(bus, &fakeProbe{}, NewRemote(srv.URL, srv.Client(), logger.Discard()), logger.Discard(), MonitorOptions{
		ConnectivityInterval: 10 * time.Millisecond,
		VersionInterval:      10 * time.Millisecond,
	})

	m.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	m.Stop()
	assert.True(t, m.Online())
}

func TestMonitor_ResumePublishesVisibilityAndFocus(t *testing.T) {
	bus := NewBus(logger.Discard())
	var got []Event
	bus.Subscribe(EventVisibilityChange, func(e Event) { got = append(got, e) })
	bus.Subscribe(EventFocus, func(e Event) { got = append(got, e) })

	m := NewMonitor(bus, &fakeProbe{}, nil, logger.Discard(), MonitorOptions{})
	m.Resume()
	bus.Stop()

	require.Len(t, got, 2)
	assert.Equal(t, EventVisibilityChange, got[0].Type)
	assert.Equal(t, true, got[0].Data)
	assert.Equal(t, EventFocus, got[1].Type)
}
