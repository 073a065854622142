package health

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmagar/dash-sub004/internal/config"
	"github.com/jmagar/dash-sub004/internal/events"
	"github.com/jmagar/dash-sub004/internal/host"
	"github.com/jmagar/dash-sub004/internal/store"
)

// fakeProber scripts connection probe outcomes.
type fakeProber struct {
	mu      sync.Mutex
	errs    []error // consumed one per call; the last value repeats
	calls   int
	started chan struct{} // closed when the next call begins, then cleared
	gate    chan struct{} // when set, calls block until it is closed
}

func (p *fakeProber) TestConnection(h host.Host) error {
	p.mu.Lock()
	p.calls++
	var err error
	if len(p.errs) > 0 {
		err = p.errs[0]
		if len(p.errs) > 1 {
			p.errs = p.errs[1:]
		}
	}
	started := p.started
	p.started = nil
	gate := p.gate
	p.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}
	return err
}

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fixture struct {
	mon    *Monitor
	prober *fakeProber
	hosts  store.HostStore
	bus    *events.Bus
	delays *[]time.Duration
}

func newFixture(t *testing.T, cfg config.HealthConfig) *fixture {
	t.Helper()

	prober := &fakeProber{}
	hosts := store.NewMemoryHostStore()
	proj := store.NewProjection(store.NewMemoryCache(0), time.Minute)
	bus := events.NewBus()

	m := NewMonitor(prober, hosts, proj, bus, cfg, nil)

	// Record backoff delays instead of sleeping so tests run instantly.
	var mu sync.Mutex
	delays := &[]time.Duration{}
	m.sleep = func(d time.Duration, cancel <-chan struct{}) bool {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		select {
		case <-cancel:
			return false
		default:
			return true
		}
	}

	t.Cleanup(m.StopAll)
	return &fixture{mon: m, prober: prober, hosts: hosts, bus: bus, delays: delays}
}

func testHealthConfig() config.HealthConfig {
	cfg := config.Default().Health
	// Long interval so only the immediate check runs during a test.
	cfg.CheckInterval = time.Hour
	return cfg
}

func addHost(t *testing.T, f *fixture, id string) host.Host {
	t.Helper()
	h := host.Host{ID: id, Name: id, Address: "10.0.0.1", Username: "root", Password: "pw"}
	require.NoError(t, f.hosts.CreateHost(h))
	return h
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestImmediateCheckMarksOnline(t *testing.T) {
	f := newFixture(t, testHealthConfig())
	h := addHost(t, f, "h1")

	ch, cancel := f.bus.Subscribe(events.HostUpdated)
	defer cancel()

	f.mon.StartHostMonitoring(h)

	ev := waitEvent(t, ch)
	assert.Equal(t, "h1", ev.HostID)

	got, err := f.hosts.GetHost("h1")
	require.NoError(t, err)
	assert.Equal(t, host.StatusOnline, got.Status)
	assert.False(t, got.LastSeen.IsZero())
	assert.True(t, f.mon.GetMonitoringStatus("h1"))
	assert.Equal(t, StateHealthy, f.mon.SessionState("h1"))
}

func TestOfflineAfterRetriesExhausted(t *testing.T) {
	f := newFixture(t, testHealthConfig())
	h := addHost(t, f, "h1")
	f.prober.errs = []error{errors.New("unreachable")}

	ch, cancel := f.bus.Subscribe(events.HostUpdated)
	defer cancel()

	f.mon.StartHostMonitoring(h)

	ev := waitEvent(t, ch)
	assert.Equal(t, "h1", ev.HostID)
	payload, ok := ev.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "offline", payload["status"])

	got, err := f.hosts.GetHost("h1")
	require.NoError(t, err)
	assert.Equal(t, host.StatusOffline, got.Status)
	assert.Equal(t, StateUnhealthy, f.mon.SessionState("h1"))

	// Three attempts, two backoff waits doubling from the base delay.
	assert.Equal(t, 3, f.prober.callCount())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, *f.delays)

	// Only the one transition event; the check does not repeat until the
	// next interval.
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransientFailureRecoversWithinCheck(t *testing.T) {
	f := newFixture(t, testHealthConfig())
	h := addHost(t, f, "h1")
	f.prober.errs = []error{errors.New("flaky"), nil}

	ch, cancel := f.bus.Subscribe(events.HostUpdated)
	defer cancel()

	f.mon.StartHostMonitoring(h)

	waitEvent(t, ch)
	got, err := f.hosts.GetHost("h1")
	require.NoError(t, err)
	assert.Equal(t, host.StatusOnline, got.Status)
	assert.Equal(t, 2, f.prober.callCount())
	assert.Equal(t, []time.Duration{5 * time.Second}, *f.delays)
}

func TestStartSupersedesExistingSession(t *testing.T) {
	f := newFixture(t, testHealthConfig())
	h := addHost(t, f, "h1")

	f.mon.StartHostMonitoring(h)
	f.mon.StartHostMonitoring(h)

	assert.True(t, f.mon.GetMonitoringStatus("h1"))
	assert.Len(t, f.mon.MonitoredHosts(), 1)
}

func TestStopDiscardsInFlightResult(t *testing.T) {
	f := newFixture(t, testHealthConfig())
	h := addHost(t, f, "h1")

	started := make(chan struct{})
	gate := make(chan struct{})
	f.prober.started = started
	f.prober.gate = gate

	ch, cancel := f.bus.Subscribe(events.HostUpdated)
	defer cancel()

	f.mon.StartHostMonitoring(h)
	<-started

	// Stop while the probe is in flight, then let the probe finish with a
	// success the session must discard.
	stopped := make(chan struct{})
	go func() {
		f.mon.StopHostMonitoring("h1")
		close(stopped)
	}()
	close(gate)
	<-stopped

	got, err := f.hosts.GetHost("h1")
	require.NoError(t, err)
	assert.Equal(t, host.StatusUnknown, got.Status, "in-flight result must be discarded after stop")
	assert.False(t, f.mon.GetMonitoringStatus("h1"))

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event after stop: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopUnmonitoredHostIsNoop(t *testing.T) {
	f := newFixture(t, testHealthConfig())
	f.mon.StopHostMonitoring("never-started")
	assert.False(t, f.mon.GetMonitoringStatus("never-started"))
}

func TestRepeatedSuccessEmitsSingleEvent(t *testing.T) {
	cfg := testHealthConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	f := newFixture(t, cfg)
	h := addHost(t, f, "h1")

	ch, cancel := f.bus.Subscribe(events.HostUpdated)
	defer cancel()

	f.mon.StartHostMonitoring(h)

	waitEvent(t, ch)

	// Several more checks fire; none should emit since the status is
	// unchanged.
	time.Sleep(60 * time.Millisecond)
	select {
	case ev := <-ch:
		t.Fatalf("status did not change but got event: %+v", ev)
	default:
	}
	assert.Greater(t, f.prober.callCount(), 1)
}

func TestStopAll(t *testing.T) {
	f := newFixture(t, testHealthConfig())
	f.mon.StartHostMonitoring(addHost(t, f, "h1"))
	f.mon.StartHostMonitoring(addHost(t, f, "h2"))

	require.Len(t, f.mon.MonitoredHosts(), 2)
	f.mon.StopAll()
	assert.Empty(t, f.mon.MonitoredHosts())
}
