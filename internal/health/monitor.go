// Package health runs the per-host liveness monitoring sessions. Each
// monitored host gets one goroutine that probes connectivity on a schedule,
// retries with exponential backoff, and reflects the outcome in host status.
package health

import (
	"sync"
	"time"

	"github.com/jmagar/dash-sub004/internal/config"
	"github.com/jmagar/dash-sub004/internal/events"
	"github.com/jmagar/dash-sub004/internal/host"
	"github.com/jmagar/dash-sub004/internal/logger"
	"github.com/jmagar/dash-sub004/internal/store"
)

// Prober validates that a host is reachable and its credentials work.
// Implemented by the transport pool's TestConnection.
type Prober interface {
	TestConnection(h host.Host) error
}

// State is the per-session check state.
type State string

const (
	StateUnknown   State = "unknown"
	StateChecking  State = "checking"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
)

// session is the recurring task tracking one host's health.
type session struct {
	host   host.Host
	state  State
	cancel chan struct{}
	done   chan struct{}
}

// Monitor owns all monitoring sessions. Construct one at startup and share
// it by handle; it keeps its session map private behind a mutex.
type Monitor struct {
	mu       sync.Mutex
	sessions map[string]*session

	prober Prober
	hosts  store.HostStore
	proj   *store.Projection
	bus    *events.Bus
	cfg    config.HealthConfig
	log    logger.Logger

	// sleep waits for the backoff delay or until cancel fires; returns false
	// when cancelled. Swapped out by tests to observe the backoff shape.
	sleep func(d time.Duration, cancel <-chan struct{}) bool
}

// NewMonitor wires a health monitor over its collaborators.
func NewMonitor(prober Prober, hosts store.HostStore, proj *store.Projection, bus *events.Bus, cfg config.HealthConfig, log logger.Logger) *Monitor {
	if log == nil {
		log = logger.Noop()
	}
	return &Monitor{
		sessions: make(map[string]*session),
		prober:   prober,
		hosts:    hosts,
		proj:     proj,
		bus:      bus,
		cfg:      cfg,
		log:      log,
		sleep:    waitOrCancel,
	}
}

// StartHostMonitoring begins monitoring a host. If a session already exists
// for the host it is stopped first, so repeated starts never stack sessions.
// The first check runs immediately; later checks follow the configured
// interval.
func (m *Monitor) StartHostMonitoring(h host.Host) {
	s := &session{
		host:   h,
		state:  StateUnknown,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	old := m.sessions[h.ID]
	if old != nil {
		cancelSession(old)
	}
	m.sessions[h.ID] = s
	m.mu.Unlock()

	// Wait outside the lock: the old goroutine may need m.mu to observe
	// its cancellation and unwind.
	if old != nil {
		<-old.done
	}

	m.log.Info("monitoring started for host %s", h.ID)
	go m.run(s)
}

// StopHostMonitoring cancels the host's session and waits for its goroutine
// to exit. Calling it for an unmonitored host is a no-op.
func (m *Monitor) StopHostMonitoring(hostID string) {
	m.mu.Lock()
	s, ok := m.sessions[hostID]
	if ok {
		cancelSession(s)
		delete(m.sessions, hostID)
	}
	m.mu.Unlock()

	if ok {
		<-s.done
		m.log.Info("monitoring stopped for host %s", hostID)
	}
}

// StopAll cancels every session and waits for all of them to exit.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	stopped := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		cancelSession(s)
		delete(m.sessions, id)
		stopped = append(stopped, s)
	}
	m.mu.Unlock()

	for _, s := range stopped {
		<-s.done
	}
}

func cancelSession(s *session) {
	select {
	case <-s.cancel:
		// already cancelled
	default:
		close(s.cancel)
	}
}

// GetMonitoringStatus reports whether the host has an active session.
func (m *Monitor) GetMonitoringStatus(hostID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[hostID]
	return ok
}

// MonitoredHosts returns the hosts with active sessions.
func (m *Monitor) MonitoredHosts() []host.Host {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]host.Host, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.host)
	}
	return out
}

// SessionState returns the current check state for a host's session.
func (m *Monitor) SessionState(hostID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[hostID]; ok {
		return s.state
	}
	return StateUnknown
}

// run is the per-host scheduling loop. Checks are strictly sequential: the
// ticker only fires the next check after the prior one, including its retry
// sub-loop, has returned.
func (m *Monitor) run(s *session) {
	defer close(s.done)

	m.check(s)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cancel:
			return
		case <-ticker.C:
			m.check(s)
		}
	}
}

// check probes the host, retrying with exponential backoff, and applies the
// resulting status transition. A check whose session was stopped while the
// probe was in flight discards its result.
func (m *Monitor) check(s *session) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("health check for host %s panicked: %v", s.host.ID, r)
		}
	}()

	m.setState(s, StateChecking)

	for attempt := 1; attempt <= m.cfg.MaxRetryAttempts; attempt++ {
		err := m.prober.TestConnection(s.host)

		if !m.alive(s) {
			return
		}

		if err == nil {
			m.setState(s, StateHealthy)
			m.transition(s.host, host.StatusOnline)
			return
		}

		m.log.Debug("health check attempt %d/%d for host %s failed: %v",
			attempt, m.cfg.MaxRetryAttempts, s.host.ID, err)

		if attempt < m.cfg.MaxRetryAttempts {
			delay := m.cfg.RetryDelay * time.Duration(1<<(attempt-1))
			if !m.sleep(delay, s.cancel) {
				return
			}
		}
	}

	// Every attempt failed; mark the host offline and wait for the next
	// scheduled interval instead of hammering a dead host.
	if !m.alive(s) {
		return
	}
	m.setState(s, StateUnhealthy)
	m.transition(s.host, host.StatusOffline)
}

// alive reports whether s is still the registered session for its host.
func (m *Monitor) alive(s *session) bool {
	select {
	case <-s.cancel:
		return false
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[s.host.ID] == s
}

func (m *Monitor) setState(s *session, state State) {
	m.mu.Lock()
	s.state = state
	m.mu.Unlock()
}

// transition persists the new status, invalidates the cached projection, and
// publishes host:updated when the status actually changed. A failed store
// write is logged but does not roll back the transition: status availability
// wins over strict cache consistency here.
func (m *Monitor) transition(h host.Host, status host.Status) {
	prev := host.StatusUnknown
	if current, err := m.hosts.GetHost(h.ID); err == nil {
		prev = current.Status
	}

	if err := m.hosts.UpdateStatus(h.ID, status); err != nil {
		m.log.Warn("failed to persist status %s for host %s: %v", status, h.ID, err)
	}
	if status == host.StatusOnline {
		if err := m.hosts.UpdateLastSeen(h.ID, time.Now()); err != nil {
			m.log.Warn("failed to persist lastSeen for host %s: %v", h.ID, err)
		}
	}

	m.proj.InvalidateHost(h.ID)

	if prev != status {
		m.log.Info("host %s status %s -> %s", h.ID, prev, status)
		m.bus.Publish(events.Event{
			Type:    events.HostUpdated,
			HostID:  h.ID,
			Payload: map[string]interface{}{"status": string(status)},
		})
	}
}

// waitOrCancel sleeps for d unless cancel fires first.
func waitOrCancel(d time.Duration, cancel <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-cancel:
		return false
	}
}
