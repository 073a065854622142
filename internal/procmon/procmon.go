// Package procmon polls remote process lists. Monitors are created through
// the Factory, which tracks at most one per host id; callers never construct
// a Monitor directly.
package procmon

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmagar/dash-sub004/internal/config"
	"github.com/jmagar/dash-sub004/internal/errors"
	"github.com/jmagar/dash-sub004/internal/events"
	"github.com/jmagar/dash-sub004/internal/host"
	"github.com/jmagar/dash-sub004/internal/logger"
	"github.com/jmagar/dash-sub004/internal/proto"
	"github.com/jmagar/dash-sub004/internal/store"
	"github.com/jmagar/dash-sub004/pkg/sshutil"
)

// ClientPool supplies pooled SSH clients for hosts without a live agent.
type ClientPool interface {
	Acquire(h host.Host) (sshutil.SSHClient, error)
	Release(hostID string)
}

// AgentChannel is the registry's view offered to the process monitor: when a
// host's agent is connected, listings and kills go over its channel instead
// of a fresh SSH session.
type AgentChannel interface {
	Connected(hostID string) bool
	ListProcesses(hostID string) ([]proto.ProcessInfo, error)
	KillProcess(hostID string, pid int32, signal string) error
}

// Factory owns the monitor set. One factory is shared engine-wide.
type Factory struct {
	mu       sync.Mutex
	monitors map[string]*Monitor

	pool   ClientPool
	agents AgentChannel // may be nil when no registry is wired
	proj   *store.Projection
	bus    *events.Bus
	cfg    config.ProcessConfig
	log    logger.Logger
}

// NewFactory wires a monitor factory over its collaborators.
func NewFactory(pool ClientPool, agents AgentChannel, proj *store.Projection, bus *events.Bus, cfg config.ProcessConfig, log logger.Logger) *Factory {
	if log == nil {
		log = logger.Noop()
	}
	return &Factory{
		monitors: make(map[string]*Monitor),
		pool:     pool,
		agents:   agents,
		proj:     proj,
		bus:      bus,
		cfg:      cfg,
		log:      log,
	}
}

// Start begins polling a host, creating its monitor if needed. Starting an
// already-polling host is a no-op.
func (f *Factory) Start(h host.Host) {
	f.monitor(h).Start()
}

// Stop halts polling for a host and evicts its cached snapshot. No-op for
// unmonitored hosts.
func (f *Factory) Stop(hostID string) {
	f.mu.Lock()
	m := f.monitors[hostID]
	delete(f.monitors, hostID)
	f.mu.Unlock()

	if m != nil {
		m.Stop()
	}
}

// StopAll halts every monitor.
func (f *Factory) StopAll() {
	f.mu.Lock()
	ms := make([]*Monitor, 0, len(f.monitors))
	for id, m := range f.monitors {
		ms = append(ms, m)
		delete(f.monitors, id)
	}
	f.mu.Unlock()

	for _, m := range ms {
		m.Stop()
	}
}

// Watching reports whether a host currently has a running monitor.
func (f *Factory) Watching(hostID string) bool {
	f.mu.Lock()
	m := f.monitors[hostID]
	f.mu.Unlock()
	return m != nil && m.Running()
}

// ListProcesses performs a one-shot listing for a host, preferring the live
// agent channel over SSH.
func (f *Factory) ListProcesses(h host.Host) ([]proto.ProcessInfo, error) {
	return f.list(h)
}

// KillProcess terminates a pid on the host. signal defaults to TERM. The
// request is issued once; no retry on failure. A delivered signal publishes
// process:update so watchers can refresh ahead of the next poll.
func (f *Factory) KillProcess(h host.Host, pid int32, signal string) error {
	if signal == "" {
		signal = "TERM"
	}
	if err := f.kill(h, pid, signal); err != nil {
		return err
	}

	f.bus.Publish(events.Event{
		Type:    events.ProcessUpdate,
		HostID:  h.ID,
		Payload: map[string]interface{}{"pid": pid, "signal": signal},
	})
	return nil
}

func (f *Factory) kill(h host.Host, pid int32, signal string) error {
	if f.agents != nil && f.agents.Connected(h.ID) {
		return f.agents.KillProcess(h.ID, pid, signal)
	}

	c, err := f.pool.Acquire(h)
	if err != nil {
		return err
	}
	defer f.pool.Release(h.ID)

	if _, err := c.Output(fmt.Sprintf("kill -%s %d", signal, pid)); err != nil {
		return errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("failed to signal pid %d on host %s", pid, h.ID), "").
			WithHost(h.ID).WithOp("kill")
	}
	return nil
}

// monitor returns the host's monitor, creating it if absent.
func (f *Factory) monitor(h host.Host) *Monitor {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m, ok := f.monitors[h.ID]; ok {
		return m
	}
	m := &Monitor{h: h, f: f}
	f.monitors[h.ID] = m
	return m
}

// list fetches the current process list over whichever channel is available.
func (f *Factory) list(h host.Host) ([]proto.ProcessInfo, error) {
	if f.agents != nil && f.agents.Connected(h.ID) {
		return f.agents.ListProcesses(h.ID)
	}
	return f.listSSH(h)
}

const psCommand = "ps -eo pid=,user=,stat=,pcpu=,rss=,comm=,args= -ww"

func (f *Factory) listSSH(h host.Host) ([]proto.ProcessInfo, error) {
	c, err := f.pool.Acquire(h)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrProcessList,
			fmt.Sprintf("failed to connect for process listing on host %s", h.ID), "").
			WithHost(h.ID)
	}
	defer f.pool.Release(h.ID)

	out, err := c.Output(psCommand)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrProcessList,
			fmt.Sprintf("process listing failed on host %s", h.ID), "").
			WithHost(h.ID).WithOp("ps")
	}
	return parsePS(string(out)), nil
}

// parsePS turns headerless ps output into process entries. Malformed lines
// are skipped rather than failing the whole listing.
func parsePS(out string) []proto.ProcessInfo {
	var procs []proto.ProcessInfo
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}

		pid, err := strconv.ParseInt(fields[0], 10, 32)
		if err != nil {
			continue
		}
		cpu, _ := strconv.ParseFloat(fields[3], 64)
		rssKB, _ := strconv.ParseUint(fields[4], 10, 64)

		p := proto.ProcessInfo{
			PID:        int32(pid),
			User:       fields[1],
			Status:     fields[2],
			CPUPercent: cpu,
			MemoryRSS:  rssKB * 1024,
			Name:       fields[5],
		}
		if len(fields) > 6 {
			p.Command = strings.Join(fields[6:], " ")
		} else {
			p.Command = p.Name
		}
		procs = append(procs, p)
	}
	return procs
}

// Monitor is the per-host polling loop.
type Monitor struct {
	h host.Host
	f *Factory

	mu      sync.Mutex
	running bool
	cancel  chan struct{}
	done    chan struct{}
}

// Start launches the poll loop: an immediate listing, then one per interval.
// Idempotent while running.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.cancel = make(chan struct{})
	m.done = make(chan struct{})
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	m.f.log.Info("process polling started for host %s", m.h.ID)
	go m.run(cancel, done)
}

// Stop cancels the poll loop and evicts the host's cached snapshot. Safe to
// call whether or not the monitor is running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	close(cancel)
	<-done

	m.f.proj.EvictProcesses(m.h.ID)
	m.f.log.Info("process polling stopped for host %s", m.h.ID)
}

// Running reports whether the poll loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) run(cancel <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	m.poll()

	ticker := time.NewTicker(m.f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

// poll takes one listing, caches the snapshot and fans it out. A listing
// failure publishes process:error and the loop keeps ticking.
func (m *Monitor) poll() {
	procs, err := m.f.list(m.h)
	now := time.Now()

	if err != nil {
		m.f.log.Warn("process listing for host %s failed: %v", m.h.ID, err)
		m.f.bus.Publish(events.Event{
			Type:    events.ProcessError,
			HostID:  m.h.ID,
			Payload: map[string]interface{}{"error": err.Error()},
		})
		return
	}

	for i := range procs {
		procs[i].PolledAt = now
	}
	snap := proto.ProcessSnapshot{HostID: m.h.ID, TakenAt: now, Processes: procs}

	if err := m.f.proj.CacheProcesses(snap); err != nil {
		m.f.log.Warn("failed to cache process snapshot for host %s: %v", m.h.ID, err)
	}

	m.f.bus.Publish(events.Event{
		Type:    events.ProcessMetrics,
		HostID:  m.h.ID,
		Payload: snap,
	})
}
