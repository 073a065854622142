// Package fleet assembles the engine: the transport pool, health monitor,
// agent installer, process monitor and agent registry wired over shared
// collaborators. Construct one Engine at startup and pass it around; there
// are no package-level singletons.
package fleet

import (
	"net/http"

	"github.com/jmagar/dash-sub004/internal/config"
	"github.com/jmagar/dash-sub004/internal/errors"
	"github.com/jmagar/dash-sub004/internal/events"
	"github.com/jmagar/dash-sub004/internal/health"
	"github.com/jmagar/dash-sub004/internal/host"
	"github.com/jmagar/dash-sub004/internal/installer"
	"github.com/jmagar/dash-sub004/internal/logger"
	"github.com/jmagar/dash-sub004/internal/procmon"
	"github.com/jmagar/dash-sub004/internal/proto"
	"github.com/jmagar/dash-sub004/internal/registry"
	"github.com/jmagar/dash-sub004/internal/store"
	"github.com/jmagar/dash-sub004/internal/transport"
)

// Option adjusts engine construction.
type Option func(*settings)

type settings struct {
	log    logger.Logger
	dialer transport.Dialer
	hosts  store.HostStore
}

// WithLogger sets the engine logger.
func WithLogger(log logger.Logger) Option {
	return func(s *settings) { s.log = log }
}

// WithDialer overrides how SSH connections are opened. Tests inject mock
// clients through this.
func WithDialer(d transport.Dialer) Option {
	return func(s *settings) { s.dialer = d }
}

// WithHostStore supplies the host persistence backend. Defaults to the
// in-memory store.
func WithHostStore(hs store.HostStore) Option {
	return func(s *settings) { s.hosts = hs }
}

// Engine is the fleet-management core: everything the API layer calls lands
// here and fans out to the owning component.
type Engine struct {
	cfg config.Config
	log logger.Logger

	bus   *events.Bus
	cache *store.MemoryCache
	proj  *store.Projection
	hosts store.HostStore

	pool      *transport.Pool
	health    *health.Monitor
	installer *installer.Installer
	procs     *procmon.Factory
	registry  *registry.Registry
}

// New builds a fully wired engine from configuration.
func New(cfg config.Config, opts ...Option) *Engine {
	s := settings{log: logger.NewEnvLogger("fleet")}
	for _, opt := range opts {
		opt(&s)
	}
	if s.hosts == nil {
		s.hosts = store.NewMemoryHostStore()
	}

	bus := events.NewBus()
	cache := store.NewMemoryCache(cfg.Cache.TTL)
	proj := store.NewProjection(cache, cfg.Cache.TTL)

	pool := transport.NewPool(cfg.Transport, s.dialer, s.log)
	reg := registry.New(s.hosts, proj, bus, cfg.Registry, s.log)

	return &Engine{
		cfg:       cfg,
		log:       s.log,
		bus:       bus,
		cache:     cache,
		proj:      proj,
		hosts:     s.hosts,
		pool:      pool,
		health:    health.NewMonitor(pool, s.hosts, proj, bus, cfg.Health, s.log),
		installer: installer.New(pool, s.hosts, proj, bus, cfg.Agent, s.log),
		procs:     procmon.NewFactory(pool, reg, proj, bus, cfg.Process, s.log),
		registry:  reg,
	}
}

// Bus exposes the engine event stream for the API layer to relay.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Hosts exposes host CRUD.
func (e *Engine) Hosts() store.HostStore {
	return e.hosts
}

// AgentEndpoint is the websocket handler agents connect to.
func (e *Engine) AgentEndpoint() http.Handler {
	return e.registry
}

// AddHost validates and persists a host, then starts monitoring it.
func (e *Engine) AddHost(h host.Host) error {
	if err := h.Validate(); err != nil {
		return err
	}
	if err := e.hosts.CreateHost(h); err != nil {
		return err
	}
	e.health.StartHostMonitoring(h)
	return nil
}

// RemoveHost tears down everything attached to a host and deletes it.
func (e *Engine) RemoveHost(hostID string) error {
	e.health.StopHostMonitoring(hostID)
	e.procs.Stop(hostID)
	e.registry.Close(hostID)
	e.pool.Close(hostID)
	e.proj.InvalidateHost(hostID)
	return e.hosts.DeleteHost(hostID)
}

// GetHost reads a host, preferring the cached projection.
func (e *Engine) GetHost(hostID string) (host.Host, error) {
	if h, ok := e.proj.Host(hostID); ok {
		return h, nil
	}
	h, err := e.hosts.GetHost(hostID)
	if err != nil {
		return host.Host{}, err
	}
	if cerr := e.proj.CacheHost(h); cerr != nil {
		e.log.Debug("failed to cache host %s: %v", hostID, cerr)
	}
	return h, nil
}

// StartHostMonitoring begins (or restarts) health monitoring for a host.
func (e *Engine) StartHostMonitoring(hostID string) error {
	h, err := e.hosts.GetHost(hostID)
	if err != nil {
		return err
	}
	e.health.StartHostMonitoring(h)
	return nil
}

// StopHostMonitoring halts health monitoring for a host.
func (e *Engine) StopHostMonitoring(hostID string) {
	e.health.StopHostMonitoring(hostID)
}

// GetMonitoringStatus reports whether a host is being monitored.
func (e *Engine) GetMonitoringStatus(hostID string) bool {
	return e.health.GetMonitoringStatus(hostID)
}

// MonitoredHosts lists the hosts under health monitoring.
func (e *Engine) MonitoredHosts() []host.Host {
	return e.health.MonitoredHosts()
}

// TestConnection validates a host's reachability and credentials without
// touching the pool.
func (e *Engine) TestConnection(h host.Host) error {
	return e.pool.TestConnection(h)
}

// InstallAgent pushes and starts the agent on a host.
func (e *Engine) InstallAgent(hostID string, opts installer.Options) error {
	h, err := e.hosts.GetHost(hostID)
	if err != nil {
		return err
	}
	return e.installer.InstallAgent(h, opts)
}

// UninstallAgent removes the agent from a host, best effort.
func (e *Engine) UninstallAgent(hostID string) error {
	h, err := e.hosts.GetHost(hostID)
	if err != nil {
		return err
	}
	return e.installer.UninstallAgent(h)
}

// StartAgent starts the remote agent service.
func (e *Engine) StartAgent(hostID string) error {
	h, err := e.hosts.GetHost(hostID)
	if err != nil {
		return err
	}
	return e.installer.StartAgent(h)
}

// StopAgent stops the remote agent service.
func (e *Engine) StopAgent(hostID string) error {
	h, err := e.hosts.GetHost(hostID)
	if err != nil {
		return err
	}
	return e.installer.StopAgent(h)
}

// StartProcessMonitoring begins the per-host process poll loop.
func (e *Engine) StartProcessMonitoring(hostID string) error {
	h, err := e.hosts.GetHost(hostID)
	if err != nil {
		return err
	}
	e.procs.Start(h)
	return nil
}

// StopProcessMonitoring halts the poll loop and evicts the cached snapshot.
func (e *Engine) StopProcessMonitoring(hostID string) {
	e.procs.Stop(hostID)
}

// ListProcesses returns the host's current process list, via the agent when
// one is connected, falling back to SSH.
func (e *Engine) ListProcesses(hostID string) ([]proto.ProcessInfo, error) {
	h, err := e.hosts.GetHost(hostID)
	if err != nil {
		return nil, err
	}
	return e.procs.ListProcesses(h)
}

// KillProcess signals a pid on the host. An empty signal means TERM.
func (e *Engine) KillProcess(hostID string, pid int32, signal string) error {
	h, err := e.hosts.GetHost(hostID)
	if err != nil {
		return err
	}
	return e.procs.KillProcess(h, pid, signal)
}

// ExecuteCommand runs a command through a connected agent's channel.
func (e *Engine) ExecuteCommand(agentID, command string, args []string) (proto.AckPayload, error) {
	return e.registry.ExecuteCommand(agentID, command, args)
}

// AgentStatus derives the connectivity of a host's agent channel.
func (e *Engine) AgentStatus(hostID string) registry.Status {
	return e.registry.AgentStatus(hostID)
}

// SubscribeToLogs forwards a log stream filter to a host's agent.
func (e *Engine) SubscribeToLogs(hostID string, streams []string) error {
	return e.registry.SubscribeToLogs(hostID, streams)
}

// UnsubscribeFromLogs clears a host's log stream filter.
func (e *Engine) UnsubscribeFromLogs(hostID string) error {
	return e.registry.UnsubscribeFromLogs(hostID)
}

// Close shuts the engine down: all monitors, sessions and connections.
func (e *Engine) Close() {
	e.health.StopAll()
	e.procs.StopAll()
	e.registry.CloseAll()
	e.pool.CloseAll()
	e.cache.Close()
}

// NotFound reports whether err is a missing-host error, for API layers that
// map it to a 404.
func NotFound(err error) bool {
	return errors.IsCode(err, errors.ErrHostNotFound)
}
