// Package installer pushes the fleet agent onto managed hosts and drives the
// remote service lifecycle. Platform differences live in a per-OS handler
// table; everything else (client acquisition, status bookkeeping, error
// translation) is shared.
package installer

import (
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jmagar/dash-sub004/internal/config"
	"github.com/jmagar/dash-sub004/internal/errors"
	"github.com/jmagar/dash-sub004/internal/events"
	"github.com/jmagar/dash-sub004/internal/host"
	"github.com/jmagar/dash-sub004/internal/logger"
	"github.com/jmagar/dash-sub004/internal/store"
	"github.com/jmagar/dash-sub004/pkg/sshutil"
)

// Options adjusts how the agent is installed on a host.
type Options struct {
	// InstallInContainer runs the agent under docker instead of a native
	// service. Linux only.
	InstallInContainer bool

	// HostNetwork gives the container the host network namespace.
	HostNetwork bool

	// Volumes are extra -v mounts for the container, in docker syntax.
	Volumes []string

	// ServerURL overrides the registry endpoint written into the agent
	// config. Empty means the configured default.
	ServerURL string
}

// ClientPool supplies pooled SSH clients. Satisfied by transport.Pool.
type ClientPool interface {
	Acquire(h host.Host) (sshutil.SSHClient, error)
	Release(hostID string)
}

// handler holds the platform-specific steps for one OS.
type handler struct {
	install   func(i *Installer, c sshutil.SSHClient, h host.Host, opts Options) error
	uninstall func(i *Installer, c sshutil.SSHClient, h host.Host) error
	start     func(i *Installer, c sshutil.SSHClient, h host.Host) error
	stop      func(i *Installer, c sshutil.SSHClient, h host.Host) error
}

// Installer performs agent install, uninstall, start and stop on hosts.
type Installer struct {
	pool     ClientPool
	hosts    store.HostStore
	proj     *store.Projection
	bus      *events.Bus
	cfg      config.AgentConfig
	log      logger.Logger
	handlers map[host.OS]handler
}

// New wires an installer over its collaborators.
func New(pool ClientPool, hosts store.HostStore, proj *store.Projection, bus *events.Bus, cfg config.AgentConfig, log logger.Logger) *Installer {
	if log == nil {
		log = logger.Noop()
	}
	return &Installer{
		pool:  pool,
		hosts: hosts,
		proj:  proj,
		bus:   bus,
		cfg:   cfg,
		log:   log,
		handlers: map[host.OS]handler{
			host.OSLinux: {
				install:   (*Installer).installLinux,
				uninstall: (*Installer).uninstallLinux,
				start:     (*Installer).startLinux,
				stop:      (*Installer).stopLinux,
			},
			host.OSWindows: {
				install:   (*Installer).installWindows,
				uninstall: (*Installer).uninstallWindows,
				start:     (*Installer).startWindows,
				stop:      (*Installer).stopWindows,
			},
		},
	}
}

// InstallAgent installs and starts the agent on a host. The host's agent
// status moves to installing for the duration, then installed or error.
func (i *Installer) InstallAgent(h host.Host, opts Options) error {
	c, hnd, err := i.prepare(&h)
	if err != nil {
		i.setAgentStatus(h.ID, host.AgentError)
		return err
	}
	defer i.pool.Release(h.ID)

	i.setAgentStatus(h.ID, host.AgentInstalling)

	if err := hnd.install(i, c, h, opts); err != nil {
		i.setAgentStatus(h.ID, host.AgentError)
		return err
	}

	i.setAgentStatus(h.ID, host.AgentInstalled)
	i.log.Info("agent installed on host %s (%s)", h.ID, h.OS)
	return nil
}

// UninstallAgent removes the agent from a host. Best effort: individual step
// failures are logged and cleanup continues past them.
func (i *Installer) UninstallAgent(h host.Host) error {
	c, hnd, err := i.prepare(&h)
	if err != nil {
		return err
	}
	defer i.pool.Release(h.ID)

	if err := hnd.uninstall(i, c, h); err != nil {
		i.setAgentStatus(h.ID, host.AgentError)
		return err
	}

	i.setAgentStatus(h.ID, host.AgentNotInstalled)
	i.log.Info("agent removed from host %s", h.ID)
	return nil
}

// StartAgent issues the platform service start command.
func (i *Installer) StartAgent(h host.Host) error {
	c, hnd, err := i.prepare(&h)
	if err != nil {
		return err
	}
	defer i.pool.Release(h.ID)
	return hnd.start(i, c, h)
}

// StopAgent issues the platform service stop command.
func (i *Installer) StopAgent(h host.Host) error {
	c, hnd, err := i.prepare(&h)
	if err != nil {
		return err
	}
	defer i.pool.Release(h.ID)
	return hnd.stop(i, c, h)
}

// prepare acquires a pooled client and resolves the OS handler, detecting the
// OS over the connection when the host record does not carry one. Callers
// release the client; on error it is already released.
func (i *Installer) prepare(h *host.Host) (sshutil.SSHClient, handler, error) {
	c, err := i.pool.Acquire(*h)
	if err != nil {
		return nil, handler{}, i.translate(h.ID, h.OS, "connect", err)
	}

	if h.OS == "" {
		os, err := i.detectOS(c)
		if err != nil {
			i.pool.Release(h.ID)
			return nil, handler{}, err
		}
		h.OS = os
	}

	hnd, ok := i.handlers[h.OS]
	if !ok {
		i.pool.Release(h.ID)
		return nil, handler{}, errors.New(errors.ErrUnsupportedOS,
			fmt.Sprintf("no agent support for OS %q on host %s", h.OS, h.ID),
			"supported platforms are linux and windows").WithHost(h.ID)
	}
	return c, hnd, nil
}

// detectOS probes the remote platform. uname answers on unix; a working
// cmd.exe means Windows.
func (i *Installer) detectOS(c sshutil.SSHClient) (host.OS, error) {
	if out, err := c.Output("uname -s"); err == nil {
		if strings.EqualFold(strings.TrimSpace(string(out)), "linux") {
			return host.OSLinux, nil
		}
		return "", errors.New(errors.ErrUnsupportedOS,
			fmt.Sprintf("unsupported platform %q on host %s", strings.TrimSpace(string(out)), c.HostID()),
			"supported platforms are linux and windows").WithHost(c.HostID())
	}
	if _, err := c.Output("cmd.exe /c ver"); err == nil {
		return host.OSWindows, nil
	}
	return "", errors.New(errors.ErrUnsupportedOS,
		fmt.Sprintf("could not determine OS of host %s", c.HostID()),
		"set the host OS explicitly if detection fails").WithHost(c.HostID())
}

// translate is the single funnel for remote failures: every handler step
// reports through here so callers always see a typed installer error with
// host, OS and step attached.
func (i *Installer) translate(hostID string, os host.OS, step string, err error) error {
	if err == nil {
		return nil
	}
	return errors.WrapWithCode(err, errors.ErrInstall,
		fmt.Sprintf("agent %s failed on host %s (%s)", step, hostID, os),
		"check connectivity and remote permissions, then retry").
		WithHost(hostID).WithOp(step)
}

// setAgentStatus writes the transition through the store and drops the cached
// projection. Failures are logged only; install flow carries on.
func (i *Installer) setAgentStatus(hostID string, status host.AgentStatus) {
	if err := i.hosts.UpdateAgentStatus(hostID, status); err != nil {
		i.log.Warn("failed to persist agent status %s for host %s: %v", status, hostID, err)
	}
	i.proj.InvalidateHost(hostID)
	i.bus.Publish(events.Event{
		Type:    events.HostUpdated,
		HostID:  hostID,
		Payload: map[string]interface{}{"agentStatus": string(status)},
	})
}

// agentConfig is the YAML document pushed next to the agent binary.
type agentConfig struct {
	ServerURL string `yaml:"server_url"`
	AgentID   string `yaml:"agent_id"`
	LogDir    string `yaml:"log_dir"`
}

// renderAgentConfig produces the config file contents for a host.
func (i *Installer) renderAgentConfig(h host.Host, opts Options) ([]byte, error) {
	url := opts.ServerURL
	if url == "" {
		url = i.cfg.ServerURL
	}
	return yaml.Marshal(agentConfig{
		ServerURL: url,
		AgentID:   h.ID,
		LogDir:    path.Join(i.cfg.InstallDir, "logs"),
	})
}
