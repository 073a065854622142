package installer

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmagar/dash-sub004/internal/config"
	fleeterrors "github.com/jmagar/dash-sub004/internal/errors"
	"github.com/jmagar/dash-sub004/internal/events"
	"github.com/jmagar/dash-sub004/internal/host"
	"github.com/jmagar/dash-sub004/internal/store"
	"github.com/jmagar/dash-sub004/pkg/sshutil"
	sshtesting "github.com/jmagar/dash-sub004/pkg/sshutil/testing"
)

// fakePool hands out a single mock client.
type fakePool struct {
	mu         sync.Mutex
	client     *sshtesting.MockClient
	acquireErr error
	released   int
}

func (p *fakePool) Acquire(h host.Host) (sshutil.SSHClient, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return p.client, nil
}

func (p *fakePool) Release(hostID string) {
	p.mu.Lock()
	p.released++
	p.mu.Unlock()
}

type installFixture struct {
	inst   *Installer
	pool   *fakePool
	client *sshtesting.MockClient
	hosts  store.HostStore
}

func newInstallFixture(t *testing.T) *installFixture {
	t.Helper()

	client := sshtesting.NewMockClient("h1")
	pool := &fakePool{client: client}
	hosts := store.NewMemoryHostStore()
	proj := store.NewProjection(store.NewMemoryCache(0), time.Minute)

	inst := New(pool, hosts, proj, events.NewBus(), config.Default().Agent, nil)
	return &installFixture{inst: inst, pool: pool, client: client, hosts: hosts}
}

func (f *installFixture) addHost(t *testing.T, os host.OS) host.Host {
	t.Helper()
	h := host.Host{ID: "h1", Name: "h1", Address: "10.0.0.1", Username: "root", Password: "pw", OS: os}
	require.NoError(t, f.hosts.CreateHost(h))
	return h
}

func commandsJoined(c *sshtesting.MockClient) string {
	return strings.Join(c.Commands(), "\n")
}

func TestInstallLinuxNative(t *testing.T) {
	f := newInstallFixture(t)
	h := f.addHost(t, host.OSLinux)

	require.NoError(t, f.inst.InstallAgent(h, Options{}))

	cfg, ok := f.client.File("/opt/fleet-agent/agent.yaml")
	require.True(t, ok, "agent config must be written")
	assert.Contains(t, string(cfg), "server_url:")
	assert.Contains(t, string(cfg), "agent_id: h1")

	unit, ok := f.client.File("/etc/systemd/system/fleet-agent.service")
	require.True(t, ok, "systemd unit must be written")
	assert.Contains(t, string(unit), "ExecStart=/opt/fleet-agent/fleet-agent")

	cmds := commandsJoined(f.client)
	assert.Contains(t, cmds, "systemctl daemon-reload")
	assert.Contains(t, cmds, "systemctl enable --now fleet-agent")

	got, err := f.hosts.GetHost("h1")
	require.NoError(t, err)
	assert.Equal(t, host.AgentInstalled, got.AgentStatus)
	assert.Equal(t, 1, f.pool.released)
}

func TestInstallLinuxContainer(t *testing.T) {
	f := newInstallFixture(t)
	h := f.addHost(t, host.OSLinux)

	opts := Options{
		InstallInContainer: true,
		HostNetwork:        true,
		Volumes:            []string{"/var/run/docker.sock:/var/run/docker.sock"},
	}
	require.NoError(t, f.inst.InstallAgent(h, opts))

	cmds := commandsJoined(f.client)
	assert.Contains(t, cmds, "docker run -d --name fleet-agent")
	assert.Contains(t, cmds, "--network host")
	assert.Contains(t, cmds, "-v /var/run/docker.sock:/var/run/docker.sock")
	assert.Contains(t, cmds, "fleet/agent:latest")
	assert.NotContains(t, cmds, "systemctl enable")
}

func TestInstallWindows(t *testing.T) {
	f := newInstallFixture(t)
	h := f.addHost(t, host.OSWindows)

	require.NoError(t, f.inst.InstallAgent(h, Options{}))

	cmds := commandsJoined(f.client)
	assert.Contains(t, cmds, "sc.exe create fleet-agent")
	assert.Contains(t, cmds, "sc.exe start fleet-agent")

	got, err := f.hosts.GetHost("h1")
	require.NoError(t, err)
	assert.Equal(t, host.AgentInstalled, got.AgentStatus)
}

func TestInstallWindowsContainerRejected(t *testing.T) {
	f := newInstallFixture(t)
	h := f.addHost(t, host.OSWindows)

	err := f.inst.InstallAgent(h, Options{InstallInContainer: true})
	require.Error(t, err)
	assert.True(t, fleeterrors.IsCode(err, fleeterrors.ErrInstall))
}

func TestInstallUnsupportedOS(t *testing.T) {
	f := newInstallFixture(t)
	h := f.addHost(t, host.OS("freebsd"))

	err := f.inst.InstallAgent(h, Options{})
	require.Error(t, err)
	assert.True(t, fleeterrors.IsCode(err, fleeterrors.ErrUnsupportedOS))

	got, err2 := f.hosts.GetHost("h1")
	require.NoError(t, err2)
	assert.Equal(t, host.AgentError, got.AgentStatus)
}

func TestDetectOSLinux(t *testing.T) {
	f := newInstallFixture(t)
	h := f.addHost(t, "")
	f.client.SetCommandResponse("uname -s", sshtesting.CommandResponse{Stdout: []byte("Linux\n")})

	require.NoError(t, f.inst.InstallAgent(h, Options{}))
	assert.Contains(t, commandsJoined(f.client), "systemctl enable --now fleet-agent")
}

func TestDetectOSWindows(t *testing.T) {
	f := newInstallFixture(t)
	h := f.addHost(t, "")
	f.client.SetCommandResponse("uname -s", sshtesting.CommandResponse{ExitCode: 127, Stderr: []byte("not found")})

	require.NoError(t, f.inst.InstallAgent(h, Options{}))
	assert.Contains(t, commandsJoined(f.client), "sc.exe create fleet-agent")
}

func TestInstallStepFailureTranslated(t *testing.T) {
	f := newInstallFixture(t)
	h := f.addHost(t, host.OSLinux)
	f.client.SetCommandResponse("systemctl enable --now fleet-agent",
		sshtesting.CommandResponse{ExitCode: 1, Stderr: []byte("unit not found")})

	err := f.inst.InstallAgent(h, Options{})
	require.Error(t, err)
	assert.True(t, fleeterrors.IsCode(err, fleeterrors.ErrInstall))
	assert.Contains(t, err.Error(), "h1")

	got, err2 := f.hosts.GetHost("h1")
	require.NoError(t, err2)
	assert.Equal(t, host.AgentError, got.AgentStatus)
}

func TestUninstallContinuesPastStepFailure(t *testing.T) {
	f := newInstallFixture(t)
	h := f.addHost(t, host.OSLinux)
	f.client.SetCommandResponse("systemctl stop fleet-agent",
		sshtesting.CommandResponse{ExitCode: 1, Stderr: []byte("not running")})

	require.NoError(t, f.inst.UninstallAgent(h), "uninstall is best effort")

	cmds := commandsJoined(f.client)
	assert.Contains(t, cmds, "systemctl disable fleet-agent")
	assert.Contains(t, cmds, "rm -rf /opt/fleet-agent")

	got, err := f.hosts.GetHost("h1")
	require.NoError(t, err)
	assert.Equal(t, host.AgentNotInstalled, got.AgentStatus)
}

func TestStartStopAgent(t *testing.T) {
	f := newInstallFixture(t)
	h := f.addHost(t, host.OSLinux)

	require.NoError(t, f.inst.StartAgent(h))
	require.NoError(t, f.inst.StopAgent(h))

	cmds := commandsJoined(f.client)
	assert.Contains(t, cmds, "systemctl start fleet-agent")
	assert.Contains(t, cmds, "systemctl stop fleet-agent")
}

func TestInstallConnectErrorTranslated(t *testing.T) {
	f := newInstallFixture(t)
	h := f.addHost(t, host.OSLinux)
	f.pool.acquireErr = fleeterrors.New(fleeterrors.ErrConnectTimeout, "timed out", "")

	err := f.inst.InstallAgent(h, Options{})
	require.Error(t, err)
	assert.True(t, fleeterrors.IsCode(err, fleeterrors.ErrInstall),
		"raw transport errors must not escape the installer")
}
