package fleet

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmagar/dash-sub004/internal/config"
	fleeterrors "github.com/jmagar/dash-sub004/internal/errors"
	"github.com/jmagar/dash-sub004/internal/events"
	"github.com/jmagar/dash-sub004/internal/host"
	"github.com/jmagar/dash-sub004/pkg/sshutil"
	sshtesting "github.com/jmagar/dash-sub004/pkg/sshutil/testing"
)

const psOutput = "    1 root Ss 0.0 1024 systemd /sbin/init\n  742 root S 1.0 2048 sshd sshd: listener\n"

// fakeDialer returns one mock client per host, creating it on first dial.
type fakeDialer struct {
	mu      sync.Mutex
	clients map[string]*sshtesting.MockClient
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{clients: make(map[string]*sshtesting.MockClient)}
}

func (d *fakeDialer) dial(h host.Host, timeout time.Duration) (sshutil.SSHClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[h.ID]; ok && c.Ping() == nil {
		return c, nil
	}
	c := sshtesting.NewMockClient(h.ID)
	c.SetCommandResponse(`^ps `, sshtesting.CommandResponse{Stdout: []byte(psOutput)})
	d.clients[h.ID] = c
	return c, nil
}

func (d *fakeDialer) client(hostID string) *sshtesting.MockClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[hostID]
}

func newTestEngine(t *testing.T) (*Engine, *fakeDialer) {
	t.Helper()

	d := newFakeDialer()
	e := New(*config.Default(), WithDialer(d.dial))
	t.Cleanup(e.Close)
	return e, d
}

func newHost(id string) host.Host {
	return host.Host{ID: id, Name: id, Address: "10.0.0.1", Username: "root", Password: "pw", OS: host.OSLinux}
}

func TestAddHostStartsMonitoring(t *testing.T) {
	e, _ := newTestEngine(t)

	ch, cancel := e.Bus().Subscribe(events.HostUpdated)
	defer cancel()

	require.NoError(t, e.AddHost(newHost("h1")))

	select {
	case ev := <-ch:
		assert.Equal(t, "h1", ev.HostID)
	case <-time.After(2 * time.Second):
		t.Fatal("no host:updated after AddHost")
	}

	assert.True(t, e.GetMonitoringStatus("h1"))
	got, err := e.GetHost("h1")
	require.NoError(t, err)
	assert.Equal(t, host.StatusOnline, got.Status)
}

func TestAddHostRejectsInvalid(t *testing.T) {
	e, _ := newTestEngine(t)

	err := e.AddHost(host.Host{ID: "h1"})
	require.Error(t, err)
	assert.False(t, e.GetMonitoringStatus("h1"))
}

func TestRemoveHostCleansUp(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.AddHost(newHost("h1")))
	require.NoError(t, e.StartProcessMonitoring("h1"))

	require.NoError(t, e.RemoveHost("h1"))

	assert.False(t, e.GetMonitoringStatus("h1"))
	_, err := e.GetHost("h1")
	assert.True(t, NotFound(err))
}

func TestListProcessesViaSSH(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.AddHost(newHost("h1")))

	procs, err := e.ListProcesses("h1")
	require.NoError(t, err)
	require.Len(t, procs, 2)
	assert.Equal(t, "systemd", procs[0].Name)
}

func TestKillProcess(t *testing.T) {
	e, d := newTestEngine(t)
	require.NoError(t, e.AddHost(newHost("h1")))

	require.NoError(t, e.KillProcess("h1", 742, ""))
	assert.Contains(t, d.client("h1").Commands(), "kill -TERM 742")
}

func TestOperationsOnUnknownHost(t *testing.T) {
	e, _ := newTestEngine(t)

	assert.True(t, NotFound(e.StartHostMonitoring("ghost")))
	_, err := e.ListProcesses("ghost")
	assert.True(t, NotFound(err))
	assert.True(t, NotFound(e.KillProcess("ghost", 1, "")))
	_, err = e.ExecuteCommand("ghost", "uptime", nil)
	assert.True(t, fleeterrors.IsCode(err, fleeterrors.ErrHostNotFound))
}

func TestGetHostServesCachedProjection(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Hosts().CreateHost(newHost("h1")))

	first, err := e.GetHost("h1")
	require.NoError(t, err)

	// Mutate the backing store directly; the projection still serves the
	// cached copy until invalidated.
	require.NoError(t, e.Hosts().UpdateStatus("h1", host.StatusError))
	second, err := e.GetHost("h1")
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
}

func TestAgentStatusDisconnectedByDefault(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Hosts().CreateHost(newHost("h1")))
	assert.NotNil(t, e.AgentEndpoint())
	assert.Equal(t, "disconnected", string(e.AgentStatus("h1")))
}
