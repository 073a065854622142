package sshutil

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fleeterrors "github.com/jmagar/dash-sub004/internal/errors"
	"github.com/jmagar/dash-sub004/internal/host"
)

func TestClientConfigPasswordAuth(t *testing.T) {
	h := host.Host{
		ID:       "h1",
		Address:  "10.0.0.5",
		Port:     22,
		Username: "admin",
		Password: "secret",
	}

	cfg, address, err := clientConfig(h, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.User)
	assert.Equal(t, "10.0.0.5:22", address)
	// Password plus keyboard-interactive fallback
	assert.Len(t, cfg.Auth, 2)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestClientConfigBadKey(t *testing.T) {
	h := host.Host{
		ID:         "h1",
		Address:    "10.0.0.5",
		Username:   "admin",
		PrivateKey: "not a key",
	}

	_, _, err := clientConfig(h, time.Second)
	require.Error(t, err)
	assert.True(t, fleeterrors.IsCode(err, fleeterrors.ErrAuth))
}

func TestDialConnectTimeout(t *testing.T) {
	// Reserved TEST-NET address; nothing is listening and most networks
	// black-hole it, so the dial times out quickly.
	h := host.Host{
		ID:       "h1",
		Address:  "192.0.2.1",
		Port:     22,
		Username: "admin",
		Password: "secret",
	}

	_, err := Dial(h, 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, fleeterrors.IsCode(err, fleeterrors.ErrConnectTimeout) ||
		fleeterrors.IsCode(err, fleeterrors.ErrSSH))
}

func TestDialRefusedIsNotTimeout(t *testing.T) {
	// Listen and immediately close so the port refuses connections.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())

	h := host.Host{
		ID:       "h1",
		Address:  "127.0.0.1",
		Port:     addr.Port,
		Username: "admin",
		Password: "secret",
	}

	_, err = Dial(h, time.Second)
	require.Error(t, err)
	assert.True(t, fleeterrors.IsCode(err, fleeterrors.ErrSSH))
}

func TestClassifyDialError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "timeout",
			err:      errors.New("dial tcp: i/o timeout"),
			wantCode: fleeterrors.ErrConnectTimeout,
		},
		{
			name:     "refused",
			err:      errors.New("dial tcp: connection refused"),
			wantCode: fleeterrors.ErrSSH,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyDialError("h1", "x:22", tt.err)
			assert.True(t, fleeterrors.IsCode(got, tt.wantCode))
		})
	}
}

func TestClassifyHandshakeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "auth failure",
			err:      errors.New("ssh: unable to authenticate, attempted methods [password]"),
			wantCode: fleeterrors.ErrAuth,
		},
		{
			name:     "permission denied",
			err:      errors.New("permission denied (publickey)"),
			wantCode: fleeterrors.ErrAuth,
		},
		{
			name:     "timeout",
			err:      errors.New("read tcp: i/o timeout"),
			wantCode: fleeterrors.ErrConnectTimeout,
		},
		{
			name:     "other",
			err:      errors.New("ssh: handshake failed: EOF"),
			wantCode: fleeterrors.ErrSSH,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyHandshakeError("h1", "x:22", tt.err)
			assert.True(t, fleeterrors.IsCode(got, tt.wantCode),
				"want %s, got %s", tt.wantCode, fleeterrors.CodeOf(got))
		})
	}
}

func TestTrimOutput(t *testing.T) {
	assert.Equal(t, []byte("Linux"), trimOutput([]byte("Linux\n")))
	assert.Equal(t, []byte("Linux"), trimOutput([]byte("Linux\r\n")))
	assert.Equal(t, []byte("a\nb"), trimOutput([]byte("a\nb\n")))
}

func TestCloseNilClient(t *testing.T) {
	c := &Client{}
	assert.NoError(t, c.Close())
	assert.Error(t, c.Ping())
}
