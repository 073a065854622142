package testing

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockExecCannedResponse(t *testing.T) {
	m := NewMockClient("h1")
	m.SetCommandResponse("uname -s", CommandResponse{Stdout: []byte("Linux\n")})

	stdout, _, code, err := m.Exec("uname -s")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "Linux\n", string(stdout))
}

func TestMockExecPatternMatch(t *testing.T) {
	m := NewMockClient("h1")
	m.SetCommandResponse(`^ps `, CommandResponse{Stdout: []byte("1 init\n")})

	stdout, _, _, err := m.Exec("ps -eo pid,comm")
	require.NoError(t, err)
	assert.Contains(t, string(stdout), "init")
}

func TestMockExecUnknownCommandSucceeds(t *testing.T) {
	m := NewMockClient("h1")
	_, _, code, err := m.Exec("systemctl start fleet-agent")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"systemctl start fleet-agent"}, m.Commands())
}

func TestMockOutputNonZeroExit(t *testing.T) {
	m := NewMockClient("h1")
	m.SetCommandResponse("false", CommandResponse{ExitCode: 1, Stderr: []byte("boom")})

	_, err := m.Output("false")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "boom"))
}

func TestMockWriteFileRecords(t *testing.T) {
	m := NewMockClient("h1")
	require.NoError(t, m.WriteFile("/opt/agent/config.yaml", bytes.NewReader([]byte("a: 1")), "0644"))

	content, ok := m.File("/opt/agent/config.yaml")
	require.True(t, ok)
	assert.Equal(t, "a: 1", string(content))
}

func TestMockClosedConnection(t *testing.T) {
	m := NewMockClient("h1")
	require.NoError(t, m.Close())
	assert.True(t, m.Closed())

	_, _, code, err := m.Exec("true")
	assert.Error(t, err)
	assert.Equal(t, -1, code)
	assert.Error(t, m.Ping())
}

func TestMockPingError(t *testing.T) {
	m := NewMockClient("h1")
	assert.NoError(t, m.Ping())

	m.SetPingError(errors.New("dead"))
	assert.Error(t, m.Ping())
}
