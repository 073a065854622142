// Package testing provides a mock SSH client for exercising components
// without network access.
package testing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
)

// CommandResponse defines a canned response for a command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error
}

// MockClient simulates an SSH connection. Commands are matched against
// registered patterns (exact match first, then regex); unmatched commands
// succeed with empty output. Written files are recorded for assertions.
type MockClient struct {
	mu       sync.Mutex
	hostID   string
	address  string
	closed   bool
	pingErr  error
	commands map[string]CommandResponse
	history  []string
	files    map[string][]byte
}

// NewMockClient creates a mock client bound to the given host id.
func NewMockClient(hostID string) *MockClient {
	return &MockClient{
		hostID:   hostID,
		address:  hostID + ":22",
		commands: make(map[string]CommandResponse),
		files:    make(map[string][]byte),
	}
}

// SetCommandResponse registers a canned response for an exact command or
// regex pattern.
func (m *MockClient) SetCommandResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[pattern] = resp
}

// SetPingError makes subsequent Ping calls fail, simulating silent death.
func (m *MockClient) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// Commands returns every command executed, in order.
func (m *MockClient) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.history))
	copy(out, m.history)
	return out
}

// File returns the content written to a remote path, if any.
func (m *MockClient) File(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[path]
	return b, ok
}

// Closed reports whether Close has been called.
func (m *MockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockClient) Exec(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, -1, errors.New("connection closed")
	}
	m.history = append(m.history, cmd)

	if resp, ok := m.commands[cmd]; ok {
		return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Error
	}
	for pattern, resp := range m.commands {
		if matched, _ := regexp.MatchString(pattern, cmd); matched {
			return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Error
		}
	}

	return nil, nil, 0, nil
}

func (m *MockClient) Output(cmd string) ([]byte, error) {
	stdout, stderr, code, err := m.Exec(cmd)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("exit %d: %s", code, stderr)
	}
	return bytes.TrimRight(stdout, "\r\n"), nil
}

func (m *MockClient) ExecStream(cmd string, stdout, stderr io.Writer) (int, error) {
	out, errOut, code, err := m.Exec(cmd)
	if err != nil {
		return -1, err
	}
	if stdout != nil && len(out) > 0 {
		stdout.Write(out) //nolint:errcheck
	}
	if stderr != nil && len(errOut) > 0 {
		stderr.Write(errOut) //nolint:errcheck
	}
	return code, nil
}

func (m *MockClient) WriteFile(remotePath string, r io.Reader, mode string) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("connection closed")
	}
	m.files[remotePath] = content
	m.history = append(m.history, "write "+remotePath)
	return nil
}

func (m *MockClient) CopyFile(localPath, remotePath, mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("connection closed")
	}
	m.files[remotePath] = []byte("copied from " + localPath)
	m.history = append(m.history, "copy "+localPath+" -> "+remotePath)
	return nil
}

func (m *MockClient) Ping() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("connection closed")
	}
	return m.pingErr
}

func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockClient) HostID() string {
	return m.hostID
}

func (m *MockClient) Addr() string {
	return m.address
}
