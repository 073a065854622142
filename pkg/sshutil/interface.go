package sshutil

import "io"

// SSHClient defines the interface for remote command execution and file
// transfer. Both the real Client and mock implementations satisfy it, which
// lets SSH-dependent components be tested without network access.
type SSHClient interface {
	// Exec runs a command and returns stdout, stderr, and exit code.
	// Exit code is -1 if the command couldn't be executed at all.
	// A non-zero exit code with nil error means the command ran but failed.
	Exec(cmd string) (stdout, stderr []byte, exitCode int, err error)

	// Output runs a command and returns trimmed stdout, failing on non-zero exit.
	Output(cmd string) ([]byte, error)

	// ExecStream runs a command and streams output to the provided writers.
	ExecStream(cmd string, stdout, stderr io.Writer) (exitCode int, err error)

	// WriteFile streams content to a remote path with an optional chmod mode.
	WriteFile(remotePath string, r io.Reader, mode string) error

	// CopyFile pushes a local file to a remote path.
	CopyFile(localPath, remotePath, mode string) error

	// Ping sends a no-op request to check connection liveness.
	Ping() error

	// Close closes the SSH connection.
	Close() error

	// HostID returns the id of the host this client is bound to.
	HostID() string

	// Addr returns the resolved host:port address.
	Addr() string
}
