// Package sshutil is the remote command/file-transfer primitive for the
// fleet engine. The transport pool is the sole owner of live clients; every
// other component routes remote operations through it.
package sshutil

import (
	"bytes"
	stderrors "errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/jmagar/dash-sub004/internal/errors"
	"github.com/jmagar/dash-sub004/internal/host"
)

// Client wraps an SSH connection with the host it belongs to.
type Client struct {
	*ssh.Client
	hostID  string
	address string
}

// Dial opens an authenticated SSH connection to the host within timeout.
// Hosts carrying explicit credentials (password or private key) use those;
// hosts without fall back to ~/.ssh/config resolution, default key files,
// and the SSH agent, the way a human operator would connect.
func Dial(h host.Host, timeout time.Duration) (*Client, error) {
	cfg, address, err := clientConfig(h, timeout)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, classifyDialError(h.ID, address, err)
	}

	// Bound the handshake too; a TCP-reachable host with a wedged sshd
	// should still fail within the connect timeout.
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to arm handshake deadline", "").WithHost(h.ID)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, cfg)
	if err != nil {
		conn.Close()
		return nil, classifyHandshakeError(h.ID, address, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		hostID:  h.ID,
		address: address,
	}, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// HostID returns the id of the host this client is bound to.
func (c *Client) HostID() string {
	return c.hostID
}

// Addr returns the resolved host:port address.
func (c *Client) Addr() string {
	return c.address
}

// Ping sends an SSH global no-op request to check connection liveness.
// It is much cheaper than opening a session and detects silent death.
func (c *Client) Ping() error {
	if c.Client == nil {
		return errors.New(errors.ErrSSH, "connection not open", "")
	}
	_, _, err := c.Client.SendRequest("keepalive@fleet", true, nil)
	return err
}

// clientConfig assembles the ssh.ClientConfig and dial address for a host.
func clientConfig(h host.Host, timeout time.Duration) (*ssh.ClientConfig, string, error) {
	var authMethods []ssh.AuthMethod
	address := h.Addr()
	user := h.Username

	if h.HasCredentials() {
		if h.PrivateKey != "" {
			signer, err := parseKey([]byte(h.PrivateKey), h.Passphrase)
			if err != nil {
				return nil, "", errors.WrapWithCode(err, errors.ErrAuth,
					"Failed to parse private key",
					"Check the key material and passphrase on the host record").WithHost(h.ID)
			}
			authMethods = append(authMethods, ssh.PublicKeys(signer))
		}
		if h.Password != "" {
			authMethods = append(authMethods, ssh.Password(h.Password))
			authMethods = append(authMethods, ssh.KeyboardInteractive(
				func(name, instruction string, questions []string, echos []bool) ([]string, error) {
					answers := make([]string, len(questions))
					for i := range answers {
						answers[i] = h.Password
					}
					return answers, nil
				}))
		}
	} else {
		resolvedUser, resolvedAddr, methods := resolveFromSSHConfig(h)
		if user == "" {
			user = resolvedUser
		}
		if resolvedAddr != "" {
			address = resolvedAddr
		}
		authMethods = append(authMethods, methods...)
	}

	if user == "" {
		user = currentUser()
	}

	if len(authMethods) == 0 {
		return nil, "", errors.New(errors.ErrAuth,
			"No SSH auth methods available for "+h.Address,
			"Store a password or private key on the host record, or load a key: ssh-add -l").
			WithHost(h.ID)
	}

	return &ssh.ClientConfig{
		User: user,
		Auth: authMethods,
		// Hosts are registered with their credentials through the dashboard;
		// the engine accepts whatever key the host presents, matching the
		// original auto-add behavior.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         timeout,
	}, address, nil
}

// parseKey parses PEM key material, with or without a passphrase.
func parseKey(pem []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) {
			return nil, stderrors.New("private key is encrypted and no passphrase was provided")
		}
		return nil, err
	}
	return signer, nil
}

// resolveFromSSHConfig fills in settings for credential-less hosts from
// ~/.ssh/config, the default key files, and the SSH agent.
func resolveFromSSHConfig(h host.Host) (user, address string, methods []ssh.AuthMethod) {
	alias := h.Address

	user, _ = ssh_config.GetStrict(alias, "User")

	hostname, _ := ssh_config.GetStrict(alias, "HostName")
	port, _ := ssh_config.GetStrict(alias, "Port")
	if hostname != "" {
		if port == "" {
			port = "22"
		}
		address = net.JoinHostPort(hostname, port)
	}

	if identity, _ := ssh_config.GetStrict(alias, "IdentityFile"); identity != "" {
		if m := keyFileAuth(expandPath(identity)); m != nil {
			methods = append(methods, m)
		}
	}

	if m := sshAgentAuth(); m != nil {
		methods = append(methods, m)
	}

	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		if m := keyFileAuth(filepath.Join(homeDir(), ".ssh", name)); m != nil {
			methods = append(methods, m)
		}
	}

	return user, address, methods
}

// keyFileAuth loads an unencrypted private key file, returning nil when the
// file is absent or unusable.
func keyFileAuth(path string) ssh.AuthMethod {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil
	}
	return ssh.PublicKeys(signer)
}

// agentConn holds the reusable SSH agent connection.
var (
	agentConn     net.Conn
	agentClient   agent.ExtendedAgent
	agentConnOnce sync.Once
)

// sshAgentAuth returns an auth method backed by the SSH agent, or nil when
// no agent is reachable or it holds no keys.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentConnOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	})

	if agentClient == nil {
		return nil
	}

	signers, err := agentClient.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// CloseAgent closes the SSH agent connection if one is open.
func CloseAgent() {
	if agentConn != nil {
		agentConn.Close()
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// classifyDialError maps TCP-level failures into the error taxonomy.
func classifyDialError(hostID, address string, err error) error {
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "i/o timeout") {
		return errors.WrapWithCode(err, errors.ErrConnectTimeout,
			"Connection to "+address+" timed out",
			"Host may be offline or blocked by a firewall").WithHost(hostID)
	}
	return errors.WrapWithCode(err, errors.ErrSSH,
		"Can't reach "+address,
		"Make sure the host is reachable: ping "+address).WithHost(hostID)
}

// classifyHandshakeError maps SSH handshake failures into the error taxonomy.
func classifyHandshakeError(hostID, address string, err error) error {
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "unable to authenticate") ||
		strings.Contains(errStr, "no supported methods") ||
		strings.Contains(errStr, "permission denied") {
		return errors.WrapWithCode(err, errors.ErrAuth,
			"Authentication to "+address+" failed",
			"Check the credentials stored for this host").WithHost(hostID)
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "i/o timeout") ||
		stderrors.Is(err, os.ErrDeadlineExceeded) {
		return errors.WrapWithCode(err, errors.ErrConnectTimeout,
			"SSH handshake with "+address+" timed out",
			"Host may be overloaded or the port is not running sshd").WithHost(hostID)
	}
	return errors.WrapWithCode(err, errors.ErrSSH,
		"SSH handshake with "+address+" failed",
		"Try connecting manually: ssh "+address).WithHost(hostID)
}

// trimOutput strips trailing newlines from command output.
func trimOutput(b []byte) []byte {
	return bytes.TrimRight(b, "\r\n")
}
