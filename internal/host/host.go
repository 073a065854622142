// Package host defines the Host record and its status vocabulary. The
// persistence layer owns host records; the engine works against a cached
// projection keyed by host id.
package host

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Status is the reachability state of a host as determined by the health monitor.
type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusConnecting Status = "connecting"
	StatusOnline     Status = "online"
	StatusOffline    Status = "offline"
	StatusError      Status = "error"
)

// AgentStatus is the lifecycle state of the optional agent on a host.
type AgentStatus string

const (
	AgentNotInstalled AgentStatus = "not_installed"
	AgentInstalling   AgentStatus = "installing"
	AgentInstalled    AgentStatus = "installed"
	AgentError        AgentStatus = "error"
)

// OS identifies the host operating system for installer dispatch.
type OS string

const (
	OSLinux   OS = "linux"
	OSWindows OS = "windows"
	OSUnknown OS = ""
)

// Host is a remote machine under management.
type Host struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Address     string      `json:"address" yaml:"address"`
	Port        int         `json:"port" yaml:"port"`
	Username    string      `json:"username" yaml:"username"`
	Password    string      `json:"-" yaml:"password,omitempty"`
	PrivateKey  string      `json:"-" yaml:"private_key,omitempty"`
	Passphrase  string      `json:"-" yaml:"passphrase,omitempty"`
	OS          OS          `json:"os" yaml:"os"`
	Status      Status      `json:"status" yaml:"-"`
	AgentStatus AgentStatus `json:"agentStatus" yaml:"-"`
	LastSeen    time.Time   `json:"lastSeen" yaml:"-"`
}

// Addr returns the host:port dial string.
func (h Host) Addr() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(h.Address, strconv.Itoa(port))
}

// HasCredentials reports whether the record carries explicit auth material.
// Hosts without credentials fall back to ~/.ssh/config resolution.
func (h Host) HasCredentials() bool {
	return h.Password != "" || h.PrivateKey != ""
}

// Validate checks that the record is usable for connecting.
func (h Host) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("host has no id")
	}
	if h.Address == "" {
		return fmt.Errorf("host %s has no address", h.ID)
	}
	if h.Port < 0 || h.Port > 65535 {
		return fmt.Errorf("host %s has invalid port %d", h.ID, h.Port)
	}
	return nil
}
