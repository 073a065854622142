// Package proto defines the process telemetry types and the websocket
// message envelope spoken between the registry and connected agents.
package proto

import (
	"encoding/json"
	"time"
)

// ProcessInfo is one remote OS process as reported by a listing.
type ProcessInfo struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	Command    string    `json:"command"`
	Status     string    `json:"status"`
	User       string    `json:"user"`
	CPUPercent float64   `json:"cpuPercent"`
	MemoryRSS  uint64    `json:"memoryRss"`
	ReadBytes  uint64    `json:"readBytes"`
	WriteBytes uint64    `json:"writeBytes"`
	PolledAt   time.Time `json:"polledAt"`
}

// ProcessSnapshot is a point-in-time process list for one host. Each poll
// replaces the prior snapshot; no history is kept by the engine.
type ProcessSnapshot struct {
	HostID    string        `json:"hostId"`
	TakenAt   time.Time     `json:"takenAt"`
	Processes []ProcessInfo `json:"processes"`
}

// HostMetrics is the system-level summary an agent reports in heartbeats.
type HostMetrics struct {
	Hostname      string  `json:"hostname"`
	Platform      string  `json:"platform"`
	Version       string  `json:"version"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	DiskPercent   float64 `json:"diskPercent"`
	Uptime        uint64  `json:"uptime"`
}

// MessageType discriminates websocket messages.
type MessageType string

const (
	TypeRegister       MessageType = "register"
	TypeRegistered     MessageType = "registered"
	TypeHeartbeat      MessageType = "heartbeat"
	TypeCommand        MessageType = "command"
	TypeAck            MessageType = "ack"
	TypeLogSubscribe   MessageType = "log:subscribe"
	TypeLogUnsubscribe MessageType = "log:unsubscribe"
	TypeLogEntry       MessageType = "log:entry"
)

// Message is the envelope for all registry/agent traffic. Payload holds the
// type-specific body, decoded on demand.
type Message struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	AgentID string          `json:"agentId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an envelope with the payload marshalled in.
func NewMessage(t MessageType, id, agentID string, payload interface{}) (Message, error) {
	msg := Message{Type: t, ID: id, AgentID: agentID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Decode unmarshals the payload into out.
func (m Message) Decode(out interface{}) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, out)
}

// RegisterPayload is the registration handshake body.
type RegisterPayload struct {
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

// HeartbeatPayload carries liveness plus the latest metrics snapshot.
type HeartbeatPayload struct {
	Metrics   HostMetrics   `json:"metrics"`
	Processes []ProcessInfo `json:"processes,omitempty"`
}

// CommandPayload asks an agent to run a command.
type CommandPayload struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// AckPayload answers a command message, matched by the envelope ID.
type AckPayload struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LogFilterPayload names the log streams an agent should forward.
type LogFilterPayload struct {
	Streams []string `json:"streams,omitempty"`
}
