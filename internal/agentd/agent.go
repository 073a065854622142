package agentd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/jmagar/dash-sub004/internal/logger"
	"github.com/jmagar/dash-sub004/internal/proto"
)

const (
	registerWait   = 10 * time.Second
	readWait       = 90 * time.Second
	writeWait      = 10 * time.Second
	commandTimeout = 30 * time.Second
)

// Agent maintains the connection to the registry and answers its requests.
// The server never dials back; reconnecting after any drop is the agent's
// job.
type Agent struct {
	cfg     Config
	version string
	log     logger.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	logStreams []string
}

// New builds an agent from its configuration.
func New(cfg Config, version string, log logger.Logger) *Agent {
	if log == nil {
		log = logger.Noop()
	}
	return &Agent{cfg: cfg, version: version, log: log}
}

// Run keeps a session to the registry alive until stop fires, reconnecting
// with capped exponential backoff after every drop.
func (a *Agent) Run(stop <-chan struct{}) {
	delay := a.cfg.ReconnectDelay

	for {
		connected, err := a.session(stop)
		select {
		case <-stop:
			return
		default:
		}

		if connected {
			delay = a.cfg.ReconnectDelay
		}
		if err != nil {
			a.log.Warn("session ended: %v, reconnecting in %s", err, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C:
		}

		delay *= 2
		if delay > a.cfg.MaxReconnectDelay {
			delay = a.cfg.MaxReconnectDelay
		}
	}
}

// session dials, registers, then serves heartbeats and inbound requests until
// the connection dies or stop fires. Returns whether registration succeeded.
func (a *Agent) session(stop <-chan struct{}) (bool, error) {
	conn, _, err := websocket.DefaultDialer.Dial(a.cfg.ServerURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	if err := a.register(conn); err != nil {
		return false, err
	}
	a.log.Info("registered with %s as %s", a.cfg.ServerURL, a.cfg.AgentID)

	readErr := make(chan error, 1)
	go a.readLoop(conn, readErr)

	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	// First heartbeat right away so the server has metrics immediately.
	a.sendHeartbeat()

	for {
		select {
		case <-stop:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return true, nil
		case err := <-readErr:
			return true, err
		case <-ticker.C:
			a.sendHeartbeat()
		}
	}
}

func (a *Agent) register(conn *websocket.Conn) error {
	metrics := collectMetrics(a.version)
	msg, err := proto.NewMessage(proto.TypeRegister, "", a.cfg.AgentID, proto.RegisterPayload{
		Hostname: metrics.Hostname,
		Version:  a.version,
		Platform: runtime.GOOS,
	})
	if err != nil {
		return err
	}
	if err := a.writeJSON(msg); err != nil {
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(registerWait))
	var resp proto.Message
	if err := conn.ReadJSON(&resp); err != nil {
		return err
	}
	if resp.Type != proto.TypeRegistered {
		return fmt.Errorf("expected registration confirmation, got %q", resp.Type)
	}
	return nil
}

func (a *Agent) readLoop(conn *websocket.Conn, readErr chan<- error) {
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		var msg proto.Message
		if err := conn.ReadJSON(&msg); err != nil {
			readErr <- err
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		switch msg.Type {
		case proto.TypeCommand:
			var cmd proto.CommandPayload
			if err := msg.Decode(&cmd); err != nil {
				a.log.Warn("malformed command: %v", err)
				continue
			}
			// Commands run concurrently so a slow one cannot starve the
			// read loop or heartbeats.
			go a.runCommand(msg.ID, cmd)

		case proto.TypeLogSubscribe:
			var filter proto.LogFilterPayload
			if err := msg.Decode(&filter); err == nil {
				a.setLogStreams(filter.Streams)
				a.log.Info("log subscription set: %v", filter.Streams)
			}

		case proto.TypeLogUnsubscribe:
			a.setLogStreams(nil)
			a.log.Info("log subscription cleared")

		default:
			a.log.Debug("ignoring message type %q", msg.Type)
		}
	}
}

func (a *Agent) sendHeartbeat() {
	procs, err := collectProcesses()
	if err != nil {
		a.log.Warn("process collection failed: %v", err)
	}

	msg, err := proto.NewMessage(proto.TypeHeartbeat, "", a.cfg.AgentID, proto.HeartbeatPayload{
		Metrics:   collectMetrics(a.version),
		Processes: procs,
	})
	if err != nil {
		a.log.Warn("heartbeat encode failed: %v", err)
		return
	}
	if err := a.writeJSON(msg); err != nil {
		a.log.Debug("heartbeat send failed: %v", err)
	}
}

func (a *Agent) runCommand(id string, cmd proto.CommandPayload) {
	ack := a.handleCommand(cmd)

	msg, err := proto.NewMessage(proto.TypeAck, id, a.cfg.AgentID, ack)
	if err != nil {
		a.log.Warn("ack encode failed: %v", err)
		return
	}
	if err := a.writeJSON(msg); err != nil {
		a.log.Debug("ack send failed: %v", err)
	}
}

// handleCommand executes one registry request and produces its ack.
func (a *Agent) handleCommand(cmd proto.CommandPayload) proto.AckPayload {
	switch cmd.Command {
	case "list_processes":
		procs, err := collectProcesses()
		if err != nil {
			return proto.AckPayload{Error: err.Error()}
		}
		out, err := json.Marshal(procs)
		if err != nil {
			return proto.AckPayload{Error: err.Error()}
		}
		return proto.AckPayload{Success: true, Output: string(out)}

	case "kill":
		if len(cmd.Args) == 0 {
			return proto.AckPayload{Error: "kill requires a pid"}
		}
		signal := "TERM"
		if len(cmd.Args) > 1 && cmd.Args[1] != "" {
			signal = cmd.Args[1]
		}
		if err := killProcess(cmd.Args[0], signal); err != nil {
			return proto.AckPayload{Error: err.Error()}
		}
		return proto.AckPayload{Success: true}

	default:
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		out, err := exec.CommandContext(ctx, cmd.Command, cmd.Args...).CombinedOutput()
		if err != nil {
			return proto.AckPayload{Output: string(out), Error: err.Error()}
		}
		return proto.AckPayload{Success: true, Output: string(out)}
	}
}

func killProcess(pidArg, signal string) error {
	pid, err := strconv.ParseInt(pidArg, 10, 32)
	if err != nil {
		return fmt.Errorf("bad pid %q: %w", pidArg, err)
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return fmt.Errorf("no such process %d: %w", pid, err)
	}

	switch signal {
	case "KILL":
		return p.Kill()
	default:
		return p.Terminate()
	}
}

func (a *Agent) setLogStreams(streams []string) {
	a.mu.Lock()
	a.logStreams = streams
	a.mu.Unlock()
}

// LogStreams returns the currently subscribed log streams.
func (a *Agent) LogStreams() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logStreams))
	copy(out, a.logStreams)
	return out
}

// writeJSON serializes writes: heartbeats and command acks come from
// different goroutines over the one connection.
func (a *Agent) writeJSON(msg proto.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("not connected")
	}
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return a.conn.WriteJSON(msg)
}
