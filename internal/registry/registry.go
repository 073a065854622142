// Package registry is the server-side endpoint for fleet agents. Agents keep
// one long-lived websocket per host; the registry tracks liveness through
// heartbeats, dispatches commands with ack matching, and forwards log stream
// subscriptions. Agents reconnect on their own; the registry never dials out.
package registry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmagar/dash-sub004/internal/config"
	"github.com/jmagar/dash-sub004/internal/errors"
	"github.com/jmagar/dash-sub004/internal/events"
	"github.com/jmagar/dash-sub004/internal/logger"
	"github.com/jmagar/dash-sub004/internal/proto"
	"github.com/jmagar/dash-sub004/internal/store"
)

// Status is the derived connectivity of one agent.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	// StatusError means the channel is open but heartbeats have gone stale.
	StatusError Status = "error"
)

// Registry tracks connected agent sessions, keyed by agent id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]chan proto.AckPayload

	hosts store.HostStore
	proj  *store.Projection
	bus   *events.Bus
	cfg   config.RegistryConfig
	log   logger.Logger

	upgrader websocket.Upgrader
	cmdSeq   atomic.Uint64
}

// New wires a registry over its collaborators.
func New(hosts store.HostStore, proj *store.Projection, bus *events.Bus, cfg config.RegistryConfig, log logger.Logger) *Registry {
	if log == nil {
		log = logger.Noop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		pending:  make(map[string]chan proto.AckPayload),
		hosts:    hosts,
		proj:     proj,
		bus:      bus,
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents are not browsers; no origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades an agent connection and runs its registration handshake.
// The first message must be a register envelope and must arrive within the
// registration timeout, or the channel is dropped.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed: %v", err)
		return
	}

	s, err := r.handshake(conn)
	if err != nil {
		r.log.Warn("agent registration failed: %v", err)
		_ = conn.Close()
		return
	}

	r.register(s)

	go r.writePump(s)
	go r.readPump(s)
}

func (r *Registry) handshake(conn *websocket.Conn) (*Session, error) {
	_ = conn.SetReadDeadline(time.Now().Add(r.cfg.RegistrationTimeout))

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrRegistration,
			"agent did not register in time", "")
	}

	var msg proto.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrRegistration,
			"malformed registration message", "")
	}
	if msg.Type != proto.TypeRegister || msg.AgentID == "" {
		return nil, errors.New(errors.ErrRegistration,
			fmt.Sprintf("expected register message, got %q", msg.Type), "")
	}

	var info proto.RegisterPayload
	if err := msg.Decode(&info); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrRegistration,
			"malformed registration payload", "")
	}

	return newSession(msg.AgentID, info, conn), nil
}

// register stores the session, forcibly closing any prior session for the
// same agent id, and confirms registration to the agent.
func (r *Registry) register(s *Session) {
	r.mu.Lock()
	old := r.sessions[s.AgentID]
	r.sessions[s.AgentID] = s
	r.mu.Unlock()

	if old != nil {
		r.log.Info("agent %s re-registered, superseding prior session", s.AgentID)
		old.close()
	}

	ack, _ := proto.NewMessage(proto.TypeRegistered, "", s.AgentID, nil)
	s.enqueue(ack)

	if err := r.hosts.UpdateLastSeen(s.AgentID, time.Now()); err != nil {
		r.log.Debug("lastSeen update for agent %s: %v", s.AgentID, err)
	}
	r.proj.InvalidateHost(s.AgentID)

	r.log.Info("agent %s registered (%s, %s)", s.AgentID, s.Info.Hostname, s.Info.Platform)
	r.bus.Publish(events.Event{
		Type:    events.HostUpdated,
		HostID:  s.AgentID,
		Payload: map[string]interface{}{"agent": "connected"},
	})
}

// unregister removes the session if it is still the current one for its id
// and announces the disconnect.
func (r *Registry) unregister(s *Session) {
	r.mu.Lock()
	current := r.sessions[s.AgentID] == s
	if current {
		delete(r.sessions, s.AgentID)
	}
	r.mu.Unlock()

	s.close()
	if !current {
		// Superseded by a newer session; nothing to announce.
		return
	}

	r.proj.InvalidateHost(s.AgentID)
	r.log.Info("agent %s disconnected", s.AgentID)
	r.bus.Publish(events.Event{Type: events.HostDisconnected, HostID: s.AgentID})
}

// readPump drains the agent channel until it dies, dispatching inbound
// messages. Exactly one per session; it owns the read side.
func (r *Registry) readPump(s *Session) {
	defer r.unregister(s)

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.log.Debug("agent %s read error: %v", s.AgentID, err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg proto.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			r.log.Warn("agent %s sent malformed message: %v", s.AgentID, err)
			continue
		}
		r.dispatch(s, msg)
	}
}

func (r *Registry) dispatch(s *Session, msg proto.Message) {
	switch msg.Type {
	case proto.TypeHeartbeat:
		var hb proto.HeartbeatPayload
		if err := msg.Decode(&hb); err != nil {
			r.log.Warn("agent %s sent malformed heartbeat: %v", s.AgentID, err)
			return
		}
		s.heartbeat(hb)
		if err := r.hosts.UpdateLastSeen(s.AgentID, time.Now()); err != nil {
			r.log.Debug("lastSeen update for agent %s: %v", s.AgentID, err)
		}

	case proto.TypeAck:
		var ack proto.AckPayload
		if err := msg.Decode(&ack); err != nil {
			r.log.Warn("agent %s sent malformed ack: %v", s.AgentID, err)
			return
		}
		r.deliverAck(msg.ID, ack)

	case proto.TypeLogEntry:
		// Not buffered; whoever subscribed on the bus gets it, or nobody does.
		var entry json.RawMessage = msg.Payload
		r.bus.Publish(events.Event{Type: events.LogEntry, HostID: s.AgentID, Payload: entry})

	default:
		r.log.Debug("agent %s sent unexpected message type %q", s.AgentID, msg.Type)
	}
}

// writePump owns the write side: queued messages plus periodic pings.
func (r *Registry) writePump(s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.close()

	for {
		select {
		case <-s.closed:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				r.log.Debug("agent %s write error: %v", s.AgentID, err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ExecuteCommand sends a command to an agent and waits for its ack. A missing
// ack within the configured timeout is a CommandAckTimeout, distinct from the
// agent acking with a failure.
func (r *Registry) ExecuteCommand(agentID, command string, args []string) (proto.AckPayload, error) {
	r.mu.Lock()
	s := r.sessions[agentID]
	r.mu.Unlock()
	if s == nil {
		return proto.AckPayload{}, errors.New(errors.ErrHostNotFound,
			fmt.Sprintf("no connected agent for host %s", agentID),
			"install and start the agent, or check its connectivity").WithHost(agentID)
	}

	id := strconv.FormatUint(r.cmdSeq.Add(1), 10)
	ackCh := make(chan proto.AckPayload, 1)
	r.mu.Lock()
	r.pending[id] = ackCh
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	msg, err := proto.NewMessage(proto.TypeCommand, id, agentID, proto.CommandPayload{Command: command, Args: args})
	if err != nil {
		return proto.AckPayload{}, errors.Wrap(err, "failed to encode command")
	}
	if !s.enqueue(msg) {
		return proto.AckPayload{}, errors.New(errors.ErrExec,
			fmt.Sprintf("agent %s is not accepting messages", agentID), "").WithHost(agentID)
	}

	select {
	case ack := <-ackCh:
		if !ack.Success {
			return ack, errors.New(errors.ErrExec,
				fmt.Sprintf("command %q failed on agent %s: %s", command, agentID, ack.Error), "").
				WithHost(agentID).WithOp(command)
		}
		return ack, nil
	case <-s.closed:
		return proto.AckPayload{}, errors.New(errors.ErrExec,
			fmt.Sprintf("agent %s disconnected before acknowledging", agentID), "").WithHost(agentID)
	case <-time.After(r.cfg.CommandAckTimeout):
		return proto.AckPayload{}, errors.New(errors.ErrCommandAckTimeout,
			fmt.Sprintf("agent %s did not acknowledge command %q", agentID, command),
			"the agent may be overloaded or wedged").WithHost(agentID).WithOp(command)
	}
}

func (r *Registry) deliverAck(id string, ack proto.AckPayload) {
	r.mu.Lock()
	ch := r.pending[id]
	r.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

// SubscribeToLogs forwards a log stream filter to the agent. The registry
// relays entries as they arrive and buffers nothing.
func (r *Registry) SubscribeToLogs(agentID string, streams []string) error {
	return r.sendControl(agentID, proto.TypeLogSubscribe, proto.LogFilterPayload{Streams: streams})
}

// UnsubscribeFromLogs clears the agent's log stream filter.
func (r *Registry) UnsubscribeFromLogs(agentID string) error {
	return r.sendControl(agentID, proto.TypeLogUnsubscribe, nil)
}

func (r *Registry) sendControl(agentID string, t proto.MessageType, payload interface{}) error {
	r.mu.Lock()
	s := r.sessions[agentID]
	r.mu.Unlock()
	if s == nil {
		return errors.New(errors.ErrHostNotFound,
			fmt.Sprintf("no connected agent for host %s", agentID), "").WithHost(agentID)
	}

	msg, err := proto.NewMessage(t, "", agentID, payload)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}
	if !s.enqueue(msg) {
		return errors.New(errors.ErrExec,
			fmt.Sprintf("agent %s is not accepting messages", agentID), "").WithHost(agentID)
	}
	return nil
}

// AgentStatus derives an agent's connectivity: Connected while heartbeats are
// fresh, Error when the channel is open but stale, Disconnected otherwise.
func (r *Registry) AgentStatus(agentID string) Status {
	r.mu.Lock()
	s := r.sessions[agentID]
	r.mu.Unlock()
	if s == nil {
		return StatusDisconnected
	}
	if time.Since(s.lastSeen()) > r.cfg.HeartbeatStale {
		return StatusError
	}
	return StatusConnected
}

// Connected reports whether the agent has a live, fresh session.
func (r *Registry) Connected(agentID string) bool {
	return r.AgentStatus(agentID) == StatusConnected
}

// ListProcesses returns the agent's process list: the latest heartbeat
// snapshot when one exists, otherwise a direct command round-trip.
func (r *Registry) ListProcesses(agentID string) ([]proto.ProcessInfo, error) {
	r.mu.Lock()
	s := r.sessions[agentID]
	r.mu.Unlock()
	if s == nil {
		return nil, errors.New(errors.ErrHostNotFound,
			fmt.Sprintf("no connected agent for host %s", agentID), "").WithHost(agentID)
	}
	if procs := s.snapshot(); procs != nil {
		return procs, nil
	}

	ack, err := r.ExecuteCommand(agentID, "list_processes", nil)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrProcessList,
			fmt.Sprintf("process listing via agent %s failed", agentID), "").WithHost(agentID)
	}
	var procs []proto.ProcessInfo
	if err := json.Unmarshal([]byte(ack.Output), &procs); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrProcessList,
			fmt.Sprintf("agent %s returned a malformed process list", agentID), "").WithHost(agentID)
	}
	return procs, nil
}

// KillProcess asks the agent to signal a pid.
func (r *Registry) KillProcess(agentID string, pid int32, signal string) error {
	_, err := r.ExecuteCommand(agentID, "kill", []string{strconv.Itoa(int(pid)), signal})
	return err
}

// AgentMetrics returns the metrics from the agent's latest heartbeat.
func (r *Registry) AgentMetrics(agentID string) (proto.HostMetrics, bool) {
	r.mu.Lock()
	s := r.sessions[agentID]
	r.mu.Unlock()
	if s == nil {
		return proto.HostMetrics{}, false
	}
	return s.Metrics(), true
}

// ConnectedAgents lists the agent ids with live sessions.
func (r *Registry) ConnectedAgents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close drops a single agent's session, if one exists. Used when its host
// leaves the fleet; no disconnect event is published for a host that is
// being removed.
func (r *Registry) Close(agentID string) {
	r.mu.Lock()
	s := r.sessions[agentID]
	if s != nil {
		delete(r.sessions, agentID)
	}
	r.mu.Unlock()

	if s != nil {
		s.close()
	}
}

// CloseAll drops every session, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
