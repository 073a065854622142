package registry

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmagar/dash-sub004/internal/proto"
)

const (
	maxMessageSize = 1 << 20
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBuffer     = 64
)

// Session is one connected agent: its channel, reported identity and the
// latest heartbeat state. At most one live session exists per agent id.
type Session struct {
	AgentID string
	Info    proto.RegisterPayload

	conn *websocket.Conn
	send chan proto.Message

	mu            sync.Mutex
	lastHeartbeat time.Time
	metrics       proto.HostMetrics
	processes     []proto.ProcessInfo

	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(agentID string, info proto.RegisterPayload, conn *websocket.Conn) *Session {
	return &Session{
		AgentID:       agentID,
		Info:          info,
		conn:          conn,
		send:          make(chan proto.Message, sendBuffer),
		lastHeartbeat: time.Now(),
		closed:        make(chan struct{}),
	}
}

// close shuts the underlying channel down. Idempotent; both pumps and the
// registry may race to call it.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

// enqueue hands a message to the write pump without blocking. A full send
// buffer means the agent is not draining; the message is dropped and the
// caller told.
func (s *Session) enqueue(msg proto.Message) bool {
	select {
	case <-s.closed:
		return false
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) heartbeat(hb proto.HeartbeatPayload) {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.metrics = hb.Metrics
	if hb.Processes != nil {
		s.processes = hb.Processes
	}
	s.mu.Unlock()
}

func (s *Session) lastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// Metrics returns the metrics snapshot from the latest heartbeat.
func (s *Session) Metrics() proto.HostMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// snapshot returns a copy of the heartbeat process list, if any.
func (s *Session) snapshot() []proto.ProcessInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processes == nil {
		return nil
	}
	out := make([]proto.ProcessInfo, len(s.processes))
	copy(out, s.processes)
	return out
}
