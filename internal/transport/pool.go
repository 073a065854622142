// Package transport owns the pooled SSH connections to managed hosts. It is
// the only component holding live transport handles; health checks, the
// installer, and process polling all route through it.
package transport

import (
	"sync"
	"time"

	"github.com/jmagar/dash-sub004/internal/config"
	"github.com/jmagar/dash-sub004/internal/host"
	"github.com/jmagar/dash-sub004/internal/logger"
	"github.com/jmagar/dash-sub004/pkg/sshutil"
)

// Dialer opens an authenticated connection to a host. Injected so tests can
// substitute mock clients.
type Dialer func(h host.Host, timeout time.Duration) (sshutil.SSHClient, error)

// DefaultDialer connects with the real SSH client.
func DefaultDialer(h host.Host, timeout time.Duration) (sshutil.SSHClient, error) {
	return sshutil.Dial(h, timeout)
}

// entry is one pooled connection with its bookkeeping.
type entry struct {
	client   sshutil.SSHClient
	lastUsed time.Time
	inUse    int
	missed   int // consecutive failed keepalive probes
}

// Pool keeps at most one reusable connection per host. Concurrent operations
// multiplex sessions over the shared connection.
type Pool struct {
	mu    sync.Mutex
	conns map[string]*entry
	cfg   config.TransportConfig
	dial  Dialer
	log   logger.Logger
	done  chan struct{}
	once  sync.Once
}

// NewPool creates a pool and starts its keepalive and idle-reaper loops.
func NewPool(cfg config.TransportConfig, dial Dialer, log logger.Logger) *Pool {
	if dial == nil {
		dial = DefaultDialer
	}
	if log == nil {
		log = logger.Noop()
	}
	p := &Pool{
		conns: make(map[string]*entry),
		cfg:   cfg,
		dial:  dial,
		log:   log,
		done:  make(chan struct{}),
	}
	if cfg.KeepaliveInterval > 0 {
		go p.keepaliveLoop()
	}
	if cfg.ReapInterval > 0 {
		go p.reapLoop()
	}
	return p
}

// Acquire returns the pooled connection for the host, opening a new one if
// none exists or the existing one is dead.
func (p *Pool) Acquire(h host.Host) (sshutil.SSHClient, error) {
	p.mu.Lock()
	e, ok := p.conns[h.ID]
	p.mu.Unlock()

	if ok {
		if e.client.Ping() == nil {
			p.mu.Lock()
			// The reaper or keepalive may have evicted the entry while we
			// were probing it unlocked; reuse only if it is still pooled.
			if cur, pooled := p.conns[h.ID]; pooled && cur == e {
				e.lastUsed = time.Now()
				e.inUse++
				e.missed = 0
				p.mu.Unlock()
				return e.client, nil
			}
			p.mu.Unlock()
		} else {
			// Dead connection; evict and reconnect below.
			p.remove(h.ID)
		}
	}

	client, err := p.dial(h, p.cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	// A concurrent Acquire may have raced us here; keep the first one.
	if existing, ok := p.conns[h.ID]; ok {
		existing.lastUsed = time.Now()
		existing.inUse++
		p.mu.Unlock()
		_ = client.Close()
		return existing.client, nil
	}
	p.conns[h.ID] = &entry{client: client, lastUsed: time.Now(), inUse: 1}
	p.mu.Unlock()

	p.log.Debug("opened connection to %s (%s)", h.ID, client.Addr())
	return client, nil
}

// Release marks the host's connection idle. The connection stays pooled
// until the idle reaper or a keepalive failure closes it.
func (p *Pool) Release(hostID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.conns[hostID]; ok {
		if e.inUse > 0 {
			e.inUse--
		}
		e.lastUsed = time.Now()
	}
}

// Close force-closes and removes the pooled connection for a host.
// Safe to call when no connection exists.
func (p *Pool) Close(hostID string) {
	p.remove(hostID)
}

// CloseAll closes every pooled connection and stops the background loops.
func (p *Pool) CloseAll() {
	p.once.Do(func() { close(p.done) })

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, e := range p.conns {
		_ = e.client.Close()
		delete(p.conns, id)
	}
}

// TestConnection opens a throwaway connection purely to validate credentials
// and reachability. The connection is always closed regardless of outcome.
func (p *Pool) TestConnection(h host.Host) error {
	client, err := p.dial(h, p.cfg.ConnectTimeout)
	if err != nil {
		return err
	}
	_ = client.Close()
	return nil
}

// Size returns the number of pooled connections.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Contains reports whether a pooled connection exists for the host.
func (p *Pool) Contains(hostID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.conns[hostID]
	return ok
}

func (p *Pool) remove(hostID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.conns[hostID]; ok {
		_ = e.client.Close()
		delete(p.conns, hostID)
	}
}

// keepaliveLoop probes every pooled connection at the configured interval
// and evicts ones that miss too many probes in a row.
func (p *Pool) keepaliveLoop() {
	ticker := time.NewTicker(p.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.probeAll()
		}
	}
}

func (p *Pool) probeAll() {
	p.mu.Lock()
	clients := make(map[string]sshutil.SSHClient, len(p.conns))
	for id, e := range p.conns {
		clients[id] = e.client
	}
	p.mu.Unlock()

	for id, client := range clients {
		err := client.Ping()

		p.mu.Lock()
		e, ok := p.conns[id]
		if !ok || e.client != client {
			p.mu.Unlock()
			continue
		}
		if err == nil {
			e.missed = 0
			p.mu.Unlock()
			continue
		}
		e.missed++
		dead := e.missed >= p.cfg.KeepaliveMaxMissed
		if dead {
			delete(p.conns, id)
		}
		p.mu.Unlock()

		if dead {
			p.log.Warn("connection to %s missed %d keepalives, evicting", id, p.cfg.KeepaliveMaxMissed)
			_ = client.Close()
		}
	}
}

// reapLoop closes connections that have sat idle past the idle timeout.
func (p *Pool) reapLoop() {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)

	p.mu.Lock()
	var closing []sshutil.SSHClient
	for id, e := range p.conns {
		if e.inUse == 0 && e.lastUsed.Before(cutoff) {
			closing = append(closing, e.client)
			delete(p.conns, id)
			p.log.Debug("reaped idle connection to %s", id)
		}
	}
	p.mu.Unlock()

	for _, c := range closing {
		_ = c.Close()
	}
}
