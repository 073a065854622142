package store

import (
	"sort"
	"sync"
	"time"

	"github.com/jmagar/dash-sub004/internal/errors"
	"github.com/jmagar/dash-sub004/internal/host"
)

// HostStore is the relational collaborator owning host records. The engine
// reads connection parameters and writes back status fields only.
type HostStore interface {
	GetHost(id string) (host.Host, error)
	ListHosts() ([]host.Host, error)
	CreateHost(h host.Host) error
	UpdateHost(h host.Host) error
	DeleteHost(id string) error

	UpdateStatus(id string, status host.Status) error
	UpdateAgentStatus(id string, status host.AgentStatus) error
	UpdateLastSeen(id string, t time.Time) error
}

// MemoryHostStore is an in-process HostStore used for tests and for running
// the engine without a database.
type MemoryHostStore struct {
	mu    sync.Mutex
	hosts map[string]host.Host
}

// NewMemoryHostStore creates an empty store.
func NewMemoryHostStore() *MemoryHostStore {
	return &MemoryHostStore{hosts: make(map[string]host.Host)}
}

func (s *MemoryHostStore) GetHost(id string) (host.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosts[id]
	if !ok {
		return host.Host{}, errors.HostNotFound(id)
	}
	return h, nil
}

func (s *MemoryHostStore) ListHosts() ([]host.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]host.Host, 0, len(s.hosts))
	for _, h := range s.hosts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryHostStore) CreateHost(h host.Host) error {
	if err := h.Validate(); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid host record", "").WithHost(h.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if h.Status == "" {
		h.Status = host.StatusUnknown
	}
	if h.AgentStatus == "" {
		h.AgentStatus = host.AgentNotInstalled
	}
	s.hosts[h.ID] = h
	return nil
}

func (s *MemoryHostStore) UpdateHost(h host.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hosts[h.ID]; !ok {
		return errors.HostNotFound(h.ID)
	}
	s.hosts[h.ID] = h
	return nil
}

func (s *MemoryHostStore) DeleteHost(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hosts[id]; !ok {
		return errors.HostNotFound(id)
	}
	delete(s.hosts, id)
	return nil
}

func (s *MemoryHostStore) UpdateStatus(id string, status host.Status) error {
	return s.mutate(id, func(h *host.Host) { h.Status = status })
}

func (s *MemoryHostStore) UpdateAgentStatus(id string, status host.AgentStatus) error {
	return s.mutate(id, func(h *host.Host) { h.AgentStatus = status })
}

func (s *MemoryHostStore) UpdateLastSeen(id string, t time.Time) error {
	return s.mutate(id, func(h *host.Host) { h.LastSeen = t })
}

func (s *MemoryHostStore) mutate(id string, fn func(*host.Host)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosts[id]
	if !ok {
		return errors.HostNotFound(id)
	}
	fn(&h)
	s.hosts[id] = h
	return nil
}
