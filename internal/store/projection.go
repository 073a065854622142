package store

import (
	"time"

	"github.com/jmagar/dash-sub004/internal/host"
	"github.com/jmagar/dash-sub004/internal/proto"
)

// Cache key prefixes. Each component owns a disjoint key set, so writes are
// last-writer-wins per key without cross-component coordination.
const (
	hostKeyPrefix = "host:"
	procKeyPrefix = "procs:"
)

// Projection is the typed view over the shared cache that components write
// their host and process state through.
type Projection struct {
	cache Cache
	ttl   time.Duration
}

// NewProjection wraps a cache with typed accessors using the given TTL.
func NewProjection(cache Cache, ttl time.Duration) *Projection {
	return &Projection{cache: cache, ttl: ttl}
}

// CacheHost stores the host record projection.
func (p *Projection) CacheHost(h host.Host) error {
	return p.cache.Set(hostKeyPrefix+h.ID, h, p.ttl)
}

// Host returns the cached host projection, if present.
func (p *Projection) Host(id string) (host.Host, bool) {
	v, ok := p.cache.Get(hostKeyPrefix + id)
	if !ok {
		return host.Host{}, false
	}
	h, ok := v.(host.Host)
	return h, ok
}

// InvalidateHost drops the cached host projection so the next reader refetches.
func (p *Projection) InvalidateHost(id string) {
	p.cache.Delete(hostKeyPrefix + id)
}

// CacheProcesses stores a host's process snapshot, replacing the prior one.
func (p *Projection) CacheProcesses(snap proto.ProcessSnapshot) error {
	return p.cache.Set(procKeyPrefix+snap.HostID, snap, p.ttl)
}

// Processes returns the cached process snapshot, if present.
func (p *Projection) Processes(hostID string) (proto.ProcessSnapshot, bool) {
	v, ok := p.cache.Get(procKeyPrefix + hostID)
	if !ok {
		return proto.ProcessSnapshot{}, false
	}
	snap, ok := v.(proto.ProcessSnapshot)
	return snap, ok
}

// EvictProcesses drops a host's cached snapshot.
func (p *Projection) EvictProcesses(hostID string) {
	p.cache.Delete(procKeyPrefix + hostID)
}
