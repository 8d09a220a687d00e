package procsnap

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shirou/gopsutil/v4/process"
)

// Entry is one running process.
type Entry struct {
	Name string
	PID  uint64
}

// Resolver produces a snapshot of the currently running processes.
type Resolver interface {
	Snapshot(ctx context.Context) ([]Entry, error)
}

// SystemResolver enumerates processes through the OS.
type SystemResolver struct{}

// NewSystemResolver returns a resolver backed by the host OS process
// table.
func NewSystemResolver() *SystemResolver {
	return &SystemResolver{}
}

// Snapshot lists all running processes. Processes whose name cannot be
// read (typically because they exited mid-enumeration or belong to
// another user) are skipped rather than failing the snapshot.
func (r *SystemResolver) Snapshot(ctx context.Context) ([]Entry, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	entries := make([]Entry, 0, len(procs))
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: name, PID: uint64(proc.Pid)})
	}

	return entries, nil
}

// snapshotKey is the single cache key; the LRU is used for its TTL
// bookkeeping, not for multi-key eviction.
const snapshotKey = "processes"

// CachingResolver serves snapshots from a TTL cache so that repeated
// arbitration passes within one poll window do not re-enumerate the
// whole process table.
type CachingResolver struct {
	inner Resolver
	cache *lru.LRU[string, []Entry]
}

// NewCachingResolver wraps inner with a snapshot cache expiring after
// ttl.
func NewCachingResolver(inner Resolver, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		inner: inner,
		cache: lru.NewLRU[string, []Entry](1, nil, ttl),
	}
}

// Snapshot returns the cached snapshot when fresh, otherwise delegates
// to the wrapped resolver and caches the result.
func (r *CachingResolver) Snapshot(ctx context.Context) ([]Entry, error) {
	if entries, ok := r.cache.Get(snapshotKey); ok {
		return entries, nil
	}

	entries, err := r.inner.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	r.cache.Add(snapshotKey, entries)
	return entries, nil
}

// Invalidate drops the cached snapshot.
func (r *CachingResolver) Invalidate() {
	r.cache.Purge()
}
