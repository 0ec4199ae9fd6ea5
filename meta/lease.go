package meta

import (
	"sync"
	"time"

	"github.com/memfabric/mmc/mmcerr"
)

// leaseEntry tracks one object's outstanding readers plus the deadline the
// lease expires at. The entry protects the object until its deadline
// passes; releasing the last reader removes the entry at once.
type leaseEntry struct {
	readers  map[uint64]struct{} // operateId -> held
	deadline time.Time
}

// LeaseManager prevents eviction from freeing an object a client is
// actively draining (Get in flight) or that was explicitly kept alive via
// a recent access, generalizing the teacher's reference-counted slot
// guard (offheap never frees a slot with a positive refcount) to a
// time-bounded variant since mmc has no refcounted client handle to
// signal "done".
type LeaseManager struct {
	mu     sync.Mutex
	leases map[string]*leaseEntry
}

func NewLeaseManager() *LeaseManager {
	return &LeaseManager{leases: make(map[string]*leaseEntry)}
}

// Acquire registers tok (the caller's operateId, per spec §4.5: "adds
// {rank, seq} to the lease set") as a reader against key, extending its
// deadline to now+ttl. Concurrent readers on the same key are additive:
// the object stays leased until every token is released or every
// deadline lapses.
func (lm *LeaseManager) Acquire(key string, tok uint64, ttl time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	e, ok := lm.leases[key]
	if !ok {
		e = &leaseEntry{readers: make(map[uint64]struct{})}
		lm.leases[key] = e
	}
	e.readers[tok] = struct{}{}
	if d := monotonicNow().Add(ttl); d.After(e.deadline) {
		e.deadline = d
	}
}

// Release drops one reader token. Releasing the last reader removes the
// key's entry, including any deadline a Touch set on it. It is not an
// error to release a token for a key with no entry (the object may
// already have been evicted).
func (lm *LeaseManager) Release(key string, tok uint64) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	e, ok := lm.leases[key]
	if !ok {
		return
	}
	delete(e.readers, tok)
	if len(e.readers) == 0 {
		delete(lm.leases, key)
	}
}

// Touch extends key's deadline without registering a reader. MetaMgr's
// Alloc calls it with a zero TTL, which creates an entry that is already
// expired.
func (lm *LeaseManager) Touch(key string, ttl time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	e, ok := lm.leases[key]
	if !ok {
		e = &leaseEntry{readers: make(map[uint64]struct{})}
		lm.leases[key] = e
	}
	if d := monotonicNow().Add(ttl); d.After(e.deadline) {
		e.deadline = d
	}
}

// Held reports whether key is currently protected from eviction: it has
// an entry whose deadline has not yet passed. Readers that are still
// registered once the deadline lapses no longer hold the key.
func (lm *LeaseManager) Held(key string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	e, ok := lm.leases[key]
	if !ok {
		return false
	}
	return monotonicNow().Before(e.deadline)
}

// Forget removes key's lease entry unconditionally, called when an object
// is fully removed (spec §4.4 Remove) so the lease table does not grow
// unbounded across the object's lifetime.
func (lm *LeaseManager) Forget(key string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.leases, key)
}

// RequireExpired returns mmcerr.LeaseNotExpired if key is currently held,
// the guard CheckAndEvict and explicit Remove both consult before
// demoting or freeing an object's blobs (spec §4.5, §7).
func (lm *LeaseManager) RequireExpired(key string) error {
	if lm.Held(key) {
		return mmcerr.Newf(mmcerr.LeaseNotExpired, "meta: lease on key %q has not expired", key)
	}
	return nil
}
