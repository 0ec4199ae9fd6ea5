package meta

import (
	"sync"
	"time"

	"github.com/memfabric/mmc/mmcerr"
	"github.com/memfabric/mmc/wire"
)

// Object aggregates every replica blob stored under one key (spec §3).
// One lock per object matches the teacher's per-slot spinlock discipline
// (offheap's reference-counted slots each guard their own word); mmc
// generalizes the guarded unit from a fixed-size slot to a variable
// number of replica blobs.
type Object struct {
	mu sync.Mutex

	Key          string
	Blobs        []*BlobMeta
	Priority     uint32
	ProtocolHint uint32 // opaque caller-supplied value, spec §6 AllocResponse.prot

	// CreatedAt/LastAccessAt are observability-only timestamps (SPEC_FULL
	// supplement): they do not drive eviction order, which remains purely
	// LRU-position based (spec §4.5); they exist so metrics and query
	// responses can report object age.
	CreatedAt    time.Time
	LastAccessAt time.Time
}

// NewObject constructs an Object with no blobs; the caller adds one blob
// per chosen Location afterwards via AddBlob.
func NewObject(key string, priority uint32) *Object {
	now := monotonicNow()
	return &Object{
		Key:          key,
		Priority:     priority,
		CreatedAt:    now,
		LastAccessAt: now,
	}
}

// monotonicNow exists so every timestamp in this package funnels through
// one call site; production wiring can swap it for an injected clock in
// tests without perturbing call sites (time.Now carries no allocation
// policy itself, so no library was needed here beyond the standard one).
var monotonicNow = time.Now

func (o *Object) AddBlob(b *BlobMeta) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Blobs = append(o.Blobs, b)
}

// Touch bumps LastAccessAt; called on every Get/BatchGet hit.
func (o *Object) Touch() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.LastAccessAt = monotonicNow()
}

// Size returns the first ready blob's size, since every replica of one
// object holds identical bytes (spec §3: "replicas of the same object are
// byte-identical").
func (o *Object) Size() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range o.Blobs {
		if b.CurrentState() == wire.StateDataReady {
			return b.Size
		}
	}
	if len(o.Blobs) > 0 {
		return o.Blobs[0].Size
	}
	return 0
}

// ReadyBlob returns the first replica currently in DATA_READY, preferring
// rank if it has a ready replica (spec §4.4 Get: "prefers the replica on
// the requesting rank when one exists and is ready").
func (o *Object) ReadyBlob(preferredRank uint32) (*BlobMeta, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var fallback *BlobMeta
	for _, b := range o.Blobs {
		if b.CurrentState() != wire.StateDataReady {
			continue
		}
		if b.Rank == preferredRank {
			return b, nil
		}
		if fallback == nil {
			fallback = b
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, mmcerr.New(mmcerr.UnmatchedState, "meta: object has no DATA_READY replica")
}

// AnyReady reports whether at least one replica is DATA_READY.
func (o *Object) AnyReady() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range o.Blobs {
		if b.CurrentState() == wire.StateDataReady {
			return true
		}
	}
	return false
}

// AllFinal reports whether every replica has reached FINAL, the
// precondition for erasing the Object from its container bucket.
func (o *Object) AllFinal() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range o.Blobs {
		if !IsTerminal(b.CurrentState()) {
			return false
		}
	}
	return true
}

// Snapshot returns a stable, lock-free copy of every replica's wire
// descriptor, for QueryResponse (spec §6).
func (o *Object) Snapshot() []wire.BlobDesc {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]wire.BlobDesc, len(o.Blobs))
	for i, b := range o.Blobs {
		out[i] = b.Snapshot()
	}
	return out
}

// BlobAt returns the replica hosted on rank, if any.
func (o *Object) BlobAt(rank uint32, media wire.Media) (*BlobMeta, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range o.Blobs {
		if b.Rank == rank && b.Media == media {
			return b, true
		}
	}
	return nil, false
}
