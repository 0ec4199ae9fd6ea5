package alloc

import (
	"sync"

	"github.com/memfabric/mmc/mmcerr"
	"github.com/memfabric/mmc/wire"
)

// Location identifies one contributed memory segment in the fabric (spec §3).
type Location struct {
	Rank  uint32
	Media wire.Media
}

// AllocRequest is the input to GlobalAllocator.Route (spec §4.2).
type AllocRequest struct {
	Size          uint64
	Count         uint32
	Media         wire.Media
	PreferredRank uint32
	Flags         wire.AllocFlags
}

// GlobalAllocator is the registry of Location -> *Allocator plus the
// routing policy for spreading a multi-blob allocation request across
// ranks (spec §4.2).
type GlobalAllocator struct {
	mu         sync.RWMutex // registry-wide rwlock; Mount/Unmount take it for write
	allocators map[Location]*Allocator
	worldSize  uint32
}

func NewGlobalAllocator(worldSize uint32) *GlobalAllocator {
	return &GlobalAllocator{
		allocators: make(map[Location]*Allocator),
		worldSize:  worldSize,
	}
}

// Mount registers a new Allocator for loc. Exclusive-write (spec §4.2).
func (g *GlobalAllocator) Mount(loc Location, a *Allocator) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.allocators[loc]; exists {
		return mmcerr.Newf(mmcerr.INVALID, "global alloc: location %+v already mounted", loc)
	}
	g.allocators[loc] = a
	return nil
}

// Unmount removes loc's Allocator, refusing if it still holds live blobs.
func (g *GlobalAllocator) Unmount(loc Location) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.allocators[loc]
	if !ok {
		return mmcerr.Newf(mmcerr.INVALID, "global alloc: location %+v not mounted", loc)
	}
	if !a.CanUnmount() {
		return mmcerr.Newf(mmcerr.INVALID, "global alloc: location %+v still has live blobs", loc)
	}
	delete(g.allocators, loc)
	return nil
}

func (g *GlobalAllocator) Get(loc Location) (*Allocator, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.allocators[loc]
	return a, ok
}

// Route reserves req.Count blobs of req.Size bytes each, starting at
// (req.PreferredRank, req.Media) and probing forward by rank modulo
// world size (spec §4.2). Each blob is actually allocated as it is
// placed rather than merely hinted at via CanAlloc, so a rank's capacity
// is genuinely consumed and the probe advances once that rank fills —
// scenario S2 routes {size=32KiB, count=12, preferredRank=2} across two
// 320KiB ranks as 10 blobs on rank 2 and 2 on rank 3 precisely because
// the 11th Alloc on rank 2 fails and the probe moves on. Route holds the
// registry write lock for its whole run, since placement must be
// serialized against concurrent Route calls the same way one rank's
// Allocator already serializes Alloc internally. On any failure every
// blob already reserved by this call is released before returning the
// error, so a partially-routed request never leaks space.
func (g *GlobalAllocator) Route(req AllocRequest) ([]Blob, error) {
	if req.Count == 0 {
		return nil, mmcerr.New(mmcerr.INVALID, "global alloc: count must be > 0")
	}
	if g.worldSize == 0 {
		return nil, mmcerr.New(mmcerr.NotInitialized, "global alloc: world size is zero")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Blob, 0, req.Count)
	rollback := func() {
		for _, b := range out {
			if a, ok := g.allocators[Location{Rank: b.Rank, Media: b.Media}]; ok {
				_ = a.Release(b.GVA, b.Size)
			}
		}
	}

	startRank := req.PreferredRank % g.worldSize
	rank := startRank
	for len(out) < int(req.Count) {
		loc := Location{Rank: rank, Media: req.Media}
		if a, ok := g.allocators[loc]; ok {
			if blob, err := a.Alloc(req.Size); err == nil {
				out = append(out, blob)
				continue
			}
		}

		if req.Flags&wire.AllocForceByRank != 0 {
			rollback()
			return nil, mmcerr.Newf(mmcerr.OutOfSpace, "global alloc: rank %d cannot host %d bytes at %s and ALLOC_FORCE_BY_RANK is set", rank, req.Size, req.Media)
		}

		rank = (rank + 1) % g.worldSize
		if rank == startRank {
			// A full lap placed nothing further; since Route holds the
			// registry lock for its entire run, no rank's free space can
			// have changed underneath it, so no further lap would help.
			rollback()
			return nil, mmcerr.Newf(mmcerr.OutOfSpace, "global alloc: no rank at media %s can host %d more bytes for this request", req.Media, req.Size)
		}
	}
	return out, nil
}

// UsageRate returns sum(allocated)/sum(capacity) across all allocators,
// the input to the eviction trigger (spec §4.2, §4.5).
func (g *GlobalAllocator) UsageRate() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var cap, used uint64
	for _, a := range g.allocators {
		c, u := a.Usage()
		cap += c
		used += u
	}
	if cap == 0 {
		return 0
	}
	return float64(used) / float64(cap)
}

// UsageRateAt returns the usage rate restricted to one media tier, used
// by CheckAndEvict which triggers per-tier (spec §4.5 CheckAndEvict runs
// "when global usage >= evictThresholdHigh" against the tier being
// evicted, e.g. HBM, per scenario S5).
func (g *GlobalAllocator) UsageRateAt(media wire.Media) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var cap, used uint64
	for loc, a := range g.allocators {
		if loc.Media != media {
			continue
		}
		c, u := a.Usage()
		cap += c
		used += u
	}
	if cap == 0 {
		return 0
	}
	return float64(used) / float64(cap)
}

// Locations returns every currently-mounted Location, for rebuild/unmount
// walks.
func (g *GlobalAllocator) Locations() []Location {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Location, 0, len(g.allocators))
	for loc := range g.allocators {
		out = append(out, loc)
	}
	return out
}
