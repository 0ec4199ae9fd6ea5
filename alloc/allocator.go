// Package alloc implements the per-(rank,media) segment allocator (spec
// §4.1): a best-fit free-space manager over one contiguous virtual range,
// 4 KiB aligned, serialized by one lock per segment. It is the Go
// generalization of the teacher's offheap/internal/pointerstore.Store —
// same shape (accounting counters, one allocation path, one free path,
// one lock guarding the free structure) but best-fit over variable-size
// extents instead of fixed-size slab slots, because mmc blobs are
// arbitrary tensor sizes rather than one interned type's fixed width.
package alloc

import (
	"sync"

	"github.com/memfabric/mmc/mmcerr"
	"github.com/memfabric/mmc/wire"
)

// Alignment is the device's smallest mappable page (spec §4.1: "matches
// the device's smallest mappable page so DMA engines never need
// scatter-gather over sub-page boundaries").
const Alignment = 4096

func AlignUp(size uint64) uint64 {
	return (size + Alignment - 1) &^ (Alignment - 1)
}

// Blob is an allocated extent within one segment (spec §3).
type Blob struct {
	Rank  uint32
	Media wire.Media
	GVA   uint64
	Size  uint64
	Prot  uint32
}

// Stats mirrors the teacher's pointerstore.Stats shape, reported through
// Usage() and exported to the metrics package by metamgr.
type Stats struct {
	Capacity  uint64
	Allocated uint64
	FreeCount int
}

// Allocator manages the free space of one (rank, media) segment.
type Allocator struct {
	rank     uint32
	media    wire.Media
	base     uint64
	capacity uint64

	mu       sync.Mutex // serializes every operation below (spec §4.1 "one spinlock")
	started  bool
	stopped  bool
	free     *freeList
	liveSize uint64
	live     map[uint64]uint64 // gva -> size, for Release validation
}

// New constructs an Allocator over [base, base+capacity). It does not
// accept allocations until Start is called (spec §4.1: "Never gives out
// storage until an explicit Start following Mount").
func New(rank uint32, media wire.Media, base, capacity uint64) *Allocator {
	return &Allocator{
		rank:     rank,
		media:    media,
		base:     base,
		capacity: capacity,
		free:     newFreeList(capacity),
		live:     make(map[uint64]uint64),
	}
}

func (a *Allocator) Rank() uint32      { return a.rank }
func (a *Allocator) Media() wire.Media { return a.media }
func (a *Allocator) Base() uint64      { return a.base }
func (a *Allocator) Capacity() uint64  { return a.capacity }

// Start permits Alloc to begin serving requests.
func (a *Allocator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
	a.stopped = false
}

// Stop causes new Alloc calls to fail; outstanding blobs may still be
// freed via Release (spec §4.1).
func (a *Allocator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
}

// CanAlloc is a non-binding hint: true iff a free range of the aligned
// size currently exists.
func (a *Allocator) CanAlloc(size uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.free.canFit(AlignUp(size))
}

// Alloc performs best-fit allocation, splitting the remainder of a larger
// free range back into the free list (spec §4.1).
func (a *Allocator) Alloc(size uint64) (Blob, error) {
	if size == 0 {
		return Blob{}, mmcerr.New(mmcerr.INVALID, "alloc: size must be > 0")
	}
	aligned := AlignUp(size)

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return Blob{}, mmcerr.New(mmcerr.NotStarted, "alloc: segment not started")
	}
	if a.stopped {
		return Blob{}, mmcerr.New(mmcerr.NotStarted, "alloc: segment stopped")
	}

	r, ok := a.free.bestFit(aligned)
	if !ok {
		return Blob{}, mmcerr.Newf(mmcerr.OutOfSpace, "alloc: no free range >= %d bytes on rank=%d media=%s", aligned, a.rank, a.media)
	}
	a.free.removeByOffset(r.offset)

	if r.size > aligned {
		a.free.insert(freeRange{offset: r.offset + aligned, size: r.size - aligned})
	}

	a.liveSize += aligned
	a.live[a.base+r.offset] = aligned

	return Blob{
		Rank:  a.rank,
		Media: a.media,
		GVA:   a.base + r.offset,
		Size:  aligned,
	}, nil
}

// Release frees a previously allocated blob back into this segment,
// coalescing adjacent free ranges (spec §4.1). Releasing an already-free
// or out-of-segment blob is a program error (spec: "is a program error
// and returns INVALID").
func (a *Allocator) Release(gva uint64, size uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gva < a.base || gva+size > a.base+a.capacity {
		return mmcerr.Newf(mmcerr.INVALID, "alloc: blob [%d,%d) does not lie within segment [%d,%d)", gva, gva+size, a.base, a.base+a.capacity)
	}
	liveSize, ok := a.live[gva]
	if !ok {
		return mmcerr.Newf(mmcerr.INVALID, "alloc: release of blob at gva=%d not currently live", gva)
	}
	if liveSize != size {
		return mmcerr.Newf(mmcerr.INVALID, "alloc: release size %d does not match live size %d at gva=%d", size, liveSize, gva)
	}

	delete(a.live, gva)
	a.liveSize -= liveSize
	a.free.release(freeRange{offset: gva - a.base, size: liveSize})
	return nil
}

// BuildFromBlobs replays a set of pre-existing blobs (from the rebuild
// journal, spec §4.8) into the free trees, carving them out of the
// initial [0, capacity) free range before the segment serves requests.
func (a *Allocator) BuildFromBlobs(blobs []Blob) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, b := range blobs {
		if b.GVA < a.base || b.GVA+b.Size > a.base+a.capacity {
			return mmcerr.Newf(mmcerr.INVALID, "alloc: rebuild blob [%d,%d) outside segment [%d,%d)", b.GVA, b.GVA+b.Size, a.base, a.base+a.capacity)
		}
		offset := b.GVA - a.base
		// Carve [offset, offset+Size) out of whichever free range covers
		// it, returning any remainder on either side to the free list.
		if !a.carveOut(offset, b.Size) {
			return mmcerr.Newf(mmcerr.INVALID, "alloc: rebuild blob at offset %d does not align with any free range", offset)
		}
		a.liveSize += b.Size
		a.live[b.GVA] = b.Size
	}
	return nil
}

// carveOut finds the free range covering [offset, offset+size) and
// replaces it with up to two remainder ranges.
func (a *Allocator) carveOut(offset, size uint64) bool {
	for _, r := range a.free.byOffset {
		if offset >= r.offset && offset+size <= r.offset+r.size {
			a.free.removeByOffset(r.offset)
			if r.offset < offset {
				a.free.insert(freeRange{offset: r.offset, size: offset - r.offset})
			}
			tailStart := offset + size
			if tailStart < r.offset+r.size {
				a.free.insert(freeRange{offset: tailStart, size: r.offset + r.size - tailStart})
			}
			return true
		}
	}
	return false
}

// Usage reports (capacity, allocated) for the eviction trigger and
// metrics export.
func (a *Allocator) Usage() (capacity, allocated uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capacity, a.liveSize
}

// CanUnmount reports whether every blob has been released.
func (a *Allocator) CanUnmount() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.liveSize == 0
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{Capacity: a.capacity, Allocated: a.liveSize, FreeCount: a.free.len()}
}
