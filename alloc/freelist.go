package alloc

import "sort"

// freeRange is one contiguous unallocated extent of a segment.
type freeRange struct {
	offset uint64
	size   uint64
}

// freeList maintains the free space of one segment as two sorted views
// over the same set of ranges: byOffset (ascending offset, for coalescing
// on release) and bySize (ascending size then offset, for best-fit
// lookup) — spec §4.1: "two indexed views backed by the same free-range
// set". Both are plain sorted slices rather than balanced trees: segment
// fragmentation in this system is bounded by the number of live blobs,
// which is small enough that O(n) insert/remove is the right tradeoff
// against implementation complexity, matching the teacher's preference
// for straightforward slice-backed structures (pointerstore's free list is
// a singly-linked list of reused slots, not a tree either).
type freeList struct {
	byOffset []freeRange
	bySize   []freeRange
}

func newFreeList(capacity uint64) *freeList {
	fl := &freeList{}
	if capacity > 0 {
		fl.insert(freeRange{offset: 0, size: capacity})
	}
	return fl
}

func (fl *freeList) insert(r freeRange) {
	oi := sort.Search(len(fl.byOffset), func(i int) bool { return fl.byOffset[i].offset >= r.offset })
	fl.byOffset = append(fl.byOffset, freeRange{})
	copy(fl.byOffset[oi+1:], fl.byOffset[oi:])
	fl.byOffset[oi] = r

	si := sort.Search(len(fl.bySize), func(i int) bool {
		if fl.bySize[i].size != r.size {
			return fl.bySize[i].size >= r.size
		}
		return fl.bySize[i].offset >= r.offset
	})
	fl.bySize = append(fl.bySize, freeRange{})
	copy(fl.bySize[si+1:], fl.bySize[si:])
	fl.bySize[si] = r
}

func (fl *freeList) removeByOffset(offset uint64) (freeRange, bool) {
	oi := sort.Search(len(fl.byOffset), func(i int) bool { return fl.byOffset[i].offset >= offset })
	if oi >= len(fl.byOffset) || fl.byOffset[oi].offset != offset {
		return freeRange{}, false
	}
	r := fl.byOffset[oi]
	fl.byOffset = append(fl.byOffset[:oi], fl.byOffset[oi+1:]...)

	si := sort.Search(len(fl.bySize), func(i int) bool {
		if fl.bySize[i].size != r.size {
			return fl.bySize[i].size >= r.size
		}
		return fl.bySize[i].offset >= r.offset
	})
	// sort.Search may land just before an equal run; scan forward for the
	// exact (size, offset) match since duplicates of the same size exist.
	for si < len(fl.bySize) && fl.bySize[si].size == r.size && fl.bySize[si].offset != r.offset {
		si++
	}
	fl.bySize = append(fl.bySize[:si], fl.bySize[si+1:]...)
	return r, true
}

// bestFit returns the smallest free range whose size is >= size, with the
// lowest offset among ties (spec §4.1: "best-fit... Tie-break: lowest
// offset").
func (fl *freeList) bestFit(size uint64) (freeRange, bool) {
	i := sort.Search(len(fl.bySize), func(i int) bool { return fl.bySize[i].size >= size })
	if i >= len(fl.bySize) {
		return freeRange{}, false
	}
	return fl.bySize[i], true
}

func (fl *freeList) canFit(size uint64) bool {
	_, ok := fl.bestFit(size)
	return ok
}

// release inserts a newly-freed range, coalescing it with adjacent free
// ranges on both sides so free ranges stay "mutually disjoint and
// maximally coalesced" (spec §3 invariants).
func (fl *freeList) release(r freeRange) {
	// Merge with the range immediately to the left.
	oi := sort.Search(len(fl.byOffset), func(i int) bool { return fl.byOffset[i].offset >= r.offset })
	if oi > 0 {
		left := fl.byOffset[oi-1]
		if left.offset+left.size == r.offset {
			fl.removeByOffset(left.offset)
			r.offset = left.offset
			r.size += left.size
		}
	}
	// Merge with the range immediately to the right.
	oi = sort.Search(len(fl.byOffset), func(i int) bool { return fl.byOffset[i].offset >= r.offset })
	if oi < len(fl.byOffset) {
		right := fl.byOffset[oi]
		if r.offset+r.size == right.offset {
			fl.removeByOffset(right.offset)
			r.size += right.size
		}
	}
	fl.insert(r)
}

func (fl *freeList) totalFree() uint64 {
	var total uint64
	for _, r := range fl.byOffset {
		total += r.size
	}
	return total
}

func (fl *freeList) len() int { return len(fl.byOffset) }
