// Package container implements the sharded LRU-keyed metadata store (spec
// §4.4): every Object key lives in one of a fixed number of independently
// locked buckets, each an LRU list, so concurrent callers touching
// different keys almost never contend on the same lock. It generalizes
// the teacher's offheap slot-table sharding (offheap splits its interned
// value table into buckets keyed by hash, each with its own lock) from a
// fixed-slot table to a variable-size LRU list per bucket.
package container

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/memfabric/mmc/meta"
	"github.com/memfabric/mmc/mmcerr"
)

// numShards is prime (spec §4.4: "prime bucket count, not a power of two,
// so that hash strides common in sequential test keys don't all land in
// the same bucket"). 29 matches the teacher's own bucket-count choice for
// offheap's intern table.
const numShards = 29

type entry struct {
	key string
	obj *meta.Object
}

type shard struct {
	mu    sync.Mutex
	index map[string]*list.Element
	lru   *list.List // front = most recently used, back = eviction candidate
}

func newShard() *shard {
	return &shard{index: make(map[string]*list.Element), lru: list.New()}
}

// Container is the full sharded key space.
type Container struct {
	shards [numShards]*shard
}

func New() *Container {
	c := &Container{}
	for i := range c.shards {
		c.shards[i] = newShard()
	}
	return c
}

func shardIndex(key string) uint64 {
	return xxhash.Sum64String(key) % numShards
}

func (c *Container) shardFor(key string) *shard {
	return c.shards[shardIndex(key)]
}

// Insert adds a new Object under key, failing with mmcerr.Duplicated if
// the key is already present (spec §4.4 Alloc: "a key already present in
// the container is Duplicated, not silently replaced").
func (c *Container) Insert(key string, obj *meta.Object) error {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[key]; exists {
		return mmcerr.Newf(mmcerr.Duplicated, "container: key %q already present", key)
	}
	el := s.lru.PushFront(&entry{key: key, obj: obj})
	s.index[key] = el
	return nil
}

// Get returns the Object for key, promoting it to most-recently-used.
// Returns mmcerr.UnmatchedKey if absent.
func (c *Container) Get(key string) (*meta.Object, error) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.index[key]
	if !ok {
		return nil, mmcerr.Newf(mmcerr.UnmatchedKey, "container: key %q not found", key)
	}
	s.lru.MoveToFront(el)
	return el.Value.(*entry).obj, nil
}

// Peek returns the Object for key without affecting LRU order, used by
// Query and by eviction scanning (spec §4.4, §4.5).
func (c *Container) Peek(key string) (*meta.Object, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.index[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).obj, true
}

// Erase removes key entirely. Returns mmcerr.UnmatchedKey if absent.
func (c *Container) Erase(key string) error {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.index[key]
	if !ok {
		return mmcerr.Newf(mmcerr.UnmatchedKey, "container: key %q not found", key)
	}
	s.lru.Remove(el)
	delete(s.index, key)
	return nil
}

// Exists reports key's presence without touching LRU order.
func (c *Container) Exists(key string) bool {
	_, ok := c.Peek(key)
	return ok
}

// Len returns the total number of keys across every shard.
func (c *Container) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.index)
		s.mu.Unlock()
	}
	return total
}

// EvictionCandidates walks every shard from its least-recently-used end,
// collecting up to limit objects whose Priority is <= priorityCeiling
// (spec §4.5 supplement: a caller-set priority floor protects hot/pinned
// objects from automatic eviction regardless of LRU position). Candidates
// are returned shard-interleaved in oldest-first order within each shard;
// CheckAndEvict further skips candidates whose lease is held.
func (c *Container) EvictionCandidates(limit int, priorityCeiling uint32) []*meta.Object {
	out := make([]*meta.Object, 0, limit)
	for _, s := range c.shards {
		s.mu.Lock()
		for el := s.lru.Back(); el != nil && len(out) < limit; el = el.Prev() {
			e := el.Value.(*entry)
			if e.obj.Priority <= priorityCeiling {
				out = append(out, e.obj)
			}
		}
		s.mu.Unlock()
		if len(out) >= limit {
			break
		}
	}
	return out
}

// ForEach invokes fn for every (key, object) pair, in no particular
// order, used by rebuild and by metrics export. fn must not call back
// into the Container.
func (c *Container) ForEach(fn func(key string, obj *meta.Object)) {
	for _, s := range c.shards {
		s.mu.Lock()
		for el := s.lru.Front(); el != nil; el = el.Next() {
			e := el.Value.(*entry)
			fn(e.key, e.obj)
		}
		s.mu.Unlock()
	}
}
