// Package metamgr is the global metadata authority (spec §4.2): it
// accepts Alloc/Get/UpdateState/Remove/Query from clients, owns the
// object container and lease manager, and drives eviction against the
// mounted allocators. It plays the role the teacher's top-level
// location-system registry plays over offheap segments, generalized from
// one process's in-heap table to a catalog spanning every rank's
// contributed memory.
package metamgr

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/memfabric/mmc/alloc"
	"github.com/memfabric/mmc/container"
	"github.com/memfabric/mmc/meta"
	"github.com/memfabric/mmc/metrics"
	"github.com/memfabric/mmc/mmcerr"
	"github.com/memfabric/mmc/mmclog"
	"github.com/memfabric/mmc/wire"
)

// defaultLeaseTTL mirrors config.MetaConfig's default_ttl_ms fallback
// (spec §4.7 defaultTtlMs) for callers that construct a Config directly
// without going through config.LoadMetaConfig.
const defaultLeaseTTL = 10 * time.Second

func rankLabel(rank uint32) string { return strconv.FormatUint(uint64(rank), 10) }

// BlobCopier performs the cross-tier data copy an eviction demotion
// needs: bytes physically move only on the rank that owns them, so
// MetaMgr delegates the actual DMA to whatever drives that rank's
// LocalSvc (spec §4.5, §4.6). MetaMgr has already reserved dst's extent
// before calling CopyBlob; the copier's only job is moving bytes into
// it. Production wiring is an RPC client issuing OpBlobCopy; tests can
// fake this directly.
type BlobCopier interface {
	CopyBlob(ctx context.Context, key string, src, dst alloc.Blob) error
}

// Config holds the tunables MetaMgr needs beyond its collaborators.
type Config struct {
	WorldSize           uint32
	EvictThresholdHigh  float64 // spec §4.5: usage rate at/above which eviction begins
	EvictThresholdLow   float64 // usage rate eviction stops at
	DefaultPriorityCeil uint32  // objects at or below this priority are evictable by default
	RemoveQueueDepth    int
	DefaultTTL          time.Duration // spec §4.7 defaultTtlMs: reader-lease lifetime a Get acquires
}

// MetaMgr is the global metadata authority.
type MetaMgr struct {
	cfg Config

	galloc  *alloc.GlobalAllocator
	objects *container.Container
	leases  *meta.LeaseManager
	journal Journal
	copier  BlobCopier

	log     *mmclog.Logger
	metrics *metrics.Registry

	removeQueue chan string
	wg          sync.WaitGroup
	closeOnce   sync.Once
	closeC      chan struct{}
}

// New constructs a MetaMgr. journal and copier may be nil; a nil journal
// disables rebuild persistence, a nil copier disables eviction (Alloc,
// Get, UpdateState, Remove, Query still function).
func New(cfg Config, journal Journal, copier BlobCopier, log *mmclog.Logger, reg *metrics.Registry) *MetaMgr {
	if cfg.RemoveQueueDepth <= 0 {
		cfg.RemoveQueueDepth = 1024
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultLeaseTTL
	}
	if log == nil {
		log = mmclog.Nop()
	}
	if reg == nil {
		reg = metrics.Noop()
	}
	m := &MetaMgr{
		cfg:         cfg,
		galloc:      alloc.NewGlobalAllocator(cfg.WorldSize),
		objects:     container.New(),
		leases:      meta.NewLeaseManager(),
		journal:     journal,
		copier:      copier,
		log:         log.Component("metamgr"),
		metrics:     reg,
		removeQueue: make(chan string, cfg.RemoveQueueDepth),
		closeC:      make(chan struct{}),
	}
	m.wg.Add(1)
	go m.removeLoop()
	return m
}

func (m *MetaMgr) Close() {
	m.closeOnce.Do(func() { close(m.closeC) })
	m.wg.Wait()
}

// Mount registers loc's Allocator with the global registry (spec §4.2).
func (m *MetaMgr) Mount(loc alloc.Location, a *alloc.Allocator) error {
	return m.galloc.Mount(loc, a)
}

// Unmount removes loc's Allocator, refusing while it still holds live
// blobs (spec §4.2).
func (m *MetaMgr) Unmount(loc alloc.Location) error {
	return m.galloc.Unmount(loc)
}

// RegisterSegment builds and mounts the catalog-side Allocator mirroring
// a segment a LocalSvc process just announced over BM_REGISTER (spec
// §4.6): MetaMgr only ever does offset accounting for remote ranks, so
// it carves out a fresh Allocator from (base, capacity) rather than
// receiving the physical memory itself.
func (m *MetaMgr) RegisterSegment(rank uint32, media wire.Media, base, capacity uint64) error {
	a := alloc.New(rank, media, base, capacity)
	a.Start()
	return m.galloc.Mount(alloc.Location{Rank: rank, Media: media}, a)
}

// UnregisterSegment unmounts a previously registered segment, refusing
// while it still holds live blobs.
func (m *MetaMgr) UnregisterSegment(rank uint32, media wire.Media) error {
	return m.galloc.Unmount(alloc.Location{Rank: rank, Media: media})
}

// AllocRequest is the validated input to Alloc.
type AllocRequest struct {
	Key           string
	Size          uint64
	ReplicaCount  uint32
	Media         wire.Media
	PreferredRank uint32
	Flags         wire.AllocFlags
	Priority      uint32
}

// Alloc creates a new Object with ReplicaCount blobs routed across the
// fabric, transitioning each blob INIT->ALLOCATED (spec §4.2, §4.3).
func (m *MetaMgr) Alloc(req AllocRequest) (*meta.Object, error) {
	if len(req.Key) == 0 || len(req.Key) > int(wire.MaxKeyLen) {
		return nil, mmcerr.Newf(mmcerr.INVALID, "metamgr: key length %d exceeds MaxKeyLen", len(req.Key))
	}
	if req.ReplicaCount == 0 {
		req.ReplicaCount = 1
	}

	blobs, err := m.galloc.Route(alloc.AllocRequest{
		Size:          req.Size,
		Count:         req.ReplicaCount,
		Media:         req.Media,
		PreferredRank: req.PreferredRank,
		Flags:         req.Flags,
	})
	if err != nil {
		m.metrics.AllocFailuresTotal.WithLabelValues(rankLabel(req.PreferredRank), req.Media.String()).Inc()
		return nil, err
	}

	obj := meta.NewObject(req.Key, req.Priority)
	for _, blob := range blobs {
		bm := meta.NewBlobMeta(blob.Rank, blob.Media)
		if _, err := bm.ApplyAction(wire.ActionAllocOK); err != nil {
			m.rollbackAlloc(blobs)
			return nil, err
		}
		bm.SetExtent(blob.GVA, blob.Size)
		obj.AddBlob(bm)
	}

	if err := m.objects.Insert(req.Key, obj); err != nil {
		m.rollbackAlloc(blobs)
		return nil, err
	}

	m.metrics.AllocAttemptsTotal.WithLabelValues(rankLabel(req.PreferredRank), req.Media.String()).Inc()
	m.metrics.ObjectsTotal.Inc()
	m.leases.Touch(req.Key, 0)
	return obj, nil
}

// rollbackAlloc releases every extent Route already carved out for this
// request, so a later failure (a blob metadata transition, or the
// container Insert) never leaks space (spec §4.2: "Alloc is atomic
// across its replicas").
func (m *MetaMgr) rollbackAlloc(blobs []alloc.Blob) {
	for _, blob := range blobs {
		if a, ok := m.galloc.Get(alloc.Location{Rank: blob.Rank, Media: blob.Media}); ok {
			_ = a.Release(blob.GVA, blob.Size)
		}
	}
}

// Get returns the replica descriptor for key, preferring rank, and
// acquires a reader lease under opID (spec §4.5: "acquire a reader lease
// (adds {rank, seq} to the lease set, extends deadline); pick one blob
// passing filter; transition it DATA_READY -> COPYING"). The caller is
// expected to complete its DMA and then issue UpdateState(READ_OK, opID)
// to release the lease and drive the blob back to DATA_READY.
func (m *MetaMgr) Get(key string, rank uint32, opID uint64) (wire.BlobDesc, error) {
	obj, err := m.objects.Get(key)
	if err != nil {
		return wire.BlobDesc{}, err
	}
	blob, err := obj.ReadyBlob(rank)
	if err != nil {
		return wire.BlobDesc{}, err
	}
	if _, err := blob.ApplyAction(wire.ActionCopyStart); err != nil {
		return wire.BlobDesc{}, err
	}
	m.leases.Acquire(key, opID, m.cfg.DefaultTTL)
	obj.Touch()
	return blob.Snapshot(), nil
}

// UpdateState drives one replica's state machine (spec §4.3), journaling
// the transition only on the ALLOCATED --WRITE_OK--> DATA_READY edge; a
// replica that reaches DATA_READY through DATA_WRITING is not journaled. A
// READ_OK action additionally releases the reader lease opID acquired by
// the Get that preceded it, driving COPYING -> DATA_READY (spec §4.5).
func (m *MetaMgr) UpdateState(key string, rank uint32, media wire.Media, action wire.Action, opID uint64) error {
	obj, err := m.objects.Get(key)
	if err != nil {
		return err
	}
	blob, ok := obj.BlobAt(rank, media)
	if !ok {
		return mmcerr.Newf(mmcerr.UnmatchedKey, "metamgr: no replica on rank=%d media=%s for key %q", rank, media, key)
	}
	trigger, err := blob.ApplyAction(action)
	if err != nil {
		return err
	}
	if action == wire.ActionReadOK {
		m.leases.Release(key, opID)
	}
	if trigger && m.journal != nil {
		if jerr := m.journal.Append(JournalEntry{Key: key, Blob: blob.Snapshot()}); jerr != nil {
			m.log.Warnf("journal append failed for key %q: %v", key, jerr)
		}
	}
	return nil
}

// QueryResult mirrors wire.QueryResponse's payload (spec §6).
type QueryResult struct {
	Size     uint64
	NumBlobs int
	Blobs    []wire.BlobDesc
}

// Query reports an object's current shape without affecting its lease.
func (m *MetaMgr) Query(key string) (QueryResult, error) {
	obj, ok := m.objects.Peek(key)
	if !ok {
		return QueryResult{}, mmcerr.Newf(mmcerr.UnmatchedKey, "metamgr: key %q not found", key)
	}
	blobs := obj.Snapshot()
	return QueryResult{Size: obj.Size(), NumBlobs: len(blobs), Blobs: blobs}, nil
}

// IsExist reports key's presence without promoting LRU order or touching
// its lease (spec §4.4).
func (m *MetaMgr) IsExist(key string) bool {
	return m.objects.Exists(key)
}

// Remove marks every replica of key REMOVING and enqueues the object for
// asynchronous release, refusing while the key's lease is held (spec
// §4.4: "Remove is rejected with LEASE_NOT_EXPIRED while a reader is
// still draining the object").
func (m *MetaMgr) Remove(key string) error {
	obj, ok := m.objects.Peek(key)
	if !ok {
		return mmcerr.Newf(mmcerr.UnmatchedKey, "metamgr: key %q not found", key)
	}
	if err := m.leases.RequireExpired(key); err != nil {
		return err
	}
	for _, b := range obj.Blobs {
		if _, err := b.ApplyAction(wire.ActionRemoveStart); err != nil {
			return err
		}
	}
	select {
	case m.removeQueue <- key:
	default:
		return mmcerr.Newf(mmcerr.Timeout, "metamgr: remove queue full, key %q not enqueued", key)
	}
	return nil
}

func (m *MetaMgr) removeLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.closeC:
			return
		case key := <-m.removeQueue:
			m.finishRemove(key)
		}
	}
}

func (m *MetaMgr) finishRemove(key string) {
	obj, ok := m.objects.Peek(key)
	if !ok {
		return
	}
	for _, b := range obj.Blobs {
		snap := b.Snapshot()
		if a, ok := m.galloc.Get(alloc.Location{Rank: snap.Rank, Media: snap.Media}); ok {
			if err := a.Release(snap.GVA, snap.Size); err != nil {
				m.log.Warnf("release failed during remove of key %q rank=%d: %v", key, snap.Rank, err)
				continue
			}
		}
		if _, err := b.ApplyAction(wire.ActionRemoveOK); err != nil {
			m.log.Warnf("remove-ok transition failed for key %q rank=%d: %v", key, snap.Rank, err)
		}
	}
	if obj.AllFinal() {
		_ = m.objects.Erase(key)
		m.leases.Forget(key)
		m.metrics.ObjectsTotal.Dec()
	}
}
