package metamgr

import (
	"context"

	"github.com/memfabric/mmc/alloc"
	"github.com/memfabric/mmc/meta"
	"github.com/memfabric/mmc/wire"
)

// demotionTarget maps a source tier to the tier eviction copies into
// before releasing the source blob (spec §4.5: "copy-then-demote": HBM
// evicts to DRAM; DRAM has nowhere lower to evict to and is simply
// removed). Grounded on the retrieval pack's aistore lru.go, which runs
// the identical two-tier "move colder, else delete" policy between its
// memory and disk caches.
func demotionTarget(media wire.Media) (wire.Media, bool) {
	if media == wire.MediaHBM {
		return wire.MediaDRAM, true
	}
	return wire.MediaNone, false
}

// CheckAndEvict runs one eviction pass against media: while usage on that
// tier is at or above EvictThresholdHigh, it walks eviction candidates
// from least to most recently used, copy-then-demotes (or removes, if
// the tier has nowhere lower to go) until usage falls to
// EvictThresholdLow or candidates are exhausted (spec §4.5).
//
// A candidate currently leased (an active reader, or inside its TTL
// grace window) is skipped rather than evicted (spec §4.5, §7:
// LEASE_NOT_EXPIRED protects in-flight reads).
func (m *MetaMgr) CheckAndEvict(ctx context.Context, media wire.Media) error {
	if m.copier == nil {
		return nil
	}
	m.metrics.EvictionRunsTotal.Inc()

	for m.galloc.UsageRateAt(media) >= m.cfg.EvictThresholdHigh {
		candidates := m.objects.EvictionCandidates(64, m.cfg.DefaultPriorityCeil)
		progressed := false

		for _, obj := range candidates {
			if m.galloc.UsageRateAt(media) <= m.cfg.EvictThresholdLow {
				return nil
			}
			if m.leases.Held(obj.Key) {
				continue
			}

			for _, b := range obj.Blobs {
				snap := b.Snapshot()
				if snap.Media != media || snap.State != wire.StateDataReady {
					continue
				}
				if err := m.evictOne(ctx, obj, b); err != nil {
					m.log.Warnf("evict key %q rank=%d: %v", obj.Key, snap.Rank, err)
					continue
				}
				progressed = true
			}

			if obj.AllFinal() {
				_ = m.objects.Erase(obj.Key)
				m.leases.Forget(obj.Key)
				m.metrics.ObjectsTotal.Dec()
			}
		}

		if !progressed {
			// Nothing evictable remains (all candidates leased, or no
			// blob on this tier); further looping would spin.
			return nil
		}
	}
	return nil
}

// evictOne retires one DATA_READY blob of obj, either by copying it down
// to a lower tier and installing the copy as a new replica, or — when no
// lower tier exists or has room — by releasing it outright. MetaMgr
// reserves the destination extent itself (the same way Alloc does) so
// the global allocator's accounting stays authoritative; the copier's
// only job is moving the bytes that extent now owns.
func (m *MetaMgr) evictOne(ctx context.Context, obj *meta.Object, b *meta.BlobMeta) error {
	snap := b.Snapshot()
	srcLoc := alloc.Location{Rank: snap.Rank, Media: snap.Media}
	srcBlob := alloc.Blob{Rank: snap.Rank, Media: snap.Media, GVA: snap.GVA, Size: snap.Size}

	dstMedia, ok := demotionTarget(snap.Media)
	var dstAlloc *alloc.Allocator
	if ok {
		dstAlloc, ok = m.galloc.Get(alloc.Location{Rank: snap.Rank, Media: dstMedia})
	}
	if !ok {
		return m.removeAndCount(srcLoc, snap, b)
	}

	dstBlob, err := dstAlloc.Alloc(snap.Size)
	if err != nil {
		// Lower tier is saturated too; fall back to removal rather than
		// blocking eviction indefinitely (spec §4.5).
		return m.removeAndCount(srcLoc, snap, b)
	}

	if err := m.copier.CopyBlob(ctx, obj.Key, srcBlob, dstBlob); err != nil {
		_ = dstAlloc.Release(dstBlob.GVA, dstBlob.Size)
		return err
	}

	if err := m.retireBlob(srcLoc, snap, b); err != nil {
		return err
	}

	nb := meta.NewBlobMeta(dstBlob.Rank, dstBlob.Media)
	if _, err := nb.ApplyAction(wire.ActionAllocOK); err != nil {
		return err
	}
	nb.SetExtent(dstBlob.GVA, dstBlob.Size)
	if _, err := nb.ApplyAction(wire.ActionWriteStart); err != nil {
		return err
	}
	if _, err := nb.ApplyAction(wire.ActionWriteOK); err != nil {
		return err
	}
	obj.AddBlob(nb)

	m.metrics.EvictionDemotedTotal.Inc()
	return nil
}

func (m *MetaMgr) removeAndCount(loc alloc.Location, snap wire.BlobDesc, b *meta.BlobMeta) error {
	if err := m.retireBlob(loc, snap, b); err != nil {
		return err
	}
	m.metrics.EvictionRemovedTotal.Inc()
	return nil
}

// retireBlob drives b through REMOVE_START/REMOVE_OK and releases its
// extent from the owning allocator.
func (m *MetaMgr) retireBlob(loc alloc.Location, snap wire.BlobDesc, b *meta.BlobMeta) error {
	if _, err := b.ApplyAction(wire.ActionRemoveStart); err != nil {
		return err
	}
	if a, ok := m.galloc.Get(loc); ok {
		if err := a.Release(snap.GVA, snap.Size); err != nil {
			return err
		}
	}
	if _, err := b.ApplyAction(wire.ActionRemoveOK); err != nil {
		return err
	}
	return nil
}
