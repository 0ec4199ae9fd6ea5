package meta

import (
	"sync"

	"github.com/memfabric/mmc/mmcerr"
	"github.com/memfabric/mmc/wire"
)

// BlobMeta is one replica's metadata, guarded by its own state machine
// (spec §3, §4.3). Mutation goes exclusively through ApplyAction so every
// transition is checked against the table in state.go.
type BlobMeta struct {
	mu sync.Mutex

	Rank       uint32
	Media      wire.Media
	GVA        uint64
	Size       uint64
	State      wire.BlobState
	Generation uint64 // bumped on every successful transition; stale-RPC guard (SPEC_FULL supplement)
}

// NewBlobMeta constructs a blob descriptor in INIT, the state every blob
// starts in before its backing Allocator.Alloc call is confirmed.
func NewBlobMeta(rank uint32, media wire.Media) *BlobMeta {
	return &BlobMeta{Rank: rank, Media: media, State: wire.StateInit}
}

// ApplyAction drives the state machine, returning mmcerr.UnmatchedState
// if action has no edge from the current state (spec §4.3). On success it
// records the new state, bumps Generation, and reports whether this
// transition should feed the rebuild journal.
func (b *BlobMeta) ApplyAction(action wire.Action) (triggersBackup bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	to, err := Next(b.State, action)
	if err != nil {
		return false, err
	}
	trigger := TriggersBackup(b.State, action)
	b.State = to
	b.Generation++
	return trigger, nil
}

// SetExtent records the backing allocation once ALLOC_OK has moved the
// blob out of INIT.
func (b *BlobMeta) SetExtent(gva, size uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.GVA = gva
	b.Size = size
}

func (b *BlobMeta) Snapshot() wire.BlobDesc {
	b.mu.Lock()
	defer b.mu.Unlock()
	return wire.BlobDesc{
		Rank:  b.Rank,
		Media: b.Media,
		GVA:   b.GVA,
		Size:  b.Size,
		State: b.State,
	}
}

func (b *BlobMeta) CurrentState() wire.BlobState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.State
}

// RequireState returns mmcerr.UnmatchedState unless the blob is currently
// in one of want, a guard used before operations that only make sense in
// certain states (e.g. a Get against a blob not yet DATA_READY).
func (b *BlobMeta) RequireState(want ...wire.BlobState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range want {
		if b.State == w {
			return nil
		}
	}
	return mmcerr.Newf(mmcerr.UnmatchedState, "meta: blob in state %s, want one of %v", b.State, want)
}
