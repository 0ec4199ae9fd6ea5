// Package meta implements the blob and object metadata model (spec §3):
// the blob state machine, the Object aggregate that groups replica blobs
// under one key, and the lease manager guarding objects a reader is
// currently draining. It is the Go generalization of the teacher's
// offheap object-reference bookkeeping, adapted from fixed-size interned
// values to variably-sized, multi-replica, multi-rank blobs.
package meta

import (
	"github.com/memfabric/mmc/mmcerr"
	"github.com/memfabric/mmc/wire"
)

// transitions enumerates every legal (from, action) -> to edge of the
// blob state machine (spec §4.3). Any pair absent from this table is
// UNMATCHED_STATE.
var transitions = map[wire.BlobState]map[wire.Action]wire.BlobState{
	wire.StateInit: {
		wire.ActionAllocOK:   wire.StateAllocated,
		wire.ActionAllocFail: wire.StateFinal,
	},
	wire.StateAllocated: {
		wire.ActionWriteStart:  wire.StateDataWriting,
		wire.ActionWriteOK:     wire.StateDataReady,
		wire.ActionRemoveStart: wire.StateRemoving,
	},
	wire.StateDataWriting: {
		wire.ActionWriteOK:   wire.StateDataReady,
		wire.ActionWriteFail: wire.StateAllocated,
	},
	wire.StateDataReady: {
		wire.ActionCopyStart:   wire.StateCopying,
		wire.ActionRemoveStart: wire.StateRemoving,
	},
	wire.StateCopying: {
		wire.ActionCopyEnd: wire.StateDataReady,
		wire.ActionReadOK:  wire.StateDataReady,
	},
	wire.StateRemoving: {
		wire.ActionRemoveOK: wire.StateFinal,
	},
}

// Next applies action to from, returning the resulting state or
// UNMATCHED_STATE if the pair has no edge in the table (spec §4.3).
func Next(from wire.BlobState, action wire.Action) (wire.BlobState, error) {
	edges, ok := transitions[from]
	if !ok {
		return from, mmcerr.Newf(mmcerr.UnmatchedState, "meta: state %s has no outgoing transitions", from)
	}
	to, ok := edges[action]
	if !ok {
		return from, mmcerr.Newf(mmcerr.UnmatchedState, "meta: no transition from %s on action %d", from, action)
	}
	return to, nil
}

// TriggersBackup reports whether this transition is the one that feeds
// the rebuild journal (spec §4.3: "a transition of a blob in ALLOCATED on
// WRITE_OK additionally triggers backup... queued to the rebuild log").
// Note this is the ALLOCATED->DATA_READY edge specifically, not the
// DATA_WRITING->DATA_READY edge a WRITE_START/WRITE_OK pair also reaches.
func TriggersBackup(from wire.BlobState, action wire.Action) bool {
	return from == wire.StateAllocated && action == wire.ActionWriteOK
}

// IsTerminal reports whether state has no further outgoing transitions.
func IsTerminal(s wire.BlobState) bool {
	return s == wire.StateFinal
}
