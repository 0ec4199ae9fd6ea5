package meta

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memfabric/mmc/mmcerr"
	"github.com/memfabric/mmc/wire"
)

func TestBlobMetaApplyActionLifecycle(t *testing.T) {
	b := NewBlobMeta(3, wire.MediaHBM)
	require.Equal(t, wire.StateInit, b.CurrentState())

	trigger, err := b.ApplyAction(wire.ActionAllocOK)
	require.NoError(t, err)
	require.False(t, trigger)
	require.Equal(t, wire.StateAllocated, b.CurrentState())
	require.EqualValues(t, 1, b.Generation)

	b.SetExtent(4096, 4096)

	_, err = b.ApplyAction(wire.ActionWriteStart)
	require.NoError(t, err)

	// WRITE_OK from DATA_WRITING reaches DATA_READY without triggering a
	// backup; only the ALLOCATED --WRITE_OK--> edge does.
	trigger, err = b.ApplyAction(wire.ActionWriteOK)
	require.NoError(t, err)
	require.False(t, trigger)
	require.Equal(t, wire.StateDataReady, b.CurrentState())

	snap := b.Snapshot()
	require.Equal(t, uint32(3), snap.Rank)
	require.Equal(t, uint64(4096), snap.GVA)
}

func TestBlobMetaApplyActionRejectsBadTransition(t *testing.T) {
	b := NewBlobMeta(0, wire.MediaDRAM)
	_, err := b.ApplyAction(wire.ActionWriteOK)
	require.Error(t, err)
	require.Equal(t, mmcerr.UnmatchedState, mmcerr.ToCode(err))
	require.Equal(t, wire.StateInit, b.CurrentState())
}

func TestBlobMetaRequireState(t *testing.T) {
	b := NewBlobMeta(0, wire.MediaDRAM)
	require.NoError(t, b.RequireState(wire.StateInit, wire.StateAllocated))
	require.Error(t, b.RequireState(wire.StateDataReady))
}
