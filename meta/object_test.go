package meta

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memfabric/mmc/wire"
)

func readyBlob(rank uint32, size uint64) *BlobMeta {
	b := NewBlobMeta(rank, wire.MediaHBM)
	if _, err := b.ApplyAction(wire.ActionAllocOK); err != nil {
		panic(err)
	}
	b.SetExtent(rank*1<<20, size)
	if _, err := b.ApplyAction(wire.ActionWriteStart); err != nil {
		panic(err)
	}
	if _, err := b.ApplyAction(wire.ActionWriteOK); err != nil {
		panic(err)
	}
	return b
}

func TestObjectReadyBlobPrefersRequestingRank(t *testing.T) {
	o := NewObject("k1", 0)
	o.AddBlob(readyBlob(1, 1024))
	o.AddBlob(readyBlob(2, 1024))

	b, err := o.ReadyBlob(2)
	require.NoError(t, err)
	require.EqualValues(t, 2, b.Rank)

	b, err = o.ReadyBlob(7)
	require.NoError(t, err)
	require.Contains(t, []uint32{1, 2}, b.Rank)
}

func TestObjectReadyBlobErrorsWithNoneReady(t *testing.T) {
	o := NewObject("k1", 0)
	o.AddBlob(NewBlobMeta(1, wire.MediaHBM))
	_, err := o.ReadyBlob(1)
	require.Error(t, err)
}

func TestObjectAllFinal(t *testing.T) {
	o := NewObject("k1", 0)
	b := readyBlob(1, 512)
	o.AddBlob(b)
	require.False(t, o.AllFinal())

	_, err := b.ApplyAction(wire.ActionRemoveStart)
	require.NoError(t, err)
	_, err = b.ApplyAction(wire.ActionRemoveOK)
	require.NoError(t, err)
	require.True(t, o.AllFinal())
}

func TestObjectSizeFromReadyReplica(t *testing.T) {
	o := NewObject("k1", 0)
	o.AddBlob(readyBlob(1, 2048))
	require.EqualValues(t, 2048, o.Size())
}
