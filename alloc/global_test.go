package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memfabric/mmc/wire"
)

func newMountedGlobal(t *testing.T, worldSize uint32, capacity uint64) *GlobalAllocator {
	t.Helper()
	g := NewGlobalAllocator(worldSize)
	for rank := uint32(0); rank < worldSize; rank++ {
		a := New(rank, wire.MediaDRAM, 0, capacity)
		a.Start()
		require.NoError(t, g.Mount(Location{Rank: rank, Media: wire.MediaDRAM}, a))
	}
	return g
}

// TestRouteSpillsAcrossRanksWhenPreferredFills pins spec §4.2 scenario
// S2's over-capacity case: 12 blobs of 32 KiB each, routed with
// preferredRank=2 over 320 KiB-per-rank segments, must land 10 on rank 2
// (320KiB / 32KiB) and spill the remaining 2 onto rank 3.
func TestRouteSpillsAcrossRanksWhenPreferredFills(t *testing.T) {
	const segCapacity = 320 * 1024
	const blobSize = 32 * 1024
	g := newMountedGlobal(t, 4, segCapacity)

	blobs, err := g.Route(AllocRequest{
		Size:          blobSize,
		Count:         12,
		Media:         wire.MediaDRAM,
		PreferredRank: 2,
	})
	require.NoError(t, err)
	require.Len(t, blobs, 12)

	byRank := map[uint32]int{}
	for _, b := range blobs {
		require.EqualValues(t, AlignUp(blobSize), b.Size)
		byRank[b.Rank]++
	}
	require.Equal(t, map[uint32]int{2: 10, 3: 2}, byRank)

	a2, ok := g.Get(Location{Rank: 2, Media: wire.MediaDRAM})
	require.True(t, ok)
	_, allocated2 := a2.Usage()
	require.EqualValues(t, segCapacity, allocated2)

	a3, ok := g.Get(Location{Rank: 3, Media: wire.MediaDRAM})
	require.True(t, ok)
	_, allocated3 := a3.Usage()
	require.EqualValues(t, 2*AlignUp(blobSize), allocated3)
}

// TestRouteSingleBlobStaysOnPreferredRank covers the common case: a
// single blob that fits stays on PreferredRank without spilling.
func TestRouteSingleBlobStaysOnPreferredRank(t *testing.T) {
	g := newMountedGlobal(t, 2, 1<<20)

	blobs, err := g.Route(AllocRequest{Size: 4096, Count: 1, Media: wire.MediaDRAM, PreferredRank: 1})
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	require.EqualValues(t, 1, blobs[0].Rank)
}

// TestRouteFailsClosedAndReleasesPartialReservation confirms that when a
// request cannot be fully placed, every blob this call already reserved
// is released rather than leaked.
func TestRouteFailsClosedAndReleasesPartialReservation(t *testing.T) {
	const segCapacity = 32 * 1024
	const blobSize = 32 * 1024
	g := newMountedGlobal(t, 1, segCapacity)

	_, err := g.Route(AllocRequest{Size: blobSize, Count: 2, Media: wire.MediaDRAM, PreferredRank: 0})
	require.Error(t, err)

	a, ok := g.Get(Location{Rank: 0, Media: wire.MediaDRAM})
	require.True(t, ok)
	_, allocated := a.Usage()
	require.Zero(t, allocated)
}

// TestRouteForceByRankRefusesSpill confirms ALLOC_FORCE_BY_RANK fails
// fast instead of spilling to another rank.
func TestRouteForceByRankRefusesSpill(t *testing.T) {
	g := newMountedGlobal(t, 2, 4096)

	// Fill rank 0 with a first allocation so a second one at PreferredRank
	// 0 has nowhere left to land.
	_, err := g.Route(AllocRequest{Size: 4096, Count: 1, Media: wire.MediaDRAM, PreferredRank: 0})
	require.NoError(t, err)

	_, err = g.Route(AllocRequest{
		Size: 4096, Count: 1, Media: wire.MediaDRAM, PreferredRank: 0,
		Flags: wire.AllocForceByRank,
	})
	require.Error(t, err)
}
