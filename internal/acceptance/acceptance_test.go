// Package acceptance drives the full MetaSvc/LocalSvc/Client stack
// through the invariants and scenarios spec §8 names. Each scenario gets
// its own test function rather than a table, since each exercises a
// distinct code path (fragmentation, cross-rank routing, eviction,
// unmount-with-live-data) that reads better spelled out than abstracted.
package acceptance

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memfabric/mmc/alloc"
	"github.com/memfabric/mmc/client"
	"github.com/memfabric/mmc/fabric"
	"github.com/memfabric/mmc/internal/testutil"
	"github.com/memfabric/mmc/localsvc"
	"github.com/memfabric/mmc/metamgr"
	"github.com/memfabric/mmc/metasvc"
	"github.com/memfabric/mmc/mmcerr"
	"github.com/memfabric/mmc/rpc"
	"github.com/memfabric/mmc/wire"
)

func dialedServer(t *testing.T, handler rpc.Handler, rankID uint32) *rpc.Client {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := rpc.NewServer(l, handler, 4, rankID, nil)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	c := rpc.NewClient(conn, rankID, nil)
	t.Cleanup(func() { c.Close() })
	return c
}

// rankSegment is one simulated rank's driver + allocator pair, mounted
// both into MetaMgr's catalog and into that rank's own LocalSvc.
type rankSegment struct {
	rank   uint32
	driver fabric.Driver
	alloc  *alloc.Allocator
	local  *localsvc.Service
}

func newRankSegment(t *testing.T, world *fabric.World, rank uint32, capacity uint64) rankSegment {
	t.Helper()
	driver := fabric.NewSimDriver(world, int(rank), 0)
	base, err := driver.GvaReserve(context.Background(), capacity, 0, 0)
	require.NoError(t, err)
	a := alloc.New(rank, wire.MediaDRAM, base, capacity)
	a.Start()
	local := localsvc.New(rank, driver, nil, nil)
	local.MountSegment(wire.MediaDRAM, a)
	return rankSegment{rank: rank, driver: driver, alloc: a, local: local}
}

// harness wires one MetaMgr across worldSize ranks sharing one fabric
// World (spec §8's scenarios all fit on a single simulated host), each
// rank's LocalSvc served over its own loopback listener.
type harness struct {
	mgr     *metamgr.MetaMgr
	ranks   []rankSegment
	client  *client.Client
	metaSvc *rpc.Client
}

func newHarness(t *testing.T, worldSize int, copier metamgr.BlobCopier) *harness {
	t.Helper()
	world := fabric.NewWorld()
	mgr := metamgr.New(metamgr.Config{
		WorldSize:           uint32(worldSize),
		DefaultPriorityCeil: 10,
		EvictThresholdHigh:  0.75,
		EvictThresholdLow:   0.25,
	}, nil, copier, nil, nil)
	t.Cleanup(mgr.Close)

	ranks := make([]rankSegment, worldSize)
	for i := 0; i < worldSize; i++ {
		seg := newRankSegment(t, world, uint32(i), 1<<20)
		require.NoError(t, mgr.Mount(alloc.Location{Rank: seg.rank, Media: wire.MediaDRAM}, seg.alloc))
		ranks[i] = seg
	}

	metaSvc := metasvc.New(mgr, nil)
	metaConn := dialedServer(t, metaSvc.Handler, 0)
	localConn := dialedServer(t, ranks[0].local.Handler, ranks[0].rank)

	c := client.New(client.Config{Rank: 0, DefaultTTL: time.Minute}, metaConn, localConn)
	return &harness{mgr: mgr, ranks: ranks, client: c, metaSvc: metaConn}
}

// S1: Alloc+Release fragmentation. Allocate three equally sized blobs,
// release the middle one, and confirm a same-size allocation reuses the
// freed extent rather than growing the segment.
func TestS1AllocReleaseFragmentation(t *testing.T) {
	h := newHarness(t, 1, nil)

	const payloadSize = 4096
	payload := testutil.S3Pattern(payloadSize)

	require.NoError(t, h.client.Put("a", payload, wire.MediaDRAM, 0))
	require.NoError(t, h.client.Put("b", payload, wire.MediaDRAM, 0))
	require.NoError(t, h.client.Put("c", payload, wire.MediaDRAM, 0))
	require.NoError(t, h.client.Remove("b"))

	require.Eventually(t, func() bool {
		exists, err := h.client.IsExist("b")
		return err == nil && !exists
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, h.client.Put("d", payload, wire.MediaDRAM, 0))

	_, allocated := h.ranks[0].alloc.Usage()
	require.EqualValues(t, 3*alloc.Alignment, allocated)
}

// S2: Cross-rank Alloc. A client attached to rank 0 can still route an
// allocation to rank 1's segment via PreferredRank, and Get against the
// right rank's LocalSvc retrieves it.
func TestS2CrossRankAlloc(t *testing.T) {
	h := newHarness(t, 2, nil)

	localConn1 := dialedServer(t, h.ranks[1].local.Handler, h.ranks[1].rank)
	c1 := client.New(client.Config{Rank: 1, DefaultTTL: time.Minute}, h.metaSvc, localConn1)

	payload := testutil.S3Pattern(1024)
	require.NoError(t, c1.PutTo("cross", payload, wire.MediaDRAM, 0, 1))

	got, err := c1.Get("cross")
	require.NoError(t, err)
	require.Equal(t, payload, got)

	_, allocated := h.ranks[1].alloc.Usage()
	require.EqualValues(t, alloc.Alignment, allocated)
	_, allocatedRank0 := h.ranks[0].alloc.Usage()
	require.Zero(t, allocatedRank0)
}

// S2 over-capacity: a {size=32KiB, count=12, preferredRank=2} request over
// 320KiB-per-rank segments must spill once rank 2 fills, landing 10 blobs
// on rank 2 and the remaining 2 on rank 3 (spec §4.2).
func TestS2CrossRankAllocSpillsOverCapacity(t *testing.T) {
	world := fabric.NewWorld()
	const segCapacity = 320 * 1024
	const blobSize = 32 * 1024
	const worldSize = 4

	mgr := metamgr.New(metamgr.Config{
		WorldSize:           worldSize,
		DefaultPriorityCeil: 10,
	}, nil, nil, nil, nil)
	t.Cleanup(mgr.Close)

	segs := make([]rankSegment, worldSize)
	for i := 0; i < worldSize; i++ {
		seg := newRankSegment(t, world, uint32(i), segCapacity)
		require.NoError(t, mgr.Mount(alloc.Location{Rank: seg.rank, Media: wire.MediaDRAM}, seg.alloc))
		segs[i] = seg
	}

	obj, err := mgr.Alloc(metamgr.AllocRequest{
		Key:           "spill",
		Size:          blobSize,
		ReplicaCount:  12,
		Media:         wire.MediaDRAM,
		PreferredRank: 2,
	})
	require.NoError(t, err)
	require.Len(t, obj.Blobs, 12)

	byRank := map[uint32]int{}
	for _, b := range obj.Blobs {
		byRank[b.Rank]++
	}
	require.Equal(t, map[uint32]int{2: 10, 3: 2}, byRank)

	_, allocated2 := segs[2].alloc.Usage()
	require.EqualValues(t, segCapacity, allocated2)
	_, allocated3 := segs[3].alloc.Usage()
	require.EqualValues(t, 2*blobSize, allocated3)
}

// S3: Put/Get bytes. A 32 KiB buffer filled with the i*23+17 mod 32767
// pattern round-trips byte for byte.
func TestS3PutGetBytes(t *testing.T) {
	h := newHarness(t, 1, nil)

	payload := testutil.S3Pattern(32 * 1024)
	require.NoError(t, h.client.Put("k", payload, wire.MediaDRAM, 0))

	got, err := h.client.Get("k")
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// S4: Duplicate Put. The first write wins: a second Put of the same key
// is refused with DUPLICATED and only the first payload is retrievable.
func TestS4DuplicatePut(t *testing.T) {
	h := newHarness(t, 1, nil)

	first := testutil.S3Pattern(512)
	second := testutil.S3Pattern(1024)

	require.NoError(t, h.client.Put("dup", first, wire.MediaDRAM, 0))
	err := h.client.Put("dup", second, wire.MediaDRAM, 0)
	require.Error(t, err)
	require.Equal(t, mmcerr.Duplicated, mmcerr.ToCode(err))

	got, err := h.client.Get("dup")
	require.NoError(t, err)
	require.Equal(t, first, got)
}

// S5: Eviction demotion. Filling a rank's HBM segment to
// EvictThresholdHigh triggers copy-then-demote to DRAM until HBM usage
// falls to EvictThresholdLow, which here takes both blobs; the demoted
// keys stay readable afterward.
func TestS5EvictionDemotion(t *testing.T) {
	world := fabric.NewWorld()
	hbmDriver := fabric.NewSimDriver(world, 0, 0)
	hbmBase, err := hbmDriver.GvaReserve(context.Background(), 4*alloc.Alignment, 0, 0)
	require.NoError(t, err)
	hbmAlloc := alloc.New(0, wire.MediaHBM, hbmBase, 4*alloc.Alignment)
	hbmAlloc.Start()

	dramBase, err := hbmDriver.GvaReserve(context.Background(), 4*alloc.Alignment, 0, 0)
	require.NoError(t, err)
	dramAlloc := alloc.New(0, wire.MediaDRAM, dramBase, 4*alloc.Alignment)
	dramAlloc.Start()

	local := localsvc.New(0, hbmDriver, nil, nil)
	local.MountSegment(wire.MediaHBM, hbmAlloc)
	local.MountSegment(wire.MediaDRAM, dramAlloc)

	mgr := metamgr.New(metamgr.Config{
		WorldSize: 1, DefaultPriorityCeil: 10,
		EvictThresholdHigh: 0.5, EvictThresholdLow: 0.1,
	}, nil, local, nil, nil)
	t.Cleanup(mgr.Close)
	require.NoError(t, mgr.Mount(alloc.Location{Rank: 0, Media: wire.MediaHBM}, hbmAlloc))
	require.NoError(t, mgr.Mount(alloc.Location{Rank: 0, Media: wire.MediaDRAM}, dramAlloc))

	metaSvc := metasvc.New(mgr, nil)
	metaConn := dialedServer(t, metaSvc.Handler, 0)
	localConn := dialedServer(t, local.Handler, 0)
	c := client.New(client.Config{Rank: 0, DefaultTTL: time.Minute}, metaConn, localConn)

	payload := testutil.S3Pattern(int(alloc.Alignment))
	require.NoError(t, c.Put("old", payload, wire.MediaHBM, 0))
	require.NoError(t, c.Put("new", payload, wire.MediaHBM, 0))

	require.NoError(t, mgr.CheckAndEvict(context.Background(), wire.MediaHBM))

	got, err := c.Get("old")
	require.NoError(t, err)
	require.Equal(t, payload, got)

	_, dramAllocated := dramAlloc.Usage()
	require.EqualValues(t, 2*alloc.Alignment, dramAllocated)
}

// S6: Unmount with live data. Unmount must refuse while a segment still
// holds a live blob, then succeed once the blob is removed.
func TestS6UnmountWithLiveData(t *testing.T) {
	h := newHarness(t, 1, nil)

	payload := testutil.S3Pattern(256)
	require.NoError(t, h.client.Put("held", payload, wire.MediaDRAM, 0))

	err := h.mgr.Unmount(alloc.Location{Rank: 0, Media: wire.MediaDRAM})
	require.Error(t, err)

	require.NoError(t, h.client.Remove("held"))
	require.Eventually(t, func() bool {
		return h.mgr.Unmount(alloc.Location{Rank: 0, Media: wire.MediaDRAM}) == nil
	}, time.Second, 10*time.Millisecond)
}
