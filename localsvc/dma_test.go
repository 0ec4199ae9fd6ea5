package localsvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memfabric/mmc/alloc"
	"github.com/memfabric/mmc/fabric"
	"github.com/memfabric/mmc/wire"
)

func newTestService(t *testing.T, rank uint32) (*Service, *fabric.World) {
	t.Helper()
	world := fabric.NewWorld()
	driver := fabric.NewSimDriver(world, int(rank), 0)
	s := New(rank, driver, nil, nil)
	return s, world
}

// allocBlob reserves a backing region from the shared fabric World (the
// step a real LocalSvc takes at startup via driver.GvaReserve) and builds
// an Allocator over it, so blob.GVA values resolve through
// driver.LocalView the same way they would against real hardware.
func allocBlob(t *testing.T, s *Service, world *fabric.World, media wire.Media, size uint64) (*alloc.Allocator, alloc.Blob) {
	t.Helper()
	driver := fabric.NewSimDriver(world, 0, 0)
	base, err := driver.GvaReserve(context.Background(), 1<<20, 0, 0)
	require.NoError(t, err)

	a := alloc.New(0, media, base, 1<<20)
	a.Start()
	s.MountSegment(media, a)
	blob, err := a.Alloc(size)
	require.NoError(t, err)
	return a, blob
}

func TestPutGetData1D(t *testing.T) {
	s, world := newTestService(t, 0)
	_, blob := allocBlob(t, s, world, wire.MediaDRAM, 4096)

	payload := []byte("hello mmc")
	err := s.PutData(context.Background(), wire.PutDataRequest{
		Blob:   wire.BlobDesc{GVA: blob.GVA, Size: blob.Size},
		Buffer: wire.BufferDesc{DimType: wire.Dim1D, Offset: 0, Len: uint64(len(payload))},
		Data:   payload,
	})
	require.NoError(t, err)

	got, err := s.GetData(context.Background(), wire.GetDataRequest{
		Blob:   wire.BlobDesc{GVA: blob.GVA, Size: blob.Size},
		Buffer: wire.BufferDesc{DimType: wire.Dim1D, Offset: 0, Len: uint64(len(payload))},
	})
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPutGetData2D(t *testing.T) {
	s, world := newTestService(t, 0)
	_, blob := allocBlob(t, s, world, wire.MediaHBM, 4096)

	const width, layers, pitch = 8, 3, 16
	data := make([]byte, width*layers)
	for i := range data {
		data[i] = byte(i + 1)
	}

	err := s.PutData(context.Background(), wire.PutDataRequest{
		Blob: wire.BlobDesc{GVA: blob.GVA, Size: blob.Size},
		Buffer: wire.BufferDesc{
			DimType: wire.Dim2D, DPitch: pitch, Width: width, LayerNum: layers,
		},
		Data: data,
	})
	require.NoError(t, err)

	got, err := s.GetData(context.Background(), wire.GetDataRequest{
		Blob: wire.BlobDesc{GVA: blob.GVA, Size: blob.Size},
		Buffer: wire.BufferDesc{
			DimType: wire.Dim2D, SPitch: pitch, Width: width, LayerNum: layers,
		},
	})
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestPutDataRejectsOversizedBuffer(t *testing.T) {
	s, world := newTestService(t, 0)
	_, blob := allocBlob(t, s, world, wire.MediaDRAM, 16)

	// The 16-byte request is rounded up to a whole page, so the buffer is
	// sized past blob.Size rather than past 16 bytes.
	oversized := blob.Size + 16
	err := s.PutData(context.Background(), wire.PutDataRequest{
		Blob:   wire.BlobDesc{GVA: blob.GVA, Size: blob.Size},
		Buffer: wire.BufferDesc{DimType: wire.Dim1D, Offset: 0, Len: oversized},
		Data:   make([]byte, oversized),
	})
	require.Error(t, err)
}

func TestCopyBlobMovesBytesBetweenExtents(t *testing.T) {
	s, world := newTestService(t, 0)
	_, src := allocBlob(t, s, world, wire.MediaHBM, 4096)

	driver := fabric.NewSimDriver(world, 0, 0)
	dstBase, err := driver.GvaReserve(context.Background(), 1<<20, 0, 0)
	require.NoError(t, err)
	dstAlloc := alloc.New(0, wire.MediaDRAM, dstBase, 1<<20)
	dstAlloc.Start()
	dst, err := dstAlloc.Alloc(4096)
	require.NoError(t, err)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, s.PutData(context.Background(), wire.PutDataRequest{
		Blob:   wire.BlobDesc{GVA: src.GVA, Size: src.Size},
		Buffer: wire.BufferDesc{DimType: wire.Dim1D, Len: uint64(len(payload))},
		Data:   payload,
	}))

	require.NoError(t, s.CopyBlob(context.Background(), "k1",
		alloc.Blob{Rank: 0, Media: wire.MediaHBM, GVA: src.GVA, Size: src.Size},
		alloc.Blob{Rank: 0, Media: wire.MediaDRAM, GVA: dst.GVA, Size: dst.Size},
	))

	got, err := s.GetData(context.Background(), wire.GetDataRequest{
		Blob:   wire.BlobDesc{GVA: dst.GVA, Size: dst.Size},
		Buffer: wire.BufferDesc{DimType: wire.Dim1D, Len: uint64(len(payload))},
	})
	require.NoError(t, err)
	require.Equal(t, payload, got)
}
