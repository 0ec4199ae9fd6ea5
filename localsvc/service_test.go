package localsvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memfabric/mmc/alloc"
	"github.com/memfabric/mmc/fabric"
	"github.com/memfabric/mmc/mmcerr"
	"github.com/memfabric/mmc/wire"
)

func TestHandlerPutGetDataRoundTrip(t *testing.T) {
	s, world := newTestService(t, 0)
	_, blob := allocBlob(t, s, world, wire.MediaDRAM, 4096)

	payload := []byte("round trip")
	putReq := wire.PutDataRequest{
		Blob:   wire.BlobDesc{GVA: blob.GVA, Size: blob.Size},
		Buffer: wire.BufferDesc{DimType: wire.Dim1D, Len: uint64(len(payload))},
		Data:   payload,
	}
	respBody, err := s.Handler(wire.OpPutData, putReq.Encode())
	require.NoError(t, err)
	putResp, err := wire.DecodePutDataResponse(respBody)
	require.NoError(t, err)
	require.EqualValues(t, mmcerr.OK, putResp.Status)

	getReq := wire.GetDataRequest{
		Blob:   wire.BlobDesc{GVA: blob.GVA, Size: blob.Size},
		Buffer: wire.BufferDesc{DimType: wire.Dim1D, Len: uint64(len(payload))},
	}
	respBody, err = s.Handler(wire.OpGetData, getReq.Encode())
	require.NoError(t, err)
	getResp, err := wire.DecodeGetDataResponse(respBody)
	require.NoError(t, err)
	require.EqualValues(t, mmcerr.OK, getResp.Status)
	require.Equal(t, payload, getResp.Data)
}

func TestHandlerMetaReplicateInstallAndRemove(t *testing.T) {
	s, _ := newTestService(t, 0)

	install := wire.MetaReplicateRequest{
		Op:   wire.ReplicateInstall,
		Key:  "k1",
		Blob: wire.BlobDesc{Rank: 0, Media: wire.MediaDRAM, GVA: 4096, Size: 4096, State: wire.StateDataReady},
	}
	_, err := s.Handler(wire.OpMetaReplicate, install.Encode())
	require.NoError(t, err)

	blob, ok := s.lookupReplica("k1")
	require.True(t, ok)
	require.Equal(t, wire.StateDataReady, blob.State)

	remove := wire.MetaReplicateRequest{Op: wire.ReplicateRemove, Key: "k1"}
	_, err = s.Handler(wire.OpMetaReplicate, remove.Encode())
	require.NoError(t, err)
	_, ok = s.lookupReplica("k1")
	require.False(t, ok)
}

func TestHandlerBlobCopy(t *testing.T) {
	s, world := newTestService(t, 0)
	_, src := allocBlob(t, s, world, wire.MediaHBM, 4096)

	driver := fabric.NewSimDriver(world, 0, 0)
	dstBase, err := driver.GvaReserve(context.Background(), 1<<20, 0, 0)
	require.NoError(t, err)
	dstAlloc := alloc.New(0, wire.MediaDRAM, dstBase, 1<<20)
	dstAlloc.Start()
	dst, err := dstAlloc.Alloc(4096)
	require.NoError(t, err)

	req := wire.BlobCopyRequest{
		Key: "k1",
		Src: wire.BlobDesc{Rank: 0, Media: wire.MediaHBM, GVA: src.GVA, Size: src.Size},
		Dst: wire.BlobDesc{Rank: 0, Media: wire.MediaDRAM, GVA: dst.GVA, Size: dst.Size},
	}
	respBody, err := s.Handler(wire.OpBlobCopy, req.Encode())
	require.NoError(t, err)
	resp, err := wire.DecodeStatusResponse(respBody)
	require.NoError(t, err)
	require.EqualValues(t, mmcerr.OK, resp.Status)
}

func TestHandlerUnknownOpcode(t *testing.T) {
	s, _ := newTestService(t, 0)
	_, err := s.Handler(wire.OpAlloc, nil)
	require.Error(t, err)
}
