package metasvc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memfabric/mmc/alloc"
	"github.com/memfabric/mmc/metamgr"
	"github.com/memfabric/mmc/wire"
)

func newTestMgr(t *testing.T) *metamgr.MetaMgr {
	t.Helper()
	// Two ranks, so the rank 1 segment TestHandlerBmRegisterAndUnregister
	// registers falls inside the routed world.
	mgr := metamgr.New(metamgr.Config{WorldSize: 2, DefaultPriorityCeil: 10}, nil, nil, nil, nil)
	a := alloc.New(0, wire.MediaDRAM, 0, 1<<20)
	a.Start()
	require.NoError(t, mgr.Mount(alloc.Location{Rank: 0, Media: wire.MediaDRAM}, a))
	t.Cleanup(mgr.Close)
	return mgr
}

func TestHandlerAllocGetQuery(t *testing.T) {
	mgr := newTestMgr(t)
	svc := New(mgr, nil)

	allocReq := wire.AllocRequest{Key: "k1", Size: 128, ReplicaCount: 1, Media: wire.MediaDRAM}
	body, err := svc.Handler(wire.OpAlloc, allocReq.Encode())
	require.NoError(t, err)
	allocResp, err := wire.DecodeAllocResponse(body)
	require.NoError(t, err)
	require.EqualValues(t, 0, allocResp.Status)
	require.Len(t, allocResp.Blobs, 1)

	// A Get only sees a replica once it reports WRITE_OK (ALLOCATED ->
	// DATA_READY directly, per the client's Put flow).
	updateReq := wire.UpdateRequest{Key: "k1", Rank: allocResp.Blobs[0].Rank, Media: allocResp.Blobs[0].Media, Action: wire.ActionWriteOK}
	body, err = svc.Handler(wire.OpUpdate, updateReq.Encode())
	require.NoError(t, err)
	updateResp, err := wire.DecodeUpdateResponse(body)
	require.NoError(t, err)
	require.EqualValues(t, 0, updateResp.Status)

	getReq := wire.GetRequest{Key: "k1", Rank: 0}
	body, err = svc.Handler(wire.OpGet, getReq.Encode())
	require.NoError(t, err)
	getResp, err := wire.DecodeGetResponse(body)
	require.NoError(t, err)
	require.EqualValues(t, 0, getResp.Status)
	require.EqualValues(t, 128, getResp.Size)

	queryReq := wire.KeyRequest{Key: "k1"}
	body, err = svc.Handler(wire.OpQuery, queryReq.Encode())
	require.NoError(t, err)
	queryResp, err := wire.DecodeQueryResponse(body)
	require.NoError(t, err)
	require.True(t, queryResp.Valid)
	require.EqualValues(t, 1, queryResp.NumBlobs)
}

func TestHandlerStandbyRefusesNonPing(t *testing.T) {
	mgr := newTestMgr(t)
	svc := New(mgr, standbyGate{})

	_, err := svc.Handler(wire.OpPing, nil)
	require.NoError(t, err)

	_, err = svc.Handler(wire.OpIsExist, wire.KeyRequest{Key: "k1"}.Encode())
	require.Error(t, err)
}

type standbyGate struct{}

func (standbyGate) Active() bool { return false }

func TestHandlerBmRegisterAndUnregister(t *testing.T) {
	mgr := newTestMgr(t)
	svc := New(mgr, nil)

	regReq := wire.BmRegisterRequest{Rank: 1, Media: wire.MediaHBM, Base: 0, Capacity: 1 << 20}
	body, err := svc.Handler(wire.OpBmRegister, regReq.Encode())
	require.NoError(t, err)
	resp, err := wire.DecodeStatusResponse(body)
	require.NoError(t, err)
	require.EqualValues(t, 0, resp.Status)

	allocReq := wire.AllocRequest{Key: "k2", Size: 64, ReplicaCount: 1, Media: wire.MediaHBM, PreferredRank: 1}
	body, err = svc.Handler(wire.OpAlloc, allocReq.Encode())
	require.NoError(t, err)
	allocResp, err := wire.DecodeAllocResponse(body)
	require.NoError(t, err)
	require.EqualValues(t, 0, allocResp.Status)
	require.Len(t, allocResp.Blobs, 1)
	require.EqualValues(t, 1, allocResp.Blobs[0].Rank)

	unregReq := wire.BmUnregisterRequest{Rank: 1, Media: wire.MediaHBM}
	body, err = svc.Handler(wire.OpBmUnregister, unregReq.Encode())
	require.NoError(t, err)
	unregResp, err := wire.DecodeStatusResponse(body)
	require.NoError(t, err)
	// The segment still holds a live blob, so unmount must be refused.
	require.NotEqualValues(t, 0, unregResp.Status)
}

func TestHandlerIsExistAndRemove(t *testing.T) {
	mgr := newTestMgr(t)
	svc := New(mgr, nil)

	allocReq := wire.AllocRequest{Key: "k1", Size: 64, ReplicaCount: 1, Media: wire.MediaDRAM}
	_, err := svc.Handler(wire.OpAlloc, allocReq.Encode())
	require.NoError(t, err)

	body, err := svc.Handler(wire.OpIsExist, wire.KeyRequest{Key: "k1"}.Encode())
	require.NoError(t, err)
	resp, err := wire.DecodeStatusResponse(body)
	require.NoError(t, err)
	require.EqualValues(t, 0, resp.Status)

	body, err = svc.Handler(wire.OpRemove, wire.KeyRequest{Key: "k1"}.Encode())
	require.NoError(t, err)
	removeResp, err := wire.DecodeStatusResponse(body)
	require.NoError(t, err)
	require.EqualValues(t, 0, removeResp.Status)
}
