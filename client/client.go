// Package client implements the mmc Client library (spec §4.7): the user
// call translates into a MetaSvc round-trip for placement/bookkeeping and
// a LocalSvc DMA for the actual bytes, exactly mirroring the teacher's
// pattern of a thin library fronting two distinct RPC targets.
package client

import (
	"sync/atomic"
	"time"

	"github.com/memfabric/mmc/mmcerr"
	"github.com/memfabric/mmc/rpc"
	"github.com/memfabric/mmc/wire"
)

// Config carries the fixed per-process parameters spec §4.7 lists: the
// rank this client is colocated with, and the Get deadline.
type Config struct {
	Rank         uint32
	DefaultTTL   time.Duration
	ReplicaCount uint32
}

// Client is the user-facing handle: one connected channel to MetaSvc
// (control plane) and one to the local rank's LocalSvc (data plane).
type Client struct {
	cfg    Config
	meta   *rpc.Client
	local  *rpc.Client
	nextOp uint64
}

// New wires an already-dialed MetaSvc connection and local-rank LocalSvc
// connection into a Client (spec §4.7's "BmProxy handle into the local
// LocalSvc").
func New(cfg Config, metaConn, localConn *rpc.Client) *Client {
	return &Client{cfg: cfg, meta: metaConn, local: localConn}
}

func (c *Client) nextOperateID() uint64 {
	return atomic.AddUint64(&c.nextOp, 1)
}

// Put allocates room for data under key and stages it into the chosen
// blob(s) via the data plane, following spec §4.7 step-by-step:
// Alloc -> Put -> WriteOK/WriteFail. The placement is routed toward this
// client's own rank.
func (c *Client) Put(key string, data []byte, media wire.Media, priority uint32) error {
	return c.PutTo(key, data, media, priority, c.cfg.Rank)
}

// PutTo is Put with an explicit preferred placement rank, for callers
// that need to stage data onto a rank other than the one they are
// colocated with (spec §4.7's PreferredRank routing hint; ordinary
// clients should call Put).
func (c *Client) PutTo(key string, data []byte, media wire.Media, priority uint32, preferredRank uint32) error {
	opID := c.nextOperateID()

	allocReq := wire.AllocRequest{
		Key:           key,
		Size:          uint64(len(data)),
		ReplicaCount:  replicaCountOr1(c.cfg.ReplicaCount),
		Media:         media,
		PreferredRank: preferredRank,
		Priority:      priority,
		OperateID:     opID,
	}
	body, err := c.meta.Call(wire.OpAlloc, allocReq.Encode(), 0)
	if err != nil {
		return err
	}
	resp, err := wire.DecodeAllocResponse(body)
	if err != nil {
		return err
	}
	if mmcerr.Code(resp.Status) != mmcerr.OK {
		return mmcerr.New(mmcerr.Code(resp.Status), "client: alloc failed")
	}

	for _, blob := range resp.Blobs {
		putReq := wire.PutDataRequest{
			Blob:      blob,
			Buffer:    wire.BufferDesc{DimType: wire.Dim1D, Len: uint64(len(data))},
			Data:      data,
			OperateID: opID,
		}
		respBody, err := c.local.Call(wire.OpPutData, putReq.Encode(), 0)
		if err != nil {
			c.updateState(key, blob.Rank, blob.Media, wire.ActionWriteFail, opID)
			return err
		}
		putResp, err := wire.DecodePutDataResponse(respBody)
		if err != nil || mmcerr.Code(putResp.Status) != mmcerr.OK {
			c.updateState(key, blob.Rank, blob.Media, wire.ActionWriteFail, opID)
			if err != nil {
				return err
			}
			return mmcerr.New(mmcerr.Code(putResp.Status), "client: put data failed")
		}
		if err := c.updateState(key, blob.Rank, blob.Media, wire.ActionWriteOK, opID); err != nil {
			return err
		}
	}
	return nil
}

// Get reads key into buf, enforcing the defaultTtlMs deadline spec §4.7
// names: if the wall-clock elapsed during the operation reaches the
// deadline, Get returns an error regardless of whether the DMA itself
// succeeded, since the object's lease may have lapsed by then.
func (c *Client) Get(key string) ([]byte, error) {
	start := monotonicNow()
	opID := c.nextOperateID()

	getReq := wire.GetRequest{Key: key, Rank: c.cfg.Rank, OperateID: opID}
	body, err := c.meta.Call(wire.OpGet, getReq.Encode(), 0)
	if err != nil {
		return nil, err
	}
	resp, err := wire.DecodeGetResponse(body)
	if err != nil {
		return nil, err
	}
	if mmcerr.Code(resp.Status) != mmcerr.OK {
		return nil, mmcerr.New(mmcerr.Code(resp.Status), "client: get failed")
	}

	dataReq := wire.GetDataRequest{
		Blob:      resp.Blob,
		Buffer:    wire.BufferDesc{DimType: wire.Dim1D, Len: resp.Size},
		OperateID: opID,
	}
	respBody, err := c.local.Call(wire.OpGetData, dataReq.Encode(), 0)
	if err != nil {
		return nil, err
	}
	dataResp, err := wire.DecodeGetDataResponse(respBody)
	if err != nil {
		return nil, err
	}
	if mmcerr.Code(dataResp.Status) != mmcerr.OK {
		return nil, mmcerr.New(mmcerr.Code(dataResp.Status), "client: get data failed")
	}

	// Fire-and-forget per spec §4.7: a Get is considered complete once the
	// DMA returns, so the READ_OK notification does not block the caller.
	go c.updateState(key, resp.Blob.Rank, resp.Blob.Media, wire.ActionReadOK, opID)

	if c.cfg.DefaultTTL > 0 && monotonicNow().Sub(start) >= c.cfg.DefaultTTL {
		return nil, mmcerr.New(mmcerr.Timeout, "client: get exceeded defaultTtlMs deadline")
	}
	return dataResp.Data, nil
}

// Remove drops key, per spec §4.5/§4.7.
func (c *Client) Remove(key string) error {
	req := wire.KeyRequest{Key: key, OperateID: c.nextOperateID()}
	body, err := c.meta.Call(wire.OpRemove, req.Encode(), 0)
	if err != nil {
		return err
	}
	resp, err := wire.DecodeStatusResponse(body)
	if err != nil {
		return err
	}
	if mmcerr.Code(resp.Status) != mmcerr.OK {
		return mmcerr.New(mmcerr.Code(resp.Status), "client: remove failed")
	}
	return nil
}

// IsExist checks presence without side effects.
func (c *Client) IsExist(key string) (bool, error) {
	req := wire.KeyRequest{Key: key, OperateID: c.nextOperateID()}
	body, err := c.meta.Call(wire.OpIsExist, req.Encode(), 0)
	if err != nil {
		return false, err
	}
	resp, err := wire.DecodeStatusResponse(body)
	if err != nil {
		return false, err
	}
	return mmcerr.Code(resp.Status) == mmcerr.OK, nil
}

// Query returns the object view without mutating lease/LRU state.
func (c *Client) Query(key string) (wire.QueryResponse, error) {
	req := wire.KeyRequest{Key: key, OperateID: c.nextOperateID()}
	body, err := c.meta.Call(wire.OpQuery, req.Encode(), 0)
	if err != nil {
		return wire.QueryResponse{}, err
	}
	return wire.DecodeQueryResponse(body)
}

// BatchGet issues a single round-trip Get for many keys (spec §4.7's
// batch forms), fetching each blob's data in turn over the data plane.
// Every key's reader lease is acquired and released under the one
// OperateID this batch shares, the same way a single Get's Get/Update
// pair share one opID (lease entries are keyed per-key, so reusing one
// token across keys in a batch is safe).
func (c *Client) BatchGet(keys []string) ([][]byte, []error) {
	out := make([][]byte, len(keys))
	errs := make([]error, len(keys))
	opID := c.nextOperateID()
	req := wire.BatchGetRequest{Keys: keys, Rank: c.cfg.Rank, OperateID: opID}
	body, err := c.meta.Call(wire.OpBatchGet, req.Encode(), 0)
	if err != nil {
		for i := range errs {
			errs[i] = err
		}
		return out, errs
	}
	resp, err := wire.DecodeBatchGetResponse(body)
	if err != nil {
		for i := range errs {
			errs[i] = err
		}
		return out, errs
	}
	for i, res := range resp.Results {
		if mmcerr.Code(res.Status) != mmcerr.OK {
			errs[i] = mmcerr.New(mmcerr.Code(res.Status), "client: batch get failed")
			continue
		}
		dataReq := wire.GetDataRequest{
			Blob:      res.Blob,
			Buffer:    wire.BufferDesc{DimType: wire.Dim1D, Len: res.Size},
			OperateID: opID,
		}
		respBody, err := c.local.Call(wire.OpGetData, dataReq.Encode(), 0)
		if err != nil {
			errs[i] = err
			continue
		}
		dataResp, err := wire.DecodeGetDataResponse(respBody)
		if err != nil || mmcerr.Code(dataResp.Status) != mmcerr.OK {
			if err == nil {
				err = mmcerr.New(mmcerr.Code(dataResp.Status), "client: batch get data failed")
			}
			errs[i] = err
			continue
		}
		out[i] = dataResp.Data
		go c.updateState(keys[i], res.Blob.Rank, res.Blob.Media, wire.ActionReadOK, opID)
	}
	return out, errs
}

// BatchRemove drops many keys in one MetaSvc round-trip.
func (c *Client) BatchRemove(keys []string) ([]error, error) {
	req := wire.BatchKeyRequest{Keys: keys, OperateID: c.nextOperateID()}
	body, err := c.meta.Call(wire.OpBatchRemove, req.Encode(), 0)
	if err != nil {
		return nil, err
	}
	resp, err := wire.DecodeBatchStatusResponse(body)
	if err != nil {
		return nil, err
	}
	errs := make([]error, len(resp.Statuses))
	for i, s := range resp.Statuses {
		if mmcerr.Code(s) != mmcerr.OK {
			errs[i] = mmcerr.New(mmcerr.Code(s), "client: batch remove failed")
		}
	}
	return errs, nil
}

func (c *Client) updateState(key string, rank uint32, media wire.Media, action wire.Action, opID uint64) error {
	req := wire.UpdateRequest{Key: key, Rank: rank, Media: media, Action: action, OperateID: opID}
	body, err := c.meta.Call(wire.OpUpdate, req.Encode(), 0)
	if err != nil {
		return err
	}
	resp, err := wire.DecodeUpdateResponse(body)
	if err != nil {
		return err
	}
	if mmcerr.Code(resp.Status) != mmcerr.OK {
		return mmcerr.New(mmcerr.Code(resp.Status), "client: update state failed")
	}
	return nil
}

func replicaCountOr1(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	return n
}

// monotonicNow is a var so tests can simulate deadline expiry without
// sleeping real wall-clock time.
var monotonicNow = time.Now

func (c *Client) Close() error {
	if c.local != nil {
		if err := c.local.Close(); err != nil {
			return err
		}
	}
	return c.meta.Close()
}
