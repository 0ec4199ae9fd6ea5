// Package metasvc adapts metamgr.MetaMgr to the RPC surface clients and
// LocalSvc actually dial (spec §4.2, §6): it decodes each control-plane
// opcode's wire body, calls the matching MetaMgr method, and re-encodes
// the reply, the same thin-adapter role localsvc.Service plays in front
// of the DMA executor.
package metasvc

import (
	"github.com/memfabric/mmc/metamgr"
	"github.com/memfabric/mmc/mmcerr"
	"github.com/memfabric/mmc/wire"
)

// StandbyGate lets a MetaSvc process run in standby mode behind an
// external leader election (spec §4.10, a non-goal collaborator): while
// Active reports false, every client-facing opcode is refused with
// NOT_INITIALIZED instead of being forwarded to MetaMgr.
type StandbyGate interface {
	Active() bool
}

// AlwaysActive is the StandbyGate used when HA is disabled (spec
// §4.10's config.HAEnable=false path): every call is let through.
type AlwaysActive struct{}

func (AlwaysActive) Active() bool { return true }

// Service is the RPC-facing wrapper MetaSvc's server hands its Handler.
type Service struct {
	mgr  *metamgr.MetaMgr
	gate StandbyGate
}

func New(mgr *metamgr.MetaMgr, gate StandbyGate) *Service {
	if gate == nil {
		gate = AlwaysActive{}
	}
	return &Service{mgr: mgr, gate: gate}
}

// Handler adapts Service to rpc.Handler.
func (s *Service) Handler(opcode wire.Opcode, payload []byte) ([]byte, error) {
	if opcode == wire.OpPing {
		return nil, nil
	}
	if !s.gate.Active() {
		return nil, mmcerr.New(mmcerr.NotInitialized, "metasvc: standby, not yet holding leader lease")
	}
	switch opcode {
	case wire.OpAlloc:
		return s.handleAlloc(payload)
	case wire.OpUpdate:
		return s.handleUpdate(payload)
	case wire.OpGet:
		return s.handleGet(payload)
	case wire.OpBatchGet:
		return s.handleBatchGet(payload)
	case wire.OpRemove:
		return s.handleRemove(payload)
	case wire.OpBatchRemove:
		return s.handleBatchRemove(payload)
	case wire.OpIsExist:
		return s.handleIsExist(payload)
	case wire.OpBatchIsExist:
		return s.handleBatchIsExist(payload)
	case wire.OpQuery:
		return s.handleQuery(payload)
	case wire.OpBatchQuery:
		return s.handleBatchQuery(payload)
	case wire.OpBmRegister:
		return s.handleBmRegister(payload)
	case wire.OpBmUnregister:
		return s.handleBmUnregister(payload)
	default:
		return nil, mmcerr.Newf(mmcerr.INVALID, "metasvc: unhandled opcode %s", opcode)
	}
}

func (s *Service) handleAlloc(payload []byte) ([]byte, error) {
	req, err := wire.DecodeAllocRequest(payload)
	if err != nil {
		return nil, err
	}
	obj, err := s.mgr.Alloc(metamgr.AllocRequest{
		Key:           req.Key,
		Size:          req.Size,
		ReplicaCount:  req.ReplicaCount,
		Media:         req.Media,
		PreferredRank: req.PreferredRank,
		Flags:         req.Flags,
		Priority:      req.Priority,
	})
	if err != nil {
		return wire.AllocResponse{Status: int32(mmcerr.ToCode(err))}.Encode(), nil
	}
	return wire.AllocResponse{Status: int32(mmcerr.OK), Blobs: obj.Snapshot(), Priority: obj.Priority}.Encode(), nil
}

func (s *Service) handleUpdate(payload []byte) ([]byte, error) {
	req, err := wire.DecodeUpdateRequest(payload)
	if err != nil {
		return nil, err
	}
	status := int32(mmcerr.OK)
	if err := s.mgr.UpdateState(req.Key, req.Rank, req.Media, req.Action, req.OperateID); err != nil {
		status = int32(mmcerr.ToCode(err))
	}
	return wire.UpdateResponse{Status: status}.Encode(), nil
}

func (s *Service) handleGet(payload []byte) ([]byte, error) {
	req, err := wire.DecodeGetRequest(payload)
	if err != nil {
		return nil, err
	}
	blob, err := s.mgr.Get(req.Key, req.Rank, req.OperateID)
	if err != nil {
		return wire.GetResponse{Status: int32(mmcerr.ToCode(err))}.Encode(), nil
	}
	return wire.GetResponse{Status: int32(mmcerr.OK), Blob: blob, Size: blob.Size}.Encode(), nil
}

func (s *Service) handleBatchGet(payload []byte) ([]byte, error) {
	req, err := wire.DecodeBatchGetRequest(payload)
	if err != nil {
		return nil, err
	}
	results := make([]wire.GetResponse, len(req.Keys))
	statuses := make([]int32, len(req.Keys))
	for i, key := range req.Keys {
		blob, err := s.mgr.Get(key, req.Rank, req.OperateID)
		if err != nil {
			statuses[i] = int32(mmcerr.ToCode(err))
			results[i] = wire.GetResponse{Status: statuses[i]}
			continue
		}
		statuses[i] = int32(mmcerr.OK)
		results[i] = wire.GetResponse{Status: statuses[i], Blob: blob, Size: blob.Size}
	}
	return wire.BatchGetResponse{Statuses: statuses, Results: results}.Encode(), nil
}

func (s *Service) handleRemove(payload []byte) ([]byte, error) {
	req, err := wire.DecodeKeyRequest(payload)
	if err != nil {
		return nil, err
	}
	status := int32(mmcerr.OK)
	if err := s.mgr.Remove(req.Key); err != nil {
		status = int32(mmcerr.ToCode(err))
	}
	return wire.StatusResponse{Status: status}.Encode(), nil
}

func (s *Service) handleBatchRemove(payload []byte) ([]byte, error) {
	req, err := wire.DecodeBatchKeyRequest(payload)
	if err != nil {
		return nil, err
	}
	statuses := make([]int32, len(req.Keys))
	for i, key := range req.Keys {
		statuses[i] = int32(mmcerr.OK)
		if err := s.mgr.Remove(key); err != nil {
			statuses[i] = int32(mmcerr.ToCode(err))
		}
	}
	return wire.BatchStatusResponse{Statuses: statuses}.Encode(), nil
}

func (s *Service) handleIsExist(payload []byte) ([]byte, error) {
	req, err := wire.DecodeKeyRequest(payload)
	if err != nil {
		return nil, err
	}
	status := int32(mmcerr.UnmatchedKey)
	if s.mgr.IsExist(req.Key) {
		status = int32(mmcerr.OK)
	}
	return wire.StatusResponse{Status: status}.Encode(), nil
}

func (s *Service) handleBatchIsExist(payload []byte) ([]byte, error) {
	req, err := wire.DecodeBatchKeyRequest(payload)
	if err != nil {
		return nil, err
	}
	statuses := make([]int32, len(req.Keys))
	for i, key := range req.Keys {
		statuses[i] = int32(mmcerr.UnmatchedKey)
		if s.mgr.IsExist(key) {
			statuses[i] = int32(mmcerr.OK)
		}
	}
	return wire.BatchStatusResponse{Statuses: statuses}.Encode(), nil
}

func (s *Service) handleQuery(payload []byte) ([]byte, error) {
	req, err := wire.DecodeKeyRequest(payload)
	if err != nil {
		return nil, err
	}
	res, err := s.mgr.Query(req.Key)
	if err != nil {
		return wire.QueryResponse{Status: int32(mmcerr.ToCode(err))}.Encode(), nil
	}
	return wire.QueryResponse{
		Status:   int32(mmcerr.OK),
		Size:     res.Size,
		NumBlobs: uint32(res.NumBlobs),
		Blobs:    res.Blobs,
		Valid:    true,
	}.Encode(), nil
}

// handleBmRegister installs the catalog-side Allocator for a segment a
// LocalSvc process just brought up (spec §4.6's BM_REGISTER handshake).
func (s *Service) handleBmRegister(payload []byte) ([]byte, error) {
	req, err := wire.DecodeBmRegisterRequest(payload)
	if err != nil {
		return nil, err
	}
	status := int32(mmcerr.OK)
	if err := s.mgr.RegisterSegment(req.Rank, req.Media, req.Base, req.Capacity); err != nil {
		status = int32(mmcerr.ToCode(err))
	}
	return wire.StatusResponse{Status: status}.Encode(), nil
}

func (s *Service) handleBmUnregister(payload []byte) ([]byte, error) {
	req, err := wire.DecodeBmUnregisterRequest(payload)
	if err != nil {
		return nil, err
	}
	status := int32(mmcerr.OK)
	if err := s.mgr.UnregisterSegment(req.Rank, req.Media); err != nil {
		status = int32(mmcerr.ToCode(err))
	}
	return wire.StatusResponse{Status: status}.Encode(), nil
}

func (s *Service) handleBatchQuery(payload []byte) ([]byte, error) {
	req, err := wire.DecodeBatchKeyRequest(payload)
	if err != nil {
		return nil, err
	}
	out := make([]wire.QueryResponse, len(req.Keys))
	for i, key := range req.Keys {
		res, err := s.mgr.Query(key)
		if err != nil {
			out[i] = wire.QueryResponse{Status: int32(mmcerr.ToCode(err))}
			continue
		}
		out[i] = wire.QueryResponse{
			Status:   int32(mmcerr.OK),
			Size:     res.Size,
			NumBlobs: uint32(res.NumBlobs),
			Blobs:    res.Blobs,
			Valid:    true,
		}
	}
	return wire.BatchQueryResponse{Results: out}.Encode(), nil
}
