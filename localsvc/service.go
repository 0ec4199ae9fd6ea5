// Package localsvc implements the per-rank DMA executor and replication
// RPC target (spec §4.6): it owns the Driver bound to this rank's
// device, serves the Client's Put/Get byte traffic against its mounted
// segments, and answers MetaSvc's MetaReplicate/BlobCopy calls. It plays
// the role of the teacher's offheap.Store bound to one heap: the
// allocator decides where bytes live, this package is what actually
// moves them.
package localsvc

import (
	"context"
	"fmt"
	"sync"

	"github.com/memfabric/mmc/alloc"
	"github.com/memfabric/mmc/fabric"
	"github.com/memfabric/mmc/metrics"
	"github.com/memfabric/mmc/mmcerr"
	"github.com/memfabric/mmc/mmclog"
	"github.com/memfabric/mmc/wire"
)

// Service is one rank's LocalSvc instance.
type Service struct {
	rank   uint32
	driver fabric.Driver
	log    *mmclog.Logger
	metrics *metrics.Registry

	mu         sync.RWMutex
	allocators map[wire.Media]*alloc.Allocator // segments this rank itself hosts
	replicas   map[string]wire.BlobDesc        // MetaReplicate install/remove cache (spec §4.6)
}

func New(rank uint32, driver fabric.Driver, log *mmclog.Logger, reg *metrics.Registry) *Service {
	if log == nil {
		log = mmclog.Nop()
	}
	if reg == nil {
		reg = metrics.Noop()
	}
	return &Service{
		rank:       rank,
		driver:     driver,
		log:        log.Component("localsvc"),
		metrics:    reg,
		allocators: make(map[wire.Media]*alloc.Allocator),
		replicas:   make(map[string]wire.BlobDesc),
	}
}

// MountSegment registers one of this rank's own segments, used both to
// serve local DMA and to answer BmRegister with the right (base,
// capacity) pair when announcing to MetaSvc (spec §4.6).
func (s *Service) MountSegment(media wire.Media, a *alloc.Allocator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocators[media] = a
}

func (s *Service) allocatorFor(media wire.Media) (*alloc.Allocator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.allocators[media]
	if !ok {
		return nil, mmcerr.Newf(mmcerr.NotInitialized, "localsvc: media %s not mounted on rank %d", media, s.rank)
	}
	return a, nil
}

// RegisterRequest builds the BmRegisterRequest this rank should announce
// to MetaSvc for media, for use by the cmd/localsvcd startup sequence.
func (s *Service) RegisterRequest(media wire.Media) (wire.BmRegisterRequest, error) {
	a, err := s.allocatorFor(media)
	if err != nil {
		return wire.BmRegisterRequest{}, err
	}
	return wire.BmRegisterRequest{Rank: s.rank, Media: media, Base: a.Base(), Capacity: a.Capacity()}, nil
}

// InstallReplica caches a {key, blobDesc} MetaSvc has pushed via
// MetaReplicate (spec §4.6): LocalSvc keeps its own view of which keys
// it holds, readable through lookupReplica. CopyBlob does not consult
// this cache; it copies between the descriptors given in its request.
func (s *Service) InstallReplica(key string, blob wire.BlobDesc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replicas[key] = blob
}

func (s *Service) RemoveReplica(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.replicas, key)
}

func (s *Service) lookupReplica(key string) (wire.BlobDesc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.replicas[key]
	return b, ok
}

// Handler adapts Service to rpc.Handler, dispatching by opcode (spec
// §4.6's LocalSvc RPC surface).
func (s *Service) Handler(opcode wire.Opcode, payload []byte) ([]byte, error) {
	switch opcode {
	case wire.OpPing:
		return nil, nil
	case wire.OpPutData:
		return s.handlePutData(payload)
	case wire.OpGetData:
		return s.handleGetData(payload)
	case wire.OpMetaReplicate:
		return s.handleMetaReplicate(payload)
	case wire.OpBlobCopy:
		return s.handleBlobCopy(payload)
	default:
		return nil, mmcerr.Newf(mmcerr.INVALID, "localsvc: unhandled opcode %s", opcode)
	}
}

func (s *Service) handlePutData(payload []byte) ([]byte, error) {
	req, err := wire.DecodePutDataRequest(payload)
	if err != nil {
		return nil, err
	}
	status := int32(mmcerr.OK)
	if err := s.PutData(context.Background(), req); err != nil {
		status = int32(mmcerr.ToCode(err))
	}
	return wire.PutDataResponse{Status: status}.Encode(), nil
}

func (s *Service) handleGetData(payload []byte) ([]byte, error) {
	req, err := wire.DecodeGetDataRequest(payload)
	if err != nil {
		return nil, err
	}
	data, err := s.GetData(context.Background(), req)
	if err != nil {
		return wire.GetDataResponse{Status: int32(mmcerr.ToCode(err))}.Encode(), nil
	}
	return wire.GetDataResponse{Status: int32(mmcerr.OK), Data: data}.Encode(), nil
}

func (s *Service) handleMetaReplicate(payload []byte) ([]byte, error) {
	req, err := wire.DecodeMetaReplicateRequest(payload)
	if err != nil {
		return nil, err
	}
	switch req.Op {
	case wire.ReplicateInstall:
		s.InstallReplica(req.Key, req.Blob)
	case wire.ReplicateRemove:
		s.RemoveReplica(req.Key)
	default:
		return nil, mmcerr.Newf(mmcerr.INVALID, "localsvc: unknown MetaReplicateOp %d", req.Op)
	}
	return wire.StatusResponse{Status: int32(mmcerr.OK)}.Encode(), nil
}

func (s *Service) handleBlobCopy(payload []byte) ([]byte, error) {
	req, err := wire.DecodeBlobCopyRequest(payload)
	if err != nil {
		return nil, err
	}
	srcBlob := alloc.Blob{Rank: req.Src.Rank, Media: req.Src.Media, GVA: req.Src.GVA, Size: req.Src.Size}
	dstBlob := alloc.Blob{Rank: req.Dst.Rank, Media: req.Dst.Media, GVA: req.Dst.GVA, Size: req.Dst.Size}
	status := int32(mmcerr.OK)
	if err := s.CopyBlob(context.Background(), req.Key, srcBlob, dstBlob); err != nil {
		status = int32(mmcerr.ToCode(err))
	}
	return wire.StatusResponse{Status: status}.Encode(), nil
}

// CopyBlob implements metamgr.BlobCopier: it moves src's bytes into the
// already-reserved dst extent via the fabric Driver (spec §4.5
// CheckAndEvict, §4.6 BlobCopy). A shared fabric means both extents are
// directly addressable regardless of which rank issued the RPC.
func (s *Service) CopyBlob(ctx context.Context, key string, src, dst alloc.Blob) error {
	if src.Size != dst.Size {
		return mmcerr.Newf(mmcerr.INVALID, "localsvc: blob copy size mismatch src=%d dst=%d for key %q", src.Size, dst.Size, key)
	}
	if err := s.driver.Copy1D(ctx, fabric.CopyDesc1D{
		Dir:     fabric.DirG2G,
		SrcAddr: uintptr(src.GVA),
		DstAddr: uintptr(dst.GVA),
		Len:     src.Size,
	}); err != nil {
		return fmt.Errorf("localsvc: copy blob for key %q: %w", key, err)
	}
	return s.driver.AsyncDrain(ctx)
}
