package localsvc

import (
	"context"
	"fmt"

	"github.com/memfabric/mmc/mmcerr"
	"github.com/memfabric/mmc/wire"
)

// PutData stages req.Data into req.Blob's extent, honoring req.Buffer's
// 1D/2D layout (spec §4.6 Put data phase). The bytes arrive over the
// wire as a flat host buffer; Buffer describes how that flat buffer maps
// onto the device extent.
func (s *Service) PutData(ctx context.Context, req wire.PutDataRequest) error {
	if req.Buffer.DimType == wire.Dim2D {
		return s.put2D(ctx, req)
	}
	return s.put1D(ctx, req)
}

func (s *Service) put1D(ctx context.Context, req wire.PutDataRequest) error {
	length := req.Buffer.Len
	if length == 0 {
		length = uint64(len(req.Data))
	}
	if uint64(len(req.Data)) != length {
		return mmcerr.Newf(mmcerr.INVALID, "localsvc: put data length %d does not match buffer len %d", len(req.Data), length)
	}
	if req.Buffer.Offset+length > req.Blob.Size {
		return mmcerr.Newf(mmcerr.INVALID, "localsvc: put buffer [%d,%d) exceeds blob size %d", req.Buffer.Offset, req.Buffer.Offset+length, req.Blob.Size)
	}

	view, err := s.driver.LocalView(ctx, req.Blob.GVA+req.Buffer.Offset, length)
	if err != nil {
		return fmt.Errorf("localsvc: put1d local view: %w", err)
	}
	copy(view, req.Data)
	return s.driver.AsyncDrain(ctx)
}

func (s *Service) put2D(ctx context.Context, req wire.PutDataRequest) error {
	b := req.Buffer
	if b.DPitch < b.Width {
		return mmcerr.Newf(mmcerr.INVALID, "localsvc: put2d requires dpitch >= width, got dpitch=%d width=%d", b.DPitch, b.Width)
	}
	total := b.DPitch * (b.LayerOffset + b.LayerNum)
	if total > req.Blob.Size {
		return mmcerr.Newf(mmcerr.INVALID, "localsvc: put2d extent %d exceeds blob size %d", total, req.Blob.Size)
	}
	if uint64(len(req.Data)) != b.Width*b.LayerNum {
		return mmcerr.Newf(mmcerr.INVALID, "localsvc: put2d data length %d does not match width*layerNum %d", len(req.Data), b.Width*b.LayerNum)
	}

	view, err := s.driver.LocalView(ctx, req.Blob.GVA, total)
	if err != nil {
		return fmt.Errorf("localsvc: put2d local view: %w", err)
	}
	for layer := uint64(0); layer < b.LayerNum; layer++ {
		dstOff := (b.LayerOffset + layer) * b.DPitch
		srcOff := layer * b.Width
		copy(view[dstOff:dstOff+b.Width], req.Data[srcOff:srcOff+b.Width])
	}
	return s.driver.AsyncDrain(ctx)
}

// GetData reads req.Blob's extent back out, honoring req.Buffer's layout
// (spec §4.6 Get data phase).
func (s *Service) GetData(ctx context.Context, req wire.GetDataRequest) ([]byte, error) {
	if req.Buffer.DimType == wire.Dim2D {
		return s.get2D(ctx, req)
	}
	return s.get1D(ctx, req)
}

func (s *Service) get1D(ctx context.Context, req wire.GetDataRequest) ([]byte, error) {
	length := req.Buffer.Len
	if length == 0 {
		length = req.Blob.Size - req.Buffer.Offset
	}
	if req.Buffer.Offset+length > req.Blob.Size {
		return nil, mmcerr.Newf(mmcerr.INVALID, "localsvc: get buffer [%d,%d) exceeds blob size %d", req.Buffer.Offset, req.Buffer.Offset+length, req.Blob.Size)
	}
	view, err := s.driver.LocalView(ctx, req.Blob.GVA+req.Buffer.Offset, length)
	if err != nil {
		return nil, fmt.Errorf("localsvc: get1d local view: %w", err)
	}
	out := make([]byte, length)
	copy(out, view)
	return out, nil
}

func (s *Service) get2D(ctx context.Context, req wire.GetDataRequest) ([]byte, error) {
	b := req.Buffer
	if b.SPitch < b.Width {
		return nil, mmcerr.Newf(mmcerr.INVALID, "localsvc: get2d requires spitch >= width, got spitch=%d width=%d", b.SPitch, b.Width)
	}
	total := b.SPitch * (b.LayerOffset + b.LayerNum)
	if total > req.Blob.Size {
		return nil, mmcerr.Newf(mmcerr.INVALID, "localsvc: get2d extent %d exceeds blob size %d", total, req.Blob.Size)
	}
	view, err := s.driver.LocalView(ctx, req.Blob.GVA, total)
	if err != nil {
		return nil, fmt.Errorf("localsvc: get2d local view: %w", err)
	}
	out := make([]byte, b.Width*b.LayerNum)
	for layer := uint64(0); layer < b.LayerNum; layer++ {
		srcOff := (b.LayerOffset + layer) * b.SPitch
		dstOff := layer * b.Width
		copy(out[dstOff:dstOff+b.Width], view[srcOff:srcOff+b.Width])
	}
	return out, nil
}

