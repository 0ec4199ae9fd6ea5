package wire

// DimType selects whether a BufferDesc describes a flat extent or a
// strided multi-layer one (spec §4.6 mmcBuffer).
type DimType uint8

const (
	Dim1D DimType = iota
	Dim2D
)

// BufferDesc is the wire form of mmcBuffer (spec §4.6): enough to drive
// either a Copy1D or a Copy2D on the receiving LocalSvc without any
// further negotiation.
type BufferDesc struct {
	DimType DimType

	// 1D fields.
	Offset uint64
	Len    uint64

	// 2D fields.
	SPitch      uint64
	DPitch      uint64
	Width       uint64
	LayerOffset uint64
	LayerNum    uint64
	LayerCount  uint64
}

func (b BufferDesc) Encode(e *Encoder) {
	e.Uint8(uint8(b.DimType))
	e.Uint64(b.Offset)
	e.Uint64(b.Len)
	e.Uint64(b.SPitch)
	e.Uint64(b.DPitch)
	e.Uint64(b.Width)
	e.Uint64(b.LayerOffset)
	e.Uint64(b.LayerNum)
	e.Uint64(b.LayerCount)
}

func DecodeBufferDesc(d *Decoder) BufferDesc {
	return BufferDesc{
		DimType:     DimType(d.Uint8()),
		Offset:      d.Uint64(),
		Len:         d.Uint64(),
		SPitch:      d.Uint64(),
		DPitch:      d.Uint64(),
		Width:       d.Uint64(),
		LayerOffset: d.Uint64(),
		LayerNum:    d.Uint64(),
		LayerCount:  d.Uint64(),
	}
}

// PutDataRequest carries the raw bytes of a Put's data phase directly to
// the LocalSvc owning blob (spec §4.6, §4.7: control plane placement via
// MetaSvc.Alloc, data plane bytes via LocalSvc). Buffer describes how
// Data should be laid out within blob's extent.
type PutDataRequest struct {
	Blob      BlobDesc
	Buffer    BufferDesc
	Data      []byte
	OperateID uint64
}

func (r PutDataRequest) Encode() []byte {
	e := NewEncoder()
	r.Blob.Encode(e)
	r.Buffer.Encode(e)
	e.Bytes(r.Data)
	e.Uint64(r.OperateID)
	return e.Bytes_()
}

func DecodePutDataRequest(body []byte) (PutDataRequest, error) {
	d := NewDecoder(body)
	r := PutDataRequest{Blob: DecodeBlobDesc(d), Buffer: DecodeBufferDesc(d), Data: d.Bytes(), OperateID: d.Uint64()}
	return r, d.Err()
}

type PutDataResponse struct {
	Status int32
}

func (r PutDataResponse) Encode() []byte {
	e := NewEncoder()
	e.Int32(r.Status)
	return e.Bytes_()
}

func DecodePutDataResponse(body []byte) (PutDataResponse, error) {
	d := NewDecoder(body)
	return PutDataResponse{Status: d.Int32()}, d.Err()
}

// GetDataRequest asks LocalSvc to return the bytes currently backing
// blob (spec §4.6, §4.7 Get data phase).
type GetDataRequest struct {
	Blob      BlobDesc
	Buffer    BufferDesc
	OperateID uint64
}

func (r GetDataRequest) Encode() []byte {
	e := NewEncoder()
	r.Blob.Encode(e)
	r.Buffer.Encode(e)
	e.Uint64(r.OperateID)
	return e.Bytes_()
}

func DecodeGetDataRequest(body []byte) (GetDataRequest, error) {
	d := NewDecoder(body)
	r := GetDataRequest{Blob: DecodeBlobDesc(d), Buffer: DecodeBufferDesc(d), OperateID: d.Uint64()}
	return r, d.Err()
}

type GetDataResponse struct {
	Status int32
	Data   []byte
}

func (r GetDataResponse) Encode() []byte {
	e := NewEncoder()
	e.Int32(r.Status)
	e.Bytes(r.Data)
	return e.Bytes_()
}

func DecodeGetDataResponse(body []byte) (GetDataResponse, error) {
	d := NewDecoder(body)
	return GetDataResponse{Status: d.Int32(), Data: d.Bytes()}, d.Err()
}
