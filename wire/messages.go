package wire

// BlobDesc is the wire representation of one placed blob: enough to
// locate it (rank, media, gva, size) and to know its lifecycle state.
type BlobDesc struct {
	Rank  uint32
	Media Media
	GVA   uint64
	Size  uint64
	State BlobState
}

func (b BlobDesc) Encode(e *Encoder) {
	e.Uint32(b.Rank)
	e.Uint8(uint8(b.Media))
	e.Uint64(b.GVA)
	e.Uint64(b.Size)
	e.Uint8(uint8(b.State))
}

func DecodeBlobDesc(d *Decoder) BlobDesc {
	return BlobDesc{
		Rank:  d.Uint32(),
		Media: Media(d.Uint8()),
		GVA:   d.Uint64(),
		Size:  d.Uint64(),
		State: BlobState(d.Uint8()),
	}
}

func encodeBlobDescs(e *Encoder, bs []BlobDesc) {
	e.Uint64(uint64(len(bs)))
	for _, b := range bs {
		b.Encode(e)
	}
}

func decodeBlobDescs(d *Decoder) []BlobDesc {
	n := d.Uint64()
	out := make([]BlobDesc, 0, n)
	for i := uint64(0); i < n; i++ {
		out = append(out, DecodeBlobDesc(d))
	}
	return out
}

// AllocRequest corresponds to spec §4.7 step 2 / §4.2 alloc routing input.
type AllocRequest struct {
	Key           string
	Size          uint64
	ReplicaCount  uint32
	Media         Media
	PreferredRank uint32
	Flags         AllocFlags
	Priority      uint32
	OperateID     uint64
}

func (r AllocRequest) Encode() []byte {
	e := NewEncoder()
	e.String(r.Key)
	e.Uint64(r.Size)
	e.Uint32(r.ReplicaCount)
	e.Uint8(uint8(r.Media))
	e.Uint32(r.PreferredRank)
	e.Uint32(uint32(r.Flags))
	e.Uint32(r.Priority)
	e.Uint64(r.OperateID)
	return e.Bytes_()
}

func DecodeAllocRequest(body []byte) (AllocRequest, error) {
	d := NewDecoder(body)
	r := AllocRequest{
		Key:           d.String(),
		Size:          d.Uint64(),
		ReplicaCount:  d.Uint32(),
		Media:         Media(d.Uint8()),
		PreferredRank: d.Uint32(),
		Flags:         AllocFlags(d.Uint32()),
		Priority:      d.Uint32(),
		OperateID:     d.Uint64(),
	}
	return r, d.Err()
}

// AllocResponse returns the placed blobs plus the derived object metadata
// (spec §4.5 Alloc).
type AllocResponse struct {
	Status   int32
	Blobs    []BlobDesc
	Prot     uint32
	Priority uint32
}

func (r AllocResponse) Encode() []byte {
	e := NewEncoder()
	e.Int32(r.Status)
	encodeBlobDescs(e, r.Blobs)
	e.Uint32(r.Prot)
	e.Uint32(r.Priority)
	return e.Bytes_()
}

func DecodeAllocResponse(body []byte) (AllocResponse, error) {
	d := NewDecoder(body)
	r := AllocResponse{
		Status: d.Int32(),
		Blobs:  decodeBlobDescs(d),
		Prot:   d.Uint32(),
	}
	r.Priority = d.Uint32()
	return r, d.Err()
}

// UpdateRequest drives a blob-state transition (spec §4.5 UpdateState).
type UpdateRequest struct {
	Key       string
	Rank      uint32
	Media     Media
	Action    Action
	OperateID uint64
}

func (r UpdateRequest) Encode() []byte {
	e := NewEncoder()
	e.String(r.Key)
	e.Uint32(r.Rank)
	e.Uint8(uint8(r.Media))
	e.Uint8(uint8(r.Action))
	e.Uint64(r.OperateID)
	return e.Bytes_()
}

func DecodeUpdateRequest(body []byte) (UpdateRequest, error) {
	d := NewDecoder(body)
	r := UpdateRequest{
		Key:       d.String(),
		Rank:      d.Uint32(),
		Media:     Media(d.Uint8()),
		Action:    Action(d.Uint8()),
		OperateID: d.Uint64(),
	}
	return r, d.Err()
}

type UpdateResponse struct {
	Status int32
}

func (r UpdateResponse) Encode() []byte {
	e := NewEncoder()
	e.Int32(r.Status)
	return e.Bytes_()
}

func DecodeUpdateResponse(body []byte) (UpdateResponse, error) {
	d := NewDecoder(body)
	r := UpdateResponse{Status: d.Int32()}
	return r, d.Err()
}

// GetRequest corresponds to spec §4.5 Get / §4.7 Get step 1.
type GetRequest struct {
	Key       string
	Rank      uint32
	OperateID uint64
}

func (r GetRequest) Encode() []byte {
	e := NewEncoder()
	e.String(r.Key)
	e.Uint32(r.Rank)
	e.Uint64(r.OperateID)
	return e.Bytes_()
}

func DecodeGetRequest(body []byte) (GetRequest, error) {
	d := NewDecoder(body)
	r := GetRequest{Key: d.String(), Rank: d.Uint32(), OperateID: d.Uint64()}
	return r, d.Err()
}

type GetResponse struct {
	Status int32
	Blob   BlobDesc
	Size   uint64
}

func (r GetResponse) Encode() []byte {
	e := NewEncoder()
	e.Int32(r.Status)
	r.Blob.Encode(e)
	e.Uint64(r.Size)
	return e.Bytes_()
}

func DecodeGetResponse(body []byte) (GetResponse, error) {
	d := NewDecoder(body)
	r := GetResponse{Status: d.Int32(), Blob: DecodeBlobDesc(d), Size: d.Uint64()}
	return r, d.Err()
}

// BatchGetRequest / BatchGetResponse: parallel arrays, sizes must match
// (spec §4.7, §7).
type BatchGetRequest struct {
	Keys      []string
	Rank      uint32
	OperateID uint64
}

func (r BatchGetRequest) Encode() []byte {
	e := NewEncoder()
	e.Uint64(uint64(len(r.Keys)))
	for _, k := range r.Keys {
		e.String(k)
	}
	e.Uint32(r.Rank)
	e.Uint64(r.OperateID)
	return e.Bytes_()
}

func DecodeBatchGetRequest(body []byte) (BatchGetRequest, error) {
	d := NewDecoder(body)
	n := d.Uint64()
	keys := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		keys = append(keys, d.String())
	}
	r := BatchGetRequest{Keys: keys, Rank: d.Uint32(), OperateID: d.Uint64()}
	return r, d.Err()
}

type BatchGetResponse struct {
	Statuses []int32
	Results  []GetResponse
}

func (r BatchGetResponse) Encode() []byte {
	e := NewEncoder()
	e.Uint64(uint64(len(r.Statuses)))
	for _, s := range r.Statuses {
		e.Int32(s)
	}
	e.Uint64(uint64(len(r.Results)))
	for _, res := range r.Results {
		e.Int32(res.Status)
		res.Blob.Encode(e)
		e.Uint64(res.Size)
	}
	return e.Bytes_()
}

func DecodeBatchGetResponse(body []byte) (BatchGetResponse, error) {
	d := NewDecoder(body)
	n := d.Uint64()
	statuses := make([]int32, 0, n)
	for i := uint64(0); i < n; i++ {
		statuses = append(statuses, d.Int32())
	}
	m := d.Uint64()
	results := make([]GetResponse, 0, m)
	for i := uint64(0); i < m; i++ {
		results = append(results, GetResponse{Status: d.Int32(), Blob: DecodeBlobDesc(d), Size: d.Uint64()})
	}
	return BatchGetResponse{Statuses: statuses, Results: results}, d.Err()
}

// RemoveRequest / RemoveResponse, BatchRemove*, IsExist*, BatchIsExist*,
// Query*, BatchQuery* all share the same plain-pass-through shape: a
// request with Key(s) and a response with Status(es), aside from Query
// which additionally returns object metadata (spec §4.5 Query).

type KeyRequest struct {
	Key       string
	OperateID uint64
}

func (r KeyRequest) Encode() []byte {
	e := NewEncoder()
	e.String(r.Key)
	e.Uint64(r.OperateID)
	return e.Bytes_()
}

func DecodeKeyRequest(body []byte) (KeyRequest, error) {
	d := NewDecoder(body)
	r := KeyRequest{Key: d.String(), OperateID: d.Uint64()}
	return r, d.Err()
}

type StatusResponse struct {
	Status int32
}

func (r StatusResponse) Encode() []byte {
	e := NewEncoder()
	e.Int32(r.Status)
	return e.Bytes_()
}

func DecodeStatusResponse(body []byte) (StatusResponse, error) {
	d := NewDecoder(body)
	return StatusResponse{Status: d.Int32()}, d.Err()
}

type BatchKeyRequest struct {
	Keys      []string
	OperateID uint64
}

func (r BatchKeyRequest) Encode() []byte {
	e := NewEncoder()
	e.Uint64(uint64(len(r.Keys)))
	for _, k := range r.Keys {
		e.String(k)
	}
	e.Uint64(r.OperateID)
	return e.Bytes_()
}

func DecodeBatchKeyRequest(body []byte) (BatchKeyRequest, error) {
	d := NewDecoder(body)
	n := d.Uint64()
	keys := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		keys = append(keys, d.String())
	}
	return BatchKeyRequest{Keys: keys, OperateID: d.Uint64()}, d.Err()
}

type BatchStatusResponse struct {
	Statuses []int32
}

func (r BatchStatusResponse) Encode() []byte {
	e := NewEncoder()
	e.Uint64(uint64(len(r.Statuses)))
	for _, s := range r.Statuses {
		e.Int32(s)
	}
	return e.Bytes_()
}

func DecodeBatchStatusResponse(body []byte) (BatchStatusResponse, error) {
	d := NewDecoder(body)
	n := d.Uint64()
	out := make([]int32, 0, n)
	for i := uint64(0); i < n; i++ {
		out = append(out, d.Int32())
	}
	return BatchStatusResponse{Statuses: out}, d.Err()
}

// QueryResponse carries the no-side-effect object view (spec §4.5 Query).
type QueryResponse struct {
	Status   int32
	Size     uint64
	Prot     uint32
	NumBlobs uint32
	Blobs    []BlobDesc
	Valid    bool
}

func (r QueryResponse) Encode() []byte {
	e := NewEncoder()
	e.Int32(r.Status)
	e.Uint64(r.Size)
	e.Uint32(r.Prot)
	e.Uint32(r.NumBlobs)
	encodeBlobDescs(e, r.Blobs)
	e.Bool(r.Valid)
	return e.Bytes_()
}

func DecodeQueryResponse(body []byte) (QueryResponse, error) {
	d := NewDecoder(body)
	r := QueryResponse{
		Status:   d.Int32(),
		Size:     d.Uint64(),
		Prot:     d.Uint32(),
		NumBlobs: d.Uint32(),
		Blobs:    decodeBlobDescs(d),
		Valid:    d.Bool(),
	}
	return r, d.Err()
}

type BatchQueryResponse struct {
	Results []QueryResponse
}

func (r BatchQueryResponse) Encode() []byte {
	e := NewEncoder()
	e.Uint64(uint64(len(r.Results)))
	for _, res := range r.Results {
		e.Int32(res.Status)
		e.Uint64(res.Size)
		e.Uint32(res.Prot)
		e.Uint32(res.NumBlobs)
		encodeBlobDescs(e, res.Blobs)
		e.Bool(res.Valid)
	}
	return e.Bytes_()
}

func DecodeBatchQueryResponse(body []byte) (BatchQueryResponse, error) {
	d := NewDecoder(body)
	n := d.Uint64()
	out := make([]QueryResponse, 0, n)
	for i := uint64(0); i < n; i++ {
		out = append(out, QueryResponse{
			Status:   d.Int32(),
			Size:     d.Uint64(),
			Prot:     d.Uint32(),
			NumBlobs: d.Uint32(),
			Blobs:    decodeBlobDescs(d),
			Valid:    d.Bool(),
		})
	}
	return BatchQueryResponse{Results: out}, d.Err()
}

// BmRegisterRequest / BmUnregisterRequest: LocalSvc <-> MetaSvc segment
// lifecycle (spec §4.6).
type BmRegisterRequest struct {
	Rank     uint32
	Media    Media
	Base     uint64
	Capacity uint64
}

func (r BmRegisterRequest) Encode() []byte {
	e := NewEncoder()
	e.Uint32(r.Rank)
	e.Uint8(uint8(r.Media))
	e.Uint64(r.Base)
	e.Uint64(r.Capacity)
	return e.Bytes_()
}

func DecodeBmRegisterRequest(body []byte) (BmRegisterRequest, error) {
	d := NewDecoder(body)
	r := BmRegisterRequest{Rank: d.Uint32(), Media: Media(d.Uint8()), Base: d.Uint64(), Capacity: d.Uint64()}
	return r, d.Err()
}

type BmUnregisterRequest struct {
	Rank  uint32
	Media Media
}

func (r BmUnregisterRequest) Encode() []byte {
	e := NewEncoder()
	e.Uint32(r.Rank)
	e.Uint8(uint8(r.Media))
	return e.Bytes_()
}

func DecodeBmUnregisterRequest(body []byte) (BmUnregisterRequest, error) {
	d := NewDecoder(body)
	return BmUnregisterRequest{Rank: d.Uint32(), Media: Media(d.Uint8())}, d.Err()
}

// MetaReplicateOp selects install vs remove for MetaReplicate (spec §4.6).
type MetaReplicateOp uint8

const (
	ReplicateInstall MetaReplicateOp = iota
	ReplicateRemove
)

type MetaReplicateRequest struct {
	Op   MetaReplicateOp
	Key  string
	Blob BlobDesc
}

func (r MetaReplicateRequest) Encode() []byte {
	e := NewEncoder()
	e.Uint8(uint8(r.Op))
	e.String(r.Key)
	r.Blob.Encode(e)
	return e.Bytes_()
}

func DecodeMetaReplicateRequest(body []byte) (MetaReplicateRequest, error) {
	d := NewDecoder(body)
	r := MetaReplicateRequest{Op: MetaReplicateOp(d.Uint8()), Key: d.String(), Blob: DecodeBlobDesc(d)}
	return r, d.Err()
}

// BlobCopyRequest drives rank-to-rank replication/demotion (spec §4.5
// CheckAndEvict, §4.6 BlobCopy).
type BlobCopyRequest struct {
	Key  string
	Src  BlobDesc
	Dst  BlobDesc
}

func (r BlobCopyRequest) Encode() []byte {
	e := NewEncoder()
	e.String(r.Key)
	r.Src.Encode(e)
	r.Dst.Encode(e)
	return e.Bytes_()
}

func DecodeBlobCopyRequest(body []byte) (BlobCopyRequest, error) {
	d := NewDecoder(body)
	r := BlobCopyRequest{Key: d.String(), Src: DecodeBlobDesc(d), Dst: DecodeBlobDesc(d)}
	return r, d.Err()
}

type PingRequest struct{}

func (PingRequest) Encode() []byte { return nil }

func DecodePingRequest([]byte) (PingRequest, error) { return PingRequest{}, nil }
