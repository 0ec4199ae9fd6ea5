// Package wire implements the mmc binary wire protocol: length-prefixed
// frames with a fixed header (2-byte version, 2-byte opcode, 4-byte
// destRankId) followed by a typed, field-by-field little-endian body
// (spec §6). This is a closed, spec-mandated binary format rather than a
// generic RPC framework (protobuf/gRPC would impose their own framing),
// so the codec is hand-written against encoding/binary the way the
// teacher's offheap package hand-writes its own memory layouts instead of
// reaching for a generic serialization library.
package wire

// Opcode identifies the control message carried by one frame.
type Opcode uint16

const (
	OpPing Opcode = iota + 1

	// Client <-> MetaSvc control opcodes.
	OpAlloc
	OpUpdate
	OpGet
	OpBatchGet
	OpRemove
	OpBatchRemove
	OpIsExist
	OpBatchIsExist
	OpQuery
	OpBatchQuery
	OpBmRegister
	OpBmUnregister

	// MetaSvc <-> LocalSvc opcodes.
	OpMetaReplicate
	OpBlobCopy

	// Client <-> LocalSvc data-path opcodes: the actual bytes of a Put/Get
	// never pass through MetaSvc (spec §4.6, §4.7 — control and data
	// planes are separate RPC targets).
	OpPutData
	OpGetData
)

func (o Opcode) String() string {
	switch o {
	case OpPing:
		return "PING"
	case OpAlloc:
		return "ALLOC"
	case OpUpdate:
		return "UPDATE"
	case OpGet:
		return "GET"
	case OpBatchGet:
		return "BATCH_GET"
	case OpRemove:
		return "REMOVE"
	case OpBatchRemove:
		return "BATCH_REMOVE"
	case OpIsExist:
		return "IS_EXIST"
	case OpBatchIsExist:
		return "BATCH_IS_EXIST"
	case OpQuery:
		return "QUERY"
	case OpBatchQuery:
		return "BATCH_QUERY"
	case OpBmRegister:
		return "BM_REGISTER"
	case OpBmUnregister:
		return "BM_UNREGISTER"
	case OpMetaReplicate:
		return "META_REPLICATE"
	case OpBlobCopy:
		return "BLOB_COPY"
	case OpPutData:
		return "PUT_DATA"
	case OpGetData:
		return "GET_DATA"
	default:
		return "UNKNOWN_OPCODE"
	}
}

// ProtocolVersion is the wire version written into every frame header.
const ProtocolVersion uint16 = 1

// Media is the memory tier enum carried on the wire and throughout the
// allocator/meta layers.
type Media uint8

const (
	MediaNone Media = iota
	MediaDRAM
	MediaHBM
)

func (m Media) String() string {
	switch m {
	case MediaDRAM:
		return "DRAM"
	case MediaHBM:
		return "HBM"
	default:
		return "NONE"
	}
}

// BlobState is the wire representation of the blob state machine (spec §4.3).
type BlobState uint8

const (
	StateInit BlobState = iota
	StateAllocated
	StateDataWriting
	StateDataReady
	StateCopying
	StateRemoving
	StateFinal
)

func (s BlobState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateAllocated:
		return "ALLOCATED"
	case StateDataWriting:
		return "DATA_WRITING"
	case StateDataReady:
		return "DATA_READY"
	case StateCopying:
		return "COPYING"
	case StateRemoving:
		return "REMOVING"
	case StateFinal:
		return "FINAL"
	default:
		return "UNKNOWN_STATE"
	}
}

// Action drives blob state transitions (spec §4.3 table) and is also the
// op code used by UpdateRequest.
type Action uint8

const (
	ActionAllocOK Action = iota + 1
	ActionAllocFail
	ActionWriteStart
	ActionWriteOK
	ActionWriteFail
	ActionRemoveStart
	ActionRemoveOK
	ActionCopyStart
	ActionCopyEnd
	ActionReadOK
)

// AllocFlags bit-flags on an AllocRequest (spec §4.2).
type AllocFlags uint32

const (
	AllocForceByRank AllocFlags = 1 << iota
)

// MaxKeyLen bounds key length per spec §7 INVALID condition.
const MaxKeyLen = 256
