// Package fabric abstracts the accelerator driver primitives spec §6
// treats as out-of-scope collaborators: GVA reservation, peer access,
// named IPC segments, and 1D/2D DMA copy with async-drain. The core never
// depends on a vendor ABI; it depends on this interface.
package fabric

import "context"

// Direction tags a DMA copy's source/destination memory classes (spec §6).
type Direction uint8

const (
	DirH2G Direction = iota // host to global (device-shared) memory
	DirL2G                  // local device memory to global memory
	DirG2H                  // global memory to host
	DirG2L                  // global memory to local device memory
	DirG2G                  // global memory to global memory, e.g. a cross-tier demotion copy
)

// CopyDesc1D describes a flat, contiguous DMA copy.
type CopyDesc1D struct {
	Dir      Direction
	SrcAddr  uintptr
	DstAddr  uintptr
	Len      uint64
}

// CopyDesc2D describes a strided DMA copy. Per spec §4.6 the contract
// requires DPitch >= Width; the DMA engine is invoked with
// (pitch, width, layers) descriptors rather than emulated as a loop of 1D
// calls (spec §9: "emulation loses a factor of 5-10x").
type CopyDesc2D struct {
	Dir         Direction
	SrcAddr     uintptr
	DstAddr     uintptr
	SrcPitch    uint64
	DstPitch    uint64
	Width       uint64
	LayerOffset uint64
	LayerNum    uint64
	LayerCount  uint64
}

// Driver is the abstract accelerator fabric interface. One Driver exists
// per LocalSvc process, bound to that rank's device.
type Driver interface {
	// GvaReserve reserves a fabric-wide virtual address range of size
	// bytes for device on this rank, returning its base GVA.
	GvaReserve(ctx context.Context, size uint64, device int, flags uint32) (gva uint64, err error)
	// GvaAlloc backs [gva, gva+size) with real device/host memory.
	GvaAlloc(ctx context.Context, gva uint64, size uint64, flags uint32) error
	// GvaFree releases backing memory without releasing the reservation.
	GvaFree(ctx context.Context, gva uint64, size uint64) error
	// GvaOpen maps a remote rank's named shared segment into the local
	// virtual range at gva, for RDMA/SDMA targets that resolve through a
	// published IPC name rather than direct GVA arithmetic.
	GvaOpen(ctx context.Context, gva uint64, shmName string, size uint64, flags uint32) error
	GvaClose(ctx context.Context, gva uint64, flags uint32) error

	// SetIpcMemoryName publishes extent [addr, addr+size) under a shared
	// name other ranks can GvaOpen.
	SetIpcMemoryName(ctx context.Context, addr uintptr, size uint64) (name string, err error)

	// DeviceEnablePeerAccess allows DMA between this rank's device and
	// remoteDeviceID.
	DeviceEnablePeerAccess(ctx context.Context, remoteDeviceID int, flags uint32) error

	// Copy1D/Copy2D perform (and, per spec §5, block until complete) one
	// DMA operation. AsyncDrain blocks until every outstanding copy on
	// this Driver has completed, used before BmUnregister (spec §4.6).
	Copy1D(ctx context.Context, d CopyDesc1D) error
	Copy2D(ctx context.Context, d CopyDesc2D) error
	AsyncDrain(ctx context.Context) error

	// LocalView exposes [gva, gva+size) as a byte slice for the host-side
	// half of a Put/Get DMA (spec §4.6's mmcBuffer may itself be host
	// memory; this is the abstract primitive LocalSvc uses to stage
	// bytes into/out of its own registered segment).
	LocalView(ctx context.Context, gva uint64, size uint64) ([]byte, error)
}
