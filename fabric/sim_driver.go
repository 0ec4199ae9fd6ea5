package fabric

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// World is the in-process stand-in for the accelerator fabric's shared
// virtual address space: every rank's SimDriver reserves regions out of
// one World, so a Copy1D/Copy2D naming a remote rank's GVA can resolve it
// without an actual network hop. Production deployments replace World's
// role with the real device-shared virtual memory the vendor driver
// exposes; this repository ships World because every test and example in
// it needs to exercise the full Put/Get/BlobCopy path without hardware.
type World struct {
	mu       sync.Mutex
	nextBase uint64
	regions  map[uint64]*region
}

type region struct {
	base    uint64
	size    uint64
	backing []byte
	device  int
}

// gvaAlign mirrors the 4 KiB alignment the allocator enforces (spec §4.1);
// region bases are aligned to it so a region's GVA range never straddles
// another region's.
const gvaAlign = 4096

func NewWorld() *World {
	return &World{
		nextBase: gvaAlign,
		regions:  make(map[uint64]*region),
	}
}

func (w *World) reserve(size uint64, device int) (uint64, error) {
	aligned := (size + gvaAlign - 1) &^ (gvaAlign - 1)
	if aligned == 0 {
		return 0, fmt.Errorf("fabric: cannot reserve zero-size region")
	}

	// Mirrors the teacher's offheap/internal/pointerstore.MmapSlab: one
	// anonymous mapping backs the whole region so it has a stable
	// address for the lifetime of the reservation.
	data, err := unix.Mmap(-1, 0, int(aligned), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, fmt.Errorf("fabric: mmap %d bytes: %w", aligned, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	base := w.nextBase
	w.nextBase += aligned
	w.regions[base] = &region{base: base, size: aligned, backing: data, device: device}
	return base, nil
}

func (w *World) free(gva uint64, size uint64) error {
	w.mu.Lock()
	r, ok := w.regions[gva]
	sizeOK := ok && r.size == (size+gvaAlign-1)&^(gvaAlign-1)
	if sizeOK {
		delete(w.regions, gva)
	}
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("fabric: free of unknown region at gva %d", gva)
	}
	if !sizeOK {
		return fmt.Errorf("fabric: free size %d does not match reserved region size %d", size, r.size)
	}
	return unix.Munmap(r.backing)
}

// slice returns the byte view of [gva, gva+size) if it lies entirely
// within one registered region.
func (w *World) slice(gva uint64, size uint64) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for base, r := range w.regions {
		if gva < base || gva+size > base+r.size {
			continue
		}
		off := gva - base
		return r.backing[off : off+size], nil
	}
	return nil, fmt.Errorf("fabric: no region covers gva range [%d,%d)", gva, gva+size)
}

// SimDriver is a Driver bound to one (rank, device) sharing a World with
// every other rank in the simulated pod.
type SimDriver struct {
	world    *World
	rank     int
	device   int
	drains   atomic.Int64
	inflight atomic.Int64
}

func NewSimDriver(world *World, rank, device int) *SimDriver {
	return &SimDriver{world: world, rank: rank, device: device}
}

func (d *SimDriver) GvaReserve(_ context.Context, size uint64, device int, _ uint32) (uint64, error) {
	return d.world.reserve(size, device)
}

func (d *SimDriver) GvaAlloc(_ context.Context, gva uint64, size uint64, _ uint32) error {
	_, err := d.world.slice(gva, size)
	return err
}

func (d *SimDriver) GvaFree(_ context.Context, gva uint64, size uint64) error {
	return d.world.free(gva, size)
}

// GvaOpen/GvaClose are no-ops in the simulator: every SimDriver sharing a
// World already has direct access to every registered region, so mapping
// a remote rank's named segment in is implicit. A vendor Driver backing
// real hardware must actually perform the mapping.
func (d *SimDriver) GvaOpen(_ context.Context, gva uint64, _ string, size uint64, _ uint32) error {
	_, err := d.world.slice(gva, size)
	return err
}

func (d *SimDriver) GvaClose(context.Context, uint64, uint32) error { return nil }

func (d *SimDriver) SetIpcMemoryName(_ context.Context, addr uintptr, size uint64) (string, error) {
	return fmt.Sprintf("mmc-seg-r%d-a%x-s%d", d.rank, addr, size), nil
}

func (d *SimDriver) DeviceEnablePeerAccess(context.Context, int, uint32) error { return nil }

func (d *SimDriver) LocalView(_ context.Context, gva uint64, size uint64) ([]byte, error) {
	return d.world.slice(gva, size)
}

func (d *SimDriver) Copy1D(_ context.Context, c CopyDesc1D) error {
	d.inflight.Add(1)
	defer d.inflight.Add(-1)

	src, err := d.world.slice(uint64(c.SrcAddr), c.Len)
	if err != nil {
		return fmt.Errorf("fabric: copy1d src: %w", err)
	}
	dst, err := d.world.slice(uint64(c.DstAddr), c.Len)
	if err != nil {
		return fmt.Errorf("fabric: copy1d dst: %w", err)
	}
	copy(dst, src)
	return nil
}

func (d *SimDriver) Copy2D(_ context.Context, c CopyDesc2D) error {
	if c.DstPitch < c.Width || c.SrcPitch < c.Width {
		return fmt.Errorf("fabric: copy2d requires pitch >= width, got srcPitch=%d dstPitch=%d width=%d", c.SrcPitch, c.DstPitch, c.Width)
	}
	d.inflight.Add(1)
	defer d.inflight.Add(-1)

	totalSrc := c.SrcPitch * (c.LayerOffset + c.LayerNum)
	totalDst := c.DstPitch * (c.LayerOffset + c.LayerNum)
	src, err := d.world.slice(uint64(c.SrcAddr), totalSrc)
	if err != nil {
		return fmt.Errorf("fabric: copy2d src: %w", err)
	}
	dst, err := d.world.slice(uint64(c.DstAddr), totalDst)
	if err != nil {
		return fmt.Errorf("fabric: copy2d dst: %w", err)
	}
	for layer := uint64(0); layer < c.LayerNum; layer++ {
		srcOff := (c.LayerOffset + layer) * c.SrcPitch
		dstOff := (c.LayerOffset + layer) * c.DstPitch
		copy(dst[dstOff:dstOff+c.Width], src[srcOff:srcOff+c.Width])
	}
	return nil
}

// AsyncDrain blocks until every Copy1D/Copy2D this driver has started has
// returned (spec §4.6: BmUnregister is "preceded by draining outstanding
// ops"). The simulator's copies are synchronous already, so this simply
// observes the inflight counter settle; a real async-capable Driver would
// wait on its hardware completion queue here instead.
func (d *SimDriver) AsyncDrain(ctx context.Context) error {
	d.drains.Add(1)
	for d.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}
