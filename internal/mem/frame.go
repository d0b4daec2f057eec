// Package mem implements the kernel's physical frame allocator. The OOM
// reclamation cascade lives in package oom, which installs it here
// through SetReclaimHook.
//
// Two allocator shapes are provided, both satisfying FrameAllocator:
// StackPool (monotone cursor + recycled-id stack, O(1) alloc/free, no
// contiguous allocation once fragmented) and BitmapPool (one bit per frame,
// next-fit hint, supports contiguous search by scanning). Both are
// refcounted-frame allocators in the same shape as a conventional physical
// page allocator, generalized off any particular architecture's direct-map
// helpers.
package mem

import (
	"fmt"
	"sync/atomic"

	"riscix/internal/arch"
	"riscix/internal/config"
	"riscix/internal/errno"
)

// PageSize and PageShift re-export the architecture-common page geometry.
const (
	PageSize  = arch.PageSize
	PageShift = arch.PageShift
)

// Pa is a physical address/frame number, measured in bytes.
type Pa uintptr

// Frame is an owning handle to one physical page. Dropping the last live
// handle (calling Release once its refcount reaches zero) returns the page
// to the allocator that produced it — the same RAII contract the frame
// bookkeeping requires. Handles are reference-counted so a fork that shares
// pages copy-on-write can cheaply duplicate a handle via Share.
type Frame struct {
	pa    Pa
	pool  FrameAllocator
	freed int32
}

// Addr returns the frame's physical address.
func (f Frame) Addr() Pa { return f.pa }

// Bytes returns a byte slice view of the frame's contents via the
// allocator's direct map.
func (f Frame) Bytes() []byte { return f.pool.DirectMap(f.pa) }

// Share increments the frame's reference count and returns a new handle
// aliasing the same physical page — used when a child address space
// inherits a page copy-on-write after fork_copy.
func (f Frame) Share() Frame {
	f.pool.RefUp(f.pa)
	return Frame{pa: f.pa, pool: f.pool}
}

// Release returns this handle's reference to the underlying page. The
// frame only returns to the free list once every live handle has released
// it — invariant: no page is both on the free list and held by a live
// handle.
func (f *Frame) Release() {
	if atomic.SwapInt32(&f.freed, 1) != 0 {
		if config.Debug {
			panic("mem: double free of Frame handle")
		}
		return
	}
	f.pool.RefDown(f.pa)
}

// FrameAllocator is the common contract both pool implementations satisfy.
type FrameAllocator interface {
	// Alloc returns one zeroed frame, or ok=false if none are free.
	Alloc() (Frame, bool)
	// AllocN returns k physically contiguous zeroed frames, or ok=false.
	AllocN(k int) ([]Frame, bool)
	// Reserve guarantees the next k calls to Alloc will succeed, running
	// OOM recovery first if necessary. Returns false if reclaim could
	// not free enough pages.
	Reserve(k int) bool
	// Free counts the number of currently unallocated frames.
	Free() int
	// DirectMap returns a byte-slice view of the frame at pa.
	DirectMap(pa Pa) []byte
	// RefUp bumps the reference count of the frame at pa, for callers
	// (vm.AddressSpace.ForkCopy) that share a page found via a raw page
	// table walk rather than through a live Frame handle.
	RefUp(pa Pa)
	// RefDown drops the reference count of the frame at pa by one,
	// freeing it once the count reaches zero. Used when unmapping a page
	// whose Frame handle was not retained (region/page-table teardown).
	RefDown(pa Pa)
}

// reserveErr converts a failed Reserve into the errno the rest of the
// kernel surfaces (typically to a SIGKILL or ENOMEM syscall return, per
// the design).
func reserveErr(ok bool) errno.Err_t {
	if ok {
		return 0
	}
	return errno.ENOMEM
}

// AllocReserved allocates one frame after guaranteeing the allocation will
// succeed via Reserve, the idiom page-fault handling and vm region setup
// use throughout.
func AllocReserved(a FrameAllocator) (Frame, errno.Err_t) {
	if !a.Reserve(1) {
		return Frame{}, errno.ENOMEM
	}
	f, ok := a.Alloc()
	if !ok {
		// Reserve(1) having just succeeded, this would indicate a
		// concurrent allocator bug rather than transient pressure.
		panic(fmt.Sprintf("mem: Reserve(1) succeeded but Alloc failed: %v", reserveErr(ok)))
	}
	return f, 0
}
