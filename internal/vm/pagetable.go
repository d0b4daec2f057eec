// Package vm implements per-task address spaces: page tables, the region
// list, demand-paging fault handling, and copy-on-fork semantics. The
// lock/assert-held discipline and fault-resolution algorithm are
// architecture-neutral; per-architecture page-table encoding lives behind
// the riscv64/loongarch64 implementations of arch.PageTable.
package vm

import (
	"unsafe"

	"riscix/internal/arch"
	"riscix/internal/arch/loongarch64"
	"riscix/internal/arch/riscv64"
	"riscix/internal/mem"
)

// Arch selects which target architecture's page-table format an address
// space uses: RISC-V 64 Sv39, or LoongArch 64's page-walk-controller
// format.
type Arch int

const (
	RISCV64 Arch = iota
	LoongArch64
)

// frameSourceAdapter bridges mem.FrameAllocator to the small FrameSource
// interface arch/riscv64 and arch/loongarch64 expect for materializing
// page-table levels, keeping those packages free of a mem import.
type frameSourceAdapter struct {
	alloc mem.FrameAllocator
	// owned keeps the Frame handles for page-table pages alive for the
	// address space's lifetime; released in AddressSpace.Destroy.
	owned *[]mem.Frame
}

func (a frameSourceAdapter) AllocZeroed() (uintptr, bool) {
	f, ok := a.alloc.Alloc()
	if !ok {
		return 0, false
	}
	*a.owned = append(*a.owned, f)
	return uintptr(f.Addr()), true
}

// Read reinterprets the direct-mapped page as a []uint64 in place. Writes
// through the returned slice land directly in the frame's backing bytes,
// which is required for page-table entries written via
// arch.PTE.SetFlags/SetAddr to persist.
func (a frameSourceAdapter) Read(pa uintptr) []uint64 {
	b := a.alloc.DirectMap(mem.Pa(pa))
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), len(b)/8)
}

// newTable constructs the appropriate architecture's page table.
func newTable(a Arch, frames mem.FrameAllocator, owned *[]mem.Frame) (arch.PageTable, bool) {
	fs := frameSourceAdapter{alloc: frames, owned: owned}
	switch a {
	case RISCV64:
		return riscv64.New(fs)
	case LoongArch64:
		return loongarch64.New(fs)
	default:
		return riscv64.New(fs)
	}
}
