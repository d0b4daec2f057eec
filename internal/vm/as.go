package vm

import (
	"sync"

	"riscix/internal/arch"
	"riscix/internal/errno"
	"riscix/internal/mem"
)

// FaultCause classifies why a trap into handlePageFault occurred: the trap
// dispatcher decodes the hardware cause register into one of these before
// calling AddressSpace.HandlePageFault.
type FaultCause int

const (
	FaultRead FaultCause = iota
	FaultWrite
	FaultExec
)

// AddressSpace is a per-task page table plus region list plus activation
// token. The lock/assert discipline (LockPmap/UnlockPmap/LockassertPmap)
// is kept as explicit methods rather than a bare sync.Mutex so callers
// cannot forget the pgfltaken bookkeeping a page-fault handler depends on.
type AddressSpace struct {
	mu sync.Mutex

	table    arch.PageTable
	regions  RegionSet
	frames   mem.FrameAllocator
	archKind Arch

	// pgTableFrames are the physical pages backing intermediate
	// page-table levels, tracked so Destroy can release them.
	pgTableFrames []mem.Frame

	pgfltaken bool

	// userRes maps a thread id to the per-thread resources this address
	// space owns on its behalf: the trap-frame slot and user stack, per
	// alloc_user_res/dealloc_user_res.
	userRes map[int]*threadResources
}

type threadResources struct {
	trapFrameVA uintptr
	stackLo, stackHi uintptr
}

// Standard layout constants for the fixed trap-frame slot and default
// per-thread stack size: the trap frame lives at a fixed virtual slot so
// trap entry can find it without walking any other structure.
const (
	TrapFrameVA      = uintptr(0x3ffffffe000)
	DefaultStackSize = 8 * mem.PageSize
	UserMin          = uintptr(0x1000)
)

// NewBare creates an address space with no regions and a fresh empty page
// table.
func NewBare(a Arch, frames mem.FrameAllocator) (*AddressSpace, errno.Err_t) {
	as := &AddressSpace{frames: frames, archKind: a, userRes: map[int]*threadResources{}}
	t, ok := newTable(a, frames, &as.pgTableFrames)
	if !ok {
		return nil, errno.ENOMEM
	}
	as.table = t
	return as, 0
}

// NewWithKernelMappings creates an address space that additionally shares
// the kernel half of the mapping with kernelTemplate, so trap entry/exit
// code (which runs with the faulting task's page table still active) can
// resolve kernel text and the direct map without a table switch.
func NewWithKernelMappings(a Arch, frames mem.FrameAllocator, kernelTemplate *AddressSpace) (*AddressSpace, errno.Err_t) {
	as, err := NewBare(a, frames)
	if err != 0 {
		return nil, err
	}
	if kernelTemplate != nil {
		for _, r := range kernelTemplate.regions.All() {
			if r.Kind == KindKernel {
				as.regions.Insert(&Region{Lo: r.Lo, Hi: r.Hi, Perm: r.Perm, Kind: KindKernel})
				for va := range r.mapped {
					if pa, ok := kernelTemplate.table.Translate(va); ok {
						as.table.Map(va, pa, flagsFor(r.Perm, false))
					}
				}
			}
		}
	}
	return as, 0
}

// LockPmap acquires the address-space mutex and marks a fault in progress.
func (as *AddressSpace) LockPmap() {
	as.mu.Lock()
	as.pgfltaken = true
}

// UnlockPmap releases the address-space mutex.
func (as *AddressSpace) UnlockPmap() {
	as.pgfltaken = false
	as.mu.Unlock()
}

// LockassertPmap panics if the caller has not taken LockPmap.
func (as *AddressSpace) LockassertPmap() {
	if !as.pgfltaken {
		panic("vm: pmap lock must be held")
	}
}

func flagsFor(p Perm, cow bool) arch.PTEFlags {
	f := arch.Present | arch.User | arch.Accessed
	if p&PermW != 0 && !cow {
		f |= arch.Writable | arch.Dirty
	}
	if p&PermX != 0 {
		f |= arch.Executable
	}
	if cow {
		f |= arch.Cow
	}
	return f
}

// InsertRegion adds a lazily-populated region: frames are allocated on
// first fault, not here.
func (as *AddressSpace) InsertRegion(lo, hi uintptr, perm Perm) errno.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.regions.Insert(&Region{Lo: lo, Hi: hi, Perm: perm, Kind: KindAnon})
}

// InsertProgramSegment eagerly maps [lo,hi) and copies bytes in, the
// loader's path for ELF PT_LOAD segments.
func (as *AddressSpace) InsertProgramSegment(lo, hi uintptr, perm Perm, bytes []byte) errno.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	r := &Region{Lo: lo, Hi: hi, Perm: perm, Kind: KindAnon}
	if err := as.regions.Insert(r); err != 0 {
		return err
	}
	off := 0
	for va := lo &^ (mem.PageSize - 1); va < hi; va += mem.PageSize {
		f, err := mem.AllocReserved(as.frames)
		if err != 0 {
			return err
		}
		dst := f.Bytes()
		start := 0
		if va < lo {
			start = int(lo - va)
		}
		n := mem.PageSize - start
		if off+n > len(bytes) {
			n = len(bytes) - off
		}
		if n > 0 {
			copy(dst[start:start+n], bytes[off:off+n])
			off += n
		}
		as.table.Map(va, uintptr(f.Addr()), flagsFor(perm, false))
		r.mapped[va] = true
	}
	return 0
}

// Activate installs this address space's page table on the current hart.
func (as *AddressSpace) Activate() { as.table.Activate() }

// ActivationToken returns the architectural satp/CSR value Activate would
// install.
func (as *AddressSpace) ActivationToken() uintptr { return as.table.ActivationToken() }

// Translate walks the page table for va's containing page, returning the
// physical address va maps to (the page's base plus va's page offset).
func (as *AddressSpace) Translate(va uintptr) (mem.Pa, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	pa, ok := as.table.Translate(va)
	return mem.Pa(pa), ok
}

// HandlePageFault resolves a fault at addr with cause c: locate the
// containing region, check permission, populate (anon: allocate; file:
// read through the page cache), or fail with EFAULT/EACCES/EIO.
func (as *AddressSpace) HandlePageFault(addr uintptr, c FaultCause) errno.Err_t {
	as.LockPmap()
	defer as.UnlockPmap()

	page := addr &^ (mem.PageSize - 1)
	r, ok := as.regions.Lookup(addr)
	if !ok {
		return errno.EFAULT // BadAddress -> SIGSEGV
	}
	if !permitsCause(r.Perm, c) {
		return errno.EACCES // NoPermission -> SIGSEGV
	}

	if pte, ok := as.table.Walk(page, false); ok && pte.Flags()&arch.Present != 0 {
		// Two threads simultaneously faulted on the same page, or a
		// COW write fault on an already-present mapping: resolve the
		// COW claim/copy case, otherwise nothing to do.
		if c == FaultWrite && pte.Flags()&arch.Cow != 0 {
			return as.resolveCOW(page, r, pte)
		}
		return 0
	}

	switch r.Kind {
	case KindAnon, KindSharedAnon:
		f, err := mem.AllocReserved(as.frames)
		if err != 0 {
			return err
		}
		as.table.Map(page, uintptr(f.Addr()), flagsFor(r.Perm, false))
		r.mapped[page] = true
		return 0
	case KindFile:
		if r.File == nil {
			return errno.EFAULT
		}
		fileOff := r.FileOff + int64(page-r.Lo)
		if fileOff >= r.File.Size() {
			return errno.EIO // BeyondEOF -> SIGBUS (see signal.FromFault)
		}
		f, err := mem.AllocReserved(as.frames)
		if err != 0 {
			return err
		}
		if !r.File.ReadPage(fileOff, f.Bytes()) {
			f.Release()
			return errno.EIO
		}
		cow := !r.File.Shared() && r.Perm&PermW != 0
		as.table.Map(page, uintptr(f.Addr()), flagsFor(r.Perm, cow))
		r.mapped[page] = true
		return 0
	default:
		return errno.EUNHANDLEDFAULT
	}
}

func permitsCause(p Perm, c FaultCause) bool {
	switch c {
	case FaultWrite:
		return p&PermW != 0
	case FaultExec:
		return p&PermX != 0
	default:
		return true
	}
}

// resolveCOW implements the copy side of a COW write fault. A Cow page is
// either one ForkCopy shared with another address space or a private
// file-backed page that HandlePageFault mapped Cow on its first fault;
// either way no in-place claim is attempted, only the copy. Allocate a
// fresh frame, copy the old contents, remap writable, and drop this
// mapping's share of the old frame.
func (as *AddressSpace) resolveCOW(page uintptr, r *Region, pte arch.PTE) errno.Err_t {
	as.LockassertPmap()
	oldPa := mem.Pa(pte.Addr())
	f, err := mem.AllocReserved(as.frames)
	if err != 0 {
		return err
	}
	copy(f.Bytes(), as.frames.DirectMap(oldPa))
	as.table.Map(page, uintptr(f.Addr()), flagsFor(r.Perm, false))
	r.mapped[page] = true
	as.frames.RefDown(oldPa)
	return 0
}

// ForkCopy produces a child address space sharing pages copy-on-write with
// the parent: every present, writable region page is remapped read-only
// plus Cow in both parent and child, and the child's mapping shares the
// same physical frame (refcount bumped via FrameAllocator.RefUp). Independent
// mutation after fork holds because the first write on either side takes
// the COW fault path in HandlePageFault.
func (as *AddressSpace) ForkCopy() (*AddressSpace, errno.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()

	child, err := NewBare(as.archKind, as.frames)
	if err != 0 {
		return nil, err
	}
	for _, r := range as.regions.All() {
		cr := &Region{Lo: r.Lo, Hi: r.Hi, Perm: r.Perm, Kind: r.Kind, File: r.File, FileOff: r.FileOff}
		if e := child.regions.Insert(cr); e != 0 {
			return nil, e
		}
		for va := range r.mapped {
			pte, ok := as.table.Walk(va, false)
			if !ok {
				continue
			}
			pa := pte.Addr()
			shared := r.Kind == KindSharedAnon || (r.Kind == KindFile && r.File != nil && r.File.Shared())
			if !shared && r.Perm&PermW != 0 {
				// Downgrade the parent's mapping to COW too, so a write
				// on the parent's side after fork also takes the fault
				// path instead of silently mutating a page the child
				// still expects to see unchanged.
				pte.SetFlags(flagsFor(r.Perm, true))
			}
			child.table.Map(va, pa, flagsFor(r.Perm, !shared))
			cr.mapped[va] = true
			// Both address spaces now hold a live reference to the same
			// physical page.
			as.frames.RefUp(mem.Pa(pa))
		}
	}
	return child, 0
}

// AllocUserRes attaches the per-thread trap-frame slot and, if withStack,
// a user stack, inside this address space.
func (as *AddressSpace) AllocUserRes(tid int, withStack bool) errno.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	tr := &threadResources{trapFrameVA: TrapFrameVA - uintptr(tid)*mem.PageSize}
	f, err := mem.AllocReserved(as.frames)
	if err != 0 {
		return err
	}
	as.table.Map(tr.trapFrameVA, uintptr(f.Addr()), arch.Present|arch.Writable|arch.Accessed|arch.Dirty)
	if withStack {
		hi := tr.trapFrameVA &^ (mem.PageSize - 1)
		lo := hi - DefaultStackSize
		r := &Region{Lo: lo, Hi: hi, Perm: PermR | PermW | PermU, Kind: KindAnon}
		if e := as.regions.Insert(r); e != 0 {
			return e
		}
		tr.stackLo, tr.stackHi = lo, hi
	}
	as.userRes[tid] = tr
	return 0
}

// DeallocUserRes releases tid's trap-frame slot and user stack.
func (as *AddressSpace) DeallocUserRes(tid int) {
	as.mu.Lock()
	defer as.mu.Unlock()
	tr, ok := as.userRes[tid]
	if !ok {
		return
	}
	if pa, ok := as.table.Unmap(tr.trapFrameVA); ok {
		as.frames.RefDown(mem.Pa(pa))
	}
	if tr.stackHi != 0 {
		if r, ok := as.regions.Lookup(tr.stackLo); ok {
			as.unmapRegion(r)
			as.regions.Remove(r)
		}
	}
	delete(as.userRes, tid)
}

func (as *AddressSpace) unmapRegion(r *Region) {
	for va := range r.mapped {
		if pa, ok := as.table.Unmap(va); ok {
			as.frames.RefDown(mem.Pa(pa))
		}
	}
	r.mapped = map[uintptr]bool{}
}

// Destroy releases every mapped frame and page-table page owned solely by
// this address space. Called once the last thread sharing it has exited.
func (as *AddressSpace) Destroy() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, r := range as.regions.All() {
		as.unmapRegion(r)
	}
	as.regions.Clear()
	for i := range as.pgTableFrames {
		as.pgTableFrames[i].Release()
	}
	as.pgTableFrames = nil
}

// TrapFrameSlot returns the fixed virtual address of tid's trap frame.
func (as *AddressSpace) TrapFrameSlot(tid int) (uintptr, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	tr, ok := as.userRes[tid]
	if !ok {
		return 0, false
	}
	return tr.trapFrameVA, true
}

// StackRange returns tid's user stack bounds, if allocated.
func (as *AddressSpace) StackRange(tid int) (lo, hi uintptr, ok bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	tr, ok := as.userRes[tid]
	if !ok || tr.stackHi == 0 {
		return 0, 0, false
	}
	return tr.stackLo, tr.stackHi, true
}

// Regions exposes the region list read-only, for diagnostics and tests.
func (as *AddressSpace) Regions() []*Region {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.regions.All()
}

// FrameAllocator returns the physical frame pool this address space draws
// from, so a caller tearing down one address space and building another
// (exec) can hand the same pool to the replacement.
func (as *AddressSpace) FrameAllocator() mem.FrameAllocator { return as.frames }
