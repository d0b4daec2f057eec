// Package arch defines the architecture-neutral interface the vm and mem
// packages build on. Two concrete implementations exist, arch/riscv64
// (Sv39) and arch/loongarch64, so that region management, copy-on-write
// fault handling and frame accounting are written once against this
// interface instead of being duplicated per architecture.
package arch

// PTEFlags is a portable permission/state bitmask for a single page-table
// entry. Each architecture's PageTable implementation translates to and
// from its native encoding (x86-style PTE bits for none of our targets;
// Sv39 PTE bits for riscv64; LoongArch PTE bits for loongarch64).
type PTEFlags uint

const (
	Present PTEFlags = 1 << iota
	Writable
	User
	Executable
	Global
	Accessed
	Dirty
	// Cow marks a page shared copy-on-write between parent and child
	// after fork_copy; a write fault on a Cow page triggers the claim-or-
	// copy path in vm.handlePageFault.
	Cow
	// WasCow records that a page's Cow bit was cleared because the fault
	// handler determined this mapping held the last reference, letting a
	// future claim fast path skip a copy.
	WasCow
)

// PageTable abstracts a single address space's root page table. Sv39 and
// LoongArch page tables differ in level count and entry encoding but both
// expose this same walk/map/unmap/activate surface.
type PageTable interface {
	// Walk returns a pointer-sized handle to the PTE mapping va,
	// allocating intermediate page-table pages as needed when alloc is
	// true. ok is false when an intermediate level is missing and alloc
	// is false, or when a page-table page could not be allocated.
	Walk(va uintptr, alloc bool) (pte PTE, ok bool)
	// Map installs a mapping of va to the physical frame pa with the
	// given flags, replacing any previous mapping.
	Map(va uintptr, pa uintptr, flags PTEFlags) bool
	// Unmap clears any mapping of va, returning the previously mapped
	// physical frame and whether a mapping was actually present.
	Unmap(va uintptr) (pa uintptr, ok bool)
	// Translate resolves va to its mapped physical address.
	Translate(va uintptr) (pa uintptr, ok bool)
	// Activate installs this page table as the active mapping on the
	// calling hart (writes satp on riscv64, PGDL/PGDH+CSR on loongarch64).
	Activate()
	// ActivationToken returns the architectural value that Activate
	// would write, for diagnostics and for comparing "is this address
	// space already active" without re-issuing the privileged write.
	ActivationToken() uintptr
	// Root returns the physical frame holding the top-level table.
	Root() uintptr
}

// PTE is a handle to a single page-table entry, letting callers read/update
// flags and the mapped physical frame without knowing the native encoding.
type PTE interface {
	Flags() PTEFlags
	SetFlags(PTEFlags)
	Addr() uintptr
	SetAddr(uintptr)
	Clear()
	Raw() uint64
}

// HartID identifies one hardware execution context. On real silicon this
// value lives in an architectural scratch register (tp on riscv64, a
// reserved GPR on loongarch64) so the kernel can recover it on any trap
// without a thread-local lookup. Go has no such per-goroutine register, so
// instead of faking thread-locals this kernel threads HartID explicitly
// through every call that needs it (sched.CPU.ID, the trap dispatcher, the
// irq guard) rather than hiding it behind a global — each hart's goroutine
// in boot.Start simply closes over its own id.
type HartID int

// PageSize is the common page size across both supported architectures.
const PageSize = 4096

// PageShift is log2(PageSize).
const PageShift = 12
