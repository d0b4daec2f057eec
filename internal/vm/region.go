package vm

import (
	"sort"

	"riscix/internal/errno"
)

// Perm is a region's permission set: some combination of R, W, X, U.
type Perm uint8

const (
	PermR Perm = 1 << iota
	PermW
	PermX
	PermU
)

// Kind distinguishes how a region's pages are populated on fault.
type Kind int

const (
	KindAnon Kind = iota
	KindFile
	KindMMIO
	KindKernel
	KindSharedAnon
)

// FileBacking is the page-cache collaborator interface: it supplies
// (offset -> frame contents) for file-backed mappings.
type FileBacking interface {
	// ReadPage fills dst (exactly PageSize bytes) with the file's
	// contents at the given page-aligned offset. ok is false at or past
	// EOF, surfaced by the fault handler as BeyondEOF -> SIGBUS.
	ReadPage(offset int64, dst []byte) (ok bool)
	// Size reports the file's length in bytes, used for the EOF check.
	Size() int64
	// Shared reports whether writes to this mapping should be written
	// back (MAP_SHARED) rather than copy-on-write (MAP_PRIVATE).
	Shared() bool
}

// Region describes one mapped range of an address space: [Lo, Hi),
// permission, kind and (for file-backed regions) the backing file.
type Region struct {
	Lo, Hi uintptr
	Perm   Perm
	Kind   Kind
	File   FileBacking
	FileOff int64 // offset of Lo within the file, for file-backed regions

	// mapped tracks which page-aligned virtual addresses within [Lo,Hi)
	// currently have a live page-table mapping, so AddressSpace.Destroy
	// and ForkCopy know exactly which frames to release/share without
	// walking the page table structurally.
	mapped map[uintptr]bool
}

func (r *Region) contains(addr uintptr) bool { return addr >= r.Lo && addr < r.Hi }

func (r *Region) overlaps(lo, hi uintptr) bool { return lo < r.Hi && hi > r.Lo }

// RegionSet is the ordered, overlap-checked region list each address space
// owns, kept as a sorted slice rather than a balanced tree: per-process
// region counts are small (a handful of segments, stack, heap, mmaps) so
// O(n) insert/lookup is the right trade for clarity.
type RegionSet struct {
	regions []*Region
}

// Insert adds r to the set, failing if it overlaps an existing region:
// no two regions of the same address space may overlap.
func (rs *RegionSet) Insert(r *Region) errno.Err_t {
	for _, existing := range rs.regions {
		if existing.overlaps(r.Lo, r.Hi) {
			return errno.EINVALMAPPING
		}
	}
	if r.mapped == nil {
		r.mapped = make(map[uintptr]bool)
	}
	rs.regions = append(rs.regions, r)
	sort.Slice(rs.regions, func(i, j int) bool { return rs.regions[i].Lo < rs.regions[j].Lo })
	return 0
}

// Lookup returns the region containing addr, if any.
func (rs *RegionSet) Lookup(addr uintptr) (*Region, bool) {
	for _, r := range rs.regions {
		if r.contains(addr) {
			return r, true
		}
	}
	return nil, false
}

// Remove deletes r from the set.
func (rs *RegionSet) Remove(r *Region) {
	for i, existing := range rs.regions {
		if existing == r {
			rs.regions = append(rs.regions[:i], rs.regions[i+1:]...)
			return
		}
	}
}

// All returns every region, ordered by Lo, for teardown/fork iteration.
func (rs *RegionSet) All() []*Region { return rs.regions }

// Empty finds an unused virtual address range of at least length len
// starting no lower than startva, the placement search a no-hint mmap
// needs.
func (rs *RegionSet) Empty(startva uintptr, length uintptr) uintptr {
	candidate := startva
	for _, r := range rs.regions {
		if candidate+length <= r.Lo {
			return candidate
		}
		if candidate < r.Hi {
			candidate = r.Hi
		}
	}
	return candidate
}

// Clear removes every region, used by AddressSpace.Destroy.
func (rs *RegionSet) Clear() { rs.regions = nil }
