package vm

import (
	"encoding/binary"

	"riscix/internal/errno"
	"riscix/internal/mem"
)

// DefaultMmapBase is where a no-hint mmap starts searching for free
// virtual address space, well above the fixed program/stack layout the
// loader and AllocUserRes use.
const DefaultMmapBase = uintptr(0x10000000)

// MapAnon inserts a fresh anonymous region of length bytes, placed at hint
// if given (and free), otherwise at the first gap at or above
// DefaultMmapBase. Returns the region's base address.
func (as *AddressSpace) MapAnon(hint uintptr, length uintptr, perm Perm) (uintptr, errno.Err_t) {
	as.mu.Lock()
	length = (length + mem.PageSize - 1) &^ (mem.PageSize - 1)
	if hint != 0 {
		for _, r := range as.regions.All() {
			if r.overlaps(hint, hint+length) {
				hint = 0
				break
			}
		}
	}
	if hint == 0 {
		hint = as.regions.Empty(DefaultMmapBase, length)
	}
	va := hint
	as.mu.Unlock()

	if err := as.InsertRegion(va, va+length, perm); err != 0 {
		return 0, err
	}
	return va, 0
}

// Unmap releases the region spanning exactly [lo, hi): every mapped page
// in range is returned to the frame allocator and the region entry is
// dropped. Partial unmap of a larger region (splitting it in two) is not
// supported; callers asking to unmap anything other than a region's exact
// bounds get EINVALMAPPING.
func (as *AddressSpace) Unmap(lo, hi uintptr) errno.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	r, ok := as.regions.Lookup(lo)
	if !ok || r.Lo != lo || r.Hi != hi {
		return errno.EINVALMAPPING
	}
	as.unmapRegion(r)
	as.regions.Remove(r)
	return 0
}

// ReadUint32 reads one little-endian 32-bit word at va, the primitive
// futex value comparisons need. The word must not straddle a page
// boundary.
func (as *AddressSpace) ReadUint32(va uintptr) (uint32, errno.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()
	pa, ok := as.table.Translate(va)
	if !ok {
		return 0, errno.EFAULT
	}
	off := va & (mem.PageSize - 1)
	page := as.frames.DirectMap(mem.Pa(pa &^ (mem.PageSize - 1)))
	if off+4 > mem.PageSize {
		return 0, errno.EFAULT
	}
	return binary.LittleEndian.Uint32(page[off : off+4]), 0
}

// CopyIn copies len(dst) bytes starting at user virtual address va into
// dst, crossing page boundaries as needed. Used by read(2)/write(2) and
// friends to move a user buffer into kernel hands before handing it to a
// file's Read/Write.
func (as *AddressSpace) CopyIn(va uintptr, dst []byte) errno.Err_t {
	return as.copyPages(va, dst, false)
}

// CopyOut copies src into user virtual address va, crossing page
// boundaries as needed.
func (as *AddressSpace) CopyOut(va uintptr, src []byte) errno.Err_t {
	return as.copyPages(va, src, true)
}

// copyPages walks buf one page-fragment at a time, translating va fresh
// for each fragment since consecutive virtual pages need not be
// physically contiguous. toUser selects the copy direction.
func (as *AddressSpace) copyPages(va uintptr, buf []byte, toUser bool) errno.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	for len(buf) > 0 {
		pa, ok := as.table.Translate(va)
		if !ok {
			return errno.EFAULT
		}
		off := va & (mem.PageSize - 1)
		page := as.frames.DirectMap(mem.Pa(pa &^ (mem.PageSize - 1)))
		n := mem.PageSize - off
		if uintptr(n) > uintptr(len(buf)) {
			n = uintptr(len(buf))
		}
		if toUser {
			copy(page[off:uintptr(off)+n], buf[:n])
		} else {
			copy(buf[:n], page[off:uintptr(off)+n])
		}
		va += n
		buf = buf[n:]
	}
	return 0
}

// CopyInString copies a NUL-terminated string of at most max bytes
// (excluding the terminator) starting at user virtual address va,
// stopping at the first NUL byte. Used by path-taking syscalls
// (openat, execve's argv) to bring a user C string into the kernel.
func (as *AddressSpace) CopyInString(va uintptr, max int) (string, errno.Err_t) {
	buf := make([]byte, 0, 64)
	var one [1]byte
	for len(buf) <= max {
		if err := as.CopyIn(va+uintptr(len(buf)), one[:]); err != 0 {
			return "", err
		}
		if one[0] == 0 {
			return string(buf), 0
		}
		buf = append(buf, one[0])
	}
	return "", errno.ENAMETOOLONG
}

// WriteUint32 writes one little-endian 32-bit word at va.
func (as *AddressSpace) WriteUint32(va uintptr, v uint32) errno.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	pa, ok := as.table.Translate(va)
	if !ok {
		return errno.EFAULT
	}
	off := va & (mem.PageSize - 1)
	page := as.frames.DirectMap(mem.Pa(pa &^ (mem.PageSize - 1)))
	if off+4 > mem.PageSize {
		return errno.EFAULT
	}
	binary.LittleEndian.PutUint32(page[off:off+4], v)
	return 0
}
