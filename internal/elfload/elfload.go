// Package elfload loads a riscv64/loongarch64 ELF executable image into a
// freshly created address space, using the standard library's debug/elf
// decoder exactly the way the teacher's own chentry build tool
// (kernel/chentry.go) does, rather than hand-rolling an ELF header
// parser.
package elfload

import (
	"bytes"
	"debug/elf"
	"io"

	"riscix/internal/errno"
	"riscix/internal/proc"
	"riscix/internal/vm"
)

// wantMachine is checked against elf.FileHeader.Machine the way chentry's
// chkELF checks for EM_X86_64; this kernel targets riscv64 and
// loongarch64, both of which this package accepts since vm.Arch already
// carries the running architecture and a binary compiled for the wrong
// one is a loader-time error either way.
var wantMachines = map[elf.Machine]bool{
	elf.EM_RISCV:     true,
	elf.EM_LOONGARCH: true,
}

// checkHeader validates an ELF file header the way chentry's chkELF does:
// magic bytes, endianness, executable type, and machine, failing closed
// on anything this loader cannot run rather than attempting a best-effort
// load.
func checkHeader(eh *elf.FileHeader) errno.Err_t {
	if eh.Class != elf.ELFCLASS64 {
		return errno.ENOEXEC
	}
	if eh.Data != elf.ELFDATA2LSB {
		return errno.ENOEXEC
	}
	if eh.Type != elf.ET_EXEC && eh.Type != elf.ET_DYN {
		return errno.ENOEXEC
	}
	if !wantMachines[eh.Machine] {
		return errno.ENOEXEC
	}
	return 0
}

// Load parses image as an ELF executable and maps its PT_LOAD segments
// into as, returning the entry point virtual address. It implements
// proc.Loader once bound to a specific image via New.
func Load(as *vm.AddressSpace, image []byte) (uintptr, errno.Err_t) {
	ef, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return 0, errno.ENOEXEC
	}
	defer ef.Close()

	if e := checkHeader(&ef.FileHeader); e != 0 {
		return 0, e
	}

	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Memsz == 0 {
			continue
		}
		perm := permOf(prog.Flags)
		lo := uintptr(prog.Vaddr)
		hi := lo + uintptr(prog.Memsz)

		data := make([]byte, prog.Filesz)
		if prog.Filesz > 0 {
			sr := io.NewSectionReader(bytes.NewReader(image), int64(prog.Off), int64(prog.Filesz))
			if _, rerr := io.ReadFull(sr, data); rerr != nil {
				return 0, errno.ENOEXEC
			}
		}
		if e := as.InsertProgramSegment(lo, hi, perm, data); e != 0 {
			return 0, e
		}
	}

	return uintptr(ef.Entry), 0
}

// permOf translates an ELF program header's flag bits to this kernel's
// Perm bitset.
func permOf(f elf.ProgFlag) vm.Perm {
	var p vm.Perm = vm.PermU
	if f&elf.PF_R != 0 {
		p |= vm.PermR
	}
	if f&elf.PF_W != 0 {
		p |= vm.PermW
	}
	if f&elf.PF_X != 0 {
		p |= vm.PermX
	}
	return p
}

// New returns a proc.Loader bound to image, for installing as a task's
// exec-time loader once the caller has the program bytes in hand (read
// from tmpfs, typically).
func New(image []byte) proc.Loader {
	return func(as *vm.AddressSpace) (uintptr, errno.Err_t) {
		return Load(as, image)
	}
}
