// Package fd is the per-task open-file-descriptor table: a lock-guarded
// slot array mapping small integers to an fdops.File plus permission
// bits, and the per-thread-group current-working-directory tracker,
// both shared across clone threads exactly as POSIX's CLONE_FILES
// requires.
package fd

import (
	"sync"

	"riscix/internal/errno"
	"riscix/internal/fdops"
	"riscix/internal/ustr"
)

// Permission bits a descriptor was opened with.
const (
	Read    = 0x1
	Write   = 0x2
	CloExec = 0x4
)

// Entry is one open file descriptor: the backing object plus the
// permission bits it was opened with and the current read/write offset
// read(2)/write(2) advance without the caller tracking it themselves.
type Entry struct {
	File  fdops.File
	Perms int

	mu     sync.Mutex
	offset int64
}

// Reopen duplicates an entry by reopening its backing File (for
// dup2(2) and fork(2), where the child needs an independent handle
// sharing the same underlying state rather than a second reference to
// the same Go value). The duplicate starts at offset 0: this kernel
// models dup2/fork as giving the child an independent file description
// rather than one whose offset is shared with the original.
func (e *Entry) Reopen() (*Entry, errno.Err_t) {
	f, err := e.File.Reopen()
	if err != 0 {
		return nil, err
	}
	return &Entry{File: f, Perms: e.Perms}, 0
}

// Pos returns the entry's current offset.
func (e *Entry) Pos() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offset
}

// Advance adds n to the entry's offset, called after a read(2)/write(2)
// moves n bytes through it.
func (e *Entry) Advance(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offset += int64(n)
}

// SeekTo sets the entry's offset directly, for lseek(2).
func (e *Entry) SeekTo(off int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offset = off
}

// Table is a thread group's shared file descriptor table.
type Table struct {
	mu      sync.Mutex
	entries map[int]*Entry
	next    int
}

// NewTable returns an empty descriptor table.
func NewTable() *Table {
	return &Table{entries: map[int]*Entry{}}
}

// Install assigns the lowest unused descriptor number to e and returns
// it, the open(2)/socket(2)/pipe(2) allocation policy.
func (t *Table) Install(e *Entry) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fdno := 0; ; fdno++ {
		if _, taken := t.entries[fdno]; !taken {
			t.entries[fdno] = e
			return fdno
		}
	}
}

// Get returns the entry installed at fdno.
func (t *Table) Get(fdno int) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fdno]
	return e, ok
}

// Close closes and removes fdno, returning EBADF if it was not open.
func (t *Table) Close(fdno int) errno.Err_t {
	t.mu.Lock()
	e, ok := t.entries[fdno]
	delete(t.entries, fdno)
	t.mu.Unlock()
	if !ok {
		return errno.EBADF
	}
	return e.File.Close()
}

// Dup2 installs src's entry (reopened) at exactly dst, closing
// whatever was previously open there, matching dup2(2)'s semantics.
func (t *Table) Dup2(src, dst int) errno.Err_t {
	t.mu.Lock()
	e, ok := t.entries[src]
	t.mu.Unlock()
	if !ok {
		return errno.EBADF
	}
	dup, err := e.Reopen()
	if err != 0 {
		return err
	}
	t.mu.Lock()
	old, hadOld := t.entries[dst]
	t.entries[dst] = dup
	t.mu.Unlock()
	if hadOld {
		old.File.Close()
	}
	return 0
}

// Fork returns a new Table with every entry reopened, the fork(2)
// (not CLONE_FILES) copy semantics: independent table, shared
// underlying objects.
func (t *Table) Fork() (*Table, errno.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := &Table{entries: make(map[int]*Entry, len(t.entries)), next: t.next}
	for fdno, e := range t.entries {
		if e.Perms&CloExec != 0 {
			continue
		}
		dup, err := e.Reopen()
		if err != 0 {
			return nil, err
		}
		nt.entries[fdno] = dup
	}
	return nt, 0
}

// CloseOnExec closes and removes every entry opened with CloExec, the
// execve(2) half of CLOEXEC handling. Table.Fork already leaves CloExec
// entries out of a forked child's table, so in this kernel a CLOEXEC
// descriptor survives neither fork nor exec.
func (t *Table) CloseOnExec() {
	t.mu.Lock()
	var doomed []*Entry
	for fdno, e := range t.entries {
		if e.Perms&CloExec != 0 {
			doomed = append(doomed, e)
			delete(t.entries, fdno)
		}
	}
	t.mu.Unlock()
	for _, e := range doomed {
		e.File.Close()
	}
}

// Cwd tracks a thread group's current working directory: the open
// directory Entry it refers to, and the canonical path string used to
// resolve relative lookups without re-walking back up to root.
type Cwd struct {
	mu   sync.Mutex
	Dir  *Entry
	Path ustr.Ustr
}

// Snapshot returns the current directory entry and path under lock, for
// callers (openat's dirfd=AT_FDCWD resolution) that only need a
// consistent read, not the Cwd object itself.
func (c *Cwd) Snapshot() (*Entry, ustr.Ustr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Dir, c.Path
}

// Fork returns an independent Cwd pointing at the same directory and
// path, the fork(2) semantics (child can chdir without affecting the
// parent). dir's backing File is reopened exactly like Table.Fork does
// for ordinary descriptors.
func (c *Cwd) Fork() (*Cwd, errno.Err_t) {
	c.mu.Lock()
	dir, path := c.Dir, c.Path
	c.mu.Unlock()
	if dir == nil {
		return &Cwd{Path: path}, 0
	}
	dup, err := dir.Reopen()
	if err != 0 {
		return nil, err
	}
	return &Cwd{Dir: dup, Path: path}, 0
}

// NewRootCwd returns a Cwd rooted at "/", backed by dir.
func NewRootCwd(dir *Entry) *Cwd {
	return &Cwd{Dir: dir, Path: ustr.Root}
}

// Fullpath returns p unchanged if absolute, or p resolved against the
// current working directory otherwise.
func (c *Cwd) Fullpath(p ustr.Ustr) ustr.Ustr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.IsAbsolute() {
		return p
	}
	return c.Path.Join(p)
}

// Chdir updates the working directory to dir at the given canonical
// path, closing whatever directory was previously open there.
func (c *Cwd) Chdir(dir *Entry, path ustr.Ustr) {
	c.mu.Lock()
	old := c.Dir
	c.Dir = dir
	c.Path = path
	c.mu.Unlock()
	if old != nil {
		old.File.Close()
	}
}
