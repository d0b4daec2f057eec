// Package tmpfs is a minimal in-memory directory/inode filesystem laid
// out over a blockdev.Device, standing in for the teacher's on-disk
// format (ufs/ufs.go's Ufs_t, ufs/driver.go's console/file object split,
// and fs/super.go's superblock) closely enough to drive openat/read/
// write/getdents64 end to end. It has no logging or crash-consistency
// protocol (the teacher's Fs_sync/Fs_syncapply log-then-apply scheme):
// every Write commits straight through blockdev.Device.WriteBlock, which
// is enough for a single-boot, in-memory filesystem with no power-loss
// model to recover from.
package tmpfs

import (
	"sync"

	"riscix/internal/blockdev"
	"riscix/internal/errno"
	"riscix/internal/fdops"
	"riscix/internal/hashtable"
	"riscix/internal/ustr"
)

// InodeKind distinguishes a regular file from a directory; tmpfs carries
// no other inode kind (no symlinks, no device nodes).
type InodeKind int

const (
	KindFile InodeKind = iota
	KindDir
)

// Inode is one file or directory. A directory's contents are its
// children table; a file's contents are a list of block numbers on the
// backing blockdev.Device.
type Inode struct {
	mu       sync.RWMutex
	Kind     InodeKind
	Perm     int
	size     int64
	blocks   []int
	children *hashtable.Table[string, *Inode]
	links    int
}

func hashName(s string) uint32 { return hashtable.FNV32a([]byte(s)) }

func newDirInode(perm int) *Inode {
	return &Inode{Kind: KindDir, Perm: perm, links: 2,
		children: hashtable.New[string, *Inode](8, hashName)}
}

func newFileInode(perm int) *Inode {
	return &Inode{Kind: KindFile, Perm: perm, links: 1}
}

// Size returns the inode's current byte length (always 0 for a
// directory).
func (in *Inode) Size() int64 {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.size
}

// Dirent is one directory entry as returned by Fs.Getdents64.
type Dirent struct {
	Name string
	Kind InodeKind
}

// Fs is a tmpfs instance: one root inode plus the block device backing
// every regular file's data.
type Fs struct {
	dev      *blockdev.Device
	root     *Inode
	freeBlk  int
	freeMu   sync.Mutex
	nblocks  int
}

// New returns an empty filesystem backed by dev, with a single root
// directory "/".
func New(dev *blockdev.Device) *Fs {
	return &Fs{dev: dev, root: newDirInode(0755), nblocks: dev.NumBlocks()}
}

// Root returns the filesystem's root directory inode, for constructing
// an initial fd.Cwd.
func (fs *Fs) Root() *Inode { return fs.root }

// OpenRoot returns a *File over the root directory itself, for boot code
// that needs an fd.Entry to seed the init task's current-working-directory
// before any path has been opened yet — "/" does not resolve through
// OpenAt, since resolveParent expects at least one path component.
func (fs *Fs) OpenRoot() *File {
	return &File{fs: fs, inode: fs.root}
}

func (fs *Fs) allocBlock() (int, errno.Err_t) {
	fs.freeMu.Lock()
	defer fs.freeMu.Unlock()
	if fs.freeBlk >= fs.nblocks {
		return 0, errno.ENOMEM
	}
	n := fs.freeBlk
	fs.freeBlk++
	return n, 0
}

// resolveParent resolves path (absolute or relative to base) to its
// parent directory and final path component, so callers creating a new
// entry (O_CREAT, mkdir) have the parent directory and name in hand.
func (fs *Fs) resolveParent(base *Inode, path ustr.Ustr) (parent *Inode, name string, err errno.Err_t) {
	dir := fs.root
	if !path.IsAbsolute() && base != nil {
		dir = base
	}
	var last string
	first := true
	for comp := range path.Split {
		if len(comp) == 0 {
			continue
		}
		if !first {
			child, ok := dir.children.Get(last)
			if !ok {
				return nil, "", errno.ENOENT
			}
			if child.Kind != KindDir {
				return nil, "", errno.ENOTDIR
			}
			dir = child
		}
		last = string(comp)
		first = false
	}
	if first {
		return nil, "", errno.EINVAL
	}
	return dir, last, 0
}

// lookupInode resolves path fully, returning the inode it names.
func (fs *Fs) lookupInode(base *Inode, path ustr.Ustr) (*Inode, errno.Err_t) {
	parent, name, err := fs.resolveParent(base, path)
	if err != 0 {
		return nil, err
	}
	child, ok := parent.children.Get(name)
	if !ok {
		return nil, errno.ENOENT
	}
	return child, 0
}

// OpenFlags mirrors the POSIX open(2) flag bits this filesystem honors.
const (
	ORdonly = 0x0
	OWronly = 0x1
	ORdwr   = 0x2
	OCreat  = 0x40
	OTrunc  = 0x200
)

// OpenAt resolves path relative to base (nil meaning root) and returns a
// *File wrapping its inode, creating a new empty file if OCreat is set
// and nothing exists there yet.
func (fs *Fs) OpenAt(base *Inode, path ustr.Ustr, flags int, perm int) (*File, errno.Err_t) {
	in, err := fs.lookupInode(base, path)
	if err == errno.ENOENT && flags&OCreat != 0 {
		parent, name, perr := fs.resolveParent(base, path)
		if perr != 0 {
			return nil, perr
		}
		in = newFileInode(perm)
		parent.children.Set(name, in)
		err = 0
	}
	if err != 0 {
		return nil, err
	}
	if in.Kind == KindDir && flags&(OWronly|ORdwr) != 0 {
		return nil, errno.EISDIR
	}
	if flags&OTrunc != 0 {
		in.mu.Lock()
		in.blocks = nil
		in.size = 0
		in.mu.Unlock()
	}
	return &File{fs: fs, inode: in}, 0
}

// Mkdir creates a new empty directory at path, failing with EEXIST if
// something is already there.
func (fs *Fs) Mkdir(base *Inode, path ustr.Ustr, perm int) errno.Err_t {
	parent, name, err := fs.resolveParent(base, path)
	if err != 0 {
		return err
	}
	if _, exists := parent.children.Get(name); exists {
		return errno.EEXIST
	}
	parent.children.Set(name, newDirInode(perm))
	return 0
}

// Unlink removes the directory entry at path. Removing a non-empty
// directory is rejected with ENOTEMPTY.
func (fs *Fs) Unlink(base *Inode, path ustr.Ustr) errno.Err_t {
	parent, name, err := fs.resolveParent(base, path)
	if err != 0 {
		return err
	}
	child, ok := parent.children.Get(name)
	if !ok {
		return errno.ENOENT
	}
	if child.Kind == KindDir && child.children.Len() > 0 {
		return errno.ENOTEMPTY
	}
	parent.children.Del(name)
	return 0
}

// Getdents64 returns every entry in the directory named by path.
func (fs *Fs) Getdents64(base *Inode, path ustr.Ustr) ([]Dirent, errno.Err_t) {
	in, err := fs.lookupInode(base, path)
	if err != 0 {
		return nil, err
	}
	return fs.Readdir(in)
}

// Readdir returns every entry in an already-resolved directory inode,
// for the getdents64 syscall handler which has an open *File (and so an
// Inode via File.Inode) rather than a path to re-resolve.
func (fs *Fs) Readdir(dir *Inode) ([]Dirent, errno.Err_t) {
	if dir.Kind != KindDir {
		return nil, errno.ENOTDIR
	}
	pairs := dir.children.Elems()
	out := make([]Dirent, len(pairs))
	for i, p := range pairs {
		out[i] = Dirent{Name: p.Key, Kind: p.Value.Kind}
	}
	return out, 0
}

// File is an open regular-file (or directory) descriptor's backing
// object: an fdops.File reading and writing through the inode's block
// list.
type File struct {
	fs    *Fs
	inode *Inode
}

var _ fdops.File = (*File)(nil)

// Read copies up to len(p) bytes starting at offset from the file's
// backing blocks into p.
func (f *File) Read(p []byte, offset int64) (int, errno.Err_t) {
	f.inode.mu.RLock()
	defer f.inode.mu.RUnlock()
	if offset >= f.inode.size {
		return 0, 0
	}
	n := int64(len(p))
	if offset+n > f.inode.size {
		n = f.inode.size - offset
	}
	remaining := p[:n]
	pos := offset
	read := 0
	for len(remaining) > 0 {
		blkIdx := int(pos / blockdev.BlockSize)
		blkOff := int(pos % blockdev.BlockSize)
		if blkIdx >= len(f.inode.blocks) {
			break
		}
		blk := make([]byte, blockdev.BlockSize)
		if err := f.fs.dev.ReadBlock(f.inode.blocks[blkIdx], blk); err != 0 {
			return read, err
		}
		chunk := blockdev.BlockSize - blkOff
		if chunk > len(remaining) {
			chunk = len(remaining)
		}
		copy(remaining[:chunk], blk[blkOff:blkOff+chunk])
		remaining = remaining[chunk:]
		pos += int64(chunk)
		read += chunk
	}
	return read, 0
}

// Write copies p into the file starting at offset, allocating new
// backing blocks as needed and extending the file's recorded size.
func (f *File) Write(p []byte, offset int64) (int, errno.Err_t) {
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	pos := offset
	remaining := p
	written := 0
	for len(remaining) > 0 {
		blkIdx := int(pos / blockdev.BlockSize)
		blkOff := int(pos % blockdev.BlockSize)
		for blkIdx >= len(f.inode.blocks) {
			bn, err := f.fs.allocBlock()
			if err != 0 {
				return written, err
			}
			f.inode.blocks = append(f.inode.blocks, bn)
		}
		blk := make([]byte, blockdev.BlockSize)
		f.fs.dev.ReadBlock(f.inode.blocks[blkIdx], blk)
		chunk := blockdev.BlockSize - blkOff
		if chunk > len(remaining) {
			chunk = len(remaining)
		}
		copy(blk[blkOff:blkOff+chunk], remaining[:chunk])
		if err := f.fs.dev.WriteBlock(f.inode.blocks[blkIdx], blk); err != 0 {
			return written, err
		}
		remaining = remaining[chunk:]
		pos += int64(chunk)
		written += chunk
	}
	if pos > f.inode.size {
		f.inode.size = pos
	}
	return written, 0
}

// Close flushes the backing device. Safe to call more than once.
func (f *File) Close() errno.Err_t {
	return f.fs.dev.Flush()
}

// Reopen returns a new File sharing the same inode, since file content
// lives in the inode, not the descriptor.
func (f *File) Reopen() (fdops.File, errno.Err_t) {
	return &File{fs: f.fs, inode: f.inode}, 0
}

// Size implements fdops.Seekable.
func (f *File) Size() int64 { return f.inode.Size() }

// Inode returns the inode this open file refers to, for operations
// (getdents64, fstat) that need it without re-resolving a path.
func (f *File) Inode() *Inode { return f.inode }
