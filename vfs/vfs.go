// Package vfs is the minimal in-memory store standing in for the
// on-disk filesystem, which is an external collaborator out of scope
// for this core (spec §1). It holds just enough — named byte blobs
// and directories — to let openat/read/write/mmap/getdents64 be
// exercised end to end without a real disk.
package vfs

import (
	"path"
	"sort"
	"sync"

	"biscuit/defs"
)

const (
	DT_UNKNOWN = 0
	DT_REG     = 8
	DT_DIR     = 4
)

// Dirent_t is one entry in a directory.
type Dirent_t struct {
	Name string
	Ino  uint64
	Type uint8
}

// Inode_t is either a regular file (Data valid) or a directory
// (Children valid), never both.
type Inode_t struct {
	mu       sync.Mutex
	Ino      uint64
	IsDir    bool
	Data     []byte
	Children map[string]uint64
}

// Size returns the file's current length; 0 for directories.
func (in *Inode_t) Size() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.Data)
}

// ReadAt copies up to len(dst) bytes starting at off into dst.
func (in *Inode_t) ReadAt(dst []byte, off int) (int, defs.Err_t) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.IsDir {
		return 0, -defs.EISDIR
	}
	if off >= len(in.Data) {
		return 0, 0
	}
	n := copy(dst, in.Data[off:])
	return n, 0
}

// WriteAt copies src into the file at off, growing it if needed.
func (in *Inode_t) WriteAt(src []byte, off int) (int, defs.Err_t) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.IsDir {
		return 0, -defs.EISDIR
	}
	need := off + len(src)
	if need > len(in.Data) {
		grown := make([]byte, need)
		copy(grown, in.Data)
		in.Data = grown
	}
	n := copy(in.Data[off:], src)
	return n, 0
}

// Fs_t is the whole in-memory filesystem: a flat inode table plus a
// root directory, with hard links resolved by the caller's
// biscuit/path.HardlinkTable_t before a lookup reaches here.
type Fs_t struct {
	mu     sync.RWMutex
	inodes map[uint64]*Inode_t
	byPath map[string]uint64
	nextIno uint64
}

// New returns a filesystem containing only the root directory "/".
func New() *Fs_t {
	fs := &Fs_t{
		inodes:  make(map[uint64]*Inode_t),
		byPath:  make(map[string]uint64),
		nextIno: 1,
	}
	root := &Inode_t{Ino: 1, IsDir: true, Children: make(map[string]uint64)}
	fs.inodes[1] = root
	fs.byPath["/"] = 1
	fs.nextIno = 2
	return fs
}

// Lookup resolves a canonical absolute path to its inode.
func (fs *Fs_t) Lookup(p string) (*Inode_t, defs.Err_t) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	ino, ok := fs.byPath[p]
	if !ok {
		return nil, -defs.ENOENT
	}
	return fs.inodes[ino], 0
}

// Create makes a new regular file (dir == false) or directory at p,
// whose parent must already exist as a directory.
func (fs *Fs_t) Create(p string, dir bool) (*Inode_t, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.byPath[p]; ok {
		return nil, -defs.EEXIST
	}
	parentPath, name := path.Split(p)
	parentPath = path.Clean(parentPath)
	if parentPath == "" {
		parentPath = "/"
	}
	parentIno, ok := fs.byPath[parentPath]
	if !ok {
		return nil, -defs.ENOENT
	}
	parent := fs.inodes[parentIno]
	if !parent.IsDir {
		return nil, -defs.ENOTDIR
	}
	ino := fs.nextIno
	fs.nextIno++
	in := &Inode_t{Ino: ino, IsDir: dir}
	if dir {
		in.Children = make(map[string]uint64)
	}
	fs.inodes[ino] = in
	fs.byPath[p] = ino
	parent.Children[name] = ino
	return in, 0
}

// Remove deletes the entry at p.
func (fs *Fs_t) Remove(p string) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino, ok := fs.byPath[p]
	if !ok {
		return -defs.ENOENT
	}
	parentPath, name := path.Split(p)
	parentPath = path.Clean(parentPath)
	if parentPath == "" {
		parentPath = "/"
	}
	if parentIno, ok := fs.byPath[parentPath]; ok {
		delete(fs.inodes[parentIno].Children, name)
	}
	delete(fs.byPath, p)
	delete(fs.inodes, ino)
	return 0
}

// Readdir returns a directory's entries sorted by name, for stable
// getdents64 pagination.
func (fs *Fs_t) Readdir(dir *Inode_t) []Dirent_t {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var ents []Dirent_t
	for name, ino := range dir.Children {
		typ := uint8(DT_REG)
		if child, ok := fs.inodes[ino]; ok && child.IsDir {
			typ = DT_DIR
		}
		ents = append(ents, Dirent_t{Name: name, Ino: ino, Type: typ})
	}
	sort.Slice(ents, func(i, j int) bool { return ents[i].Name < ents[j].Name })
	return ents
}
