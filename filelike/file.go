package filelike

import (
	"sync"

	"biscuit/defs"
	"biscuit/fdops"
	"biscuit/stat"
	"biscuit/vfs"
)

// File_t is a regular, path-backed open file.
type File_t struct {
	mu     sync.Mutex
	Path   string
	ino    *vfs.Inode_t
	off    int
	opens  int
	append bool
	nb     bool
}

// NewFile opens an existing inode at p.
func NewFile(p string, ino *vfs.Inode_t) *File_t {
	return &File_t{Path: p, ino: ino, opens: 1}
}

func (f *File_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, dst.Remain())
	n, err := f.ino.ReadAt(buf, f.off)
	if err != 0 {
		return 0, err
	}
	wrote, werr := dst.Uiowrite(buf[:n])
	if werr != 0 {
		return 0, werr
	}
	f.off += wrote
	return wrote, 0
}

func (f *File_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.append {
		f.off = f.ino.Size()
	}
	buf := make([]byte, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	wrote, werr := f.ino.WriteAt(buf[:n], f.off)
	if werr != 0 {
		return 0, werr
	}
	f.off += wrote
	return wrote, 0
}

// ReadAt services an mmap file-backed populate (spec §6): reads
// min(len(dst), size-off) bytes at a fixed offset, independent of the
// descriptor's cursor.
func (f *File_t) ReadAt(dst []byte, off int) (int, defs.Err_t) {
	return f.ino.ReadAt(dst, off)
}

// Size reports the file's current length.
func (f *File_t) Size() int { return f.ino.Size() }

func (f *File_t) Close() defs.Err_t {
	f.mu.Lock()
	f.opens--
	f.mu.Unlock()
	return 0
}

func (f *File_t) Reopen() defs.Err_t {
	f.mu.Lock()
	f.opens++
	f.mu.Unlock()
	return 0
}

func (f *File_t) Lseek(off int, whence int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case 0: // SEEK_SET
		f.off = off
	case 1: // SEEK_CUR
		f.off += off
	case 2: // SEEK_END
		f.off = f.ino.Size() + off
	default:
		return 0, -defs.EINVAL
	}
	if f.off < 0 {
		return 0, -defs.EINVAL
	}
	return f.off, 0
}

func (f *File_t) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(uint(stat.S_IFREG))
	st.Wsize(uint(f.ino.Size()))
	st.Wino(uint(f.ino.Ino))
	return 0
}

func (f *File_t) Pollable() (bool, bool) { return true, true }
func (f *File_t) Nonblock() bool         { return f.nb }
func (f *File_t) SetNonblock(v bool)     { f.nb = v }
func (f *File_t) Pathi() interface{}     { return f.Path }

var _ fdops.Fdops_i = (*File_t)(nil)
