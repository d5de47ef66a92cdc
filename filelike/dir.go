package filelike

import (
	"sync"

	"biscuit/defs"
	"biscuit/fdops"
	"biscuit/stat"
	"biscuit/util"
	"biscuit/vfs"
)

// Dir_t is a path-backed open directory: an enumeration cursor over
// its entries plus a one-slot pushback cache used when an entry
// doesn't fit the caller's getdents64 buffer (spec §4.9).
type Dir_t struct {
	mu       sync.Mutex
	Path     string
	ino      *vfs.Inode_t
	fs       *vfs.Fs_t
	cursor   int
	pushback *vfs.Dirent_t
}

// NewDir opens an existing directory inode at p.
func NewDir(p string, ino *vfs.Inode_t, fs *vfs.Fs_t) *Dir_t {
	return &Dir_t{Path: p, ino: ino, fs: fs}
}

// dirent64 on-disk layout: ino(8) off(8) reclen(2) type(1) name...\0,
// the whole record padded up to 8-byte alignment.
func encodeDirent(d vfs.Dirent_t, off int64) []byte {
	namelen := len(d.Name) + 1 // NUL terminator
	reclen := util.Roundup(8+8+2+1+namelen, 8)
	rec := make([]byte, reclen)
	util.Writen(rec, 8, 0, int(d.Ino))
	util.Writen(rec, 8, 8, int(off))
	util.Writen(rec, 2, 16, reclen)
	rec[18] = d.Type
	copy(rec[19:], d.Name)
	return rec
}

// Getdents fills dst with as many directory-entry records as fit,
// pushing back the first entry that doesn't fit for the next call. It
// returns EINVAL if not even one entry could fit.
func (d *Dir_t) Getdents(dst fdops.Userio_i) (int, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ents := d.fs.Readdir(d.ino)
	written := 0
	take := func(e vfs.Dirent_t, idx int) (bool, defs.Err_t) {
		rec := encodeDirent(e, int64(idx+1))
		if len(rec) > dst.Remain() {
			return false, 0
		}
		n, err := dst.Uiowrite(rec)
		if err != 0 {
			return false, err
		}
		written += n
		return true, 0
	}

	if d.pushback != nil {
		ok, err := take(*d.pushback, d.cursor-1)
		if err != 0 {
			return 0, err
		}
		if !ok {
			return 0, -defs.EINVAL
		}
		d.pushback = nil
	}

	for d.cursor < len(ents) {
		e := ents[d.cursor]
		ok, err := take(e, d.cursor)
		if err != 0 {
			return written, err
		}
		if !ok {
			d.pushback = &e
			d.cursor++
			if written == 0 {
				return 0, -defs.EINVAL
			}
			return written, 0
		}
		d.cursor++
	}
	return written, 0
}

func (d *Dir_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	return 0, -defs.EISDIR
}
func (d *Dir_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	return 0, -defs.EISDIR
}
func (d *Dir_t) Close() defs.Err_t  { return 0 }
func (d *Dir_t) Reopen() defs.Err_t { return 0 }
func (d *Dir_t) Lseek(off, whence int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (d *Dir_t) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(uint(stat.S_IFDIR))
	st.Wino(uint(d.ino.Ino))
	return 0
}
func (d *Dir_t) Pollable() (bool, bool) { return true, false }
func (d *Dir_t) Nonblock() bool         { return false }
func (d *Dir_t) SetNonblock(bool)       {}
func (d *Dir_t) Pathi() interface{}     { return d.Path }

var _ fdops.Fdops_i = (*Dir_t)(nil)
