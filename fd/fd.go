// Package fd implements the open-file-descriptor table: a
// fixed-capacity slot array mapping small integers to shared,
// ref-counted file-like objects (spec §3, §4.9).
package fd

import (
	"sync"

	"biscuit/defs"
	"biscuit/fdops"
	"biscuit/path"
	"biscuit/ustr"
)

// File descriptor permission bits.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fd_t is an open file descriptor: operations plus the permission
// bits this particular descriptor was opened with.
type Fd_t struct {
	// Fops is an interface implemented via a pointer receiver, so Fops
	// is a reference, not a value.
	Fops  fdops.Fdops_i
	Perms int
}

// Copyfd duplicates an open file descriptor by reopening it.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// Close_panic closes the descriptor and panics on failure.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

// Cwd_t tracks the current working directory for a process.
type Cwd_t struct {
	sync.Mutex // serializes chdirs
	Fd         *Fd_t
	Path       ustr.Ustr
}

// Fullpath joins cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	full := append(ustr.Ustr{}, cwd.Path...)
	full = append(full, '/')
	return append(full, p...)
}

// Canonicalpath resolves path components relative to cwd.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return path.Canonicalize(cwd.Fullpath(p))
}

// MkRootCwd constructs a Cwd_t rooted at "/".
func MkRootCwd(fd *Fd_t) *Cwd_t {
	c := &Cwd_t{}
	c.Fd = fd
	c.Path = ustr.MkUstrRoot()
	return c
}

// Table_t is the per-process FD table: a flat slot array of capacity
// limits.Syslimit.Fds, lowest-free-slot allocation, guarded by a
// single RW lock (spec §3, §5).
type Table_t struct {
	mu    sync.RWMutex
	slots []*Fd_t
}

// NewTable returns an empty FD table with the given capacity.
func NewTable(capacity int) *Table_t {
	return &Table_t{slots: make([]*Fd_t, capacity)}
}

// Add inserts fd at the lowest free slot, returning EMFILE if none
// remain.
func (t *Table_t) Add(fd *Fd_t) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.slots {
		if s == nil {
			t.slots[i] = fd
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

// AddAt inserts fd at exactly slot n, closing whatever was there
// first.
func (t *Table_t) AddAt(n int, fd *Fd_t) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 || n >= len(t.slots) {
		return -defs.EMFILE
	}
	if old := t.slots[n]; old != nil {
		old.Fops.Close()
	}
	t.slots[n] = fd
	return 0
}

// Remove clears slot n, returning the descriptor that was there.
func (t *Table_t) Remove(n int) (*Fd_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 || n >= len(t.slots) || t.slots[n] == nil {
		return nil, -defs.EBADF
	}
	fd := t.slots[n]
	t.slots[n] = nil
	return fd, 0
}

// Get returns the descriptor at slot n.
func (t *Table_t) Get(n int) (*Fd_t, defs.Err_t) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n < 0 || n >= len(t.slots) || t.slots[n] == nil {
		return nil, -defs.EBADF
	}
	return t.slots[n], 0
}

// Ids returns the slot numbers currently in use, ascending.
func (t *Table_t) Ids() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []int
	for i, s := range t.slots {
		if s != nil {
			ids = append(ids, i)
		}
	}
	return ids
}

// Copy returns a deep copy of the table: every live slot is reopened
// so the two tables hold independent references (used when clone
// lacks CLONE_FILES).
func (t *Table_t) Copy() (*Table_t, defs.Err_t) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	nt := NewTable(len(t.slots))
	for i, s := range t.slots {
		if s == nil {
			continue
		}
		nfd, err := Copyfd(s)
		if err != 0 {
			return nil, err
		}
		nt.slots[i] = nfd
	}
	return nt, 0
}
