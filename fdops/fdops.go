// Package fdops defines the capability interfaces that connect the FD
// table (package fd) and the address space (package vm) to concrete
// file-like objects and user-memory I/O, without either side needing
// to know about the other's concrete types. Per the design, file-likes
// are the one place left as an open capability interface rather than a
// closed tagged union, since new kinds (pipe, directory, regular file,
// socket stub, stdio) are expected to grow.
package fdops

import (
	"biscuit/defs"
	"biscuit/stat"
)

// Userio_i abstracts a user-memory buffer being read from or written
// to by kernel code, so pipe/file/circbuf code never touches raw user
// pointers directly; package vm supplies the implementation that
// validates and faults pages in as needed.
type Userio_i interface {
	// Uioread copies into dst from the user buffer, returning how much
	// was copied.
	Uioread(dst []uint8) (int, defs.Err_t)
	// Uiowrite copies src into the user buffer, returning how much was
	// copied.
	Uiowrite(src []uint8) (int, defs.Err_t)
	// Remain reports how many bytes are left unconsumed.
	Remain() int
	// Totalsz reports the buffer's original size.
	Totalsz() int
}

// Fdops_i is the capability set every FD-table slot satisfies: read,
// write, stat, poll, nonblocking control, and downcast to a concrete
// kind for operations specific to one file-like variant (getdents,
// pipe handshake probing, and so on).
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(*stat.Stat_t) defs.Err_t
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)
	// Reopen is called when a descriptor is duplicated (dup/dup3/fork);
	// implementations that hold a shared reference (pipe buffer, open
	// file) bump it here.
	Reopen() defs.Err_t
	// Lseek repositions a seekable file-like; non-seekable kinds return
	// ESPIPE-equivalent by returning EINVAL.
	Lseek(off int, whence int) (int, defs.Err_t)
	// Pollable reports whether the file-like is currently readable
	// and/or writable without blocking, for the pipe polling loop and
	// similar non-blocking checks.
	Pollable() (readable, writable bool)
	// Nonblock reports and sets the O_NONBLOCK state.
	Nonblock() bool
	SetNonblock(bool)
	// Pathi is non-nil for path-backed file-likes (regular file,
	// directory); callers downcast via a type switch when a path is
	// needed (e.g. fstatat, getdents64).
	Pathi() interface{}
}
