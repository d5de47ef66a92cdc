// Package circbuf implements the ring buffer backing a pipe.
// It is not safe for concurrent use by itself; callers (package
// filelike's pipe) hold their own lock around head/tail mutation.
package circbuf

import (
	"biscuit/defs"
	"biscuit/fdops"
	"biscuit/mem"
)

// Circbuf_t is a byte ring buffer backed by a single allocator frame,
// sized to the pipe buffer's fixed capacity (spec §3: 256 bytes).
type Circbuf_t struct {
	alloc mem.FrameAllocator
	buf   []uint8
	bufsz int
	head  int
	tail  int
	pa    mem.Pa_t
}

// Bufsz returns the configured buffer size.
func (cb *Circbuf_t) Bufsz() int {
	return cb.bufsz
}

// Init lazily allocates a backing frame when required; sz must not
// exceed one frame's worth of bytes.
func (cb *Circbuf_t) Init(sz int, alloc mem.FrameAllocator) defs.Err_t {
	if sz <= 0 || sz > int(mem.PageSize4K) {
		panic("bad circbuf size")
	}
	cb.alloc = alloc
	cb.bufsz = sz
	cb.head, cb.tail = 0, 0
	// the frame is allocated lazily on first ensure() call so that
	// constructing a Circbuf_t never itself fails with ENOMEM
	return 0
}

// Release drops the reference to the backing frame.
func (cb *Circbuf_t) Release() {
	if cb.buf == nil {
		return
	}
	cb.alloc.Refdown(cb.pa)
	cb.pa = 0
	cb.buf = nil
	cb.head, cb.tail = 0, 0
}

func (cb *Circbuf_t) ensure() defs.Err_t {
	if cb.buf != nil {
		return 0
	}
	if cb.bufsz == 0 {
		panic("circbuf: not initialized")
	}
	pa, ok := cb.alloc.AllocZeroed()
	if !ok {
		return -defs.ENOMEM
	}
	cb.pa = pa
	bytes := cb.alloc.Bytes(pa)
	cb.buf = bytes[:cb.bufsz]
	return 0
}

// Full returns true when the buffer cannot accept more data.
func (cb *Circbuf_t) Full() bool {
	return cb.head-cb.tail == cb.bufsz
}

// Empty reports whether the buffer contains any data.
func (cb *Circbuf_t) Empty() bool {
	return cb.head == cb.tail
}

// Left returns the remaining capacity in bytes.
func (cb *Circbuf_t) Left() int {
	return cb.bufsz - (cb.head - cb.tail)
}

// Used returns the current number of bytes in the buffer.
func (cb *Circbuf_t) Used() int {
	return cb.head - cb.tail
}

// Copyin reads from src into the circular buffer, advancing head.
func (cb *Circbuf_t) Copyin(src fdops.Userio_i) (int, defs.Err_t) {
	if err := cb.ensure(); err != 0 {
		return 0, err
	}
	if cb.Full() {
		return 0, 0
	}
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	c := 0
	if ti <= hi {
		dst := cb.buf[hi:]
		wrote, err := src.Uioread(dst)
		if err != 0 {
			return 0, err
		}
		if wrote != len(dst) {
			cb.head += wrote
			return wrote, 0
		}
		c += wrote
		hi = (cb.head + wrote) % cb.bufsz
	}
	if hi > ti {
		panic("circbuf: bad wraparound state")
	}
	dst := cb.buf[hi:ti]
	wrote, err := src.Uioread(dst)
	c += wrote
	if err != 0 {
		return c, err
	}
	cb.head += c
	return c, 0
}

// Copyout writes the entire buffer contents to dst, advancing tail.
func (cb *Circbuf_t) Copyout(dst fdops.Userio_i) (int, defs.Err_t) {
	return cb.CopyoutN(dst, 0)
}

// CopyoutN writes up to max bytes of the buffer to dst (max == 0 means
// unlimited), advancing tail.
func (cb *Circbuf_t) CopyoutN(dst fdops.Userio_i, max int) (int, defs.Err_t) {
	if err := cb.ensure(); err != 0 {
		return 0, err
	}
	if cb.Empty() {
		return 0, 0
	}
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	c := 0
	if hi <= ti {
		src := cb.buf[ti:]
		if max != 0 && max < len(src) {
			src = src[:max]
		}
		wrote, err := dst.Uiowrite(src)
		if err != 0 {
			return 0, err
		}
		if wrote != len(src) || wrote == max {
			cb.tail += wrote
			return wrote, 0
		}
		c += wrote
		if max != 0 {
			max -= c
		}
		ti = (cb.tail + wrote) % cb.bufsz
	}
	if ti > hi {
		panic("circbuf: bad wraparound state")
	}
	src := cb.buf[ti:hi]
	if max != 0 && max < len(src) {
		src = src[:max]
	}
	wrote, err := dst.Uiowrite(src)
	if err != 0 {
		return 0, err
	}
	c += wrote
	cb.tail += c
	return c, 0
}
