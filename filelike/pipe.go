// Package filelike provides the concrete file-like kinds behind the
// FD table: pipe endpoints, stdio, regular files and directories
// backed by the in-memory vfs, and a socket stub. Each implements
// fdops.Fdops_i; the file-like boundary itself stays an open
// capability interface per the design notes, even though the set of
// kinds implemented here is closed.
package filelike

import (
	"runtime"
	"sync"

	"biscuit/circbuf"
	"biscuit/config"
	"biscuit/defs"
	"biscuit/fdops"
	"biscuit/mem"
	"biscuit/stat"
)

const pipeBufSize = config.PipeBufSize

type pipe_t struct {
	mu      sync.Mutex
	cb      circbuf.Circbuf_t
	readers int
	writers int
}

// PipeEnd_t is one end (reader xor writer) of a pipe.
type PipeEnd_t struct {
	p        *pipe_t
	reader   bool
	nonblock bool
}

// NewPipe creates a connected pair of pipe endpoints sharing a single
// 256-byte ring buffer (spec §3).
func NewPipe(alloc mem.FrameAllocator) (*PipeEnd_t, *PipeEnd_t, defs.Err_t) {
	p := &pipe_t{readers: 1, writers: 1}
	if err := p.cb.Init(pipeBufSize, alloc); err != 0 {
		return nil, nil, err
	}
	return &PipeEnd_t{p: p, reader: true}, &PipeEnd_t{p: p, reader: false}, 0
}

func (e *PipeEnd_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if !e.reader {
		return 0, -defs.EINVAL
	}
	for {
		e.p.mu.Lock()
		if e.p.cb.Empty() {
			if e.p.writers == 0 {
				e.p.mu.Unlock()
				return 0, 0
			}
			e.p.mu.Unlock()
			if e.nonblock {
				return 0, -defs.EAGAIN
			}
			runtime.Gosched()
			continue
		}
		n, err := e.p.cb.Copyout(dst)
		e.p.mu.Unlock()
		return n, err
	}
}

func (e *PipeEnd_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if e.reader {
		return 0, -defs.EINVAL
	}
	if src.Remain() == 0 {
		return 0, 0
	}
	total := 0
	for {
		e.p.mu.Lock()
		if e.p.cb.Full() {
			if e.p.readers == 0 {
				e.p.mu.Unlock()
				return total, -defs.EPIPE
			}
			e.p.mu.Unlock()
			if e.nonblock {
				if total > 0 {
					return total, 0
				}
				return 0, -defs.EAGAIN
			}
			runtime.Gosched()
			continue
		}
		n, err := e.p.cb.Copyin(src)
		e.p.mu.Unlock()
		total += n
		if err != 0 {
			return total, err
		}
		if src.Remain() == 0 {
			return total, 0
		}
		// buffer filled mid-write: report partial progress rather than
		// looping back through the full-wait branch again
		return total, 0
	}
}

func (e *PipeEnd_t) Close() defs.Err_t {
	e.p.mu.Lock()
	if e.reader {
		e.p.readers--
	} else {
		e.p.writers--
	}
	dead := e.p.readers == 0 && e.p.writers == 0
	e.p.mu.Unlock()
	if dead {
		e.p.cb.Release()
	}
	return 0
}

func (e *PipeEnd_t) Reopen() defs.Err_t {
	e.p.mu.Lock()
	if e.reader {
		e.p.readers++
	} else {
		e.p.writers++
	}
	e.p.mu.Unlock()
	return 0
}

func (e *PipeEnd_t) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(uint(stat.S_IFIFO))
	st.Wsize(0)
	return 0
}

func (e *PipeEnd_t) Lseek(off int, whence int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}

func (e *PipeEnd_t) Pollable() (bool, bool) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	readable := !e.p.cb.Empty() || e.p.writers == 0
	writable := !e.p.cb.Full() || e.p.readers == 0
	return readable, writable
}

func (e *PipeEnd_t) Nonblock() bool       { return e.nonblock }
func (e *PipeEnd_t) SetNonblock(v bool)   { e.nonblock = v }
func (e *PipeEnd_t) Pathi() interface{}   { return nil }

var _ fdops.Fdops_i = (*PipeEnd_t)(nil)
