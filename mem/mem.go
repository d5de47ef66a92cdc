// Package mem provides the physical-frame allocator interface the
// address space layer consumes. The real frame allocator and the
// hardware page table it feeds are architecture-specific external
// collaborators (spec §1); this package supplies a narrow interface
// plus a pure-Go reference implementation so the rest of the kernel
// is independent of any particular MMU.
package mem

import (
	"sync"
	"sync/atomic"

	"biscuit/limits"
	"biscuit/oommsg"
)

// Page sizes the page iterator and address space understand (spec §4.1).
const (
	PageSize4K = uintptr(1) << 12
	PageSize2M = uintptr(1) << 21
	PageSize1G = uintptr(1) << 30
)

// PageSizeValid reports whether sz is a page size the kernel supports.
func PageSizeValid(sz uintptr) bool {
	switch sz {
	case PageSize4K, PageSize2M, PageSize1G:
		return true
	}
	return false
}

// Pa_t names a physical frame. It has no relation to a real physical
// address; it is an opaque handle into Physmem's frame table.
type Pa_t uintptr

// FrameAllocator is the narrow interface the address space and its
// backends use to obtain and release physical storage. A production
// kernel backs this with the real frame allocator and MMU; Physmem
// below is the in-process reference implementation used here and in
// tests.
type FrameAllocator interface {
	// AllocZeroed reserves one frame, already zeroed, with refcount 1.
	AllocZeroed() (Pa_t, bool)
	// AllocRaw reserves one frame with refcount 1 and unspecified
	// contents (the caller is about to overwrite it in full).
	AllocRaw() (Pa_t, bool)
	// Refup increments a frame's reference count.
	Refup(Pa_t)
	// Refdown decrements a frame's reference count, freeing it and
	// returning true when it reaches zero.
	Refdown(Pa_t) bool
	// Refcnt reports a frame's current reference count.
	Refcnt(Pa_t) int
	// Bytes returns the byte storage backing the frame, analogous to
	// Physmem.Dmap in the original kernel's direct map.
	Bytes(Pa_t) *[PageSize4K]byte
}

type frame struct {
	refcnt int32
	data   [PageSize4K]byte
}

// Physmem_t is a pure-Go stand-in for the kernel's physical frame
// allocator. It hands out frame handles backed by ordinary Go memory
// and tracks reference counts the same way the original Physmem_t
// does for copy-on-write sharing.
type Physmem_t struct {
	mu     sync.Mutex
	frames map[Pa_t]*frame
	next   Pa_t
	cap    int
}

// Physmem is the global frame allocator instance, sized from
// limits.Syslimit.Frames the way the original kernel reserves a fixed
// pool of pages at boot.
var Physmem = NewPhysmem(limits.Syslimit.Frames)

// NewPhysmem builds a frame allocator bounded to maxFrames live
// frames. Exhaustion is reported on oommsg.OomCh if a reclaimer is
// listening, then surfaced to the caller as a failed allocation.
func NewPhysmem(maxFrames int) *Physmem_t {
	return &Physmem_t{
		frames: make(map[Pa_t]*frame),
		next:   1,
		cap:    maxFrames,
	}
}

func (p *Physmem_t) alloc() (Pa_t, bool) {
	p.mu.Lock()
	if len(p.frames) >= p.cap {
		p.mu.Unlock()
		notifyOom(p.cap - len(p.frames))
		return 0, false
	}
	pa := p.next
	p.next++
	p.frames[pa] = &frame{refcnt: 1}
	p.mu.Unlock()
	return pa, true
}

// AllocZeroed reserves a frame. Go zero-initializes the backing array,
// so there is nothing further to do to satisfy the "zeroed" contract.
func (p *Physmem_t) AllocZeroed() (Pa_t, bool) { return p.alloc() }

func (p *Physmem_t) AllocRaw() (Pa_t, bool) { return p.alloc() }

func (p *Physmem_t) Refup(pa Pa_t) {
	p.mu.Lock()
	f, ok := p.frames[pa]
	p.mu.Unlock()
	if !ok {
		panic("mem: refup of unknown frame")
	}
	if atomic.AddInt32(&f.refcnt, 1) <= 1 {
		panic("mem: refup of dead frame")
	}
}

func (p *Physmem_t) Refdown(pa Pa_t) bool {
	p.mu.Lock()
	f, ok := p.frames[pa]
	p.mu.Unlock()
	if !ok {
		panic("mem: refdown of unknown frame")
	}
	if atomic.AddInt32(&f.refcnt, -1) != 0 {
		return false
	}
	p.mu.Lock()
	delete(p.frames, pa)
	p.mu.Unlock()
	return true
}

func (p *Physmem_t) Refcnt(pa Pa_t) int {
	p.mu.Lock()
	f, ok := p.frames[pa]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	return int(atomic.LoadInt32(&f.refcnt))
}

func (p *Physmem_t) Bytes(pa Pa_t) *[PageSize4K]byte {
	p.mu.Lock()
	f, ok := p.frames[pa]
	p.mu.Unlock()
	if !ok {
		panic("mem: bytes of unknown frame")
	}
	return &f.data
}

func notifyOom(need int) {
	if need < 0 {
		need = 0
	}
	msg := oommsg.Oommsg_t{Need: need, Resume: make(chan bool, 1)}
	select {
	case oommsg.OomCh <- msg:
		<-msg.Resume
	default:
		// no reclaimer is listening; the caller sees ENOMEM immediately
	}
}
