package vm

import (
	"biscuit/defs"
	"biscuit/mem"
)

// BackendKind tags the two mapping policies an Area can have. Kept as
// a closed tagged union per the design notes, dispatched on in
// backend.go rather than through an open interface.
type BackendKind int

const (
	BackendLinear BackendKind = iota
	BackendAlloc
)

// Backend is the policy mapping an area's virtual pages to physical
// frames. Linear backends install a fixed offset eagerly and never
// fault; Alloc backends draw frames from the allocator, either
// eagerly (Populate) or lazily on first fault.
type Backend struct {
	Kind     BackendKind
	PageSize uintptr

	// Linear
	PaVaOffset uintptr
	// align is stored for symmetry with Alloc but unused on unmap
	// (spec open question: the Linear backend never needs it there).
	Align uintptr

	// Alloc
	Populate bool
}

// LinearBackend builds a Backend mapping physical = virtual - offset.
func LinearBackend(pageSize, offset, align uintptr) Backend {
	return Backend{Kind: BackendLinear, PageSize: pageSize, PaVaOffset: offset, Align: align}
}

// AllocBackend builds a Backend drawing frames from the allocator.
func AllocBackend(pageSize uintptr, populate bool) Backend {
	return Backend{Kind: BackendAlloc, PageSize: pageSize, Populate: populate}
}

// mapRange installs PTEs for [r.Start, r.End) per the backend's policy.
// For Linear this is unconditional; for Alloc, only when populate is
// set (otherwise pages materialize on first fault).
func (b Backend) mapRange(pt PageTable, alloc mem.FrameAllocator, r Range, flags Flags) defs.Err_t {
	switch b.Kind {
	case BackendLinear:
		it := NewPageIter(r.Start, r.End, b.PageSize)
		for va, ok := it.Next(); ok; va, ok = it.Next() {
			pa := mem.Pa_t(va - b.PaVaOffset)
			pt.Map(va, pa, flags)
		}
		return 0
	case BackendAlloc:
		if !b.Populate {
			return 0
		}
		it := NewPageIter(r.Start, r.End, b.PageSize)
		for va, ok := it.Next(); ok; va, ok = it.Next() {
			pa, ok := alloc.AllocZeroed()
			if !ok {
				return -defs.ENOMEM
			}
			pt.Map(va, pa, flags)
		}
		return 0
	}
	panic("vm: unknown backend kind")
}

// unmapRange removes mappings for [r.Start, r.End). For Alloc
// backends, every mapped frame is returned to the allocator.
func (b Backend) unmapRange(pt PageTable, alloc mem.FrameAllocator, r Range) {
	it := NewPageIter(r.Start, r.End, b.PageSize)
	for va, ok := it.Next(); ok; va, ok = it.Next() {
		pa, mapped := pt.Unmap(va)
		if !mapped {
			continue
		}
		if b.Kind == BackendAlloc {
			alloc.Refdown(pa)
		}
	}
}

// handleFault tries to resolve a fault at va, returning true if a
// mapping was installed. Linear backends are always eager and so
// never legitimately fault.
func (b Backend) handleFault(pt PageTable, alloc mem.FrameAllocator, va uintptr, flags Flags) bool {
	switch b.Kind {
	case BackendLinear:
		return false
	case BackendAlloc:
		if b.Populate {
			return false
		}
		pageva := va - (va % b.PageSize)
		pa, ok := alloc.AllocZeroed()
		if !ok {
			return false
		}
		pt.Map(pageva, pa, flags)
		return true
	}
	panic("vm: unknown backend kind")
}
