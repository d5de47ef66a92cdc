package vm

import (
	"sort"
	"sync"

	"biscuit/defs"
	"biscuit/mem"
)

// AddrSpace is a process's virtual address space: a bounded virtual
// range, an ordered, non-overlapping set of areas, and the page table
// that reflects them. All public mutators take the address space
// mutex; per spec §5 no holder may then perform a further suspending
// operation on user memory through another path, so the user-pointer
// validator (uva.go) releases this mutex between page probes.
type AddrSpace struct {
	mu      sync.Mutex
	VaRange Range
	areas   []*Area
	pt      PageTable
	alloc   mem.FrameAllocator
}

// NewEmpty preallocates a root page table for a fresh address space
// spanning [base, base+size).
func NewEmpty(base, size uintptr, alloc mem.FrameAllocator) (*AddrSpace, defs.Err_t) {
	r, ok := MkRange(base, base+size)
	if !ok {
		return nil, -defs.EINVAL
	}
	return &AddrSpace{
		VaRange: r,
		pt:      NewPageTable(),
		alloc:   alloc,
	}, 0
}

func alignedRange(va, size, align uintptr) (Range, bool) {
	if !pageSizeValid(align) {
		return Range{}, false
	}
	if va%align != 0 || size%align != 0 || size == 0 {
		return Range{}, false
	}
	r, ok := MkRange(va, va+size)
	return r, ok
}

// indexFor returns the slot an area starting at start would occupy to
// keep as.areas sorted, and whether an area already starts there.
func (as *AddrSpace) indexFor(start uintptr) (int, bool) {
	i := sort.Search(len(as.areas), func(i int) bool {
		return as.areas[i].Start >= start
	})
	if i < len(as.areas) && as.areas[i].Start == start {
		return i, true
	}
	return i, false
}

func (as *AddrSpace) overlapsAny(r Range) bool {
	for _, a := range as.areas {
		if a.Range().Overlaps(r) {
			return true
		}
	}
	return false
}

func (as *AddrSpace) insertArea(a *Area) {
	i, _ := as.indexFor(a.Start)
	as.areas = append(as.areas, nil)
	copy(as.areas[i+1:], as.areas[i:])
	as.areas[i] = a
}

// MapLinear creates a Linear area and eagerly installs its PTEs.
func (as *AddrSpace) MapLinear(va, pa, size uintptr, flags Flags, align uintptr) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	r, ok := alignedRange(va, size, align)
	if !ok || pa%align != 0 || !as.VaRange.ContainsRange(r) {
		return -defs.EINVAL
	}
	if as.overlapsAny(r) {
		return -defs.EEXIST
	}
	be := LinearBackend(align, va-pa, align)
	if err := be.mapRange(as.pt, as.alloc, r, flags); err != 0 {
		return err
	}
	as.insertArea(&Area{Start: va, Size: size, Flags: flags, Backend: be})
	return 0
}

// MapAlloc creates an Alloc area, eagerly populated when populate is
// set, otherwise faulted in lazily.
func (as *AddrSpace) MapAlloc(va, size uintptr, flags Flags, populate bool, align uintptr) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	r, ok := alignedRange(va, size, align)
	if !ok || !as.VaRange.ContainsRange(r) {
		return -defs.EINVAL
	}
	if as.overlapsAny(r) {
		return -defs.EEXIST
	}
	be := AllocBackend(align, populate)
	if err := be.mapRange(as.pt, as.alloc, r, flags); err != 0 {
		return err
	}
	as.insertArea(&Area{Start: va, Size: size, Flags: flags, Backend: be})
	return 0
}

// Unmap removes any areas wholly or partially covered by [va,
// va+size). Partial-coverage edges must stay aligned to the covered
// area's own page size.
func (as *AddrSpace) Unmap(va, size uintptr) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	target, ok := MkRange(va, va+size)
	if !ok {
		return -defs.EINVAL
	}
	if target.Empty() {
		return 0
	}
	var kept []*Area
	for _, a := range as.areas {
		ar := a.Range()
		if !ar.Overlaps(target) {
			kept = append(kept, a)
			continue
		}
		ps := a.Backend.PageSize
		cut, ok := MkRange(maxU(ar.Start, target.Start), minU(ar.End, target.End))
		if !ok || cut.Start%ps != 0 || cut.End%ps != 0 {
			return -defs.EINVAL
		}
		a.Backend.unmapRange(as.pt, as.alloc, cut)
		if cut.Start > ar.Start {
			kept = append(kept, &Area{Start: ar.Start, Size: cut.Start - ar.Start, Flags: a.Flags, Backend: a.Backend})
		}
		if cut.End < ar.End {
			kept = append(kept, &Area{Start: cut.End, Size: ar.End - cut.End, Flags: a.Flags, Backend: a.Backend})
		}
	}
	as.areas = kept
	return 0
}

func maxU(a, b uintptr) uintptr {
	if a > b {
		return a
	}
	return b
}

func minU(a, b uintptr) uintptr {
	if a < b {
		return a
	}
	return b
}

// Protect ensures demand pages across [va, va+size) are materialized,
// then rewrites PTE permissions to flags.
func (as *AddrSpace) Protect(va, size uintptr, flags Flags, align uintptr) defs.Err_t {
	if err := as.PopulateArea(va, size, align); err != 0 {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	r, ok := alignedRange(va, size, align)
	if !ok {
		return -defs.EINVAL
	}
	for _, a := range as.areas {
		ar := a.Range()
		if !ar.Overlaps(r) {
			continue
		}
		it := NewPageIter(maxU(ar.Start, r.Start), minU(ar.End, r.End), a.Backend.PageSize)
		for pva, ok := it.Next(); ok; pva, ok = it.Next() {
			as.pt.Protect(pva, flags)
		}
		a.Flags = flags
	}
	return 0
}

// PopulateArea resolves any missing pages in Alloc areas (populate ==
// false) overlapping [va, va+size) by invoking the fault handler.
func (as *AddrSpace) PopulateArea(va, size uintptr, align uintptr) defs.Err_t {
	as.mu.Lock()
	r, ok := alignedRange(va, size, align)
	if !ok {
		as.mu.Unlock()
		return -defs.EINVAL
	}
	type hole struct{ va uintptr }
	var faults []hole
	covered := uintptr(0)
	for _, a := range as.areas {
		ar := a.Range()
		if !ar.Overlaps(r) {
			continue
		}
		lo, hi := maxU(ar.Start, r.Start), minU(ar.End, r.End)
		covered += hi - lo
		if a.Backend.Kind != BackendAlloc || a.Backend.Populate {
			continue
		}
		it := NewPageIter(lo, hi, a.Backend.PageSize)
		for pva, ok := it.Next(); ok; pva, ok = it.Next() {
			if _, _, mapped := as.pt.Lookup(pva); !mapped {
				faults = append(faults, hole{pva})
			}
		}
	}
	as.mu.Unlock()

	if covered < r.End-r.Start {
		return -defs.ENOMEM
	}

	for _, h := range faults {
		if !as.HandlePageFault(h.va, FlagRead) {
			return -defs.ENOMEM
		}
	}
	return 0
}

// FindFreeArea returns the lowest aligned start >= max(hint,
// limit.Start) such that [start, start+size) fits in limit and
// overlaps no existing area.
func (as *AddrSpace) FindFreeArea(hint, size uintptr, limit Range, align uintptr) (uintptr, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if size == 0 {
		return hint, true
	}
	cand := maxU(hint, limit.Start)
	if cand%align != 0 {
		cand += align - (cand % align)
	}
	for _, a := range as.areas {
		ar := a.Range()
		if ar.End <= cand {
			continue
		}
		if ar.Start >= cand+size {
			break
		}
		cand = ar.End
		if cand%align != 0 {
			cand += align - (cand % align)
		}
	}
	if cand+size > limit.End {
		return 0, false
	}
	return cand, true
}

// HandlePageFault resolves a fault at va requiring accessFlags,
// returning true iff some area covers va with a superset of
// accessFlags and its backend installs a mapping.
func (as *AddrSpace) HandlePageFault(va uintptr, accessFlags Flags) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, a := range as.areas {
		if !a.Range().Contains(va) {
			continue
		}
		if !a.Flags.Has(accessFlags) {
			return false
		}
		return a.Backend.handleFault(as.pt, as.alloc, va, a.Flags)
	}
	return false
}

// CloneOrErr deep-clones this address space: a new page table, each
// area re-mapped. Alloc pages are faulted into the clone and their
// contents byte-copied; Linear areas share their physical region
// since it is not allocator-owned.
func (as *AddrSpace) CloneOrErr() (*AddrSpace, defs.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()
	n := &AddrSpace{VaRange: as.VaRange, pt: NewPageTable(), alloc: as.alloc}
	for _, a := range as.areas {
		na := &Area{Start: a.Start, Size: a.Size, Flags: a.Flags, Backend: a.Backend}
		n.areas = append(n.areas, na)
		switch a.Backend.Kind {
		case BackendLinear:
			if err := a.Backend.mapRange(n.pt, n.alloc, a.Range(), a.Flags); err != 0 {
				return nil, err
			}
		case BackendAlloc:
			it := NewPageIter(a.Start, a.Start+a.Size, a.Backend.PageSize)
			for va, ok := it.Next(); ok; va, ok = it.Next() {
				srcPa, _, mapped := as.pt.Lookup(va)
				if !mapped {
					continue
				}
				dstPa, ok := n.alloc.AllocRaw()
				if !ok {
					return nil, -defs.ENOMEM
				}
				copy(n.alloc.Bytes(dstPa)[:], as.alloc.Bytes(srcPa)[:])
				n.pt.Map(va, dstPa, a.Flags)
			}
		}
	}
	return n, 0
}

// CopyMappingsFrom shallow-copies other's PTEs across r into as,
// without touching other. r must not overlap any area already
// present in as.
func (as *AddrSpace) CopyMappingsFrom(other *AddrSpace, r Range) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.overlapsAny(r) {
		return -defs.EEXIST
	}
	other.mu.Lock()
	defer other.mu.Unlock()
	for _, a := range other.areas {
		ar := a.Range()
		if !ar.Overlaps(r) {
			continue
		}
		it := NewPageIter(maxU(ar.Start, r.Start), minU(ar.End, r.End), a.Backend.PageSize)
		for va, ok := it.Next(); ok; va, ok = it.Next() {
			if pa, flags, mapped := other.pt.Lookup(va); mapped {
				as.pt.Map(va, pa, flags)
			}
		}
	}
	return 0
}

// ClearMappings removes the PTEs over r without returning frames to
// the allocator and without touching the area list; used to undo a
// CopyMappingsFrom.
func (as *AddrSpace) ClearMappings(r Range) {
	as.mu.Lock()
	defer as.mu.Unlock()
	it := NewPageIter(r.Start, r.End, mem.PageSize4K)
	for va, ok := it.Next(); ok; va, ok = it.Next() {
		as.pt.Unmap(va)
	}
}

// Read copies len(buf) bytes starting at va into buf, translating
// each covered page via the page table.
func (as *AddrSpace) Read(va uintptr, buf []byte) defs.Err_t {
	return as.copy(va, buf, false)
}

// Write copies buf into user memory starting at va.
func (as *AddrSpace) Write(va uintptr, buf []byte) defs.Err_t {
	return as.copy(va, buf, true)
}

func (as *AddrSpace) copy(va uintptr, buf []byte, toUser bool) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	n := len(buf)
	off := 0
	for off < n {
		cur := va + uintptr(off)
		pageva := cur - cur%mem.PageSize4K
		pa, _, mapped := as.pt.Lookup(pageva)
		if !mapped {
			return -defs.EFAULT
		}
		pageoff := int(cur % mem.PageSize4K)
		bytes := as.alloc.Bytes(pa)
		room := int(mem.PageSize4K) - pageoff
		take := n - off
		if take > room {
			take = room
		}
		if toUser {
			copy(bytes[pageoff:pageoff+take], buf[off:off+take])
		} else {
			copy(buf[off:off+take], bytes[pageoff:pageoff+take])
		}
		off += take
	}
	return 0
}
