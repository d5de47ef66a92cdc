package vm

import "biscuit/mem"

func pageSizeValid(sz uintptr) bool {
	return mem.PageSizeValid(sz)
}

// PageIter steps over [Start, End) by a fixed page size. It is
// finite and non-restartable: once exhausted it always reports done.
type PageIter struct {
	next uintptr
	end  uintptr
	size uintptr
	ok   bool
}

// NewPageIter constructs an iterator over [start, end) stepping by
// size, one of the supported page sizes. Both start and end must
// already be aligned to size and start <= end; otherwise the returned
// iterator yields nothing, mirroring the spec's "returns nothing"
// construction failure rather than a Go error value.
func NewPageIter(start, end, size uintptr) PageIter {
	if !pageSizeValid(size) || start > end || start%size != 0 || end%size != 0 {
		return PageIter{}
	}
	return PageIter{next: start, end: end, size: size, ok: true}
}

// Next returns the next page-aligned address and true, or zero and
// false once the range is exhausted.
func (it *PageIter) Next() (uintptr, bool) {
	if !it.ok || it.next >= it.end {
		return 0, false
	}
	va := it.next
	it.next += it.size
	return va, true
}
