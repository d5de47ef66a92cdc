package vm

import (
	"sync"

	"biscuit/mem"
)

// PageTable is the narrow interface AddrSpace drives instead of
// manipulating hardware page-table entries directly; the real
// architecture-specific table (x86-64 4/5-level paging, etc.) is an
// external collaborator reached through this interface. mapPageTable
// below is the pure-Go reference implementation used when no such
// collaborator is wired in, and is sufficient for everything this
// package needs to guarantee.
type PageTable interface {
	// Map installs va -> pa with the given permissions, overwriting any
	// previous mapping.
	Map(va uintptr, pa mem.Pa_t, flags Flags)
	// Unmap removes va's mapping, if any, returning the physical frame
	// that was mapped there.
	Unmap(va uintptr) (mem.Pa_t, bool)
	// Lookup returns va's current mapping.
	Lookup(va uintptr) (mem.Pa_t, Flags, bool)
	// Protect rewrites the permission bits of an existing mapping,
	// reporting false if va is unmapped.
	Protect(va uintptr, flags Flags) bool
	// Clone returns a new, independent PageTable with the same entries.
	// AddrSpace.CloneOrErr does not use it; it starts from NewPageTable
	// and remaps each area itself.
	Clone() PageTable
}

type ptEntry struct {
	pa    mem.Pa_t
	flags Flags
}

// mapPageTable is a page table backed by an ordinary Go map, keyed by
// page-aligned virtual address. It stands in for the hardware MMU's
// translation structure.
type mapPageTable struct {
	mu      sync.Mutex
	entries map[uintptr]ptEntry
}

// NewPageTable returns the reference PageTable implementation: an
// empty translation table, as a freshly allocated root page table
// would be.
func NewPageTable() PageTable {
	return &mapPageTable{entries: make(map[uintptr]ptEntry)}
}

func (pt *mapPageTable) Map(va uintptr, pa mem.Pa_t, flags Flags) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.entries[va] = ptEntry{pa: pa, flags: flags}
}

func (pt *mapPageTable) Unmap(va uintptr) (mem.Pa_t, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va]
	if !ok {
		return 0, false
	}
	delete(pt.entries, va)
	return e.pa, true
}

func (pt *mapPageTable) Lookup(va uintptr) (mem.Pa_t, Flags, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va]
	if !ok {
		return 0, 0, false
	}
	return e.pa, e.flags, true
}

func (pt *mapPageTable) Protect(va uintptr, flags Flags) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va]
	if !ok {
		return false
	}
	e.flags = flags
	pt.entries[va] = e
	return true
}

func (pt *mapPageTable) Clone() PageTable {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	n := &mapPageTable{entries: make(map[uintptr]ptEntry, len(pt.entries))}
	for k, v := range pt.entries {
		n.entries[k] = v
	}
	return n
}
