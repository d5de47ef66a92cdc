package vm

import (
	"testing"

	"biscuit/mem"
)

func newTestSpace(t *testing.T) *AddrSpace {
	t.Helper()
	as, err := NewEmpty(0x1000_0000, 0x10_0000_0000, mem.Physmem)
	if err != 0 {
		t.Fatalf("NewEmpty: errno %d", err)
	}
	return as
}

func TestMapAllocRejectsOverlap(t *testing.T) {
	as := newTestSpace(t)
	base := uintptr(0x2000_0000)
	if err := as.MapAlloc(base, 0x2000, FlagRead|FlagWrite, true, mem.PageSize4K); err != 0 {
		t.Fatalf("first MapAlloc: errno %d", err)
	}
	tests := []struct {
		name string
		va   uintptr
		size uintptr
	}{
		{"identical range", base, 0x2000},
		{"overlaps start", base - 0x1000, 0x2000},
		{"overlaps end", base + 0x1000, 0x2000},
		{"wholly contained", base, 0x1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := as.MapAlloc(tt.va, tt.size, FlagRead, true, mem.PageSize4K); err == 0 {
				t.Fatalf("MapAlloc over existing area succeeded, want EEXIST")
			}
		})
	}
}

func TestMapAllocUnmapRoundTrip(t *testing.T) {
	as := newTestSpace(t)
	va := uintptr(0x3000_0000)
	size := uintptr(3 * 0x1000)
	if err := as.MapAlloc(va, size, FlagRead|FlagWrite, true, mem.PageSize4K); err != 0 {
		t.Fatalf("MapAlloc: errno %d", err)
	}
	msg := []byte("round-trip")
	if err := as.Write(va, msg); err != 0 {
		t.Fatalf("Write: errno %d", err)
	}
	got := make([]byte, len(msg))
	if err := as.Read(va, got); err != 0 {
		t.Fatalf("Read: errno %d", err)
	}
	if string(got) != string(msg) {
		t.Fatalf("Read got %q, want %q", got, msg)
	}
	if err := as.Unmap(va, size); err != 0 {
		t.Fatalf("Unmap: errno %d", err)
	}
	// The range must be mappable again now that it's free.
	if err := as.MapAlloc(va, size, FlagRead, true, mem.PageSize4K); err != 0 {
		t.Fatalf("MapAlloc after Unmap: errno %d", err)
	}
}

func TestProtectIsIdempotent(t *testing.T) {
	as := newTestSpace(t)
	va := uintptr(0x4000_0000)
	size := uintptr(0x1000)
	if err := as.MapAlloc(va, size, FlagRead|FlagWrite, true, mem.PageSize4K); err != 0 {
		t.Fatalf("MapAlloc: errno %d", err)
	}
	for i := 0; i < 3; i++ {
		if err := as.Protect(va, size, FlagRead, mem.PageSize4K); err != 0 {
			t.Fatalf("Protect call %d: errno %d", i, err)
		}
	}
	if err := as.WriteBytes(va, []byte{1}); err == 0 {
		t.Fatalf("Write succeeded after Protect(FlagRead), want EFAULT-class failure")
	}
}

func TestFindFreeAreaSkipsExisting(t *testing.T) {
	as := newTestSpace(t)
	base := uintptr(0x5000_0000)
	if err := as.MapAlloc(base, 0x2000, FlagRead, true, mem.PageSize4K); err != 0 {
		t.Fatalf("MapAlloc: errno %d", err)
	}
	limit, ok := MkRange(base, base+0x10000)
	if !ok {
		t.Fatalf("MkRange failed")
	}
	got, ok := as.FindFreeArea(base, 0x1000, limit, mem.PageSize4K)
	if !ok {
		t.Fatalf("FindFreeArea reported no space")
	}
	if got < base+0x2000 {
		t.Fatalf("FindFreeArea returned %#x, which overlaps the mapped area ending at %#x", got, base+0x2000)
	}
}

func TestCloneOrErrCopiesBytesNotAliasing(t *testing.T) {
	as := newTestSpace(t)
	va := uintptr(0x6000_0000)
	if err := as.MapAlloc(va, mem.PageSize4K, FlagRead|FlagWrite, true, mem.PageSize4K); err != 0 {
		t.Fatalf("MapAlloc: errno %d", err)
	}
	if err := as.Write(va, []byte("parent")); err != 0 {
		t.Fatalf("Write: errno %d", err)
	}
	clone, err := as.CloneOrErr()
	if err != 0 {
		t.Fatalf("CloneOrErr: errno %d", err)
	}
	if err := as.Write(va, []byte("mutate")); err != 0 {
		t.Fatalf("Write to parent: errno %d", err)
	}
	got := make([]byte, 6)
	if err := clone.Read(va, got); err != 0 {
		t.Fatalf("Read from clone: errno %d", err)
	}
	if string(got) != "parent" {
		t.Fatalf("clone observed parent's post-clone write: got %q, want %q (clone-on-fork must copy, not alias)", got, "parent")
	}
}
