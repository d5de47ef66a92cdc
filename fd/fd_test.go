package fd

import (
	"bytes"
	"testing"

	"biscuit/filelike"
)

func newStdoutFd() *Fd_t {
	return &Fd_t{Fops: filelike.NewStdio(nil, &bytes.Buffer{}), Perms: FD_WRITE}
}

func TestTableAddUsesLowestFreeSlot(t *testing.T) {
	tbl := NewTable(4)
	a, err := tbl.Add(newStdoutFd())
	if err != 0 || a != 0 {
		t.Fatalf("first Add: slot %d errno %d, want slot 0", a, err)
	}
	b, err := tbl.Add(newStdoutFd())
	if err != 0 || b != 1 {
		t.Fatalf("second Add: slot %d errno %d, want slot 1", b, err)
	}
	if _, err := tbl.Remove(a); err != 0 {
		t.Fatalf("Remove(%d): errno %d", a, err)
	}
	c, err := tbl.Add(newStdoutFd())
	if err != 0 || c != a {
		t.Fatalf("Add after Remove(%d): got slot %d, want reused slot %d", a, c, a)
	}
}

func TestTableAddReturnsEMFILEWhenFull(t *testing.T) {
	tbl := NewTable(2)
	if _, err := tbl.Add(newStdoutFd()); err != 0 {
		t.Fatalf("Add 1: errno %d", err)
	}
	if _, err := tbl.Add(newStdoutFd()); err != 0 {
		t.Fatalf("Add 2: errno %d", err)
	}
	if _, err := tbl.Add(newStdoutFd()); err == 0 {
		t.Fatalf("Add into a full table succeeded, want EMFILE")
	}
}

func TestTableDupCloseRoundTrip(t *testing.T) {
	tbl := NewTable(8)
	slot, err := tbl.Add(newStdoutFd())
	if err != 0 {
		t.Fatalf("Add: errno %d", err)
	}
	orig, err := tbl.Get(slot)
	if err != 0 {
		t.Fatalf("Get: errno %d", err)
	}
	dup, derr := Copyfd(orig)
	if derr != 0 {
		t.Fatalf("Copyfd: errno %d", derr)
	}
	dupSlot, err := tbl.Add(dup)
	if err != 0 {
		t.Fatalf("Add dup: errno %d", err)
	}
	if dupSlot == slot {
		t.Fatalf("dup landed in the same slot as the original")
	}
	if _, err := tbl.Remove(slot); err != 0 {
		t.Fatalf("Remove(%d): errno %d", slot, err)
	}
	// The duplicate must still be usable after the original's slot closes.
	if _, err := tbl.Get(dupSlot); err != 0 {
		t.Fatalf("Get(dupSlot) after closing original: errno %d", err)
	}
	if _, err := tbl.Get(slot); err == 0 {
		t.Fatalf("Get(slot) succeeded after Remove, want EBADF")
	}
}

func TestTableGetOutOfRange(t *testing.T) {
	tbl := NewTable(4)
	for _, n := range []int{-1, 4, 100} {
		if _, err := tbl.Get(n); err == 0 {
			t.Fatalf("Get(%d) on a 4-slot table succeeded, want EBADF", n)
		}
	}
}

func TestTableCopyIsIndependent(t *testing.T) {
	tbl := NewTable(4)
	slot, err := tbl.Add(newStdoutFd())
	if err != 0 {
		t.Fatalf("Add: errno %d", err)
	}
	cp, err := tbl.Copy()
	if err != 0 {
		t.Fatalf("Copy: errno %d", err)
	}
	if _, err := tbl.Remove(slot); err != 0 {
		t.Fatalf("Remove on original: errno %d", err)
	}
	if _, err := cp.Get(slot); err != 0 {
		t.Fatalf("copied table lost its fd when the original's was removed")
	}
}
