package elfld

import (
	"encoding/binary"
	"testing"

	"biscuit/defs"
	"biscuit/mem"
	"biscuit/vm"
)

// buildMinimalELF64 assembles the smallest statically-linked ELF64
// executable debug/elf can parse: one ELF header, one PT_LOAD program
// header covering both headers and the given code bytes, mapped at
// vaddr. No section headers, matching a stripped static binary.
func buildMinimalELF64(vaddr uint64, code []byte) (data []byte, entry uint64) {
	const ehsize = 64
	const phsize = 56
	fileLen := uint64(ehsize + phsize + len(code))
	entry = vaddr + ehsize + phsize

	buf := make([]byte, fileLen)

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(buf[16:], 2)      // e_type = ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:], 0x3e)   // e_machine = EM_X86_64
	binary.LittleEndian.PutUint32(buf[20:], 1)      // e_version
	binary.LittleEndian.PutUint64(buf[24:], entry)  // e_entry
	binary.LittleEndian.PutUint64(buf[32:], ehsize) // e_phoff
	binary.LittleEndian.PutUint64(buf[40:], 0)      // e_shoff
	binary.LittleEndian.PutUint16(buf[52:], ehsize) // e_ehsize
	binary.LittleEndian.PutUint16(buf[54:], phsize) // e_phentsize
	binary.LittleEndian.PutUint16(buf[56:], 1)      // e_phnum

	ph := buf[ehsize:]
	binary.LittleEndian.PutUint32(ph[0:], 1)        // p_type = PT_LOAD
	binary.LittleEndian.PutUint32(ph[4:], 5)        // p_flags = R|X
	binary.LittleEndian.PutUint64(ph[8:], 0)        // p_offset
	binary.LittleEndian.PutUint64(ph[16:], vaddr)   // p_vaddr
	binary.LittleEndian.PutUint64(ph[24:], vaddr)   // p_paddr
	binary.LittleEndian.PutUint64(ph[32:], fileLen) // p_filesz
	binary.LittleEndian.PutUint64(ph[40:], fileLen) // p_memsz
	binary.LittleEndian.PutUint64(ph[48:], pageSize) // p_align

	copy(buf[ehsize+phsize:], code)
	return buf, entry
}

func newTestSpace(t *testing.T) *vm.AddrSpace {
	t.Helper()
	as, err := vm.NewEmpty(0, uintptr(1)<<47, mem.Physmem)
	if err != 0 {
		t.Fatalf("vm.NewEmpty: errno %d", err)
	}
	return as
}

func TestLoadMapsSegmentAndReportsEntry(t *testing.T) {
	const vaddr = uint64(0x400000)
	code := []byte{0x90, 0x90, 0x90, 0x90} // nop sled; never executed here
	data, wantEntry := buildMinimalELF64(vaddr, code)

	read := func(p string) ([]byte, defs.Err_t) {
		if p != "/bin/test" {
			t.Fatalf("unexpected path requested: %q", p)
		}
		return data, 0
	}

	as := newTestSpace(t)
	loaded, err := Load(as, read, []string{"/bin/test", "-v"}, []string{"HOME=/root"})
	if err != 0 {
		t.Fatalf("Load: errno %d", err)
	}
	if uint64(loaded.Entry) != wantEntry {
		t.Fatalf("Entry = %#x, want %#x", loaded.Entry, wantEntry)
	}

	got := make([]byte, len(data))
	if err := as.Read(uintptr(vaddr), got); err != 0 {
		t.Fatalf("reading back mapped segment: errno %d", err)
	}
	if string(got) != string(data) {
		t.Fatalf("mapped segment bytes do not match the file")
	}
}

func TestLoadRejectsEmptyArgv(t *testing.T) {
	as := newTestSpace(t)
	read := func(p string) ([]byte, defs.Err_t) { return nil, -defs.ENOENT }
	if _, err := Load(as, read, nil, nil); err != -defs.EINVAL {
		t.Fatalf("Load(argv=nil) returned errno %d, want EINVAL", err)
	}
}

// TestBuildStackAuxvTerminates is a regression test for an earlier
// stack-layout bug in which the auxv array's AT_NULL,AT_NULL
// terminator pair was pushed below the real auxv entries instead of
// above them: walking up from argc, the terminator must be reached
// after every real auxv pair.
func TestBuildStackAuxvTerminates(t *testing.T) {
	const vaddr = uint64(0x400000)
	data, _ := buildMinimalELF64(vaddr, []byte{0x90})
	read := func(p string) ([]byte, defs.Err_t) { return data, 0 }

	as := newTestSpace(t)
	argv := []string{"/bin/test"}
	envp := []string{"A=1"}
	loaded, err := Load(as, read, argv, envp)
	if err != 0 {
		t.Fatalf("Load: errno %d", err)
	}

	sp := loaded.UserSP
	readWord := func(va uintptr) uintptr {
		v, rerr := as.ReadN(va, 8)
		if rerr != 0 {
			t.Fatalf("ReadN(%#x): errno %d", va, rerr)
		}
		return uintptr(v)
	}

	argc := readWord(sp)
	if argc != uintptr(len(argv)) {
		t.Fatalf("argc = %d, want %d", argc, len(argv))
	}

	// Walk past argv's pointers and its NULL terminator.
	cursor := sp + 8
	argv0 := readWord(cursor)
	cursor += 8
	if nullWord := readWord(cursor); nullWord != 0 {
		t.Fatalf("argv array not NULL-terminated at %#x: got %#x", cursor, nullWord)
	}
	cursor += 8

	// Walk past envp's pointer and its NULL terminator.
	envp0 := readWord(cursor)
	cursor += 8
	if nullWord := readWord(cursor); nullWord != 0 {
		t.Fatalf("envp array not NULL-terminated at %#x: got %#x", cursor, nullWord)
	}
	cursor += 8

	// Walk the auxv tag/val pairs until AT_NULL, verifying it is
	// actually reached within a bounded number of entries rather than
	// running past the mapped stack area.
	foundNull := false
	for i := 0; i < 64; i++ {
		tag := readWord(cursor)
		val := readWord(cursor + 8)
		cursor += 16
		if tag == AT_NULL && val == AT_NULL {
			foundNull = true
			break
		}
	}
	if !foundNull {
		t.Fatalf("auxv array never reached its AT_NULL,AT_NULL terminator")
	}

	argvStr := readCString(t, as, argv0)
	if argvStr != argv[0] {
		t.Fatalf("argv[0] on stack = %q, want %q", argvStr, argv[0])
	}
	envpStr := readCString(t, as, envp0)
	if envpStr != envp[0] {
		t.Fatalf("envp[0] on stack = %q, want %q", envpStr, envp[0])
	}
}

func readCString(t *testing.T, as *vm.AddrSpace, va uintptr) string {
	t.Helper()
	s, err := as.ReadCString(va, 256)
	if err != 0 {
		t.Fatalf("ReadCString(%#x): errno %d", va, err)
	}
	return s.String()
}
