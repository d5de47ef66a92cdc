// Package elfld loads an ELF executable into a fresh address space and
// builds its initial SysV stack image (spec §4.4). Grounded on
// original_source's core/src/mm.rs (map_elf/load_user_app): PT_LOAD
// segments become eagerly-populated Alloc areas, PT_INTERP triggers a
// path-aliased recursive load, and the stack holds argv/envp/auxv
// below the initial SP. This core uses the standard library's
// debug/elf instead of xmas_elf/kernel_elf_parser, since no pack
// example ships a third-party ELF-parsing dependency to ground one on.
package elfld

import (
	"debug/elf"

	"biscuit/defs"
	"biscuit/vm"
)

const pageSize = uintptr(4096)

// auxv entry tags, per the ELF SysV ABI (spec §6 "ELF stack auxv").
const (
	AT_NULL   = 0
	AT_PHDR   = 3
	AT_PHENT  = 4
	AT_PHNUM  = 5
	AT_PAGESZ = 6
	AT_BASE   = 7
	AT_ENTRY  = 9
	AT_RANDOM = 25
)

// knownInterpreters aliases well-known dynamic-linker pathnames to a
// single bundled loader path, the way original_source's load_user_app
// does for musl/glibc ld.so names.
var knownInterpreters = map[string]string{
	"/lib64/ld-linux-x86-64.so.2": "/lib/ld-musl-x86_64.so.1",
	"/lib/ld-linux-aarch64.so.1":  "/lib/ld-musl-x86_64.so.1",
}

// Loaded describes the result of loading a program: where execution
// should resume, the initial stack pointer, and where the heap begins
// (spec §4.4 step 5). The heap starts empty: with config.UserHeapSize
// at 0, nothing is mapped at HeapBase until brk(2) grows it.
type Loaded struct {
	Entry    uintptr
	UserSP   uintptr
	HeapBase uintptr
}

// readFile is the narrow collaborator contract for fetching a file's
// bytes by path; the real implementation reads through the vfs/fd
// layers, outside elfld's concern.
type readFile func(path string) ([]byte, defs.Err_t)

// Load reads argv[0], maps it (recursing into the PT_INTERP
// interpreter if present; an interpreter that itself has a PT_INTERP
// is followed in turn, with no depth limit), sets up the stack and
// heap, and returns the entry point and initial SP (spec §4.4).
func Load(as *vm.AddrSpace, read readFile, argv, envp []string) (Loaded, defs.Err_t) {
	if len(argv) == 0 {
		return Loaded{}, -defs.EINVAL
	}
	data, err := read(argv[0])
	if err != 0 {
		return Loaded{}, err
	}
	ef, perr := elf.NewFile(byteReader(data))
	if perr != nil {
		return Loaded{}, -defs.EINVAL
	}

	if interp := findInterp(ef, data); interp != "" {
		if alias, ok := knownInterpreters[interp]; ok {
			interp = alias
		}
		newArgv := append([]string{interp}, argv...)
		return Load(as, read, newArgv, envp)
	}

	entry, auxv, merr := mapElf(as, ef, data)
	if merr != 0 {
		return Loaded{}, merr
	}

	sp, serr := buildStack(as, argv, envp, auxv)
	if serr != 0 {
		return Loaded{}, serr
	}

	return Loaded{Entry: entry, UserSP: sp, HeapBase: userHeapBase}, 0
}

func findInterp(ef *elf.File, data []byte) string {
	for _, p := range ef.Progs {
		if p.Type != elf.PT_INTERP {
			continue
		}
		raw := data[p.Off : p.Off+p.Filesz]
		for i, b := range raw {
			if b == 0 {
				return string(raw[:i])
			}
		}
		return string(raw)
	}
	return ""
}

func mapElf(as *vm.AddrSpace, ef *elf.File, data []byte) (uintptr, []auxvEntry, defs.Err_t) {
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		vaddr := uintptr(p.Vaddr)
		pad := vaddr % pageSize
		spanStart := vaddr - pad
		spanSize := roundup(uintptr(p.Memsz)+pad, pageSize)

		flags := vm.FlagRead
		if p.Flags&elf.PF_W != 0 {
			flags |= vm.FlagWrite
		}
		if p.Flags&elf.PF_X != 0 {
			flags |= vm.FlagExec
		}

		if err := as.MapAlloc(spanStart, spanSize, flags, true, pageSize); err != 0 {
			return 0, nil, err
		}
		if p.Filesz > 0 {
			seg := data[p.Off : p.Off+p.Filesz]
			if err := as.Write(vaddr, seg); err != 0 {
				return 0, nil, err
			}
		}
	}

	auxv := []auxvEntry{
		{AT_PHENT, phentsize(ef)},
		{AT_PAGESZ, pageSize},
		{AT_ENTRY, uintptr(ef.Entry)},
		{AT_PHNUM, uintptr(len(ef.Progs))},
	}
	if phdrVa, ok := phdrVaddr(ef); ok {
		auxv = append(auxv, auxvEntry{AT_PHDR, phdrVa})
	}
	auxv = append(auxv, auxvEntry{AT_BASE, 0})
	return uintptr(ef.Entry), auxv, 0
}

type auxvEntry struct {
	Tag uintptr
	Val uintptr
}

func phentsize(ef *elf.File) uintptr {
	if ef.Class == elf.ELFCLASS64 {
		return 56
	}
	return 32
}

// phdrVaddr returns the virtual address of the program header table
// as given by a PT_PHDR program header. A binary without PT_PHDR
// reports none, and its auxv gets no AT_PHDR entry.
func phdrVaddr(ef *elf.File) (uintptr, bool) {
	for _, p := range ef.Progs {
		if p.Type == elf.PT_PHDR {
			return uintptr(p.Vaddr), true
		}
	}
	return 0, false
}

func roundup(v, b uintptr) uintptr {
	return (v + b - 1) &^ (b - 1)
}

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off) > len(b) {
		return 0, errOutOfRange
	}
	n := copy(p, b[off:])
	return n, nil
}

var errOutOfRange = errOffsetError("elfld: offset out of range")

type errOffsetError string

func (e errOffsetError) Error() string { return string(e) }

func byteReader(data []byte) byteReaderAt { return byteReaderAt(data) }
