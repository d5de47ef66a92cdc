package elfld

import (
	"biscuit/config"
	"biscuit/defs"
	"biscuit/vm"
)

// Loader tunables, sourced from package config (spec §4.11) rather
// than hard-coded here a second time.
const (
	userStackBase = config.UserStackBase
	userStackSize = config.UserStackSize
	userHeapBase  = config.UserHeapBase
	userHeapSize  = config.UserHeapSize
)

// buildStack maps the user stack area and writes the initial SysV
// stack image: argc, argv pointers, NULL, envp pointers, NULL, auxv
// pairs, NULL pair, then the backing strings (spec §4.4 "ELF stack
// auxv"). Returns the stack pointer execution should start with.
func buildStack(as *vm.AddrSpace, argv, envp []string, auxv []auxvEntry) (uintptr, defs.Err_t) {
	stackTop := userStackBase + userStackSize
	if err := as.MapAlloc(userStackBase, userStackSize, vm.FlagRead|vm.FlagWrite, true, pageSize); err != 0 {
		return 0, err
	}

	// Heap starts empty; brk(2) grows it later (spec §4.4/§4.6).
	if userHeapSize > 0 {
		if err := as.MapAlloc(userHeapBase, userHeapSize, vm.FlagRead|vm.FlagWrite, true, pageSize); err != 0 {
			return 0, err
		}
	}

	cursor := stackTop

	writeString := func(s string) uintptr {
		b := append([]byte(s), 0)
		cursor -= uintptr(len(b))
		if err := as.Write(cursor, b); err != 0 {
			return 0
		}
		return cursor
	}

	argvPtrs := make([]uintptr, len(argv))
	for i, s := range argv {
		argvPtrs[i] = writeString(s)
	}
	envpPtrs := make([]uintptr, len(envp))
	for i, s := range envp {
		envpPtrs[i] = writeString(s)
	}

	var randbuf [16]byte
	cursor -= 16
	randva := cursor
	if err := as.Write(randva, randbuf[:]); err != 0 {
		return 0, err
	}
	auxv = append(auxv, auxvEntry{AT_RANDOM, randva})
	// The AT_NULL,AT_NULL pair terminates the auxv array and must sit
	// just above it, so it is appended here: the push loop below walks
	// auxv back-to-front, so this trailing entry is pushed first and
	// ends up at the highest address of the group.
	auxv = append(auxv, auxvEntry{AT_NULL, AT_NULL})

	// Align to 16 bytes before laying down the pointer arrays, per the
	// SysV AMD64 ABI's initial-stack requirement.
	cursor &^= 0xf

	words := 1 + len(argvPtrs) + 1 + len(envpPtrs) + 1 + 2*len(auxv)
	if words%2 != 0 {
		cursor -= 8
	}

	push := func(v uintptr) {
		cursor -= 8
		if err := as.WriteN(cursor, 8, int(v)); err != 0 {
			return
		}
	}

	for i := len(auxv) - 1; i >= 0; i-- {
		push(auxv[i].Val)
		push(auxv[i].Tag)
	}

	push(0)
	for i := len(envpPtrs) - 1; i >= 0; i-- {
		push(envpPtrs[i])
	}

	push(0)
	for i := len(argvPtrs) - 1; i >= 0; i-- {
		push(argvPtrs[i])
	}

	push(uintptr(len(argv)))

	return cursor, 0
}
