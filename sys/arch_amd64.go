package sys

import (
	"golang.org/x/arch/x86/x86asm"

	"biscuit/defs"
	"biscuit/tinfo"
)

// arch_prctl codes, per Linux's asm/prctl.h. The segment-register
// identifiers these operate on (FS/GS) are sourced from x86asm's
// register-name table rather than bare literals, the one arch-specific
// syscall in the surface.
const (
	archSetFs = 0x1002
	archGetFs = 0x1003
	archSetGs = 0x1004
	archGetGs = 0x1005
)

var (
	fsReg = x86asm.FS
	gsReg = x86asm.GS
)

// ArchPrctl implements the x86-64 arch_prctl syscall: get/set the
// thread-local FS/GS base used for TLS. The actual register write is
// an external collaborator (register save/restore is out of scope per
// §1); this records the requested base in the thread's note so a
// real context-switch path can apply it.
func ArchPrctl(t *tinfo.Tnote_t, code int, addr uintptr) (uintptr, defs.Err_t) {
	switch code {
	case archSetFs:
		t.FSBase = addr
		return 0, 0
	case archGetFs:
		return t.FSBase, 0
	case archSetGs:
		t.GSBase = addr
		return 0, 0
	case archGetGs:
		return t.GSBase, 0
	default:
		return 0, -defs.EINVAL
	}
}

// regNames exposes which x86asm registers back FS/GS, for callers that
// want to log or disassemble a user trap frame referencing them.
func regNames() (fs, gs string) {
	return fsReg.String(), gsReg.String()
}
