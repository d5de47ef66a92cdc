// Package config collects the boot-time tunables spec.md otherwise
// leaves as constants scattered through its prose (spec §4.11): stack/
// heap geometry, FD table capacity, pipe buffer size, the realtime
// signal range, and the page sizes this core understands. Each value
// still lives at its owning package's scope — vm code reads
// mem.PageSize4K directly, signal code reads defs.MINSIGSTKSZ directly
// — this package exists so an operator auditing limits has one file to
// read instead of grepping every package, the way the teacher's mem
// package hard-codes PGSIZE/PGSHIFT at package scope rather than
// behind a flags/env layer. There is no process environment to parse
// at this layer, so these stay plain exported constants rather than
// growing a flag.Flag-backed loader.
//
// This package deliberately does not import mem: mem's global
// Physmem allocator is sized from limits.Syslimit, and limits imports
// config for FDTableCapacity, so a config->mem edge would close a
// cycle. The page-size constants below are copied literals, not
// re-exports, for that reason — they are ABI-fixed values (4K/2M/1G)
// that cannot drift independently of mem's.
package config

import (
	"biscuit/defs"
)

const (
	// UserStackBase and UserStackSize bound the mapped stack area
	// buildStack installs for a freshly loaded program (spec §4.4).
	UserStackBase = uintptr(0x0000_7f00_0000_0000)
	UserStackSize = uintptr(8 * 1024 * 1024)

	// UserHeapBase is where brk(2) starts growing; UserHeapSize is the
	// initial (empty) mapping size.
	UserHeapBase = uintptr(0x0000_6000_0000_0000)
	UserHeapSize = uintptr(0)

	// FDTableCapacity is the flat slot-array size of every process's FD
	// table (spec §3).
	FDTableCapacity = 1024

	// PipeBufSize is the ring buffer capacity backing one pipe (spec
	// §3).
	PipeBufSize = 256

	// MaxSignal is the highest valid signal number, standard plus
	// realtime (spec §3).
	MaxSignal = defs.NSIG

	// MinSigStkSz is the smallest alternate signal stack sigaltstack(2)
	// accepts (spec §4.8, Open Question resolved in DESIGN.md).
	MinSigStkSz = defs.MINSIGSTKSZ

	// Page sizes this core's address space code understands (spec §4.1).
	// Mirrors mem.PageSize4K/2M/1G; see the package doc comment for why
	// this is a copy rather than a re-export.
	PageSize4K = uintptr(1) << 12
	PageSize2M = uintptr(1) << 21
	PageSize1G = uintptr(1) << 30
)
