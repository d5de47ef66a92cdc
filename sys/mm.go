package sys

import (
	"golang.org/x/sys/unix"

	"biscuit/defs"
	"biscuit/filelike"
	"biscuit/vm"
)

const pageSz = uintptr(4096)

func protToFlags(prot int) vm.Flags {
	var f vm.Flags
	if prot&unix.PROT_READ != 0 {
		f |= vm.FlagRead
	}
	if prot&unix.PROT_WRITE != 0 {
		f |= vm.FlagWrite
	}
	if prot&unix.PROT_EXEC != 0 {
		f |= vm.FlagExec
	}
	return f
}

func roundupPage(v uintptr) uintptr {
	return (v + pageSz - 1) &^ (pageSz - 1)
}

// sysBrk grows or queries the process heap break (spec §4.4, §4.6).
// newbrk == 0 is a query; otherwise the heap is extended or shrunk to
// newbrk, which must not move below HeapBottom.
func sysBrk(c *Ctx_t, newbrk uintptr) (int, defs.Err_t) {
	p := c.Proc
	if newbrk == 0 {
		return int(p.HeapTop), 0
	}
	if newbrk < p.HeapBottom {
		return int(p.HeapTop), -defs.EINVAL
	}
	oldTop := p.HeapTop
	if newbrk > oldTop {
		size := roundupPage(newbrk) - roundupPage(oldTop)
		if size > 0 {
			if err := c.aspace().MapAlloc(roundupPage(oldTop), size, vm.FlagRead|vm.FlagWrite, false, pageSz); err != 0 {
				return int(oldTop), err
			}
		}
	} else if newbrk < oldTop {
		size := roundupPage(oldTop) - roundupPage(newbrk)
		if size > 0 {
			c.aspace().Unmap(roundupPage(newbrk), size)
		}
	}
	p.HeapTop = newbrk
	return int(newbrk), 0
}

// mmapLimit is the portion of the address space mmap may place
// anonymous/file mappings into when the caller doesn't pin an addr.
var mmapLimit, _ = vm.MkRange(0x0000_5000_0000_0000, 0x0000_6000_0000_0000)

func sysMmap(c *Ctx_t, addr, length uintptr, prot, flags, fdn, off int) (int, defs.Err_t) {
	size := roundupPage(length)
	if size == 0 {
		return 0, -defs.EINVAL
	}
	vaFlags := protToFlags(prot)

	va := addr
	if flags&unix.MAP_FIXED != 0 {
		c.aspace().Unmap(addr, size)
	} else {
		found, ok := c.aspace().FindFreeArea(addr, size, mmapLimit, pageSz)
		if !ok {
			return 0, -defs.ENOMEM
		}
		va = found
	}

	if err := c.aspace().MapAlloc(va, size, vaFlags, true, pageSz); err != 0 {
		return 0, err
	}

	if flags&unix.MAP_ANON == 0 {
		f, err := c.fds().Get(fdn)
		if err != 0 {
			return 0, err
		}
		file, ok := f.Fops.(*filelike.File_t)
		if !ok {
			return 0, -defs.EINVAL
		}
		if off >= file.Size() {
			return 0, -defs.EINVAL
		}
		want := file.Size() - off
		if want > int(size) {
			want = int(size)
		}
		buf := make([]byte, want)
		if _, err := file.ReadAt(buf, off); err != 0 {
			return 0, err
		}
		if err := c.aspace().Write(va, buf); err != 0 {
			return 0, err
		}
	}

	return int(va), 0
}

func sysMunmap(c *Ctx_t, addr, length uintptr) (int, defs.Err_t) {
	return 0, c.aspace().Unmap(addr, roundupPage(length))
}

func sysMprotect(c *Ctx_t, addr, length uintptr, prot int) (int, defs.Err_t) {
	return 0, c.aspace().Protect(addr, roundupPage(length), protToFlags(prot), pageSz)
}
