package sys

import (
	"biscuit/defs"
	"biscuit/fd"
	"biscuit/filelike"
)

func sysRead(c *Ctx_t, fdn int, bufva uintptr, n int) (int, defs.Err_t) {
	f, err := c.fds().Get(fdn)
	if err != 0 {
		return 0, err
	}
	dst := c.aspace().Mkuserbuf(bufva, n)
	return f.Fops.Read(dst)
}

func sysWrite(c *Ctx_t, fdn int, bufva uintptr, n int) (int, defs.Err_t) {
	f, err := c.fds().Get(fdn)
	if err != 0 {
		return 0, err
	}
	src := c.aspace().Mkuserbuf(bufva, n)
	return f.Fops.Write(src)
}

// iovec mirrors struct iovec's {base, len} layout for readv/writev.
type iovec struct {
	base uintptr
	len  int
}

func (c *Ctx_t) readIovecs(va uintptr, count int) ([]iovec, defs.Err_t) {
	out := make([]iovec, 0, count)
	for i := 0; i < count; i++ {
		entry := va + uintptr(i*16)
		base, err := c.aspace().ReadN(entry, 8)
		if err != 0 {
			return nil, err
		}
		ln, err := c.aspace().ReadN(entry+8, 8)
		if err != 0 {
			return nil, err
		}
		out = append(out, iovec{base: uintptr(base), len: ln})
	}
	return out, 0
}

func sysReadv(c *Ctx_t, fdn int, iovva uintptr, count int) (int, defs.Err_t) {
	f, err := c.fds().Get(fdn)
	if err != 0 {
		return 0, err
	}
	iovs, err := c.readIovecs(iovva, count)
	if err != 0 {
		return 0, err
	}
	total := 0
	for _, io := range iovs {
		dst := c.aspace().Mkuserbuf(io.base, io.len)
		n, err := f.Fops.Read(dst)
		total += n
		if err != 0 {
			return total, err
		}
		if n < io.len {
			break
		}
	}
	return total, 0
}

func sysWritev(c *Ctx_t, fdn int, iovva uintptr, count int) (int, defs.Err_t) {
	f, err := c.fds().Get(fdn)
	if err != 0 {
		return 0, err
	}
	iovs, err := c.readIovecs(iovva, count)
	if err != 0 {
		return 0, err
	}
	total := 0
	for _, io := range iovs {
		src := c.aspace().Mkuserbuf(io.base, io.len)
		n, err := f.Fops.Write(src)
		total += n
		if err != 0 {
			return total, err
		}
	}
	return total, 0
}

func sysPipe2(c *Ctx_t, fdsva uintptr, flags int) (int, defs.Err_t) {
	r, w, err := filelike.NewPipe(c.Alloc)
	if err != 0 {
		return 0, err
	}
	rfd := &fd.Fd_t{Fops: r, Perms: fd.FD_READ}
	wfd := &fd.Fd_t{Fops: w, Perms: fd.FD_WRITE}
	rn, err := c.fds().Add(rfd)
	if err != 0 {
		return 0, err
	}
	wn, err := c.fds().Add(wfd)
	if err != 0 {
		c.fds().Remove(rn)
		return 0, err
	}
	if err := c.aspace().WriteN(fdsva, 4, rn); err != 0 {
		return 0, err
	}
	if err := c.aspace().WriteN(fdsva+4, 4, wn); err != 0 {
		return 0, err
	}
	return 0, 0
}
