package vm

import (
	"biscuit/defs"
	"biscuit/fdops"
	"biscuit/mem"
	"biscuit/ustr"
	"biscuit/util"
)

// checkAccess implements the user-pointer validator (spec §4.5): the
// covering page range must lie within areas granting want, after
// which any missing Alloc pages are faulted in via PopulateArea. It
// deliberately does not hold as.mu across the populate call, since
// populate may itself need to acquire it.
func (as *AddrSpace) checkAccess(va uintptr, n int, want Flags) defs.Err_t {
	if n == 0 {
		return 0
	}
	r, ok := MkRange(va, va+uintptr(n))
	if !ok {
		return -defs.EFAULT
	}
	as.mu.Lock()
	accessible := as.rangeAccessibleLocked(r, want)
	as.mu.Unlock()
	if !accessible {
		return -defs.EFAULT
	}
	pstart := util.Rounddown(va, mem.PageSize4K)
	pend := util.Roundup(va+uintptr(n), mem.PageSize4K)
	return as.PopulateArea(pstart, pend-pstart, mem.PageSize4K)
}

func (as *AddrSpace) rangeAccessibleLocked(r Range, want Flags) bool {
	cur := r.Start
	for cur < r.End {
		covered := false
		for _, a := range as.areas {
			ar := a.Range()
			if ar.Contains(cur) && a.Flags.Has(want) {
				covered = true
				cur = minU(r.End, ar.End)
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

// ReadBytes validates [va, va+len(dst)) for FlagRead and copies it
// into dst.
func (as *AddrSpace) ReadBytes(va uintptr, dst []byte) defs.Err_t {
	if err := as.checkAccess(va, len(dst), FlagRead); err != 0 {
		return err
	}
	return as.Read(va, dst)
}

// WriteBytes validates [va, va+len(src)) for FlagWrite and copies src
// into it.
func (as *AddrSpace) WriteBytes(va uintptr, src []byte) defs.Err_t {
	if err := as.checkAccess(va, len(src), FlagWrite); err != 0 {
		return err
	}
	return as.Write(va, src)
}

// ReadN reads an n-byte (n <= 8) little-endian integer from va.
func (as *AddrSpace) ReadN(va uintptr, n int) (int, defs.Err_t) {
	if n > 8 {
		panic("vm: ReadN with large n")
	}
	buf := make([]byte, n)
	if err := as.ReadBytes(va, buf); err != 0 {
		return 0, err
	}
	return util.Readn(buf, n, 0), 0
}

// WriteN writes val as an n-byte (n <= 8) little-endian integer to va.
func (as *AddrSpace) WriteN(va uintptr, n, val int) defs.Err_t {
	if n > 8 {
		panic("vm: WriteN with large n")
	}
	buf := make([]byte, n)
	util.Writen(buf, n, 0, val)
	return as.WriteBytes(va, buf)
}

// ReadCString copies a NUL-terminated byte string from va, up to
// lenmax bytes, validating one page at a time as the walk proceeds
// (spec §4.5: lazy forward walk, re-checking access at each page
// boundary).
func (as *AddrSpace) ReadCString(va uintptr, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	s := ustr.MkUstr()
	cur := va
	for {
		pageend := util.Roundup(cur+1, mem.PageSize4K)
		chunk := int(pageend - cur)
		buf := make([]byte, chunk)
		if err := as.ReadBytes(cur, buf); err != 0 {
			return nil, err
		}
		for i, c := range buf {
			if c == 0 {
				s = append(s, buf[:i]...)
				return s, 0
			}
		}
		s = append(s, buf...)
		if len(s) >= lenmax {
			return nil, -defs.ENAMETOOLONG
		}
		cur = pageend
	}
}

// Userbuf_t adapts a user-memory range to fdops.Userio_i, letting
// pipe/file code move bytes to and from user space without touching
// raw pointers. Uioread copies kernel-ward (out of user memory);
// Uiowrite copies user-ward (into user memory).
type Userbuf_t struct {
	as  *AddrSpace
	va  uintptr
	len int
	off int
}

// Mkuserbuf builds a Userbuf_t over [userva, userva+ln).
func (as *AddrSpace) Mkuserbuf(userva uintptr, ln int) *Userbuf_t {
	return &Userbuf_t{as: as, va: userva, len: ln}
}

func (u *Userbuf_t) remaining() int {
	return u.len - u.off
}

// Uioread copies out of the user buffer into dst.
func (u *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := len(dst)
	if rem := u.remaining(); n > rem {
		n = rem
	}
	if n == 0 {
		return 0, 0
	}
	if err := u.as.ReadBytes(u.va+uintptr(u.off), dst[:n]); err != 0 {
		return 0, err
	}
	u.off += n
	return n, 0
}

// Uiowrite copies src into the user buffer.
func (u *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := len(src)
	if rem := u.remaining(); n > rem {
		n = rem
	}
	if n == 0 {
		return 0, 0
	}
	if err := u.as.WriteBytes(u.va+uintptr(u.off), src[:n]); err != 0 {
		return 0, err
	}
	u.off += n
	return n, 0
}

// Remain reports how many bytes are left unconsumed.
func (u *Userbuf_t) Remain() int { return u.remaining() }

// Totalsz reports the buffer's original size.
func (u *Userbuf_t) Totalsz() int { return u.len }

var _ fdops.Userio_i = (*Userbuf_t)(nil)
