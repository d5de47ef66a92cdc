package defs

import "golang.org/x/sys/unix"

// Err_t is a POSIX errno value. Throughout the kernel a negative Err_t
// is returned from a fallible operation; zero means success. Syscall
// handlers encode Err_t as the negated return value of the trap.
type Err_t int

// String renders the errno using its canonical POSIX name where known.
func (e Err_t) String() string {
	n := e
	if n < 0 {
		n = -n
	}
	if s, ok := errnames[n]; ok {
		return s
	}
	return "errno " + itoa(int(n))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// The core errno kinds used throughout the address space, process,
// signal, and filesystem layers (see spec §7). Values are taken from
// golang.org/x/sys/unix so that a trap's negated return value matches
// the target platform's errno numbering exactly.
const (
	EINVAL   = Err_t(unix.EINVAL)
	EFAULT   = Err_t(unix.EFAULT)
	ENOMEM   = Err_t(unix.ENOMEM)
	EBADF    = Err_t(unix.EBADF)
	EMFILE   = Err_t(unix.EMFILE)
	ENOENT   = Err_t(unix.ENOENT)
	EISDIR   = Err_t(unix.EISDIR)
	ENOTDIR  = Err_t(unix.ENOTDIR)
	EAGAIN   = Err_t(unix.EAGAIN)
	EINTR    = Err_t(unix.EINTR)
	ESRCH    = Err_t(unix.ESRCH)
	EPERM    = Err_t(unix.EPERM)
	EPIPE    = Err_t(unix.EPIPE)
	ECHILD   = Err_t(unix.ECHILD)
	ENOSYS   = Err_t(unix.ENOSYS)
	EILSEQ   = Err_t(unix.EILSEQ)
	ETIMEDOUT = Err_t(unix.ETIMEDOUT)
	EEXIST   = Err_t(unix.EEXIST)
	ENAMETOOLONG = Err_t(unix.ENAMETOOLONG)
	ENOHEAP  = Err_t(unix.ENOMEM) // kernel-internal: exhausted a bounded resource pool
)

var errnames = map[Err_t]string{
	Err_t(unix.EINVAL):      "EINVAL",
	Err_t(unix.EFAULT):      "EFAULT",
	Err_t(unix.ENOMEM):      "ENOMEM",
	Err_t(unix.EBADF):       "EBADF",
	Err_t(unix.EMFILE):      "EMFILE",
	Err_t(unix.ENOENT):      "ENOENT",
	Err_t(unix.EISDIR):      "EISDIR",
	Err_t(unix.ENOTDIR):     "ENOTDIR",
	Err_t(unix.EAGAIN):      "EAGAIN",
	Err_t(unix.EINTR):       "EINTR",
	Err_t(unix.ESRCH):       "ESRCH",
	Err_t(unix.EPERM):       "EPERM",
	Err_t(unix.EPIPE):       "EPIPE",
	Err_t(unix.ECHILD):      "ECHILD",
	Err_t(unix.ENOSYS):      "ENOSYS",
	Err_t(unix.EILSEQ):      "EILSEQ",
	Err_t(unix.ETIMEDOUT):   "ETIMEDOUT",
	Err_t(unix.EEXIST):      "EEXIST",
	Err_t(unix.ENAMETOOLONG): "ENAMETOOLONG",
}

// Rc encodes a (value, err) pair the way a trap return register does:
// a non-negative value on success, or -err on failure.
func Rc(v int, err Err_t) int64 {
	if err != 0 {
		n := err
		if n > 0 {
			n = -n
		}
		return int64(n)
	}
	return int64(v)
}
