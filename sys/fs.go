package sys

import (
	"golang.org/x/sys/unix"

	"biscuit/defs"
	"biscuit/fd"
	"biscuit/filelike"
	"biscuit/stat"
)

const atFdcwd = -100

// openPath resolves fdat/path the way openat(2)'s first two arguments
// do: an absolute path ignores fdat, a relative one is joined either
// to the cwd (fdat == AT_FDCWD) or to an already-open directory fd.
func (c *Ctx_t) openPath(fdat int, pathva uintptr) (string, defs.Err_t) {
	raw, err := c.aspace().ReadCString(pathva, 4096)
	if err != 0 {
		return "", err
	}
	if raw.IsAbsolute() || fdat == atFdcwd {
		full := c.Proc.Cwd.Canonicalpath(raw)
		return c.Links.Resolve(full).String(), 0
	}
	dfd, err := c.fds().Get(fdat)
	if err != 0 {
		return "", err
	}
	base, ok := dfd.Fops.Pathi().(string)
	if !ok {
		return "", -defs.ENOTDIR
	}
	full := c.Proc.Cwd.Canonicalpath(ustrFromGo(base + "/" + raw.String()))
	return c.Links.Resolve(full).String(), 0
}

func sysOpenat(c *Ctx_t, fdat int, pathva uintptr, flags, mode int) (int, defs.Err_t) {
	p, err := c.openPath(fdat, pathva)
	if err != 0 {
		return 0, err
	}

	ino, lerr := c.Fs.Lookup(p)
	if lerr != 0 {
		if lerr != -defs.ENOENT || flags&unix.O_CREAT == 0 {
			return 0, lerr
		}
		ino, lerr = c.Fs.Create(p, false)
		if lerr != 0 {
			return 0, lerr
		}
	} else if flags&unix.O_CREAT != 0 && flags&unix.O_EXCL != 0 {
		return 0, -defs.EEXIST
	}

	var fdesc *fd.Fd_t
	if ino.IsDir {
		fdesc = &fd.Fd_t{Fops: filelike.NewDir(p, ino, c.Fs), Perms: fd.FD_READ}
	} else {
		fdesc = &fd.Fd_t{Fops: filelike.NewFile(p, ino), Perms: fd.FD_READ | fd.FD_WRITE}
	}

	n, aerr := c.fds().Add(fdesc)
	if aerr != 0 {
		return 0, aerr
	}
	return n, 0
}

func sysClose(c *Ctx_t, n int) (int, defs.Err_t) {
	fdesc, err := c.fds().Remove(n)
	if err != 0 {
		return 0, err
	}
	return 0, fdesc.Fops.Close()
}

func sysDup(c *Ctx_t, oldfd int) (int, defs.Err_t) {
	old, err := c.fds().Get(oldfd)
	if err != 0 {
		return 0, err
	}
	nfd, err := fd.Copyfd(old)
	if err != 0 {
		return 0, err
	}
	n, err := c.fds().Add(nfd)
	if err != 0 {
		return 0, err
	}
	return n, 0
}

func sysDup3(c *Ctx_t, oldfd, newfd, flags int) (int, defs.Err_t) {
	if oldfd == newfd {
		return 0, -defs.EINVAL
	}
	old, err := c.fds().Get(oldfd)
	if err != 0 {
		return 0, err
	}
	nfd, err := fd.Copyfd(old)
	if err != 0 {
		return 0, err
	}
	if err := c.fds().AddAt(newfd, nfd); err != 0 {
		return 0, err
	}
	return newfd, 0
}

// fcntl commands this core implements (spec §6).
const (
	F_DUPFD         = 0
	F_SETFL         = 4
	F_DUPFD_CLOEXEC = 1030
)

func sysFcntl(c *Ctx_t, fdn, cmd, arg int) (int, defs.Err_t) {
	switch cmd {
	case F_DUPFD, F_DUPFD_CLOEXEC:
		old, err := c.fds().Get(fdn)
		if err != 0 {
			return 0, err
		}
		nfd, err := fd.Copyfd(old)
		if err != 0 {
			return 0, err
		}
		if cmd == F_DUPFD_CLOEXEC {
			nfd.Perms |= fd.FD_CLOEXEC
		}
		n, err := c.fds().Add(nfd)
		if err != 0 {
			return 0, err
		}
		return n, 0
	case F_SETFL:
		f, err := c.fds().Get(fdn)
		if err != 0 {
			return 0, err
		}
		f.Fops.SetNonblock(arg&unix.O_NONBLOCK != 0)
		return 0, 0
	default:
		return 0, -defs.EINVAL
	}
}

func sysFstat(c *Ctx_t, fdn int, statva uintptr) (int, defs.Err_t) {
	f, err := c.fds().Get(fdn)
	if err != 0 {
		return 0, err
	}
	var st stat.Stat_t
	if err := f.Fops.Fstat(&st); err != 0 {
		return 0, err
	}
	if err := c.aspace().WriteBytes(statva, st.Bytes()); err != 0 {
		return 0, err
	}
	return 0, 0
}

func sysFstatat(c *Ctx_t, fdat int, pathva uintptr, statva uintptr) (int, defs.Err_t) {
	p, err := c.openPath(fdat, pathva)
	if err != 0 {
		return 0, err
	}
	ino, lerr := c.Fs.Lookup(p)
	if lerr != 0 {
		return 0, lerr
	}
	var st stat.Stat_t
	st.Wino(uint(ino.Ino))
	if ino.IsDir {
		st.Wmode(uint(stat.S_IFDIR))
	} else {
		st.Wmode(uint(stat.S_IFREG))
		st.Wsize(uint(ino.Size()))
	}
	return 0, c.aspace().WriteBytes(statva, st.Bytes())
}

func sysLseek(c *Ctx_t, fdn, off, whence int) (int, defs.Err_t) {
	f, err := c.fds().Get(fdn)
	if err != 0 {
		return 0, err
	}
	return f.Fops.Lseek(off, whence)
}

func sysMkdirat(c *Ctx_t, fdat int, pathva uintptr, mode int) (int, defs.Err_t) {
	p, err := c.openPath(fdat, pathva)
	if err != 0 {
		return 0, err
	}
	_, cerr := c.Fs.Create(p, true)
	return 0, cerr
}

func sysUnlinkat(c *Ctx_t, fdat int, pathva uintptr, flags int) (int, defs.Err_t) {
	p, err := c.openPath(fdat, pathva)
	if err != 0 {
		return 0, err
	}
	if c.Links.Unlink(ustrFromGo(p)) == 0 {
		return 0, 0
	}
	return 0, c.Fs.Remove(p)
}

func sysLinkat(c *Ctx_t, oldva, newva uintptr) (int, defs.Err_t) {
	oldp, err := c.resolvePath(oldva)
	if err != 0 {
		return 0, err
	}
	newp, err := c.resolvePath(newva)
	if err != 0 {
		return 0, err
	}
	if _, lerr := c.Fs.Lookup(oldp); lerr != 0 {
		return 0, lerr
	}
	return 0, c.Links.Link(ustrFromGo(oldp), ustrFromGo(newp))
}

func sysGetdents64(c *Ctx_t, fdn int, bufva uintptr, count int) (int, defs.Err_t) {
	f, err := c.fds().Get(fdn)
	if err != 0 {
		return 0, err
	}
	dir, ok := f.Fops.(*filelike.Dir_t)
	if !ok {
		return 0, -defs.ENOTDIR
	}
	dst := c.aspace().Mkuserbuf(bufva, count)
	return dir.Getdents(dst)
}

func sysGetcwd(c *Ctx_t, bufva uintptr, size int) (int, defs.Err_t) {
	p := c.Proc.Cwd.Path.String()
	if len(p)+1 > size {
		return 0, -defs.ENAMETOOLONG
	}
	b := append([]byte(p), 0)
	if err := c.aspace().WriteBytes(bufva, b); err != 0 {
		return 0, err
	}
	return len(p), 0
}
