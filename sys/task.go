package sys

import (
	"runtime"
	"time"

	"biscuit/defs"
	"biscuit/elfld"
	"biscuit/proc"
	"biscuit/signal"
	"biscuit/vm"
)

func sysSchedYield() int {
	runtime.Gosched()
	return 0
}

func sysNanosleep(c *Ctx_t, reqva, remva uintptr) (int, defs.Err_t) {
	sec, err := c.aspace().ReadN(reqva, 8)
	if err != 0 {
		return 0, err
	}
	nsec, err := c.aspace().ReadN(reqva+8, 8)
	if err != 0 {
		return 0, err
	}
	d := time.Duration(sec)*time.Second + time.Duration(nsec)
	time.Sleep(d)
	if remva != 0 {
		c.aspace().WriteN(remva, 8, 0)
		c.aspace().WriteN(remva+8, 8, 0)
	}
	return 0, 0
}

func sysSetTidAddress(c *Ctx_t, va uintptr) (int, defs.Err_t) {
	c.Thread.ClearChildTid = va
	return int(c.Thread.Tid), 0
}

func sysClone(c *Ctx_t, a [6]uintptr) (int, defs.Err_t) {
	args := proc.CloneArgs{
		Flags:        defs.CloneFlags(a[0]),
		Stack:        a[1],
		ParentTidPtr: a[2],
		ChildTidPtr:  a[3],
		TLS:          a[4],
	}
	th, err := proc.Clone(c.Tables, c.Proc, c.Thread, args)
	if err != 0 {
		return 0, err
	}
	if args.ParentTidPtr != 0 {
		c.aspace().WriteN(args.ParentTidPtr, 4, int(th.Tid))
	}
	return int(th.Tid), 0
}

func sysExit(c *Ctx_t, code int, group bool) (int, defs.Err_t) {
	proc.DoExit(c.Thread, code, group)
	return 0, 0
}

func sysWait4(c *Ctx_t, pid int, statusva uintptr, options int) (int, defs.Err_t) {
	rpid, status, err := proc.Waitpid(c.Tables, c.Proc, defs.Pid_t(pid), options)
	if err != 0 {
		return 0, err
	}
	if statusva != 0 {
		c.aspace().WriteN(statusva, 4, proc.EncodeStatus(status))
	}
	return int(rpid), 0
}

func sysKill(c *Ctx_t, pid, signo int) (int, defs.Err_t) {
	target, ok := c.Tables.LookupProc(defs.Pid_t(pid))
	if !ok {
		return 0, -defs.ESRCH
	}
	return 0, signal.Kill(target.Sig, defs.Signo_t(signo), c.Proc.Pid)
}

func sysTkill(c *Ctx_t, tid, signo int) (int, defs.Err_t) {
	th, ok := c.Tables.LookupThread(defs.Tid_t(tid))
	if !ok {
		return 0, -defs.ESRCH
	}
	return 0, signal.Tkill(th.Sig, defs.Signo_t(signo), c.Proc.Pid)
}

func sysTgkill(c *Ctx_t, pid, tid, signo int) (int, defs.Err_t) {
	th, ok := c.Tables.LookupThread(defs.Tid_t(tid))
	if !ok || th.Proc.Pid != defs.Pid_t(pid) {
		return 0, -defs.ESRCH
	}
	return 0, signal.Tkill(th.Sig, defs.Signo_t(signo), c.Proc.Pid)
}

// readStringArray reads a NULL-terminated array of user string
// pointers, the layout execve's argv/envp share.
func (c *Ctx_t) readStringArray(va uintptr) ([]string, defs.Err_t) {
	var out []string
	for i := 0; ; i++ {
		ptrv, err := c.aspace().ReadN(va+uintptr(i*8), 8)
		if err != 0 {
			return nil, err
		}
		if ptrv == 0 {
			return out, 0
		}
		s, err := c.aspace().ReadCString(uintptr(ptrv), 4096)
		if err != 0 {
			return nil, err
		}
		out = append(out, s.String())
	}
}

// TODO: FD_CLOEXEC is not applied here — the FD table survives exec
// unchanged, per spec.md's explicit resolution of this as an open
// question rather than an oversight.
func sysExecve(c *Ctx_t, pathva, argvva, envpva uintptr) (int, defs.Err_t) {
	if c.Proc.ThreadCount() > 1 {
		return 0, -defs.EAGAIN
	}

	path, err := c.resolvePath(pathva)
	if err != 0 {
		return 0, err
	}
	argv, err := c.readStringArray(argvva)
	if err != 0 {
		return 0, err
	}
	envp, err := c.readStringArray(envpva)
	if err != 0 {
		return 0, err
	}
	if len(argv) == 0 {
		argv = []string{path}
	} else {
		argv[0] = path
	}

	na, err := vm.NewEmpty(c.aspace().VaRange.Start, c.aspace().VaRange.Size(), c.Alloc)
	if err != 0 {
		return 0, err
	}

	read := func(p string) ([]byte, defs.Err_t) {
		ino, lerr := c.Fs.Lookup(p)
		if lerr != 0 {
			return nil, lerr
		}
		buf := make([]byte, ino.Size())
		if _, rerr := ino.ReadAt(buf, 0); rerr != 0 {
			return nil, rerr
		}
		return buf, 0
	}

	loaded, lerr := elfld.Load(na, read, argv, envp)
	if lerr != 0 {
		return 0, lerr
	}

	c.Proc.Aspace = na
	c.Proc.ExePath = path
	c.Proc.HeapBottom = loaded.HeapBase
	c.Proc.HeapTop = loaded.HeapBase

	return int(loaded.UserSP), 0
}
