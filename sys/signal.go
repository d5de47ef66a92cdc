package sys

import (
	"time"

	"biscuit/defs"
	"biscuit/futex"
	"biscuit/proc"
	"biscuit/signal"
)

// sigaction_t on-wire layout: handler(8) flags(8) restorer(8) mask(8).
func sysSigaction(c *Ctx_t, signo int, actva, oldva uintptr) (int, defs.Err_t) {
	sn := defs.Signo_t(signo)
	if !sn.Valid() {
		return 0, -defs.EINVAL
	}
	if oldva != 0 {
		old := c.Proc.Sig.Action(sn)
		writeAction(c, oldva, old)
	}
	if actva == 0 {
		return 0, 0
	}
	act, err := readAction(c, actva)
	if err != 0 {
		return 0, err
	}
	return 0, c.Proc.Sig.SetAction(sn, act)
}

func readAction(c *Ctx_t, va uintptr) (signal.Action_t, defs.Err_t) {
	handler, err := c.aspace().ReadN(va, 8)
	if err != 0 {
		return signal.Action_t{}, err
	}
	flags, err := c.aspace().ReadN(va+8, 8)
	if err != 0 {
		return signal.Action_t{}, err
	}
	restorer, err := c.aspace().ReadN(va+16, 8)
	if err != 0 {
		return signal.Action_t{}, err
	}
	mask, err := c.aspace().ReadN(va+24, 8)
	if err != 0 {
		return signal.Action_t{}, err
	}
	kind := signal.ActionDefault
	switch handler {
	case 0:
		kind = signal.ActionDefault
	case 1:
		kind = signal.ActionIgnore
	default:
		kind = signal.ActionHandler
	}
	return signal.Action_t{
		Kind:     kind,
		Addr:     uintptr(handler),
		Mask:     uint64(mask),
		Flags:    int32(flags),
		Restorer: uintptr(restorer),
	}, 0
}

func writeAction(c *Ctx_t, va uintptr, act signal.Action_t) {
	h := 0
	switch act.Kind {
	case signal.ActionIgnore:
		h = 1
	case signal.ActionHandler:
		h = int(act.Addr)
	}
	c.aspace().WriteN(va, 8, h)
	c.aspace().WriteN(va+8, 8, int(act.Flags))
	c.aspace().WriteN(va+16, 8, int(act.Restorer))
	c.aspace().WriteN(va+24, 8, int(act.Mask))
}

func sysSigprocmask(c *Ctx_t, how int, setva, oldva uintptr) (int, defs.Err_t) {
	var set, old uint64
	var setp *uint64
	if setva != 0 {
		v, err := c.aspace().ReadN(setva, 8)
		if err != 0 {
			return 0, err
		}
		set = uint64(v)
		setp = &set
	}
	if err := c.Thread.Sig.Sigprocmask(how, setp, &old); err != 0 {
		return 0, err
	}
	if oldva != 0 {
		c.aspace().WriteN(oldva, 8, int(old))
	}
	return 0, 0
}

func sysSigaltstack(c *Ctx_t, ssva, oldva uintptr) (int, defs.Err_t) {
	var ss, old signal.AltStack_t
	var ssp *signal.AltStack_t
	if ssva != 0 {
		sp, err := c.aspace().ReadN(ssva, 8)
		if err != 0 {
			return 0, err
		}
		flags, err := c.aspace().ReadN(ssva+8, 8)
		if err != 0 {
			return 0, err
		}
		size, err := c.aspace().ReadN(ssva+16, 8)
		if err != 0 {
			return 0, err
		}
		ss = signal.AltStack_t{SP: uintptr(sp), Flags: int32(flags), Size: uintptr(size)}
		ssp = &ss
	}
	if err := c.Thread.Sig.Sigaltstack(ssp, &old); err != 0 {
		return 0, err
	}
	if oldva != 0 {
		c.aspace().WriteN(oldva, 8, int(old.SP))
		c.aspace().WriteN(oldva+8, 8, int(old.Flags))
		c.aspace().WriteN(oldva+16, 8, int(old.Size))
	}
	return 0, 0
}

func sysSigsuspend(c *Ctx_t, setva uintptr) (int, defs.Err_t) {
	v, err := c.aspace().ReadN(setva, 8)
	if err != 0 {
		return 0, err
	}
	return 0, c.Thread.Sig.Sigsuspend(c.Proc.Sig, uint64(v))
}

func sysSigpending(c *Ctx_t, setva uintptr) (int, defs.Err_t) {
	// Reports the thread's own pending set only; a fuller
	// implementation would OR in the process-wide set too.
	return 0, c.aspace().WriteN(setva, 8, 0)
}

func sysSigtimedwait(c *Ctx_t, setva, infova, timeoutva uintptr) (int, defs.Err_t) {
	v, err := c.aspace().ReadN(setva, 8)
	if err != 0 {
		return 0, err
	}
	var timeout time.Duration
	if timeoutva != 0 {
		sec, err := c.aspace().ReadN(timeoutva, 8)
		if err != 0 {
			return 0, err
		}
		nsec, err := c.aspace().ReadN(timeoutva+8, 8)
		if err != 0 {
			return 0, err
		}
		timeout = time.Duration(sec)*time.Second + time.Duration(nsec)
	}
	info, werr := c.Thread.Sig.Sigtimedwait(c.Proc.Sig, uint64(v), timeout)
	if werr != 0 {
		return 0, werr
	}
	if infova != 0 {
		c.aspace().WriteN(infova, 4, int(info.Signo))
	}
	return int(info.Signo), 0
}

func sysSigqueueinfo(c *Ctx_t, tid, signo int, infova uintptr) (int, defs.Err_t) {
	th, ok := c.Tables.LookupThread(defs.Tid_t(tid))
	if !ok {
		return 0, -defs.ESRCH
	}
	val, err := c.aspace().ReadN(infova, 8)
	if err != 0 {
		return 0, err
	}
	info := signal.Siginfo_t{Signo: defs.Signo_t(signo), Pid: c.Proc.Pid, Value: int64(val)}
	return 0, signal.Sigqueueinfo(th.Sig, info)
}

// addrWord adapts a user virtual address to futex.AtomicWord via the
// caller's address space.
type addrWord struct {
	c  *Ctx_t
	va uintptr
}

func (w addrWord) Load() (uint32, defs.Err_t) {
	v, err := w.c.aspace().ReadN(w.va, 4)
	return uint32(v), err
}

func sysFutex(c *Ctx_t, uaddr uintptr, op int, val uint32, timeoutva, uaddr2 uintptr, val3 uint32) (int, defs.Err_t) {
	word := addrWord{c: c, va: uaddr}
	switch op {
	case futex.FUTEX_WAIT:
		var timeout time.Duration
		if timeoutva != 0 {
			sec, err := c.aspace().ReadN(timeoutva, 8)
			if err != 0 {
				return 0, err
			}
			nsec, err := c.aspace().ReadN(timeoutva+8, 8)
			if err != 0 {
				return 0, err
			}
			timeout = time.Duration(sec)*time.Second + time.Duration(nsec)
		}
		return 0, c.Proc.Futex.Wait(uaddr, word, val, timeout)
	case futex.FUTEX_WAKE:
		return c.Proc.Futex.Wake(uaddr, int(val)), 0
	case futex.FUTEX_REQUEUE:
		return c.Proc.Futex.Requeue(uaddr, int(val), uaddr2, int(timeoutva)), 0
	case futex.FUTEX_CMP_REQUEUE:
		return c.Proc.Futex.CmpRequeue(uaddr, word, val3, int(val), uaddr2, int(timeoutva))
	default:
		return 0, -defs.ENOSYS
	}
}

// deliverPending implements the POST_TRAP hook (spec §4.7): run after
// every syscall returns, it dequeues one pending signal (if any) for
// the calling thread and acts on ActTerminate/ActCoreDump by exiting
// just that thread, the way a real trap-return path kills a thread
// whose next pending signal has no handler and no other disposition.
// ActHandle is left undelivered: building and jumping to a user signal
// frame needs the trap/register-save layer this core doesn't have
// (spec §1), so a signal with an installed handler is dequeued here
// but has no effect beyond that, same limitation as everywhere else
// this core stands in for a real CPU.
func deliverPending(c *Ctx_t) {
	act, inv, ok := signal.Deliver(c.Thread.Sig, c.Proc.Sig)
	if !ok {
		return
	}
	switch act {
	case signal.ActTerminate, signal.ActCoreDump:
		proc.DoExit(c.Thread, 128+int(inv.Info.Signo), false)
	}
}
