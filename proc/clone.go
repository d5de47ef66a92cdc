package proc

import (
	"sync"

	"biscuit/defs"
	"biscuit/fd"
	"biscuit/futex"
	"biscuit/signal"
	"biscuit/tinfo"
)

// CloneArgs bundles clone(2)'s parameters beyond the flag word (spec
// §4.6).
type CloneArgs struct {
	Flags        defs.CloneFlags
	Stack        uintptr
	ParentTidPtr uintptr
	ChildTidPtr  uintptr
	TLS          uintptr
}

// Clone creates a new thread or process from parent/fromThread per the
// clone-flags sharing table in spec §4.6. Returns the new thread (its
// Proc is either parent's own, for CLONE_THREAD, or a freshly created
// child process).
func Clone(tables *Tables_t, parent *Proc_t, fromThread *Thread_t, args CloneArgs) (*Thread_t, defs.Err_t) {
	flags := args.Flags
	if flags.Has(defs.CLONE_THREAD) && !(flags.Has(defs.CLONE_VM) && flags.Has(defs.CLONE_SIGHAND)) {
		return nil, -defs.EINVAL
	}

	if flags.Has(defs.CLONE_THREAD) {
		return cloneThread(tables, parent, fromThread, args)
	}
	return cloneProcess(tables, parent, fromThread, args)
}

func cloneThread(tables *Tables_t, parent *Proc_t, fromThread *Thread_t, args CloneArgs) (*Thread_t, defs.Err_t) {
	tid := defs.Tid_t(tables.allocPid())
	parent.mu.Lock()
	th := &Thread_t{
		Tid:           tid,
		Proc:          parent,
		Sig:           signal.NewThreadState(),
		Note:          &tinfo.Tnote_t{Alive: true},
		ClearChildTid: clearChildTidOf(args),
		ParentTid:     args.ParentTidPtr,
	}
	parent.Threads[tid] = th
	parent.Sig.RegisterThread(th.Sig)
	parent.mu.Unlock()
	tables.registerThread(th)
	return th, 0
}

func cloneProcess(tables *Tables_t, parent *Proc_t, fromThread *Thread_t, args CloneArgs) (*Thread_t, defs.Err_t) {
	flags := args.Flags

	var aspace = parent.Aspace
	if !flags.Has(defs.CLONE_VM) {
		na, err := parent.Aspace.CloneOrErr()
		if err != 0 {
			return nil, err
		}
		aspace = na
	}

	fdtable := parent.FDTable
	if !flags.Has(defs.CLONE_FILES) {
		nt, err := parent.FDTable.Copy()
		if err != 0 {
			return nil, err
		}
		fdtable = nt
	}

	cwd := parent.Cwd
	if !flags.Has(defs.CLONE_FS) {
		cwd = &fd.Cwd_t{Path: append([]byte(nil), parent.Cwd.Path...)}
		fd2, err := fd.Copyfd(parent.Cwd.Fd)
		if err != 0 {
			return nil, err
		}
		cwd.Fd = fd2
	}

	sig := parent.Sig
	if !flags.Has(defs.CLONE_SIGHAND) {
		sig = parent.Sig.CopyState()
	}

	ftbl := parent.Futex
	if !flags.Has(defs.CLONE_VM) {
		ftbl = futex.NewTable()
	}

	child := &Proc_t{
		Pid:        tables.allocPid(),
		Children:   make(map[defs.Pid_t]*Proc_t),
		Threads:    make(map[defs.Tid_t]*Thread_t),
		ExePath:    parent.ExePath,
		Aspace:     aspace,
		FDTable:    fdtable,
		Cwd:        cwd,
		Sig:        sig,
		Futex:      ftbl,
		ExitSignal: defs.Signo_t(flags.ExitSignal()),
	}
	child.childExitCond = sync.NewCond(&child.mu)

	realParent := parent
	if flags.Has(defs.CLONE_PARENT) && parent.Parent != nil {
		realParent = parent.Parent
	}
	child.Parent = realParent
	realParent.mu.Lock()
	realParent.Children[child.Pid] = child
	realParent.mu.Unlock()

	th := &Thread_t{
		Tid:           defs.Tid_t(child.Pid),
		Proc:          child,
		Sig:           signal.NewThreadState(),
		Note:          &tinfo.Tnote_t{Alive: true},
		ClearChildTid: clearChildTidOf(args),
		ParentTid:     args.ParentTidPtr,
	}
	child.Threads[th.Tid] = th
	child.Sig.RegisterThread(th.Sig)
	tables.registerProc(child)
	tables.registerThread(th)
	return th, 0
}

func clearChildTidOf(args CloneArgs) uintptr {
	if args.Flags.Has(defs.CLONE_CHILD_CLEARTID) {
		return args.ChildTidPtr
	}
	return 0
}

func nextTidLocked(p *Proc_t) defs.Tid_t {
	max := defs.Tid_t(p.Pid)
	for tid := range p.Threads {
		if tid > max {
			max = tid
		}
	}
	return max + 1
}
