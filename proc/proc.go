// Package proc implements the process/thread model: Proc, Thread,
// Group, and Session, their global lookup tables, and clone/exec/exit/
// wait semantics (spec §4.6). Grounded on the teacher's hashtable
// package for arena-indexed global lookup, and on its accnt/tinfo
// packages for the mutex and condition-variable idioms used here.
package proc

import (
	"sync"

	"biscuit/accnt"
	"biscuit/defs"
	"biscuit/fd"
	"biscuit/futex"
	"biscuit/hashtable"
	"biscuit/signal"
	"biscuit/tinfo"
	"biscuit/vm"
)

// Proc_t is a process: the unit that owns an address space, an FD
// table, a cwd, and process-scope signal state (spec §3).
type Proc_t struct {
	mu sync.Mutex

	Pid      defs.Pid_t
	Parent   *Proc_t
	Children map[defs.Pid_t]*Proc_t
	Group    *Group_t

	Threads map[defs.Tid_t]*Thread_t

	ExePath string

	Aspace   *vm.AddrSpace
	FDTable  *fd.Table_t
	Cwd      *fd.Cwd_t
	Sig      *signal.ProcessState_t
	Futex    *futex.Table_t

	HeapBottom uintptr
	HeapTop    uintptr

	// Accnt tracks user/system nanoseconds for the times(2) syscall
	// (spec §6, supplemented from original_source's accounting fields).
	Accnt accnt.Accnt_t

	ExitSignal defs.Signo_t // 0 means none
	ExitCode   int
	Zombie     bool
	GroupExit  bool

	childExitCond *sync.Cond
}

// Thread_t is one schedulable task within a process (spec §3). The
// process's first thread has Tid == Pid.
type Thread_t struct {
	Tid           defs.Tid_t
	Proc          *Proc_t
	Sig           *signal.ThreadState_t
	Note          *tinfo.Tnote_t
	ClearChildTid uintptr
	ParentTid     uintptr
	exited        bool
	exitCode      int
}

// Group_t is a process group: a pgid plus its member processes.
type Group_t struct {
	mu      sync.Mutex
	Pgid    defs.Pgid_t
	Session *Session_t
	members map[defs.Pid_t]*Proc_t
}

// Session_t is a session: an sid plus its member groups.
type Session_t struct {
	mu      sync.Mutex
	Sid     defs.Sid_t
	members map[defs.Pgid_t]*Group_t
}

// Tables_t holds the global pid/tid/pgid/sid lookup tables (spec §3,
// §9: "arena-indexed global tables... iteration drops dead entries").
// This core does not use true weak references (the stdlib's weak
// package postdates the teacher's go.mod target); entries are instead
// explicitly removed when waitpid reaps a process, which drops the
// process's pid entry and the tid entries of all its threads together.
type Tables_t struct {
	pids  *hashtable.Hashtable_t // Pid_t -> *Proc_t
	tids  *hashtable.Hashtable_t // Tid_t -> *Thread_t
	pgids *hashtable.Hashtable_t // Pgid_t -> *Group_t
	sids  *hashtable.Hashtable_t // Sid_t -> *Session_t

	mu     sync.Mutex
	nextPid int32
}

// NewTables returns empty global tables.
func NewTables() *Tables_t {
	return &Tables_t{
		pids:    hashtable.MkHash(256),
		tids:    hashtable.MkHash(256),
		pgids:   hashtable.MkHash(64),
		sids:    hashtable.MkHash(64),
		nextPid: 1,
	}
}

func (t *Tables_t) allocPid() defs.Pid_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.nextPid
	t.nextPid++
	return defs.Pid_t(p)
}

// LookupProc returns the process for pid, if live.
func (t *Tables_t) LookupProc(pid defs.Pid_t) (*Proc_t, bool) {
	v, ok := t.pids.Get(int32(pid))
	if !ok {
		return nil, false
	}
	return v.(*Proc_t), true
}

// LookupThread returns the thread for tid, if live.
func (t *Tables_t) LookupThread(tid defs.Tid_t) (*Thread_t, bool) {
	v, ok := t.tids.Get(int32(tid))
	if !ok {
		return nil, false
	}
	return v.(*Thread_t), true
}

func (t *Tables_t) registerProc(p *Proc_t) { t.pids.Set(int32(p.Pid), p) }
func (t *Tables_t) registerThread(th *Thread_t) { t.tids.Set(int32(th.Tid), th) }
func (t *Tables_t) removeProc(pid defs.Pid_t) { t.pids.Del(int32(pid)) }
func (t *Tables_t) removeThread(tid defs.Tid_t) { t.tids.Del(int32(tid)) }

// NewInitProc creates the synthetic init process that owns no threads;
// all user processes descend from it (spec §4.6).
func NewInitProc(t *Tables_t, aspace *vm.AddrSpace, fdtable *fd.Table_t, cwd *fd.Cwd_t) *Proc_t {
	p := &Proc_t{
		Pid:      t.allocPid(),
		Children: make(map[defs.Pid_t]*Proc_t),
		Threads:  make(map[defs.Tid_t]*Thread_t),
		Aspace:   aspace,
		FDTable:  fdtable,
		Cwd:      cwd,
		Sig:      signal.NewProcessState(),
		Futex:    futex.NewTable(),
	}
	p.childExitCond = sync.NewCond(&p.mu)
	t.registerProc(p)
	return p
}

// NewInitThread gives p its first thread, with Tid == Pid per the
// convention documented on Thread_t. cmd/kernel calls this once, right
// after NewInitProc, before handing the thread to elfld/sys.Dispatch.
func NewInitThread(t *Tables_t, p *Proc_t) *Thread_t {
	th := &Thread_t{
		Tid:  defs.Tid_t(p.Pid),
		Proc: p,
		Sig:  signal.NewThreadState(),
		Note: &tinfo.Tnote_t{Alive: true},
	}
	p.Threads[th.Tid] = th
	p.Sig.RegisterThread(th.Sig)
	t.registerThread(th)
	return th
}

// ThreadCount returns the number of threads currently registered in p,
// for the execve "more than one thread" check (spec §4.6).
func (p *Proc_t) ThreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Threads)
}
