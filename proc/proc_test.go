package proc

import (
	"bytes"
	"testing"

	"biscuit/defs"
	"biscuit/fd"
	"biscuit/filelike"
	"biscuit/limits"
	"biscuit/mem"
	"biscuit/vm"
)

func newTestInit(t *testing.T) (*Tables_t, *Proc_t, *Thread_t) {
	t.Helper()
	tables := NewTables()
	as, err := vm.NewEmpty(0x1000_0000, 0x10_0000_0000, mem.Physmem)
	if err != 0 {
		t.Fatalf("vm.NewEmpty: errno %d", err)
	}
	fdtable := fd.NewTable(limits.Syslimit.Fds)
	cwdFd := &fd.Fd_t{Fops: filelike.NewStdio(nil, &bytes.Buffer{}), Perms: fd.FD_READ}
	cwd := fd.MkRootCwd(cwdFd)

	p := NewInitProc(tables, as, fdtable, cwd)
	th := NewInitThread(tables, p)
	return tables, p, th
}

func TestCloneThreadSharesAddressSpace(t *testing.T) {
	tables, p, th := newTestInit(t)
	args := CloneArgs{Flags: defs.CLONE_THREAD | defs.CLONE_VM | defs.CLONE_SIGHAND}
	child, err := Clone(tables, p, th, args)
	if err != 0 {
		t.Fatalf("Clone(CLONE_THREAD): errno %d", err)
	}
	if child.Proc != p {
		t.Fatalf("CLONE_THREAD child got its own Proc_t, want the parent's")
	}
	if len(p.Threads) != 2 {
		t.Fatalf("parent has %d threads after CLONE_THREAD, want 2", len(p.Threads))
	}
}

func TestCloneThreadWithoutVMOrSighandIsRejected(t *testing.T) {
	tables, p, th := newTestInit(t)
	args := CloneArgs{Flags: defs.CLONE_THREAD}
	if _, err := Clone(tables, p, th, args); err != -defs.EINVAL {
		t.Fatalf("Clone(CLONE_THREAD without VM|SIGHAND) returned errno %d, want EINVAL", err)
	}
}

func TestCloneProcessGetsIndependentAddressSpace(t *testing.T) {
	tables, p, th := newTestInit(t)
	child, err := Clone(tables, p, th, CloneArgs{})
	if err != 0 {
		t.Fatalf("Clone (fork): errno %d", err)
	}
	if child.Proc == p {
		t.Fatalf("plain Clone (fork) child shares the parent's Proc_t")
	}
	if child.Proc.Aspace == p.Aspace {
		t.Fatalf("forked child shares the parent's address space, want a CloneOrErr copy")
	}
	if _, ok := p.Children[child.Proc.Pid]; !ok {
		t.Fatalf("forked child is not registered in the parent's Children map")
	}
	if got, ok := tables.LookupProc(child.Proc.Pid); !ok || got != child.Proc {
		t.Fatalf("forked child is not registered in the global pid table")
	}
}

func TestCloneProcessWithCLONEVMSharesAddressSpace(t *testing.T) {
	tables, p, th := newTestInit(t)
	child, err := Clone(tables, p, th, CloneArgs{Flags: defs.CLONE_VM})
	if err != 0 {
		t.Fatalf("Clone(CLONE_VM): errno %d", err)
	}
	if child.Proc.Aspace != p.Aspace {
		t.Fatalf("CLONE_VM child got its own address space, want the parent's shared")
	}
}

func TestForkExitWaitRoundTrip(t *testing.T) {
	tables, p, th := newTestInit(t)
	child, err := Clone(tables, p, th, CloneArgs{})
	if err != 0 {
		t.Fatalf("Clone: errno %d", err)
	}

	DoExit(child, 7, false)
	if !child.Proc.IsZombie() {
		t.Fatalf("child is not a zombie after its only thread exited")
	}

	rpid, status, werr := Waitpid(tables, p, child.Proc.Pid, 0)
	if werr != 0 {
		t.Fatalf("Waitpid: errno %d", werr)
	}
	if rpid != child.Proc.Pid {
		t.Fatalf("Waitpid returned pid %d, want %d", rpid, child.Proc.Pid)
	}
	if status != 7 {
		t.Fatalf("Waitpid exit code = %d, want 7", status)
	}
	if _, ok := p.Children[child.Proc.Pid]; ok {
		t.Fatalf("child still listed in parent's Children after being reaped")
	}
	if _, ok := tables.LookupProc(child.Proc.Pid); ok {
		t.Fatalf("child still registered in the global pid table after being reaped")
	}
}

func TestWaitpidWithNoChildrenReturnsECHILD(t *testing.T) {
	tables, p, _ := newTestInit(t)
	if _, _, err := Waitpid(tables, p, -1, 0); err != -defs.ECHILD {
		t.Fatalf("Waitpid with no children returned errno %d, want ECHILD", err)
	}
}

func TestWaitpidWNOHANGReturnsImmediatelyWithNoZombie(t *testing.T) {
	tables, p, th := newTestInit(t)
	if _, err := Clone(tables, p, th, CloneArgs{}); err != 0 {
		t.Fatalf("Clone: errno %d", err)
	}
	rpid, _, err := Waitpid(tables, p, -1, WNOHANG)
	if err != 0 {
		t.Fatalf("Waitpid(WNOHANG): errno %d", err)
	}
	if rpid != 0 {
		t.Fatalf("Waitpid(WNOHANG) with no zombie child returned pid %d, want 0", rpid)
	}
}
