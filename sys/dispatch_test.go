package sys

import (
	"bytes"
	"context"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"biscuit/defs"
	"biscuit/fd"
	"biscuit/filelike"
	"biscuit/limits"
	"biscuit/mem"
	"biscuit/path"
	"biscuit/proc"
	"biscuit/signal"
	"biscuit/tinfo"
	"biscuit/vfs"
	"biscuit/vm"
)

// newTestCtx boots a minimal init process/thread and wraps it in a
// Ctx_t, the same shape cmd/kernel assembles before calling Dispatch.
func newTestCtx(t *testing.T) (context.Context, *Ctx_t, *proc.Tables_t) {
	t.Helper()
	tables := proc.NewTables()
	as, err := vm.NewEmpty(0, uintptr(1)<<47, mem.Physmem)
	if err != 0 {
		t.Fatalf("vm.NewEmpty: errno %d", err)
	}
	fdtable := fd.NewTable(limits.Syslimit.Fds)
	rootFd := &fd.Fd_t{Fops: filelike.NewStdio(nil, &bytes.Buffer{}), Perms: fd.FD_READ}
	cwd := fd.MkRootCwd(rootFd)

	p := proc.NewInitProc(tables, as, fdtable, cwd)
	th := proc.NewInitThread(tables, p)

	ctx := tinfo.WithCurrent(context.Background(), th.Note)
	c := &Ctx_t{
		Tables: tables,
		Proc:   p,
		Thread: th,
		Fs:     vfs.New(),
		Links:  path.NewHardlinkTable(),
		Alloc:  mem.Physmem,
	}
	return ctx, c, tables
}

func TestDispatchForkExitWait(t *testing.T) {
	ctx, c, tables := newTestCtx(t)

	ret := Dispatch(ctx, c, SYS_CLONE, [6]uintptr{0, 0, 0, 0, 0, 0})
	if ret < 0 {
		t.Fatalf("SYS_CLONE returned %d, want a child tid", ret)
	}
	childTid := defs.Tid_t(ret)
	child, ok := tables.LookupThread(childTid)
	if !ok {
		t.Fatalf("forked child tid %d not registered", childTid)
	}

	childCtx := &Ctx_t{
		Tables: tables,
		Proc:   child.Proc,
		Thread: child,
		Fs:     c.Fs,
		Links:  c.Links,
		Alloc:  c.Alloc,
	}
	childGoCtx := tinfo.WithCurrent(context.Background(), child.Note)
	exitRet := Dispatch(childGoCtx, childCtx, SYS_EXIT, [6]uintptr{3, 0, 0, 0, 0, 0})
	if exitRet != 0 {
		t.Fatalf("SYS_EXIT returned %d, want 0", exitRet)
	}

	waitRet := Dispatch(ctx, c, SYS_WAIT4, [6]uintptr{uintptr(int64(int32(child.Proc.Pid))), 0, 0, 0, 0, 0})
	if defs.Pid_t(waitRet) != child.Proc.Pid {
		t.Fatalf("SYS_WAIT4 returned %d, want pid %d", waitRet, child.Proc.Pid)
	}
}

func TestDispatchPipeHandshake(t *testing.T) {
	ctx, c, _ := newTestCtx(t)

	// Stage a scratch page to hold the two returned fd numbers and the
	// message payload.
	scratch := uintptr(0x2000_0000)
	if err := c.aspace().MapAlloc(scratch, mem.PageSize4K, vm.FlagRead|vm.FlagWrite, true, mem.PageSize4K); err != 0 {
		t.Fatalf("MapAlloc scratch: errno %d", err)
	}

	if ret := Dispatch(ctx, c, SYS_PIPE2, [6]uintptr{scratch, 0, 0, 0, 0, 0}); ret != 0 {
		t.Fatalf("SYS_PIPE2 returned %d, want 0", ret)
	}
	rv, err := c.aspace().ReadN(scratch, 4)
	if err != 0 {
		t.Fatalf("reading rfd: errno %d", err)
	}
	wv, err := c.aspace().ReadN(scratch+4, 4)
	if err != 0 {
		t.Fatalf("reading wfd: errno %d", err)
	}
	rfd, wfd := int(rv), int(wv)

	msg := []byte("ping")
	msgva := scratch + 0x100
	if err := c.aspace().Write(msgva, msg); err != 0 {
		t.Fatalf("staging message: errno %d", err)
	}

	wn := Dispatch(ctx, c, SYS_WRITE, [6]uintptr{uintptr(wfd), msgva, uintptr(len(msg)), 0, 0, 0})
	if int(wn) != len(msg) {
		t.Fatalf("SYS_WRITE returned %d, want %d", wn, len(msg))
	}

	rbufva := scratch + 0x200
	rn := Dispatch(ctx, c, SYS_READ, [6]uintptr{uintptr(rfd), rbufva, uintptr(len(msg)), 0, 0, 0})
	if int(rn) != len(msg) {
		t.Fatalf("SYS_READ returned %d, want %d", rn, len(msg))
	}
	got := make([]byte, len(msg))
	if err := c.aspace().Read(rbufva, got); err != 0 {
		t.Fatalf("reading back message: errno %d", err)
	}
	if string(got) != string(msg) {
		t.Fatalf("pipe round trip got %q, want %q", got, msg)
	}
}

func TestDispatchSignalToThread(t *testing.T) {
	ctx, c, tables := newTestCtx(t)

	ret := Dispatch(ctx, c, SYS_CLONE, [6]uintptr{uintptr(defs.CLONE_THREAD | defs.CLONE_VM | defs.CLONE_SIGHAND), 0, 0, 0, 0, 0})
	if ret < 0 {
		t.Fatalf("SYS_CLONE(CLONE_THREAD) returned %d", ret)
	}
	child, ok := tables.LookupThread(defs.Tid_t(ret))
	if !ok {
		t.Fatalf("cloned thread %d not registered", ret)
	}

	tkillRet := Dispatch(ctx, c, SYS_TKILL, [6]uintptr{uintptr(child.Tid), uintptr(defs.SIGUSR1), 0, 0, 0, 0})
	if tkillRet != 0 {
		t.Fatalf("SYS_TKILL returned %d, want 0", tkillRet)
	}

	info, werr := child.Sig.Sigtimedwait(child.Proc.Sig, defs.Sigmask(defs.SIGUSR1), 200*time.Millisecond)
	if werr != 0 {
		t.Fatalf("Sigtimedwait after tkill: errno %d", werr)
	}
	if info.Signo != defs.SIGUSR1 {
		t.Fatalf("delivered signo = %d, want SIGUSR1", info.Signo)
	}
}

func TestDispatchDeliversGroupKillToSibling(t *testing.T) {
	ctx, c, tables := newTestCtx(t)

	ret := Dispatch(ctx, c, SYS_CLONE, [6]uintptr{uintptr(defs.CLONE_THREAD | defs.CLONE_VM | defs.CLONE_SIGHAND), 0, 0, 0, 0, 0})
	if ret < 0 {
		t.Fatalf("SYS_CLONE(CLONE_THREAD) returned %d", ret)
	}
	sibling, ok := tables.LookupThread(defs.Tid_t(ret))
	if !ok {
		t.Fatalf("cloned sibling thread %d not registered", ret)
	}

	// exit_group from the original thread: queues SIGKILL into every
	// other live thread's pending set (proc.DoExit's group path) but
	// must not itself terminate the sibling.
	proc.DoExit(c.Thread, 9, true)
	if c.Proc.IsZombie() {
		t.Fatalf("process is a zombie before its SIGKILLed sibling has actually exited")
	}

	siblingCtx := &Ctx_t{
		Tables: tables,
		Proc:   sibling.Proc,
		Thread: sibling,
		Fs:     c.Fs,
		Links:  c.Links,
		Alloc:  c.Alloc,
	}
	siblingGoCtx := tinfo.WithCurrent(context.Background(), sibling.Note)

	// The sibling's next trap must run the POST_TRAP hook, observe its
	// queued SIGKILL, and actually exit it — this is what makes
	// exit_group's group-kill real instead of a queued-but-never-
	// delivered signal.
	Dispatch(siblingGoCtx, siblingCtx, SYS_GETPID, [6]uintptr{0, 0, 0, 0, 0, 0})

	if !c.Proc.IsZombie() {
		t.Fatalf("process is not a zombie after its last live thread was SIGKILLed via deliverPending")
	}
}

func TestDispatchMmapAnonWriteReadProtect(t *testing.T) {
	ctx, c, _ := newTestCtx(t)

	mmapRet := Dispatch(ctx, c, SYS_MMAP, [6]uintptr{
		0, 0x1000,
		uintptr(unix.PROT_READ | unix.PROT_WRITE),
		uintptr(unix.MAP_PRIVATE | unix.MAP_ANONYMOUS),
		uintptr(int64(int32(-1))), 0,
	})
	if mmapRet <= 0 {
		t.Fatalf("SYS_MMAP returned %d, want a positive address", mmapRet)
	}
	va := uintptr(mmapRet)

	msg := []byte("mapped")
	if err := c.aspace().Write(va, msg); err != 0 {
		t.Fatalf("writing to mmap'd page: errno %d", err)
	}
	got := make([]byte, len(msg))
	if err := c.aspace().Read(va, got); err != 0 {
		t.Fatalf("reading from mmap'd page: errno %d", err)
	}
	if string(got) != string(msg) {
		t.Fatalf("mmap round trip got %q, want %q", got, msg)
	}

	protRet := Dispatch(ctx, c, SYS_MPROTECT, [6]uintptr{va, 0x1000, uintptr(unix.PROT_READ), 0, 0, 0})
	if protRet != 0 {
		t.Fatalf("SYS_MPROTECT returned %d, want 0", protRet)
	}
	if err := c.aspace().WriteBytes(va, []byte{0}); err == 0 {
		t.Fatalf("write succeeded after mprotect(PROT_READ), want a fault")
	}

	if ret := Dispatch(ctx, c, SYS_MUNMAP, [6]uintptr{va, 0x1000, 0, 0, 0, 0}); ret != 0 {
		t.Fatalf("SYS_MUNMAP returned %d, want 0", ret)
	}
}
