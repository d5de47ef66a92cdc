// Command kernel boots this core's in-process kernel state, then runs
// a build-time list of testcase command lines to completion one at a
// time, the way the original kernel's boot path hands off to whatever
// init binary the build embedded (spec §6 "a binary taking a
// build-time environment list of testcase command lines").
//
// Each testcase is loaded the way a real boot loader hands a freshly
// mapped address space to a fresh process — directly, not through the
// execve syscall trap — since cmd/kernel stands in for the boot/init
// path rather than for a userspace caller (spec §6.1). Once loaded,
// cmd/kernel exercises the syscall surface through sys.Dispatch the
// way a scheduler normally would: the loaded program's own code never
// runs (this core has no CPU to hand it to), so cmd/kernel logs the
// entry point and stack pointer it would have jumped to, then retires
// the process with exit/wait4 so the table/accounting plumbing gets
// driven end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"biscuit/defs"
	"biscuit/elfld"
	"biscuit/fd"
	"biscuit/filelike"
	"biscuit/limits"
	"biscuit/mem"
	"biscuit/path"
	"biscuit/proc"
	"biscuit/stats"
	"biscuit/sys"
	"biscuit/tinfo"
	"biscuit/vfs"
	"biscuit/vm"
)

// rootVaSize bounds the virtual address space handed to every process
// (spec §4.4's loader tunables live well inside it).
const rootVaSize = uintptr(1) << 47

func main() {
	pprofOut := flag.String("pprof", "", "write a pprof syscall-dispatch profile to this path on exit")
	flag.Parse()

	testcases := parseTestcases(os.Getenv("TESTCASES"))
	if len(testcases) == 0 {
		testcases = [][]string{{"/bin/init"}}
	}

	tables := proc.NewTables()
	alloc := mem.Physmem
	fs := vfs.New()
	links := path.NewHardlinkTable()

	rootAspace, err := vm.NewEmpty(0, rootVaSize, alloc)
	if err != 0 {
		log.Fatalf("boot: allocating root address space: %d", err)
	}

	rootIno, err := fs.Lookup("/")
	if err != 0 {
		log.Fatalf("boot: looking up root directory: %d", err)
	}
	rootFd := &fd.Fd_t{Fops: filelike.NewDir("/", rootIno, fs), Perms: fd.FD_READ}
	cwd := fd.MkRootCwd(rootFd)

	fdtable := fd.NewTable(limits.Syslimit.Fds)
	stdin := &fd.Fd_t{Fops: filelike.NewStdio(os.Stdin, nil), Perms: fd.FD_READ}
	stdout := &fd.Fd_t{Fops: filelike.NewStdio(nil, os.Stdout), Perms: fd.FD_WRITE}
	stderr := &fd.Fd_t{Fops: filelike.NewStdio(nil, os.Stderr), Perms: fd.FD_WRITE}
	for _, f := range []*fd.Fd_t{stdin, stdout, stderr} {
		if _, err := fdtable.Add(f); err != 0 {
			log.Fatalf("boot: installing stdio fds: %d", err)
		}
	}

	initProc := proc.NewInitProc(tables, rootAspace, fdtable, cwd)
	initThread := proc.NewInitThread(tables, initProc)
	ctx := tinfo.WithCurrent(context.Background(), initThread.Note)

	for _, argv := range testcases {
		if err := runTestcase(ctx, tables, fs, links, alloc, initProc, initThread, argv); err != nil {
			fmt.Fprintf(os.Stderr, "kernel: testcase %v: %v\n", argv, err)
		}
	}

	if *pprofOut != "" {
		f, oerr := os.Create(*pprofOut)
		if oerr != nil {
			log.Fatalf("boot: opening pprof output: %v", oerr)
		}
		defer f.Close()
		if werr := stats.WriteProfile(f); werr != nil {
			log.Fatalf("boot: writing pprof profile: %v", werr)
		}
	}
}

// parseTestcases splits the TESTCASES environment variable — one
// command line per ";"-separated field, whitespace-separated within
// a field — into argv slices.
func parseTestcases(raw string) [][]string {
	var out [][]string
	for _, line := range strings.Split(raw, ";") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		out = append(out, fields)
	}
	return out
}

// stageHostFile copies a binary from the host filesystem into the
// in-memory vfs at the same path, standing in for a boot loader
// staging a disk image's contents (spec §6.1 notes vfs.Fs_t stands in
// for the real on-disk filesystem).
func stageHostFile(fs *vfs.Fs_t, hostPath string) error {
	if _, err := fs.Lookup(hostPath); err == 0 {
		return nil
	}
	data, rerr := os.ReadFile(hostPath)
	if rerr != nil {
		return rerr
	}
	ino, cerr := fs.Create(hostPath, false)
	if cerr != 0 {
		return fmt.Errorf("vfs create %s: errno %d", hostPath, cerr)
	}
	if _, werr := ino.WriteAt(data, 0); werr != 0 {
		return fmt.Errorf("vfs write %s: errno %d", hostPath, werr)
	}
	return nil
}

// runTestcase forks a fresh process off init, loads argv[0] into its
// address space, and retires it with exit/wait4 so the fork/load/exit/
// reap path gets exercised for every testcase in the list.
func runTestcase(ctx context.Context, tables *proc.Tables_t, fs *vfs.Fs_t, links *path.HardlinkTable_t, alloc mem.FrameAllocator, initProc *proc.Proc_t, initThread *proc.Thread_t, argv []string) error {
	if err := stageHostFile(fs, argv[0]); err != nil {
		return err
	}

	child, cerr := proc.Clone(tables, initProc, initThread, proc.CloneArgs{})
	if cerr != 0 {
		return fmt.Errorf("fork: errno %d", cerr)
	}

	c := &sys.Ctx_t{
		Tables: tables,
		Proc:   child.Proc,
		Thread: child,
		Fs:     fs,
		Links:  links,
		Alloc:  alloc,
	}
	childCtx := tinfo.WithCurrent(ctx, child.Note)

	na, aerr := vm.NewEmpty(child.Proc.Aspace.VaRange.Start, child.Proc.Aspace.VaRange.Size(), alloc)
	if aerr != 0 {
		return fmt.Errorf("address space: errno %d", aerr)
	}
	read := func(p string) ([]byte, defs.Err_t) {
		ino, lerr := fs.Lookup(p)
		if lerr != 0 {
			return nil, lerr
		}
		buf := make([]byte, ino.Size())
		if _, rerr := ino.ReadAt(buf, 0); rerr != 0 {
			return nil, rerr
		}
		return buf, 0
	}

	loaded, lerr := elfld.Load(na, read, argv, os.Environ())
	if lerr != 0 {
		return fmt.Errorf("elf load: errno %d", lerr)
	}

	child.Proc.Aspace = na
	child.Proc.ExePath = argv[0]
	child.Proc.HeapBottom = loaded.HeapBase
	child.Proc.HeapTop = loaded.HeapBase

	fmt.Printf("kernel: loaded %v as pid %d tid %d: entry=0x%x sp=0x%x\n",
		argv, child.Proc.Pid, child.Tid, loaded.Entry, loaded.UserSP)

	sys.Dispatch(childCtx, c, sys.SYS_EXIT, [6]uintptr{0, 0, 0, 0, 0, 0})

	parentCtx := &sys.Ctx_t{
		Tables: tables,
		Proc:   initProc,
		Thread: initThread,
		Fs:     fs,
		Links:  links,
		Alloc:  alloc,
	}
	var statusva uintptr
	ret := sys.Dispatch(ctx, parentCtx, sys.SYS_WAIT4, [6]uintptr{uintptr(int64(int32(child.Proc.Pid))), statusva, 0, 0, 0, 0})
	fmt.Printf("kernel: reaped pid %d: wait4 returned %d\n", child.Proc.Pid, ret)
	return nil
}
