package proc

import "biscuit/defs"

// Wait options bits (spec §4.6).
const (
	WNOHANG  = 1
	WNOWAIT  = 0x01000000
)

// Waitpid implements waitpid(2) (spec §4.6): selects the child set by
// pid (-1: any child; >0: specific pid; 0: caller's group; <-1: group
// |pid|), then loops waiting for a zombie among them.
func Waitpid(tables *Tables_t, parent *Proc_t, pid defs.Pid_t, options int) (defs.Pid_t, int, defs.Err_t) {
	parent.mu.Lock()
	defer parent.mu.Unlock()

	for {
		candidates := selectChildrenLocked(parent, pid)
		if len(candidates) == 0 {
			return 0, 0, -defs.ECHILD
		}
		for _, c := range candidates {
			if !c.IsZombie() {
				continue
			}
			code := c.ExitCode
			if options&WNOWAIT == 0 {
				reapLocked(tables, parent, c)
			}
			return c.Pid, code, 0
		}
		if options&WNOHANG != 0 {
			return 0, 0, 0
		}
		parent.childExitCond.Wait()
	}
}

func selectChildrenLocked(parent *Proc_t, pid defs.Pid_t) []*Proc_t {
	var out []*Proc_t
	switch {
	case pid == -1:
		for _, c := range parent.Children {
			out = append(out, c)
		}
	case pid > 0:
		if c, ok := parent.Children[pid]; ok {
			out = append(out, c)
		}
	case pid == 0:
		for _, c := range parent.Children {
			if c.Group == parent.Group {
				out = append(out, c)
			}
		}
	default: // pid < -1: group |pid|
		want := defs.Pgid_t(-pid)
		for _, c := range parent.Children {
			if c.Group != nil && c.Group.Pgid == want {
				out = append(out, c)
			}
		}
	}
	return out
}

func reapLocked(tables *Tables_t, parent *Proc_t, child *Proc_t) {
	delete(parent.Children, child.Pid)
	tables.removeProc(child.Pid)
	child.mu.Lock()
	for tid := range child.Threads {
		tables.removeThread(tid)
	}
	child.mu.Unlock()
}

// WEXITSTATUS extracts the exit code from a wait-status word built by
// EncodeStatus. Waitpid itself returns the raw exit code; sys's wait4
// encodes it before writing it to user memory.
func WEXITSTATUS(status int) int { return (status >> 8) & 0xff }

// EncodeStatus builds the wait-status word for a normally-exited child.
func EncodeStatus(code int) int { return (code & 0xff) << 8 }
