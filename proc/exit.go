package proc

import (
	"biscuit/defs"
	"biscuit/signal"
)

// DoExit implements the exit path for one thread (spec §4.6 "Exit
// semantics"): clears clear_child_tid and futex-wakes it, marks the
// thread exited, and if it was the process's last live thread, marks
// the process a zombie and notifies its parent. If group is set, every
// other thread in the process is sent SIGKILL first.
func DoExit(th *Thread_t, code int, group bool) {
	p := th.Proc

	if group {
		p.mu.Lock()
		others := make([]*Thread_t, 0, len(p.Threads))
		for _, o := range p.Threads {
			if o != th && !o.exited {
				others = append(others, o)
			}
		}
		p.mu.Unlock()
		for _, o := range others {
			o.Sig.Send(signal.MkSiginfo(defs.SIGKILL, p.Pid))
		}
	}

	if th.ClearChildTid != 0 {
		p.Aspace.WriteN(th.ClearChildTid, 4, 0)
		p.Futex.Wake(th.ClearChildTid, 1)
	}

	p.mu.Lock()
	th.exited = true
	th.exitCode = code
	last := true
	for _, o := range p.Threads {
		if !o.exited {
			last = false
			break
		}
	}
	if last {
		p.Zombie = true
		p.ExitCode = code
	}
	p.mu.Unlock()
	p.Sig.UnregisterThread(th.Sig)

	if last && p.Parent != nil {
		sig := p.ExitSignal
		if sig == 0 {
			sig = defs.SIGCHLD
		}
		for _, pth := range firstThreadOf(p.Parent) {
			pth.Sig.Send(signal.MkSiginfo(sig, p.Pid))
		}
		p.Parent.mu.Lock()
		p.Parent.childExitCond.Broadcast()
		p.Parent.mu.Unlock()
	}
}

func firstThreadOf(p *Proc_t) []*signal.ThreadState_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*signal.ThreadState_t
	for _, t := range p.Threads {
		out = append(out, t.Sig)
	}
	return out
}

// IsZombie reports whether p has no remaining live threads.
func (p *Proc_t) IsZombie() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Zombie
}
