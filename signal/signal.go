// Package signal implements per-process and per-thread signal state:
// the actions table, pending siginfo queues, blocked masks, alternate
// stacks, and the delivery path a POST_TRAP hook drives (spec §4.7).
// Grounded on the teacher's tinfo package for the condition-variable
// idiom used to wake a blocked thread (tinfo.Tnote_t.Killnaps uses the
// same sync.Cond-based broadcast to wake a victim on a kill request;
// this package reuses that pattern for "a signal arrived").
package signal

import (
	"sync"
	"time"

	"biscuit/defs"
)

// ActionKind tags the three dispositions a signal's entry in the
// actions table can hold (spec §3, §4.7): a closed tagged union.
type ActionKind int

const (
	ActionDefault ActionKind = iota
	ActionIgnore
	ActionHandler
)

// Action_t is one entry of the per-process actions table.
type Action_t struct {
	Kind     ActionKind
	Addr     uintptr
	Mask     uint64
	Flags    int32
	Restorer uintptr
}

// Siginfo_t is the structured payload delivered alongside a signal.
type Siginfo_t struct {
	Signo defs.Signo_t
	Code  int32
	Pid   defs.Pid_t
	Uid   uint32
	Value int64
}

// pendingSet_t is a per-signo queue shared by both process- and
// thread-scope pending state: at most one entry for standard signals,
// FIFO without collapsing for realtime signals 32..64 (spec §3, §5).
type pendingSet_t struct {
	q [defs.NSIG + 1][]Siginfo_t
}

func (p *pendingSet_t) enqueue(info Siginfo_t) {
	s := info.Signo
	if !s.IsRealtime() {
		if len(p.q[s]) > 0 {
			return
		}
		p.q[s] = []Siginfo_t{info}
		return
	}
	p.q[s] = append(p.q[s], info)
}

func (p *pendingSet_t) mask() uint64 {
	var m uint64
	for s := defs.Signo_t(1); s <= defs.NSIG; s++ {
		if len(p.q[s]) > 0 {
			m |= defs.Sigmask(s)
		}
	}
	return m
}

// take removes and returns the lowest-numbered pending, unblocked
// signal, if any.
func (p *pendingSet_t) take(blocked uint64) (Siginfo_t, bool) {
	for s := defs.Signo_t(1); s <= defs.NSIG; s++ {
		if blocked&defs.Sigmask(s) != 0 {
			continue
		}
		if len(p.q[s]) == 0 {
			continue
		}
		info := p.q[s][0]
		p.q[s] = p.q[s][1:]
		return info, true
	}
	return Siginfo_t{}, false
}

func (p *pendingSet_t) clearOne(signo defs.Signo_t) (Siginfo_t, bool) {
	if len(p.q[signo]) == 0 {
		return Siginfo_t{}, false
	}
	info := p.q[signo][0]
	p.q[signo] = p.q[signo][1:]
	return info, true
}

// ProcessState_t is the process-scope signal state: the shared
// actions table and the process-wide pending queue (spec §3).
type ProcessState_t struct {
	mu      sync.Mutex
	actions [defs.NSIG + 1]Action_t
	pending pendingSet_t
	threads []*ThreadState_t
}

// NewProcessState returns a process signal state with every action
// Default.
func NewProcessState() *ProcessState_t {
	return &ProcessState_t{}
}

// CopyState returns an independent copy, used when clone lacks
// CLONE_SIGHAND.
func (ps *ProcessState_t) CopyState() *ProcessState_t {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	n := &ProcessState_t{}
	n.actions = ps.actions
	return n
}

// RegisterThread adds ts to the set woken by a process-directed send;
// called once when a thread is created inside the process.
func (ps *ProcessState_t) RegisterThread(ts *ThreadState_t) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.threads = append(ps.threads, ts)
}

// UnregisterThread removes ts, called on thread exit.
func (ps *ProcessState_t) UnregisterThread(ts *ThreadState_t) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for i, t := range ps.threads {
		if t == ts {
			ps.threads = append(ps.threads[:i], ps.threads[i+1:]...)
			return
		}
	}
}

// Send delivers info to the process as a whole: it lands in the
// process-wide pending queue, consumed by whichever thread next calls
// Deliver, and every thread currently blocked in Sigsuspend/
// Sigtimedwait is woken to re-check.
func (ps *ProcessState_t) Send(info Siginfo_t) {
	ps.mu.Lock()
	ps.pending.enqueue(info)
	threads := append([]*ThreadState_t(nil), ps.threads...)
	ps.mu.Unlock()
	for _, t := range threads {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	}
}

// Action returns the current disposition for signo.
func (ps *ProcessState_t) Action(signo defs.Signo_t) Action_t {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.actions[signo]
}

// SetAction installs act as signo's disposition. SIGKILL and SIGSTOP
// may not be caught or blocked; attempting to install a handler for
// them is rejected with EINVAL.
func (ps *ProcessState_t) SetAction(signo defs.Signo_t, act Action_t) defs.Err_t {
	if signo == defs.SIGKILL || signo == defs.SIGSTOP {
		if act.Kind == ActionHandler {
			return -defs.EINVAL
		}
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.actions[signo] = act
	return 0
}

// ThreadState_t is the thread-scope signal state: blocked mask,
// pending queue, and alternate stack (spec §3).
type ThreadState_t struct {
	mu       sync.Mutex
	cond     *sync.Cond
	blocked  uint64
	pending  pendingSet_t
	altstack AltStack_t
}

// AltStack_t mirrors sigaltstack's {sp, flags, size} tuple.
type AltStack_t struct {
	SP    uintptr
	Flags int32
	Size  uintptr
}

// NewThreadState returns a thread signal state with everything
// unblocked and no alternate stack configured.
func NewThreadState() *ThreadState_t {
	ts := &ThreadState_t{}
	ts.cond = sync.NewCond(&ts.mu)
	return ts
}

// Send delivers info to this thread: blocked or ignored signals land
// in the pending queue (spec §4.7). SIGKILL bypasses both blocking and
// ignore-disposition and is expected to be handled by the caller
// terminating the thread directly; Send still records it so a
// concurrent waiter observes it.
func (ts *ThreadState_t) Send(info Siginfo_t) {
	ts.mu.Lock()
	ts.pending.enqueue(info)
	ts.cond.Broadcast()
	ts.mu.Unlock()
}

// Sigprocmask implements BLOCK/UNBLOCK/SETMASK, rejecting attempts to
// block SIGKILL or SIGSTOP.
func (ts *ThreadState_t) Sigprocmask(how int, set *uint64, old *uint64) defs.Err_t {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if old != nil {
		*old = ts.blocked
	}
	if set == nil {
		return 0
	}
	unblockable := defs.Sigmask(defs.SIGKILL) | defs.Sigmask(defs.SIGSTOP)
	switch how {
	case defs.SIG_BLOCK:
		ts.blocked |= *set &^ unblockable
	case defs.SIG_UNBLOCK:
		ts.blocked &^= *set
	case defs.SIG_SETMASK:
		ts.blocked = *set &^ unblockable
	default:
		return -defs.EINVAL
	}
	return 0
}

// Sigaltstack installs ss as the alternate signal stack, rejecting a
// size smaller than MINSIGSTKSZ. Per the spec's resolved open
// question, exactly MINSIGSTKSZ is accepted (the comparison is "<",
// not "<=").
func (ts *ThreadState_t) Sigaltstack(ss *AltStack_t, old *AltStack_t) defs.Err_t {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if old != nil {
		*old = ts.altstack
	}
	if ss == nil {
		return 0
	}
	if ss.Flags&defs.SS_DISABLE == 0 && ss.Size < defs.MINSIGSTKSZ {
		return -defs.ENOMEM
	}
	ts.altstack = *ss
	return 0
}

// Sigsuspend atomically swaps the blocked mask for set, then blocks
// until any signal not blocked by set is pending on the thread or the
// process, restores the prior mask, and returns EINTR. It wakes
// whatever the signal's disposition; it does not single out signals
// whose default action is to terminate.
func (ts *ThreadState_t) Sigsuspend(proc *ProcessState_t, set uint64) defs.Err_t {
	ts.mu.Lock()
	prior := ts.blocked
	ts.blocked = set &^ (defs.Sigmask(defs.SIGKILL) | defs.Sigmask(defs.SIGSTOP))
	for {
		proc.mu.Lock()
		combined := combinedMask(&ts.pending, &proc.pending)
		proc.mu.Unlock()
		if combined&^ts.blocked != 0 {
			break
		}
		ts.cond.Wait()
	}
	ts.blocked = prior
	ts.mu.Unlock()
	return -defs.EINTR
}

// Sigtimedwait blocks until a signal in set is pending, or timeout
// elapses (timeout <= 0 means no timeout), returning its siginfo.
func (ts *ThreadState_t) Sigtimedwait(proc *ProcessState_t, set uint64, timeout time.Duration) (Siginfo_t, defs.Err_t) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for {
		if info, ok := ts.pending.takeMasked(set); ok {
			return info, 0
		}
		proc.mu.Lock()
		info, ok := proc.pending.takeMasked(set)
		proc.mu.Unlock()
		if ok {
			return info, 0
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return Siginfo_t{}, -defs.EAGAIN
		}
		if deadline.IsZero() {
			ts.cond.Wait()
			continue
		}
		// bounded wait: release, sleep briefly, re-check (cond.Wait has no
		// native timeout in the stdlib).
		ts.mu.Unlock()
		time.Sleep(time.Millisecond)
		ts.mu.Lock()
	}
}

func (p *pendingSet_t) takeMasked(set uint64) (Siginfo_t, bool) {
	for s := defs.Signo_t(1); s <= defs.NSIG; s++ {
		if set&defs.Sigmask(s) == 0 {
			continue
		}
		if info, ok := p.clearOne(s); ok {
			return info, true
		}
	}
	return Siginfo_t{}, false
}

func combinedMask(ts *pendingSet_t, ps *pendingSet_t) uint64 {
	return ts.mask() | ps.mask()
}

// OSAction classifies what the delivery path does with a chosen
// signal once its disposition is resolved.
type OSAction int

const (
	ActTerminate OSAction = iota
	ActCoreDump           // treated as Terminate for now, per spec §4.7
	ActStop
	ActContinue
	ActHandle
)

// defaultAction returns the OS-level default disposition for a signal
// with no installed handler, matching POSIX's default-action table.
func defaultAction(signo defs.Signo_t) OSAction {
	switch signo {
	case defs.SIGCHLD, defs.SIGCONT:
		return ActContinue // ignored-by-default / continue-by-default signals
	case defs.SIGSTOP, defs.SIGTSTP, defs.SIGTTIN, defs.SIGTTOU:
		return ActStop
	default:
		return ActTerminate
	}
}

// HandlerInvocation is everything a context-switch layer needs to
// build a signal frame and transfer control to a user handler (spec
// §4.7 steps 1-3); constructing the actual frame bytes and writing the
// saved context is the trap/register-save external collaborator's job
// (§1), so this package only decides when and with what parameters.
type HandlerInvocation struct {
	Info        Siginfo_t
	Action      Action_t
	UseAltStack bool
	NewBlocked  uint64
}

// Deliver implements the POST_TRAP hook (spec §4.7): pick one signal
// from (thread-pending ∪ process-pending) minus blocked, and resolve
// its OS action. If the resolved action is ActHandle, inv is filled in
// with everything needed to set up the handler frame and the blocked
// mask to install (existing ∪ action.mask ∪ {signo unless
// SA_NODEFER}).
func Deliver(ts *ThreadState_t, proc *ProcessState_t) (act OSAction, inv HandlerInvocation, ok bool) {
	ts.mu.Lock()
	blocked := ts.blocked
	info, found := ts.pending.take(blocked)
	ts.mu.Unlock()
	if !found {
		proc.mu.Lock()
		info, found = proc.pending.take(blocked)
		proc.mu.Unlock()
	}
	if !found {
		return 0, HandlerInvocation{}, false
	}

	action := proc.Action(info.Signo)
	switch action.Kind {
	case ActionIgnore:
		return ActContinue, HandlerInvocation{Info: info}, true
	case ActionDefault:
		return defaultAction(info.Signo), HandlerInvocation{Info: info}, true
	case ActionHandler:
		newBlocked := blocked | action.Mask
		if action.Flags&defs.SA_NODEFER == 0 {
			newBlocked |= defs.Sigmask(info.Signo)
		}
		ts.mu.Lock()
		useAlt := action.Flags&defs.SA_ONSTACK != 0 && ts.altstack.Flags&defs.SS_DISABLE == 0
		ts.mu.Unlock()
		return ActHandle, HandlerInvocation{
			Info:        info,
			Action:      action,
			UseAltStack: useAlt,
			NewBlocked:  newBlocked,
		}, true
	}
	panic("signal: unknown action kind")
}

// MkSiginfo builds a default siginfo for a kill-family send (no
// explicit payload, code SI_USER-equivalent 0).
func MkSiginfo(signo defs.Signo_t, sender defs.Pid_t) Siginfo_t {
	return Siginfo_t{Signo: signo, Pid: sender}
}

// Kill queues signo once on ps's process-wide pending set
// (process-directed signal) and wakes every thread registered on ps,
// the semantics used by kill(2) and tgkill(2) targeting a whole
// process.
func Kill(ps *ProcessState_t, signo defs.Signo_t, sender defs.Pid_t) defs.Err_t {
	if !signo.Valid() {
		return -defs.EINVAL
	}
	ps.Send(MkSiginfo(signo, sender))
	return 0
}

// Tkill sends signo directly to one thread, bypassing the process
// pending queue, the semantics used by tkill(2)/tgkill(2) targeting a
// single tid.
func Tkill(ts *ThreadState_t, signo defs.Signo_t, sender defs.Pid_t) defs.Err_t {
	if !signo.Valid() {
		return -defs.EINVAL
	}
	ts.Send(MkSiginfo(signo, sender))
	return 0
}

// Sigqueueinfo delivers an explicit siginfo to one thread
// (rt_sigqueueinfo/rt_tgsigqueueinfo).
func Sigqueueinfo(ts *ThreadState_t, info Siginfo_t) defs.Err_t {
	if !info.Signo.Valid() {
		return -defs.EINVAL
	}
	ts.Send(info)
	return 0
}
