package signal

import (
	"testing"
	"time"

	"biscuit/defs"
)

func TestSigprocmaskRoundTrip(t *testing.T) {
	ts := NewThreadState()
	block := defs.Sigmask(defs.SIGUSR1) | defs.Sigmask(defs.SIGUSR2)
	if err := ts.Sigprocmask(defs.SIG_BLOCK, &block, nil); err != 0 {
		t.Fatalf("SIG_BLOCK: errno %d", err)
	}
	var got uint64
	if err := ts.Sigprocmask(defs.SIG_SETMASK, nil, &got); err != 0 {
		t.Fatalf("query: errno %d", err)
	}
	if got != block {
		t.Fatalf("mask after BLOCK = %#x, want %#x", got, block)
	}
	var before uint64
	if err := ts.Sigprocmask(defs.SIG_UNBLOCK, &block, &before); err != 0 {
		t.Fatalf("SIG_UNBLOCK: errno %d", err)
	}
	if before != block {
		t.Fatalf("old mask reported by UNBLOCK = %#x, want %#x", before, block)
	}
	var after uint64
	ts.Sigprocmask(defs.SIG_SETMASK, nil, &after)
	if after != 0 {
		t.Fatalf("mask after UNBLOCK = %#x, want 0", after)
	}
}

func TestSigprocmaskCannotBlockKillOrStop(t *testing.T) {
	ts := NewThreadState()
	set := defs.Sigmask(defs.SIGKILL) | defs.Sigmask(defs.SIGSTOP) | defs.Sigmask(defs.SIGUSR1)
	ts.Sigprocmask(defs.SIG_BLOCK, &set, nil)
	var got uint64
	ts.Sigprocmask(defs.SIG_SETMASK, nil, &got)
	if got&(defs.Sigmask(defs.SIGKILL)|defs.Sigmask(defs.SIGSTOP)) != 0 {
		t.Fatalf("SIGKILL/SIGSTOP ended up blocked: mask %#x", got)
	}
	if got&defs.Sigmask(defs.SIGUSR1) == 0 {
		t.Fatalf("SIGUSR1 should still be blocked: mask %#x", got)
	}
}

func TestSigaltstackMinSizeBoundary(t *testing.T) {
	ts := NewThreadState()
	tests := []struct {
		name    string
		size    uintptr
		wantErr bool
	}{
		{"exactly MINSIGSTKSZ", defs.MINSIGSTKSZ, false},
		{"one byte under", defs.MINSIGSTKSZ - 1, true},
		{"comfortably over", defs.MINSIGSTKSZ * 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ss := &AltStack_t{SP: 0x1000, Size: tt.size}
			err := ts.Sigaltstack(ss, nil)
			if tt.wantErr && err == 0 {
				t.Fatalf("Sigaltstack(size=%d) succeeded, want ENOMEM", tt.size)
			}
			if !tt.wantErr && err != 0 {
				t.Fatalf("Sigaltstack(size=%d): errno %d, want success", tt.size, err)
			}
		})
	}
}

func TestSetActionRejectsHandlerForKillAndStop(t *testing.T) {
	ps := NewProcessState()
	for _, signo := range []defs.Signo_t{defs.SIGKILL, defs.SIGSTOP} {
		if err := ps.SetAction(signo, Action_t{Kind: ActionHandler, Addr: 0x4000}); err == 0 {
			t.Fatalf("SetAction(signo=%d, ActionHandler) succeeded, want EINVAL", signo)
		}
	}
	if err := ps.SetAction(defs.SIGUSR1, Action_t{Kind: ActionHandler, Addr: 0x4000}); err != 0 {
		t.Fatalf("SetAction(SIGUSR1, ActionHandler): errno %d", err)
	}
}

func TestRealtimeSignalsQueueFIFOWithoutCollapsing(t *testing.T) {
	ts := NewThreadState()
	signo := defs.Signo_t(35) // a realtime signal, per defs.Signo_t.IsRealtime
	for i := 0; i < 3; i++ {
		ts.Send(Siginfo_t{Signo: signo, Value: int64(i)})
	}
	for i := 0; i < 3; i++ {
		info, ok := ts.pending.clearOne(signo)
		if !ok {
			t.Fatalf("expected queued realtime signal %d, found none", i)
		}
		if info.Value != int64(i) {
			t.Fatalf("realtime queue out of order: got Value=%d, want %d", info.Value, i)
		}
	}
}

func TestStandardSignalCollapsesDuplicatesKeepingFirst(t *testing.T) {
	ts := NewThreadState()
	ts.Send(Siginfo_t{Signo: defs.SIGUSR1, Value: 1})
	ts.Send(Siginfo_t{Signo: defs.SIGUSR1, Value: 2})
	info, ok := ts.pending.clearOne(defs.SIGUSR1)
	if !ok {
		t.Fatalf("expected one pending SIGUSR1")
	}
	if info.Value != 1 {
		t.Fatalf("got Value=%d, want the first enqueued (1)", info.Value)
	}
	if _, ok := ts.pending.clearOne(defs.SIGUSR1); ok {
		t.Fatalf("a second SIGUSR1 was pending; standard signals must collapse to at most one")
	}
}

func TestSigtimedwaitTimesOut(t *testing.T) {
	ts := NewThreadState()
	ps := NewProcessState()
	start := time.Now()
	_, err := ts.Sigtimedwait(ps, defs.Sigmask(defs.SIGUSR1), 20*time.Millisecond)
	if err != -defs.EAGAIN && err != -defs.ETIMEDOUT {
		t.Fatalf("Sigtimedwait with nothing pending returned errno %d", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("Sigtimedwait returned before its timeout elapsed")
	}
}
