package futex

import (
	"sync"
	"testing"
	"time"

	"biscuit/defs"
)

// cell is a minimal AtomicWord for tests, standing in for a user
// virtual-address word backed by vm.AddrSpace in the real dispatcher.
type cell struct {
	mu sync.Mutex
	v  uint32
}

func (c *cell) Load() (uint32, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v, 0
}

func (c *cell) set(v uint32) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func TestWaitReturnsEAGAINOnMismatch(t *testing.T) {
	tbl := NewTable()
	w := &cell{v: 1}
	if err := tbl.Wait(0x1000, w, 2, 0); err != -defs.EAGAIN {
		t.Fatalf("Wait with mismatched value returned errno %d, want EAGAIN", err)
	}
}

func TestWakeWakesExactlyN(t *testing.T) {
	tbl := NewTable()
	w := &cell{v: 0}
	const waiters = 3
	done := make(chan defs.Err_t, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			done <- tbl.Wait(0x2000, w, 0, 0)
		}()
	}
	// Give the waiters a chance to register before waking.
	time.Sleep(20 * time.Millisecond)

	woke := tbl.Wake(0x2000, 2)
	if woke != 2 {
		t.Fatalf("Wake(n=2) woke %d, want 2", woke)
	}
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != 0 {
				t.Fatalf("woken waiter returned errno %d, want 0", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("woken waiter %d never returned", i)
		}
	}

	// The third waiter is still blocked; wake it to let the goroutine exit.
	if woke := tbl.Wake(0x2000, 1); woke != 1 {
		t.Fatalf("final Wake(n=1) woke %d, want 1", woke)
	}
	select {
	case err := <-done:
		if err != 0 {
			t.Fatalf("third waiter returned errno %d, want 0", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("third waiter never returned")
	}
}

func TestWaitTimesOut(t *testing.T) {
	tbl := NewTable()
	w := &cell{v: 0}
	start := time.Now()
	err := tbl.Wait(0x3000, w, 0, 20*time.Millisecond)
	if err != -defs.ETIMEDOUT {
		t.Fatalf("Wait timeout returned errno %d, want ETIMEDOUT", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("Wait returned before its timeout elapsed")
	}
}

func TestEmptyQueueDroppedAfterWake(t *testing.T) {
	tbl := NewTable()
	w := &cell{v: 0}
	done := make(chan struct{})
	go func() {
		tbl.Wait(0x4000, w, 0, 0)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	if woke := tbl.Wake(0x4000, 1); woke != 1 {
		t.Fatalf("Wake woke %d, want 1", woke)
	}
	<-done

	tbl.mu.Lock()
	_, present := tbl.queues[0x4000]
	tbl.mu.Unlock()
	if present {
		t.Fatalf("queue for 0x4000 still present after its only waiter was woken")
	}
}

func TestRequeueMovesRemainingWaiters(t *testing.T) {
	tbl := NewTable()
	w := &cell{v: 0}
	const waiters = 3
	done := make(chan defs.Err_t, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			done <- tbl.Wait(0x5000, w, 0, 0)
		}()
	}
	time.Sleep(20 * time.Millisecond)

	woke := tbl.Requeue(0x5000, 1, 0x6000, 10)
	if woke != 1 {
		t.Fatalf("Requeue woke %d, want 1", woke)
	}
	select {
	case err := <-done:
		if err != 0 {
			t.Fatalf("woken waiter returned errno %d", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("requeue's woken waiter never returned")
	}

	moved := tbl.Wake(0x6000, 10)
	if moved != waiters-1 {
		t.Fatalf("Wake on 0x6000 woke %d, want %d (the requeued waiters)", moved, waiters-1)
	}
	for i := 0; i < waiters-1; i++ {
		select {
		case err := <-done:
			if err != 0 {
				t.Fatalf("requeued waiter returned errno %d", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("requeued waiter %d never returned", i)
		}
	}
}

func TestCmpRequeueRejectsStaleValue(t *testing.T) {
	tbl := NewTable()
	w := &cell{v: 42}
	n, err := tbl.CmpRequeue(0x7000, w, 99, 1, 0x8000, 1)
	if err != -defs.EAGAIN {
		t.Fatalf("CmpRequeue with stale val3 returned errno %d, want EAGAIN", err)
	}
	if n != 0 {
		t.Fatalf("CmpRequeue with stale val3 woke %d, want 0", n)
	}
}
