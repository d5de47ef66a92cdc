// Package tinfo tracks per-thread bookkeeping: liveness, kill
// requests, and the handshake a killer and its victim use to agree
// that the victim has unwound. The original kernel stashes the
// current thread's note in a per-CPU runtime slot; a Go program has no
// such hook onto its own goroutines, so here the note travels
// explicitly on a context.Context the way any other per-request state
// does in idiomatic Go.
package tinfo

import (
	"context"
	"sync"

	"biscuit/defs"
)

// Tnote_t stores per-thread state consulted by the scheduler-adjacent
// code: proc, signal delivery, and the syscall dispatcher.
type Tnote_t struct {
	State    interface{}
	Alive    bool
	Killed   bool
	Isdoomed bool
	// FSBase/GSBase hold the arch_prctl-set TLS segment bases; applying
	// them to real registers is the context-switch path's job.
	FSBase uintptr
	GSBase uintptr
	// protects Killed, Killnaps.Cond and Kerr, and is a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

// Doomed reports whether the thread is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

// Threadinfo_t tracks all live thread notes, keyed by tid.
type Threadinfo_t struct {
	Notes map[defs.Tid_t]*Tnote_t
	sync.Mutex
}

// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

type ctxKey struct{}

// WithCurrent returns a child context carrying note as the current
// thread's note. Call it once, at the point a goroutine begins acting
// as a given thread (syscall dispatch, signal delivery, clone's child
// setup), and thread ctx through from there.
func WithCurrent(ctx context.Context, note *Tnote_t) context.Context {
	if note == nil {
		panic("tinfo: nil note")
	}
	return context.WithValue(ctx, ctxKey{}, note)
}

// Current returns the thread note installed by WithCurrent. It panics
// if ctx carries none, mirroring the original's panic on a missing
// per-CPU slot: every path that reaches here is expected to run on
// behalf of some thread.
func Current(ctx context.Context) *Tnote_t {
	n, ok := ctx.Value(ctxKey{}).(*Tnote_t)
	if !ok || n == nil {
		panic("tinfo: no current thread note in context")
	}
	return n
}
