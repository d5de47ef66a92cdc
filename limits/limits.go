package limits

import "unsafe"
import "sync/atomic"

import "biscuit/config"

/// Lhits counts limit hits.
var Lhits int

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

/// Syslimit_t tracks system wide resource limits.
type Syslimit_t struct {
	// protected by the global pid table lock
	Sysprocs int
	// protected by the futex table's outer lock
	Futexes int
	// per-process FD table capacity (spec §3: "flat slot array of
	// capacity 1024")
	Fds int
	// pipes currently open, counted across all processes
	Pipes Sysatomic_t
	// physical frames the simulated allocator will hand out; each Alloc
	// mapping fault or populate consumes one until freed
	Frames int
	// queued realtime siginfo entries, across all threads
	Sigqueue Sysatomic_t
}

/// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs: 1e4,
		Futexes:  1024,
		Fds:      config.FDTableCapacity,
		Pipes:    1e4,
		Frames:   1 << 16,
		Sigqueue: 1e5,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount.
/// It returns true on success.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

/// Take decrements the limit and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
