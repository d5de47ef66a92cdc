// Package stats holds the kernel's compile-time-gated performance
// counters. They are off by default (as in the original kernel) so
// that hot paths like the syscall dispatcher pay nothing for
// instrumentation unless Stats or Timing is flipped on and the
// package rebuilt.
package stats

import (
	"io"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/pprof/profile"
)

const Stats = false
const Timing = false

// Nsyscalls counts dispatched calls per syscall number; Syscalls is the
// running total across all numbers. Both are maintained by the
// dispatcher in package sys.
var Nsyscalls [512]int64
var Syscalls int64

// Now returns a nanosecond timestamp (0 unless Stats or Timing is
// on). The original kernel reads the TSC directly (runtime.Rdtsc);
// that intrinsic has no equivalent outside a custom runtime, so timing
// here is wall-clock nanoseconds from time.Now().UnixNano(), which is
// also what Timing accumulates.
func Now() uint64 {
	if Stats || Timing {
		return uint64(time.Now().UnixNano())
	}
	return 0
}

/// Counter_t is a statistical counter.
type Counter_t int64

/// Cycles_t holds an elapsed-nanosecond accumulator.
type Cycles_t int64

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

/// Add adds elapsed nanoseconds since mark to the accumulator.
func (c *Cycles_t) Add(mark uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(Now()-mark))
	}
}

// WriteProfile renders the per-syscall-number dispatch counters as a
// pprof sample profile (one "syscalls" sample type, the syscall number
// as the sole location), so `go tool pprof` can chart the dispatch
// histogram without the kernel core depending on pprof's CPU sampler.
func WriteProfile(w io.Writer) error {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "syscalls", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "syscall_number", Unit: "count"},
		Period:     1,
	}
	fn := &profile.Function{ID: 1, Name: "dispatch"}
	prof.Function = []*profile.Function{fn}
	locID := uint64(1)
	for num, n := range Nsyscalls {
		if n == 0 {
			continue
		}
		loc := &profile.Location{
			ID:   locID,
			Line: []profile.Line{{Function: fn, Line: int64(num)}},
		}
		prof.Location = append(prof.Location, loc)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{n},
			Label:    map[string][]string{"syscall": {strconv.Itoa(num)}},
		})
		locID++
	}
	return prof.Write(w)
}

/// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
