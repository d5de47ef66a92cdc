package sys

import (
	"time"

	"biscuit/defs"
)

// uname_t fields are 65-byte NUL-padded strings (struct utsname).
const unameFieldLen = 65

func sysUname(c *Ctx_t, bufva uintptr) (int, defs.Err_t) {
	fields := []string{"biscuit", "localhost", "1.0.0", "#1", "x86_64", ""}
	for i, s := range fields {
		b := make([]byte, unameFieldLen)
		copy(b, s)
		if err := c.aspace().WriteBytes(bufva+uintptr(i*unameFieldLen), b); err != 0 {
			return 0, err
		}
	}
	return 0, 0
}

func sysGettimeofday(c *Ctx_t, tvva uintptr) (int, defs.Err_t) {
	now := time.Now()
	if err := c.aspace().WriteN(tvva, 8, int(now.Unix())); err != 0 {
		return 0, err
	}
	return 0, c.aspace().WriteN(tvva+8, 8, int(now.Nanosecond()/1000))
}

// clockid_t values this core understands (spec §6).
const (
	clockRealtime  = 0
	clockMonotonic = 1
)

func sysClockGettime(c *Ctx_t, clockid int, tsva uintptr) (int, defs.Err_t) {
	var now time.Time
	switch clockid {
	case clockRealtime, clockMonotonic:
		now = time.Now()
	default:
		return 0, -defs.EINVAL
	}
	if err := c.aspace().WriteN(tsva, 8, int(now.Unix())); err != 0 {
		return 0, err
	}
	return 0, c.aspace().WriteN(tsva+8, 8, now.Nanosecond())
}

// sysTimes implements times(2): four clock_t fields (utime, stime,
// cutime, cstime) in clock ticks (spec §6, supplementing the
// distilled spec with accounting already tracked by accnt.Accnt_t).
func sysTimes(c *Ctx_t, bufva uintptr) (int, defs.Err_t) {
	const clkTck = 100 // CLOCKS_PER_SEC-equivalent used for the tick conversion
	toTicks := func(ns int64) int {
		return int(ns * clkTck / int64(time.Second))
	}
	c.Proc.Accnt.Lock()
	utime, stime := c.Proc.Accnt.Userns, c.Proc.Accnt.Sysns
	c.Proc.Accnt.Unlock()
	if bufva == 0 {
		return toTicks(utime + stime), 0
	}
	if err := c.aspace().WriteN(bufva, 8, toTicks(utime)); err != 0 {
		return 0, err
	}
	if err := c.aspace().WriteN(bufva+8, 8, toTicks(stime)); err != 0 {
		return 0, err
	}
	if err := c.aspace().WriteN(bufva+16, 8, 0); err != 0 {
		return 0, err
	}
	return 0, c.aspace().WriteN(bufva+24, 8, 0)
}
