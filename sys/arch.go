package sys

import "biscuit/defs"

func sysArchPrctl(c *Ctx_t, code int, addr uintptr) (int, defs.Err_t) {
	v, err := ArchPrctl(c.Thread.Note, code, addr)
	return int(v), err
}
