package vm

// Flags records an area's (or a fault's requested) access rights.
// Areas carry the permissions a mapping grants; callers into the
// user-pointer validator and the fault handler pass the access they
// need, checked as a subset test against the covering area's Flags.
type Flags uint

const (
	FlagRead Flags = 1 << iota
	FlagWrite
	FlagExec
)

// Has reports whether f grants every bit set in want.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}
