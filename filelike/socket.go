package filelike

import (
	"biscuit/defs"
	"biscuit/fdops"
	"biscuit/stat"
)

// Socket_t is a placeholder file-like for the socket kind named in the
// data model. The network stack itself is an external collaborator;
// this stub only occupies an FD table slot and reports ENOSYS for any
// I/O, so socket(2)-family syscalls can allocate a descriptor without
// a real transport behind it.
type Socket_t struct {
	Domain, Typ, Proto int
	nb                 bool
}

func NewSocket(domain, typ, proto int) *Socket_t {
	return &Socket_t{Domain: domain, Typ: typ, Proto: proto}
}

func (s *Socket_t) Read(dst fdops.Userio_i) (int, defs.Err_t)  { return 0, -defs.ENOSYS }
func (s *Socket_t) Write(src fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.ENOSYS }
func (s *Socket_t) Close() defs.Err_t                          { return 0 }
func (s *Socket_t) Reopen() defs.Err_t                         { return 0 }
func (s *Socket_t) Lseek(int, int) (int, defs.Err_t)           { return 0, -defs.EINVAL }
func (s *Socket_t) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(uint(stat.S_IFSOCK))
	return 0
}
func (s *Socket_t) Pollable() (bool, bool) { return false, false }
func (s *Socket_t) Nonblock() bool         { return s.nb }
func (s *Socket_t) SetNonblock(v bool)     { s.nb = v }
func (s *Socket_t) Pathi() interface{}     { return nil }

var _ fdops.Fdops_i = (*Socket_t)(nil)
