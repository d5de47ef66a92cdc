package filelike

import (
	"io"

	"biscuit/defs"
	"biscuit/fdops"
	"biscuit/stat"
)

// Stdio_t adapts a host stream (stdin/stdout/stderr of the process
// running this kernel core) to the Fdops_i capability set, so
// testcases launched by cmd/kernel get ordinary console I/O.
type Stdio_t struct {
	r io.Reader
	w io.Writer
}

// NewStdio builds a console file-like; r or w may be nil for a
// write-only or read-only stream respectively (stdin has no w, stdout
// and stderr have no r).
func NewStdio(r io.Reader, w io.Writer) *Stdio_t {
	return &Stdio_t{r: r, w: w}
}

func (s *Stdio_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if s.r == nil {
		return 0, -defs.EINVAL
	}
	buf := make([]byte, 4096)
	n, err := s.r.Read(buf)
	if n == 0 && err != nil {
		return 0, 0
	}
	wrote, werr := dst.Uiowrite(buf[:n])
	if werr != 0 {
		return 0, werr
	}
	return wrote, 0
}

func (s *Stdio_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if s.w == nil {
		return 0, -defs.EINVAL
	}
	total := 0
	buf := make([]byte, 4096)
	for src.Remain() > 0 {
		n, err := src.Uioread(buf)
		if err != 0 {
			return total, err
		}
		if n == 0 {
			break
		}
		if _, werr := s.w.Write(buf[:n]); werr != nil {
			return total, -defs.EPIPE
		}
		total += n
	}
	return total, 0
}

func (s *Stdio_t) Close() defs.Err_t    { return 0 }
func (s *Stdio_t) Reopen() defs.Err_t   { return 0 }
func (s *Stdio_t) Lseek(int, int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (s *Stdio_t) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(uint(stat.S_IFCHR))
	return 0
}
func (s *Stdio_t) Pollable() (bool, bool) { return true, true }
func (s *Stdio_t) Nonblock() bool         { return false }
func (s *Stdio_t) SetNonblock(bool)       {}
func (s *Stdio_t) Pathi() interface{}     { return nil }

var _ fdops.Fdops_i = (*Stdio_t)(nil)
