// Package path canonicalizes filesystem paths and emulates hard links
// with an in-memory table, since the on-disk filesystem is an external
// collaborator out of scope for this core (spec §1, §3).
package path

import (
	"sync"

	"biscuit/defs"
	"biscuit/ustr"
)

// Canonicalize resolves "." and ".." components and collapses
// repeated slashes, returning an absolute path. p must already be
// absolute (callers join a relative path onto the cwd first).
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	parts := splitNonEmpty(p)
	var stack []ustr.Ustr
	for _, raw := range parts {
		c := raw.Canon()
		switch {
		case c.Isdot():
			// no-op
		case c.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, c)
		}
	}
	out := ustr.MkUstrRoot()
	for i, c := range stack {
		if i == 0 {
			out = append(ustr.Ustr{}, '/')
			out = append(out, c...)
		} else {
			out = out.Extend(c)
		}
	}
	return out
}

func splitNonEmpty(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := -1
	for i := 0; i <= len(p); i++ {
		if i < len(p) && p[i] != '/' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			parts = append(parts, p[start:i])
			start = -1
		}
	}
	return parts
}

// link_t records a hard link's target and how many names point to it.
type link_t struct {
	target string
	nlink  int
}

// HardlinkTable_t maps a canonicalized path to a target path, with a
// refcount on the target so unlink can tell when the last name is
// gone. Guarded by a single RW lock per spec §5.
type HardlinkTable_t struct {
	mu    sync.RWMutex
	links map[string]*link_t
}

// NewHardlinkTable returns an empty hardlink table.
func NewHardlinkTable() *HardlinkTable_t {
	return &HardlinkTable_t{links: make(map[string]*link_t)}
}

// Link records newpath as an additional name for target. Returns
// EEXIST if newpath is already linked.
func (h *HardlinkTable_t) Link(target, newpath ustr.Ustr) defs.Err_t {
	h.mu.Lock()
	defer h.mu.Unlock()
	np := newpath.String()
	if _, ok := h.links[np]; ok {
		return -defs.EEXIST
	}
	tp := target.String()
	if l, ok := h.links[tp]; ok {
		l.nlink++
		h.links[np] = &link_t{target: l.target, nlink: 0}
		return 0
	}
	h.links[tp] = &link_t{target: tp, nlink: 2}
	h.links[np] = &link_t{target: tp, nlink: 0}
	return 0
}

// Unlink removes p's name. Returns ENOENT if p is not linked.
func (h *HardlinkTable_t) Unlink(p ustr.Ustr) defs.Err_t {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := p.String()
	l, ok := h.links[key]
	if !ok {
		return -defs.ENOENT
	}
	if real, ok := h.links[l.target]; ok {
		real.nlink--
		if real.nlink <= 0 {
			delete(h.links, l.target)
		}
	}
	delete(h.links, key)
	return 0
}

// Resolve follows p to its underlying target path, returning p
// unchanged if it carries no hard link.
func (h *HardlinkTable_t) Resolve(p ustr.Ustr) ustr.Ustr {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if l, ok := h.links[p.String()]; ok {
		return ustr.Ustr(l.target)
	}
	return p
}
