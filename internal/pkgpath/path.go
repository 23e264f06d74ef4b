// Package pkgpath implements the dotted, namespace-aware package path
// identifier described in 
package pkgpath

import (
	"strings"
)

// namespaceOrder fixes the sort priority of well-known top-level
// namespaces; anything not listed here sorts after all of them, ordered
// lexicographically among themselves.
var namespaceOrder = []string{"org", "com", "pvt"}

func namespaceRank(ns string) int {
	ns = strings.ToLower(ns)
	for i, n := range namespaceOrder {
		if n == ns {
			return i
		}
	}
	return len(namespaceOrder)
}

// Path is a dotted sequence of identifier segments, e.g. "org.sw.demo.pkg".
// Equality and hashing are case-insensitive; Segments/String preserve the
// casing the path was constructed with.
type Path struct {
	segments []string
}

// New splits a dotted path string into a Path. Empty segments (leading,
// trailing, or doubled dots) are rejected.
func New(dotted string) (Path, bool) {
	if dotted == "" {
		return Path{}, false
	}
	parts := strings.Split(dotted, ".")
	for _, p := range parts {
		if p == "" {
			return Path{}, false
		}
	}
	return Path{segments: parts}, true
}

// MustNew is New but panics on malformed input; used for literals.
func MustNew(dotted string) Path {
	p, ok := New(dotted)
	if !ok {
		panic("pkgpath: invalid path " + dotted)
	}
	return p
}

// String renders the path with its original casing.
func (p Path) String() string {
	return strings.Join(p.segments, ".")
}

// Segments returns a copy of the path's dotted segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Namespace returns the first segment (the top-level namespace), if any.
func (p Path) Namespace() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[0]
}

// Owner returns the second segment, conventionally the package owner/org
// directly under the namespace, if present.
func (p Path) Owner() string {
	if len(p.segments) < 2 {
		return ""
	}
	return p.segments[1]
}

// Tail returns the path with its leading n segments removed.
func (p Path) Tail(n int) Path {
	if n >= len(p.segments) {
		return Path{}
	}
	return Path{segments: append([]string(nil), p.segments[n:]...)}
}

// Equal reports case-insensitive equality.
func (p Path) Equal(o Path) bool {
	return p.lower() == o.lower()
}

func (p Path) lower() string {
	return strings.ToLower(p.String())
}

// Hash returns the lowercased dotted string, suitable for use as a map key
// or as input to a content hash.
func (p Path) Hash() string {
	return p.lower()
}

// Empty reports whether the path has no segments.
func (p Path) Empty() bool {
	return len(p.segments) == 0
}

// Compare orders paths first by namespace priority (per namespaceOrder),
// then lexicographically case-insensitively within the same namespace.
func Compare(a, b Path) int {
	ra, rb := namespaceRank(a.Namespace()), namespaceRank(b.Namespace())
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	la, lb := a.lower(), b.lower()
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	default:
		return 0
	}
}

// Less is a convenience for sort.Slice callbacks.
func Less(a, b Path) bool {
	return Compare(a, b) < 0
}
