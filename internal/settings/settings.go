// Package settings implements the recursive settings tree: a node whose
// leaf value is one of {empty, string, array, map,
// null}, carrying three flags (used_in_hash, ignore_in_comparison,
// serializable) that control hashing, comparison, and JSON round-trip.
package settings

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// Kind is the discriminant of a Node's value.
type Kind int

const (
	KindEmpty Kind = iota
	KindNull
	KindString
	KindArray
	KindMap
)

// ErrInvalidKeyOnScalar is returned by Node.Child when indexing into a
// node that already holds a non-empty scalar value.
var ErrInvalidKeyOnScalar = errors.New("settings: invalid key on scalar")

// Node is one entry of the settings tree.
type Node struct {
	kind  Kind
	str   string
	arr   []*Node
	m     map[string]*Node
	order []string // insertion order of m, for stable JSON output only

	usedInHash          bool
	ignoreInComparison  bool
	serializableField   bool
}

// New returns an empty root node with default flags.
func New() *Node {
	return &Node{kind: KindEmpty, usedInHash: true, serializableField: true}
}

// NewString returns a string-valued node with default flags.
func NewString(s string) *Node {
	return &Node{kind: KindString, str: s, usedInHash: true, serializableField: true}
}

// SetUsedInHash sets the used_in_hash flag (default true).
func (n *Node) SetUsedInHash(b bool) *Node { n.usedInHash = b; return n }

// SetIgnoreInComparison sets the ignore_in_comparison flag (default false).
func (n *Node) SetIgnoreInComparison(b bool) *Node { n.ignoreInComparison = b; return n }

// SetSerializable sets the serializable flag (default true). Setting false
// also forces usedInHash and ignoreInComparison, since non-serializable
// nodes never contribute to hash or comparison.
func (n *Node) SetSerializable(b bool) *Node {
	n.serializableField = b
	if !b {
		n.usedInHash = false
		n.ignoreInComparison = true
	}
	return n
}

func (n *Node) UsedInHash() bool         { return n.usedInHash }
func (n *Node) IgnoreInComparison() bool { return n.ignoreInComparison }
func (n *Node) Serializable() bool       { return n.serializableField }
func (n *Node) Kind() Kind               { return n.kind }
func (n *Node) String() string           { return n.str }

// Empty reports whether the node carries no value at all.
func (n *Node) Empty() bool { return n.kind == KindEmpty }

// Child returns the child at key k, creating an empty map child if the key
// does not yet exist. Fails if the node currently holds a non-empty scalar
// (string) value, since indexing into a scalar is undefined.
func (n *Node) Child(k string) (*Node, error) {
	if n.kind == KindString && n.str != "" {
		return nil, ErrInvalidKeyOnScalar
	}
	if n.kind == KindEmpty || n.kind == KindNull {
		n.kind = KindMap
		n.m = make(map[string]*Node)
	}
	if n.kind != KindMap {
		return nil, ErrInvalidKeyOnScalar
	}
	if c, ok := n.m[k]; ok {
		return c, nil
	}
	c := New()
	n.m[k] = c
	n.order = append(n.order, k)
	return c, nil
}

// Get returns the child at key k without creating it; ok is false if k is
// absent or n is not a map.
func (n *Node) Get(k string) (*Node, bool) {
	if n.kind != KindMap {
		return nil, false
	}
	c, ok := n.m[k]
	return c, ok
}

// Keys returns the map's keys in insertion order.
func (n *Node) Keys() []string {
	if n.kind != KindMap {
		return nil
	}
	return append([]string(nil), n.order...)
}

// Array returns the node's array elements (nil if not an array).
func (n *Node) Array() []*Node { return n.arr }

// AppendArray appends a child to the node's array value, converting an
// empty node into an array on first use.
func (n *Node) AppendArray(c *Node) *Node {
	if n.kind == KindEmpty {
		n.kind = KindArray
	}
	n.arr = append(n.arr, c)
	return n
}

// MergeMissing fills in missing keys: for each key in rhs,
// copy into self if self lacks it; recurse where both are maps; otherwise
// leave self untouched.
func (n *Node) MergeMissing(rhs *Node) {
	if rhs.kind != KindMap {
		return
	}
	if n.kind == KindEmpty {
		n.kind = KindMap
		n.m = make(map[string]*Node)
	}
	for _, k := range rhs.order {
		rv := rhs.m[k]
		if lv, ok := n.m[k]; ok {
			if lv.kind == KindMap && rv.kind == KindMap {
				lv.MergeMissing(rv)
			}
			continue
		}
		n.m[k] = rv.clone()
		n.order = append(n.order, k)
	}
}

// MergeAndAssign assigns over existing keys: like MergeMissing,
// but on conflict the rhs value wins (maps still recurse).
func (n *Node) MergeAndAssign(rhs *Node) {
	if rhs.kind != KindMap {
		*n = *rhs.clone()
		return
	}
	if n.kind != KindMap {
		n.kind = KindMap
		n.m = make(map[string]*Node)
		n.arr = nil
		n.str = ""
	}
	for _, k := range rhs.order {
		rv := rhs.m[k]
		if lv, ok := n.m[k]; ok && lv.kind == KindMap && rv.kind == KindMap {
			lv.MergeAndAssign(rv)
			continue
		}
		n.m[k] = rv.clone()
		if !contains(n.order, k) {
			n.order = append(n.order, k)
		}
	}
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func (n *Node) clone() *Node {
	c := &Node{
		kind:               n.kind,
		str:                n.str,
		usedInHash:         n.usedInHash,
		ignoreInComparison: n.ignoreInComparison,
		serializableField:  n.serializableField,
	}
	if n.arr != nil {
		c.arr = make([]*Node, len(n.arr))
		for i, e := range n.arr {
			c.arr[i] = e.clone()
		}
	}
	if n.m != nil {
		c.m = make(map[string]*Node, len(n.m))
		c.order = append([]string(nil), n.order...)
		for k, v := range n.m {
			c.m[k] = v.clone()
		}
	}
	return c
}

// IsSubsetOf reports whether every non-ignored,
// non-empty key of n must be present in other with a matching value; maps
// recurse.
func (n *Node) IsSubsetOf(other *Node) bool {
	if n.kind != KindMap {
		return true
	}
	if other.kind != KindMap {
		return false
	}
	for _, k := range n.order {
		lv := n.m[k]
		if lv.ignoreInComparison || lv.Empty() {
			continue
		}
		rv, ok := other.m[k]
		if !ok {
			return false
		}
		if lv.kind == KindMap && rv.kind == KindMap {
			if !lv.IsSubsetOf(rv) {
				return false
			}
			continue
		}
		if !lv.equalValue(rv) {
			return false
		}
	}
	return true
}

func (n *Node) equalValue(o *Node) bool {
	if n.kind != o.kind {
		return false
	}
	switch n.kind {
	case KindString:
		return n.str == o.str
	case KindArray:
		if len(n.arr) != len(o.arr) {
			return false
		}
		for i := range n.arr {
			if !n.arr[i].equalValue(o.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return n.IsSubsetOf(o) && o.IsSubsetOf(n)
	default:
		return true
	}
}

// Hash computes the stable, insertion-order-independent hash of the tree:
// map hashes combine (key_hash, value_hash) pairs for every child whose
// used_in_hash is true and whose value hash is nonzero; arrays hash their
// elements in order.
func (n *Node) Hash() uint64 {
	return n.hash()
}

func (n *Node) hash() uint64 {
	switch n.kind {
	case KindEmpty, KindNull:
		return 0
	case KindString:
		return fnv1a([]byte(n.str))
	case KindArray:
		h := fnv1aInit()
		for _, e := range n.arr {
			h = fnv1aFold(h, e.hash())
		}
		return h
	case KindMap:
		var acc uint64
		for _, k := range n.order {
			c := n.m[k]
			if !c.usedInHash {
				continue
			}
			vh := c.hash()
			if vh == 0 {
				continue
			}
			kh := fnv1a([]byte(k))
			acc ^= combine(kh, vh)
		}
		return acc
	default:
		return 0
	}
}

func combine(a, b uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], a)
	binary.LittleEndian.PutUint64(buf[8:16], b)
	sum := sha256.Sum256(buf[:])
	return binary.LittleEndian.Uint64(sum[:8])
}

func fnv1aInit() uint64 { return 14695981039346656037 }

func fnv1a(data []byte) uint64 {
	h := fnv1aInit()
	return fnv1aFoldBytes(h, data)
}

func fnv1aFoldBytes(h uint64, data []byte) uint64 {
	const prime = 1099511628211
	for _, b := range data {
		h ^= uint64(b)
		h *= prime
	}
	return h
}

func fnv1aFold(h uint64, v uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return fnv1aFoldBytes(h, buf[:])
}

// ToJSON serializes every serializable node, plus sidecar keys
// "_used_in_hash"="false" and "_ignore_in_comparison"="true" for any
// non-default flag, matching 
func (n *Node) ToJSON() (json.RawMessage, error) {
	v, err := n.toJSONValue()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (n *Node) toJSONValue() (interface{}, error) {
	switch n.kind {
	case KindEmpty:
		return map[string]interface{}{}, nil
	case KindNull:
		return nil, nil
	case KindString:
		return n.str, nil
	case KindArray:
		out := make([]interface{}, 0, len(n.arr))
		for _, e := range n.arr {
			if !e.serializableField {
				continue
			}
			v, err := e.toJSONValue()
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case KindMap:
		out := make(map[string]interface{})
		for _, k := range n.order {
			c := n.m[k]
			if !c.serializableField {
				continue
			}
			v, err := c.toJSONValue()
			if err != nil {
				return nil, err
			}
			out[k] = v
			if !c.usedInHash {
				out[k+"_used_in_hash"] = "false"
			}
			if c.ignoreInComparison {
				out[k+"_ignore_in_comparison"] = "true"
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("settings: unknown kind %d", n.kind)
	}
}

// FromJSON parses a JSON document into a settings tree, folding
// "_used_in_hash"/"_ignore_in_comparison" sidecar keys back into flags on
// their corresponding sibling key.
func FromJSON(data []byte) (*Node, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "settings: parse json")
	}
	return fromValue(raw)
}

func fromValue(v interface{}) (*Node, error) {
	switch tv := v.(type) {
	case nil:
		return &Node{kind: KindNull, usedInHash: true, serializableField: true}, nil
	case string:
		return NewString(tv), nil
	case []interface{}:
		n := New()
		n.kind = KindArray
		for _, e := range tv {
			c, err := fromValue(e)
			if err != nil {
				return nil, err
			}
			n.arr = append(n.arr, c)
		}
		return n, nil
	case map[string]interface{}:
		n := New()
		n.kind = KindMap
		n.m = make(map[string]*Node)
		keys := make([]string, 0, len(tv))
		for k := range tv {
			if hasSuffix(k, "_used_in_hash") || hasSuffix(k, "_ignore_in_comparison") {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			c, err := fromValue(tv[k])
			if err != nil {
				return nil, err
			}
			if s, ok := tv[k+"_used_in_hash"].(string); ok && s == "false" {
				c.usedInHash = false
			}
			if s, ok := tv[k+"_ignore_in_comparison"].(string); ok && s == "true" {
				c.ignoreInComparison = true
			}
			n.m[k] = c
			n.order = append(n.order, k)
		}
		return n, nil
	default:
		// numbers/bools are serialized through as their string form
		return NewString(fmt.Sprintf("%v", tv)), nil
	}
}

func hasSuffix(s, suf string) bool {
	return len(s) >= len(suf) && s[len(s)-len(suf):] == suf
}
