// Package critbit implements an ordered map from 128-bit keys to values,
// stored as a crit-bit (binary prefix) tree over two dense arrays.
//
// Inner nodes hold a critical bit and two children; outer nodes hold a key,
// its value and a back-link to their parent. Nodes are addressed by array
// index, never by pointer, and deletion swap-removes the vacated slots and
// relinks whatever node was moved into them.
//
// A Tree is not safe for concurrent use.
package critbit

import (
	"errors"
	"math"

	"lukechampine.com/uint128"
)

// Key is the fixed-width key type of a Tree.
type Key = uint128.Uint128

// MaxEntries is the largest number of keys a Tree can hold. One bit of the
// 32-bit index space is reserved for the inner/outer tag.
const MaxEntries = 1 << 31

// noParent marks the root in parent back-links.
const noParent = math.MaxUint32

var (
	ErrDuplicateKey     = errors.New("critbit: duplicate key")
	ErrKeyNotFound      = errors.New("critbit: key not found")
	ErrEmptyIndex       = errors.New("critbit: empty index")
	ErrCapacityExceeded = errors.New("critbit: capacity exceeded")
)

type refKind uint8

const (
	refNone refKind = iota
	refInner
	refOuter
)

// ref addresses either an inner or an outer node.
type ref struct {
	kind refKind
	idx  uint32
}

func innerRef(i uint32) ref { return ref{kind: refInner, idx: i} }
func outerRef(i uint32) ref { return ref{kind: refOuter, idx: i} }

type innerNode struct {
	crit   uint8
	parent uint32
	left   ref // keys with bit crit unset
	right  ref // keys with bit crit set
}

type outerNode[V any] struct {
	key    Key
	value  V
	parent uint32
}

// Tree is a crit-bit tree keyed by Key.
type Tree[V any] struct {
	inner []innerNode
	outer []outerNode[V]
	root  ref
	limit int
}

// Option configures a Tree.
type Option func(*options)

type options struct {
	capacity int
}

// WithCapacity lowers the maximum number of entries below MaxEntries.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 && n < MaxEntries {
			o.capacity = n
		}
	}
}

// New returns an empty tree.
func New[V any](opts ...Option) *Tree[V] {
	o := options{capacity: MaxEntries}
	for _, opt := range opts {
		opt(&o)
	}
	return &Tree[V]{limit: o.capacity}
}

// Len returns the number of stored keys.
func (t *Tree[V]) Len() int { return len(t.outer) }

// Contains reports whether key is stored.
func (t *Tree[V]) Contains(key Key) bool {
	_, err := t.find(key)
	return err == nil
}

// Get returns the value stored under key.
func (t *Tree[V]) Get(key Key) (V, error) {
	i, err := t.find(key)
	if err != nil {
		var zero V
		return zero, err
	}
	return t.outer[i].value, nil
}

// Ptr returns a pointer to the value stored under key. The pointer is only
// valid until the next Insert or Remove.
func (t *Tree[V]) Ptr(key Key) (*V, error) {
	i, err := t.find(key)
	if err != nil {
		return nil, err
	}
	return &t.outer[i].value, nil
}

// Min returns the smallest stored key.
func (t *Tree[V]) Min() (Key, error) {
	if t.root.kind == refNone {
		return Key{}, ErrEmptyIndex
	}
	return t.outer[t.extreme(t.root, false)].key, nil
}

// Max returns the largest stored key.
func (t *Tree[V]) Max() (Key, error) {
	if t.root.kind == refNone {
		return Key{}, ErrEmptyIndex
	}
	return t.outer[t.extreme(t.root, true)].key, nil
}

// Insert stores value under key.
func (t *Tree[V]) Insert(key Key, value V) error {
	if t.root.kind == refNone {
		t.outer = append(t.outer, outerNode[V]{key: key, value: value, parent: noParent})
		t.root = outerRef(0)
		return nil
	}

	closest := t.closest(key)
	if t.outer[closest].key.Equals(key) {
		return ErrDuplicateKey
	}
	if len(t.outer) >= t.limit {
		return ErrCapacityExceeded
	}
	crit := critBit(t.outer[closest].key, key)

	// Climb from the closest leaf until the parent tests a more significant
	// bit than crit; the new inner node goes between that parent and child.
	child := outerRef(closest)
	parent := t.outer[closest].parent
	for parent != noParent && t.inner[parent].crit < crit {
		child = innerRef(parent)
		parent = t.inner[parent].parent
	}

	in := uint32(len(t.inner))
	leaf := uint32(len(t.outer))
	node := innerNode{crit: crit, parent: parent}
	if bitSet(key, crit) {
		node.left, node.right = child, outerRef(leaf)
	} else {
		node.left, node.right = outerRef(leaf), child
	}
	t.inner = append(t.inner, node)
	t.outer = append(t.outer, outerNode[V]{key: key, value: value, parent: in})

	t.setParent(child, in)
	t.replaceChild(parent, child, innerRef(in))
	return nil
}

// Remove deletes key and returns its value.
func (t *Tree[V]) Remove(key Key) (V, error) {
	var zero V
	if t.root.kind == refNone {
		return zero, ErrKeyNotFound
	}
	leaf := t.closest(key)
	if !t.outer[leaf].key.Equals(key) {
		return zero, ErrKeyNotFound
	}
	value := t.outer[leaf].value

	parent := t.outer[leaf].parent
	if parent == noParent {
		t.outer = t.outer[:0]
		t.root = ref{}
		return value, nil
	}

	sibling := t.inner[parent].left
	if sibling == outerRef(leaf) {
		sibling = t.inner[parent].right
	}
	grand := t.inner[parent].parent
	t.setParent(sibling, grand)
	t.replaceChild(grand, innerRef(parent), sibling)

	t.swapRemoveInner(parent)
	t.swapRemoveOuter(leaf)
	return value, nil
}

// Successor returns the smallest stored key greater than key, which must
// itself be stored. ok is false when key is the maximum.
func (t *Tree[V]) Successor(key Key) (next Key, ok bool, err error) {
	return t.neighbor(key, true)
}

// Predecessor returns the largest stored key smaller than key, which must
// itself be stored. ok is false when key is the minimum.
func (t *Tree[V]) Predecessor(key Key) (prev Key, ok bool, err error) {
	return t.neighbor(key, false)
}

// Ascend calls fn for every entry in ascending key order until fn returns false.
func (t *Tree[V]) Ascend(fn func(key Key, value V) bool) {
	t.walk(false, fn)
}

// Descend calls fn for every entry in descending key order until fn returns false.
func (t *Tree[V]) Descend(fn func(key Key, value V) bool) {
	t.walk(true, fn)
}

func (t *Tree[V]) walk(descending bool, fn func(Key, V) bool) {
	if t.root.kind == refNone {
		return
	}
	i := t.extreme(t.root, descending)
	for {
		if !fn(t.outer[i].key, t.outer[i].value) {
			return
		}
		next, ok := t.step(i, !descending)
		if !ok {
			return
		}
		i = next
	}
}

func (t *Tree[V]) neighbor(key Key, right bool) (Key, bool, error) {
	i, err := t.find(key)
	if err != nil {
		return Key{}, false, err
	}
	next, ok := t.step(i, right)
	if !ok {
		return Key{}, false, nil
	}
	return t.outer[next].key, true, nil
}

// step moves from outer node i to its in-order neighbour by climbing until
// the path turns, then descending the opposite subtree.
func (t *Tree[V]) step(i uint32, right bool) (uint32, bool) {
	child := outerRef(i)
	parent := t.outer[i].parent
	for parent != noParent {
		in := &t.inner[parent]
		if right && in.left == child {
			return t.extreme(in.right, false), true
		}
		if !right && in.right == child {
			return t.extreme(in.left, true), true
		}
		child = innerRef(parent)
		parent = in.parent
	}
	return 0, false
}

// extreme descends from r always right (max) or always left (min).
func (t *Tree[V]) extreme(r ref, max bool) uint32 {
	for r.kind == refInner {
		if max {
			r = t.inner[r.idx].right
		} else {
			r = t.inner[r.idx].left
		}
	}
	return r.idx
}

func (t *Tree[V]) find(key Key) (uint32, error) {
	if t.root.kind == refNone {
		return 0, ErrEmptyIndex
	}
	i := t.closest(key)
	if !t.outer[i].key.Equals(key) {
		return 0, ErrKeyNotFound
	}
	return i, nil
}

// closest follows the critical bits of key down to a leaf. The leaf shares
// the longest prefix with key among all stored keys but may not equal it.
func (t *Tree[V]) closest(key Key) uint32 {
	r := t.root
	for r.kind == refInner {
		in := &t.inner[r.idx]
		if bitSet(key, in.crit) {
			r = in.right
		} else {
			r = in.left
		}
	}
	return r.idx
}

func (t *Tree[V]) setParent(r ref, parent uint32) {
	switch r.kind {
	case refInner:
		t.inner[r.idx].parent = parent
	case refOuter:
		t.outer[r.idx].parent = parent
	}
}

// replaceChild points parent's slot holding old at repl, or the root when
// parent is the sentinel.
func (t *Tree[V]) replaceChild(parent uint32, old, repl ref) {
	if parent == noParent {
		t.root = repl
		return
	}
	in := &t.inner[parent]
	if in.left == old {
		in.left = repl
	} else {
		in.right = repl
	}
}

func (t *Tree[V]) swapRemoveInner(i uint32) {
	last := uint32(len(t.inner) - 1)
	if i != last {
		moved := t.inner[last]
		t.inner[i] = moved
		t.replaceChild(moved.parent, innerRef(last), innerRef(i))
		t.setParent(moved.left, i)
		t.setParent(moved.right, i)
	}
	t.inner = t.inner[:last]
}

func (t *Tree[V]) swapRemoveOuter(i uint32) {
	last := uint32(len(t.outer) - 1)
	if i != last {
		moved := t.outer[last]
		t.outer[i] = moved
		t.replaceChild(moved.parent, outerRef(last), outerRef(i))
	}
	var zero outerNode[V]
	t.outer[last] = zero
	t.outer = t.outer[:last]
}

func bitSet(k Key, bit uint8) bool {
	return k.Rsh(uint(bit)).Lo&1 == 1
}

// critBit returns the most significant bit position at which a and b
// differ. It binary-searches the XOR for its highest set bit: shifting the
// XOR right by the answer leaves exactly one. a and b must differ.
func critBit(a, b Key) uint8 {
	x := a.Xor(b)
	lo, hi := uint(0), uint(127)
	for {
		mid := (lo + hi) >> 1
		s := x.Rsh(mid)
		switch {
		case s.Equals64(1):
			return uint8(mid)
		case s.IsZero():
			hi = mid - 1
		default:
			lo = mid + 1
		}
	}
}
