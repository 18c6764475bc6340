package btree

import (
	"bytes"
	"sort"

	"github.com/sirupsen/logrus"

	"kvcore/pkg/kverrors"
	"kvcore/pkg/storage"
)

// Tree is the B+ tree engine: search, insert, and split, allocating nodes
// directly over a storage.Storage (no transactional boundary in this path,
// per the data-flow table in spec.md §2). The root always lives at offset
// 0; nodes are appended past it and never freed (spec.md §3).
type Tree struct {
	store storage.Storage
	cfg   Config

	numNodes uint64
	log      *logrus.Logger
}

// Option configures optional Tree parameters.
type Option func(*Tree)

// WithLogger injects a logger for allocation/split diagnostics.
func WithLogger(log *logrus.Logger) Option {
	return func(t *Tree) { t.log = log }
}

// Open opens store if necessary, scans it for the first unallocated
// (all-zero) node slot to recover numNodes, and ensures the root at offset
// 0 exists (an empty leaf, if this is a brand new tree).
func Open(store storage.Storage, cfg Config, opts ...Option) (*Tree, error) {
	if cfg.NodeSize == 0 || cfg.KeyLen == 0 || cfg.ValLen == 0 {
		return nil, kverrors.Assert(kverrors.CondBlockSizeTooSmall)
	}
	if cfg.MaxInnerKeys() < 1 || cfg.MaxLeafRecords() < 1 {
		return nil, kverrors.Assert(kverrors.CondBlockSizeTooSmall)
	}

	t := &Tree{store: store, cfg: cfg}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logrus.StandardLogger()
	}

	if !store.IsOpen() {
		if err := store.Open(); err != nil {
			return nil, err
		}
	}

	n, err := countAllocatedNodes(store, cfg)
	if err != nil {
		return nil, err
	}
	t.numNodes = n

	if t.numNodes == 0 {
		root, err := EncodeLeaf(cfg, LeafData{})
		if err != nil {
			return nil, err
		}
		if _, err := t.alloc(root); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// countAllocatedNodes scans forward from offset 0 in nodeSize strides until
// it finds a slot that is still all-zero, per the Open Question decision
// recorded in DESIGN.md: nodes are never freed, so the first all-zero slot
// marks where the next alloc will land.
func countAllocatedNodes(store storage.Storage, cfg Config) (uint64, error) {
	capacity := store.GetCapacity()
	n := uint64(0)
	for {
		start := n * cfg.NodeSize
		end := start + cfg.NodeSize
		if end > capacity {
			return n, nil
		}
		filled, err := store.IsFilled(&start, &end, 0x00)
		if err != nil {
			return 0, err
		}
		if filled {
			return n, nil
		}
		n++
	}
}

func (t *Tree) alloc(buf []byte) (uint64, error) {
	ptr := t.numNodes * t.cfg.NodeSize
	if err := t.store.WBytes(ptr, buf); err != nil {
		return 0, err
	}
	t.numNodes++
	t.log.WithFields(logrus.Fields{"ptr": ptr, "num_nodes": t.numNodes}).Debug("btree: allocated node")
	return ptr, nil
}

func (t *Tree) nodeType(ptr uint64) (byte, error) {
	return t.store.RU8(ptr)
}

func (t *Tree) readInner(ptr uint64) (InnerData, error) {
	buf, err := t.store.RBytes(ptr, t.cfg.NodeSize)
	if err != nil {
		return InnerData{}, err
	}
	return DecodeInner(t.cfg, buf)
}

func (t *Tree) readLeaf(ptr uint64) (LeafData, error) {
	buf, err := t.store.RBytes(ptr, t.cfg.NodeSize)
	if err != nil {
		return LeafData{}, err
	}
	return DecodeLeaf(t.cfg, buf)
}

func (t *Tree) writeInner(ptr uint64, d InnerData) error {
	buf, err := EncodeInner(t.cfg, d)
	if err != nil {
		return err
	}
	return t.store.WBytes(ptr, buf)
}

func (t *Tree) writeLeaf(ptr uint64, d LeafData) error {
	buf, err := EncodeLeaf(t.cfg, d)
	if err != nil {
		return err
	}
	return t.store.WBytes(ptr, buf)
}

func (t *Tree) checkKey(key []byte) error {
	if uint64(len(key)) != t.cfg.KeyLen {
		return kverrors.Assert(kverrors.CondKeyWrongLength)
	}
	return nil
}

func (t *Tree) checkVal(val []byte) error {
	if uint64(len(val)) != t.cfg.ValLen {
		return kverrors.Assert(kverrors.CondValueWrongLength)
	}
	return nil
}

// childIndex implements spec.md §4.5.1's bracket rule: the child at
// position i covers keys k with Keys[i-1] <= k < Keys[i], open at the
// edges (leftmost child is open-left, rightmost is open-right).
func (t *Tree) childIndex(inner InnerData, key []byte) (int, error) {
	cmp := t.cfg.cmp()
	n := len(inner.Ptrs)
	for i := 0; i < n; i++ {
		leftOK := i == 0 || cmp(key, inner.Keys[i-1])
		rightOK := i == n-1 || !cmp(key, inner.Keys[i])
		if leftOK && rightOK {
			return i, nil
		}
	}
	return 0, kverrors.Assert(kverrors.CondNodeCorrupted)
}

// LeftmostLeaf walks down the left edge of the tree from the root and
// returns the offset of the first leaf, for callers that want to walk the
// leaf chain in key order (spec.md §8, invariant 10).
func (t *Tree) LeftmostLeaf() (uint64, error) {
	ptr := uint64(0)
	for {
		typ, err := t.nodeType(ptr)
		if err != nil {
			return 0, err
		}
		if typ == TypeLeaf {
			return ptr, nil
		}
		if typ != TypeInner {
			return 0, kverrors.Assert(kverrors.CondInvalidNodeType)
		}
		inner, err := t.readInner(ptr)
		if err != nil {
			return 0, err
		}
		if len(inner.Ptrs) == 0 {
			return 0, kverrors.Assert(kverrors.CondEmptyInnerNode)
		}
		ptr = inner.Ptrs[0]
	}
}

// Leaf reads and decodes the leaf at ptr, for callers walking the leaf
// chain (e.g. via LeftmostLeaf and LeafData.Next).
func (t *Tree) Leaf(ptr uint64) (LeafData, error) {
	return t.readLeaf(ptr)
}

// Search descends from the root, choosing the bracketing child at each
// inner node, and returns the value stored under key in the leaf it lands
// on, if any (spec.md §4.5.1).
func (t *Tree) Search(key []byte) ([]byte, bool, error) {
	if err := t.checkKey(key); err != nil {
		return nil, false, err
	}

	ptr := uint64(0)
	for {
		typ, err := t.nodeType(ptr)
		if err != nil {
			return nil, false, err
		}
		switch typ {
		case TypeLeaf:
			leaf, err := t.readLeaf(ptr)
			if err != nil {
				return nil, false, err
			}
			for i, k := range leaf.Keys {
				if bytes.Equal(k, key) {
					return leaf.Vals[i], true, nil
				}
			}
			return nil, false, nil
		case TypeInner:
			inner, err := t.readInner(ptr)
			if err != nil {
				return nil, false, err
			}
			if len(inner.Ptrs) == 0 {
				return nil, false, kverrors.Assert(kverrors.CondEmptyInnerNode)
			}
			idx, err := t.childIndex(inner, key)
			if err != nil {
				return nil, false, err
			}
			ptr = inner.Ptrs[idx]
		default:
			return nil, false, kverrors.Assert(kverrors.CondInvalidNodeType)
		}
	}
}

// Insert descends to the owning leaf, overwrites an equal key in place, or
// inserts in sorted position and splits when the leaf is full (spec.md
// §4.5.2). Splits are built in an in-memory scratch LeafData/InnerData and
// published with one WBytes per touched node.
func (t *Tree) Insert(key, val []byte) error {
	if err := t.checkKey(key); err != nil {
		return err
	}
	if err := t.checkVal(val); err != nil {
		return err
	}

	ptr := uint64(0)
	for {
		typ, err := t.nodeType(ptr)
		if err != nil {
			return err
		}
		if typ == TypeLeaf {
			break
		}
		if typ != TypeInner {
			return kverrors.Assert(kverrors.CondInvalidNodeType)
		}
		inner, err := t.readInner(ptr)
		if err != nil {
			return err
		}
		if len(inner.Ptrs) == 0 {
			return kverrors.Assert(kverrors.CondEmptyInnerNode)
		}
		idx, err := t.childIndex(inner, key)
		if err != nil {
			return err
		}
		ptr = inner.Ptrs[idx]
	}

	leaf, err := t.readLeaf(ptr)
	if err != nil {
		return err
	}

	for i, k := range leaf.Keys {
		if bytes.Equal(k, key) {
			leaf.Vals[i] = cloneBytes(val)
			return t.writeLeaf(ptr, leaf)
		}
	}

	pos := sort.Search(len(leaf.Keys), func(i int) bool { return t.cfg.cmp()(leaf.Keys[i], key) })
	leaf.Keys = insertBytes(leaf.Keys, pos, cloneBytes(key))
	leaf.Vals = insertBytes(leaf.Vals, pos, cloneBytes(val))

	if uint64(len(leaf.Keys)) <= t.cfg.MaxLeafRecords() {
		return t.writeLeaf(ptr, leaf)
	}
	return t.splitLeaf(ptr, leaf)
}

// splitLeaf allocates a sibling to the right, copies the upper half of
// records to it, links prev/next, and propagates the separating key to the
// parent (spec.md §4.5.2). A leaf at offset 0 is the root: the root offset
// can never move, so the split instead allocates two fresh leaves and
// rewrites offset 0 as a new inner root over them.
func (t *Tree) splitLeaf(ptr uint64, full LeafData) error {
	mid := len(full.Keys) / 2
	if mid < 1 {
		mid = 1
	}
	leftKeys, leftVals := full.Keys[:mid], full.Vals[:mid]
	rightKeys, rightVals := full.Keys[mid:], full.Vals[mid:]
	sepKey := rightKeys[0]

	if ptr == 0 {
		leftPtr := t.numNodes * t.cfg.NodeSize
		rightPtr := leftPtr + t.cfg.NodeSize

		leftBuf, err := EncodeLeaf(t.cfg, LeafData{Parent: 0, Prev: 0, Next: rightPtr, Keys: leftKeys, Vals: leftVals})
		if err != nil {
			return err
		}
		if _, err := t.alloc(leftBuf); err != nil {
			return err
		}
		rightBuf, err := EncodeLeaf(t.cfg, LeafData{Parent: 0, Prev: leftPtr, Next: full.Next, Keys: rightKeys, Vals: rightVals})
		if err != nil {
			return err
		}
		if _, err := t.alloc(rightBuf); err != nil {
			return err
		}

		t.log.WithFields(logrus.Fields{"left": leftPtr, "right": rightPtr}).Debug("btree: split root leaf")
		return t.writeInner(0, InnerData{Parent: 0, Ptrs: []uint64{leftPtr, rightPtr}, Keys: [][]byte{sepKey}})
	}

	oldNext := full.Next
	rightPtr := t.numNodes * t.cfg.NodeSize

	if err := t.writeLeaf(ptr, LeafData{Parent: full.Parent, Prev: full.Prev, Next: rightPtr, Keys: leftKeys, Vals: leftVals}); err != nil {
		return err
	}
	rightBuf, err := EncodeLeaf(t.cfg, LeafData{Parent: full.Parent, Prev: ptr, Next: oldNext, Keys: rightKeys, Vals: rightVals})
	if err != nil {
		return err
	}
	if _, err := t.alloc(rightBuf); err != nil {
		return err
	}

	if oldNext != 0 {
		nextLeaf, err := t.readLeaf(oldNext)
		if err != nil {
			return err
		}
		nextLeaf.Prev = rightPtr
		if err := t.writeLeaf(oldNext, nextLeaf); err != nil {
			return err
		}
	}

	t.log.WithFields(logrus.Fields{"left": ptr, "right": rightPtr}).Debug("btree: split leaf")
	return t.insertIntoInner(full.Parent, sepKey, rightPtr)
}

// insertIntoInner inserts (key, rightPtr) into the inner node at ptr in
// sorted position, splitting it if it overflows.
func (t *Tree) insertIntoInner(ptr uint64, key []byte, rightPtr uint64) error {
	inner, err := t.readInner(ptr)
	if err != nil {
		return err
	}

	pos := sort.Search(len(inner.Keys), func(i int) bool { return t.cfg.cmp()(inner.Keys[i], key) })
	inner.Keys = insertBytes(inner.Keys, pos, cloneBytes(key))
	inner.Ptrs = insertPtr(inner.Ptrs, pos+1, rightPtr)

	if uint64(len(inner.Keys)) <= t.cfg.MaxInnerKeys() {
		return t.writeInner(ptr, inner)
	}
	return t.splitInner(ptr, inner)
}

// splitInner splits an overflowing inner node symmetrically to splitLeaf:
// the middle key rises to the grandparent rather than being copied
// (spec.md §4.5.2, "inner split: symmetric; the middle key rises").
func (t *Tree) splitInner(ptr uint64, full InnerData) error {
	n := len(full.Ptrs)
	m := n / 2
	if m < 1 {
		m = 1
	}
	if n-m < 1 {
		m = n - 1
	}
	leftPtrs, leftKeys := full.Ptrs[:m], full.Keys[:m-1]
	midKey := full.Keys[m-1]
	rightPtrs, rightKeys := full.Ptrs[m:], full.Keys[m:]

	if ptr == 0 {
		leftPtr := t.numNodes * t.cfg.NodeSize
		rightPtr := leftPtr + t.cfg.NodeSize

		leftBuf, err := EncodeInner(t.cfg, InnerData{Parent: 0, Ptrs: leftPtrs, Keys: leftKeys})
		if err != nil {
			return err
		}
		if _, err := t.alloc(leftBuf); err != nil {
			return err
		}
		if err := t.reparentChildren(leftPtrs, leftPtr); err != nil {
			return err
		}

		rightBuf, err := EncodeInner(t.cfg, InnerData{Parent: 0, Ptrs: rightPtrs, Keys: rightKeys})
		if err != nil {
			return err
		}
		if _, err := t.alloc(rightBuf); err != nil {
			return err
		}
		if err := t.reparentChildren(rightPtrs, rightPtr); err != nil {
			return err
		}

		t.log.WithFields(logrus.Fields{"left": leftPtr, "right": rightPtr}).Debug("btree: split root inner node")
		return t.writeInner(0, InnerData{Parent: 0, Ptrs: []uint64{leftPtr, rightPtr}, Keys: [][]byte{midKey}})
	}

	parent := full.Parent
	rightPtr := t.numNodes * t.cfg.NodeSize

	if err := t.writeInner(ptr, InnerData{Parent: parent, Ptrs: leftPtrs, Keys: leftKeys}); err != nil {
		return err
	}
	rightBuf, err := EncodeInner(t.cfg, InnerData{Parent: parent, Ptrs: rightPtrs, Keys: rightKeys})
	if err != nil {
		return err
	}
	if _, err := t.alloc(rightBuf); err != nil {
		return err
	}
	if err := t.reparentChildren(rightPtrs, rightPtr); err != nil {
		return err
	}

	t.log.WithFields(logrus.Fields{"left": ptr, "right": rightPtr}).Debug("btree: split inner node")
	return t.insertIntoInner(parent, midKey, rightPtr)
}

// reparentChildren rewrites the Parent field of every node in ptrs to
// newParent, after those nodes moved to a newly split-off sibling.
func (t *Tree) reparentChildren(ptrs []uint64, newParent uint64) error {
	for _, p := range ptrs {
		typ, err := t.nodeType(p)
		if err != nil {
			return err
		}
		switch typ {
		case TypeLeaf:
			leaf, err := t.readLeaf(p)
			if err != nil {
				return err
			}
			leaf.Parent = newParent
			if err := t.writeLeaf(p, leaf); err != nil {
				return err
			}
		case TypeInner:
			inner, err := t.readInner(p)
			if err != nil {
				return err
			}
			inner.Parent = newParent
			if err := t.writeInner(p, inner); err != nil {
				return err
			}
		default:
			return kverrors.Assert(kverrors.CondInvalidNodeType)
		}
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func insertBytes(s [][]byte, pos int, v []byte) [][]byte {
	s = append(s, nil)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func insertPtr(s []uint64, pos int, v uint64) []uint64 {
	s = append(s, 0)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}
