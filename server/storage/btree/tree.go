package btree

import (
	"bytes"

	"github.com/pkg/errors"
)

// Pager is the page allocation surface a tree persists through; *page.Store
// satisfies it.
type Pager interface {
	Allocate() (uint32, error)
	Free(pageNo uint32) error
	Read(pageNo uint32) ([]byte, error)
	Write(pageNo uint32, body []byte) error
	DataSize() int
}

// Tree is an ordered key/value B+ tree persisted as pages. Keys and values
// are opaque byte strings compared byte-wise; callers hand in canonical key
// encodings when value order matters.
//
// Every leaf sits at the same depth. A node splits when its entry count
// exceeds 2*minDegree-1 or its serialized form no longer fits the page; a
// node below minDegree-1 entries borrows from or merges with a sibling, with
// merges propagating upward. The root is exempt from the minimum and the
// tree height only changes at the root.
//
// A Tree does no locking of its own: the storage engine serializes writers
// and admits readers per its concurrency contract.
type Tree struct {
	pager     Pager
	root      uint32
	minDegree int

	// onRootChange tells the owner (header table) about the new root page.
	onRootChange func(uint32)
}

// Create allocates an empty tree (a single empty leaf) and returns it.
func Create(pager Pager, minDegree int) (*Tree, error) {
	rootPage, err := pager.Allocate()
	if err != nil {
		return nil, err
	}
	t := &Tree{pager: pager, root: rootPage, minDegree: minDegree}
	if err := t.writeNode(&node{pageNo: rootPage, leaf: true}); err != nil {
		return nil, err
	}
	return t, nil
}

// Open attaches to an existing tree rooted at root.
func Open(pager Pager, root uint32, minDegree int) *Tree {
	return &Tree{pager: pager, root: root, minDegree: minDegree}
}

func (t *Tree) Root() uint32 {
	return t.root
}

// OnRootChange registers a callback fired whenever a split or shrink moves
// the root to a different page.
func (t *Tree) OnRootChange(fn func(uint32)) {
	t.onRootChange = fn
}

func (t *Tree) maxKeys() int {
	return 2*t.minDegree - 1
}

func (t *Tree) minKeys() int {
	return t.minDegree - 1
}

func (t *Tree) readNode(pageNo uint32) (*node, error) {
	body, err := t.pager.Read(pageNo)
	if err != nil {
		return nil, err
	}
	return decodeNode(pageNo, body)
}

func (t *Tree) writeNode(n *node) error {
	body, err := n.encode(t.pager.DataSize())
	if err != nil {
		return err
	}
	return t.pager.Write(n.pageNo, body)
}

// overfull reports whether n must split: too many entries for the fan-out
// bound or too many bytes for the page.
func (t *Tree) overfull(n *node) bool {
	return len(n.keys) > t.maxKeys() || n.size() > t.pager.DataSize()
}

// Get returns the value stored under key.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	n, err := t.readNode(t.root)
	if err != nil {
		return nil, false, err
	}
	for !n.leaf {
		n, err = t.readNode(n.children[n.childFor(key)])
		if err != nil {
			return nil, false, err
		}
	}
	if i, found := n.search(key); found {
		return n.vals[i], true, nil
	}
	return nil, false, nil
}

// split describes a node division the parent must absorb: sep separates the
// original node from the new right sibling.
type split struct {
	sep   []byte
	right uint32
}

// MaxEntrySize returns the largest key+value combination the tree accepts.
// Keeping two entries per page possible guarantees every split produces two
// non-empty halves.
func (t *Tree) MaxEntrySize() int {
	return (t.pager.DataSize() - nodeHeaderSize) / 2
}

// Put inserts or replaces key. An oversized root split grows the tree by
// exactly one level.
func (t *Tree) Put(key, val []byte) error {
	if 2+len(key)+4+len(val) > t.MaxEntrySize() {
		return errors.Errorf("btree: entry of %d bytes exceeds limit %d",
			len(key)+len(val), t.MaxEntrySize())
	}
	promoted, err := t.insert(t.root, key, val)
	if err != nil {
		return err
	}
	if promoted == nil {
		return nil
	}

	newRootPage, err := t.pager.Allocate()
	if err != nil {
		return err
	}
	newRoot := &node{
		pageNo:   newRootPage,
		keys:     [][]byte{promoted.sep},
		children: []uint32{t.root, promoted.right},
	}
	if err := t.writeNode(newRoot); err != nil {
		return err
	}
	t.setRoot(newRootPage)
	return nil
}

func (t *Tree) setRoot(pageNo uint32) {
	t.root = pageNo
	if t.onRootChange != nil {
		t.onRootChange(pageNo)
	}
}

func (t *Tree) insert(pageNo uint32, key, val []byte) (*split, error) {
	n, err := t.readNode(pageNo)
	if err != nil {
		return nil, err
	}

	if n.leaf {
		if i, found := n.search(key); found {
			n.vals[i] = val
		} else {
			n.insertLeafEntry(i, append([]byte(nil), key...), val)
		}
		if !t.overfull(n) {
			return nil, t.writeNode(n)
		}
		return t.splitLeaf(n)
	}

	childIdx := n.childFor(key)
	promoted, err := t.insert(n.children[childIdx], key, val)
	if err != nil {
		return nil, err
	}
	if promoted == nil {
		return nil, nil
	}

	n.keys = append(n.keys, nil)
	copy(n.keys[childIdx+1:], n.keys[childIdx:])
	n.keys[childIdx] = promoted.sep
	n.children = append(n.children, 0)
	copy(n.children[childIdx+2:], n.children[childIdx+1:])
	n.children[childIdx+1] = promoted.right

	if !t.overfull(n) {
		return nil, t.writeNode(n)
	}
	return t.splitInternal(n)
}

// splitLeaf moves the upper half of n into a new sibling and copies the
// sibling's first key up as the separator. The leaf chain is relinked so
// ascending scans keep working.
func (t *Tree) splitLeaf(n *node) (*split, error) {
	rightPage, err := t.pager.Allocate()
	if err != nil {
		return nil, err
	}
	mid := len(n.keys) / 2
	right := &node{
		pageNo: rightPage,
		leaf:   true,
		keys:   append([][]byte(nil), n.keys[mid:]...),
		vals:   append([][]byte(nil), n.vals[mid:]...),
		next:   n.next,
	}
	n.keys = n.keys[:mid]
	n.vals = n.vals[:mid]
	n.next = rightPage

	if err := t.writeNode(right); err != nil {
		return nil, err
	}
	if err := t.writeNode(n); err != nil {
		return nil, err
	}
	return &split{sep: append([]byte(nil), right.keys[0]...), right: rightPage}, nil
}

// splitInternal promotes the median key to the parent; unlike a leaf split
// the median does not stay in either half.
func (t *Tree) splitInternal(n *node) (*split, error) {
	rightPage, err := t.pager.Allocate()
	if err != nil {
		return nil, err
	}
	mid := len(n.keys) / 2
	sep := n.keys[mid]
	right := &node{
		pageNo:   rightPage,
		keys:     append([][]byte(nil), n.keys[mid+1:]...),
		children: append([]uint32(nil), n.children[mid+1:]...),
	}
	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]

	if err := t.writeNode(right); err != nil {
		return nil, err
	}
	if err := t.writeNode(n); err != nil {
		return nil, err
	}
	return &split{sep: sep, right: rightPage}, nil
}

// Delete removes key and reports whether it was present. Deleting an absent
// key is a no-op. When an internal root ends up with a single child the tree
// shrinks by one level.
func (t *Tree) Delete(key []byte) (bool, error) {
	deleted, err := t.remove(t.root, key)
	if err != nil || !deleted {
		return deleted, err
	}

	root, err := t.readNode(t.root)
	if err != nil {
		return false, err
	}
	if !root.leaf && len(root.keys) == 0 {
		old := root.pageNo
		t.setRoot(root.children[0])
		if err := t.pager.Free(old); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (t *Tree) remove(pageNo uint32, key []byte) (bool, error) {
	n, err := t.readNode(pageNo)
	if err != nil {
		return false, err
	}

	if n.leaf {
		i, found := n.search(key)
		if !found {
			return false, nil
		}
		n.removeLeafEntry(i)
		return true, t.writeNode(n)
	}

	childIdx := n.childFor(key)
	deleted, err := t.remove(n.children[childIdx], key)
	if err != nil || !deleted {
		return deleted, err
	}
	return true, t.rebalance(n, childIdx)
}

// rebalance repairs child childIdx of parent after a removal left it below
// the minimum fill: borrow from a sibling when one can spare an entry,
// otherwise merge. A merge that would not fit the page leaves the node
// underfull; correctness is unaffected, only occupancy.
func (t *Tree) rebalance(parent *node, childIdx int) error {
	child, err := t.readNode(parent.children[childIdx])
	if err != nil {
		return err
	}
	if len(child.keys) >= t.minKeys() {
		return nil
	}

	var left, right *node
	if childIdx > 0 {
		if left, err = t.readNode(parent.children[childIdx-1]); err != nil {
			return err
		}
	}
	if childIdx < len(parent.children)-1 {
		if right, err = t.readNode(parent.children[childIdx+1]); err != nil {
			return err
		}
	}

	if left != nil && len(left.keys) > t.minKeys() {
		return t.borrowFromLeft(parent, childIdx, left, child)
	}
	if right != nil && len(right.keys) > t.minKeys() {
		return t.borrowFromRight(parent, childIdx, child, right)
	}
	if left != nil && t.canMerge(left, child, parent.keys[childIdx-1]) {
		return t.merge(parent, childIdx-1, left, child)
	}
	if right != nil && t.canMerge(child, right, parent.keys[childIdx]) {
		return t.merge(parent, childIdx, child, right)
	}
	// no sibling can help within the page budget; tolerate the underflow
	return nil
}

func (t *Tree) canMerge(left, right *node, sep []byte) bool {
	merged := left.size() + right.size() - nodeHeaderSize
	if !left.leaf {
		// the separator key joins the merged node
		merged += 2 + len(sep) + 4
	}
	return merged <= t.pager.DataSize()
}

func (t *Tree) borrowFromLeft(parent *node, childIdx int, left, child *node) error {
	last := len(left.keys) - 1
	if child.leaf {
		child.insertLeafEntry(0, left.keys[last], left.vals[last])
		left.removeLeafEntry(last)
		parent.keys[childIdx-1] = append([]byte(nil), child.keys[0]...)
	} else {
		// rotate through the separator
		child.keys = append([][]byte{parent.keys[childIdx-1]}, child.keys...)
		child.children = append([]uint32{left.children[len(left.children)-1]}, child.children...)
		parent.keys[childIdx-1] = left.keys[last]
		left.keys = left.keys[:last]
		left.children = left.children[:len(left.children)-1]
	}
	if err := t.writeNode(left); err != nil {
		return err
	}
	if err := t.writeNode(child); err != nil {
		return err
	}
	return t.writeNode(parent)
}

func (t *Tree) borrowFromRight(parent *node, childIdx int, child, right *node) error {
	if child.leaf {
		child.insertLeafEntry(len(child.keys), right.keys[0], right.vals[0])
		right.removeLeafEntry(0)
		parent.keys[childIdx] = append([]byte(nil), right.keys[0]...)
	} else {
		child.keys = append(child.keys, parent.keys[childIdx])
		child.children = append(child.children, right.children[0])
		parent.keys[childIdx] = right.keys[0]
		right.keys = right.keys[1:]
		right.children = right.children[1:]
	}
	if err := t.writeNode(right); err != nil {
		return err
	}
	if err := t.writeNode(child); err != nil {
		return err
	}
	return t.writeNode(parent)
}

// merge folds right into left and drops the separator at sepIdx from the
// parent. The freed right page goes back to the allocator.
func (t *Tree) merge(parent *node, sepIdx int, left, right *node) error {
	if left.leaf {
		left.keys = append(left.keys, right.keys...)
		left.vals = append(left.vals, right.vals...)
		left.next = right.next
	} else {
		left.keys = append(left.keys, parent.keys[sepIdx])
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}

	parent.keys = append(parent.keys[:sepIdx], parent.keys[sepIdx+1:]...)
	parent.children = append(parent.children[:sepIdx+1], parent.children[sepIdx+2:]...)

	if err := t.writeNode(left); err != nil {
		return err
	}
	if err := t.writeNode(parent); err != nil {
		return err
	}
	return t.pager.Free(right.pageNo)
}

// Ascend streams entries with start <= key < end in ascending order. A nil
// start begins at the smallest key; a nil end never stops early. fn returns
// false to stop the scan.
func (t *Tree) Ascend(start, end []byte, fn func(key, val []byte) (bool, error)) error {
	n, err := t.readNode(t.root)
	if err != nil {
		return err
	}
	for !n.leaf {
		idx := 0
		if start != nil {
			idx = n.childFor(start)
		}
		if n, err = t.readNode(n.children[idx]); err != nil {
			return err
		}
	}

	i := 0
	if start != nil {
		i, _ = n.search(start)
	}
	for {
		for ; i < len(n.keys); i++ {
			if end != nil && bytes.Compare(n.keys[i], end) >= 0 {
				return nil
			}
			cont, err := fn(n.keys[i], n.vals[i])
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		if n.next == 0 {
			return nil
		}
		if n, err = t.readNode(n.next); err != nil {
			return err
		}
		i = 0
	}
}

// Destroy frees every page of the tree.
func (t *Tree) Destroy() error {
	return t.destroy(t.root)
}

func (t *Tree) destroy(pageNo uint32) error {
	n, err := t.readNode(pageNo)
	if err != nil {
		return err
	}
	if !n.leaf {
		for _, child := range n.children {
			if err := t.destroy(child); err != nil {
				return err
			}
		}
	}
	return t.pager.Free(pageNo)
}

// Stats walks the whole tree and verifies its structural invariants: uniform
// leaf depth, strictly ascending keys, child counts consistent with key
// counts. It exists for tests and the rebuild path.
type Stats struct {
	Depth    int
	Nodes    int
	Entries  int
	MinFill  int
	Underful int
}

func (t *Tree) Check() (*Stats, error) {
	st := &Stats{MinFill: 1 << 30}
	var prev []byte
	depth, err := t.check(t.root, 0, st, &prev, true)
	if err != nil {
		return nil, err
	}
	st.Depth = depth
	return st, nil
}

func (t *Tree) check(pageNo uint32, depth int, st *Stats, prev *[]byte, isRoot bool) (int, error) {
	n, err := t.readNode(pageNo)
	if err != nil {
		return 0, err
	}
	st.Nodes++

	for i := 1; i < len(n.keys); i++ {
		if bytes.Compare(n.keys[i-1], n.keys[i]) >= 0 {
			return 0, errors.Errorf("page %d: keys out of order at %d", pageNo, i)
		}
	}
	if !isRoot {
		if len(n.keys) < t.minKeys() {
			st.Underful++
		}
		if len(n.keys) < st.MinFill {
			st.MinFill = len(n.keys)
		}
	}
	if len(n.keys) > t.maxKeys() {
		return 0, errors.Errorf("page %d: %d keys exceeds max %d", pageNo, len(n.keys), t.maxKeys())
	}

	if n.leaf {
		for _, k := range n.keys {
			if *prev != nil && bytes.Compare(*prev, k) >= 0 {
				return 0, errors.Errorf("page %d: leaf order violated", pageNo)
			}
			*prev = k
		}
		st.Entries += len(n.keys)
		return depth, nil
	}

	if len(n.children) != len(n.keys)+1 {
		return 0, errors.Errorf("page %d: %d children for %d keys", pageNo, len(n.children), len(n.keys))
	}
	leafDepth := -1
	for _, child := range n.children {
		d, err := t.check(child, depth+1, st, prev, false)
		if err != nil {
			return 0, err
		}
		if leafDepth == -1 {
			leafDepth = d
		} else if d != leafDepth {
			return 0, errors.Errorf("page %d: leaves at depths %d and %d", pageNo, leafDepth, d)
		}
	}
	return leafDepth, nil
}
