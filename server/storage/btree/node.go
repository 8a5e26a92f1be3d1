package btree

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/quokkadb/quokkadb/server/storage"
)

const (
	nodeLeaf     = 1
	nodeInternal = 2

	// nodeHeaderSize is {u8 type}{u16 nKeys}{u32 next}.
	nodeHeaderSize = 1 + 2 + 4
)

// node is the in-memory image of one tree page. Children are page numbers,
// never pointers; parents are rediscovered on the way down, so the on-disk
// structure has no cycles to maintain.
type node struct {
	pageNo   uint32
	leaf     bool
	keys     [][]byte
	vals     [][]byte // leaf only, parallel to keys
	children []uint32 // internal only, len(keys)+1
	next     uint32   // leaf chain for ascending scans
}

// size returns the serialized byte size of the node.
func (n *node) size() int {
	total := nodeHeaderSize
	if n.leaf {
		for i := range n.keys {
			total += 2 + len(n.keys[i]) + 4 + len(n.vals[i])
		}
		return total
	}
	total += 4 // child0
	for i := range n.keys {
		total += 2 + len(n.keys[i]) + 4
	}
	return total
}

func (n *node) encode(bodySize int) ([]byte, error) {
	out := make([]byte, 0, bodySize)
	if n.leaf {
		out = append(out, nodeLeaf)
	} else {
		out = append(out, nodeInternal)
	}
	var b4 [4]byte
	var b2 [2]byte
	binary.LittleEndian.PutUint16(b2[:], uint16(len(n.keys)))
	out = append(out, b2[:]...)
	binary.LittleEndian.PutUint32(b4[:], n.next)
	out = append(out, b4[:]...)

	if n.leaf {
		for i := range n.keys {
			binary.LittleEndian.PutUint16(b2[:], uint16(len(n.keys[i])))
			out = append(out, b2[:]...)
			out = append(out, n.keys[i]...)
			binary.LittleEndian.PutUint32(b4[:], uint32(len(n.vals[i])))
			out = append(out, b4[:]...)
			out = append(out, n.vals[i]...)
		}
	} else {
		binary.LittleEndian.PutUint32(b4[:], n.children[0])
		out = append(out, b4[:]...)
		for i := range n.keys {
			binary.LittleEndian.PutUint16(b2[:], uint16(len(n.keys[i])))
			out = append(out, b2[:]...)
			out = append(out, n.keys[i]...)
			binary.LittleEndian.PutUint32(b4[:], n.children[i+1])
			out = append(out, b4[:]...)
		}
	}
	if len(out) > bodySize {
		return nil, errors.Errorf("tree node %d serializes to %d bytes, page body holds %d", n.pageNo, len(out), bodySize)
	}
	return append(out, make([]byte, bodySize-len(out))...), nil
}

func decodeNode(pageNo uint32, body []byte) (*node, error) {
	if len(body) < nodeHeaderSize {
		return nil, storage.Corruptionf(pageNo, "tree node too short")
	}
	typ := body[0]
	if typ != nodeLeaf && typ != nodeInternal {
		return nil, storage.Corruptionf(pageNo, "bad tree node type 0x%02x", typ)
	}
	n := &node{pageNo: pageNo, leaf: typ == nodeLeaf}
	nKeys := int(binary.LittleEndian.Uint16(body[1:]))
	n.next = binary.LittleEndian.Uint32(body[3:])
	pos := nodeHeaderSize

	readBytes := func(ln int) ([]byte, bool) {
		if pos+ln > len(body) {
			return nil, false
		}
		out := append([]byte(nil), body[pos:pos+ln]...)
		pos += ln
		return out, true
	}
	readU16 := func() (int, bool) {
		if pos+2 > len(body) {
			return 0, false
		}
		v := int(binary.LittleEndian.Uint16(body[pos:]))
		pos += 2
		return v, true
	}
	readU32 := func() (uint32, bool) {
		if pos+4 > len(body) {
			return 0, false
		}
		v := binary.LittleEndian.Uint32(body[pos:])
		pos += 4
		return v, true
	}

	if n.leaf {
		for i := 0; i < nKeys; i++ {
			kl, ok := readU16()
			if !ok {
				return nil, storage.Corruptionf(pageNo, "leaf entry %d truncated", i)
			}
			key, ok := readBytes(kl)
			if !ok {
				return nil, storage.Corruptionf(pageNo, "leaf key %d truncated", i)
			}
			vl32, ok := readU32()
			if !ok {
				return nil, storage.Corruptionf(pageNo, "leaf entry %d truncated", i)
			}
			val, ok := readBytes(int(vl32))
			if !ok {
				return nil, storage.Corruptionf(pageNo, "leaf value %d truncated", i)
			}
			n.keys = append(n.keys, key)
			n.vals = append(n.vals, val)
		}
		return n, nil
	}

	child0, ok := readU32()
	if !ok {
		return nil, storage.Corruptionf(pageNo, "internal node truncated")
	}
	n.children = append(n.children, child0)
	for i := 0; i < nKeys; i++ {
		kl, ok := readU16()
		if !ok {
			return nil, storage.Corruptionf(pageNo, "internal entry %d truncated", i)
		}
		key, ok := readBytes(kl)
		if !ok {
			return nil, storage.Corruptionf(pageNo, "internal key %d truncated", i)
		}
		child, ok := readU32()
		if !ok {
			return nil, storage.Corruptionf(pageNo, "internal child %d truncated", i)
		}
		n.keys = append(n.keys, key)
		n.children = append(n.children, child)
	}
	return n, nil
}

// search returns the index of key and whether it is present. For an absent
// key the index is the insertion point.
func (n *node) search(key []byte) (int, bool) {
	i := sort.Search(len(n.keys), func(i int) bool {
		return bytes.Compare(n.keys[i], key) >= 0
	})
	if i < len(n.keys) && bytes.Equal(n.keys[i], key) {
		return i, true
	}
	return i, false
}

// childFor picks the descent child: children[i] covers keys below keys[i],
// with equal keys routed right so separators equal the first key of their
// right subtree.
func (n *node) childFor(key []byte) int {
	return sort.Search(len(n.keys), func(i int) bool {
		return bytes.Compare(n.keys[i], key) > 0
	})
}

func (n *node) insertLeafEntry(i int, key, val []byte) {
	n.keys = append(n.keys, nil)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = key
	n.vals = append(n.vals, nil)
	copy(n.vals[i+1:], n.vals[i:])
	n.vals[i] = val
}

func (n *node) removeLeafEntry(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.vals = append(n.vals[:i], n.vals[i+1:]...)
}
