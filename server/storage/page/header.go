package page

import (
	"encoding/binary"
	"sort"

	"github.com/quokkadb/quokkadb/server/storage"
)

const (
	// Magic is the little-endian u32 spelling "QKDB" at the start of page 0.
	Magic uint32 = 0x42444B51
	// FormatVersion changes whenever the file layout does.
	FormatVersion uint32 = 1

	// HeaderPageNo is reserved; it is never allocated or freed.
	HeaderPageNo uint32 = 0
	// NilPage marks the end of the free list and absent roots. Page 0 is
	// the header, so 0 is never a valid target.
	NilPage uint32 = 0
)

// IndexMeta describes one secondary index registered in the header.
type IndexMeta struct {
	Root       uint32
	Unique     bool
	Collection string
	Field      string
}

// Header is the in-memory form of page 0: file identity plus the roots of
// the free list, every collection's primary tree, and every secondary index.
type Header struct {
	PageSize     uint32
	FreeListHead uint32
	collections  map[string]uint32
	indexes      map[string]IndexMeta
}

func newHeader(pageSize uint32) *Header {
	return &Header{
		PageSize:     pageSize,
		FreeListHead: NilPage,
		collections:  make(map[string]uint32),
		indexes:      make(map[string]IndexMeta),
	}
}

func (h *Header) CollectionRoot(name string) (uint32, bool) {
	root, ok := h.collections[name]
	return root, ok
}

func (h *Header) SetCollectionRoot(name string, root uint32) {
	h.collections[name] = root
}

func (h *Header) DropCollection(name string) {
	delete(h.collections, name)
}

// CollectionNames returns every registered collection, sorted.
func (h *Header) CollectionNames() []string {
	names := make([]string, 0, len(h.collections))
	for name := range h.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Header) Index(name string) (IndexMeta, bool) {
	meta, ok := h.indexes[name]
	return meta, ok
}

func (h *Header) SetIndex(name string, meta IndexMeta) {
	h.indexes[name] = meta
}

func (h *Header) DropIndex(name string) {
	delete(h.indexes, name)
}

// IndexNames returns every registered index, sorted.
func (h *Header) IndexNames() []string {
	names := make([]string, 0, len(h.indexes))
	for name := range h.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// encode serializes the header into a page body of exactly size bytes.
// Entries are written in sorted order so identical headers always produce
// identical bytes.
func (h *Header) encode(size int) ([]byte, error) {
	out := make([]byte, 0, size)
	out = appendU32(out, Magic)
	out = appendU32(out, FormatVersion)
	out = appendU32(out, h.PageSize)
	out = appendU32(out, h.FreeListHead)

	out = appendU32(out, uint32(len(h.collections)))
	for _, name := range h.CollectionNames() {
		out = appendString16(out, name)
		out = appendU32(out, h.collections[name])
	}

	out = appendU32(out, uint32(len(h.indexes)))
	for _, name := range h.IndexNames() {
		meta := h.indexes[name]
		out = appendString16(out, name)
		out = appendU32(out, meta.Root)
		if meta.Unique {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
		out = appendString16(out, meta.Collection)
		out = appendString16(out, meta.Field)
	}

	if len(out) > size {
		return nil, storage.Corruptionf(HeaderPageNo,
			"header needs %d bytes, page body holds %d", len(out), size)
	}
	return append(out, make([]byte, size-len(out))...), nil
}

// decodeHeader validates magic and version before anything else; a mismatch
// means the file is not ours (or a future format) and must refuse to open.
func decodeHeader(body []byte) (*Header, error) {
	r := &reader{buf: body}

	magic := r.u32()
	version := r.u32()
	if r.failed {
		return nil, storage.Corruptionf(HeaderPageNo, "header page too short")
	}
	if magic != Magic {
		return nil, storage.Corruptionf(HeaderPageNo, "bad magic 0x%08x", magic)
	}
	if version != FormatVersion {
		return nil, storage.Corruptionf(HeaderPageNo, "unsupported format version %d", version)
	}

	h := newHeader(r.u32())
	h.FreeListHead = r.u32()

	collCount := r.u32()
	for i := uint32(0); i < collCount && !r.failed; i++ {
		name := r.string16()
		h.collections[name] = r.u32()
	}

	idxCount := r.u32()
	for i := uint32(0); i < idxCount && !r.failed; i++ {
		name := r.string16()
		meta := IndexMeta{}
		meta.Root = r.u32()
		meta.Unique = r.u8() != 0
		meta.Collection = r.string16()
		meta.Field = r.string16()
		h.indexes[name] = meta
	}

	if r.failed {
		return nil, storage.Corruptionf(HeaderPageNo, "header tables truncated")
	}
	return h, nil
}

func appendU32(out []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(out, b[:]...)
}

func appendString16(out []byte, s string) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(len(s)))
	out = append(out, b[:]...)
	return append(out, s...)
}

// reader is a cursor over a header body; it records overrun instead of
// returning an error from every call.
type reader struct {
	buf    []byte
	pos    int
	failed bool
}

func (r *reader) u8() uint8 {
	if r.pos+1 > len(r.buf) {
		r.failed = true
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *reader) u32() uint32 {
	if r.pos+4 > len(r.buf) {
		r.failed = true
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) string16() string {
	if r.pos+2 > len(r.buf) {
		r.failed = true
		return ""
	}
	n := int(binary.LittleEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	if r.pos+n > len(r.buf) {
		r.failed = true
		return ""
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s
}
