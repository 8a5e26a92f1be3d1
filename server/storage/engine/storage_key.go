package engine

import (
	"encoding/binary"

	"github.com/quokkadb/quokkadb/server/storage"
)

// WAL records address storage through a namespaced key so recovery can
// replay primary and index mutations uniformly:
//
//	{u8 namespace}{u16 nameLen LE}{name}{tree key}
const (
	nsCollection byte = 0x01
	nsIndex      byte = 0x02
)

func encodeStorageKey(ns byte, name string, key []byte) []byte {
	out := make([]byte, 0, 3+len(name)+len(key))
	out = append(out, ns)
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(name)))
	out = append(out, n[:]...)
	out = append(out, name...)
	return append(out, key...)
}

func decodeStorageKey(b []byte) (ns byte, name string, key []byte, err error) {
	if len(b) < 3 {
		return 0, "", nil, storage.Corruptionf(0, "storage key too short (%d bytes)", len(b))
	}
	ns = b[0]
	if ns != nsCollection && ns != nsIndex {
		return 0, "", nil, storage.Corruptionf(0, "unknown storage key namespace 0x%02x", ns)
	}
	nameLen := int(binary.LittleEndian.Uint16(b[1:3]))
	if 3+nameLen > len(b) {
		return 0, "", nil, storage.Corruptionf(0, "storage key name overruns record")
	}
	name = string(b[3 : 3+nameLen])
	key = b[3+nameLen:]
	return ns, name, key, nil
}
