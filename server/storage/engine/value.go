package engine

import (
	"github.com/golang/snappy"

	"github.com/quokkadb/quokkadb/server/storage"
)

// Stored values carry a one-byte flag so a reader can tell a raw document
// from a compressed one without consulting any out-of-band state.
const (
	valueRaw    byte = 0x00
	valueSnappy byte = 0x01
)

// encodeValue compresses document bytes at or above the threshold, keeping
// the compressed form only when it actually saves space. threshold <= 0
// disables compression.
func encodeValue(doc []byte, threshold int) []byte {
	if threshold > 0 && len(doc) >= threshold {
		compressed := snappy.Encode(nil, doc)
		if len(compressed) < len(doc) {
			out := make([]byte, 0, len(compressed)+1)
			out = append(out, valueSnappy)
			return append(out, compressed...)
		}
	}
	out := make([]byte, 0, len(doc)+1)
	out = append(out, valueRaw)
	return append(out, doc...)
}

func decodeValue(val []byte) ([]byte, error) {
	if len(val) == 0 {
		return nil, storage.Corruptionf(0, "empty stored value")
	}
	switch val[0] {
	case valueRaw:
		return val[1:], nil
	case valueSnappy:
		doc, err := snappy.Decode(nil, val[1:])
		if err != nil {
			return nil, storage.Corruptionf(0, "snappy decode: %v", err)
		}
		return doc, nil
	default:
		return nil, storage.Corruptionf(0, "unknown value flag 0x%02x", val[0])
	}
}
