package wal

import (
	"encoding/binary"
	"hash/crc32"
)

// OpKind is the operation a log record describes.
type OpKind uint8

const (
	OpPut        OpKind = 1
	OpDelete     OpKind = 2
	OpCheckpoint OpKind = 3
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpCheckpoint:
		return "checkpoint"
	}
	return "unknown"
}

// Record is one durable log entry. LSNs are monotonic and gapless; replay
// applies records in strictly increasing LSN order.
type Record struct {
	LSN     uint64
	Op      OpKind
	Key     []byte
	Payload []byte
}

// On disk a record is {u32 bodyLen}{body}{u32 crc} with
// body = {u8 op}{u64 lsn}{u32 keyLen}{key}{payload}. The CRC covers the
// whole body; a mismatch marks the recovery boundary, not a fatal error.
const recordOverhead = 4 + 4 // length prefix + crc trailer

func encodeRecord(r *Record) []byte {
	bodyLen := 1 + 8 + 4 + len(r.Key) + len(r.Payload)
	out := make([]byte, 4+bodyLen+4)

	binary.LittleEndian.PutUint32(out, uint32(bodyLen))
	body := out[4 : 4+bodyLen]
	body[0] = byte(r.Op)
	binary.LittleEndian.PutUint64(body[1:], r.LSN)
	binary.LittleEndian.PutUint32(body[9:], uint32(len(r.Key)))
	copy(body[13:], r.Key)
	copy(body[13+len(r.Key):], r.Payload)

	binary.LittleEndian.PutUint32(out[4+bodyLen:], crc32.ChecksumIEEE(body))
	return out
}

// decodeRecord parses one record from the front of buf. ok=false means the
// buffer holds no complete, checksum-valid record: a torn tail during
// replay, never an error.
func decodeRecord(buf []byte) (rec Record, consumed int, ok bool) {
	if len(buf) < 4 {
		return Record{}, 0, false
	}
	bodyLen := int(binary.LittleEndian.Uint32(buf))
	if bodyLen < 13 || len(buf) < 4+bodyLen+4 {
		return Record{}, 0, false
	}
	body := buf[4 : 4+bodyLen]
	crc := binary.LittleEndian.Uint32(buf[4+bodyLen:])
	if crc32.ChecksumIEEE(body) != crc {
		return Record{}, 0, false
	}

	rec.Op = OpKind(body[0])
	rec.LSN = binary.LittleEndian.Uint64(body[1:])
	keyLen := int(binary.LittleEndian.Uint32(body[9:]))
	if 13+keyLen > bodyLen {
		return Record{}, 0, false
	}
	rec.Key = append([]byte(nil), body[13:13+keyLen]...)
	rec.Payload = append([]byte(nil), body[13+keyLen:]...)
	return rec, 4 + bodyLen + 4, true
}
