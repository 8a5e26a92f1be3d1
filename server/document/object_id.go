package document

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// ObjectId is a 12-byte document identifier: 4 bytes of big-endian unix
// seconds followed by 8 random bytes. Ids generated in the same second still
// collide only with 2^-64 probability, and sorting by id roughly sorts by
// creation time.
type ObjectId [12]byte

// NewObjectId generates an id stamped with the current time.
func NewObjectId() ObjectId {
	var id ObjectId
	binary.BigEndian.PutUint32(id[:4], uint32(time.Now().Unix()))
	if _, err := rand.Read(id[4:]); err != nil {
		// crypto/rand on a working system does not fail; if it does the
		// process has bigger problems than id generation.
		panic("objectid: " + err.Error())
	}
	return id
}

// ObjectIdFromBytes wraps raw id bytes.
func ObjectIdFromBytes(b [12]byte) ObjectId {
	return ObjectId(b)
}

// ObjectIdFromHex parses the 24-character hex form.
func ObjectIdFromHex(s string) (ObjectId, error) {
	var id ObjectId
	if len(s) != 24 {
		return id, fmt.Errorf("objectid: hex string must be 24 characters, got %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	copy(id[:], raw)
	return id, nil
}

func (id ObjectId) Bytes() [12]byte {
	return id
}

func (id ObjectId) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ObjectId) String() string {
	return id.Hex()
}

// Timestamp extracts the embedded creation time, second precision, UTC.
func (id ObjectId) Timestamp() time.Time {
	secs := binary.BigEndian.Uint32(id[:4])
	return time.Unix(int64(secs), 0).UTC()
}
