package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "quokka.wal")
}

func TestAppendFlushReplay(t *testing.T) {
	path := walPath(t)
	m, checkpoint, err := Open(path)
	require.NoError(t, err)
	assert.Zero(t, checkpoint)

	lsn, err := m.Append(OpPut, []byte("k1"), []byte("v1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), lsn)

	lsn, err = m.Append(OpDelete, []byte("k2"), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), lsn)

	require.NoError(t, m.Flush())
	require.NoError(t, m.Close())

	m, _, err = Open(path)
	require.NoError(t, err)
	defer m.Close()

	var got []Record
	require.NoError(t, m.Replay(func(r Record) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 2)
	assert.Equal(t, OpPut, got[0].Op)
	assert.Equal(t, []byte("k1"), got[0].Key)
	assert.Equal(t, []byte("v1"), got[0].Payload)
	assert.Equal(t, OpDelete, got[1].Op)
	assert.Empty(t, got[1].Payload)

	// LSNs continue gapless after reopen
	lsn, err = m.Append(OpPut, []byte("k3"), []byte("v3"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), lsn)
}

func TestUnflushedRecordsAreNotDurable(t *testing.T) {
	path := walPath(t)
	m, _, err := Open(path)
	require.NoError(t, err)

	_, err = m.Append(OpPut, []byte("k"), []byte("v"))
	require.NoError(t, err)
	// no Flush; drop the manager as a crash would
	m.file.Close()

	m, _, err = Open(path)
	require.NoError(t, err)
	defer m.Close()

	count := 0
	require.NoError(t, m.Replay(func(Record) error { count++; return nil }))
	assert.Zero(t, count)
	assert.Equal(t, uint64(1), m.NextLSN())
}

func TestTornTailStopsReplay(t *testing.T) {
	path := walPath(t)
	m, _, err := Open(path)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := m.Append(OpPut, []byte{byte('a' + i)}, []byte("payload"))
		require.NoError(t, err)
	}
	require.NoError(t, m.Flush())
	require.NoError(t, m.Close())

	// chop the file mid-record
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-7))

	m, _, err = Open(path)
	require.NoError(t, err)
	defer m.Close()

	var lsns []uint64
	require.NoError(t, m.Replay(func(r Record) error {
		lsns = append(lsns, r.LSN)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2, 3, 4}, lsns)

	// the torn record's LSN is reused
	lsn, err := m.Append(OpPut, []byte("x"), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), lsn)
}

func TestCorruptedRecordStopsReplay(t *testing.T) {
	path := walPath(t)
	m, _, err := Open(path)
	require.NoError(t, err)

	_, err = m.Append(OpPut, []byte("good"), []byte("one"))
	require.NoError(t, err)
	_, err = m.Append(OpPut, []byte("bad"), []byte("two"))
	require.NoError(t, err)
	require.NoError(t, m.Flush())
	size := m.Size()
	require.NoError(t, m.Close())

	// flip a byte inside the second record's payload
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, size-2)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m, _, err = Open(path)
	require.NoError(t, err)
	defer m.Close()

	count := 0
	require.NoError(t, m.Replay(func(Record) error { count++; return nil }))
	assert.Equal(t, 1, count)
}

func TestCheckpointTracking(t *testing.T) {
	path := walPath(t)
	m, _, err := Open(path)
	require.NoError(t, err)

	_, err = m.Append(OpPut, []byte("k"), []byte("v"))
	require.NoError(t, err)
	ckptLSN, err := m.Append(OpCheckpoint, nil, nil)
	require.NoError(t, err)
	_, err = m.Append(OpPut, []byte("k2"), []byte("v2"))
	require.NoError(t, err)
	require.NoError(t, m.Flush())
	require.NoError(t, m.Close())

	m, lastCheckpoint, err := Open(path)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, ckptLSN, lastCheckpoint)
}

func TestTruncateBefore(t *testing.T) {
	path := walPath(t)
	m, _, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	for i := 0; i < 10; i++ {
		_, err := m.Append(OpPut, []byte{byte(i)}, []byte("v"))
		require.NoError(t, err)
	}
	require.NoError(t, m.Flush())
	before := m.Size()

	require.NoError(t, m.TruncateBefore(8))
	assert.Less(t, m.Size(), before)

	var lsns []uint64
	require.NoError(t, m.Replay(func(r Record) error {
		lsns = append(lsns, r.LSN)
		return nil
	}))
	assert.Equal(t, []uint64{8, 9, 10}, lsns)

	// appends still work after the swap
	lsn, err := m.Append(OpPut, []byte("z"), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), lsn)
	require.NoError(t, m.Flush())
}
