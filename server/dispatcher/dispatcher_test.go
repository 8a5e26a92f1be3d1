package dispatcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quokkadb/quokkadb/server/collection"
	"github.com/quokkadb/quokkadb/server/document"
	"github.com/quokkadb/quokkadb/server/storage/engine"
)

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	e, err := engine.Open(engine.DefaultOptions(filepath.Join(t.TempDir(), "quokka.db")))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return NewDispatcher(collection.NewManager(e))
}

func roundTrip(t *testing.T, d *Dispatcher, cmd byte, req *document.Document) *document.Document {
	t.Helper()
	var body []byte
	if req != nil {
		body = document.Encode(req)
	}
	replyBytes, err := d.Dispatch(cmd, body)
	require.NoError(t, err)
	reply, err := document.Decode(replyBytes)
	require.NoError(t, err)
	return reply
}

func replyOK(t *testing.T, reply *document.Document) bool {
	t.Helper()
	v, ok := reply.Get("ok")
	require.True(t, ok)
	b, _ := v.Bool()
	return b
}

func replyCode(t *testing.T, reply *document.Document) int64 {
	t.Helper()
	v, ok := reply.Get("code")
	require.True(t, ok)
	n, _ := v.Int64()
	return n
}

func TestPing(t *testing.T) {
	d := testDispatcher(t)
	reply := roundTrip(t, d, CmdPing, nil)
	assert.True(t, replyOK(t, reply))
	assert.Equal(t, CodeOK, replyCode(t, reply))
}

func TestInsertAndFindById(t *testing.T) {
	d := testDispatcher(t)

	insert := document.FromPairs(
		"collection", document.String("users"),
		"document", document.Embedded(document.FromPairs("name", document.String("ada"))),
	)
	reply := roundTrip(t, d, CmdInsert, insert)
	require.True(t, replyOK(t, reply))
	id, ok := reply.Get("id")
	require.True(t, ok)

	find := document.FromPairs("collection", document.String("users"), "id", id)
	reply = roundTrip(t, d, CmdFindById, find)
	require.True(t, replyOK(t, reply))
	docVal, ok := reply.Get("document")
	require.True(t, ok)
	doc, _ := docVal.Document()
	name, _ := doc.Get("name")
	s, _ := name.Str()
	assert.Equal(t, "ada", s)
}

func TestFindMissingReportsNotFound(t *testing.T) {
	d := testDispatcher(t)
	req := document.FromPairs("collection", document.String("users"), "id", document.String("nope"))
	reply := roundTrip(t, d, CmdFindById, req)
	assert.False(t, replyOK(t, reply))
	assert.Equal(t, CodeNotFound, replyCode(t, reply))
}

func TestDuplicateIdReported(t *testing.T) {
	d := testDispatcher(t)
	req := document.FromPairs(
		"collection", document.String("users"),
		"document", document.Embedded(document.FromPairs("_id", document.String("u1"))),
	)
	require.True(t, replyOK(t, roundTrip(t, d, CmdInsert, req)))
	reply := roundTrip(t, d, CmdInsert, req)
	assert.False(t, replyOK(t, reply))
	assert.Equal(t, CodeDuplicateKey, replyCode(t, reply))
}

func TestUpdateAndDelete(t *testing.T) {
	d := testDispatcher(t)
	insert := document.FromPairs(
		"collection", document.String("users"),
		"document", document.Embedded(document.FromPairs("_id", document.String("u1"), "age", document.Int64(36))),
	)
	require.True(t, replyOK(t, roundTrip(t, d, CmdInsert, insert)))

	update := document.FromPairs(
		"collection", document.String("users"),
		"id", document.String("u1"),
		"document", document.Embedded(document.FromPairs("age", document.Int64(37))),
	)
	require.True(t, replyOK(t, roundTrip(t, d, CmdUpdate, update)))

	del := document.FromPairs("collection", document.String("users"), "id", document.String("u1"))
	require.True(t, replyOK(t, roundTrip(t, d, CmdDelete, del)))

	reply := roundTrip(t, d, CmdFindById, del)
	assert.Equal(t, CodeNotFound, replyCode(t, reply))
}

func TestScanHonorsLimit(t *testing.T) {
	d := testDispatcher(t)
	for i := 0; i < 5; i++ {
		insert := document.FromPairs(
			"collection", document.String("events"),
			"document", document.Embedded(document.FromPairs("n", document.Int64(int64(i)))),
		)
		require.True(t, replyOK(t, roundTrip(t, d, CmdInsert, insert)))
	}

	scan := document.FromPairs("collection", document.String("events"), "limit", document.Int64(3))
	reply := roundTrip(t, d, CmdScan, scan)
	require.True(t, replyOK(t, reply))
	docsVal, _ := reply.Get("documents")
	docs, _ := docsVal.Array()
	assert.Len(t, docs, 3)
}

func TestCreateIndexAndFindByIndex(t *testing.T) {
	d := testDispatcher(t)
	insert := document.FromPairs(
		"collection", document.String("users"),
		"document", document.Embedded(document.FromPairs("name", document.String("ada"))),
	)
	require.True(t, replyOK(t, roundTrip(t, d, CmdInsert, insert)))

	create := document.FromPairs(
		"collection", document.String("users"),
		"index", document.String("users.name"),
		"field", document.String("name"),
		"unique", document.Bool(false),
	)
	require.True(t, replyOK(t, roundTrip(t, d, CmdCreateIndex, create)))

	find := document.FromPairs(
		"collection", document.String("users"),
		"index", document.String("users.name"),
		"value", document.String("ada"),
	)
	reply := roundTrip(t, d, CmdFindByIndex, find)
	require.True(t, replyOK(t, reply))
	docsVal, _ := reply.Get("documents")
	docs, _ := docsVal.Array()
	assert.Len(t, docs, 1)

	drop := document.FromPairs("index", document.String("users.name"))
	require.True(t, replyOK(t, roundTrip(t, d, CmdDropIndex, drop)))
}

func TestUnknownCommandAndBadRequest(t *testing.T) {
	d := testDispatcher(t)

	reply := roundTrip(t, d, 0x7F, nil)
	assert.False(t, replyOK(t, reply))
	assert.Equal(t, CodeBadRequest, replyCode(t, reply))

	// insert without a document field
	req := document.FromPairs("collection", document.String("users"))
	reply = roundTrip(t, d, CmdInsert, req)
	assert.Equal(t, CodeBadRequest, replyCode(t, reply))

	// undecodable body is a transport-level error
	_, err := d.Dispatch(CmdInsert, []byte{0xFF, 0xFF})
	assert.Error(t, err)

	reply = roundTrip(t, d, CmdListNames, nil)
	assert.True(t, replyOK(t, reply))
}
