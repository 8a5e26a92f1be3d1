package dispatcher

import (
	stderrors "errors"

	"github.com/juju/errors"

	"github.com/quokkadb/quokkadb/logger"
	"github.com/quokkadb/quokkadb/server/collection"
	"github.com/quokkadb/quokkadb/server/document"
	"github.com/quokkadb/quokkadb/server/storage"
)

// Wire commands. Requests and replies are both documents encoded with the
// standard codec, so the protocol needs no second serialization format.
const (
	CmdPing        byte = 0x01
	CmdInsert      byte = 0x02
	CmdFindById    byte = 0x03
	CmdFindByIndex byte = 0x04
	CmdUpdate      byte = 0x05
	CmdDelete      byte = 0x06
	CmdScan        byte = 0x07
	CmdCreateIndex byte = 0x08
	CmdDropIndex   byte = 0x09
	CmdListNames   byte = 0x0A
)

// Reply error codes, carried in the "code" field when "ok" is false.
const (
	CodeOK           int64 = 0
	CodeBadRequest   int64 = 1
	CodeNotFound     int64 = 2
	CodeDuplicateKey int64 = 3
	CodeUnavailable  int64 = 4
	CodeInternal     int64 = 5
)

// scanLimit caps one reply so a big collection cannot balloon a packet past
// the session's message limit.
const scanLimit = 1000

// Dispatcher routes decoded commands to collection operations. It is safe
// for concurrent use; the engine below serializes writers.
type Dispatcher struct {
	collections *collection.Manager
}

func NewDispatcher(cols *collection.Manager) *Dispatcher {
	return &Dispatcher{collections: cols}
}

// Dispatch executes one command and returns the encoded reply document.
// The returned error is reserved for undecodable requests; operation
// failures travel inside the reply.
func (d *Dispatcher) Dispatch(cmd byte, body []byte) ([]byte, error) {
	var req *document.Document
	if len(body) > 0 {
		var err error
		req, err = document.Decode(body)
		if err != nil {
			return nil, errors.Annotate(err, "decode request")
		}
	} else {
		req = document.NewDocument()
	}

	reply, err := d.dispatch(cmd, req)
	if err != nil {
		logger.Errorf("command 0x%02x failed: %v", cmd, err)
		reply = errorReply(err)
	}
	return document.Encode(reply), nil
}

func (d *Dispatcher) dispatch(cmd byte, req *document.Document) (*document.Document, error) {
	switch cmd {
	case CmdPing:
		return okReply(), nil
	case CmdInsert:
		return d.handleInsert(req)
	case CmdFindById:
		return d.handleFindById(req)
	case CmdFindByIndex:
		return d.handleFindByIndex(req)
	case CmdUpdate:
		return d.handleUpdate(req)
	case CmdDelete:
		return d.handleDelete(req)
	case CmdScan:
		return d.handleScan(req)
	case CmdCreateIndex:
		return d.handleCreateIndex(req)
	case CmdDropIndex:
		return d.handleDropIndex(req)
	case CmdListNames:
		return d.handleListNames()
	default:
		return nil, errors.NotSupportedf("command 0x%02x", cmd)
	}
}

func (d *Dispatcher) handleInsert(req *document.Document) (*document.Document, error) {
	col, err := d.targetCollection(req)
	if err != nil {
		return nil, err
	}
	doc, err := embeddedField(req, "document")
	if err != nil {
		return nil, err
	}
	id, err := col.Insert(doc)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return okReply().Set("id", id), nil
}

func (d *Dispatcher) handleFindById(req *document.Document) (*document.Document, error) {
	col, err := d.targetCollection(req)
	if err != nil {
		return nil, err
	}
	id, ok := req.Get("id")
	if !ok {
		return nil, errors.NotValidf("request without id")
	}
	doc, err := col.Get(id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return okReply().Set("document", document.Embedded(doc)), nil
}

func (d *Dispatcher) handleFindByIndex(req *document.Document) (*document.Document, error) {
	col, err := d.targetCollection(req)
	if err != nil {
		return nil, err
	}
	indexName, err := stringField(req, "index")
	if err != nil {
		return nil, err
	}
	value, ok := req.Get("value")
	if !ok {
		return nil, errors.NotValidf("request without value")
	}
	var docs []document.Value
	err = col.FindByIndex(indexName, value, func(doc *document.Document) (bool, error) {
		docs = append(docs, document.Embedded(doc))
		return len(docs) < scanLimit, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return okReply().Set("documents", document.Array(docs...)), nil
}

func (d *Dispatcher) handleUpdate(req *document.Document) (*document.Document, error) {
	col, err := d.targetCollection(req)
	if err != nil {
		return nil, err
	}
	id, ok := req.Get("id")
	if !ok {
		return nil, errors.NotValidf("request without id")
	}
	doc, err := embeddedField(req, "document")
	if err != nil {
		return nil, err
	}
	if err := col.Replace(id, doc); err != nil {
		return nil, errors.Trace(err)
	}
	return okReply(), nil
}

func (d *Dispatcher) handleDelete(req *document.Document) (*document.Document, error) {
	col, err := d.targetCollection(req)
	if err != nil {
		return nil, err
	}
	id, ok := req.Get("id")
	if !ok {
		return nil, errors.NotValidf("request without id")
	}
	if err := col.Delete(id); err != nil {
		return nil, errors.Trace(err)
	}
	return okReply(), nil
}

func (d *Dispatcher) handleScan(req *document.Document) (*document.Document, error) {
	col, err := d.targetCollection(req)
	if err != nil {
		return nil, err
	}
	limit := int64(scanLimit)
	if v, ok := req.Get("limit"); ok {
		if n, isInt := v.Int64(); isInt && n > 0 && n < limit {
			limit = n
		}
	}
	var docs []document.Value
	err = col.Scan(func(doc *document.Document) (bool, error) {
		docs = append(docs, document.Embedded(doc))
		return int64(len(docs)) < limit, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return okReply().Set("documents", document.Array(docs...)), nil
}

func (d *Dispatcher) handleCreateIndex(req *document.Document) (*document.Document, error) {
	col, err := d.targetCollection(req)
	if err != nil {
		return nil, err
	}
	indexName, err := stringField(req, "index")
	if err != nil {
		return nil, err
	}
	field, err := stringField(req, "field")
	if err != nil {
		return nil, err
	}
	unique := false
	if v, ok := req.Get("unique"); ok {
		unique, _ = v.Bool()
	}
	if err := col.CreateIndex(indexName, field, unique); err != nil {
		return nil, errors.Trace(err)
	}
	return okReply(), nil
}

func (d *Dispatcher) handleDropIndex(req *document.Document) (*document.Document, error) {
	indexName, err := stringField(req, "index")
	if err != nil {
		return nil, err
	}
	if err := d.collections.Indexes().Drop(indexName); err != nil {
		return nil, errors.Trace(err)
	}
	return okReply(), nil
}

func (d *Dispatcher) handleListNames() (*document.Document, error) {
	names, err := d.collections.Names()
	if err != nil {
		return nil, errors.Trace(err)
	}
	vals := make([]document.Value, len(names))
	for i, name := range names {
		vals[i] = document.String(name)
	}
	return okReply().Set("collections", document.Array(vals...)), nil
}

func (d *Dispatcher) targetCollection(req *document.Document) (*collection.Collection, error) {
	name, err := stringField(req, "collection")
	if err != nil {
		return nil, err
	}
	return d.collections.Collection(name), nil
}

func stringField(req *document.Document, field string) (string, error) {
	v, ok := req.Get(field)
	if !ok {
		return "", errors.NotValidf("request without %s", field)
	}
	s, ok := v.Str()
	if !ok {
		return "", errors.NotValidf("%s field of type %s", field, v.Type())
	}
	return s, nil
}

func embeddedField(req *document.Document, field string) (*document.Document, error) {
	v, ok := req.Get(field)
	if !ok {
		return nil, errors.NotValidf("request without %s", field)
	}
	doc, ok := v.Document()
	if !ok {
		return nil, errors.NotValidf("%s field of type %s", field, v.Type())
	}
	return doc, nil
}

func okReply() *document.Document {
	return document.FromPairs("ok", document.Bool(true), "code", document.Int64(CodeOK))
}

func errorReply(err error) *document.Document {
	return document.FromPairs(
		"ok", document.Bool(false),
		"code", document.Int64(errorCode(err)),
		"error", document.String(err.Error()),
	)
}

func errorCode(err error) int64 {
	switch {
	case stderrors.Is(err, storage.ErrNotFound) || errors.IsNotFound(err):
		return CodeNotFound
	case stderrors.Is(err, storage.ErrDuplicateKey):
		return CodeDuplicateKey
	case stderrors.Is(err, storage.ErrLockTimeout) || stderrors.Is(err, storage.ErrInvalidState):
		return CodeUnavailable
	case errors.IsNotValid(err) || errors.IsNotSupported(err):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}
