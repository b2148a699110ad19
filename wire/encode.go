package wire

import (
	"bytes"
	"encoding/binary"

	"gopkg.in/mgo.v2/bson"
)

// encoder accumulates a message body and patches the length in last.
type encoder struct {
	buf bytes.Buffer
}

func newEncoder(requestID, responseTo int32, op OpCode) *encoder {
	e := &encoder{}
	e.int32(0) // length placeholder
	e.int32(requestID)
	e.int32(responseTo)
	e.int32(int32(op))
	return e
}

func (e *encoder) int32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	e.buf.Write(b[:])
}

func (e *encoder) int64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	e.buf.Write(b[:])
}

func (e *encoder) cstring(s string) {
	e.buf.WriteString(s)
	e.buf.WriteByte(0)
}

func (e *encoder) document(doc interface{}) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	e.buf.Write(data)
	return nil
}

func (e *encoder) bytes() []byte {
	out := e.buf.Bytes()
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(out)))
	return out
}

// EncodeQuery builds an OP_QUERY message. A nil query becomes the empty
// document; a nil fields document omits the projection.
func EncodeQuery(requestID int32, ns string, flags QueryFlags, skip, nReturn int32, query, fields interface{}) ([]byte, error) {
	e := newEncoder(requestID, 0, OpQuery)
	e.int32(int32(flags))
	e.cstring(ns)
	e.int32(skip)
	e.int32(nReturn)
	if query == nil {
		query = bson.D{}
	}
	if err := e.document(query); err != nil {
		return nil, err
	}
	if fields != nil {
		if err := e.document(fields); err != nil {
			return nil, err
		}
	}
	return e.bytes(), nil
}

// EncodeGetMore builds an OP_GETMORE message.
func EncodeGetMore(requestID int32, ns string, nReturn int32, cursorID int64) ([]byte, error) {
	e := newEncoder(requestID, 0, OpGetMore)
	e.int32(0) // ZERO
	e.cstring(ns)
	e.int32(nReturn)
	e.int64(cursorID)
	return e.bytes(), nil
}

// EncodeKillCursors builds an OP_KILLCURSORS message.
func EncodeKillCursors(requestID int32, cursorIDs ...int64) ([]byte, error) {
	e := newEncoder(requestID, 0, OpKillCursors)
	e.int32(0) // ZERO
	e.int32(int32(len(cursorIDs)))
	for _, id := range cursorIDs {
		e.int64(id)
	}
	return e.bytes(), nil
}

// EncodeInsert builds an OP_INSERT message.
func EncodeInsert(requestID int32, ns string, docs ...interface{}) ([]byte, error) {
	e := newEncoder(requestID, 0, OpInsert)
	e.int32(0) // flags
	e.cstring(ns)
	for _, doc := range docs {
		if err := e.document(doc); err != nil {
			return nil, err
		}
	}
	return e.bytes(), nil
}

// EncodeReply builds an OP_REPLY answering the request with id
// responseTo.
func EncodeReply(requestID, responseTo int32, flags ReplyFlags, cursorID int64, startingFrom, numberReturned int32, docs ...interface{}) ([]byte, error) {
	e := newEncoder(requestID, responseTo, OpReply)
	e.int32(int32(flags))
	e.int64(cursorID)
	e.int32(startingFrom)
	e.int32(numberReturned)
	for _, doc := range docs {
		if err := e.document(doc); err != nil {
			return nil, err
		}
	}
	return e.bytes(), nil
}
