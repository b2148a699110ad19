package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	c "gopkg.in/check.v1"
	"gopkg.in/mgo.v2/bson"
)

func Test(t *testing.T) { c.TestingT(t) }

type WireSuite struct{}

var _ = c.Suite(&WireSuite{})

func (s *WireSuite) TestQueryRoundtrip(t *c.C) {
	buf, err := EncodeQuery(42, "db.collection", QuerySlaveOK, 5, 10,
		bson.M{"_id": 1}, bson.M{"name": 1})
	t.Assert(err, c.IsNil)

	msg, err := ReadMessage(bytes.NewReader(buf))
	t.Assert(err, c.IsNil)
	t.Assert(msg.Header.OpCode, c.Equals, OpQuery)
	t.Assert(msg.Header.RequestID, c.Equals, int32(42))
	t.Assert(msg.Header.MessageLength, c.Equals, int32(len(buf)))
	t.Assert(msg.Namespace, c.Equals, "db.collection")
	t.Assert(msg.Flags, c.Equals, QuerySlaveOK)
	t.Assert(msg.NumberToSkip, c.Equals, int32(5))
	t.Assert(msg.NumberToReturn, c.Equals, int32(10))

	var query, fields bson.M
	t.Assert(msg.Query.Unmarshal(&query), c.IsNil)
	t.Assert(query["_id"], c.Equals, 1)
	t.Assert(msg.Fields.Unmarshal(&fields), c.IsNil)
	t.Assert(fields["name"], c.Equals, 1)
}

func (s *WireSuite) TestQueryWithoutProjection(t *c.C) {
	buf, err := EncodeQuery(1, "test.$cmd", QueryNone, 0, -1, bson.M{"ismaster": 1}, nil)
	t.Assert(err, c.IsNil)

	msg, err := ReadMessage(bytes.NewReader(buf))
	t.Assert(err, c.IsNil)
	t.Assert(msg.Fields.Data, c.IsNil)
	t.Assert(msg.NumberToReturn, c.Equals, int32(-1))
}

func (s *WireSuite) TestGetMoreRoundtrip(t *c.C) {
	buf, err := EncodeGetMore(7, "db.collection", 100, 123456789)
	t.Assert(err, c.IsNil)

	msg, err := ReadMessage(bytes.NewReader(buf))
	t.Assert(err, c.IsNil)
	t.Assert(msg.Header.OpCode, c.Equals, OpGetMore)
	t.Assert(msg.Namespace, c.Equals, "db.collection")
	t.Assert(msg.NumberToReturn, c.Equals, int32(100))
	t.Assert(msg.CursorID, c.Equals, int64(123456789))
}

func (s *WireSuite) TestKillCursorsRoundtrip(t *c.C) {
	// The codec carries every id, even though request matching only
	// supports one.
	buf, err := EncodeKillCursors(8, 11, 22, 33)
	t.Assert(err, c.IsNil)

	msg, err := ReadMessage(bytes.NewReader(buf))
	t.Assert(err, c.IsNil)
	t.Assert(msg.Header.OpCode, c.Equals, OpKillCursors)
	t.Assert(msg.CursorIDs, c.DeepEquals, []int64{11, 22, 33})
}

func (s *WireSuite) TestInsertRoundtrip(t *c.C) {
	buf, err := EncodeInsert(9, "db.collection", bson.M{"a": 1}, bson.M{"b": 2})
	t.Assert(err, c.IsNil)

	msg, err := ReadMessage(bytes.NewReader(buf))
	t.Assert(err, c.IsNil)
	t.Assert(msg.Header.OpCode, c.Equals, OpInsert)
	t.Assert(msg.Documents, c.HasLen, 2)

	var doc bson.M
	t.Assert(msg.Documents[1].Unmarshal(&doc), c.IsNil)
	t.Assert(doc["b"], c.Equals, 2)
}

func (s *WireSuite) TestReplyRoundtrip(t *c.C) {
	buf, err := EncodeReply(3, 42, ReplyAwaitCapable, 99, 1, 2,
		bson.M{"x": 1}, bson.M{"x": 2})
	t.Assert(err, c.IsNil)

	msg, err := ReadMessage(bytes.NewReader(buf))
	t.Assert(err, c.IsNil)
	t.Assert(msg.Header.OpCode, c.Equals, OpReply)
	t.Assert(msg.Header.ResponseTo, c.Equals, int32(42))
	t.Assert(msg.ReplyFlags, c.Equals, ReplyAwaitCapable)
	t.Assert(msg.CursorID, c.Equals, int64(99))
	t.Assert(msg.StartingFrom, c.Equals, int32(1))
	t.Assert(msg.NumberReturned, c.Equals, int32(2))
	t.Assert(msg.Documents, c.HasLen, 2)
}

func (s *WireSuite) TestBadMessageLength(t *c.C) {
	var head [16]byte
	binary.LittleEndian.PutUint32(head[0:4], 4) // shorter than the header
	binary.LittleEndian.PutUint32(head[12:16], uint32(OpQuery))

	_, err := ReadMessage(bytes.NewReader(head[:]))
	t.Assert(err, c.NotNil)
}

func (s *WireSuite) TestTruncatedBody(t *c.C) {
	buf, err := EncodeQuery(1, "db.c", QueryNone, 0, 0, bson.M{"a": 1}, nil)
	t.Assert(err, c.IsNil)

	_, err = ReadMessage(bytes.NewReader(buf[:len(buf)-3]))
	t.Assert(err, c.NotNil)
}

func (s *WireSuite) TestUnknownOpCode(t *c.C) {
	var head [16]byte
	binary.LittleEndian.PutUint32(head[0:4], 16)
	binary.LittleEndian.PutUint32(head[12:16], 9999)

	_, err := ReadMessage(bytes.NewReader(head[:]))
	t.Assert(err, c.NotNil)
}
