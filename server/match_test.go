package server

import (
	"bytes"

	c "gopkg.in/check.v1"
	"gopkg.in/inconshreveable/log15.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/ociule/mockmongo/wire"
)

type MatchSuite struct {
	srv *Server
}

var _ = c.Suite(&MatchSuite{})

func (s *MatchSuite) SetUpSuite(t *c.C) {
	// Matchers only need the server for its logger; no listener.
	s.srv = New()
	s.srv.Logger.SetHandler(log15.DiscardHandler())
}

// request builds a Request from encoded wire bytes without a network in
// the middle.
func (s *MatchSuite) request(t *c.C, buf []byte) *Request {
	msg, err := wire.ReadMessage(bytes.NewReader(buf))
	t.Assert(err, c.IsNil)
	return &Request{Message: msg, server: s.srv}
}

func (s *MatchSuite) query(t *c.C, ns string, flags wire.QueryFlags, skip, nReturn int32, query, fields interface{}) *Request {
	buf, err := wire.EncodeQuery(1, ns, flags, skip, nReturn, query, fields)
	t.Assert(err, c.IsNil)
	return s.request(t, buf)
}

func (s *MatchSuite) TestMatchesQuery(t *c.C) {
	r := s.query(t, "db.collection", wire.QuerySlaveOK, 2, 10,
		bson.M{"_id": 1}, bson.M{"name": 1})

	ok := r.MatchesQuery("db.collection", wire.QuerySlaveOK, 2, 10,
		bson.M{"_id": 1}, bson.M{"name": 1})
	t.Assert(ok, c.Equals, true)
}

func (s *MatchSuite) TestMatchesQueryNilExpectations(t *c.C) {
	r := s.query(t, "db.collection", wire.QueryNone, 0, 0, bson.M{"_id": 1}, nil)

	// nil documents match anything.
	ok := r.MatchesQuery("db.collection", wire.QueryNone, 0, 0, nil, nil)
	t.Assert(ok, c.Equals, true)
}

func (s *MatchSuite) TestMatchesQueryStructural(t *c.C) {
	r := s.query(t, "db.collection", wire.QueryNone, 0, 0,
		bson.M{"a": 1, "b": bson.M{"x": "y", "z": 2}, "c": []interface{}{1, 2}}, nil)

	// Subset of fields, recursing into the subdocument.
	ok := r.MatchesQuery("db.collection", wire.QueryNone, 0, 0,
		bson.M{"b": bson.M{"x": "y"}, "c": []interface{}{1, 2}}, nil)
	t.Assert(ok, c.Equals, true)

	// Wrong nested value.
	ok = r.MatchesQuery("db.collection", wire.QueryNone, 0, 0,
		bson.M{"b": bson.M{"x": "nope"}}, nil)
	t.Assert(ok, c.Equals, false)

	// Missing field.
	ok = r.MatchesQuery("db.collection", wire.QueryNone, 0, 0,
		bson.M{"missing": 1}, nil)
	t.Assert(ok, c.Equals, false)
}

func (s *MatchSuite) TestMatchesQueryNumericWidths(t *c.C) {
	r := s.query(t, "db.collection", wire.QueryNone, 0, 0,
		bson.M{"n": int64(5)}, nil)

	// int32 vs int64 vs double compare by value.
	ok := r.MatchesQuery("db.collection", wire.QueryNone, 0, 0, bson.M{"n": 5}, nil)
	t.Assert(ok, c.Equals, true)
	ok = r.MatchesQuery("db.collection", wire.QueryNone, 0, 0, bson.M{"n": 5.0}, nil)
	t.Assert(ok, c.Equals, true)
	ok = r.MatchesQuery("db.collection", wire.QueryNone, 0, 0, bson.M{"n": 6}, nil)
	t.Assert(ok, c.Equals, false)
}

func (s *MatchSuite) TestMatchesQueryWireShape(t *c.C) {
	r := s.query(t, "db.collection", wire.QuerySlaveOK, 2, 10, bson.M{"_id": 1}, nil)

	t.Assert(r.MatchesQuery("db.other", wire.QuerySlaveOK, 2, 10, nil, nil), c.Equals, false)
	t.Assert(r.MatchesQuery("db.collection", wire.QueryNone, 2, 10, nil, nil), c.Equals, false)
	t.Assert(r.MatchesQuery("db.collection", wire.QuerySlaveOK, 0, 10, nil, nil), c.Equals, false)
	t.Assert(r.MatchesQuery("db.collection", wire.QuerySlaveOK, 2, 0, nil, nil), c.Equals, false)
}

func (s *MatchSuite) TestMatchesQueryRejectsOtherOps(t *c.C) {
	buf, err := wire.EncodeKillCursors(1, 99)
	t.Assert(err, c.IsNil)
	r := s.request(t, buf)

	t.Assert(r.MatchesQuery("db.collection", wire.QueryNone, 0, 0, nil, nil), c.Equals, false)
}

func (s *MatchSuite) TestMatchesKillCursors(t *c.C) {
	buf, err := wire.EncodeKillCursors(1, 123)
	t.Assert(err, c.IsNil)
	r := s.request(t, buf)

	t.Assert(r.MatchesKillCursors(123), c.Equals, true)
	t.Assert(r.MatchesKillCursors(456), c.Equals, false)
}

func (s *MatchSuite) TestMatchesKillCursorsSingleIDOnly(t *c.C) {
	buf, err := wire.EncodeKillCursors(1, 123, 456)
	t.Assert(err, c.IsNil)
	r := s.request(t, buf)

	// Multi-id messages are out of scope for matching.
	t.Assert(r.MatchesKillCursors(123), c.Equals, false)
}

func (s *MatchSuite) TestIsHandshake(t *c.C) {
	r := s.query(t, "admin.$cmd", wire.QueryNone, 0, -1, bson.D{{Name: "isMaster", Value: 1}}, nil)
	t.Assert(r.IsHandshake(), c.Equals, true)

	r = s.query(t, "admin.$cmd", wire.QueryNone, 0, -1, bson.D{{Name: "ping", Value: 1}}, nil)
	t.Assert(r.IsHandshake(), c.Equals, false)

	r = s.query(t, "db.collection", wire.QueryNone, 0, 0, bson.D{{Name: "ismaster", Value: 1}}, nil)
	t.Assert(r.IsHandshake(), c.Equals, false)
}
