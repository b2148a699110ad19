package server

import (
	"fmt"
	"strings"

	"gopkg.in/mgo.v2/bson"

	"github.com/ociule/mockmongo/wire"
)

// Request is one client request captured by a mock server, together
// with the connection it arrived on. Whoever pops a Request from a
// queue owns it; the Matches helpers log a diagnostic and report false
// rather than failing, so the caller's own assertions produce the test
// failure.
type Request struct {
	Message *wire.Message

	conn   *serverConn
	server *Server
}

// Server returns the member that received the request.
func (r *Request) Server() *Server {
	return r.server
}

// OpCode returns the request's wire operation.
func (r *Request) OpCode() wire.OpCode {
	return r.Message.Header.OpCode
}

// Namespace returns the request's "db.collection" target, if the
// opcode carries one.
func (r *Request) Namespace() string {
	return r.Message.Namespace
}

func (r *Request) String() string {
	m := r.Message
	switch m.Header.OpCode {
	case wire.OpQuery:
		var doc bson.M
		m.Query.Unmarshal(&doc)
		return fmt.Sprintf("%s %s %v", m.Header.OpCode, m.Namespace, doc)
	case wire.OpKillCursors:
		return fmt.Sprintf("%s %v", m.Header.OpCode, m.CursorIDs)
	default:
		return fmt.Sprintf("%s %s", m.Header.OpCode, m.Namespace)
	}
}

// IsHandshake reports whether the request is an isMaster command: an
// OP_QUERY against a $cmd collection whose first key is isMaster, in
// either historical spelling.
func (r *Request) IsHandshake() bool {
	m := r.Message
	if m.Header.OpCode != wire.OpQuery || !strings.HasSuffix(m.Namespace, ".$cmd") {
		return false
	}
	if len(m.Query.Data) == 0 {
		return false
	}
	var doc bson.D
	if err := m.Query.Unmarshal(&doc); err != nil || len(doc) == 0 {
		return false
	}
	return strings.EqualFold(doc[0].Name, "ismaster")
}

// MatchesQuery reports whether the request is an OP_QUERY with the
// given namespace, flags, skip, and numberToReturn, whose query and
// projection documents structurally contain the expected ones. A nil
// expected document matches anything. Mismatches are logged.
func (r *Request) MatchesQuery(ns string, flags wire.QueryFlags, skip, nReturn int32, query, fields interface{}) bool {
	logger := r.server.Logger.New("fn", "MatchesQuery", "ns", ns)
	m := r.Message

	if m.Header.OpCode != wire.OpQuery {
		logger.Error("request is not a query", "opcode", m.Header.OpCode.String())
		return false
	}
	if m.Namespace != ns {
		logger.Error("namespace mismatch", "got", m.Namespace)
		return false
	}
	if m.Flags != flags {
		logger.Error("flags mismatch", "expected", int32(flags), "got", int32(m.Flags))
		return false
	}
	if m.NumberToSkip != skip {
		logger.Error("numberToSkip mismatch", "expected", skip, "got", m.NumberToSkip)
		return false
	}
	if m.NumberToReturn != nReturn {
		logger.Error("numberToReturn mismatch", "expected", nReturn, "got", m.NumberToReturn)
		return false
	}
	if !matchDocument(m.Query, query, logger.New("doc", "query")) {
		return false
	}
	if !matchDocument(m.Fields, fields, logger.New("doc", "fields")) {
		return false
	}
	return true
}

// MatchesKillCursors reports whether the request is an OP_KILLCURSORS
// for exactly the given cursor id. Only single-id messages are
// supported, although the wire operation may carry several.
func (r *Request) MatchesKillCursors(cursorID int64) bool {
	logger := r.server.Logger.New("fn", "MatchesKillCursors", "cursorId", cursorID)
	m := r.Message

	if m.Header.OpCode != wire.OpKillCursors {
		logger.Error("request is not a killCursors", "opcode", m.Header.OpCode.String())
		return false
	}
	if len(m.CursorIDs) != 1 {
		logger.Error("expected a single cursor id", "got", len(m.CursorIDs))
		return false
	}
	if m.CursorIDs[0] != cursorID {
		logger.Error("cursor id mismatch", "got", m.CursorIDs[0])
		return false
	}
	return true
}
