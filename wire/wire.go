// Package wire implements the legacy MongoDB wire protocol: the framing
// and opcodes a pre-OP_MSG driver speaks. It covers just enough of the
// protocol for a mock server to parse what clients send and to answer
// with OP_REPLY.
package wire

import "fmt"

// OpCode identifies the operation of a wire protocol message.
type OpCode int32

const (
	OpReply       OpCode = 1
	OpUpdate      OpCode = 2001
	OpInsert      OpCode = 2002
	OpQuery       OpCode = 2004
	OpGetMore     OpCode = 2005
	OpDelete      OpCode = 2006
	OpKillCursors OpCode = 2007
)

func (op OpCode) String() string {
	switch op {
	case OpReply:
		return "OP_REPLY"
	case OpUpdate:
		return "OP_UPDATE"
	case OpInsert:
		return "OP_INSERT"
	case OpQuery:
		return "OP_QUERY"
	case OpGetMore:
		return "OP_GETMORE"
	case OpDelete:
		return "OP_DELETE"
	case OpKillCursors:
		return "OP_KILLCURSORS"
	}
	return fmt.Sprintf("OP_%d", int32(op))
}

// QueryFlags are the OP_QUERY flag bits.
type QueryFlags int32

const (
	QueryNone            QueryFlags = 0
	QueryTailableCursor  QueryFlags = 1 << 1
	QuerySlaveOK         QueryFlags = 1 << 2
	QueryOplogReplay     QueryFlags = 1 << 3
	QueryNoCursorTimeout QueryFlags = 1 << 4
	QueryAwaitData       QueryFlags = 1 << 5
	QueryExhaust         QueryFlags = 1 << 6
	QueryPartial         QueryFlags = 1 << 7
)

// ReplyFlags are the OP_REPLY response flag bits.
type ReplyFlags int32

const (
	ReplyNone             ReplyFlags = 0
	ReplyCursorNotFound   ReplyFlags = 1 << 0
	ReplyQueryFailure     ReplyFlags = 1 << 1
	ReplyShardConfigStale ReplyFlags = 1 << 2
	ReplyAwaitCapable     ReplyFlags = 1 << 3
)

// MsgHeader is the 16-byte header that starts every wire message, all
// fields little-endian on the wire.
type MsgHeader struct {
	MessageLength int32
	RequestID     int32
	ResponseTo    int32
	OpCode        OpCode
}

const headerLen = 16

// maxMessageLen mirrors mongod's maxMessageSizeBytes.
const maxMessageLen = 48 * 1000 * 1000
