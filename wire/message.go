package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"gopkg.in/mgo.v2/bson"
)

// Message is one parsed wire protocol message. Header and Namespace are
// set for every opcode that carries them; the remaining fields are
// populated according to the opcode.
type Message struct {
	Header MsgHeader

	// OP_QUERY, OP_GETMORE, OP_INSERT, OP_UPDATE, OP_DELETE
	Namespace string

	// OP_QUERY
	Flags          QueryFlags
	NumberToSkip   int32
	NumberToReturn int32
	Query          bson.Raw
	Fields         bson.Raw // projection; Data is nil when absent

	// OP_GETMORE and OP_REPLY
	CursorID int64

	// OP_KILLCURSORS. Every id on the wire is decoded, even though
	// higher-level matching only supports a single one.
	CursorIDs []int64

	// OP_INSERT, OP_UPDATE, OP_DELETE bodies and OP_REPLY documents
	Documents []bson.Raw

	// OP_REPLY
	ReplyFlags     ReplyFlags
	StartingFrom   int32
	NumberReturned int32
}

// ReadMessage reads and parses a single wire protocol message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	var head [headerLen]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}

	msg := &Message{Header: MsgHeader{
		MessageLength: int32(binary.LittleEndian.Uint32(head[0:4])),
		RequestID:     int32(binary.LittleEndian.Uint32(head[4:8])),
		ResponseTo:    int32(binary.LittleEndian.Uint32(head[8:12])),
		OpCode:        OpCode(binary.LittleEndian.Uint32(head[12:16])),
	}}

	if msg.Header.MessageLength < headerLen || msg.Header.MessageLength > maxMessageLen {
		return nil, fmt.Errorf("wire: bad message length %d", msg.Header.MessageLength)
	}

	body := make([]byte, msg.Header.MessageLength-headerLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	d := &decoder{buf: body}
	var err error
	switch msg.Header.OpCode {
	case OpQuery:
		err = msg.parseQuery(d)
	case OpGetMore:
		err = msg.parseGetMore(d)
	case OpKillCursors:
		err = msg.parseKillCursors(d)
	case OpInsert:
		err = msg.parseInsert(d)
	case OpUpdate:
		err = msg.parseUpdate(d)
	case OpDelete:
		err = msg.parseDelete(d)
	case OpReply:
		err = msg.parseReply(d)
	default:
		err = fmt.Errorf("wire: unknown opcode %d", msg.Header.OpCode)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *Message) parseQuery(d *decoder) (err error) {
	var flags int32
	if flags, err = d.int32(); err != nil {
		return err
	}
	m.Flags = QueryFlags(flags)
	if m.Namespace, err = d.cstring(); err != nil {
		return err
	}
	if m.NumberToSkip, err = d.int32(); err != nil {
		return err
	}
	if m.NumberToReturn, err = d.int32(); err != nil {
		return err
	}
	if m.Query, err = d.document(); err != nil {
		return err
	}
	if d.more() {
		if m.Fields, err = d.document(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Message) parseGetMore(d *decoder) (err error) {
	if _, err = d.int32(); err != nil { // ZERO
		return err
	}
	if m.Namespace, err = d.cstring(); err != nil {
		return err
	}
	if m.NumberToReturn, err = d.int32(); err != nil {
		return err
	}
	m.CursorID, err = d.int64()
	return err
}

func (m *Message) parseKillCursors(d *decoder) (err error) {
	if _, err = d.int32(); err != nil { // ZERO
		return err
	}
	n, err := d.int32()
	if err != nil {
		return err
	}
	if n < 0 || int(n) > len(d.buf)/8 {
		return fmt.Errorf("wire: bad cursor id count %d", n)
	}
	m.CursorIDs = make([]int64, n)
	for i := range m.CursorIDs {
		if m.CursorIDs[i], err = d.int64(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Message) parseInsert(d *decoder) (err error) {
	var flags int32
	if flags, err = d.int32(); err != nil {
		return err
	}
	m.Flags = QueryFlags(flags)
	if m.Namespace, err = d.cstring(); err != nil {
		return err
	}
	for d.more() {
		doc, err := d.document()
		if err != nil {
			return err
		}
		m.Documents = append(m.Documents, doc)
	}
	if len(m.Documents) == 0 {
		return fmt.Errorf("wire: insert with no documents")
	}
	return nil
}

func (m *Message) parseUpdate(d *decoder) (err error) {
	if _, err = d.int32(); err != nil { // ZERO
		return err
	}
	if m.Namespace, err = d.cstring(); err != nil {
		return err
	}
	var flags int32
	if flags, err = d.int32(); err != nil {
		return err
	}
	m.Flags = QueryFlags(flags)
	selector, err := d.document()
	if err != nil {
		return err
	}
	update, err := d.document()
	if err != nil {
		return err
	}
	m.Documents = []bson.Raw{selector, update}
	return nil
}

func (m *Message) parseDelete(d *decoder) (err error) {
	if _, err = d.int32(); err != nil { // ZERO
		return err
	}
	if m.Namespace, err = d.cstring(); err != nil {
		return err
	}
	var flags int32
	if flags, err = d.int32(); err != nil {
		return err
	}
	m.Flags = QueryFlags(flags)
	selector, err := d.document()
	if err != nil {
		return err
	}
	m.Documents = []bson.Raw{selector}
	return nil
}

func (m *Message) parseReply(d *decoder) (err error) {
	var flags int32
	if flags, err = d.int32(); err != nil {
		return err
	}
	m.ReplyFlags = ReplyFlags(flags)
	if m.CursorID, err = d.int64(); err != nil {
		return err
	}
	if m.StartingFrom, err = d.int32(); err != nil {
		return err
	}
	if m.NumberReturned, err = d.int32(); err != nil {
		return err
	}
	for d.more() {
		doc, err := d.document()
		if err != nil {
			return err
		}
		m.Documents = append(m.Documents, doc)
	}
	return nil
}

// decoder walks a message body.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) more() bool {
	return d.pos < len(d.buf)
}

func (d *decoder) int32() (int32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := int32(binary.LittleEndian.Uint32(d.buf[d.pos:]))
	d.pos += 4
	return v, nil
}

func (d *decoder) int64() (int64, error) {
	if d.pos+8 > len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := int64(binary.LittleEndian.Uint64(d.buf[d.pos:]))
	d.pos += 8
	return v, nil
}

func (d *decoder) cstring() (string, error) {
	for i := d.pos; i < len(d.buf); i++ {
		if d.buf[i] == 0 {
			s := string(d.buf[d.pos:i])
			d.pos = i + 1
			return s, nil
		}
	}
	return "", io.ErrUnexpectedEOF
}

// document slices one BSON document out of the body without decoding it.
func (d *decoder) document() (bson.Raw, error) {
	if d.pos+4 > len(d.buf) {
		return bson.Raw{}, io.ErrUnexpectedEOF
	}
	docLen := int(int32(binary.LittleEndian.Uint32(d.buf[d.pos:])))
	if docLen < 5 || d.pos+docLen > len(d.buf) {
		return bson.Raw{}, fmt.Errorf("wire: bad document length %d", docLen)
	}
	raw := bson.Raw{Kind: 0x03, Data: d.buf[d.pos : d.pos+docLen]}
	d.pos += docLen
	return raw, nil
}
