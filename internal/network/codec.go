package network

import (
	"bytes"

	varint "github.com/multiformats/go-varint"

	"github.com/interstice-network/interstice-core/internal/codec"
	"github.com/interstice-network/interstice-core/internal/ierr"
	"github.com/interstice-network/interstice-core/internal/schema"
	"github.com/interstice-network/interstice-core/internal/value"
)

// Encode serializes a Packet to its wire form (without the outer
// length prefix; callers frame with codec.EncodeFramed).
func Encode(p Packet) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(p.Kind))
	switch p.Kind {
	case KindHandshake:
		putStr(&buf, p.NodeID)
		putStr(&buf, p.Address)
		putStr(&buf, p.Token)
	case KindClose:
	case KindReducerCall:
		putStr(&buf, p.CallerNodeID)
		putStr(&buf, p.Module)
		putStr(&buf, p.Entry)
		putBlock(&buf, codec.Encode(p.Input))
	case KindQueryCall:
		putVarint(&buf, p.RequestID)
		putStr(&buf, p.CallerNodeID)
		putStr(&buf, p.Module)
		putStr(&buf, p.Entry)
		putBlock(&buf, codec.Encode(p.Input))
	case KindQueryResponse:
		putVarint(&buf, p.RequestID)
		putResult(&buf, p.Result)
	case KindSchemaRequest:
		putVarint(&buf, p.RequestID)
		putStr(&buf, p.NodeID)
	case KindSchemaResponse:
		putVarint(&buf, p.RequestID)
		putVarint(&buf, uint64(len(p.Schemas)))
		for _, ms := range p.Schemas {
			putBlock(&buf, schema.Encode(ms))
		}
	case KindRequestSubscription:
		putStr(&buf, p.SubscriberModule)
		putStr(&buf, p.TargetModule)
		putStr(&buf, p.Table)
		buf.WriteByte(byte(p.Event))
		putStr(&buf, p.ReducerName)
	case KindTableEvent:
		putRowEvent(&buf, p.EventRow)
	case KindModuleEvent:
		buf.WriteByte(byte(p.ModuleEventKind))
		putStr(&buf, p.ModuleName)
		putBlock(&buf, schema.Encode(p.ModuleSchema))
	case KindError:
		putStr(&buf, p.Message)
	}
	return buf.Bytes()
}

// Decode parses a Packet from its wire form (the payload after the
// length prefix has already been stripped).
func Decode(data []byte) (Packet, error) {
	r := bytes.NewReader(data)
	var p Packet

	kindByte, err := r.ReadByte()
	if err != nil {
		return p, ierr.Wrap(ierr.ProtocolError, "truncated packet kind", err)
	}
	p.Kind = Kind(kindByte)

	switch p.Kind {
	case KindHandshake:
		if p.NodeID, err = getStr(r); err != nil {
			return p, err
		}
		if p.Address, err = getStr(r); err != nil {
			return p, err
		}
		if p.Token, err = getStr(r); err != nil {
			return p, err
		}
	case KindClose:
	case KindReducerCall:
		if p.CallerNodeID, err = getStr(r); err != nil {
			return p, err
		}
		if p.Module, err = getStr(r); err != nil {
			return p, err
		}
		if p.Entry, err = getStr(r); err != nil {
			return p, err
		}
		if p.Input, err = readEncodedValue(r); err != nil {
			return p, err
		}
	case KindQueryCall:
		if p.RequestID, err = getVarint(r); err != nil {
			return p, err
		}
		if p.CallerNodeID, err = getStr(r); err != nil {
			return p, err
		}
		if p.Module, err = getStr(r); err != nil {
			return p, err
		}
		if p.Entry, err = getStr(r); err != nil {
			return p, err
		}
		if p.Input, err = readEncodedValue(r); err != nil {
			return p, err
		}
	case KindQueryResponse:
		if p.RequestID, err = getVarint(r); err != nil {
			return p, err
		}
		if p.Result, err = getResult(r); err != nil {
			return p, err
		}
	case KindSchemaRequest:
		if p.RequestID, err = getVarint(r); err != nil {
			return p, err
		}
		if p.NodeID, err = getStr(r); err != nil {
			return p, err
		}
	case KindSchemaResponse:
		if p.RequestID, err = getVarint(r); err != nil {
			return p, err
		}
		n, err2 := getVarint(r)
		if err2 != nil {
			return p, err2
		}
		p.Schemas = make([]schema.ModuleSchema, n)
		for i := range p.Schemas {
			block, err3 := readBlock(r)
			if err3 != nil {
				return p, err3
			}
			ms, err3 := schema.Decode(block)
			if err3 != nil {
				return p, err3
			}
			p.Schemas[i] = ms
		}
	case KindRequestSubscription:
		if p.SubscriberModule, err = getStr(r); err != nil {
			return p, err
		}
		if p.TargetModule, err = getStr(r); err != nil {
			return p, err
		}
		if p.Table, err = getStr(r); err != nil {
			return p, err
		}
		evByte, err2 := r.ReadByte()
		if err2 != nil {
			return p, ierr.Wrap(ierr.ProtocolError, "truncated subscription event", err2)
		}
		p.Event = schema.TableEvent(evByte)
		if p.ReducerName, err = getStr(r); err != nil {
			return p, err
		}
	case KindTableEvent:
		if p.EventRow, err = getRowEvent(r); err != nil {
			return p, err
		}
	case KindModuleEvent:
		kByte, err2 := r.ReadByte()
		if err2 != nil {
			return p, ierr.Wrap(ierr.ProtocolError, "truncated module event kind", err2)
		}
		p.ModuleEventKind = ModuleEventKind(kByte)
		if p.ModuleName, err = getStr(r); err != nil {
			return p, err
		}
		block, err2 := readBlock(r)
		if err2 != nil {
			return p, err2
		}
		if p.ModuleSchema, err = schema.Decode(block); err != nil {
			return p, err
		}
	case KindError:
		if p.Message, err = getStr(r); err != nil {
			return p, err
		}
	default:
		return p, ierr.Newf(ierr.ProtocolError, "unknown packet kind %d", kindByte)
	}

	if err != nil {
		return p, err
	}
	if r.Len() != 0 {
		return p, ierr.New(ierr.ProtocolError, "trailing bytes after decoded packet")
	}
	return p, nil
}

func putResult(buf *bytes.Buffer, res QueryResult) {
	if res.Ok {
		buf.WriteByte(1)
		putBlock(buf, codec.Encode(res.Value))
		return
	}
	buf.WriteByte(0)
	putStr(buf, res.ErrText)
}

func getResult(r *bytes.Reader) (QueryResult, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return QueryResult{}, ierr.Wrap(ierr.ProtocolError, "truncated query result tag", err)
	}
	if tag == 0 {
		msg, err := getStr(r)
		if err != nil {
			return QueryResult{}, err
		}
		return ErrResult(msg), nil
	}
	v, err := readEncodedValue(r)
	if err != nil {
		return QueryResult{}, err
	}
	return OkResult(v), nil
}

func putRowEvent(buf *bytes.Buffer, ev RowEvent) {
	putStr(buf, ev.Module)
	putStr(buf, ev.Table)
	buf.WriteByte(byte(ev.Event))
	putBlock(buf, codec.Encode(ev.PrimaryKey))
	putValues(buf, ev.Entries)
}

func getRowEvent(r *bytes.Reader) (RowEvent, error) {
	var ev RowEvent
	var err error
	if ev.Module, err = getStr(r); err != nil {
		return ev, err
	}
	if ev.Table, err = getStr(r); err != nil {
		return ev, err
	}
	evByte, err := r.ReadByte()
	if err != nil {
		return ev, ierr.Wrap(ierr.ProtocolError, "truncated row event kind", err)
	}
	ev.Event = schema.TableEvent(evByte)
	if ev.PrimaryKey, err = readEncodedValue(r); err != nil {
		return ev, err
	}
	if ev.Entries, err = getValues(r); err != nil {
		return ev, err
	}
	return ev, nil
}

// --- shared primitives (mirrors internal/hostcall/codec.go's conventions) ---

func putVarint(buf *bytes.Buffer, n uint64) {
	tmp := make([]byte, varint.MaxLenUvarint63)
	w := varint.PutUvarint(tmp, n)
	buf.Write(tmp[:w])
}

func getVarint(r *bytes.Reader) (uint64, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return 0, ierr.Wrap(ierr.ProtocolError, "malformed length varint", err)
	}
	return n, nil
}

func putStr(buf *bytes.Buffer, s string) {
	putVarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func getStr(r *bytes.Reader) (string, error) {
	n, err := getVarint(r)
	if err != nil {
		return "", err
	}
	data := make([]byte, n)
	if err := readFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}

func putBlock(buf *bytes.Buffer, encoded []byte) {
	putVarint(buf, uint64(len(encoded)))
	buf.Write(encoded)
}

func readBlock(r *bytes.Reader) ([]byte, error) {
	n, err := getVarint(r)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if err := readFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func readEncodedValue(r *bytes.Reader) (value.Value, error) {
	block, err := readBlock(r)
	if err != nil {
		return value.Value{}, err
	}
	return codec.Decode(block)
}

func putValues(buf *bytes.Buffer, vs []value.Value) {
	putVarint(buf, uint64(len(vs)))
	for _, v := range vs {
		putBlock(buf, codec.Encode(v))
	}
}

func getValues(r *bytes.Reader) ([]value.Value, error) {
	n, err := getVarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]value.Value, n)
	for i := range out {
		out[i], err = readEncodedValue(r)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readFull(r *bytes.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err != nil {
			return ierr.Wrap(ierr.ProtocolError, "unexpected end of packet data", err)
		}
	}
	return nil
}
