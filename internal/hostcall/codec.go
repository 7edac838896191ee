package hostcall

import (
	"bytes"
	"encoding/binary"

	varint "github.com/multiformats/go-varint"

	"github.com/interstice-network/interstice-core/internal/codec"
	"github.com/interstice-network/interstice-core/internal/ierr"
	"github.com/interstice-network/interstice-core/internal/value"
)

// Decode parses a HostCall from the bytes a guest passed to
// interstice_host_call.
func Decode(data []byte) (HostCall, error) {
	r := bytes.NewReader(data)
	var hc HostCall

	kindByte, err := r.ReadByte()
	if err != nil {
		return hc, ierr.Wrap(ierr.ValidationError, "truncated host call kind", err)
	}
	hc.Kind = Kind(kindByte)

	switch hc.Kind {
	case KindLog, KindAbort:
		if hc.Message, err = getStr(r); err != nil {
			return hc, err
		}
	case KindCallReducer, KindCallQuery:
		if hc.NodeSel, err = getNodeSel(r); err != nil {
			return hc, err
		}
		if hc.ModuleSel, err = getModuleSel(r); err != nil {
			return hc, err
		}
		if hc.Name, err = getStr(r); err != nil {
			return hc, err
		}
		if hc.Input, err = readEncodedValue(r); err != nil {
			return hc, err
		}
	case KindInsertRow:
		if hc.ModuleSel, err = getModuleSel(r); err != nil {
			return hc, err
		}
		if hc.Table, err = getStr(r); err != nil {
			return hc, err
		}
		if hc.Row, err = getValues(r); err != nil {
			return hc, err
		}
	case KindUpdateRow:
		if hc.ModuleSel, err = getModuleSel(r); err != nil {
			return hc, err
		}
		if hc.Table, err = getStr(r); err != nil {
			return hc, err
		}
		if hc.Key, err = readEncodedValue(r); err != nil {
			return hc, err
		}
		if hc.Row, err = getValues(r); err != nil {
			return hc, err
		}
	case KindDeleteRow:
		if hc.ModuleSel, err = getModuleSel(r); err != nil {
			return hc, err
		}
		if hc.Table, err = getStr(r); err != nil {
			return hc, err
		}
		if hc.Key, err = readEncodedValue(r); err != nil {
			return hc, err
		}
	case KindTableScan:
		if hc.ModuleSel, err = getModuleSel(r); err != nil {
			return hc, err
		}
		if hc.Table, err = getStr(r); err != nil {
			return hc, err
		}
	case KindSchedule:
		if hc.Name, err = getStr(r); err != nil {
			return hc, err
		}
		if err := binary.Read(r, binary.LittleEndian, &hc.DelayMs); err != nil {
			return hc, ierr.Wrap(ierr.ValidationError, "truncated schedule delay", err)
		}
	case KindTime, KindDeterministicRandom:
		// no payload
	case KindAuthority:
		authByte, err := r.ReadByte()
		if err != nil {
			return hc, ierr.Wrap(ierr.ValidationError, "truncated authority kind", err)
		}
		hc.Authority = AuthorityKind(authByte)
		if hc.AuthPayload, err = readEncodedValue(r); err != nil {
			return hc, err
		}
	default:
		return hc, ierr.Newf(ierr.ValidationError, "unknown host call kind %d", kindByte)
	}

	if err != nil {
		return hc, err
	}
	if r.Len() != 0 {
		return hc, ierr.New(ierr.ValidationError, "trailing bytes after decoded host call")
	}
	return hc, nil
}

// Encode serializes a HostCall; used by guest-side test harnesses and
// by in-process testing of the dispatcher without a real WASM guest.
func Encode(hc HostCall) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(hc.Kind))
	switch hc.Kind {
	case KindLog, KindAbort:
		putStr(&buf, hc.Message)
	case KindCallReducer, KindCallQuery:
		putNodeSel(&buf, hc.NodeSel)
		putModuleSel(&buf, hc.ModuleSel)
		putStr(&buf, hc.Name)
		putBlock(&buf, codec.Encode(hc.Input))
	case KindInsertRow:
		putModuleSel(&buf, hc.ModuleSel)
		putStr(&buf, hc.Table)
		putValues(&buf, hc.Row)
	case KindUpdateRow:
		putModuleSel(&buf, hc.ModuleSel)
		putStr(&buf, hc.Table)
		putBlock(&buf, codec.Encode(hc.Key))
		putValues(&buf, hc.Row)
	case KindDeleteRow:
		putModuleSel(&buf, hc.ModuleSel)
		putStr(&buf, hc.Table)
		putBlock(&buf, codec.Encode(hc.Key))
	case KindTableScan:
		putModuleSel(&buf, hc.ModuleSel)
		putStr(&buf, hc.Table)
	case KindSchedule:
		putStr(&buf, hc.Name)
		binary.Write(&buf, binary.LittleEndian, hc.DelayMs)
	case KindTime, KindDeterministicRandom:
	case KindAuthority:
		buf.WriteByte(byte(hc.Authority))
		putBlock(&buf, codec.Encode(hc.AuthPayload))
	}
	return buf.Bytes()
}

// DecodeResponse and EncodeResponse handle the dispatcher's reply.
func EncodeResponse(resp Response) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(resp.Kind))
	switch resp.Kind {
	case RespVoid:
	case RespValue:
		putBlock(&buf, codec.Encode(resp.Value))
	case RespRows:
		putVarint(&buf, uint64(len(resp.Rows)))
		for _, row := range resp.Rows {
			putBlock(&buf, codec.Encode(row.PrimaryKey))
			putValues(&buf, row.Entries)
		}
	case RespU64:
		binary.Write(&buf, binary.LittleEndian, resp.U64)
	case RespError:
		putVarint(&buf, uint64(resp.ErrKind))
		putStr(&buf, resp.ErrMessage)
	}
	return buf.Bytes()
}

func DecodeResponse(data []byte) (Response, error) {
	r := bytes.NewReader(data)
	var resp Response
	kindByte, err := r.ReadByte()
	if err != nil {
		return resp, ierr.Wrap(ierr.ValidationError, "truncated response kind", err)
	}
	resp.Kind = ResponseKind(kindByte)
	switch resp.Kind {
	case RespVoid:
	case RespValue:
		if resp.Value, err = readEncodedValue(r); err != nil {
			return resp, err
		}
	case RespRows:
		n, err := getVarint(r)
		if err != nil {
			return resp, err
		}
		resp.Rows = make([]Row, n)
		for i := range resp.Rows {
			pk, err := readEncodedValue(r)
			if err != nil {
				return resp, err
			}
			entries, err := getValues(r)
			if err != nil {
				return resp, err
			}
			resp.Rows[i] = Row{PrimaryKey: pk, Entries: entries}
		}
	case RespU64:
		if err := binary.Read(r, binary.LittleEndian, &resp.U64); err != nil {
			return resp, ierr.Wrap(ierr.ValidationError, "truncated u64 response", err)
		}
	case RespError:
		n, err := getVarint(r)
		if err != nil {
			return resp, err
		}
		resp.ErrKind = int(n)
		if resp.ErrMessage, err = getStr(r); err != nil {
			return resp, err
		}
	default:
		return resp, ierr.Newf(ierr.ValidationError, "unknown response kind %d", kindByte)
	}
	if r.Len() != 0 {
		return resp, ierr.New(ierr.ValidationError, "trailing bytes after decoded response")
	}
	return resp, nil
}

// --- shared primitives ---

func putVarint(buf *bytes.Buffer, n uint64) {
	tmp := make([]byte, varint.MaxLenUvarint63)
	w := varint.PutUvarint(tmp, n)
	buf.Write(tmp[:w])
}

func getVarint(r *bytes.Reader) (uint64, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return 0, ierr.Wrap(ierr.ValidationError, "malformed length varint", err)
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

// readBlock reads one length-prefixed embedded-codec block.
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

// readEncodedValue reads one length-prefixed internal/codec-encoded
// Value block.
func readEncodedValue(r *bytes.Reader) (value.Value, error) {
	block, err := readBlock(r)
	if err != nil {
		return value.Value{}, err
	}
	return codec.Decode(block)
}

func readFull(r *bytes.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err != nil {
			return ierr.Wrap(ierr.ValidationError, "unexpected end of host call data", err)
		}
	}
	return nil
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

func putNodeSel(buf *bytes.Buffer, sel NodeSelection) {
	if !sel.Other {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	putStr(buf, sel.Node)
}

func getNodeSel(r *bytes.Reader) (NodeSelection, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return NodeSelection{}, ierr.Wrap(ierr.ValidationError, "truncated node selection", err)
	}
	if tag == 0 {
		return NodeSelection{}, nil
	}
	node, err := getStr(r)
	if err != nil {
		return NodeSelection{}, err
	}
	return NodeSelection{Other: true, Node: node}, nil
}

func putModuleSel(buf *bytes.Buffer, sel ModuleSelection) {
	if !sel.Named {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	putStr(buf, sel.Module)
}

func getModuleSel(r *bytes.Reader) (ModuleSelection, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return ModuleSelection{}, ierr.Wrap(ierr.ValidationError, "truncated module selection", err)
	}
	if tag == 0 {
		return ModuleSelection{}, nil
	}
	mod, err := getStr(r)
	if err != nil {
		return ModuleSelection{}, err
	}
	return ModuleSelection{Named: true, Module: mod}, nil
}
