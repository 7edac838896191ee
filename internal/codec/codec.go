// Package codec implements a postcard-style compact binary encoding for
// Value: fixed-width primitives little-endian, lengths as varints,
// tagged sums as a leading discriminant byte, options as a 0|1
// presence byte followed by the payload.
//
// Length varints reuse the pack's own multiformats/go-varint encoder
// (the same unsigned-LEB128 the libp2p/boxo stack uses for multiaddr and
// multihash framing) rather than a hand-rolled one.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	varint "github.com/multiformats/go-varint"

	"github.com/interstice-network/interstice-core/internal/ierr"
	"github.com/interstice-network/interstice-core/internal/value"
)

// Encode serializes a Value to its canonical byte form.
func Encode(v value.Value) []byte {
	var buf bytes.Buffer
	encodeValue(&buf, v)
	return buf.Bytes()
}

// Decode parses a Value from its canonical byte form. Decode(Encode(v))
// must equal v for every value the core produces.
func Decode(data []byte) (value.Value, error) {
	r := bytes.NewReader(data)
	v, err := decodeValue(r)
	if err != nil {
		return value.Value{}, err
	}
	if r.Len() != 0 {
		return value.Value{}, ierr.New(ierr.ValidationError, "trailing bytes after decoded value")
	}
	return v, nil
}

func putVarint(buf *bytes.Buffer, n uint64) {
	tmp := make([]byte, varint.MaxLenUvarint63)
	written := varint.PutUvarint(tmp, n)
	buf.Write(tmp[:written])
}

func readVarint(r *bytes.Reader) (uint64, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return 0, ierr.Wrap(ierr.ValidationError, "malformed length varint", err)
	}
	return n, nil
}

func encodeValue(buf *bytes.Buffer, v value.Value) {
	buf.WriteByte(byte(v.Kind))
	switch v.Kind {
	case value.KindVoid:
	case value.KindBool:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case value.KindI32:
		binary.Write(buf, binary.LittleEndian, v.I32)
	case value.KindI64:
		binary.Write(buf, binary.LittleEndian, v.I64)
	case value.KindF32:
		binary.Write(buf, binary.LittleEndian, math.Float32bits(v.F32))
	case value.KindF64:
		binary.Write(buf, binary.LittleEndian, math.Float64bits(v.F64))
	case value.KindString:
		putVarint(buf, uint64(len(v.Str)))
		buf.WriteString(v.Str)
	case value.KindBytes:
		putVarint(buf, uint64(len(v.Bytes)))
		buf.Write(v.Bytes)
	case value.KindVec:
		putVarint(buf, uint64(len(v.Vec)))
		for _, item := range v.Vec {
			encodeValue(buf, item)
		}
	case value.KindTuple:
		putVarint(buf, uint64(len(v.Tuple)))
		for _, item := range v.Tuple {
			encodeValue(buf, item)
		}
	case value.KindOption:
		if v.Option == nil {
			buf.WriteByte(0)
		} else {
			buf.WriteByte(1)
			encodeValue(buf, *v.Option)
		}
	case value.KindStruct:
		encodeString(buf, v.StructName)
		putVarint(buf, uint64(len(v.StructFields)))
		for _, f := range v.StructFields {
			encodeString(buf, f.Name)
			encodeValue(buf, f.Value)
		}
	case value.KindEnumVariant:
		encodeString(buf, v.EnumName)
		encodeString(buf, v.VariantName)
		if v.Payload == nil {
			buf.WriteByte(0)
		} else {
			buf.WriteByte(1)
			encodeValue(buf, *v.Payload)
		}
	}
}

func encodeString(buf *bytes.Buffer, s string) {
	putVarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func decodeString(r *bytes.Reader) (string, error) {
	n, err := readVarint(r)
	if err != nil {
		return "", err
	}
	data := make([]byte, n)
	if _, err := readFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err != nil {
			return read, ierr.Wrap(ierr.ValidationError, "unexpected end of encoded value", err)
		}
	}
	return read, nil
}

func decodeValue(r *bytes.Reader) (value.Value, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return value.Value{}, ierr.Wrap(ierr.ValidationError, "missing value tag", err)
	}
	kind := value.Kind(tagByte)
	switch kind {
	case value.KindVoid:
		return value.Void(), nil
	case value.KindBool:
		b, err := r.ReadByte()
		if err != nil {
			return value.Value{}, ierr.Wrap(ierr.ValidationError, "truncated bool", err)
		}
		return value.NewBool(b != 0), nil
	case value.KindI32:
		var raw int32
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return value.Value{}, ierr.Wrap(ierr.ValidationError, "truncated i32", err)
		}
		return value.NewI32(raw), nil
	case value.KindI64:
		var raw int64
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return value.Value{}, ierr.Wrap(ierr.ValidationError, "truncated i64", err)
		}
		return value.NewI64(raw), nil
	case value.KindF32:
		var raw uint32
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return value.Value{}, ierr.Wrap(ierr.ValidationError, "truncated f32", err)
		}
		return value.NewF32(math.Float32frombits(raw)), nil
	case value.KindF64:
		var raw uint64
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return value.Value{}, ierr.Wrap(ierr.ValidationError, "truncated f64", err)
		}
		return value.NewF64(math.Float64frombits(raw)), nil
	case value.KindString:
		s, err := decodeString(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewString(s), nil
	case value.KindBytes:
		n, err := readVarint(r)
		if err != nil {
			return value.Value{}, err
		}
		data := make([]byte, n)
		if _, err := readFull(r, data); err != nil {
			return value.Value{}, err
		}
		return value.NewBytes(data), nil
	case value.KindVec:
		n, err := readVarint(r)
		if err != nil {
			return value.Value{}, err
		}
		items := make([]value.Value, n)
		for i := range items {
			items[i], err = decodeValue(r)
			if err != nil {
				return value.Value{}, err
			}
		}
		return value.NewVec(items), nil
	case value.KindTuple:
		n, err := readVarint(r)
		if err != nil {
			return value.Value{}, err
		}
		items := make([]value.Value, n)
		for i := range items {
			items[i], err = decodeValue(r)
			if err != nil {
				return value.Value{}, err
			}
		}
		return value.NewTuple(items), nil
	case value.KindOption:
		present, err := r.ReadByte()
		if err != nil {
			return value.Value{}, ierr.Wrap(ierr.ValidationError, "truncated option tag", err)
		}
		if present == 0 {
			return value.NewOption(nil), nil
		}
		inner, err := decodeValue(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewOption(&inner), nil
	case value.KindStruct:
		name, err := decodeString(r)
		if err != nil {
			return value.Value{}, err
		}
		n, err := readVarint(r)
		if err != nil {
			return value.Value{}, err
		}
		fields := make([]value.Field, n)
		for i := range fields {
			fname, err := decodeString(r)
			if err != nil {
				return value.Value{}, err
			}
			fval, err := decodeValue(r)
			if err != nil {
				return value.Value{}, err
			}
			fields[i] = value.Field{Name: fname, Value: fval}
		}
		return value.NewStruct(name, fields), nil
	case value.KindEnumVariant:
		enumName, err := decodeString(r)
		if err != nil {
			return value.Value{}, err
		}
		variantName, err := decodeString(r)
		if err != nil {
			return value.Value{}, err
		}
		hasPayload, err := r.ReadByte()
		if err != nil {
			return value.Value{}, ierr.Wrap(ierr.ValidationError, "truncated enum payload tag", err)
		}
		if hasPayload == 0 {
			return value.NewEnumVariant(enumName, variantName, nil), nil
		}
		payload, err := decodeValue(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewEnumVariant(enumName, variantName, &payload), nil
	default:
		return value.Value{}, ierr.Newf(ierr.ValidationError, "unknown value tag %d", tagByte)
	}
}

// PackPtrLen packs a guest-memory pointer/length pair into the 64-bit
// transfer word used by every host call boundary.
func PackPtrLen(ptr, length int32) int64 {
	return (int64(ptr) << 32) | int64(uint32(length))
}

// UnpackPtrLen reverses PackPtrLen.
func UnpackPtrLen(packed int64) (ptr, length int32) {
	return int32(packed >> 32), int32(packed)
}

// EncodeFramed prefixes data with its own length as a big-endian u32,
// the framing used for a NetworkPacket on the wire.
func EncodeFramed(data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out, uint32(len(data)))
	copy(out[4:], data)
	return out
}

// ErrShortFrame is returned by DecodeFrameLen when fewer than 4 bytes are
// available for the length prefix.
var ErrShortFrame = fmt.Errorf("codec: short frame header")

// DecodeFrameLen reads the big-endian u32 length prefix from the start of
// data, returning it and the number of header bytes consumed.
func DecodeFrameLen(data []byte) (uint32, int, error) {
	if len(data) < 4 {
		return 0, 0, ErrShortFrame
	}
	return binary.BigEndian.Uint32(data), 4, nil
}
