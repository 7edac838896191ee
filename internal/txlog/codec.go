package txlog

import (
	"bytes"
	"encoding/binary"

	varint "github.com/multiformats/go-varint"

	"github.com/interstice-network/interstice-core/internal/codec"
	"github.com/interstice-network/interstice-core/internal/ierr"
	"github.com/interstice-network/interstice-core/internal/value"
)

// Encode serializes a Transaction to the payload form stored inside a
// log frame. It reuses internal/codec's Value encoding for row entries
// rather than inventing a second primitive format.
func Encode(tx Transaction) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(tx.Kind))
	putStr(&buf, tx.Module)
	putStr(&buf, tx.Table)
	putRow(&buf, tx.Row)
	if tx.OldRow == nil {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		putRow(&buf, *tx.OldRow)
	}
	binary.Write(&buf, binary.LittleEndian, tx.Timestamp)
	return buf.Bytes()
}

// Decode parses a Transaction previously produced by Encode.
func Decode(data []byte) (Transaction, error) {
	r := bytes.NewReader(data)
	var tx Transaction

	kindByte, err := r.ReadByte()
	if err != nil {
		return tx, ierr.Wrap(ierr.ValidationError, "truncated transaction kind", err)
	}
	tx.Kind = Kind(kindByte)

	if tx.Module, err = getStr(r); err != nil {
		return tx, err
	}
	if tx.Table, err = getStr(r); err != nil {
		return tx, err
	}
	if tx.Row, err = getRow(r); err != nil {
		return tx, err
	}

	hasOld, err := r.ReadByte()
	if err != nil {
		return tx, ierr.Wrap(ierr.ValidationError, "truncated old-row flag", err)
	}
	if hasOld != 0 {
		old, err := getRow(r)
		if err != nil {
			return tx, err
		}
		tx.OldRow = &old
	}

	if err := binary.Read(r, binary.LittleEndian, &tx.Timestamp); err != nil {
		return tx, ierr.Wrap(ierr.ValidationError, "truncated timestamp", err)
	}

	if r.Len() != 0 {
		return tx, ierr.New(ierr.ValidationError, "trailing bytes after decoded transaction")
	}
	return tx, nil
}

func putStr(buf *bytes.Buffer, s string) {
	tmp := make([]byte, varint.MaxLenUvarint63)
	w := varint.PutUvarint(tmp, uint64(len(s)))
	buf.Write(tmp[:w])
	buf.WriteString(s)
}

func getStr(r *bytes.Reader) (string, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return "", ierr.Wrap(ierr.ValidationError, "malformed string length varint", err)
	}
	data := make([]byte, n)
	read := 0
	for read < len(data) {
		k, err := r.Read(data[read:])
		read += k
		if err != nil {
			return "", ierr.Wrap(ierr.ValidationError, "unexpected end of transaction string", err)
		}
	}
	return string(data), nil
}

func putRow(buf *bytes.Buffer, row Row) {
	encodeValueInto(buf, row.PrimaryKey)
	tmp := make([]byte, varint.MaxLenUvarint63)
	w := varint.PutUvarint(tmp, uint64(len(row.Entries)))
	buf.Write(tmp[:w])
	for _, e := range row.Entries {
		encodeValueInto(buf, e)
	}
}

func getRow(r *bytes.Reader) (Row, error) {
	var row Row
	pk, err := decodeValueFrom(r)
	if err != nil {
		return row, err
	}
	row.PrimaryKey = pk

	n, err := varint.ReadUvarint(r)
	if err != nil {
		return row, ierr.Wrap(ierr.ValidationError, "malformed row entry count", err)
	}
	row.Entries = make([]value.Value, n)
	for i := range row.Entries {
		row.Entries[i], err = decodeValueFrom(r)
		if err != nil {
			return row, err
		}
	}
	return row, nil
}

// encodeValueInto and decodeValueFrom adapt internal/codec's
// whole-buffer Encode/Decode to the streaming reader/writer this
// package's frame layout uses, by length-prefixing each embedded value.
func encodeValueInto(buf *bytes.Buffer, v value.Value) {
	encoded := codec.Encode(v)
	tmp := make([]byte, varint.MaxLenUvarint63)
	w := varint.PutUvarint(tmp, uint64(len(encoded)))
	buf.Write(tmp[:w])
	buf.Write(encoded)
}

func decodeValueFrom(r *bytes.Reader) (value.Value, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return value.Value{}, ierr.Wrap(ierr.ValidationError, "malformed embedded value length", err)
	}
	data := make([]byte, n)
	read := 0
	for read < len(data) {
		k, err := r.Read(data[read:])
		read += k
		if err != nil {
			return value.Value{}, ierr.Wrap(ierr.ValidationError, "unexpected end of embedded value", err)
		}
	}
	return codec.Decode(data)
}
