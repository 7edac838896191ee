// Package value implements Interstice's universal dynamic value and its
// structural type descriptor: the over-the-wire and cross-module data form
// every reducer/query argument, return value, and table row is built from.
package value

import "fmt"

// Kind tags the variant carried by a Value.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindI32
	KindI64
	KindF32
	KindF64
	KindString
	KindBytes
	KindVec
	KindTuple
	KindOption
	KindStruct
	KindEnumVariant
)

// Value is a tagged dynamic value. Only the fields relevant to Kind are
// populated; all others are left zero. Construct with the New* helpers
// rather than the struct literal directly.
type Value struct {
	Kind Kind

	Bool   bool
	I32    int32
	I64    int64
	F32    float32
	F64    float64
	Str    string
	Bytes  []byte
	Vec    []Value
	Tuple  []Value
	Option *Value // nil means None

	StructName   string
	StructFields []Field

	EnumName    string
	VariantName string
	Payload     *Value
}

// Field is one named entry of a Struct value.
type Field struct {
	Name  string
	Value Value
}

func Void() Value                { return Value{Kind: KindVoid} }
func NewBool(b bool) Value        { return Value{Kind: KindBool, Bool: b} }
func NewI32(v int32) Value        { return Value{Kind: KindI32, I32: v} }
func NewI64(v int64) Value        { return Value{Kind: KindI64, I64: v} }
func NewF32(v float32) Value      { return Value{Kind: KindF32, F32: v} }
func NewF64(v float64) Value      { return Value{Kind: KindF64, F64: v} }
func NewString(s string) Value    { return Value{Kind: KindString, Str: s} }
func NewBytes(b []byte) Value     { return Value{Kind: KindBytes, Bytes: b} }
func NewVec(vs []Value) Value     { return Value{Kind: KindVec, Vec: vs} }
func NewTuple(vs []Value) Value   { return Value{Kind: KindTuple, Tuple: vs} }

func NewOption(v *Value) Value {
	return Value{Kind: KindOption, Option: v}
}

func NewStruct(name string, fields []Field) Value {
	return Value{Kind: KindStruct, StructName: name, StructFields: fields}
}

func NewEnumVariant(enumName, variantName string, payload *Value) Value {
	return Value{Kind: KindEnumVariant, EnumName: enumName, VariantName: variantName, Payload: payload}
}

// Equal reports deep, order-sensitive equality between two values. Used by
// the tests to check the codec round-trip invariant and primary keys; the
// table store compares keys by their encoded bytes instead.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindVoid:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindI32:
		return a.I32 == b.I32
	case KindI64:
		return a.I64 == b.I64
	case KindF32:
		return a.F32 == b.F32
	case KindF64:
		return a.F64 == b.F64
	case KindString:
		return a.Str == b.Str
	case KindBytes:
		return bytesEqual(a.Bytes, b.Bytes)
	case KindVec:
		return valuesEqual(a.Vec, b.Vec)
	case KindTuple:
		return valuesEqual(a.Tuple, b.Tuple)
	case KindOption:
		if (a.Option == nil) != (b.Option == nil) {
			return false
		}
		if a.Option == nil {
			return true
		}
		return Equal(*a.Option, *b.Option)
	case KindStruct:
		if a.StructName != b.StructName || len(a.StructFields) != len(b.StructFields) {
			return false
		}
		for i := range a.StructFields {
			if a.StructFields[i].Name != b.StructFields[i].Name {
				return false
			}
			if !Equal(a.StructFields[i].Value, b.StructFields[i].Value) {
				return false
			}
		}
		return true
	case KindEnumVariant:
		if a.EnumName != b.EnumName || a.VariantName != b.VariantName {
			return false
		}
		if (a.Payload == nil) != (b.Payload == nil) {
			return false
		}
		if a.Payload == nil {
			return true
		}
		return Equal(*a.Payload, *b.Payload)
	default:
		return false
	}
}

func valuesEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (v Value) String() string {
	switch v.Kind {
	case KindVoid:
		return "Void"
	case KindBool:
		return fmt.Sprintf("Bool(%v)", v.Bool)
	case KindI32:
		return fmt.Sprintf("I32(%d)", v.I32)
	case KindI64:
		return fmt.Sprintf("I64(%d)", v.I64)
	case KindF32:
		return fmt.Sprintf("F32(%v)", v.F32)
	case KindF64:
		return fmt.Sprintf("F64(%v)", v.F64)
	case KindString:
		return fmt.Sprintf("String(%q)", v.Str)
	case KindBytes:
		return fmt.Sprintf("Bytes(%d bytes)", len(v.Bytes))
	case KindVec:
		return fmt.Sprintf("Vec(%d items)", len(v.Vec))
	case KindTuple:
		return fmt.Sprintf("Tuple(%d items)", len(v.Tuple))
	case KindOption:
		if v.Option == nil {
			return "None"
		}
		return fmt.Sprintf("Some(%s)", v.Option.String())
	case KindStruct:
		return fmt.Sprintf("Struct(%s)", v.StructName)
	case KindEnumVariant:
		return fmt.Sprintf("EnumVariant(%s::%s)", v.EnumName, v.VariantName)
	default:
		return "?"
	}
}
