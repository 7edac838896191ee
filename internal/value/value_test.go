package value

import "testing"

func TestEqualPrimitives(t *testing.T) {
	cases := []struct {
		name  string
		a, b  Value
		equal bool
	}{
		{"void==void", Void(), Void(), true},
		{"bool equal", NewBool(true), NewBool(true), true},
		{"bool differ", NewBool(true), NewBool(false), false},
		{"i32 equal", NewI32(7), NewI32(7), true},
		{"i32 differ", NewI32(7), NewI32(8), false},
		{"i64 equal", NewI64(7), NewI64(7), true},
		{"f32 equal", NewF32(1.5), NewF32(1.5), true},
		{"f64 differ", NewF64(1.5), NewF64(2.5), false},
		{"string equal", NewString("hi"), NewString("hi"), true},
		{"string differ", NewString("hi"), NewString("bye"), false},
		{"bytes equal", NewBytes([]byte{1, 2}), NewBytes([]byte{1, 2}), true},
		{"bytes differ", NewBytes([]byte{1, 2}), NewBytes([]byte{1, 3}), false},
		{"kind mismatch", NewI32(1), NewI64(1), false},
	}
	for _, c := range cases {
		if got := Equal(c.a, c.b); got != c.equal {
			t.Errorf("%s: Equal(%v, %v) = %v, want %v", c.name, c.a, c.b, got, c.equal)
		}
	}
}

func TestEqualVecOrderSensitive(t *testing.T) {
	a := NewVec([]Value{NewI32(1), NewI32(2)})
	b := NewVec([]Value{NewI32(2), NewI32(1)})
	if Equal(a, b) {
		t.Fatal("expected differently ordered Vecs to be unequal")
	}
	if !Equal(a, NewVec([]Value{NewI32(1), NewI32(2)})) {
		t.Fatal("expected identically ordered Vecs to be equal")
	}
}

func TestEqualTuple(t *testing.T) {
	a := NewTuple([]Value{NewBool(true), NewString("x")})
	b := NewTuple([]Value{NewBool(true), NewString("x")})
	c := NewTuple([]Value{NewBool(true), NewString("y")})
	if !Equal(a, b) {
		t.Fatal("expected matching tuples to be equal")
	}
	if Equal(a, c) {
		t.Fatal("expected differing tuples to be unequal")
	}
}

func TestEqualOption(t *testing.T) {
	none := NewOption(nil)
	someFive := NewOption(valuePtr(NewI32(5)))
	someSix := NewOption(valuePtr(NewI32(6)))
	if !Equal(none, NewOption(nil)) {
		t.Fatal("expected None == None")
	}
	if Equal(none, someFive) {
		t.Fatal("expected None != Some")
	}
	if !Equal(someFive, NewOption(valuePtr(NewI32(5)))) {
		t.Fatal("expected Some(5) == Some(5)")
	}
	if Equal(someFive, someSix) {
		t.Fatal("expected Some(5) != Some(6)")
	}
}

func TestEqualStruct(t *testing.T) {
	a := NewStruct("Point", []Field{{Name: "x", Value: NewI32(1)}, {Name: "y", Value: NewI32(2)}})
	b := NewStruct("Point", []Field{{Name: "x", Value: NewI32(1)}, {Name: "y", Value: NewI32(2)}})
	diffName := NewStruct("Other", a.StructFields)
	diffField := NewStruct("Point", []Field{{Name: "x", Value: NewI32(1)}, {Name: "y", Value: NewI32(3)}})
	if !Equal(a, b) {
		t.Fatal("expected matching structs to be equal")
	}
	if Equal(a, diffName) {
		t.Fatal("expected differing struct names to be unequal")
	}
	if Equal(a, diffField) {
		t.Fatal("expected differing struct field values to be unequal")
	}
}

func TestEqualEnumVariant(t *testing.T) {
	noPayload := NewEnumVariant("Shape", "Point", nil)
	withPayload := NewEnumVariant("Shape", "Circle", valuePtr(NewF64(1.0)))
	if !Equal(noPayload, NewEnumVariant("Shape", "Point", nil)) {
		t.Fatal("expected matching no-payload variants to be equal")
	}
	if Equal(noPayload, withPayload) {
		t.Fatal("expected variants with different names/payloads to be unequal")
	}
	if !Equal(withPayload, NewEnumVariant("Shape", "Circle", valuePtr(NewF64(1.0)))) {
		t.Fatal("expected matching payload variants to be equal")
	}
	if Equal(withPayload, NewEnumVariant("Shape", "Circle", valuePtr(NewF64(2.0)))) {
		t.Fatal("expected differing payloads to be unequal")
	}
}

func TestStringFormatsEveryKind(t *testing.T) {
	cases := []Value{
		Void(),
		NewBool(true),
		NewI32(1),
		NewI64(1),
		NewF32(1),
		NewF64(1),
		NewString("x"),
		NewBytes([]byte{1}),
		NewVec([]Value{NewI32(1)}),
		NewTuple([]Value{NewI32(1)}),
		NewOption(nil),
		NewOption(valuePtr(NewI32(1))),
		NewStruct("S", nil),
		NewEnumVariant("E", "V", nil),
	}
	for _, v := range cases {
		if v.String() == "" || v.String() == "?" {
			t.Errorf("String() gave an unrecognized rendering for kind %d: %q", v.Kind, v.String())
		}
	}
}

func valuePtr(v Value) *Value { return &v }
