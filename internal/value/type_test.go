package value

import "testing"

func TestValidatePrimitives(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		t    Type
		want bool
	}{
		{"void ok", Void(), TVoid(), true},
		{"void mismatch", NewI32(1), TVoid(), false},
		{"bool ok", NewBool(true), TBool(), true},
		{"i32 ok", NewI32(1), TI32(), true},
		{"i32 mismatch kind", NewI64(1), TI32(), false},
		{"i64 ok", NewI64(1), TI64(), true},
		{"f32 ok", NewF32(1), TF32(), true},
		{"f64 ok", NewF64(1), TF64(), true},
		{"string ok", NewString("x"), TString(), true},
		{"string mismatch", NewI32(1), TString(), false},
		{"bytes ok", NewBytes([]byte{1}), TBytes(), true},
	}
	for _, c := range cases {
		if got := Validate(c.v, c.t, nil); got != c.want {
			t.Errorf("%s: Validate = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestValidateVec(t *testing.T) {
	ty := TVec(TI32())
	if !Validate(NewVec([]Value{NewI32(1), NewI32(2)}), ty, nil) {
		t.Fatal("expected a Vec of matching element type to validate")
	}
	if Validate(NewVec([]Value{NewI32(1), NewString("x")}), ty, nil) {
		t.Fatal("expected a Vec with one mismatched element to fail")
	}
	if Validate(NewTuple([]Value{NewI32(1)}), ty, nil) {
		t.Fatal("expected a non-Vec value to fail TypeVec validation")
	}
	if Validate(NewVec(nil), Type{Kind: TypeVec}, nil) {
		t.Fatal("expected a TypeVec with no Elem to fail validation rather than panic")
	}
}

func TestValidateTuple(t *testing.T) {
	ty := TTuple(TI32(), TString())
	if !Validate(NewTuple([]Value{NewI32(1), NewString("x")}), ty, nil) {
		t.Fatal("expected a matching tuple to validate")
	}
	if Validate(NewTuple([]Value{NewI32(1)}), ty, nil) {
		t.Fatal("expected an arity mismatch to fail")
	}
	if Validate(NewTuple([]Value{NewString("x"), NewI32(1)}), ty, nil) {
		t.Fatal("expected element-type mismatch to fail")
	}
}

func TestValidateOption(t *testing.T) {
	ty := TOption(TI32())
	if !Validate(NewOption(nil), ty, nil) {
		t.Fatal("expected None to validate regardless of element type")
	}
	if !Validate(NewOption(valuePtr(NewI32(1))), ty, nil) {
		t.Fatal("expected Some(matching) to validate")
	}
	if Validate(NewOption(valuePtr(NewString("x"))), ty, nil) {
		t.Fatal("expected Some(mismatched) to fail")
	}
	if Validate(NewVec(nil), ty, nil) {
		t.Fatal("expected a non-Option value to fail TypeOption validation")
	}
}

func TestValidateStructRef(t *testing.T) {
	reg := NewRegistry(map[string]TypeDef{
		"Point": {
			Name: "Point",
			Fields: []FieldDef{
				{Name: "x", Type: TI32()},
				{Name: "y", Type: TI32()},
			},
		},
	})
	ty := TRef("Point")

	ok := NewStruct("Point", []Field{{Name: "x", Value: NewI32(1)}, {Name: "y", Value: NewI32(2)}})
	if !Validate(ok, ty, reg) {
		t.Fatal("expected a well-formed struct to validate")
	}

	wrongName := NewStruct("Other", ok.StructFields)
	if Validate(wrongName, ty, reg) {
		t.Fatal("expected a struct with the wrong name to fail")
	}

	wrongArity := NewStruct("Point", []Field{{Name: "x", Value: NewI32(1)}})
	if Validate(wrongArity, ty, reg) {
		t.Fatal("expected a struct with missing fields to fail")
	}

	wrongFieldOrder := NewStruct("Point", []Field{{Name: "y", Value: NewI32(2)}, {Name: "x", Value: NewI32(1)}})
	if Validate(wrongFieldOrder, ty, reg) {
		t.Fatal("expected mismatched field names at a position to fail")
	}

	wrongFieldType := NewStruct("Point", []Field{{Name: "x", Value: NewString("nope")}, {Name: "y", Value: NewI32(2)}})
	if Validate(wrongFieldType, ty, reg) {
		t.Fatal("expected a struct with a mistyped field to fail")
	}
}

func TestValidateEnumRef(t *testing.T) {
	reg := NewRegistry(map[string]TypeDef{
		"Shape": {
			IsEnum: true,
			Name:   "Shape",
			Variants: []FieldDef{
				{Name: "Point", Type: TVoid()},
				{Name: "Circle", Type: TF64()},
			},
		},
	})
	ty := TRef("Shape")

	if !Validate(NewEnumVariant("Shape", "Point", nil), ty, reg) {
		t.Fatal("expected a no-payload variant with nil payload to validate")
	}
	if Validate(NewEnumVariant("Shape", "Point", valuePtr(NewI32(1))), ty, reg) {
		t.Fatal("expected a no-payload variant with a payload to fail")
	}
	if !Validate(NewEnumVariant("Shape", "Circle", valuePtr(NewF64(1.0))), ty, reg) {
		t.Fatal("expected a matching payload variant to validate")
	}
	if Validate(NewEnumVariant("Shape", "Circle", nil), ty, reg) {
		t.Fatal("expected a payload-carrying variant with nil payload to fail")
	}
	if Validate(NewEnumVariant("Shape", "Square", nil), ty, reg) {
		t.Fatal("expected an undeclared variant name to fail")
	}
	if Validate(NewEnumVariant("Other", "Point", nil), ty, reg) {
		t.Fatal("expected a mismatched enum name to fail")
	}
}

func TestValidateUnresolvedRefFailsClosed(t *testing.T) {
	reg := NewRegistry(nil)
	v := NewStruct("Missing", nil)
	if Validate(v, TRef("Missing"), reg) {
		t.Fatal("expected validation against an unresolved ref to fail, not panic or pass")
	}
	if Validate(v, TRef("Missing"), nil) {
		t.Fatal("expected validation with a nil registry to fail closed")
	}
}

func TestCheckResolvedAcceptsFullyResolvedTypes(t *testing.T) {
	reg := NewRegistry(map[string]TypeDef{
		"Point": {
			Name: "Point",
			Fields: []FieldDef{
				{Name: "x", Type: TI32()},
				{Name: "y", Type: TI32()},
			},
		},
		"Line": {
			Name: "Line",
			Fields: []FieldDef{
				{Name: "points", Type: TVec(TRef("Point"))},
			},
		},
	})
	if err := reg.CheckResolved(); err != nil {
		t.Fatalf("expected fully resolved types to pass, got %v", err)
	}
}

func TestCheckResolvedRejectsUnresolvedRef(t *testing.T) {
	reg := NewRegistry(map[string]TypeDef{
		"Line": {
			Name: "Line",
			Fields: []FieldDef{
				{Name: "points", Type: TVec(TRef("Point"))},
			},
		},
	})
	if err := reg.CheckResolved(); err == nil {
		t.Fatal("expected an unresolved Ref(\"Point\") to be rejected")
	}
}

func TestCheckResolvedAllowsSelfReferentialType(t *testing.T) {
	reg := NewRegistry(map[string]TypeDef{
		"List": {
			IsEnum: true,
			Name:   "List",
			Variants: []FieldDef{
				{Name: "Nil", Type: TVoid()},
				{Name: "Cons", Type: TTuple(TI32(), TRef("List"))},
			},
		},
	})
	if err := reg.CheckResolved(); err != nil {
		t.Fatalf("expected a self-referential (recursive) type to be allowed, got %v", err)
	}
}

func TestCheckResolvedRejectsVecWithNoElem(t *testing.T) {
	reg := NewRegistry(map[string]TypeDef{
		"Bad": {
			Name: "Bad",
			Fields: []FieldDef{
				{Name: "items", Type: Type{Kind: TypeVec}},
			},
		},
	})
	if err := reg.CheckResolved(); err == nil {
		t.Fatal("expected a Vec type missing its Elem to be rejected")
	}
}
