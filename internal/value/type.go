package value

import "github.com/interstice-network/interstice-core/internal/ierr"

// TypeKind tags the variant carried by a Type.
type TypeKind uint8

const (
	TypeVoid TypeKind = iota
	TypeBool
	TypeI32
	TypeI64
	TypeF32
	TypeF64
	TypeString
	TypeBytes
	TypeVec
	TypeTuple
	TypeOption
	TypeRef
)

// Type is a structural descriptor paralleling Value. Vec/Option carry one
// Elem; Tuple carries Elems; Ref carries a Name resolved against a
// module-scoped Registry.
type Type struct {
	Kind  TypeKind
	Elem  *Type
	Elems []Type
	Name  string // for TypeRef
}

func TVoid() Type           { return Type{Kind: TypeVoid} }
func TBool() Type           { return Type{Kind: TypeBool} }
func TI32() Type            { return Type{Kind: TypeI32} }
func TI64() Type            { return Type{Kind: TypeI64} }
func TF32() Type            { return Type{Kind: TypeF32} }
func TF64() Type            { return Type{Kind: TypeF64} }
func TString() Type         { return Type{Kind: TypeString} }
func TBytes() Type          { return Type{Kind: TypeBytes} }
func TVec(elem Type) Type   { return Type{Kind: TypeVec, Elem: &elem} }
func TTuple(elems ...Type) Type { return Type{Kind: TypeTuple, Elems: elems} }
func TOption(elem Type) Type { return Type{Kind: TypeOption, Elem: &elem} }
func TRef(name string) Type { return Type{Kind: TypeRef, Name: name} }

// TypeDef is either a struct (ordered named fields) or an enum (named
// variants, each with an optional payload type), addressed by name in a
// module's Registry.
type TypeDef struct {
	IsEnum bool
	Name   string
	// Struct fields, in declared order.
	Fields []FieldDef
	// Enum variants, in declared order. A variant's Type may be TypeVoid
	// to mean "no payload".
	Variants []FieldDef
}

// FieldDef names one struct field or enum variant and its type.
type FieldDef struct {
	Name string
	Type Type
}

// Registry resolves module-scoped named type references during
// validation. Unresolved references must be rejected at module load
// time, not at use time.
type Registry struct {
	defs map[string]TypeDef
}

func NewRegistry(defs map[string]TypeDef) *Registry {
	if defs == nil {
		defs = map[string]TypeDef{}
	}
	return &Registry{defs: defs}
}

func (r *Registry) Lookup(name string) (TypeDef, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// CheckResolved walks every TypeDef in the registry and every Type
// reachable from it, failing if any Ref(name) cannot be resolved. Called
// once at module load (§4.2 step 5), not on every validate call.
func (r *Registry) CheckResolved() error {
	for name, def := range r.defs {
		fields := def.Fields
		if def.IsEnum {
			fields = def.Variants
		}
		for _, f := range fields {
			if err := r.checkTypeResolved(f.Type, map[string]bool{name: true}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) checkTypeResolved(t Type, visiting map[string]bool) error {
	switch t.Kind {
	case TypeVec, TypeOption:
		if t.Elem == nil {
			return ierr.New(ierr.ValidationError, "vec/option type missing element type")
		}
		return r.checkTypeResolved(*t.Elem, visiting)
	case TypeTuple:
		for _, e := range t.Elems {
			if err := r.checkTypeResolved(e, visiting); err != nil {
				return err
			}
		}
		return nil
	case TypeRef:
		def, ok := r.defs[t.Name]
		if !ok {
			return ierr.Newf(ierr.ValidationError, "unresolved type reference %q", t.Name)
		}
		if visiting[t.Name] {
			// Self-referential types are allowed (e.g. recursive enums via
			// Vec/Option indirection); only unresolved names are rejected.
			return nil
		}
		visiting[t.Name] = true
		fields := def.Fields
		if def.IsEnum {
			fields = def.Variants
		}
		for _, f := range fields {
			if err := r.checkTypeResolved(f.Type, visiting); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// Validate is total: every call returns a definite true/false, never
// panics, for any (value, type) pair including arity, tag, and
// primitive mismatches.
func Validate(v Value, t Type, reg *Registry) bool {
	switch t.Kind {
	case TypeVoid:
		return v.Kind == KindVoid
	case TypeBool:
		return v.Kind == KindBool
	case TypeI32:
		return v.Kind == KindI32
	case TypeI64:
		return v.Kind == KindI64
	case TypeF32:
		return v.Kind == KindF32
	case TypeF64:
		return v.Kind == KindF64
	case TypeString:
		return v.Kind == KindString
	case TypeBytes:
		return v.Kind == KindBytes
	case TypeVec:
		if v.Kind != KindVec || t.Elem == nil {
			return false
		}
		for _, item := range v.Vec {
			if !Validate(item, *t.Elem, reg) {
				return false
			}
		}
		return true
	case TypeTuple:
		if v.Kind != KindTuple || len(v.Tuple) != len(t.Elems) {
			return false
		}
		for i, item := range v.Tuple {
			if !Validate(item, t.Elems[i], reg) {
				return false
			}
		}
		return true
	case TypeOption:
		if v.Kind != KindOption || t.Elem == nil {
			return false
		}
		if v.Option == nil {
			return true
		}
		return Validate(*v.Option, *t.Elem, reg)
	case TypeRef:
		if reg == nil {
			return false
		}
		def, ok := reg.Lookup(t.Name)
		if !ok {
			return false
		}
		return validateAgainstDef(v, def, reg)
	default:
		return false
	}
}

func validateAgainstDef(v Value, def TypeDef, reg *Registry) bool {
	if def.IsEnum {
		if v.Kind != KindEnumVariant || v.EnumName != def.Name {
			return false
		}
		for _, variant := range def.Variants {
			if variant.Name != v.VariantName {
				continue
			}
			if variant.Type.Kind == TypeVoid {
				return v.Payload == nil
			}
			if v.Payload == nil {
				return false
			}
			return Validate(*v.Payload, variant.Type, reg)
		}
		return false
	}
	if v.Kind != KindStruct || v.StructName != def.Name {
		return false
	}
	if len(v.StructFields) != len(def.Fields) {
		return false
	}
	for i, field := range def.Fields {
		if v.StructFields[i].Name != field.Name {
			return false
		}
		if !Validate(v.StructFields[i].Value, field.Type, reg) {
			return false
		}
	}
	return true
}
