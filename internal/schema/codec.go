package schema

import (
	"bytes"
	"encoding/binary"

	varint "github.com/multiformats/go-varint"

	"github.com/interstice-network/interstice-core/internal/ierr"
	"github.com/interstice-network/interstice-core/internal/value"
)

// Encode serializes a ModuleSchema with the same postcard-style
// conventions internal/codec uses for Value: the guest's
// interstice_get_schema export returns an encoded ModuleSchema.
func Encode(m ModuleSchema) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, m.ABIVersion)
	putStr(&buf, m.Name)
	putVersion(&buf, m.Version)

	putVarint(&buf, uint64(len(m.Reducers)))
	for _, r := range m.Reducers {
		putStr(&buf, r.Name)
		putFields(&buf, r.Arguments)
	}

	putVarint(&buf, uint64(len(m.Queries)))
	for _, q := range m.Queries {
		putStr(&buf, q.Name)
		putFields(&buf, q.Arguments)
		putType(&buf, q.ReturnType)
	}

	putVarint(&buf, uint64(len(m.Tables)))
	for _, t := range m.Tables {
		putStr(&buf, t.Name)
		buf.WriteByte(byte(t.Visibility))
		putFields(&buf, t.Fields)
		putStr(&buf, t.PrimaryKey.Name)
		putType(&buf, t.PrimaryKey.Type)
		if t.AutoInc {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		buf.WriteByte(byte(t.Kind))
	}

	putVarint(&buf, uint64(len(m.TypeDefs)))
	for name, def := range m.TypeDefs {
		putStr(&buf, name)
		putTypeDef(&buf, def)
	}

	putVarint(&buf, uint64(len(m.NodeDependencies)))
	for _, d := range m.NodeDependencies {
		putStr(&buf, d.Name)
		putStr(&buf, d.Address)
	}

	putVarint(&buf, uint64(len(m.ModuleDependencies)))
	for _, d := range m.ModuleDependencies {
		putStr(&buf, d.Name)
		putVersion(&buf, d.Version)
	}

	buf.WriteByte(byte(m.Visibility))

	putVarint(&buf, uint64(len(m.Authorities)))
	for _, a := range m.Authorities {
		putStr(&buf, a)
	}

	putVarint(&buf, uint64(len(m.Subscriptions)))
	for _, sub := range m.Subscriptions {
		putStr(&buf, sub.SubscriberModule)
		putStr(&buf, sub.TargetModule)
		putStr(&buf, sub.Table)
		buf.WriteByte(byte(sub.Event))
		putStr(&buf, sub.ReducerName)
	}

	return buf.Bytes()
}

// Decode parses a ModuleSchema previously produced by Encode.
func Decode(data []byte) (ModuleSchema, error) {
	r := bytes.NewReader(data)
	var m ModuleSchema
	if err := binary.Read(r, binary.LittleEndian, &m.ABIVersion); err != nil {
		return m, ierr.Wrap(ierr.ValidationError, "truncated schema abi_version", err)
	}
	var err error
	if m.Name, err = getStr(r); err != nil {
		return m, err
	}
	if m.Version, err = getVersion(r); err != nil {
		return m, err
	}

	rn, err := getVarint(r)
	if err != nil {
		return m, err
	}
	m.Reducers = make([]ReducerSchema, rn)
	for i := range m.Reducers {
		if m.Reducers[i].Name, err = getStr(r); err != nil {
			return m, err
		}
		if m.Reducers[i].Arguments, err = getFields(r); err != nil {
			return m, err
		}
	}

	qn, err := getVarint(r)
	if err != nil {
		return m, err
	}
	m.Queries = make([]QuerySchema, qn)
	for i := range m.Queries {
		if m.Queries[i].Name, err = getStr(r); err != nil {
			return m, err
		}
		if m.Queries[i].Arguments, err = getFields(r); err != nil {
			return m, err
		}
		if m.Queries[i].ReturnType, err = getType(r); err != nil {
			return m, err
		}
	}

	tn, err := getVarint(r)
	if err != nil {
		return m, err
	}
	m.Tables = make([]TableSchema, tn)
	for i := range m.Tables {
		if m.Tables[i].Name, err = getStr(r); err != nil {
			return m, err
		}
		vis, err := r.ReadByte()
		if err != nil {
			return m, ierr.Wrap(ierr.ValidationError, "truncated table visibility", err)
		}
		m.Tables[i].Visibility = Visibility(vis)
		if m.Tables[i].Fields, err = getFields(r); err != nil {
			return m, err
		}
		if m.Tables[i].PrimaryKey.Name, err = getStr(r); err != nil {
			return m, err
		}
		if m.Tables[i].PrimaryKey.Type, err = getType(r); err != nil {
			return m, err
		}
		autoInc, err := r.ReadByte()
		if err != nil {
			return m, ierr.Wrap(ierr.ValidationError, "truncated table auto_inc flag", err)
		}
		m.Tables[i].AutoInc = autoInc != 0
		kind, err := r.ReadByte()
		if err != nil {
			return m, ierr.Wrap(ierr.ValidationError, "truncated table kind", err)
		}
		m.Tables[i].Kind = TableKind(kind)
	}

	defN, err := getVarint(r)
	if err != nil {
		return m, err
	}
	m.TypeDefs = make(map[string]value.TypeDef, defN)
	for i := uint64(0); i < defN; i++ {
		name, err := getStr(r)
		if err != nil {
			return m, err
		}
		def, err := getTypeDef(r)
		if err != nil {
			return m, err
		}
		m.TypeDefs[name] = def
	}

	ndN, err := getVarint(r)
	if err != nil {
		return m, err
	}
	m.NodeDependencies = make([]NodeDependency, ndN)
	for i := range m.NodeDependencies {
		if m.NodeDependencies[i].Name, err = getStr(r); err != nil {
			return m, err
		}
		if m.NodeDependencies[i].Address, err = getStr(r); err != nil {
			return m, err
		}
	}

	mdN, err := getVarint(r)
	if err != nil {
		return m, err
	}
	m.ModuleDependencies = make([]ModuleDependency, mdN)
	for i := range m.ModuleDependencies {
		if m.ModuleDependencies[i].Name, err = getStr(r); err != nil {
			return m, err
		}
		if m.ModuleDependencies[i].Version, err = getVersion(r); err != nil {
			return m, err
		}
	}

	vis, err := r.ReadByte()
	if err != nil {
		return m, ierr.Wrap(ierr.ValidationError, "truncated module visibility", err)
	}
	m.Visibility = Visibility(vis)

	authN, err := getVarint(r)
	if err != nil {
		return m, err
	}
	m.Authorities = make([]string, authN)
	for i := range m.Authorities {
		if m.Authorities[i], err = getStr(r); err != nil {
			return m, err
		}
	}

	subN, err := getVarint(r)
	if err != nil {
		return m, err
	}
	m.Subscriptions = make([]SubscriptionSchema, subN)
	for i := range m.Subscriptions {
		if m.Subscriptions[i].SubscriberModule, err = getStr(r); err != nil {
			return m, err
		}
		if m.Subscriptions[i].TargetModule, err = getStr(r); err != nil {
			return m, err
		}
		if m.Subscriptions[i].Table, err = getStr(r); err != nil {
			return m, err
		}
		eventByte, err := r.ReadByte()
		if err != nil {
			return m, ierr.Wrap(ierr.ValidationError, "truncated subscription event", err)
		}
		m.Subscriptions[i].Event = TableEvent(eventByte)
		if m.Subscriptions[i].ReducerName, err = getStr(r); err != nil {
			return m, err
		}
	}

	if r.Len() != 0 {
		return m, ierr.New(ierr.ValidationError, "trailing bytes after decoded schema")
	}
	return m, nil
}

func putVarint(buf *bytes.Buffer, n uint64) {
	tmp := make([]byte, varint.MaxLenUvarint63)
	w := varint.PutUvarint(tmp, n)
	buf.Write(tmp[:w])
}

func getVarint(r *bytes.Reader) (uint64, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return 0, ierr.Wrap(ierr.ValidationError, "malformed schema length varint", err)
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
			return read, ierr.Wrap(ierr.ValidationError, "unexpected end of encoded schema", err)
		}
	}
	return read, nil
}

func putVersion(buf *bytes.Buffer, v Version) {
	binary.Write(buf, binary.LittleEndian, v.Major)
	binary.Write(buf, binary.LittleEndian, v.Minor)
	binary.Write(buf, binary.LittleEndian, v.Patch)
}

func getVersion(r *bytes.Reader) (Version, error) {
	var v Version
	if err := binary.Read(r, binary.LittleEndian, &v.Major); err != nil {
		return v, ierr.Wrap(ierr.ValidationError, "truncated version", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &v.Minor); err != nil {
		return v, ierr.Wrap(ierr.ValidationError, "truncated version", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &v.Patch); err != nil {
		return v, ierr.Wrap(ierr.ValidationError, "truncated version", err)
	}
	return v, nil
}

func putFields(buf *bytes.Buffer, fields []FieldDef) {
	putVarint(buf, uint64(len(fields)))
	for _, f := range fields {
		putStr(buf, f.Name)
		putType(buf, f.Type)
	}
}

func getFields(r *bytes.Reader) ([]FieldDef, error) {
	n, err := getVarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]FieldDef, n)
	for i := range out {
		if out[i].Name, err = getStr(r); err != nil {
			return nil, err
		}
		if out[i].Type, err = getType(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func putType(buf *bytes.Buffer, t value.Type) {
	buf.WriteByte(byte(t.Kind))
	switch t.Kind {
	case value.TypeVec, value.TypeOption:
		if t.Elem != nil {
			putType(buf, *t.Elem)
		} else {
			putType(buf, value.TVoid())
		}
	case value.TypeTuple:
		putVarint(buf, uint64(len(t.Elems)))
		for _, e := range t.Elems {
			putType(buf, e)
		}
	case value.TypeRef:
		putStr(buf, t.Name)
	}
}

func getType(r *bytes.Reader) (value.Type, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return value.Type{}, ierr.Wrap(ierr.ValidationError, "truncated type tag", err)
	}
	kind := value.TypeKind(kindByte)
	switch kind {
	case value.TypeVec, value.TypeOption:
		elem, err := getType(r)
		if err != nil {
			return value.Type{}, err
		}
		return value.Type{Kind: kind, Elem: &elem}, nil
	case value.TypeTuple:
		n, err := getVarint(r)
		if err != nil {
			return value.Type{}, err
		}
		elems := make([]value.Type, n)
		for i := range elems {
			if elems[i], err = getType(r); err != nil {
				return value.Type{}, err
			}
		}
		return value.Type{Kind: kind, Elems: elems}, nil
	case value.TypeRef:
		name, err := getStr(r)
		if err != nil {
			return value.Type{}, err
		}
		return value.Type{Kind: kind, Name: name}, nil
	default:
		return value.Type{Kind: kind}, nil
	}
}

func putTypeDef(buf *bytes.Buffer, def value.TypeDef) {
	if def.IsEnum {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	putStr(buf, def.Name)
	if def.IsEnum {
		putFieldDefs(buf, def.Variants)
	} else {
		putFieldDefs(buf, def.Fields)
	}
}

func getTypeDef(r *bytes.Reader) (value.TypeDef, error) {
	isEnumByte, err := r.ReadByte()
	if err != nil {
		return value.TypeDef{}, ierr.Wrap(ierr.ValidationError, "truncated type_def tag", err)
	}
	var def value.TypeDef
	def.IsEnum = isEnumByte != 0
	if def.Name, err = getStr(r); err != nil {
		return def, err
	}
	fields, err := getFieldDefs(r)
	if err != nil {
		return def, err
	}
	if def.IsEnum {
		def.Variants = fields
	} else {
		def.Fields = fields
	}
	return def, nil
}

func putFieldDefs(buf *bytes.Buffer, fields []value.FieldDef) {
	putVarint(buf, uint64(len(fields)))
	for _, f := range fields {
		putStr(buf, f.Name)
		putType(buf, f.Type)
	}
}

func getFieldDefs(r *bytes.Reader) ([]value.FieldDef, error) {
	n, err := getVarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]value.FieldDef, n)
	for i := range out {
		if out[i].Name, err = getStr(r); err != nil {
			return nil, err
		}
		if out[i].Type, err = getType(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}
