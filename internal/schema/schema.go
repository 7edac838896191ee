// Package schema defines the structural descriptors extracted from a
// loaded guest module: its tables, reducers, queries, type registry, and
// dependency declarations.
package schema

import "github.com/interstice-network/interstice-core/internal/value"

// ABIVersion is the guest ABI version this runtime accepts.
const ABIVersion uint16 = 1

type Visibility uint8

const (
	Public Visibility = iota
	Private
)

type TableKind uint8

const (
	Stateful TableKind = iota
	Ephemeral
)

// FieldDef names one table field or reducer/query argument and its type.
type FieldDef struct {
	Name string
	Type value.Type
}

// TableSchema describes one declared table.
type TableSchema struct {
	Name       string
	Visibility Visibility
	Fields     []FieldDef
	PrimaryKey FieldDef
	AutoInc    bool
	Kind       TableKind
}

// ReducerSchema describes one exported reducer.
type ReducerSchema struct {
	Name      string
	Arguments []FieldDef
}

// QuerySchema describes one exported query.
type QuerySchema struct {
	Name       string
	Arguments  []FieldDef
	ReturnType value.Type
}

// SubscriptionSchema binds a (module, table, event) triple to a reducer
// that fires after the emitting frame returns.
type SubscriptionSchema struct {
	SubscriberModule string
	TargetModule     string
	Table            string
	Event            TableEvent
	ReducerName      string
}

type TableEvent uint8

const (
	EventInsert TableEvent = iota
	EventUpdate
	EventDelete
)

func (e TableEvent) String() string {
	switch e {
	case EventInsert:
		return "Insert"
	case EventUpdate:
		return "Update"
	case EventDelete:
		return "Delete"
	default:
		return "?"
	}
}

// Version is a semantic module version (major.minor.patch).
type Version struct {
	Major, Minor, Patch uint16
}

// NodeDependency names a remote node a module may forward reducer calls to.
type NodeDependency struct {
	Name    string
	Address string
}

// ModuleDependency names another module this module expects to be loaded.
type ModuleDependency struct {
	Name    string
	Version Version
}

// ModuleSchema is the full schema a guest module exports via
// interstice_get_schema.
type ModuleSchema struct {
	ABIVersion        uint16
	Name              string
	Version           Version
	Reducers          []ReducerSchema
	Queries           []QuerySchema
	Tables            []TableSchema
	TypeDefs          map[string]value.TypeDef
	NodeDependencies  []NodeDependency
	ModuleDependencies []ModuleDependency
	Visibility        Visibility
	Authorities       []string
	Subscriptions     []SubscriptionSchema
}

// Registry builds a value.Registry from the schema's type definitions.
func (m ModuleSchema) Registry() *value.Registry {
	return value.NewRegistry(m.TypeDefs)
}

func (m ModuleSchema) FindReducer(name string) (ReducerSchema, bool) {
	for _, r := range m.Reducers {
		if r.Name == name {
			return r, true
		}
	}
	return ReducerSchema{}, false
}

func (m ModuleSchema) FindQuery(name string) (QuerySchema, bool) {
	for _, q := range m.Queries {
		if q.Name == name {
			return q, true
		}
	}
	return QuerySchema{}, false
}

func (m ModuleSchema) FindTable(name string) (TableSchema, bool) {
	for _, t := range m.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSchema{}, false
}
