// Package table implements the per-module table store: typed rows
// behind a primary-key index, journalled through internal/txlog for
// stateful tables, with Public/Private
// cross-module access enforcement.
package table

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/interstice-network/interstice-core/internal/ierr"
	"github.com/interstice-network/interstice-core/internal/schema"
	"github.com/interstice-network/interstice-core/internal/txlog"
	"github.com/interstice-network/interstice-core/internal/value"
)

var log = logging.Logger("interstice/table")

// Row is one stored record: a primary key plus the ordered field
// values, matching the table's schema.
type Row struct {
	PrimaryKey value.Value
	Entries    []value.Value
}

// Event describes one observed mutation, handed to the engine so it can
// look up matching subscriptions and run their reducers directly once
// the triggering call tree returns; they are not put on a job queue.
type Event struct {
	Module string
	Table  string
	Kind   schema.TableEvent
	Row    Row
}

// Table holds one module-table's rows plus its primary-key index.
type Table struct {
	schema  schema.TableSchema
	rows    []Row
	index   map[string]int // encoded primary key -> index into rows
	nextInc int64
}

func newTable(s schema.TableSchema) *Table {
	return &Table{
		schema:  s,
		index:   map[string]int{},
		nextInc: 1,
	}
}

// Store owns every table declared by one loaded module.
type Store struct {
	mu        sync.Mutex
	module    string
	tables    map[string]*Table
	typeDefs  map[string]value.TypeDef
	txlog     *txlog.Log // nil for a store with no stateful tables
	timestamp func() uint64
}

// NewStore builds an empty Store for a module's declared tables. tlog
// may be nil only if the module declares no Stateful tables.
func NewStore(moduleName string, tables []schema.TableSchema, typeDefs map[string]value.TypeDef, tlog *txlog.Log, timestamp func() uint64) *Store {
	st := &Store{
		module:    moduleName,
		tables:    make(map[string]*Table, len(tables)),
		typeDefs:  typeDefs,
		txlog:     tlog,
		timestamp: timestamp,
	}
	for _, ts := range tables {
		st.tables[ts.Name] = newTable(ts)
	}
	return st
}

func keyFor(v value.Value) string {
	return string(encodeKey(v))
}

// Insert validates row against the table schema, assigns an auto_inc
// primary key if declared, journals the mutation (stateful tables
// only), then applies it in memory.
func (s *Store) Insert(callerModule, tableName string, entries []value.Value) (Row, *Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.resolve(callerModule, tableName)
	if err != nil {
		return Row{}, nil, err
	}

	if len(entries) != len(t.schema.Fields) {
		return Row{}, nil, ierr.Newf(ierr.ValidationError, "table %s expects %d fields, got %d", tableName, len(t.schema.Fields), len(entries))
	}
	reg := value.NewRegistry(s.typeDefs)
	for i, f := range t.schema.Fields {
		if !value.Validate(entries[i], f.Type, reg) {
			return Row{}, nil, ierr.Newf(ierr.ValidationError, "field %s of table %s failed validation", f.Name, tableName)
		}
	}

	pkFieldIdx := pkIndex(t.schema)
	var pk value.Value
	if t.schema.AutoInc {
		pk = value.NewI64(t.nextInc)
		if pkFieldIdx >= 0 {
			entries[pkFieldIdx] = pk
		}
	} else {
		pk = entries[pkFieldIdx]
	}
	if !value.Validate(pk, t.schema.PrimaryKey.Type, reg) {
		return Row{}, nil, ierr.Newf(ierr.ValidationError, "primary key of table %s failed validation", tableName)
	}

	k := keyFor(pk)
	if _, exists := t.index[k]; exists {
		return Row{}, nil, ierr.Newf(ierr.DuplicateKey, "duplicate primary key in table %s", tableName)
	}

	row := Row{PrimaryKey: pk, Entries: append([]value.Value(nil), entries...)}

	if t.schema.Kind == schema.Stateful {
		if s.txlog == nil {
			return Row{}, nil, ierr.New(ierr.Internal, "stateful table has no transaction log")
		}
		tx := txlog.Transaction{
			Kind:      txlog.Insert,
			Module:    s.module,
			Table:     tableName,
			Row:       txlog.Row{PrimaryKey: row.PrimaryKey, Entries: row.Entries},
			Timestamp: s.timestamp(),
		}
		if err := s.txlog.Append(tx); err != nil {
			return Row{}, nil, err
		}
	}

	t.index[k] = len(t.rows)
	t.rows = append(t.rows, row)
	if t.schema.AutoInc {
		t.nextInc++
	}

	return row, &Event{Module: s.module, Table: tableName, Kind: schema.EventInsert, Row: row}, nil
}

// Update requires an existing row under key, validates the replacement
// entries, journals old+new, then swaps it in memory.
func (s *Store) Update(callerModule, tableName string, key value.Value, entries []value.Value) (Row, *Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.resolve(callerModule, tableName)
	if err != nil {
		return Row{}, nil, err
	}

	k := keyFor(key)
	idx, exists := t.index[k]
	if !exists {
		return Row{}, nil, ierr.Newf(ierr.MissingKey, "no row with given key in table %s", tableName)
	}

	if len(entries) != len(t.schema.Fields) {
		return Row{}, nil, ierr.Newf(ierr.ValidationError, "table %s expects %d fields, got %d", tableName, len(t.schema.Fields), len(entries))
	}
	reg := value.NewRegistry(s.typeDefs)
	for i, f := range t.schema.Fields {
		if !value.Validate(entries[i], f.Type, reg) {
			return Row{}, nil, ierr.Newf(ierr.ValidationError, "field %s of table %s failed validation", f.Name, tableName)
		}
	}

	oldRow := t.rows[idx]
	newRow := Row{PrimaryKey: key, Entries: append([]value.Value(nil), entries...)}

	if t.schema.Kind == schema.Stateful {
		if s.txlog == nil {
			return Row{}, nil, ierr.New(ierr.Internal, "stateful table has no transaction log")
		}
		tx := txlog.Transaction{
			Kind:      txlog.Update,
			Module:    s.module,
			Table:     tableName,
			Row:       txlog.Row{PrimaryKey: newRow.PrimaryKey, Entries: newRow.Entries},
			OldRow:    &txlog.Row{PrimaryKey: oldRow.PrimaryKey, Entries: oldRow.Entries},
			Timestamp: s.timestamp(),
		}
		if err := s.txlog.Append(tx); err != nil {
			return Row{}, nil, err
		}
	}

	t.rows[idx] = newRow

	return newRow, &Event{Module: s.module, Table: tableName, Kind: schema.EventUpdate, Row: newRow}, nil
}

// Delete requires an existing row under key, journals the removal,
// then removes it from memory.
func (s *Store) Delete(callerModule, tableName string, key value.Value) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.resolve(callerModule, tableName)
	if err != nil {
		return nil, err
	}

	k := keyFor(key)
	idx, exists := t.index[k]
	if !exists {
		return nil, ierr.Newf(ierr.MissingKey, "no row with given key in table %s", tableName)
	}
	row := t.rows[idx]

	if t.schema.Kind == schema.Stateful {
		if s.txlog == nil {
			return nil, ierr.New(ierr.Internal, "stateful table has no transaction log")
		}
		tx := txlog.Transaction{
			Kind:      txlog.Delete,
			Module:    s.module,
			Table:     tableName,
			Row:       txlog.Row{PrimaryKey: row.PrimaryKey, Entries: row.Entries},
			Timestamp: s.timestamp(),
		}
		if err := s.txlog.Append(tx); err != nil {
			return nil, err
		}
	}

	s.removeAt(t, idx)

	return &Event{Module: s.module, Table: tableName, Kind: schema.EventDelete, Row: row}, nil
}

// removeAt splices row idx out of t.rows, preserving the insertion order
// of every surviving row, and reindexes the rows shifted down by one.
func (s *Store) removeAt(t *Table, idx int) {
	removedKey := keyFor(t.rows[idx].PrimaryKey)
	t.rows = append(t.rows[:idx], t.rows[idx+1:]...)
	delete(t.index, removedKey)
	for i := idx; i < len(t.rows); i++ {
		t.index[keyFor(t.rows[i].PrimaryKey)] = i
	}
}

// Scan returns a snapshot copy of a table's rows in insertion order.
// Cross-module scans are subject to the same visibility rule as
// Insert/Update/Delete.
func (s *Store) Scan(callerModule, tableName string) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.resolve(callerModule, tableName)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(t.rows))
	copy(out, t.rows)
	return out, nil
}

// ClearEphemeral drops the contents of every Ephemeral table. The store,
// engine and node never call it themselves, so ephemeral rows persist
// until a caller does.
func (s *Store) ClearEphemeral() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tables {
		if t.schema.Kind != schema.Ephemeral {
			continue
		}
		t.rows = nil
		t.index = map[string]int{}
	}
}

// ApplyReplay applies a recovered transaction directly to memory
// without re-validating or re-journalling it.
func (s *Store) ApplyReplay(tx txlog.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tx.Table]
	if !ok {
		return ierr.Newf(ierr.TableNotFound, "replay references unknown table %s", tx.Table)
	}
	row := Row{PrimaryKey: tx.Row.PrimaryKey, Entries: tx.Row.Entries}
	k := keyFor(row.PrimaryKey)

	switch tx.Kind {
	case txlog.Insert:
		t.index[k] = len(t.rows)
		t.rows = append(t.rows, row)
		if t.schema.AutoInc {
			if inc, ok := asInt64(row.PrimaryKey); ok && inc >= t.nextInc {
				t.nextInc = inc + 1
			}
		}
	case txlog.Update:
		idx, exists := t.index[k]
		if !exists {
			return ierr.Newf(ierr.MissingKey, "replay update on missing key in table %s", tx.Table)
		}
		t.rows[idx] = row
	case txlog.Delete:
		idx, exists := t.index[k]
		if !exists {
			return ierr.Newf(ierr.MissingKey, "replay delete on missing key in table %s", tx.Table)
		}
		s.removeAt(t, idx)
	default:
		return ierr.Newf(ierr.Internal, "unknown transaction kind %d during replay", tx.Kind)
	}
	return nil
}

func asInt64(v value.Value) (int64, bool) {
	switch v.Kind {
	case value.KindI64:
		return v.I64, true
	case value.KindI32:
		return int64(v.I32), true
	default:
		return 0, false
	}
}

func pkIndex(s schema.TableSchema) int {
	for i, f := range s.Fields {
		if f.Name == s.PrimaryKey.Name {
			return i
		}
	}
	return -1
}

// resolve looks up a table by name, enforcing that cross-module access
// only succeeds against Public tables.
func (s *Store) resolve(callerModule, tableName string) (*Table, error) {
	t, ok := s.tables[tableName]
	if !ok {
		return nil, ierr.Newf(ierr.TableNotFound, "no such table %s", tableName)
	}
	if callerModule != s.module && t.schema.Visibility != schema.Public {
		return nil, ierr.Newf(ierr.AccessDenied, "table %s.%s is private", s.module, tableName)
	}
	return t, nil
}
