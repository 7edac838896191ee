// Package hostcall defines the wire shape of the HostCall sum guest
// code encodes into interstice_host_call, and the Response sum the
// dispatcher encodes back. It holds only data and codec logic; routing
// and side effects live in internal/engine, which implements
// wasmhost.Dispatcher on top of Decode/Encode here.
package hostcall

import "github.com/interstice-network/interstice-core/internal/value"

// Kind tags which HostCall variant a decoded call carries.
type Kind uint8

const (
	KindLog Kind = iota
	KindAbort
	KindCallReducer
	KindCallQuery
	KindInsertRow
	KindUpdateRow
	KindDeleteRow
	KindTableScan
	KindSchedule
	KindTime
	KindDeterministicRandom
	KindAuthority
)

// AuthorityKind names which out-of-core authority a KindAuthority call
// targets.
type AuthorityKind uint8

const (
	AuthorityGpu AuthorityKind = iota
	AuthorityAudio
	AuthorityInput
	AuthorityModule
)

// NodeSelection picks the node a reducer/query call executes on.
// Local is the common case; Other names a node_dependency by name.
type NodeSelection struct {
	Other bool
	Node  string
}

// ModuleSelection picks which module a reducer/query/table call
// targets. Named == false means "the caller's own module".
type ModuleSelection struct {
	Named  bool
	Module string
}

// HostCall is the decoded guest request passed to interstice_host_call.
type HostCall struct {
	Kind Kind

	Message string // Log, Abort

	NodeSel   NodeSelection   // CallReducer, CallQuery
	ModuleSel ModuleSelection // CallReducer, CallQuery, InsertRow, UpdateRow, DeleteRow, TableScan
	Name      string          // CallReducer, CallQuery name; Schedule reducer
	Input     value.Value     // CallReducer, CallQuery input

	Table   string      // InsertRow, UpdateRow, DeleteRow, TableScan
	Row     []value.Value // InsertRow, UpdateRow new entries
	Key     value.Value   // UpdateRow, DeleteRow

	DelayMs uint64 // Schedule

	Authority     AuthorityKind
	AuthPayload   value.Value
}

// ResponseKind tags which shape a Response carries back to the guest.
type ResponseKind uint8

const (
	RespVoid ResponseKind = iota
	RespValue
	RespRows
	RespU64
	RespError
)

// Row is InsertRow/Update/TableScan's wire row shape: primary key plus
// ordered field entries, independent of internal/table's in-memory Row
// so this package stays a codec-only leaf.
type Row struct {
	PrimaryKey value.Value
	Entries    []value.Value
}

// Response is the encoded reply to one HostCall: Ok/Err, a Value, a
// Vec<Row>, or a u64, depending on the call that produced it.
type Response struct {
	Kind ResponseKind

	Value value.Value
	Rows  []Row
	U64   uint64

	ErrKind    int // mirrors ierr.Kind's underlying int without importing ierr
	ErrMessage string
}

func Void() Response                  { return Response{Kind: RespVoid} }
func ValueResponse(v value.Value) Response { return Response{Kind: RespValue, Value: v} }
func RowsResponse(rows []Row) Response     { return Response{Kind: RespRows, Rows: rows} }
func U64Response(n uint64) Response        { return Response{Kind: RespU64, U64: n} }
func ErrResponse(kind int, message string) Response {
	return Response{Kind: RespError, ErrKind: kind, ErrMessage: message}
}
