// Package network defines the inter-node wire packet the core emits
// and consumes through a NetworkHandle: framed packets over TCP,
// carrying reducer/query forwarding, schema exchange, subscriptions,
// and table events between nodes. The actual transport (TCP listener,
// libp2p stream, peer discovery) is out of core scope; this package
// only defines the packet shape, its codec, and the interface the
// engine consumes.
package network

import (
	"github.com/interstice-network/interstice-core/internal/schema"
	"github.com/interstice-network/interstice-core/internal/value"
)

// Kind tags which NetworkPacket variant a decoded packet carries.
type Kind uint8

const (
	KindHandshake Kind = iota
	KindClose
	KindReducerCall
	KindQueryCall
	KindQueryResponse
	KindSchemaRequest
	KindSchemaResponse
	KindRequestSubscription
	KindTableEvent
	KindModuleEvent
	KindError
)

// ModuleEventKind distinguishes the two module-lifecycle events a node
// announces to its peers.
type ModuleEventKind uint8

const (
	ModulePublish ModuleEventKind = iota
	ModuleRemove
)

// QueryResult is QueryResponse's payload: either the query's returned
// Value or an error message.
type QueryResult struct {
	Ok      bool
	Value   value.Value
	ErrText string
}

func OkResult(v value.Value) QueryResult     { return QueryResult{Ok: true, Value: v} }
func ErrResult(message string) QueryResult { return QueryResult{ErrText: message} }

// Packet is the decoded form of one NetworkPacket. Only the fields
// relevant to Kind are populated.
type Packet struct {
	Kind Kind

	// Handshake
	NodeID  string
	Address string
	Token   string

	// ReducerCall / QueryCall: the caller node's identity travels with
	// the call. The receiving node does not use it for the RNG seed; the
	// engine seeds with the receiving node's own id.
	CallerNodeID string
	Module       string
	Entry        string
	Input        value.Value

	// QueryCall / QueryResponse / SchemaRequest / SchemaResponse
	RequestID uint64
	Result    QueryResult
	Schemas   []schema.ModuleSchema

	// RequestSubscription
	SubscriberModule string
	TargetModule     string
	Table            string
	Event            schema.TableEvent
	ReducerName      string

	// TableEvent
	EventRow RowEvent

	// ModuleEvent
	ModuleEventKind ModuleEventKind
	ModuleName      string
	ModuleSchema    schema.ModuleSchema

	// Error
	Message string
}

// RowEvent is TableEvent's payload: a table mutation forwarded to
// subscribed peers, independent of internal/table.Event so this
// package's codec stays self-contained.
type RowEvent struct {
	Module     string
	Table      string
	Event      schema.TableEvent
	PrimaryKey value.Value
	Entries    []value.Value
}

func Handshake(nodeID, address, token string) Packet {
	return Packet{Kind: KindHandshake, NodeID: nodeID, Address: address, Token: token}
}

func Close() Packet { return Packet{Kind: KindClose} }

func ReducerCall(callerNodeID, module, reducer string, input value.Value) Packet {
	return Packet{Kind: KindReducerCall, CallerNodeID: callerNodeID, Module: module, Entry: reducer, Input: input}
}

func QueryCall(requestID uint64, callerNodeID, module, query string, input value.Value) Packet {
	return Packet{Kind: KindQueryCall, RequestID: requestID, CallerNodeID: callerNodeID, Module: module, Entry: query, Input: input}
}

func QueryResponse(requestID uint64, result QueryResult) Packet {
	return Packet{Kind: KindQueryResponse, RequestID: requestID, Result: result}
}

func SchemaRequest(requestID uint64, nodeName string) Packet {
	return Packet{Kind: KindSchemaRequest, RequestID: requestID, NodeID: nodeName}
}

func SchemaResponse(requestID uint64, schemas []schema.ModuleSchema) Packet {
	return Packet{Kind: KindSchemaResponse, RequestID: requestID, Schemas: schemas}
}

func RequestSubscription(subscriberModule, targetModule, table string, event schema.TableEvent, reducerName string) Packet {
	return Packet{
		Kind:             KindRequestSubscription,
		SubscriberModule: subscriberModule,
		TargetModule:     targetModule,
		Table:            table,
		Event:            event,
		ReducerName:      reducerName,
	}
}

func TableEventPacket(ev RowEvent) Packet { return Packet{Kind: KindTableEvent, EventRow: ev} }

func ModuleEventPacket(kind ModuleEventKind, moduleName string, ms schema.ModuleSchema) Packet {
	return Packet{Kind: KindModuleEvent, ModuleEventKind: kind, ModuleName: moduleName, ModuleSchema: ms}
}

func ErrorPacket(message string) Packet { return Packet{Kind: KindError, Message: message} }
