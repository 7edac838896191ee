// Package engine ties the loaded guest modules, their table stores, and
// the transaction log into the running reducer/query call contract:
// call-frame stack with cycle detection, deterministic per-call RNG,
// table mutation routing, scheduling, and subscription delivery.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/interstice-network/interstice-core/internal/codec"
	"github.com/interstice-network/interstice-core/internal/hostcall"
	"github.com/interstice-network/interstice-core/internal/ierr"
	"github.com/interstice-network/interstice-core/internal/schema"
	"github.com/interstice-network/interstice-core/internal/table"
	"github.com/interstice-network/interstice-core/internal/txlog"
	"github.com/interstice-network/interstice-core/internal/value"
	"github.com/interstice-network/interstice-core/internal/wasmhost"
)

var log = logging.Logger("interstice/engine")

// AuthorityHandler forwards a KindAuthority host call to whatever owns
// the GPU/audio/input/module surface outside the core runtime. The
// engine never implements these surfaces itself.
type AuthorityHandler func(ctx context.Context, module string, kind hostcall.AuthorityKind, payload value.Value) (value.Value, error)

// loadedModule bundles everything the engine owns about one guest.
type loadedModule struct {
	wasm   *wasmhost.Module
	store  *table.Store
	schema schema.ModuleSchema
}

// Engine owns every loaded module on one node: their wazero instances,
// per-module table stores, the shared transaction log, the scheduler,
// and cross-module subscription delivery.
type Engine struct {
	nodeID string
	tlog   *txlog.Log
	now    func() uint64

	mu      sync.RWMutex
	modules map[string]*loadedModule

	seqMu    sync.Mutex
	sequence uint64

	authority AuthorityHandler

	sched *scheduler

	forwardReducer ForwardReducerFunc
	forwardQuery   ForwardQueryFunc

	eventObserver func(events []table.Event)
}

// ForwardReducerFunc sends a reducer call to a remote node named by
// nodeName (a caller module's declared node_dependency), fire-and-
// forget: the caller sees an immediate Void return, and delivery is
// at-most-once with no acknowledgement.
type ForwardReducerFunc func(ctx context.Context, nodeName, module, name string, input value.Value) error

// ForwardQueryFunc sends a query call to a remote node and waits for
// its QueryResponse.
type ForwardQueryFunc func(ctx context.Context, nodeName, module, name string, input value.Value) (value.Value, error)

// SetForwarders wires the cross-node call seam: the engine never
// imports internal/network directly, so whatever owns the
// NetworkHandle (internal/node) supplies these two functions.
func (e *Engine) SetForwarders(reducer ForwardReducerFunc, query ForwardQueryFunc) {
	e.forwardReducer = reducer
	e.forwardQuery = query
}

// New builds an empty Engine. tlog may be nil if no module will declare
// a Stateful table. authority may be nil; authority calls then fail
// with AccessDenied.
func New(nodeID string, tlog *txlog.Log, authority AuthorityHandler) *Engine {
	e := &Engine{
		nodeID:    nodeID,
		tlog:      tlog,
		now:       func() uint64 { return uint64(time.Now().UnixMilli()) },
		modules:   map[string]*loadedModule{},
		authority: authority,
	}
	e.sched = newScheduler(e.runScheduled)
	return e
}

// Close stops the scheduler and every loaded module's wazero runtime.
func (e *Engine) Close(ctx context.Context) error {
	e.sched.stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	var first error
	for _, m := range e.modules {
		if err := m.wasm.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LoadModule instantiates a guest module's wasm bytes, registers the
// engine as its Dispatcher, builds its table store, and adds it to the
// set of modules reachable by name.
func (e *Engine) LoadModule(ctx context.Context, name string, wasmBytes []byte) error {
	mod, err := wasmhost.Load(ctx, name, wasmBytes, e)
	if err != nil {
		return err
	}
	ms := mod.Schema()

	var tlog *txlog.Log
	for _, t := range ms.Tables {
		if t.Kind == schema.Stateful {
			tlog = e.tlog
			break
		}
	}
	store := table.NewStore(name, ms.Tables, ms.TypeDefs, tlog, e.now)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.modules[name]; exists {
		mod.Close(ctx)
		return ierr.Newf(ierr.Internal, "module %s already loaded", name)
	}
	e.modules[name] = &loadedModule{wasm: mod, store: store, schema: ms}
	log.Infof("engine: module %s ready", name)
	return nil
}

// Replay applies recovered transaction log entries to each named
// module's table store without re-running any reducer code. Call after
// every module named by txs has already been loaded via LoadModule.
// Entries for a module not currently loaded are
// skipped, since the guest that owned them is no longer part of this
// node's module set.
func (e *Engine) Replay(txs []txlog.Transaction) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, tx := range txs {
		lm, ok := e.modules[tx.Module]
		if !ok {
			log.Warnf("engine: replay skipped for unloaded module %s", tx.Module)
			continue
		}
		if err := lm.store.ApplyReplay(tx); err != nil {
			return ierr.Wrap(ierr.LogCorrupt, fmt.Sprintf("replaying transaction for module %s", tx.Module), err)
		}
	}
	return nil
}

// Schema returns the decoded schema of a loaded module.
func (e *Engine) Schema(name string) (schema.ModuleSchema, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	lm, ok := e.modules[name]
	if !ok {
		return schema.ModuleSchema{}, false
	}
	return lm.schema, true
}

func (e *Engine) module(name string) (*loadedModule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.modules[name]
	if !ok {
		return nil, ierr.Newf(ierr.ModuleNotFound, "no such module %s", name)
	}
	return m, nil
}

func (e *Engine) nextSequence() uint64 {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	e.sequence++
	return e.sequence
}

// CallReducer is the external (network or scheduler) trigger entry
// point: it starts a fresh call-frame stack and invokes the named
// reducer on module, then delivers any subscriptions fired along the
// way.
func (e *Engine) CallReducer(ctx context.Context, module, name string, input value.Value) error {
	s := &stack{}
	ctx = withStack(ctx, s)
	if err := e.enterAndCallReducer(ctx, s, module, name, input); err != nil {
		return err
	}
	e.deliverSubscriptions(s.emitted)
	if e.eventObserver != nil && len(s.emitted) > 0 {
		e.eventObserver(s.emitted)
	}
	return nil
}

// SetEventObserver registers a callback invoked, after local
// subscription delivery, with every table event a top-level reducer
// call emitted. internal/node uses this to forward events to remote
// nodes that hold a matching RequestSubscription.
func (e *Engine) SetEventObserver(observer func(events []table.Event)) {
	e.eventObserver = observer
}

// CallQuery is the external trigger entry point for a read-only query.
func (e *Engine) CallQuery(ctx context.Context, module, name string, input value.Value) (value.Value, error) {
	s := &stack{}
	ctx = withStack(ctx, s)
	return e.enterAndCallQuery(ctx, s, module, name, input)
}

func (e *Engine) enterAndCallReducer(ctx context.Context, s *stack, module, name string, input value.Value) error {
	lm, err := e.module(module)
	if err != nil {
		return err
	}
	rs, ok := lm.schema.FindReducer(name)
	if !ok {
		return ierr.Newf(ierr.ReducerNotFound, "module %s has no reducer %s", module, name)
	}
	if !validateArguments(input, rs.Arguments, lm.schema.Registry()) {
		return ierr.Newf(ierr.ValidationError, "reducer %s.%s called with input not matching its declared arguments", module, name)
	}
	if s.contains(module) {
		return ierr.Newf(ierr.ReducerCycle, "module %s already on call stack", module)
	}

	seq := e.nextSequence()
	encodedInput := codec.Encode(input)
	seed := seedRNG(e.nodeID, module, name, FrameReducer.kindTag(), seq, encodedInput)
	s.push(Frame{Module: module, Entry: name, Kind: FrameReducer, RNGState: seed, CallSequence: seq})
	defer s.pop()

	return lm.wasm.CallReducer(ctx, name, encodedInput)
}

func (e *Engine) enterAndCallQuery(ctx context.Context, s *stack, module, name string, input value.Value) (value.Value, error) {
	lm, err := e.module(module)
	if err != nil {
		return value.Value{}, err
	}
	qs, ok := lm.schema.FindQuery(name)
	if !ok {
		return value.Value{}, ierr.Newf(ierr.QueryNotFound, "module %s has no query %s", module, name)
	}
	if !validateArguments(input, qs.Arguments, lm.schema.Registry()) {
		return value.Value{}, ierr.Newf(ierr.ValidationError, "query %s.%s called with input not matching its declared arguments", module, name)
	}
	if s.contains(module) {
		return value.Value{}, ierr.Newf(ierr.ReducerCycle, "module %s already on call stack", module)
	}

	seq := e.nextSequence()
	encodedInput := codec.Encode(input)
	seed := seedRNG(e.nodeID, module, name, FrameQuery.kindTag(), seq, encodedInput)
	s.push(Frame{Module: module, Entry: name, Kind: FrameQuery, RNGState: seed, CallSequence: seq})
	defer s.pop()

	out, err := lm.wasm.CallQuery(ctx, name, encodedInput)
	if err != nil {
		return value.Value{}, err
	}
	if out == nil {
		return value.Void(), nil
	}
	result, err := codec.Decode(out)
	if err != nil {
		return value.Value{}, err
	}
	if !value.Validate(result, qs.ReturnType, lm.schema.Registry()) {
		return value.Value{}, ierr.Newf(ierr.ValidationError, "query %s.%s returned a value not matching its declared return type", module, name)
	}
	return result, nil
}

// Dispatch implements wasmhost.Dispatcher: it decodes the guest's
// HostCall payload and routes it to the right handler, all within the
// Go call tree of whichever top-level CallReducer/CallQuery started it
// (the call-frame stack travels on ctx, so a nested host call from a
// guest sees the same stack the top-level call pushed).
func (e *Engine) Dispatch(ctx context.Context, callerModule string, payload []byte) ([]byte, error) {
	hc, err := hostcall.Decode(payload)
	if err != nil {
		return nil, err
	}

	s := stackFrom(ctx)
	if s == nil {
		return nil, ierr.New(ierr.Internal, "host call dispatched with no active frame stack")
	}
	frame := s.current()
	if frame == nil {
		return nil, ierr.New(ierr.Internal, "host call dispatched with empty frame stack")
	}

	switch hc.Kind {
	case hostcall.KindLog:
		log.Infof("[%s] %s", callerModule, hc.Message)
		return nil, nil

	case hostcall.KindAbort:
		return nil, ierr.New(ierr.GuestAbort, hc.Message)

	case hostcall.KindCallReducer:
		return e.dispatchCallReducer(ctx, s, callerModule, hc)

	case hostcall.KindCallQuery:
		return e.dispatchCallQuery(ctx, s, callerModule, hc)

	case hostcall.KindInsertRow:
		return e.dispatchInsert(s, callerModule, frame, hc)

	case hostcall.KindUpdateRow:
		return e.dispatchUpdate(s, callerModule, frame, hc)

	case hostcall.KindDeleteRow:
		return e.dispatchDelete(s, callerModule, frame, hc)

	case hostcall.KindTableScan:
		return e.dispatchScan(callerModule, hc)

	case hostcall.KindSchedule:
		return e.dispatchSchedule(callerModule, hc)

	case hostcall.KindTime:
		return hostcall.EncodeResponse(hostcall.U64Response(e.now())), nil

	case hostcall.KindDeterministicRandom:
		next, out := splitMix64(frame.RNGState)
		frame.RNGState = next
		return hostcall.EncodeResponse(hostcall.U64Response(out)), nil

	case hostcall.KindAuthority:
		return e.dispatchAuthority(ctx, callerModule, hc)

	default:
		return nil, ierr.Newf(ierr.ValidationError, "unhandled host call kind %d", hc.Kind)
	}
}

func (e *Engine) dispatchCallReducer(ctx context.Context, s *stack, callerModule string, hc hostcall.HostCall) ([]byte, error) {
	if frame := s.current(); frame != nil && frame.Kind == FrameQuery {
		return hostcall.EncodeResponse(errResponse(ierr.New(ierr.QueryMutation, "query may not call a reducer"))), nil
	}
	target := resolveModule(hc.ModuleSel, callerModule)
	if hc.NodeSel.Other {
		if e.forwardReducer == nil {
			return nil, ierr.Newf(ierr.NetworkSendFailed, "cross-node reducer calls require a network handle (node %s)", hc.NodeSel.Node)
		}
		if err := e.forwardReducer(ctx, hc.NodeSel.Node, target, hc.Name, hc.Input); err != nil {
			log.Warnf("forward reducer call to node %s failed: %v", hc.NodeSel.Node, err)
		}
		return hostcall.EncodeResponse(hostcall.Void()), nil
	}
	if err := e.enterAndCallReducer(ctx, s, target, hc.Name, hc.Input); err != nil {
		return hostcall.EncodeResponse(errResponse(err)), nil
	}
	return hostcall.EncodeResponse(hostcall.Void()), nil
}

func (e *Engine) dispatchCallQuery(ctx context.Context, s *stack, callerModule string, hc hostcall.HostCall) ([]byte, error) {
	target := resolveModule(hc.ModuleSel, callerModule)
	if hc.NodeSel.Other {
		if e.forwardQuery == nil {
			return nil, ierr.Newf(ierr.NetworkSendFailed, "cross-node query calls require a network handle (node %s)", hc.NodeSel.Node)
		}
		result, err := e.forwardQuery(ctx, hc.NodeSel.Node, target, hc.Name, hc.Input)
		if err != nil {
			return hostcall.EncodeResponse(errResponse(err)), nil
		}
		return hostcall.EncodeResponse(hostcall.ValueResponse(result)), nil
	}
	result, err := e.enterAndCallQuery(ctx, s, target, hc.Name, hc.Input)
	if err != nil {
		return hostcall.EncodeResponse(errResponse(err)), nil
	}
	return hostcall.EncodeResponse(hostcall.ValueResponse(result)), nil
}

func (e *Engine) dispatchInsert(s *stack, callerModule string, frame *Frame, hc hostcall.HostCall) ([]byte, error) {
	if frame.Kind == FrameQuery {
		return hostcall.EncodeResponse(errResponse(ierr.New(ierr.QueryMutation, "query may not insert a row"))), nil
	}
	target := resolveModule(hc.ModuleSel, callerModule)
	lm, err := e.module(target)
	if err != nil {
		return hostcall.EncodeResponse(errResponse(err)), nil
	}
	row, ev, err := lm.store.Insert(callerModule, hc.Table, hc.Row)
	if err != nil {
		return hostcall.EncodeResponse(errResponse(err)), nil
	}
	if ev != nil {
		s.emitted = append(s.emitted, *ev)
	}
	return hostcall.EncodeResponse(hostcall.RowsResponse([]hostcall.Row{{PrimaryKey: row.PrimaryKey, Entries: row.Entries}})), nil
}

func (e *Engine) dispatchUpdate(s *stack, callerModule string, frame *Frame, hc hostcall.HostCall) ([]byte, error) {
	if frame.Kind == FrameQuery {
		return hostcall.EncodeResponse(errResponse(ierr.New(ierr.QueryMutation, "query may not update a row"))), nil
	}
	target := resolveModule(hc.ModuleSel, callerModule)
	lm, err := e.module(target)
	if err != nil {
		return hostcall.EncodeResponse(errResponse(err)), nil
	}
	row, ev, err := lm.store.Update(callerModule, hc.Table, hc.Key, hc.Row)
	if err != nil {
		return hostcall.EncodeResponse(errResponse(err)), nil
	}
	if ev != nil {
		s.emitted = append(s.emitted, *ev)
	}
	return hostcall.EncodeResponse(hostcall.RowsResponse([]hostcall.Row{{PrimaryKey: row.PrimaryKey, Entries: row.Entries}})), nil
}

func (e *Engine) dispatchDelete(s *stack, callerModule string, frame *Frame, hc hostcall.HostCall) ([]byte, error) {
	if frame.Kind == FrameQuery {
		return hostcall.EncodeResponse(errResponse(ierr.New(ierr.QueryMutation, "query may not delete a row"))), nil
	}
	target := resolveModule(hc.ModuleSel, callerModule)
	lm, err := e.module(target)
	if err != nil {
		return hostcall.EncodeResponse(errResponse(err)), nil
	}
	ev, err := lm.store.Delete(callerModule, hc.Table, hc.Key)
	if err != nil {
		return hostcall.EncodeResponse(errResponse(err)), nil
	}
	if ev != nil {
		s.emitted = append(s.emitted, *ev)
	}
	return hostcall.EncodeResponse(hostcall.Void()), nil
}

func (e *Engine) dispatchScan(callerModule string, hc hostcall.HostCall) ([]byte, error) {
	target := resolveModule(hc.ModuleSel, callerModule)
	lm, err := e.module(target)
	if err != nil {
		return hostcall.EncodeResponse(errResponse(err)), nil
	}
	rows, err := lm.store.Scan(callerModule, hc.Table)
	if err != nil {
		return hostcall.EncodeResponse(errResponse(err)), nil
	}
	out := make([]hostcall.Row, len(rows))
	for i, r := range rows {
		out[i] = hostcall.Row{PrimaryKey: r.PrimaryKey, Entries: r.Entries}
	}
	return hostcall.EncodeResponse(hostcall.RowsResponse(out)), nil
}

func (e *Engine) dispatchSchedule(callerModule string, hc hostcall.HostCall) ([]byte, error) {
	lm, err := e.module(callerModule)
	if err != nil {
		return hostcall.EncodeResponse(errResponse(err)), nil
	}
	rs, ok := lm.schema.FindReducer(hc.Name)
	if !ok {
		return hostcall.EncodeResponse(errResponse(ierr.Newf(ierr.ReducerNotFound, "module %s has no reducer %s", callerModule, hc.Name))), nil
	}
	if len(rs.Arguments) != 0 {
		return hostcall.EncodeResponse(errResponse(ierr.Newf(ierr.ValidationError, "scheduled reducer %s.%s must take zero arguments", callerModule, hc.Name))), nil
	}
	e.sched.add(callerModule, hc.Name, time.Duration(hc.DelayMs)*time.Millisecond)
	return hostcall.EncodeResponse(hostcall.Void()), nil
}

func (e *Engine) dispatchAuthority(ctx context.Context, callerModule string, hc hostcall.HostCall) ([]byte, error) {
	if e.authority == nil {
		return hostcall.EncodeResponse(hostcall.ErrResponse(int(ierr.AccessDenied), "no authority handler registered")), nil
	}
	out, err := e.authority(ctx, callerModule, hc.Authority, hc.AuthPayload)
	if err != nil {
		return hostcall.EncodeResponse(errResponse(err)), nil
	}
	return hostcall.EncodeResponse(hostcall.ValueResponse(out)), nil
}

// runScheduled is the scheduler's callback: it runs a fully independent
// top-level reducer call, just like an external network trigger.
func (e *Engine) runScheduled(module, reducer string) {
	ctx := context.Background()
	if err := e.CallReducer(ctx, module, reducer, value.Void()); err != nil {
		log.Warnf("scheduled reducer %s.%s failed: %v", module, reducer, err)
	}
}

// deliverSubscriptions runs, as fresh top-level reducer calls, every
// subscription matching an event the just-finished call tree emitted.
// Delivery happens after the triggering frame returns, not inline with
// the mutation. Each delivered reducer call can itself emit further
// events and recursively trigger subscriptions
// through the normal CallReducer path.
func (e *Engine) deliverSubscriptions(events []table.Event) {
	if len(events) == 0 {
		return
	}
	e.mu.RLock()
	modules := make([]*loadedModule, 0, len(e.modules))
	for _, m := range e.modules {
		modules = append(modules, m)
	}
	e.mu.RUnlock()

	for _, ev := range events {
		rowValue := e.rowAsStruct(ev)
		for _, lm := range modules {
			for _, sub := range lm.schema.Subscriptions {
				if sub.TargetModule != ev.Module || sub.Table != ev.Table || sub.Event != ev.Kind {
					continue
				}
				if err := e.CallReducer(context.Background(), sub.SubscriberModule, sub.ReducerName, rowValue); err != nil {
					log.Warnf("subscription %s.%s on %s.%s %v failed: %v",
						sub.SubscriberModule, sub.ReducerName, ev.Module, ev.Table, ev.Kind, err)
				}
			}
		}
	}
}

// rowAsStruct builds the Value a subscriber reducer receives: the
// mutated row, shaped as a Struct named after its table using the
// target table's declared field names.
func (e *Engine) rowAsStruct(ev table.Event) value.Value {
	lm, err := e.module(ev.Module)
	if err != nil {
		return value.Void()
	}
	ts, ok := lm.schema.FindTable(ev.Table)
	if !ok || len(ts.Fields) != len(ev.Row.Entries) {
		return value.Void()
	}
	fields := make([]value.Field, len(ts.Fields))
	for i, f := range ts.Fields {
		fields[i] = value.Field{Name: f.Name, Value: ev.Row.Entries[i]}
	}
	return value.NewStruct(ev.Table, fields)
}

// validateArguments checks that input is a Vec whose items match args
// one-for-one, both in count and declared type. A reducer/query with no
// declared arguments also accepts a bare Void, the zero-argument call's
// conventional representation throughout this package.
func validateArguments(input value.Value, args []schema.FieldDef, reg *value.Registry) bool {
	if len(args) == 0 {
		return input.Kind == value.KindVoid || (input.Kind == value.KindVec && len(input.Vec) == 0)
	}
	if input.Kind != value.KindVec || len(input.Vec) != len(args) {
		return false
	}
	for i, arg := range args {
		if !value.Validate(input.Vec[i], arg.Type, reg) {
			return false
		}
	}
	return true
}

func resolveModule(sel hostcall.ModuleSelection, callerModule string) string {
	if sel.Named {
		return sel.Module
	}
	return callerModule
}

func errResponse(err error) hostcall.Response {
	kind := int(ierr.Internal)
	if ie, ok := err.(*ierr.Error); ok {
		kind = int(ie.Kind)
	}
	return hostcall.ErrResponse(kind, err.Error())
}
