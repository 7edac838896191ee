// Package wasmhost wraps a single loaded guest module: its wazero
// instance, memory access, and the guest allocator calls every host
// call boundary needs.
package wasmhost

import (
	"context"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multihash"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/interstice-network/interstice-core/internal/codec"
	"github.com/interstice-network/interstice-core/internal/ierr"
	"github.com/interstice-network/interstice-core/internal/schema"
)

var log = logging.Logger("interstice/wasmhost")

// callTimeout bounds a single guest invocation. The embedded runtime
// may additionally be fuel-metered, but a wall-clock backstop catches
// a guest that never yields.
const callTimeout = 10 * time.Second

// memoryLimitPages caps a guest's linear memory at 32MiB (512 * 64KiB
// pages).
const memoryLimitPages = 512

// Dispatcher decodes and handles one HostCall payload on behalf of a
// specific guest module, returning the encoded response payload (nil
// for calls with no return value). It is implemented by
// internal/engine's Engine; wasmhost only depends on the interface to
// avoid an import cycle between the two packages.
type Dispatcher interface {
	Dispatch(ctx context.Context, callerModule string, payload []byte) ([]byte, error)
}

// Module is one loaded guest instance plus its schema and the guest
// export handles needed to call reducers/queries and manage its memory.
type Module struct {
	name    string
	runtime wazero.Runtime
	mod     api.Module
	schema  schema.ModuleSchema

	allocFn   api.Function
	deallocFn api.Function

	contentID cid.Cid
}

// Load performs five ordered steps: instantiate, run the guest's init
// array, fetch and decode the schema, check the ABI version, and hand
// back a ready Module. Any failure is surfaced as ModuleLoadError and
// no Module is returned.
func Load(ctx context.Context, moduleName string, wasmBytes []byte, dispatcher Dispatcher) (*Module, error) {
	cfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(memoryLimitPages)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, ierr.Wrap(ierr.ModuleLoadError, "instantiate WASI", err)
	}

	builder := rt.NewHostModuleBuilder("interstice")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(
			api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				packed := int64(stack[0])
				ptr, length := codec.UnpackPtrLen(packed)
				data, ok := mod.Memory().Read(uint32(ptr), uint32(length))
				if !ok {
					panic(fmt.Sprintf("interstice_host_call: bad guest pointer (%d,%d)", ptr, length))
				}
				resp, err := dispatcher.Dispatch(ctx, moduleName, data)
				if err != nil {
					panic(fmt.Sprintf("interstice_host_call: unrecoverable: %v", err))
				}
				if resp == nil {
					stack[0] = 0
					return
				}
				respPtr, err := allocInto(ctx, mod, resp)
				if err != nil {
					panic(fmt.Sprintf("interstice_host_call: guest alloc failed: %v", err))
				}
				stack[0] = uint64(codec.PackPtrLen(int32(respPtr), int32(len(resp))))
			}),
			[]api.ValueType{api.ValueTypeI64},
			[]api.ValueType{api.ValueTypeI64},
		).
		Export("interstice_host_call")
	if _, err := builder.Instantiate(ctx); err != nil {
		rt.Close(ctx)
		return nil, ierr.Wrap(ierr.ModuleLoadError, "register interstice host module", err)
	}

	guest, err := rt.Instantiate(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, ierr.Wrap(ierr.ModuleLoadError, "instantiate guest module", err)
	}

	if guest.Memory() == nil {
		rt.Close(ctx)
		return nil, ierr.New(ierr.ModuleLoadError, "guest module exports no memory")
	}
	allocFn := guest.ExportedFunction("alloc")
	deallocFn := guest.ExportedFunction("dealloc")
	if allocFn == nil || deallocFn == nil {
		rt.Close(ctx)
		return nil, ierr.New(ierr.ModuleLoadError, "guest module missing alloc/dealloc exports")
	}

	if initFn := guest.ExportedFunction("_initialize"); initFn != nil {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		_, err := initFn.Call(callCtx)
		cancel()
		if err != nil {
			rt.Close(ctx)
			return nil, ierr.Wrap(ierr.ModuleLoadError, "run guest init array", err)
		}
	}

	getSchemaFn := guest.ExportedFunction("interstice_get_schema")
	if getSchemaFn == nil {
		rt.Close(ctx)
		return nil, ierr.New(ierr.ModuleLoadError, "guest module missing interstice_get_schema export")
	}
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	results, err := getSchemaFn.Call(callCtx)
	cancel()
	if err != nil {
		rt.Close(ctx)
		return nil, ierr.Wrap(ierr.ModuleLoadError, "call interstice_get_schema", err)
	}
	ptr, length := codec.UnpackPtrLen(int64(results[0]))
	schemaBytes, ok := guest.Memory().Read(uint32(ptr), uint32(length))
	if !ok {
		rt.Close(ctx)
		return nil, ierr.New(ierr.ModuleLoadError, "failed to read schema from guest memory")
	}
	ms, err := schema.Decode(schemaBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, ierr.Wrap(ierr.ModuleLoadError, "decode module schema", err)
	}
	if ms.ABIVersion != schema.ABIVersion {
		rt.Close(ctx)
		return nil, ierr.Wrap(ierr.ModuleLoadError, "abi version mismatch",
			ierr.Newf(ierr.AbiMismatch, "module %s declares abi_version %d, runtime expects %d", moduleName, ms.ABIVersion, schema.ABIVersion))
	}
	if err := ms.Registry().CheckResolved(); err != nil {
		rt.Close(ctx)
		return nil, ierr.Wrap(ierr.ModuleLoadError, "unresolved type reference in schema", err)
	}

	contentID, err := moduleContentID(wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, ierr.Wrap(ierr.ModuleLoadError, "hash module bytes", err)
	}

	log.Infof("loaded module %s (version %d.%d.%d, %d tables, %d reducers, %d queries, cid %s)",
		moduleName, ms.Version.Major, ms.Version.Minor, ms.Version.Patch, len(ms.Tables), len(ms.Reducers), len(ms.Queries), contentID)

	return &Module{
		name:      moduleName,
		runtime:   rt,
		mod:       guest,
		schema:    ms,
		allocFn:   allocFn,
		deallocFn: deallocFn,
		contentID: contentID,
	}, nil
}

// moduleContentID hashes raw WASM bytes into a CIDv1 over a sha2-256
// multihash, giving each loaded module a stable content identity for
// load-time dedup logging independent of the name it was loaded under.
func moduleContentID(wasmBytes []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(wasmBytes, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// ContentID returns the CID of the module's raw WASM bytes, computed at
// load time.
func (m *Module) ContentID() cid.Cid { return m.contentID }

// Schema returns the module's decoded schema.
func (m *Module) Schema() schema.ModuleSchema { return m.schema }

// Name returns the module's name, as it was loaded under.
func (m *Module) Name() string { return m.name }

// Close releases the wazero runtime and guest instance.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// CallReducer invokes `interstice_reducer_<name>(ptr,len)`, passing the
// caller-encoded input bytes unchanged and discarding any return value;
// reducers communicate results only via host calls. The engine encodes
// only the argument Value; no call context is prepended.
func (m *Module) CallReducer(ctx context.Context, name string, input []byte) error {
	fn := m.mod.ExportedFunction("interstice_reducer_" + name)
	if fn == nil {
		return ierr.Newf(ierr.ReducerNotFound, "guest export for reducer %s missing", name)
	}
	ptr, err := m.allocInGuest(ctx, input)
	if err != nil {
		return err
	}
	defer m.deallocInGuest(ctx, ptr, uint32(len(input)))

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if _, err := fn.Call(callCtx, uint64(ptr), uint64(len(input))); err != nil {
		return ierr.Wrap(ierr.GuestTrap, "reducer "+name+" trapped", err)
	}
	return nil
}

// CallQuery invokes `interstice_query_<name>(ptr,len) -> i64`, returning
// the encoded Value the guest wrote back.
func (m *Module) CallQuery(ctx context.Context, name string, input []byte) ([]byte, error) {
	fn := m.mod.ExportedFunction("interstice_query_" + name)
	if fn == nil {
		return nil, ierr.Newf(ierr.QueryNotFound, "guest export for query %s missing", name)
	}
	ptr, err := m.allocInGuest(ctx, input)
	if err != nil {
		return nil, err
	}
	defer m.deallocInGuest(ctx, ptr, uint32(len(input)))

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	results, err := fn.Call(callCtx, uint64(ptr), uint64(len(input)))
	if err != nil {
		return nil, ierr.Wrap(ierr.GuestTrap, "query "+name+" trapped", err)
	}
	outPtr, outLen := codec.UnpackPtrLen(int64(results[0]))
	if outLen == 0 {
		return nil, nil
	}
	data, ok := m.mod.Memory().Read(uint32(outPtr), uint32(outLen))
	if !ok {
		return nil, ierr.New(ierr.MemoryRead, "failed to read query result from guest memory")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Module) allocInGuest(ctx context.Context, data []byte) (uint32, error) {
	results, err := m.allocFn.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, ierr.Wrap(ierr.GuestTrap, "guest alloc trapped", err)
	}
	ptr := uint32(results[0])
	if len(data) > 0 && !m.mod.Memory().Write(ptr, data) {
		return 0, ierr.New(ierr.MemoryRead, "failed to write into guest memory")
	}
	return ptr, nil
}

func (m *Module) deallocInGuest(ctx context.Context, ptr, length uint32) {
	if m.deallocFn == nil {
		return
	}
	if _, err := m.deallocFn.Call(ctx, uint64(ptr), uint64(length)); err != nil {
		log.Warnf("module %s: dealloc(%d,%d) failed: %v", m.name, ptr, length, err)
	}
}

// allocInto asks the guest to allocate len(data) bytes via its exported
// alloc(i32)->i32, then writes data there. Used for host-call response
// payloads; call arguments go through Module.allocInGuest.
func allocInto(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	allocFn := mod.ExportedFunction("alloc")
	if allocFn == nil {
		return 0, ierr.New(ierr.MemoryRead, "guest missing alloc export")
	}
	results, err := allocFn.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, ierr.Wrap(ierr.GuestTrap, "guest alloc trapped", err)
	}
	ptr := uint32(results[0])
	if len(data) > 0 && !mod.Memory().Write(ptr, data) {
		return 0, ierr.New(ierr.MemoryRead, "failed to write into guest memory")
	}
	return ptr, nil
}
