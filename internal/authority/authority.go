// Package authority forwards KindAuthority host calls (GPU, audio,
// input, and cross-module authority surfaces the core runtime keeps
// out of its own implementation) to whatever the embedding node
// registers to handle them. The core engine never implements these
// capabilities itself; it only routes to a Provider.
package authority

import (
	"context"
	"fmt"

	"github.com/interstice-network/interstice-core/internal/hostcall"
	"github.com/interstice-network/interstice-core/internal/ierr"
	"github.com/interstice-network/interstice-core/internal/value"
)

// Provider handles every authority call of one AuthorityKind, from any
// module; the calling module is passed to Handle. A node registers at
// most one Provider per kind. Dispatch calls Handle directly on the
// caller's goroutine; no channel or queue sits in between.
type Provider interface {
	Kind() hostcall.AuthorityKind
	Handle(ctx context.Context, module string, payload value.Value) (value.Value, error)
}

// Registry dispatches an authority call to its registered Provider,
// mirroring the lookup-by-ID shape of a plugin manager generalized from
// one Plugin interface to one Provider per AuthorityKind.
type Registry struct {
	providers map[hostcall.AuthorityKind]Provider
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{providers: map[hostcall.AuthorityKind]Provider{}}
}

// Register adds a Provider for its declared kind. It is an error to
// register two providers for the same kind.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return ierr.New(ierr.Internal, "authority provider is nil")
	}
	k := p.Kind()
	if _, exists := r.providers[k]; exists {
		return ierr.Newf(ierr.Internal, "authority provider for %s already registered", kindName(k))
	}
	r.providers[k] = p
	return nil
}

// Dispatch forwards one authority call. A module with no registered
// provider for the requested kind is denied: the host may decline to
// service a call the node has not granted.
func (r *Registry) Dispatch(ctx context.Context, module string, kind hostcall.AuthorityKind, payload value.Value) (value.Value, error) {
	p, ok := r.providers[kind]
	if !ok {
		return value.Value{}, ierr.Newf(ierr.AccessDenied, "no authority provider registered for %s", kindName(kind))
	}
	return p.Handle(ctx, module, payload)
}

func kindName(k hostcall.AuthorityKind) string {
	switch k {
	case hostcall.AuthorityGpu:
		return "gpu"
	case hostcall.AuthorityAudio:
		return "audio"
	case hostcall.AuthorityInput:
		return "input"
	case hostcall.AuthorityModule:
		return "module"
	default:
		return fmt.Sprintf("authority(%d)", k)
	}
}

// HandlerFunc adapts a plain function to a Provider for a fixed kind,
// the common case where a node wires in a closure rather than a full
// type.
type HandlerFunc struct {
	kind hostcall.AuthorityKind
	fn   func(ctx context.Context, module string, payload value.Value) (value.Value, error)
}

// NewHandlerFunc builds a Provider backed by fn for kind.
func NewHandlerFunc(kind hostcall.AuthorityKind, fn func(ctx context.Context, module string, payload value.Value) (value.Value, error)) HandlerFunc {
	return HandlerFunc{kind: kind, fn: fn}
}

func (h HandlerFunc) Kind() hostcall.AuthorityKind { return h.kind }

func (h HandlerFunc) Handle(ctx context.Context, module string, payload value.Value) (value.Value, error) {
	return h.fn(ctx, module, payload)
}
