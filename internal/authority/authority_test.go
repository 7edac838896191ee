package authority

import (
	"context"
	"testing"

	"github.com/interstice-network/interstice-core/internal/hostcall"
	"github.com/interstice-network/interstice-core/internal/ierr"
	"github.com/interstice-network/interstice-core/internal/value"
)

func TestDispatchForwardsToRegisteredProvider(t *testing.T) {
	r := New()
	called := false
	err := r.Register(NewHandlerFunc(hostcall.AuthorityGpu, func(ctx context.Context, module string, payload value.Value) (value.Value, error) {
		called = true
		if module != "renderer" {
			t.Fatalf("expected module renderer, got %s", module)
		}
		return value.NewString("ok"), nil
	}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	out, err := r.Dispatch(context.Background(), "renderer", hostcall.AuthorityGpu, value.NewBytes([]byte{1, 2, 3}))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !called {
		t.Fatal("expected provider to be invoked")
	}
	if out.Str != "ok" {
		t.Fatalf("expected ok, got %v", out)
	}
}

func TestDispatchDeniesUnregisteredKind(t *testing.T) {
	r := New()
	_, err := r.Dispatch(context.Background(), "renderer", hostcall.AuthorityAudio, value.Void())
	if !ierr.Is(err, ierr.AccessDenied) {
		t.Fatalf("expected AccessDenied, got %v", err)
	}
}

func TestRegisterRejectsDuplicateKind(t *testing.T) {
	r := New()
	h := NewHandlerFunc(hostcall.AuthorityInput, func(ctx context.Context, module string, payload value.Value) (value.Value, error) {
		return value.Void(), nil
	})
	if err := r.Register(h); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(h); err == nil {
		t.Fatal("expected error registering a second provider for the same kind")
	}
}
