package hostcall

import (
	"testing"

	"github.com/interstice-network/interstice-core/internal/value"
)

func TestCallReducerRoundTrip(t *testing.T) {
	hc := HostCall{
		Kind:      KindCallReducer,
		NodeSel:   NodeSelection{Other: true, Node: "relay"},
		ModuleSel: ModuleSelection{Named: true, Module: "chat"},
		Name:      "send_message",
		Input:     value.NewVec([]value.Value{value.NewString("hi")}),
	}
	out, err := Decode(Encode(hc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Kind != KindCallReducer || out.Name != "send_message" {
		t.Fatalf("mismatch: %+v", out)
	}
	if !out.NodeSel.Other || out.NodeSel.Node != "relay" {
		t.Fatalf("node sel mismatch: %+v", out.NodeSel)
	}
	if !out.ModuleSel.Named || out.ModuleSel.Module != "chat" {
		t.Fatalf("module sel mismatch: %+v", out.ModuleSel)
	}
	if !value.Equal(out.Input, hc.Input) {
		t.Fatalf("input mismatch: %v vs %v", out.Input, hc.Input)
	}
}

func TestInsertRowRoundTrip(t *testing.T) {
	hc := HostCall{
		Kind:  KindInsertRow,
		Table: "greetings",
		Row:   []value.Value{value.NewI64(0), value.NewString("hi")},
	}
	out, err := Decode(Encode(hc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Table != "greetings" || len(out.Row) != 2 {
		t.Fatalf("mismatch: %+v", out)
	}
	if out.ModuleSel.Named {
		t.Fatalf("expected same-module selection, got %+v", out.ModuleSel)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	hc := HostCall{Kind: KindSchedule, Name: "tick", DelayMs: 5000}
	out, err := Decode(Encode(hc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Name != "tick" || out.DelayMs != 5000 {
		t.Fatalf("mismatch: %+v", out)
	}
}

func TestNoPayloadKinds(t *testing.T) {
	for _, k := range []Kind{KindTime, KindDeterministicRandom} {
		out, err := Decode(Encode(HostCall{Kind: k}))
		if err != nil {
			t.Fatalf("decode kind %d: %v", k, err)
		}
		if out.Kind != k {
			t.Fatalf("kind mismatch: got %d want %d", out.Kind, k)
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []Response{
		Void(),
		ValueResponse(value.NewI32(42)),
		RowsResponse([]Row{{PrimaryKey: value.NewI64(1), Entries: []value.Value{value.NewI64(1), value.NewString("x")}}}),
		U64Response(99),
		ErrResponse(7, "boom"),
	}
	for _, resp := range cases {
		out, err := DecodeResponse(EncodeResponse(resp))
		if err != nil {
			t.Fatalf("decode response %+v: %v", resp, err)
		}
		if out.Kind != resp.Kind {
			t.Fatalf("kind mismatch: %+v vs %+v", out, resp)
		}
	}
}

func TestDecodeTruncatedHostCall(t *testing.T) {
	full := Encode(HostCall{Kind: KindLog, Message: "hello world"})
	if _, err := Decode(full[:len(full)-2]); err == nil {
		t.Fatal("expected error decoding truncated host call")
	}
}
