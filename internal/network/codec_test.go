package network

import (
	"testing"

	"github.com/interstice-network/interstice-core/internal/schema"
	"github.com/interstice-network/interstice-core/internal/value"
)

func roundTrip(t *testing.T, p Packet) Packet {
	t.Helper()
	out, err := Decode(Encode(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestHandshakeRoundTrip(t *testing.T) {
	in := Handshake("node-a", "/ip4/127.0.0.1/tcp/4001", "secret")
	out := roundTrip(t, in)
	if out.NodeID != in.NodeID || out.Address != in.Address || out.Token != in.Token {
		t.Fatalf("mismatch: %+v vs %+v", out, in)
	}
}

func TestReducerCallRoundTrip(t *testing.T) {
	in := ReducerCall("node-a", "chat", "send_message", value.NewString("hi"))
	out := roundTrip(t, in)
	if out.CallerNodeID != "node-a" || out.Module != "chat" || out.Entry != "send_message" {
		t.Fatalf("mismatch: %+v", out)
	}
	if !value.Equal(out.Input, in.Input) {
		t.Fatalf("input mismatch: %v vs %v", out.Input, in.Input)
	}
}

func TestQueryCallAndResponseRoundTrip(t *testing.T) {
	in := QueryCall(42, "node-a", "chat", "recent_messages", value.NewI32(5))
	out := roundTrip(t, in)
	if out.RequestID != 42 || out.Entry != "recent_messages" {
		t.Fatalf("mismatch: %+v", out)
	}

	ok := roundTrip(t, QueryResponse(42, OkResult(value.NewString("ok"))))
	if !ok.Result.Ok || ok.Result.Value.Str != "ok" {
		t.Fatalf("expected ok result, got %+v", ok.Result)
	}

	errd := roundTrip(t, QueryResponse(42, ErrResult("boom")))
	if errd.Result.Ok || errd.Result.ErrText != "boom" {
		t.Fatalf("expected error result, got %+v", errd.Result)
	}
}

func TestSchemaRequestAndResponseRoundTrip(t *testing.T) {
	ms := schema.ModuleSchema{ABIVersion: schema.ABIVersion, Name: "chat"}
	out := roundTrip(t, SchemaResponse(7, []schema.ModuleSchema{ms}))
	if out.RequestID != 7 || len(out.Schemas) != 1 || out.Schemas[0].Name != "chat" {
		t.Fatalf("mismatch: %+v", out)
	}

	req := roundTrip(t, SchemaRequest(7, "node-b"))
	if req.RequestID != 7 || req.NodeID != "node-b" {
		t.Fatalf("mismatch: %+v", req)
	}
}

func TestRequestSubscriptionRoundTrip(t *testing.T) {
	in := RequestSubscription("digest", "chat", "messages", schema.EventInsert, "on_remote_insert")
	out := roundTrip(t, in)
	if out.SubscriberModule != "digest" || out.TargetModule != "chat" || out.ReducerName != "on_remote_insert" {
		t.Fatalf("mismatch: %+v", out)
	}
	if out.Event != schema.EventInsert {
		t.Fatalf("expected EventInsert, got %v", out.Event)
	}
}

func TestTableEventRoundTrip(t *testing.T) {
	in := TableEventPacket(RowEvent{
		Module:     "chat",
		Table:      "messages",
		Event:      schema.EventUpdate,
		PrimaryKey: value.NewI64(1),
		Entries:    []value.Value{value.NewI64(1), value.NewString("edited")},
	})
	out := roundTrip(t, in)
	if out.EventRow.Module != "chat" || out.EventRow.Event != schema.EventUpdate {
		t.Fatalf("mismatch: %+v", out.EventRow)
	}
	if len(out.EventRow.Entries) != 2 || out.EventRow.Entries[1].Str != "edited" {
		t.Fatalf("entries mismatch: %+v", out.EventRow.Entries)
	}
}

func TestModuleEventRoundTrip(t *testing.T) {
	ms := schema.ModuleSchema{ABIVersion: schema.ABIVersion, Name: "chat"}
	in := ModuleEventPacket(ModulePublish, "chat", ms)
	out := roundTrip(t, in)
	if out.ModuleEventKind != ModulePublish || out.ModuleName != "chat" || out.ModuleSchema.Name != "chat" {
		t.Fatalf("mismatch: %+v", out)
	}
}

func TestErrorAndCloseRoundTrip(t *testing.T) {
	out := roundTrip(t, ErrorPacket("disconnected"))
	if out.Message != "disconnected" {
		t.Fatalf("expected message, got %+v", out)
	}
	closed := roundTrip(t, Close())
	if closed.Kind != KindClose {
		t.Fatalf("expected KindClose, got %v", closed.Kind)
	}
}

func TestDecodeTruncatedPacket(t *testing.T) {
	full := Encode(ReducerCall("node-a", "chat", "send_message", value.NewString("hi")))
	if _, err := Decode(full[:len(full)-2]); err == nil {
		t.Fatal("expected error decoding truncated packet")
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	full := Encode(Close())
	if _, err := Decode(append(full, 0xFF)); err == nil {
		t.Fatal("expected error decoding packet with trailing bytes")
	}
}
