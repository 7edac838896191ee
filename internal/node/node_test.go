package node

import (
	"context"
	"os"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/interstice-network/interstice-core/internal/config"
	"github.com/interstice-network/interstice-core/internal/network"
	"github.com/interstice-network/interstice-core/internal/schema"
	"github.com/interstice-network/interstice-core/internal/table"
	"github.com/interstice-network/interstice-core/internal/value"
)

type fakeHandle struct {
	peers map[string]peer.ID
	sent  []sentPacket
	in    chan network.Inbound
}

type sentPacket struct {
	to  peer.ID
	pkt network.Packet
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{peers: map[string]peer.ID{}, in: make(chan network.Inbound, 8)}
}

func (f *fakeHandle) SendPacket(ctx context.Context, to peer.ID, pkt network.Packet) error {
	f.sent = append(f.sent, sentPacket{to: to, pkt: pkt})
	return nil
}

func (f *fakeHandle) ResolvePeer(address string) (peer.ID, bool) {
	p, ok := f.peers[address]
	return p, ok
}

func (f *fakeHandle) Inbound() <-chan network.Inbound { return f.in }

func testNode(t *testing.T) (*Node, *fakeHandle) {
	t.Helper()
	cfg := config.Default()
	cfg.NodeID = "node-a"
	cfg.Storage.DataDir = t.TempDir()

	n, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { n.Stop(context.Background()) })

	h := newFakeHandle()
	n.AttachNetwork(h)
	return n, h
}

func TestNewCreatesTransactionLog(t *testing.T) {
	n, _ := testNode(t)
	if _, err := os.Stat(n.cfg.LogPath()); err != nil {
		t.Fatalf("expected transaction log at %s: %v", n.cfg.LogPath(), err)
	}
}

func TestForwardReducerRequiresResolvablePeer(t *testing.T) {
	n, _ := testNode(t)
	err := n.forwardReducer(context.Background(), "node-b", "chat", "send", value.Void())
	if err == nil {
		t.Fatal("expected error for unresolvable peer")
	}
}

func TestForwardReducerSendsPacketToResolvedPeer(t *testing.T) {
	n, h := testNode(t)
	target := peer.ID("node-b-peer")
	h.peers["node-b"] = target

	if err := n.forwardReducer(context.Background(), "node-b", "chat", "send", value.NewString("hi")); err != nil {
		t.Fatalf("forwardReducer: %v", err)
	}
	if len(h.sent) != 1 {
		t.Fatalf("expected 1 sent packet, got %d", len(h.sent))
	}
	if h.sent[0].to != target || h.sent[0].pkt.Kind != network.KindReducerCall {
		t.Fatalf("unexpected packet: %+v", h.sent[0])
	}
}

func TestForwardQueryWaitsForResponse(t *testing.T) {
	n, h := testNode(t)
	target := peer.ID("node-b-peer")
	h.peers["node-b"] = target

	done := make(chan struct{})
	var result value.Value
	var callErr error
	go func() {
		result, callErr = n.forwardQuery(context.Background(), "node-b", "chat", "recent", value.NewI32(5))
		close(done)
	}()

	// Wait until the request is registered, then simulate the remote's
	// QueryResponse arriving as an inbound packet.
	var reqID uint64
	for {
		n.mu.Lock()
		if len(n.pendingReq) == 1 {
			for id := range n.pendingReq {
				reqID = id
			}
			n.mu.Unlock()
			break
		}
		n.mu.Unlock()
	}
	n.handleInbound(network.Inbound{
		From:   target,
		Packet: network.QueryResponse(reqID, network.OkResult(value.NewString("ok"))),
	})

	<-done
	if callErr != nil {
		t.Fatalf("forwardQuery: %v", callErr)
	}
	if result.Str != "ok" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestForwardQueryPropagatesRemoteError(t *testing.T) {
	n, h := testNode(t)
	target := peer.ID("node-b-peer")
	h.peers["node-b"] = target

	done := make(chan struct{})
	var callErr error
	go func() {
		_, callErr = n.forwardQuery(context.Background(), "node-b", "chat", "recent", value.NewI32(5))
		close(done)
	}()

	var reqID uint64
	for {
		n.mu.Lock()
		if len(n.pendingReq) == 1 {
			for id := range n.pendingReq {
				reqID = id
			}
			n.mu.Unlock()
			break
		}
		n.mu.Unlock()
	}
	n.handleInbound(network.Inbound{
		From:   target,
		Packet: network.QueryResponse(reqID, network.ErrResult("boom")),
	})

	<-done
	if callErr == nil {
		t.Fatal("expected error from remote failure")
	}
}

func TestHandleInboundRegistersRemoteSubscription(t *testing.T) {
	n, _ := testNode(t)
	subscriber := peer.ID("digest-peer")

	n.handleInbound(network.Inbound{
		From:   subscriber,
		Packet: network.RequestSubscription("digest", "chat", "messages", schema.EventInsert, "on_remote_insert"),
	})

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.subs) != 1 {
		t.Fatalf("expected 1 registered subscription, got %d", len(n.subs))
	}
	if n.subs[0].from != subscriber || n.subs[0].pkt.ReducerName != "on_remote_insert" {
		t.Fatalf("unexpected subscription: %+v", n.subs[0])
	}
}

func TestObserveEventsForwardsMatchingSubscription(t *testing.T) {
	n, h := testNode(t)
	subscriber := peer.ID("digest-peer")
	n.subs = append(n.subs, remoteSub{
		from: subscriber,
		pkt:  network.RequestSubscription("digest", "chat", "messages", schema.EventInsert, "on_remote_insert"),
	})

	n.observeEvents([]table.Event{
		{
			Module: "chat",
			Table:  "messages",
			Kind:   schema.EventInsert,
			Row:    table.Row{PrimaryKey: value.NewI64(1), Entries: []value.Value{value.NewI64(1), value.NewString("hi")}},
		},
		{
			Module: "chat",
			Table:  "messages",
			Kind:   schema.EventDelete,
			Row:    table.Row{PrimaryKey: value.NewI64(2), Entries: []value.Value{value.NewI64(2), value.NewString("bye")}},
		},
	})

	if len(h.sent) != 1 {
		t.Fatalf("expected exactly 1 forwarded event, got %d", len(h.sent))
	}
	if h.sent[0].to != subscriber || h.sent[0].pkt.Kind != network.KindTableEvent {
		t.Fatalf("unexpected forwarded packet: %+v", h.sent[0])
	}
	if h.sent[0].pkt.EventRow.Entries[1].Str != "hi" {
		t.Fatalf("unexpected row entries: %+v", h.sent[0].pkt.EventRow)
	}
}
