// Package node wires the engine, transaction log, and network seam
// into a single running node. Everything in here is plain composition:
// it owns no protocol logic of its own beyond translating inbound
// network packets into engine calls.
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/interstice-network/interstice-core/internal/authority"
	"github.com/interstice-network/interstice-core/internal/config"
	"github.com/interstice-network/interstice-core/internal/engine"
	"github.com/interstice-network/interstice-core/internal/ierr"
	"github.com/interstice-network/interstice-core/internal/network"
	"github.com/interstice-network/interstice-core/internal/table"
	"github.com/interstice-network/interstice-core/internal/txlog"
	"github.com/interstice-network/interstice-core/internal/value"
)

var log = logging.Logger("interstice/node")

// remoteSub is one RequestSubscription a peer registered against a
// table this node hosts.
type remoteSub struct {
	from peer.ID
	pkt  network.Packet
}

// Node owns one running instance of the core: its engine, the shared
// transaction log, the authority registry, and (when set) a network
// Handle used to forward cross-node calls and deliver remote
// subscriptions.
type Node struct {
	id     string
	cfg    *config.Config
	engine *engine.Engine
	tlog   *txlog.Log
	auth   *authority.Registry
	net    network.Handle

	mu         sync.Mutex
	subs       []remoteSub
	pendingReq map[uint64]chan network.QueryResult
	reqSeq     uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Node from cfg: recovers and opens its transaction log,
// loads every module named in cfg.Modules, and replays recovered
// transactions into their stores. It does not start network I/O; call
// Start for that.
func New(ctx context.Context, cfg *config.Config) (*Node, error) {
	nodeCtx, cancel := context.WithCancel(ctx)

	logPath := cfg.LogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
		cancel()
		return nil, ierr.Wrap(ierr.LogIo, "creating node data directory", err)
	}

	recovered, err := txlog.Recover(logPath)
	if err != nil {
		cancel()
		return nil, err
	}

	tlog, err := txlog.Open(logPath)
	if err != nil {
		cancel()
		return nil, err
	}

	auth := authority.New()
	n := &Node{
		id:         cfg.NodeID,
		cfg:        cfg,
		tlog:       tlog,
		auth:       auth,
		pendingReq: map[uint64]chan network.QueryResult{},
		ctx:        nodeCtx,
		cancel:     cancel,
	}
	n.engine = engine.New(cfg.NodeID, tlog, auth.Dispatch)
	n.engine.SetForwarders(n.forwardReducer, n.forwardQuery)
	n.engine.SetEventObserver(n.observeEvents)

	for _, me := range cfg.Modules {
		wasmBytes, err := os.ReadFile(me.Path)
		if err != nil {
			tlog.Close()
			cancel()
			return nil, ierr.Wrap(ierr.Internal, fmt.Sprintf("reading module %s", me.Name), err)
		}
		if err := n.engine.LoadModule(nodeCtx, me.Name, wasmBytes); err != nil {
			tlog.Close()
			cancel()
			return nil, err
		}
		if ms, ok := n.engine.Schema(me.Name); ok {
			for _, dep := range ms.NodeDependencies {
				if _, err := network.ValidateNodeAddress(dep.Address); err != nil {
					tlog.Close()
					cancel()
					return nil, ierr.Wrap(ierr.ModuleLoadError, fmt.Sprintf("module %s node_dependency %s", me.Name, dep.Name), err)
				}
			}
		}
	}

	if err := n.engine.Replay(recovered); err != nil {
		tlog.Close()
		cancel()
		return nil, err
	}
	log.Infof("node %s ready: %d module(s), %d recovered transaction(s)", cfg.NodeID, len(cfg.Modules), len(recovered))

	return n, nil
}

// AttachNetwork wires a transport-level network.Handle into the node.
// Without one, cross-node reducer/query calls fail with
// NetworkSendFailed and no inbound packets are processed — this
// package implements the translation layer only; the transport itself
// is supplied by whatever embeds the core.
func (n *Node) AttachNetwork(h network.Handle) {
	n.net = h
}

// Authority returns the node's authority provider registry, so an
// embedder can register GPU/audio/input/module handlers before Start.
func (n *Node) Authority() *authority.Registry {
	return n.auth
}

// Engine returns the node's running engine.
func (n *Node) Engine() *engine.Engine {
	return n.engine
}

// Start begins processing inbound network packets, if a Handle was
// attached. It returns immediately; processing happens on a
// background goroutine until Stop is called.
func (n *Node) Start() error {
	if n.net == nil {
		log.Warnf("node %s starting with no network handle attached", n.id)
		return nil
	}
	n.wg.Add(1)
	go n.runInbound()
	return nil
}

// Stop cancels inbound processing and closes the transaction log. Any
// reducer call already running continues to completion; queued
// scheduler jobs are dropped.
func (n *Node) Stop(ctx context.Context) error {
	n.cancel()
	n.wg.Wait()
	if err := n.engine.Close(ctx); err != nil {
		log.Warnf("node %s: error closing engine: %v", n.id, err)
	}
	return n.tlog.Close()
}

func (n *Node) runInbound() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case in, ok := <-n.net.Inbound():
			if !ok {
				return
			}
			n.handleInbound(in)
		}
	}
}

// handleInbound translates one NetworkPacket into a local operation:
// ReducerCall and QueryCall run against the engine; RequestSubscription
// registers a remote subscriber; QueryResponse completes a pending
// forwarded query; everything else is logged.
func (n *Node) handleInbound(in network.Inbound) {
	pkt := in.Packet
	switch pkt.Kind {
	case network.KindReducerCall:
		if err := n.engine.CallReducer(n.ctx, pkt.Module, pkt.Entry, pkt.Input); err != nil {
			log.Warnf("node %s: inbound reducer call %s.%s failed: %v", n.id, pkt.Module, pkt.Entry, err)
		}

	case network.KindQueryCall:
		result, err := n.engine.CallQuery(n.ctx, pkt.Module, pkt.Entry, pkt.Input)
		var resp network.Packet
		if err != nil {
			resp = network.QueryResponse(pkt.RequestID, network.ErrResult(err.Error()))
		} else {
			resp = network.QueryResponse(pkt.RequestID, network.OkResult(result))
		}
		if sendErr := n.net.SendPacket(n.ctx, in.From, resp); sendErr != nil {
			log.Warnf("node %s: sending query response to %s failed: %v", n.id, in.From, sendErr)
		}

	case network.KindQueryResponse:
		n.mu.Lock()
		ch, ok := n.pendingReq[pkt.RequestID]
		if ok {
			delete(n.pendingReq, pkt.RequestID)
		}
		n.mu.Unlock()
		if ok {
			ch <- pkt.Result
		}

	case network.KindRequestSubscription:
		n.mu.Lock()
		n.subs = append(n.subs, remoteSub{from: in.From, pkt: pkt})
		n.mu.Unlock()
		log.Infof("node %s: registered remote subscription %s/%s/%s -> %s@%s",
			n.id, pkt.TargetModule, pkt.Table, pkt.Event, pkt.ReducerName, pkt.SubscriberModule)

	case network.KindModuleEvent, network.KindSchemaRequest, network.KindSchemaResponse, network.KindHandshake, network.KindClose, network.KindError:
		log.Debugf("node %s: received %v packet from %s", n.id, pkt.Kind, in.From)

	default:
		log.Warnf("node %s: unhandled packet kind %v from %s", n.id, pkt.Kind, in.From)
	}
}

// observeEvents forwards locally emitted table events to any remote
// node that registered a matching RequestSubscription.
func (n *Node) observeEvents(events []table.Event) {
	if n.net == nil {
		return
	}
	n.mu.Lock()
	subs := make([]remoteSub, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, ev := range events {
		for _, sub := range subs {
			if sub.pkt.TargetModule != ev.Module || sub.pkt.Table != ev.Table || sub.pkt.Event != ev.Kind {
				continue
			}
			pkt := network.TableEventPacket(network.RowEvent{
				Module:     ev.Module,
				Table:      ev.Table,
				Event:      ev.Kind,
				PrimaryKey: ev.Row.PrimaryKey,
				Entries:    ev.Row.Entries,
			})
			if err := n.net.SendPacket(n.ctx, sub.from, pkt); err != nil {
				log.Warnf("node %s: forwarding table event to %s failed: %v", n.id, sub.from, err)
			}
		}
	}
}

// forwardReducer implements engine.ForwardReducerFunc: it resolves
// nodeName to a peer (passing the name to ResolvePeer unchanged) and sends a fire-and-forget ReducerCall packet;
// cross-node reducer calls are at-most-once, with no acknowledgement.
func (n *Node) forwardReducer(ctx context.Context, nodeName, module, name string, input value.Value) error {
	if n.net == nil {
		return ierr.Newf(ierr.NetworkSendFailed, "no network handle attached to node %s", n.id)
	}
	to, ok := n.net.ResolvePeer(nodeName)
	if !ok {
		return ierr.Newf(ierr.NetworkSendFailed, "unknown node %s", nodeName)
	}
	pkt := network.ReducerCall(n.id, module, name, input)
	return n.net.SendPacket(ctx, to, pkt)
}

// forwardQuery implements engine.ForwardQueryFunc: it sends a QueryCall
// packet and blocks until the matching QueryResponse arrives on
// handleInbound, the context is cancelled, or the node shuts down.
func (n *Node) forwardQuery(ctx context.Context, nodeName, module, name string, input value.Value) (value.Value, error) {
	if n.net == nil {
		return value.Value{}, ierr.Newf(ierr.NetworkSendFailed, "no network handle attached to node %s", n.id)
	}
	to, ok := n.net.ResolvePeer(nodeName)
	if !ok {
		return value.Value{}, ierr.Newf(ierr.NetworkSendFailed, "unknown node %s", nodeName)
	}

	n.mu.Lock()
	n.reqSeq++
	reqID := n.reqSeq
	ch := make(chan network.QueryResult, 1)
	n.pendingReq[reqID] = ch
	n.mu.Unlock()

	pkt := network.QueryCall(reqID, n.id, module, name, input)
	if err := n.net.SendPacket(ctx, to, pkt); err != nil {
		n.mu.Lock()
		delete(n.pendingReq, reqID)
		n.mu.Unlock()
		return value.Value{}, err
	}

	select {
	case result := <-ch:
		if !result.Ok {
			return value.Value{}, ierr.Newf(ierr.NetworkSendFailed, "remote query failed: %s", result.ErrText)
		}
		return result.Value, nil
	case <-ctx.Done():
		n.mu.Lock()
		delete(n.pendingReq, reqID)
		n.mu.Unlock()
		return value.Value{}, ierr.Wrap(ierr.NetworkSendFailed, "remote query cancelled", ctx.Err())
	case <-n.ctx.Done():
		n.mu.Lock()
		delete(n.pendingReq, reqID)
		n.mu.Unlock()
		return value.Value{}, ierr.New(ierr.NetworkSendFailed, "node shutting down")
	}
}
