package network

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/interstice-network/interstice-core/internal/ierr"
)

// Inbound is one Packet received from a remote peer, handed to the
// engine's network-ingress loop. The transport itself is out of core
// scope and not implemented in this package.
type Inbound struct {
	From   peer.ID
	Packet Packet
}

// Handle is the seam the core consumes to send and receive
// NetworkPacket values: sending a packet to a peer, resolving a node
// address to a peer id, and an async stream of inbound packets. No
// implementation lives in this module; a real transport (TCP/libp2p)
// is wired in by whatever embeds the core.
type Handle interface {
	// SendPacket delivers pkt to peer at-most-once, with no
	// acknowledgement of delivery.
	SendPacket(ctx context.Context, to peer.ID, pkt Packet) error

	// ResolvePeer looks up the peer id for a node. internal/node calls it
	// with the node name from the host call's NodeSelection as is; the
	// name is not first translated to the address declared in the
	// caller module's node_dependencies.
	ResolvePeer(address string) (peer.ID, bool)

	// Inbound returns the channel of packets received from any peer.
	// Closed when the handle is shut down.
	Inbound() <-chan Inbound
}

// ValidateNodeAddress parses a node_dependency or bootstrap address as a
// multiaddr, rejecting anything that is not a well-formed one.
// internal/node applies it to each loaded module's NodeDependencies.
func ValidateNodeAddress(address string) (multiaddr.Multiaddr, error) {
	ma, err := multiaddr.NewMultiaddr(address)
	if err != nil {
		return nil, ierr.Wrap(ierr.ValidationError, "malformed node address", err)
	}
	return ma, nil
}
