package transport

import (
	"context"
	"net"
)

// Kind identifies the link type for election policy.
type Kind int

const (
	KindUnknown Kind = iota
	KindMem
	KindTCP
	KindQUIC
)

func (k Kind) String() string {
	switch k {
	case KindMem:
		return "mem"
	case KindTCP:
		return "tcp"
	case KindQUIC:
		return "quic"
	default:
		return "unknown"
	}
}

// ParseKind maps a kind name from config or stored peer records back to Kind.
func ParseKind(s string) Kind {
	switch s {
	case "mem":
		return KindMem
	case "tcp":
		return KindTCP
	case "quic":
		return KindQUIC
	default:
		return KindUnknown
	}
}

// PeerID is an opaque stable peer identity within the mesh.
type PeerID string

// PeerInfo bundles peer identity and addressing hints.
type PeerInfo struct {
	ID   PeerID
	Name string // best-effort human label
	Addr string // transport-dependent address string
	RSSI int    // signal strength proxy; diagnostics only, never routing input
	Kind Kind
}

// Receiver consumes one inbound frame together with the link it arrived on.
type Receiver func(from PeerID, frame []byte)

// Link is the send capability for a single nearby peer. Implementations own
// their read loop and deliver inbound frames through the transport's Receiver.
type Link interface {
	Peer() PeerInfo
	// Send transmits one opaque frame. A failed send affects only this link.
	Send(frame []byte) error
	Close() error
}

// MutablePeer is an optional interface Links can implement to allow updating
// the peer identity once the real node id becomes known.
type MutablePeer interface {
	SetPeer(PeerInfo)
}

// Listener accepts inbound links.
type Listener interface {
	// Accept blocks until an inbound link is available or ctx is done.
	Accept(ctx context.Context) (Link, error)
	// Addr returns the local listening address.
	Addr() net.Addr
	// Close stops the listener and unblocks Accept.
	Close() error
}

// Transport provides dialing/listening for a specific link kind.
type Transport interface {
	Kind() Kind
	// Listen starts accepting inbound links on address (transport-specific format).
	Listen(ctx context.Context, address string) (Listener, error)
	// Dial creates an outbound link to a peer/address.
	Dial(ctx context.Context, address string, peer PeerInfo) (Link, error)
}

// Discoverer emits nearby peers as they become visible. The stream ends when
// ctx is done; callers time-box a scan through the context.
type Discoverer interface {
	Discover(ctx context.Context) (<-chan PeerInfo, error)
}
