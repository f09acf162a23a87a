package transport

import (
	"fmt"
	"net"
	"strings"
)

// TempPeerID builds a temporary peer id from transport kind and remote address.
// Inbound links carry it until the neighbor's real node id is learned from the
// first mesh frame's hop list.
func TempPeerID(kind Kind, addr net.Addr) PeerID {
	if addr == nil {
		return PeerID(fmt.Sprintf("temp:%s:unknown", kind))
	}
	return PeerID(fmt.Sprintf("temp:%s:%s", kind, addr.String()))
}

// IsTemp reports whether id is a pre-identification placeholder.
func IsTemp(id PeerID) bool { return strings.HasPrefix(string(id), "temp:") }
