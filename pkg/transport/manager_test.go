package transport

import (
	"sync"
	"testing"
)

type stubLink struct {
	mu     sync.Mutex
	pi     PeerInfo
	closed bool
}

func (l *stubLink) Peer() PeerInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pi
}

func (l *stubLink) SetPeer(pi PeerInfo) {
	l.mu.Lock()
	l.pi = pi
	l.mu.Unlock()
}

func (l *stubLink) Send([]byte) error { return nil }

func (l *stubLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *stubLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func TestAddLinkFirstWins(t *testing.T) {
	m := NewManager()
	l := &stubLink{pi: PeerInfo{ID: "p1", Kind: KindTCP}}
	accepted, replaced := m.AddLink(l)
	if !accepted || replaced {
		t.Fatalf("first link: accepted=%v replaced=%v", accepted, replaced)
	}
	if m.Get("p1") != l {
		t.Fatal("canonical link not returned")
	}
}

func TestAddLinkElection(t *testing.T) {
	m := NewManager()
	tcpLink := &stubLink{pi: PeerInfo{ID: "p1", Kind: KindTCP}}
	m.AddLink(tcpLink)

	// A better kind replaces the canonical link and closes the loser.
	quicLink := &stubLink{pi: PeerInfo{ID: "p1", Kind: KindQUIC}}
	accepted, replaced := m.AddLink(quicLink)
	if !accepted || !replaced {
		t.Fatalf("upgrade: accepted=%v replaced=%v", accepted, replaced)
	}
	if m.Get("p1") != quicLink {
		t.Fatal("canonical not upgraded")
	}

	// A worse kind loses and is closed.
	worse := &stubLink{pi: PeerInfo{ID: "p1", Kind: KindTCP}}
	accepted, _ = m.AddLink(worse)
	if accepted {
		t.Fatal("worse link accepted")
	}
	if !worse.isClosed() {
		t.Fatal("losing link left open")
	}
}

func TestAddLinkRSSITieBreak(t *testing.T) {
	m := NewManager()
	weak := &stubLink{pi: PeerInfo{ID: "p1", Kind: KindTCP, RSSI: -80}}
	m.AddLink(weak)
	strong := &stubLink{pi: PeerInfo{ID: "p1", Kind: KindTCP, RSSI: -30}}
	if accepted, _ := m.AddLink(strong); !accepted {
		t.Fatal("stronger signal lost the election")
	}
	if m.Get("p1") != strong {
		t.Fatal("canonical not the stronger link")
	}
}

func TestDropAndClose(t *testing.T) {
	m := NewManager()
	l := &stubLink{pi: PeerInfo{ID: "p1", Kind: KindTCP}}
	m.AddLink(l)

	m.Drop("p1")
	if m.Get("p1") != nil {
		t.Fatal("dropped link still present")
	}
	if l.isClosed() {
		t.Fatal("drop must not close the link")
	}

	m.AddLink(l)
	m.ClosePeer("p1")
	if !l.isClosed() || m.Get("p1") != nil {
		t.Fatal("close peer incomplete")
	}
}

func TestListPeers(t *testing.T) {
	m := NewManager()
	m.AddLink(&stubLink{pi: PeerInfo{ID: "b", Kind: KindTCP}})
	m.AddLink(&stubLink{pi: PeerInfo{ID: "a", Kind: KindTCP}})
	ids := m.ListPeers()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("peers = %v", ids)
	}
}

func TestRebind(t *testing.T) {
	m := NewManager()
	l := &stubLink{pi: PeerInfo{ID: "temp:tcp:1.2.3.4:9", Kind: KindTCP}}
	m.AddLink(l)

	if !m.Rebind("temp:tcp:1.2.3.4:9", "node-x") {
		t.Fatal("rebind refused")
	}
	if m.Get("temp:tcp:1.2.3.4:9") != nil {
		t.Fatal("old id still bound")
	}
	if m.Get("node-x") != l {
		t.Fatal("new id not bound")
	}
	if l.Peer().ID != "node-x" {
		t.Fatalf("link identity = %q", l.Peer().ID)
	}
}

func TestRebindLosesToBetterExisting(t *testing.T) {
	m := NewManager()
	existing := &stubLink{pi: PeerInfo{ID: "node-x", Kind: KindQUIC}}
	m.AddLink(existing)
	temp := &stubLink{pi: PeerInfo{ID: "temp:tcp:1.2.3.4:9", Kind: KindTCP}}
	m.AddLink(temp)

	if m.Rebind("temp:tcp:1.2.3.4:9", "node-x") {
		t.Fatal("worse link won the rebind election")
	}
	if m.Get("node-x") != existing {
		t.Fatal("canonical replaced by worse link")
	}
}

func TestTempPeerID(t *testing.T) {
	if !IsTemp("temp:tcp:1.2.3.4:9") || IsTemp("node-x") {
		t.Fatal("temp id detection wrong")
	}
	if id := TempPeerID(KindTCP, nil); !IsTemp(id) {
		t.Fatalf("nil addr id = %q", id)
	}
}

func TestParseKind(t *testing.T) {
	for s, k := range map[string]Kind{"mem": KindMem, "tcp": KindTCP, "quic": KindQUIC, "ble": KindUnknown} {
		if ParseKind(s) != k {
			t.Fatalf("ParseKind(%q) = %v", s, ParseKind(s))
		}
	}
	if KindQUIC.String() != "quic" {
		t.Fatal("kind string wrong")
	}
}
