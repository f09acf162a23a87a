package mesh

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marinhotg/mesh-lightning/pkg/lightning"
	"github.com/marinhotg/mesh-lightning/pkg/memkv"
	"github.com/marinhotg/mesh-lightning/pkg/protocol"
	"github.com/marinhotg/mesh-lightning/pkg/transport"
	"github.com/marinhotg/mesh-lightning/pkg/transport/mem"
)

// meshNode is a full node wired over the in-process fabric.
type meshNode struct {
	eng     *Engine
	tr      *mem.Transport
	peers   *PeerTable
	tracker *Tracker
	sim     *lightning.Simulator
	mon     *ManualMonitor
}

func startNode(t *testing.T, ctx context.Context, fabric *mem.Network, id, listen string, online bool) *meshNode {
	t.Helper()
	kv := memkv.New(memkv.Options{SweepInterval: time.Hour})
	t.Cleanup(kv.Close)

	n := &meshNode{
		peers:   NewPeerTable(kv, time.Minute),
		tracker: NewTracker(kv, time.Minute),
		sim:     lightning.NewSimulator(0),
		mon:     NewManualMonitor(online),
	}
	n.tr = fabric.Transport(
		transport.PeerInfo{ID: transport.PeerID(id), Name: id},
		func(from transport.PeerID, b []byte) { n.eng.Receive(from, b) },
		func(pid transport.PeerID) { n.eng.PeerClosed(pid) },
	)
	n.eng = NewEngine(Config{NodeID: id, DefaultTTL: 5, ScanWindow: 200 * time.Millisecond}, Deps{
		Registry: testReg,
		Ledger:   NewLedger(kv, time.Minute),
		Peers:    n.peers,
		Links:    transport.NewManager(),
		Tracker:  n.tracker,
		Executor: n.sim,
		Monitor:  n.mon,
		Dialer: DialerFunc(func(ctx context.Context, pi transport.PeerInfo) (transport.Link, error) {
			return n.tr.Dial(ctx, pi.Addr, pi)
		}),
	})
	t.Cleanup(n.eng.Close)

	if listen != "" {
		ln, err := n.tr.Listen(ctx, listen)
		if err != nil {
			t.Fatalf("listen %s: %v", listen, err)
		}
		go func() {
			for {
				lk, err := ln.Accept(ctx)
				if err != nil {
					return
				}
				n.eng.AddLink(lk)
			}
		}()
	}
	return n
}

func (n *meshNode) connectTo(t *testing.T, ctx context.Context, listen string) {
	t.Helper()
	lk, err := n.tr.Dial(ctx, listen, transport.PeerInfo{})
	if err != nil {
		t.Fatalf("dial %s: %v", listen, err)
	}
	n.eng.AddLink(lk)
}

// Three nodes in a line: the originator can only reach the gateway through the
// middle relay, and the confirmation has to travel the same two hops back.
func TestEndToEndRelayChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	fabric := mem.NewNetwork()

	a := startNode(t, ctx, fabric, "node-a", "", false)
	b := startNode(t, ctx, fabric, "node-b", "ep-b", false)
	c := startNode(t, ctx, fabric, "node-c", "ep-c", true)
	waitSimReady(t, c.sim)

	a.connectTo(t, ctx, "ep-b")
	b.connectTo(t, ctx, "ep-c")

	delivered := make(chan *protocol.Message, 4)
	a.eng.Subscribe(func(m *protocol.Message) {
		if m.Type == protocol.TypePaymentConfirmation {
			delivered <- m
		}
	})

	var gatewayRuns atomic.Int32
	c.eng.Subscribe(func(m *protocol.Message) {
		if m.Type == protocol.TypePaymentRequest {
			gatewayRuns.Add(1)
		}
	})

	id, err := a.eng.Originate("lnsim2100coffee", 2100, "coffee")
	if err != nil {
		t.Fatalf("originate: %v", err)
	}

	var conf *protocol.Message
	select {
	case conf = <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("confirmation never reached the origin")
	}
	if conf.SenderID != "node-c" || conf.RecipientID != "node-a" {
		t.Fatalf("confirmation addressing = %q -> %q", conf.SenderID, conf.RecipientID)
	}
	if len(conf.Hops) != 2 || conf.Hops[0] != "node-c" || conf.Hops[1] != "node-b" {
		t.Fatalf("return path = %v", conf.Hops)
	}
	pc, ok := conf.Confirmation()
	if !ok || pc.Invoice != "lnsim2100coffee" || pc.Preimage == "" {
		t.Fatalf("confirmation payload = %+v ok=%v", pc, ok)
	}

	x, ok := a.tracker.Lookup("lnsim2100coffee")
	if !ok || x.State != TransferConfirmed || x.MsgID != id {
		t.Fatalf("origin transfer = %+v ok=%v", x, ok)
	}

	// Give any stray duplicate time to surface, then check the gateway saw the
	// request exactly once.
	time.Sleep(150 * time.Millisecond)
	if n := gatewayRuns.Load(); n != 1 {
		t.Fatalf("gateway processed the request %d times", n)
	}
	select {
	case m := <-delivered:
		t.Fatalf("second terminal message at origin: %+v", m)
	default:
	}
}

// The originator knows the gateway only from a discovery scan; the flood dials
// it on demand.
func TestDiscoveryThenOnDemandDial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	fabric := mem.NewNetwork()

	a := startNode(t, ctx, fabric, "node-a", "", false)
	g := startNode(t, ctx, fabric, "node-g", "ep-g", true)
	waitSimReady(t, g.sim)

	n, err := a.eng.Scan(ctx, a.tr.Discoverer())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 1 {
		t.Fatalf("scan observed %d peers", n)
	}
	pm, ok := a.peers.Get("node-g")
	if !ok || pm.Addr != "ep-g" || pm.Connected {
		t.Fatalf("discovered record = %+v ok=%v", pm, ok)
	}

	if _, err := a.eng.Originate("lnsim9pay", 9, ""); err != nil {
		t.Fatalf("originate: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if x, _ := a.tracker.Lookup("lnsim9pay"); x.State == TransferConfirmed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("transfer never confirmed through on-demand link")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if pm, _ := a.peers.Get("node-g"); !pm.Connected {
		t.Fatal("dialed peer not marked connected")
	}
}
