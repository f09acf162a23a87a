package mem

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marinhotg/mesh-lightning/pkg/transport"
)

type sink struct {
	mu     sync.Mutex
	frames [][]byte
	from   []transport.PeerID
	notify chan struct{}
}

func newSink() *sink { return &sink{notify: make(chan struct{}, 16)} }

func (s *sink) rx(from transport.PeerID, b []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, b)
	s.from = append(s.from, from)
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func (s *sink) wait(t *testing.T) (transport.PeerID, []byte) {
	t.Helper()
	select {
	case <-s.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame arrived")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.from[len(s.from)-1], s.frames[len(s.frames)-1]
}

func TestDialAndExchange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fabric := NewNetwork()

	aSink, bSink := newSink(), newSink()
	a := fabric.Transport(transport.PeerInfo{ID: "node-a"}, aSink.rx, nil)
	b := fabric.Transport(transport.PeerInfo{ID: "node-b"}, bSink.rx, nil)

	ln, err := b.Listen(ctx, "ep-b")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	cli, err := a.Dial(ctx, "ep-b", transport.PeerInfo{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if cli.Peer().ID != "node-b" {
		t.Fatalf("dialer sees peer %q", cli.Peer().ID)
	}

	srv, err := ln.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if srv.Peer().ID != "node-a" {
		t.Fatalf("acceptor sees peer %q", srv.Peer().ID)
	}

	if err := cli.Send([]byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	from, frame := bSink.wait(t)
	if from != "node-a" || string(frame) != "ping" {
		t.Fatalf("got %q from %q", frame, from)
	}

	if err := srv.Send([]byte("pong")); err != nil {
		t.Fatalf("reply: %v", err)
	}
	from, frame = aSink.wait(t)
	if from != "node-b" || string(frame) != "pong" {
		t.Fatalf("got %q from %q", frame, from)
	}
}

func TestDialUnknownListener(t *testing.T) {
	ctx := context.Background()
	fabric := NewNetwork()
	a := fabric.Transport(transport.PeerInfo{ID: "node-a"}, nil, nil)
	if _, err := a.Dial(ctx, "nowhere", transport.PeerInfo{}); err == nil {
		t.Fatal("dial to missing endpoint succeeded")
	}
}

func TestDuplicateListen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fabric := NewNetwork()
	a := fabric.Transport(transport.PeerInfo{ID: "node-a"}, nil, nil)
	if _, err := a.Listen(ctx, "ep"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if _, err := a.Listen(ctx, "ep"); err == nil {
		t.Fatal("duplicate listen accepted")
	}
}

func TestOnClosedFires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fabric := NewNetwork()

	closed := make(chan transport.PeerID, 2)
	onClosed := func(id transport.PeerID) { closed <- id }

	a := fabric.Transport(transport.PeerInfo{ID: "node-a"}, nil, onClosed)
	b := fabric.Transport(transport.PeerInfo{ID: "node-b"}, nil, nil)
	ln, err := b.Listen(ctx, "ep-b")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cli, err := a.Dial(ctx, "ep-b", transport.PeerInfo{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := ln.Accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}

	_ = cli.Close()
	select {
	case id := <-closed:
		if id != "node-b" {
			t.Fatalf("closed peer = %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onClosed never fired")
	}
}

func TestDiscoverer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fabric := NewNetwork()

	a := fabric.Transport(transport.PeerInfo{ID: "node-a"}, nil, nil)
	b := fabric.Transport(transport.PeerInfo{ID: "node-b"}, nil, nil)
	if _, err := a.Listen(ctx, "ep-a"); err != nil {
		t.Fatalf("listen a: %v", err)
	}
	if _, err := b.Listen(ctx, "ep-b"); err != nil {
		t.Fatalf("listen b: %v", err)
	}

	ch, err := a.Discoverer().Discover(ctx)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	var found []transport.PeerInfo
	for pi := range ch {
		found = append(found, pi)
	}
	if len(found) != 1 || found[0].ID != "node-b" || found[0].Addr != "ep-b" {
		t.Fatalf("found = %+v (own listener must be excluded)", found)
	}
}
