// Package mem is an in-process transport using net.Pipe. Useful for tests and
// as a stand-in for a short-range radio link: every node on the same Network
// is "nearby".
package mem

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/marinhotg/mesh-lightning/pkg/transport"
)

// Network is the shared in-process fabric. Transports created from one
// Network can discover and dial each other's listeners by name.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
}

func NewNetwork() *Network { return &Network{endpoints: make(map[string]*endpoint)} }

type endpoint struct {
	name  string
	owner transport.PeerInfo
	newCh chan *link
	done  chan struct{}
}

// Transport binds a local identity to the shared Network.
type Transport struct {
	net      *Network
	self     transport.PeerInfo
	rx       transport.Receiver
	onClosed func(transport.PeerID)
}

// Transport creates a transport endpoint for one node. rx receives inbound
// frames; onClosed (optional) fires when a link's read loop ends.
func (n *Network) Transport(self transport.PeerInfo, rx transport.Receiver, onClosed func(transport.PeerID)) *Transport {
	self.Kind = transport.KindMem
	return &Transport{net: n, self: self, rx: rx, onClosed: onClosed}
}

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	if _, ok := t.net.endpoints[name]; ok {
		return nil, errors.New("mem: listener already exists")
	}
	ep := &endpoint{name: name, owner: t.self, newCh: make(chan *link, 8), done: make(chan struct{})}
	t.net.endpoints[name] = ep
	go func() {
		<-ctx.Done()
		t.net.mu.Lock()
		delete(t.net.endpoints, name)
		t.net.mu.Unlock()
		ep.close()
	}()
	return &listener{ep: ep, tr: t}, nil
}

func (t *Transport) Dial(ctx context.Context, name string, peer transport.PeerInfo) (transport.Link, error) {
	t.net.mu.Lock()
	ep := t.net.endpoints[name]
	t.net.mu.Unlock()
	if ep == nil {
		return nil, errors.New("mem: no such listener")
	}
	c1, c2 := net.Pipe()
	// The accepting side sees the dialer's identity directly; there is no
	// pre-identification phase on the in-process fabric.
	srvInfo := t.self
	srvInfo.Addr = name
	srv := newLink(srvInfo, c1)
	cliInfo := ep.owner
	if peer.ID != "" {
		cliInfo.ID = peer.ID
	}
	cliInfo.Addr = name
	cli := newLink(cliInfo, c2)
	select {
	case ep.newCh <- srv:
	case <-ep.done:
		_ = srv.Close()
		_ = cli.Close()
		return nil, errors.New("mem: listener closed")
	}
	go cli.readLoop(t.rx, t.onClosed)
	go func() {
		<-ctx.Done()
		_ = cli.Close()
	}()
	return cli, nil
}

// Discoverer returns a one-shot scan of the fabric: every listener except this
// node's own, emitted until ctx expires.
func (t *Transport) Discoverer() transport.Discoverer { return discoverer{t: t} }

type discoverer struct{ t *Transport }

func (d discoverer) Discover(ctx context.Context) (<-chan transport.PeerInfo, error) {
	d.t.net.mu.Lock()
	var found []transport.PeerInfo
	for name, ep := range d.t.net.endpoints {
		if ep.owner.ID == d.t.self.ID {
			continue
		}
		pi := ep.owner
		pi.Addr = name
		found = append(found, pi)
	}
	d.t.net.mu.Unlock()

	out := make(chan transport.PeerInfo, len(found))
	go func() {
		defer close(out)
		for _, pi := range found {
			select {
			case out <- pi:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (ep *endpoint) close() {
	select {
	case <-ep.done:
	default:
		close(ep.done)
	}
}

type listener struct {
	ep *endpoint
	tr *Transport
}

func (l *listener) Addr() net.Addr { return memAddr(l.ep.name) }

func (l *listener) Accept(ctx context.Context) (transport.Link, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.ep.done:
		return nil, errors.New("mem listener closed")
	case lk := <-l.ep.newCh:
		go lk.readLoop(l.tr.rx, l.tr.onClosed)
		return lk, nil
	}
}

func (l *listener) Close() error {
	l.ep.close()
	return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type link struct {
	mu   sync.Mutex
	peer transport.PeerInfo
	c    net.Conn
	bw   *bufio.Writer
	br   *bufio.Reader
}

func newLink(peer transport.PeerInfo, c net.Conn) *link {
	return &link{peer: peer, c: c, bw: bufio.NewWriter(c), br: bufio.NewReader(c)}
}

func (l *link) Peer() transport.PeerInfo      { return l.peer }
func (l *link) SetPeer(pi transport.PeerInfo) { l.peer = pi }
func (l *link) Close() error                  { return l.c.Close() }

// Send writes one length-prefixed frame (u32 LE).
func (l *link) Send(b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := l.bw.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := l.bw.Write(b); err != nil {
		return err
	}
	return l.bw.Flush()
}

func (l *link) readLoop(rx transport.Receiver, onClosed func(transport.PeerID)) {
	for {
		var lenbuf [4]byte
		if _, err := io.ReadFull(l.br, lenbuf[:]); err != nil {
			break
		}
		n := int(binary.LittleEndian.Uint32(lenbuf[:]))
		if n < 0 || n > (1<<24) {
			break
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(l.br, buf); err != nil {
			break
		}
		if rx != nil {
			rx(l.peer.ID, buf)
		}
	}
	_ = l.c.Close()
	if onClosed != nil {
		onClosed(l.peer.ID)
	}
}
