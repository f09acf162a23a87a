// Package tcp implements a stream-based TCP link transport with
// length-prefixed frames (u32 LE). On deployments without a radio it stands in
// for the short-range proximity link between LAN-adjacent nodes.
package tcp

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

type Transport struct {
	rx       transport.Receiver
	onClosed func(transport.PeerID)
}

// New creates the transport. rx receives inbound frames from every link;
// onClosed (optional) fires when a link's read loop ends.
func New(rx transport.Receiver, onClosed func(transport.PeerID)) *Transport {
	return &Transport{rx: rx, onClosed: onClosed}
}

func (t *Transport) Kind() transport.Kind { return transport.KindTCP }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	tl := &listener{l: l, tr: t, newCh: make(chan *link, 8), closeCh: make(chan struct{})}
	go tl.acceptLoop()
	go func() {
		<-ctx.Done()
		_ = tl.Close()
	}()
	return tl, nil
}

func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Link, error) {
	d := &net.Dialer{}
	c, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	peer.Kind = transport.KindTCP
	if peer.Addr == "" {
		peer.Addr = address
	}
	if peer.ID == "" {
		peer.ID = transport.TempPeerID(transport.KindTCP, c.RemoteAddr())
	}
	lk := newLink(peer, c)
	go lk.readLoop(t.rx, t.onClosed)
	go func() {
		<-ctx.Done()
		_ = lk.Close()
	}()
	return lk, nil
}

type listener struct {
	l       net.Listener
	tr      *Transport
	newCh   chan *link
	closeCh chan struct{}
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Link, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("tcp listener closed")
	case lk := <-l.newCh:
		go lk.readLoop(l.tr.rx, l.tr.onClosed)
		return lk, nil
	}
}

func (l *listener) Close() error {
	select {
	case <-l.closeCh:
	default:
		close(l.closeCh)
	}
	return l.l.Close()
}

func (l *listener) acceptLoop() {
	for {
		c, err := l.l.Accept()
		if err != nil {
			return
		}
		// Identity is unknown until the first mesh frame reveals the
		// neighbor through its hop list.
		pi := transport.PeerInfo{
			ID:   transport.TempPeerID(transport.KindTCP, c.RemoteAddr()),
			Addr: c.RemoteAddr().String(),
			Kind: transport.KindTCP,
		}
		lk := newLink(pi, c)
		select {
		case l.newCh <- lk:
		default:
			_ = lk.Close()
		}
	}
}

type link struct {
	mu   sync.Mutex
	peer transport.PeerInfo
	c    net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
}

func newLink(peer transport.PeerInfo, c net.Conn) *link {
	return &link{peer: peer, c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c)}
}

func (l *link) Peer() transport.PeerInfo      { return l.peer }
func (l *link) SetPeer(pi transport.PeerInfo) { l.peer = pi }
func (l *link) Close() error                  { return l.c.Close() }

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
