// Package quic implements a QUIC link transport with length-prefixed frames
// over a single bidirectional stream per connection. Gateways use it for
// links that cross the wide-area network.
package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/marinhotg/mesh-lightning/pkg/transport"
)

const alpn = "meshpay"

type Transport struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
	rx       transport.Receiver
	onClosed func(transport.PeerID)
}

// New creates the transport with an ephemeral self-signed server certificate.
// Peer identity is not taken from TLS; it is learned at the mesh layer.
func New(rx transport.Receiver, onClosed func(transport.PeerID)) (*Transport, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, err
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},
		MinVersion:   tls.VersionTLS13,
	}
	return &Transport{tlsConf: tlsConf, quicConf: &quicgo.Config{}, rx: rx, onClosed: onClosed}, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, err
	}
	ql := &listener{l: l, tr: t, newCh: make(chan *link, 8), closeCh: make(chan struct{})}
	go ql.acceptLoop(ctx)
	go func() {
		<-ctx.Done()
		_ = ql.Close()
	}()
	return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Link, error) {
	tlsClient := &tls.Config{
		InsecureSkipVerify: true, // identity is established at the mesh layer
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
	}
	conn, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
	if err != nil {
		return nil, err
	}
	st, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream")
		return nil, err
	}
	peer.Kind = transport.KindQUIC
	if peer.Addr == "" {
		peer.Addr = address
	}
	if peer.ID == "" {
		peer.ID = transport.TempPeerID(transport.KindQUIC, conn.RemoteAddr())
	}
	lk := newLink(peer, conn, st)
	go lk.readLoop(t.rx, t.onClosed)
	go func() {
		<-ctx.Done()
		_ = lk.Close()
	}()
	return lk, nil
}

type listener struct {
	l       *quicgo.Listener
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
		return nil, errors.New("quic listener closed")
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

func (l *listener) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.l.Accept(ctx)
		if err != nil {
			return
		}
		go func(conn quicgo.Connection) {
			// The dialer opens the stream; waiting for it cannot block
			// the accept loop.
			st, err := conn.AcceptStream(ctx)
			if err != nil {
				_ = conn.CloseWithError(0, "accept stream")
				return
			}
			pi := transport.PeerInfo{
				ID:   transport.TempPeerID(transport.KindQUIC, conn.RemoteAddr()),
				Addr: conn.RemoteAddr().String(),
				Kind: transport.KindQUIC,
			}
			lk := newLink(pi, conn, st)
			select {
			case l.newCh <- lk:
			case <-l.closeCh:
				_ = lk.Close()
			}
		}(conn)
	}
}

type link struct {
	mu   sync.Mutex
	peer transport.PeerInfo
	conn quicgo.Connection
	st   quicgo.Stream
}

func newLink(peer transport.PeerInfo, conn quicgo.Connection, st quicgo.Stream) *link {
	return &link{peer: peer, conn: conn, st: st}
}

func (l *link) Peer() transport.PeerInfo      { return l.peer }
func (l *link) SetPeer(pi transport.PeerInfo) { l.peer = pi }

func (l *link) Close() error {
	return l.conn.CloseWithError(0, "closed")
}

func (l *link) Send(b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := l.st.Write(lenbuf[:]); err != nil {
		return err
	}
	_, err := l.st.Write(b)
	return err
}

func (l *link) readLoop(rx transport.Receiver, onClosed func(transport.PeerID)) {
	for {
		var lenbuf [4]byte
		if _, err := io.ReadFull(l.st, lenbuf[:]); err != nil {
			break
		}
		n := int(binary.LittleEndian.Uint32(lenbuf[:]))
		if n < 0 || n > (1<<24) {
			break
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(l.st, buf); err != nil {
			break
		}
		if rx != nil {
			rx(l.peer.ID, buf)
		}
	}
	_ = l.Close()
	if onClosed != nil {
		onClosed(l.peer.ID)
	}
}

// selfSignedCert generates an ephemeral certificate for the server side.
func selfSignedCert() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
