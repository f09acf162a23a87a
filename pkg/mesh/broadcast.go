package mesh

import (
	"context"

	"go.uber.org/zap"

	"github.com/marinhotg/mesh-lightning/pkg/protocol"
	"github.com/marinhotg/mesh-lightning/pkg/transport"
)

// Dialer connects to a discovered peer on demand during fan-out. The node
// composition maps peer kinds onto the configured transports.
type Dialer interface {
	Connect(ctx context.Context, pi transport.PeerInfo) (transport.Link, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, pi transport.PeerInfo) (transport.Link, error)

func (f DialerFunc) Connect(ctx context.Context, pi transport.PeerInfo) (transport.Link, error) {
	return f(ctx, pi)
}

// fanout floods m to every known peer not already on its path. The frame is
// encoded once; each delivery runs on its own goroutine so a slow or dead peer
// never stalls the routing loop or the other deliveries. Per-peer failures are
// logged and swallowed.
func (e *Engine) fanout(m *protocol.Message) {
	frame, err := protocol.Encode(e.reg, e.cfg.Format, m)
	if err != nil {
		e.log.Error("encode for broadcast failed", zap.String("msg_id", m.ID), zap.Error(err))
		return
	}
	targets := e.peers.Fanout(m.Hops)
	if len(targets) == 0 {
		e.log.Debug("no fan-out targets", zap.String("msg_id", m.ID))
		return
	}
	e.log.Debug("broadcasting", zap.String("msg_id", m.ID),
		zap.String("type", string(m.Type)), zap.Int("targets", len(targets)), zap.Int("ttl", m.TTL))
	for _, t := range targets {
		go e.deliver(t, frame, m.ID)
	}
}

// sendAddressed handles a locally created message with a recipient: use an
// existing direct link when one is up, otherwise flood. A direct send that
// fails falls back to flooding the same message.
func (e *Engine) sendAddressed(m *protocol.Message) {
	if m.RecipientID != "" {
		if l := e.links.Get(transport.PeerID(m.RecipientID)); l != nil {
			frame, err := protocol.Encode(e.reg, e.cfg.Format, m)
			if err != nil {
				e.log.Error("encode failed", zap.String("msg_id", m.ID), zap.Error(err))
				return
			}
			go func() {
				if err := l.Send(frame); err != nil {
					e.log.Debug("direct send failed, flooding instead",
						zap.String("peer", m.RecipientID), zap.Error(err))
					e.enqueue(event{kind: evFanout, msg: m})
					return
				}
				e.peers.RecordExchange(transport.PeerID(m.RecipientID), 0, 1)
			}()
			return
		}
	}
	e.fanout(m)
}

// deliver sends one frame to one peer, dialing on demand when no link is up.
func (e *Engine) deliver(t PeerMeta, frame []byte, msgID string) {
	l := e.links.Get(t.ID)
	if l == nil {
		var err error
		l, err = e.connect(t)
		if err != nil {
			e.log.Debug("peer unreachable, skipped", zap.String("peer", string(t.ID)),
				zap.String("msg_id", msgID), zap.Error(err))
			return
		}
	}
	if err := l.Send(frame); err != nil {
		e.log.Debug("send failed, skipped", zap.String("peer", string(t.ID)),
			zap.String("msg_id", msgID), zap.Error(err))
		return
	}
	e.peers.RecordExchange(t.ID, 0, 1)
}

// connect dials a discovered peer and registers the resulting link.
func (e *Engine) connect(t PeerMeta) (transport.Link, error) {
	if e.dialer == nil || t.Addr == "" {
		return nil, ErrPeerUnreachable
	}
	// The engine context, not a per-dial one: transports tie a link's lifetime
	// to the context it was dialed under.
	l, err := e.dialer.Connect(e.ctx, t.Info())
	if err != nil {
		return nil, err
	}
	if accepted, _ := e.links.AddLink(l); !accepted {
		// Lost the election to an existing link; use the canonical one.
		if cur := e.links.Get(t.ID); cur != nil {
			return cur, nil
		}
		return nil, ErrPeerUnreachable
	}
	e.peers.MarkConnected(t.ID, true)
	return l, nil
}
